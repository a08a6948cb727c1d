package registry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cmdbridge/internal/model"
)

func staticSource(names ...string) Source {
	return SourceFunc(func(context.Context) ([]model.Operation, error) {
		ops := make([]model.Operation, 0, len(names))
		for _, name := range names {
			ops = append(ops, model.Operation{Name: name})
		}
		return ops, nil
	})
}

func groupNames(groups []model.Group) []string {
	out := make([]string, 0, len(groups))
	for _, g := range groups {
		out = append(out, g.Name)
	}
	return out
}

func opNames(ops []model.Operation) []string {
	out := make([]string, 0, len(ops))
	for _, op := range ops {
		out = append(out, op.Name)
	}
	return out
}

func TestGroupsSortsLabelsAndPinsApp(t *testing.T) {
	reg := New(staticSource("cache:clear", "app:zeta", "list", "app:alpha", "debug:router", "cache:warmup", "about"), Options{})

	groups, err := reg.Groups(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"app", "cache", "debug", "other"}, groupNames(groups))
	assert.Equal(t, []string{"app:alpha", "app:zeta"}, opNames(groups[0].Operations))
	assert.Equal(t, []string{"cache:clear", "cache:warmup"}, opNames(groups[1].Operations))
	assert.Equal(t, []string{"about", "list"}, opNames(groups[3].Operations))
}

func TestGroupPinnedLabelSortsFirstRegardlessOfOrdinal(t *testing.T) {
	ops := []model.Operation{{Name: "alpha:a"}, {Name: "zeta:b"}, {Name: "beta:c"}}
	groups := Group(ops, "zeta", DefaultFallbackGroup)
	assert.Equal(t, []string{"zeta", "alpha", "beta"}, groupNames(groups))
}

func TestGroupIsDeterministicAndIdempotent(t *testing.T) {
	ops := []model.Operation{{Name: "b:2"}, {Name: "a:1"}, {Name: "plain"}, {Name: ":odd"}, {Name: "b:1"}, {Name: "app:x"}}
	first := Group(ops, DefaultPinnedGroup, DefaultFallbackGroup)

	reversed := make([]model.Operation, 0, len(ops))
	for i := len(ops) - 1; i >= 0; i-- {
		reversed = append(reversed, ops[i])
	}
	second := Group(reversed, DefaultPinnedGroup, DefaultFallbackGroup)
	assert.Equal(t, first, second)

	var flattened []model.Operation
	for _, g := range first {
		flattened = append(flattened, g.Operations...)
	}
	assert.Equal(t, first, Group(flattened, DefaultPinnedGroup, DefaultFallbackGroup))
	assert.Equal(t, []string{"app", "a", "b", "other"}, groupNames(first))
	assert.Equal(t, []string{":odd", "plain"}, opNames(first[3].Operations))
}

func TestGroupDoesNotMutateInput(t *testing.T) {
	ops := []model.Operation{{Name: "b:2"}, {Name: "b:1"}}
	Group(ops, DefaultPinnedGroup, DefaultFallbackGroup)
	assert.Equal(t, []string{"b:2", "b:1"}, opNames(ops))
}

func TestPrefix(t *testing.T) {
	assert.Equal(t, "cache", Prefix("cache:pool:clear", "other"))
	assert.Equal(t, "other", Prefix("list", "other"))
	assert.Equal(t, "other", Prefix(":x", "other"))
}

func TestListHidesHiddenOperations(t *testing.T) {
	source := SourceFunc(func(context.Context) ([]model.Operation, error) {
		return []model.Operation{
			{Name: "app:visible"},
			{Name: "app:secret", Hidden: true},
		}, nil
	})
	reg := New(source, Options{})

	ops, err := reg.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"app:visible"}, opNames(ops))
}

func TestAllowListRestrictsVisibility(t *testing.T) {
	reg := New(staticSource("app:run", "application:run", "cache:clear", "app"), Options{Namespaces: []string{"app", " "}})

	ops, err := reg.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"app:run"}, opNames(ops))
}

func TestFindNotFoundIsIdenticalForHiddenDisallowedAndUnknown(t *testing.T) {
	source := SourceFunc(func(context.Context) ([]model.Operation, error) {
		return []model.Operation{
			{Name: "app:run"},
			{Name: "app:secret", Hidden: true},
			{Name: "cache:clear"},
		}, nil
	})
	reg := New(source, Options{Namespaces: []string{"app"}})

	op, err := reg.Find(context.Background(), "app:run")
	require.NoError(t, err)
	assert.Equal(t, "app:run", op.Name)

	_, hiddenErr := reg.Find(context.Background(), "app:secret")
	_, disallowedErr := reg.Find(context.Background(), "cache:clear")
	_, unknownErr := reg.Find(context.Background(), "nope:nope")
	_, emptyErr := reg.Find(context.Background(), " ")

	for _, err := range []error{hiddenErr, disallowedErr, unknownErr, emptyErr} {
		assert.True(t, errors.Is(err, ErrNotFound))
		assert.Equal(t, ErrNotFound.Error(), err.Error())
	}
}

func TestSourceErrorsAreWrapped(t *testing.T) {
	boom := errors.New("boom")
	reg := New(SourceFunc(func(context.Context) ([]model.Operation, error) { return nil, boom }), Options{})

	_, err := reg.List(context.Background())
	assert.ErrorIs(t, err, boom)
	_, err = reg.Find(context.Background(), "app:x")
	assert.ErrorIs(t, err, boom)
	assert.False(t, errors.Is(err, ErrNotFound))
}

func TestSourceIsQueriedOnEveryCall(t *testing.T) {
	calls := 0
	reg := New(SourceFunc(func(context.Context) ([]model.Operation, error) {
		calls++
		return []model.Operation{{Name: "app:x"}}, nil
	}), Options{})

	_, _ = reg.List(context.Background())
	_, _ = reg.Groups(context.Background())
	_, _ = reg.Find(context.Background(), "app:x")
	assert.Equal(t, 3, calls)
}
