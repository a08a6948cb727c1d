// Package registry lists the operations a host exposes, applies the
// namespace allow-list and builds the grouped listing shown to users.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"cmdbridge/internal/model"
)

// ErrNotFound is returned for unknown, hidden and disallowed operations alike.
var ErrNotFound = errors.New("command not found")

const (
	DefaultPinnedGroup   = "app"
	DefaultFallbackGroup = "other"
	separator            = ":"
)

// Source supplies the host's operations. It is queried on every call.
type Source interface {
	Operations(ctx context.Context) ([]model.Operation, error)
}

type SourceFunc func(ctx context.Context) ([]model.Operation, error)

func (f SourceFunc) Operations(ctx context.Context) ([]model.Operation, error) {
	return f(ctx)
}

type Options struct {
	Namespaces    []string
	PinnedGroup   string
	FallbackGroup string
}

type Registry struct {
	source        Source
	namespaces    []string
	pinnedGroup   string
	fallbackGroup string
}

func New(source Source, options Options) *Registry {
	namespaces := make([]string, 0, len(options.Namespaces))
	for _, ns := range options.Namespaces {
		ns = strings.TrimSpace(ns)
		if ns == "" {
			continue
		}
		namespaces = append(namespaces, ns)
	}
	pinned := strings.TrimSpace(options.PinnedGroup)
	if pinned == "" {
		pinned = DefaultPinnedGroup
	}
	fallback := strings.TrimSpace(options.FallbackGroup)
	if fallback == "" {
		fallback = DefaultFallbackGroup
	}
	return &Registry{
		source:        source,
		namespaces:    namespaces,
		pinnedGroup:   pinned,
		fallbackGroup: fallback,
	}
}

// Allowed reports whether an operation may be listed and run.
func (r *Registry) Allowed(op model.Operation) bool {
	if op.Hidden {
		return false
	}
	if len(r.namespaces) == 0 {
		return true
	}
	for _, ns := range r.namespaces {
		if strings.HasPrefix(op.Name, ns+separator) {
			return true
		}
	}
	return false
}

func (r *Registry) List(ctx context.Context) ([]model.Operation, error) {
	if r == nil || r.source == nil {
		return nil, fmt.Errorf("operation source is required")
	}
	all, err := r.source.Operations(ctx)
	if err != nil {
		return nil, fmt.Errorf("list operations: %w", err)
	}
	visible := make([]model.Operation, 0, len(all))
	for _, op := range all {
		if !r.Allowed(op) {
			continue
		}
		visible = append(visible, op)
	}
	sort.SliceStable(visible, func(i, j int) bool {
		return visible[i].Name < visible[j].Name
	})
	return visible, nil
}

func (r *Registry) Find(ctx context.Context, name string) (model.Operation, error) {
	if r == nil || r.source == nil {
		return model.Operation{}, fmt.Errorf("operation source is required")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return model.Operation{}, ErrNotFound
	}
	all, err := r.source.Operations(ctx)
	if err != nil {
		return model.Operation{}, fmt.Errorf("find operation %s: %w", name, err)
	}
	for _, op := range all {
		if op.Name != name {
			continue
		}
		if !r.Allowed(op) {
			return model.Operation{}, ErrNotFound
		}
		return op, nil
	}
	return model.Operation{}, ErrNotFound
}

func (r *Registry) Groups(ctx context.Context) ([]model.Group, error) {
	visible, err := r.List(ctx)
	if err != nil {
		return nil, err
	}
	return Group(visible, r.pinnedGroup, r.fallbackGroup), nil
}

// Prefix returns the group label for an operation name: the text before the
// first separator, or fallback when there is none.
func Prefix(name string, fallback string) string {
	idx := strings.Index(name, separator)
	if idx <= 0 {
		return fallback
	}
	return name[:idx]
}

// Group partitions operations by prefix. Groups are ordered by label with the
// pinned label first; operations inside a group are ordered by full name.
func Group(ops []model.Operation, pinned string, fallback string) []model.Group {
	byLabel := map[string][]model.Operation{}
	for _, op := range ops {
		label := Prefix(op.Name, fallback)
		byLabel[label] = append(byLabel[label], op)
	}

	labels := make([]string, 0, len(byLabel))
	for label := range byLabel {
		labels = append(labels, label)
	}
	sort.Slice(labels, func(i, j int) bool {
		a, b := labels[i], labels[j]
		if a == pinned && b != pinned {
			return true
		}
		if b == pinned && a != pinned {
			return false
		}
		return a < b
	})

	groups := make([]model.Group, 0, len(labels))
	for _, label := range labels {
		members := append([]model.Operation(nil), byLabel[label]...)
		sort.SliceStable(members, func(i, j int) bool {
			return members[i].Name < members[j].Name
		})
		groups = append(groups, model.Group{Name: label, Operations: members})
	}
	return groups
}
