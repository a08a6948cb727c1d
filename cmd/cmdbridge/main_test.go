package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"cmdbridge/internal/console"
	"cmdbridge/internal/dispatch"
	"cmdbridge/internal/model"
	"cmdbridge/internal/policy"
	"cmdbridge/internal/registry"
	"cmdbridge/internal/serviceapi"
)

func newTestCore(t *testing.T) *serviceapi.LocalCore {
	t.Helper()
	core, err := newLocalCore(context.Background(), policy.Default(), nil, false)
	if err != nil {
		t.Fatalf("new local core: %v", err)
	}
	t.Cleanup(core.Shutdown)
	return core
}

func TestHostRegistryHidesInfrastructureCommands(t *testing.T) {
	reg := registry.New(console.New(hostCommandFactory), registry.Options{})
	ops, err := reg.List(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	names := map[string]bool{}
	for _, op := range ops {
		names[op.Name] = true
	}
	for _, hidden := range []string{"serve", "worker", "exec", "policy-init"} {
		if names[hidden] {
			t.Fatalf("expected %s to be hidden, got %v", hidden, names)
		}
	}
	for _, visible := range []string{"app:version", "app:echo", "policy:show", "policy:validate", "policy:reset", "commands:list", "commands:describe"} {
		if !names[visible] {
			t.Fatalf("expected %s to be listed, got %v", visible, names)
		}
	}

	groups, err := reg.Groups(context.Background())
	if err != nil {
		t.Fatalf("groups: %v", err)
	}
	if len(groups) == 0 || groups[0].Name != "app" {
		t.Fatalf("expected app group first, got %+v", groups)
	}
}

func TestRunAppEchoThroughBroker(t *testing.T) {
	core := newTestCore(t)
	result, err := core.Run(context.Background(), "app:echo", model.Submission{
		Arguments: map[string]model.RawValue{"message": model.ListValue("hello", "world")},
		Options: map[string]model.RawValue{
			"upper":  model.StringValue("1"),
			"repeat": model.StringValue("2"),
		},
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.ExitCode != 0 {
		t.Fatalf("expected exit code 0, got %d (%q)", result.ExitCode, result.Output)
	}
	if result.Output != "HELLO WORLD\nHELLO WORLD\n" {
		t.Fatalf("unexpected output %q", result.Output)
	}
	if result.CLI != "app:echo hello world --repeat=2 --upper" {
		t.Fatalf("unexpected cli %q", result.CLI)
	}
}

func TestRunAppEchoRejectsZeroRepeat(t *testing.T) {
	core := newTestCore(t)
	result, err := core.Run(context.Background(), "app:echo", model.Submission{
		Arguments: map[string]model.RawValue{"message": model.StringValue("hi")},
		Options:   map[string]model.RawValue{"repeat": model.StringValue("0")},
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.ExitCode != 2 {
		t.Fatalf("expected exit code 2, got %d", result.ExitCode)
	}
	if !strings.Contains(result.Output, "--repeat must be at least 1") {
		t.Fatalf("unexpected output %q", result.Output)
	}
}

func TestRunHiddenInfrastructureCommandIsNotFound(t *testing.T) {
	core := newTestCore(t)
	_, err := core.Run(context.Background(), "serve", model.Submission{})
	if !errors.Is(err, registry.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestPolicyValidateReportsInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.json")
	if err := os.WriteFile(path, []byte(`{"version":0}`), 0o644); err != nil {
		t.Fatalf("write policy: %v", err)
	}
	core := newTestCore(t)
	result, err := core.Run(context.Background(), "policy:validate", model.Submission{
		Options: map[string]model.RawValue{"path": model.StringValue(path)},
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.ExitCode != 2 {
		t.Fatalf("expected exit code 2, got %d", result.ExitCode)
	}
	if !strings.Contains(result.Output, "version must be positive") {
		t.Fatalf("unexpected output %q", result.Output)
	}
}

func TestPolicyResetRefusesOverwriteWhenNonInteractive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.json")
	if err := os.WriteFile(path, []byte(`{"version":1,"listing":{"fallback_group":"misc"}}`), 0o644); err != nil {
		t.Fatalf("write policy: %v", err)
	}
	core := newTestCore(t)
	result, err := core.Run(context.Background(), "policy:reset", model.Submission{
		Options: map[string]model.RawValue{"path": model.StringValue(path)},
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.ExitCode != 2 || !strings.Contains(result.Output, "refusing to overwrite") {
		t.Fatalf("expected refusal, got exit=%d output=%q", result.ExitCode, result.Output)
	}

	result, err = core.Run(context.Background(), "policy:reset", model.Submission{
		Options: map[string]model.RawValue{
			"path":  model.StringValue(path),
			"force": model.StringValue("1"),
		},
	})
	if err != nil {
		t.Fatalf("run with force: %v", err)
	}
	if result.ExitCode != 0 {
		t.Fatalf("expected exit code 0, got %d (%q)", result.ExitCode, result.Output)
	}
	cfg, _, err := policy.Load(path)
	if err != nil {
		t.Fatalf("load reset policy: %v", err)
	}
	if cfg.Listing.FallbackGroup != "other" {
		t.Fatalf("expected default fallback group, got %q", cfg.Listing.FallbackGroup)
	}
}

func TestPolicyInitCommandWritesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "policy.yaml")
	if err := executeCLI(context.Background(), []string{"policy-init", "--path", path}); err != nil {
		t.Fatalf("policy-init: %v", err)
	}
	cfg, _, err := policy.Load(path)
	if err != nil {
		t.Fatalf("load policy: %v", err)
	}
	if cfg.Transport.Driver != policy.TransportNone {
		t.Fatalf("expected transport none, got %q", cfg.Transport.Driver)
	}
}

func TestExecAsyncOverLocalMemoryTransportIsUnavailable(t *testing.T) {
	policyPath := filepath.Join(t.TempDir(), "policy.json")
	err := executeCLI(context.Background(), []string{
		"exec",
		"--policy", policyPath,
		"--transport", "memory",
		"--name", "app:version",
		"--async",
	})
	if !errors.Is(err, dispatch.ErrUnavailable) {
		t.Fatalf("expected unavailable for local memory dispatch, got %v", err)
	}
}

func TestLocalCoreMemoryTransportNeedsWorkerForAsync(t *testing.T) {
	cfg := policy.Default()
	cfg.Transport.Driver = policy.TransportMemory
	core, err := newLocalCore(context.Background(), cfg, nil, false)
	if err != nil {
		t.Fatalf("new local core: %v", err)
	}
	defer core.Shutdown()

	if core.AsyncAvailable() {
		t.Fatalf("expected async to be unavailable without a worker")
	}
	_, err = core.Run(context.Background(), "app:version", model.Submission{Async: true})
	if !errors.Is(err, dispatch.ErrUnavailable) {
		t.Fatalf("expected unavailable, got %v", err)
	}

	if err := core.StartWorker(context.Background()); err != nil {
		t.Fatalf("start worker: %v", err)
	}
	if !core.AsyncAvailable() {
		t.Fatalf("expected async to be available once the worker runs")
	}
	result, err := core.Run(context.Background(), "app:version", model.Submission{Async: true})
	if err != nil {
		t.Fatalf("run async: %v", err)
	}
	if result.MessageID == "" {
		t.Fatalf("expected message id, got %+v", result)
	}
}

func TestBuildSubmission(t *testing.T) {
	submission, err := buildSubmission(
		[]string{"env=prod", "name=a b"},
		[]string{"force", "--only=x", "only=y", "note="},
		true,
	)
	if err != nil {
		t.Fatalf("build submission: %v", err)
	}
	if !submission.Async {
		t.Fatalf("expected async submission")
	}
	if got := submission.Arguments["name"]; got.IsList || got.Scalar != "a b" {
		t.Fatalf("unexpected name argument %+v", got)
	}
	if got := submission.Options["force"]; got.Scalar != "1" {
		t.Fatalf("expected bare option to become 1, got %+v", got)
	}
	only := submission.Options["only"]
	if !only.IsList || strings.Join(only.List, ",") != "x,y" {
		t.Fatalf("expected repeated option to become a list, got %+v", only)
	}
	if got := submission.Options["note"]; !got.Empty() {
		t.Fatalf("expected empty note, got %+v", got)
	}

	if _, err := buildSubmission([]string{"env"}, nil, false); err == nil {
		t.Fatalf("expected error for argument without value")
	}
	if _, err := buildSubmission(nil, []string{"=x"}, false); err == nil {
		t.Fatalf("expected error for option without name")
	}
}

func TestPrintResult(t *testing.T) {
	var out bytes.Buffer
	err := printResult(&out, model.ExecutionResult{
		Mode:       model.ExecutionModeSync,
		CLI:        "app:fail",
		ExitCode:   3,
		DurationMs: 12,
		Output:     "boom",
	})
	var coder console.ExitCoder
	if !errors.As(err, &coder) || coder.ExitCode() != 3 {
		t.Fatalf("expected exit code 3 error, got %v", err)
	}
	if !console.Silent(err) {
		t.Fatalf("expected silent exit error")
	}
	if out.String() != "$ app:fail\nboom\nexit_code=3 duration_ms=12\n" {
		t.Fatalf("unexpected output %q", out.String())
	}

	out.Reset()
	err = printResult(&out, model.ExecutionResult{
		Mode:      model.ExecutionModeAsync,
		CLI:       "app:version",
		MessageID: "msg-1",
		Message:   "queued",
	})
	if err != nil {
		t.Fatalf("print async result: %v", err)
	}
	if out.String() != "$ app:version\ndispatched: message_id=msg-1\nqueued\n" {
		t.Fatalf("unexpected output %q", out.String())
	}
}
