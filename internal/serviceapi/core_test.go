package serviceapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"

	"cmdbridge/internal/dispatch"
	"cmdbridge/internal/model"
	"cmdbridge/internal/policy"
	"cmdbridge/internal/registry"
)

func testFactory() *cobra.Command {
	root := &cobra.Command{Use: "host"}
	appCmd := &cobra.Command{Use: "app"}
	appCmd.AddCommand(&cobra.Command{
		Use: "hello NAME",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "hello %s\n", args[0])
			return nil
		},
	})
	appCmd.AddCommand(&cobra.Command{
		Use:  "say MESSAGE...",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), strings.Join(args, " "))
			return nil
		},
	})
	root.AddCommand(appCmd)
	return root
}

func waitForProcessed(t *testing.T, core *LocalCore, total int64) *dispatch.WorkerSnapshot {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		health, err := core.Health(context.Background())
		if err != nil {
			t.Fatalf("health: %v", err)
		}
		if health.Worker == nil {
			t.Fatalf("expected worker snapshot in health")
		}
		if health.Worker.TotalProcessed+health.Worker.TotalRejected >= total {
			return health.Worker
		}
		if time.Now().After(deadline) {
			t.Fatalf("worker did not process the message: %+v", health.Worker)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func newCore(t *testing.T, driver string) *LocalCore {
	t.Helper()
	cfg := policy.Default()
	cfg.Transport.Driver = driver
	core, err := NewLocalCore(context.Background(), LocalOptions{Config: cfg, Factory: testFactory})
	if err != nil {
		t.Fatalf("new local core: %v", err)
	}
	t.Cleanup(core.Shutdown)
	return core
}

func TestLocalCoreRunsSync(t *testing.T) {
	core := newCore(t, policy.TransportNone)
	result, err := core.Run(context.Background(), "app:hello", model.Submission{
		Arguments: map[string]model.RawValue{"name": model.StringValue("world")},
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Output != "hello world\n" || result.ExitCode != 0 {
		t.Fatalf("unexpected result %+v", result)
	}

	health, err := core.Health(context.Background())
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	if health.Status != "ok" || health.AsyncAvailable || health.Transport != policy.TransportNone {
		t.Fatalf("unexpected health %+v", health)
	}
}

func TestLocalCoreAsyncWithoutTransport(t *testing.T) {
	core := newCore(t, policy.TransportNone)
	_, err := core.Run(context.Background(), "app:hello", model.Submission{
		Arguments: map[string]model.RawValue{"name": model.StringValue("world")},
		Async:     true,
	})
	if !errors.Is(err, dispatch.ErrUnavailable) {
		t.Fatalf("expected unavailable, got %v", err)
	}
	if err := core.StartWorker(context.Background()); !errors.Is(err, dispatch.ErrUnavailable) {
		t.Fatalf("expected worker start to fail with unavailable, got %v", err)
	}
}

func TestLocalCoreAsyncOverMemoryTransport(t *testing.T) {
	core := newCore(t, policy.TransportMemory)
	if err := core.StartWorker(context.Background()); err != nil {
		t.Fatalf("start worker: %v", err)
	}

	result, err := core.Run(context.Background(), "app:hello", model.Submission{
		Arguments: map[string]model.RawValue{"name": model.StringValue("queue")},
		Async:     true,
	})
	if err != nil {
		t.Fatalf("run async: %v", err)
	}
	if result.Mode != model.ExecutionModeAsync || !result.Acknowledged || result.MessageID == "" {
		t.Fatalf("unexpected async result %+v", result)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		health, err := core.Health(context.Background())
		if err != nil {
			t.Fatalf("health: %v", err)
		}
		if health.Worker == nil {
			t.Fatalf("expected worker snapshot in health")
		}
		if health.Worker.TotalProcessed == 1 {
			if health.Worker.LastCommand != "app:hello queue" {
				t.Fatalf("unexpected last command %q", health.Worker.LastCommand)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("worker did not process the message: %+v", health.Worker)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestLocalCoreAsyncKeepsDashLeadingArgument(t *testing.T) {
	core := newCore(t, policy.TransportMemory)
	if err := core.StartWorker(context.Background()); err != nil {
		t.Fatalf("start worker: %v", err)
	}
	submission := model.Submission{
		Arguments: map[string]model.RawValue{"message": model.StringValue("--verbose")},
	}

	syncResult, err := core.Run(context.Background(), "app:say", submission)
	if err != nil {
		t.Fatalf("run sync: %v", err)
	}
	if syncResult.ExitCode != 0 || syncResult.Output != "--verbose\n" {
		t.Fatalf("unexpected sync result %+v", syncResult)
	}

	submission.Async = true
	if _, err := core.Run(context.Background(), "app:say", submission); err != nil {
		t.Fatalf("run async: %v", err)
	}
	snapshot := waitForProcessed(t, core, 1)
	if snapshot.TotalProcessed != 1 || snapshot.TotalFailed != 0 || snapshot.LastExitCode != 0 {
		t.Fatalf("expected async run to succeed like the sync run, got %+v", snapshot)
	}
	if snapshot.LastCommand != syncResult.CLI {
		t.Fatalf("expected last command %q, got %q", syncResult.CLI, snapshot.LastCommand)
	}
}

func TestNewLocalCoreRequiresFactory(t *testing.T) {
	if _, err := NewLocalCore(context.Background(), LocalOptions{Config: policy.Default()}); err == nil {
		t.Fatalf("expected error without factory")
	}
}

func TestRemoteCoreMapsErrorEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasPrefix(req.URL.Path, "/api/v1/describe/"):
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":{"code":"not_found","message":"command not found"}}`))
		case req.URL.Path == "/api/v1/run/app:hello":
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"error":{"code":"async_unavailable","message":"no transport"}}`))
		case req.URL.Path == "/api/v1/health":
			_, _ = w.Write([]byte(`{"status":"ok","async_available":true,"transport":"redis"}`))
		default:
			w.WriteHeader(http.StatusTeapot)
			_, _ = w.Write([]byte("nope"))
		}
	}))
	defer srv.Close()

	remote := NewRemoteCore(srv.URL+"/", time.Second)
	if _, err := remote.Describe(context.Background(), "secret:wipe"); !errors.Is(err, registry.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := remote.Run(context.Background(), "app:hello", model.Submission{Async: true}); !errors.Is(err, dispatch.ErrUnavailable) {
		t.Fatalf("expected unavailable, got %v", err)
	}
	if !remote.AsyncAvailable() {
		t.Fatalf("expected async available from health")
	}
	_, err := remote.Groups(context.Background())
	if err == nil || !strings.Contains(err.Error(), "http 418") {
		t.Fatalf("expected raw http error, got %v", err)
	}
}

func TestRemoteCoreDecodesRunResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", req.Method)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"result":{"mode":"sync","cli":"app:hello x","exitCode":3,"durationMs":7,"output":"boom\n"}}`))
	}))
	defer srv.Close()

	remote := NewRemoteCore(srv.URL, 0)
	result, err := remote.Run(context.Background(), "app:hello", model.Submission{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.ExitCode != 3 || result.DurationMs != 7 || result.Output != "boom\n" || result.CLI != "app:hello x" {
		t.Fatalf("unexpected result %+v", result)
	}
}
