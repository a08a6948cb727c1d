package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"cmdbridge/internal/dispatch"
	"cmdbridge/internal/serviceapi"
	"cmdbridge/internal/web"
)

type Options struct {
	Addr            string
	ShutdownTimeout time.Duration
}

type Runtime struct {
	opts      Options
	service   serviceapi.Core
	logger    *log.Logger
	startedAt time.Time
	server    *http.Server
}

type HealthResponse struct {
	Status         string                   `json:"status"`
	StartedAt      time.Time                `json:"started_at"`
	Now            time.Time                `json:"now"`
	AsyncAvailable bool                     `json:"async_available"`
	Transport      string                   `json:"transport"`
	Worker         *dispatch.WorkerSnapshot `json:"worker,omitempty"`
}

func NewRuntime(options Options, service serviceapi.Core, logger *log.Logger) (*Runtime, error) {
	if service == nil {
		return nil, fmt.Errorf("service core is required")
	}
	options = normalizeOptions(options)
	if logger == nil {
		logger = log.New(os.Stdout, "", 0)
	}
	runtime := &Runtime{
		opts:      options,
		service:   service,
		logger:    logger,
		startedAt: time.Now().UTC(),
	}
	runtime.server = &http.Server{
		Addr:              options.Addr,
		Handler:           runtime.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return runtime, nil
}

// Handler returns the full HTTP surface: the JSON API and the web page.
func (r *Runtime) Handler() http.Handler {
	mux := http.NewServeMux()
	r.registerRoutes(mux)
	spaMounted := web.RegisterSPA(mux, web.PublicFS, web.SPAOptions{APIPrefix: "/api"})
	if !spaMounted {
		mux.HandleFunc("/", r.handleNotFound)
	}
	return withRequestLog(mux, r.logger)
}

func (r *Runtime) Run(ctx context.Context) error {
	if r == nil {
		return fmt.Errorf("runtime is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	errCh := make(chan error, 1)
	go func() {
		if err := r.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	r.logger.Printf("http server listening: addr=%s async_available=%t", r.opts.Addr, r.service.AsyncAvailable())

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			r.service.Shutdown()
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), r.opts.ShutdownTimeout)
	defer cancel()
	if err := r.server.Shutdown(shutdownCtx); err != nil {
		r.service.Shutdown()
		return err
	}
	r.service.Shutdown()
	return nil
}

func normalizeOptions(options Options) Options {
	if options.Addr == "" {
		options.Addr = ":3001"
	}
	if options.ShutdownTimeout <= 0 {
		options.ShutdownTimeout = 5 * time.Second
	}
	return options
}

func (r *Runtime) handleHealth(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		writeAPIError(w, http.StatusMethodNotAllowed, "method_not_allowed", "only GET is supported")
		return
	}
	health, err := r.service.Health(req.Context())
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "degraded",
			"error":  err.Error(),
		})
		return
	}
	response := HealthResponse{
		Status:         health.Status,
		StartedAt:      r.startedAt,
		Now:            time.Now().UTC(),
		AsyncAvailable: health.AsyncAvailable,
		Transport:      health.Transport,
		Worker:         health.Worker,
	}
	statusCode := http.StatusOK
	if response.Status != "ok" {
		statusCode = http.StatusServiceUnavailable
	}
	writeJSON(w, statusCode, response)
}

func (r *Runtime) handleNotFound(w http.ResponseWriter, _ *http.Request) {
	writeAPIError(w, http.StatusNotFound, "not_found", "route not found")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
