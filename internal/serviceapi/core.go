package serviceapi

import (
	"context"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/ThreeDotsLabs/watermill"

	"cmdbridge/internal/broker"
	"cmdbridge/internal/console"
	"cmdbridge/internal/dispatch"
	"cmdbridge/internal/model"
	"cmdbridge/internal/policy"
	"cmdbridge/internal/registry"
)

type Health struct {
	Status         string                   `json:"status"`
	AsyncAvailable bool                     `json:"async_available"`
	Transport      string                   `json:"transport"`
	Worker         *dispatch.WorkerSnapshot `json:"worker,omitempty"`
}

type Core interface {
	Shutdown()

	Health(ctx context.Context) (Health, error)
	AsyncAvailable() bool

	Groups(ctx context.Context) ([]model.Group, error)
	Describe(ctx context.Context, name string) (model.Operation, error)
	Run(ctx context.Context, name string, submission model.Submission) (model.ExecutionResult, error)
}

type LocalOptions struct {
	Config  policy.Config
	Factory console.Factory
	Logger  *log.Logger
	// Debug enables watermill debug logs.
	Debug bool
}

// LocalCore runs the broker in this process over the host command tree.
type LocalCore struct {
	executor  *broker.Executor
	broker    *broker.Broker
	transport *dispatch.Transport
	worker    *dispatch.Worker
	logger    *log.Logger
	busLogger watermill.LoggerAdapter
}

func NewLocalCore(ctx context.Context, options LocalOptions) (*LocalCore, error) {
	if options.Factory == nil {
		return nil, fmt.Errorf("command factory is required")
	}
	if err := policy.Validate(options.Config); err != nil {
		return nil, err
	}
	logger := options.Logger
	var logOut io.Writer = io.Discard
	if logger != nil {
		logOut = logger.Writer()
	}
	busLogger := watermill.NewStdLoggerWithOut(logOut, options.Debug, false)

	transport, err := dispatch.Open(ctx, options.Config.Transport, busLogger)
	if err != nil {
		return nil, fmt.Errorf("open %s transport: %w", options.Config.Transport.Driver, err)
	}

	adapter := console.New(options.Factory)
	reg := registry.New(adapter, registry.Options{
		Namespaces:    policy.AllowedNamespaces(options.Config),
		PinnedGroup:   options.Config.Listing.PinnedGroup,
		FallbackGroup: options.Config.Listing.FallbackGroup,
	})
	executor := broker.NewExecutor(reg, adapter)
	return &LocalCore{
		executor:  executor,
		broker:    broker.New(reg, executor, transport.Gateway(busLogger), logger),
		transport: transport,
		logger:    logger,
		busLogger: busLogger,
	}, nil
}

// StartWorker begins consuming dispatched commands on this core's transport.
func (l *LocalCore) StartWorker(ctx context.Context) error {
	if l.worker != nil {
		return nil
	}
	if !l.transport.Available() {
		return dispatch.ErrUnavailable
	}
	worker := dispatch.NewWorker(l.transport.Subscriber, l.transport.Topic, l.executor, l.logger, l.busLogger)
	if err := worker.Start(ctx); err != nil {
		return err
	}
	l.worker = worker
	return nil
}

// WaitWorker blocks until the worker stops, returning immediately when none runs.
func (l *LocalCore) WaitWorker() {
	if l.worker == nil {
		return
	}
	l.worker.Wait(0)
}

func (l *LocalCore) Shutdown() {
	if l == nil {
		return
	}
	if l.worker != nil {
		l.worker.Stop(5 * time.Second)
	}
	if err := l.transport.Close(); err != nil && l.logger != nil {
		l.logger.Printf("transport close failed: driver=%s error=%q", l.transport.Driver, err.Error())
	}
}

func (l *LocalCore) Health(_ context.Context) (Health, error) {
	health := Health{
		Status:         "ok",
		AsyncAvailable: l.AsyncAvailable(),
		Transport:      l.transport.Driver,
	}
	if l.worker != nil {
		snapshot := l.worker.Snapshot()
		health.Worker = &snapshot
		if !snapshot.Running {
			health.Status = "degraded"
		}
	}
	return health, nil
}

// AsyncAvailable is false for the memory transport until a worker is
// attached: gochannel drops messages that have no subscriber.
func (l *LocalCore) AsyncAvailable() bool {
	if l.transport.Driver == policy.TransportMemory && l.worker == nil {
		return false
	}
	return l.broker.AsyncAvailable()
}

func (l *LocalCore) Groups(ctx context.Context) ([]model.Group, error) {
	return l.broker.Groups(ctx)
}

func (l *LocalCore) Describe(ctx context.Context, name string) (model.Operation, error) {
	return l.broker.Describe(ctx, name)
}

func (l *LocalCore) Run(ctx context.Context, name string, submission model.Submission) (model.ExecutionResult, error) {
	if submission.Async && !l.AsyncAvailable() {
		if _, err := l.broker.Describe(ctx, name); err != nil {
			return model.ExecutionResult{}, err
		}
		return model.ExecutionResult{}, dispatch.ErrUnavailable
	}
	return l.broker.Run(ctx, name, submission)
}
