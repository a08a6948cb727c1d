// Package broker turns a submitted form into a command run: it normalizes
// the submission against the operation schema, rebuilds the command line
// and either executes in-process or hands the line to the async transport.
package broker

import (
	"context"
	"log"

	"cmdbridge/internal/dispatch"
	"cmdbridge/internal/model"
	"cmdbridge/internal/registry"
)

const AsyncNotice = "Dispatched to the message queue. Output will not appear here; check the host logs (commands should log their output)."

type Dispatcher interface {
	Available() bool
	DispatchInput(ctx context.Context, cli string, input model.Input) (dispatch.Ack, error)
}

type Broker struct {
	registry   *registry.Registry
	executor   *Executor
	dispatcher Dispatcher
	logger     *log.Logger
}

func New(reg *registry.Registry, executor *Executor, dispatcher Dispatcher, logger *log.Logger) *Broker {
	return &Broker{
		registry:   reg,
		executor:   executor,
		dispatcher: dispatcher,
		logger:     logger,
	}
}

func (b *Broker) Groups(ctx context.Context) ([]model.Group, error) {
	return b.registry.Groups(ctx)
}

func (b *Broker) Describe(ctx context.Context, name string) (model.Operation, error) {
	return b.registry.Find(ctx, name)
}

func (b *Broker) AsyncAvailable() bool {
	return b.dispatcher != nil && b.dispatcher.Available()
}

// Run executes or dispatches one submission. Async requests never fall back
// to synchronous execution when no transport is configured.
func (b *Broker) Run(ctx context.Context, name string, submission model.Submission) (model.ExecutionResult, error) {
	op, err := b.registry.Find(ctx, name)
	if err != nil {
		return model.ExecutionResult{}, err
	}
	args := NormalizeArguments(submission.Arguments, op.Arguments)
	opts := NormalizeOptions(submission.Options, op.Options)
	cli := BuildCommandLine(op.Name, args, opts)

	if submission.Async {
		if !b.AsyncAvailable() {
			return model.ExecutionResult{}, dispatch.ErrUnavailable
		}
		ack, err := b.dispatcher.DispatchInput(ctx, cli, BuildInput(op, args, opts))
		if err != nil {
			return model.ExecutionResult{}, err
		}
		b.logf("command dispatched: name=%s message_id=%s topic=%s", op.Name, ack.MessageID, ack.Topic)
		return model.ExecutionResult{
			Mode:         model.ExecutionModeAsync,
			CLI:          cli,
			Acknowledged: true,
			MessageID:    ack.MessageID,
			Message:      AsyncNotice,
		}, nil
	}

	result := b.executor.ExecuteOperation(ctx, op, args, opts)
	result.CLI = cli
	b.logf("command executed: name=%s exit_code=%d duration_ms=%d", op.Name, result.ExitCode, result.DurationMs)
	return result, nil
}

func (b *Broker) logf(format string, args ...any) {
	if b.logger == nil {
		return
	}
	b.logger.Printf(format, args...)
}
