package broker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"cmdbridge/internal/model"
)

// Finder resolves an operation by name. It must fail with registry.ErrNotFound
// for unknown, hidden and disallowed names alike.
type Finder interface {
	Find(ctx context.Context, name string) (model.Operation, error)
}

// Sink runs one operation in-process and writes everything it prints to out.
// It returns the operation's exit code and must never terminate the process.
type Sink interface {
	Run(ctx context.Context, op model.Operation, input model.Input, out io.Writer) int
}

type Executor struct {
	finder Finder
	sink   Sink
}

func NewExecutor(finder Finder, sink Sink) *Executor {
	return &Executor{finder: finder, sink: sink}
}

func (e *Executor) Execute(ctx context.Context, name string, args model.Values, opts model.Values) (model.ExecutionResult, error) {
	op, err := e.finder.Find(ctx, name)
	if err != nil {
		return model.ExecutionResult{}, err
	}
	return e.ExecuteOperation(ctx, op, args, opts), nil
}

// ExecuteOperation runs an already resolved operation with a fresh capture
// buffer. Failures of the operation itself end up in the result.
func (e *Executor) ExecuteOperation(ctx context.Context, op model.Operation, args model.Values, opts model.Values) model.ExecutionResult {
	if ctx == nil {
		ctx = context.Background()
	}
	input := BuildInput(op, args, opts)
	out := &captureBuffer{}

	start := time.Now()
	exitCode := e.runSink(ctx, op, input, out)
	elapsed := time.Since(start)

	return model.ExecutionResult{
		Mode:       model.ExecutionModeSync,
		ExitCode:   exitCode,
		DurationMs: elapsed.Round(time.Millisecond).Milliseconds(),
		Output:     out.String(),
	}
}

// ExecuteLine parses a reconstructed command line and runs it. It is the
// entry point for messages consumed from the async transport.
func (e *Executor) ExecuteLine(ctx context.Context, line string) (model.ExecutionResult, error) {
	tokens, err := ParseCommandLine(line)
	if err != nil {
		return model.ExecutionResult{}, err
	}
	if len(tokens) == 0 {
		return model.ExecutionResult{}, fmt.Errorf("command line is empty")
	}
	op, err := e.finder.Find(ctx, tokens[0])
	if err != nil {
		return model.ExecutionResult{}, err
	}
	submission := submissionFromTokens(op, tokens[1:])
	args := NormalizeArguments(submission.Arguments, op.Arguments)
	opts := NormalizeOptions(submission.Options, op.Options)
	result := e.ExecuteOperation(ctx, op, args, opts)
	result.CLI = strings.TrimSpace(line)
	return result, nil
}

// ExecuteInput runs a dispatched input. The values are normalized again
// against the current schema, so stale or foreign messages cannot pass
// undeclared options to the sink.
func (e *Executor) ExecuteInput(ctx context.Context, input model.Input, cli string) (model.ExecutionResult, error) {
	op, err := e.finder.Find(ctx, strings.TrimSpace(input.Command))
	if err != nil {
		return model.ExecutionResult{}, err
	}
	args := NormalizeArguments(rawValues(input.Arguments), op.Arguments)
	opts := NormalizeOptions(rawValues(input.Options), op.Options)
	result := e.ExecuteOperation(ctx, op, args, opts)
	result.CLI = strings.TrimSpace(cli)
	if result.CLI == "" {
		result.CLI = BuildCommandLine(op.Name, args, opts)
	}
	return result, nil
}

func rawValues(values model.Values) map[string]model.RawValue {
	raw := make(map[string]model.RawValue, len(values))
	for _, value := range values {
		switch value.Kind {
		case model.ValueKindFlag:
			raw[value.Name] = model.StringValue("1")
		case model.ValueKindList:
			raw[value.Name] = model.ListValue(value.List...)
		default:
			raw[value.Name] = model.StringValue(value.Scalar)
		}
	}
	return raw
}

func (e *Executor) runSink(ctx context.Context, op model.Operation, input model.Input, out io.Writer) (exitCode int) {
	defer func() {
		if recovered := recover(); recovered != nil {
			fmt.Fprintf(out, "panic: %v\n", recovered)
			exitCode = 1
		}
	}()
	if e.sink == nil {
		fmt.Fprintln(out, "no execution sink configured")
		return 1
	}
	return e.sink.Run(ctx, op, input, out)
}

// BuildInput assembles the structured payload for the sink. Multi-valued
// options stay lists so the sink can repeat the option once per element.
func BuildInput(op model.Operation, args model.Values, opts model.Values) model.Input {
	input := model.Input{
		Command:   op.Name,
		Arguments: model.Values{},
		Options:   model.Values{},
	}
	for _, arg := range args {
		if arg.Kind == model.ValueKindList && len(arg.List) == 0 {
			continue
		}
		input.Arguments = append(input.Arguments, arg)
	}
	for _, opt := range opts {
		switch opt.Kind {
		case model.ValueKindFlag:
			input.Options = append(input.Options, model.FlagValue(opt.Name))
		case model.ValueKindList:
			if len(opt.List) == 0 {
				continue
			}
			input.Options = append(input.Options, model.ListOf(opt.Name, opt.List...))
		default:
			if opt.Scalar == "" {
				continue
			}
			input.Options = append(input.Options, opt)
		}
	}
	return input
}

// captureBuffer is safe for operations that print from several goroutines.
type captureBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (c *captureBuffer) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.Write(p)
}

func (c *captureBuffer) String() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.String()
}
