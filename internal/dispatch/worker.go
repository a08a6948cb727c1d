package dispatch

import (
	"context"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/pkg/errors"

	"cmdbridge/internal/model"
)

// LineExecutor runs one dispatched command, either from its normalized
// input or by parsing the reconstructed command line.
type LineExecutor interface {
	ExecuteLine(ctx context.Context, line string) (model.ExecutionResult, error)
	ExecuteInput(ctx context.Context, input model.Input, cli string) (model.ExecutionResult, error)
}

type WorkerSnapshot struct {
	Running         bool       `json:"running"`
	Topic           string     `json:"topic"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	LastProcessedAt *time.Time `json:"last_processed_at,omitempty"`
	LastErrorAt     *time.Time `json:"last_error_at,omitempty"`
	LastError       string     `json:"last_error,omitempty"`
	LastCommand     string     `json:"last_command,omitempty"`
	LastExitCode    int        `json:"last_exit_code"`
	TotalProcessed  int64      `json:"total_processed"`
	TotalRejected   int64      `json:"total_rejected"`
	TotalFailed     int64      `json:"total_failed"`
}

// Worker consumes dispatched command lines from a subscriber and executes
// them. Every message is acked, including rejected ones, so a bad message
// never blocks the stream.
type Worker struct {
	subscriber message.Subscriber
	topic      string
	executor   LineExecutor
	logger     *log.Logger
	busLogger  watermill.LoggerAdapter

	mu       sync.RWMutex
	router   *message.Router
	doneChan chan struct{}
	runErr   error
	snapshot WorkerSnapshot
}

func NewWorker(subscriber message.Subscriber, topic string, executor LineExecutor, logger *log.Logger, busLogger watermill.LoggerAdapter) *Worker {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		topic = DefaultTopic
	}
	if busLogger == nil {
		busLogger = watermill.NopLogger{}
	}
	return &Worker{
		subscriber: subscriber,
		topic:      topic,
		executor:   executor,
		logger:     logger,
		busLogger:  busLogger,
		snapshot:   WorkerSnapshot{Topic: topic},
	}
}

// Start launches the router in the background and returns once it is
// consuming, or with the error that prevented it from starting.
func (w *Worker) Start(ctx context.Context) error {
	if w.subscriber == nil {
		return ErrUnavailable
	}
	if w.executor == nil {
		return errors.New("worker executor is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	w.mu.Lock()
	if w.router != nil {
		w.mu.Unlock()
		return nil
	}
	router, err := message.NewRouter(message.RouterConfig{CloseTimeout: 5 * time.Second}, w.busLogger)
	if err != nil {
		w.mu.Unlock()
		return errors.Wrap(err, "create worker router")
	}
	router.AddNoPublisherHandler("cmdbridge-run-command", w.topic, w.subscriber, w.handle)
	w.router = router
	w.doneChan = make(chan struct{})
	done := w.doneChan
	now := time.Now().UTC()
	w.snapshot.Running = true
	w.snapshot.StartedAt = timePtr(now)
	w.mu.Unlock()

	go func() {
		defer close(done)
		runErr := router.Run(ctx)
		w.mu.Lock()
		w.runErr = runErr
		w.snapshot.Running = false
		w.mu.Unlock()
	}()

	select {
	case <-router.Running():
		w.logf("worker started: topic=%s", w.topic)
		return nil
	case <-done:
		w.mu.RLock()
		defer w.mu.RUnlock()
		if w.runErr != nil {
			return errors.Wrap(w.runErr, "run worker router")
		}
		return errors.New("worker router stopped before it was running")
	}
}

// Stop closes the router and waits for in-flight messages up to timeout.
func (w *Worker) Stop(timeout time.Duration) bool {
	w.mu.RLock()
	router := w.router
	w.mu.RUnlock()
	if router != nil {
		_ = router.Close()
	}
	return w.Wait(timeout)
}

func (w *Worker) Wait(timeout time.Duration) bool {
	w.mu.RLock()
	done := w.doneChan
	w.mu.RUnlock()
	if done == nil {
		return true
	}
	if timeout <= 0 {
		<-done
		return true
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-done:
		return true
	case <-timer.C:
		return false
	}
}

func (w *Worker) Snapshot() WorkerSnapshot {
	w.mu.RLock()
	defer w.mu.RUnlock()
	copySnapshot := w.snapshot
	copySnapshot.StartedAt = cloneTimePtr(w.snapshot.StartedAt)
	copySnapshot.LastProcessedAt = cloneTimePtr(w.snapshot.LastProcessedAt)
	copySnapshot.LastErrorAt = cloneTimePtr(w.snapshot.LastErrorAt)
	return copySnapshot
}

func (w *Worker) handle(msg *message.Message) error {
	now := time.Now().UTC()
	payload, err := decodeRunCommandMessage(msg)
	if err != nil {
		w.recordRejected(now, err)
		w.logf("worker rejected message: message_uuid=%s error=%q", msg.UUID, err.Error())
		return nil
	}

	var result model.ExecutionResult
	if payload.Structured() {
		result, err = w.executor.ExecuteInput(msg.Context(), payload.ModelInput(), payload.Input)
	} else {
		result, err = w.executor.ExecuteLine(msg.Context(), payload.Input)
	}
	if err != nil {
		w.recordRejected(now, err)
		w.logf("worker rejected command: message_uuid=%s cli=%q error=%q", msg.UUID, payload.Input, err.Error())
		return nil
	}

	w.mu.Lock()
	w.snapshot.TotalProcessed++
	w.snapshot.LastProcessedAt = timePtr(now)
	w.snapshot.LastCommand = result.CLI
	w.snapshot.LastExitCode = result.ExitCode
	if result.ExitCode != 0 {
		w.snapshot.TotalFailed++
	}
	w.mu.Unlock()

	w.logf(
		"worker executed command: message_uuid=%s cli=%q exit_code=%d duration_ms=%d",
		msg.UUID,
		result.CLI,
		result.ExitCode,
		result.DurationMs,
	)
	if output := strings.TrimRight(result.Output, "\n"); output != "" {
		w.logf("%s", output)
	}
	return nil
}

func (w *Worker) recordRejected(now time.Time, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.snapshot.TotalRejected++
	w.snapshot.LastErrorAt = timePtr(now)
	w.snapshot.LastError = strings.TrimSpace(err.Error())
}

func (w *Worker) logf(format string, args ...any) {
	if w.logger == nil {
		return
	}
	w.logger.Printf(format, args...)
}

func timePtr(value time.Time) *time.Time {
	clone := value
	return &clone
}

func cloneTimePtr(value *time.Time) *time.Time {
	if value == nil {
		return nil
	}
	clone := *value
	return &clone
}
