package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/secops-orchestrator/internal/events"
	"github.com/phrazzld/secops-orchestrator/internal/redact"
	"golang.org/x/sync/semaphore"
)

// Cancellation causes attached to a run's context.
var (
	errCancelRequested = errors.New("cancellation requested")
	errShutdown        = errors.New("executor shutting down")
)

// maxCommitAttempts bounds how often the executor retries a terminal commit
// that lost a compare-and-update race.
const maxCommitAttempts = 3

// ExecutorConfig holds the timeout and concurrency policy of an Executor.
type ExecutorConfig struct {
	// DefaultTimeout is the time budget for kinds without an entry in KindTimeouts.
	DefaultTimeout time.Duration

	// KindTimeouts overrides DefaultTimeout per kind.
	KindTimeouts map[Kind]time.Duration

	// MaxConcurrent bounds how many tasks may be running at once.
	// Zero or less means unbounded; excess tasks stay pending until a slot frees.
	MaxConcurrent int
}

// DefaultExecutorConfig returns an ExecutorConfig with reasonable defaults
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		DefaultTimeout: 30 * time.Minute,
		MaxConcurrent:  8,
	}
}

// Executor runs handlers outside the caller's request path and commits
// their outcome to the Registry. For the lifetime of a run, the executor
// is the only writer of that task.
type Executor struct {
	registry *Registry
	sink     events.EventSink
	config   ExecutorConfig
	logger   *slog.Logger
	slots    *semaphore.Weighted

	// ctx is canceled with errShutdown when the executor shuts down
	ctx    context.Context
	cancel context.CancelCauseFunc

	// wg tracks run goroutines for clean shutdown
	wg sync.WaitGroup

	mu     sync.Mutex
	runs   map[uuid.UUID]context.CancelCauseFunc
	closed bool

	now func() time.Time
}

// NewExecutor creates an Executor. A nil sink discards lifecycle events.
func NewExecutor(registry *Registry, sink events.EventSink, config ExecutorConfig, logger *slog.Logger) *Executor {
	if sink == nil {
		sink = events.NopSink{}
	}
	if config.DefaultTimeout <= 0 {
		def := DefaultExecutorConfig().DefaultTimeout
		logger.Warn("invalid default timeout specified, using default",
			"specified_timeout", config.DefaultTimeout,
			"default_timeout", def)
		config.DefaultTimeout = def
	}

	var slots *semaphore.Weighted
	if config.MaxConcurrent > 0 {
		slots = semaphore.NewWeighted(int64(config.MaxConcurrent))
	}

	ctx, cancel := context.WithCancelCause(context.Background())

	return &Executor{
		registry: registry,
		sink:     sink,
		config:   config,
		logger:   logger.With("component", "executor"),
		slots:    slots,
		ctx:      ctx,
		cancel:   cancel,
		runs:     make(map[uuid.UUID]context.CancelCauseFunc),
		now:      time.Now,
	}
}

// TimeoutFor returns the time budget applied to tasks of kind.
func (e *Executor) TimeoutFor(kind Kind) time.Duration {
	if d, ok := e.config.KindTimeouts[kind]; ok && d > 0 {
		return d
	}
	return e.config.DefaultTimeout
}

// Run starts the task in the background and returns immediately.
// After shutdown the task is still driven to a terminal state, but
// synchronously and with an already canceled context.
func (e *Executor) Run(taskID uuid.UUID, handler Handler, params json.RawMessage) {
	runCtx, cancel := context.WithCancelCause(e.ctx)

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		cancel(errShutdown)
		e.execute(runCtx, taskID, handler, params)
		return
	}
	e.runs[taskID] = cancel
	e.wg.Add(1)
	e.mu.Unlock()

	go func() {
		defer e.wg.Done()
		defer e.forget(taskID, cancel)
		e.execute(runCtx, taskID, handler, params)
	}()
}

// Cancel asks the run owning taskID to stop. The executor records the
// task as failed with ErrorKindCanceled. It reports false when no run
// owns the task.
func (e *Executor) Cancel(taskID uuid.UUID) bool {
	e.mu.Lock()
	cancel, ok := e.runs[taskID]
	e.mu.Unlock()

	if ok {
		cancel(errCancelRequested)
	}
	return ok
}

// Shutdown cancels every run and waits for their commits, or until ctx
// expires.
func (e *Executor) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()

	e.cancel(errShutdown)

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		e.logger.Info("executor stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for running tasks: %w", ctx.Err())
	}
}

func (e *Executor) forget(taskID uuid.UUID, cancel context.CancelCauseFunc) {
	e.mu.Lock()
	delete(e.runs, taskID)
	e.mu.Unlock()
	cancel(nil)
}

type outcome struct {
	value any
	err   error
}

// execute drives one task from pending to a terminal state.
func (e *Executor) execute(runCtx context.Context, taskID uuid.UUID, handler Handler, params json.RawMessage) {
	logger := e.logger.With("task_id", taskID)

	if e.slots != nil {
		if err := e.slots.Acquire(runCtx, 1); err != nil {
			// Canceled while waiting for a slot: claim, then fail, so the
			// task still walks the pending -> running -> failed path.
			if t, ok := e.claim(taskID, logger); ok {
				e.fail(t, cancellationFailure(runCtx), logger)
			}
			return
		}
		defer e.slots.Release(1)
	}

	t, ok := e.claim(taskID, logger)
	if !ok {
		return
	}
	logger = logger.With("kind", t.Kind)

	if runCtx.Err() != nil {
		e.fail(t, cancellationFailure(runCtx), logger)
		return
	}

	timeout := e.TimeoutFor(t.Kind)
	execCtx, cancelBudget := context.WithTimeout(WithTaskID(runCtx, taskID), timeout)
	defer cancelBudget()

	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: &panicError{value: r}}
			}
		}()
		value, err := handler.Execute(execCtx, params, e.progressSink(taskID, logger))
		done <- outcome{value: value, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			e.fail(t, failureFor(execCtx, out.err, timeout), logger)
			return
		}
		result, err := json.Marshal(out.value)
		if err != nil {
			e.fail(t, Failure{
				Kind:    ErrorKindHandlerFailure,
				Message: "handler result could not be encoded",
				Cause:   err.Error(),
			}, logger)
			return
		}
		e.complete(t, result, logger)

	case <-execCtx.Done():
		// The handler may keep running until it observes the context;
		// the tracked state does not wait for it.
		e.fail(t, failureFor(execCtx, execCtx.Err(), timeout), logger)
	}
}

// claim moves the task from pending to running.
func (e *Executor) claim(taskID uuid.UUID, logger *slog.Logger) (Task, bool) {
	t, err := e.registry.CompareAndUpdate(taskID, StatusPending, func(t *Task) error {
		started := e.stamp(t.SubmittedAt)
		t.Status = StatusRunning
		t.StartedAt = &started
		return nil
	})
	if err != nil {
		logger.Warn("task could not be claimed, skipping run", "error", err)
		return Task{}, false
	}

	logger.Info("task started", "kind", t.Kind)
	e.emit(events.TypeStarted, t)
	return t, true
}

func (e *Executor) complete(t Task, result json.RawMessage, logger *slog.Logger) {
	committed, err := e.commit(t.ID, func(next *Task) error {
		finished := e.stamp(*next.StartedAt)
		next.Status = StatusCompleted
		next.Result = result
		next.CompletedAt = &finished
		return nil
	})
	if err != nil {
		logger.Error("failed to record task completion", "error", err)
		return
	}

	logger.Info("task completed", "duration", committed.CompletedAt.Sub(*committed.StartedAt))
	e.emit(events.TypeCompleted, committed)
}

func (e *Executor) fail(t Task, failure Failure, logger *slog.Logger) {
	failure.Message = redact.Secrets(failure.Message)
	failure.Cause = redact.Secrets(failure.Cause)

	committed, err := e.commit(t.ID, func(next *Task) error {
		finished := e.stamp(*next.StartedAt)
		next.Status = StatusFailed
		next.Error = &failure
		next.CompletedAt = &finished
		return nil
	})
	if err != nil {
		logger.Error("failed to record task failure", "error", err, "failure_kind", failure.Kind)
		return
	}

	logger.Warn("task failed",
		"failure_kind", failure.Kind,
		"message", failure.Message,
		"cause", failure.Cause)
	e.emit(events.TypeFailed, committed)
}

// commit applies a terminal mutation to a running task, retrying when a
// compare-and-update race is lost.
func (e *Executor) commit(taskID uuid.UUID, mutate func(*Task) error) (Task, error) {
	var err error
	for attempt := 0; attempt < maxCommitAttempts; attempt++ {
		var t Task
		t, err = e.registry.CompareAndUpdate(taskID, StatusRunning, mutate)
		if err == nil {
			return t, nil
		}
		if !errors.Is(err, ErrConcurrencyConflict) {
			return Task{}, err
		}
	}
	return Task{}, err
}

// progressSink returns the ProgressSink handed to the handler of taskID.
func (e *Executor) progressSink(taskID uuid.UUID, logger *slog.Logger) ProgressSink {
	return func(completed, total int) {
		_, err := e.registry.CompareAndUpdate(taskID, StatusRunning, func(t *Task) error {
			applyProgress(t, completed, total)
			return nil
		})
		if err != nil {
			// Late reports after a timeout land on a terminal task.
			logger.Debug("progress update dropped",
				"completed", completed,
				"total", total,
				"error", err)
		}
	}
}

// applyProgress merges a (completed, total) report into t. Completed never
// decreases and never exceeds total; total never drops below completed.
func applyProgress(t *Task, completed, total int) {
	if t.Progress == nil {
		t.Progress = &Progress{}
	}
	p := t.Progress

	if total > 0 && total >= p.Completed {
		p.Total = total
	}
	if completed > p.Total {
		completed = p.Total
	}
	if completed > p.Completed {
		p.Completed = completed
	}
}

// stamp returns the current UTC time, never earlier than floor.
func (e *Executor) stamp(floor time.Time) time.Time {
	now := e.now().UTC()
	if now.Before(floor) {
		return floor
	}
	return now
}

func (e *Executor) emit(eventType events.Type, t Task) {
	at := t.SubmittedAt
	switch {
	case t.CompletedAt != nil:
		at = *t.CompletedAt
	case t.StartedAt != nil:
		at = *t.StartedAt
	}
	if err := e.sink.EmitEvent(context.Background(), eventFor(eventType, t, at)); err != nil {
		e.logger.Warn("failed to emit lifecycle event",
			"task_id", t.ID,
			"event_type", eventType,
			"error", err)
	}
}

// panicError carries a recovered handler panic.
type panicError struct {
	value any
}

func (p *panicError) Error() string {
	return fmt.Sprintf("handler panicked: %v", p.value)
}

// failureFor classifies a handler error. A done context takes precedence
// so that handlers returning ctx.Err() are recorded as timed out or canceled.
func failureFor(ctx context.Context, err error, timeout time.Duration) Failure {
	if ctx.Err() != nil {
		if errors.Is(context.Cause(ctx), context.DeadlineExceeded) {
			return Failure{
				Kind:    ErrorKindTimeout,
				Message: fmt.Sprintf("time budget of %s exceeded", timeout),
			}
		}
		return cancellationFailure(ctx)
	}

	var p *panicError
	if errors.As(err, &p) {
		return Failure{
			Kind:    ErrorKindHandlerFailure,
			Message: "handler panicked",
			Cause:   fmt.Sprint(p.value),
		}
	}

	failure := Failure{Kind: ErrorKindHandlerFailure, Message: err.Error()}
	if cause := errors.Unwrap(err); cause != nil {
		failure.Cause = cause.Error()
	}
	return failure
}

func cancellationFailure(ctx context.Context) Failure {
	cause := context.Cause(ctx)
	if cause == nil {
		cause = context.Canceled
	}
	return Failure{Kind: ErrorKindCanceled, Message: cause.Error()}
}
