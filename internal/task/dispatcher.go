package task

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/secops-orchestrator/internal/events"
)

// Runner starts a task in the background. Run must not block on the
// handler's execution.
type Runner interface {
	Run(taskID uuid.UUID, handler Handler, params json.RawMessage)
}

// Dispatcher validates submissions, creates tasks and hands them to a Runner.
type Dispatcher struct {
	handlers *HandlerRegistry
	registry *Registry
	runner   Runner
	sink     events.EventSink
	logger   *slog.Logger
	closed   atomic.Bool
}

// NewDispatcher creates a Dispatcher. A nil sink discards lifecycle events.
func NewDispatcher(
	handlers *HandlerRegistry,
	registry *Registry,
	runner Runner,
	sink events.EventSink,
	logger *slog.Logger,
) *Dispatcher {
	if sink == nil {
		sink = events.NopSink{}
	}
	return &Dispatcher{
		handlers: handlers,
		registry: registry,
		runner:   runner,
		sink:     sink,
		logger:   logger.With("component", "dispatcher"),
	}
}

// Submit creates a pending task for kind and starts it in the background.
// Unknown kinds and malformed parameters are rejected before a task exists.
func (d *Dispatcher) Submit(ctx context.Context, kind Kind, params json.RawMessage) (Task, error) {
	if d.closed.Load() {
		return Task{}, ErrShuttingDown
	}

	handler, err := d.handlers.Resolve(kind)
	if err != nil {
		d.logger.DebugContext(ctx, "rejected submission", "kind", kind, "error", err)
		return Task{}, err
	}

	normalized, err := normalizeParameters(params)
	if err != nil {
		return Task{}, err
	}

	var plan Plan
	if v, ok := handler.(Validator); ok {
		plan, err = v.Validate(normalized)
		if err != nil {
			d.logger.DebugContext(ctx, "parameters failed validation", "kind", kind, "error", err)
			return Task{}, fmt.Errorf("%w: %v", ErrInvalidParameters, err)
		}
	}

	t := d.registry.Create(kind, normalized, plan)
	d.logger.InfoContext(ctx, "task submitted",
		"task_id", t.ID,
		"kind", t.Kind,
		"planned_steps", plan.TotalSteps)

	if err := d.sink.EmitEvent(ctx, eventFor(events.TypeSubmitted, t, t.SubmittedAt)); err != nil {
		d.logger.WarnContext(ctx, "failed to emit lifecycle event", "task_id", t.ID, "error", err)
	}

	d.runner.Run(t.ID, handler, t.Parameters)
	return t, nil
}

// Close makes every later Submit fail with ErrShuttingDown.
func (d *Dispatcher) Close() {
	d.closed.Store(true)
}

// normalizeParameters returns the compact form of params, which must be a
// JSON object. Empty input and JSON null become an empty object.
func normalizeParameters(params json.RawMessage) (json.RawMessage, error) {
	trimmed := bytes.TrimSpace(params)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return json.RawMessage("{}"), nil
	}
	if trimmed[0] != '{' {
		return nil, fmt.Errorf("%w: parameters must be a JSON object", ErrInvalidParameters)
	}

	var buf bytes.Buffer
	if err := json.Compact(&buf, trimmed); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidParameters, err)
	}
	return json.RawMessage(buf.Bytes()), nil
}

// eventFor builds the lifecycle event matching a task snapshot.
func eventFor(eventType events.Type, t Task, at time.Time) *events.LifecycleEvent {
	event := events.NewLifecycleEvent(eventType, t.ID, string(t.Kind), string(t.Status), at)
	if t.Error != nil {
		event.ErrorKind = string(t.Error.Kind)
		event.ErrorMessage = t.Error.Message
	}
	return event
}
