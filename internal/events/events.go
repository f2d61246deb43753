package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Type names the lifecycle transition an event describes.
type Type string

// Lifecycle event types
const (
	TypeSubmitted Type = "submitted"
	TypeStarted   Type = "started"
	TypeCompleted Type = "completed"
	TypeFailed    Type = "failed"
)

// LifecycleEvent records one transition of one task. It mirrors the task's
// fields as plain strings so that this package does not depend on the task
// package.
type LifecycleEvent struct {
	// ID is a unique identifier for this event
	ID uuid.UUID `json:"id"`

	// Type is the transition that happened
	Type Type `json:"type"`

	// TaskID identifies the task that transitioned
	TaskID uuid.UUID `json:"task_id"`

	// Kind is the task's operation kind
	Kind string `json:"kind"`

	// Status is the task status after the transition
	Status string `json:"status"`

	// ErrorKind and ErrorMessage are set for failed events
	ErrorKind    string `json:"error_kind,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`

	// OccurredAt is the timestamp of the transition
	OccurredAt time.Time `json:"occurred_at"`
}

// NewLifecycleEvent creates a LifecycleEvent with a fresh id.
func NewLifecycleEvent(eventType Type, taskID uuid.UUID, kind, status string, at time.Time) *LifecycleEvent {
	return &LifecycleEvent{
		ID:         uuid.New(),
		Type:       eventType,
		TaskID:     taskID,
		Kind:       kind,
		Status:     status,
		OccurredAt: at,
	}
}

// EventHandler defines an interface for components that can handle events.
type EventHandler interface {
	// HandleEvent processes the given event within the provided context.
	// Returns an error if the event cannot be handled successfully.
	HandleEvent(ctx context.Context, event *LifecycleEvent) error
}

// EventSink receives lifecycle events from the task core.
type EventSink interface {
	// EmitEvent publishes the given event.
	// Returns an error if the event cannot be emitted.
	EmitEvent(ctx context.Context, event *LifecycleEvent) error
}

// NopSink discards every event.
type NopSink struct{}

// EmitEvent implements EventSink.
func (NopSink) EmitEvent(context.Context, *LifecycleEvent) error { return nil }
