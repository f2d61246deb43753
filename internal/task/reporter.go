package task

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Reporter answers read-only queries over the Registry.
type Reporter struct {
	registry *Registry
}

// NewReporter creates a Reporter over registry.
func NewReporter(registry *Registry) *Reporter {
	return &Reporter{registry: registry}
}

// GetStatus returns a snapshot of the task, or ErrNotFound.
func (r *Reporter) GetStatus(id uuid.UUID) (Task, error) {
	return r.registry.Get(id)
}

// List returns snapshots matching f, at most limit of them when limit > 0.
func (r *Reporter) List(f Filter, limit int) []Task {
	return r.registry.List(f, limit)
}

// GetResult returns the result of a completed task. Tasks in any other
// status yield ErrConflict; a partial result is never returned.
func (r *Reporter) GetResult(id uuid.UUID) (json.RawMessage, error) {
	t, err := r.registry.Get(id)
	if err != nil {
		return nil, err
	}
	if t.Status != StatusCompleted {
		return nil, fmt.Errorf("%w: task %s is %s", ErrConflict, id, t.Status)
	}
	return t.Result, nil
}
