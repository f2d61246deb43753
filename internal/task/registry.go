package task

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Filter narrows a List query. Zero-valued fields match everything and
// set fields are combined conjunctively.
type Filter struct {
	Kind   Kind
	Status Status
	// Newest reverses the default oldest-first ordering.
	Newest bool
}

func (f Filter) matches(t *Task) bool {
	if f.Kind != "" && t.Kind != f.Kind {
		return false
	}
	if f.Status != "" && t.Status != f.Status {
		return false
	}
	return true
}

// Registry is the concurrency-safe, in-memory store of every task record.
// CompareAndUpdate is the only mutation path once a task exists.
type Registry struct {
	mu    sync.RWMutex
	tasks map[uuid.UUID]*Task
	order []uuid.UUID

	now   func() time.Time
	newID func() uuid.UUID
}

// NewRegistry creates an empty task registry.
func NewRegistry() *Registry {
	return &Registry{
		tasks: make(map[uuid.UUID]*Task),
		now:   time.Now,
		newID: uuid.New,
	}
}

// Create stores a new pending task and returns a snapshot of it.
// Parameters are copied; the caller may reuse its buffer.
func (r *Registry) Create(kind Kind, params json.RawMessage, plan Plan) Task {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := r.newID()
	for !r.available(id) {
		id = r.newID()
	}

	t := &Task{
		ID:          id,
		Kind:        kind,
		Parameters:  cloneRaw(params),
		Status:      StatusPending,
		SubmittedAt: r.now().UTC(),
	}
	if plan.TotalSteps > 0 {
		t.Progress = &Progress{Total: plan.TotalSteps}
	}

	r.tasks[id] = t
	r.order = append(r.order, id)
	return t.clone()
}

// available reports whether id can be issued. Callers hold r.mu.
//
// Only live ids are checked: an evicted id leaves no trace, and random
// v4 ids make reissuing one practically impossible.
func (r *Registry) available(id uuid.UUID) bool {
	if id == uuid.Nil {
		return false
	}
	_, live := r.tasks[id]
	return !live
}

// Get returns a snapshot of the task with the given id.
func (r *Registry) Get(id uuid.UUID) (Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.tasks[id]
	if !ok {
		return Task{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return t.clone(), nil
}

// List returns snapshots of the tasks matching f in insertion order.
// A limit of zero or less returns every match.
func (r *Registry) List(f Filter, limit int) []Task {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Task, 0)
	visit := func(id uuid.UUID) bool {
		t := r.tasks[id]
		if f.matches(t) {
			out = append(out, t.clone())
		}
		return limit <= 0 || len(out) < limit
	}

	if f.Newest {
		for i := len(r.order) - 1; i >= 0; i-- {
			if !visit(r.order[i]) {
				break
			}
		}
	} else {
		for _, id := range r.order {
			if !visit(id) {
				break
			}
		}
	}
	return out
}

// CompareAndUpdate applies mutate to a private copy of the task and commits
// it only if the task is currently in the expected status and the result
// keeps every task invariant.
func (r *Registry) CompareAndUpdate(id uuid.UUID, expected Status, mutate func(*Task) error) (Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.tasks[id]
	if !ok {
		return Task{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if current.Status.Terminal() {
		return current.clone(), fmt.Errorf("%w: %s is %s", ErrAlreadyTerminal, id, current.Status)
	}
	if current.Status != expected {
		return current.clone(), fmt.Errorf("%w: %s is %s, expected %s",
			ErrConcurrencyConflict, id, current.Status, expected)
	}

	next := current.clone()
	if err := mutate(&next); err != nil {
		return current.clone(), err
	}
	if err := checkUpdate(current, &next); err != nil {
		return current.clone(), err
	}

	r.tasks[id] = &next
	return next.clone(), nil
}

// checkUpdate verifies that next is a legal successor of prev.
func checkUpdate(prev, next *Task) error {
	invalid := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", ErrInvalidTransition, fmt.Sprintf(format, args...))
	}

	if next.ID != prev.ID || next.Kind != prev.Kind || !next.SubmittedAt.Equal(prev.SubmittedAt) {
		return invalid("identity fields are immutable")
	}
	if !canTransition(prev.Status, next.Status) {
		return invalid("%s -> %s", prev.Status, next.Status)
	}

	if prev.StartedAt != nil && (next.StartedAt == nil || !next.StartedAt.Equal(*prev.StartedAt)) {
		return invalid("started_at already set")
	}
	if next.Status.rank() >= StatusRunning.rank() && next.StartedAt == nil {
		return invalid("%s task requires started_at", next.Status)
	}
	if next.Status == StatusPending && next.StartedAt != nil {
		return invalid("pending task cannot have started_at")
	}
	if next.StartedAt != nil && next.StartedAt.Before(next.SubmittedAt) {
		return invalid("started_at precedes submitted_at")
	}

	if next.Status.Terminal() {
		if next.CompletedAt == nil {
			return invalid("%s task requires completed_at", next.Status)
		}
		if next.CompletedAt.Before(*next.StartedAt) {
			return invalid("completed_at precedes started_at")
		}
	} else if next.CompletedAt != nil {
		return invalid("%s task cannot have completed_at", next.Status)
	}

	switch next.Status {
	case StatusCompleted:
		if next.Result == nil || next.Error != nil {
			return invalid("completed task requires a result and no error")
		}
	case StatusFailed:
		if next.Error == nil || next.Result != nil {
			return invalid("failed task requires an error and no result")
		}
	default:
		if next.Result != nil || next.Error != nil {
			return invalid("%s task cannot carry a result or error", next.Status)
		}
	}

	if prev.Progress != nil && next.Progress == nil {
		return invalid("progress cannot be cleared")
	}
	if p := next.Progress; p != nil {
		if p.Completed < 0 || p.Total < 0 || p.Completed > p.Total {
			return invalid("progress %d/%d out of bounds", p.Completed, p.Total)
		}
		if prev.Progress != nil && p.Completed < prev.Progress.Completed {
			return invalid("progress cannot decrease from %d to %d", prev.Progress.Completed, p.Completed)
		}
	}
	return nil
}

// Evict removes terminal tasks that completed before the cutoff and
// returns how many were removed. Non-terminal tasks are never evicted.
func (r *Registry) Evict(before time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	kept := r.order[:0]
	removed := 0
	for _, id := range r.order {
		t := r.tasks[id]
		if t.Status.Terminal() && t.CompletedAt != nil && t.CompletedAt.Before(before) {
			delete(r.tasks, id)
			removed++
			continue
		}
		kept = append(kept, id)
	}
	// Zero the tail so evicted ids are not pinned by the backing array.
	for i := len(kept); i < len(r.order); i++ {
		r.order[i] = uuid.Nil
	}
	r.order = kept
	return removed
}

// Counts returns the number of tasks in each status.
func (r *Registry) Counts() map[Status]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	counts := map[Status]int{
		StatusPending:   0,
		StatusRunning:   0,
		StatusCompleted: 0,
		StatusFailed:    0,
	}
	for _, t := range r.tasks {
		counts[t.Status]++
	}
	return counts
}

// Len returns the number of tasks held.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tasks)
}
