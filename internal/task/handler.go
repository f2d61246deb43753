package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
)

type taskIDKey struct{}

// WithTaskID returns a copy of ctx carrying the id of the task being executed.
// The executor attaches it to every handler context.
func WithTaskID(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, taskIDKey{}, id)
}

// TaskIDFromContext returns the id of the task whose handler received ctx.
func TaskIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(taskIDKey{}).(uuid.UUID)
	return id, ok
}

// ProgressSink receives (completed, total) step counts from a running handler.
// Calls are applied in order; completed never moves backwards and is clamped
// to total.
type ProgressSink func(completed, total int)

// Handler performs the work for one task kind.
//
// Execute must treat ctx as a cooperative cancellation signal and check it
// at safe checkpoints. The returned value is recorded as the task result
// after JSON encoding; a non-nil error fails the task.
type Handler interface {
	Execute(ctx context.Context, params json.RawMessage, progress ProgressSink) (any, error)
}

// HandlerFunc adapts an ordinary function to the Handler interface.
type HandlerFunc func(ctx context.Context, params json.RawMessage, progress ProgressSink) (any, error)

// Execute calls f.
func (f HandlerFunc) Execute(ctx context.Context, params json.RawMessage, progress ProgressSink) (any, error) {
	return f(ctx, params, progress)
}

// Validator is implemented by handlers that can check a submission's
// structure before a task is created. Errors are reported to the caller
// as ErrInvalidParameters.
type Validator interface {
	Validate(params json.RawMessage) (Plan, error)
}

// HandlerRegistry maps kinds to handlers.
type HandlerRegistry struct {
	mu       sync.RWMutex
	handlers map[Kind]Handler
}

// NewHandlerRegistry creates an empty handler registry.
func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{handlers: make(map[Kind]Handler)}
}

// Register associates kind with h.
func (r *HandlerRegistry) Register(kind Kind, h Handler) error {
	if strings.TrimSpace(string(kind)) == "" {
		return errors.New("task kind cannot be empty")
	}
	if h == nil {
		return fmt.Errorf("handler for %q cannot be nil", kind)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[kind]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateKind, kind)
	}
	r.handlers[kind] = h
	return nil
}

// MustRegister is like Register but panics on error. Intended for wiring code.
func (r *HandlerRegistry) MustRegister(kind Kind, h Handler) {
	if err := r.Register(kind, h); err != nil {
		panic(err)
	}
}

// Resolve returns the handler registered for kind.
func (r *HandlerRegistry) Resolve(kind Kind) (Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.handlers[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	return h, nil
}

// Kinds returns the registered kinds in lexical order.
func (r *HandlerRegistry) Kinds() []Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]Kind, 0, len(r.handlers))
	for k := range r.handlers {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}
