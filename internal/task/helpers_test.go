package task

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/secops-orchestrator/internal/events"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
}

// startTask moves a pending task to running.
func startTask(t *testing.T, r *Registry, id uuid.UUID) Task {
	t.Helper()
	task, err := r.CompareAndUpdate(id, StatusPending, func(tk *Task) error {
		started := tk.SubmittedAt.Add(time.Millisecond)
		tk.Status = StatusRunning
		tk.StartedAt = &started
		return nil
	})
	require.NoError(t, err)
	return task
}

// completeTask moves a running task to completed with the given result.
func completeTask(t *testing.T, r *Registry, id uuid.UUID, result string) Task {
	t.Helper()
	task, err := r.CompareAndUpdate(id, StatusRunning, func(tk *Task) error {
		finished := tk.StartedAt.Add(time.Millisecond)
		tk.Status = StatusCompleted
		tk.Result = json.RawMessage(result)
		tk.CompletedAt = &finished
		return nil
	})
	require.NoError(t, err)
	return task
}

// waitForStatus polls until the task reaches want or the deadline passes.
func waitForStatus(t *testing.T, s *Service, id uuid.UUID, want Status, within time.Duration) Task {
	t.Helper()
	var last Task
	require.Eventually(t, func() bool {
		current, err := s.GetStatus(id)
		if err != nil {
			return false
		}
		last = current
		return current.Status == want
	}, within, 5*time.Millisecond, "task %s never reached %s", id, want)
	return last
}

// recordingSink captures every lifecycle event it receives.
type recordingSink struct {
	mu     sync.Mutex
	events []*events.LifecycleEvent
	err    error
}

func (s *recordingSink) EmitEvent(_ context.Context, event *events.LifecycleEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return s.err
}

// typesFor returns the event types recorded for one task, in order.
func (s *recordingSink) typesFor(id uuid.UUID) []events.Type {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []events.Type
	for _, e := range s.events {
		if e.TaskID == id {
			out = append(out, e.Type)
		}
	}
	return out
}

// stepHandler reports one progress step per entry in steps, waiting for
// the release channel (if any) before each step.
type stepHandler struct {
	steps   int
	release chan struct{}
	result  any
	err     error
}

func (h *stepHandler) Execute(ctx context.Context, _ json.RawMessage, progress ProgressSink) (any, error) {
	for i := 1; i <= h.steps; i++ {
		if h.release != nil {
			select {
			case <-h.release:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		progress(i, h.steps)
	}
	if h.err != nil {
		return nil, h.err
	}
	return h.result, nil
}

// blockingHandler returns only once its context is done.
func blockingHandler() HandlerFunc {
	return func(ctx context.Context, _ json.RawMessage, _ ProgressSink) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
}

// stubbornHandler ignores its context and returns only when release closes.
func stubbornHandler(release <-chan struct{}) HandlerFunc {
	return func(_ context.Context, _ json.RawMessage, _ ProgressSink) (any, error) {
		<-release
		return "late", nil
	}
}

func newTestService(t *testing.T, config ServiceConfig, sink events.EventSink, handlers map[Kind]Handler) *Service {
	t.Helper()
	registry := NewHandlerRegistry()
	for kind, h := range handlers {
		require.NoError(t, registry.Register(kind, h))
	}
	s := NewService(registry, sink, config, testLogger())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = s.Shutdown(ctx)
	})
	return s
}
