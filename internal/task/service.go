package task

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/secops-orchestrator/internal/events"
)

// ServiceConfig holds configuration for the task service
type ServiceConfig struct {
	Executor ExecutorConfig

	// Retention is how long terminal tasks are kept. Zero keeps them for
	// the lifetime of the process.
	Retention time.Duration

	// JanitorInterval defines how often expired tasks are evicted.
	// If zero, defaults to 5 minutes
	JanitorInterval time.Duration
}

// DefaultServiceConfig returns a ServiceConfig with reasonable defaults
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		Executor:        DefaultExecutorConfig(),
		JanitorInterval: 5 * time.Minute,
	}
}

// Service is the boundary the API layer talks to. It wires the registry,
// dispatcher, executor and reporter together.
type Service struct {
	*Reporter

	handlers   *HandlerRegistry
	registry   *Registry
	dispatcher *Dispatcher
	executor   *Executor
	config     ServiceConfig
	logger     *slog.Logger

	stopJanitor context.CancelFunc
	janitorWG   sync.WaitGroup
	startOnce   sync.Once
}

// NewService creates a Service over the given handlers. A nil sink
// discards lifecycle events.
func NewService(handlers *HandlerRegistry, sink events.EventSink, config ServiceConfig, logger *slog.Logger) *Service {
	if config.JanitorInterval <= 0 {
		config.JanitorInterval = 5 * time.Minute
	}

	registry := NewRegistry()
	executor := NewExecutor(registry, sink, config.Executor, logger)

	return &Service{
		Reporter:   NewReporter(registry),
		handlers:   handlers,
		registry:   registry,
		dispatcher: NewDispatcher(handlers, registry, executor, sink, logger),
		executor:   executor,
		config:     config,
		logger:     logger.With("component", "task_service"),
	}
}

// Start begins background maintenance. It is a no-op unless a retention
// window is configured.
func (s *Service) Start() {
	s.startOnce.Do(func() {
		if s.config.Retention <= 0 {
			return
		}
		ctx, cancel := context.WithCancel(context.Background())
		s.stopJanitor = cancel
		s.janitorWG.Add(1)
		go s.janitor(ctx)
	})
}

// Submit validates and creates a task, then runs it in the background.
func (s *Service) Submit(ctx context.Context, kind Kind, params json.RawMessage) (Task, error) {
	return s.dispatcher.Submit(ctx, kind, params)
}

// Cancel asks a pending or running task to stop. The task is recorded as
// failed with ErrorKindCanceled by its executor shortly after.
func (s *Service) Cancel(id uuid.UUID) (Task, error) {
	t, err := s.registry.Get(id)
	if err != nil {
		return Task{}, err
	}
	if t.Status.Terminal() {
		return t, fmt.Errorf("%w: task %s is %s", ErrAlreadyTerminal, id, t.Status)
	}
	if !s.executor.Cancel(id) {
		// The run may have committed between the lookup and the cancel.
		if latest, err := s.registry.Get(id); err == nil && latest.Status.Terminal() {
			return latest, fmt.Errorf("%w: task %s is %s", ErrAlreadyTerminal, id, latest.Status)
		}
		return t, fmt.Errorf("%w: task %s has no active run", ErrConflict, id)
	}

	s.logger.Info("task cancellation requested", "task_id", id, "status", t.Status)
	return t, nil
}

// Kinds lists the registered task kinds.
func (s *Service) Kinds() []Kind {
	return s.handlers.Kinds()
}

// Stats returns the number of tasks per status.
func (s *Service) Stats() map[Status]int {
	return s.registry.Counts()
}

// Shutdown rejects new submissions, stops maintenance and cancels running
// tasks, waiting until their outcome is recorded or ctx expires.
func (s *Service) Shutdown(ctx context.Context) error {
	s.dispatcher.Close()
	if s.stopJanitor != nil {
		s.stopJanitor()
		s.janitorWG.Wait()
	}
	return s.executor.Shutdown(ctx)
}
