package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/phrazzld/secops-orchestrator/internal/config"
	"github.com/phrazzld/secops-orchestrator/internal/events"
	"github.com/phrazzld/secops-orchestrator/internal/generation"
	"github.com/phrazzld/secops-orchestrator/internal/platform/gemini"
	"github.com/phrazzld/secops-orchestrator/internal/task"
	"github.com/phrazzld/secops-orchestrator/internal/workflow"
)

// application holds all the shared application dependencies to simplify management
// and ensure proper cleanup on shutdown.
type application struct {
	config *config.Config
	logger *slog.Logger

	eventEmitter *events.InMemoryEventEmitter
	handlers     *task.HandlerRegistry
	narrator     generation.Narrator
	tasks        *task.Service
}

// newApplication creates a new application instance with all dependencies
// initialized and the task service started.
func newApplication(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*application, error) {
	app := &application{
		config: cfg,
		logger: logger,
	}

	// Lifecycle events are logged; further sinks register here
	app.eventEmitter = events.NewInMemoryEventEmitter(logger)
	app.eventEmitter.RegisterHandler(events.NewLogHandler(logger))

	var err error
	app.narrator, err = newNarrator(ctx, cfg.LLM, logger)
	if err != nil {
		return nil, err
	}

	app.handlers = task.NewHandlerRegistry()
	if err := workflow.RegisterAll(app.handlers, workflow.Config{
		StepDelay: cfg.Workflow.StepDelay,
		Narrator:  app.narrator,
		Logger:    logger,
	}); err != nil {
		return nil, fmt.Errorf("failed to register workflow handlers: %w", err)
	}

	svcConfig := serviceConfig(cfg.Tasks)
	for kind := range svcConfig.Executor.KindTimeouts {
		if _, err := app.handlers.Resolve(kind); err != nil {
			logger.Warn("timeout configured for unregistered kind", "kind", kind)
		}
	}

	app.tasks = task.NewService(app.handlers, app.eventEmitter, svcConfig, logger)
	app.tasks.Start()

	logger.Info("application initialized successfully", "kinds", app.handlers.Kinds())
	return app, nil
}

// newNarrator returns the Gemini narrator when an API key is configured and
// the template-only narrator otherwise.
func newNarrator(ctx context.Context, cfg config.LLMConfig, logger *slog.Logger) (generation.Narrator, error) {
	if !cfg.NarratorEnabled() {
		logger.Info("no LLM API key configured, report summaries are template-only")
		return generation.StaticNarrator{}, nil
	}

	n, err := gemini.NewNarrator(ctx, logger.With("component", "llm_narrator"), cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize LLM narrator: %w", err)
	}
	logger.Info("LLM narrator initialized successfully", "model", cfg.ModelName)
	return n, nil
}

// serviceConfig translates loaded configuration into task service settings.
func serviceConfig(cfg config.TasksConfig) task.ServiceConfig {
	kindTimeouts := make(map[task.Kind]time.Duration, len(cfg.KindTimeouts))
	for kind, d := range cfg.KindTimeouts {
		kindTimeouts[task.Kind(kind)] = d
	}

	return task.ServiceConfig{
		Executor: task.ExecutorConfig{
			DefaultTimeout: cfg.DefaultTimeout,
			KindTimeouts:   kindTimeouts,
			MaxConcurrent:  cfg.MaxConcurrent,
		},
		Retention:       cfg.Retention,
		JanitorInterval: cfg.JanitorInterval,
	}
}

// Run starts the application server, handling lifecycle and cleanup.
// It returns an error if the server fails to start or encounters problems.
func (app *application) Run(ctx context.Context) error {
	if err := app.startHTTPServer(ctx, app.setupRouter()); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// cleanup stops the task service, recording in-flight tasks as canceled.
func (app *application) cleanup(ctx context.Context) error {
	if err := app.tasks.Shutdown(ctx); err != nil {
		app.logger.Error("task service shutdown incomplete", "error", err)
		return fmt.Errorf("task service shutdown: %w", err)
	}
	app.logger.Info("application shutdown completed")
	return nil
}
