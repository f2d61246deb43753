package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/phrazzld/secops-orchestrator/internal/api"
	apiMiddleware "github.com/phrazzld/secops-orchestrator/internal/api/middleware"
	"github.com/phrazzld/secops-orchestrator/internal/task"
)

// setupRouter creates and configures the application router with all routes and middleware.
func (app *application) setupRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(apiMiddleware.NewTraceMiddleware(app.logger))

	taskHandler := api.NewTaskHandler(app.tasks, app.logger)
	findingsHandler := api.NewFindingsHandler(app.tasks, app.logger)

	r.Route("/api", func(r chi.Router) {
		// Generic task endpoints
		r.Post("/tasks", taskHandler.SubmitTask)
		r.Get("/tasks", taskHandler.ListTasks)
		r.Get("/tasks/{id}", taskHandler.GetTask)
		r.Get("/tasks/{id}/result", taskHandler.GetTaskResult)
		r.Post("/tasks/{id}/cancel", taskHandler.CancelTask)
		r.Get("/kinds", taskHandler.ListKinds)

		// Per-kind submission shortcuts; the body is the task's parameters
		r.Post("/crawls", taskHandler.SubmitKind(task.KindCrawl))
		r.Post("/easm/discover", taskHandler.SubmitKind(task.KindEASMDiscovery))
		r.Post("/bas/simulations", taskHandler.SubmitKind(task.KindBASSimulation))
		r.Post("/reports", taskHandler.SubmitKind(task.KindReportGeneration))
		r.Post("/ai-security/adversarial-tests", taskHandler.SubmitKind(task.KindAdversarialTest))

		// Views over the results of completed tasks
		r.Get("/intelligence/vulnerabilities", findingsHandler.ListVulnerabilities)
		r.Get("/easm/assets", findingsHandler.ListAssets)
		r.Get("/ai-security/trustworthy-ai/metrics/{model_id}", findingsHandler.GetModelMetrics)
	})

	// Report downloads, linked from report_generation results
	r.Get("/reports/download/{id}/{filename}", taskHandler.DownloadReport)

	r.Get("/health", taskHandler.Health)

	return r
}
