package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/phrazzld/secops-orchestrator/internal/api/shared"
	"github.com/phrazzld/secops-orchestrator/internal/platform/logger"
	"github.com/phrazzld/secops-orchestrator/internal/task"
	"github.com/phrazzld/secops-orchestrator/internal/workflow"
)

// TaskService is the subset of task.Service the HTTP layer needs.
type TaskService interface {
	Submit(ctx context.Context, kind task.Kind, params json.RawMessage) (task.Task, error)
	GetStatus(id uuid.UUID) (task.Task, error)
	List(f task.Filter, limit int) []task.Task
	GetResult(id uuid.UUID) (json.RawMessage, error)
	Cancel(id uuid.UUID) (task.Task, error)
	Kinds() []task.Kind
	Stats() map[task.Status]int
}

// TaskHandler handles task-related HTTP requests
type TaskHandler struct {
	service TaskService
	logger  *slog.Logger
}

// NewTaskHandler creates a new TaskHandler
func NewTaskHandler(service TaskService, logger *slog.Logger) *TaskHandler {
	if service == nil {
		// ALLOW-PANIC: Constructor enforcing required dependency
		panic("service cannot be nil for TaskHandler")
	}
	if logger == nil {
		// ALLOW-PANIC: Constructor enforcing required dependency
		panic("logger cannot be nil for TaskHandler")
	}

	return &TaskHandler{
		service: service,
		logger:  logger.With(slog.String("component", "task_handler")),
	}
}

// SubmitTask handles POST /tasks requests with a {kind, parameters} body.
func (h *TaskHandler) SubmitTask(w http.ResponseWriter, r *http.Request) {
	var req SubmitTaskRequest
	if err := shared.DecodeJSON(w, r, &req); err != nil {
		HandleAPIError(w, r, wrapDecodeError(err), "")
		return
	}
	if err := shared.ValidateRequest(&req); err != nil {
		HandleAPIError(w, r, fmt.Errorf("%w: kind must be a name of 1 to 64 characters", ErrInvalidRequest), "")
		return
	}

	h.submit(w, r, task.Kind(req.Kind), req.Parameters)
}

// SubmitKind returns a handler that submits the request body as the
// parameters of a task of the given kind.
func (h *TaskHandler) SubmitKind(kind task.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var params json.RawMessage
		if err := shared.DecodeJSON(w, r, &params); err != nil {
			HandleAPIError(w, r, wrapDecodeError(err), "")
			return
		}
		h.submit(w, r, kind, params)
	}
}

func (h *TaskHandler) submit(w http.ResponseWriter, r *http.Request, kind task.Kind, params json.RawMessage) {
	log := logger.FromContextOrDefault(r.Context())

	// The task outlives the request, so it must not inherit its cancellation.
	t, err := h.service.Submit(context.WithoutCancel(r.Context()), kind, params)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to submit task")
		return
	}

	log.Info("task submitted",
		slog.String("task_id", t.ID.String()),
		slog.String("kind", string(t.Kind)))

	statusURL := "/api/tasks/" + t.ID.String()
	w.Header().Set("Location", statusURL)
	shared.RespondWithJSON(w, r, http.StatusAccepted, SubmitTaskResponse{
		Message:     fmt.Sprintf("%s task submitted.", humanKind(t.Kind)),
		TaskID:      t.ID.String(),
		Kind:        string(t.Kind),
		Status:      string(t.Status),
		StatusURL:   statusURL,
		SubmittedAt: t.SubmittedAt,
	})
}

// ListTasks handles GET /tasks requests
func (h *TaskHandler) ListTasks(w http.ResponseWriter, r *http.Request) {
	filter, limit, err := parseListQuery(r)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	tasks := h.service.List(filter, limit)
	resp := ListTasksResponse{Tasks: make([]TaskResponse, 0, len(tasks)), Count: len(tasks)}
	for _, t := range tasks {
		resp.Tasks = append(resp.Tasks, taskToResponse(t))
	}
	shared.RespondWithJSON(w, r, http.StatusOK, resp)
}

// GetTask handles GET /tasks/{id} requests
func (h *TaskHandler) GetTask(w http.ResponseWriter, r *http.Request) {
	id, err := getPathUUID(r, "id")
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	t, err := h.service.GetStatus(id)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to get task")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, taskToResponse(t))
}

// GetTaskResult handles GET /tasks/{id}/result requests. Tasks that have
// not completed yield 409 Conflict.
func (h *TaskHandler) GetTaskResult(w http.ResponseWriter, r *http.Request) {
	id, err := getPathUUID(r, "id")
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	result, err := h.service.GetResult(id)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to get task result")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, result)
}

// CancelTask handles POST /tasks/{id}/cancel requests. Cancellation is
// asynchronous: the task reaches failed shortly after the 202.
func (h *TaskHandler) CancelTask(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context())

	id, err := getPathUUID(r, "id")
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	t, err := h.service.Cancel(id)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to cancel task")
		return
	}

	log.Info("task cancellation accepted", slog.String("task_id", id.String()))
	shared.RespondWithJSON(w, r, http.StatusAccepted, taskToResponse(t))
}

// ListKinds handles GET /kinds requests
func (h *TaskHandler) ListKinds(w http.ResponseWriter, r *http.Request) {
	kinds := h.service.Kinds()
	resp := KindsResponse{Kinds: make([]string, len(kinds))}
	for i, k := range kinds {
		resp.Kinds[i] = string(k)
	}
	shared.RespondWithJSON(w, r, http.StatusOK, resp)
}

// DownloadReport handles GET /reports/download/{id}/{filename}, serving
// the document of a completed report_generation task: the Markdown content,
// or the whole result for the json format.
func (h *TaskHandler) DownloadReport(w http.ResponseWriter, r *http.Request) {
	id, err := getPathUUID(r, "id")
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	t, err := h.service.GetStatus(id)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to get report")
		return
	}
	if t.Kind != task.KindReportGeneration {
		HandleAPIError(w, r, fmt.Errorf("%w: task %s is not a report", task.ErrNotFound, id), "")
		return
	}

	raw, err := h.service.GetResult(id)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to get report")
		return
	}

	var report workflow.ReportResult
	if err := json.Unmarshal(raw, &report); err != nil {
		HandleAPIError(w, r, fmt.Errorf("decoding report result: %w", err), "Failed to get report")
		return
	}

	filename := chi.URLParam(r, "filename")
	if filename != workflow.ReportFilename(report.OutputFormat) {
		HandleAPIError(w, r, fmt.Errorf("%w: no file %q for task %s", task.ErrNotFound, filename, id), "")
		return
	}

	body, contentType := []byte(report.Content), "text/markdown; charset=utf-8"
	if report.OutputFormat == workflow.FormatJSON {
		body, contentType = raw, "application/json"
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(body); err != nil {
		h.logger.Error("failed to write report body", "task_id", id, "error", err)
	}
}

// Health handles GET /health with task counts per status.
func (h *TaskHandler) Health(w http.ResponseWriter, r *http.Request) {
	counts := h.service.Stats()
	resp := HealthResponse{Status: "ok", Tasks: make(map[string]int, len(counts))}
	for status, n := range counts {
		resp.Tasks[string(status)] = n
	}
	shared.RespondWithJSON(w, r, http.StatusOK, resp)
}

// wrapDecodeError classifies body decoding failures as client errors.
func wrapDecodeError(err error) error {
	if errors.Is(err, shared.ErrEmptyBody) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
}

// humanKind turns "easm_discovery" into "Easm discovery".
func humanKind(k task.Kind) string {
	s := strings.ReplaceAll(string(k), "_", " ")
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
