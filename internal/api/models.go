package api

import (
	"encoding/json"
	"time"

	"github.com/phrazzld/secops-orchestrator/internal/task"
)

// SubmitTaskRequest defines the payload for the generic submission endpoint.
type SubmitTaskRequest struct {
	Kind       string          `json:"kind"       validate:"required,max=64"`
	Parameters json.RawMessage `json:"parameters"`
}

// SubmitTaskResponse is returned with 202 Accepted for every submission.
type SubmitTaskResponse struct {
	Message     string    `json:"message"`
	TaskID      string    `json:"task_id"`
	Kind        string    `json:"kind"`
	Status      string    `json:"status"`
	StatusURL   string    `json:"status_url"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// ProgressResponse reports completed steps out of the planned total.
type ProgressResponse struct {
	Completed int `json:"completed"`
	Total     int `json:"total"`
	// Percent is completed/total rounded down.
	Percent int `json:"percent"`
}

// TaskErrorResponse describes why a task failed.
type TaskErrorResponse struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Cause   string `json:"cause,omitempty"`
}

// TaskResponse represents the response data for a task
type TaskResponse struct {
	ID          string             `json:"id"`
	Kind        string             `json:"kind"`
	Status      string             `json:"status"`
	Parameters  json.RawMessage    `json:"parameters"`
	Progress    *ProgressResponse  `json:"progress,omitempty"`
	Result      json.RawMessage    `json:"result,omitempty"`
	Error       *TaskErrorResponse `json:"error,omitempty"`
	SubmittedAt time.Time          `json:"submitted_at"`
	StartedAt   *time.Time         `json:"started_at,omitempty"`
	CompletedAt *time.Time         `json:"completed_at,omitempty"`
}

// ListTasksResponse wraps a page of tasks.
type ListTasksResponse struct {
	Tasks []TaskResponse `json:"tasks"`
	Count int            `json:"count"`
}

// KindsResponse lists the kinds that can be submitted.
type KindsResponse struct {
	Kinds []string `json:"kinds"`
}

// HealthResponse is served by the health endpoint.
type HealthResponse struct {
	Status string         `json:"status"`
	Tasks  map[string]int `json:"tasks"`
}

// taskToResponse converts a task snapshot to its API representation.
func taskToResponse(t task.Task) TaskResponse {
	resp := TaskResponse{
		ID:          t.ID.String(),
		Kind:        string(t.Kind),
		Status:      string(t.Status),
		Parameters:  t.Parameters,
		Result:      t.Result,
		SubmittedAt: t.SubmittedAt,
		StartedAt:   t.StartedAt,
		CompletedAt: t.CompletedAt,
	}

	if t.Progress != nil {
		resp.Progress = &ProgressResponse{
			Completed: t.Progress.Completed,
			Total:     t.Progress.Total,
		}
		if t.Progress.Total > 0 {
			resp.Progress.Percent = t.Progress.Completed * 100 / t.Progress.Total
		}
	}

	if t.Error != nil {
		resp.Error = &TaskErrorResponse{
			Kind:    string(t.Error.Kind),
			Message: t.Error.Message,
			Cause:   t.Error.Cause,
		}
	}

	return resp
}
