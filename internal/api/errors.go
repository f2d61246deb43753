package api

import (
	"errors"
	"net/http"

	"github.com/phrazzld/secops-orchestrator/internal/api/shared"
	"github.com/phrazzld/secops-orchestrator/internal/redact"
	"github.com/phrazzld/secops-orchestrator/internal/task"
)

// ErrInvalidRequest marks requests rejected by the API layer itself, before
// the task service is involved: malformed bodies, bad ids, bad queries.
var ErrInvalidRequest = errors.New("invalid request")

// MapErrorToStatusCode maps internal errors to appropriate HTTP status codes
// based on the error type. This prevents leaking internal error types or
// messages to clients.
func MapErrorToStatusCode(err error) int {
	switch {
	case errors.Is(err, task.ErrNotFound):
		return http.StatusNotFound

	case errors.Is(err, task.ErrConflict),
		errors.Is(err, task.ErrAlreadyTerminal):
		return http.StatusConflict

	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, shared.ErrEmptyBody),
		errors.Is(err, task.ErrUnknownKind):
		return http.StatusBadRequest

	case errors.Is(err, task.ErrInvalidParameters):
		return http.StatusUnprocessableEntity

	case errors.Is(err, task.ErrShuttingDown):
		return http.StatusServiceUnavailable

	default:
		return http.StatusInternalServerError
	}
}

// GetSafeErrorMessage returns a sanitized, user-friendly error message
// based on the error type. This prevents leaking sensitive internal details.
func GetSafeErrorMessage(err error) string {
	if err == nil {
		return "An unexpected error occurred"
	}

	switch {
	case errors.Is(err, task.ErrNotFound):
		return "Task not found"

	case errors.Is(err, task.ErrConflict):
		return "Task has not completed"

	case errors.Is(err, task.ErrAlreadyTerminal):
		return "Task has already finished"

	case errors.Is(err, shared.ErrEmptyBody):
		return "Request body is required"

	// Validation failures describe the caller's own input, so their detail
	// is returned once credentials have been scrubbed.
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, task.ErrUnknownKind),
		errors.Is(err, task.ErrInvalidParameters):
		return redact.Secrets(err.Error())

	case errors.Is(err, task.ErrShuttingDown):
		return "Service is shutting down"

	default:
		return "An unexpected error occurred"
	}
}

// HandleAPIError writes the status and safe message for err. A non-empty
// fallback replaces the generic message of unclassified errors.
func HandleAPIError(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	status := MapErrorToStatusCode(err)
	message := GetSafeErrorMessage(err)
	if status == http.StatusInternalServerError && fallback != "" {
		message = fallback
	}
	shared.RespondWithErrorAndLog(w, r, status, message, err)
}
