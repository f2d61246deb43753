package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/phrazzld/secops-orchestrator/internal/task"
)

// getPathUUID extracts a UUID from the URL path parameters.
func getPathUUID(r *http.Request, paramName string) (uuid.UUID, error) {
	pathParam := chi.URLParam(r, paramName)
	if pathParam == "" {
		return uuid.Nil, fmt.Errorf("%w: %s is required", ErrInvalidRequest, paramName)
	}

	id, err := uuid.Parse(pathParam)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %s has invalid format", ErrInvalidRequest, paramName)
	}

	return id, nil
}

// parseListQuery reads kind, status, order and limit from the query string.
//
// order is "oldest" (default) or "newest". Without limit every matching
// task is returned, reported as 0.
func parseListQuery(r *http.Request) (task.Filter, int, error) {
	q := r.URL.Query()

	filter := task.Filter{Kind: task.Kind(q.Get("kind"))}

	if s := q.Get("status"); s != "" {
		status := task.Status(s)
		if !status.Valid() {
			return task.Filter{}, 0, fmt.Errorf("%w: unknown status %q", ErrInvalidRequest, s)
		}
		filter.Status = status
	}

	switch order := q.Get("order"); order {
	case "", "oldest":
	case "newest":
		filter.Newest = true
	default:
		return task.Filter{}, 0, fmt.Errorf("%w: order must be oldest or newest", ErrInvalidRequest)
	}

	limit, err := parsePositiveInt(q.Get("limit"), "limit", 0)
	if err != nil {
		return task.Filter{}, 0, err
	}

	return filter, limit, nil
}

// parsePositiveInt parses an optional positive integer query parameter.
func parsePositiveInt(s, name string, fallback int) (int, error) {
	if s == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("%w: %s must be a positive integer", ErrInvalidRequest, name)
	}
	return n, nil
}
