package events

import (
	"context"
	"log/slog"
)

// LogHandler writes lifecycle events as structured log records.
// Failed events are logged at WARN, everything else at INFO.
type LogHandler struct {
	logger *slog.Logger
}

// NewLogHandler creates a LogHandler writing to logger.
func NewLogHandler(logger *slog.Logger) *LogHandler {
	return &LogHandler{logger: logger.With("component", "lifecycle")}
}

// HandleEvent implements EventHandler.
func (h *LogHandler) HandleEvent(ctx context.Context, event *LifecycleEvent) error {
	attrs := []slog.Attr{
		slog.String("event_id", event.ID.String()),
		slog.String("event_type", string(event.Type)),
		slog.String("task_id", event.TaskID.String()),
		slog.String("kind", event.Kind),
		slog.String("status", event.Status),
		slog.Time("occurred_at", event.OccurredAt),
	}

	level := slog.LevelInfo
	if event.Type == TypeFailed {
		level = slog.LevelWarn
		attrs = append(attrs,
			slog.String("error_kind", event.ErrorKind),
			slog.String("error_message", event.ErrorMessage))
	}

	h.logger.LogAttrs(ctx, level, "task "+string(event.Type), attrs...)
	return nil
}

var _ EventHandler = (*LogHandler)(nil)
