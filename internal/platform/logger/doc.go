// Package logger sets up the service's JSON slog logger.
//
// Levels come from server.log_level. Every record passes through a
// RedactingHandler so that API keys and credentials echoed by upstream
// errors never reach the log stream. Request-scoped loggers travel in the
// context via WithLogger and FromContext.
package logger
