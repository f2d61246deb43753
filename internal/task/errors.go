package task

import "errors"

// Errors returned by the task registry, dispatcher, executor and reporter.
var (
	// ErrUnknownKind is returned when no handler is registered for a kind.
	// It is raised before any task is created.
	ErrUnknownKind = errors.New("unknown task kind")

	// ErrInvalidParameters is returned when a submission fails structural
	// validation. It is raised before any task is created.
	ErrInvalidParameters = errors.New("invalid task parameters")

	// ErrNotFound is returned for an unknown task id.
	ErrNotFound = errors.New("task not found")

	// ErrConflict is returned when a result is requested before the task completed.
	ErrConflict = errors.New("task has not completed")

	// ErrAlreadyTerminal is returned when a mutation targets a finished task.
	ErrAlreadyTerminal = errors.New("task already in terminal state")

	// ErrConcurrencyConflict is returned when compare-and-update finds the task
	// in a different status than expected.
	ErrConcurrencyConflict = errors.New("task status changed concurrently")

	// ErrInvalidTransition is returned when a mutation would break a task invariant.
	ErrInvalidTransition = errors.New("invalid task state transition")

	// ErrDuplicateKind is returned when registering a kind twice.
	ErrDuplicateKind = errors.New("task kind already registered")

	// ErrShuttingDown is returned by Submit once shutdown has started.
	ErrShuttingDown = errors.New("task service is shutting down")
)
