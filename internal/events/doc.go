// Package events carries task lifecycle notifications from the orchestration
// core to observers.
//
// The core emits a LifecycleEvent whenever a task is submitted, started,
// completed or failed. It depends only on the EventSink interface and never
// on how events are stored or formatted. The primary components are:
// - LifecycleEvent: one observed transition of one task
// - EventHandler: Interface for components that react to events
// - InMemoryEventEmitter: fans events out to registered handlers
// - LogHandler: writes events through slog
package events
