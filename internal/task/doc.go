// Package task coordinates long-running security operations as
// asynchronous, trackable tasks.
//
// A submission is validated by the Dispatcher and stored as a pending Task
// in the Registry. The Executor then claims it, runs the kind's Handler
// under a time budget and commits exactly one terminal outcome. Every
// mutation goes through Registry.CompareAndUpdate, which enforces the
// pending -> running -> completed|failed state graph. The Reporter serves
// read-only snapshots at any time.
package task
