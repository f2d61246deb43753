// Package api exposes the task service over HTTP.
//
// TaskHandler accepts submissions (generic and per kind), serves task
// snapshots, results, cancellation and report downloads. FindingsHandler
// serves views aggregated from the results of completed tasks. Errors from
// the task package are mapped to status codes in errors.go; response bodies
// never carry more than a redacted message.
package api
