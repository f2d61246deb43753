package task

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Status represents the current state of a task
type Status string

// Possible task status values
const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether no further transition is allowed from s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// rank orders statuses along the state graph. Completed and failed share a
// rank because neither can follow the other.
func (s Status) rank() int {
	switch s {
	case StatusPending:
		return 0
	case StatusRunning:
		return 1
	case StatusCompleted, StatusFailed:
		return 2
	}
	return -1
}

// canTransition reports whether the state graph permits from -> to.
// Staying in the same non-terminal status is allowed so that progress
// updates can be expressed as compare-and-update mutations.
func canTransition(from, to Status) bool {
	if from.Terminal() {
		return false
	}
	if from == to {
		return true
	}
	switch from {
	case StatusPending:
		return to == StatusRunning
	case StatusRunning:
		return to == StatusCompleted || to == StatusFailed
	}
	return false
}

// Kind identifies the operation category a task performs. The set is open:
// any kind with a registered Handler can be submitted.
type Kind string

// Built-in operation kinds
const (
	KindCrawl            Kind = "crawl"
	KindEASMDiscovery    Kind = "easm_discovery"
	KindBASSimulation    Kind = "bas_simulation"
	KindReportGeneration Kind = "report_generation"
	KindAdversarialTest  Kind = "adversarial_test"
)

// ErrorKind classifies why a task failed.
type ErrorKind string

// Recorded failure kinds
const (
	ErrorKindHandlerFailure ErrorKind = "HandlerFailure"
	ErrorKindTimeout        ErrorKind = "Timeout"
	ErrorKindCanceled       ErrorKind = "Canceled"
)

// Failure is the structured error descriptor stored on a failed task.
type Failure struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
	Cause   string    `json:"cause,omitempty"`
}

// Progress counts steps of a multi-step task.
type Progress struct {
	Completed int `json:"completed"`
	Total     int `json:"total"`
}

// Plan is what a Validator learns about a submission before the task exists.
type Plan struct {
	// TotalSteps seeds the task's progress counter when positive.
	TotalSteps int
}

// Task is a snapshot of one tracked unit of work. Values handed out by the
// Registry are deep copies; mutating them never affects stored state.
type Task struct {
	ID          uuid.UUID       `json:"id"`
	Kind        Kind            `json:"kind"`
	Parameters  json.RawMessage `json:"parameters"`
	Status      Status          `json:"status"`
	Progress    *Progress       `json:"progress,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
	Error       *Failure        `json:"error,omitempty"`
	SubmittedAt time.Time       `json:"submitted_at"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

// clone returns a deep copy of t.
func (t Task) clone() Task {
	out := t
	out.Parameters = cloneRaw(t.Parameters)
	out.Result = cloneRaw(t.Result)
	if t.Progress != nil {
		p := *t.Progress
		out.Progress = &p
	}
	if t.Error != nil {
		e := *t.Error
		out.Error = &e
	}
	if t.StartedAt != nil {
		ts := *t.StartedAt
		out.StartedAt = &ts
	}
	if t.CompletedAt != nil {
		ts := *t.CompletedAt
		out.CompletedAt = &ts
	}
	return out
}

func cloneRaw(raw json.RawMessage) json.RawMessage {
	if raw == nil {
		return nil
	}
	return bytes.Clone(raw)
}
