package models

import "time"

// WorkerStatus represents the current state of a worker.
type WorkerStatus string

const (
	// WorkerStatusPending indicates the worker has not started.
	WorkerStatusPending WorkerStatus = "pending"
	// WorkerStatusRunning indicates the worker is actively executing.
	WorkerStatusRunning WorkerStatus = "running"
	// WorkerStatusDone indicates the worker finished its task.
	WorkerStatusDone WorkerStatus = "done"
	// WorkerStatusFailed indicates the worker's execution failed.
	WorkerStatusFailed WorkerStatus = "failed"
	// WorkerStatusReplaced indicates the worker stalled and was replaced.
	// Its partial output is treated as superseded, not merged.
	WorkerStatusReplaced WorkerStatus = "replaced"
)

// Valid returns true if the status is a known value.
func (s WorkerStatus) Valid() bool {
	switch s {
	case WorkerStatusPending, WorkerStatusRunning, WorkerStatusDone,
		WorkerStatusFailed, WorkerStatusReplaced:
		return true
	default:
		return false
	}
}

// Terminal returns true if the worker has reached a terminal state.
func (s WorkerStatus) Terminal() bool {
	return s == WorkerStatusDone || s == WorkerStatusFailed || s == WorkerStatusReplaced
}

// Worker is a concurrently executing unit bound to exactly one AgentTask
// at a time. A replacement worker inherits the original's task and
// resource set but gets a derived id.
type Worker struct {
	// ID is the unique identifier for this worker.
	ID string `json:"id"`
	// TaskID is the ID of the task this worker is executing.
	TaskID string `json:"task_id"`
	// Status is the current state of the worker.
	Status WorkerStatus `json:"status"`
	// Replaces is the ID of the stalled worker this one replaced, if any.
	Replaces string `json:"replaces,omitempty"`
	// StartedAt is when the worker began executing.
	StartedAt time.Time `json:"started_at"`
	// LastProgress is the time of the most recent progress signal.
	LastProgress time.Time `json:"last_progress"`
	// Summary is the worker's result summary. In conservation mode this
	// is compressed to a fixed small size.
	Summary string `json:"summary,omitempty"`
}

// IsReplacement returns true if this worker replaced a stalled one.
func (w *Worker) IsReplacement() bool {
	return w.Replaces != ""
}
