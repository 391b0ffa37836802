package models

import "time"

// TaskStatus represents the current state of an agent task.
type TaskStatus string

const (
	// TaskStatusPending indicates the task has not started.
	TaskStatusPending TaskStatus = "pending"
	// TaskStatusInProgress indicates a worker is executing the task.
	TaskStatusInProgress TaskStatus = "in_progress"
	// TaskStatusDone indicates the task completed and passed verification.
	TaskStatusDone TaskStatus = "done"
	// TaskStatusFailed indicates the task failed.
	TaskStatusFailed TaskStatus = "failed"
	// TaskStatusDeferred indicates the task was pushed to a later phase
	// by the budget controller.
	TaskStatusDeferred TaskStatus = "deferred"
)

// Valid returns true if the status is a known value.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusPending, TaskStatusInProgress, TaskStatusDone,
		TaskStatusFailed, TaskStatusDeferred:
		return true
	default:
		return false
	}
}

// Terminal returns true if the status will not change again within the
// current wave.
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusDone || s == TaskStatusFailed || s == TaskStatusDeferred
}

// AgentTask is a unit of work assigned to one worker within a phase.
// Sibling tasks within a phase never declare overlapping target
// resources; that disjointness is established during planning.
type AgentTask struct {
	// ID is the unique identifier for this task.
	ID string `json:"id"`
	// Phase is the name of the owning phase.
	Phase string `json:"phase"`
	// Title is the short description of the task.
	Title string `json:"title"`
	// Resources is the set of target resources this task may modify.
	Resources []string `json:"resources"`
	// Status is the current state of the task.
	Status TaskStatus `json:"status"`
	// WorkerID is the ID of the worker assigned to this task.
	WorkerID string `json:"worker_id,omitempty"`
	// Critical marks the task as tier-critical; non-critical tasks may be
	// deferred under budget pressure or skipped during early completion.
	Critical bool `json:"critical,omitempty"`
	// StartedAt is when a worker began executing this task.
	StartedAt time.Time `json:"started_at,omitempty"`
	// Error contains the failure detail if the task failed.
	Error string `json:"error,omitempty"`
	// Attempts is the number of execution attempts, including fix workers.
	Attempts int `json:"attempts,omitempty"`
}

// Overlaps returns true if the task shares any target resource with other.
func (t *AgentTask) Overlaps(other *AgentTask) bool {
	for _, a := range t.Resources {
		for _, b := range other.Resources {
			if a == b {
				return true
			}
		}
	}
	return false
}

// DisjointResources verifies the planning invariant that sibling tasks
// never declare overlapping target resources. It returns the IDs of the
// first overlapping pair found, or empty strings if the set is disjoint.
func DisjointResources(tasks []*AgentTask) (string, string) {
	seen := make(map[string]string)
	for _, task := range tasks {
		for _, r := range task.Resources {
			if prev, ok := seen[r]; ok && prev != task.ID {
				return prev, task.ID
			}
			seen[r] = task.ID
		}
	}
	return "", ""
}
