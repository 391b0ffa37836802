// Package runner provides worker execution backends for agent tasks.
// The swarm coordinator drives tasks through the Runner interface; the
// Anthropic API implementation is the production backend and the
// scripted implementation backs tests.
package runner

import (
	"context"
	"time"

	"github.com/kestrelworks/swarmgate/pkg/models"
)

// Progress is a liveness signal emitted by a running worker. The stall
// detector resets a worker's grace timer on every signal it receives.
type Progress struct {
	// WorkerID is the worker emitting the signal.
	WorkerID string
	// TaskID is the task being executed.
	TaskID string
	// Message is a short human-readable status line.
	Message string
	// TokensUsed is the cumulative tokens consumed so far.
	TokensUsed int64
	// At is when the signal was generated.
	At time.Time
}

// Outcome is the final result of one task execution.
type Outcome struct {
	// TaskID is the executed task.
	TaskID string
	// WorkerID is the worker that produced the outcome.
	WorkerID string
	// Success indicates the task ran to completion.
	Success bool
	// Summary is the worker's description of what it did.
	Summary string
	// Modified lists the resources the worker touched.
	Modified []string
	// Log is the accumulated execution log text.
	Log string
	// TokensIn and TokensOut are the token totals for the execution.
	TokensIn  int64
	TokensOut int64
	// Err holds the failure cause when Success is false.
	Err error
}

// Runner executes one agent task. Implementations must honor context
// cancellation and emit progress signals while working; a worker that
// goes silent past the stall grace period is treated as stalled.
type Runner interface {
	Run(ctx context.Context, task models.AgentTask, workerID string, progress chan<- Progress) Outcome
}

// Factory creates a fresh Runner per worker, so concurrent workers
// never share mutable execution state.
type Factory interface {
	NewRunner() Runner
}
