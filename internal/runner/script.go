package runner

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kestrelworks/swarmgate/pkg/models"
)

// RunRecord is one scripted execution, recorded for assertions.
type RunRecord struct {
	// TaskID is the executed task.
	TaskID string
	// WorkerID is the worker the coordinator assigned.
	WorkerID string
}

// ScriptedFactory produces in-memory runners whose behavior is scripted
// per task: fail N times before succeeding, or stall silently. Tests use
// it to drive the coordinator through failure and replacement paths
// without touching the API.
type ScriptedFactory struct {
	mu sync.Mutex
	// failRemaining counts how many more executions of a task fail.
	failRemaining map[string]int
	// stallRemaining counts how many more executions of a task go
	// silent until cancelled.
	stallRemaining map[string]int
	// delay is an optional pause before each outcome.
	delay time.Duration
	runs  []RunRecord
}

// NewScriptedFactory creates a factory where every task succeeds on the
// first attempt.
func NewScriptedFactory() *ScriptedFactory {
	return &ScriptedFactory{
		failRemaining:  make(map[string]int),
		stallRemaining: make(map[string]int),
	}
}

// FailTimes scripts the next n executions of taskID to fail.
func (f *ScriptedFactory) FailTimes(taskID string, n int) *ScriptedFactory {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failRemaining[taskID] = n
	return f
}

// StallTimes scripts the next n executions of taskID to emit no
// progress and block until cancelled.
func (f *ScriptedFactory) StallTimes(taskID string, n int) *ScriptedFactory {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stallRemaining[taskID] = n
	return f
}

// WithDelay adds a pause before each scripted outcome.
func (f *ScriptedFactory) WithDelay(d time.Duration) *ScriptedFactory {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delay = d
	return f
}

// Runs returns every execution recorded so far.
func (f *ScriptedFactory) Runs() []RunRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]RunRecord(nil), f.runs...)
}

// RunsFor returns the executions recorded for one task.
func (f *ScriptedFactory) RunsFor(taskID string) []RunRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []RunRecord
	for _, r := range f.runs {
		if r.TaskID == taskID {
			out = append(out, r)
		}
	}
	return out
}

// NewRunner creates a runner backed by this factory's script.
func (f *ScriptedFactory) NewRunner() Runner {
	return &scriptedRunner{factory: f}
}

type scriptedRunner struct {
	factory *ScriptedFactory
}

// behavior decides and consumes the scripted outcome for one execution.
func (f *ScriptedFactory) behavior(task models.AgentTask, workerID string) (stall, fail bool, delay time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.runs = append(f.runs, RunRecord{TaskID: task.ID, WorkerID: workerID})

	if f.stallRemaining[task.ID] > 0 {
		f.stallRemaining[task.ID]--
		return true, false, f.delay
	}
	if f.failRemaining[task.ID] > 0 {
		f.failRemaining[task.ID]--
		return false, true, f.delay
	}
	return false, false, f.delay
}

func (r *scriptedRunner) Run(ctx context.Context, task models.AgentTask, workerID string, progress chan<- Progress) Outcome {
	stall, fail, delay := r.factory.behavior(task, workerID)
	out := Outcome{TaskID: task.ID, WorkerID: workerID}

	if stall {
		// Silent worker: no progress signals, blocks until cancelled.
		<-ctx.Done()
		out.Err = ctx.Err()
		return out
	}

	emit(ctx, progress, Progress{
		WorkerID: workerID,
		TaskID:   task.ID,
		Message:  "working",
		At:       time.Now(),
	})

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			out.Err = ctx.Err()
			return out
		}
	}

	if fail {
		out.Err = fmt.Errorf("scripted failure for task %s", task.ID)
		out.Log = "scripted failure"
		return out
	}

	out.Success = true
	out.Summary = "completed " + task.Title
	out.Modified = task.Resources
	out.Log = "scripted success"
	return out
}

var _ Factory = (*ScriptedFactory)(nil)
