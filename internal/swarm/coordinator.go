// Package swarm runs the workers for one swarm-owned phase: it plans
// execution waves under the worker ceiling, detects and replaces
// stalled workers, applies per-task verification, and spawns
// narrowly-scoped fix workers before reporting failures upward.
package swarm

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/pool"

	"github.com/kestrelworks/swarmgate/internal/config"
	"github.com/kestrelworks/swarmgate/internal/runner"
	"github.com/kestrelworks/swarmgate/pkg/models"
)

// OverlapError reports two sibling tasks declaring the same target
// resource. Overlap is a planning bug, not a lock conflict, so the
// phase is rejected before any worker starts.
type OverlapError struct {
	// Phase is the phase whose task set failed the check.
	Phase string
	// TaskA and TaskB are the overlapping pair.
	TaskA string
	TaskB string
}

// Error implements the error interface.
func (e *OverlapError) Error() string {
	return fmt.Sprintf("phase %s: tasks %s and %s declare overlapping resources", e.Phase, e.TaskA, e.TaskB)
}

// Verdict is the verification result for one task.
type Verdict struct {
	// Passed indicates the task's output passed verification.
	Passed bool
	// Detail describes what failed, used to scope fix workers.
	Detail string
}

// VerifyFunc checks a phase's accumulated outcomes and returns a
// verdict per task ID. A nil VerifyFunc skips verification.
type VerifyFunc func(ctx context.Context, res *PhaseResult) map[string]Verdict

// PhaseResult accumulates everything a phase execution produced.
type PhaseResult struct {
	// Phase is the executed phase name.
	Phase string
	// Outcomes maps task ID to its most recent execution outcome.
	Outcomes map[string]runner.Outcome
	// Workers records every worker spawned, including replacements.
	Workers []models.Worker
	// Spawned is the total worker count for the phase.
	Spawned int
	// Replacements counts stalled workers that were replaced.
	Replacements int
	// Deferred lists tasks pushed to a later phase by the budget
	// controller or by early completion.
	Deferred []models.AgentTask
	// Failed lists task IDs still failing after the fix round. A
	// non-empty list requires escalation by the caller.
	Failed []string
	// Modified is the union of resources touched by successful tasks.
	Modified []string
	// Conservation indicates conservation mode was active.
	Conservation bool
	// ConservationReason names the threshold that tripped it.
	ConservationReason string
	// LogBytes is the accumulated execution log volume.
	LogBytes int64
}

// Succeeded reports whether every executed task ended up passing.
func (r *PhaseResult) Succeeded() bool {
	return len(r.Failed) == 0
}

// Coordinator owns worker execution for swarm phases. One coordinator
// serves a whole session, so conservation thresholds accumulate across
// phases.
type Coordinator struct {
	cfg          config.SwarmConfig
	factory      runner.Factory
	verify       VerifyFunc
	conservation *conservationTracker
}

// NewCoordinator creates a Coordinator. verify may be nil.
func NewCoordinator(cfg config.SwarmConfig, factory runner.Factory, verify VerifyFunc) *Coordinator {
	return &Coordinator{
		cfg:          cfg,
		factory:      factory,
		verify:       verify,
		conservation: newConservationTracker(cfg),
	}
}

// ConservationActive reports whether the session entered conservation
// mode.
func (c *Coordinator) ConservationActive() bool {
	return c.conservation.Active()
}

// RunPhase executes a phase's task set and returns the accumulated
// result. Tasks that still fail after one fix round are listed in
// PhaseResult.Failed for the caller to escalate.
func (c *Coordinator) RunPhase(ctx context.Context, phase models.Phase, tasks []models.AgentTask) (*PhaseResult, error) {
	ptrs := make([]*models.AgentTask, len(tasks))
	for i := range tasks {
		ptrs[i] = &tasks[i]
	}
	if a, b := models.DisjointResources(ptrs); a != "" {
		return nil, &OverlapError{Phase: phase.Name, TaskA: a, TaskB: b}
	}

	res := &PhaseResult{
		Phase:    phase.Name,
		Outcomes: make(map[string]runner.Outcome),
	}

	waves, deferred := planWaves(tasks, c.cfg.MaxWorkers, c.conservation.Active())
	res.Deferred = append(res.Deferred, deferred...)

	for wi, wave := range waves {
		c.conservation.NoteIteration()
		c.runWave(ctx, wave, res)
		if err := ctx.Err(); err != nil {
			return res, err
		}

		// Early completion: once conservation mode is on and every
		// tier-critical task has succeeded, remaining non-critical work
		// is deferred instead of spawning more workers.
		if c.conservation.Active() && wi < len(waves)-1 {
			rest := remainingTasks(waves[wi+1:])
			if allNonCritical(rest) && criticalSatisfied(tasks, res) {
				for _, t := range rest {
					t.Status = models.TaskStatusDeferred
					res.Deferred = append(res.Deferred, t)
				}
				break
			}
		}
	}

	failing := c.collectFailing(ctx, tasks, res)
	if len(failing) > 0 {
		c.runFixRound(ctx, failing, res)
		if err := ctx.Err(); err != nil {
			return res, err
		}
		still := c.collectFailing(ctx, failing, res)
		for _, t := range still {
			res.Failed = append(res.Failed, t.ID)
		}
		sort.Strings(res.Failed)
	}

	res.Conservation = c.conservation.Active()
	res.ConservationReason = c.conservation.Reason()
	return res, ctx.Err()
}

// collectFailing returns the tasks whose execution failed or whose
// output failed verification. Deferred tasks are not failures.
func (c *Coordinator) collectFailing(ctx context.Context, tasks []models.AgentTask, res *PhaseResult) []models.AgentTask {
	deferred := make(map[string]bool, len(res.Deferred))
	for _, t := range res.Deferred {
		deferred[t.ID] = true
	}

	var verdicts map[string]Verdict
	if c.verify != nil {
		verdicts = c.verify(ctx, res)
	}

	var failing []models.AgentTask
	for _, t := range tasks {
		if deferred[t.ID] {
			continue
		}
		out, ran := res.Outcomes[t.ID]
		switch {
		case !ran || !out.Success:
			t.Error = "execution failed"
			if ran && out.Err != nil {
				t.Error = out.Err.Error()
			}
			failing = append(failing, t)
		case verdicts != nil:
			if v, ok := verdicts[t.ID]; ok && !v.Passed {
				t.Error = v.Detail
				failing = append(failing, t)
			}
		}
	}
	return failing
}

// runFixRound spawns one narrowly-scoped fix worker per failing task.
// The fix task keeps the original's ID and resources, so its outcome
// supersedes the failed one.
func (c *Coordinator) runFixRound(ctx context.Context, failing []models.AgentTask, res *PhaseResult) {
	fixes := make([]*assignment, 0, len(failing))
	for _, t := range failing {
		fix := t
		fix.Attempts++
		fix.Title = "fix: " + t.Title
		if fix.Error != "" {
			fix.Title += " (" + fix.Error + ")"
		}
		fix.Status = models.TaskStatusPending
		fixes = append(fixes, &assignment{tasks: []models.AgentTask{fix}})
	}

	for len(fixes) > 0 {
		n := c.cfg.MaxWorkers
		if n > len(fixes) {
			n = len(fixes)
		}
		c.conservation.NoteIteration()
		c.runWave(ctx, fixes[:n], res)
		fixes = fixes[n:]
		if ctx.Err() != nil {
			return
		}
	}
}

// liveWorker is the coordinator's bookkeeping for one running worker.
type liveWorker struct {
	worker  models.Worker
	pending []models.AgentTask
	current *models.AgentTask
	cancel  context.CancelFunc
	ctx     context.Context
}

// runWave executes one wave of assignments. The pool bounds concurrency
// at the worker ceiling; a monitor goroutine watches progress signals
// and replaces stalled workers.
func (c *Coordinator) runWave(ctx context.Context, wave []*assignment, res *PhaseResult) {
	waveCtx, cancelWave := context.WithCancel(ctx)
	defer cancelWave()

	progressCh := make(chan runner.Progress, 64)
	det := newStallDetector(c.cfg.StallGracePeriod)

	var mu sync.Mutex
	workers := make(map[string]*liveWorker)
	var repWG conc.WaitGroup

	spawnLocked := func(tasks []models.AgentTask, replaces string) *liveWorker {
		id := "w-" + uuid.New().String()[:8]
		if replaces != "" {
			id = replaces + "-r"
		}
		wctx, wcancel := context.WithCancel(waveCtx)
		lw := &liveWorker{
			worker: models.Worker{
				ID:        id,
				TaskID:    tasks[0].ID,
				Status:    models.WorkerStatusRunning,
				Replaces:  replaces,
				StartedAt: time.Now(),
			},
			pending: append([]models.AgentTask(nil), tasks...),
			cancel:  wcancel,
			ctx:     wctx,
		}
		workers[id] = lw
		det.Watch(id, time.Now())
		c.conservation.NoteSpawned(1)
		res.Spawned++
		return lw
	}

	monitorDone := make(chan struct{})
	go func() {
		defer close(monitorDone)
		ticker := time.NewTicker(c.cfg.ProgressPoll)
		defer ticker.Stop()
		for {
			select {
			case p := <-progressCh:
				det.Observe(p.WorkerID, p.At)
				mu.Lock()
				if lw := workers[p.WorkerID]; lw != nil {
					lw.worker.LastProgress = p.At
				}
				mu.Unlock()
			case now := <-ticker.C:
				for _, id := range det.Expired(now) {
					mu.Lock()
					lw := workers[id]
					if lw == nil {
						mu.Unlock()
						continue
					}
					lw.worker.Status = models.WorkerStatusReplaced
					var rep *liveWorker
					if !lw.worker.IsReplacement() {
						// Exactly one replacement per stalled worker. A
						// stalled replacement is cancelled, not replaced.
						inherit := inheritTasks(lw)
						if len(inherit) > 0 {
							rep = spawnLocked(inherit, id)
							res.Replacements++
						}
					}
					mu.Unlock()
					if rep != nil {
						repWG.Go(func() { c.runWorker(rep, progressCh, det, &mu, workers, res) })
					}
					lw.cancel()
				}
			case <-waveCtx.Done():
				return
			}
		}
	}()

	p := pool.New().WithMaxGoroutines(c.cfg.MaxWorkers)
	mu.Lock()
	spawned := make([]*liveWorker, 0, len(wave))
	for _, a := range wave {
		spawned = append(spawned, spawnLocked(a.tasks, ""))
	}
	mu.Unlock()
	for _, lw := range spawned {
		lw := lw
		p.Go(func() { c.runWorker(lw, progressCh, det, &mu, workers, res) })
	}
	p.Wait()
	repWG.Wait()
	cancelWave()
	<-monitorDone
}

// inheritTasks returns the stalled worker's unfinished work: the task
// in flight plus anything still queued.
func inheritTasks(lw *liveWorker) []models.AgentTask {
	var out []models.AgentTask
	if lw.current != nil {
		out = append(out, *lw.current)
	}
	out = append(out, lw.pending...)
	return out
}

// runWorker executes a worker's task queue sequentially. A replaced
// worker's in-flight outcome is superseded, never recorded over the
// replacement's result.
func (c *Coordinator) runWorker(lw *liveWorker, progressCh chan<- runner.Progress, det *stallDetector, mu *sync.Mutex, workers map[string]*liveWorker, res *PhaseResult) {
	failed := false
	for {
		mu.Lock()
		if lw.worker.Status == models.WorkerStatusReplaced || len(lw.pending) == 0 {
			mu.Unlock()
			break
		}
		task := lw.pending[0]
		lw.pending = lw.pending[1:]
		task.WorkerID = lw.worker.ID
		task.StartedAt = time.Now()
		lw.current = &task
		mu.Unlock()

		r := c.factory.NewRunner()
		out := r.Run(lw.ctx, task, lw.worker.ID, progressCh)
		c.conservation.NoteLog(int64(len(out.Log)))
		out.Summary = c.conservation.Compress(out.Summary)

		mu.Lock()
		lw.current = nil
		if lw.worker.Status == models.WorkerStatusReplaced {
			mu.Unlock()
			break
		}
		res.Outcomes[task.ID] = out
		res.LogBytes += int64(len(out.Log))
		if out.Success {
			res.Modified = append(res.Modified, out.Modified...)
			lw.worker.Summary = out.Summary
		} else {
			failed = true
		}
		mu.Unlock()

		if lw.ctx.Err() != nil {
			break
		}
	}

	det.Forget(lw.worker.ID)
	mu.Lock()
	if lw.worker.Status != models.WorkerStatusReplaced {
		if failed || lw.ctx.Err() != nil {
			lw.worker.Status = models.WorkerStatusFailed
		} else {
			lw.worker.Status = models.WorkerStatusDone
		}
	}
	res.Workers = append(res.Workers, lw.worker)
	delete(workers, lw.worker.ID)
	mu.Unlock()
}

func remainingTasks(waves [][]*assignment) []models.AgentTask {
	var out []models.AgentTask
	for _, wave := range waves {
		for _, a := range wave {
			out = append(out, a.tasks...)
		}
	}
	return out
}

func allNonCritical(tasks []models.AgentTask) bool {
	for _, t := range tasks {
		if t.Critical {
			return false
		}
	}
	return true
}

func criticalSatisfied(tasks []models.AgentTask, res *PhaseResult) bool {
	for _, t := range tasks {
		if !t.Critical {
			continue
		}
		out, ok := res.Outcomes[t.ID]
		if !ok || !out.Success {
			return false
		}
	}
	return true
}
