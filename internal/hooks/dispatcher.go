package hooks

import (
	"context"
	"fmt"
	"time"

	"github.com/kestrelworks/swarmgate/internal/config"
)

// Dispatcher executes hooks at lifecycle points with priority ordering,
// timeouts, aggregate budgets, and isolated failure.
type Dispatcher struct {
	registry *Registry
	cfg      config.HooksConfig
}

// NewDispatcher creates a Dispatcher over the given registry.
func NewDispatcher(registry *Registry, cfg config.HooksConfig) *Dispatcher {
	return &Dispatcher{registry: registry, cfg: cfg}
}

// Registry returns the underlying registry for hook registration.
func (d *Dispatcher) Registry() *Registry {
	return d.registry
}

// Dispatch runs all hooks registered at the point. It always returns
// one Result per registered hook, in priority order; an individual hook
// fault is recorded in its Result and never propagated.
//
// Budget semantics per point:
//   - PointRequestSubmit: aggregate budget across all hooks.
//   - PointResourceMutated: per-call budget, applied per hook.
//   - PointWorkflowStop: aggregate budget; hooks marked blocking run
//     even after the budget is exhausted.
//
// When the aggregate budget runs out, remaining lower-priority hooks
// report skipped instead of blocking workflow progress. After all hooks
// run, state patches merge into hctx.State in dispatch order, last
// write wins.
func (d *Dispatcher) Dispatch(ctx context.Context, point Point, hctx *Context) []Result {
	hooks := d.registry.At(point)
	results := make([]Result, 0, len(hooks))

	deadline := time.Time{}
	switch point {
	case PointRequestSubmit:
		deadline = time.Now().Add(d.cfg.SubmitBudget)
	case PointWorkflowStop:
		deadline = time.Now().Add(d.cfg.StopBudget)
	}

	for _, h := range hooks {
		if !h.ShouldRun(hctx) {
			results = append(results, Result{Hook: h.Name(), Status: StatusSkipped, Display: "predicate declined"})
			continue
		}

		budgetSpent := !deadline.IsZero() && time.Now().After(deadline)
		if budgetSpent && !(point == PointWorkflowStop && h.Blocking()) {
			results = append(results, Result{Hook: h.Name(), Status: StatusSkipped, Display: "aggregate budget exhausted"})
			continue
		}

		results = append(results, d.runOne(ctx, point, h, hctx))
	}

	// Merge state patches in dispatch order.
	if hctx.State == nil {
		hctx.State = make(map[string]any)
	}
	for _, res := range results {
		if res.Status != StatusSuccess {
			continue
		}
		for k, v := range res.StatePatch {
			hctx.State[k] = v
		}
	}

	return results
}

// runOne executes a single hook under its declared timeout, recovering
// panics into a failed result.
func (d *Dispatcher) runOne(ctx context.Context, point Point, h Hook, hctx *Context) Result {
	timeout := h.Timeout()
	if timeout <= 0 {
		timeout = d.cfg.DefaultTimeout
	}
	// The mutate point enforces its per-call budget as a hard cap.
	if point == PointResourceMutated && timeout > d.cfg.MutateBudget {
		timeout = d.cfg.MutateBudget
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	done := make(chan Result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- Result{
					Hook:   h.Name(),
					Status: StatusFailed,
					Err:    fmt.Errorf("hook panicked: %v", r),
				}
			}
		}()
		done <- h.Run(runCtx, hctx)
	}()

	select {
	case res := <-done:
		res.Hook = h.Name()
		res.Elapsed = time.Since(start)
		if res.Status == "" {
			if res.Err != nil {
				res.Status = StatusFailed
			} else {
				res.Status = StatusSuccess
			}
		}
		return res
	case <-runCtx.Done():
		// The hook goroutine is abandoned; its eventual result is dropped.
		return Result{
			Hook:    h.Name(),
			Status:  StatusTimeout,
			Err:     runCtx.Err(),
			Elapsed: time.Since(start),
		}
	}
}

// BlockingFailures returns the results of blocking hooks at the point
// that failed or timed out. A non-empty return refuses the request at
// the submit point, or halts workflow completion at the stop point
// pending operator acknowledgment.
func BlockingFailures(registry *Registry, point Point, results []Result) []Result {
	blocking := make(map[string]bool)
	for _, h := range registry.At(point) {
		if h.Blocking() {
			blocking[h.Name()] = true
		}
	}

	var out []Result
	for _, res := range results {
		if !blocking[res.Hook] {
			continue
		}
		if res.Status == StatusFailed || res.Status == StatusTimeout {
			out = append(out, res)
		}
	}
	return out
}
