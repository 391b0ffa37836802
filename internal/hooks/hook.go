// Package hooks provides lifecycle hook registration and dispatch for
// the workflow engine. Hooks run with priority ordering, per-hook
// timeouts, and isolated failure: a faulting hook never aborts its
// siblings or the owning phase.
package hooks

import (
	"context"
	"time"
)

// Point identifies a lifecycle extension point.
type Point string

const (
	// PointRequestSubmit fires once when a request is submitted.
	PointRequestSubmit Point = "on_request_submit"
	// PointResourceMutated fires after a worker mutates a target resource.
	PointResourceMutated Point = "on_resource_mutated"
	// PointWorkflowStop fires when a workflow reaches a terminal state.
	PointWorkflowStop Point = "on_workflow_stop"
)

// Valid returns true if the point is a known value.
func (p Point) Valid() bool {
	switch p {
	case PointRequestSubmit, PointResourceMutated, PointWorkflowStop:
		return true
	default:
		return false
	}
}

// Status is the outcome of one hook execution.
type Status string

const (
	// StatusSuccess indicates the hook ran to completion.
	StatusSuccess Status = "success"
	// StatusFailed indicates the hook returned an error or panicked.
	StatusFailed Status = "failed"
	// StatusSkipped indicates the hook was truncated by the aggregate
	// budget or its predicate declined.
	StatusSkipped Status = "skipped"
	// StatusTimeout indicates the hook exceeded its declared timeout.
	StatusTimeout Status = "timeout"
)

// Result is the structured outcome of one hook execution.
type Result struct {
	// Hook is the name of the hook that produced this result.
	Hook string `json:"hook"`
	// Status is the execution outcome.
	Status Status `json:"status"`
	// Payload carries provider-specific data.
	Payload map[string]any `json:"payload,omitempty"`
	// Display is optional human-readable text for progress reporting.
	Display string `json:"display,omitempty"`
	// StatePatch is merged into session/workflow state after dispatch,
	// in dispatch order, last write wins.
	StatePatch map[string]any `json:"state_patch,omitempty"`
	// Err holds the failure, if any. Never propagated to the caller.
	Err error `json:"-"`
	// Elapsed is how long the hook ran.
	Elapsed time.Duration `json:"elapsed"`
}

// Context is the engine state handed to hooks. It is explicitly passed,
// never ambient.
type Context struct {
	// RequestID identifies the owning request.
	RequestID string
	// Phase is the current phase name, if any.
	Phase string
	// Resource is the mutated resource, for PointResourceMutated.
	Resource string
	// State is the session/workflow state map. Dispatch merges returned
	// state patches into it.
	State map[string]any
}

// Hook is a registered callable bound to exactly one lifecycle point.
type Hook interface {
	// Name identifies the hook in results and logs.
	Name() string
	// Point is the lifecycle point this hook binds to.
	Point() Point
	// Priority orders execution; lower runs first. Ties are broken by
	// registration order.
	Priority() int
	// Timeout is the declared per-execution timeout. Zero selects the
	// dispatcher default.
	Timeout() time.Duration
	// Blocking marks a hook whose failure refuses the request at the
	// submit point, or halts workflow completion at the stop point.
	// Ignored at the mutate point.
	Blocking() bool
	// ShouldRun is the execution predicate.
	ShouldRun(hctx *Context) bool
	// Run executes the hook.
	Run(ctx context.Context, hctx *Context) Result
}

// FuncHook adapts plain functions to the Hook interface. External
// providers register these without implementing the full interface.
type FuncHook struct {
	// HookName identifies the hook.
	HookName string
	// HookPoint is the lifecycle point.
	HookPoint Point
	// HookPriority orders execution, lower first.
	HookPriority int
	// HookTimeout is the declared timeout; zero selects the default.
	HookTimeout time.Duration
	// IsBlocking marks a blocking stop hook.
	IsBlocking bool
	// Predicate gates execution; nil means always run.
	Predicate func(hctx *Context) bool
	// Fn is the execution function.
	Fn func(ctx context.Context, hctx *Context) Result
}

// Name implements Hook.
func (f *FuncHook) Name() string { return f.HookName }

// Point implements Hook.
func (f *FuncHook) Point() Point { return f.HookPoint }

// Priority implements Hook.
func (f *FuncHook) Priority() int { return f.HookPriority }

// Timeout implements Hook.
func (f *FuncHook) Timeout() time.Duration { return f.HookTimeout }

// Blocking implements Hook.
func (f *FuncHook) Blocking() bool { return f.IsBlocking }

// ShouldRun implements Hook.
func (f *FuncHook) ShouldRun(hctx *Context) bool {
	if f.Predicate == nil {
		return true
	}
	return f.Predicate(hctx)
}

// Run implements Hook.
func (f *FuncHook) Run(ctx context.Context, hctx *Context) Result {
	return f.Fn(ctx, hctx)
}
