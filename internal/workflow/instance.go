// Package workflow owns the phase state machine for one request: it
// advances phases, records status, and enforces verification and
// human-confirmation gates before completion.
package workflow

import (
	"time"

	"github.com/google/uuid"

	"github.com/kestrelworks/swarmgate/pkg/models"
)

// State is the coarse lifecycle state of a workflow instance.
type State string

const (
	// StateNotStarted indicates no phase has begun.
	StateNotStarted State = "not_started"
	// StateRunning indicates a phase is pending or in progress.
	StateRunning State = "running"
	// StateAllPhasesCompleted is the successful terminal state.
	StateAllPhasesCompleted State = "all_phases_completed"
	// StateAbortedFailed is the failed terminal state. Accumulated
	// partial results are preserved, not rolled back.
	StateAbortedFailed State = "aborted_failed"
)

// Terminal returns true for the two terminal states.
func (s State) Terminal() bool {
	return s == StateAllPhasesCompleted || s == StateAbortedFailed
}

// Transition is one entry in the instance's append-only transition log.
type Transition struct {
	// Phase is the phase index the transition applies to, or -1 for
	// instance-level transitions.
	Phase int `json:"phase"`
	// From is the prior phase status, empty for instance-level entries.
	From models.PhaseStatus `json:"from,omitempty"`
	// To is the new phase status, empty for instance-level entries.
	To models.PhaseStatus `json:"to,omitempty"`
	// Note carries transition detail (failure reasons, escalations).
	Note string `json:"note,omitempty"`
	// At is when the transition happened.
	At time.Time `json:"at"`
}

// Instance is the mutable run-state for one request. It is owned
// exclusively by the orchestrator; all mutation goes through the
// Machine's single-writer methods.
type Instance struct {
	// ID is the unique identifier for this instance.
	ID string `json:"id"`
	// RequestID is the owning request.
	RequestID string `json:"request_id"`
	// Plan is the selected workflow plan.
	Plan models.WorkflowPlan `json:"plan"`
	// Tier is the highest risk tier recorded for the request.
	Tier models.RiskTier `json:"tier"`
	// PhaseStatus holds per-phase status, parallel to Plan.Phases.
	PhaseStatus []models.PhaseStatus `json:"phase_status"`
	// Current is the index of the in-progress phase, or -1.
	Current int `json:"current"`
	// StartedAt is when the first phase began.
	StartedAt time.Time `json:"started_at,omitempty"`
	// FinishedAt is when the instance reached a terminal state.
	FinishedAt time.Time `json:"finished_at,omitempty"`
	// ModifiedResources accumulates every resource modified so far.
	ModifiedResources []string `json:"modified_resources,omitempty"`
	// Errors is the accumulated error log.
	Errors []string `json:"errors,omitempty"`
	// Aborted marks the instance as terminally failed. Partial results
	// in ModifiedResources are preserved.
	Aborted bool `json:"aborted,omitempty"`
	// Transitions is the append-only transition log.
	Transitions []Transition `json:"transitions,omitempty"`
}

// NewInstance creates an instance for a request with all phases pending.
func NewInstance(requestID string, plan models.WorkflowPlan, tier models.RiskTier) *Instance {
	statuses := make([]models.PhaseStatus, len(plan.Phases))
	for i := range statuses {
		statuses[i] = models.PhasePending
	}
	return &Instance{
		ID:          uuid.New().String()[:8],
		RequestID:   requestID,
		Plan:        plan,
		Tier:        tier,
		PhaseStatus: statuses,
		Current:     -1,
	}
}

// State derives the coarse lifecycle state. A failed phase does not by
// itself abort the instance; recovery may re-enter it. Abort is an
// explicit machine transition.
func (in *Instance) State() State {
	if in.Aborted {
		return StateAbortedFailed
	}
	if len(in.PhaseStatus) == 0 {
		return StateNotStarted
	}
	allCompleted := true
	anyStarted := false
	for _, s := range in.PhaseStatus {
		if s != models.PhasePending {
			anyStarted = true
		}
		if s != models.PhaseCompleted {
			allCompleted = false
		}
	}
	if !anyStarted {
		return StateNotStarted
	}
	if allCompleted {
		return StateAllPhasesCompleted
	}
	return StateRunning
}

// Elapsed returns the wall-clock time since the instance started.
func (in *Instance) Elapsed() time.Duration {
	if in.StartedAt.IsZero() {
		return 0
	}
	if !in.FinishedAt.IsZero() {
		return in.FinishedAt.Sub(in.StartedAt)
	}
	return time.Since(in.StartedAt)
}
