package models

// PlanClass identifies the shape of a workflow plan.
type PlanClass string

const (
	// PlanDirect is a single-phase direct-execution plan for low-scoring
	// requests.
	PlanDirect PlanClass = "direct"
	// PlanFixed is the fixed three-phase plan: plan, implement, verify.
	PlanFixed PlanClass = "fixed"
	// PlanPhased is the phase-based plan with explicit checkpointing
	// between phases to bound working context.
	PlanPhased PlanClass = "phased"
)

// Valid returns true if the class is a known value.
func (c PlanClass) Valid() bool {
	switch c {
	case PlanDirect, PlanFixed, PlanPhased:
		return true
	default:
		return false
	}
}

// Ownership describes who executes a phase.
type Ownership string

const (
	// OwnerSingle means one agent owns the entire phase.
	OwnerSingle Ownership = "single"
	// OwnerSwarm means a parallel swarm of workers executes the phase.
	OwnerSwarm Ownership = "swarm"
)

// Phase is one stage of a WorkflowPlan.
type Phase struct {
	// Name identifies the phase (e.g., "plan", "implement", "verify").
	Name string `json:"name"`
	// Ownership is the execution model for this phase.
	Ownership Ownership `json:"ownership"`
	// Verification is the verification requirement for this phase.
	Verification VerificationLevel `json:"verification"`
	// Checkpoint indicates a context checkpoint is taken after this phase.
	Checkpoint bool `json:"checkpoint,omitempty"`
	// Independent marks this phase as runnable concurrently with the
	// previous phase. Phases are strictly sequential otherwise.
	Independent bool `json:"independent,omitempty"`
}

// WorkflowPlan is the ordered phase sequence selected for a request.
type WorkflowPlan struct {
	// Class identifies the plan shape.
	Class PlanClass `json:"class"`
	// Phases is the ordered sequence of phases.
	Phases []Phase `json:"phases"`
	// Reasoning explains why this plan was selected.
	Reasoning string `json:"reasoning,omitempty"`
	// Confidence is how confident the selection is (0.0-1.0).
	Confidence float64 `json:"confidence"`
	// Fallback indicates the conservative fallback plan was used because
	// one or more dimensions were unscorable.
	Fallback bool `json:"fallback,omitempty"`
}

// PhaseStatus is the run status of a single phase in an instance.
type PhaseStatus string

const (
	// PhasePending indicates the phase has not started.
	PhasePending PhaseStatus = "pending"
	// PhaseInProgress indicates the phase is executing.
	PhaseInProgress PhaseStatus = "in_progress"
	// PhaseCompleted indicates the phase finished and passed verification.
	PhaseCompleted PhaseStatus = "completed"
	// PhaseFailed indicates the phase failed after recovery attempts.
	PhaseFailed PhaseStatus = "failed"
)

// Valid returns true if the status is a known value.
func (s PhaseStatus) Valid() bool {
	switch s {
	case PhasePending, PhaseInProgress, PhaseCompleted, PhaseFailed:
		return true
	default:
		return false
	}
}

// Terminal returns true if the status is completed or failed.
func (s PhaseStatus) Terminal() bool {
	return s == PhaseCompleted || s == PhaseFailed
}
