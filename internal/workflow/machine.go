package workflow

import (
	"fmt"
	"sync"
	"time"

	"github.com/kestrelworks/swarmgate/internal/config"
	"github.com/kestrelworks/swarmgate/pkg/models"
)

// verificationRank orders verification levels for comparison.
func verificationRank(v models.VerificationLevel) int {
	switch v {
	case models.VerifyNone:
		return 0
	case models.VerifyBasic:
		return 1
	case models.VerifyFull:
		return 2
	case models.VerifyFullSecurity:
		return 3
	default:
		return 3
	}
}

// maxVerification returns the stricter of two verification levels.
func maxVerification(a, b models.VerificationLevel) models.VerificationLevel {
	if verificationRank(b) > verificationRank(a) {
		return b
	}
	return a
}

// EscalationOutcome is the result of escalating a phase after its
// recovery attempts are exhausted.
type EscalationOutcome string

const (
	// EscalationReplanned means non-critical tasks were dropped and the
	// phase re-entered execution with reduced scope.
	EscalationReplanned EscalationOutcome = "replanned"
	// EscalationAborted means the instance terminated with partial
	// results preserved.
	EscalationAborted EscalationOutcome = "aborted"
)

// Machine drives one Instance through its phase sequence. All mutation
// is single-writer through the machine's methods; readers get copies.
type Machine struct {
	mu         sync.RWMutex
	inst       *Instance
	cfg        config.WorkflowConfig
	gate       *ConfirmationGate
	recoveries map[int]int
	confirmed  map[int]string
}

// NewMachine creates a Machine for the given instance. The gate may be
// nil when no contained task reached T3.
func NewMachine(inst *Instance, cfg config.WorkflowConfig, gate *ConfirmationGate) *Machine {
	return &Machine{
		inst:       inst,
		cfg:        cfg,
		gate:       gate,
		recoveries: make(map[int]int),
		confirmed:  make(map[int]string),
	}
}

// Instance returns a snapshot copy of the instance.
func (m *Machine) Instance() Instance {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap := *m.inst
	snap.PhaseStatus = append([]models.PhaseStatus(nil), m.inst.PhaseStatus...)
	snap.ModifiedResources = append([]string(nil), m.inst.ModifiedResources...)
	snap.Errors = append([]string(nil), m.inst.Errors...)
	snap.Transitions = append([]Transition(nil), m.inst.Transitions...)
	return snap
}

// State returns the current lifecycle state.
func (m *Machine) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.inst.State()
}

// CurrentPhase returns the index and definition of the in-progress
// phase, or -1 and a zero Phase when none is in progress.
func (m *Machine) CurrentPhase() (int, models.Phase) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.inst.Current < 0 || m.inst.Current >= len(m.inst.Plan.Phases) {
		return -1, models.Phase{}
	}
	return m.inst.Current, m.inst.Plan.Phases[m.inst.Current]
}

// StartNext moves the next pending phase to in_progress. It enforces
// the invariant that at most one phase is in progress at a time.
func (m *Machine) StartNext() (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.inst.Aborted {
		return -1, fmt.Errorf("instance %s is aborted", m.inst.ID)
	}
	if m.inst.Current >= 0 {
		return -1, fmt.Errorf("phase %d is already in progress", m.inst.Current)
	}

	for i, s := range m.inst.PhaseStatus {
		if s == models.PhasePending {
			m.transitionLocked(i, models.PhasePending, models.PhaseInProgress, "")
			m.inst.Current = i
			if m.inst.StartedAt.IsZero() {
				m.inst.StartedAt = time.Now()
			}
			return i, nil
		}
	}
	return -1, fmt.Errorf("no pending phases remain")
}

// RequiredVerification returns the verification requirement for a phase:
// the stricter of the plan's requirement and the tier table.
func (m *Machine) RequiredVerification(phaseIdx int) models.VerificationLevel {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if phaseIdx < 0 || phaseIdx >= len(m.inst.Plan.Phases) {
		return models.VerifyFullSecurity
	}
	return maxVerification(m.inst.Plan.Phases[phaseIdx].Verification, models.VerificationFor(m.inst.Tier))
}

// RecordConfirmation records a human-confirmation event for the phase,
// bound to the digest of the results it covers. Required before a T3
// instance may complete a phase.
func (m *Machine) RecordConfirmation(phaseIdx int, digest string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.confirmed[phaseIdx] = digest
	m.appendLocked(Transition{Phase: phaseIdx, Note: "human confirmation recorded", At: time.Now()})
}

// CompletePhase transitions the in-progress phase to completed.
// achieved is the verification level the phase's verification step
// satisfied. Completion is refused when verification falls short of the
// requirement, and for T3 instances when no human confirmation is
// recorded or when the gate's approval no longer binds to the digest of
// the current results, even if all automated verification passed.
func (m *Machine) CompletePhase(phaseIdx int, achieved models.VerificationLevel) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.inst.Current != phaseIdx {
		return fmt.Errorf("phase %d is not in progress", phaseIdx)
	}

	required := maxVerification(m.inst.Plan.Phases[phaseIdx].Verification, models.VerificationFor(m.inst.Tier))
	if verificationRank(achieved) < verificationRank(required) {
		return fmt.Errorf("phase %d verification %s does not satisfy required %s", phaseIdx, achieved, required)
	}

	if m.inst.Tier.RequiresConfirmation() {
		digest, ok := m.confirmed[phaseIdx]
		if !ok {
			return &ConfirmationRequiredError{InstanceID: m.inst.ID, Phase: phaseIdx}
		}
		if m.gate != nil && !m.gate.Confirmed(m.inst.ID, phaseIdx, digest) {
			return &ConfirmationRequiredError{InstanceID: m.inst.ID, Phase: phaseIdx, Stale: true}
		}
	}

	m.transitionLocked(phaseIdx, models.PhaseInProgress, models.PhaseCompleted, "")
	m.inst.Current = -1
	if m.inst.State() == StateAllPhasesCompleted {
		m.inst.FinishedAt = time.Now()
	}
	return nil
}

// FailPhase transitions the in-progress phase to failed with a reason.
func (m *Machine) FailPhase(phaseIdx int, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.inst.Current != phaseIdx {
		return fmt.Errorf("phase %d is not in progress", phaseIdx)
	}
	m.transitionLocked(phaseIdx, models.PhaseInProgress, models.PhaseFailed, reason)
	m.inst.Errors = append(m.inst.Errors, fmt.Sprintf("phase %d: %s", phaseIdx, reason))
	m.inst.Current = -1
	return nil
}

// Recover re-enters a failed phase for a targeted fix. Completed
// sibling phases are never restarted. Returns false when the phase has
// exhausted its recovery attempts and must escalate instead.
func (m *Machine) Recover(phaseIdx int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if phaseIdx < 0 || phaseIdx >= len(m.inst.PhaseStatus) {
		return false, fmt.Errorf("phase %d out of range", phaseIdx)
	}
	if m.inst.PhaseStatus[phaseIdx] != models.PhaseFailed {
		return false, fmt.Errorf("phase %d is not failed", phaseIdx)
	}
	if m.inst.Current >= 0 {
		return false, fmt.Errorf("phase %d is already in progress", m.inst.Current)
	}

	if m.recoveries[phaseIdx] >= m.cfg.MaxRecoveryAttempts {
		return false, nil
	}
	m.recoveries[phaseIdx]++
	m.transitionLocked(phaseIdx, models.PhaseFailed, models.PhaseInProgress,
		fmt.Sprintf("recovery attempt %d", m.recoveries[phaseIdx]))
	m.inst.Current = phaseIdx
	return true, nil
}

// Escalate resolves a phase that failed after its recovery attempts.
// When canReduce is true the phase is re-planned with reduced scope;
// otherwise the instance aborts, preserving partial results.
func (m *Machine) Escalate(phaseIdx int, canReduce bool) (EscalationOutcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if phaseIdx < 0 || phaseIdx >= len(m.inst.PhaseStatus) {
		return "", fmt.Errorf("phase %d out of range", phaseIdx)
	}
	if m.inst.PhaseStatus[phaseIdx] != models.PhaseFailed {
		return "", fmt.Errorf("phase %d is not failed", phaseIdx)
	}

	if canReduce {
		// Reduced-scope re-plan gets one fresh execution; the recovery
		// counter resets because the phase contents changed.
		m.recoveries[phaseIdx] = 0
		m.transitionLocked(phaseIdx, models.PhaseFailed, models.PhaseInProgress, "reduced-scope re-plan")
		m.inst.Current = phaseIdx
		return EscalationReplanned, nil
	}

	m.inst.Aborted = true
	m.inst.FinishedAt = time.Now()
	m.appendLocked(Transition{Phase: phaseIdx, Note: "escalation: aborted with partial results preserved", At: time.Now()})
	return EscalationAborted, nil
}

// RecordModified appends resources to the accumulated modified list.
func (m *Machine) RecordModified(resources ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inst.ModifiedResources = append(m.inst.ModifiedResources, resources...)
}

// transitionLocked applies a phase status change and logs it.
// Caller must hold m.mu.
func (m *Machine) transitionLocked(phaseIdx int, from, to models.PhaseStatus, note string) {
	m.inst.PhaseStatus[phaseIdx] = to
	m.appendLocked(Transition{Phase: phaseIdx, From: from, To: to, Note: note, At: time.Now()})
}

// appendLocked appends to the transition log. Caller must hold m.mu.
func (m *Machine) appendLocked(tr Transition) {
	m.inst.Transitions = append(m.inst.Transitions, tr)
}

// ConfirmationRequiredError indicates a T3 phase attempted to complete
// without a recorded human-confirmation event, or with a confirmation
// that no longer binds to the current results.
type ConfirmationRequiredError struct {
	// InstanceID is the instance that was refused completion.
	InstanceID string
	// Phase is the phase index awaiting confirmation.
	Phase int
	// Stale indicates an approval exists but its digest does not match
	// the current results, so re-confirmation is required.
	Stale bool
}

// Error implements the error interface.
func (e *ConfirmationRequiredError) Error() string {
	if e.Stale {
		return fmt.Sprintf("instance %s phase %d confirmation no longer binds to the current results", e.InstanceID, e.Phase)
	}
	return fmt.Sprintf("instance %s phase %d requires human confirmation before completion", e.InstanceID, e.Phase)
}
