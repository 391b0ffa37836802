package workflow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kestrelworks/swarmgate/internal/config"
	"github.com/kestrelworks/swarmgate/pkg/models"
)

func fixedPlan() models.WorkflowPlan {
	return models.WorkflowPlan{
		Class: models.PlanFixed,
		Phases: []models.Phase{
			{Name: "plan", Ownership: models.OwnerSingle, Verification: models.VerifyNone},
			{Name: "implement", Ownership: models.OwnerSwarm, Verification: models.VerifyBasic},
			{Name: "verify", Ownership: models.OwnerSingle, Verification: models.VerifyFull},
		},
	}
}

func newTestMachine(tier models.RiskTier) *Machine {
	inst := NewInstance("req-1", fixedPlan(), tier)
	return NewMachine(inst, config.Default().Workflow, nil)
}

func TestMachine_HappyPath(t *testing.T) {
	m := newTestMachine(models.TierT0)

	if m.State() != StateNotStarted {
		t.Fatalf("initial state = %s, want not_started", m.State())
	}

	for i := 0; i < 3; i++ {
		idx, err := m.StartNext()
		if err != nil {
			t.Fatalf("StartNext phase %d failed: %v", i, err)
		}
		if idx != i {
			t.Fatalf("StartNext = %d, want %d", idx, i)
		}
		if m.State() != StateRunning {
			t.Errorf("state during phase %d = %s, want running", i, m.State())
		}
		if err := m.CompletePhase(idx, models.VerifyFullSecurity); err != nil {
			t.Fatalf("CompletePhase %d failed: %v", i, err)
		}
	}

	if m.State() != StateAllPhasesCompleted {
		t.Errorf("final state = %s, want all_phases_completed", m.State())
	}
	if _, err := m.StartNext(); err == nil {
		t.Error("StartNext after completion should error")
	}
}

func TestMachine_SingleInProgressInvariant(t *testing.T) {
	m := newTestMachine(models.TierT0)

	if _, err := m.StartNext(); err != nil {
		t.Fatal(err)
	}
	if _, err := m.StartNext(); err == nil {
		t.Error("second StartNext should refuse while a phase is in progress")
	}

	inst := m.Instance()
	inProgress := 0
	for _, s := range inst.PhaseStatus {
		if s == models.PhaseInProgress {
			inProgress++
		}
	}
	if inProgress != 1 {
		t.Errorf("in-progress phases = %d, want exactly 1", inProgress)
	}
}

func TestMachine_VerificationGate(t *testing.T) {
	// T1 requires full verification per the tier table, stricter than
	// the implement phase's declared basic level.
	m := newTestMachine(models.TierT1)

	idx, err := m.StartNext()
	if err != nil {
		t.Fatal(err)
	}

	if err := m.CompletePhase(idx, models.VerifyBasic); err == nil {
		t.Error("basic verification should not satisfy a T1 phase")
	}
	if err := m.CompletePhase(idx, models.VerifyFull); err != nil {
		t.Errorf("full verification should satisfy a T1 phase: %v", err)
	}
}

func TestMachine_T3RequiresConfirmation(t *testing.T) {
	m := newTestMachine(models.TierT3)

	idx, err := m.StartNext()
	if err != nil {
		t.Fatal(err)
	}

	// Even with the strictest verification level, completion is refused
	// until a human confirmation is recorded.
	err = m.CompletePhase(idx, models.VerifyFullSecurity)
	if err == nil {
		t.Fatal("T3 phase must not complete without confirmation")
	}
	var confErr *ConfirmationRequiredError
	if !errors.As(err, &confErr) {
		t.Fatalf("error type = %T, want ConfirmationRequiredError", err)
	}

	m.RecordConfirmation(idx, Digest("phase results"))
	if err := m.CompletePhase(idx, models.VerifyFullSecurity); err != nil {
		t.Errorf("confirmed T3 phase should complete: %v", err)
	}
}

func TestMachine_T3ConfirmationBindsToDigest(t *testing.T) {
	gate := NewConfirmationGate()
	inst := NewInstance("req-1", fixedPlan(), models.TierT3)
	m := NewMachine(inst, config.Default().Workflow, gate)

	idx, err := m.StartNext()
	if err != nil {
		t.Fatal(err)
	}

	// The operator approves the results as they stood at request time.
	approved := Digest("original phase results")
	go func() {
		req := <-gate.Requests()
		gate.Submit(ConfirmationResponse{InstanceID: req.InstanceID, Phase: req.Phase, Confirmed: true})
	}()
	if _, err := gate.Await(context.Background(), ConfirmationRequest{
		InstanceID:   inst.ID,
		Phase:        idx,
		Summary:      "rotated credentials",
		ResultDigest: approved,
	}); err != nil {
		t.Fatal(err)
	}

	// The results changed after the approval; the confirmation is stale.
	m.RecordConfirmation(idx, Digest("results changed after approval"))
	err = m.CompletePhase(idx, models.VerifyFullSecurity)
	if err == nil {
		t.Fatal("a confirmation bound to stale results must not complete the phase")
	}
	var confErr *ConfirmationRequiredError
	if !errors.As(err, &confErr) || !confErr.Stale {
		t.Fatalf("error = %v, want a stale ConfirmationRequiredError", err)
	}

	m.RecordConfirmation(idx, approved)
	if err := m.CompletePhase(idx, models.VerifyFullSecurity); err != nil {
		t.Errorf("confirmation bound to the approved digest should complete: %v", err)
	}
}

func TestMachine_RecoveryThenEscalation(t *testing.T) {
	m := newTestMachine(models.TierT0)

	idx, _ := m.StartNext()
	if err := m.FailPhase(idx, "verification failed"); err != nil {
		t.Fatal(err)
	}

	// Two recovery attempts are allowed.
	for attempt := 1; attempt <= 2; attempt++ {
		ok, err := m.Recover(idx)
		if err != nil {
			t.Fatalf("Recover attempt %d errored: %v", attempt, err)
		}
		if !ok {
			t.Fatalf("Recover attempt %d should be allowed", attempt)
		}
		if err := m.FailPhase(idx, "still failing"); err != nil {
			t.Fatal(err)
		}
	}

	// Third recovery is refused; escalation is required.
	ok, err := m.Recover(idx)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("third recovery should be refused after two attempts")
	}

	outcome, err := m.Escalate(idx, false)
	if err != nil {
		t.Fatal(err)
	}
	if outcome != EscalationAborted {
		t.Errorf("escalation outcome = %s, want aborted", outcome)
	}
	if m.State() != StateAbortedFailed {
		t.Errorf("state after abort = %s, want aborted_failed", m.State())
	}
}

func TestMachine_EscalationReplanPreservesCompletedPhases(t *testing.T) {
	m := newTestMachine(models.TierT0)

	// Complete phase 0.
	idx, _ := m.StartNext()
	if err := m.CompletePhase(idx, models.VerifyFull); err != nil {
		t.Fatal(err)
	}

	// Fail phase 1 beyond recovery, then re-plan with reduced scope.
	idx, _ = m.StartNext()
	_ = m.FailPhase(idx, "bad")
	for i := 0; i < 2; i++ {
		_, _ = m.Recover(idx)
		_ = m.FailPhase(idx, "bad again")
	}
	outcome, err := m.Escalate(idx, true)
	if err != nil {
		t.Fatal(err)
	}
	if outcome != EscalationReplanned {
		t.Fatalf("outcome = %s, want replanned", outcome)
	}

	inst := m.Instance()
	if inst.PhaseStatus[0] != models.PhaseCompleted {
		t.Error("completed sibling phase must never be restarted by recovery")
	}
	if inst.PhaseStatus[1] != models.PhaseInProgress {
		t.Errorf("re-planned phase status = %s, want in_progress", inst.PhaseStatus[1])
	}
}

func TestMachine_AbortPreservesPartialResults(t *testing.T) {
	m := newTestMachine(models.TierT0)
	m.RecordModified("pkg/a/file.go", "pkg/b/file.go")

	idx, _ := m.StartNext()
	_ = m.FailPhase(idx, "fatal")
	for i := 0; i < 2; i++ {
		_, _ = m.Recover(idx)
		_ = m.FailPhase(idx, "fatal")
	}
	if _, err := m.Escalate(idx, false); err != nil {
		t.Fatal(err)
	}

	inst := m.Instance()
	if len(inst.ModifiedResources) != 2 {
		t.Errorf("modified resources after abort = %v, want preserved", inst.ModifiedResources)
	}
}

func TestMachine_TransitionLogAppendOnly(t *testing.T) {
	m := newTestMachine(models.TierT0)

	idx, _ := m.StartNext()
	_ = m.CompletePhase(idx, models.VerifyFull)

	first := m.Instance().Transitions
	idx, _ = m.StartNext()
	_ = m.CompletePhase(idx, models.VerifyFull)
	second := m.Instance().Transitions

	if len(second) <= len(first) {
		t.Fatalf("transition log should grow, %d then %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Errorf("transition %d rewritten: %+v vs %+v", i, first[i], second[i])
		}
	}
}

func TestConfirmationGate_RoundTrip(t *testing.T) {
	g := NewConfirmationGate()
	digest := Digest("phase result content")

	done := make(chan ConfirmationResponse, 1)
	go func() {
		resp, err := g.Await(context.Background(), ConfirmationRequest{
			InstanceID:   "inst-1",
			Phase:        2,
			Summary:      "rotated credentials",
			ResultDigest: digest,
		})
		if err != nil {
			t.Errorf("Await failed: %v", err)
		}
		done <- resp
	}()

	// The operator sees the request and confirms.
	select {
	case req := <-g.Requests():
		if req.InstanceID != "inst-1" || req.Phase != 2 {
			t.Errorf("unexpected request %+v", req)
		}
		if !g.Submit(ConfirmationResponse{InstanceID: "inst-1", Phase: 2, Confirmed: true}) {
			t.Error("Submit should find the pending request")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no confirmation request delivered")
	}

	select {
	case resp := <-done:
		if !resp.Confirmed {
			t.Error("response should be confirmed")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Await did not return")
	}

	if !g.Confirmed("inst-1", 2, digest) {
		t.Error("confirmation should be recorded against the digest")
	}
	if g.Confirmed("inst-1", 2, Digest("different content")) {
		t.Error("changed result digest must invalidate the confirmation")
	}
}

func TestConfirmationGate_ContextCancel(t *testing.T) {
	g := NewConfirmationGate()
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() {
		_, err := g.Await(ctx, ConfirmationRequest{InstanceID: "inst-2", Phase: 0})
		errCh <- err
	}()

	<-g.Requests()
	cancel()

	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Await error = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Await did not return after cancellation")
	}

	if g.Submit(ConfirmationResponse{InstanceID: "inst-2", Phase: 0, Confirmed: true}) {
		t.Error("Submit after cancellation should find no pending request")
	}
}
