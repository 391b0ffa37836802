package swarm

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/kestrelworks/swarmgate/internal/config"
	"github.com/kestrelworks/swarmgate/internal/runner"
	"github.com/kestrelworks/swarmgate/pkg/models"
)

func testSwarmConfig() config.SwarmConfig {
	cfg := config.Default().Swarm
	cfg.MaxWorkers = 4
	cfg.StallGracePeriod = 60 * time.Millisecond
	cfg.ProgressPoll = 10 * time.Millisecond
	return cfg
}

func task(id, area string, critical bool) models.AgentTask {
	return models.AgentTask{
		ID:        id,
		Phase:     "implement",
		Title:     "work on " + id,
		Resources: []string{area + "/" + id + ".go"},
		Status:    models.TaskStatusPending,
		Critical:  critical,
	}
}

func TestRunPhase_AllTasksSucceed(t *testing.T) {
	factory := runner.NewScriptedFactory()
	c := NewCoordinator(testSwarmConfig(), factory, nil)

	tasks := []models.AgentTask{
		task("t1", "pkg-a", false),
		task("t2", "pkg-b", false),
		task("t3", "pkg-c", true),
	}

	res, err := c.RunPhase(context.Background(), models.Phase{Name: "implement"}, tasks)
	if err != nil {
		t.Fatalf("RunPhase failed: %v", err)
	}
	if !res.Succeeded() {
		t.Fatalf("failed tasks: %v", res.Failed)
	}
	for _, tk := range tasks {
		out, ok := res.Outcomes[tk.ID]
		if !ok || !out.Success {
			t.Errorf("task %s outcome missing or unsuccessful", tk.ID)
		}
	}
	if res.Spawned != 3 {
		t.Errorf("spawned = %d, want 3", res.Spawned)
	}
	if len(res.Modified) != 3 {
		t.Errorf("modified resources = %v, want 3 entries", res.Modified)
	}
}

func TestRunPhase_RejectsOverlappingTasks(t *testing.T) {
	factory := runner.NewScriptedFactory()
	c := NewCoordinator(testSwarmConfig(), factory, nil)

	tasks := []models.AgentTask{
		{ID: "t1", Phase: "implement", Title: "a", Resources: []string{"pkg/shared.go"}},
		{ID: "t2", Phase: "implement", Title: "b", Resources: []string{"pkg/shared.go"}},
	}

	_, err := c.RunPhase(context.Background(), models.Phase{Name: "implement"}, tasks)
	if err == nil {
		t.Fatal("overlapping task set must be rejected")
	}
	overlapErr, ok := err.(*OverlapError)
	if !ok {
		t.Fatalf("error type = %T, want OverlapError", err)
	}
	if overlapErr.TaskA != "t1" || overlapErr.TaskB != "t2" {
		t.Errorf("overlap pair = %s/%s, want t1/t2", overlapErr.TaskA, overlapErr.TaskB)
	}
	if len(factory.Runs()) != 0 {
		t.Error("no worker may start when planning failed")
	}
}

func TestRunPhase_StalledWorkerReplacedExactlyOnce(t *testing.T) {
	factory := runner.NewScriptedFactory().StallTimes("t-stall", 1)
	c := NewCoordinator(testSwarmConfig(), factory, nil)

	tasks := []models.AgentTask{
		task("t-stall", "pkg-a", false),
		task("t-ok", "pkg-b", false),
	}

	res, err := c.RunPhase(context.Background(), models.Phase{Name: "implement"}, tasks)
	if err != nil {
		t.Fatalf("RunPhase failed: %v", err)
	}

	if out := res.Outcomes["t-stall"]; !out.Success {
		t.Error("replacement should complete the stalled task")
	}
	if res.Replacements != 1 {
		t.Errorf("replacements = %d, want exactly 1", res.Replacements)
	}

	var replaced, replacements int
	for _, w := range res.Workers {
		if w.Status == models.WorkerStatusReplaced {
			replaced++
		}
		if w.IsReplacement() {
			replacements++
			if w.Status != models.WorkerStatusDone {
				t.Errorf("replacement worker status = %s, want done", w.Status)
			}
		}
	}
	if replaced != 1 || replacements != 1 {
		t.Errorf("replaced=%d replacements=%d, want 1/1", replaced, replacements)
	}
	if runs := factory.RunsFor("t-stall"); len(runs) != 2 {
		t.Errorf("stalled task ran %d times, want 2 (original plus replacement)", len(runs))
	}
}

func TestRunPhase_FixWorkersOnlyForFailingTasks(t *testing.T) {
	factory := runner.NewScriptedFactory().
		FailTimes("t2", 1).
		FailTimes("t4", 1)

	verifyCalls := 0
	verify := func(ctx context.Context, res *PhaseResult) map[string]Verdict {
		verifyCalls++
		verdicts := make(map[string]Verdict)
		for id, out := range res.Outcomes {
			verdicts[id] = Verdict{Passed: out.Success, Detail: "execution failed"}
		}
		return verdicts
	}
	c := NewCoordinator(testSwarmConfig(), factory, verify)

	tasks := []models.AgentTask{
		task("t1", "pkg-a", false),
		task("t2", "pkg-b", false),
		task("t3", "pkg-c", false),
		task("t4", "pkg-d", false),
		task("t5", "pkg-e", false),
	}

	res, err := c.RunPhase(context.Background(), models.Phase{Name: "implement"}, tasks)
	if err != nil {
		t.Fatalf("RunPhase failed: %v", err)
	}
	if !res.Succeeded() {
		t.Fatalf("failed tasks after fix round: %v", res.Failed)
	}

	// Passing tasks are left untouched by the fix round.
	for _, id := range []string{"t1", "t3", "t5"} {
		if runs := factory.RunsFor(id); len(runs) != 1 {
			t.Errorf("passing task %s ran %d times, want 1", id, len(runs))
		}
	}
	for _, id := range []string{"t2", "t4"} {
		if runs := factory.RunsFor(id); len(runs) != 2 {
			t.Errorf("failing task %s ran %d times, want 2", id, len(runs))
		}
		if out := res.Outcomes[id]; !out.Success {
			t.Errorf("task %s should succeed after its fix worker", id)
		}
	}
	if verifyCalls != 2 {
		t.Errorf("verification ran %d times, want 2 (initial plus post-fix)", verifyCalls)
	}
}

func TestRunPhase_SecondConsecutiveFailureEscalates(t *testing.T) {
	factory := runner.NewScriptedFactory().FailTimes("t-bad", 5)
	c := NewCoordinator(testSwarmConfig(), factory, nil)

	tasks := []models.AgentTask{
		task("t-bad", "pkg-a", true),
		task("t-ok", "pkg-b", false),
	}

	res, err := c.RunPhase(context.Background(), models.Phase{Name: "implement"}, tasks)
	if err != nil {
		t.Fatalf("RunPhase errored: %v", err)
	}

	if res.Succeeded() {
		t.Fatal("repeated failure must surface for escalation")
	}
	if len(res.Failed) != 1 || res.Failed[0] != "t-bad" {
		t.Errorf("failed = %v, want [t-bad]", res.Failed)
	}
	// One fix attempt, then stop. Never a third worker for the task.
	if runs := factory.RunsFor("t-bad"); len(runs) != 2 {
		t.Errorf("failing task ran %d times, want 2", len(runs))
	}
	if out := res.Outcomes["t-ok"]; !out.Success {
		t.Error("sibling task should still succeed")
	}
}

func TestRunPhase_WorkerCeilingNeverExceeded(t *testing.T) {
	cfg := testSwarmConfig()
	cfg.MaxWorkers = 3
	factory := runner.NewScriptedFactory().WithDelay(5 * time.Millisecond)
	c := NewCoordinator(cfg, factory, nil)

	// Nine tasks across distinct areas so nothing merges away.
	var tasks []models.AgentTask
	for _, id := range []string{"a", "b", "c", "d", "e", "f", "g", "h", "i"} {
		tasks = append(tasks, task("t-"+id, "pkg-"+id, true))
	}

	res, err := c.RunPhase(context.Background(), models.Phase{Name: "implement"}, tasks)
	if err != nil {
		t.Fatalf("RunPhase failed: %v", err)
	}
	if !res.Succeeded() {
		t.Fatalf("failed: %v", res.Failed)
	}
	if len(res.Outcomes) != 9 {
		t.Errorf("outcomes = %d, want 9 (critical work is never dropped)", len(res.Outcomes))
	}
}

func TestPlanWaves_MergesRelatedBeforeDeferring(t *testing.T) {
	// Six tasks in three areas with a ceiling of three: merging by area
	// fits everything without deferral.
	tasks := []models.AgentTask{
		task("t1", "pkg-a", false),
		task("t2", "pkg-a", false),
		task("t3", "pkg-b", false),
		task("t4", "pkg-b", false),
		task("t5", "pkg-c", false),
		task("t6", "pkg-c", false),
	}

	waves, deferred := planWaves(tasks, 3, false)
	if len(deferred) != 0 {
		t.Errorf("deferred = %v, want none after merging", deferred)
	}
	if len(waves) != 1 {
		t.Fatalf("waves = %d, want 1", len(waves))
	}
	if len(waves[0]) != 3 {
		t.Errorf("wave size = %d, want 3 merged assignments", len(waves[0]))
	}
	for _, a := range waves[0] {
		if len(a.tasks) != 2 {
			t.Errorf("assignment carries %d tasks, want 2", len(a.tasks))
		}
	}
}

func TestPlanWaves_DefersNonCriticalUnderPressure(t *testing.T) {
	var tasks []models.AgentTask
	for _, id := range []string{"a", "b", "c", "d"} {
		tasks = append(tasks, task("crit-"+id, "pkg-"+id, true))
	}
	for _, id := range []string{"e", "f"} {
		tasks = append(tasks, task("opt-"+id, "pkg-"+id, false))
	}

	// Six assignments against a ceiling of two exceed the two-wave cap,
	// so the non-critical pair is deferred.
	waves, deferred := planWaves(tasks, 2, false)
	if len(deferred) != 2 {
		t.Fatalf("deferred = %d tasks, want the 2 non-critical ones", len(deferred))
	}
	for _, d := range deferred {
		if d.Critical {
			t.Errorf("critical task %s was deferred", d.ID)
		}
		if d.Status != models.TaskStatusDeferred {
			t.Errorf("deferred task %s status = %s", d.ID, d.Status)
		}
	}
	for _, wave := range waves {
		if len(wave) > 2 {
			t.Errorf("wave size %d exceeds ceiling 2", len(wave))
		}
	}
}

func TestPlanWaves_CriticalOverflowSplitsIntoWaves(t *testing.T) {
	var tasks []models.AgentTask
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		tasks = append(tasks, task("crit-"+id, "pkg-"+id, true))
	}

	waves, deferred := planWaves(tasks, 2, false)
	if len(deferred) != 0 {
		t.Fatal("critical tasks must never be deferred")
	}
	total := 0
	for _, wave := range waves {
		if len(wave) > 2 {
			t.Errorf("wave size %d exceeds ceiling 2", len(wave))
		}
		total += len(wave)
	}
	if total != 5 {
		t.Errorf("scheduled %d assignments, want 5", total)
	}
}

func TestRunPhase_ConservationModeCompressesAndDefers(t *testing.T) {
	cfg := testSwarmConfig()
	cfg.MaxWorkers = 2
	cfg.ConservationMaxSpawned = 2
	cfg.SummaryLimit = 10

	factory := runner.NewScriptedFactory()
	c := NewCoordinator(cfg, factory, nil)

	tasks := []models.AgentTask{
		task("crit-1", "pkg-a", true),
		task("crit-2", "pkg-b", true),
		task("opt-1", "pkg-c", false),
		task("opt-2", "pkg-d", false),
	}

	res, err := c.RunPhase(context.Background(), models.Phase{Name: "implement"}, tasks)
	if err != nil {
		t.Fatalf("RunPhase failed: %v", err)
	}

	if !res.Conservation {
		t.Fatal("spawn ceiling should trip conservation mode")
	}
	if !c.ConservationActive() {
		t.Error("conservation mode should persist on the coordinator")
	}
	if len(res.Deferred) != 2 {
		t.Errorf("deferred = %d tasks, want the 2 non-critical ones after early completion", len(res.Deferred))
	}
	for _, id := range []string{"crit-1", "crit-2"} {
		if out := res.Outcomes[id]; !out.Success {
			t.Errorf("critical task %s should have completed", id)
		}
	}
	for _, w := range res.Workers {
		if len(w.Summary) > cfg.SummaryLimit {
			t.Errorf("worker %s summary %d bytes exceeds conservation limit %d", w.ID, len(w.Summary), cfg.SummaryLimit)
		}
	}
}

func TestRunPhase_ContextCancellation(t *testing.T) {
	factory := runner.NewScriptedFactory().WithDelay(200 * time.Millisecond)
	c := NewCoordinator(testSwarmConfig(), factory, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := c.RunPhase(ctx, models.Phase{Name: "implement"}, []models.AgentTask{
		task("t1", "pkg-a", false),
	})
	if err == nil {
		t.Fatal("cancelled phase should return an error")
	}
	if !strings.Contains(err.Error(), "deadline") && !strings.Contains(err.Error(), "cancel") {
		t.Errorf("error = %v, want a context error", err)
	}
}
