package decision

import (
	"math"
	"reflect"
	"testing"

	"github.com/kestrelworks/swarmgate/internal/config"
	"github.com/kestrelworks/swarmgate/pkg/models"
)

func testEngine() *Engine {
	return NewEngine(config.Default().Decision, nil)
}

func TestClassify_TypoFixIsDirect(t *testing.T) {
	e := testEngine()
	req := models.Request{ID: "r1", Description: "fix typo in login page"}

	score, plan := e.Classify(req)

	if plan.Class != models.PlanDirect {
		t.Fatalf("plan class = %s (%s), want direct", plan.Class, plan.Reasoning)
	}
	if len(plan.Phases) != 1 {
		t.Errorf("direct plan should have 1 phase, got %d", len(plan.Phases))
	}
	if score.Get(models.DimComplexity) > 4 {
		t.Errorf("typo fix complexity = %.1f, want low", score.Get(models.DimComplexity))
	}
	if score.Get(models.DimRisk) > 2 {
		t.Errorf("typo fix risk = %.1f, want low", score.Get(models.DimRisk))
	}
}

func TestClassify_ModerateIsFixed(t *testing.T) {
	e := testEngine()
	req := models.Request{
		ID:          "r2",
		Description: "implement a new api endpoint to create invoices",
		FileHints:   []string{"internal/api/server.go", "internal/api/routes.go"},
	}

	_, plan := e.Classify(req)

	if plan.Class != models.PlanFixed {
		t.Fatalf("plan class = %s (%s), want fixed", plan.Class, plan.Reasoning)
	}
	names := make([]string, 0, len(plan.Phases))
	for _, p := range plan.Phases {
		names = append(names, p.Name)
	}
	want := []string{"plan", "implement", "verify"}
	if !reflect.DeepEqual(names, want) {
		t.Errorf("fixed plan phases = %v, want %v", names, want)
	}
}

func TestClassify_HighComplexityIsPhased(t *testing.T) {
	e := testEngine()
	req := models.Request{
		ID: "r3",
		Description: "refactor the distributed system architecture to migrate the " +
			"database schema and redesign the auth integration across all services",
		FileHints: []string{"a.go", "b.go", "c.go", "d.go", "e.go", "f.go"},
	}

	_, plan := e.Classify(req)

	if plan.Class != models.PlanPhased {
		t.Fatalf("plan class = %s (%s), want phased", plan.Class, plan.Reasoning)
	}
	for _, p := range plan.Phases {
		if !p.Checkpoint {
			t.Errorf("phased plan phase %q should checkpoint", p.Name)
		}
	}
}

func TestClassify_ContextCeilingDominates(t *testing.T) {
	e := testEngine()
	// A trivially simple request whose session context alone crosses the
	// ceiling: the context bound must dominate every other signal.
	req := models.Request{
		ID:          "r4",
		Description: "fix typo",
		Session: models.SessionContext{
			TokensUsed:  500_000,
			RecentFiles: []string{"a", "b", "c", "d", "e", "f", "g", "h"},
		},
	}

	score, plan := e.Classify(req)

	if score.Get(models.DimContextLoad) < e.cfg.ContextCeiling {
		t.Fatalf("context load = %.1f, expected at or above ceiling %.1f",
			score.Get(models.DimContextLoad), e.cfg.ContextCeiling)
	}
	if plan.Class != models.PlanPhased {
		t.Errorf("plan class = %s, want phased when context ceiling is crossed", plan.Class)
	}
}

func TestClassify_UnscorableDimensionFallsBack(t *testing.T) {
	cfg := config.Default().Decision
	delete(cfg.Weights, "security")
	e := NewEngine(cfg, nil)

	_, plan := e.Classify(models.Request{ID: "r5", Description: "fix typo"})

	if !plan.Fallback {
		t.Fatal("missing weight should select the conservative fallback plan")
	}
	if plan.Class != models.PlanPhased {
		t.Errorf("fallback plan class = %s, want phased", plan.Class)
	}
	for _, p := range plan.Phases {
		if p.Verification != models.VerifyFullSecurity {
			t.Errorf("fallback phase %q verification = %s, want full_security_rollback", p.Name, p.Verification)
		}
	}
}

func TestClassify_Deterministic(t *testing.T) {
	e := testEngine()
	req := models.Request{
		ID:          "r6",
		Description: "implement caching for the search api",
		FileHints:   []string{"internal/search/cache.go"},
		Session:     models.SessionContext{TokensUsed: 12_000},
	}

	firstScore, firstPlan := e.Classify(req)
	for i := 0; i < 20; i++ {
		score, plan := e.Classify(req)
		if !reflect.DeepEqual(score, firstScore) {
			t.Fatalf("score not deterministic: %v vs %v", score, firstScore)
		}
		if plan.Class != firstPlan.Class || plan.Reasoning != firstPlan.Reasoning {
			t.Fatalf("plan not deterministic: %+v vs %+v", plan, firstPlan)
		}
	}
}

func TestClassify_AlwaysProducesOnePlanAndScore(t *testing.T) {
	e := testEngine()
	inputs := []string{
		"",
		"do the thing",
		"urgent: drop the production billing table immediately",
		"write comprehensive end to end tests for the entire codebase",
	}

	for _, desc := range inputs {
		score, plan := e.Classify(models.Request{Description: desc})
		if !score.Complete() {
			t.Errorf("Classify(%q) produced incomplete score", desc)
		}
		if !plan.Class.Valid() || len(plan.Phases) == 0 {
			t.Errorf("Classify(%q) produced invalid plan %+v", desc, plan)
		}
		for _, d := range models.Dimensions {
			v := score.Get(d)
			if v < models.ScoreMin || v > models.ScoreMax {
				t.Errorf("Classify(%q) dimension %s = %v out of range", desc, d, v)
			}
		}
	}
}

func TestClassify_CriticalRiskOverride(t *testing.T) {
	e := testEngine()
	req := models.Request{
		ID:          "r7",
		Description: "delete and drop the breaking production schema",
	}

	score, plan := e.Classify(req)

	if score.Get(models.DimRisk) < e.cfg.CriticalRisk {
		t.Skipf("risk score %.1f below critical threshold; keyword tables changed", score.Get(models.DimRisk))
	}
	if plan.Class != models.PlanPhased {
		t.Errorf("critical risk should force phased plan, got %s", plan.Class)
	}
}

func TestAggregate_WeightsApplied(t *testing.T) {
	cfg := config.Default().Decision
	e := NewEngine(cfg, nil)

	uniform := models.Score{}
	for _, d := range models.Dimensions {
		uniform[d] = 5
	}
	if got := e.Aggregate(uniform); math.Abs(got-5) > 1e-9 {
		t.Errorf("uniform score aggregate = %v, want 5", got)
	}
}
