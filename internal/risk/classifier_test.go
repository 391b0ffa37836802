package risk

import (
	"errors"
	"testing"

	"github.com/kestrelworks/swarmgate/internal/config"
	"github.com/kestrelworks/swarmgate/pkg/models"
)

func TestClassifier_DecisionTree(t *testing.T) {
	c := NewClassifier(nil)

	tests := []struct {
		name string
		task TaskDescriptor
		want models.RiskTier
	}{
		{
			name: "typo fix is T0",
			task: TaskDescriptor{Description: "fix typo in contributing guide"},
			want: models.TierT0,
		},
		{
			name: "typo on a page is still T0",
			task: TaskDescriptor{Description: "fix typo in login page"},
			want: models.TierT0,
		},
		{
			name: "typo in security code keeps its T2",
			task: TaskDescriptor{Description: "fix typo in the auth error string"},
			want: models.TierT2,
		},
		{
			name: "credential rotation is T3",
			task: TaskDescriptor{Description: "rotate production signing credentials"},
			want: models.TierT3,
		},
		{
			name: "declared irreversible is T3",
			task: TaskDescriptor{Description: "cleanup", Irreversible: true},
			want: models.TierT3,
		},
		{
			name: "data migration without rollback is T3",
			task: TaskDescriptor{Description: "run the data migration without rollback support"},
			want: models.TierT3,
		},
		{
			name: "auth change is T2",
			task: TaskDescriptor{Description: "tighten token validation in the auth middleware"},
			want: models.TierT2,
		},
		{
			name: "declared security sensitive is T2",
			task: TaskDescriptor{Description: "tweak logging", SecuritySensitive: true},
			want: models.TierT2,
		},
		{
			name: "data integrity is T2",
			task: TaskDescriptor{Description: "add checksum verification to the import path"},
			want: models.TierT2,
		},
		{
			name: "user-visible change is T1",
			task: TaskDescriptor{Description: "change the error message shown on signup"},
			want: models.TierT1,
		},
		{
			name: "multi-module change is T1",
			task: TaskDescriptor{Description: "rename helper", Modules: []string{"api", "worker"}},
			want: models.TierT1,
		},
		{
			name: "T3 keyword beats T2 keyword",
			task: TaskDescriptor{Description: "rotate the auth signing key in production"},
			want: models.TierT3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.Classify(tt.task)
			if got.Tier != tt.want {
				t.Errorf("Classify(%q) = %s (%s), want %s", tt.task.Description, got.Tier, got.Reason, tt.want)
			}
			if got.Reason == "" {
				t.Error("classification should always carry a reason")
			}
		})
	}
}

func TestClassifier_Deterministic(t *testing.T) {
	c := NewClassifier(nil)
	task := TaskDescriptor{Description: "migrate billing schema to new provider"}

	first := c.Classify(task)
	for i := 0; i < 10; i++ {
		if got := c.Classify(task); got.Tier != first.Tier {
			t.Fatalf("classification not deterministic: %s then %s", first.Tier, got.Tier)
		}
	}
}

func TestClassifier_SetRules(t *testing.T) {
	c := NewClassifier(nil)

	custom := config.DefaultRules()
	custom.Irreversible = []string{"detonate"}
	custom.Security = nil
	custom.Integrity = nil
	custom.UserVisible = nil
	custom.MultiModule = nil
	c.SetRules(custom)

	if got := c.Classify(TaskDescriptor{Description: "detonate the fixtures"}); got.Tier != models.TierT3 {
		t.Errorf("custom irreversible keyword should yield T3, got %s", got.Tier)
	}
	if got := c.Classify(TaskDescriptor{Description: "update auth token handling"}); got.Tier != models.TierT0 {
		t.Errorf("cleared security table should yield T0, got %s", got.Tier)
	}
}

func TestReady_Gate(t *testing.T) {
	complete := &Assessment{
		FailureScenario:   "migration script corrupts rows",
		DetectionSignal:   "row count mismatch alert",
		FastestRollback:   "restore from pre-migration snapshot",
		WeakestAssumption: "no writes during the window",
	}

	if err := Ready(models.TierT0, nil); err != nil {
		t.Errorf("T0 should not require an assessment, got %v", err)
	}
	if err := Ready(models.TierT3, complete); err != nil {
		t.Errorf("complete assessment should pass, got %v", err)
	}

	err := Ready(models.TierT2, &Assessment{FailureScenario: "it breaks"})
	if err == nil {
		t.Fatal("incomplete assessment must block execution")
	}
	var incomplete *IncompleteRiskAssessmentError
	if !errors.As(err, &incomplete) {
		t.Fatalf("error should be IncompleteRiskAssessmentError, got %T", err)
	}
	if len(incomplete.Missing) != 3 {
		t.Errorf("missing fields = %v, want 3 entries", incomplete.Missing)
	}

	if err := Ready(models.TierT1, nil); err == nil {
		t.Error("nil assessment must block elevated tiers")
	}
}

func TestLedger_Monotonic(t *testing.T) {
	l := NewLedger()

	if got := l.Record("task-1", models.TierT1); got != models.TierT1 {
		t.Errorf("first record = %s, want T1", got)
	}
	if got := l.Record("task-1", models.TierT3); got != models.TierT3 {
		t.Errorf("escalation = %s, want T3", got)
	}
	// Re-classification to a lower tier must not downgrade.
	if got := l.Record("task-1", models.TierT0); got != models.TierT3 {
		t.Errorf("downgrade attempt = %s, want T3 retained", got)
	}

	tier, ok := l.Get("task-1")
	if !ok || tier != models.TierT3 {
		t.Errorf("Get = (%s, %v), want (T3, true)", tier, ok)
	}

	l.Record("task-2", models.TierT1)
	if got := l.Highest(); got != models.TierT3 {
		t.Errorf("Highest = %s, want T3", got)
	}
}

func TestLedger_Empty(t *testing.T) {
	l := NewLedger()
	if _, ok := l.Get("nothing"); ok {
		t.Error("empty ledger should report no tier")
	}
	if got := l.Highest(); got != models.TierT0 {
		t.Errorf("empty ledger Highest = %s, want T0", got)
	}
}
