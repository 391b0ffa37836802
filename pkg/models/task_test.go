package models

import "testing"

func TestTaskStatus_Valid(t *testing.T) {
	tests := []struct {
		name   string
		status TaskStatus
		want   bool
	}{
		{"pending is valid", TaskStatusPending, true},
		{"in_progress is valid", TaskStatusInProgress, true},
		{"done is valid", TaskStatusDone, true},
		{"failed is valid", TaskStatusFailed, true},
		{"deferred is valid", TaskStatusDeferred, true},
		{"empty is invalid", TaskStatus(""), false},
		{"unknown is invalid", TaskStatus("running"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.status.Valid(); got != tt.want {
				t.Errorf("TaskStatus(%q).Valid() = %v, want %v", tt.status, got, tt.want)
			}
		})
	}
}

func TestTaskStatus_Terminal(t *testing.T) {
	terminal := []TaskStatus{TaskStatusDone, TaskStatusFailed, TaskStatusDeferred}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Errorf("TaskStatus(%q) should be terminal", s)
		}
	}
	nonTerminal := []TaskStatus{TaskStatusPending, TaskStatusInProgress}
	for _, s := range nonTerminal {
		if s.Terminal() {
			t.Errorf("TaskStatus(%q) should not be terminal", s)
		}
	}
}

func TestAgentTask_Overlaps(t *testing.T) {
	a := &AgentTask{ID: "a", Resources: []string{"src/auth/login.go", "src/auth/token.go"}}
	b := &AgentTask{ID: "b", Resources: []string{"src/api/server.go"}}
	c := &AgentTask{ID: "c", Resources: []string{"src/auth/token.go"}}

	if a.Overlaps(b) {
		t.Error("a and b share no resources, Overlaps should be false")
	}
	if !a.Overlaps(c) {
		t.Error("a and c share src/auth/token.go, Overlaps should be true")
	}
	if !c.Overlaps(a) {
		t.Error("Overlaps should be symmetric")
	}
}

func TestDisjointResources(t *testing.T) {
	tests := []struct {
		name     string
		tasks    []*AgentTask
		wantPair bool
	}{
		{
			name: "disjoint set",
			tasks: []*AgentTask{
				{ID: "a", Resources: []string{"x", "y"}},
				{ID: "b", Resources: []string{"z"}},
			},
			wantPair: false,
		},
		{
			name: "overlapping set",
			tasks: []*AgentTask{
				{ID: "a", Resources: []string{"x", "y"}},
				{ID: "b", Resources: []string{"y", "z"}},
			},
			wantPair: true,
		},
		{
			name:     "empty set",
			tasks:    nil,
			wantPair: false,
		},
		{
			name: "same task repeats its own resource",
			tasks: []*AgentTask{
				{ID: "a", Resources: []string{"x", "x"}},
			},
			wantPair: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			first, second := DisjointResources(tt.tasks)
			gotPair := first != "" || second != ""
			if gotPair != tt.wantPair {
				t.Errorf("DisjointResources() = (%q, %q), wantPair=%v", first, second, tt.wantPair)
			}
		})
	}
}

func TestScore_Clamp(t *testing.T) {
	s := Score{DimComplexity: 14, DimRisk: -3, DimScope: 5}
	clamped := s.Clamp()

	if clamped[DimComplexity] != ScoreMax {
		t.Errorf("complexity should clamp to %v, got %v", ScoreMax, clamped[DimComplexity])
	}
	if clamped[DimRisk] != ScoreMin {
		t.Errorf("risk should clamp to %v, got %v", ScoreMin, clamped[DimRisk])
	}
	if clamped[DimScope] != 5 {
		t.Errorf("in-range value should be unchanged, got %v", clamped[DimScope])
	}
	if s[DimComplexity] != 14 {
		t.Error("Clamp must not mutate the original score")
	}
}

func TestScore_Complete(t *testing.T) {
	s := Score{}
	if s.Complete() {
		t.Error("empty score should not be complete")
	}
	for _, d := range Dimensions {
		s[d] = 1
	}
	if !s.Complete() {
		t.Error("score with all dimensions should be complete")
	}
}
