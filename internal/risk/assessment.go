package risk

import (
	"fmt"
	"strings"

	"github.com/kestrelworks/swarmgate/pkg/models"
)

// Assessment holds the four answers required before an elevated-tier
// task is ready for execution.
type Assessment struct {
	// FailureScenario describes how the change could fail.
	FailureScenario string `json:"failure_scenario"`
	// DetectionSignal describes how a failure would be noticed.
	DetectionSignal string `json:"detection_signal"`
	// FastestRollback describes the quickest path back to a good state.
	FastestRollback string `json:"fastest_rollback"`
	// WeakestAssumption names the assumption most likely to be wrong.
	WeakestAssumption string `json:"weakest_assumption"`
}

// missingFields returns the names of unanswered assessment fields.
func (a *Assessment) missingFields() []string {
	var missing []string
	if a == nil {
		return []string{"failure_scenario", "detection_signal", "fastest_rollback", "weakest_assumption"}
	}
	if strings.TrimSpace(a.FailureScenario) == "" {
		missing = append(missing, "failure_scenario")
	}
	if strings.TrimSpace(a.DetectionSignal) == "" {
		missing = append(missing, "detection_signal")
	}
	if strings.TrimSpace(a.FastestRollback) == "" {
		missing = append(missing, "fastest_rollback")
	}
	if strings.TrimSpace(a.WeakestAssumption) == "" {
		missing = append(missing, "weakest_assumption")
	}
	return missing
}

// IncompleteRiskAssessmentError blocks task start when an elevated tier
// lacks a completed assessment.
type IncompleteRiskAssessmentError struct {
	// Tier is the tier that requires the assessment.
	Tier models.RiskTier
	// Missing lists the unanswered fields.
	Missing []string
}

// Error implements the error interface.
func (e *IncompleteRiskAssessmentError) Error() string {
	return fmt.Sprintf("incomplete risk assessment for tier %s: missing %s",
		e.Tier, strings.Join(e.Missing, ", "))
}

// Ready gates execution: tiers T1 and above require all four assessment
// fields answered. T0 tasks are always ready. Returns an
// IncompleteRiskAssessmentError when the gate fails.
func Ready(tier models.RiskTier, a *Assessment) error {
	if !tier.AtLeast(models.TierT1) {
		return nil
	}
	if missing := a.missingFields(); len(missing) > 0 {
		return &IncompleteRiskAssessmentError{Tier: tier, Missing: missing}
	}
	return nil
}
