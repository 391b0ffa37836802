// Package models defines the shared value types for the swarmgate engine:
// requests, scores, risk tiers, workflow plans, agent tasks, and workers.
package models

import "time"

// Request is the immutable input to the engine. It is created at
// submission and read-only thereafter.
type Request struct {
	// ID is the unique identifier for this request.
	ID string `json:"id"`
	// Description is the free-text task description.
	Description string `json:"description"`
	// FileHints are optional file paths the request is expected to touch.
	FileHints []string `json:"file_hints,omitempty"`
	// Session carries optional context from the current session.
	Session SessionContext `json:"session,omitempty"`
	// SubmittedAt is when the request was submitted.
	SubmittedAt time.Time `json:"submitted_at"`
}

// SessionContext carries prior-session signals used during classification.
type SessionContext struct {
	// RecentFiles lists files touched recently in this session.
	RecentFiles []string `json:"recent_files,omitempty"`
	// PriorPatterns lists pattern names observed in earlier requests.
	PriorPatterns []string `json:"prior_patterns,omitempty"`
	// TokensUsed is the approximate token volume consumed so far.
	TokensUsed int64 `json:"tokens_used,omitempty"`
	// RequestCount is the number of requests handled this session.
	RequestCount int `json:"request_count,omitempty"`
}

// Dimension names a scoring dimension used by the decision engine.
type Dimension string

const (
	// DimComplexity measures technical complexity.
	DimComplexity Dimension = "complexity"
	// DimScope measures blast radius across modules and files.
	DimScope Dimension = "scope"
	// DimRisk measures risk factors (breaking changes, data loss).
	DimRisk Dimension = "risk"
	// DimContextLoad estimates working-context growth (tokens, files).
	DimContextLoad Dimension = "context_load"
	// DimTimePressure measures urgency signals in the request.
	DimTimePressure Dimension = "time_pressure"
	// DimMinimalism measures pressure toward minimal code change.
	DimMinimalism Dimension = "minimalism"
	// DimSecurity measures security sensitivity.
	DimSecurity Dimension = "security"
	// DimReusability measures how reusable the resulting pattern is.
	DimReusability Dimension = "reusability"
)

// ScoreMin and ScoreMax bound every dimension value.
const (
	ScoreMin = 0.0
	ScoreMax = 10.0
)

// Dimensions lists every dimension the decision engine scores.
var Dimensions = []Dimension{
	DimComplexity, DimScope, DimRisk, DimContextLoad,
	DimTimePressure, DimMinimalism, DimSecurity, DimReusability,
}

// Score maps dimension names to values in [ScoreMin, ScoreMax].
// A Score is produced once per Request and is immutable afterwards.
type Score map[Dimension]float64

// Get returns the value for a dimension, or 0 if unset.
func (s Score) Get(d Dimension) float64 {
	return s[d]
}

// Clamp returns a copy of the score with every value bounded to
// [ScoreMin, ScoreMax].
func (s Score) Clamp() Score {
	out := make(Score, len(s))
	for d, v := range s {
		if v < ScoreMin {
			v = ScoreMin
		}
		if v > ScoreMax {
			v = ScoreMax
		}
		out[d] = v
	}
	return out
}

// Complete returns true if every known dimension has been scored.
func (s Score) Complete() bool {
	for _, d := range Dimensions {
		if _, ok := s[d]; !ok {
			return false
		}
	}
	return true
}
