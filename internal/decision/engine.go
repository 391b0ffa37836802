// Package decision scores incoming requests across weighted dimensions
// and selects an execution workflow plan. Scoring never blocks: a plan
// is always produced, falling back to the most conservative plan when a
// dimension cannot be scored.
package decision

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/kestrelworks/swarmgate/internal/config"
	"github.com/kestrelworks/swarmgate/pkg/models"
)

// Engine is the request classifier. It is safe for concurrent use and
// deterministic: identical request plus session context always yields
// the identical score and plan.
type Engine struct {
	cfg config.DecisionConfig

	mu    sync.RWMutex
	rules *config.RuleTables
}

// NewEngine creates an Engine with the given tunables and rule tables.
// Nil rules select the built-in defaults.
func NewEngine(cfg config.DecisionConfig, rules *config.RuleTables) *Engine {
	if rules == nil {
		rules = config.DefaultRules()
	}
	return &Engine{cfg: cfg, rules: rules}
}

// SetRules swaps the rule tables. Used by the rule watcher on reload.
func (e *Engine) SetRules(rules *config.RuleTables) {
	if rules == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules = rules
}

// Classify scores the request across all dimensions and selects a
// workflow plan. It returns exactly one Score and exactly one plan.
func (e *Engine) Classify(req models.Request) (models.Score, models.WorkflowPlan) {
	e.mu.RLock()
	rules := e.rules
	e.mu.RUnlock()

	score := e.scoreDimensions(req, rules)
	plan := e.selectPlan(req, score)
	return score, plan
}

// scoreDimensions computes every dimension independently on the 0-10
// scale from lexical and structural signals.
func (e *Engine) scoreDimensions(req models.Request, rules *config.RuleTables) models.Score {
	lower := strings.ToLower(req.Description)
	words := strings.Fields(lower)

	score := models.Score{
		models.DimComplexity:   complexityScore(lower, words, rules),
		models.DimScope:        scopeScore(req, lower, rules),
		models.DimRisk:         keywordScore(lower, rules.Risk, 1.0),
		models.DimContextLoad:  contextLoadScore(req, lower, rules),
		models.DimTimePressure: phraseScore(lower, rules.TimePhrases, 3.0),
		models.DimMinimalism:   minimalismScore(lower, rules),
		models.DimSecurity:     phraseScore(lower, rules.Security, 2.5),
		models.DimReusability:  phraseScore(lower, rules.ReusePatterns, 2.5),
	}
	return score.Clamp()
}

// complexityScore starts from a neutral base and applies keyword weight
// deltas plus a length factor for long descriptions.
func complexityScore(lower string, words []string, rules *config.RuleTables) float64 {
	s := 3.0
	for kw, delta := range rules.Complexity {
		if strings.Contains(lower, kw) {
			s += delta
		}
	}
	// Long descriptions tend to describe more moving parts.
	if len(words) > 40 {
		s += 1.0
	}
	if len(words) > 100 {
		s += 1.0
	}
	return s
}

// scopeScore estimates blast radius from file hints and scope phrases.
func scopeScore(req models.Request, lower string, rules *config.RuleTables) float64 {
	s := 1.0
	s += float64(len(req.FileHints)) * 0.8
	for _, phrase := range rules.MultiModule {
		if strings.Contains(lower, phrase) {
			s += 2.5
			break
		}
	}
	return s
}

// contextLoadScore projects working-context growth from the file hints,
// session history, and growth phrases. A coarse linear model stands in
// for the source material's sampling-based predictor.
func contextLoadScore(req models.Request, lower string, rules *config.RuleTables) float64 {
	s := 1.0
	s += float64(len(req.FileHints)) * 0.6
	s += float64(len(req.Session.RecentFiles)) * 0.3
	// Roughly one point per 50k session tokens already consumed.
	s += float64(req.Session.TokensUsed) / 50_000
	for _, phrase := range rules.GrowthIndicators {
		if strings.Contains(lower, phrase) {
			s += 2.0
			break
		}
	}
	return s
}

// minimalismScore rewards explicitly small-scoped requests.
func minimalismScore(lower string, rules *config.RuleTables) float64 {
	s := 2.0
	for kw, delta := range rules.Complexity {
		// Negative complexity deltas mark simplifying keywords.
		if delta < 0 && strings.Contains(lower, kw) {
			s += -delta * 2
		}
	}
	return s
}

// keywordScore sums weighted keyword deltas scaled into the 0-10 range.
func keywordScore(lower string, table map[string]float64, scale float64) float64 {
	var s float64
	for kw, delta := range table {
		if strings.Contains(lower, kw) {
			s += delta * scale
		}
	}
	return s
}

// phraseScore adds a fixed step per matched phrase.
func phraseScore(lower string, phrases []string, step float64) float64 {
	var s float64
	for _, phrase := range phrases {
		if strings.Contains(lower, strings.ToLower(phrase)) {
			s += step
		}
	}
	return s
}

// selectPlan maps the score to a workflow plan via thresholds.
// Tie-break rule: context load crossing its ceiling forces phase-based
// execution regardless of every other dimension.
func (e *Engine) selectPlan(req models.Request, score models.Score) models.WorkflowPlan {
	weights := e.cfg.Weights

	// Any dimension without a configured weight is unscorable; fall back
	// to the most conservative plan.
	for _, d := range models.Dimensions {
		if _, ok := weights[string(d)]; !ok {
			return fallbackPlan("dimension " + string(d) + " has no configured weight")
		}
	}
	if !score.Complete() {
		return fallbackPlan("score is missing dimensions")
	}

	aggregate := e.Aggregate(score)
	reasoning := e.reasoning(score, aggregate)

	// The context bound dominates other signals.
	if score.Get(models.DimContextLoad) >= e.cfg.ContextCeiling {
		plan := phasedPlan()
		plan.Reasoning = fmt.Sprintf("context load %.1f crossed ceiling %.1f; %s",
			score.Get(models.DimContextLoad), e.cfg.ContextCeiling, reasoning)
		plan.Confidence = 0.9
		return plan
	}

	// Critical overrides: extreme risk or time pressure forces the
	// conservative plan regardless of the aggregate.
	if score.Get(models.DimRisk) >= e.cfg.CriticalRisk {
		plan := phasedPlan()
		plan.Reasoning = fmt.Sprintf("risk %.1f at critical threshold; %s", score.Get(models.DimRisk), reasoning)
		plan.Confidence = 0.85
		return plan
	}
	if score.Get(models.DimTimePressure) >= e.cfg.CriticalTime {
		plan := phasedPlan()
		plan.Reasoning = fmt.Sprintf("time pressure %.1f at critical threshold; %s", score.Get(models.DimTimePressure), reasoning)
		plan.Confidence = 0.75
		return plan
	}

	switch {
	case aggregate < e.cfg.DirectThreshold && score.Get(models.DimContextLoad) < e.cfg.ContextCeiling/2:
		return models.WorkflowPlan{
			Class:      models.PlanDirect,
			Phases:     []models.Phase{{Name: "execute", Ownership: models.OwnerSingle, Verification: models.VerifyBasic}},
			Reasoning:  reasoning,
			Confidence: 0.85,
		}
	case aggregate < e.cfg.PhasedThreshold:
		return models.WorkflowPlan{
			Class: models.PlanFixed,
			Phases: []models.Phase{
				{Name: "plan", Ownership: models.OwnerSingle, Verification: models.VerifyNone},
				{Name: "implement", Ownership: models.OwnerSwarm, Verification: models.VerifyBasic},
				{Name: "verify", Ownership: models.OwnerSingle, Verification: models.VerifyFull},
			},
			Reasoning:  reasoning,
			Confidence: 0.8,
		}
	default:
		plan := phasedPlan()
		plan.Reasoning = reasoning
		plan.Confidence = 0.8
		return plan
	}
}

// phasedPlan is the checkpointed plan used for high complexity, high
// context load, and every conservative fallback.
func phasedPlan() models.WorkflowPlan {
	return models.WorkflowPlan{
		Class: models.PlanPhased,
		Phases: []models.Phase{
			{Name: "discover", Ownership: models.OwnerSingle, Verification: models.VerifyNone, Checkpoint: true},
			{Name: "plan", Ownership: models.OwnerSingle, Verification: models.VerifyBasic, Checkpoint: true},
			{Name: "implement", Ownership: models.OwnerSwarm, Verification: models.VerifyFull, Checkpoint: true},
			{Name: "verify", Ownership: models.OwnerSwarm, Verification: models.VerifyFull, Checkpoint: true},
		},
	}
}

// fallbackPlan is the most conservative plan: fully phased with full
// verification on every phase.
func fallbackPlan(reason string) models.WorkflowPlan {
	plan := phasedPlan()
	for i := range plan.Phases {
		plan.Phases[i].Verification = models.VerifyFullSecurity
	}
	plan.Fallback = true
	plan.Confidence = 0.5
	plan.Reasoning = "conservative fallback: " + reason
	return plan
}

// Aggregate computes the weighted aggregate score on the 0-10 scale.
func (e *Engine) Aggregate(score models.Score) float64 {
	var sum, totalWeight float64
	for _, d := range models.Dimensions {
		w := e.cfg.Weights[string(d)]
		sum += score.Get(d) * w
		totalWeight += w
	}
	if totalWeight == 0 {
		return 0
	}
	return sum / totalWeight
}

// reasoning renders the per-dimension contributions in a stable order.
func (e *Engine) reasoning(score models.Score, aggregate float64) string {
	parts := make([]string, 0, len(models.Dimensions)+1)
	dims := make([]string, 0, len(models.Dimensions))
	for _, d := range models.Dimensions {
		dims = append(dims, string(d))
	}
	sort.Strings(dims)
	for _, d := range dims {
		parts = append(parts, fmt.Sprintf("%s=%.1f", d, score.Get(models.Dimension(d))))
	}
	return fmt.Sprintf("aggregate=%.2f [%s]", aggregate, strings.Join(parts, " "))
}
