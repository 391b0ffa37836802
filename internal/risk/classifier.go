// Package risk classifies task units into risk tiers and gates execution
// on a completed risk assessment for elevated tiers.
package risk

import (
	"strings"
	"sync"

	"github.com/kestrelworks/swarmgate/internal/config"
	"github.com/kestrelworks/swarmgate/pkg/models"
)

// TaskDescriptor carries the signals the classifier evaluates.
type TaskDescriptor struct {
	// Description is the free-text task description.
	Description string
	// Modules lists the modules the task is expected to touch.
	Modules []string
	// RegulatedData flags tasks touching regulated data.
	RegulatedData bool
	// Irreversible flags tasks with no rollback path.
	Irreversible bool
	// SecuritySensitive flags tasks with security or privacy implications.
	SecuritySensitive bool
	// UserVisible flags tasks changing user-visible behavior.
	UserVisible bool
}

// Classification is the result of classifying one task unit.
type Classification struct {
	// Tier is the assigned risk tier.
	Tier models.RiskTier
	// Reason explains which rule in the decision tree matched.
	Reason string
	// MatchedKeyword is the keyword that triggered the rule, if any.
	MatchedKeyword string
}

// Classifier applies the tier decision tree over injected rule tables.
// Classification itself is pure; the readiness gate in Ready is the only
// validation step, and it has no side effects either.
type Classifier struct {
	mu    sync.RWMutex
	rules *config.RuleTables
}

// NewClassifier creates a Classifier with the given rule tables.
// Nil rules select the built-in defaults.
func NewClassifier(rules *config.RuleTables) *Classifier {
	if rules == nil {
		rules = config.DefaultRules()
	}
	return &Classifier{rules: rules}
}

// SetRules swaps the rule tables. Used by the rule watcher on reload.
func (c *Classifier) SetRules(rules *config.RuleTables) {
	if rules == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rules = rules
}

// Classify applies the decision tree top-down, first match wins:
//  1. Irreversible or regulated effect -> T3
//  2. Security, privacy, or data-integrity implication -> T2
//  3. User-visible behavior change or multi-module change -> T1,
//     unless the change is trivial (typo, comment, docs)
//  4. Otherwise -> T0
func (c *Classifier) Classify(task TaskDescriptor) Classification {
	c.mu.RLock()
	rules := c.rules
	c.mu.RUnlock()

	lower := strings.ToLower(task.Description)

	if task.Irreversible || task.RegulatedData {
		return Classification{Tier: models.TierT3, Reason: "irreversible or regulated effect declared"}
	}
	if kw := matchAny(lower, rules.Irreversible); kw != "" {
		return Classification{Tier: models.TierT3, Reason: "irreversible or regulated effect", MatchedKeyword: kw}
	}

	if task.SecuritySensitive {
		return Classification{Tier: models.TierT2, Reason: "security or privacy implication declared"}
	}
	if kw := matchAny(lower, rules.Security); kw != "" {
		return Classification{Tier: models.TierT2, Reason: "security or privacy implication", MatchedKeyword: kw}
	}
	if kw := matchAny(lower, rules.Integrity); kw != "" {
		return Classification{Tier: models.TierT2, Reason: "data-integrity implication", MatchedKeyword: kw}
	}

	// A trivial change (typo, comment, docs) has no behavior impact, so
	// the T1 rules do not apply even when their keywords match.
	if kw := matchAny(lower, rules.Trivial); kw != "" && !task.UserVisible && len(task.Modules) <= 1 {
		return Classification{Tier: models.TierT0, Reason: "trivial change with no behavior impact", MatchedKeyword: kw}
	}

	if task.UserVisible {
		return Classification{Tier: models.TierT1, Reason: "user-visible behavior change declared"}
	}
	if len(task.Modules) > 1 {
		return Classification{Tier: models.TierT1, Reason: "change spans multiple modules"}
	}
	if kw := matchAny(lower, rules.UserVisible); kw != "" {
		return Classification{Tier: models.TierT1, Reason: "user-visible behavior change", MatchedKeyword: kw}
	}
	if kw := matchAny(lower, rules.MultiModule); kw != "" {
		return Classification{Tier: models.TierT1, Reason: "change spans multiple modules", MatchedKeyword: kw}
	}

	return Classification{Tier: models.TierT0, Reason: "no elevated-risk signals"}
}

// matchAny returns the first keyword found in the lowered text.
func matchAny(lower string, keywords []string) string {
	for _, kw := range keywords {
		if strings.Contains(lower, strings.ToLower(kw)) {
			return kw
		}
	}
	return ""
}
