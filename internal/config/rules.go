package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// RuleTables holds the injected classification rules consumed by the
// decision engine and the risk classifier. The engine treats these as
// configuration, not hard-coded logic; providers may replace any table.
type RuleTables struct {
	// Complexity maps keywords to complexity weight deltas. Negative
	// deltas mark simplifying keywords ("typo", "small").
	Complexity map[string]float64 `yaml:"complexity"`
	// Risk maps keywords to risk weight deltas.
	Risk map[string]float64 `yaml:"risk"`
	// Security lists keywords signalling security or privacy sensitivity.
	Security []string `yaml:"security"`
	// Irreversible lists keywords signalling irreversible or regulated
	// effects (tier T3).
	Irreversible []string `yaml:"irreversible"`
	// Integrity lists keywords signalling data-integrity implications
	// (tier T2).
	Integrity []string `yaml:"integrity"`
	// UserVisible lists keywords signalling user-visible behavior change
	// (tier T1).
	UserVisible []string `yaml:"user_visible"`
	// MultiModule lists keywords signalling changes spanning modules
	// (tier T1).
	MultiModule []string `yaml:"multi_module"`
	// Trivial lists keywords marking changes with no behavior impact.
	// A trivial match suppresses the T1 rules; T2 and T3 rules still win.
	Trivial []string `yaml:"trivial"`
	// TimePhrases lists phrases signalling time pressure.
	TimePhrases []string `yaml:"time_phrases"`
	// GrowthIndicators lists phrases signalling context growth.
	GrowthIndicators []string `yaml:"growth_indicators"`
	// ReusePatterns lists phrases signalling reusable patterns.
	ReusePatterns []string `yaml:"reuse_patterns"`
}

// DefaultRules returns the built-in rule tables. The keyword weights
// follow the weights shipped with the original decision middleware.
func DefaultRules() *RuleTables {
	return &RuleTables{
		Complexity: map[string]float64{
			"architecture": 3.0,
			"distributed":  3.0,
			"refactor":     2.5,
			"migrate":      2.5,
			"algorithm":    2.5,
			"system":       2.0,
			"complex":      2.0,
			"optimization": 2.0,
			"integration":  2.0,
			"scalable":     2.0,
			"implement":    1.5,
			"design":       1.5,
			"api":          1.5,
			"database":     1.5,
			"auth":         1.5,
			"security":     2.0,
			"create":       1.0,
			"build":        1.0,
			"fix":          -1.0,
			"update":       -0.5,
			"change":       -0.5,
			"small":        -1.0,
			"quick":        -1.0,
			"simple":       -1.5,
			"typo":         -2.0,
		},
		Risk: map[string]float64{
			"breaking":   4.0,
			"delete":     3.0,
			"remove":     3.0,
			"drop":       3.0,
			"production": 3.0,
			"migrate":    2.5,
			"credential": 3.5,
			"payment":    3.5,
			"billing":    3.0,
			"rotate":     2.5,
			"schema":     2.0,
			"security":   2.5,
			"auth":       2.0,
			"deploy":     1.5,
			"config":     1.0,
		},
		Security: []string{
			"security", "auth", "authentication", "authorization", "token",
			"credential", "password", "secret", "encryption", "privacy",
			"pii", "gdpr", "vulnerability", "injection", "xss",
		},
		Irreversible: []string{
			"irreversible", "one way", "without rollback", "data migration",
			"drop table", "drop column", "payment", "billing", "credential",
			"signing key", "production secret", "rotate", "regulated",
			"compliance", "hipaa", "pci",
		},
		Integrity: []string{
			"data integrity", "corruption", "consistency", "transaction",
			"checksum", "backup", "restore", "replication",
		},
		UserVisible: []string{
			"ui", "ux", "page", "button", "screen", "display", "render",
			"user-facing", "user facing", "behavior change", "api response",
			"error message",
		},
		MultiModule: []string{
			"across", "multiple modules", "several packages", "all services",
			"system-wide", "codebase", "every",
		},
		Trivial: []string{
			"typo", "comment", "whitespace", "formatting", "rename variable",
			"readme", "docs",
		},
		TimePhrases: []string{
			"urgent", "asap", "immediately", "hotfix", "today", "now",
			"deadline", "emergency",
		},
		GrowthIndicators: []string{
			"entire", "all files", "whole project", "every file", "large",
			"comprehensive", "end to end", "full audit",
		},
		ReusePatterns: []string{
			"reusable", "library", "shared", "generic", "template",
			"pattern", "helper",
		},
	}
}

// LoadRules reads rule tables from a YAML file. Missing keys fall back
// to the built-in defaults so partial overrides are possible.
func LoadRules(path string) (*RuleTables, error) {
	rules := DefaultRules()
	if path == "" {
		return rules, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return rules, nil
		}
		return nil, fmt.Errorf("read rules file: %w", err)
	}

	var loaded RuleTables
	if err := yaml.Unmarshal(data, &loaded); err != nil {
		return nil, fmt.Errorf("parse rules file: %w", err)
	}

	if len(loaded.Complexity) > 0 {
		rules.Complexity = loaded.Complexity
	}
	if len(loaded.Risk) > 0 {
		rules.Risk = loaded.Risk
	}
	if len(loaded.Security) > 0 {
		rules.Security = loaded.Security
	}
	if len(loaded.Irreversible) > 0 {
		rules.Irreversible = loaded.Irreversible
	}
	if len(loaded.Integrity) > 0 {
		rules.Integrity = loaded.Integrity
	}
	if len(loaded.UserVisible) > 0 {
		rules.UserVisible = loaded.UserVisible
	}
	if len(loaded.MultiModule) > 0 {
		rules.MultiModule = loaded.MultiModule
	}
	if len(loaded.Trivial) > 0 {
		rules.Trivial = loaded.Trivial
	}
	if len(loaded.TimePhrases) > 0 {
		rules.TimePhrases = loaded.TimePhrases
	}
	if len(loaded.GrowthIndicators) > 0 {
		rules.GrowthIndicators = loaded.GrowthIndicators
	}
	if len(loaded.ReusePatterns) > 0 {
		rules.ReusePatterns = loaded.ReusePatterns
	}

	return rules, nil
}
