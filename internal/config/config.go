// Package config handles configuration loading for swarmgate.
// It supports XDG config paths, environment variable overrides, and
// hot-reloadable classification rule tables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config holds all engine configuration.
type Config struct {
	Anthropic AnthropicConfig `mapstructure:"anthropic"`
	Decision  DecisionConfig  `mapstructure:"decision"`
	Swarm     SwarmConfig     `mapstructure:"swarm"`
	Hooks     HooksConfig     `mapstructure:"hooks"`
	Workflow  WorkflowConfig  `mapstructure:"workflow"`
	State     StateConfig     `mapstructure:"state"`
}

// AnthropicConfig holds Anthropic API settings for the production runner.
type AnthropicConfig struct {
	// APIKey is the Anthropic API key. Falls back to ANTHROPIC_API_KEY.
	APIKey string `mapstructure:"api_key"`
	// Model is the model used by worker runners.
	Model string `mapstructure:"model"`
}

// DecisionConfig holds decision-engine tunables.
type DecisionConfig struct {
	// Weights maps dimension names to their aggregate weight.
	Weights map[string]float64 `mapstructure:"weights"`
	// DirectThreshold is the aggregate below which a single-phase direct
	// plan is selected.
	DirectThreshold float64 `mapstructure:"direct_threshold"`
	// PhasedThreshold is the aggregate above which the checkpointed
	// phase-based plan is selected.
	PhasedThreshold float64 `mapstructure:"phased_threshold"`
	// ContextCeiling is the context-load score above which phase-based
	// execution is forced regardless of other dimensions.
	ContextCeiling float64 `mapstructure:"context_ceiling"`
	// CriticalRisk forces the conservative plan when the risk dimension
	// reaches this score.
	CriticalRisk float64 `mapstructure:"critical_risk"`
	// CriticalTime forces the conservative plan when the time-pressure
	// dimension reaches this score.
	CriticalTime float64 `mapstructure:"critical_time"`
	// RulesPath is the path to the YAML classification rule tables.
	// Empty means built-in defaults.
	RulesPath string `mapstructure:"rules_path"`
}

// SwarmConfig holds swarm coordinator tunables.
type SwarmConfig struct {
	// MaxWorkers is the concurrency ceiling for a single wave.
	MaxWorkers int `mapstructure:"max_workers"`
	// StallGracePeriod is how long a worker may go without a progress
	// signal before it is considered stalled and replaced.
	StallGracePeriod time.Duration `mapstructure:"stall_grace_period"`
	// ProgressPoll is how often the stall detector checks workers.
	ProgressPoll time.Duration `mapstructure:"progress_poll"`
	// ConservationMaxIterations triggers conservation mode when the
	// cumulative iteration count crosses it.
	ConservationMaxIterations int `mapstructure:"conservation_max_iterations"`
	// ConservationMaxSpawned triggers conservation mode when the total
	// spawned worker count crosses it.
	ConservationMaxSpawned int `mapstructure:"conservation_max_spawned"`
	// ConservationMaxLogBytes triggers conservation mode when accumulated
	// log volume crosses it.
	ConservationMaxLogBytes int64 `mapstructure:"conservation_max_log_bytes"`
	// SummaryLimit is the per-worker summary size in conservation mode.
	SummaryLimit int `mapstructure:"summary_limit"`
}

// HooksConfig holds hook dispatch budgets.
type HooksConfig struct {
	// SubmitBudget is the aggregate budget for OnRequestSubmit hooks.
	SubmitBudget time.Duration `mapstructure:"submit_budget"`
	// MutateBudget is the per-call budget for OnResourceMutated hooks.
	MutateBudget time.Duration `mapstructure:"mutate_budget"`
	// StopBudget is the aggregate budget for OnWorkflowStop hooks.
	StopBudget time.Duration `mapstructure:"stop_budget"`
	// DefaultTimeout applies to hooks that declare no timeout.
	DefaultTimeout time.Duration `mapstructure:"default_timeout"`
}

// WorkflowConfig holds state-machine tunables.
type WorkflowConfig struct {
	// MaxRecoveryAttempts is how many targeted-fix rounds a phase gets
	// before it escalates.
	MaxRecoveryAttempts int `mapstructure:"max_recovery_attempts"`
	// ConfirmationTimeout bounds the wait for a T3 human confirmation.
	ConfirmationTimeout time.Duration `mapstructure:"confirmation_timeout"`
}

// StateConfig holds session-store settings.
type StateConfig struct {
	// Path is the sqlite database path. Empty selects the XDG default.
	Path string `mapstructure:"path"`
}

// Default returns the built-in configuration defaults.
func Default() *Config {
	return &Config{
		Anthropic: AnthropicConfig{
			Model: "claude-sonnet-4-5",
		},
		Decision: DecisionConfig{
			Weights: map[string]float64{
				"complexity":    0.20,
				"scope":         0.15,
				"risk":          0.20,
				"context_load":  0.15,
				"time_pressure": 0.05,
				"minimalism":    0.05,
				"security":      0.15,
				"reusability":   0.05,
			},
			DirectThreshold: 2.0,
			PhasedThreshold: 5.0,
			ContextCeiling:  8.0,
			CriticalRisk:    8.0,
			CriticalTime:    9.0,
		},
		Swarm: SwarmConfig{
			MaxWorkers:                20,
			StallGracePeriod:          90 * time.Second,
			ProgressPoll:              5 * time.Second,
			ConservationMaxIterations: 50,
			ConservationMaxSpawned:    60,
			ConservationMaxLogBytes:   256 * 1024,
			SummaryLimit:              280,
		},
		Hooks: HooksConfig{
			SubmitBudget:   500 * time.Millisecond,
			MutateBudget:   100 * time.Millisecond,
			StopBudget:     5 * time.Second,
			DefaultTimeout: 250 * time.Millisecond,
		},
		Workflow: WorkflowConfig{
			MaxRecoveryAttempts: 2,
			ConfirmationTimeout: 30 * time.Minute,
		},
	}
}

// ConfigDir returns the swarmgate configuration directory, honoring
// XDG_CONFIG_HOME.
func ConfigDir() string {
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		home, _ := os.UserHomeDir()
		configDir = filepath.Join(home, ".config")
	}
	return filepath.Join(configDir, "swarmgate")
}

// Load reads configuration from the XDG config directory, then applies
// environment variable overrides (prefix SWARMGATE_). Missing files are
// not an error; defaults apply.
func Load() (*Config, error) {
	return LoadFrom(ConfigDir())
}

// LoadFrom reads configuration from the given directory.
func LoadFrom(dir string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(dir)
	v.SetEnvPrefix("SWARMGATE")
	v.AutomaticEnv()

	def := Default()
	v.SetDefault("anthropic.model", def.Anthropic.Model)
	v.SetDefault("decision.weights", def.Decision.Weights)
	v.SetDefault("decision.direct_threshold", def.Decision.DirectThreshold)
	v.SetDefault("decision.phased_threshold", def.Decision.PhasedThreshold)
	v.SetDefault("decision.context_ceiling", def.Decision.ContextCeiling)
	v.SetDefault("decision.critical_risk", def.Decision.CriticalRisk)
	v.SetDefault("decision.critical_time", def.Decision.CriticalTime)
	v.SetDefault("swarm.max_workers", def.Swarm.MaxWorkers)
	v.SetDefault("swarm.stall_grace_period", def.Swarm.StallGracePeriod)
	v.SetDefault("swarm.progress_poll", def.Swarm.ProgressPoll)
	v.SetDefault("swarm.conservation_max_iterations", def.Swarm.ConservationMaxIterations)
	v.SetDefault("swarm.conservation_max_spawned", def.Swarm.ConservationMaxSpawned)
	v.SetDefault("swarm.conservation_max_log_bytes", def.Swarm.ConservationMaxLogBytes)
	v.SetDefault("swarm.summary_limit", def.Swarm.SummaryLimit)
	v.SetDefault("hooks.submit_budget", def.Hooks.SubmitBudget)
	v.SetDefault("hooks.mutate_budget", def.Hooks.MutateBudget)
	v.SetDefault("hooks.stop_budget", def.Hooks.StopBudget)
	v.SetDefault("hooks.default_timeout", def.Hooks.DefaultTimeout)
	v.SetDefault("workflow.max_recovery_attempts", def.Workflow.MaxRecoveryAttempts)
	v.SetDefault("workflow.confirmation_timeout", def.Workflow.ConfirmationTimeout)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.Anthropic.APIKey == "" {
		cfg.Anthropic.APIKey = os.Getenv("ANTHROPIC_API_KEY")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks the configuration for values the engine cannot run with.
func (c *Config) Validate() error {
	if c.Swarm.MaxWorkers < 1 {
		return fmt.Errorf("swarm.max_workers must be at least 1, got %d", c.Swarm.MaxWorkers)
	}
	if c.Swarm.StallGracePeriod <= 0 {
		return fmt.Errorf("swarm.stall_grace_period must be positive, got %v", c.Swarm.StallGracePeriod)
	}
	if c.Workflow.MaxRecoveryAttempts < 0 {
		return fmt.Errorf("workflow.max_recovery_attempts must not be negative, got %d", c.Workflow.MaxRecoveryAttempts)
	}
	if c.Decision.ContextCeiling <= 0 || c.Decision.ContextCeiling > 10 {
		return fmt.Errorf("decision.context_ceiling must be in (0, 10], got %v", c.Decision.ContextCeiling)
	}
	return nil
}
