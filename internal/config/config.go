// Package config loads and validates steward configuration. Files are YAML
// or JSON5, may pull in fragments through $include, and have environment
// variables expanded before parsing. Unknown fields are rejected so typos
// fail at startup instead of silently running with defaults.
package config

import (
	"fmt"
	"time"

	"github.com/haasonsaas/steward/internal/audit"
	"github.com/haasonsaas/steward/pkg/models"
)

// Config is the root configuration for steward.
type Config struct {
	// DefaultProvider is the provider id tasks use unless overridden.
	DefaultProvider string `yaml:"default_provider"`

	// FallbackChain lists provider ids to try, in order, when the active
	// provider fails with a failover-eligible error.
	FallbackChain []string `yaml:"fallback_chain"`

	// Providers holds per-provider credentials and tuning, keyed by id
	// (anthropic, openai, google, bedrock).
	Providers map[string]ProviderConfig `yaml:"providers"`

	Loop     LoopConfig     `yaml:"loop"`
	Executor ExecutorConfig `yaml:"executor"`
	Gate     GateConfig     `yaml:"gate"`
	Window   WindowConfig   `yaml:"window"`
	Audit    audit.Config   `yaml:"audit"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ProviderConfig configures one model provider. APIKey values are typically
// written as ${ENV_VAR} references and expanded at load time; they flow only
// into the provider SDK client.
type ProviderConfig struct {
	APIKey       string `yaml:"api_key"`
	BaseURL      string `yaml:"base_url"`
	DefaultModel string `yaml:"default_model"`
	MaxRetries   int    `yaml:"max_retries"`

	// Bedrock-only fields. When the static credentials are empty the AWS
	// default chain applies.
	Region          string `yaml:"region"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	SessionToken    string `yaml:"session_token"`
}

// LoopConfig tunes the task loop.
type LoopConfig struct {
	// MaxTurns bounds model calls per task.
	MaxTurns int `yaml:"max_turns"`

	// MaxTokens caps model output per call. Zero uses the adapter default.
	MaxTokens int `yaml:"max_tokens"`

	// Temperature, when set, is passed to the provider.
	Temperature *float64 `yaml:"temperature"`

	// EventBuffer sizes each task's event channel.
	EventBuffer int `yaml:"event_buffer"`
}

// ExecutorConfig tunes concurrent tool execution.
type ExecutorConfig struct {
	MaxConcurrency int           `yaml:"max_concurrency"`
	Timeout        time.Duration `yaml:"timeout"`
	Retries        int           `yaml:"retries"`
}

// GateConfig tunes permission gating.
type GateConfig struct {
	AutoApproveSensitive bool             `yaml:"auto_approve_sensitive"`
	ApprovalTTL          time.Duration    `yaml:"approval_ttl"`
	Escalations          []EscalationRule `yaml:"escalations"`
}

// EscalationRule raises the permission tier of matching tool calls. Patterns
// support exact match, "prefix*", "*suffix", "*contains*", and "*".
type EscalationRule struct {
	// Tool matches the tool name. Required.
	Tool string `yaml:"tool"`

	// Input, when set, must match a string value inside the call input.
	Input string `yaml:"input"`

	// Tier is the tier to escalate to: safe, sensitive, or dangerous.
	Tier string `yaml:"tier"`

	// Reason appears in the audit trail when the rule fires.
	Reason string `yaml:"reason"`
}

// WindowConfig tunes conversation truncation.
type WindowConfig struct {
	BudgetTokens       int `yaml:"budget_tokens"`
	KeepRecent         int `yaml:"keep_recent"`
	MaxToolResultChars int `yaml:"max_tool_result_chars"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// LoggingConfig controls the application logger (distinct from the audit
// trail).
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// knownProviders are the ids the adapter layer implements.
var knownProviders = map[string]bool{
	"anthropic": true,
	"openai":    true,
	"google":    true,
	"bedrock":   true,
}

// Default returns the configuration used when no file is given. API keys
// come from the conventional environment variables at adapter construction.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// Load reads, merges, and validates a configuration file.
func Load(path string) (*Config, error) {
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, err
	}
	cfg, err := decodeRawConfig(raw)
	if err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.DefaultProvider == "" {
		cfg.DefaultProvider = "anthropic"
	}
	if cfg.Loop.MaxTurns == 0 {
		cfg.Loop.MaxTurns = 10
	}
	if cfg.Executor.MaxConcurrency == 0 {
		cfg.Executor.MaxConcurrency = 5
	}
	if cfg.Executor.Timeout == 0 {
		cfg.Executor.Timeout = 30 * time.Second
	}
	if cfg.Executor.Retries == 0 {
		cfg.Executor.Retries = 2
	}
	if cfg.Gate.ApprovalTTL == 0 {
		cfg.Gate.ApprovalTTL = 5 * time.Minute
	}
	if cfg.Window.BudgetTokens == 0 {
		cfg.Window.BudgetTokens = 80000
	}
	if cfg.Window.KeepRecent == 0 {
		cfg.Window.KeepRecent = 4
	}
	if cfg.Window.MaxToolResultChars == 0 {
		cfg.Window.MaxToolResultChars = 6000
	}
	if cfg.Metrics.Listen == "" {
		cfg.Metrics.Listen = "127.0.0.1:9090"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

// Validate rejects configurations that would fail at task time.
func (c *Config) Validate() error {
	if !knownProviders[c.DefaultProvider] {
		return fmt.Errorf("unknown default_provider %q", c.DefaultProvider)
	}
	for id := range c.Providers {
		if !knownProviders[id] {
			return fmt.Errorf("unknown provider %q in providers", id)
		}
	}
	for _, id := range c.FallbackChain {
		if !knownProviders[id] {
			return fmt.Errorf("unknown provider %q in fallback_chain", id)
		}
	}
	if c.Loop.MaxTurns < 0 {
		return fmt.Errorf("loop.max_turns must not be negative")
	}
	if c.Loop.MaxTokens < 0 {
		return fmt.Errorf("loop.max_tokens must not be negative")
	}
	if c.Executor.MaxConcurrency < 1 {
		return fmt.Errorf("executor.max_concurrency must be at least 1")
	}
	if c.Executor.Timeout < 0 {
		return fmt.Errorf("executor.timeout must not be negative")
	}
	if c.Executor.Retries < 0 {
		return fmt.Errorf("executor.retries must not be negative")
	}
	if c.Gate.ApprovalTTL < 0 {
		return fmt.Errorf("gate.approval_ttl must not be negative")
	}
	for i, rule := range c.Gate.Escalations {
		if rule.Tool == "" {
			return fmt.Errorf("gate.escalations[%d]: tool pattern is required", i)
		}
		if !models.PermissionTier(rule.Tier).Valid() {
			return fmt.Errorf("gate.escalations[%d]: unknown tier %q", i, rule.Tier)
		}
	}
	if c.Window.BudgetTokens < 0 {
		return fmt.Errorf("window.budget_tokens must not be negative")
	}
	if c.Window.KeepRecent < 0 {
		return fmt.Errorf("window.keep_recent must not be negative")
	}
	switch c.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("logging.format must be json or text, got %q", c.Logging.Format)
	}
	return nil
}

// Provider returns the configuration for a provider id; the zero value when
// the section is absent.
func (c *Config) Provider(id string) ProviderConfig {
	if c.Providers == nil {
		return ProviderConfig{}
	}
	return c.Providers[id]
}
