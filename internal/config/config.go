package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/Veraticus/ruleflow/internal/common"
	"github.com/Veraticus/ruleflow/internal/engine"
	"github.com/Veraticus/ruleflow/internal/llm"
	"github.com/Veraticus/ruleflow/internal/model"
	"github.com/Veraticus/ruleflow/internal/policy"
	"github.com/Veraticus/ruleflow/internal/storage"
	"github.com/spf13/viper"
)

// Config is the typed application configuration.
type Config struct {
	Modes          map[string]ModeOverride `mapstructure:"modes"`
	Database       DatabaseConfig          `mapstructure:"database"`
	Rules          RulesConfig             `mapstructure:"rules"`
	Logging        LoggingConfig           `mapstructure:"logging"`
	LLM            LLMConfig               `mapstructure:"llm"`
	Classification ClassificationConfig    `mapstructure:"classification"`
	Learning       LearningConfig          `mapstructure:"learning"`
	Delegation     DelegationConfig        `mapstructure:"delegation"`
	Backup         BackupConfig            `mapstructure:"backup"`
}

// DatabaseConfig locates the ledger database.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// RulesConfig locates the rule document.
type RulesConfig struct {
	Path string `mapstructure:"path"`
}

// LoggingConfig selects the slog handler.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ClassificationConfig holds orchestrator settings.
type ClassificationConfig struct {
	Mode               string `mapstructure:"mode"`
	BatchSize          int    `mapstructure:"batch_size"`
	ValidateBorderline bool   `mapstructure:"validate_borderline"`
}

// ModeOverride replaces part of a mode's thresholds.
type ModeOverride struct {
	AutoThreshold *int `mapstructure:"auto_threshold"`
	AskFloor      *int `mapstructure:"ask_floor"`
}

// LearningConfig bounds rule suggestions.
type LearningConfig struct {
	Threshold *int `mapstructure:"threshold"` // Nil means the mode's ask floor
	Ceiling   int  `mapstructure:"ceiling"`
}

// DelegationConfig decides when the worker pool takes over.
type DelegationConfig struct {
	MaxInlineRecords int     `mapstructure:"max_inline_records"`
	CostBudget       float64 `mapstructure:"cost_budget"`
	CostPerCall      float64 `mapstructure:"cost_per_call"`
	Workers          int     `mapstructure:"workers"`
	ChunkSize        int     `mapstructure:"chunk_size"`
}

// BackupConfig controls backup retention.
type BackupConfig struct {
	Keep int `mapstructure:"keep"`
}

// LLMConfig configures the external classifier. An empty provider disables it.
type LLMConfig struct {
	Provider    string        `mapstructure:"provider"`
	APIKey      string        `mapstructure:"api_key"`
	Model       string        `mapstructure:"model"`
	BaseURL     string        `mapstructure:"base_url"`
	MaxRetries  int           `mapstructure:"max_retries"`
	RetryDelay  time.Duration `mapstructure:"retry_delay"`
	CacheTTL    time.Duration `mapstructure:"cache_ttl"`
	RateLimit   int           `mapstructure:"rate_limit"`
	Temperature float64       `mapstructure:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens"`
}

// SetDefaults registers the built-in defaults on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("database.path", "~/.local/share/ruleflow/ledger.db")
	v.SetDefault("rules.path", "~/.config/ruleflow/rules.yaml")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")

	v.SetDefault("classification.mode", string(model.ModeBalanced))
	v.SetDefault("classification.batch_size", 10)
	v.SetDefault("classification.validate_borderline", true)

	v.SetDefault("learning.ceiling", 90)

	limits := engine.DefaultDelegationLimits()
	v.SetDefault("delegation.max_inline_records", limits.MaxInlineRecords)
	v.SetDefault("delegation.cost_budget", limits.CostBudget)
	v.SetDefault("delegation.cost_per_call", limits.CostPerCall)
	v.SetDefault("delegation.workers", 4)
	v.SetDefault("delegation.chunk_size", 25)

	v.SetDefault("backup.keep", storage.DefaultBackupKeep)

	v.SetDefault("llm.max_retries", 3)
	v.SetDefault("llm.retry_delay", time.Second)
	v.SetDefault("llm.cache_ttl", 24*time.Hour)
	v.SetDefault("llm.rate_limit", 60)
}

// Load decodes, expands and validates the configuration held by v.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrInvalidConfig, err)
	}

	cfg.resolvePaths()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports every problem it finds.
func (c *Config) Validate() error {
	var errs []error

	if c.Database.Path == "" {
		errs = append(errs, errors.New("database.path is required"))
	}
	if c.Rules.Path == "" {
		errs = append(errs, errors.New("rules.path is required"))
	}
	if _, err := common.ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, fmt.Errorf("logging.level: %w", err))
	}
	switch c.Logging.Format {
	case "console", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format must be console or json, got %q", c.Logging.Format))
	}
	if _, err := c.Mode(); err != nil {
		errs = append(errs, fmt.Errorf("classification.mode: %w", err))
	}
	if c.Classification.BatchSize < 1 {
		errs = append(errs, errors.New("classification.batch_size must be at least 1"))
	}
	if _, err := c.PolicyTable(); err != nil {
		errs = append(errs, err)
	}
	if c.Learning.Threshold != nil && (*c.Learning.Threshold < 0 || *c.Learning.Threshold > 100) {
		errs = append(errs, errors.New("learning.threshold must be within 0-100"))
	}
	if c.Learning.Ceiling < 0 || c.Learning.Ceiling > 100 {
		errs = append(errs, errors.New("learning.ceiling must be within 0-100"))
	}
	if c.Delegation.MaxInlineRecords < 0 || c.Delegation.CostBudget < 0 || c.Delegation.CostPerCall < 0 {
		errs = append(errs, errors.New("delegation limits cannot be negative"))
	}
	if c.Delegation.Workers < 1 {
		errs = append(errs, errors.New("delegation.workers must be at least 1"))
	}
	switch strings.ToLower(c.LLM.Provider) {
	case "", "openai", "anthropic":
	default:
		errs = append(errs, fmt.Errorf("llm.provider must be openai or anthropic, got %q", c.LLM.Provider))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", common.ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// Mode returns the configured intelligence mode.
func (c *Config) Mode() (model.Mode, error) {
	return policy.ParseMode(c.Classification.Mode)
}

// PolicyTable returns the built-in mode table with configured overrides.
func (c *Config) PolicyTable() (policy.Table, error) {
	table := policy.DefaultTable()
	overrides := make(map[model.Mode]policy.Thresholds, len(c.Modes))
	for name, o := range c.Modes {
		mode, err := policy.ParseMode(name)
		if err != nil {
			return nil, fmt.Errorf("modes.%s: %w", name, err)
		}
		th := table[mode]
		if o.AutoThreshold != nil {
			th.AutoThreshold = *o.AutoThreshold
		}
		if o.AskFloor != nil {
			th.AskFloor = *o.AskFloor
		}
		overrides[mode] = th
	}

	table = table.WithOverrides(overrides)
	if err := table.Validate(); err != nil {
		return nil, fmt.Errorf("modes: %w", err)
	}
	return table, nil
}

// EngineOptions builds orchestrator options. Observer and Logger are left to
// the caller.
func (c *Config) EngineOptions() (engine.Options, error) {
	mode, err := c.Mode()
	if err != nil {
		return engine.Options{}, err
	}
	table, err := c.PolicyTable()
	if err != nil {
		return engine.Options{}, err
	}

	opts := engine.DefaultOptions()
	opts.Mode = mode
	opts.Table = table
	opts.ValidateBorderline = c.Classification.ValidateBorderline
	opts.BatchSize = c.Classification.BatchSize
	opts.LearningThreshold = c.Learning.Threshold
	opts.LearningCeiling = c.Learning.Ceiling
	opts.Delegation = engine.DelegationLimits{
		MaxInlineRecords: c.Delegation.MaxInlineRecords,
		CostBudget:       c.Delegation.CostBudget,
		CostPerCall:      c.Delegation.CostPerCall,
	}
	return opts, nil
}

// LLMEnabled reports whether an external classifier is configured.
func (c *Config) LLMEnabled() bool {
	return c.LLM.Provider != ""
}

// AdapterConfig returns the llm adapter configuration. A missing API key is
// read from OPENAI_API_KEY or ANTHROPIC_API_KEY.
func (c *Config) AdapterConfig() (llm.Config, error) {
	provider := strings.ToLower(c.LLM.Provider)
	apiKey := c.LLM.APIKey
	if apiKey == "" {
		switch provider {
		case "openai":
			apiKey = os.Getenv("OPENAI_API_KEY")
		case "anthropic":
			apiKey = os.Getenv("ANTHROPIC_API_KEY")
		}
	}
	if apiKey == "" {
		return llm.Config{}, fmt.Errorf("%w: no API key for %s; set llm.api_key or the provider's environment variable",
			common.ErrMissingConfig, provider)
	}

	return llm.Config{
		Provider:    provider,
		APIKey:      apiKey,
		Model:       c.LLM.Model,
		BaseURL:     c.LLM.BaseURL,
		MaxRetries:  c.LLM.MaxRetries,
		RetryDelay:  c.LLM.RetryDelay,
		CacheTTL:    c.LLM.CacheTTL,
		RateLimit:   c.LLM.RateLimit,
		Temperature: c.LLM.Temperature,
		MaxTokens:   c.LLM.MaxTokens,
		BatchSize:   c.Classification.BatchSize,
	}, nil
}
