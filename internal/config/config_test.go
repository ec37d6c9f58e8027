package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Veraticus/ruleflow/internal/common"
	"github.com/Veraticus/ruleflow/internal/model"
	"github.com/Veraticus/ruleflow/internal/policy"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func load(t *testing.T, yaml string) (*Config, error) {
	t.Helper()
	v := viper.New()
	SetDefaults(v)
	v.SetConfigType("yaml")
	require.NoError(t, v.ReadConfig(strings.NewReader(yaml)))
	return Load(v)
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := load(t, "")
	require.NoError(t, err)

	home, err := os.UserHomeDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".local/share/ruleflow/ledger.db"), cfg.Database.Path)

	mode, err := cfg.Mode()
	require.NoError(t, err)
	assert.Equal(t, model.ModeBalanced, mode)

	opts, err := cfg.EngineOptions()
	require.NoError(t, err)
	assert.True(t, opts.ValidateBorderline)
	assert.Equal(t, 10, opts.BatchSize)
	assert.Nil(t, opts.LearningThreshold)
	assert.Equal(t, 90, opts.LearningCeiling)
	assert.Equal(t, 100, opts.Delegation.MaxInlineRecords)
	assert.InDelta(t, 5.0, opts.Delegation.CostBudget, 0)
	assert.Equal(t, policy.DefaultTable(), opts.Table)

	assert.False(t, cfg.LLMEnabled())
	assert.Equal(t, time.Second, cfg.LLM.RetryDelay)
	assert.Equal(t, 10, cfg.Backup.Keep)
}

func TestLoad_Overrides(t *testing.T) {
	cfg, err := load(t, `
database:
  path: /tmp/ledger.db
classification:
  mode: Permissive
  validate_borderline: false
  batch_size: 5
modes:
  balanced:
    auto_threshold: 95
learning:
  threshold: 75
  ceiling: 85
llm:
  provider: anthropic
  api_key: secret
  retry_delay: 250ms
`)
	require.NoError(t, err)

	opts, err := cfg.EngineOptions()
	require.NoError(t, err)
	assert.Equal(t, model.ModePermissive, opts.Mode)
	assert.False(t, opts.ValidateBorderline)
	assert.Equal(t, policy.Thresholds{AutoThreshold: 95, AskFloor: 70}, opts.Table[model.ModeBalanced])
	require.NotNil(t, opts.LearningThreshold)
	assert.Equal(t, 75, *opts.LearningThreshold)
	assert.Equal(t, 85, opts.LearningCeiling)

	adapter, err := cfg.AdapterConfig()
	require.NoError(t, err)
	assert.Equal(t, "anthropic", adapter.Provider)
	assert.Equal(t, "secret", adapter.APIKey)
	assert.Equal(t, 250*time.Millisecond, adapter.RetryDelay)
	assert.Equal(t, 5, adapter.BatchSize)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantMsg string
	}{
		{name: "mode", yaml: "classification:\n  mode: reckless\n", wantMsg: "classification.mode"},
		{name: "log level", yaml: "logging:\n  level: loud\n", wantMsg: "logging.level"},
		{name: "log format", yaml: "logging:\n  format: xml\n", wantMsg: "logging.format"},
		{name: "batch size", yaml: "classification:\n  batch_size: 0\n", wantMsg: "batch_size"},
		{name: "floor above auto", yaml: "modes:\n  permissive:\n    ask_floor: 90\n", wantMsg: "modes"},
		{name: "unknown mode override", yaml: "modes:\n  yolo:\n    ask_floor: 10\n", wantMsg: "modes.yolo"},
		{name: "learning threshold", yaml: "learning:\n  threshold: 120\n", wantMsg: "learning.threshold"},
		{name: "provider", yaml: "llm:\n  provider: gemini\n", wantMsg: "llm.provider"},
		{name: "workers", yaml: "delegation:\n  workers: 0\n", wantMsg: "workers"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := load(t, tt.yaml)
			require.ErrorIs(t, err, common.ErrInvalidConfig)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestAdapterConfig_EnvKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "from-env")
	cfg, err := load(t, "llm:\n  provider: openai\n")
	require.NoError(t, err)

	adapter, err := cfg.AdapterConfig()
	require.NoError(t, err)
	assert.Equal(t, "from-env", adapter.APIKey)

	t.Setenv("OPENAI_API_KEY", "")
	_, err = cfg.AdapterConfig()
	require.ErrorIs(t, err, common.ErrMissingConfig)
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)
	t.Setenv("RULEFLOW_TEST_DIR", "/data")

	tests := []struct {
		in   string
		want string
	}{
		{in: "", want: ""},
		{in: "~", want: home},
		{in: "~/rules.yaml", want: filepath.Join(home, "rules.yaml")},
		{in: "$RULEFLOW_TEST_DIR/ledger.db", want: "/data/ledger.db"},
		{in: "/abs/path", want: "/abs/path"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ExpandPath(tt.in), tt.in)
	}
}
