package main

import (
	"context"
	"fmt"

	"github.com/Veraticus/ruleflow/internal/config"
	"github.com/Veraticus/ruleflow/internal/engine"
	"github.com/Veraticus/ruleflow/internal/llm"
	"github.com/Veraticus/ruleflow/internal/rules"
	"github.com/Veraticus/ruleflow/internal/storage"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var (
	_ engine.ExternalClassifier = (*llm.Adapter)(nil)
	_ engine.BatchClassifier    = (*llm.Adapter)(nil)
)

// loadConfig returns the validated configuration.
func loadConfig() (*config.Config, error) {
	return config.Load(viper.GetViper())
}

// initStorage opens the ledger and brings its schema up to date.
func initStorage(ctx context.Context, cfg *config.Config) (*storage.SQLiteStorage, error) {
	store, err := storage.NewSQLiteStorage(cfg.Database.Path, cfg.Backup.Keep)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return store, nil
}

// loadRules loads the rule document named in the configuration.
func loadRules(cfg *config.Config) (*rules.Snapshot, error) {
	return rules.Validate(cfg.Rules.Path)
}

// initExternal returns the configured external classifier, or nil when no
// provider is set. The returned closer is never nil.
func initExternal(cfg *config.Config) (engine.ExternalClassifier, func(), error) {
	if !cfg.LLMEnabled() {
		return nil, func() {}, nil
	}
	adapterCfg, err := cfg.AdapterConfig()
	if err != nil {
		return nil, func() {}, err
	}
	adapter, err := llm.NewAdapter(adapterCfg, nil)
	if err != nil {
		return nil, func() {}, err
	}
	return adapter, adapter.Close, nil
}

// bindFlag binds a flag to a viper key. Flags only override the config when
// they are set on the command line.
func bindFlag(key string, flag *pflag.Flag) {
	_ = viper.BindPFlag(key, flag)
}
