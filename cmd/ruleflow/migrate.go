package main

import (
	"fmt"
	"log/slog"

	"github.com/Veraticus/ruleflow/internal/cli"
	"github.com/Veraticus/ruleflow/internal/storage"
	"github.com/spf13/cobra"
)

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		Long: `Initialize or update the ledger schema to the latest version.

Migrations are idempotent; running them on an up-to-date ledger is a no-op.`,
		RunE: runMigrate,
	}

	cmd.Flags().Bool("status", false, "Show current migration status without applying changes")
	return cmd
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	status, _ := cmd.Flags().GetBool("status")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	slog.Info("Starting database migration", "database", cfg.Database.Path, "status_only", status)

	store, err := storage.NewSQLiteStorage(cfg.Database.Path, cfg.Backup.Keep)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() { _ = store.Close() }()

	ctx := cmd.Context()
	current, err := store.SchemaVersion(ctx)
	if err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	if status {
		cmd.Println(cli.FormatInfo(fmt.Sprintf("Schema version %d of %d", current, storage.ExpectedSchemaVersion)))
		return nil
	}

	if current >= storage.ExpectedSchemaVersion {
		cmd.Println(cli.FormatSuccess(fmt.Sprintf("Database is up to date (version %d)", current)))
		return nil
	}

	if err := store.Migrate(ctx); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	cmd.Println(cli.FormatSuccess(fmt.Sprintf("Migrated database from version %d to %d", current, storage.ExpectedSchemaVersion)))
	return nil
}
