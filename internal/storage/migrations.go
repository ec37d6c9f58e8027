package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// ExpectedSchemaVersion is the latest schema version that the application expects.
// If the database cannot be migrated to this version, it's a fatal error.
const ExpectedSchemaVersion = 4

// Migration represents a database schema migration.
type Migration struct {
	Up          func(*sql.Tx) error
	Description string
	Version     int
}

func execAll(tx *sql.Tx, queries ...string) error {
	for _, query := range queries {
		if _, err := tx.Exec(query); err != nil {
			return fmt.Errorf("failed to execute query: %w", err)
		}
	}
	return nil
}

var migrations = []Migration{
	{
		Version:     1,
		Description: "Initial schema",
		Up: func(tx *sql.Tx) error {
			return execAll(tx,
				`CREATE TABLE IF NOT EXISTS records (
					id TEXT PRIMARY KEY,
					fingerprint TEXT NOT NULL,
					date DATETIME NOT NULL,
					payee TEXT NOT NULL,
					amount TEXT NOT NULL,
					account TEXT NOT NULL DEFAULT '',
					category TEXT,
					labels TEXT,
					imported_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
				)`,
				`CREATE INDEX IF NOT EXISTS idx_records_date ON records(date)`,
				`CREATE INDEX IF NOT EXISTS idx_records_account ON records(account)`,
				`CREATE INDEX IF NOT EXISTS idx_records_fingerprint ON records(fingerprint)`,

				`CREATE TABLE IF NOT EXISTS categories (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					name TEXT NOT NULL UNIQUE COLLATE NOCASE,
					description TEXT NOT NULL DEFAULT '',
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP
				)`,
			)
		},
	},
	{
		Version:     2,
		Description: "Add classification results for auditing",
		Up: func(tx *sql.Tx) error {
			return execAll(tx,
				`CREATE TABLE IF NOT EXISTS classification_results (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					batch_id TEXT NOT NULL,
					record_id TEXT NOT NULL,
					category TEXT,
					labels TEXT,
					confidence INTEGER NOT NULL DEFAULT 0,
					source TEXT NOT NULL,
					decision TEXT NOT NULL,
					rule_name TEXT NOT NULL DEFAULT '',
					external_used BOOLEAN NOT NULL DEFAULT 0,
					reasoning TEXT NOT NULL DEFAULT '',
					error TEXT NOT NULL DEFAULT '',
					applied BOOLEAN NOT NULL DEFAULT 0,
					classified_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					FOREIGN KEY (record_id) REFERENCES records(id)
				)`,
				`CREATE INDEX IF NOT EXISTS idx_results_record ON classification_results(record_id)`,
				`CREATE INDEX IF NOT EXISTS idx_results_batch ON classification_results(batch_id)`,
			)
		},
	},
	{
		Version:     3,
		Description: "Add staged rule suggestions",
		Up: func(tx *sql.Tx) error {
			return execAll(tx,
				`CREATE TABLE IF NOT EXISTS rule_suggestions (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					batch_id TEXT NOT NULL DEFAULT '',
					rule_name TEXT NOT NULL,
					token TEXT NOT NULL,
					category TEXT NOT NULL,
					confidence INTEGER NOT NULL,
					coverage INTEGER NOT NULL DEFAULT 1,
					examples TEXT,
					status TEXT NOT NULL DEFAULT 'PENDING',
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					resolved_at DATETIME
				)`,
				`CREATE INDEX IF NOT EXISTS idx_suggestions_status ON rule_suggestions(status)`,
				`CREATE INDEX IF NOT EXISTS idx_suggestions_key ON rule_suggestions(token, category)`,
			)
		},
	},
	{
		Version:     4,
		Description: "Add backup metadata",
		Up: func(tx *sql.Tx) error {
			return execAll(tx,
				`CREATE TABLE IF NOT EXISTS backups (
					id TEXT PRIMARY KEY,
					created_at DATETIME NOT NULL,
					reason TEXT NOT NULL DEFAULT '',
					file_size INTEGER NOT NULL DEFAULT 0,
					row_counts TEXT,
					schema_version INTEGER NOT NULL DEFAULT 0
				)`,
			)
		},
	},
}

// SchemaVersion returns the database's current schema version.
func (s *SQLiteStorage) SchemaVersion(ctx context.Context) (int, error) {
	var version int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to get schema version: %w", err)
	}
	return version, nil
}

// Migrate applies all pending database migrations.
func (s *SQLiteStorage) Migrate(ctx context.Context) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	currentVersion, err := s.SchemaVersion(ctx)
	if err != nil {
		return err
	}

	for _, migration := range migrations {
		if migration.Version <= currentVersion {
			continue
		}

		tx, txErr := s.db.BeginTx(ctx, nil)
		if txErr != nil {
			return fmt.Errorf("failed to begin transaction: %w", txErr)
		}

		if upErr := migration.Up(tx); upErr != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d failed: %w", migration.Version, upErr)
		}

		if _, execErr := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", migration.Version)); execErr != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to update schema version: %w", execErr)
		}

		if commitErr := tx.Commit(); commitErr != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, commitErr)
		}

		slog.Info("Applied migration",
			"version", migration.Version,
			"description", migration.Description)
	}

	finalVersion, err := s.SchemaVersion(ctx)
	if err != nil {
		return err
	}
	if finalVersion != ExpectedSchemaVersion {
		return fmt.Errorf("database schema version mismatch: expected %d, got %d", ExpectedSchemaVersion, finalVersion)
	}

	return nil
}
