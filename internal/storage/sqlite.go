package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// DefaultBackupKeep is how many backups survive pruning.
const DefaultBackupKeep = 10

// SQLiteStorage is the ledger store.
type SQLiteStorage struct {
	db      *sql.DB
	backups *BackupManager
	dbPath  string
}

// NewSQLiteStorage opens (creating if needed) the database at dbPath. Backups
// go to a "backups" directory next to it and the newest keep are retained.
func NewSQLiteStorage(dbPath string, keep int) (*SQLiteStorage, error) {
	if err := validateString(dbPath, "dbPath"); err != nil {
		return nil, err
	}

	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	backups, err := NewBackupManager(db, dbPath, filepath.Join(dir, "backups"), keep)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return &SQLiteStorage{db: db, dbPath: dbPath, backups: backups}, nil
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// Backups returns the backup manager bound to this database.
func (s *SQLiteStorage) Backups() *BackupManager {
	return s.backups
}

// Path returns the database file path.
func (s *SQLiteStorage) Path() string {
	return s.dbPath
}

func encodeLabels(labels []string) (string, error) {
	if labels == nil {
		labels = []string{}
	}
	data, err := json.Marshal(labels)
	if err != nil {
		return "", fmt.Errorf("failed to encode labels: %w", err)
	}
	return string(data), nil
}

func decodeLabels(raw sql.NullString) ([]string, error) {
	if !raw.Valid || raw.String == "" {
		return nil, nil
	}
	var labels []string
	if err := json.Unmarshal([]byte(raw.String), &labels); err != nil {
		return nil, fmt.Errorf("failed to decode labels: %w", err)
	}
	if len(labels) == 0 {
		return nil, nil
	}
	return labels, nil
}
