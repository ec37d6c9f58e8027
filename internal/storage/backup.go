package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// BackupManager copies the database file before it is mutated and restores
// those copies on request.
type BackupManager struct {
	db     *sql.DB
	dbPath string
	dir    string
	keep   int
}

// BackupInfo describes one backup.
type BackupInfo struct {
	CreatedAt     time.Time      `json:"created_at"`
	RowCounts     map[string]int `json:"row_counts"`
	ID            string         `json:"id"`
	Reason        string         `json:"reason"`
	FileSize      int64          `json:"file_size"`
	SchemaVersion int            `json:"schema_version"`
}

// Backup errors.
var (
	ErrBackupNotFound  = errors.New("backup not found")
	ErrBackupCorrupted = errors.New("backup integrity check failed")
	ErrInvalidBackupID = errors.New("invalid backup id")
)

// NewBackupManager stores backups of dbPath in dir, keeping the newest keep.
func NewBackupManager(db *sql.DB, dbPath, dir string, keep int) (*BackupManager, error) {
	if keep <= 0 {
		keep = DefaultBackupKeep
	}

	absDB, err := filepath.Abs(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve database path: %w", err)
	}
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve backup directory: %w", err)
	}
	if err := os.MkdirAll(absDir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create backup directory: %w", err)
	}

	return &BackupManager{db: db, dbPath: absDB, dir: absDir, keep: keep}, nil
}

// Dir returns the backup directory.
func (bm *BackupManager) Dir() string {
	return bm.dir
}

// Create writes a consistent copy of the database and prunes old backups.
func (bm *BackupManager) Create(ctx context.Context, reason string) (*BackupInfo, error) {
	now := time.Now().UTC()
	id := fmt.Sprintf("backup-%s-%s", now.Format("20060102-150405"), uuid.NewString()[:8])
	backupPath := filepath.Join(bm.dir, id+".db")

	var schemaVersion int
	if err := bm.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&schemaVersion); err != nil {
		return nil, fmt.Errorf("failed to get schema version: %w", err)
	}

	if err := bm.vacuumInto(ctx, backupPath); err != nil {
		return nil, fmt.Errorf("failed to back up database: %w", err)
	}

	stat, err := os.Stat(backupPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat backup: %w", err)
	}

	info := BackupInfo{
		ID:            id,
		CreatedAt:     now,
		Reason:        reason,
		FileSize:      stat.Size(),
		RowCounts:     bm.collectRowCounts(ctx),
		SchemaVersion: schemaVersion,
	}

	if err := bm.saveMetadata(info); err != nil {
		if rmErr := os.Remove(backupPath); rmErr != nil {
			slog.Error("failed to remove backup after metadata save failure", "error", rmErr)
		}
		return nil, fmt.Errorf("failed to save backup metadata: %w", err)
	}

	if err := bm.storeMetadataInDB(ctx, info); err != nil {
		slog.Warn("failed to record backup in database", "error", err)
	}

	if err := bm.prune(ctx); err != nil {
		slog.Warn("failed to prune old backups", "error", err)
	}

	slog.Info("created backup", "id", id, "reason", reason, "size", info.FileSize)
	return &info, nil
}

// List returns all backups, newest first.
func (bm *BackupManager) List(_ context.Context) ([]BackupInfo, error) {
	entries, err := os.ReadDir(bm.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read backup directory: %w", err)
	}

	backups := make([]BackupInfo, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".meta.json") {
			continue
		}
		info, err := bm.loadMetadata(filepath.Join(bm.dir, entry.Name()))
		if err != nil {
			slog.Debug("skipping unreadable backup metadata", "file", entry.Name(), "error", err)
			continue
		}
		backups = append(backups, *info)
	}

	sort.Slice(backups, func(i, j int) bool {
		if backups[i].CreatedAt.Equal(backups[j].CreatedAt) {
			return backups[i].ID > backups[j].ID
		}
		return backups[i].CreatedAt.After(backups[j].CreatedAt)
	})
	return backups, nil
}

// Restore replaces the database file with backup id. It closes the database
// handle; the storage must be reopened afterwards.
func (bm *BackupManager) Restore(_ context.Context, id string) error {
	if err := validateBackupID(id); err != nil {
		return err
	}

	backupPath := filepath.Join(bm.dir, id+".db")
	if _, err := os.Stat(backupPath); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrBackupNotFound, id)
		}
		return fmt.Errorf("failed to access backup: %w", err)
	}

	if err := verifyIntegrity(backupPath); err != nil {
		return fmt.Errorf("%w: %w", ErrBackupCorrupted, err)
	}

	if err := bm.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	safetyPath := bm.dbPath + ".restore-backup"
	if err := copyFile(bm.dbPath, safetyPath); err != nil {
		return fmt.Errorf("failed to copy current database: %w", err)
	}

	if err := copyFile(backupPath, bm.dbPath); err != nil {
		if restoreErr := copyFile(safetyPath, bm.dbPath); restoreErr != nil {
			slog.Error("failed to put the original database back after a failed restore", "error", restoreErr)
		}
		return fmt.Errorf("failed to restore backup: %w", err)
	}

	for _, suffix := range []string{"-wal", "-shm"} {
		if err := os.Remove(bm.dbPath + suffix); err != nil && !os.IsNotExist(err) {
			slog.Warn("failed to remove stale journal file", "file", bm.dbPath+suffix, "error", err)
		}
	}
	if err := os.Remove(safetyPath); err != nil {
		slog.Error("failed to remove restore safety copy", "error", err)
	}

	slog.Info("restored backup", "id", id)
	return nil
}

// Delete removes a backup and its metadata.
func (bm *BackupManager) Delete(ctx context.Context, id string) error {
	if err := validateBackupID(id); err != nil {
		return err
	}

	backupPath := filepath.Join(bm.dir, id+".db")
	if err := os.Remove(backupPath); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrBackupNotFound, id)
		}
		return fmt.Errorf("failed to remove backup: %w", err)
	}
	if err := os.Remove(filepath.Join(bm.dir, id+".meta.json")); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove backup metadata: %w", err)
	}

	if _, err := bm.db.ExecContext(ctx, `DELETE FROM backups WHERE id = ?`, id); err != nil {
		slog.Debug("failed to remove backup row", "id", id, "error", err)
	}
	return nil
}

func (bm *BackupManager) prune(ctx context.Context) error {
	backups, err := bm.List(ctx)
	if err != nil {
		return err
	}
	for i := bm.keep; i < len(backups); i++ {
		if err := bm.Delete(ctx, backups[i].ID); err != nil {
			slog.Debug("failed to delete old backup", "id", backups[i].ID, "error", err)
		}
	}
	return nil
}

func (bm *BackupManager) vacuumInto(ctx context.Context, destPath string) error {
	if strings.ContainsAny(destPath, `'";`) {
		return fmt.Errorf("invalid destination path: contains forbidden characters")
	}
	if !filepath.IsAbs(destPath) || strings.Contains(destPath, "..") {
		return fmt.Errorf("invalid destination path")
	}

	// #nosec G201 - destPath is validated above
	query := fmt.Sprintf("VACUUM INTO '%s'", destPath)
	if _, err := bm.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("vacuum into %s: %w", destPath, err)
	}
	return nil
}

func (bm *BackupManager) collectRowCounts(ctx context.Context) map[string]int {
	tableQueries := map[string]string{
		"records":                "SELECT COUNT(*) FROM records",
		"categories":             "SELECT COUNT(*) FROM categories",
		"classification_results": "SELECT COUNT(*) FROM classification_results",
		"rule_suggestions":       "SELECT COUNT(*) FROM rule_suggestions",
	}

	counts := make(map[string]int, len(tableQueries))
	for table, query := range tableQueries {
		var count int
		if err := bm.db.QueryRowContext(ctx, query).Scan(&count); err != nil {
			// Table might not exist in older schemas
			continue
		}
		counts[table] = count
	}
	return counts
}

func (bm *BackupManager) saveMetadata(info BackupInfo) error {
	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return err
	}

	path := filepath.Join(bm.dir, info.ID+".meta.json")
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}

func (bm *BackupManager) loadMetadata(path string) (*BackupInfo, error) {
	// #nosec G304 - path is built from the backup directory listing
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var info BackupInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

func (bm *BackupManager) storeMetadataInDB(ctx context.Context, info BackupInfo) error {
	counts, err := json.Marshal(info.RowCounts)
	if err != nil {
		return err
	}
	_, err = bm.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO backups (id, created_at, reason, file_size, row_counts, schema_version)
		VALUES (?, ?, ?, ?, ?, ?)`,
		info.ID, info.CreatedAt, info.Reason, info.FileSize, string(counts), info.SchemaVersion)
	return err
}

func validateBackupID(id string) error {
	if id == "" || strings.ContainsAny(id, `/\`) || strings.Contains(id, "..") {
		return fmt.Errorf("%w: %q", ErrInvalidBackupID, id)
	}
	return nil
}

func verifyIntegrity(path string) error {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return err
	}
	defer func() {
		if err := db.Close(); err != nil {
			slog.Error("failed to close database", "error", err)
		}
	}()

	var result string
	if err := db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return err
	}
	if result != "ok" {
		return fmt.Errorf("integrity check failed: %s", result)
	}
	return nil
}

func copyFile(src, dst string) error {
	tmpDst := dst + ".tmp"

	// #nosec G304 - src is the database or a backup inside the backup directory
	source, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := source.Close(); closeErr != nil {
			slog.Error("failed to close source file", "error", closeErr)
		}
	}()

	// #nosec G304 - tmpDst sits next to dst
	destination, err := os.Create(tmpDst)
	if err != nil {
		return err
	}

	if _, err := io.Copy(destination, source); err != nil {
		_ = destination.Close()
		if rmErr := os.Remove(tmpDst); rmErr != nil {
			slog.Error("failed to remove temporary file after copy error", "error", rmErr)
		}
		return err
	}

	if err := destination.Close(); err != nil {
		if rmErr := os.Remove(tmpDst); rmErr != nil {
			slog.Error("failed to remove temporary file after close error", "error", rmErr)
		}
		return err
	}

	return os.Rename(tmpDst, dst)
}
