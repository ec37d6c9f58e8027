package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/Veraticus/ruleflow/internal/model"
)

// ApplyReport describes one ApplyResults call.
type ApplyReport struct {
	Backup  *BackupInfo
	Stored  int // Rows written to classification_results
	Applied int // Records whose category was updated
}

// ApplyResults takes a backup, then stores every result and writes category
// and labels back to the records whose decision is AUTO_APPLY. Labels are
// merged with the labels a record already carries.
func (s *SQLiteStorage) ApplyResults(ctx context.Context, batchID string, results []model.ClassificationResult) (*ApplyReport, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(batchID, "batchID"); err != nil {
		return nil, err
	}
	for i := range results {
		if err := validateResult(&results[i]); err != nil {
			return nil, err
		}
	}

	backup, err := s.backups.Create(ctx, "before applying batch "+batchID)
	if err != nil {
		return nil, fmt.Errorf("refusing to apply results without a backup: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	report := &ApplyReport{Backup: backup}
	now := time.Now().UTC()

	for i := range results {
		r := &results[i]
		apply := r.Decision == model.DecisionAutoApply

		if apply {
			if err := applyToRecord(ctx, tx, r, now); err != nil {
				return nil, err
			}
			report.Applied++
		}

		if err := insertResult(ctx, tx, batchID, r, apply, now); err != nil {
			return nil, err
		}
		report.Stored++
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit results: %w", err)
	}

	slog.Info("applied classification results",
		"batch_id", batchID,
		"stored", report.Stored,
		"applied", report.Applied,
		"backup", backup.ID)
	return report, nil
}

func applyToRecord(ctx context.Context, tx *sql.Tx, r *model.ClassificationResult, now time.Time) error {
	var existing sql.NullString
	err := tx.QueryRowContext(ctx, `SELECT labels FROM records WHERE id = ?`, r.RecordID).Scan(&existing)
	if err == sql.ErrNoRows {
		return fmt.Errorf("%w: record %s does not exist", ErrInvalidResult, r.RecordID)
	}
	if err != nil {
		return fmt.Errorf("failed to read record %s: %w", r.RecordID, err)
	}

	current, err := decodeLabels(existing)
	if err != nil {
		return err
	}
	labels, err := encodeLabels(mergeLabels(current, r.Labels))
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE records SET category = ?, labels = ?, updated_at = ? WHERE id = ?`,
		*r.Category, labels, now, r.RecordID); err != nil {
		return fmt.Errorf("failed to update record %s: %w", r.RecordID, err)
	}
	return nil
}

func insertResult(ctx context.Context, tx *sql.Tx, batchID string, r *model.ClassificationResult, applied bool, now time.Time) error {
	labels, err := encodeLabels(r.Labels)
	if err != nil {
		return err
	}

	var category sql.NullString
	if r.Category != nil {
		category = sql.NullString{String: *r.Category, Valid: true}
	}

	errText := r.Error
	if errText == "" && r.Err != nil {
		errText = r.Err.Error()
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO classification_results (
			batch_id, record_id, category, labels, confidence, source, decision,
			rule_name, external_used, reasoning, error, applied, classified_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		batchID, r.RecordID, category, labels, r.Confidence, string(r.Source), string(r.Decision),
		r.RuleName, r.ExternalUsed, r.Reasoning, errText, applied, now)
	if err != nil {
		return fmt.Errorf("failed to store result for %s: %w", r.RecordID, err)
	}
	return nil
}

// StoredResult is a row of classification_results.
type StoredResult struct {
	ClassifiedAt time.Time
	BatchID      string
	Result       model.ClassificationResult
	ID           int64
	Applied      bool
}

// GetResults returns the results stored for a batch in insertion order.
func (s *SQLiteStorage) GetResults(ctx context.Context, batchID string) ([]StoredResult, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, batch_id, record_id, category, labels, confidence, source, decision,
			rule_name, external_used, reasoning, error, applied, classified_at
		FROM classification_results
		WHERE batch_id = ?
		ORDER BY id`, batchID)
	if err != nil {
		return nil, fmt.Errorf("failed to query results: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []StoredResult
	for rows.Next() {
		var (
			sr       StoredResult
			category sql.NullString
			labels   sql.NullString
			source   string
			decision string
		)
		if err := rows.Scan(&sr.ID, &sr.BatchID, &sr.Result.RecordID, &category, &labels,
			&sr.Result.Confidence, &source, &decision, &sr.Result.RuleName, &sr.Result.ExternalUsed,
			&sr.Result.Reasoning, &sr.Result.Error, &sr.Applied, &sr.ClassifiedAt); err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		if category.Valid {
			sr.Result.Category = model.StringPtr(category.String)
		}
		if sr.Result.Labels, err = decodeLabels(labels); err != nil {
			return nil, err
		}
		sr.Result.Source = model.Source(source)
		sr.Result.Decision = model.Decision(decision)
		out = append(out, sr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating results: %w", err)
	}
	return out, nil
}

func mergeLabels(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	var out []string
	for _, list := range [][]string{a, b} {
		for _, l := range list {
			if _, ok := seen[l]; ok {
				continue
			}
			seen[l] = struct{}{}
			out = append(out, l)
		}
	}
	sort.Strings(out)
	return out
}
