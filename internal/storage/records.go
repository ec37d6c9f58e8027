package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Veraticus/ruleflow/internal/common"
	"github.com/Veraticus/ruleflow/internal/model"
	"github.com/shopspring/decimal"
)

// RecordFilter narrows GetRecords.
type RecordFilter struct {
	Since            *time.Time
	Account          string
	Limit            int // Zero means no limit
	UnclassifiedOnly bool
}

// SaveRecords inserts records that are not already stored and returns how many
// were new. Existing records keep their category and labels.
func (s *SQLiteStorage) SaveRecords(ctx context.Context, records []model.Record) (int, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}
	for i := range records {
		if err := validateRecord(&records[i]); err != nil {
			return 0, fmt.Errorf("record at index %d: %w", i, err)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO records (id, fingerprint, date, payee, amount, account, category, labels)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	inserted := 0
	for i := range records {
		r := &records[i]
		labels, err := encodeLabels(r.Labels)
		if err != nil {
			return 0, err
		}

		var category sql.NullString
		if r.HasCategory() {
			category = sql.NullString{String: strings.TrimSpace(*r.ExistingCategory), Valid: true}
		}

		res, err := stmt.ExecContext(ctx,
			r.ID, r.Fingerprint(), r.Date.UTC(), strings.TrimSpace(r.Payee),
			r.Amount.String(), r.Account, category, labels)
		if err != nil {
			return 0, fmt.Errorf("failed to save record %s: %w", r.ID, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			inserted++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit records: %w", err)
	}

	slog.Debug("saved records", "received", len(records), "inserted", inserted)
	return inserted, nil
}

// GetRecords returns records ordered by date then id.
func (s *SQLiteStorage) GetRecords(ctx context.Context, filter RecordFilter) ([]model.Record, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	var (
		where []string
		args  []any
	)
	if filter.UnclassifiedOnly {
		where = append(where, "(category IS NULL OR category = '')")
	}
	if filter.Account != "" {
		where = append(where, "account = ?")
		args = append(args, filter.Account)
	}
	if filter.Since != nil {
		where = append(where, "date >= ?")
		args = append(args, filter.Since.UTC())
	}

	query := `SELECT id, date, payee, amount, account, category, labels FROM records`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY date, id"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []model.Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating records: %w", err)
	}

	return records, nil
}

// GetRecord returns one record by id.
func (s *SQLiteStorage) GetRecord(ctx context.Context, id string) (*model.Record, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT id, date, payee, amount, account, category, labels FROM records WHERE id = ?`, id)
	r, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("record %s: %w", id, common.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// CountRecords returns the total and unclassified record counts.
func (s *SQLiteStorage) CountRecords(ctx context.Context) (total, unclassified int, err error) {
	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(CASE WHEN category IS NULL OR category = '' THEN 1 ELSE 0 END), 0)
		FROM records`).Scan(&total, &unclassified)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count records: %w", err)
	}
	return total, unclassified, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (model.Record, error) {
	var (
		r        model.Record
		amount   string
		category sql.NullString
		labels   sql.NullString
	)
	if err := row.Scan(&r.ID, &r.Date, &r.Payee, &amount, &r.Account, &category, &labels); err != nil {
		if err == sql.ErrNoRows {
			return r, err
		}
		return r, fmt.Errorf("failed to scan record: %w", err)
	}

	parsed, err := decimal.NewFromString(amount)
	if err != nil {
		return r, fmt.Errorf("record %s has invalid amount %q: %w", r.ID, amount, err)
	}
	r.Amount = parsed

	if category.Valid && category.String != "" {
		r.ExistingCategory = model.StringPtr(category.String)
	}
	if r.Labels, err = decodeLabels(labels); err != nil {
		return r, fmt.Errorf("record %s: %w", r.ID, err)
	}
	return r, nil
}
