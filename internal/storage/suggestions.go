package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/Veraticus/ruleflow/internal/common"
	"github.com/Veraticus/ruleflow/internal/model"
)

const maxStoredExamples = 3

// StageSuggestions stores suggestions for review. A pending suggestion with the
// same token and category absorbs the new one: coverage adds up and the higher
// confidence wins. It returns how many new rows were created.
func (s *SQLiteStorage) StageSuggestions(ctx context.Context, suggestions []model.LearnedRuleSuggestion) (int, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	created := 0
	now := time.Now().UTC()
	for _, sg := range suggestions {
		if err := validateString(sg.Token, "token"); err != nil {
			return 0, err
		}

		var (
			id         int64
			coverage   int
			confidence int
			rawEx      sql.NullString
		)
		err := tx.QueryRowContext(ctx, `
			SELECT id, coverage, confidence, examples FROM rule_suggestions
			WHERE token = ? AND category = ? AND status = ?`,
			sg.Token, sg.Rule.Category, string(model.SuggestionPending)).Scan(&id, &coverage, &confidence, &rawEx)

		switch {
		case err == sql.ErrNoRows:
			examples, encErr := encodeExamples(sg.Examples)
			if encErr != nil {
				return 0, encErr
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO rule_suggestions (batch_id, rule_name, token, category, confidence, coverage, examples, status, created_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				sg.BatchID, sg.Rule.Name, sg.Token, sg.Rule.Category, sg.Rule.Confidence,
				max(sg.Coverage, 1), examples, string(model.SuggestionPending), now); err != nil {
				return 0, fmt.Errorf("failed to stage suggestion %s: %w", sg.Rule.Name, err)
			}
			created++

		case err != nil:
			return 0, fmt.Errorf("failed to look up suggestion: %w", err)

		default:
			existing, decErr := decodeExamples(rawEx)
			if decErr != nil {
				return 0, decErr
			}
			examples, encErr := encodeExamples(appendExamples(existing, sg.Examples))
			if encErr != nil {
				return 0, encErr
			}
			if _, err := tx.ExecContext(ctx, `
				UPDATE rule_suggestions SET coverage = ?, confidence = ?, examples = ?, batch_id = ?
				WHERE id = ?`,
				coverage+max(sg.Coverage, 1), max(confidence, sg.Rule.Confidence), examples, sg.BatchID, id); err != nil {
				return 0, fmt.Errorf("failed to merge suggestion %d: %w", id, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit suggestions: %w", err)
	}

	slog.Debug("staged suggestions", "received", len(suggestions), "created", created)
	return created, nil
}

// PendingSuggestions returns suggestions awaiting review, widest coverage first.
func (s *SQLiteStorage) PendingSuggestions(ctx context.Context) ([]model.LearnedRuleSuggestion, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, batch_id, rule_name, token, category, confidence, coverage, examples, status, created_at
		FROM rule_suggestions
		WHERE status = ?
		ORDER BY coverage DESC, id`, string(model.SuggestionPending))
	if err != nil {
		return nil, fmt.Errorf("failed to query suggestions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.LearnedRuleSuggestion
	for rows.Next() {
		var (
			sg     model.LearnedRuleSuggestion
			rawEx  sql.NullString
			status string
		)
		if err := rows.Scan(&sg.ID, &sg.BatchID, &sg.Rule.Name, &sg.Token, &sg.Rule.Category,
			&sg.Rule.Confidence, &sg.Coverage, &rawEx, &status, &sg.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan suggestion: %w", err)
		}
		if sg.Examples, err = decodeExamples(rawEx); err != nil {
			return nil, err
		}
		sg.Status = model.SuggestionStatus(status)
		sg.Rule.Patterns = []string{sg.Token}
		out = append(out, sg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating suggestions: %w", err)
	}
	return out, nil
}

// ResolveSuggestion marks a pending suggestion accepted or rejected.
func (s *SQLiteStorage) ResolveSuggestion(ctx context.Context, id int64, status model.SuggestionStatus) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateStatus(status); err != nil {
		return err
	}

	var current string
	err := s.db.QueryRowContext(ctx, `SELECT status FROM rule_suggestions WHERE id = ?`, id).Scan(&current)
	if err == sql.ErrNoRows {
		return fmt.Errorf("suggestion %d: %w", id, common.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to read suggestion %d: %w", id, err)
	}
	if model.SuggestionStatus(current) != model.SuggestionPending {
		return fmt.Errorf("suggestion %d is %s: %w", id, current, ErrSuggestionClosed)
	}

	if _, err := s.db.ExecContext(ctx,
		`UPDATE rule_suggestions SET status = ?, resolved_at = ? WHERE id = ?`,
		string(status), time.Now().UTC(), id); err != nil {
		return fmt.Errorf("failed to resolve suggestion %d: %w", id, err)
	}

	slog.Info("resolved suggestion", "id", id, "status", status)
	return nil
}

func encodeExamples(examples []string) (string, error) {
	if examples == nil {
		examples = []string{}
	}
	data, err := json.Marshal(examples)
	if err != nil {
		return "", fmt.Errorf("failed to encode examples: %w", err)
	}
	return string(data), nil
}

func decodeExamples(raw sql.NullString) ([]string, error) {
	if !raw.Valid || raw.String == "" {
		return nil, nil
	}
	var out []string
	if err := json.Unmarshal([]byte(raw.String), &out); err != nil {
		return nil, fmt.Errorf("failed to decode examples: %w", err)
	}
	return out, nil
}

func appendExamples(existing, more []string) []string {
	out := existing
	for _, e := range more {
		if len(out) >= maxStoredExamples {
			break
		}
		dup := false
		for _, have := range out {
			if have == e {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, e)
		}
	}
	return out
}
