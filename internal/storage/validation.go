// Package storage is the local SQLite ledger: it supplies records and the
// category vocabulary, stores classification results and staged rule
// suggestions, and keeps backups of the database file.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Veraticus/ruleflow/internal/model"
)

// Validation errors.
var (
	ErrNilContext       = errors.New("context cannot be nil")
	ErrEmptyString      = errors.New("string parameter cannot be empty")
	ErrInvalidRecord    = errors.New("invalid record")
	ErrInvalidStatus    = errors.New("invalid suggestion status")
	ErrInvalidResult    = errors.New("invalid classification result")
	ErrUnknownCategory  = errors.New("category is not in the ledger vocabulary")
	ErrSuggestionClosed = errors.New("suggestion already resolved")
)

// validateContext ensures the context is not nil.
func validateContext(ctx context.Context) error {
	if ctx == nil {
		return ErrNilContext
	}
	return nil
}

// validateString ensures a string parameter is not empty.
func validateString(s string, paramName string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("%w: %s", ErrEmptyString, paramName)
	}
	return nil
}

func validateRecord(r *model.Record) error {
	if r.ID == "" {
		return fmt.Errorf("%w: missing ID", ErrInvalidRecord)
	}
	if strings.TrimSpace(r.Payee) == "" {
		return fmt.Errorf("%w: record %s has no payee", ErrInvalidRecord, r.ID)
	}
	if r.Date.IsZero() {
		return fmt.Errorf("%w: record %s has no date", ErrInvalidRecord, r.ID)
	}
	return nil
}

func validateResult(r *model.ClassificationResult) error {
	if r.RecordID == "" {
		return fmt.Errorf("%w: missing record ID", ErrInvalidResult)
	}
	if r.Decision == model.DecisionAutoApply && r.Category == nil {
		return fmt.Errorf("%w: record %s is auto-applied without a category", ErrInvalidResult, r.RecordID)
	}
	return nil
}

func validateStatus(s model.SuggestionStatus) error {
	switch s {
	case model.SuggestionAccepted, model.SuggestionRejected:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrInvalidStatus, s)
	}
}
