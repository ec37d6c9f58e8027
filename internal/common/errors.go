// Package common provides shared utilities and types used across the application.
package common

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Common application errors.
var (
	// Storage errors.
	ErrNotFound       = errors.New("not found")
	ErrDuplicateEntry = errors.New("duplicate entry")

	// Classification errors.
	ErrNoStableToken = errors.New("no stable merchant token")

	// Configuration errors.
	ErrMissingConfig = errors.New("missing configuration")
	ErrInvalidConfig = errors.New("invalid configuration")
)

// ConfigError reports a malformed rule declaration. It is fatal at load time.
type ConfigError struct {
	Rule    string // Rule name, when known
	Field   string
	Message string
	Index   int // Zero-based position in the rule document
	Line    int // Source line, 0 when unknown
}

func (e *ConfigError) Error() string {
	var b strings.Builder
	b.WriteString("rule config")
	if e.Line > 0 {
		fmt.Fprintf(&b, " line %d", e.Line)
	}
	if e.Index >= 0 {
		fmt.Fprintf(&b, " rule #%d", e.Index+1)
	}
	if e.Rule != "" {
		fmt.Fprintf(&b, " (%s)", e.Rule)
	}
	if e.Field != "" {
		fmt.Fprintf(&b, " field %q", e.Field)
	}
	b.WriteString(": ")
	b.WriteString(e.Message)
	return b.String()
}

// Is lets errors.Is(err, ErrInvalidConfig) match any ConfigError.
func (e *ConfigError) Is(target error) bool {
	return target == ErrInvalidConfig
}

// PatternError reports a rule pattern that does not compile.
type PatternError struct {
	Err     error
	Rule    string
	Pattern string
}

func (e *PatternError) Error() string {
	return fmt.Sprintf("rule %q: invalid pattern %q: %v", e.Rule, e.Pattern, e.Err)
}

func (e *PatternError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, ErrInvalidConfig) match any PatternError.
func (e *PatternError) Is(target error) bool {
	return target == ErrInvalidConfig
}

// ExternalAdapterError reports a failed call to the external classifier.
type ExternalAdapterError struct {
	Err       error
	Operation string
	RecordID  string
}

func (e *ExternalAdapterError) Error() string {
	if e.RecordID == "" {
		return fmt.Sprintf("external %s failed: %v", e.Operation, e.Err)
	}
	return fmt.Sprintf("external %s failed for record %s: %v", e.Operation, e.RecordID, e.Err)
}

func (e *ExternalAdapterError) Unwrap() error {
	return e.Err
}

// InvalidCategoryError reports an external category outside the supplied vocabulary.
type InvalidCategoryError struct {
	Category string
}

func (e *InvalidCategoryError) Error() string {
	return fmt.Sprintf("external classifier returned unknown category %q", e.Category)
}

// LearningExtractionError reports a payee with no stable merchant token.
type LearningExtractionError struct {
	Payee string
}

func (e *LearningExtractionError) Error() string {
	return fmt.Sprintf("no stable merchant token in payee %q", e.Payee)
}

// Is lets errors.Is(err, ErrNoStableToken) match any LearningExtractionError.
func (e *LearningExtractionError) Is(target error) bool {
	return target == ErrNoStableToken
}

// UserError represents an error that should be shown to the user.
type UserError struct {
	Err         error
	UserMessage string
}

func (e *UserError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.UserMessage, e.Err)
	}
	return e.UserMessage
}

func (e *UserError) Unwrap() error {
	return e.Err
}

// NewUserError creates a new user-friendly error.
func NewUserError(userMessage string, err error) error {
	return &UserError{
		UserMessage: userMessage,
		Err:         err,
	}
}

// IsRetryable determines if an error should trigger a retry.
func IsRetryable(err error) bool {
	if errors.Is(err, ErrRateLimit) ||
		errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var retryableErr *RetryableError
	if errors.As(err, &retryableErr) {
		return retryableErr.Retryable
	}

	return false
}
