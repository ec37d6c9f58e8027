package model

import (
	"fmt"
	"strings"
)

// Source indicates where a classification came from.
type Source string

// Source constants.
const (
	SourceRule     Source = "rule"
	SourceExternal Source = "external"
	SourceNone     Source = "none"
)

// Decision is the outcome of the confidence policy.
type Decision string

// Decision constants, ordered SKIP < ASK_USER < AUTO_APPLY.
const (
	DecisionSkip      Decision = "SKIP"
	DecisionAskUser   Decision = "ASK_USER"
	DecisionAutoApply Decision = "AUTO_APPLY"
)

// Rank orders decisions for comparison.
func (d Decision) Rank() int {
	switch d {
	case DecisionAskUser:
		return 1
	case DecisionAutoApply:
		return 2
	}
	return 0
}

// Mode is a named intelligence mode.
type Mode string

// Mode constants.
const (
	ModeConservative Mode = "conservative"
	ModeBalanced     Mode = "balanced"
	ModePermissive   Mode = "permissive"
)

// ParseMode parses a mode name case-insensitively.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeConservative, ModeBalanced, ModePermissive:
		return m, nil
	}
	return "", fmt.Errorf("unknown mode %q (want conservative, balanced or permissive)", s)
}

// ClassificationResult is the finalized outcome for one record.
type ClassificationResult struct {
	Err          error    `json:"-"`
	Category     *string  `json:"category"`
	RecordID     string   `json:"record_id"`
	RuleName     string   `json:"rule_name,omitempty"`
	Reasoning    string   `json:"reasoning,omitempty"`
	Error        string   `json:"error,omitempty"`
	Source       Source   `json:"source"`
	Decision     Decision `json:"decision"`
	Labels       []string `json:"labels"`
	Confidence   int      `json:"confidence"`
	ExternalUsed bool     `json:"external_used"`
}

// CategoryName returns the category or an empty string when unset.
func (r *ClassificationResult) CategoryName() string {
	if r.Category == nil {
		return ""
	}
	return *r.Category
}

// Annotate records a recoverable error on the result.
func (r *ClassificationResult) Annotate(err error) {
	if err == nil {
		return
	}
	r.Err = err
	r.Error = err.Error()
}

// ClampConfidence forces a confidence into [0,100].
func ClampConfidence(c int) int {
	if c < 0 {
		return 0
	}
	if c > 100 {
		return 100
	}
	return c
}
