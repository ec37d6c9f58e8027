package engine

import (
	"errors"
	"time"

	"github.com/Veraticus/ruleflow/internal/common"
	"github.com/Veraticus/ruleflow/internal/learning"
	"github.com/Veraticus/ruleflow/internal/model"
)

// Counts aggregates a batch. AutoApplied, Asked, Skipped and Errored partition
// Total; an errored record is counted only as Errored.
type Counts struct {
	Total           int `json:"total"`
	RuleMatched     int `json:"rule_matched"`
	ExternalMatched int `json:"external_matched"`
	Unmatched       int `json:"unmatched"`
	AutoApplied     int `json:"auto_applied"`
	Asked           int `json:"asked"`
	Skipped         int `json:"skipped"`
	Errored         int `json:"errored"`
}

// BatchSummary is the outcome of one batch.
type BatchSummary struct {
	StartedAt   time.Time                     `json:"started_at"`
	BatchID     string                        `json:"batch_id"`
	Mode        model.Mode                    `json:"mode"`
	Results     []model.ClassificationResult  `json:"results"`
	Suggestions []model.LearnedRuleSuggestion `json:"suggestions"`
	Counts      Counts                        `json:"counts"`
	Duration    time.Duration                 `json:"duration"`
	Cancelled   bool                          `json:"cancelled"`
}

// IsErrored reports whether a result carries a runtime failure, as opposed to
// an ordinary low-confidence or untrusted outcome.
func IsErrored(result model.ClassificationResult) bool {
	if result.Err == nil {
		return false
	}
	var invalid *common.InvalidCategoryError
	return !errors.As(result.Err, &invalid)
}

func (s *BatchSummary) add(result model.ClassificationResult) {
	s.Results = append(s.Results, result)
	s.Counts.Total++

	switch {
	case result.Source == model.SourceRule:
		s.Counts.RuleMatched++
	case result.Source == model.SourceExternal && result.Category != nil:
		s.Counts.ExternalMatched++
	}
	if result.Category == nil {
		s.Counts.Unmatched++
	}

	if IsErrored(result) {
		s.Counts.Errored++
		return
	}
	switch result.Decision {
	case model.DecisionAutoApply:
		s.Counts.AutoApplied++
	case model.DecisionAskUser:
		s.Counts.Asked++
	default:
		s.Counts.Skipped++
	}
}

// Merge appends other's results and suggestions to s. Suggestions are
// deduplicated again across both summaries.
func (s *BatchSummary) Merge(other *BatchSummary) {
	if other == nil {
		return
	}
	for _, r := range other.Results {
		s.add(r)
	}
	s.Suggestions = learning.Merge(s.Suggestions, other.Suggestions)
	for i := range s.Suggestions {
		s.Suggestions[i].BatchID = s.BatchID
	}
	s.Cancelled = s.Cancelled || other.Cancelled
	if s.StartedAt.IsZero() || (!other.StartedAt.IsZero() && other.StartedAt.Before(s.StartedAt)) {
		s.StartedAt = other.StartedAt
	}
}

// AutoApplied returns the results the policy allows to be written without review.
func (s *BatchSummary) AutoApplied() []model.ClassificationResult {
	return s.filter(func(r model.ClassificationResult) bool {
		return r.Decision == model.DecisionAutoApply && r.Category != nil && !IsErrored(r)
	})
}

// NeedsReview returns every ASK_USER result, including borderline rule matches
// whose validation failed. Those are still counted as Errored.
func (s *BatchSummary) NeedsReview() []model.ClassificationResult {
	return s.filter(func(r model.ClassificationResult) bool {
		return r.Decision == model.DecisionAskUser
	})
}

func (s *BatchSummary) filter(keep func(model.ClassificationResult) bool) []model.ClassificationResult {
	var out []model.ClassificationResult
	for _, r := range s.Results {
		if keep(r) {
			out = append(out, r)
		}
	}
	return out
}
