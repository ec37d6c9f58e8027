package model

import "time"

// SuggestionStatus tracks a staged suggestion through human review.
type SuggestionStatus string

const (
	// SuggestionPending awaits review.
	SuggestionPending SuggestionStatus = "PENDING"
	// SuggestionAccepted was appended to the rule document.
	SuggestionAccepted SuggestionStatus = "ACCEPTED"
	// SuggestionRejected was dismissed by the reviewer.
	SuggestionRejected SuggestionStatus = "REJECTED"
)

// LearnedRuleSuggestion is a candidate category rule synthesized from accepted
// external results. It never mutates the active rule snapshot.
type LearnedRuleSuggestion struct {
	CreatedAt time.Time
	Rule      CategoryRule
	Token     string
	BatchID   string
	Status    SuggestionStatus
	Examples  []string // Payees that produced the suggestion
	ID        int64
	Coverage  int
}

// Key identifies a suggestion for deduplication.
func (s LearnedRuleSuggestion) Key() string {
	return s.Token + "\x00" + s.Rule.Category
}
