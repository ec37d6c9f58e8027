package tui

import "github.com/Veraticus/ruleflow/internal/model"

// resolvedMsg reports that a suggestion was written and resolved.
type resolvedMsg struct {
	err    error
	id     int64
	status model.SuggestionStatus
}
