package tui

import (
	"context"
	"fmt"

	"github.com/Veraticus/ruleflow/internal/model"
	tea "github.com/charmbracelet/bubbletea"
)

// Run opens the review interface and blocks until the reviewer quits or
// every suggestion is resolved.
func Run(ctx context.Context, suggestions []model.LearnedRuleSuggestion, resolver Resolver, writeRule RuleWriter, opts ...Option) (Outcome, error) {
	m, err := NewModel(suggestions, resolver, writeRule, opts...)
	if err != nil {
		return Outcome{}, err
	}

	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
	final, err := p.Run()
	if err != nil {
		return Outcome{}, fmt.Errorf("TUI error: %w", err)
	}

	result, ok := final.(Model)
	if !ok {
		return Outcome{}, fmt.Errorf("TUI returned unexpected model %T", final)
	}
	return result.Outcome(), result.Err()
}
