// Package tui implements the interactive review of learned rule suggestions.
package tui

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Veraticus/ruleflow/internal/model"
	"github.com/Veraticus/ruleflow/internal/tui/themes"
	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
)

// ErrNoResolver is returned when a review starts without storage.
var ErrNoResolver = errors.New("suggestion resolver is required")

// Resolver records the outcome of a reviewed suggestion.
type Resolver interface {
	ResolveSuggestion(ctx context.Context, id int64, status model.SuggestionStatus) error
}

// RuleWriter persists an accepted rule to the rule document.
type RuleWriter func(rule model.CategoryRule) error

// Config holds TUI configuration.
type Config struct {
	Theme     themes.Theme
	Resolver  Resolver
	WriteRule RuleWriter
	Timeout   time.Duration
	Width     int
	Height    int
}

// Option is a functional option for configuring the TUI.
type Option func(*Config)

// WithTheme sets the theme.
func WithTheme(theme themes.Theme) Option {
	return func(c *Config) { c.Theme = theme }
}

// WithSize sets the initial terminal size.
func WithSize(width, height int) Option {
	return func(c *Config) {
		c.Width = width
		c.Height = height
	}
}

// WithTimeout bounds each storage call.
func WithTimeout(d time.Duration) Option {
	return func(c *Config) { c.Timeout = d }
}

func defaultConfig() Config {
	return Config{
		Theme:   themes.Default,
		Timeout: 10 * time.Second,
		Width:   80,
		Height:  24,
	}
}

// Outcome counts what the reviewer did.
type Outcome struct {
	Accepted int
	Rejected int
	Skipped  int
}

// Model holds the review state.
type Model struct {
	lastError   error
	resolver    Resolver
	writeRule   RuleWriter
	theme       themes.Theme
	keymap      KeyMap
	help        help.Model
	suggestions []model.LearnedRuleSuggestion
	skipped     map[int64]bool
	outcome     Outcome
	timeout     time.Duration
	cursor      int
	width       int
	height      int
	busy        bool
	quitting    bool
}

// NewModel creates a review model over the pending suggestions.
func NewModel(suggestions []model.LearnedRuleSuggestion, resolver Resolver, writeRule RuleWriter, opts ...Option) (Model, error) {
	if resolver == nil {
		return Model{}, ErrNoResolver
	}
	cfg := defaultConfig()
	cfg.Resolver = resolver
	cfg.WriteRule = writeRule
	for _, opt := range opts {
		opt(&cfg)
	}

	h := help.New()
	h.Width = cfg.Width

	return Model{
		resolver:    cfg.Resolver,
		writeRule:   cfg.WriteRule,
		theme:       cfg.Theme,
		keymap:      DefaultKeyMap(),
		help:        h,
		suggestions: append([]model.LearnedRuleSuggestion(nil), suggestions...),
		skipped:     make(map[int64]bool),
		timeout:     cfg.Timeout,
		width:       cfg.Width,
		height:      cfg.Height,
	}, nil
}

// Init initializes the model.
func (m Model) Init() tea.Cmd {
	if len(m.suggestions) == 0 {
		return tea.Quit
	}
	return nil
}

// Update handles messages and updates the model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width

	case tea.KeyMsg:
		return m.handleKey(msg)

	case resolvedMsg:
		m.busy = false
		if msg.err != nil {
			m.lastError = msg.err
			return m, nil
		}
		m.lastError = nil
		m.remove(msg.id)
		switch msg.status {
		case model.SuggestionAccepted:
			m.outcome.Accepted++
		case model.SuggestionRejected:
			m.outcome.Rejected++
		}
		if m.remaining() == 0 {
			m.quitting = true
			return m, tea.Quit
		}
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if key.Matches(msg, m.keymap.Quit) {
		m.quitting = true
		return m, tea.Quit
	}
	if key.Matches(msg, m.keymap.Help) {
		m.help.ShowAll = !m.help.ShowAll
		return m, nil
	}
	if m.busy || len(m.suggestions) == 0 {
		return m, nil
	}

	switch {
	case key.Matches(msg, m.keymap.Up):
		if m.cursor > 0 {
			m.cursor--
		}
	case key.Matches(msg, m.keymap.Down):
		if m.cursor < len(m.suggestions)-1 {
			m.cursor++
		}
	case key.Matches(msg, m.keymap.Accept):
		m.busy = true
		return m, m.resolve(m.suggestions[m.cursor], model.SuggestionAccepted)
	case key.Matches(msg, m.keymap.Reject):
		m.busy = true
		return m, m.resolve(m.suggestions[m.cursor], model.SuggestionRejected)
	case key.Matches(msg, m.keymap.Skip):
		current := m.suggestions[m.cursor]
		if !m.skipped[current.ID] {
			m.skipped[current.ID] = true
			m.outcome.Skipped++
		}
		if m.remaining() == 0 {
			m.quitting = true
			return m, tea.Quit
		}
		m.advance()
	}
	return m, nil
}

// resolve writes an accepted rule before marking the suggestion, so a
// failed write leaves it pending.
func (m Model) resolve(s model.LearnedRuleSuggestion, status model.SuggestionStatus) tea.Cmd {
	return func() tea.Msg {
		if status == model.SuggestionAccepted && m.writeRule != nil {
			if err := m.writeRule(s.Rule); err != nil {
				return resolvedMsg{id: s.ID, status: status, err: fmt.Errorf("failed to append rule: %w", err)}
			}
		}

		ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
		defer cancel()
		if err := m.resolver.ResolveSuggestion(ctx, s.ID, status); err != nil {
			return resolvedMsg{id: s.ID, status: status, err: fmt.Errorf("failed to resolve suggestion: %w", err)}
		}
		return resolvedMsg{id: s.ID, status: status}
	}
}

func (m *Model) remove(id int64) {
	for i, s := range m.suggestions {
		if s.ID == id {
			m.suggestions = append(m.suggestions[:i], m.suggestions[i+1:]...)
			break
		}
	}
	if m.cursor >= len(m.suggestions) {
		m.cursor = max(len(m.suggestions)-1, 0)
	}
	if len(m.suggestions) > 0 && m.skipped[m.suggestions[m.cursor].ID] {
		m.advance()
	}
}

// advance moves to the next suggestion that has not been skipped.
func (m *Model) advance() {
	n := len(m.suggestions)
	for step := 1; step <= n; step++ {
		next := (m.cursor + step) % n
		if !m.skipped[m.suggestions[next].ID] {
			m.cursor = next
			return
		}
	}
}

func (m Model) remaining() int {
	count := 0
	for _, s := range m.suggestions {
		if !m.skipped[s.ID] {
			count++
		}
	}
	return count
}

// Outcome returns the review counts so far.
func (m Model) Outcome() Outcome {
	return m.outcome
}

// Err returns the last storage or write error.
func (m Model) Err() error {
	return m.lastError
}
