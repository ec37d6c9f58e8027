package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// View renders the model.
func (m Model) View() string {
	if m.quitting {
		return ""
	}
	if len(m.suggestions) == 0 {
		return m.theme.StatusPending.Render("No rule suggestions to review.") + "\n"
	}

	title := m.theme.Title.Render(fmt.Sprintf("Review learned rules (%d pending)", m.remaining()))
	sections := []string{title, m.renderList(), m.renderDetail(), m.renderStatus(), m.help.View(m.keymap)}
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (m Model) renderList() string {
	var b strings.Builder
	for i, s := range m.suggestions {
		line := fmt.Sprintf("%-24s → %-20s %3d%%  ×%d", s.Token, s.Rule.Category, s.Rule.Confidence, s.Coverage)
		switch {
		case i == m.cursor:
			b.WriteString(m.theme.Selected.Render("▸ " + line))
		case m.skipped[s.ID]:
			b.WriteString(m.theme.StatusPending.Render("  " + line + " (skipped)"))
		default:
			b.WriteString(m.theme.Normal.Render("  " + line))
		}
		b.WriteString("\n")
	}
	return b.String()
}

func (m Model) renderDetail() string {
	s := m.suggestions[m.cursor]

	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n", m.theme.Bold.Render("Rule:    "), s.Rule.Name)
	fmt.Fprintf(&b, "%s %s\n", m.theme.Bold.Render("Pattern: "), m.theme.Code.Render(s.Token))
	fmt.Fprintf(&b, "%s %s\n", m.theme.Bold.Render("Category:"), s.Rule.Category)
	fmt.Fprintf(&b, "%s %d\n", m.theme.Bold.Render("Confidence:"), s.Rule.Confidence)
	fmt.Fprintf(&b, "%s %d records in batch %s\n", m.theme.Bold.Render("Coverage:"), s.Coverage, s.BatchID)
	if len(s.Examples) > 0 {
		b.WriteString(m.theme.Subtitle.Render("Examples:") + "\n")
		for _, ex := range s.Examples {
			b.WriteString("  • " + ex + "\n")
		}
	}

	width := m.width - 4
	if width < 20 {
		width = 20
	}
	return m.theme.RoundedBox.Width(width).Render(strings.TrimRight(b.String(), "\n"))
}

func (m Model) renderStatus() string {
	switch {
	case m.lastError != nil:
		return m.theme.StatusError.Render("✗ " + m.lastError.Error())
	case m.busy:
		return m.theme.StatusPending.Render("Saving...")
	default:
		return m.theme.StatusSuccess.Render(fmt.Sprintf("✓ %d accepted, %d rejected, %d skipped",
			m.outcome.Accepted, m.outcome.Rejected, m.outcome.Skipped))
	}
}
