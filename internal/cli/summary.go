package cli

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/Veraticus/ruleflow/internal/engine"
	"github.com/Veraticus/ruleflow/internal/model"
	"github.com/Veraticus/ruleflow/internal/rules"
)

// RenderPlan describes the work a batch is expected to need.
func RenderPlan(plan engine.Plan) string {
	where := "inline"
	if plan.Delegate {
		where = "worker pool"
	}
	return fmt.Sprintf("%d records, %d matched by rules, ~%d external calls (≈$%.2f), running %s",
		plan.RecordCount, plan.RuleMatched, plan.ExpectedExternalCalls, plan.EstimatedCost, where)
}

// RenderSummary renders the batch counts in a box.
func RenderSummary(s *engine.BatchSummary) string {
	c := s.Counts
	var b strings.Builder

	fmt.Fprintf(&b, "%s Records:          %d\n", ChartIcon, c.Total)
	fmt.Fprintf(&b, "  Rule matched:     %d\n", c.RuleMatched)
	fmt.Fprintf(&b, "  External matched: %d %s\n", c.ExternalMatched, RobotIcon)
	fmt.Fprintf(&b, "  Unmatched:        %d\n\n", c.Unmatched)
	b.WriteString(SuccessStyle.Render(fmt.Sprintf("  Auto-apply:       %d", c.AutoApplied)) + "\n")
	b.WriteString(WarningStyle.Render(fmt.Sprintf("  Needs review:     %d", c.Asked)) + "\n")
	b.WriteString(SubtleStyle.Render(fmt.Sprintf("  Skipped:          %d", c.Skipped)) + "\n")
	if c.Errored > 0 {
		b.WriteString(ErrorStyle.Render(fmt.Sprintf("  Errored:          %d", c.Errored)) + "\n")
	} else {
		fmt.Fprintf(&b, "  Errored:          %d\n", c.Errored)
	}
	fmt.Fprintf(&b, "\n  Rule suggestions: %d\n", len(s.Suggestions))
	fmt.Fprintf(&b, "  Mode:             %s\n", s.Mode)
	fmt.Fprintf(&b, "  Time taken:       %s", s.Duration.Round(time.Millisecond))

	title := "Classification Complete"
	if s.Cancelled {
		title = "Classification Interrupted"
	}
	return RenderBox(title, b.String())
}

// RenderResults lists results whose decision is in decisions, or all results
// when decisions is empty.
func RenderResults(results []model.ClassificationResult, records map[string]model.Record, decisions ...model.Decision) string {
	want := make(map[model.Decision]bool, len(decisions))
	for _, d := range decisions {
		want[d] = true
	}

	var rows [][]string
	for _, r := range results {
		if len(want) > 0 && !want[r.Decision] {
			continue
		}
		payee := r.RecordID
		if rec, ok := records[r.RecordID]; ok {
			payee = truncate(rec.Payee, 32)
		}
		rows = append(rows, []string{
			payee,
			r.CategoryName(),
			strings.Join(r.Labels, ", "),
			strconv.Itoa(r.Confidence),
			string(r.Source),
			styleDecision(r.Decision),
			truncate(note(r), 48),
		})
	}
	if len(rows) == 0 {
		return SubtleStyle.Render("(none)")
	}
	return RenderTable([]string{"Payee", "Category", "Labels", "Conf", "Source", "Decision", "Note"}, rows)
}

// RenderSuggestions lists learned rule suggestions.
func RenderSuggestions(suggestions []model.LearnedRuleSuggestion) string {
	if len(suggestions) == 0 {
		return SubtleStyle.Render("(no rule suggestions)")
	}
	rows := make([][]string, 0, len(suggestions))
	for _, s := range suggestions {
		rows = append(rows, []string{
			s.Token,
			s.Rule.Category,
			strconv.Itoa(s.Rule.Confidence),
			strconv.Itoa(s.Coverage),
			truncate(strings.Join(s.Examples, "; "), 48),
		})
	}
	return RenderTable([]string{"Pattern", "Category", "Conf", "Coverage", "Examples"}, rows)
}

// RenderRules lists a snapshot's rules in evaluation order.
func RenderRules(snap *rules.Snapshot) string {
	var b strings.Builder

	catRows := make([][]string, 0)
	for _, r := range snap.CategoryRules() {
		var filters []string
		if len(r.Accounts) > 0 {
			filters = append(filters, "accounts: "+strings.Join(r.Accounts, "|"))
		}
		if r.Amount != nil {
			filters = append(filters, r.Amount.String())
		}
		patterns := strings.Join(r.Patterns, " | ")
		if r.IsRegex {
			patterns = "/" + patterns + "/"
		}
		catRows = append(catRows, []string{
			strconv.Itoa(r.Priority + 1),
			r.Name,
			truncate(patterns, 40),
			truncate(strings.Join(r.Exclude, " | "), 24),
			r.Category,
			strconv.Itoa(r.Confidence),
			strings.Join(filters, ", "),
		})
	}
	b.WriteString(FormatTitle(fmt.Sprintf("Category rules (%d, first match wins)", len(catRows))) + "\n")
	b.WriteString(RenderTable([]string{"#", "Name", "Patterns", "Exclude", "Category", "Conf", "Filters"}, catRows))

	labelRows := make([][]string, 0)
	labels := snap.LabelRules()
	sort.SliceStable(labels, func(i, j int) bool { return labels[i].Name < labels[j].Name })
	for _, r := range labels {
		labelRows = append(labelRows, []string{r.Name, describeCondition(r.When), strings.Join(r.Labels, ", ")})
	}
	b.WriteString("\n\n" + FormatTitle(fmt.Sprintf("Label rules (%d, all matches apply)", len(labelRows))) + "\n")
	b.WriteString(RenderTable([]string{"Name", "When", "Labels"}, labelRows))
	return b.String()
}

func describeCondition(c model.LabelCondition) string {
	if c.IsEmpty() {
		return "always"
	}
	var parts []string
	if c.Uncategorized {
		parts = append(parts, "uncategorized")
	}
	if len(c.Categories) > 0 {
		parts = append(parts, "category in "+strings.Join(c.Categories, "|"))
	}
	if len(c.Accounts) > 0 {
		parts = append(parts, "account in "+strings.Join(c.Accounts, "|"))
	}
	if c.Amount != nil {
		parts = append(parts, c.Amount.String())
	}
	return strings.Join(parts, " and ")
}

func styleDecision(d model.Decision) string {
	switch d {
	case model.DecisionAutoApply:
		return SuccessStyle.Render(string(d))
	case model.DecisionAskUser:
		return WarningStyle.Render(string(d))
	default:
		return SubtleStyle.Render(string(d))
	}
}

func note(r model.ClassificationResult) string {
	switch {
	case r.Err != nil:
		return r.Err.Error()
	case r.Error != "":
		return r.Error
	case r.RuleName != "":
		return "rule " + r.RuleName
	default:
		return r.Reasoning
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
