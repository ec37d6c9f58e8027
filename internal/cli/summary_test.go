package cli

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/Veraticus/ruleflow/internal/engine"
	"github.com/Veraticus/ruleflow/internal/model"
	"github.com/Veraticus/ruleflow/internal/rules"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func TestRenderSummary(t *testing.T) {
	summary := &engine.BatchSummary{
		Mode:     model.ModeBalanced,
		Duration: 1500 * time.Millisecond,
		Counts: engine.Counts{
			Total:           10,
			RuleMatched:     6,
			ExternalMatched: 3,
			Unmatched:       1,
			AutoApplied:     7,
			Asked:           2,
			Skipped:         1,
			Errored:         1,
		},
		Suggestions: []model.LearnedRuleSuggestion{{Token: "ACME"}},
	}

	out := RenderSummary(summary)
	assert.Contains(t, out, "Classification Complete")
	assert.Contains(t, out, "Records:          10")
	assert.Contains(t, out, "Auto-apply:       7")
	assert.Contains(t, out, "Rule suggestions: 1")
	assert.Contains(t, out, "balanced")

	summary.Cancelled = true
	assert.Contains(t, RenderSummary(summary), "Classification Interrupted")
}

func TestRenderPlan(t *testing.T) {
	out := RenderPlan(engine.Plan{RecordCount: 150, RuleMatched: 40, ExpectedExternalCalls: 110, EstimatedCost: 1.1, Delegate: true})
	assert.Equal(t, "150 records, 40 matched by rules, ~110 external calls (≈$1.10), running worker pool", out)
}

func TestRenderResults(t *testing.T) {
	results := []model.ClassificationResult{
		{RecordID: "r1", Category: strPtr("Coffee"), Confidence: 95, Source: model.SourceRule, Decision: model.DecisionAutoApply, RuleName: "starbucks"},
		{RecordID: "r2", Confidence: 0, Source: model.SourceNone, Decision: model.DecisionSkip, Err: errors.New("adapter down")},
	}
	records := map[string]model.Record{"r1": {ID: "r1", Payee: "STARBUCKS #123"}}

	all := RenderResults(results, records)
	assert.Contains(t, all, "STARBUCKS #123")
	assert.Contains(t, all, "rule starbucks")
	assert.Contains(t, all, "adapter down")

	skipped := RenderResults(results, records, model.DecisionSkip)
	assert.NotContains(t, skipped, "STARBUCKS")
	assert.Contains(t, skipped, "r2")

	assert.Contains(t, RenderResults(results, records, model.DecisionAskUser), "(none)")
}

func TestRenderRules(t *testing.T) {
	snap, err := rules.NewSnapshot(
		[]model.CategoryRule{{Name: "coffee", Patterns: []string{"STARBUCKS"}, Category: "Coffee", Confidence: 90}},
		[]model.LabelRule{{Name: "uncat", When: model.LabelCondition{Uncategorized: true}, Labels: []string{"review"}}},
	)
	require.NoError(t, err)

	out := RenderRules(snap)
	assert.Contains(t, out, "Category rules (1, first match wins)")
	assert.Contains(t, out, "STARBUCKS")
	assert.Contains(t, out, "Label rules (1, all matches apply)")
	assert.Contains(t, out, "uncategorized")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcd…", truncate("abcdefgh", 5))
}

func TestProgress(t *testing.T) {
	var buf bytes.Buffer
	p := NewProgress(&buf, 3)
	for i := 0; i < 3; i++ {
		p.RecordClassified(model.ClassificationResult{})
	}
	p.Finish()
	assert.Equal(t, int64(3), p.Current())
	assert.NotEmpty(t, buf.String())
}

func TestInterruptHandler_Stop(t *testing.T) {
	h := NewInterruptHandler(nil)
	assert.False(t, h.WasInterrupted())
	h.Stop()
	assert.False(t, h.WasInterrupted())
}
