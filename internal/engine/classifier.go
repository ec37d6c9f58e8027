// Package engine implements the two-phase classifier and the batch orchestrator.
package engine

import (
	"sort"
	"strings"

	"github.com/Veraticus/ruleflow/internal/model"
	"github.com/Veraticus/ruleflow/internal/rules"
)

// Classifier runs the rule phases against one immutable snapshot.
// It holds no mutable state and is safe for concurrent use.
type Classifier struct {
	snapshot *rules.Snapshot
}

// NewClassifier creates a classifier bound to snap.
func NewClassifier(snap *rules.Snapshot) *Classifier {
	return &Classifier{snapshot: snap}
}

// Snapshot returns the rule snapshot in use.
func (c *Classifier) Snapshot() *rules.Snapshot {
	return c.snapshot
}

// MatchCategory evaluates category rules in declared order and returns the
// first rule that matches. Later rules are not evaluated.
func (c *Classifier) MatchCategory(rec model.Record) (model.CategoryRule, bool) {
	for _, rule := range c.snapshot.CompiledCategoryRules() {
		if rule.Matches(rec) {
			return rule.CategoryRule, true
		}
	}
	return model.CategoryRule{}, false
}

// Labels evaluates every label rule against the record with category as the
// current category and returns the sorted union of their labels.
func (c *Classifier) Labels(rec model.Record, category *string) []string {
	set := make(map[string]struct{})
	for _, rule := range c.snapshot.CompiledLabelRules() {
		if !rule.Matches(rec, category) {
			continue
		}
		for _, l := range rule.Labels {
			if l = strings.TrimSpace(l); l != "" {
				set[l] = struct{}{}
			}
		}
	}

	labels := make([]string, 0, len(set))
	for l := range set {
		labels = append(labels, l)
	}
	sort.Strings(labels)
	return labels
}

// Classify runs both phases without consulting anything external. A miss
// yields source none with zero confidence.
func (c *Classifier) Classify(rec model.Record) model.ClassificationResult {
	result := ruleResult(rec, c.MatchCategory)
	result.Labels = c.Labels(rec, effectiveCategory(rec, result))
	return result
}

func ruleResult(rec model.Record, match func(model.Record) (model.CategoryRule, bool)) model.ClassificationResult {
	rule, ok := match(rec)
	if !ok {
		return model.ClassificationResult{RecordID: rec.ID, Source: model.SourceNone}
	}
	category := rule.Category
	return model.ClassificationResult{
		RecordID:   rec.ID,
		Category:   &category,
		Confidence: rule.Confidence,
		Source:     model.SourceRule,
		RuleName:   rule.Name,
	}
}

// effectiveCategory is the category label rules see: the classified one, or
// the ledger's existing one when classification produced nothing.
func effectiveCategory(rec model.Record, result model.ClassificationResult) *string {
	if result.Category != nil {
		return result.Category
	}
	if rec.HasCategory() {
		return rec.ExistingCategory
	}
	return nil
}
