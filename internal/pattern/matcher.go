// Package pattern compiles rule predicates and evaluates them against records.
package pattern

import (
	"regexp"
	"strings"

	"github.com/Veraticus/ruleflow/internal/common"
	"github.com/Veraticus/ruleflow/internal/model"
)

// term is a single include or exclude pattern.
type term struct {
	re    *regexp.Regexp
	lower string
}

func (t term) matches(lowerPayee string) bool {
	if t.re != nil {
		return t.re.MatchString(lowerPayee)
	}
	return strings.Contains(lowerPayee, t.lower)
}

func compileTerms(ruleName string, patterns []string, isRegex bool) ([]term, error) {
	terms := make([]term, 0, len(patterns))
	for _, p := range patterns {
		if !isRegex {
			terms = append(terms, term{lower: strings.ToLower(strings.TrimSpace(p))})
			continue
		}

		// Payees are lowered before matching, so regexes are compiled case-insensitive too.
		expr := p
		if !strings.HasPrefix(expr, "(?i)") {
			expr = "(?i)" + expr
		}
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, &common.PatternError{Rule: ruleName, Pattern: p, Err: err}
		}
		terms = append(terms, term{re: re})
	}
	return terms, nil
}

func anyTerm(terms []term, lowerPayee string) bool {
	for _, t := range terms {
		if t.matches(lowerPayee) {
			return true
		}
	}
	return false
}

func containsFold(list []string, value string) bool {
	value = strings.TrimSpace(value)
	for _, v := range list {
		if strings.EqualFold(strings.TrimSpace(v), value) {
			return true
		}
	}
	return false
}

// CategoryRule is a compiled category rule.
type CategoryRule struct {
	include []term
	exclude []term
	model.CategoryRule
}

// CompileCategory compiles the include and exclude patterns of a rule.
func CompileCategory(rule model.CategoryRule) (*CategoryRule, error) {
	include, err := compileTerms(rule.Name, rule.Patterns, rule.IsRegex)
	if err != nil {
		return nil, err
	}
	exclude, err := compileTerms(rule.Name, rule.Exclude, rule.IsRegex)
	if err != nil {
		return nil, err
	}

	return &CategoryRule{
		CategoryRule: rule,
		include:      include,
		exclude:      exclude,
	}, nil
}

// Matches reports whether the record satisfies every part of the rule predicate.
func (r *CategoryRule) Matches(rec model.Record) bool {
	payee := strings.ToLower(rec.Payee)

	if !anyTerm(r.include, payee) {
		return false
	}

	// Any exclusion vetoes the match.
	if anyTerm(r.exclude, payee) {
		return false
	}

	if len(r.Accounts) > 0 && !containsFold(r.Accounts, rec.Account) {
		return false
	}

	if r.Amount != nil && !r.Amount.Holds(rec.Amount) {
		return false
	}

	return true
}

// LabelRule is a label rule ready for evaluation.
type LabelRule struct {
	model.LabelRule
}

// CompileLabel prepares a label rule for evaluation.
func CompileLabel(rule model.LabelRule) *LabelRule {
	return &LabelRule{LabelRule: rule}
}

// Matches reports whether every present condition holds for the record,
// given the category currently assigned to it.
func (r *LabelRule) Matches(rec model.Record, category *string) bool {
	when := r.When
	categorized := category != nil && strings.TrimSpace(*category) != ""

	if len(when.Categories) > 0 && (!categorized || !containsFold(when.Categories, *category)) {
		return false
	}

	if len(when.Accounts) > 0 && !containsFold(when.Accounts, rec.Account) {
		return false
	}

	if when.Amount != nil && !when.Amount.Holds(rec.Amount) {
		return false
	}

	if when.Uncategorized && categorized {
		return false
	}

	return true
}
