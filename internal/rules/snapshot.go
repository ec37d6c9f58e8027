package rules

import (
	"crypto/sha256"
	"fmt"
	"sort"
	"strings"

	"github.com/Veraticus/ruleflow/internal/common"
	"github.com/Veraticus/ruleflow/internal/model"
	"github.com/Veraticus/ruleflow/internal/pattern"
)

// Snapshot is an immutable, compiled rule set. It is safe for concurrent use.
type Snapshot struct {
	version        string
	categoryRules  []*pattern.CategoryRule
	labelRules     []*pattern.LabelRule
	categoryConfig []model.CategoryRule
	labelConfig    []model.LabelRule
}

// declaration is a typed rule plus the place it was declared.
type declaration struct {
	category *model.CategoryRule
	label    *model.LabelRule
	pos      position
}

// NewSnapshot validates and compiles rules built in code. Category rules keep
// the order given.
func NewSnapshot(categoryRules []model.CategoryRule, labelRules []model.LabelRule) (*Snapshot, error) {
	decls := make([]declaration, 0, len(categoryRules)+len(labelRules))
	for i := range categoryRules {
		rule := categoryRules[i]
		decls = append(decls, declaration{pos: position{index: len(decls)}, category: &rule})
	}
	for i := range labelRules {
		rule := labelRules[i]
		decls = append(decls, declaration{pos: position{index: len(decls)}, label: &rule})
	}

	snap, err := build(decls)
	if err != nil {
		return nil, err
	}

	h := sha256.New()
	for _, r := range snap.categoryConfig {
		fmt.Fprintf(h, "c|%s|%s|%s|%d|%v|%v\n", r.Name, strings.Join(r.Patterns, ","), r.Category, r.Confidence, r.Exclude, r.Accounts)
	}
	for _, r := range snap.labelConfig {
		fmt.Fprintf(h, "l|%s|%v|%v\n", r.Name, r.When, r.Labels)
	}
	snap.version = fmt.Sprintf("%x", h.Sum(nil))[:12]
	return snap, nil
}

func build(decls []declaration) (*Snapshot, error) {
	snap := &Snapshot{}
	seen := make(map[string]int, len(decls))

	for _, d := range decls {
		name := d.name()
		if name == "" {
			name = fmt.Sprintf("rule-%d", d.pos.index+1)
			d.setName(name)
		}
		if prev, dup := seen[name]; dup {
			return nil, d.pos.fail(name, "name", fmt.Sprintf("duplicate rule name, first declared as rule #%d", prev+1))
		}
		seen[name] = d.pos.index

		switch {
		case d.category != nil:
			rule := *d.category
			if err := validateCategory(rule, d.pos); err != nil {
				return nil, err
			}
			rule.Priority = len(snap.categoryRules)
			compiled, err := pattern.CompileCategory(rule)
			if err != nil {
				return nil, err
			}
			snap.categoryRules = append(snap.categoryRules, compiled)
			snap.categoryConfig = append(snap.categoryConfig, rule)
		case d.label != nil:
			rule := *d.label
			if err := validateLabel(rule, d.pos); err != nil {
				return nil, err
			}
			snap.labelRules = append(snap.labelRules, pattern.CompileLabel(rule))
			snap.labelConfig = append(snap.labelConfig, rule)
		}
	}

	return snap, nil
}

func (d declaration) name() string {
	if d.category != nil {
		return d.category.Name
	}
	return d.label.Name
}

func (d declaration) setName(name string) {
	if d.category != nil {
		d.category.Name = name
		return
	}
	d.label.Name = name
}

func validateCategory(rule model.CategoryRule, pos position) error {
	if len(nonBlank(rule.Patterns)) == 0 {
		return pos.fail(rule.Name, "patterns", "at least one pattern is required")
	}
	if len(nonBlank(rule.Patterns)) != len(rule.Patterns) {
		return pos.fail(rule.Name, "patterns", "patterns cannot be blank")
	}
	if len(nonBlank(rule.Exclude)) != len(rule.Exclude) {
		return pos.fail(rule.Name, "exclude", "exclusions cannot be blank")
	}
	if strings.TrimSpace(rule.Category) == "" {
		return pos.fail(rule.Name, "category", "required")
	}
	if rule.Confidence < 0 || rule.Confidence > 100 {
		return pos.fail(rule.Name, "confidence", fmt.Sprintf("must be between 0 and 100, got %d", rule.Confidence))
	}
	if rule.Amount != nil {
		if _, err := model.ParseComparator(string(rule.Amount.Op)); err != nil {
			return pos.fail(rule.Name, "amount.op", err.Error())
		}
	}
	return nil
}

func validateLabel(rule model.LabelRule, pos position) error {
	if len(nonBlank(rule.Labels)) == 0 {
		return pos.fail(rule.Name, "labels", "at least one label is required")
	}
	if rule.When.Uncategorized && len(rule.When.Categories) > 0 {
		return pos.fail(rule.Name, "when.uncategorized", "cannot be combined with categories")
	}
	if rule.When.Amount != nil {
		if _, err := model.ParseComparator(string(rule.When.Amount.Op)); err != nil {
			return pos.fail(rule.Name, "when.amount.op", err.Error())
		}
	}
	return nil
}

func nonBlank(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			out = append(out, v)
		}
	}
	return out
}

func fingerprint(data []byte) string {
	return fmt.Sprintf("%x", sha256.Sum256(data))[:12]
}

// Version identifies the document the snapshot was built from.
func (s *Snapshot) Version() string {
	return s.version
}

// CompiledCategoryRules returns the category rules in evaluation order.
func (s *Snapshot) CompiledCategoryRules() []*pattern.CategoryRule {
	return s.categoryRules
}

// CompiledLabelRules returns the label rules.
func (s *Snapshot) CompiledLabelRules() []*pattern.LabelRule {
	return s.labelRules
}

// CategoryRules returns a copy of the category rule definitions in declared order.
func (s *Snapshot) CategoryRules() []model.CategoryRule {
	out := make([]model.CategoryRule, len(s.categoryConfig))
	copy(out, s.categoryConfig)
	return out
}

// LabelRules returns a copy of the label rule definitions.
func (s *Snapshot) LabelRules() []model.LabelRule {
	out := make([]model.LabelRule, len(s.labelConfig))
	copy(out, s.labelConfig)
	return out
}

// Len returns the total number of rules.
func (s *Snapshot) Len() int {
	return len(s.categoryRules) + len(s.labelRules)
}

// Categories returns the sorted, distinct category targets of the category rules.
func (s *Snapshot) Categories() []string {
	set := make(map[string]bool, len(s.categoryConfig))
	for _, r := range s.categoryConfig {
		set[r.Category] = true
	}
	out := make([]string, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// UnknownCategories returns rule targets that are absent from vocabulary.
func (s *Snapshot) UnknownCategories(vocabulary []string) []string {
	known := make(map[string]bool, len(vocabulary))
	for _, v := range vocabulary {
		known[strings.ToLower(strings.TrimSpace(v))] = true
	}

	var unknown []string
	for _, c := range s.Categories() {
		if !known[strings.ToLower(c)] {
			unknown = append(unknown, c)
		}
	}
	return unknown
}

// HasRuleNamed reports whether any rule uses name.
func (s *Snapshot) HasRuleNamed(name string) bool {
	for _, r := range s.categoryConfig {
		if r.Name == name {
			return true
		}
	}
	for _, r := range s.labelConfig {
		if r.Name == name {
			return true
		}
	}
	return false
}

// Validate is a convenience that wraps a load error for CLI output.
func Validate(path string) (*Snapshot, error) {
	snap, err := Load(path)
	if err != nil {
		return nil, common.NewUserError("rule configuration is invalid", err)
	}
	return snap, nil
}
