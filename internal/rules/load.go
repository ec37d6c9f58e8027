// Package rules loads the declarative rule document into an immutable snapshot.
package rules

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/Veraticus/ruleflow/internal/common"
	"github.com/Veraticus/ruleflow/internal/model"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Load reads and parses a rule document from disk.
func Load(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading rules: %w", err)
	}
	return Parse(data)
}

// Parse parses a rule document. Every schema violation fails the whole load.
func Parse(data []byte) (*Snapshot, error) {
	seq, err := parseDocument(data)
	if err != nil {
		return nil, err
	}

	decls := make([]declaration, 0, len(seq))
	for i, item := range seq {
		pos := position{index: i, node: item}
		if err := checkEntryFields(item, i); err != nil {
			return nil, err
		}

		var entry ruleEntry
		if err := item.Decode(&entry); err != nil {
			return nil, &common.ConfigError{Index: i, Line: item.Line, Message: decodeMessage(err)}
		}

		if entry.Name == "" {
			entry.Name = fmt.Sprintf("rule-%d", i+1)
		}

		switch strings.ToLower(strings.TrimSpace(entry.Kind)) {
		case KindCategory:
			rule, err := entry.categoryRule(pos)
			if err != nil {
				return nil, err
			}
			decls = append(decls, declaration{pos: pos, category: &rule})
		case KindLabel:
			rule, err := entry.labelRule(pos)
			if err != nil {
				return nil, err
			}
			decls = append(decls, declaration{pos: pos, label: &rule})
		case "":
			return nil, pos.fail(entry.Name, "kind", `required ("category" or "label")`)
		default:
			return nil, pos.fail(entry.Name, "kind", fmt.Sprintf("unknown kind %q", entry.Kind))
		}
	}

	snap, err := build(decls)
	if err != nil {
		return nil, err
	}
	snap.version = fingerprint(data)
	return snap, nil
}

// parseDocument returns the items of the document's rules sequence.
// An empty document yields no rules.
func parseDocument(data []byte) ([]*yaml.Node, error) {
	var root yaml.Node
	dec := yaml.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&root); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, &common.ConfigError{Index: -1, Message: decodeMessage(err)}
	}

	if len(root.Content) == 0 {
		return nil, nil
	}

	top := root.Content[0]
	if top.Kind == yaml.ScalarNode && top.Tag == "!!null" {
		return nil, nil
	}
	if err := checkFields(top, topLevelFields, "", -1); err != nil {
		return nil, err
	}

	_, rules := mappingValue(top, "rules")
	if rules == nil || (rules.Kind == yaml.ScalarNode && rules.Tag == "!!null") {
		return nil, nil
	}
	if rules.Kind != yaml.SequenceNode {
		return nil, &common.ConfigError{Index: -1, Field: "rules", Line: rules.Line, Message: "expected a list of rules"}
	}
	return rules.Content, nil
}

// position tracks where a rule came from so errors can point at it.
type position struct {
	node  *yaml.Node
	index int
}

func (p position) fail(rule, field, msg string) error {
	line := 0
	if p.node != nil {
		key := field
		if i := strings.IndexByte(field, '.'); i >= 0 {
			key = field[:i]
		}
		line = fieldLine(p.node, key)
	}
	return &common.ConfigError{Index: p.index, Rule: rule, Field: field, Line: line, Message: msg}
}

func (e *ruleEntry) categoryRule(pos position) (model.CategoryRule, error) {
	if e.When != nil {
		return model.CategoryRule{}, pos.fail(e.Name, "when", "only label rules take a when clause")
	}
	if len(e.Labels) > 0 {
		return model.CategoryRule{}, pos.fail(e.Name, "labels", "only label rules assign labels")
	}
	if e.Confidence == nil {
		return model.CategoryRule{}, pos.fail(e.Name, "confidence", "required")
	}

	amount, err := e.Amount.filter(pos, e.Name, "amount")
	if err != nil {
		return model.CategoryRule{}, err
	}

	return model.CategoryRule{
		Name:       e.Name,
		Patterns:   e.Patterns,
		Exclude:    e.Exclude,
		IsRegex:    e.Regex,
		Category:   strings.TrimSpace(e.Category),
		Confidence: *e.Confidence,
		Accounts:   e.Accounts,
		Amount:     amount,
	}, nil
}

func (e *ruleEntry) labelRule(pos position) (model.LabelRule, error) {
	misplaced := map[string]bool{
		"patterns":   len(e.Patterns) > 0,
		"exclude":    len(e.Exclude) > 0,
		"regex":      e.Regex,
		"category":   e.Category != "",
		"confidence": e.Confidence != nil,
		"accounts":   len(e.Accounts) > 0,
		"amount":     e.Amount != nil,
	}
	for _, field := range []string{"patterns", "exclude", "regex", "category", "confidence", "accounts", "amount"} {
		if misplaced[field] {
			return model.LabelRule{}, pos.fail(e.Name, field, "not valid on a label rule; conditions belong under when")
		}
	}

	rule := model.LabelRule{Name: e.Name, Labels: e.Labels}
	if e.When != nil {
		amount, err := e.When.Amount.filter(pos, e.Name, "when.amount")
		if err != nil {
			return model.LabelRule{}, err
		}
		rule.When = model.LabelCondition{
			Categories:    e.When.Categories,
			Accounts:      e.When.Accounts,
			Amount:        amount,
			Uncategorized: e.When.Uncategorized,
		}
	}
	return rule, nil
}

func (a *amountEntry) filter(pos position, rule, field string) (*model.AmountFilter, error) {
	if a == nil {
		return nil, nil
	}

	op, err := model.ParseComparator(a.Op)
	if err != nil {
		return nil, pos.fail(rule, field+".op", err.Error())
	}

	raw := strings.TrimSpace(a.Value.Value)
	if a.Value.Kind != yaml.ScalarNode || raw == "" {
		return nil, pos.fail(rule, field+".value", "required numeric threshold")
	}
	threshold, err := decimal.NewFromString(raw)
	if err != nil {
		return nil, pos.fail(rule, field+".value", fmt.Sprintf("invalid amount %q", raw))
	}

	return &model.AmountFilter{Op: op, Threshold: threshold, Absolute: a.Absolute}, nil
}

func decodeMessage(err error) string {
	var typeErr *yaml.TypeError
	if errors.As(err, &typeErr) {
		return strings.Join(typeErr.Errors, "; ")
	}
	return err.Error()
}
