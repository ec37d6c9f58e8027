package rules

import (
	"fmt"

	"github.com/Veraticus/ruleflow/internal/common"
	"gopkg.in/yaml.v3"
)

// Rule kinds accepted in the document.
const (
	KindCategory = "category"
	KindLabel    = "label"
)

// ruleEntry is the on-disk shape of a single rule.
type ruleEntry struct {
	Confidence *int         `yaml:"confidence,omitempty"`
	Amount     *amountEntry `yaml:"amount,omitempty"`
	When       *whenEntry   `yaml:"when,omitempty"`
	Kind       string       `yaml:"kind"`
	Name       string       `yaml:"name,omitempty"`
	Category   string       `yaml:"category,omitempty"`
	Patterns   []string     `yaml:"patterns,omitempty"`
	Exclude    []string     `yaml:"exclude,omitempty"`
	Accounts   []string     `yaml:"accounts,omitempty"`
	Labels     []string     `yaml:"labels,omitempty"`
	Regex      bool         `yaml:"regex,omitempty"`
}

// amountEntry keeps the threshold as a raw node so that 100, 100.00 and "100"
// all reach the decimal parser untouched.
type amountEntry struct {
	Value    yaml.Node `yaml:"value"`
	Op       string    `yaml:"op"`
	Absolute bool      `yaml:"absolute,omitempty"`
}

type whenEntry struct {
	Amount        *amountEntry `yaml:"amount,omitempty"`
	Categories    []string     `yaml:"categories,omitempty"`
	Accounts      []string     `yaml:"accounts,omitempty"`
	Uncategorized bool         `yaml:"uncategorized,omitempty"`
}

var (
	topLevelFields = fieldSet("rules")
	ruleFields     = fieldSet("kind", "name", "patterns", "exclude", "regex", "category",
		"confidence", "accounts", "amount", "when", "labels")
	amountFields = fieldSet("op", "value", "absolute")
	// Label output is deliberately absent: a condition may not read labels.
	whenFields = fieldSet("categories", "accounts", "amount", "uncategorized")
)

func fieldSet(names ...string) map[string]bool {
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	return set
}

// mappingValue returns the value node for key in a mapping node.
func mappingValue(node *yaml.Node, key string) (*yaml.Node, *yaml.Node) {
	if node == nil || node.Kind != yaml.MappingNode {
		return nil, nil
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		if node.Content[i].Value == key {
			return node.Content[i], node.Content[i+1]
		}
	}
	return nil, nil
}

// fieldLine returns the source line of key within node, or the node's own line.
func fieldLine(node *yaml.Node, key string) int {
	if k, _ := mappingValue(node, key); k != nil {
		return k.Line
	}
	if node != nil {
		return node.Line
	}
	return 0
}

// checkFields rejects keys that are not part of the schema.
func checkFields(node *yaml.Node, allowed map[string]bool, prefix string, index int) error {
	if node == nil {
		return nil
	}
	if node.Kind != yaml.MappingNode {
		return &common.ConfigError{
			Index:   index,
			Field:   prefix,
			Line:    node.Line,
			Message: "expected a mapping",
		}
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		key := node.Content[i]
		if allowed[key.Value] {
			continue
		}
		field := key.Value
		if prefix != "" {
			field = prefix + "." + key.Value
		}
		return &common.ConfigError{
			Index:   index,
			Field:   field,
			Line:    key.Line,
			Message: fmt.Sprintf("unknown field %q", key.Value),
		}
	}
	return nil
}

// checkEntryFields validates every nested mapping of a rule entry.
func checkEntryFields(item *yaml.Node, index int) error {
	if err := checkFields(item, ruleFields, "", index); err != nil {
		return err
	}
	if _, amount := mappingValue(item, "amount"); amount != nil {
		if err := checkFields(amount, amountFields, "amount", index); err != nil {
			return err
		}
	}
	if _, when := mappingValue(item, "when"); when != nil {
		if err := checkFields(when, whenFields, "when", index); err != nil {
			return err
		}
		if _, amount := mappingValue(when, "amount"); amount != nil {
			if err := checkFields(amount, amountFields, "when.amount", index); err != nil {
				return err
			}
		}
	}
	return nil
}
