package rules

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/Veraticus/ruleflow/internal/common"
	"github.com/Veraticus/ruleflow/internal/model"
	"gopkg.in/yaml.v3"
)

// AppendCategoryRule appends rule to the end of the document at path. Existing
// entries keep their order and comments. The rule is validated against the
// current document before anything is written, and the file is replaced
// atomically. A missing document is created.
func AppendCategoryRule(path string, rule model.CategoryRule) error {
	data, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("reading rules: %w", err)
	}

	current, err := Parse(data)
	if err != nil {
		return err
	}
	if rule.Name == "" {
		rule.Name = fmt.Sprintf("rule-%d", current.Len()+1)
	}
	if current.HasRuleNamed(rule.Name) {
		return fmt.Errorf("rule %q: %w", rule.Name, common.ErrDuplicateEntry)
	}

	// The combined set must still load.
	if _, err := NewSnapshot(append(current.CategoryRules(), rule), current.LabelRules()); err != nil {
		return err
	}

	var doc yaml.Node
	if len(bytes.TrimSpace(data)) > 0 {
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("parsing rules: %w", err)
		}
	}
	seq := rulesSequence(&doc)

	var item yaml.Node
	if err := item.Encode(entryFromCategory(rule)); err != nil {
		return fmt.Errorf("encoding rule: %w", err)
	}
	seq.Content = append(seq.Content, &item)
	seq.Style = 0

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return fmt.Errorf("encoding rules: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("encoding rules: %w", err)
	}

	return writeAtomic(path, buf.Bytes())
}

// rulesSequence returns the rules sequence of doc, creating the document,
// the top-level mapping and the sequence as needed.
func rulesSequence(doc *yaml.Node) *yaml.Node {
	if doc.Kind == 0 {
		doc.Kind = yaml.DocumentNode
	}
	if len(doc.Content) == 0 || doc.Content[0].Tag == "!!null" {
		doc.Content = []*yaml.Node{{Kind: yaml.MappingNode, Tag: "!!map"}}
	}
	top := doc.Content[0]

	for i := 0; i+1 < len(top.Content); i += 2 {
		if top.Content[i].Value != "rules" {
			continue
		}
		value := top.Content[i+1]
		if value.Kind != yaml.SequenceNode {
			*value = yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
		}
		return value
	}

	seq := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
	top.Content = append(top.Content,
		&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: "rules"},
		seq)
	return seq
}

func entryFromCategory(rule model.CategoryRule) ruleEntry {
	confidence := rule.Confidence
	entry := ruleEntry{
		Kind:       KindCategory,
		Name:       rule.Name,
		Patterns:   rule.Patterns,
		Exclude:    rule.Exclude,
		Regex:      rule.IsRegex,
		Category:   rule.Category,
		Confidence: &confidence,
		Accounts:   rule.Accounts,
	}
	if rule.Amount != nil {
		entry.Amount = &amountEntry{
			Op:       string(rule.Amount.Op),
			Value:    yaml.Node{Kind: yaml.ScalarNode, Value: rule.Amount.Threshold.String()},
			Absolute: rule.Amount.Absolute,
		}
	}
	return entry
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("creating rules directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".rules-*.yaml")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("writing rules: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("syncing rules: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing rules: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replacing rules: %w", err)
	}
	return nil
}
