package rules

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/Veraticus/ruleflow/internal/common"
	"github.com/Veraticus/ruleflow/internal/model"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleRules = `
rules:
  - kind: category
    name: rideshare
    patterns: ["UBER"]
    category: Transport
    confidence: 95
  - kind: category
    name: food-delivery
    patterns: ["UBER EATS", "MENULOG"]
    category: Dining
    confidence: 88
  - kind: category
    name: big-electronics
    patterns: ['^(jb hi-fi|apple)']
    regex: true
    category: Electronics
    confidence: 75
    amount: {op: ">=", value: 500.00, absolute: true}
  - kind: label
    name: essential
    when:
      categories: [Groceries]
    labels: [Essential]
  - kind: label
    name: large
    when:
      amount: {op: gt, value: "100"}
    labels: [Large Purchase]
`

func TestParse(t *testing.T) {
	snap, err := Parse([]byte(sampleRules))
	require.NoError(t, err)

	cats := snap.CategoryRules()
	require.Len(t, cats, 3)
	assert.Equal(t, "rideshare", cats[0].Name)
	assert.Equal(t, 0, cats[0].Priority)
	assert.Equal(t, 2, cats[2].Priority)
	assert.True(t, cats[2].IsRegex)
	require.NotNil(t, cats[2].Amount)
	assert.Equal(t, model.AmountGreaterEqual, cats[2].Amount.Op)
	assert.True(t, cats[2].Amount.Threshold.Equal(decimal.NewFromInt(500)))
	assert.True(t, cats[2].Amount.Absolute)

	labels := snap.LabelRules()
	require.Len(t, labels, 2)
	assert.Equal(t, []string{"Groceries"}, labels[0].When.Categories)
	assert.Equal(t, model.AmountGreaterThan, labels[1].When.Amount.Op)

	assert.Equal(t, []string{"Dining", "Electronics", "Transport"}, snap.Categories())
	assert.Equal(t, []string{"Electronics"}, snap.UnknownCategories([]string{"dining", "Transport"}))
	assert.Len(t, snap.Version(), 12)
	assert.Equal(t, 5, snap.Len())
}

func TestParse_DefaultsAndEmpty(t *testing.T) {
	snap, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, 0, snap.Len())

	snap, err = Parse([]byte("rules:\n"))
	require.NoError(t, err)
	assert.Equal(t, 0, snap.Len())

	snap, err = Parse([]byte(`
rules:
  - kind: label
    labels: [Everything]
`))
	require.NoError(t, err)
	require.Len(t, snap.LabelRules(), 1)
	assert.Equal(t, "rule-1", snap.LabelRules()[0].Name)
	assert.True(t, snap.LabelRules()[0].When.IsEmpty())
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name      string
		doc       string
		wantField string
		wantLine  int
		pattern   bool
	}{
		{
			name: "unknown top-level field",
			doc:  "rulez: []\n",
			wantField: "rulez",
			wantLine:  1,
		},
		{
			name: "unknown rule field",
			doc: `rules:
  - kind: category
    patterns: [x]
    category: A
    confidence: 50
    priority: 3
`,
			wantField: "priority",
			wantLine:  6,
		},
		{
			name: "missing kind",
			doc: `rules:
  - patterns: [x]
    category: A
    confidence: 50
`,
			wantField: "kind",
		},
		{
			name: "unknown kind",
			doc: `rules:
  - kind: tag
    labels: [x]
`,
			wantField: "kind",
			wantLine:  2,
		},
		{
			name: "confidence above range",
			doc: `rules:
  - kind: category
    patterns: [x]
    category: A
    confidence: 101
`,
			wantField: "confidence",
			wantLine:  5,
		},
		{
			name: "negative confidence",
			doc: `rules:
  - kind: category
    patterns: [x]
    category: A
    confidence: -1
`,
			wantField: "confidence",
		},
		{
			name: "missing confidence",
			doc: `rules:
  - kind: category
    patterns: [x]
    category: A
`,
			wantField: "confidence",
		},
		{
			name: "missing patterns",
			doc: `rules:
  - kind: category
    category: A
    confidence: 10
`,
			wantField: "patterns",
		},
		{
			name: "missing category",
			doc: `rules:
  - kind: category
    patterns: [x]
    confidence: 10
`,
			wantField: "category",
		},
		{
			name: "unknown comparator",
			doc: `rules:
  - kind: category
    patterns: [x]
    category: A
    confidence: 10
    amount: {op: between, value: 5}
`,
			wantField: "amount.op",
			wantLine:  6,
		},
		{
			name: "non numeric threshold",
			doc: `rules:
  - kind: label
    when:
      amount: {op: gt, value: lots}
    labels: [Big]
`,
			wantField: "when.amount.value",
		},
		{
			name: "uncategorized with categories",
			doc: `rules:
  - kind: label
    name: contradiction
    when:
      uncategorized: true
      categories: [Groceries]
    labels: [Review]
`,
			wantField: "when.uncategorized",
		},
		{
			name: "label condition on labels",
			doc: `rules:
  - kind: label
    when:
      labels: [Essential]
    labels: [Derived]
`,
			wantField: "when.labels",
			wantLine:  4,
		},
		{
			name: "label rule without labels",
			doc: `rules:
  - kind: label
    when:
      accounts: [Bills]
`,
			wantField: "labels",
		},
		{
			name: "category field on label rule",
			doc: `rules:
  - kind: label
    patterns: [x]
    labels: [L]
`,
			wantField: "patterns",
		},
		{
			name: "when on category rule",
			doc: `rules:
  - kind: category
    patterns: [x]
    category: A
    confidence: 10
    when: {accounts: [Bills]}
`,
			wantField: "when",
		},
		{
			name: "duplicate names",
			doc: `rules:
  - kind: label
    name: same
    labels: [A]
  - kind: label
    name: same
    labels: [B]
`,
			wantField: "name",
			wantLine:  6,
		},
		{
			name: "invalid regex",
			doc: `rules:
  - kind: category
    name: broken
    patterns: ["(unclosed"]
    regex: true
    category: A
    confidence: 10
`,
			pattern: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			require.Error(t, err)
			assert.ErrorIs(t, err, common.ErrInvalidConfig)

			if tt.pattern {
				var patternErr *common.PatternError
				require.True(t, errors.As(err, &patternErr))
				assert.Equal(t, "broken", patternErr.Rule)
				return
			}

			var cfgErr *common.ConfigError
			require.True(t, errors.As(err, &cfgErr), "got %T: %v", err, err)
			assert.Equal(t, tt.wantField, cfgErr.Field)
			if tt.wantLine > 0 {
				assert.Equal(t, tt.wantLine, cfgErr.Line)
			}
		})
	}
}

func TestParse_DeclarationOrderDecidesMatch(t *testing.T) {
	doc := `rules:
  - kind: category
    patterns: [UBER]
    category: Transport
    confidence: 95
  - kind: category
    patterns: [UBER EATS]
    category: Dining
    confidence: 90
`
	snap, err := Parse([]byte(doc))
	require.NoError(t, err)

	rec := model.Record{Payee: "UBER EATS SYDNEY"}
	first := firstMatch(snap, rec)
	require.NotNil(t, first)
	assert.Equal(t, "Transport", first.Category)

	excluded := `rules:
  - kind: category
    patterns: [UBER]
    exclude: [UBER EATS]
    category: Transport
    confidence: 95
  - kind: category
    patterns: [UBER EATS]
    category: Dining
    confidence: 90
`
	snap, err = Parse([]byte(excluded))
	require.NoError(t, err)
	first = firstMatch(snap, rec)
	require.NotNil(t, first)
	assert.Equal(t, "Dining", first.Category)
}

func firstMatch(snap *Snapshot, rec model.Record) *model.CategoryRule {
	for _, r := range snap.CompiledCategoryRules() {
		if r.Matches(rec) {
			rule := r.CategoryRule
			return &rule
		}
	}
	return nil
}

func TestNewSnapshot(t *testing.T) {
	snap, err := NewSnapshot(
		[]model.CategoryRule{{Name: "a", Patterns: []string{"x"}, Category: "A", Confidence: 50}},
		[]model.LabelRule{{Labels: []string{"L"}}},
	)
	require.NoError(t, err)
	assert.Equal(t, "rule-2", snap.LabelRules()[0].Name)
	assert.NotEmpty(t, snap.Version())

	_, err = NewSnapshot([]model.CategoryRule{{Name: "bad", Patterns: []string{"x"}, Category: "A", Confidence: 300}}, nil)
	assert.ErrorIs(t, err, common.ErrInvalidConfig)
}

func TestAppendCategoryRule(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`# household rules
rules:
  - kind: category
    name: rideshare
    patterns: [UBER]
    category: Transport
    confidence: 95
`), 0o600))

	learned := model.CategoryRule{
		Name:       "learned-acme",
		Patterns:   []string{"ACME"},
		Category:   "Business Supplies",
		Confidence: 85,
		Amount:     &model.AmountFilter{Op: model.AmountLessThan, Threshold: decimal.RequireFromString("250.50")},
	}
	require.NoError(t, AppendCategoryRule(path, learned))

	snap, err := Load(path)
	require.NoError(t, err)
	cats := snap.CategoryRules()
	require.Len(t, cats, 2)
	assert.Equal(t, "rideshare", cats[0].Name)
	assert.Equal(t, "learned-acme", cats[1].Name)
	assert.Equal(t, 1, cats[1].Priority)
	assert.True(t, cats[1].Amount.Threshold.Equal(decimal.RequireFromString("250.5")))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "# household rules")

	t.Run("duplicate name rejected", func(t *testing.T) {
		err := AppendCategoryRule(path, learned)
		assert.ErrorIs(t, err, common.ErrDuplicateEntry)
	})

	t.Run("invalid rule leaves file untouched", func(t *testing.T) {
		before, err := os.ReadFile(path)
		require.NoError(t, err)

		err = AppendCategoryRule(path, model.CategoryRule{Name: "bad", Patterns: []string{"x"}, Category: "A", Confidence: 150})
		assert.ErrorIs(t, err, common.ErrInvalidConfig)

		after, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, before, after)
	})

	t.Run("creates missing document", func(t *testing.T) {
		fresh := filepath.Join(dir, "nested", "new.yaml")
		require.NoError(t, AppendCategoryRule(fresh, model.CategoryRule{Patterns: []string{"ACME"}, Category: "Office", Confidence: 80}))

		snap, err := Load(fresh)
		require.NoError(t, err)
		require.Len(t, snap.CategoryRules(), 1)
		assert.Equal(t, "rule-1", snap.CategoryRules()[0].Name)
	})
}
