package model

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Comparator is an amount comparison operator.
type Comparator string

// Comparator constants.
const (
	AmountLessThan     Comparator = "lt"
	AmountLessEqual    Comparator = "le"
	AmountEqual        Comparator = "eq"
	AmountGreaterEqual Comparator = "ge"
	AmountGreaterThan  Comparator = "gt"
)

var comparatorAliases = map[string]Comparator{
	"lt": AmountLessThan, "<": AmountLessThan,
	"le": AmountLessEqual, "<=": AmountLessEqual,
	"eq": AmountEqual, "=": AmountEqual, "==": AmountEqual,
	"ge": AmountGreaterEqual, ">=": AmountGreaterEqual,
	"gt": AmountGreaterThan, ">": AmountGreaterThan,
}

// ParseComparator accepts both the mnemonic and symbolic spelling of an operator.
func ParseComparator(s string) (Comparator, error) {
	c, ok := comparatorAliases[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return "", fmt.Errorf("unknown comparator %q", s)
	}
	return c, nil
}

// Symbol returns the symbolic form of the comparator.
func (c Comparator) Symbol() string {
	switch c {
	case AmountLessThan:
		return "<"
	case AmountLessEqual:
		return "<="
	case AmountEqual:
		return "="
	case AmountGreaterEqual:
		return ">="
	case AmountGreaterThan:
		return ">"
	}
	return string(c)
}

// AmountFilter restricts a rule to records whose amount satisfies Op against Threshold.
type AmountFilter struct {
	Op        Comparator
	Threshold decimal.Decimal
	Absolute  bool // Compare |amount| instead of the signed amount
}

// Holds evaluates the filter against an amount.
func (f AmountFilter) Holds(amount decimal.Decimal) bool {
	if f.Absolute {
		amount = amount.Abs()
	}
	cmp := amount.Cmp(f.Threshold)
	switch f.Op {
	case AmountLessThan:
		return cmp < 0
	case AmountLessEqual:
		return cmp <= 0
	case AmountEqual:
		return cmp == 0
	case AmountGreaterEqual:
		return cmp >= 0
	case AmountGreaterThan:
		return cmp > 0
	}
	return false
}

func (f AmountFilter) String() string {
	prefix := "amount"
	if f.Absolute {
		prefix = "|amount|"
	}
	return fmt.Sprintf("%s %s %s", prefix, f.Op.Symbol(), f.Threshold.String())
}

// CategoryRule assigns a category. Priority is the rule's position in the document.
type CategoryRule struct {
	Amount     *AmountFilter
	Name       string
	Category   string
	Patterns   []string // OR
	Exclude    []string // any match vetoes the rule
	Accounts   []string // empty means any account
	Confidence int
	Priority   int
	IsRegex    bool
}

// LabelCondition is the "when" clause of a label rule. Present conditions are ANDed.
type LabelCondition struct {
	Amount        *AmountFilter
	Categories    []string // OR
	Accounts      []string // OR
	Uncategorized bool
}

// IsEmpty reports whether the condition places no restriction at all.
func (c LabelCondition) IsEmpty() bool {
	return c.Amount == nil && len(c.Categories) == 0 && len(c.Accounts) == 0 && !c.Uncategorized
}

// LabelRule adds labels to every record its condition holds for.
type LabelRule struct {
	Name   string
	When   LabelCondition
	Labels []string
}
