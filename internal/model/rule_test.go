package model

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseComparator(t *testing.T) {
	tests := []struct {
		input   string
		want    Comparator
		wantErr bool
	}{
		{input: "lt", want: AmountLessThan},
		{input: "<", want: AmountLessThan},
		{input: "<=", want: AmountLessEqual},
		{input: "EQ", want: AmountEqual},
		{input: "==", want: AmountEqual},
		{input: " >= ", want: AmountGreaterEqual},
		{input: "gt", want: AmountGreaterThan},
		{input: "between", wantErr: true},
		{input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseComparator(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAmountFilter_Holds(t *testing.T) {
	hundred := decimal.NewFromInt(100)

	tests := []struct {
		name   string
		filter AmountFilter
		amount decimal.Decimal
		want   bool
	}{
		{name: "gt above", filter: AmountFilter{Op: AmountGreaterThan, Threshold: hundred}, amount: decimal.NewFromInt(220), want: true},
		{name: "gt equal", filter: AmountFilter{Op: AmountGreaterThan, Threshold: hundred}, amount: hundred, want: false},
		{name: "ge equal", filter: AmountFilter{Op: AmountGreaterEqual, Threshold: hundred}, amount: hundred, want: true},
		{name: "eq exact decimal", filter: AmountFilter{Op: AmountEqual, Threshold: decimal.RequireFromString("10.10")}, amount: decimal.RequireFromString("10.1"), want: true},
		{name: "lt negative", filter: AmountFilter{Op: AmountLessThan, Threshold: decimal.Zero}, amount: decimal.NewFromInt(-5), want: true},
		{name: "le above", filter: AmountFilter{Op: AmountLessEqual, Threshold: hundred}, amount: decimal.NewFromInt(101), want: false},
		{name: "absolute debit", filter: AmountFilter{Op: AmountGreaterThan, Threshold: hundred, Absolute: true}, amount: decimal.NewFromInt(-220), want: true},
		{name: "signed debit", filter: AmountFilter{Op: AmountGreaterThan, Threshold: hundred}, amount: decimal.NewFromInt(-220), want: false},
		{name: "unknown op", filter: AmountFilter{Op: "between", Threshold: hundred}, amount: hundred, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.filter.Holds(tt.amount))
		})
	}
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("Balanced")
	require.NoError(t, err)
	assert.Equal(t, ModeBalanced, m)

	_, err = ParseMode("reckless")
	assert.Error(t, err)
}

func TestDecisionRank(t *testing.T) {
	assert.Less(t, DecisionSkip.Rank(), DecisionAskUser.Rank())
	assert.Less(t, DecisionAskUser.Rank(), DecisionAutoApply.Rank())
}

func TestClampConfidence(t *testing.T) {
	assert.Equal(t, 0, ClampConfidence(-3))
	assert.Equal(t, 55, ClampConfidence(55))
	assert.Equal(t, 100, ClampConfidence(140))
}
