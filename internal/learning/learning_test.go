package learning

import (
	"errors"
	"sync"
	"testing"

	"github.com/Veraticus/ruleflow/internal/common"
	"github.com/Veraticus/ruleflow/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractMerchantToken(t *testing.T) {
	tests := []struct {
		payee   string
		want    string
		wantErr bool
	}{
		{payee: "ACME WIDGETS", want: "ACME"},
		{payee: "acme widgets pty ltd", want: "ACME"},
		{payee: "WOOLWORTHS 1234 SYDNEY", want: "WOOLWORTHS"},
		{payee: "SQ *BLUE BOTTLE COFFEE", want: "BLUE"},
		{payee: "PAYPAL *NETFLIX.COM", want: "NETFLIX"},
		{payee: "Café Sydney", want: "CAFE"},
		{payee: "BUNNINGS LIMITED 00321", want: "BUNNINGS"},
		{payee: "JB HI-FI REF#AB1234", want: "JB"},
		{payee: "McDonald's", want: "MCDONALD'S"},
		{payee: "EFTPOS 483920 ACME WIDGETS", want: "ACME"},
		{payee: "REF1234 ACME WIDGETS", want: "ACME"},
		{payee: "7-ELEVEN 2041 SYDNEY", want: "ELEVEN"},
		{payee: "00123 POS X ACME", want: "ACME"},
		{payee: "123456789", wantErr: true},
		{payee: "PTY LTD", wantErr: true},
		{payee: "  ", wantErr: true},
		{payee: "4321 TX99812", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.payee, func(t *testing.T) {
			got, err := ExtractMerchantToken(tt.payee)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, common.ErrNoStableToken)
				var extractErr *common.LearningExtractionError
				assert.True(t, errors.As(err, &extractErr))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func externalResult(category string, confidence int) model.ClassificationResult {
	return model.ClassificationResult{
		Category:     model.StringPtr(category),
		Confidence:   confidence,
		Source:       model.SourceExternal,
		ExternalUsed: true,
	}
}

func TestSuggestRule_FromExternalMatch(t *testing.T) {
	rec := model.Record{ID: "r1", Payee: "ACME WIDGETS"}

	s, err := SuggestRule(rec, externalResult("Business Supplies", 85), DefaultCeiling)
	require.NoError(t, err)

	assert.Equal(t, []string{"ACME"}, s.Rule.Patterns)
	assert.Equal(t, "Business Supplies", s.Rule.Category)
	assert.Equal(t, 85, s.Rule.Confidence)
	assert.LessOrEqual(t, s.Rule.Confidence, 90)
	assert.Equal(t, "learned-acme-business-supplies", s.Rule.Name)
	assert.Equal(t, 1, s.Coverage)
	assert.Equal(t, model.SuggestionPending, s.Status)
}

func TestSuggestRule_Ceiling(t *testing.T) {
	rec := model.Record{Payee: "ACME WIDGETS"}

	s, err := SuggestRule(rec, externalResult("Office", 99), DefaultCeiling)
	require.NoError(t, err)
	assert.Equal(t, 90, s.Rule.Confidence)

	s, err = SuggestRule(rec, externalResult("Office", 99), 75)
	require.NoError(t, err)
	assert.Equal(t, 75, s.Rule.Confidence)

	_, err = SuggestRule(rec, model.ClassificationResult{Source: model.SourceExternal}, DefaultCeiling)
	assert.Error(t, err)
}

func TestShouldLearn(t *testing.T) {
	assert.True(t, ShouldLearn(externalResult("Office", 70), 70))
	assert.False(t, ShouldLearn(externalResult("Office", 69), 70))

	rule := externalResult("Office", 95)
	rule.Source = model.SourceRule
	assert.False(t, ShouldLearn(rule, 70))

	failed := externalResult("Office", 95)
	failed.Annotate(errors.New("bad"))
	assert.False(t, ShouldLearn(failed, 70))
}

func TestCollector_Deduplicates(t *testing.T) {
	c := NewCollector(70, DefaultCeiling)

	added, err := c.Observe(model.Record{ID: "1", Payee: "ACME WIDGETS 001"}, externalResult("Business Supplies", 85))
	require.NoError(t, err)
	assert.True(t, added)

	added, err = c.Observe(model.Record{ID: "2", Payee: "ACME WIDGETS PTY LTD"}, externalResult("Business Supplies", 88))
	require.NoError(t, err)
	assert.True(t, added)

	_, err = c.Observe(model.Record{ID: "3", Payee: "ACME WIDGETS"}, externalResult("Office", 80))
	require.NoError(t, err)

	added, err = c.Observe(model.Record{ID: "4", Payee: "ACME"}, externalResult("Office", 40))
	require.NoError(t, err)
	assert.False(t, added)

	_, err = c.Observe(model.Record{ID: "5", Payee: "0000"}, externalResult("Office", 80))
	assert.ErrorIs(t, err, common.ErrNoStableToken)

	got := c.Suggestions()
	require.Len(t, got, 2)
	assert.Equal(t, "Business Supplies", got[0].Rule.Category)
	assert.Equal(t, 2, got[0].Coverage)
	assert.Equal(t, 88, got[0].Rule.Confidence)
	assert.Equal(t, []string{"ACME WIDGETS 001", "ACME WIDGETS PTY LTD"}, got[0].Examples)
	assert.Equal(t, "Office", got[1].Rule.Category)
	assert.Equal(t, 1, got[1].Coverage)
}

func TestCollector_Concurrent(t *testing.T) {
	c := NewCollector(0, DefaultCeiling)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = c.Observe(model.Record{Payee: "ACME WIDGETS"}, externalResult("Office", 80))
		}()
	}
	wg.Wait()

	got := c.Suggestions()
	require.Len(t, got, 1)
	assert.Equal(t, 50, got[0].Coverage)
	assert.Len(t, got[0].Examples, 1)
}

func TestMerge(t *testing.T) {
	a := NewCollector(0, DefaultCeiling)
	_, _ = a.Observe(model.Record{Payee: "ACME WIDGETS"}, externalResult("Office", 80))
	b := NewCollector(0, DefaultCeiling)
	_, _ = b.Observe(model.Record{Payee: "ACME INC"}, externalResult("Office", 82))
	_, _ = b.Observe(model.Record{Payee: "BUNNINGS 1234"}, externalResult("Hardware", 82))

	merged := Merge(a.Suggestions(), b.Suggestions())
	require.Len(t, merged, 2)
	assert.Equal(t, 2, merged[0].Coverage)
	assert.Equal(t, 82, merged[0].Rule.Confidence)
	assert.Equal(t, "BUNNINGS", merged[1].Token)
}
