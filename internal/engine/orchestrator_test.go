package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/Veraticus/ruleflow/internal/common"
	"github.com/Veraticus/ruleflow/internal/model"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var vocab = []string{"Transport", "Dining", "Groceries", "Business Supplies", "Office"}

func newOrchestrator(t *testing.T, cats []model.CategoryRule, external ExternalClassifier, mutate func(*Options)) *Orchestrator {
	t.Helper()
	opts := DefaultOptions()
	opts.BatchSize = 1
	if mutate != nil {
		mutate(&opts)
	}
	o, err := NewOrchestrator(mustSnapshot(t, cats, nil), external, opts)
	require.NoError(t, err)
	return o
}

func ptr[T any](v T) *T {
	return &v
}

func TestOrchestrator_FallbackThenLearn(t *testing.T) {
	mock := NewMockExternal().OnClassify("ACME WIDGETS", "Business Supplies", 85)
	o := newOrchestrator(t, nil, mock, nil)

	summary, err := o.Run(context.Background(), []model.Record{{ID: "r1", Payee: "ACME WIDGETS"}}, vocab)
	require.NoError(t, err)
	require.Len(t, summary.Results, 1)

	result := summary.Results[0]
	assert.Equal(t, "Business Supplies", result.CategoryName())
	assert.Equal(t, 85, result.Confidence)
	assert.Equal(t, model.SourceExternal, result.Source)
	assert.True(t, result.ExternalUsed)
	assert.Equal(t, model.DecisionAskUser, result.Decision)

	require.Len(t, summary.Suggestions, 1)
	s := summary.Suggestions[0]
	assert.Equal(t, []string{"ACME"}, s.Rule.Patterns)
	assert.Equal(t, "Business Supplies", s.Rule.Category)
	assert.LessOrEqual(t, s.Rule.Confidence, 90)
	assert.Equal(t, summary.BatchID, s.BatchID)

	assert.Equal(t, Counts{Total: 1, ExternalMatched: 1, Asked: 1}, summary.Counts)
}

func TestOrchestrator_OutOfVocabularyNeverAutoApplied(t *testing.T) {
	for _, mode := range []model.Mode{model.ModeConservative, model.ModeBalanced, model.ModePermissive} {
		for _, confidence := range []int{0, 50, 80, 90, 100} {
			t.Run(fmt.Sprintf("%s/%d", mode, confidence), func(t *testing.T) {
				mock := NewMockExternal().OnClassify("ACME", "Crypto Moonshots", confidence)
				o := newOrchestrator(t, nil, mock, func(opts *Options) { opts.Mode = mode })

				summary, err := o.Run(context.Background(), []model.Record{{ID: "1", Payee: "ACME"}}, vocab)
				require.NoError(t, err)

				result := summary.Results[0]
				assert.Equal(t, model.DecisionSkip, result.Decision)
				assert.Nil(t, result.Category)
				var invalid *common.InvalidCategoryError
				assert.True(t, errors.As(result.Err, &invalid))
				assert.Equal(t, 1, summary.Counts.Skipped)
				assert.Equal(t, 0, summary.Counts.Errored)
				assert.Empty(t, summary.Suggestions)
			})
		}
	}
}

func TestOrchestrator_VocabularyIsCaseInsensitive(t *testing.T) {
	mock := NewMockExternal().OnClassify("ACME", "office", 95)
	o := newOrchestrator(t, nil, mock, nil)

	summary, err := o.Run(context.Background(), []model.Record{{ID: "1", Payee: "ACME"}}, vocab)
	require.NoError(t, err)
	assert.Equal(t, "Office", summary.Results[0].CategoryName())
	assert.Equal(t, model.DecisionAutoApply, summary.Results[0].Decision)
}

func TestOrchestrator_ExternalFailureIsIsolated(t *testing.T) {
	mock := NewMockExternal().
		OnClassify("GOOD ONE", "Office", 95).
		FailFor("BAD ONE", context.DeadlineExceeded)
	o := newOrchestrator(t, nil, mock, nil)

	records := []model.Record{
		{ID: "1", Payee: "BAD ONE"},
		{ID: "2", Payee: "GOOD ONE"},
	}
	summary, err := o.Run(context.Background(), records, vocab)
	require.NoError(t, err)
	require.Len(t, summary.Results, 2)

	failed := summary.Results[0]
	assert.Equal(t, model.SourceNone, failed.Source)
	assert.Nil(t, failed.Category)
	assert.Equal(t, model.DecisionSkip, failed.Decision)
	assert.NotEmpty(t, failed.Error)
	var adapterErr *common.ExternalAdapterError
	require.True(t, errors.As(failed.Err, &adapterErr))
	assert.Equal(t, "1", adapterErr.RecordID)
	assert.ErrorIs(t, failed.Err, context.DeadlineExceeded)

	assert.Equal(t, "Office", summary.Results[1].CategoryName())
	assert.Equal(t, Counts{Total: 2, ExternalMatched: 1, Unmatched: 1, AutoApplied: 1, Errored: 1}, summary.Counts)
}

func TestOrchestrator_BorderlineValidation(t *testing.T) {
	borderline := []model.CategoryRule{
		{Name: "amazon", Patterns: []string{"AMAZON"}, Category: "Office", Confidence: 75},
	}
	rec := model.Record{ID: "1", Payee: "AMAZON MKTPLACE"}

	tests := []struct {
		name         string
		validate     *model.ValidateResponse
		failure      error
		wantCategory string
		wantSource   model.Source
		wantDecision model.Decision
		wantConf     int
		wantErrored  bool
	}{
		{
			name:         "confirm keeps rule result",
			validate:     &model.ValidateResponse{Verdict: model.VerdictConfirm},
			wantCategory: "Office",
			wantSource:   model.SourceRule,
			wantDecision: model.DecisionAskUser,
			wantConf:     75,
		},
		{
			name:         "reject with confident alternative upgrades to auto",
			validate:     &model.ValidateResponse{Verdict: model.VerdictReject, AlternativeCategory: ptr("Groceries"), Confidence: ptr(96)},
			wantCategory: "Groceries",
			wantSource:   model.SourceExternal,
			wantDecision: model.DecisionAutoApply,
			wantConf:     96,
		},
		{
			name:         "reject with weak alternative downgrades to skip",
			validate:     &model.ValidateResponse{Verdict: model.VerdictReject, AlternativeCategory: ptr("Dining"), Confidence: ptr(30)},
			wantCategory: "Dining",
			wantSource:   model.SourceExternal,
			wantDecision: model.DecisionSkip,
			wantConf:     30,
		},
		{
			name:         "reject with unknown alternative skips",
			validate:     &model.ValidateResponse{Verdict: model.VerdictReject, AlternativeCategory: ptr("Yachts"), Confidence: ptr(99)},
			wantSource:   model.SourceExternal,
			wantDecision: model.DecisionSkip,
			wantConf:     99,
		},
		{
			name:         "reject without alternative clears category",
			validate:     &model.ValidateResponse{Verdict: model.VerdictReject},
			wantSource:   model.SourceNone,
			wantDecision: model.DecisionSkip,
			wantConf:     0,
		},
		{
			name:         "validation failure keeps rule result",
			failure:      errors.New("connection reset"),
			wantCategory: "Office",
			wantSource:   model.SourceRule,
			wantDecision: model.DecisionAskUser,
			wantConf:     75,
			wantErrored:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := NewMockExternal()
			if tt.validate != nil {
				mock.OnValidate(rec.Payee, *tt.validate)
			}
			if tt.failure != nil {
				mock.FailFor(rec.Payee, tt.failure)
			}
			o := newOrchestrator(t, borderline, mock, nil)

			summary, err := o.Run(context.Background(), []model.Record{rec}, vocab)
			require.NoError(t, err)
			result := summary.Results[0]

			assert.Equal(t, tt.wantCategory, result.CategoryName())
			assert.Equal(t, tt.wantSource, result.Source)
			assert.Equal(t, tt.wantDecision, result.Decision)
			assert.Equal(t, tt.wantConf, result.Confidence)
			assert.Equal(t, tt.wantErrored, IsErrored(result))
			assert.Equal(t, []string{"1"}, mock.ValidateCalls())
		})
	}
}

func TestOrchestrator_FailedValidationStaysInReview(t *testing.T) {
	cats := []model.CategoryRule{
		{Name: "amazon", Patterns: []string{"AMAZON"}, Category: "Office", Confidence: 80},
	}
	mock := NewMockExternal().
		FailFor("AMAZON MKTPLACE", context.DeadlineExceeded).
		OnClassify("UNKNOWN SHOP", "Dining", 40)
	o := newOrchestrator(t, cats, mock, nil)

	summary, err := o.Run(context.Background(), []model.Record{
		{ID: "1", Payee: "AMAZON MKTPLACE"},
		{ID: "2", Payee: "UNKNOWN SHOP"},
	}, vocab)
	require.NoError(t, err)

	failed := summary.Results[0]
	assert.Equal(t, model.DecisionAskUser, failed.Decision)
	assert.True(t, IsErrored(failed))
	assert.Equal(t, 1, summary.Counts.Errored)
	assert.Zero(t, summary.Counts.Asked)
	assert.Equal(t, 1, summary.Counts.Skipped)

	review := summary.NeedsReview()
	require.Len(t, review, 1)
	assert.Equal(t, "1", review[0].RecordID)
	assert.Equal(t, "Office", review[0].CategoryName())
}

func TestOrchestrator_ValidationOnlyForAskBand(t *testing.T) {
	cats := []model.CategoryRule{
		{Name: "sure", Patterns: []string{"UBER"}, Category: "Transport", Confidence: 95},
		{Name: "weak", Patterns: []string{"MISC"}, Category: "Office", Confidence: 40},
	}
	mock := NewMockExternal()
	o := newOrchestrator(t, cats, mock, nil)

	summary, err := o.Run(context.Background(), []model.Record{
		{ID: "1", Payee: "UBER TRIP"},
		{ID: "2", Payee: "MISC STORE"},
	}, vocab)
	require.NoError(t, err)

	assert.Empty(t, mock.ValidateCalls())
	assert.Empty(t, mock.ClassifyCalls())
	assert.Equal(t, model.DecisionAutoApply, summary.Results[0].Decision)
	assert.Equal(t, model.DecisionSkip, summary.Results[1].Decision)
	assert.Equal(t, 40, summary.Results[1].Confidence)
	assert.Equal(t, 2, summary.Counts.RuleMatched)
}

func TestOrchestrator_ValidationDisabled(t *testing.T) {
	cats := []model.CategoryRule{{Name: "amazon", Patterns: []string{"AMAZON"}, Category: "Office", Confidence: 75}}
	mock := NewMockExternal()
	o := newOrchestrator(t, cats, mock, func(opts *Options) { opts.ValidateBorderline = false })

	_, err := o.Run(context.Background(), []model.Record{{ID: "1", Payee: "AMAZON"}}, vocab)
	require.NoError(t, err)
	assert.Empty(t, mock.ValidateCalls())
}

func TestOrchestrator_NoExternal(t *testing.T) {
	o := newOrchestrator(t, nil, nil, nil)

	summary, err := o.Run(context.Background(), []model.Record{{ID: "1", Payee: "ACME"}}, vocab)
	require.NoError(t, err)

	result := summary.Results[0]
	assert.Equal(t, model.SourceNone, result.Source)
	assert.Equal(t, model.DecisionSkip, result.Decision)
	assert.False(t, result.ExternalUsed)
	assert.Nil(t, result.Err)
	assert.Equal(t, Counts{Total: 1, Unmatched: 1, Skipped: 1}, summary.Counts)
}

func TestOrchestrator_LearningDeduplicates(t *testing.T) {
	mock := NewMockExternal().
		OnClassify("ACME WIDGETS 001", "Business Supplies", 85).
		OnClassify("ACME WIDGETS PTY LTD", "Business Supplies", 80).
		OnClassify("ACME INC", "Business Supplies", 60)
	o := newOrchestrator(t, nil, mock, nil)

	summary, err := o.Run(context.Background(), []model.Record{
		{ID: "1", Payee: "ACME WIDGETS 001"},
		{ID: "2", Payee: "ACME WIDGETS PTY LTD"},
		{ID: "3", Payee: "ACME INC"},
	}, vocab)
	require.NoError(t, err)

	require.Len(t, summary.Suggestions, 1)
	assert.Equal(t, 2, summary.Suggestions[0].Coverage)
}

func TestOrchestrator_LearningThresholdOverride(t *testing.T) {
	mock := NewMockExternal().OnClassify("ACME INC", "Office", 60)
	o := newOrchestrator(t, nil, mock, func(opts *Options) { opts.LearningThreshold = ptr(50) })

	summary, err := o.Run(context.Background(), []model.Record{{ID: "1", Payee: "ACME INC"}}, vocab)
	require.NoError(t, err)
	assert.Len(t, summary.Suggestions, 1)
}

func TestOrchestrator_BatchedExternal(t *testing.T) {
	mock := NewMockBatchExternal()
	mock.OnClassify("ACME", "Office", 95).OnClassify("BUNNINGS", "Office", 92).OnClassify("OFFICEWORKS", "Office", 91)
	mock.Omit["3"] = true

	o := newOrchestrator(t, []model.CategoryRule{
		{Name: "uber", Patterns: []string{"UBER"}, Category: "Transport", Confidence: 95},
	}, mock, func(opts *Options) { opts.BatchSize = 10 })

	records := []model.Record{
		{ID: "1", Payee: "ACME"},
		{ID: "2", Payee: "UBER"},
		{ID: "3", Payee: "BUNNINGS"},
		{ID: "4", Payee: "OFFICEWORKS"},
	}
	summary, err := o.Run(context.Background(), records, vocab)
	require.NoError(t, err)

	assert.Equal(t, []int{3}, mock.BatchSizes())
	assert.Empty(t, mock.ClassifyCalls())

	ids := make([]string, 0, len(summary.Results))
	for _, r := range summary.Results {
		ids = append(ids, r.RecordID)
	}
	assert.Equal(t, []string{"1", "2", "3", "4"}, ids)

	assert.Equal(t, "Office", summary.Results[0].CategoryName())
	assert.True(t, IsErrored(summary.Results[2]))
	assert.Equal(t, 1, summary.Counts.Errored)
}

func TestOrchestrator_BatchFailureFallsBack(t *testing.T) {
	mock := NewMockBatchExternal()
	mock.OnClassify("ACME", "Office", 95).OnClassify("BUNNINGS", "Office", 92)
	mock.BatchErr = errors.New("batch endpoint down")

	o := newOrchestrator(t, nil, mock, func(opts *Options) { opts.BatchSize = 5 })

	summary, err := o.Run(context.Background(), []model.Record{
		{ID: "1", Payee: "ACME"},
		{ID: "2", Payee: "BUNNINGS"},
	}, vocab)
	require.NoError(t, err)

	assert.Equal(t, []string{"1", "2"}, mock.ClassifyCalls())
	assert.Equal(t, 2, summary.Counts.AutoApplied)
}

func TestOrchestrator_Cancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	seen := 0
	observer := ObserverFunc(func(model.ClassificationResult) {
		mu.Lock()
		defer mu.Unlock()
		seen++
		if seen == 2 {
			cancel()
		}
	})

	cats := []model.CategoryRule{{Name: "all", Patterns: []string{"SHOP"}, Category: "Office", Confidence: 95}}
	o := newOrchestrator(t, cats, nil, func(opts *Options) { opts.Observer = observer })

	records := make([]model.Record, 5)
	for i := range records {
		records[i] = model.Record{ID: fmt.Sprint(i), Payee: "SHOP"}
	}

	summary, err := o.Run(ctx, records, vocab)
	require.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, summary)
	assert.True(t, summary.Cancelled)
	assert.Len(t, summary.Results, 2)
	assert.Equal(t, 2, summary.Counts.Total)
	for _, r := range summary.Results {
		assert.Equal(t, "Office", r.CategoryName())
	}
}

func TestOrchestrator_Determinism(t *testing.T) {
	mock := NewMockExternal().OnClassify("ACME", "Office", 85)
	cats := []model.CategoryRule{{Name: "uber", Patterns: []string{"UBER"}, Category: "Transport", Confidence: 95}}
	o := newOrchestrator(t, cats, mock, nil)

	records := []model.Record{
		{ID: "1", Payee: "ACME", Amount: decimal.NewFromInt(5)},
		{ID: "2", Payee: "UBER", Amount: decimal.NewFromInt(-12)},
	}
	first, err := o.Run(context.Background(), records, vocab)
	require.NoError(t, err)
	second, err := o.Run(context.Background(), records, vocab)
	require.NoError(t, err)

	assert.Equal(t, first.Results, second.Results)
	assert.Equal(t, first.Counts, second.Counts)
	assert.NotEqual(t, first.BatchID, second.BatchID)
}

func TestNewOrchestrator_InvalidOptions(t *testing.T) {
	snap := mustSnapshot(t, nil, nil)

	_, err := NewOrchestrator(snap, nil, Options{Mode: "reckless"})
	assert.ErrorIs(t, err, common.ErrInvalidConfig)

	_, err = NewOrchestrator(nil, nil, DefaultOptions())
	assert.ErrorIs(t, err, common.ErrInvalidConfig)
}

func TestShouldDelegate(t *testing.T) {
	limits := DefaultDelegationLimits()

	tests := []struct {
		name  string
		count int
		cost  float64
		want  bool
	}{
		{name: "small batch", count: 10, cost: 0.1, want: false},
		{name: "at record limit", count: 100, cost: 0, want: false},
		{name: "over record limit", count: 101, cost: 0, want: true},
		{name: "over cost budget", count: 5, cost: 5.01, want: true},
		{name: "at cost budget", count: 5, cost: 5.0, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ShouldDelegate(tt.count, tt.cost, limits))
		})
	}

	assert.False(t, ShouldDelegate(1_000_000, 1e9, DelegationLimits{}))
}

func TestOrchestrator_Plan(t *testing.T) {
	cats := []model.CategoryRule{
		{Name: "uber", Patterns: []string{"UBER"}, Category: "Transport", Confidence: 95},
		{Name: "amazon", Patterns: []string{"AMAZON"}, Category: "Office", Confidence: 75},
	}
	records := []model.Record{
		{ID: "1", Payee: "UBER"},
		{ID: "2", Payee: "AMAZON"},
		{ID: "3", Payee: "ACME"},
		{ID: "4", Payee: "BUNNINGS"},
		{ID: "5", Payee: "OFFICEWORKS"},
	}

	single := newOrchestrator(t, cats, NewMockExternal(), nil)
	p := single.Plan(records)
	assert.Equal(t, 5, p.RecordCount)
	assert.Equal(t, 2, p.RuleMatched)
	assert.Equal(t, 4, p.ExpectedExternalCalls)
	assert.InDelta(t, 0.04, p.EstimatedCost, 1e-9)
	assert.False(t, p.Delegate)

	batched := newOrchestrator(t, cats, NewMockBatchExternal(), func(opts *Options) {
		opts.BatchSize = 2
		opts.Delegation = DelegationLimits{MaxInlineRecords: 3, CostPerCall: 1}
	})
	p = batched.Plan(records)
	assert.Equal(t, 3, p.ExpectedExternalCalls)
	assert.True(t, p.Delegate)

	offline := newOrchestrator(t, cats, nil, nil)
	assert.Zero(t, offline.Plan(records).ExpectedExternalCalls)
}

func TestBatchSummary_Merge(t *testing.T) {
	mock := NewMockExternal().OnClassify("ACME WIDGETS", "Office", 85).OnClassify("ACME", "Office", 88)
	o := newOrchestrator(t, nil, mock, nil)

	a, err := o.RunBatch(context.Background(), "batch-1", []model.Record{{ID: "1", Payee: "ACME WIDGETS"}}, vocab)
	require.NoError(t, err)
	b, err := o.RunBatch(context.Background(), "batch-1", []model.Record{{ID: "2", Payee: "ACME"}}, vocab)
	require.NoError(t, err)

	merged := &BatchSummary{BatchID: "batch-1", Mode: model.ModeBalanced}
	merged.Merge(a)
	merged.Merge(b)
	merged.Merge(nil)

	assert.Equal(t, 2, merged.Counts.Total)
	assert.Equal(t, 2, merged.Counts.Asked)
	require.Len(t, merged.Suggestions, 1)
	assert.Equal(t, 2, merged.Suggestions[0].Coverage)
	assert.Len(t, merged.NeedsReview(), 2)
	assert.Empty(t, merged.AutoApplied())
}
