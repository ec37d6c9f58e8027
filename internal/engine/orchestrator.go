package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Veraticus/ruleflow/internal/common"
	"github.com/Veraticus/ruleflow/internal/learning"
	"github.com/Veraticus/ruleflow/internal/model"
	"github.com/Veraticus/ruleflow/internal/policy"
	"github.com/Veraticus/ruleflow/internal/rules"
	"github.com/google/uuid"
)

// DelegationLimits decide when a batch is too large to run inline.
type DelegationLimits struct {
	MaxInlineRecords int     // Zero disables the record limit
	CostBudget       float64 // Zero disables the cost limit
	CostPerCall      float64 // Estimated cost of one external call
}

// DefaultDelegationLimits returns the built-in limits.
func DefaultDelegationLimits() DelegationLimits {
	return DelegationLimits{
		MaxInlineRecords: 100,
		CostBudget:       5.0,
		CostPerCall:      0.01,
	}
}

// ShouldDelegate reports whether a batch exceeds the inline limits.
func ShouldDelegate(recordCount int, estimatedCost float64, limits DelegationLimits) bool {
	if limits.MaxInlineRecords > 0 && recordCount > limits.MaxInlineRecords {
		return true
	}
	return limits.CostBudget > 0 && estimatedCost > limits.CostBudget
}

// Options configures an Orchestrator.
type Options struct {
	Observer           Observer
	Logger             *slog.Logger
	LearningThreshold  *int // Nil means the mode's ask floor
	Table              policy.Table
	Mode               model.Mode
	Delegation         DelegationLimits
	BatchSize          int
	LearningCeiling    int
	ValidateBorderline bool
}

// DefaultOptions returns balanced-mode options with borderline validation on.
func DefaultOptions() Options {
	return Options{
		Mode:               model.ModeBalanced,
		Table:              policy.DefaultTable(),
		ValidateBorderline: true,
		BatchSize:          10,
		LearningCeiling:    learning.DefaultCeiling,
		Delegation:         DefaultDelegationLimits(),
	}
}

// Orchestrator drives the classification pipeline over a batch of records.
// A single Orchestrator may run several batches concurrently.
type Orchestrator struct {
	classifier *Classifier
	external   ExternalClassifier
	logger     *slog.Logger
	opts       Options
	thresholds policy.Thresholds
}

// NewOrchestrator creates an orchestrator. external may be nil, in which case
// unmatched records are skipped and borderline matches are not validated.
func NewOrchestrator(snap *rules.Snapshot, external ExternalClassifier, opts Options) (*Orchestrator, error) {
	if snap == nil {
		return nil, fmt.Errorf("rule snapshot is required: %w", common.ErrInvalidConfig)
	}
	if opts.Table == nil {
		opts.Table = policy.DefaultTable()
	}
	if opts.Mode == "" {
		opts.Mode = model.ModeBalanced
	}
	if err := opts.Table.Validate(); err != nil {
		return nil, err
	}
	thresholds, err := opts.Table.Thresholds(opts.Mode)
	if err != nil {
		return nil, err
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 1
	}
	if opts.LearningCeiling <= 0 {
		opts.LearningCeiling = learning.DefaultCeiling
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Orchestrator{
		classifier: NewClassifier(snap),
		external:   external,
		logger:     logger,
		opts:       opts,
		thresholds: thresholds,
	}, nil
}

// Mode returns the intelligence mode in force.
func (o *Orchestrator) Mode() model.Mode {
	return o.opts.Mode
}

// Classifier returns the underlying rule classifier.
func (o *Orchestrator) Classifier() *Classifier {
	return o.classifier
}

// Plan estimates the external work a batch needs and whether it should be
// delegated to a worker.
type Plan struct {
	RecordCount           int
	RuleMatched           int
	ExpectedExternalCalls int
	EstimatedCost         float64
	Delegate              bool
}

// Plan runs the rule phase over records and estimates external usage.
func (o *Orchestrator) Plan(records []model.Record) Plan {
	p := Plan{RecordCount: len(records)}

	misses, validations := 0, 0
	for _, rec := range records {
		rule, ok := o.classifier.MatchCategory(rec)
		if !ok {
			misses++
			continue
		}
		p.RuleMatched++
		if o.shouldValidate(o.thresholds.Decide(rule.Confidence)) {
			validations++
		}
	}

	if o.external != nil {
		classifyCalls := misses
		if _, ok := o.external.(BatchClassifier); ok && o.opts.BatchSize > 1 {
			classifyCalls = (misses + o.opts.BatchSize - 1) / o.opts.BatchSize
		}
		p.ExpectedExternalCalls = classifyCalls + validations
	}

	p.EstimatedCost = float64(p.ExpectedExternalCalls) * o.opts.Delegation.CostPerCall
	p.Delegate = ShouldDelegate(p.RecordCount, p.EstimatedCost, o.opts.Delegation)
	return p
}

// Run classifies records under a fresh batch ID.
func (o *Orchestrator) Run(ctx context.Context, records []model.Record, vocabulary []string) (*BatchSummary, error) {
	return o.RunBatch(ctx, uuid.NewString(), records, vocabulary)
}

// RunBatch classifies records in order. A record's external failure is recorded
// on its result and never stops the batch. When ctx is cancelled, processing
// stops between records and the summary holds every result finalized so far.
func (o *Orchestrator) RunBatch(ctx context.Context, batchID string, records []model.Record, vocabulary []string) (*BatchSummary, error) {
	start := time.Now()
	summary := &BatchSummary{
		BatchID:   batchID,
		Mode:      o.opts.Mode,
		StartedAt: start,
		Results:   make([]model.ClassificationResult, 0, len(records)),
	}

	threshold := o.thresholds.AskFloor
	if o.opts.LearningThreshold != nil {
		threshold = *o.opts.LearningThreshold
	}
	collector := learning.NewCollector(threshold, o.opts.LearningCeiling)
	vocab := newVocabulary(vocabulary)

	o.logger.Info("Starting classification batch",
		"batch_id", batchID,
		"records", len(records),
		"mode", o.opts.Mode,
		"rules_version", o.classifier.Snapshot().Version())

	var runErr error
	for i := 0; i < len(records) && runErr == nil; i += o.opts.BatchSize {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}

		chunk := records[i:min(i+o.opts.BatchSize, len(records))]
		external := o.classifyMisses(ctx, chunk, vocabulary)

		for _, rec := range chunk {
			if err := ctx.Err(); err != nil {
				runErr = err
				break
			}

			result := o.finalize(ctx, rec, external[rec.ID], vocab)
			summary.add(result)

			if _, err := collector.Observe(rec, result); err != nil {
				o.logger.Debug("No rule suggestion for record", "record_id", rec.ID, "error", err)
			}
			if o.opts.Observer != nil {
				o.opts.Observer.RecordClassified(result)
			}
		}
	}

	summary.Suggestions = collector.Suggestions()
	for i := range summary.Suggestions {
		summary.Suggestions[i].BatchID = batchID
	}
	summary.Duration = time.Since(start)

	if runErr != nil {
		summary.Cancelled = true
		o.logger.Warn("Classification batch cancelled",
			"batch_id", batchID,
			"finalized", len(summary.Results),
			"records", len(records))
		return summary, runErr
	}

	o.logger.Info("Finished classification batch",
		"batch_id", batchID,
		"rule_matched", summary.Counts.RuleMatched,
		"external_matched", summary.Counts.ExternalMatched,
		"auto_applied", summary.Counts.AutoApplied,
		"asked", summary.Counts.Asked,
		"skipped", summary.Counts.Skipped,
		"errored", summary.Counts.Errored,
		"suggestions", len(summary.Suggestions),
		"duration", summary.Duration)

	return summary, nil
}

// externalAnswer is the classifier's answer for one record, or the reason
// there is none.
type externalAnswer struct {
	err  error
	resp model.ClassifyResponse
}

// classifyMisses asks the external classifier about every record in chunk
// that no category rule matches. Answers are keyed by record ID.
func (o *Orchestrator) classifyMisses(ctx context.Context, chunk []model.Record, vocabulary []string) map[string]*externalAnswer {
	if o.external == nil {
		return nil
	}

	var reqs []model.ClassifyRequest
	for _, rec := range chunk {
		if _, ok := o.classifier.MatchCategory(rec); ok {
			continue
		}
		reqs = append(reqs, model.ClassifyRequest{Record: rec, Mode: o.opts.Mode, Vocabulary: vocabulary})
	}
	if len(reqs) == 0 {
		return nil
	}

	answers := make(map[string]*externalAnswer, len(reqs))

	if batcher, ok := o.external.(BatchClassifier); ok && len(reqs) > 1 {
		resps, err := batcher.ClassifyBatch(ctx, reqs)
		if err == nil {
			for _, resp := range resps {
				answers[resp.RecordID] = &externalAnswer{resp: resp}
			}
			for _, req := range reqs {
				if _, ok := answers[req.Record.ID]; !ok {
					answers[req.Record.ID] = &externalAnswer{err: &common.ExternalAdapterError{
						Operation: "classify",
						RecordID:  req.Record.ID,
						Err:       errors.New("record missing from batch response"),
					}}
				}
			}
			return answers
		}
		o.logger.Warn("Batch classification failed, falling back to single requests",
			"records", len(reqs),
			"error", err)
	}

	for _, req := range reqs {
		if ctx.Err() != nil {
			break
		}
		resp, err := o.external.Classify(ctx, req)
		if err != nil {
			answers[req.Record.ID] = &externalAnswer{err: &common.ExternalAdapterError{
				Operation: "classify",
				RecordID:  req.Record.ID,
				Err:       err,
			}}
			continue
		}
		answers[req.Record.ID] = &externalAnswer{resp: resp}
	}
	return answers
}

func (o *Orchestrator) shouldValidate(decision model.Decision) bool {
	return o.external != nil && o.opts.ValidateBorderline && decision == model.DecisionAskUser
}

// finalize produces the complete result for one record.
func (o *Orchestrator) finalize(ctx context.Context, rec model.Record, answer *externalAnswer, vocab vocabulary) model.ClassificationResult {
	result := ruleResult(rec, o.classifier.MatchCategory)

	if result.Source == model.SourceRule {
		result.Decision = o.thresholds.Decide(result.Confidence)
		if o.shouldValidate(result.Decision) {
			result = o.validate(ctx, rec, result, vocab)
		}
	} else {
		result = o.fromExternal(rec, result, answer, vocab)
	}

	result.Labels = o.classifier.Labels(rec, effectiveCategory(rec, result))

	o.logger.Debug("Classified record",
		"record_id", rec.ID,
		"category", result.CategoryName(),
		"confidence", result.Confidence,
		"source", result.Source,
		"decision", result.Decision,
		"labels", result.Labels)

	return result
}

// fromExternal fills an unmatched result from the external classifier's answer.
func (o *Orchestrator) fromExternal(rec model.Record, result model.ClassificationResult, answer *externalAnswer, vocab vocabulary) model.ClassificationResult {
	result.Decision = model.DecisionSkip
	if o.external == nil {
		return result
	}
	if answer == nil {
		result.Annotate(&common.ExternalAdapterError{
			Operation: "classify",
			RecordID:  rec.ID,
			Err:       errors.New("no response"),
		})
		return result
	}

	result.ExternalUsed = true
	if answer.err != nil {
		o.logger.Warn("External classification failed", "record_id", rec.ID, "error", answer.err)
		result.Annotate(answer.err)
		return result
	}

	resp := answer.resp
	result.Source = model.SourceExternal
	result.Confidence = model.ClampConfidence(resp.Confidence)
	result.Reasoning = resp.Reasoning
	return o.acceptCategory(result, resp.Category, vocab)
}

// acceptCategory sets an externally proposed category. A category outside the
// vocabulary is never trusted and forces SKIP.
func (o *Orchestrator) acceptCategory(result model.ClassificationResult, proposed string, vocab vocabulary) model.ClassificationResult {
	canonical, ok := vocab.lookup(proposed)
	if !ok {
		result.Category = nil
		result.Decision = model.DecisionSkip
		result.Annotate(&common.InvalidCategoryError{Category: proposed})
		o.logger.Warn("External classifier proposed unknown category",
			"record_id", result.RecordID,
			"category", proposed)
		return result
	}

	result.Category = &canonical
	result.Decision = o.thresholds.Decide(result.Confidence)
	return result
}

// validate asks the external classifier to confirm a borderline rule match.
func (o *Orchestrator) validate(ctx context.Context, rec model.Record, result model.ClassificationResult, vocab vocabulary) model.ClassificationResult {
	resp, err := o.external.Validate(ctx, model.ValidateRequest{
		Record:            rec,
		SuggestedCategory: result.CategoryName(),
		Vocabulary:        vocab.names,
		RuleConfidence:    result.Confidence,
	})
	if err != nil {
		o.logger.Warn("External validation failed", "record_id", rec.ID, "error", err)
		result.Annotate(&common.ExternalAdapterError{Operation: "validate", RecordID: rec.ID, Err: err})
		return result
	}

	result.ExternalUsed = true
	result.Reasoning = resp.Reasoning

	if resp.Verdict != model.VerdictReject {
		return result
	}

	if resp.AlternativeCategory == nil || strings.TrimSpace(*resp.AlternativeCategory) == "" {
		result.Category = nil
		result.Confidence = 0
		result.Source = model.SourceNone
		result.RuleName = ""
		result.Decision = model.DecisionSkip
		return result
	}

	result.Source = model.SourceExternal
	result.RuleName = ""
	if resp.Confidence != nil {
		result.Confidence = model.ClampConfidence(*resp.Confidence)
	}
	return o.acceptCategory(result, *resp.AlternativeCategory, vocab)
}

// vocabulary resolves categories case-insensitively to their canonical names.
type vocabulary struct {
	index map[string]string
	names []string
}

func newVocabulary(names []string) vocabulary {
	v := vocabulary{index: make(map[string]string, len(names)), names: names}
	for _, n := range names {
		v.index[strings.ToLower(strings.TrimSpace(n))] = n
	}
	return v
}

func (v vocabulary) lookup(category string) (string, bool) {
	key := strings.ToLower(strings.TrimSpace(category))
	if key == "" {
		return "", false
	}
	canonical, ok := v.index[key]
	return canonical, ok
}
