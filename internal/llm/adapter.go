package llm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Veraticus/ruleflow/internal/common"
	"github.com/Veraticus/ruleflow/internal/model"
)

// Adapter implements the engine's external classifier port on top of a
// provider Client.
type Adapter struct {
	client      Client
	cache       *responseCache
	logger      *slog.Logger
	rateLimiter *rateLimiter
	retryOpts   common.RetryOptions
	batchSize   int
}

// NewAdapter builds a provider client from cfg and wraps it.
func NewAdapter(cfg Config, logger *slog.Logger) (*Adapter, error) {
	client, err := NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create LLM client: %w", err)
	}
	return NewAdapterWithClient(client, cfg, logger), nil
}

// NewAdapterWithClient wraps an existing client.
func NewAdapterWithClient(client Client, cfg Config, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}

	retryOpts := common.RetryOptions{
		MaxAttempts:  cfg.MaxRetries,
		InitialDelay: cfg.RetryDelay,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
	}
	if retryOpts.MaxAttempts == 0 {
		retryOpts.MaxAttempts = 3
	}
	if retryOpts.InitialDelay == 0 {
		retryOpts.InitialDelay = time.Second
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 10
	}

	return &Adapter{
		client:      client,
		cache:       newResponseCache(cfg.CacheTTL),
		logger:      logger,
		retryOpts:   retryOpts,
		rateLimiter: newRateLimiter(cfg.RateLimit),
		batchSize:   batchSize,
	}
}

// Close releases background resources.
func (a *Adapter) Close() {
	a.cache.close()
}

// complete sends one prompt through the rate limiter and retry loop, then
// parses the reply with parse. Parse failures are retried as well, since a
// second sample usually yields valid JSON.
func (a *Adapter) complete(ctx context.Context, req CompletionRequest, parse func(string) error) error {
	return common.WithRetry(ctx, func() error {
		if err := a.rateLimiter.wait(ctx); err != nil {
			return permanent(err)
		}

		content, err := a.client.Complete(ctx, req)
		if err != nil {
			return err
		}
		if err := parse(content); err != nil {
			a.logger.Debug("unparseable classifier reply", "error", err, "content", truncate(content, 200))
			return err
		}
		return nil
	}, a.retryOpts)
}

// Classify asks the model for one category from the vocabulary.
func (a *Adapter) Classify(ctx context.Context, req model.ClassifyRequest) (model.ClassifyResponse, error) {
	key := cacheKey(req)
	if resp, ok := a.cache.get(key); ok {
		a.logger.Debug("cache hit for record", "record_id", req.Record.ID, "payee", req.Record.Payee)
		resp.RecordID = req.Record.ID
		return resp, nil
	}

	var resp model.ClassifyResponse
	err := a.complete(ctx, CompletionRequest{System: classifySystem, Prompt: buildClassifyPrompt(req)}, func(content string) error {
		var perr error
		resp, perr = parseClassify(content)
		return perr
	})
	if err != nil {
		return model.ClassifyResponse{}, fmt.Errorf("classify %s: %w", req.Record.ID, err)
	}

	resp.RecordID = req.Record.ID
	a.cache.set(key, resp)

	a.logger.Debug("record classified",
		"record_id", req.Record.ID,
		"payee", req.Record.Payee,
		"category", resp.Category,
		"confidence", resp.Confidence)
	return resp, nil
}

// Validate asks the model to confirm or reject a borderline rule match.
func (a *Adapter) Validate(ctx context.Context, req model.ValidateRequest) (model.ValidateResponse, error) {
	var resp model.ValidateResponse
	err := a.complete(ctx, CompletionRequest{System: validateSystem, Prompt: buildValidatePrompt(req)}, func(content string) error {
		var perr error
		resp, perr = parseValidate(content)
		return perr
	})
	if err != nil {
		return model.ValidateResponse{}, fmt.Errorf("validate %s: %w", req.Record.ID, err)
	}

	a.logger.Debug("rule match validated",
		"record_id", req.Record.ID,
		"suggested", req.SuggestedCategory,
		"verdict", resp.Verdict)
	return resp, nil
}

// ClassifyBatch classifies several records with as few calls as possible.
// Cached records are answered locally; the rest are sent in chunks of the
// configured batch size. Records the model skipped are absent from the reply.
func (a *Adapter) ClassifyBatch(ctx context.Context, reqs []model.ClassifyRequest) ([]model.ClassifyResponse, error) {
	out := make([]model.ClassifyResponse, 0, len(reqs))
	pending := make([]model.ClassifyRequest, 0, len(reqs))
	keys := make(map[string]string, len(reqs))

	for _, req := range reqs {
		key := cacheKey(req)
		if resp, ok := a.cache.get(key); ok {
			resp.RecordID = req.Record.ID
			out = append(out, resp)
			continue
		}
		keys[req.Record.ID] = key
		pending = append(pending, req)
	}

	for start := 0; start < len(pending); start += a.batchSize {
		chunk := pending[start:min(start+a.batchSize, len(pending))]

		var answers []model.ClassifyResponse
		req := CompletionRequest{
			System:    classifySystem,
			Prompt:    buildBatchPrompt(chunk),
			MaxTokens: 120 * len(chunk),
		}
		err := a.complete(ctx, req, func(content string) error {
			var perr error
			answers, perr = parseBatch(content)
			return perr
		})
		if err != nil {
			return nil, fmt.Errorf("classify batch of %d: %w", len(chunk), err)
		}

		for _, resp := range answers {
			key, ok := keys[resp.RecordID]
			if !ok {
				continue
			}
			a.cache.set(key, resp)
			out = append(out, resp)
		}

		a.logger.Debug("batch classified", "requested", len(chunk), "answered", len(answers))
	}

	return out, nil
}

// cacheKey combines the record fingerprint with the vocabulary so a changed
// category list never serves a stale answer.
func cacheKey(req model.ClassifyRequest) string {
	h := sha256.New()
	h.Write([]byte(strings.Join(req.Vocabulary, "\x1f")))
	h.Write([]byte{0})
	h.Write([]byte(req.Mode))
	return req.Record.Fingerprint() + ":" + hex.EncodeToString(h.Sum(nil))[:16]
}
