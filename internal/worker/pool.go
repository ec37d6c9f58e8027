// Package worker runs a classification batch across parallel goroutines.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/Veraticus/ruleflow/internal/engine"
	"github.com/Veraticus/ruleflow/internal/model"
	"github.com/google/uuid"
)

// Runner is the part of the orchestrator the pool drives.
type Runner interface {
	RunBatch(ctx context.Context, batchID string, records []model.Record, vocabulary []string) (*engine.BatchSummary, error)
	Mode() model.Mode
}

// Pool splits a batch into chunks and classifies them concurrently.
type Pool struct {
	Workers   int
	ChunkSize int
}

// DefaultPool returns a pool with four workers and 25-record chunks.
func DefaultPool() Pool {
	return Pool{Workers: 4, ChunkSize: 25}
}

type chunk struct {
	records []model.Record
	index   int
}

type chunkResult struct {
	err     error
	summary *engine.BatchSummary
	index   int
}

// Run classifies records and merges the chunk summaries in input order.
// Results of chunks that finished before a cancellation are kept.
func (p Pool) Run(ctx context.Context, runner Runner, records []model.Record, vocabulary []string) (*engine.BatchSummary, error) {
	workers := p.Workers
	if workers <= 0 {
		workers = 1
	}
	size := p.ChunkSize
	if size <= 0 {
		size = 25
	}

	start := time.Now()
	batchID := uuid.NewString()

	chunks := make([]chunk, 0, (len(records)+size-1)/size)
	for i := 0; i < len(records); i += size {
		chunks = append(chunks, chunk{index: len(chunks), records: records[i:min(i+size, len(records))]})
	}

	slog.Info("Delegating batch to worker pool",
		"batch_id", batchID,
		"records", len(records),
		"chunks", len(chunks),
		"workers", workers)

	workChan := make(chan chunk, len(chunks))
	for _, c := range chunks {
		workChan <- c
	}
	close(workChan)

	resultsChan := make(chan chunkResult, len(chunks))

	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for c := range workChan {
				if ctx.Err() != nil {
					resultsChan <- chunkResult{index: c.index, err: ctx.Err()}
					continue
				}
				summary, err := runner.RunBatch(ctx, batchID, c.records, vocabulary)
				resultsChan <- chunkResult{index: c.index, summary: summary, err: err}
			}
		}()
	}

	go func() {
		wg.Wait()
		close(resultsChan)
	}()

	ordered := make([]chunkResult, len(chunks))
	for r := range resultsChan {
		ordered[r.index] = r
	}

	merged := &engine.BatchSummary{
		BatchID:   batchID,
		Mode:      runner.Mode(),
		StartedAt: start,
	}

	var errs []error
	for _, r := range ordered {
		merged.Merge(r.summary)
		if r.err != nil {
			errs = append(errs, r.err)
		}
	}
	merged.Duration = time.Since(start)

	if len(errs) > 0 {
		merged.Cancelled = true
		return merged, errors.Join(errs...)
	}
	return merged, nil
}
