package engine

import (
	"context"

	"github.com/Veraticus/ruleflow/internal/model"
)

// ExternalClassifier is the port to an out-of-process classifier.
type ExternalClassifier interface {
	Classify(ctx context.Context, req model.ClassifyRequest) (model.ClassifyResponse, error)
	Validate(ctx context.Context, req model.ValidateRequest) (model.ValidateResponse, error)
}

// BatchClassifier is implemented by external classifiers that can answer
// several Classify requests in one call. Responses are matched by record ID.
type BatchClassifier interface {
	ClassifyBatch(ctx context.Context, reqs []model.ClassifyRequest) ([]model.ClassifyResponse, error)
}

// Observer is notified as each record is finalized. Implementations must be
// safe for concurrent use when the batch runs on a worker pool.
type Observer interface {
	RecordClassified(result model.ClassificationResult)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(result model.ClassificationResult)

// RecordClassified calls f(result).
func (f ObserverFunc) RecordClassified(result model.ClassificationResult) {
	f(result)
}
