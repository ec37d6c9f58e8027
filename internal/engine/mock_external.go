package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/Veraticus/ruleflow/internal/model"
)

// ErrNotScripted is returned by MockExternal for payees it has no answer for.
var ErrNotScripted = errors.New("mock: no response scripted")

// MockExternal is a deterministic ExternalClassifier for tests. Responses are
// keyed by upper-cased payee.
type MockExternal struct {
	classify      map[string]model.ClassifyResponse
	validate      map[string]model.ValidateResponse
	failures      map[string]error
	classifyCalls []string
	validateCalls []string
	mu            sync.Mutex
}

// NewMockExternal creates an empty mock.
func NewMockExternal() *MockExternal {
	return &MockExternal{
		classify: make(map[string]model.ClassifyResponse),
		validate: make(map[string]model.ValidateResponse),
		failures: make(map[string]error),
	}
}

func payeeKey(payee string) string {
	return strings.ToUpper(strings.TrimSpace(payee))
}

// OnClassify scripts the Classify answer for payee.
func (m *MockExternal) OnClassify(payee, category string, confidence int) *MockExternal {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.classify[payeeKey(payee)] = model.ClassifyResponse{
		Category:   category,
		Confidence: confidence,
		Reasoning:  fmt.Sprintf("mock classified %s", payee),
	}
	return m
}

// OnValidate scripts the Validate answer for payee.
func (m *MockExternal) OnValidate(payee string, resp model.ValidateResponse) *MockExternal {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.validate[payeeKey(payee)] = resp
	return m
}

// FailFor makes every call about payee return err.
func (m *MockExternal) FailFor(payee string, err error) *MockExternal {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[payeeKey(payee)] = err
	return m
}

// Classify returns the scripted answer for the record's payee.
func (m *MockExternal) Classify(ctx context.Context, req model.ClassifyRequest) (model.ClassifyResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.classifyCalls = append(m.classifyCalls, req.Record.ID)

	if err := ctx.Err(); err != nil {
		return model.ClassifyResponse{}, err
	}
	key := payeeKey(req.Record.Payee)
	if err, ok := m.failures[key]; ok {
		return model.ClassifyResponse{}, err
	}
	resp, ok := m.classify[key]
	if !ok {
		return model.ClassifyResponse{}, fmt.Errorf("%w for payee %q", ErrNotScripted, req.Record.Payee)
	}
	resp.RecordID = req.Record.ID
	return resp, nil
}

// Validate returns the scripted verdict, or CONFIRM when none is scripted.
func (m *MockExternal) Validate(ctx context.Context, req model.ValidateRequest) (model.ValidateResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.validateCalls = append(m.validateCalls, req.Record.ID)

	if err := ctx.Err(); err != nil {
		return model.ValidateResponse{}, err
	}
	key := payeeKey(req.Record.Payee)
	if err, ok := m.failures[key]; ok {
		return model.ValidateResponse{}, err
	}
	if resp, ok := m.validate[key]; ok {
		return resp, nil
	}
	return model.ValidateResponse{Verdict: model.VerdictConfirm, Reasoning: "mock confirmed"}, nil
}

// ClassifyCalls returns the record IDs passed to Classify, in call order.
func (m *MockExternal) ClassifyCalls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.classifyCalls...)
}

// ValidateCalls returns the record IDs passed to Validate, in call order.
func (m *MockExternal) ValidateCalls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.validateCalls...)
}

// MockBatchExternal adds ClassifyBatch to MockExternal.
type MockBatchExternal struct {
	*MockExternal
	BatchErr   error               // Returned by every ClassifyBatch call when set
	Omit       map[string]bool     // Record IDs left out of batch replies
	batchSizes []int
	batchMu    sync.Mutex
}

// NewMockBatchExternal wraps a new MockExternal.
func NewMockBatchExternal() *MockBatchExternal {
	return &MockBatchExternal{MockExternal: NewMockExternal(), Omit: make(map[string]bool)}
}

// ClassifyBatch answers each request as Classify would. Unscripted payees are
// left out of the reply.
func (m *MockBatchExternal) ClassifyBatch(ctx context.Context, reqs []model.ClassifyRequest) ([]model.ClassifyResponse, error) {
	m.batchMu.Lock()
	m.batchSizes = append(m.batchSizes, len(reqs))
	batchErr := m.BatchErr
	m.batchMu.Unlock()

	if batchErr != nil {
		return nil, batchErr
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]model.ClassifyResponse, 0, len(reqs))
	for _, req := range reqs {
		if m.Omit[req.Record.ID] {
			continue
		}
		resp, ok := m.classify[payeeKey(req.Record.Payee)]
		if !ok {
			continue
		}
		resp.RecordID = req.Record.ID
		out = append(out, resp)
	}
	return out, nil
}

// BatchSizes returns the size of every ClassifyBatch call.
func (m *MockBatchExternal) BatchSizes() []int {
	m.batchMu.Lock()
	defer m.batchMu.Unlock()
	return append([]int(nil), m.batchSizes...)
}
