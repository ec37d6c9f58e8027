package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/Veraticus/ruleflow/internal/common"
	"github.com/Veraticus/ruleflow/internal/model"
)

var errMalformed = errors.New("malformed classifier response")

// extractJSON removes markdown fences and any prose around the JSON object.
func extractJSON(content string) string {
	content = strings.TrimSpace(content)
	if strings.HasPrefix(content, "```") {
		if nl := strings.IndexByte(content, '\n'); nl >= 0 {
			content = content[nl+1:]
		}
		content = strings.TrimSuffix(strings.TrimSpace(content), "```")
	}

	start := strings.IndexByte(content, '{')
	end := strings.LastIndexByte(content, '}')
	if start >= 0 && end > start {
		return content[start : end+1]
	}
	return strings.TrimSpace(content)
}

// confidence accepts 0-100 integers, 0-1 decimal fractions and strings such
// as "85%".
type confidence struct {
	value *int
}

func (c *confidence) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	if raw == "null" {
		return nil
	}
	raw = strings.Trim(raw, `"`)
	percent := strings.HasSuffix(raw, "%")
	raw = strings.TrimSpace(strings.TrimSuffix(raw, "%"))
	fraction := !percent && strings.ContainsAny(raw, ".eE")

	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fmt.Errorf("confidence %q is not a number", string(data))
	}

	v := normalizeConfidence(f, fraction)
	c.value = &v
	return nil
}

// normalizeConfidence maps a reported score to an integer in [0,100]. Only a
// literal written with a fractional part, such as 0.85 or 1.0, is scaled; a
// bare integer is already a percentage.
func normalizeConfidence(f float64, fraction bool) int {
	if math.IsNaN(f) {
		return 0
	}
	if fraction && f > 0 && f <= 1 {
		f *= 100
	}
	return model.ClampConfidence(int(math.Round(f)))
}

func (c confidence) orZero() int {
	if c.value == nil {
		return 0
	}
	return *c.value
}

type classifyPayload struct {
	Category   string     `json:"category"`
	Reasoning  string     `json:"reasoning"`
	Confidence confidence `json:"confidence"`
}

func parseClassify(content string) (model.ClassifyResponse, error) {
	var p classifyPayload
	if err := json.Unmarshal([]byte(extractJSON(content)), &p); err != nil {
		return model.ClassifyResponse{}, fmt.Errorf("%w: %w", errMalformed, err)
	}
	if strings.TrimSpace(p.Category) == "" {
		return model.ClassifyResponse{}, fmt.Errorf("%w: no category", errMalformed)
	}
	return model.ClassifyResponse{
		Category:   strings.TrimSpace(p.Category),
		Confidence: p.Confidence.orZero(),
		Reasoning:  p.Reasoning,
	}, nil
}

type validatePayload struct {
	Alternative *string    `json:"alternative_category"`
	Verdict     string     `json:"verdict"`
	Reasoning   string     `json:"reasoning"`
	Confidence  confidence `json:"confidence"`
}

func parseValidate(content string) (model.ValidateResponse, error) {
	var p validatePayload
	if err := json.Unmarshal([]byte(extractJSON(content)), &p); err != nil {
		return model.ValidateResponse{}, fmt.Errorf("%w: %w", errMalformed, err)
	}

	resp := model.ValidateResponse{Reasoning: p.Reasoning, Confidence: p.Confidence.value}
	switch model.Verdict(strings.ToUpper(strings.TrimSpace(p.Verdict))) {
	case model.VerdictConfirm:
		resp.Verdict = model.VerdictConfirm
	case model.VerdictReject:
		resp.Verdict = model.VerdictReject
	default:
		return model.ValidateResponse{}, fmt.Errorf("%w: verdict %q", errMalformed, p.Verdict)
	}

	if p.Alternative != nil {
		alt := strings.TrimSpace(*p.Alternative)
		if alt != "" && !strings.EqualFold(alt, "null") {
			resp.AlternativeCategory = &alt
		}
	}
	return resp, nil
}

type batchPayload struct {
	Results []struct {
		ID string `json:"id"`
		classifyPayload
	} `json:"results"`
}

// parseBatch returns the answers present in a batch reply. Entries without an
// id or category are dropped, so the caller sees them as missing.
func parseBatch(content string) ([]model.ClassifyResponse, error) {
	var p batchPayload
	if err := json.Unmarshal([]byte(extractJSON(content)), &p); err != nil {
		return nil, fmt.Errorf("%w: %w", errMalformed, err)
	}

	out := make([]model.ClassifyResponse, 0, len(p.Results))
	for _, r := range p.Results {
		if r.ID == "" || strings.TrimSpace(r.Category) == "" {
			continue
		}
		out = append(out, model.ClassifyResponse{
			RecordID:   r.ID,
			Category:   strings.TrimSpace(r.Category),
			Confidence: r.Confidence.orZero(),
			Reasoning:  r.Reasoning,
		})
	}
	return out, nil
}

// permanent marks parse failures so the retry loop does not repeat them.
func permanent(err error) error {
	return &common.RetryableError{Err: err, Retryable: false}
}
