package learning

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/Veraticus/ruleflow/internal/model"
)

// DefaultCeiling caps the confidence of a learned rule.
const DefaultCeiling = 90

// maxExamples bounds the payees kept on a suggestion for review.
const maxExamples = 3

var errNoCategory = errors.New("result has no category to learn")

var slugPattern = regexp.MustCompile(`[^a-z0-9]+`)

func slug(s string) string {
	return strings.Trim(slugPattern.ReplaceAllString(strings.ToLower(s), "-"), "-")
}

// ShouldLearn reports whether a finalized result qualifies as a learning source.
func ShouldLearn(result model.ClassificationResult, threshold int) bool {
	return result.Source == model.SourceExternal &&
		result.Category != nil &&
		result.Err == nil &&
		result.Confidence >= threshold
}

// SuggestRule builds a candidate rule from an accepted external result.
// The rule's confidence never exceeds ceiling.
func SuggestRule(rec model.Record, result model.ClassificationResult, ceiling int) (model.LearnedRuleSuggestion, error) {
	if result.Category == nil || strings.TrimSpace(*result.Category) == "" {
		return model.LearnedRuleSuggestion{}, errNoCategory
	}
	token, err := ExtractMerchantToken(rec.Payee)
	if err != nil {
		return model.LearnedRuleSuggestion{}, err
	}

	if ceiling <= 0 || ceiling > 100 {
		ceiling = DefaultCeiling
	}
	confidence := model.ClampConfidence(result.Confidence)
	if confidence > ceiling {
		confidence = ceiling
	}

	category := *result.Category
	return model.LearnedRuleSuggestion{
		Token: token,
		Rule: model.CategoryRule{
			Name:       fmt.Sprintf("learned-%s-%s", slug(token), slug(category)),
			Patterns:   []string{token},
			Category:   category,
			Confidence: confidence,
		},
		Coverage:  1,
		Examples:  []string{rec.Payee},
		Status:    model.SuggestionPending,
		CreatedAt: time.Now(),
	}, nil
}

// Collector deduplicates suggestions by merchant token and category within a
// batch. It is safe for concurrent use.
type Collector struct {
	index       map[string]int
	suggestions []model.LearnedRuleSuggestion
	threshold   int
	ceiling     int
	mu          sync.Mutex
}

// NewCollector creates a collector that learns from results at or above
// threshold and caps rule confidence at ceiling.
func NewCollector(threshold, ceiling int) *Collector {
	return &Collector{
		index:     make(map[string]int),
		threshold: threshold,
		ceiling:   ceiling,
	}
}

// Observe considers one finalized result. It returns true when the result
// produced or reinforced a suggestion. Extraction failures are returned so the
// caller can log them; they never stop a batch.
func (c *Collector) Observe(rec model.Record, result model.ClassificationResult) (bool, error) {
	if !ShouldLearn(result, c.threshold) {
		return false, nil
	}

	s, err := SuggestRule(rec, result, c.ceiling)
	if err != nil {
		return false, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.add(s)
	return true, nil
}

func (c *Collector) add(s model.LearnedRuleSuggestion) {
	key := s.Key()
	if i, ok := c.index[key]; ok {
		existing := &c.suggestions[i]
		existing.Coverage += s.Coverage
		for _, ex := range s.Examples {
			if len(existing.Examples) >= maxExamples {
				break
			}
			if !contains(existing.Examples, ex) {
				existing.Examples = append(existing.Examples, ex)
			}
		}
		if s.Rule.Confidence > existing.Rule.Confidence {
			existing.Rule.Confidence = s.Rule.Confidence
		}
		return
	}

	c.index[key] = len(c.suggestions)
	c.suggestions = append(c.suggestions, s)
}

// Suggestions returns the deduplicated suggestions in first-seen order.
func (c *Collector) Suggestions() []model.LearnedRuleSuggestion {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]model.LearnedRuleSuggestion, len(c.suggestions))
	for i, s := range c.suggestions {
		s.Examples = append([]string(nil), s.Examples...)
		s.Rule.Patterns = append([]string(nil), s.Rule.Patterns...)
		out[i] = s
	}
	return out
}

// Merge deduplicates suggestion lists produced by separate collectors.
func Merge(lists ...[]model.LearnedRuleSuggestion) []model.LearnedRuleSuggestion {
	c := NewCollector(0, DefaultCeiling)
	for _, list := range lists {
		for _, s := range list {
			c.add(s)
		}
	}
	return c.Suggestions()
}

func contains(list []string, value string) bool {
	for _, v := range list {
		if v == value {
			return true
		}
	}
	return false
}
