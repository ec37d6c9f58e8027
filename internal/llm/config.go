package llm

import "time"

// Config holds configuration for the LLM adapter.
type Config struct {
	Provider    string
	APIKey      string
	Model       string
	BaseURL     string // Overrides the provider endpoint, mostly for tests and proxies
	MaxRetries  int
	RetryDelay  time.Duration
	CacheTTL    time.Duration
	RateLimit   int // Requests per minute
	Temperature float64
	MaxTokens   int
	BatchSize   int // Records per batch prompt
}
