// Package llm provides the external classifier backed by hosted language models.
// It supports OpenAI and Anthropic, with retry logic, rate limiting, response
// caching and multi-record batching.
package llm
