// Package llmx implements the Cached LLM Oracle: a thread-safe LRU+TTL
// memoizing wrapper around an LLM request/response transport, caching only
// deterministic (temperature=0) calls.
package llmx

import "context"

// Message is a single role/content turn sent to the oracle.
type Message struct {
	Role    string
	Content string
}

// Request is the oracle's create() call shape from spec.md §4.1.
type Request struct {
	Model           string
	Messages        []Message
	Temperature     float64
	MaxOutputTokens int
	ReasoningEffort string
}

// Usage reports token accounting for a single oracle call.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Response is the oracle's create() result shape.
type Response struct {
	Content  string
	Usage    Usage
	Metadata map[string]any
}

// Backend is the underlying transport the oracle memoizes. Concrete
// implementations wrap a specific LLM provider SDK.
type Backend interface {
	Create(ctx context.Context, req Request) (Response, error)
}
