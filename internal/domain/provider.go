package domain

import "context"

// Generator is the answer-generation boundary. Generate streams tokens into
// out and closes it (via defer) before returning. A non-nil error means the
// stream failed, possibly after some tokens were sent. Sends must respect
// ctx so a departed consumer cannot block the generator.
type Generator interface {
	Name() string
	Generate(ctx context.Context, req GenerateRequest, out chan<- StreamEvent) error
}

// HealthChecker is implemented by backends that can be probed.
type HealthChecker interface {
	Healthy(ctx context.Context) error
}

type GenerateRequest struct {
	System      string
	Prompt      string
	Query       string
	Results     []RetrievalResult // retrieval context, for generators that work without an LLM
	Model       string
	MaxTokens   int
	Temperature float64
}

// StreamEventType classifies a streaming event.
type StreamEventType string

const (
	StreamSnippets StreamEventType = "snippets"
	StreamToken    StreamEventType = "token"
	StreamDone     StreamEventType = "done"
	StreamError    StreamEventType = "error"
)

// StreamEvent represents a single streaming event from a generator.
type StreamEvent struct {
	Type    StreamEventType   `json:"type"`
	Content string            `json:"content,omitempty"`
	Results []RetrievalResult `json:"results,omitempty"` // set on snippets events
}
