package provider

import (
	"context"

	"docbot/internal/domain"
)

const extractiveHeader = "Based on our knowledge base:\n\n"

// Extractive answers without an LLM by streaming the retrieved snippets
// verbatim. It never fails, which makes it the usual end of a failover chain.
type Extractive struct{}

func NewExtractive() *Extractive { return &Extractive{} }

func (e *Extractive) Name() string { return "extractive" }

func (e *Extractive) Healthy(ctx context.Context) error { return nil }

func (e *Extractive) Generate(ctx context.Context, req domain.GenerateRequest, out chan<- domain.StreamEvent) error {
	defer close(out)

	if err := emit(ctx, out, domain.StreamEvent{Type: domain.StreamToken, Content: extractiveHeader}); err != nil {
		return err
	}
	for i, r := range req.Results {
		text := r.Text
		if i > 0 {
			text = "\n\n" + text
		}
		if err := emit(ctx, out, domain.StreamEvent{Type: domain.StreamToken, Content: text}); err != nil {
			return err
		}
	}
	return emit(ctx, out, domain.StreamEvent{Type: domain.StreamDone})
}
