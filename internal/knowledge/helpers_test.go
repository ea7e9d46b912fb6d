package knowledge

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"

	"docbot/internal/domain"
	"docbot/internal/textutil"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// termEmbedder counts vocabulary terms, giving deterministic bag-of-words vectors.
type termEmbedder struct {
	vocab []string
	fail  error

	mu    sync.Mutex
	calls int
}

func newTermEmbedder(vocab ...string) *termEmbedder {
	return &termEmbedder{vocab: vocab}
}

func (e *termEmbedder) Name() string { return "terms" }

func (e *termEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()
	if e.fail != nil {
		return nil, e.fail
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v := make([]float32, len(e.vocab))
		for _, term := range textutil.Terms(t) {
			for j, w := range e.vocab {
				if w == term {
					v[j]++
				}
			}
		}
		out[i] = v
	}
	return out, nil
}

func (e *termEmbedder) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

type staticScanner struct {
	docs    []domain.Document
	skipped []domain.SkippedDocument
	err     error
}

func (s *staticScanner) Scan(context.Context) ([]domain.Document, []domain.SkippedDocument, error) {
	return s.docs, s.skipped, s.err
}

var errBoom = errors.New("boom")
