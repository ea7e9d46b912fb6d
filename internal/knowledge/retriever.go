package knowledge

import (
	"context"
	"fmt"
	"log/slog"

	"docbot/internal/domain"
)

// Retriever resolves a query to scored chunks of the current generation.
type Retriever struct {
	store    *CorpusStore
	embedder domain.Embedder
	logger   *slog.Logger
}

func NewRetriever(store *CorpusStore, embedder domain.Embedder, logger *slog.Logger) *Retriever {
	if logger == nil {
		logger = slog.Default()
	}
	return &Retriever{store: store, embedder: embedder, logger: logger}
}

// Retrieve embeds the query and returns up to k results ordered best-first.
// It fails with ErrIndexNotReady before the first build and returns an empty
// slice for an empty corpus.
func (r *Retriever) Retrieve(ctx context.Context, query string, k int) ([]domain.RetrievalResult, error) {
	if k < 1 {
		return nil, fmt.Errorf("retrieve: k must be >= 1, got %d", k)
	}
	// One generation for the whole query.
	gen := r.store.Current()
	if gen == nil {
		return nil, domain.ErrIndexNotReady
	}
	if gen.Len() == 0 {
		return []domain.RetrievalResult{}, nil
	}

	vecs, err := r.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrEmbedding, err)
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("%w: embedder returned %d vectors for 1 query", domain.ErrEmbedding, len(vecs))
	}

	idx := gen.Index()
	hits, err := idx.Search(vecs[0], k)
	if err != nil {
		return nil, fmt.Errorf("search generation %d: %w", gen.ID, err)
	}

	results := make([]domain.RetrievalResult, 0, len(hits))
	for _, h := range hits {
		chunk, err := gen.Get(h.ID)
		if err != nil {
			r.logger.Error("index returned id outside generation", "generation", gen.ID, "id", h.ID)
			return nil, err
		}
		results = append(results, domain.RetrievalResult{
			ChunkID: chunk.ID,
			Score:   idx.Metric().Similarity(h.Score),
			Text:    chunk.Text,
			Source:  chunk.Source,
		})
	}
	return results, nil
}
