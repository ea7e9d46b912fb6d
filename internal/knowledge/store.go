package knowledge

import (
	"fmt"
	"sync/atomic"
	"time"

	"docbot/internal/domain"
	"docbot/internal/vector"
)

// Generation is one immutable, consistent snapshot of the corpus and its
// vector index. Chunk i is embedded at index position i.
type Generation struct {
	ID      uint64
	BuiltAt time.Time

	chunks  []domain.Chunk
	index   *vector.Index
	sources []string
	topics  []string
}

// GenerationOption sets optional generation metadata at rebuild time.
type GenerationOption func(*Generation)

// WithTopics attaches the menu topics extracted from the source documents.
func WithTopics(topics []string) GenerationOption {
	return func(g *Generation) { g.topics = topics }
}

// Get returns the chunk with the given id.
func (g *Generation) Get(id int) (domain.Chunk, error) {
	if id < 0 || id >= len(g.chunks) {
		return domain.Chunk{}, fmt.Errorf("chunk %d in generation %d: %w", id, g.ID, domain.ErrNotFound)
	}
	return g.chunks[id], nil
}

// All returns every chunk in id order. The slice must not be modified.
func (g *Generation) All() []domain.Chunk { return g.chunks }

func (g *Generation) Len() int             { return len(g.chunks) }
func (g *Generation) Index() *vector.Index { return g.index }
func (g *Generation) Sources() []string    { return g.sources }
func (g *Generation) Topics() []string     { return g.topics }

// Status summarizes the generation.
func (g *Generation) Status() domain.CorpusStatus {
	return domain.CorpusStatus{
		Ready:      true,
		Generation: g.ID,
		Chunks:     len(g.chunks),
		Sources:    len(g.sources),
		Metric:     string(g.index.Metric()),
		Dimensions: g.index.Dim(),
		BuiltAt:    g.BuiltAt,
	}
}

// CorpusStore publishes generations by atomic pointer swap. Readers load the
// pointer once per operation and so observe either the old or the new
// generation in full.
type CorpusStore struct {
	current atomic.Pointer[Generation]
	seq     atomic.Uint64
}

func NewCorpusStore() *CorpusStore {
	return &CorpusStore{}
}

// Rebuild builds a fresh generation from chunks and their embeddings and
// publishes it. Chunk ids are reassigned densely in input order. On error the
// current generation stays in place.
func (s *CorpusStore) Rebuild(chunks []domain.Chunk, vectors [][]float32, metric vector.Metric, opts ...GenerationOption) (*Generation, error) {
	if len(chunks) != len(vectors) {
		return nil, fmt.Errorf("rebuild: %d chunks but %d embeddings", len(chunks), len(vectors))
	}
	idx, err := vector.Build(metric, vectors)
	if err != nil {
		return nil, fmt.Errorf("rebuild: %w", err)
	}

	owned := make([]domain.Chunk, len(chunks))
	seen := make(map[string]struct{})
	var sources []string
	for i, c := range chunks {
		c.ID = i
		owned[i] = c
		if _, ok := seen[c.Source]; !ok {
			seen[c.Source] = struct{}{}
			sources = append(sources, c.Source)
		}
	}

	gen := &Generation{
		ID:      s.seq.Add(1),
		BuiltAt: time.Now(),
		chunks:  owned,
		index:   idx,
		sources: sources,
	}
	for _, opt := range opts {
		opt(gen)
	}
	s.current.Store(gen)
	return gen, nil
}

// Current returns the published generation, or nil before the first build.
func (s *CorpusStore) Current() *Generation {
	return s.current.Load()
}

// Get resolves a chunk id against the current generation.
func (s *CorpusStore) Get(id int) (domain.Chunk, error) {
	gen := s.Current()
	if gen == nil {
		return domain.Chunk{}, domain.ErrIndexNotReady
	}
	return gen.Get(id)
}

// All returns the chunks of the current generation, or nil before the first build.
func (s *CorpusStore) All() []domain.Chunk {
	if gen := s.Current(); gen != nil {
		return gen.All()
	}
	return nil
}

// Status reports the current generation, with Ready=false before the first build.
func (s *CorpusStore) Status() domain.CorpusStatus {
	if gen := s.Current(); gen != nil {
		return gen.Status()
	}
	return domain.CorpusStatus{}
}
