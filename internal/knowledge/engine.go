// Package knowledge provides the retrieval engine: chunking, generation
// publishing, semantic retrieval and fuzzy fallback search.
package knowledge

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"docbot/internal/domain"
	"docbot/internal/vector"
)

// Scanner produces the raw documents of one ingest run. Per-document
// failures are reported as skipped entries, not errors.
type Scanner interface {
	Scan(ctx context.Context) ([]domain.Document, []domain.SkippedDocument, error)
}

// IngestReport summarizes one rebuild.
type IngestReport struct {
	Status     string                   `json:"status"`
	Generation uint64                   `json:"generation"`
	Documents  int                      `json:"documents"`
	Chunks     int                      `json:"chunks"`
	Sources    int                      `json:"sources"`
	DataDir    string                   `json:"data_dir,omitempty"`
	Skipped    []domain.SkippedDocument `json:"skipped,omitempty"`
	Duration   time.Duration            `json:"-"`
	DurationMs int64                    `json:"duration_ms"`
}

// Engine orchestrates ingest and serves read operations over the current generation.
type Engine struct {
	store     *CorpusStore
	scanner   Scanner
	chunker   *Chunker
	embedder  domain.Embedder
	metric    vector.Metric
	batchSize int
	dataDir   string
	retriever *Retriever
	logger    *slog.Logger

	group   singleflight.Group
	hooksMu sync.RWMutex
	hooks   []func(*IngestReport)
}

type EngineConfig struct {
	Store     *CorpusStore // default: new empty store
	Scanner   Scanner
	Chunker   *Chunker // default: sentence 500/100
	Embedder  domain.Embedder
	Metric    vector.Metric // default: l2
	BatchSize int           // texts per embed call (default: 32)
	DataDir   string        // reported only
	Logger    *slog.Logger
}

func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.Embedder == nil {
		return nil, fmt.Errorf("knowledge engine: embedder is required")
	}
	if cfg.Store == nil {
		cfg.Store = NewCorpusStore()
	}
	if cfg.Chunker == nil {
		c, err := NewChunker(ChunkerConfig{})
		if err != nil {
			return nil, err
		}
		cfg.Chunker = c
	}
	if cfg.Metric == "" {
		cfg.Metric = vector.L2
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 32
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Engine{
		store:     cfg.Store,
		scanner:   cfg.Scanner,
		chunker:   cfg.Chunker,
		embedder:  cfg.Embedder,
		metric:    cfg.Metric,
		batchSize: cfg.BatchSize,
		dataDir:   cfg.DataDir,
		retriever: NewRetriever(cfg.Store, cfg.Embedder, cfg.Logger),
		logger:    cfg.Logger,
	}, nil
}

// OnRebuild registers a hook that runs after each successful rebuild.
func (e *Engine) OnRebuild(fn func(*IngestReport)) {
	e.hooksMu.Lock()
	defer e.hooksMu.Unlock()
	e.hooks = append(e.hooks, fn)
}

// Ingest scans the configured source and publishes a new generation.
// Concurrent calls share one rebuild. The rebuild is not cancelled when a
// single caller goes away.
func (e *Engine) Ingest(ctx context.Context) (*IngestReport, error) {
	if e.scanner == nil {
		return nil, fmt.Errorf("ingest: no document source configured")
	}
	v, err, shared := e.group.Do("ingest", func() (any, error) {
		ctx := context.WithoutCancel(ctx)
		start := time.Now()

		docs, skipped, err := e.scanner.Scan(ctx)
		if err != nil {
			return nil, fmt.Errorf("scan documents: %w", err)
		}
		report, err := e.build(ctx, docs, start)
		if err != nil {
			return nil, err
		}
		report.Skipped = skipped
		e.finish(report)
		return report, nil
	})
	if err != nil {
		return nil, err
	}
	if shared {
		e.logger.Debug("ingest shared with concurrent caller")
	}
	return v.(*IngestReport), nil
}

// Rebuild publishes a generation built from docs directly, bypassing the scanner.
func (e *Engine) Rebuild(ctx context.Context, docs []domain.Document) (*IngestReport, error) {
	report, err := e.build(ctx, docs, time.Now())
	if err != nil {
		return nil, err
	}
	e.finish(report)
	return report, nil
}

func (e *Engine) build(ctx context.Context, docs []domain.Document, start time.Time) (*IngestReport, error) {
	var (
		chunks []domain.Chunk
		texts  []string
		raw    = make([]string, 0, len(docs))
	)
	for _, d := range docs {
		raw = append(raw, d.Text)
		for _, text := range e.chunker.Chunk(d.Text) {
			chunks = append(chunks, domain.Chunk{ID: len(chunks), Source: d.Source, Text: text})
			texts = append(texts, text)
		}
	}
	if len(docs) == 0 {
		e.logger.Warn("no documents loaded", "data_dir", e.dataDir)
	}

	vectors, err := e.embedAll(ctx, texts)
	if err != nil {
		return nil, err
	}

	gen, err := e.store.Rebuild(chunks, vectors, e.metric, WithTopics(ExtractTopics(raw, 0)))
	if err != nil {
		return nil, err
	}

	elapsed := time.Since(start)
	e.logger.Info("index built",
		"generation", gen.ID,
		"documents", len(docs),
		"chunks", gen.Len(),
		"sources", len(gen.Sources()),
		"metric", e.metric,
		"duration", elapsed,
	)
	return &IngestReport{
		Status:     "indexed",
		Generation: gen.ID,
		Documents:  len(docs),
		Chunks:     gen.Len(),
		Sources:    len(gen.Sources()),
		DataDir:    e.dataDir,
		Duration:   elapsed,
		DurationMs: elapsed.Milliseconds(),
	}, nil
}

func (e *Engine) embedAll(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, 0, len(texts))
	for i := 0; i < len(texts); i += e.batchSize {
		end := min(i+e.batchSize, len(texts))
		batch, err := e.embedder.Embed(ctx, texts[i:end])
		if err != nil {
			return nil, fmt.Errorf("%w: batch %d-%d: %w", domain.ErrEmbedding, i, end, err)
		}
		if len(batch) != end-i {
			return nil, fmt.Errorf("%w: embedder returned %d vectors for %d texts", domain.ErrEmbedding, len(batch), end-i)
		}
		if len(vectors) > 0 && len(batch[0]) != len(vectors[0]) {
			return nil, fmt.Errorf("batch %d-%d has %d dimensions, want %d: %w",
				i, end, len(batch[0]), len(vectors[0]), domain.ErrDimensionMismatch)
		}
		vectors = append(vectors, batch...)
	}
	return vectors, nil
}

func (e *Engine) finish(report *IngestReport) {
	e.hooksMu.RLock()
	hooks := e.hooks
	e.hooksMu.RUnlock()
	for _, fn := range hooks {
		fn(report)
	}
}

// Retrieve runs semantic retrieval against the current generation.
func (e *Engine) Retrieve(ctx context.Context, query string, k int) ([]domain.RetrievalResult, error) {
	return e.retriever.Retrieve(ctx, query, k)
}

// FuzzySearch runs approximate keyword search over the current generation.
func (e *Engine) FuzzySearch(query string, limit int) ([]domain.RetrievalResult, error) {
	return FuzzySearch(e.store.All(), query, limit)
}

// Topics returns the menu topics of the current generation.
func (e *Engine) Topics(limit int) ([]string, error) {
	gen := e.store.Current()
	if gen == nil || gen.Len() == 0 {
		return nil, domain.ErrNoCorpus
	}
	topics := gen.Topics()
	if limit > 0 && len(topics) > limit {
		topics = topics[:limit]
	}
	return topics, nil
}

func (e *Engine) Status() domain.CorpusStatus { return e.store.Status() }
func (e *Engine) Store() *CorpusStore         { return e.store }
func (e *Engine) Retriever() *Retriever       { return e.retriever }
