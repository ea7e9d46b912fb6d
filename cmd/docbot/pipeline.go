package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"docbot/internal/answer"
	"docbot/internal/browser"
	"docbot/internal/cache"
	"docbot/internal/config"
	"docbot/internal/domain"
	"docbot/internal/knowledge"
	"docbot/internal/loader"
	"docbot/internal/memory"
	"docbot/internal/metrics"
	"docbot/internal/provider"
	"docbot/internal/vector"
	"docbot/internal/watch"
)

// ledger is what the pipeline persists conversations and feedback into.
type ledger interface {
	domain.HistoryLedger
	domain.FeedbackLedger
}

// pipeline holds every component a command may need, built from one config.
type pipeline struct {
	cfg       *config.Config
	engine    *knowledge.Engine
	assembler *answer.Assembler
	cache     *cache.Cache
	ledger    ledger
	store     *memory.SQLiteStore // nil when memory is disabled

	compact func(ctx context.Context, now time.Time) (int64, error) // drops expired cache entries
}

type pipelineOptions struct {
	// ingest publishes the first generation before returning. Failures are
	// logged and leave the pipeline not ready unless requireCorpus is set.
	ingest        bool
	requireCorpus bool
}

func buildPipeline(ctx context.Context, cfg *config.Config, opts pipelineOptions) (*pipeline, error) {
	p := &pipeline{cfg: cfg}

	if cfg.Memory.Enabled {
		store, err := memory.NewSQLiteStore(cfg.Memory.DBPath, memory.Options{MaxHistory: cfg.Memory.MaxHistory, Logger: logger})
		if err != nil {
			return nil, fmt.Errorf("memory store: %w", err)
		}
		p.store = store
		p.ledger = store
	} else {
		p.ledger = memory.NewLedger()
	}

	if cfg.Cache.Enabled {
		p.cache = cache.New(cache.Config{
			Backend: p.cacheBackend(),
			TTL:     time.Duration(cfg.Cache.TTLSeconds) * time.Second,
			Logger:  logger,
		})
	}

	factory := provider.NewFactory(cfg, logger)
	embedder, err := factory.Embedder()
	if err != nil {
		p.Close()
		return nil, fmt.Errorf("embedder: %w", err)
	}
	generator, err := factory.Generator()
	if err != nil {
		p.Close()
		return nil, fmt.Errorf("generator: %w", err)
	}

	chunker, err := knowledge.NewChunker(knowledge.ChunkerConfig{
		Mode:    knowledge.ChunkMode(cfg.Knowledge.ChunkMode),
		Size:    cfg.Knowledge.ChunkSize,
		Overlap: cfg.Knowledge.ChunkOverlap,
		Policy:  knowledge.OverlapPolicy(cfg.Knowledge.OverlapPolicy),
	})
	if err != nil {
		p.Close()
		return nil, err
	}
	metric, err := vector.ParseMetric(cfg.Knowledge.Metric)
	if err != nil {
		p.Close()
		return nil, err
	}

	bridge := browser.NewBridge(browser.BridgeConfig{
		ProfileDir: filepath.Join(config.DefaultConfigDir(), "chrome"),
		Logger:     logger,
	})
	scanner := loader.NewDirScanner(loader.ScannerConfig{
		Root:     cfg.General.DataDir,
		Registry: loader.Default(loader.Options{Renderer: bridge, Logger: logger}),
		Workers:  cfg.Knowledge.LoadWorkers,
		Logger:   logger,
	})

	p.engine, err = knowledge.NewEngine(knowledge.EngineConfig{
		Scanner:   scanner,
		Chunker:   chunker,
		Embedder:  embedder,
		Metric:    metric,
		BatchSize: cfg.Knowledge.EmbedBatchSize,
		DataDir:   cfg.General.DataDir,
		Logger:    logger,
	})
	if err != nil {
		p.Close()
		return nil, err
	}
	p.engine.OnRebuild(p.afterRebuild)

	p.assembler, err = answer.New(answer.Config{
		Retriever:    p.engine,
		Generator:    generator,
		Cache:        p.cache,
		History:      p.ledger,
		SystemPrompt: cfg.Generator.SystemPrompt,
		Model:        cfg.Providers[cfg.Generator.Provider].DefaultModel,
		MaxTokens:    cfg.Generator.MaxTokens,
		Temperature:  cfg.Generator.Temperature,
		DefaultK:     cfg.Knowledge.SearchTopK,
		SingleFlight: cfg.Generator.SingleFlight,
		Logger:       logger,
	})
	if err != nil {
		p.Close()
		return nil, err
	}

	if opts.ingest {
		if _, err := p.ingest(ctx); err != nil {
			if opts.requireCorpus {
				p.Close()
				return nil, err
			}
			logger.Warn("initial ingest failed, answers are unavailable until the next rebuild", "data_dir", cfg.General.DataDir, "err", err)
		}
	}
	return p, nil
}

func (p *pipeline) cacheBackend() cache.Backend {
	if p.cfg.Cache.Backend == "sqlite" {
		if p.store != nil {
			p.compact = p.store.CompactCache
			return p.store.Cache()
		}
		logger.Warn("sqlite cache needs memory.enabled, using in-memory cache")
	}
	mem := cache.NewMemoryBackend()
	p.compact = func(_ context.Context, now time.Time) (int64, error) {
		return int64(mem.Compact(now)), nil
	}
	return mem
}

// compactCache drops expired cache entries every interval until ctx ends.
// Lookups already ignore expired entries; this only bounds storage.
func (p *pipeline) compactCache(ctx context.Context, interval time.Duration) error {
	if p.compact == nil {
		return nil
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			n, err := p.compact(ctx, now)
			if err != nil {
				logger.Warn("cache compaction failed", "err", err)
				continue
			}
			if n > 0 {
				logger.Debug("cache compacted", "removed", n)
			}
		}
	}
}

func (p *pipeline) ingest(ctx context.Context) (*knowledge.IngestReport, error) {
	report, err := p.engine.Ingest(ctx)
	if err != nil {
		return nil, err
	}
	for _, s := range report.Skipped {
		logger.Info("skipped document", "source", s.Source, "reason", s.Reason)
	}
	return report, nil
}

// afterRebuild runs once per published generation. Answers cached against
// the old corpus are dropped.
func (p *pipeline) afterRebuild(r *knowledge.IngestReport) {
	p.cache.Purge(context.Background())
	metrics.IngestTotal.Inc()
	metrics.Chunks.Set(int64(r.Chunks))
	metrics.Sources.Set(int64(r.Sources))
	metrics.IngestDuration.Observe(r.Duration.Seconds())
	logger.Info("corpus published", "generation", r.Generation, "chunks", r.Chunks, "sources", r.Sources, "duration", r.Duration)
}

// watcher returns a data-dir watcher when watching is enabled.
func (p *pipeline) watcher() (*watch.Watcher, error) {
	if !p.cfg.Watch.Enabled {
		return nil, nil
	}
	return watch.New(watch.Config{
		Root:     p.cfg.General.DataDir,
		Debounce: time.Duration(p.cfg.Watch.DebounceMs) * time.Millisecond,
		OnChange: func(ctx context.Context) error {
			_, err := p.ingest(ctx)
			return err
		},
		Logger: logger,
	})
}

// summary is a one-line corpus description for interactive surfaces.
func (p *pipeline) summary() string {
	st := p.engine.Status()
	if !st.Ready {
		return "corpus not ready · " + p.cfg.General.DataDir
	}
	return fmt.Sprintf("%d chunks from %d sources · generation %d · %s", st.Chunks, st.Sources, st.Generation, p.assembler.GeneratorName())
}

// Close waits for background history writes, then releases the database.
func (p *pipeline) Close() error {
	var errs []error
	if p.assembler != nil {
		errs = append(errs, p.assembler.Close())
	}
	if p.store != nil {
		errs = append(errs, p.store.Close())
	}
	return errors.Join(errs...)
}
