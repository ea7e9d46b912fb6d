package provider

import (
	"fmt"
	"log/slog"
	"sync"

	"docbot/internal/config"
	"docbot/internal/domain"
)

// GeneratorConstructor creates a generator from a provider config entry.
type GeneratorConstructor func(pc config.ProviderConfig, logger *slog.Logger) domain.Generator

// Factory creates and caches generators and the embedder from config.
type Factory struct {
	cfg          *config.Config
	logger       *slog.Logger
	constructors map[string]GeneratorConstructor
	cache        map[string]domain.Generator
	mu           sync.RWMutex
}

// NewFactory creates a factory with the built-in constructors registered.
func NewFactory(cfg *config.Config, logger *slog.Logger) *Factory {
	if logger == nil {
		logger = slog.Default()
	}
	f := &Factory{
		cfg:          cfg,
		logger:       logger,
		constructors: make(map[string]GeneratorConstructor),
		cache:        make(map[string]domain.Generator),
	}
	f.registerDefaults()
	return f
}

// RegisterConstructor adds (or replaces) a generator constructor by name.
func (f *Factory) RegisterConstructor(name string, ctor GeneratorConstructor) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.constructors[name] = ctor
}

func (f *Factory) registerDefaults() {
	f.constructors["ollama"] = func(pc config.ProviderConfig, logger *slog.Logger) domain.Generator {
		return NewOllama(OllamaConfig{APIBase: pc.APIBase, DefaultModel: pc.DefaultModel, Logger: logger})
	}
	f.constructors["openai"] = func(pc config.ProviderConfig, logger *slog.Logger) domain.Generator {
		return NewOpenAI(OpenAIConfig{APIKey: pc.APIKey, APIBase: pc.APIBase, Model: pc.DefaultModel, Logger: logger})
	}
	f.constructors["claude"] = func(pc config.ProviderConfig, logger *slog.Logger) domain.Generator {
		return NewClaude(ClaudeConfig{APIBase: pc.APIBase, APIKey: pc.APIKey, Model: pc.DefaultModel, Logger: logger})
	}
	f.constructors["extractive"] = func(config.ProviderConfig, *slog.Logger) domain.Generator {
		return NewExtractive()
	}
}

// Get returns the named generator. Created generators are cached so the same
// instance is reused across calls. Uses double-check locking to avoid TOCTOU
// races.
func (f *Factory) Get(name string) (domain.Generator, error) {
	f.mu.RLock()
	if cached, ok := f.cache[name]; ok {
		f.mu.RUnlock()
		return cached, nil
	}
	f.mu.RUnlock()

	f.mu.Lock()
	defer f.mu.Unlock()
	if cached, ok := f.cache[name]; ok {
		return cached, nil
	}

	ctor, found := f.constructors[name]
	if !found {
		return nil, fmt.Errorf("unknown generator: %s", name)
	}
	pc, ok := f.cfg.Providers[name]
	if name != "extractive" {
		if !ok {
			return nil, fmt.Errorf("generator %s has no provider config", name)
		}
		if !pc.Enabled {
			return nil, fmt.Errorf("provider %s is disabled", name)
		}
	}

	g := ctor(pc, f.logger)
	f.cache[name] = g
	return g, nil
}

// Generator returns the configured generator wrapped in its failover chain.
// Disabled or unknown fallbacks are skipped with a warning; the primary must
// resolve.
func (f *Factory) Generator() (domain.Generator, error) {
	primary, err := f.Get(f.cfg.Generator.Provider)
	if err != nil {
		return nil, err
	}
	if len(f.cfg.Generator.FailoverChain) == 0 {
		return primary, nil
	}

	chain := []domain.Generator{primary}
	seen := map[string]bool{f.cfg.Generator.Provider: true}
	for _, name := range f.cfg.Generator.FailoverChain {
		if seen[name] {
			continue
		}
		seen[name] = true
		g, err := f.Get(name)
		if err != nil {
			f.logger.Warn("skipping failover generator", "generator", name, "err", err)
			continue
		}
		chain = append(chain, g)
	}
	if len(chain) == 1 {
		return primary, nil
	}
	return NewFailover(chain, f.logger), nil
}

// Embedder builds the configured embedder. Empty endpoint fields fall back to
// the matching provider entry.
func (f *Factory) Embedder() (domain.Embedder, error) {
	ec := f.cfg.Embedder
	pc := f.cfg.Providers[ec.Provider]
	apiBase := firstNonEmpty(ec.APIBase, pc.APIBase)
	apiKey := firstNonEmpty(ec.APIKey, pc.APIKey)

	switch ec.Provider {
	case "hashing", "":
		return NewHashing(ec.Dimensions), nil
	case "ollama":
		return NewOllamaEmbedder(OllamaEmbedderConfig{APIBase: apiBase, Model: ec.Model, Logger: f.logger}), nil
	case "openai":
		if apiKey == "" {
			return nil, fmt.Errorf("openai embedder: no API key configured")
		}
		return NewOpenAIEmbedder(OpenAIEmbedderConfig{
			APIKey:     apiKey,
			APIBase:    apiBase,
			Model:      ec.Model,
			Dimensions: ec.Dimensions,
		}), nil
	}
	return nil, fmt.Errorf("unknown embedder: %s", ec.Provider)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
