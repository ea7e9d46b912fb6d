package loader

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"

	"docbot/internal/domain"
)

const defaultWorkers = 4

// DirScanner loads every supported file under a root directory.
type DirScanner struct {
	root     string
	registry *Registry
	workers  int
	logger   *slog.Logger
}

type ScannerConfig struct {
	Root     string
	Registry *Registry // default: Default(Options{})
	Workers  int       // parallel loads (default: 4)
	Logger   *slog.Logger
}

func NewDirScanner(cfg ScannerConfig) *DirScanner {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Registry == nil {
		cfg.Registry = Default(Options{Logger: cfg.Logger})
	}
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	return &DirScanner{root: cfg.Root, registry: cfg.Registry, workers: cfg.Workers, logger: cfg.Logger}
}

func (s *DirScanner) Root() string { return s.root }

type scanResult struct {
	docs []domain.Document
	skip *domain.SkippedDocument
}

// Scan walks the root in lexical order and loads files in parallel. Output
// order follows the walk regardless of which load finishes first. A file
// that fails to load is reported as skipped.
func (s *DirScanner) Scan(ctx context.Context) ([]domain.Document, []domain.SkippedDocument, error) {
	info, err := os.Stat(s.root)
	if err != nil {
		return nil, nil, fmt.Errorf("data dir: %w", err)
	}
	if !info.IsDir() {
		return nil, nil, fmt.Errorf("data dir %s is not a directory", s.root)
	}

	var paths []string
	err = filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			s.logger.Warn("cannot read path", "path", path, "err", err)
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if path == s.root {
			return nil
		}
		if IsHidden(d.Name()) {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if _, ok := s.registry.Lookup(path); !ok {
			s.logger.Info("skipping unsupported file", "path", s.source(path))
			return nil
		}
		paths = append(paths, path)
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("walk data dir: %w", err)
	}

	results := make([]scanResult, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i, path := range paths {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = s.load(gctx, path)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	var (
		docs    []domain.Document
		skipped []domain.SkippedDocument
	)
	for _, r := range results {
		docs = append(docs, r.docs...)
		if r.skip != nil {
			skipped = append(skipped, *r.skip)
		}
	}
	return docs, skipped, nil
}

// LoadFile loads a single file as it would be loaded during a scan.
func (s *DirScanner) LoadFile(ctx context.Context, path string) ([]domain.Document, error) {
	r := s.load(ctx, path)
	if r.skip != nil {
		return nil, fmt.Errorf("%s: %s", r.skip.Source, r.skip.Reason)
	}
	return r.docs, nil
}

func (s *DirScanner) load(ctx context.Context, path string) scanResult {
	source := s.source(path)
	l, ok := s.registry.Lookup(path)
	if !ok {
		return scanResult{skip: &domain.SkippedDocument{Source: source, Reason: "unsupported file type"}}
	}

	var (
		records []string
		err     error
	)
	switch rl := l.(type) {
	case ContextRecordLoader:
		records, err = rl.LoadRecordsContext(ctx, path)
	case domain.RecordLoader:
		records, err = rl.LoadRecords(path)
	default:
		var text string
		text, err = l.Load(path)
		records = []string{text}
	}
	if err != nil {
		s.logger.Warn("failed to load document", "source", source, "err", err)
		return scanResult{skip: &domain.SkippedDocument{Source: source, Reason: err.Error()}}
	}

	docs := make([]domain.Document, 0, len(records))
	for _, text := range records {
		if strings.TrimSpace(text) == "" {
			continue
		}
		docs = append(docs, domain.Document{Source: source, Text: text})
	}
	if len(docs) == 0 {
		s.logger.Debug("document has no text", "source", source)
	}
	return scanResult{docs: docs}
}

// source is the slash-separated path of p relative to the root.
func (s *DirScanner) source(p string) string {
	rel, err := filepath.Rel(s.root, p)
	if err != nil {
		return filepath.ToSlash(p)
	}
	return filepath.ToSlash(rel)
}

// IsHidden reports whether any element of path starts with a dot.
// "." and ".." are not hidden.
func IsHidden(path string) bool {
	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		if len(part) > 1 && part[0] == '.' && part != ".." {
			return true
		}
	}
	return false
}
