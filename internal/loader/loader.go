// Package loader extracts text from the files of a data directory.
package loader

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"docbot/internal/domain"
)

// ContextRecordLoader is a record loader whose work can be cancelled, such
// as one that fetches pages over the network.
type ContextRecordLoader interface {
	domain.RecordLoader
	LoadRecordsContext(ctx context.Context, path string) ([]string, error)
}

// Registry maps file names and extensions to loaders. Exact base names win
// over extensions, so faq.json is handled apart from other JSON files.
type Registry struct {
	byName map[string]domain.Loader
	byExt  map[string]domain.Loader
}

func NewRegistry() *Registry {
	return &Registry{
		byName: make(map[string]domain.Loader),
		byExt:  make(map[string]domain.Loader),
	}
}

// Register binds an extension such as ".pdf" to l.
func (r *Registry) Register(ext string, l domain.Loader) {
	r.byExt[strings.ToLower(ext)] = l
}

// RegisterName binds an exact base name such as "faq.json" to l.
func (r *Registry) RegisterName(name string, l domain.Loader) {
	r.byName[strings.ToLower(name)] = l
}

// Lookup returns the loader for path, if any.
func (r *Registry) Lookup(path string) (domain.Loader, bool) {
	base := strings.ToLower(filepath.Base(path))
	if l, ok := r.byName[base]; ok {
		return l, true
	}
	l, ok := r.byExt[filepath.Ext(base)]
	return l, ok
}

// Extensions lists the registered extensions and names, for diagnostics.
func (r *Registry) Extensions() []string {
	out := make([]string, 0, len(r.byExt)+len(r.byName))
	for ext := range r.byExt {
		out = append(out, ext)
	}
	for name := range r.byName {
		out = append(out, name)
	}
	return out
}

// Options configures the default registry.
type Options struct {
	// Renderer enables .url files. Nil leaves them unsupported.
	Renderer Renderer
	Logger   *slog.Logger
}

// Default returns a registry covering every built-in format.
func Default(opts Options) *Registry {
	r := NewRegistry()
	r.Register(".txt", Text{})
	r.Register(".md", Text{})
	r.Register(".pdf", PDF{})
	r.Register(".docx", DOCX{})
	r.Register(".xlsx", XLSX{})
	for _, name := range []string{"faq.json", "faq.yaml", "faq.yml"} {
		r.RegisterName(name, FAQ{})
	}
	if opts.Renderer != nil {
		r.Register(".url", NewURL(opts.Renderer, opts.Logger))
	}
	return r
}

// Text reads plain text and markdown files.
type Text struct{}

func (Text) Load(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	return strings.ToValidUTF8(string(b), "�"), nil
}
