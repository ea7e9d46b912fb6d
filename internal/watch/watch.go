// Package watch rebuilds the index when the data directory changes.
package watch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"docbot/internal/loader"
)

const defaultDebounce = 2 * time.Second

// Watcher calls OnChange once the data directory has been quiet for the
// debounce interval after a relevant change.
type Watcher struct {
	root     string
	debounce time.Duration
	onChange func(context.Context) error
	logger   *slog.Logger
}

type Config struct {
	Root     string
	Debounce time.Duration
	OnChange func(context.Context) error
	Logger   *slog.Logger
}

func New(cfg Config) (*Watcher, error) {
	if cfg.Root == "" {
		return nil, errors.New("watch: root is required")
	}
	if cfg.OnChange == nil {
		return nil, errors.New("watch: OnChange is required")
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = defaultDebounce
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Watcher{root: cfg.Root, debounce: cfg.Debounce, onChange: cfg.OnChange, logger: cfg.Logger}, nil
}

// Run watches until ctx ends. Directories created while running are watched
// too.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fw.Close()

	if err := w.addTree(fw, w.root); err != nil {
		return err
	}
	w.logger.Info("watching data dir", "root", w.root, "debounce", w.debounce)

	timer := time.NewTimer(w.debounce)
	timer.Stop()
	pending := false

	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if ev.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() && !w.hidden(ev.Name) {
					if err := w.addTree(fw, ev.Name); err != nil {
						w.logger.Warn("cannot watch new directory", "path", ev.Name, "err", err)
					}
					continue
				}
			}
			if !w.relevant(ev) {
				continue
			}
			w.logger.Debug("data dir changed", "path", ev.Name, "op", ev.Op.String())
			timer.Reset(w.debounce)
			pending = true

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watcher error", "err", err)

		case <-timer.C:
			if !pending {
				continue
			}
			pending = false
			w.logger.Info("data dir settled, rebuilding")
			if err := w.onChange(ctx); err != nil {
				w.logger.Error("rebuild after change failed", "err", err)
			}
		}
	}
}

// relevant reports whether ev should schedule a rebuild: create, write,
// remove or rename of a non-hidden file. Chmod alone is ignored.
func (w *Watcher) relevant(ev fsnotify.Event) bool {
	if w.hidden(ev.Name) {
		return false
	}
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
		return false
	}
	if ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			return false
		}
	}
	return true
}

// hidden checks the path relative to the root, so a root under a dot
// directory is still watched.
func (w *Watcher) hidden(path string) bool {
	rel, err := filepath.Rel(w.root, path)
	if err != nil {
		return loader.IsHidden(path)
	}
	return loader.IsHidden(rel)
}

func (w *Watcher) addTree(fw *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != w.root && w.hidden(path) {
			return fs.SkipDir
		}
		if err := fw.Add(path); err != nil {
			return fmt.Errorf("watch %s: %w", path, err)
		}
		return nil
	})
}
