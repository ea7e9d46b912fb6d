package loader

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
)

// Renderer returns the visible text of a web page.
type Renderer interface {
	Render(ctx context.Context, url string) (string, error)
}

// URL loads .url files: one address per line, or the URL= line of an
// internet-shortcut file. Each rendered page is one record.
type URL struct {
	renderer Renderer
	logger   *slog.Logger
}

func NewURL(r Renderer, logger *slog.Logger) *URL {
	if logger == nil {
		logger = slog.Default()
	}
	return &URL{renderer: r, logger: logger}
}

func (u *URL) Load(path string) (string, error) {
	recs, err := u.LoadRecords(path)
	if err != nil {
		return "", err
	}
	return strings.Join(recs, "\n\n"), nil
}

func (u *URL) LoadRecords(path string) ([]string, error) {
	return u.LoadRecordsContext(context.Background(), path)
}

// LoadRecordsContext renders every listed page. A page that fails to render
// is skipped with a warning; only an unreadable file is an error.
func (u *URL) LoadRecordsContext(ctx context.Context, path string) ([]string, error) {
	urls, err := ParseURLFile(path)
	if err != nil {
		return nil, err
	}
	var recs []string
	for _, addr := range urls {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		text, err := u.renderer.Render(ctx, addr)
		if err != nil {
			u.logger.Warn("skipping page", "url", addr, "err", err)
			continue
		}
		if text != "" {
			recs = append(recs, text)
		}
	}
	return recs, nil
}

// ParseURLFile lists the http(s) addresses in a .url file. Blank lines,
// comments and section headers are ignored.
func ParseURLFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open url list: %w", err)
	}
	defer f.Close()

	var urls []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if len(line) >= 4 && strings.EqualFold(line[:4], "url=") {
			line = strings.TrimSpace(line[4:])
		}
		if strings.HasPrefix(line, "http://") || strings.HasPrefix(line, "https://") {
			urls = append(urls, line)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read url list: %w", err)
	}
	return urls, nil
}
