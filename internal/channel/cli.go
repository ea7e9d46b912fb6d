package channel

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"docbot/internal/answer"
	"docbot/internal/domain"
)

// CLI is an interactive terminal REPL that streams answers as they arrive.
type CLI struct {
	answerer Answerer
	topics   TopicSource
	k        int
	session  string
	spinner  bool
	logger   *slog.Logger
	in       io.Reader
	out      io.Writer

	last []domain.RetrievalResult // sources of the previous answer

	thinkMu   sync.Mutex
	thinking  bool
	thinkStop chan struct{}
	thinkDone chan struct{}
}

type CLIConfig struct {
	Answerer  Answerer
	Topics    TopicSource
	K         int
	SessionID string // "" starts a fresh session
	Spinner   bool
	Logger    *slog.Logger
	In        io.Reader
	Out       io.Writer
}

func NewCLI(cfg CLIConfig) *CLI {
	if cfg.In == nil {
		cfg.In = os.Stdin
	}
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.SessionID == "" {
		cfg.SessionID = "cli:" + uuid.NewString()
	}
	return &CLI{
		answerer: cfg.Answerer,
		topics:   cfg.Topics,
		k:        cfg.K,
		session:  cfg.SessionID,
		spinner:  cfg.Spinner,
		logger:   cfg.Logger,
		in:       cfg.In,
		out:      cfg.Out,
	}
}

func (c *CLI) Name() string { return "cli" }

// SessionID is the history session the REPL records into.
func (c *CLI) SessionID() string { return c.session }

// Start runs the interactive REPL until EOF, /quit or ctx is cancelled.
func (c *CLI) Start(ctx context.Context) error {
	_, _ = fmt.Fprintln(c.out, "docbot CLI. Ask a question and press Enter. /menu lists topics, /sources shows the last sources, /quit exits.")
	_, _ = fmt.Fprint(c.out, "You> ")

	scanner := bufio.NewScanner(c.in)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return err
			}
			return nil // EOF
		}

		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
		case "/quit", "/exit", "/q":
			c.logger.Info("user requested quit")
			return nil
		case "/menu":
			c.printMenu()
		case "/sources":
			c.printSources()
		case "/help":
			_, _ = fmt.Fprintln(c.out, botHelpText+"\n/sources: show where the last answer came from\n/quit: exit")
		default:
			if err := c.ask(ctx, line); err != nil {
				if errors.Is(err, context.Canceled) {
					return nil
				}
				_, _ = fmt.Fprintln(c.out, "error:", friendlyError(err))
			}
		}
		_, _ = fmt.Fprint(c.out, "You> ")
	}
}

func (c *CLI) ask(ctx context.Context, query string) error {
	c.startThinking()
	defer c.stopThinking()

	events := make(chan domain.StreamEvent)
	errc := make(chan error, 1)
	go func() {
		_, err := c.answerer.Answer(ctx, answer.Request{Query: query, K: c.k, SessionID: c.session}, events)
		close(events)
		errc <- err
	}()

	c.last = nil
	header := false
	for ev := range events {
		switch ev.Type {
		case domain.StreamSnippets:
			c.last = ev.Results
		case domain.StreamToken, domain.StreamError:
			if !header {
				c.stopThinking()
				_, _ = fmt.Fprint(c.out, "\r\033[K")
				_, _ = fmt.Fprintln(c.out, "--- docbot ---")
				header = true
			}
			_, _ = fmt.Fprint(c.out, ev.Content)
		}
	}
	if header {
		_, _ = fmt.Fprintln(c.out)
		_, _ = fmt.Fprintln(c.out, "---------------")
	}
	return <-errc
}

func (c *CLI) printMenu() {
	if c.topics == nil {
		_, _ = fmt.Fprintln(c.out, botEmpty)
		return
	}
	topics, err := c.topics.Topics(defaultMenuLimit)
	if err != nil || len(topics) == 0 {
		_, _ = fmt.Fprintln(c.out, botEmpty)
		return
	}
	for i, t := range topics {
		_, _ = fmt.Fprintf(c.out, "%2d. %s\n", i+1, t)
	}
}

func (c *CLI) printSources() {
	if len(c.last) == 0 {
		_, _ = fmt.Fprintln(c.out, "No sources for the last answer.")
		return
	}
	for _, r := range c.last {
		_, _ = fmt.Fprintf(c.out, "[%.3f] %s #%d\n", r.Score, r.Source, r.ChunkID)
	}
}

func friendlyError(err error) string {
	switch {
	case errors.Is(err, domain.ErrIndexNotReady):
		return botNotReady + " (check the data directory with: docbot ingest)"
	case errors.Is(err, domain.ErrEmbedding):
		return "the embedding service failed: " + err.Error()
	default:
		return err.Error()
	}
}

func (c *CLI) startThinking() {
	if !c.spinner {
		return
	}
	c.thinkMu.Lock()
	defer c.thinkMu.Unlock()
	if c.thinking {
		return
	}
	c.thinking = true
	c.thinkStop = make(chan struct{})
	c.thinkDone = make(chan struct{})
	stop, done := c.thinkStop, c.thinkDone
	go func() {
		defer close(done)
		frames := []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}
		i := 0
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				fmt.Fprintf(c.out, "\r%s Thinking...", frames[i%len(frames)])
				i++
			}
		}
	}()
}

// stopThinking returns once the spinner has stopped writing.
func (c *CLI) stopThinking() {
	c.thinkMu.Lock()
	defer c.thinkMu.Unlock()
	if !c.thinking {
		return
	}
	c.thinking = false
	close(c.thinkStop)
	<-c.thinkDone
}

// Stop is a no-op for CLI (we exit when Start returns).
func (c *CLI) Stop() error { return nil }
