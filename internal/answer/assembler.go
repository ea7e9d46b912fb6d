// Package answer turns a query into a streamed, cached, recorded answer.
package answer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"docbot/internal/cache"
	"docbot/internal/domain"
	"docbot/internal/metrics"
)

const (
	defaultK              = 3
	defaultHistoryTimeout = 5 * time.Second
	defaultHistoryQueue   = 64
)

// ErrEmptyQuery is returned for blank queries.
var ErrEmptyQuery = errors.New("query must not be empty")

// Retriever resolves a query to scored chunks.
type Retriever interface {
	Retrieve(ctx context.Context, query string, k int) ([]domain.RetrievalResult, error)
}

// Request is one answer request. K <= 0 selects the configured default.
type Request struct {
	Query     string
	K         int
	SessionID string
}

// Result describes a finished answer stream.
type Result struct {
	// Answer is the text the caller received: the cached or generated answer,
	// or the partial output followed by the diagnostic when generation failed.
	Answer  string
	Cached  bool
	Results []domain.RetrievalResult
	// Err is the generator failure, if any. The stream carried a diagnostic
	// instead of an error return.
	Err error
}

// Config wires an Assembler.
type Config struct {
	Retriever      Retriever
	Generator      domain.Generator
	Cache          *cache.Cache
	History        domain.HistoryLedger
	SystemPrompt   string
	Model          string
	MaxTokens      int
	Temperature    float64
	DefaultK       int
	SingleFlight   bool          // share one generation among identical in-flight queries
	HistoryTimeout time.Duration // bound on each background history write
	HistoryQueue   int           // turns buffered for the history writer; full queues drop
	Logger         *slog.Logger
}

// Assembler drives retrieval and generation for one query at a time per
// call; calls are safe to run concurrently.
type Assembler struct {
	retriever      Retriever
	generator      domain.Generator
	cache          *cache.Cache
	history        domain.HistoryLedger
	system         string
	model          string
	maxTokens      int
	temperature    float64
	defaultK       int
	singleFlight   bool
	historyTimeout time.Duration
	logger         *slog.Logger

	flightsMu sync.Mutex
	flights   map[string]*flight

	// History is written by one goroutine so turns land in arrival order.
	turns       chan turn
	startWriter sync.Once
	turnsMu     sync.Mutex
	closed      bool
	pending     sync.WaitGroup // queued history writes
}

type turn struct {
	sessionID string
	query     string
	answer    string
}

func New(cfg Config) (*Assembler, error) {
	if cfg.Retriever == nil {
		return nil, fmt.Errorf("answer: retriever is required")
	}
	if cfg.Generator == nil {
		return nil, fmt.Errorf("answer: generator is required")
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = DefaultSystemPrompt
	}
	if cfg.DefaultK <= 0 {
		cfg.DefaultK = defaultK
	}
	if cfg.HistoryTimeout <= 0 {
		cfg.HistoryTimeout = defaultHistoryTimeout
	}
	if cfg.HistoryQueue <= 0 {
		cfg.HistoryQueue = defaultHistoryQueue
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Assembler{
		retriever:      cfg.Retriever,
		generator:      cfg.Generator,
		cache:          cfg.Cache,
		history:        cfg.History,
		system:         cfg.SystemPrompt,
		model:          cfg.Model,
		maxTokens:      cfg.MaxTokens,
		temperature:    cfg.Temperature,
		defaultK:       cfg.DefaultK,
		singleFlight:   cfg.SingleFlight,
		historyTimeout: cfg.HistoryTimeout,
		logger:         cfg.Logger,
		flights:        make(map[string]*flight),
		turns:          make(chan turn, cfg.HistoryQueue),
	}, nil
}

// Answer streams the answer to req into out and returns once the stream has
// ended. out is not closed. Events are, in order: an optional snippets event,
// token events, then either done or a single error event carrying the
// diagnostic. Sends block until the consumer reads or ctx ends.
//
// Errors are returned only when nothing was streamed (bad request,
// ErrIndexNotReady, ErrEmbedding) or when ctx ended mid-stream.
func (a *Assembler) Answer(ctx context.Context, req Request, out chan<- domain.StreamEvent) (*Result, error) {
	start := time.Now()
	defer func() { metrics.AnswerDuration.Observe(time.Since(start).Seconds()) }()
	metrics.QueriesTotal.Inc()

	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	k := req.K
	if k <= 0 {
		k = a.defaultK
	}

	if cached, ok := a.cache.Lookup(ctx, query, k); ok {
		metrics.CacheHits.Inc()
		a.logger.Debug("answer served from cache", "k", k)
		if err := send(ctx, out, domain.StreamEvent{Type: domain.StreamToken, Content: cached}); err != nil {
			return nil, err
		}
		a.record(req.SessionID, query, cached)
		if err := send(ctx, out, domain.StreamEvent{Type: domain.StreamDone}); err != nil {
			return nil, err
		}
		return &Result{Answer: cached, Cached: true}, nil
	}
	metrics.CacheMisses.Inc()

	results, err := a.retriever.Retrieve(ctx, query, k)
	if err != nil {
		return nil, err
	}

	if len(results) == 0 {
		if err := send(ctx, out, domain.StreamEvent{Type: domain.StreamToken, Content: NoResultsMessage}); err != nil {
			return nil, err
		}
		a.record(req.SessionID, query, NoResultsMessage)
		if err := send(ctx, out, domain.StreamEvent{Type: domain.StreamDone}); err != nil {
			return nil, err
		}
		return &Result{Answer: NoResultsMessage, Results: results}, nil
	}

	if err := send(ctx, out, domain.StreamEvent{Type: domain.StreamSnippets, Results: results}); err != nil {
		return nil, err
	}

	genReq := domain.GenerateRequest{
		System:      a.system,
		Prompt:      BuildPrompt(query, results),
		Query:       query,
		Results:     results,
		Model:       a.model,
		MaxTokens:   a.maxTokens,
		Temperature: a.temperature,
	}

	var gen generation
	if a.singleFlight {
		gen, err = a.shared(ctx, cache.Key(query, k), genReq, out)
	} else {
		gen, err = a.tee(ctx, genReq, out)
	}
	if err != nil {
		a.logger.Debug("answer stream abandoned", "err", err)
		return nil, err
	}

	text := gen.text
	if genErr := gen.err; genErr != nil {
		metrics.GenerationFailures.Inc()
		a.logger.Warn("generation failed", "generator", a.generator.Name(), "err", genErr)
		diag := Diagnostic(genErr)
		if err := send(ctx, out, domain.StreamEvent{Type: domain.StreamError, Content: diag}); err != nil {
			return nil, err
		}
		return &Result{
			Answer:  text + diag,
			Results: results,
			Err:     fmt.Errorf("%w: %w", domain.ErrGenerator, genErr),
		}, nil
	}

	// Only completed generations are cached and recorded.
	if text != "" {
		a.cache.StoreDefault(ctx, query, k, text)
	}
	a.record(req.SessionID, query, text)
	if err := send(ctx, out, domain.StreamEvent{Type: domain.StreamDone}); err != nil {
		return nil, err
	}
	return &Result{Answer: text, Results: results}, nil
}

// Collect runs Answer and discards the stream, for callers that reply in one
// message.
func (a *Assembler) Collect(ctx context.Context, req Request) (*Result, error) {
	out := make(chan domain.StreamEvent)
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		for range out {
		}
	}()
	res, err := a.Answer(ctx, req, out)
	close(out)
	<-drained
	return res, err
}

// generation is the accumulated output of one generator stream and its
// failure, if any.
type generation struct {
	text string
	err  error
}

// tee runs the generator and forwards each token to out while accumulating
// it. The generator channel is unbuffered, so a slow consumer stalls the
// generator instead of growing a queue.
func (a *Assembler) tee(ctx context.Context, req domain.GenerateRequest, out chan<- domain.StreamEvent) (generation, error) {
	genCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	events := make(chan domain.StreamEvent)
	errc := make(chan error, 1)
	go func() {
		errc <- a.generator.Generate(genCtx, req, events)
	}()

	var buf strings.Builder
	var sendErr error
	for ev := range events {
		if sendErr != nil || ev.Type != domain.StreamToken || ev.Content == "" {
			continue
		}
		buf.WriteString(ev.Content)
		if err := send(ctx, out, ev); err != nil {
			sendErr = err
			cancel()
		}
	}
	genErr := <-errc

	if sendErr != nil {
		return generation{}, sendErr
	}
	if err := ctx.Err(); err != nil {
		return generation{}, err
	}
	return generation{text: buf.String(), err: genErr}, nil
}

// record queues the user and assistant turns for the history writer.
// Failures and overflow are logged and never reach the caller.
func (a *Assembler) record(sessionID, query, answer string) {
	if a.history == nil || sessionID == "" {
		return
	}
	a.turnsMu.Lock()
	defer a.turnsMu.Unlock()
	if a.closed {
		a.logger.Warn("history writer closed, turn not recorded", "session", sessionID)
		return
	}
	a.startWriter.Do(func() { go a.writeHistory() })
	a.pending.Add(1)
	select {
	case a.turns <- turn{sessionID: sessionID, query: query, answer: answer}:
	default:
		a.pending.Done()
		a.logger.Warn("history queue full, turn dropped", "session", sessionID)
	}
}

func (a *Assembler) writeHistory() {
	for t := range a.turns {
		a.writeTurn(t)
		a.pending.Done()
	}
}

func (a *Assembler) writeTurn(t turn) {
	ctx, cancel := context.WithTimeout(context.Background(), a.historyTimeout)
	defer cancel()
	if err := a.history.Append(ctx, t.sessionID, domain.RoleUser, t.query); err != nil {
		a.logger.Warn("history append failed", "session", t.sessionID, "err", err)
		return
	}
	if err := a.history.Append(ctx, t.sessionID, domain.RoleAssistant, t.answer); err != nil {
		a.logger.Warn("history append failed", "session", t.sessionID, "err", err)
	}
}

// Wait blocks until queued history writes have finished.
func (a *Assembler) Wait() {
	a.pending.Wait()
}

// Close flushes queued history writes and stops the writer. Answers still
// work afterwards but are no longer recorded.
func (a *Assembler) Close() error {
	a.turnsMu.Lock()
	if !a.closed {
		a.closed = true
		close(a.turns)
	}
	a.turnsMu.Unlock()
	a.Wait()
	return nil
}

func (a *Assembler) GeneratorName() string { return a.generator.Name() }

func send(ctx context.Context, out chan<- domain.StreamEvent, ev domain.StreamEvent) error {
	select {
	case out <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
