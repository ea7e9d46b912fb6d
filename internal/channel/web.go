package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"docbot/internal/answer"
	"docbot/internal/config"
	"docbot/internal/domain"
	"docbot/internal/knowledge"
	"docbot/internal/metrics"
)

const (
	maxBodySize        = 1 << 20
	requestTimeout     = 120 * time.Second
	defaultSearchLimit = 5
	sessionHeader      = "X-Session-ID"
)

// Knowledge is the corpus side of the pipeline served over HTTP.
type Knowledge interface {
	Ingest(ctx context.Context) (*knowledge.IngestReport, error)
	Status() domain.CorpusStatus
	FuzzySearch(query string, limit int) ([]domain.RetrievalResult, error)
	Topics(limit int) ([]string, error)
}

// Web serves the query API over HTTP.
type Web struct {
	host     string
	port     int
	answerer Answerer
	corpus   Knowledge
	history  domain.HistoryLedger
	feedback domain.FeedbackLedger
	limiter  *clientLimiter
	metrics  string
	logger   *slog.Logger
	server   *http.Server
	ws       *wsHub

	// Config reference for the settings API (protected by cfgMu)
	cfg     *config.Config
	cfgPath string
	cfgMu   sync.RWMutex
}

type WebConfig struct {
	Host            string
	Port            int
	Answerer        Answerer
	Knowledge       Knowledge
	History         domain.HistoryLedger  // optional; enables GET /api/history
	Feedback        domain.FeedbackLedger // optional; enables the feedback endpoints
	RateLimit       float64               // requests per second per client, 0 disables
	RateBurst       int
	MetricsEndpoint string // "" disables
	Config          *config.Config
	ConfigPath      string
	Logger          *slog.Logger
}

func NewWeb(cfg WebConfig) *Web {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	w := &Web{
		host:     cfg.Host,
		port:     cfg.Port,
		answerer: cfg.Answerer,
		corpus:   cfg.Knowledge,
		history:  cfg.History,
		feedback: cfg.Feedback,
		limiter:  newClientLimiter(cfg.RateLimit, cfg.RateBurst),
		metrics:  cfg.MetricsEndpoint,
		logger:   cfg.Logger,
		cfg:      cfg.Config,
		cfgPath:  cfg.ConfigPath,
	}
	w.ws = newWSHub(w.answerer, w.logger)
	return w
}

func (w *Web) Name() string { return "web" }

// Handler returns the API routes.
func (w *Web) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/ingest", w.handleIngest)
	mux.HandleFunc("POST /api/chat", w.limiter.middleware(w.handleChat))
	mux.HandleFunc("POST /api/query", w.limiter.middleware(w.handleQuery))
	mux.HandleFunc("GET /api/search", w.limiter.middleware(w.handleSearch))
	mux.HandleFunc("GET /api/health", w.handleHealth)
	mux.HandleFunc("GET /api/menu", w.handleMenu)
	mux.HandleFunc("GET /api/history/{session}", w.handleHistory)
	mux.HandleFunc("POST /api/feedback/message", w.handleMessageFeedback)
	mux.HandleFunc("POST /api/feedback/session", w.handleSessionFeedback)
	mux.HandleFunc("GET /api/ws", w.ws.handleUpgrade)

	mux.HandleFunc("GET /api/config", w.handleGetConfig)
	mux.HandleFunc("PUT /api/config", w.handleUpdateConfig)
	mux.HandleFunc("POST /api/config/save", w.handleSaveConfig)

	if w.metrics != "" {
		mux.HandleFunc("GET "+w.metrics, metrics.Collector.Handler())
	}
	return mux
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (w *Web) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", w.host, w.port)
	w.server = &http.Server{
		Addr:              addr,
		Handler:           w.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	w.logger.Info("http api started", "addr", "http://"+addr)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		w.ws.closeAll()
		w.server.Shutdown(shutdownCtx)
	}()

	if err := w.server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (w *Web) Stop() error {
	w.ws.closeAll()
	if w.server != nil {
		return w.server.Close()
	}
	return nil
}

// queryRequest is the body of /api/chat and /api/query.
type queryRequest struct {
	Query          string `json:"query"`
	K              int    `json:"k"`
	SessionID      string `json:"session_id"`
	ReturnSnippets bool   `json:"return_snippets"`
}

func (w *Web) decodeQuery(rw http.ResponseWriter, r *http.Request) (queryRequest, bool) {
	var req queryRequest
	if err := json.NewDecoder(http.MaxBytesReader(rw, r.Body, maxBodySize)).Decode(&req); err != nil {
		writeJSON(rw, http.StatusBadRequest, map[string]string{"error": "invalid request body: " + err.Error()})
		return req, false
	}
	if strings.TrimSpace(req.Query) == "" {
		writeJSON(rw, http.StatusBadRequest, map[string]string{"error": answer.ErrEmptyQuery.Error()})
		return req, false
	}
	if req.K < 0 {
		writeJSON(rw, http.StatusBadRequest, map[string]string{"error": "k must be >= 1"})
		return req, false
	}
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}
	rw.Header().Set(sessionHeader, req.SessionID)
	return req, true
}

// handleChat streams the answer as it is generated: plain text by default,
// server-sent events when the client asks for text/event-stream.
func (w *Web) handleChat(rw http.ResponseWriter, r *http.Request) {
	req, ok := w.decodeQuery(rw, r)
	if !ok {
		return
	}
	sse := strings.Contains(r.Header.Get("Accept"), "text/event-stream")
	flusher, _ := rw.(http.Flusher)

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	type outcome struct {
		res *answer.Result
		err error
	}
	events := make(chan domain.StreamEvent)
	done := make(chan outcome, 1)
	go func() {
		res, err := w.answerer.Answer(ctx, answer.Request{Query: req.Query, K: req.K, SessionID: req.SessionID}, events)
		close(events)
		done <- outcome{res, err}
	}()

	// Headers go out with the first event so that errors raised before
	// streaming can still pick a status code.
	started := false
	for ev := range events {
		if ev.Type == domain.StreamSnippets && !req.ReturnSnippets {
			continue
		}
		if !started {
			if sse {
				rw.Header().Set("Content-Type", "text/event-stream")
				rw.Header().Set("Cache-Control", "no-cache")
				rw.Header().Set("Connection", "keep-alive")
			} else {
				rw.Header().Set("Content-Type", "text/plain; charset=utf-8")
			}
			rw.WriteHeader(http.StatusOK)
			started = true
		}
		if sse {
			data, _ := json.Marshal(ev)
			fmt.Fprintf(rw, "event: %s\ndata: %s\n\n", ev.Type, data)
		} else if ev.Type == domain.StreamToken || ev.Type == domain.StreamError {
			rw.Write([]byte(ev.Content))
		}
		if flusher != nil {
			flusher.Flush()
		}
	}

	o := <-done
	if o.err == nil {
		return
	}
	if !started {
		w.writeError(rw, o.err)
		return
	}
	w.logger.Info("chat stream ended early", "session", req.SessionID, "err", o.err)
}

func (w *Web) handleQuery(rw http.ResponseWriter, r *http.Request) {
	req, ok := w.decodeQuery(rw, r)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	res, err := w.answerer.Collect(ctx, answer.Request{Query: req.Query, K: req.K, SessionID: req.SessionID})
	if err != nil {
		w.writeError(rw, err)
		return
	}
	resp := map[string]any{
		"answer":     res.Answer,
		"cached":     res.Cached,
		"session_id": req.SessionID,
	}
	if req.ReturnSnippets {
		matches := res.Results
		if matches == nil {
			matches = []domain.RetrievalResult{}
		}
		resp["matches"] = matches
		// Cached entries hold only the answer text.
		if res.Cached {
			resp["snippets_unavailable"] = true
		}
	}
	if res.Err != nil {
		resp["error"] = res.Err.Error()
	}
	writeJSON(rw, http.StatusOK, resp)
}

func (w *Web) handleIngest(rw http.ResponseWriter, r *http.Request) {
	report, err := w.corpus.Ingest(r.Context())
	if err != nil {
		w.logger.Error("ingest failed", "err", err)
		w.writeError(rw, err)
		return
	}
	writeJSON(rw, http.StatusOK, report)
}

func (w *Web) handleHealth(rw http.ResponseWriter, r *http.Request) {
	st := w.corpus.Status()
	resp := map[string]any{
		"status":     "ok",
		"ready":      st.Ready,
		"generation": st.Generation,
		"chunks":     st.Chunks,
		"sources":    st.Sources,
		"generator":  w.answerer.GeneratorName(),
	}
	if st.Ready {
		resp["built_at"] = st.BuiltAt.Format(time.RFC3339)
		resp["metric"] = st.Metric
		resp["dimensions"] = st.Dimensions
	}
	writeJSON(rw, http.StatusOK, resp)
}

func (w *Web) handleSearch(rw http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		writeJSON(rw, http.StatusBadRequest, map[string]string{"error": "q is required"})
		return
	}
	limit, ok := intParam(rw, r, "limit", defaultSearchLimit)
	if !ok {
		return
	}
	results, err := w.corpus.FuzzySearch(q, limit)
	if errors.Is(err, domain.ErrNoCorpus) {
		writeJSON(rw, http.StatusOK, map[string]any{"results": []domain.RetrievalResult{}, "no_corpus": true})
		return
	}
	if err != nil {
		w.writeError(rw, err)
		return
	}
	writeJSON(rw, http.StatusOK, map[string]any{"results": results})
}

func (w *Web) handleMenu(rw http.ResponseWriter, r *http.Request) {
	limit, ok := intParam(rw, r, "limit", defaultMenuLimit)
	if !ok {
		return
	}
	topics, err := w.corpus.Topics(limit)
	if errors.Is(err, domain.ErrNoCorpus) {
		writeJSON(rw, http.StatusOK, map[string]any{"topics": []string{}, "no_corpus": true})
		return
	}
	if err != nil {
		w.writeError(rw, err)
		return
	}
	writeJSON(rw, http.StatusOK, map[string]any{"topics": topics})
}

func (w *Web) handleHistory(rw http.ResponseWriter, r *http.Request) {
	if w.history == nil {
		writeJSON(rw, http.StatusServiceUnavailable, map[string]string{"error": "history is disabled"})
		return
	}
	limit, ok := intParam(rw, r, "limit", 0)
	if !ok {
		return
	}
	session := r.PathValue("session")
	msgs, err := w.history.Read(r.Context(), session, limit)
	if err != nil {
		w.writeError(rw, err)
		return
	}
	writeJSON(rw, http.StatusOK, map[string]any{"session_id": session, "messages": msgs})
}

func (w *Web) handleMessageFeedback(rw http.ResponseWriter, r *http.Request) {
	if w.feedback == nil {
		writeJSON(rw, http.StatusServiceUnavailable, map[string]string{"error": "feedback is disabled"})
		return
	}
	var body struct {
		MessageID int64       `json:"message_id"`
		Feedback  domain.Vote `json:"feedback"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(rw, r.Body, maxBodySize)).Decode(&body); err != nil {
		writeJSON(rw, http.StatusBadRequest, map[string]string{"error": "invalid request body: " + err.Error()})
		return
	}
	if !body.Feedback.Valid() {
		writeJSON(rw, http.StatusBadRequest, map[string]string{"error": `feedback must be "up" or "down"`})
		return
	}
	if err := w.feedback.RecordMessageFeedback(r.Context(), body.MessageID, body.Feedback); err != nil {
		w.writeError(rw, err)
		return
	}
	writeJSON(rw, http.StatusOK, map[string]string{"status": "recorded"})
}

func (w *Web) handleSessionFeedback(rw http.ResponseWriter, r *http.Request) {
	if w.feedback == nil {
		writeJSON(rw, http.StatusServiceUnavailable, map[string]string{"error": "feedback is disabled"})
		return
	}
	var body struct {
		SessionID string `json:"session_id"`
		Rating    int    `json:"rating"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(rw, r.Body, maxBodySize)).Decode(&body); err != nil {
		writeJSON(rw, http.StatusBadRequest, map[string]string{"error": "invalid request body: " + err.Error()})
		return
	}
	if body.Rating < 1 || body.Rating > 5 {
		writeJSON(rw, http.StatusBadRequest, map[string]string{"error": "rating must be between 1 and 5"})
		return
	}
	if err := w.feedback.RecordSessionFeedback(r.Context(), body.SessionID, body.Rating); err != nil {
		w.writeError(rw, err)
		return
	}
	writeJSON(rw, http.StatusOK, map[string]string{"status": "recorded"})
}

// writeError maps pipeline errors onto HTTP status codes.
func (w *Web) writeError(rw http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, answer.ErrEmptyQuery):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrIndexNotReady):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrEmbedding):
		status = http.StatusBadGateway
	case errors.Is(err, domain.ErrMessageNotFound):
		status = http.StatusNotFound
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		// client went away; nobody reads the body
		return
	}
	if status == http.StatusInternalServerError {
		w.logger.Error("request failed", "err", err)
	}
	writeJSON(rw, status, map[string]string{"error": err.Error()})
}

func intParam(rw http.ResponseWriter, r *http.Request, name string, def int) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		writeJSON(rw, http.StatusBadRequest, map[string]string{"error": name + " must be a positive integer"})
		return 0, false
	}
	return n, true
}

func writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json; charset=utf-8")
	rw.WriteHeader(status)
	json.NewEncoder(rw).Encode(v)
}
