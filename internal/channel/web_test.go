package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"docbot/internal/answer"
	"docbot/internal/cache"
	"docbot/internal/config"
	"docbot/internal/domain"
	"docbot/internal/knowledge"
	"docbot/internal/memory"
	"docbot/internal/provider"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type stubRetriever struct {
	results []domain.RetrievalResult
	err     error
}

func (r *stubRetriever) Retrieve(_ context.Context, _ string, k int) ([]domain.RetrievalResult, error) {
	if r.err != nil {
		return nil, r.err
	}
	if len(r.results) > k {
		return r.results[:k], nil
	}
	return r.results, nil
}

type fakeKnowledge struct {
	status    domain.CorpusStatus
	fuzzy     []domain.RetrievalResult
	fuzzyErr  error
	topics    []string
	topicsErr error
	report    *knowledge.IngestReport
	ingestErr error
}

func (k *fakeKnowledge) Ingest(context.Context) (*knowledge.IngestReport, error) {
	return k.report, k.ingestErr
}
func (k *fakeKnowledge) Status() domain.CorpusStatus { return k.status }
func (k *fakeKnowledge) FuzzySearch(_ string, limit int) ([]domain.RetrievalResult, error) {
	if k.fuzzyErr != nil {
		return nil, k.fuzzyErr
	}
	if len(k.fuzzy) > limit {
		return k.fuzzy[:limit], nil
	}
	return k.fuzzy, nil
}
func (k *fakeKnowledge) Topics(int) ([]string, error) { return k.topics, k.topicsErr }

var sampleResults = []domain.RetrievalResult{
	{ChunkID: 0, Score: 0.9, Text: "Refunds take 5 days.", Source: "faq.json"},
	{ChunkID: 3, Score: 0.7, Text: "Contact support by email.", Source: "help.md"},
}

type testEnv struct {
	web    *Web
	asm    *answer.Assembler
	ledger *memory.Ledger
	corpus *fakeKnowledge
}

func newTestEnv(t *testing.T, r answer.Retriever, mutate func(*WebConfig)) *testEnv {
	t.Helper()
	ledger := memory.NewLedger()
	asm, err := answer.New(answer.Config{
		Retriever: r,
		Generator: provider.NewExtractive(),
		History:   ledger,
		Logger:    testLogger(),
	})
	if err != nil {
		t.Fatalf("answer.New: %v", err)
	}
	corpus := &fakeKnowledge{
		status: domain.CorpusStatus{Ready: true, Generation: 2, Chunks: 4, Sources: 2, Metric: "l2", Dimensions: 384, BuiltAt: time.Now()},
		fuzzy:  sampleResults,
		topics: []string{"Refunds", "Support"},
		report: &knowledge.IngestReport{Status: "indexed", Generation: 3, Documents: 2, Chunks: 4, Sources: 2},
	}
	cfg := WebConfig{
		Answerer:        asm,
		Knowledge:       corpus,
		History:         ledger,
		Feedback:        ledger,
		MetricsEndpoint: "/metrics",
		Logger:          testLogger(),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	return &testEnv{web: NewWeb(cfg), asm: asm, ledger: ledger, corpus: corpus}
}

func (e *testEnv) do(t *testing.T, method, path string, body any, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		rd = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, rd)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.web.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &m); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return m
}

func TestQuery_ReturnsAnswerAndMatches(t *testing.T) {
	env := newTestEnv(t, &stubRetriever{results: sampleResults}, nil)

	rec := env.do(t, http.MethodPost, "/api/query", map[string]any{"query": "refund?", "k": 2, "return_snippets": true}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	want := "Based on our knowledge base:\n\nRefunds take 5 days.\n\nContact support by email."
	if body["answer"] != want {
		t.Errorf("answer = %q, want %q", body["answer"], want)
	}
	if body["cached"] != false {
		t.Errorf("cached = %v", body["cached"])
	}
	matches, ok := body["matches"].([]any)
	if !ok || len(matches) != 2 {
		t.Fatalf("matches = %v", body["matches"])
	}
	sid, _ := body["session_id"].(string)
	if sid == "" || rec.Header().Get(sessionHeader) != sid {
		t.Errorf("session id %q, header %q", sid, rec.Header().Get(sessionHeader))
	}
}

func TestQuery_OmitsMatchesUnlessRequested(t *testing.T) {
	env := newTestEnv(t, &stubRetriever{results: sampleResults}, nil)
	rec := env.do(t, http.MethodPost, "/api/query", map[string]any{"query": "refund?"}, nil)
	if _, ok := decodeBody(t, rec)["matches"]; ok {
		t.Error("matches should be omitted")
	}
}

func TestQuery_CachedAnswerFlagsMissingSnippets(t *testing.T) {
	asm, err := answer.New(answer.Config{
		Retriever: &stubRetriever{results: sampleResults},
		Generator: provider.NewExtractive(),
		Cache:     cache.New(cache.Config{TTL: time.Hour, Logger: testLogger()}),
		Logger:    testLogger(),
	})
	if err != nil {
		t.Fatal(err)
	}
	env := newTestEnv(t, &stubRetriever{results: sampleResults}, func(c *WebConfig) { c.Answerer = asm })
	q := map[string]any{"query": "refund?", "return_snippets": true}

	first := decodeBody(t, env.do(t, http.MethodPost, "/api/query", q, nil))
	if _, ok := first["snippets_unavailable"]; ok {
		t.Fatalf("fresh answer should carry its matches: %v", first)
	}
	second := decodeBody(t, env.do(t, http.MethodPost, "/api/query", q, nil))
	if second["cached"] != true || second["snippets_unavailable"] != true {
		t.Fatalf("cached answer should flag missing snippets: %v", second)
	}
	if m, ok := second["matches"].([]any); !ok || len(m) != 0 {
		t.Fatalf("matches = %v, want empty list", second["matches"])
	}
}

func TestQuery_BadInput(t *testing.T) {
	env := newTestEnv(t, &stubRetriever{results: sampleResults}, nil)

	for name, body := range map[string]any{
		"empty query": map[string]any{"query": "   "},
		"negative k":  map[string]any{"query": "x", "k": -1},
		"not json":    "oops",
	} {
		rec := env.do(t, http.MethodPost, "/api/query", body, nil)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", name, rec.Code)
		}
	}
}

func TestQuery_ErrorMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{domain.ErrIndexNotReady, http.StatusConflict},
		{domain.ErrEmbedding, http.StatusBadGateway},
	}
	for _, tc := range cases {
		env := newTestEnv(t, &stubRetriever{err: tc.err}, nil)
		for _, path := range []string{"/api/query", "/api/chat"} {
			rec := env.do(t, http.MethodPost, path, map[string]any{"query": "x"}, nil)
			if rec.Code != tc.want {
				t.Errorf("%s with %v: status = %d, want %d", path, tc.err, rec.Code, tc.want)
			}
			if !strings.Contains(rec.Body.String(), tc.err.Error()) {
				t.Errorf("%s body = %q", path, rec.Body.String())
			}
		}
	}
}

func TestChat_PlainTextStream(t *testing.T) {
	env := newTestEnv(t, &stubRetriever{results: sampleResults[:1]}, nil)

	rec := env.do(t, http.MethodPost, "/api/chat", map[string]any{"query": "refund?"}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("content type = %q", ct)
	}
	if got, want := rec.Body.String(), "Based on our knowledge base:\n\nRefunds take 5 days."; got != want {
		t.Errorf("body = %q, want %q", got, want)
	}
}

func TestChat_SSEEventOrder(t *testing.T) {
	env := newTestEnv(t, &stubRetriever{results: sampleResults}, nil)

	rec := env.do(t, http.MethodPost, "/api/chat",
		map[string]any{"query": "refund?", "return_snippets": true},
		map[string]string{"Accept": "text/event-stream"})
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}

	var types []string
	for _, line := range strings.Split(rec.Body.String(), "\n") {
		if name, ok := strings.CutPrefix(line, "event: "); ok {
			types = append(types, name)
		}
	}
	if len(types) < 3 || types[0] != "snippets" || types[len(types)-1] != "done" {
		t.Fatalf("event order = %v", types)
	}
	for _, typ := range types[1 : len(types)-1] {
		if typ != "token" {
			t.Errorf("unexpected middle event %q in %v", typ, types)
		}
	}
}

func TestChat_SSEWithoutSnippets(t *testing.T) {
	env := newTestEnv(t, &stubRetriever{results: sampleResults}, nil)
	rec := env.do(t, http.MethodPost, "/api/chat", map[string]any{"query": "refund?"},
		map[string]string{"Accept": "text/event-stream"})
	if strings.Contains(rec.Body.String(), "event: snippets") {
		t.Errorf("snippets sent without return_snippets: %q", rec.Body.String())
	}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, &stubRetriever{}, nil)
	body := decodeBody(t, env.do(t, http.MethodGet, "/api/health", nil, nil))
	if body["status"] != "ok" || body["ready"] != true {
		t.Errorf("health = %v", body)
	}
	if body["chunks"] != float64(4) || body["sources"] != float64(2) {
		t.Errorf("counts = %v/%v", body["chunks"], body["sources"])
	}
	if body["generator"] != "extractive" {
		t.Errorf("generator = %v", body["generator"])
	}
}

func TestSearch(t *testing.T) {
	env := newTestEnv(t, &stubRetriever{}, nil)

	rec := env.do(t, http.MethodGet, "/api/search?q=refund&limit=1", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if results := decodeBody(t, rec)["results"].([]any); len(results) != 1 {
		t.Errorf("results = %v", results)
	}

	if rec := env.do(t, http.MethodGet, "/api/search", nil, nil); rec.Code != http.StatusBadRequest {
		t.Errorf("missing q: status = %d", rec.Code)
	}
	if rec := env.do(t, http.MethodGet, "/api/search?q=x&limit=zero", nil, nil); rec.Code != http.StatusBadRequest {
		t.Errorf("bad limit: status = %d", rec.Code)
	}
}

func TestSearch_NoCorpus(t *testing.T) {
	env := newTestEnv(t, &stubRetriever{}, nil)
	env.corpus.fuzzyErr = domain.ErrNoCorpus

	rec := env.do(t, http.MethodGet, "/api/search?q=refund", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["no_corpus"] != true {
		t.Errorf("no_corpus = %v", body["no_corpus"])
	}
	if results, ok := body["results"].([]any); !ok || len(results) != 0 {
		t.Errorf("results = %v", body["results"])
	}
}

func TestMenu(t *testing.T) {
	env := newTestEnv(t, &stubRetriever{}, nil)
	body := decodeBody(t, env.do(t, http.MethodGet, "/api/menu", nil, nil))
	if topics := body["topics"].([]any); len(topics) != 2 || topics[0] != "Refunds" {
		t.Errorf("topics = %v", topics)
	}
}

func TestIngest(t *testing.T) {
	env := newTestEnv(t, &stubRetriever{}, nil)
	rec := env.do(t, http.MethodPost, "/api/ingest", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["status"] != "indexed" || body["generation"] != float64(3) {
		t.Errorf("report = %v", body)
	}
}

func TestHistoryAndFeedback(t *testing.T) {
	env := newTestEnv(t, &stubRetriever{results: sampleResults}, nil)

	env.do(t, http.MethodPost, "/api/query", map[string]any{"query": "refund?", "session_id": "s1"}, nil)
	env.asm.Wait()

	body := decodeBody(t, env.do(t, http.MethodGet, "/api/history/s1", nil, nil))
	msgs := body["messages"].([]any)
	if len(msgs) != 2 {
		t.Fatalf("messages = %v", msgs)
	}
	first := msgs[0].(map[string]any)
	if first["role"] != "user" || first["content"] != "refund?" {
		t.Errorf("first message = %v", first)
	}
	answerID := msgs[1].(map[string]any)["id"]

	rec := env.do(t, http.MethodPost, "/api/feedback/message", map[string]any{"message_id": answerID, "feedback": "up"}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("feedback status = %d: %s", rec.Code, rec.Body.String())
	}
	if votes := env.ledger.Votes(); len(votes) != 1 || votes[0].Vote != domain.VoteUp {
		t.Errorf("votes = %v", votes)
	}

	rec = env.do(t, http.MethodPost, "/api/feedback/message", map[string]any{"message_id": 999, "feedback": "down"}, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown message: status = %d", rec.Code)
	}
	rec = env.do(t, http.MethodPost, "/api/feedback/message", map[string]any{"message_id": answerID, "feedback": "meh"}, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad vote: status = %d", rec.Code)
	}
}

func TestSessionFeedback(t *testing.T) {
	env := newTestEnv(t, &stubRetriever{}, nil)

	rec := env.do(t, http.MethodPost, "/api/feedback/session", map[string]any{"session_id": "s1", "rating": 4}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if r := env.ledger.Ratings(); len(r) != 1 || r[0].Rating != 4 {
		t.Errorf("ratings = %v", r)
	}
	for _, rating := range []int{0, 6} {
		rec := env.do(t, http.MethodPost, "/api/feedback/session", map[string]any{"session_id": "s1", "rating": rating}, nil)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("rating %d: status = %d", rating, rec.Code)
		}
	}
}

func TestFeedbackDisabled(t *testing.T) {
	env := newTestEnv(t, &stubRetriever{}, func(c *WebConfig) {
		c.Feedback = nil
		c.History = nil
	})
	if rec := env.do(t, http.MethodPost, "/api/feedback/session", map[string]any{"rating": 3}, nil); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("feedback: status = %d", rec.Code)
	}
	if rec := env.do(t, http.MethodGet, "/api/history/s1", nil, nil); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("history: status = %d", rec.Code)
	}
}

func TestRateLimit(t *testing.T) {
	env := newTestEnv(t, &stubRetriever{}, func(c *WebConfig) {
		c.RateLimit = 0.001
		c.RateBurst = 1
	})
	if rec := env.do(t, http.MethodGet, "/api/search?q=a", nil, nil); rec.Code != http.StatusOK {
		t.Fatalf("first request: status = %d", rec.Code)
	}
	rec := env.do(t, http.MethodGet, "/api/search?q=a", nil, nil)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second request: status = %d, want 429", rec.Code)
	}
	// Health is not limited.
	if rec := env.do(t, http.MethodGet, "/api/health", nil, nil); rec.Code != http.StatusOK {
		t.Errorf("health: status = %d", rec.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, &stubRetriever{results: sampleResults}, nil)
	env.do(t, http.MethodPost, "/api/query", map[string]any{"query": "refund?"}, nil)

	rec := env.do(t, http.MethodGet, "/metrics", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "docbot_queries_total") {
		t.Errorf("metrics output missing docbot_queries_total")
	}
}

func TestConfigAPI(t *testing.T) {
	cfg := config.Defaults()
	cfg.Providers["openai"] = config.ProviderConfig{Enabled: true, APIKey: "sk-secret-value"}
	env := newTestEnv(t, &stubRetriever{}, func(c *WebConfig) { c.Config = cfg })

	rec := env.do(t, http.MethodGet, "/api/config", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "sk-secret-value") {
		t.Error("config response leaks api key")
	}

	rec = env.do(t, http.MethodPut, "/api/config", map[string]any{"path": "knowledge.searchTopK", "value": 7}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("update status = %d: %s", rec.Code, rec.Body.String())
	}
	if cfg.Knowledge.SearchTopK != 7 {
		t.Errorf("searchTopK = %d", cfg.Knowledge.SearchTopK)
	}

	rec = env.do(t, http.MethodPut, "/api/config", map[string]any{"path": "knowledge.metric", "value": "cosine"}, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("invalid update: status = %d", rec.Code)
	}
	if cfg.Knowledge.Metric != "l2" {
		t.Errorf("failed update changed metric to %q", cfg.Knowledge.Metric)
	}
}

func TestWebSocketStreamsFrames(t *testing.T) {
	env := newTestEnv(t, &stubRetriever{results: sampleResults}, nil)
	srv := httptest.NewServer(env.web.Handler())
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/api/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var hello WSMessage
	if err := conn.ReadJSON(&hello); err != nil || hello.Type != "status" {
		t.Fatalf("hello = %+v, err = %v", hello, err)
	}

	if err := conn.WriteJSON(map[string]any{"query": "refund?", "k": 1, "session_id": "ws1"}); err != nil {
		t.Fatal(err)
	}

	var frames []WSMessage
	for {
		var msg WSMessage
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read: %v", err)
		}
		frames = append(frames, msg)
		if msg.Type == "done" || msg.Type == "error" {
			break
		}
	}
	if frames[0].Type != "snippets" || len(frames[0].Results) != 1 {
		t.Errorf("first frame = %+v", frames[0])
	}
	if last := frames[len(frames)-1]; last.Type != "done" || last.SessionID != "ws1" {
		t.Errorf("last frame = %+v", last)
	}
	var text strings.Builder
	for _, f := range frames {
		if f.Type == "token" {
			text.WriteString(f.Content)
		}
	}
	if !strings.Contains(text.String(), "Refunds take 5 days.") {
		t.Errorf("streamed text = %q", text.String())
	}
}
