package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"docbot/internal/answer"
	"docbot/internal/config"
	"docbot/internal/domain"
)

func TestMain(m *testing.M) {
	logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	os.Exit(m.Run())
}

// testConfig runs fully offline: hashing embedder, extractive generator,
// in-memory cache and ledger.
func testConfig(t *testing.T, docs map[string]string) *config.Config {
	t.Helper()
	dir := t.TempDir()
	for name, body := range docs {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	cfg := config.Defaults()
	cfg.General.DataDir = dir
	cfg.Generator.Provider = "extractive"
	cfg.Generator.FailoverChain = nil
	cfg.Cache.Backend = "memory"
	cfg.Memory.Enabled = false
	return cfg
}

var feeDocs = map[string]string{
	"fees.txt":     "The fee is $10.",
	"payments.txt": "Payments are due monthly.",
}

func TestPipelineAnswersFromDataDir(t *testing.T) {
	cfg := testConfig(t, feeDocs)
	p, err := buildPipeline(context.Background(), cfg, pipelineOptions{ingest: true, requireCorpus: true})
	if err != nil {
		t.Fatalf("buildPipeline: %v", err)
	}
	defer p.Close()

	st := p.engine.Status()
	if !st.Ready || st.Chunks != 2 || st.Sources != 2 {
		t.Fatalf("status = %+v, want ready with 2 chunks from 2 sources", st)
	}

	res, err := p.assembler.Collect(context.Background(), answer.Request{Query: "what is the fee", K: 1, SessionID: "t"})
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if !strings.HasPrefix(res.Answer, "Based on our knowledge base:") {
		t.Errorf("answer = %q, want extractive prefix", res.Answer)
	}
	if len(res.Results) != 1 || res.Results[0].Source != "fees.txt" {
		t.Errorf("results = %+v, want fees.txt on top", res.Results)
	}
}

func TestPipelineRebuildPurgesCache(t *testing.T) {
	cfg := testConfig(t, feeDocs)
	p, err := buildPipeline(context.Background(), cfg, pipelineOptions{ingest: true, requireCorpus: true})
	if err != nil {
		t.Fatalf("buildPipeline: %v", err)
	}
	defer p.Close()

	ctx := context.Background()
	req := answer.Request{Query: "when are payments due", K: 1}
	if _, err := p.assembler.Collect(ctx, req); err != nil {
		t.Fatal(err)
	}
	res, err := p.assembler.Collect(ctx, req)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Cached {
		t.Fatal("second identical query should be served from cache")
	}

	if _, err := p.ingest(ctx); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	res, err = p.assembler.Collect(ctx, req)
	if err != nil {
		t.Fatal(err)
	}
	if res.Cached {
		t.Error("cache should be empty after a rebuild")
	}
}

func TestPipelineRequireCorpus(t *testing.T) {
	cfg := testConfig(t, nil)
	cfg.General.DataDir = filepath.Join(cfg.General.DataDir, "missing")

	if _, err := buildPipeline(context.Background(), cfg, pipelineOptions{ingest: true, requireCorpus: true}); err == nil {
		t.Fatal("expected an error for a missing data dir")
	}

	p, err := buildPipeline(context.Background(), cfg, pipelineOptions{ingest: true})
	if err != nil {
		t.Fatalf("lenient build should succeed: %v", err)
	}
	defer p.Close()
	_, err = p.assembler.Collect(context.Background(), answer.Request{Query: "anything"})
	if !errors.Is(err, domain.ErrIndexNotReady) {
		t.Errorf("err = %v, want ErrIndexNotReady", err)
	}
}

func TestPipelineRecordsHistoryInSQLite(t *testing.T) {
	cfg := testConfig(t, feeDocs)
	cfg.Memory.Enabled = true
	cfg.Memory.DBPath = filepath.Join(t.TempDir(), "docbot.db")
	cfg.Cache.Backend = "sqlite"

	p, err := buildPipeline(context.Background(), cfg, pipelineOptions{ingest: true, requireCorpus: true})
	if err != nil {
		t.Fatalf("buildPipeline: %v", err)
	}
	defer p.Close()

	ctx := context.Background()
	if _, err := p.assembler.Collect(ctx, answer.Request{Query: "what is the fee", SessionID: "s1"}); err != nil {
		t.Fatal(err)
	}
	p.assembler.Wait()

	msgs, err := p.store.Read(ctx, "s1", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 || msgs[0].Role != domain.RoleUser || msgs[1].Role != domain.RoleAssistant {
		t.Fatalf("history = %+v, want user then assistant", msgs)
	}

	res, err := p.assembler.Collect(ctx, answer.Request{Query: "what is the fee"})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Cached {
		t.Error("sqlite cache should serve the repeated query")
	}
}

func TestBuildChannelsSkipsBotsWithoutCredentials(t *testing.T) {
	cfg := testConfig(t, feeDocs)
	cfg.Channels.Telegram.Enabled = true
	cfg.Channels.Slack.Enabled = true
	cfg.Channels.Slack.BotToken = "xoxb-only"

	p, err := buildPipeline(context.Background(), cfg, pipelineOptions{})
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	channels := buildChannels(cfg, p)
	if len(channels) != 1 || channels[0].Name() != "web" {
		names := make([]string, len(channels))
		for i, ch := range channels {
			names[i] = ch.Name()
		}
		t.Fatalf("channels = %v, want [web]", names)
	}
}

func TestSetupLoggerOverride(t *testing.T) {
	prev := logger
	defer func() { logger = prev; logLevel = "" }()

	cfg := config.Defaults()
	cfg.General.LogFormat = "json"
	logLevel = "debug"
	setupLogger(cfg)
	if !logger.Enabled(context.Background(), slog.LevelDebug) {
		t.Error("--log-level debug should enable debug logging")
	}
}
