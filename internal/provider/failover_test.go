package provider

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"testing"

	"docbot/internal/domain"
)

// mockGenerator streams tokens, then fails with err (if set).
type mockGenerator struct {
	name    string
	healthy bool
	tokens  []string
	err     error
	calls   int
}

func (m *mockGenerator) Name() string { return m.name }

func (m *mockGenerator) Healthy(ctx context.Context) error {
	if !m.healthy {
		return errors.New("unhealthy")
	}
	return nil
}

func (m *mockGenerator) Generate(ctx context.Context, req domain.GenerateRequest, out chan<- domain.StreamEvent) error {
	defer close(out)
	m.calls++
	for _, tok := range m.tokens {
		if err := emit(ctx, out, domain.StreamEvent{Type: domain.StreamToken, Content: tok}); err != nil {
			return err
		}
	}
	if m.err != nil {
		return m.err
	}
	return emit(ctx, out, domain.StreamEvent{Type: domain.StreamDone})
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// drain runs g and returns the concatenated tokens, the event types seen and
// the returned error.
func drain(t *testing.T, g domain.Generator, req domain.GenerateRequest) (string, []domain.StreamEventType, error) {
	t.Helper()
	out := make(chan domain.StreamEvent)
	errc := make(chan error, 1)
	go func() { errc <- g.Generate(context.Background(), req, out) }()

	var sb strings.Builder
	var types []domain.StreamEventType
	for ev := range out {
		types = append(types, ev.Type)
		if ev.Type == domain.StreamToken {
			sb.WriteString(ev.Content)
		}
	}
	return sb.String(), types, <-errc
}

// --- Happy path ---

func TestFailover_FirstSucceeds(t *testing.T) {
	g1 := &mockGenerator{name: "primary", tokens: []string{"from ", "primary"}}
	g2 := &mockGenerator{name: "backup", tokens: []string{"from backup"}}
	f := NewFailover([]domain.Generator{g1, g2}, testLogger())

	text, types, err := drain(t, f, domain.GenerateRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "from primary" {
		t.Fatalf("expected 'from primary', got %q", text)
	}
	if g2.calls != 0 {
		t.Fatal("backup should not have been called")
	}
	if types[len(types)-1] != domain.StreamDone {
		t.Fatalf("expected final done event, got %v", types)
	}
}

func TestFailover_FallsThroughBeforeFirstToken(t *testing.T) {
	g1 := &mockGenerator{name: "primary", err: errors.New("connection refused")}
	g2 := &mockGenerator{name: "backup", tokens: []string{"from backup"}}
	f := NewFailover([]domain.Generator{g1, g2}, testLogger())

	text, types, err := drain(t, f, domain.GenerateRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "from backup" {
		t.Fatalf("expected 'from backup', got %q", text)
	}
	var dones int
	for _, ty := range types {
		if ty == domain.StreamDone {
			dones++
		}
	}
	if dones != 1 {
		t.Fatalf("expected exactly one done event, got %d", dones)
	}
}

// --- Error path ---

func TestFailover_NoFallbackAfterTokens(t *testing.T) {
	boom := errors.New("stream broke")
	g1 := &mockGenerator{name: "primary", tokens: []string{"partial"}, err: boom}
	g2 := &mockGenerator{name: "backup", tokens: []string{"other answer"}}
	f := NewFailover([]domain.Generator{g1, g2}, testLogger())

	text, _, err := drain(t, f, domain.GenerateRequest{})
	if !errors.Is(err, boom) {
		t.Fatalf("expected the primary's error, got %v", err)
	}
	if text != "partial" {
		t.Fatalf("expected only the partial output, got %q", text)
	}
	if g2.calls != 0 {
		t.Fatal("backup must not run after tokens were streamed")
	}
}

func TestFailover_AllFail(t *testing.T) {
	last := errors.New("fail2")
	g1 := &mockGenerator{name: "fail1", err: errors.New("fail1")}
	g2 := &mockGenerator{name: "fail2", err: last}
	f := NewFailover([]domain.Generator{g1, g2}, testLogger())

	_, _, err := drain(t, f, domain.GenerateRequest{})
	if !errors.Is(err, last) {
		t.Fatalf("expected wrapped last error, got %v", err)
	}
}

func TestFailover_Empty(t *testing.T) {
	f := NewFailover(nil, testLogger())
	if _, _, err := drain(t, f, domain.GenerateRequest{}); err == nil {
		t.Fatal("expected error for empty chain")
	}
}

// --- Health check ---

func TestFailover_Healthy_AtLeastOneHealthy(t *testing.T) {
	f := NewFailover([]domain.Generator{
		&mockGenerator{name: "sick"},
		&mockGenerator{name: "well", healthy: true},
	}, testLogger())
	if err := f.Healthy(context.Background()); err != nil {
		t.Fatalf("expected healthy, got: %v", err)
	}
}

func TestFailover_Healthy_NoneHealthy(t *testing.T) {
	f := NewFailover([]domain.Generator{
		&mockGenerator{name: "sick1"},
		&mockGenerator{name: "sick2"},
	}, testLogger())
	if err := f.Healthy(context.Background()); err == nil {
		t.Fatal("expected unhealthy error")
	}
}

func TestFailover_Name(t *testing.T) {
	f := NewFailover([]domain.Generator{&mockGenerator{name: "ollama"}, NewExtractive()}, testLogger())
	if name := f.Name(); name != "failover(ollama→extractive)" {
		t.Fatalf("expected 'failover(ollama→extractive)', got %q", name)
	}
}
