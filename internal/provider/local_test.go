package provider

import (
	"context"
	"math"
	"testing"

	"docbot/internal/config"
	"docbot/internal/domain"
)

func TestExtractive_StreamsSnippets(t *testing.T) {
	req := domain.GenerateRequest{Results: []domain.RetrievalResult{
		{Text: "The fee is $10."},
		{Text: "Payments are due monthly."},
	}}
	text, _, err := drain(t, NewExtractive(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "Based on our knowledge base:\n\nThe fee is $10.\n\nPayments are due monthly."
	if text != want {
		t.Fatalf("expected %q, got %q", want, text)
	}
}

func norm(v []float32) float64 {
	var s float64
	for _, f := range v {
		s += float64(f) * float64(f)
	}
	return math.Sqrt(s)
}

func dot(a, b []float32) float64 {
	var s float64
	for i := range a {
		s += float64(a[i]) * float64(b[i])
	}
	return s
}

func TestHashing_DeterministicUnitVectors(t *testing.T) {
	h := NewHashing(64)
	a, err := h.Embed(context.Background(), []string{"The fee is $10.", "The fee is $10."})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(a[0]) != 64 {
		t.Fatalf("expected 64 dims, got %d", len(a[0]))
	}
	for i := range a[0] {
		if a[0][i] != a[1][i] {
			t.Fatal("embedding is not deterministic")
		}
	}
	if n := norm(a[0]); math.Abs(n-1) > 1e-5 {
		t.Fatalf("expected unit norm, got %f", n)
	}
}

func TestHashing_SharedTermsScoreHigher(t *testing.T) {
	h := NewHashing(384)
	vecs, _ := h.Embed(context.Background(), []string{
		"what is the fee",
		"The fee is $10.",
		"Payments are due monthly.",
	})
	if dot(vecs[0], vecs[1]) <= dot(vecs[0], vecs[2]) {
		t.Fatal("expected the fee document to be closer to the fee query")
	}
}

func TestHashing_EmptyText(t *testing.T) {
	vecs, _ := NewHashing(8).Embed(context.Background(), []string{""})
	if norm(vecs[0]) != 0 {
		t.Fatal("expected zero vector for empty text")
	}
}

func TestFactory_GeneratorChain(t *testing.T) {
	cfg := config.Defaults()
	f := NewFactory(cfg, testLogger())

	g, err := f.Generator()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if g.Name() != "failover(ollama→extractive)" {
		t.Fatalf("unexpected generator %q", g.Name())
	}

	again, _ := f.Get("ollama")
	first, _ := f.Get("ollama")
	if again != first {
		t.Fatal("expected cached generator instance")
	}
}

func TestFactory_DisabledPrimary(t *testing.T) {
	cfg := config.Defaults()
	cfg.Generator.Provider = "openai"
	if _, err := NewFactory(cfg, testLogger()).Generator(); err == nil {
		t.Fatal("expected error for disabled provider")
	}
}

func TestFactory_Embedder(t *testing.T) {
	cfg := config.Defaults()
	e, err := NewFactory(cfg, testLogger()).Embedder()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if e.Name() != "hashing:384" {
		t.Fatalf("unexpected embedder %q", e.Name())
	}

	cfg.Embedder.Provider = "openai"
	if _, err := NewFactory(cfg, testLogger()).Embedder(); err == nil {
		t.Fatal("expected error for openai embedder without key")
	}
}
