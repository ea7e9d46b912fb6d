package loader

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docbot/internal/domain"
)

func TestDirScanner_Scan(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "b.txt", "The fee is $10.")
	writeFile(t, dir, "a.md", "# Rules\nBe kind.")
	writeFile(t, dir, "nested/c.txt", "Nested text.")
	writeFile(t, dir, ".hidden.txt", "secret")
	writeFile(t, dir, ".git/config", "ignored")
	writeFile(t, dir, "image.png", "binary")
	writeFile(t, dir, "empty.txt", "   ")
	writeFile(t, dir, "faq.json", `[{"question":"Q1","answer":"A1"},{"question":"Q2","answer":"A2"}]`)

	s := NewDirScanner(ScannerConfig{Root: dir, Workers: 2, Logger: quietLogger()})
	docs, skipped, err := s.Scan(context.Background())
	require.NoError(t, err)
	assert.Empty(t, skipped)

	assert.Equal(t, []domain.Document{
		{Source: "a.md", Text: "# Rules\nBe kind."},
		{Source: "b.txt", Text: "The fee is $10."},
		{Source: "faq.json", Text: "Q: Q1\nA: A1"},
		{Source: "faq.json", Text: "Q: Q2\nA: A2"},
		{Source: "nested/c.txt", Text: "Nested text."},
	}, docs)
}

func TestDirScanner_IsolatesBadDocuments(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "good.txt", "fine")
	writeFile(t, dir, "faq.json", "{broken")

	s := NewDirScanner(ScannerConfig{Root: dir, Logger: quietLogger()})
	docs, skipped, err := s.Scan(context.Background())
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "good.txt", docs[0].Source)
	require.Len(t, skipped, 1)
	assert.Equal(t, "faq.json", skipped[0].Source)
	assert.NotEmpty(t, skipped[0].Reason)
}

func TestDirScanner_MissingRoot(t *testing.T) {
	s := NewDirScanner(ScannerConfig{Root: "/nonexistent/docbot-data", Logger: quietLogger()})
	_, _, err := s.Scan(context.Background())
	assert.Error(t, err)
}

func TestDirScanner_LoadFile(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "x.txt", "hello")
	s := NewDirScanner(ScannerConfig{Root: dir, Logger: quietLogger()})

	docs, err := s.LoadFile(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, []domain.Document{{Source: "x.txt", Text: "hello"}}, docs)

	_, err = s.LoadFile(context.Background(), writeFile(t, dir, "x.bin", "?"))
	assert.Error(t, err)
}

func TestIsHidden(t *testing.T) {
	tests := []struct {
		path     string
		expected bool
	}{
		{".hidden", true},
		{"path/to/.hidden", true},
		{"dir/.git/config", true},
		{"file.txt", false},
		{"path/to/file.txt", false},
		{".", false},
		{"..", false},
		{"path/../file", false},
		{"", false},
		{"file.hidden", false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.expected, IsHidden(tt.path))
		})
	}
}
