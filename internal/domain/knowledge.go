package domain

import (
	"context"
	"time"
)

// Document is raw text produced by a loader before chunking.
type Document struct {
	Source string `json:"source"`
	Text   string `json:"text"`
}

// Chunk is the atomic retrievable unit. IDs are dense within one generation.
type Chunk struct {
	ID     int    `json:"id"`
	Source string `json:"source"`
	Text   string `json:"text"`
}

// RetrievalResult combines a chunk with its similarity for one query.
// Higher scores are more relevant.
type RetrievalResult struct {
	ChunkID int     `json:"chunk_id"`
	Score   float64 `json:"score"`
	Text    string  `json:"text"`
	Source  string  `json:"source"`
}

// Loader extracts raw text from one file format.
type Loader interface {
	Load(path string) (string, error)
}

// RecordLoader is implemented by loaders whose files hold independent
// records (e.g. FAQ entries) that must be chunked one by one.
type RecordLoader interface {
	Loader
	LoadRecords(path string) ([]string, error)
}

// Embedder maps texts to fixed-dimension vectors. Deterministic for a fixed model.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Name() string
}

// CorpusStatus describes the published generation.
type CorpusStatus struct {
	Ready      bool      `json:"ready"`
	Generation uint64    `json:"generation"`
	Chunks     int       `json:"chunks"`
	Sources    int       `json:"sources"`
	Metric     string    `json:"metric,omitempty"`
	Dimensions int       `json:"dimensions,omitempty"`
	BuiltAt    time.Time `json:"built_at,omitzero"`
}

// SkippedDocument records a document that failed to load during ingest.
type SkippedDocument struct {
	Source string `json:"source"`
	Reason string `json:"reason"`
}
