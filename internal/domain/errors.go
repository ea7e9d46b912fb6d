package domain

import "errors"

var (
	// ErrIndexNotReady is returned when no generation has been built yet.
	ErrIndexNotReady = errors.New("index not ready: run ingest first")
	// ErrEmbedding wraps failures of the external embedder.
	ErrEmbedding = errors.New("embedding failed")
	// ErrGenerator wraps failures of the external answer generator.
	ErrGenerator = errors.New("generation failed")
	// ErrNotFound means a chunk id lies outside the current generation.
	ErrNotFound = errors.New("chunk not found")
	// ErrNoCorpus is returned by searches over an empty corpus.
	ErrNoCorpus = errors.New("no corpus loaded")
	// ErrDimensionMismatch means embeddings of one generation disagree on size.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)

// ErrMessageNotFound is returned when feedback targets an unknown message.
var ErrMessageNotFound = errors.New("message not found")
