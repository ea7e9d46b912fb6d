package provider

import (
	"context"
	"fmt"
	"hash/fnv"

	"docbot/internal/textutil"
	"docbot/internal/vector"
)

const defaultHashingDims = 384

// Hashing is a local embedder that needs no model: each term is hashed into
// one of dims buckets with a hash-derived sign, and the vector is scaled to
// unit length. Bigrams are added so word order carries some weight.
type Hashing struct {
	dims int
}

func NewHashing(dims int) *Hashing {
	if dims <= 0 {
		dims = defaultHashingDims
	}
	return &Hashing{dims: dims}
}

func (h *Hashing) Name() string { return fmt.Sprintf("hashing:%d", h.dims) }

func (h *Hashing) Dims() int { return h.dims }

func (h *Hashing) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = h.embedOne(text)
	}
	return out, nil
}

func (h *Hashing) embedOne(text string) []float32 {
	v := make([]float32, h.dims)
	terms := textutil.Terms(text)
	if len(terms) == 0 {
		// All-stopword input still gets a vector.
		terms = textutil.Tokenize(text)
	}
	for i, t := range terms {
		h.add(v, t, 1)
		if i > 0 {
			h.add(v, terms[i-1]+" "+t, 0.5)
		}
	}
	return vector.Normalize(v)
}

func (h *Hashing) add(v []float32, feature string, weight float32) {
	hf := fnv.New64a()
	hf.Write([]byte(feature))
	sum := hf.Sum64()
	idx := int(sum % uint64(h.dims))
	if sum>>63 == 1 {
		weight = -weight
	}
	v[idx] += weight
}
