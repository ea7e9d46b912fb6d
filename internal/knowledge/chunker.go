package knowledge

import (
	"fmt"
	"regexp"
	"strings"
)

// ChunkMode selects the splitting strategy.
type ChunkMode string

const (
	// ModeSentence accumulates sentence/paragraph segments up to the size bound.
	ModeSentence ChunkMode = "sentence"
	// ModeFixed slices the text into fixed-width windows.
	ModeFixed ChunkMode = "fixed"
)

// OverlapPolicy controls how sentence chunks borrow context from their predecessor.
type OverlapPolicy string

const (
	// OverlapFit prepends as much of the previous chunk's tail as fits
	// without cutting the chunk's own text.
	OverlapFit OverlapPolicy = "fit"
	// OverlapTruncate prepends the full tail and truncates the merge to the
	// size bound, which can cut the end of the chunk.
	OverlapTruncate OverlapPolicy = "truncate"
	// OverlapNone disables the overlap pass.
	OverlapNone OverlapPolicy = "none"
)

type ChunkerConfig struct {
	Mode    ChunkMode     // default: sentence
	Size    int           // characters per chunk (default: 500)
	Overlap int           // characters carried over (default: 100 when Size is unset)
	Policy  OverlapPolicy // default: fit
}

// Chunker splits document text into bounded, overlapping units.
// Lengths are measured in characters (runes), not bytes.
type Chunker struct {
	mode    ChunkMode
	size    int
	overlap int
	policy  OverlapPolicy
}

func NewChunker(cfg ChunkerConfig) (*Chunker, error) {
	if cfg.Size == 0 {
		cfg.Size = 500
		if cfg.Overlap == 0 {
			cfg.Overlap = 100
		}
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeSentence
	}
	if cfg.Policy == "" {
		cfg.Policy = OverlapFit
	}
	if cfg.Overlap < 0 || cfg.Overlap >= cfg.Size {
		return nil, fmt.Errorf("chunk overlap %d must be >= 0 and < size %d", cfg.Overlap, cfg.Size)
	}
	switch cfg.Mode {
	case ModeSentence, ModeFixed:
	default:
		return nil, fmt.Errorf("unknown chunk mode %q", cfg.Mode)
	}
	switch cfg.Policy {
	case OverlapFit, OverlapTruncate, OverlapNone:
	default:
		return nil, fmt.Errorf("unknown overlap policy %q", cfg.Policy)
	}
	return &Chunker{mode: cfg.Mode, size: cfg.Size, overlap: cfg.Overlap, policy: cfg.Policy}, nil
}

func (c *Chunker) Size() int    { return c.size }
func (c *Chunker) Overlap() int { return c.overlap }

// Chunk splits text according to the configured mode. Empty text yields nil.
func (c *Chunker) Chunk(text string) []string {
	if c.mode == ModeFixed {
		return FixedChunks(text, c.size, c.overlap)
	}
	return applyOverlap(sentenceChunks(text, c.size, c.overlap), c.size, c.overlap, c.policy)
}

// boundaryRe matches terminal punctuation followed by whitespace, or blank-line runs.
var boundaryRe = regexp.MustCompile(`[.!?]\s+|\n\s*\n`)

// splitSegments cuts text into trimmed sentence/paragraph segments.
// Terminal punctuation stays with its sentence.
func splitSegments(text string) []string {
	var segs []string
	add := func(s string) {
		if s = strings.TrimSpace(s); s != "" {
			segs = append(segs, s)
		}
	}
	start := 0
	for _, m := range boundaryRe.FindAllStringIndex(text, -1) {
		end := m[0]
		if strings.ContainsRune(".!?", rune(text[m[0]])) {
			end++
		}
		add(text[start:end])
		start = m[1]
	}
	add(text[start:])
	return segs
}

// sentenceChunks greedily packs segments into chunks of at most size runes.
// Oversized segments are hard-wrapped with a stride of size-overlap.
func sentenceChunks(text string, size, overlap int) []string {
	var (
		chunks []string
		cur    string
		curLen int
	)
	flush := func() {
		if cur != "" {
			chunks = append(chunks, cur)
		}
		cur, curLen = "", 0
	}

	for _, seg := range splitSegments(text) {
		segLen := runeLen(seg)
		switch {
		case cur == "" && segLen <= size:
			cur, curLen = seg, segLen
		case cur != "" && curLen+1+segLen <= size:
			cur += " " + seg
			curLen += 1 + segLen
		default:
			flush()
			if segLen > size {
				chunks = append(chunks, hardWrap(seg, size, size-overlap)...)
			} else {
				cur, curLen = seg, segLen
			}
		}
	}
	flush()
	return chunks
}

// FixedChunks slices text into windows of size runes advancing by size-overlap.
func FixedChunks(text string, size, overlap int) []string {
	text = strings.TrimSpace(text)
	if text == "" || size <= 0 {
		return nil
	}
	stride := size - overlap
	if stride <= 0 {
		stride = size
	}
	return hardWrap(text, size, stride)
}

// hardWrap cuts s into windows of size runes. Whitespace-only windows are
// dropped.
func hardWrap(s string, size, stride int) []string {
	r := []rune(s)
	var out []string
	for i := 0; i < len(r); i += stride {
		end := min(i+size, len(r))
		if w := string(r[i:end]); strings.TrimSpace(w) != "" {
			out = append(out, w)
		}
		if end == len(r) {
			break
		}
	}
	return out
}

// applyOverlap prepends the trailing overlap characters of each previous
// base chunk to the next one, separated by a space.
func applyOverlap(chunks []string, size, overlap int, policy OverlapPolicy) []string {
	if policy == OverlapNone || overlap == 0 || len(chunks) < 2 {
		return chunks
	}
	out := make([]string, 0, len(chunks))
	out = append(out, chunks[0])
	for i := 1; i < len(chunks); i++ {
		prev := []rune(chunks[i-1])
		cur := chunks[i]

		n := min(overlap, len(prev))
		if policy == OverlapFit {
			n = min(n, size-runeLen(cur)-1)
		}
		if n <= 0 {
			out = append(out, cur)
			continue
		}
		tail := strings.TrimSpace(string(prev[len(prev)-n:]))
		merged := strings.TrimSpace(tail + " " + cur)
		if policy == OverlapTruncate {
			merged = strings.TrimSpace(truncateRunes(merged, size))
		}
		if merged != "" {
			out = append(out, merged)
		}
	}
	return out
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func runeLen(s string) int { return len([]rune(s)) }
