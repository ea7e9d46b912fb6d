package knowledge

import (
	"sort"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"

	"docbot/internal/domain"
	"docbot/internal/textutil"
)

// FuzzySearch ranks chunks by approximate token matching against the query,
// independent of embeddings. Each query token scores its closest chunk token
// by normalized edit distance; a chunk's score is the mean over query tokens.
// It fails with ErrNoCorpus when chunks is empty.
func FuzzySearch(chunks []domain.Chunk, query string, limit int) ([]domain.RetrievalResult, error) {
	if len(chunks) == 0 {
		return nil, domain.ErrNoCorpus
	}
	if limit <= 0 {
		limit = 5
	}
	qTokens := dedupe(textutil.Terms(query))
	if len(qTokens) == 0 {
		qTokens = dedupe(textutil.Tokenize(query))
	}
	if len(qTokens) == 0 {
		return []domain.RetrievalResult{}, nil
	}

	type scored struct {
		chunk domain.Chunk
		score float64
	}
	var ranked []scored
	for _, c := range chunks {
		cTokens := dedupe(textutil.Tokenize(c.Text))
		if len(cTokens) == 0 {
			continue
		}
		var total float64
		for _, qt := range qTokens {
			best := 0.0
			for _, ct := range cTokens {
				if s := Similarity(qt, ct); s > best {
					best = s
					if best == 1 {
						break
					}
				}
			}
			total += best
		}
		if score := total / float64(len(qTokens)); score > 0 {
			ranked = append(ranked, scored{chunk: c, score: score})
		}
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		return ranked[i].chunk.ID < ranked[j].chunk.ID
	})
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}

	out := make([]domain.RetrievalResult, len(ranked))
	for i, r := range ranked {
		out[i] = domain.RetrievalResult{ChunkID: r.chunk.ID, Score: r.score, Text: r.chunk.Text, Source: r.chunk.Source}
	}
	return out, nil
}

// Similarity is 1 - levenshtein(a, b) / max(len(a), len(b)), in [0, 1].
// Lengths and edits are counted in runes.
func Similarity(a, b string) float64 {
	longest := max(utf8.RuneCountInString(a), utf8.RuneCountInString(b))
	if longest == 0 {
		return 1
	}
	return 1 - float64(levenshtein.ComputeDistance(a, b))/float64(longest)
}

func dedupe(tokens []string) []string {
	seen := make(map[string]struct{}, len(tokens))
	out := tokens[:0]
	for _, t := range tokens {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
