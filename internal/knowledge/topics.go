package knowledge

import (
	"regexp"
	"sort"
	"strings"

	"docbot/internal/textutil"
)

const maxKeywordTopics = 10

var headingRe = regexp.MustCompile(`(?m)^#+[ \t]+(.+?)[ \t]*$`)

// ExtractTopics lists markdown headings across docs in order of appearance.
// When there are none it falls back to the most frequent non-stopword terms.
// Results are deduplicated and capped at limit.
func ExtractTopics(docs []string, limit int) []string {
	if limit <= 0 {
		limit = 15
	}
	var items []string
	for _, d := range docs {
		for _, m := range headingRe.FindAllStringSubmatch(d, -1) {
			if h := strings.TrimSpace(strings.Trim(m[1], "# ")); h != "" {
				items = append(items, h)
			}
		}
	}
	if len(items) == 0 {
		items = topTerms(docs, maxKeywordTopics)
	}

	seen := make(map[string]struct{}, len(items))
	out := make([]string, 0, min(len(items), limit))
	for _, it := range items {
		if _, ok := seen[it]; ok {
			continue
		}
		seen[it] = struct{}{}
		out = append(out, it)
		if len(out) == limit {
			break
		}
	}
	return out
}

func topTerms(docs []string, n int) []string {
	counts := make(map[string]int)
	for _, d := range docs {
		for _, t := range textutil.Terms(d) {
			if len([]rune(t)) < 2 {
				continue
			}
			counts[t]++
		}
	}
	terms := make([]string, 0, len(counts))
	for t := range counts {
		terms = append(terms, t)
	}
	sort.Slice(terms, func(i, j int) bool {
		if counts[terms[i]] != counts[terms[j]] {
			return counts[terms[i]] > counts[terms[j]]
		}
		return terms[i] < terms[j]
	})
	if len(terms) > n {
		terms = terms[:n]
	}
	return terms
}
