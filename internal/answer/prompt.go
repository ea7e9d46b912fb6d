package answer

import (
	"fmt"
	"strings"

	"docbot/internal/domain"
)

const (
	// DefaultSystemPrompt is the system message sent with every prompt.
	DefaultSystemPrompt = "You are a knowledgeable assistant."

	// NoResultsMessage answers queries that retrieve nothing.
	NoResultsMessage = "Sorry, I couldn't find anything relevant."

	promptTemplate = "You are a helpful assistant.\nUse the following context to answer the question.\n\nContext:\n%s\n\nQuestion: %s\nAnswer:"
)

// BuildContext renders results in retrieval order as "From {source}:\n{text}"
// blocks joined by a newline.
func BuildContext(results []domain.RetrievalResult) string {
	blocks := make([]string, len(results))
	for i, r := range results {
		blocks[i] = "From " + r.Source + ":\n" + r.Text
	}
	return strings.Join(blocks, "\n")
}

// BuildPrompt embeds the retrieval context and the query in the fixed template.
func BuildPrompt(query string, results []domain.RetrievalResult) string {
	return fmt.Sprintf(promptTemplate, BuildContext(results), query)
}

// Diagnostic is the text streamed in place of content when generation fails.
func Diagnostic(err error) string {
	return "Error generating response: " + err.Error()
}
