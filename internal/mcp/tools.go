package mcp

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"docbot/internal/answer"
	"docbot/internal/domain"
)

const (
	defaultSearchK    = 5
	defaultFuzzyLimit = 5
	maxSearchK        = 50
)

// SearchInput is the input schema for the search and fuzzy_search tools.
type SearchInput struct {
	Query string `json:"query" jsonschema:"the text to search the knowledge base for"`
	Limit int    `json:"limit,omitempty" jsonschema:"maximum number of results to return (default 5)"`
}

// SearchOutput is the output schema for the search tools.
type SearchOutput struct {
	Results  []domain.RetrievalResult `json:"results"`
	Count    int                      `json:"count"`
	NoCorpus bool                     `json:"no_corpus,omitempty"`
}

// AskInput is the input schema for the ask tool.
type AskInput struct {
	Question  string `json:"question" jsonschema:"the question to answer from the knowledge base"`
	K         int    `json:"k,omitempty" jsonschema:"number of chunks to ground the answer on"`
	SessionID string `json:"session_id,omitempty" jsonschema:"optional conversation id for history"`
}

// AskOutput is the output schema for the ask tool.
type AskOutput struct {
	Answer  string                   `json:"answer"`
	Cached  bool                     `json:"cached"`
	Sources []domain.RetrievalResult `json:"sources,omitempty"`
	Error   string                   `json:"error,omitempty"`
}

// StatusInput takes no arguments.
type StatusInput struct{}

// StatusOutput is the output schema for the status tool.
type StatusOutput struct {
	Ready      bool   `json:"ready"`
	Generation uint64 `json:"generation"`
	Chunks     int    `json:"chunks"`
	Sources    int    `json:"sources"`
	Metric     string `json:"metric,omitempty"`
	Dimensions int    `json:"dimensions,omitempty"`
	BuiltAt    string `json:"built_at,omitempty"`
}

// registerTools registers all tool handlers with the MCP server.
func (s *Server) registerTools() {
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "search",
		Description: "Semantic search over the indexed documents; returns the closest chunks",
	}, s.handleSearch)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "fuzzy_search",
		Description: "Typo-tolerant keyword search over the indexed documents",
	}, s.handleFuzzySearch)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "status",
		Description: "Report whether the index is ready and how many chunks and sources it holds",
	}, s.handleStatus)

	if s.ports.Answerer != nil {
		mcp.AddTool(s.server, &mcp.Tool{
			Name:        "ask",
			Description: "Answer a question using the knowledge base as context",
		}, s.handleAsk)
	}
}

func (s *Server) handleSearch(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input SearchInput,
) (*mcp.CallToolResult, SearchOutput, error) {
	if strings.TrimSpace(input.Query) == "" {
		return nil, SearchOutput{}, answer.ErrEmptyQuery
	}
	k := input.Limit
	if k <= 0 {
		k = defaultSearchK
	}
	if k > maxSearchK {
		k = maxSearchK
	}

	results, err := s.ports.Retriever.Retrieve(ctx, input.Query, k)
	if err != nil {
		return nil, SearchOutput{}, err
	}
	return nil, SearchOutput{Results: nonNil(results), Count: len(results)}, nil
}

func (s *Server) handleFuzzySearch(
	_ context.Context,
	_ *mcp.CallToolRequest,
	input SearchInput,
) (*mcp.CallToolResult, SearchOutput, error) {
	if strings.TrimSpace(input.Query) == "" {
		return nil, SearchOutput{}, answer.ErrEmptyQuery
	}
	limit := input.Limit
	if limit <= 0 {
		limit = defaultFuzzyLimit
	}

	results, err := s.ports.Corpus.FuzzySearch(input.Query, limit)
	if errors.Is(err, domain.ErrNoCorpus) {
		return nil, SearchOutput{Results: []domain.RetrievalResult{}, NoCorpus: true}, nil
	}
	if err != nil {
		return nil, SearchOutput{}, err
	}
	return nil, SearchOutput{Results: nonNil(results), Count: len(results)}, nil
}

func (s *Server) handleAsk(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input AskInput,
) (*mcp.CallToolResult, AskOutput, error) {
	res, err := s.ports.Answerer.Collect(ctx, answer.Request{
		Query:     input.Question,
		K:         input.K,
		SessionID: input.SessionID,
	})
	if err != nil {
		return nil, AskOutput{}, err
	}
	out := AskOutput{Answer: res.Answer, Cached: res.Cached, Sources: res.Results}
	if res.Err != nil {
		out.Error = res.Err.Error()
	}
	return nil, out, nil
}

func (s *Server) handleStatus(
	_ context.Context,
	_ *mcp.CallToolRequest,
	_ StatusInput,
) (*mcp.CallToolResult, StatusOutput, error) {
	st := s.ports.Corpus.Status()
	out := StatusOutput{
		Ready:      st.Ready,
		Generation: st.Generation,
		Chunks:     st.Chunks,
		Sources:    st.Sources,
		Metric:     st.Metric,
		Dimensions: st.Dimensions,
	}
	if !st.BuiltAt.IsZero() {
		out.BuiltAt = st.BuiltAt.UTC().Format(time.RFC3339)
	}
	return nil, out, nil
}

func nonNil(r []domain.RetrievalResult) []domain.RetrievalResult {
	if r == nil {
		return []domain.RetrievalResult{}
	}
	return r
}
