package mcp

import (
	"context"

	"docbot/internal/answer"
	"docbot/internal/domain"
)

type mockRetriever struct {
	results []domain.RetrievalResult
	err     error
	lastK   int
}

func (m *mockRetriever) Retrieve(_ context.Context, _ string, k int) ([]domain.RetrievalResult, error) {
	m.lastK = k
	return m.results, m.err
}

type mockCorpus struct {
	fuzzy     []domain.RetrievalResult
	fuzzyErr  error
	topics    []string
	topicsErr error
	status    domain.CorpusStatus
}

func (m *mockCorpus) FuzzySearch(string, int) ([]domain.RetrievalResult, error) {
	return m.fuzzy, m.fuzzyErr
}
func (m *mockCorpus) Topics(int) ([]string, error) { return m.topics, m.topicsErr }
func (m *mockCorpus) Status() domain.CorpusStatus  { return m.status }

type mockAnswerer struct {
	res  *answer.Result
	err  error
	last answer.Request
}

func (m *mockAnswerer) Collect(_ context.Context, req answer.Request) (*answer.Result, error) {
	m.last = req
	return m.res, m.err
}
