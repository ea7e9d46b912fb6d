// Package mcp exposes the docbot pipeline as Model Context Protocol tools, so
// assistants can search the knowledge base and ask grounded questions.
package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"docbot/internal/answer"
	"docbot/internal/domain"
)

// Version is the MCP server version.
const Version = "0.1.0"

var (
	ErrMissingRetriever = errors.New("mcp: retriever is required")
	ErrMissingCorpus    = errors.New("mcp: corpus is required")
)

// Retriever runs semantic retrieval.
type Retriever interface {
	Retrieve(ctx context.Context, query string, k int) ([]domain.RetrievalResult, error)
}

// Corpus serves the read-only corpus operations.
type Corpus interface {
	FuzzySearch(query string, limit int) ([]domain.RetrievalResult, error)
	Topics(limit int) ([]string, error)
	Status() domain.CorpusStatus
}

// Answerer produces full answers.
type Answerer interface {
	Collect(ctx context.Context, req answer.Request) (*answer.Result, error)
}

// Ports aggregates what the server calls into. Answerer is optional; without
// it the ask tool is not registered.
type Ports struct {
	Retriever Retriever
	Corpus    Corpus
	Answerer  Answerer
}

// Validate ensures all required ports are set.
func (p *Ports) Validate() error {
	if p.Retriever == nil {
		return ErrMissingRetriever
	}
	if p.Corpus == nil {
		return ErrMissingCorpus
	}
	return nil
}

// Server is the MCP server for docbot.
type Server struct {
	ports  *Ports
	server *mcp.Server
	logger *slog.Logger
}

// NewServer creates a new MCP server with the given ports.
func NewServer(ports *Ports, logger *slog.Logger) (*Server, error) {
	if err := ports.Validate(); err != nil {
		return nil, fmt.Errorf("validating ports: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	impl := &mcp.Implementation{
		Name:    "docbot",
		Version: Version,
	}

	s := &Server{
		ports:  ports,
		server: mcp.NewServer(impl, nil),
		logger: logger,
	}

	s.registerTools()
	s.registerResources()

	return s, nil
}

// Run serves over stdio until ctx is cancelled or the client disconnects.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("mcp server started", "transport", "stdio")
	return s.server.Run(ctx, &mcp.StdioTransport{})
}

// RunHTTP serves the streamable HTTP transport on addr.
func (s *Server) RunHTTP(ctx context.Context, addr string) error {
	handler := mcp.NewStreamableHTTPHandler(func(_ *http.Request) *mcp.Server {
		return s.server
	}, nil)

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		httpServer.Shutdown(shutdownCtx) //nolint:errcheck
	}()

	s.logger.Info("mcp server started", "transport", "http", "addr", addr)
	err := httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
