package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"docbot/internal/domain"
)

const (
	uriScheme         = "docbot://"
	topicsResourceURI = uriScheme + "topics"
	topicsLimit       = 50
)

// registerResources registers all resource handlers with the MCP server.
func (s *Server) registerResources() {
	s.server.AddResource(&mcp.Resource{
		URI:         topicsResourceURI,
		Name:        "topics",
		Description: "Topics covered by the knowledge base",
		MIMEType:    "application/json",
	}, s.handleTopicsResource)
}

func (s *Server) handleTopicsResource(
	_ context.Context,
	req *mcp.ReadResourceRequest,
) (*mcp.ReadResourceResult, error) {
	topics, err := s.ports.Corpus.Topics(topicsLimit)
	if err != nil && !errors.Is(err, domain.ErrNoCorpus) {
		return nil, fmt.Errorf("listing topics: %w", err)
	}
	if topics == nil {
		topics = []string{}
	}

	data, err := json.MarshalIndent(topics, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshalling topics: %w", err)
	}

	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{{
			URI:      req.Params.URI,
			MIMEType: "application/json",
			Text:     string(data),
		}},
	}, nil
}
