// Package mcp exposes tenant retrieval to agents as MCP tools.
//
// The server uses the MCP SDK (github.com/modelcontextprotocol/go-sdk/mcp)
// and calls the retriever directly. Every tool takes an explicit tenant_id.
package mcp

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/siteindex/internal/retriever"
)

// Searcher answers retrieval calls.
type Searcher interface {
	FindSimilar(ctx context.Context, tenantID, query string, topK int, minSimilarity float64) ([]retriever.Result, error)
}

// Counter reports how many records a tenant's searches see.
type Counter interface {
	Count(ctx context.Context, tenantID string) (int, error)
}

// Server is an MCP server over the retrieval service.
type Server struct {
	mcp      *mcp.Server
	searcher Searcher
	counter  Counter
	metrics  *Metrics
	logger   *zap.Logger
	config   *Config
}

// Config configures the MCP server.
type Config struct {
	// Name is the server implementation name (default: "siteindex")
	Name string

	// Version is the server version (default: "1.0.0")
	Version string

	// Logger for structured logging
	Logger *zap.Logger

	// DefaultTopK and DefaultMinScore apply when a call omits k or min_score.
	DefaultTopK     int
	DefaultMinScore float64
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Name:            "siteindex",
		Version:         "1.0.0",
		Logger:          zap.NewNop(),
		DefaultTopK:     retriever.DefaultTopK,
		DefaultMinScore: retriever.DefaultMinSimilarity,
	}
}

// NewServer creates an MCP server. counter is optional; without it the
// site_status tool is not registered.
func NewServer(cfg *Config, searcher Searcher, counter Counter) (*Server, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.DefaultTopK <= 0 {
		cfg.DefaultTopK = retriever.DefaultTopK
	}
	if searcher == nil {
		return nil, fmt.Errorf("searcher is required")
	}

	mcpServer := mcp.NewServer(
		&mcp.Implementation{
			Name:    cfg.Name,
			Version: cfg.Version,
		},
		nil,
	)

	s := &Server{
		mcp:      mcpServer,
		searcher: searcher,
		counter:  counter,
		metrics:  NewMetrics(cfg.Logger),
		logger:   cfg.Logger,
		config:   cfg,
	}
	s.registerTools()

	return s, nil
}

// Run starts the MCP server on the stdio transport.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("starting MCP server on stdio transport")
	return s.RunTransport(ctx, &mcp.StdioTransport{})
}

// RunTransport serves one session on t until it closes or ctx ends.
func (s *Server) RunTransport(ctx context.Context, t mcp.Transport) error {
	if err := s.mcp.Run(ctx, t); err != nil {
		return fmt.Errorf("server run failed: %w", err)
	}
	return nil
}
