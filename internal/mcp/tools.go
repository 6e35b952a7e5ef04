package mcp

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/siteindex/internal/retriever"
	"github.com/fyrsmithlabs/siteindex/internal/vectorstore"
)

// maxTopK caps the k argument of site_search.
const maxTopK = 50

var errInvalidArgument = errors.New("invalid argument")

func (s *Server) registerTools() {
	s.registerSearchTool()
	if s.counter != nil {
		s.registerStatusTool()
	}
}

type siteSearchInput struct {
	TenantID string   `json:"tenant_id" jsonschema:"Tenant whose indexed website is searched"`
	Query    string   `json:"query" jsonschema:"Natural language question or search phrase"`
	K        int      `json:"k,omitempty" jsonschema:"Maximum passages to return (default 5, max 50)"`
	MinScore *float64 `json:"min_score,omitempty" jsonschema:"Minimum cosine similarity in [-1, 1] (default 0.3)"`
}

type siteSearchOutput struct {
	TenantID string             `json:"tenant_id" jsonschema:"Tenant searched"`
	Query    string             `json:"query" jsonschema:"Query as received"`
	Results  []retriever.Result `json:"results" jsonschema:"Passages, most similar first"`
	Count    int                `json:"count" jsonschema:"Number of passages returned"`
}

type siteStatusInput struct {
	TenantID string `json:"tenant_id" jsonschema:"Tenant to report on"`
}

type siteStatusOutput struct {
	TenantID string `json:"tenant_id" jsonschema:"Tenant reported on"`
	Count    int    `json:"count" jsonschema:"Number of indexed passages"`
	Training bool   `json:"training" jsonschema:"True while the tenant has no indexed passages"`
}

func (s *Server) registerSearchTool() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "site_search",
		Description: "Search a tenant's indexed website for the passages most relevant to a query. Returns passage text, source URL and similarity. An empty result means nothing on the site is relevant enough.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args siteSearchInput) (*mcp.CallToolResult, siteSearchOutput, error) {
		done := s.metrics.start(ctx, "site_search")
		out, err := s.siteSearch(ctx, args)
		done(err)
		if err != nil {
			s.logger.Warn("site_search failed", zap.String("tenant_id", args.TenantID), zap.Error(err))
			return nil, siteSearchOutput{}, err
		}
		s.metrics.recordPassages(ctx, out.Count)
		return nil, out, nil
	})
}

func (s *Server) siteSearch(ctx context.Context, args siteSearchInput) (siteSearchOutput, error) {
	if err := vectorstore.ValidateTenantID(args.TenantID); err != nil {
		return siteSearchOutput{}, err
	}
	if strings.TrimSpace(args.Query) == "" {
		return siteSearchOutput{}, retriever.ErrEmptyQuery
	}

	k := args.K
	if k == 0 {
		k = s.config.DefaultTopK
	}
	if k < 1 || k > maxTopK {
		return siteSearchOutput{}, fmt.Errorf("%w: k must be in [1, %d]", errInvalidArgument, maxTopK)
	}

	minScore := s.config.DefaultMinScore
	if args.MinScore != nil {
		minScore = *args.MinScore
		if minScore < -1 || minScore > 1 {
			return siteSearchOutput{}, fmt.Errorf("%w: min_score must be in [-1, 1]", errInvalidArgument)
		}
	}

	results, err := s.searcher.FindSimilar(ctx, args.TenantID, args.Query, k, minScore)
	if err != nil {
		return siteSearchOutput{}, err
	}
	if results == nil {
		results = []retriever.Result{}
	}
	return siteSearchOutput{
		TenantID: args.TenantID,
		Query:    args.Query,
		Results:  results,
		Count:    len(results),
	}, nil
}

func (s *Server) registerStatusTool() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "site_status",
		Description: "Report how many passages are indexed for a tenant. A tenant with none is still training.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args siteStatusInput) (*mcp.CallToolResult, siteStatusOutput, error) {
		done := s.metrics.start(ctx, "site_status")
		count, err := s.siteStatus(ctx, args.TenantID)
		done(err)
		if err != nil {
			return nil, siteStatusOutput{}, err
		}
		return nil, siteStatusOutput{
			TenantID: args.TenantID,
			Count:    count,
			Training: count == 0,
		}, nil
	})
}

func (s *Server) siteStatus(ctx context.Context, tenantID string) (int, error) {
	if err := vectorstore.ValidateTenantID(tenantID); err != nil {
		return 0, err
	}
	return s.counter.Count(ctx, tenantID)
}
