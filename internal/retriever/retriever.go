// Package retriever answers "find passages relevant to this question"
// queries for one tenant at a time, with a read-through result cache.
package retriever

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/fyrsmithlabs/siteindex/internal/querycache"
	"github.com/fyrsmithlabs/siteindex/internal/vectorstore"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

var tracer = otel.Tracer("siteindex.retriever")

// Defaults applied by Find.
const (
	DefaultTopK          = 5
	DefaultMinSimilarity = 0.3
)

// DefaultSearchTimeout bounds an embed and search shared by concurrent
// identical queries.
const DefaultSearchTimeout = 30 * time.Second

// Result is one relevant passage.
type Result struct {
	Text       string  `json:"text"`
	SourceURL  string  `json:"source_url"`
	Similarity float32 `json:"similarity"`
}

// Config holds query defaults.
type Config struct {
	TopK          int
	MinSimilarity float64
	// SearchTimeout bounds the shared embed and search. It does not end
	// when the caller that started it goes away.
	SearchTimeout time.Duration
}

// Service runs similarity queries against the vector index.
type Service struct {
	index    vectorstore.VectorIndex
	embedder vectorstore.Embedder
	cache    querycache.Cache
	config   Config
	logger   *zap.Logger
	metrics  *Metrics
	group    singleflight.Group
}

// NewService creates a retriever. A nil cache disables caching.
func NewService(index vectorstore.VectorIndex, embedder vectorstore.Embedder, cache querycache.Cache, cfg Config, logger *zap.Logger) *Service {
	if cfg.TopK <= 0 {
		cfg.TopK = DefaultTopK
	}
	if cfg.MinSimilarity == 0 {
		cfg.MinSimilarity = DefaultMinSimilarity
	}
	if cfg.SearchTimeout <= 0 {
		cfg.SearchTimeout = DefaultSearchTimeout
	}
	if cache == nil {
		cache = querycache.Noop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		index:    index,
		embedder: embedder,
		cache:    cache,
		config:   cfg,
		logger:   logger,
		metrics:  NewMetrics(logger),
	}
}

// NormalizeQuery lowercases q and collapses whitespace runs.
func NormalizeQuery(q string) string {
	return strings.ToLower(strings.Join(strings.Fields(q), " "))
}

// cacheKey includes the query parameters so different limits never alias.
func cacheKey(normalized string, topK int, minSimilarity float64) string {
	return strconv.Itoa(topK) + "|" + strconv.FormatFloat(minSimilarity, 'g', -1, 64) + "|" + normalized
}

// Find runs FindSimilar with the configured defaults.
func (s *Service) Find(ctx context.Context, tenantID, query string) ([]Result, error) {
	return s.FindSimilar(ctx, tenantID, query, s.config.TopK, s.config.MinSimilarity)
}

// FindSimilar returns at most topK passages of tenantID with similarity of
// at least minSimilarity, most similar first.
//
// Results are cached per tenant and normalized query; a hit is returned
// without embedding or searching. No passage above the threshold yields an
// empty slice and a nil error. Embedding and search failures are returned
// as *RetrievalError.
func (s *Service) FindSimilar(ctx context.Context, tenantID, query string, topK int, minSimilarity float64) ([]Result, error) {
	ctx, span := tracer.Start(ctx, "Service.FindSimilar")
	defer span.End()

	start := time.Now()
	results, err := s.findSimilar(ctx, tenantID, query, topK, minSimilarity)
	s.metrics.RecordQuery(ctx, time.Since(start), len(results), err)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("results", len(results)))
	span.SetStatus(codes.Ok, "success")
	return results, nil
}

func (s *Service) findSimilar(ctx context.Context, tenantID, query string, topK int, minSimilarity float64) ([]Result, error) {
	if err := vectorstore.ValidateTenantID(tenantID); err != nil {
		return nil, err
	}
	normalized := NormalizeQuery(query)
	if normalized == "" {
		return nil, ErrEmptyQuery
	}
	if topK <= 0 {
		topK = s.config.TopK
	}
	key := cacheKey(normalized, topK, minSimilarity)

	if results, ok := s.cached(ctx, tenantID, key); ok {
		s.metrics.RecordCache(ctx, true)
		return results, nil
	}
	s.metrics.RecordCache(ctx, false)

	// Identical concurrent misses share one embed and search. It runs
	// detached from any single caller so one caller leaving does not fail
	// the others; each caller still stops waiting when its own ctx ends.
	ch := s.group.DoChan(tenantID+"\x00"+key, func() (interface{}, error) {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.config.SearchTimeout)
		defer cancel()
		results, err := s.search(sctx, tenantID, strings.TrimSpace(query), topK, minSimilarity)
		if err != nil {
			return nil, err
		}
		s.store(sctx, tenantID, key, results)
		return results, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return copyResults(res.Val.([]Result)), nil
	}
}

func (s *Service) search(ctx context.Context, tenantID, query string, topK int, minSimilarity float64) ([]Result, error) {
	vector, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, &RetrievalError{TenantID: tenantID, Op: "embed", Err: err}
	}

	hits, err := s.index.Search(vectorstore.WithTenantID(ctx, tenantID), vector, topK)
	if err != nil {
		return nil, &RetrievalError{TenantID: tenantID, Op: "search", Err: err}
	}

	results := make([]Result, 0, len(hits))
	for _, h := range hits {
		if float64(h.Score) < minSimilarity {
			continue
		}
		results = append(results, Result{Text: h.Content, SourceURL: h.SourceURL, Similarity: h.Score})
		if len(results) == topK {
			break
		}
	}
	return results, nil
}

// cached returns a cached result list. Cache failures count as misses.
func (s *Service) cached(ctx context.Context, tenantID, key string) ([]Result, bool) {
	data, ok, err := s.cache.Get(ctx, tenantID, key)
	if err != nil {
		s.logger.Warn("query cache read failed", zap.String("tenant_id", tenantID), zap.Error(err))
		return nil, false
	}
	if !ok {
		return nil, false
	}
	results := []Result{}
	if err := json.Unmarshal(data, &results); err != nil {
		s.logger.Warn("discarding undecodable cache entry", zap.String("tenant_id", tenantID), zap.Error(err))
		return nil, false
	}
	return results, true
}

func (s *Service) store(ctx context.Context, tenantID, key string, results []Result) {
	data, err := json.Marshal(results)
	if err != nil {
		s.logger.Warn("encoding results for cache", zap.Error(err))
		return
	}
	if err := s.cache.Set(ctx, tenantID, key, data); err != nil {
		s.logger.Warn("query cache write failed", zap.String("tenant_id", tenantID), zap.Error(err))
	}
}

// Invalidate drops every cached query of tenantID.
func (s *Service) Invalidate(ctx context.Context, tenantID string) error {
	if err := s.cache.InvalidateTenant(ctx, tenantID); err != nil {
		return fmt.Errorf("invalidating cache for tenant %s: %w", tenantID, err)
	}
	return nil
}

func copyResults(in []Result) []Result {
	out := make([]Result, len(in))
	copy(out, in)
	return out
}
