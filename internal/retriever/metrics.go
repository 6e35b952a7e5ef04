package retriever

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/fyrsmithlabs/siteindex/internal/retriever"

// Metrics records query latency and cache effectiveness.
type Metrics struct {
	meter    metric.Meter
	logger   *zap.Logger
	duration metric.Float64Histogram
	hits     metric.Int64Counter
	misses   metric.Int64Counter
	results  metric.Int64Histogram
}

// NewMetrics creates retrieval metrics on the global meter provider.
func NewMetrics(logger *zap.Logger) *Metrics {
	m := &Metrics{meter: otel.Meter(instrumentationName), logger: logger}
	m.init()
	return m
}

func (m *Metrics) init() {
	var err error

	m.duration, err = m.meter.Float64Histogram(
		"siteindex.retrieval.duration_seconds",
		metric.WithDescription("Duration of FindSimilar calls by outcome"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5),
	)
	if err != nil {
		m.logger.Warn("failed to create retrieval duration histogram", zap.Error(err))
	}

	m.hits, err = m.meter.Int64Counter(
		"siteindex.retrieval.cache_hits_total",
		metric.WithDescription("Queries answered from the cache"),
		metric.WithUnit("{query}"),
	)
	if err != nil {
		m.logger.Warn("failed to create cache hits counter", zap.Error(err))
	}

	m.misses, err = m.meter.Int64Counter(
		"siteindex.retrieval.cache_misses_total",
		metric.WithDescription("Queries that required an embedding and a search"),
		metric.WithUnit("{query}"),
	)
	if err != nil {
		m.logger.Warn("failed to create cache misses counter", zap.Error(err))
	}

	m.results, err = m.meter.Int64Histogram(
		"siteindex.retrieval.results",
		metric.WithDescription("Passages returned per query"),
		metric.WithUnit("{passage}"),
		metric.WithExplicitBucketBoundaries(0, 1, 2, 3, 5, 10, 20),
	)
	if err != nil {
		m.logger.Warn("failed to create results histogram", zap.Error(err))
	}
}

// RecordCache counts a cache hit or miss.
func (m *Metrics) RecordCache(ctx context.Context, hit bool) {
	c := m.misses
	if hit {
		c = m.hits
	}
	if c != nil {
		c.Add(ctx, 1)
	}
}

// RecordQuery records one completed FindSimilar call.
func (m *Metrics) RecordQuery(ctx context.Context, duration time.Duration, results int, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	if m.duration != nil {
		m.duration.Record(ctx, duration.Seconds(), attrs)
	}
	if err == nil && m.results != nil {
		m.results.Record(ctx, int64(results))
	}
}
