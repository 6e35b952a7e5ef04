package ingest

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/fyrsmithlabs/siteindex/internal/ingest"

// Metrics records run outcomes.
type Metrics struct {
	meter    metric.Meter
	logger   *zap.Logger
	runs     metric.Int64Counter
	duration metric.Float64Histogram
	pages    metric.Int64Counter
	chunks   metric.Int64Counter
}

// NewMetrics creates ingestion metrics on the global meter provider.
func NewMetrics(logger *zap.Logger) *Metrics {
	m := &Metrics{meter: otel.Meter(instrumentationName), logger: logger}
	m.init()
	return m
}

func (m *Metrics) init() {
	var err error

	m.runs, err = m.meter.Int64Counter(
		"siteindex.ingest.runs_total",
		metric.WithDescription("Ingestion runs by outcome"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		m.logger.Warn("failed to create runs counter", zap.Error(err))
	}

	m.duration, err = m.meter.Float64Histogram(
		"siteindex.ingest.duration_seconds",
		metric.WithDescription("Duration of ingestion runs"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(1, 5, 15, 30, 60, 120, 300, 600, 1800),
	)
	if err != nil {
		m.logger.Warn("failed to create run duration histogram", zap.Error(err))
	}

	m.pages, err = m.meter.Int64Counter(
		"siteindex.ingest.pages_total",
		metric.WithDescription("Pages crawled"),
		metric.WithUnit("{page}"),
	)
	if err != nil {
		m.logger.Warn("failed to create pages counter", zap.Error(err))
	}

	m.chunks, err = m.meter.Int64Counter(
		"siteindex.ingest.chunks_total",
		metric.WithDescription("Chunks written to the index"),
		metric.WithUnit("{chunk}"),
	)
	if err != nil {
		m.logger.Warn("failed to create chunks counter", zap.Error(err))
	}
}

// RecordRun records a finished run.
func (m *Metrics) RecordRun(ctx context.Context, duration time.Duration, pages, written int, err error) {
	attrs := metric.WithAttributes(attribute.String("outcome", outcome(err)))
	if m.runs != nil {
		m.runs.Add(ctx, 1, attrs)
	}
	if m.duration != nil {
		m.duration.Record(ctx, duration.Seconds(), attrs)
	}
	if m.pages != nil {
		m.pages.Add(ctx, int64(pages))
	}
	if m.chunks != nil {
		m.chunks.Add(ctx, int64(written))
	}
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "indexed"
	case errors.Is(err, ErrNoPages):
		return "no_pages"
	case errors.Is(err, ErrNoContent):
		return "no_content"
	case errors.Is(err, ErrIndexEmptied):
		return "emptied"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "error"
	}
}
