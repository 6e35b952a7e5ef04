package mcp

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/siteindex/internal/retriever"
	"github.com/fyrsmithlabs/siteindex/internal/vectorstore"
)

const instrumentationName = "github.com/fyrsmithlabs/siteindex/internal/mcp"

// Tool call outcomes. They are the only values of the outcome attribute.
const (
	outcomeOK              = "ok"
	outcomeInvalidTenant   = "invalid_tenant"
	outcomeInvalidArgument = "invalid_argument"
	outcomeTimeout         = "timeout"
	outcomeCanceled        = "canceled"
	outcomeRetrieval       = "retrieval_failed"
	outcomeInternal        = "internal"
)

// Metrics instruments tool calls. A nil instrument is skipped.
type Metrics struct {
	calls    metric.Int64Counter
	latency  metric.Float64Histogram
	inflight metric.Int64UpDownCounter
	passages metric.Int64Histogram
}

// NewMetrics creates the instruments on the global meter provider.
func NewMetrics(logger *zap.Logger) *Metrics {
	return newMetrics(otel.Meter(instrumentationName), logger)
}

func newMetrics(meter metric.Meter, logger *zap.Logger) *Metrics {
	var (
		m    Metrics
		err  error
		errs []error
	)
	m.calls, err = meter.Int64Counter("siteindex.mcp.calls_total",
		metric.WithDescription("MCP tool calls by tool and outcome"),
		metric.WithUnit("{call}"))
	errs = append(errs, err)

	m.latency, err = meter.Float64Histogram("siteindex.mcp.call.duration",
		metric.WithDescription("MCP tool call latency"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10))
	errs = append(errs, err)

	m.inflight, err = meter.Int64UpDownCounter("siteindex.mcp.calls_inflight",
		metric.WithDescription("MCP tool calls in progress"),
		metric.WithUnit("{call}"))
	errs = append(errs, err)

	m.passages, err = meter.Int64Histogram("siteindex.mcp.search.passages",
		metric.WithDescription("Passages returned per site_search call"),
		metric.WithUnit("{passage}"),
		metric.WithExplicitBucketBoundaries(0, 1, 2, 3, 5, 10, 20, 50))
	errs = append(errs, err)

	if err := errors.Join(errs...); err != nil && logger != nil {
		logger.Warn("some MCP instruments are unavailable", zap.Error(err))
	}
	return &m
}

// start marks a call to tool in flight. The returned function ends it and
// records its outcome.
func (m *Metrics) start(ctx context.Context, tool string) func(err error) {
	toolAttr := attribute.String("tool", tool)
	if m.inflight != nil {
		m.inflight.Add(ctx, 1, metric.WithAttributes(toolAttr))
	}
	began := time.Now()

	return func(err error) {
		if m.inflight != nil {
			m.inflight.Add(ctx, -1, metric.WithAttributes(toolAttr))
		}
		if m.latency != nil {
			m.latency.Record(ctx, time.Since(began).Seconds(), metric.WithAttributes(toolAttr))
		}
		if m.calls != nil {
			m.calls.Add(ctx, 1, metric.WithAttributes(toolAttr, attribute.String("outcome", outcome(err))))
		}
	}
}

func (m *Metrics) recordPassages(ctx context.Context, n int) {
	if m.passages != nil {
		m.passages.Record(ctx, int64(n))
	}
}

// outcome maps a tool error onto a low-cardinality label.
func outcome(err error) string {
	switch {
	case err == nil:
		return outcomeOK
	case errors.Is(err, vectorstore.ErrInvalidTenant):
		return outcomeInvalidTenant
	case errors.Is(err, retriever.ErrEmptyQuery), errors.Is(err, errInvalidArgument):
		return outcomeInvalidArgument
	case errors.Is(err, context.DeadlineExceeded):
		return outcomeTimeout
	case errors.Is(err, context.Canceled):
		return outcomeCanceled
	case errors.Is(err, retriever.ErrRetrieval):
		return outcomeRetrieval
	default:
		return outcomeInternal
	}
}
