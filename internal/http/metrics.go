package http

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const httpInstrumentationName = "github.com/fyrsmithlabs/siteindex/internal/http"

// unmatchedRoute labels requests no route matched.
const unmatchedRoute = "unmatched"

// HTTPMetrics records per-route request metrics. Routes are echo patterns
// such as /api/v1/tenants/:tenant/search, so tenant IDs never become label
// values.
type HTTPMetrics struct {
	requests metric.Int64Counter
	duration metric.Float64Histogram
	size     metric.Int64Histogram
	inflight metric.Int64UpDownCounter
}

// NewHTTPMetrics creates the instruments on the global meter provider.
func NewHTTPMetrics(logger *zap.Logger) *HTTPMetrics {
	return newHTTPMetrics(otel.Meter(httpInstrumentationName), logger)
}

func newHTTPMetrics(meter metric.Meter, logger *zap.Logger) *HTTPMetrics {
	var (
		m    HTTPMetrics
		err  error
		errs []error
	)
	m.requests, err = meter.Int64Counter("siteindex.http.requests_total",
		metric.WithDescription("HTTP requests by method, route and status class"),
		metric.WithUnit("{request}"))
	errs = append(errs, err)

	m.duration, err = meter.Float64Histogram("siteindex.http.request.duration",
		metric.WithDescription("HTTP request latency by route"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10))
	errs = append(errs, err)

	m.size, err = meter.Int64Histogram("siteindex.http.response.size",
		metric.WithDescription("HTTP response body size by route"),
		metric.WithUnit("By"),
		metric.WithExplicitBucketBoundaries(128, 512, 2048, 8192, 32768, 131072))
	errs = append(errs, err)

	m.inflight, err = meter.Int64UpDownCounter("siteindex.http.requests_inflight",
		metric.WithDescription("HTTP requests in progress"),
		metric.WithUnit("{request}"))
	errs = append(errs, err)

	if err := errors.Join(errs...); err != nil && logger != nil {
		logger.Warn("some HTTP instruments are unavailable", zap.Error(err))
	}
	return &m
}

// MetricsMiddleware records one observation per request.
func (m *HTTPMetrics) MetricsMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()
			if m.inflight != nil {
				m.inflight.Add(ctx, 1)
				defer m.inflight.Add(ctx, -1)
			}
			start := time.Now()

			err := next(c)

			route := routeOf(c)
			routeAttr := attribute.String("route", route)
			if m.requests != nil {
				m.requests.Add(ctx, 1, metric.WithAttributes(
					attribute.String("method", c.Request().Method),
					routeAttr,
					attribute.String("status_class", statusClass(statusOf(c, err))),
				))
			}
			if m.duration != nil {
				m.duration.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(routeAttr))
			}
			if m.size != nil {
				m.size.Record(ctx, c.Response().Size, metric.WithAttributes(routeAttr))
			}
			return err
		}
	}
}

func routeOf(c echo.Context) string {
	if p := c.Path(); p != "" {
		return p
	}
	return unmatchedRoute
}

// statusOf returns the status the client will see. Handler errors are
// written by echo's error handler after the middleware returns.
func statusOf(c echo.Context, err error) int {
	if err == nil || c.Response().Committed {
		return c.Response().Status
	}
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he.Code
	}
	return http.StatusInternalServerError
}

func statusClass(code int) string {
	if code < 100 || code > 599 {
		return "unknown"
	}
	return fmt.Sprintf("%dxx", code/100)
}
