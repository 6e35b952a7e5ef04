package mcp

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/zap/zaptest"

	"github.com/fyrsmithlabs/siteindex/internal/retriever"
	"github.com/fyrsmithlabs/siteindex/internal/vectorstore"
)

func testMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	return newMetrics(mp.Meter(instrumentationName), zaptest.NewLogger(t)), reader
}

func collectMetrics(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Aggregation {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	out := map[string]metricdata.Aggregation{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m.Data
		}
	}
	return out
}

// callsByOutcome sums siteindex.mcp.calls_total per tool/outcome pair.
func callsByOutcome(t *testing.T, data metricdata.Aggregation) map[string]int64 {
	t.Helper()
	sum, ok := data.(metricdata.Sum[int64])
	require.True(t, ok, "calls_total is %T", data)
	out := map[string]int64{}
	for _, dp := range sum.DataPoints {
		tool, _ := dp.Attributes.Value("tool")
		oc, _ := dp.Attributes.Value("outcome")
		out[tool.AsString()+"/"+oc.AsString()] += dp.Value
	}
	return out
}

func TestMetrics_CallOutcomes(t *testing.T) {
	m, reader := testMetrics(t)
	ctx := context.Background()

	m.start(ctx, "site_search")(nil)
	m.start(ctx, "site_search")(nil)
	m.start(ctx, "site_search")(vectorstore.ErrInvalidTenant)
	m.start(ctx, "site_status")(errors.New("disk full"))
	m.recordPassages(ctx, 3)
	m.recordPassages(ctx, 0)

	data := collectMetrics(t, reader)
	assert.Equal(t, map[string]int64{
		"site_search/ok":             2,
		"site_search/invalid_tenant": 1,
		"site_status/internal":       1,
	}, callsByOutcome(t, data["siteindex.mcp.calls_total"]))

	latency, ok := data["siteindex.mcp.call.duration"].(metricdata.Histogram[float64])
	require.True(t, ok)
	var observed uint64
	for _, dp := range latency.DataPoints {
		observed += dp.Count
	}
	assert.Equal(t, uint64(4), observed)

	passages, ok := data["siteindex.mcp.search.passages"].(metricdata.Histogram[int64])
	require.True(t, ok)
	require.Len(t, passages.DataPoints, 1)
	assert.Equal(t, uint64(2), passages.DataPoints[0].Count)
	assert.Equal(t, int64(3), passages.DataPoints[0].Sum)
}

func TestMetrics_InflightReturnsToZero(t *testing.T) {
	m, reader := testMetrics(t)
	ctx := context.Background()

	first := m.start(ctx, "site_search")
	second := m.start(ctx, "site_search")
	first(nil)

	inflight := func() int64 {
		sum, ok := collectMetrics(t, reader)["siteindex.mcp.calls_inflight"].(metricdata.Sum[int64])
		require.True(t, ok)
		var total int64
		for _, dp := range sum.DataPoints {
			total += dp.Value
		}
		return total
	}
	assert.Equal(t, int64(1), inflight())
	second(nil)
	assert.Equal(t, int64(0), inflight())
}

func TestOutcome(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, outcomeOK},
		{fmt.Errorf("validate: %w", vectorstore.ErrInvalidTenant), outcomeInvalidTenant},
		{retriever.ErrEmptyQuery, outcomeInvalidArgument},
		{fmt.Errorf("%w: k out of range", errInvalidArgument), outcomeInvalidArgument},
		{fmt.Errorf("search: %w", context.DeadlineExceeded), outcomeTimeout},
		{context.Canceled, outcomeCanceled},
		{&retriever.RetrievalError{TenantID: "acme", Op: "embed", Err: errors.New("down")}, outcomeRetrieval},
		{errors.New("something went wrong"), outcomeInternal},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, outcome(tt.err))
		})
	}
}
