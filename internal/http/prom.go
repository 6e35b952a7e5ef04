package http

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	globalProm *promMetrics
	promOnce   sync.Once
)

// promMetrics are scraped from /metrics.
type promMetrics struct {
	// ingestRequests counts ingestion triggers by mode and outcome.
	ingestRequests *prometheus.CounterVec
}

// newPromMetrics registers the collectors once per process; servers share them.
func newPromMetrics() *promMetrics {
	promOnce.Do(func() {
		globalProm = &promMetrics{
			ingestRequests: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "siteindex_ingest_requests_total",
					Help: "Total number of ingestion triggers received over HTTP",
				},
				[]string{"mode", "outcome"},
			),
		}
	})
	return globalProm
}
