package vectorstore

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PromotionsTotal counts generation flips.
	// Labels: provider (chromem, qdrant)
	PromotionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "siteindex",
			Subsystem: "vectorstore",
			Name:      "promotions_total",
			Help:      "Total number of generation promotions",
		},
		[]string{"provider"},
	)

	// GenerationsDropped counts garbage-collected generations.
	// Labels: provider (chromem, qdrant)
	GenerationsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "siteindex",
			Subsystem: "vectorstore",
			Name:      "generations_dropped_total",
			Help:      "Total number of non-current generations deleted",
		},
		[]string{"provider"},
	)

	// OperationDuration tracks index operation latency.
	// Labels: provider, operation
	OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "siteindex",
			Subsystem: "vectorstore",
			Name:      "operation_duration_seconds",
			Help:      "Duration of vector index operations in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"provider", "operation"},
	)

	// QuarantineOperations counts collections moved aside at startup.
	// Labels: result (success, error)
	QuarantineOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "siteindex",
			Subsystem: "vectorstore",
			Name:      "quarantine_operations_total",
			Help:      "Total number of quarantine operations",
		},
		[]string{"result"},
	)
)

// RecordQuarantineResult records the outcome of a quarantine operation.
func RecordQuarantineResult(success bool) {
	if success {
		QuarantineOperations.WithLabelValues("success").Inc()
	} else {
		QuarantineOperations.WithLabelValues("error").Inc()
	}
}

// observe returns a func that records the elapsed time of one operation.
func observe(provider, operation string) func() {
	timer := prometheus.NewTimer(OperationDuration.WithLabelValues(provider, operation))
	return func() { timer.ObserveDuration() }
}
