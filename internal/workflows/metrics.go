package workflows

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/fyrsmithlabs/siteindex/internal/workflows"

var (
	activityDuration     metric.Float64Histogram
	activityErrorCounter metric.Int64Counter
	jobsStartedCounter   metric.Int64Counter
)

// initMetrics initializes OpenTelemetry metrics for workflows.
func initMetrics() {
	meter := otel.Meter(instrumentationName)

	var err error

	activityDuration, err = meter.Float64Histogram(
		"siteindex.workflows.activity.duration",
		metric.WithDescription("Duration of workflow activity executions"),
		metric.WithUnit("s"),
	)
	if err != nil {
		panic(fmt.Sprintf("failed to create activity duration: %v", err))
	}

	activityErrorCounter, err = meter.Int64Counter(
		"siteindex.workflows.activity.errors",
		metric.WithDescription("Number of activity execution errors"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		panic(fmt.Sprintf("failed to create activity error counter: %v", err))
	}

	jobsStartedCounter, err = meter.Int64Counter(
		"siteindex.workflows.jobs.started",
		metric.WithDescription("Number of ingestion workflows submitted"),
		metric.WithUnit("{job}"),
	)
	if err != nil {
		panic(fmt.Sprintf("failed to create jobs started counter: %v", err))
	}
}

func init() {
	initMetrics()
}

func recordActivity(ctx context.Context, name string, d time.Duration, err error) {
	attrs := metric.WithAttributes(attribute.String("activity", name))
	activityDuration.Record(ctx, d.Seconds(), attrs)
	if err != nil {
		activityErrorCounter.Add(ctx, 1, attrs)
	}
}
