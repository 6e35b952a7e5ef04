package workflows

import (
	"context"
	"errors"
	"time"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"

	"github.com/fyrsmithlabs/siteindex/internal/ingest"
)

// heartbeatInterval must stay well under the activity heartbeat timeout.
// Cancellation reaches the activity on its next heartbeat.
const heartbeatInterval = 5 * time.Second

// Runner executes ingestion jobs.
type Runner interface {
	Run(ctx context.Context, job ingest.Job) (*ingest.RunResult, error)
}

// Activities holds the dependencies of ingestion activities.
type Activities struct {
	Runner Runner
}

// IngestSiteActivity crawls and indexes one site. Permanent failures are
// returned as non-retryable application errors.
func (a *Activities) IngestSiteActivity(ctx context.Context, input JobInput) (*JobResult, error) {
	info := activity.GetInfo(ctx)
	logger := activity.GetLogger(ctx)
	logger.Info("Ingestion attempt", "tenant_id", input.TenantID, "attempt", info.Attempt)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go heartbeat(ctx)

	start := time.Now()
	res, err := a.Runner.Run(ctx, ingest.Job{
		TenantID: input.TenantID,
		BaseURL:  input.BaseURL,
		MaxPages: input.MaxPages,
	})
	recordActivity(context.Background(), "ingest_site", time.Since(start), err)
	if err != nil {
		return nil, classify(err)
	}

	return &JobResult{
		RunID:        res.RunID,
		TenantID:     res.TenantID,
		Pages:        res.Pages,
		Chunks:       res.Chunks,
		Written:      res.Written,
		FailedChunks: res.FailedChunks,
		Redactions:   res.Redactions,
		Generation:   res.Generation,
		Duration:     res.Duration,
		Attempts:     info.Attempt,
	}, nil
}

func heartbeat(ctx context.Context) {
	t := time.NewTicker(heartbeatInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			activity.RecordHeartbeat(ctx)
		}
	}
}

// classify maps permanent ingestion failures onto non-retryable errors.
func classify(err error) error {
	switch {
	case errors.Is(err, ingest.ErrNoPages):
		return temporal.NewNonRetryableApplicationError(err.Error(), ErrTypeNoPages, err)
	case errors.Is(err, ingest.ErrNoContent):
		return temporal.NewNonRetryableApplicationError(err.Error(), ErrTypeNoContent, err)
	case errors.Is(err, ingest.ErrInvalidJob):
		return temporal.NewNonRetryableApplicationError(err.Error(), ErrTypeInvalidJob, err)
	default:
		return err
	}
}
