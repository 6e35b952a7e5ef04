package workflows

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

// DefaultTaskQueue is the task queue ingestion workers poll.
const DefaultTaskQueue = "siteindex-ingest"

// Non-retryable application error types. A retry of the same job cannot
// succeed until the site or the job changes.
const (
	ErrTypeNoPages    = "NoPages"
	ErrTypeNoContent  = "NoContent"
	ErrTypeInvalidJob = "InvalidJob"
)

// JobInput is the ingestion job payload.
type JobInput struct {
	TenantID string `json:"tenant_id"`
	BaseURL  string `json:"base_url"`
	MaxPages int    `json:"max_pages"`
}

// JobResult summarizes a finished ingestion.
type JobResult struct {
	RunID        string
	TenantID     string
	Pages        int
	Chunks       int
	Written      int
	FailedChunks int
	Redactions   int
	Generation   string
	Duration     time.Duration
	Attempts     int32
}

// ingestActivityOptions bounds one crawl-and-index attempt. Retries belong
// to the scheduler; the orchestrator makes them safe.
var ingestActivityOptions = workflow.ActivityOptions{
	StartToCloseTimeout: 30 * time.Minute,
	HeartbeatTimeout:    2 * time.Minute,
	// A cancelled workflow closes only after the attempt has unwound.
	WaitForCancellation: true,
	RetryPolicy: &temporal.RetryPolicy{
		InitialInterval:        10 * time.Second,
		BackoffCoefficient:     2.0,
		MaximumInterval:        5 * time.Minute,
		MaximumAttempts:        3,
		NonRetryableErrorTypes: []string{ErrTypeNoPages, ErrTypeNoContent, ErrTypeInvalidJob},
	},
}

// IngestSiteWorkflow runs one ingestion job for a tenant.
func IngestSiteWorkflow(ctx workflow.Context, input JobInput) (*JobResult, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("Starting site ingestion",
		"tenant_id", input.TenantID,
		"base_url", input.BaseURL,
		"max_pages", input.MaxPages)

	ctx = workflow.WithActivityOptions(ctx, ingestActivityOptions)

	var a *Activities
	var result JobResult
	if err := workflow.ExecuteActivity(ctx, a.IngestSiteActivity, input).Get(ctx, &result); err != nil {
		logger.Error("Site ingestion failed", "tenant_id", input.TenantID, "error", err)
		return nil, err
	}

	logger.Info("Site ingestion complete",
		"tenant_id", input.TenantID,
		"run_id", result.RunID,
		"pages", result.Pages,
		"written", result.Written)
	return &result, nil
}
