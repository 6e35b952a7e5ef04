package workflows

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
)

// WorkflowID is the deterministic workflow ID for a tenant. At most one
// ingestion runs per tenant at a time; resubmitting while one is running
// returns the running execution.
func WorkflowID(tenantID string) string {
	return "ingest-" + tenantID
}

// Execution identifies a submitted job.
type Execution struct {
	WorkflowID string `json:"workflow_id"`
	RunID      string `json:"run_id"`
}

// Starter submits ingestion jobs to the scheduler.
type Starter struct {
	client    client.Client
	taskQueue string
}

// NewStarter creates a Starter. An empty task queue uses DefaultTaskQueue.
func NewStarter(c client.Client, taskQueue string) *Starter {
	if taskQueue == "" {
		taskQueue = DefaultTaskQueue
	}
	return &Starter{client: c, taskQueue: taskQueue}
}

// Submit starts IngestSiteWorkflow for input without waiting for it.
func (s *Starter) Submit(ctx context.Context, input JobInput) (*Execution, error) {
	if s == nil || s.client == nil {
		return nil, ErrSchedulerDisabled
	}
	opts := client.StartWorkflowOptions{
		ID:        WorkflowID(input.TenantID),
		TaskQueue: s.taskQueue,
	}
	run, err := s.client.ExecuteWorkflow(ctx, opts, IngestSiteWorkflow, input)
	if err != nil {
		return nil, &WorkflowError{Operation: "submit_ingest", TenantID: input.TenantID, Err: err}
	}
	jobsStartedCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("task_queue", s.taskQueue)))
	return &Execution{WorkflowID: run.GetID(), RunID: run.GetRunID()}, nil
}

// Cancel requests cancellation of the tenant's running ingestion. The
// activity observes it on its next heartbeat and the workflow ends without
// promoting an index.
func (s *Starter) Cancel(ctx context.Context, tenantID string) error {
	if s == nil || s.client == nil {
		return ErrSchedulerDisabled
	}
	err := s.client.CancelWorkflow(ctx, WorkflowID(tenantID), "")
	var notFound *serviceerror.NotFound
	if err != nil && !errors.As(err, &notFound) {
		return &WorkflowError{Operation: "cancel_ingest", TenantID: tenantID, Err: err}
	}
	return nil
}

// Dial connects to the scheduler.
func Dial(hostPort, namespace string) (client.Client, error) {
	c, err := client.Dial(client.Options{
		HostPort:  hostPort,
		Namespace: namespace,
	})
	if err != nil {
		return nil, fmt.Errorf("unable to create Temporal client: %w", err)
	}
	return c, nil
}

// NewWorker registers the ingestion workflow and activities on taskQueue.
func NewWorker(c client.Client, taskQueue string, activities *Activities) worker.Worker {
	if taskQueue == "" {
		taskQueue = DefaultTaskQueue
	}
	w := worker.New(c, taskQueue, worker.Options{})
	w.RegisterWorkflow(IngestSiteWorkflow)
	w.RegisterActivity(activities)
	return w
}
