package workflows

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/mocks"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/testsuite"

	"github.com/fyrsmithlabs/siteindex/internal/ingest"
)

type fakeRunner struct {
	mu    sync.Mutex
	calls int
	jobs  []ingest.Job
	fn    func(call int) (*ingest.RunResult, error)
}

func (f *fakeRunner) Run(_ context.Context, job ingest.Job) (*ingest.RunResult, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.jobs = append(f.jobs, job)
	f.mu.Unlock()
	return f.fn(call)
}

func (f *fakeRunner) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func okResult(tenant string) *ingest.RunResult {
	return &ingest.RunResult{
		RunID:      "run-1",
		TenantID:   tenant,
		Pages:      3,
		Chunks:     9,
		Written:    9,
		Generation: "gen-1",
		Duration:   2 * time.Second,
	}
}

var testJob = JobInput{TenantID: "acme", BaseURL: "https://acme.test", MaxPages: 10}

func TestIngestSiteWorkflow(t *testing.T) {
	t.Run("completes with activity result", func(t *testing.T) {
		testSuite := &testsuite.WorkflowTestSuite{}
		env := testSuite.NewTestWorkflowEnvironment()

		runner := &fakeRunner{fn: func(int) (*ingest.RunResult, error) { return okResult("acme"), nil }}
		env.RegisterWorkflow(IngestSiteWorkflow)
		env.RegisterActivity(&Activities{Runner: runner})

		env.ExecuteWorkflow(IngestSiteWorkflow, testJob)

		require.True(t, env.IsWorkflowCompleted())
		require.NoError(t, env.GetWorkflowError())

		var result JobResult
		require.NoError(t, env.GetWorkflowResult(&result))
		assert.Equal(t, "run-1", result.RunID)
		assert.Equal(t, "acme", result.TenantID)
		assert.Equal(t, 3, result.Pages)
		assert.Equal(t, 9, result.Written)
		assert.Equal(t, "gen-1", result.Generation)
		assert.Equal(t, int32(1), result.Attempts)

		require.Len(t, runner.jobs, 1)
		assert.Equal(t, ingest.Job{TenantID: "acme", BaseURL: "https://acme.test", MaxPages: 10}, runner.jobs[0])
	})

	t.Run("uses mocked activity", func(t *testing.T) {
		testSuite := &testsuite.WorkflowTestSuite{}
		env := testSuite.NewTestWorkflowEnvironment()

		var a *Activities
		env.RegisterWorkflow(IngestSiteWorkflow)
		env.RegisterActivity(&Activities{})
		env.OnActivity(a.IngestSiteActivity, mock.Anything, testJob).
			Return(&JobResult{RunID: "mocked", TenantID: "acme", Written: 4}, nil)

		env.ExecuteWorkflow(IngestSiteWorkflow, testJob)

		require.True(t, env.IsWorkflowCompleted())
		require.NoError(t, env.GetWorkflowError())

		var result JobResult
		require.NoError(t, env.GetWorkflowResult(&result))
		assert.Equal(t, "mocked", result.RunID)
		assert.Equal(t, 4, result.Written)
	})

	t.Run("retries transient failures", func(t *testing.T) {
		testSuite := &testsuite.WorkflowTestSuite{}
		env := testSuite.NewTestWorkflowEnvironment()

		runner := &fakeRunner{fn: func(call int) (*ingest.RunResult, error) {
			if call < 3 {
				return nil, errors.New("embedding service unavailable")
			}
			return okResult("acme"), nil
		}}
		env.RegisterWorkflow(IngestSiteWorkflow)
		env.RegisterActivity(&Activities{Runner: runner})

		env.ExecuteWorkflow(IngestSiteWorkflow, testJob)

		require.True(t, env.IsWorkflowCompleted())
		require.NoError(t, env.GetWorkflowError())
		assert.Equal(t, 3, runner.Calls())

		var result JobResult
		require.NoError(t, env.GetWorkflowResult(&result))
		assert.Equal(t, int32(3), result.Attempts)
	})

	t.Run("gives up after max attempts", func(t *testing.T) {
		testSuite := &testsuite.WorkflowTestSuite{}
		env := testSuite.NewTestWorkflowEnvironment()

		runner := &fakeRunner{fn: func(int) (*ingest.RunResult, error) {
			return nil, errors.New("vector store unavailable")
		}}
		env.RegisterWorkflow(IngestSiteWorkflow)
		env.RegisterActivity(&Activities{Runner: runner})

		env.ExecuteWorkflow(IngestSiteWorkflow, testJob)

		require.True(t, env.IsWorkflowCompleted())
		require.Error(t, env.GetWorkflowError())
		assert.Equal(t, 3, runner.Calls())
	})

	permanent := []struct {
		name    string
		err     error
		errType string
	}{
		{"no pages", fmt.Errorf("%w: seed unreachable", ingest.ErrNoPages), ErrTypeNoPages},
		{"no content", ingest.ErrNoContent, ErrTypeNoContent},
		{"invalid job", fmt.Errorf("%w: tenant id required", ingest.ErrInvalidJob), ErrTypeInvalidJob},
	}
	for _, tc := range permanent {
		t.Run(tc.name+" is not retried", func(t *testing.T) {
			testSuite := &testsuite.WorkflowTestSuite{}
			env := testSuite.NewTestWorkflowEnvironment()

			runner := &fakeRunner{fn: func(int) (*ingest.RunResult, error) { return nil, tc.err }}
			env.RegisterWorkflow(IngestSiteWorkflow)
			env.RegisterActivity(&Activities{Runner: runner})

			env.ExecuteWorkflow(IngestSiteWorkflow, testJob)

			require.True(t, env.IsWorkflowCompleted())
			err := env.GetWorkflowError()
			require.Error(t, err)
			assert.Equal(t, 1, runner.Calls())

			var appErr *temporal.ApplicationError
			require.True(t, errors.As(err, &appErr))
			assert.Equal(t, tc.errType, appErr.Type())
			assert.True(t, IsNonRetryable(err))
		})
	}
}

func TestIngestSiteActivity(t *testing.T) {
	t.Run("maps run result", func(t *testing.T) {
		testSuite := &testsuite.WorkflowTestSuite{}
		env := testSuite.NewTestActivityEnvironment()

		acts := &Activities{Runner: &fakeRunner{fn: func(int) (*ingest.RunResult, error) {
			res := okResult("acme")
			res.FailedChunks = 2
			res.Redactions = 1
			return res, nil
		}}}
		env.RegisterActivity(acts)

		val, err := env.ExecuteActivity(acts.IngestSiteActivity, testJob)
		require.NoError(t, err)

		var result JobResult
		require.NoError(t, val.Get(&result))
		assert.Equal(t, 9, result.Chunks)
		assert.Equal(t, 2, result.FailedChunks)
		assert.Equal(t, 1, result.Redactions)
		assert.Equal(t, 2*time.Second, result.Duration)
	})

	t.Run("permanent error is non-retryable", func(t *testing.T) {
		testSuite := &testsuite.WorkflowTestSuite{}
		env := testSuite.NewTestActivityEnvironment()

		acts := &Activities{Runner: &fakeRunner{fn: func(int) (*ingest.RunResult, error) {
			return nil, ingest.ErrNoContent
		}}}
		env.RegisterActivity(acts)

		_, err := env.ExecuteActivity(acts.IngestSiteActivity, testJob)
		require.Error(t, err)
		assert.True(t, IsNonRetryable(err))
	})

	t.Run("transient error stays retryable", func(t *testing.T) {
		testSuite := &testsuite.WorkflowTestSuite{}
		env := testSuite.NewTestActivityEnvironment()

		acts := &Activities{Runner: &fakeRunner{fn: func(int) (*ingest.RunResult, error) {
			return nil, ingest.ErrIndexEmptied
		}}}
		env.RegisterActivity(acts)

		_, err := env.ExecuteActivity(acts.IngestSiteActivity, testJob)
		require.Error(t, err)
		assert.False(t, IsNonRetryable(err))
	})
}

func TestClassify(t *testing.T) {
	plain := errors.New("boom")
	assert.Same(t, plain, classify(plain))

	err := classify(fmt.Errorf("wrapped: %w", ingest.ErrNoPages))
	var appErr *temporal.ApplicationError
	require.True(t, errors.As(err, &appErr))
	assert.True(t, appErr.NonRetryable())
	assert.Equal(t, ErrTypeNoPages, appErr.Type())
	assert.ErrorIs(t, err, ingest.ErrNoPages)
}

func TestIsNonRetryable(t *testing.T) {
	assert.False(t, IsNonRetryable(nil))
	assert.False(t, IsNonRetryable(errors.New("x")))
	assert.False(t, IsNonRetryable(temporal.NewApplicationError("x", "Transient")))
	assert.True(t, IsNonRetryable(temporal.NewApplicationError("x", ErrTypeNoContent)))
	assert.True(t, IsNonRetryable(temporal.NewNonRetryableApplicationError("x", "Other", nil)))
}

func TestStarter(t *testing.T) {
	assert.Equal(t, "ingest-acme", WorkflowID("acme"))

	var s *Starter
	_, err := s.Submit(context.Background(), testJob)
	assert.ErrorIs(t, err, ErrSchedulerDisabled)

	s = NewStarter(nil, "")
	assert.Equal(t, DefaultTaskQueue, s.taskQueue)
	_, err = s.Submit(context.Background(), testJob)
	assert.ErrorIs(t, err, ErrSchedulerDisabled)
}

func TestStarterCancel(t *testing.T) {
	var disabled *Starter
	assert.ErrorIs(t, disabled.Cancel(context.Background(), "acme"), ErrSchedulerDisabled)

	t.Run("cancels the tenant workflow", func(t *testing.T) {
		c := &mocks.Client{}
		c.On("CancelWorkflow", mock.Anything, "ingest-acme", "").Return(nil).Once()
		require.NoError(t, NewStarter(c, "").Cancel(context.Background(), "acme"))
		c.AssertExpectations(t)
	})

	t.Run("no running workflow", func(t *testing.T) {
		c := &mocks.Client{}
		c.On("CancelWorkflow", mock.Anything, "ingest-acme", "").
			Return(serviceerror.NewNotFound("workflow not found"))
		assert.NoError(t, NewStarter(c, "").Cancel(context.Background(), "acme"))
	})

	t.Run("scheduler unavailable", func(t *testing.T) {
		c := &mocks.Client{}
		c.On("CancelWorkflow", mock.Anything, "ingest-acme", "").
			Return(serviceerror.NewUnavailable("frontend down"))
		err := NewStarter(c, "").Cancel(context.Background(), "acme")
		var wfErr *WorkflowError
		require.ErrorAs(t, err, &wfErr)
		assert.Equal(t, "cancel_ingest", wfErr.Operation)
	})
}

func TestWorkflowError(t *testing.T) {
	cause := errors.New("connection refused")
	err := &WorkflowError{Operation: "submit_ingest", TenantID: "acme", Err: cause}
	assert.Equal(t, "submit_ingest failed for tenant acme: connection refused", err.Error())
	assert.ErrorIs(t, err, cause)

	err = &WorkflowError{Operation: "dial", Err: cause}
	assert.Equal(t, "dial failed: connection refused", err.Error())
}
