package workflows

import (
	"errors"
	"fmt"

	"go.temporal.io/sdk/temporal"
)

// ErrSchedulerDisabled is returned when a job is submitted with no
// workflow client configured.
var ErrSchedulerDisabled = errors.New("job scheduler not configured")

// WorkflowError records which operation of a job failed.
type WorkflowError struct {
	Operation string
	TenantID  string
	Err       error
}

// Error implements the error interface
func (e *WorkflowError) Error() string {
	if e.TenantID != "" {
		return fmt.Sprintf("%s failed for tenant %s: %s", e.Operation, e.TenantID, e.Err.Error())
	}
	return fmt.Sprintf("%s failed: %s", e.Operation, e.Err.Error())
}

// Unwrap allows errors.Is and errors.As to work with WorkflowError
func (e *WorkflowError) Unwrap() error {
	return e.Err
}

// IsNonRetryable reports whether err carries one of the permanent
// ingestion error types.
func IsNonRetryable(err error) bool {
	var appErr *temporal.ApplicationError
	if !errors.As(err, &appErr) {
		return false
	}
	if appErr.NonRetryable() {
		return true
	}
	switch appErr.Type() {
	case ErrTypeNoPages, ErrTypeNoContent, ErrTypeInvalidJob:
		return true
	}
	return false
}
