package retriever

import (
	"errors"
	"fmt"
)

var (
	// ErrRetrieval is matched by every *RetrievalError.
	ErrRetrieval = errors.New("retrieval failed")

	// ErrEmptyQuery is returned for a query with no content after normalization.
	ErrEmptyQuery = errors.New("empty query")
)

// RetrievalError reports that a live query could not be answered. Callers
// serving a chat turn should treat it as "no context available".
type RetrievalError struct {
	TenantID string
	Op       string
	Err      error
}

func (e *RetrievalError) Error() string {
	return fmt.Sprintf("retrieval %s for tenant %s: %v", e.Op, e.TenantID, e.Err)
}

func (e *RetrievalError) Unwrap() error { return e.Err }

// Is reports whether target is ErrRetrieval.
func (e *RetrievalError) Is(target error) bool {
	return target == ErrRetrieval
}
