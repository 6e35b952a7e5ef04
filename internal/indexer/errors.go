package indexer

import (
	"errors"
	"fmt"
)

var (
	// ErrNoEmbeddings indicates that no chunk could be embedded, so nothing
	// was staged or promoted.
	ErrNoEmbeddings = errors.New("no chunks could be embedded")

	// ErrIndexWrite is matched by every *IndexWriteError.
	ErrIndexWrite = errors.New("index write failed")
)

// IndexWriteError reports that the vector index rejected a replacement.
// The tenant's previously current generation is left untouched.
type IndexWriteError struct {
	TenantID   string
	Generation string
	Op         string
	Err        error
}

func (e *IndexWriteError) Error() string {
	return fmt.Sprintf("index write %s for tenant %s (generation %s): %v", e.Op, e.TenantID, e.Generation, e.Err)
}

func (e *IndexWriteError) Unwrap() error { return e.Err }

// Is reports whether target is ErrIndexWrite.
func (e *IndexWriteError) Is(target error) bool {
	return target == ErrIndexWrite
}
