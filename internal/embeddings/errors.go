package embeddings

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyInput indicates empty or nil input texts
	ErrEmptyInput = errors.New("empty or nil input texts")

	// ErrInvalidConfig indicates invalid configuration
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrEmbeddingProvider matches every *ProviderError via errors.Is.
	ErrEmbeddingProvider = errors.New("embedding provider failed")
)

// ProviderError reports a failed call to an embedding provider.
type ProviderError struct {
	// Provider is the provider name (tei, openai, fastembed).
	Provider string

	// Op is the failed operation (embed_documents, embed_query).
	Op string

	// StatusCode is the HTTP status, or 0 when no response was received.
	StatusCode int

	// Retryable marks failures worth retrying: network errors, 429 and 5xx.
	Retryable bool

	Err error
}

func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s %s: status %d: %v", e.Provider, e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Provider, e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Is reports ErrEmbeddingProvider as a match.
func (e *ProviderError) Is(target error) bool {
	return target == ErrEmbeddingProvider
}

// IsRetryable reports whether err is a provider failure worth retrying.
func IsRetryable(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Retryable
}

// retryableStatus classifies an HTTP status code.
func retryableStatus(code int) bool {
	return code == 429 || code >= 500
}
