package crawler

import (
	"errors"
	"fmt"
)

var (
	// ErrSeedUnreachable ends a crawl whose base URL could not be fetched.
	ErrSeedUnreachable = errors.New("seed URL unreachable")

	// ErrInvalidBaseURL indicates a base URL that is not absolute http(s).
	ErrInvalidBaseURL = errors.New("invalid base URL")

	// ErrNotHTML indicates a response whose content type is not HTML.
	ErrNotHTML = errors.New("response is not HTML")

	// ErrOffOrigin indicates a redirect leaving the crawl origin.
	ErrOffOrigin = errors.New("redirect leaves origin")
)

// FetchError reports a single URL that could not be fetched. It never
// aborts a crawl on its own.
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("fetch %s: status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }
