package ingest

import "errors"

var (
	// ErrNoPages fails a run whose crawl produced no pages: the site was
	// unreachable or everything was filtered out. The index is untouched.
	ErrNoPages = errors.New("crawl produced no pages")

	// ErrNoContent fails a run whose pages yielded no indexable chunks.
	// The index is untouched.
	ErrNoContent = errors.New("pages produced no indexable content")

	// ErrIndexEmptied flags a run after which a previously populated tenant
	// index reports zero records.
	ErrIndexEmptied = errors.New("index empty after ingestion")

	// ErrInvalidJob is returned for jobs with a bad tenant, URL or limit.
	ErrInvalidJob = errors.New("invalid ingestion job")
)

// IsPermanent reports whether retrying the same job cannot succeed without
// a change to the site or the job.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrNoPages) || errors.Is(err, ErrNoContent) || errors.Is(err, ErrInvalidJob)
}
