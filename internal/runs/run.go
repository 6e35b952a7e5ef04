// Package runs tracks ingestion runs and publishes their state transitions
// to NATS.
//
// Runs are kept in memory for status lookups. Every transition is published
// to a subject of the form
//
//	{prefix}.{tenant_id}.{run_id}.{state}
//
// e.g. ingest.acme.0193c1e2-....crawling, so consumers can subscribe to one
// tenant (ingest.acme.>) or to every failure (ingest.*.*.failed).
package runs

import (
	"errors"
	"time"
)

// State is a stage of an ingestion run.
type State string

const (
	StateQueued    State = "queued"
	StateCrawling  State = "crawling"
	StateChunking  State = "chunking"
	StateEmbedding State = "embedding"
	StateIndexed   State = "indexed"
	StateFailed    State = "failed"
)

// Terminal reports whether no further transition can follow s.
func (s State) Terminal() bool {
	return s == StateIndexed || s == StateFailed
}

// order ranks non-terminal states; a run only moves forward.
var order = map[State]int{
	StateQueued:    0,
	StateCrawling:  1,
	StateChunking:  2,
	StateEmbedding: 3,
	StateIndexed:   4,
	StateFailed:    4,
}

var (
	// ErrRunNotFound is returned for unknown or expired run IDs.
	ErrRunNotFound = errors.New("run not found")

	// ErrInvalidTransition is returned when a run would move backwards or
	// leave a terminal state.
	ErrInvalidTransition = errors.New("invalid run state transition")
)

// Counts are the progress counters of a run.
type Counts struct {
	Pages        int `json:"pages"`
	Chunks       int `json:"chunks"`
	Written      int `json:"written"`
	FailedChunks int `json:"failed_chunks"`
	Redactions   int `json:"redactions"`
}

// Run is a snapshot of one ingestion run.
type Run struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenant_id"`
	BaseURL   string    `json:"base_url"`
	MaxPages  int       `json:"max_pages"`
	State     State     `json:"state"`
	Counts    Counts    `json:"counts"`
	Error     string    `json:"error,omitempty"`
	TraceID   string    `json:"trace_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Event is the payload published on every transition.
type Event struct {
	Run
	// DurationMS is the time since the run was created.
	DurationMS int64 `json:"duration_ms"`
}
