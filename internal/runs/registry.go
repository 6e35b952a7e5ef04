package runs

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// DefaultSubjectPrefix is the first token of every run subject.
const DefaultSubjectPrefix = "ingest"

// DefaultRetention is how long finished runs stay queryable.
const DefaultRetention = time.Hour

// Option configures a Registry.
type Option func(*Registry)

// WithSubjectPrefix sets the subject prefix.
func WithSubjectPrefix(prefix string) Option {
	return func(r *Registry) {
		if prefix != "" {
			r.prefix = prefix
		}
	}
}

// WithRetention sets how long finished runs are kept in memory.
func WithRetention(d time.Duration) Option {
	return func(r *Registry) { r.retention = d }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// Registry tracks runs in memory and publishes their transitions.
// A nil NATS connection disables publishing. Safe for concurrent use.
type Registry struct {
	nats      *nats.Conn
	prefix    string
	retention time.Duration
	logger    *zap.Logger
	now       func() time.Time

	mu     sync.RWMutex
	runs   map[string]*Run
	latest map[string]string // tenant_id -> run_id
}

// NewRegistry creates a registry publishing on nc.
func NewRegistry(nc *nats.Conn, opts ...Option) *Registry {
	r := &Registry{
		nats:      nc,
		prefix:    DefaultSubjectPrefix,
		retention: DefaultRetention,
		logger:    zap.NewNop(),
		now:       time.Now,
		runs:      make(map[string]*Run),
		latest:    make(map[string]string),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Subject returns the subject a run's transition to state is published on.
func (r *Registry) Subject(tenantID, runID string, state State) string {
	return fmt.Sprintf("%s.%s.%s.%s", r.prefix, tenantID, runID, state)
}

// Create registers a queued run and publishes its queued event. The trace
// ID is taken from ctx's span if there is one.
func (r *Registry) Create(ctx context.Context, tenantID, baseURL string, maxPages int) (Run, error) {
	now := r.now()
	run := &Run{
		ID:        uuid.NewString(),
		TenantID:  tenantID,
		BaseURL:   baseURL,
		MaxPages:  maxPages,
		State:     StateQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		run.TraceID = sc.TraceID().String()
	}

	r.mu.Lock()
	r.runs[run.ID] = run
	r.latest[tenantID] = run.ID
	snapshot := *run
	r.mu.Unlock()

	return snapshot, r.publish(snapshot)
}

// Transition moves a run forward to state.
func (r *Registry) Transition(runID string, state State) error {
	return r.update(runID, state, func(*Run) {})
}

// Progress replaces a run's counters without changing its state.
func (r *Registry) Progress(runID string, counts Counts) error {
	r.mu.Lock()
	run, ok := r.runs[runID]
	if ok {
		run.Counts = counts
		run.UpdatedAt = r.now()
	}
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return nil
}

// Complete marks a run indexed with its final counters.
func (r *Registry) Complete(runID string, counts Counts) error {
	err := r.update(runID, StateIndexed, func(run *Run) { run.Counts = counts })
	if err == nil {
		r.expire(runID)
	}
	return err
}

// Fail marks a run failed with cause.
func (r *Registry) Fail(runID string, cause error) error {
	err := r.update(runID, StateFailed, func(run *Run) {
		if cause != nil {
			run.Error = cause.Error()
		}
	})
	if err == nil {
		r.expire(runID)
	}
	return err
}

// Get returns a snapshot of a run.
func (r *Registry) Get(runID string) (Run, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	run, ok := r.runs[runID]
	if !ok {
		return Run{}, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return *run, nil
}

// Latest returns the most recent run of a tenant.
func (r *Registry) Latest(tenantID string) (Run, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	run, ok := r.runs[r.latest[tenantID]]
	if !ok {
		return Run{}, false
	}
	return *run, true
}

func (r *Registry) update(runID string, state State, mutate func(*Run)) error {
	r.mu.Lock()
	run, ok := r.runs[runID]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if run.State.Terminal() || order[state] < order[run.State] {
		from := run.State
		r.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, state)
	}
	run.State = state
	run.UpdatedAt = r.now()
	mutate(run)
	snapshot := *run
	r.mu.Unlock()

	return r.publish(snapshot)
}

func (r *Registry) publish(run Run) error {
	if r.nats == nil {
		return nil
	}
	data, err := json.Marshal(Event{
		Run:        run,
		DurationMS: run.UpdatedAt.Sub(run.CreatedAt).Milliseconds(),
	})
	if err != nil {
		return fmt.Errorf("marshal run event: %w", err)
	}
	subject := r.Subject(run.TenantID, run.ID, run.State)
	if err := r.nats.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s event: %w", run.State, err)
	}
	r.logger.Debug("run event published", zap.String("subject", subject))
	return nil
}

// expire drops a finished run after the retention period. The tenant's
// latest pointer is only cleared if no newer run replaced it.
func (r *Registry) expire(runID string) {
	if r.retention <= 0 {
		return
	}
	time.AfterFunc(r.retention, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		run, ok := r.runs[runID]
		if !ok {
			return
		}
		delete(r.runs, runID)
		if r.latest[run.TenantID] == runID {
			delete(r.latest, run.TenantID)
		}
	})
}
