// Package ingest drives one ingestion run: crawl a tenant's site, chunk
// every page, and replace the tenant's index in a single swap.
//
// A run moves through queued, crawling, chunking and embedding to indexed
// or failed. A run that fails before the swap never touches the existing
// index, so a broken re-crawl cannot wipe a good index. Re-running a job
// is always safe.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"net/url"
	"time"

	"github.com/fyrsmithlabs/siteindex/internal/chunker"
	"github.com/fyrsmithlabs/siteindex/internal/crawler"
	"github.com/fyrsmithlabs/siteindex/internal/indexer"
	"github.com/fyrsmithlabs/siteindex/internal/logging"
	"github.com/fyrsmithlabs/siteindex/internal/redact"
	"github.com/fyrsmithlabs/siteindex/internal/runs"
	"github.com/fyrsmithlabs/siteindex/internal/vectorstore"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("siteindex.ingest")

// DefaultMaxPages bounds a crawl when the job does not.
const DefaultMaxPages = 50

// Job is one ingestion request.
type Job struct {
	TenantID string `json:"tenant_id"`
	BaseURL  string `json:"base_url"`
	MaxPages int    `json:"max_pages"`
}

// Validate checks the job and fills a zero MaxPages.
func (j *Job) Validate() error {
	if err := vectorstore.ValidateTenantID(j.TenantID); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidJob, err)
	}
	u, err := url.Parse(j.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: base URL must be absolute http(s): %q", ErrInvalidJob, j.BaseURL)
	}
	if j.MaxPages < 0 {
		return fmt.Errorf("%w: max pages must not be negative", ErrInvalidJob)
	}
	if j.MaxPages == 0 {
		j.MaxPages = DefaultMaxPages
	}
	return nil
}

// RunResult describes a finished run.
type RunResult struct {
	RunID        string        `json:"run_id"`
	TenantID     string        `json:"tenant_id"`
	Pages        int           `json:"pages"`
	Chunks       int           `json:"chunks"`
	Written      int           `json:"written"`
	FailedChunks int           `json:"failed_chunks"`
	Redactions   int           `json:"redactions"`
	Generation   string        `json:"generation,omitempty"`
	Duration     time.Duration `json:"duration"`
}

// Crawler yields the pages of a site.
type Crawler interface {
	Crawl(ctx context.Context, baseURL string, maxPages int) iter.Seq2[crawler.Page, error]
}

// IndexWriter replaces a tenant's index.
type IndexWriter interface {
	Replace(ctx context.Context, tenantID string, chunks []chunker.Chunk) (*indexer.Result, error)
	Count(ctx context.Context, tenantID string) (int, error)
}

// Redactor scrubs secrets from page text.
type Redactor interface {
	Redact(text string) redact.Result
}

// CacheInvalidator drops a tenant's cached query results.
type CacheInvalidator interface {
	Invalidate(ctx context.Context, tenantID string) error
}

// Tracker records run state transitions.
type Tracker interface {
	Create(ctx context.Context, tenantID, baseURL string, maxPages int) (runs.Run, error)
	Transition(runID string, state runs.State) error
	Progress(runID string, counts runs.Counts) error
	Complete(runID string, counts runs.Counts) error
	Fail(runID string, cause error) error
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithRedactor scrubs page text before chunking.
func WithRedactor(r Redactor) Option {
	return func(o *Orchestrator) { o.redactor = r }
}

// WithCache invalidates a tenant's cached queries after each indexed run.
func WithCache(c CacheInvalidator) Option {
	return func(o *Orchestrator) { o.cache = c }
}

// WithTracker publishes run transitions. Without one, runs are tracked by
// an in-memory registry that publishes nothing.
func WithTracker(t Tracker) Option {
	return func(o *Orchestrator) { o.tracker = t }
}

// WithChunkerOptions tunes chunking.
func WithChunkerOptions(opts ...chunker.Option) Option {
	return func(o *Orchestrator) { o.chunkOpts = append(o.chunkOpts, opts...) }
}

// Orchestrator runs ingestion jobs. It is safe for concurrent runs of
// different tenants; concurrent runs of one tenant each complete a full
// swap and the last to promote wins.
type Orchestrator struct {
	crawler   Crawler
	writer    IndexWriter
	redactor  Redactor
	cache     CacheInvalidator
	tracker   Tracker
	chunkOpts []chunker.Option
	logger    *zap.Logger
	metrics   *Metrics
}

// New creates an Orchestrator.
func New(c Crawler, w IndexWriter, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		crawler: c,
		writer:  w,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.tracker == nil {
		o.tracker = runs.NewRegistry(nil)
	}
	o.metrics = NewMetrics(o.logger)
	return o
}

// run is the mutable state of one Run call.
type run struct {
	id     string
	job    Job
	logger *zap.Logger
	counts runs.Counts
}

// Run executes job to completion. On failure the returned RunResult still
// carries the run ID and whatever counts were reached.
func (o *Orchestrator) Run(ctx context.Context, job Job) (*RunResult, error) {
	if err := job.Validate(); err != nil {
		return nil, err
	}

	ctx, span := tracer.Start(ctx, "Orchestrator.Run")
	defer span.End()
	span.SetAttributes(
		attribute.String("tenant_id", job.TenantID),
		attribute.String("base_url", job.BaseURL),
		attribute.Int("max_pages", job.MaxPages),
	)

	start := time.Now()
	created, err := o.tracker.Create(ctx, job.TenantID, job.BaseURL, job.MaxPages)
	if err != nil {
		o.logger.Warn("publishing run event failed", zap.Error(err))
	}
	ctx = logging.WithRunID(logging.WithTenant(ctx, job.TenantID), created.ID)
	r := &run{
		id:     created.ID,
		job:    job,
		logger: o.logger.With(logging.ContextFields(ctx)...),
	}
	r.logger.Info("ingestion started", zap.String("base_url", job.BaseURL), zap.Int("max_pages", job.MaxPages))

	res, err := o.execute(ctx, r)
	res.RunID = r.id
	res.TenantID = job.TenantID
	res.Duration = time.Since(start)
	o.metrics.RecordRun(ctx, res.Duration, res.Pages, res.Written, err)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		o.note(r, o.tracker.Fail(r.id, err))
		r.logger.Error("ingestion failed", zap.Error(err), zap.Duration("duration", res.Duration))
		return res, err
	}

	o.note(r, o.tracker.Complete(r.id, r.counts))
	r.logger.Info("ingestion finished",
		zap.Int("pages", res.Pages),
		zap.Int("chunks", res.Chunks),
		zap.Int("written", res.Written),
		zap.Int("failed_chunks", res.FailedChunks),
		zap.Duration("duration", res.Duration))
	return res, nil
}

func (o *Orchestrator) execute(ctx context.Context, r *run) (*RunResult, error) {
	res := &RunResult{}

	previous, err := o.writer.Count(ctx, r.job.TenantID)
	if err != nil {
		r.logger.Warn("counting existing records failed", zap.Error(err))
		previous = -1
	}

	o.transition(r, runs.StateCrawling)
	pages, err := o.crawl(ctx, r)
	res.Pages = len(pages)
	r.counts.Pages = len(pages)
	if err != nil {
		return res, err
	}

	o.transition(r, runs.StateChunking)
	chunks := o.chunk(r, pages)
	res.Chunks = len(chunks)
	res.Redactions = r.counts.Redactions
	r.counts.Chunks = len(chunks)
	o.note(r, o.tracker.Progress(r.id, r.counts))
	if len(chunks) == 0 {
		return res, fmt.Errorf("%w: %d pages from %s", ErrNoContent, len(pages), r.job.BaseURL)
	}

	o.transition(r, runs.StateEmbedding)
	written, err := o.writer.Replace(ctx, r.job.TenantID, chunks)
	if err != nil {
		return res, fmt.Errorf("replacing index: %w", err)
	}
	res.Written = written.Written
	res.FailedChunks = written.FailedChunks
	res.Generation = written.Generation
	r.counts.Written = written.Written
	r.counts.FailedChunks = written.FailedChunks

	if previous > 0 {
		after, err := o.writer.Count(ctx, r.job.TenantID)
		switch {
		case err != nil:
			r.logger.Warn("counting records after swap failed", zap.Error(err))
		case after == 0:
			return res, fmt.Errorf("%w: tenant had %d records", ErrIndexEmptied, previous)
		}
	}

	if o.cache != nil {
		if err := o.cache.Invalidate(ctx, r.job.TenantID); err != nil {
			r.logger.Warn("invalidating query cache failed", zap.Error(err))
		}
	}
	return res, nil
}

// crawl drains the crawler. Individual page failures never surface here;
// only an unreachable seed or cancellation does.
func (o *Orchestrator) crawl(ctx context.Context, r *run) ([]crawler.Page, error) {
	var pages []crawler.Page
	for page, err := range o.crawler.Crawl(ctx, r.job.BaseURL, r.job.MaxPages) {
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return pages, ctxErr
			}
			if len(pages) == 0 {
				return nil, fmt.Errorf("%w: %w", ErrNoPages, err)
			}
			r.logger.Warn("crawl ended early", zap.Error(err), zap.Int("pages", len(pages)))
			break
		}
		pages = append(pages, page)
	}
	if len(pages) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoPages, r.job.BaseURL)
	}
	return pages, nil
}

// chunk redacts and chunks every page in crawl order.
func (o *Orchestrator) chunk(r *run, pages []crawler.Page) []chunker.Chunk {
	c := chunker.New(append([]chunker.Option{chunker.WithTenant(r.job.TenantID)}, o.chunkOpts...)...)

	var all []chunker.Chunk
	for _, p := range pages {
		text := p.Text
		if o.redactor != nil {
			red := o.redactor.Redact(text)
			if n := len(red.Findings); n > 0 {
				r.counts.Redactions += n
				r.logger.Info("secrets redacted from page", zap.String("url", p.URL), zap.Int("count", n))
			}
			text = red.Text
		}
		all = append(all, c.Chunk(text, p.URL)...)
	}
	return all
}

func (o *Orchestrator) transition(r *run, state runs.State) {
	r.logger.Debug("run state", zap.String("state", string(state)))
	o.note(r, o.tracker.Transition(r.id, state))
}

// note logs a failed run event. Tracking never fails a run.
func (o *Orchestrator) note(r *run, err error) {
	if err != nil && !errors.Is(err, runs.ErrInvalidTransition) {
		r.logger.Warn("publishing run event failed", zap.Error(err))
	}
}
