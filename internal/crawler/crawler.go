package crawler

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"net/http"
	"net/url"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var tracer = otel.Tracer("siteindex.crawler")

// Page is the readable content of one fetched URL.
type Page struct {
	URL   string
	Title string
	Text  string
}

// Stats summarizes one crawl.
type Stats struct {
	// Discovered counts distinct same-origin URLs seen.
	Discovered int
	// Fetched counts pages yielded to the caller.
	Fetched int
	// Skipped counts fetched pages dropped by the title filter, for having
	// no text, or because a redirect led to a page already yielded.
	Skipped int
	// Failed counts URLs whose fetch failed.
	Failed int
	// Filtered counts URLs rejected before fetching.
	Filtered int
	// Discarded counts pages fetched after the page limit was reached.
	Discarded int
	// Rendered counts pages re-extracted through the renderer.
	Rendered int
	// Exhausted is set when the page limit stopped the crawl with URLs
	// still queued.
	Exhausted bool
}

// Option configures a Crawler.
type Option func(*Crawler)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Crawler) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithRenderer enables the headless fallback for script-rendered pages.
func WithRenderer(r Renderer) Option {
	return func(c *Crawler) { c.renderer = r }
}

// WithStats registers a callback receiving the stats of every finished crawl.
func WithStats(fn func(Stats)) Option {
	return func(c *Crawler) { c.onStats = fn }
}

// WithTransport replaces the HTTP transport, mainly for tests.
func WithTransport(rt http.RoundTripper) Option {
	return func(c *Crawler) { c.transport = rt }
}

// Crawler fetches sites. It holds no per-crawl state and is safe for
// concurrent crawls.
type Crawler struct {
	config    Config
	logger    *zap.Logger
	renderer  Renderer
	transport http.RoundTripper
	onStats   func(Stats)
}

// New creates a Crawler. Zero config fields take their defaults.
func New(cfg Config, opts ...Option) *Crawler {
	cfg.ApplyDefaults()
	c := &Crawler{config: cfg, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// session is the state of one crawl. It is owned by a single Crawl call.
type session struct {
	origin   *url.URL
	client   *http.Client
	maxPages int
	seen     map[string]bool
	yielded  map[string]bool
	queue    []*url.URL
	stats    Stats
}

// Crawl returns a lazy sequence of pages reachable from baseURL, at most
// maxPages long. The sequence yields a non-nil error at most once, as its
// last element: when the seed cannot be fetched (ErrSeedUnreachable) or
// when ctx is cancelled.
func (c *Crawler) Crawl(ctx context.Context, baseURL string, maxPages int) iter.Seq2[Page, error] {
	return func(yield func(Page, error) bool) {
		ctx, span := tracer.Start(ctx, "Crawler.Crawl")
		defer span.End()

		seed, err := parseBase(baseURL)
		if err != nil {
			yield(Page{}, err)
			return
		}
		if maxPages <= 0 {
			yield(Page{}, fmt.Errorf("max pages must be positive, got %d", maxPages))
			return
		}

		s := &session{
			origin:   seed,
			maxPages: maxPages,
			seen:     map[string]bool{seed.String(): true},
			yielded:  map[string]bool{},
		}
		s.stats.Discovered = 1
		s.client = newHTTPClient(c.config, seed)
		if c.transport != nil {
			s.client.Transport = c.transport
		}

		logger := c.logger.With(zap.String("base_url", seed.String()), zap.Int("max_pages", maxPages))
		logger.Info("crawl started")
		start := time.Now()
		defer func() {
			span.SetAttributes(
				attribute.Int("pages", s.stats.Fetched),
				attribute.Int("failed", s.stats.Failed),
			)
			logger.Info("crawl finished",
				zap.Int("fetched", s.stats.Fetched),
				zap.Int("skipped", s.stats.Skipped),
				zap.Int("failed", s.stats.Failed),
				zap.Int("filtered", s.stats.Filtered),
				zap.Int("discarded", s.stats.Discarded),
				zap.Bool("exhausted", s.stats.Exhausted),
				zap.Duration("duration", time.Since(start)),
			)
			if c.onStats != nil {
				c.onStats(s.stats)
			}
		}()

		first := c.visit(ctx, s, seed)
		if first.err != nil {
			s.stats.Failed++
			yield(Page{}, fmt.Errorf("%w: %w", ErrSeedUnreachable, first.err))
			return
		}
		s.seen[first.url] = true

		for _, u := range c.discoverSitemapURLs(ctx, s.client, seed) {
			c.enqueue(s, u)
		}

		pending := []result{first}
		for {
			for _, r := range pending {
				if !c.accept(ctx, s, logger, r, yield) {
					return
				}
			}
			if s.stats.Fetched >= s.maxPages {
				if len(s.queue) > 0 {
					s.stats.Exhausted = true
					logger.Info("page limit reached", zap.Int("queued", len(s.queue)))
				}
				return
			}
			if len(s.queue) == 0 {
				return
			}
			if err := c.pause(ctx); err != nil {
				yield(Page{}, err)
				return
			}
			pending = c.fetchBatch(ctx, s, s.nextBatch(c.config.Concurrency))
		}
	}
}

// accept records one fetch result and yields its page if it qualifies.
// It returns false when the consumer stopped the iteration.
func (c *Crawler) accept(ctx context.Context, s *session, logger *zap.Logger, r result, yield func(Page, error) bool) bool {
	if r.err != nil {
		s.stats.Failed++
		logger.Debug("page failed", zap.String("url", r.url), zap.Error(r.err))
		return true
	}
	if s.yielded[r.url] {
		s.stats.Skipped++
		logger.Debug("duplicate page after redirect", zap.String("url", r.url))
		return true
	}

	for _, link := range r.doc.links {
		c.enqueue(s, link)
	}

	if c.config.FilterAuthPages && isBlockedTitle(r.doc.title) {
		s.stats.Skipped++
		logger.Debug("page skipped by title", zap.String("url", r.url), zap.String("title", r.doc.title))
		return true
	}
	if r.doc.text == "" {
		s.stats.Skipped++
		return true
	}
	if s.stats.Fetched >= s.maxPages {
		s.stats.Discarded++
		return true
	}
	if ctx.Err() != nil {
		return true
	}

	s.stats.Fetched++
	s.yielded[r.url] = true
	if r.doc.rendered {
		s.stats.Rendered++
	}
	return yield(Page{URL: r.url, Title: r.doc.title, Text: r.doc.text}, nil)
}

// pause waits out the inter-batch delay or returns ctx's error.
func (c *Crawler) pause(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.config.BatchDelay <= 0 {
		return nil
	}
	t := time.NewTimer(c.config.BatchDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// enqueue queues u unless it was seen, is off origin or is filtered.
func (c *Crawler) enqueue(s *session, u *url.URL) {
	if !sameOrigin(u, s.origin) {
		return
	}
	key := u.String()
	if s.seen[key] {
		return
	}
	s.seen[key] = true
	s.stats.Discovered++

	if hasSkippedExtension(u.Path) || (c.config.FilterAuthPages && isAuthOrErrorPath(u.Path)) {
		s.stats.Filtered++
		return
	}
	s.queue = append(s.queue, u)
}

func (s *session) nextBatch(n int) []*url.URL {
	n = min(n, len(s.queue))
	batch := s.queue[:n:n]
	s.queue = s.queue[n:]
	return batch
}

// result is the outcome of visiting one URL.
type result struct {
	url string
	doc *document
	err error
}

// fetchBatch visits batch concurrently. In-flight fetches run to completion
// even if ctx is cancelled; results keep batch order.
func (c *Crawler) fetchBatch(ctx context.Context, s *session, batch []*url.URL) []result {
	results := make([]result, len(batch))
	fetchCtx := context.WithoutCancel(ctx)

	var g errgroup.Group
	g.SetLimit(c.config.Concurrency)
	for i, u := range batch {
		g.Go(func() error {
			results[i] = c.visit(fetchCtx, s, u)
			return nil
		})
	}
	_ = g.Wait()

	// Redirect targets count as visited.
	for _, r := range results {
		if r.err == nil {
			s.seen[r.url] = true
		}
	}
	return results
}

// visit fetches and parses one page, rendering it in a browser when the
// static HTML looks like a script shell. It only reads immutable session
// fields and is safe to call concurrently.
func (c *Crawler) visit(ctx context.Context, s *session, u *url.URL) result {
	resp, err := c.fetch(ctx, s.client, u.String(), acceptHTML)
	if err != nil {
		return result{url: u.String(), err: err}
	}

	doc, err := parseDocument(resp.body, resp.requestURL)
	if err != nil {
		return result{url: u.String(), err: &FetchError{URL: u.String(), Err: fmt.Errorf("parsing HTML: %w", err)}}
	}

	if c.renderer != nil && needsRender(doc) {
		if rendered, err := c.render(ctx, resp.requestURL); err != nil {
			c.logger.Debug("render fallback failed", zap.String("url", u.String()), zap.Error(err))
		} else {
			doc = rendered
			doc.rendered = true
		}
	}

	return result{url: resp.finalURL.String(), doc: doc}
}

func (c *Crawler) render(ctx context.Context, u *url.URL) (*document, error) {
	body, err := c.renderer.Render(ctx, u.String())
	if err != nil {
		return nil, err
	}
	return parseDocument(body, u)
}

// IsSeedError reports whether err ended a crawl because the seed was unreachable.
func IsSeedError(err error) bool {
	return errors.Is(err, ErrSeedUnreachable)
}
