package ingest

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"iter"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/fyrsmithlabs/siteindex/internal/chunker"
	"github.com/fyrsmithlabs/siteindex/internal/crawler"
	"github.com/fyrsmithlabs/siteindex/internal/indexer"
	"github.com/fyrsmithlabs/siteindex/internal/redact"
	"github.com/fyrsmithlabs/siteindex/internal/retriever"
	"github.com/fyrsmithlabs/siteindex/internal/runs"
	"github.com/fyrsmithlabs/siteindex/internal/vectorstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const testDim = 64

// hashEmbedder maps each word to a dimension, giving texts that share
// words similar vectors.
type hashEmbedder struct{}

func (hashEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v := make([]float32, testDim)
		for _, w := range strings.Fields(strings.ToLower(t)) {
			h := fnv.New32a()
			h.Write([]byte(w))
			v[h.Sum32()%testDim]++
		}
		v[0] += 0.01
		out[i] = v
	}
	return out, nil
}

func (e hashEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	v, err := e.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return v[0], nil
}

// staticCrawler yields fixed pages, then err if set.
type staticCrawler struct {
	pages []crawler.Page
	err   error
}

func (s staticCrawler) Crawl(_ context.Context, _ string, maxPages int) iter.Seq2[crawler.Page, error] {
	return func(yield func(crawler.Page, error) bool) {
		for i, p := range s.pages {
			if i >= maxPages {
				return
			}
			if !yield(p, nil) {
				return
			}
		}
		if s.err != nil {
			yield(crawler.Page{}, s.err)
		}
	}
}

type recordingCache struct {
	mu      sync.Mutex
	tenants []string
}

func (c *recordingCache) Invalidate(_ context.Context, tenantID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tenants = append(c.tenants, tenantID)
	return nil
}

type fixture struct {
	index    vectorstore.VectorIndex
	writer   *indexer.Writer
	registry *runs.Registry
	cache    *recordingCache
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	idx, err := vectorstore.NewChromemIndex(vectorstore.ChromemConfig{VectorSize: testDim}, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })
	return &fixture{
		index:    idx,
		writer:   indexer.NewWriter(idx, hashEmbedder{}, indexer.Config{BatchSize: 4}, zaptest.NewLogger(t)),
		registry: runs.NewRegistry(nil),
		cache:    &recordingCache{},
	}
}

func (f *fixture) orchestrator(t *testing.T, c Crawler, opts ...Option) *Orchestrator {
	base := []Option{
		WithLogger(zaptest.NewLogger(t)),
		WithTracker(f.registry),
		WithCache(f.cache),
	}
	return New(c, f.writer, append(base, opts...)...)
}

func (f *fixture) count(t *testing.T, tenantID string) int {
	t.Helper()
	n, err := f.writer.Count(context.Background(), tenantID)
	require.NoError(t, err)
	return n
}

func page(path string, words int) crawler.Page {
	var b strings.Builder
	for i := range words {
		fmt.Fprintf(&b, "%s word%d ", strings.Trim(path, "/"), i)
	}
	return crawler.Page{URL: "https://acme.test" + path, Title: path, Text: b.String()}
}

func TestRun_IndexesAllPages(t *testing.T) {
	f := newFixture(t)
	o := f.orchestrator(t, staticCrawler{pages: []crawler.Page{page("/", 40), page("/about", 300), page("/contact", 30)}})

	res, err := o.Run(context.Background(), Job{TenantID: "acme", BaseURL: "https://acme.test", MaxPages: 50})
	require.NoError(t, err)

	assert.Equal(t, 3, res.Pages)
	assert.Greater(t, res.Chunks, 3)
	assert.Equal(t, res.Chunks, res.Written)
	assert.Equal(t, res.Written, f.count(t, "acme"))
	assert.NotEmpty(t, res.Generation)
	assert.Equal(t, []string{"acme"}, f.cache.tenants)

	run, err := f.registry.Get(res.RunID)
	require.NoError(t, err)
	assert.Equal(t, runs.StateIndexed, run.State)
	assert.Equal(t, res.Written, run.Counts.Written)
}

func TestRun_ReingestReplacesIndex(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	job := Job{TenantID: "acme", BaseURL: "https://acme.test"}

	_, err := f.orchestrator(t, staticCrawler{pages: []crawler.Page{page("/", 400), page("/old", 400)}}).Run(ctx, job)
	require.NoError(t, err)
	before := f.count(t, "acme")

	res, err := f.orchestrator(t, staticCrawler{pages: []crawler.Page{page("/", 40)}}).Run(ctx, job)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Written)
	assert.Less(t, res.Written, before)
	assert.Equal(t, 1, f.count(t, "acme"))
}

func TestRun_NoPagesKeepsIndex(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	job := Job{TenantID: "acme", BaseURL: "https://acme.test"}

	_, err := f.orchestrator(t, staticCrawler{pages: []crawler.Page{page("/", 40)}}).Run(ctx, job)
	require.NoError(t, err)
	require.Equal(t, 1, f.count(t, "acme"))

	seedErr := fmt.Errorf("%w: connection refused", crawler.ErrSeedUnreachable)
	res, err := f.orchestrator(t, staticCrawler{err: seedErr}).Run(ctx, job)
	require.ErrorIs(t, err, ErrNoPages)
	assert.ErrorIs(t, err, crawler.ErrSeedUnreachable)
	assert.True(t, IsPermanent(err))
	assert.Equal(t, 1, f.count(t, "acme"))

	run, gerr := f.registry.Get(res.RunID)
	require.NoError(t, gerr)
	assert.Equal(t, runs.StateFailed, run.State)
	assert.Contains(t, run.Error, "no pages")

	_, err = f.orchestrator(t, staticCrawler{}).Run(ctx, job)
	assert.ErrorIs(t, err, ErrNoPages)
	assert.Equal(t, 1, f.count(t, "acme"))
}

func TestRun_NoContentKeepsIndex(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	job := Job{TenantID: "acme", BaseURL: "https://acme.test"}

	_, err := f.orchestrator(t, staticCrawler{pages: []crawler.Page{page("/", 40)}}).Run(ctx, job)
	require.NoError(t, err)

	short := []crawler.Page{{URL: "https://acme.test/", Text: "Hi."}, {URL: "https://acme.test/x", Text: ""}}
	res, err := f.orchestrator(t, staticCrawler{pages: short}).Run(ctx, job)
	require.ErrorIs(t, err, ErrNoContent)
	assert.True(t, IsPermanent(err))
	assert.Equal(t, 2, res.Pages)
	assert.Equal(t, 1, f.count(t, "acme"))
}

func TestRun_LateCrawlErrorKeepsPages(t *testing.T) {
	f := newFixture(t)
	c := staticCrawler{pages: []crawler.Page{page("/", 40)}, err: errors.New("transport closed")}

	res, err := f.orchestrator(t, c).Run(context.Background(), Job{TenantID: "acme", BaseURL: "https://acme.test"})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Pages)
}

func TestRun_Cancelled(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := staticCrawler{pages: []crawler.Page{page("/", 40)}, err: context.Canceled}
	_, err := f.orchestrator(t, c).Run(ctx, Job{TenantID: "acme", BaseURL: "https://acme.test"})
	require.ErrorIs(t, err, context.Canceled)
	assert.False(t, IsPermanent(err))
	assert.Zero(t, f.count(t, "acme"))
}

type emptyingWriter struct {
	*indexer.Writer
	counts []int
}

func (w *emptyingWriter) Count(ctx context.Context, tenantID string) (int, error) {
	n := w.counts[0]
	w.counts = w.counts[1:]
	return n, nil
}

func TestRun_IndexEmptied(t *testing.T) {
	f := newFixture(t)
	w := &emptyingWriter{Writer: f.writer, counts: []int{12, 0}}
	o := New(staticCrawler{pages: []crawler.Page{page("/", 40)}}, w, WithTracker(f.registry), WithCache(f.cache))

	_, err := o.Run(context.Background(), Job{TenantID: "acme", BaseURL: "https://acme.test"})
	require.ErrorIs(t, err, ErrIndexEmptied)
	assert.Empty(t, f.cache.tenants)
}

type fakeRedactor struct{}

func (fakeRedactor) Redact(text string) redact.Result {
	const secret = "sk_live_supersecretvalue"
	n := strings.Count(text, secret)
	res := redact.Result{Text: strings.ReplaceAll(text, secret, "[REDACTED:stripe]")}
	for range n {
		res.Findings = append(res.Findings, redact.Finding{RuleID: "stripe"})
	}
	return res
}

func TestRun_RedactsBeforeIndexing(t *testing.T) {
	f := newFixture(t)
	p := page("/docs", 30)
	p.Text += " example key sk_live_supersecretvalue for the sandbox"
	o := f.orchestrator(t, staticCrawler{pages: []crawler.Page{p}}, WithRedactor(fakeRedactor{}))

	res, err := o.Run(context.Background(), Job{TenantID: "acme", BaseURL: "https://acme.test"})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Redactions)

	ctx := vectorstore.WithTenantID(context.Background(), "acme")
	vec, err := hashEmbedder{}.EmbedQuery(ctx, "example key for the sandbox")
	require.NoError(t, err)
	hits, err := f.index.Search(ctx, vec, 5)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	for _, h := range hits {
		assert.NotContains(t, h.Content, "sk_live_supersecretvalue")
	}
}

func TestRun_ChunkerOptions(t *testing.T) {
	f := newFixture(t)
	o := f.orchestrator(t, staticCrawler{pages: []crawler.Page{page("/", 300)}},
		WithChunkerOptions(chunker.WithTargetSize(400), chunker.WithOverlap(50)))

	res, err := o.Run(context.Background(), Job{TenantID: "acme", BaseURL: "https://acme.test"})
	require.NoError(t, err)
	assert.Greater(t, res.Chunks, 4)
}

func TestJob_Validate(t *testing.T) {
	tests := []struct {
		name string
		job  Job
		ok   bool
	}{
		{"valid", Job{TenantID: "acme", BaseURL: "https://acme.test", MaxPages: 10}, true},
		{"default max pages", Job{TenantID: "acme", BaseURL: "http://acme.test"}, true},
		{"bad tenant", Job{TenantID: "acme corp", BaseURL: "https://acme.test"}, false},
		{"empty tenant", Job{BaseURL: "https://acme.test"}, false},
		{"relative url", Job{TenantID: "acme", BaseURL: "/about"}, false},
		{"ftp url", Job{TenantID: "acme", BaseURL: "ftp://acme.test"}, false},
		{"negative max", Job{TenantID: "acme", BaseURL: "https://acme.test", MaxPages: -1}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job := tt.job
			err := job.Validate()
			if !tt.ok {
				assert.ErrorIs(t, err, ErrInvalidJob)
				return
			}
			require.NoError(t, err)
			assert.Positive(t, job.MaxPages)
		})
	}
}

func TestRun_InvalidJob(t *testing.T) {
	f := newFixture(t)
	_, err := f.orchestrator(t, staticCrawler{}).Run(context.Background(), Job{TenantID: "", BaseURL: "https://acme.test"})
	assert.ErrorIs(t, err, ErrInvalidJob)
	assert.True(t, IsPermanent(err))
}

// TestRun_EndToEnd crawls a real three-page site, indexes it, and queries it.
func TestRun_EndToEnd(t *testing.T) {
	pages := map[string]string{
		"/":        "Acme builds industrial widgets for factories around the world. Our widgets are durable and affordable.",
		"/about":   "Acme was founded in 1999 by two engineers. The company headquarters is located in Springfield.",
		"/contact": "Contact our sales team by email for quotes. Support is available on weekdays from nine to five.",
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := pages[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprintf(w, `<html><head><title>Acme %s</title></head><body><nav><a href="/">Home</a><a href="/about">About</a><a href="/contact">Contact</a></nav><main><p>%s</p></main></body></html>`, r.URL.Path, body)
	}))
	defer srv.Close()

	f := newFixture(t)
	cfg := crawler.DefaultConfig()
	cfg.BatchDelay = -1
	c := crawler.New(cfg, crawler.WithLogger(zaptest.NewLogger(t)))

	res, err := f.orchestrator(t, c).Run(context.Background(), Job{TenantID: "acme", BaseURL: srv.URL, MaxPages: 50})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Pages)
	assert.Equal(t, 3, res.Written)

	svc := retriever.NewService(f.index, hashEmbedder{}, nil, retriever.Config{TopK: 3, MinSimilarity: 0.01}, zaptest.NewLogger(t))
	results, err := svc.FindSimilar(context.Background(), "acme", "Where is the company headquarters located?", 3, 0.01)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, srv.URL+"/about", results[0].SourceURL)
}
