package indexer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/fyrsmithlabs/siteindex/internal/chunker"
	"github.com/fyrsmithlabs/siteindex/internal/vectorstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const testDim = 4

// fakeEmbedder maps text to a small deterministic vector. Texts containing
// "poison" fail, as does any batch holding one.
type fakeEmbedder struct {
	mu    sync.Mutex
	calls int
	fail  error
}

func (f *fakeEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	if f.fail != nil {
		return nil, f.fail
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if strings.Contains(t, "poison") {
			return nil, errors.New("provider rejected input")
		}
		out[i] = vectorFor(t)
	}
	return out, nil
}

func (f *fakeEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	v, err := f.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return v[0], nil
}

func vectorFor(text string) []float32 {
	v := make([]float32, testDim)
	for i, r := range text {
		v[i%testDim] += float32(r%7) + 1
	}
	return v
}

// flakyIndex fails Upsert once failAfter successful upserts have happened.
type flakyIndex struct {
	vectorstore.VectorIndex
	failAfter int
	upserts   int
}

func (f *flakyIndex) Upsert(ctx context.Context, generation string, records []vectorstore.Record) error {
	if f.upserts >= f.failAfter {
		return errors.New("disk full")
	}
	f.upserts++
	return f.VectorIndex.Upsert(ctx, generation, records)
}

func newTestIndex(t *testing.T) vectorstore.VectorIndex {
	t.Helper()
	idx, err := vectorstore.NewChromemIndex(vectorstore.ChromemConfig{VectorSize: testDim}, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func testChunks(url string, texts ...string) []chunker.Chunk {
	chunks := make([]chunker.Chunk, len(texts))
	for i, text := range texts {
		chunks[i] = chunker.Chunk{SourceURL: url, Text: text, Ordinal: i}
	}
	return chunks
}

func pageChunks(url string, n int) []chunker.Chunk {
	texts := make([]string, n)
	for i := range texts {
		texts[i] = fmt.Sprintf("passage %d from %s about returns and refunds", i, url)
	}
	return testChunks(url, texts...)
}

func generations(t *testing.T, idx vectorstore.VectorIndex, tenantID string) []string {
	t.Helper()
	gens, err := idx.Generations(vectorstore.WithTenantID(context.Background(), tenantID))
	require.NoError(t, err)
	return gens
}

func TestWriter_ReplaceAll(t *testing.T) {
	idx := newTestIndex(t)
	emb := &fakeEmbedder{}
	w := NewWriter(idx, emb, Config{BatchSize: 2}, zaptest.NewLogger(t))
	ctx := context.Background()

	n, err := w.ReplaceAll(ctx, "acme", pageChunks("https://acme.test/about", 5))
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, 3, emb.calls)

	count, err := w.Count(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, 5, count)
	assert.Len(t, generations(t, idx, "acme"), 1)
}

func TestWriter_ReingestFullyReplaces(t *testing.T) {
	idx := newTestIndex(t)
	w := NewWriter(idx, &fakeEmbedder{}, Config{}, zaptest.NewLogger(t))
	ctx := context.Background()

	first, err := w.Replace(ctx, "acme", pageChunks("https://acme.test/old", 4))
	require.NoError(t, err)
	assert.Empty(t, first.Previous)

	second, err := w.Replace(ctx, "acme", pageChunks("https://acme.test/new", 2))
	require.NoError(t, err)
	assert.Equal(t, first.Generation, second.Previous)
	assert.Equal(t, []string{first.Generation}, second.Collected)

	count, err := w.Count(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	assert.Equal(t, []string{second.Generation}, generations(t, idx, "acme"))

	results, err := idx.Search(vectorstore.WithTenantID(ctx, "acme"), vectorFor("passage 0"), 10)
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, r := range results {
		assert.Equal(t, "https://acme.test/new", r.SourceURL)
	}
}

func TestWriter_TenantsAreIndependent(t *testing.T) {
	idx := newTestIndex(t)
	w := NewWriter(idx, &fakeEmbedder{}, Config{}, zaptest.NewLogger(t))
	ctx := context.Background()

	_, err := w.ReplaceAll(ctx, "acme", pageChunks("https://acme.test/", 3))
	require.NoError(t, err)
	_, err = w.ReplaceAll(ctx, "globex", pageChunks("https://globex.test/", 1))
	require.NoError(t, err)

	_, err = w.ReplaceAll(ctx, "acme", pageChunks("https://acme.test/", 2))
	require.NoError(t, err)

	count, err := w.Count(ctx, "globex")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestWriter_FailedChunksAreDropped(t *testing.T) {
	idx := newTestIndex(t)
	w := NewWriter(idx, &fakeEmbedder{}, Config{BatchSize: 4}, zaptest.NewLogger(t))

	chunks := testChunks("https://acme.test/",
		"first passage describing shipping times",
		"second passage that contains poison content",
		"third passage describing warranty coverage",
	)
	res, err := w.Replace(context.Background(), "acme", chunks)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Written)
	assert.Equal(t, 1, res.FailedChunks)
}

func TestWriter_AllChunksFailKeepsPreviousIndex(t *testing.T) {
	idx := newTestIndex(t)
	emb := &fakeEmbedder{}
	w := NewWriter(idx, emb, Config{}, zaptest.NewLogger(t))
	ctx := context.Background()

	first, err := w.Replace(ctx, "acme", pageChunks("https://acme.test/", 3))
	require.NoError(t, err)

	emb.fail = errors.New("model unavailable")
	_, err = w.ReplaceAll(ctx, "acme", pageChunks("https://acme.test/", 2))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoEmbeddings)

	count, err := w.Count(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, 3, count)
	assert.Equal(t, []string{first.Generation}, generations(t, idx, "acme"))
}

func TestWriter_UpsertFailureLeavesIndexUntouched(t *testing.T) {
	base := newTestIndex(t)
	ctx := context.Background()

	first, err := NewWriter(base, &fakeEmbedder{}, Config{}, zaptest.NewLogger(t)).
		Replace(ctx, "acme", pageChunks("https://acme.test/", 3))
	require.NoError(t, err)

	flaky := &flakyIndex{VectorIndex: base, failAfter: 1}
	w := NewWriter(flaky, &fakeEmbedder{}, Config{BatchSize: 2}, zaptest.NewLogger(t))

	_, err = w.ReplaceAll(ctx, "acme", pageChunks("https://acme.test/v2", 5))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrIndexWrite)

	var iwe *IndexWriteError
	require.True(t, errors.As(err, &iwe))
	assert.Equal(t, "upsert", iwe.Op)
	assert.Equal(t, "acme", iwe.TenantID)
	assert.Contains(t, err.Error(), "disk full")

	count, err := w.Count(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, 3, count)
	assert.Equal(t, []string{first.Generation}, generations(t, base, "acme"))
}

func TestWriter_Validation(t *testing.T) {
	w := NewWriter(newTestIndex(t), &fakeEmbedder{}, Config{}, nil)
	ctx := context.Background()

	_, err := w.ReplaceAll(ctx, "", pageChunks("https://acme.test/", 1))
	assert.ErrorIs(t, err, vectorstore.ErrInvalidTenant)

	_, err = w.ReplaceAll(ctx, "acme", nil)
	assert.ErrorIs(t, err, ErrNoEmbeddings)

	_, err = w.Count(ctx, "bad tenant")
	assert.ErrorIs(t, err, vectorstore.ErrInvalidTenant)
}

func TestWriter_CancelledContext(t *testing.T) {
	idx := newTestIndex(t)
	w := NewWriter(idx, &fakeEmbedder{fail: context.Canceled}, Config{}, zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := w.ReplaceAll(ctx, "acme", pageChunks("https://acme.test/", 2))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, generations(t, idx, "acme"))
}

func TestWriter_Delete(t *testing.T) {
	idx := newTestIndex(t)
	w := NewWriter(idx, &fakeEmbedder{}, Config{}, zaptest.NewLogger(t))
	ctx := context.Background()

	_, err := w.ReplaceAll(ctx, "acme", pageChunks("https://acme.test/", 2))
	require.NoError(t, err)
	require.NoError(t, w.Delete(ctx, "acme"))

	count, err := w.Count(ctx, "acme")
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestRecordIDAndGeneration(t *testing.T) {
	id := recordID("acme", "gen1", "https://acme.test/", 0)
	assert.Equal(t, id, recordID("acme", "gen1", "https://acme.test/", 0))
	assert.NotEqual(t, id, recordID("acme", "gen1", "https://acme.test/", 1))
	assert.NotEqual(t, id, recordID("acme", "gen2", "https://acme.test/", 0))
	assert.NotEqual(t, id, recordID("globex", "gen1", "https://acme.test/", 0))

	gen := newGeneration()
	require.NoError(t, vectorstore.ValidateGeneration(gen))
	assert.NotEqual(t, gen, newGeneration())
}
