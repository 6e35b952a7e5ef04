package vectorstore

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const testDim = 4

func newTestChromemIndex(t *testing.T, path string) *ChromemIndex {
	t.Helper()
	idx, err := NewChromemIndex(ChromemConfig{Path: path, VectorSize: testDim}, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func testRecords(tenantID, url string, vectors ...[]float32) []Record {
	records := make([]Record, len(vectors))
	for i, v := range vectors {
		records[i] = Record{
			ID:        fmt.Sprintf("%s-%s-%d", tenantID, url, i),
			SourceURL: url,
			Text:      fmt.Sprintf("chunk %d of %s", i, url),
			Ordinal:   i,
			Vector:    v,
			CreatedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		}
	}
	return records
}

func stage(t *testing.T, idx VectorIndex, ctx context.Context, gen string, records []Record) {
	t.Helper()
	require.NoError(t, idx.Upsert(ctx, gen, records))
	_, err := idx.Promote(ctx, gen)
	require.NoError(t, err)
}

func TestChromemIndex_RequiresTenant(t *testing.T) {
	idx := newTestChromemIndex(t, "")
	ctx := context.Background()

	err := idx.Upsert(ctx, "gen1", testRecords("x", "https://a.test/", []float32{1, 0, 0, 0}))
	assert.ErrorIs(t, err, ErrMissingTenant)

	_, err = idx.Search(ctx, []float32{1, 0, 0, 0}, 3)
	assert.ErrorIs(t, err, ErrMissingTenant)

	_, err = idx.Count(ctx)
	assert.ErrorIs(t, err, ErrMissingTenant)

	_, err = idx.Promote(ctx, "gen1")
	assert.ErrorIs(t, err, ErrMissingTenant)

	assert.ErrorIs(t, idx.DeleteTenant(ctx), ErrMissingTenant)

	_, err = idx.Count(WithTenantID(ctx, "bad tenant!"))
	assert.ErrorIs(t, err, ErrInvalidTenant)
}

func TestChromemIndex_UpsertValidation(t *testing.T) {
	idx := newTestChromemIndex(t, "")
	ctx := WithTenantID(context.Background(), "acme")

	assert.ErrorIs(t, idx.Upsert(ctx, "gen1", nil), ErrEmptyRecords)

	err := idx.Upsert(ctx, "Gen-1", testRecords("acme", "https://a.test/", []float32{1, 0, 0, 0}))
	assert.ErrorIs(t, err, ErrInvalidGeneration)

	err = idx.Upsert(ctx, "gen1", testRecords("acme", "https://a.test/", []float32{1, 0}))
	assert.ErrorIs(t, err, ErrDimensionMismatch)

	_, err = idx.Search(ctx, []float32{1, 0}, 3)
	assert.ErrorIs(t, err, ErrDimensionMismatch)

	_, err = idx.Search(ctx, []float32{1, 0, 0, 0}, 0)
	assert.Error(t, err)
}

func TestChromemIndex_StagedGenerationInvisibleUntilPromoted(t *testing.T) {
	idx := newTestChromemIndex(t, "")
	ctx := WithTenantID(context.Background(), "acme")

	require.NoError(t, idx.Upsert(ctx, "gen1", testRecords("acme", "https://a.test/",
		[]float32{1, 0, 0, 0}, []float32{0, 1, 0, 0})))

	results, err := idx.Search(ctx, []float32{1, 0, 0, 0}, 5)
	require.NoError(t, err)
	assert.Empty(t, results)

	n, err := idx.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	prev, err := idx.Promote(ctx, "gen1")
	require.NoError(t, err)
	assert.Empty(t, prev)

	results, err = idx.Search(ctx, []float32{1, 0, 0, 0}, 5)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "acme-https://a.test/-0", results[0].ID)
	assert.Equal(t, "https://a.test/", results[0].SourceURL)
	assert.Equal(t, "chunk 0 of https://a.test/", results[0].Content)
	assert.InDelta(t, 1.0, results[0].Score, 1e-5)
	assert.Greater(t, results[0].Score, results[1].Score)
	assert.Equal(t, 0, results[0].Metadata[MetaOrdinal])
	assert.Equal(t, "gen1", results[0].Metadata[MetaGeneration])
	assert.Equal(t, "acme", results[0].Metadata[MetaTenantID])

	n, err = idx.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestChromemIndex_SearchClampsK(t *testing.T) {
	idx := newTestChromemIndex(t, "")
	ctx := WithTenantID(context.Background(), "acme")
	stage(t, idx, ctx, "gen1", testRecords("acme", "https://a.test/", []float32{1, 0, 0, 0}))

	results, err := idx.Search(ctx, []float32{1, 0, 0, 0}, 50)
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestChromemIndex_TenantIsolation(t *testing.T) {
	idx := newTestChromemIndex(t, "")
	acme := WithTenantID(context.Background(), "acme")
	globex := WithTenantID(context.Background(), "globex")

	// Records claiming another tenant are restamped from ctx.
	poisoned := testRecords("globex", "https://acme.test/", []float32{1, 0, 0, 0})
	poisoned[0].TenantID = "globex"
	stage(t, idx, acme, "gen1", poisoned)
	stage(t, idx, globex, "gen1", testRecords("globex", "https://globex.test/", []float32{1, 0, 0, 0}))

	results, err := idx.Search(acme, []float32{1, 0, 0, 0}, 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "https://acme.test/", results[0].SourceURL)
	assert.Equal(t, "acme", results[0].Metadata[MetaTenantID])

	results, err = idx.Search(globex, []float32{1, 0, 0, 0}, 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "https://globex.test/", results[0].SourceURL)

	results, err = idx.Search(WithTenantID(context.Background(), "initech"), []float32{1, 0, 0, 0}, 10)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestChromemIndex_PromoteAndDrop(t *testing.T) {
	idx := newTestChromemIndex(t, "")
	ctx := WithTenantID(context.Background(), "acme")

	_, err := idx.Promote(ctx, "missing")
	assert.ErrorIs(t, err, ErrGenerationNotFound)

	stage(t, idx, ctx, "gen1", testRecords("acme", "https://a.test/old", []float32{1, 0, 0, 0}))
	require.NoError(t, idx.Upsert(ctx, "gen2", testRecords("acme", "https://a.test/new",
		[]float32{0, 1, 0, 0}, []float32{0, 0, 1, 0})))

	prev, err := idx.Promote(ctx, "gen2")
	require.NoError(t, err)
	assert.Equal(t, "gen1", prev)

	current, err := idx.CurrentGeneration(ctx)
	require.NoError(t, err)
	assert.Equal(t, "gen2", current)

	gens, err := idx.Generations(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"gen1", "gen2"}, gens)

	assert.ErrorIs(t, idx.DropGeneration(ctx, "gen2"), ErrGenerationCurrent)
	require.NoError(t, idx.DropGeneration(ctx, "gen1"))

	gens, err = idx.Generations(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"gen2"}, gens)

	n, err := idx.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	results, err := idx.Search(ctx, []float32{1, 0, 0, 0}, 5)
	require.NoError(t, err)
	for _, r := range results {
		assert.Equal(t, "https://a.test/new", r.SourceURL)
	}
}

func TestChromemIndex_DeleteTenant(t *testing.T) {
	idx := newTestChromemIndex(t, "")
	acme := WithTenantID(context.Background(), "acme")
	globex := WithTenantID(context.Background(), "globex")

	stage(t, idx, acme, "gen1", testRecords("acme", "https://a.test/", []float32{1, 0, 0, 0}))
	stage(t, idx, globex, "gen1", testRecords("globex", "https://g.test/", []float32{1, 0, 0, 0}))

	require.NoError(t, idx.DeleteTenant(acme))

	n, err := idx.Count(acme)
	require.NoError(t, err)
	assert.Zero(t, n)

	current, err := idx.CurrentGeneration(acme)
	require.NoError(t, err)
	assert.Empty(t, current)

	gens, err := idx.Generations(acme)
	require.NoError(t, err)
	assert.Empty(t, gens)

	n, err = idx.Count(globex)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// Deleting an unknown tenant is a no-op.
	require.NoError(t, idx.DeleteTenant(WithTenantID(context.Background(), "initech")))
}

func TestChromemIndex_PersistsAcrossReopen(t *testing.T) {
	path := t.TempDir()
	ctx := WithTenantID(context.Background(), "acme")

	idx := newTestChromemIndex(t, path)
	stage(t, idx, ctx, "gen1", testRecords("acme", "https://a.test/", []float32{1, 0, 0, 0}, []float32{0, 1, 0, 0}))
	require.NoError(t, idx.Close())

	reopened := newTestChromemIndex(t, path)

	current, err := reopened.CurrentGeneration(ctx)
	require.NoError(t, err)
	assert.Equal(t, "gen1", current)

	n, err := reopened.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	results, err := reopened.Search(ctx, []float32{0, 1, 0, 0}, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "acme-https://a.test/-1", results[0].ID)

	require.NoError(t, reopened.Health(ctx))
}

func TestGenerationCollection(t *testing.T) {
	name := generationCollection("acme", "gen1")
	require.NoError(t, ValidateCollectionName(name))
	assert.Equal(t, name, generationCollection("acme", "gen1"))
	assert.NotEqual(t, name, generationCollection("Acme", "gen1"))
	assert.Len(t, tenantKey("a-very-long-tenant-identifier-that-still-fits-in-sixty-four-chars"), 16)
}
