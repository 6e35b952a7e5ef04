package indexer

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/fyrsmithlabs/siteindex/internal/chunker"
	"github.com/fyrsmithlabs/siteindex/internal/vectorstore"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("siteindex.indexer")

// recordNamespace scopes deterministic record IDs.
var recordNamespace = uuid.MustParse("6f1c2a3e-9b0d-4e57-8a61-2d4c5b7e9f10")

// DefaultBatchSize is the number of chunks embedded per provider call.
const DefaultBatchSize = 32

// Config tunes the writer.
type Config struct {
	// BatchSize is the number of chunks embedded per call. Default: 32
	BatchSize int
}

// Result describes one completed replacement.
type Result struct {
	TenantID     string
	Generation   string
	Previous     string
	Written      int
	FailedChunks int
	Collected    []string
	Duration     time.Duration
}

// Writer embeds chunks and swaps them into the vector index.
type Writer struct {
	index    vectorstore.VectorIndex
	embedder vectorstore.Embedder
	config   Config
	logger   *zap.Logger

	now           func() time.Time
	newGeneration func() string
}

// NewWriter creates a writer over index using embedder for vectors.
func NewWriter(index vectorstore.VectorIndex, embedder vectorstore.Embedder, cfg Config, logger *zap.Logger) *Writer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Writer{
		index:         index,
		embedder:      embedder,
		config:        cfg,
		logger:        logger,
		now:           time.Now,
		newGeneration: newGeneration,
	}
}

// newGeneration returns a time-ordered identifier safe for collection names.
func newGeneration() string {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return strings.ReplaceAll(id.String(), "-", "")
}

// recordID derives a stable ID from the record's position in a generation.
func recordID(tenantID, generation, sourceURL string, ordinal int) string {
	key := tenantID + "\x00" + generation + "\x00" + sourceURL + "\x00" + strconv.Itoa(ordinal)
	return uuid.NewSHA1(recordNamespace, []byte(key)).String()
}

// ReplaceAll replaces every record of tenantID with the embedded chunks and
// returns the number of records written.
func (w *Writer) ReplaceAll(ctx context.Context, tenantID string, chunks []chunker.Chunk) (int, error) {
	res, err := w.Replace(ctx, tenantID, chunks)
	if err != nil {
		return 0, err
	}
	return res.Written, nil
}

// Replace is ReplaceAll with the full replacement report.
//
// Chunks whose embedding fails after retries are dropped and counted in
// Result.FailedChunks. The new generation becomes visible only once all
// surviving records are stored.
func (w *Writer) Replace(ctx context.Context, tenantID string, chunks []chunker.Chunk) (*Result, error) {
	ctx, span := tracer.Start(ctx, "Writer.Replace")
	defer span.End()

	if err := vectorstore.ValidateTenantID(tenantID); err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		return nil, fmt.Errorf("%w: no chunks given", ErrNoEmbeddings)
	}

	start := w.now()
	ctx = vectorstore.WithTenantID(ctx, tenantID)
	res := &Result{TenantID: tenantID, Generation: w.newGeneration()}
	span.SetAttributes(
		attribute.String("tenant_id", tenantID),
		attribute.String("generation", res.Generation),
		attribute.Int("chunks", len(chunks)),
	)

	logger := w.logger.With(zap.String("tenant_id", tenantID), zap.String("generation", res.Generation))
	logger.Info("staging index generation", zap.Int("chunks", len(chunks)))

	fail := func(op string, err error) (*Result, error) {
		w.discard(ctx, logger, res.Generation)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, &IndexWriteError{TenantID: tenantID, Generation: res.Generation, Op: op, Err: err}
	}

	for begin := 0; begin < len(chunks); begin += w.config.BatchSize {
		end := min(begin+w.config.BatchSize, len(chunks))
		batch := chunks[begin:end]

		records, failed, err := w.embedBatch(ctx, logger, batch)
		if err != nil {
			return fail("embed", err)
		}
		res.FailedChunks += failed
		if len(records) == 0 {
			continue
		}

		created := w.now().UTC()
		for i := range records {
			records[i].ID = recordID(tenantID, res.Generation, records[i].SourceURL, records[i].Ordinal)
			records[i].TenantID = tenantID
			records[i].CreatedAt = created
		}
		if err := w.index.Upsert(ctx, res.Generation, records); err != nil {
			return fail("upsert", err)
		}
		res.Written += len(records)
	}

	if res.Written == 0 {
		w.discard(ctx, logger, res.Generation)
		err := fmt.Errorf("%w: all %d chunks failed", ErrNoEmbeddings, len(chunks))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	previous, err := w.index.Promote(ctx, res.Generation)
	if err != nil {
		return fail("promote", err)
	}
	res.Previous = previous
	res.Collected = w.collect(ctx, logger, res.Generation)
	res.Duration = w.now().Sub(start)

	logger.Info("index generation promoted",
		zap.String("previous", previous),
		zap.Int("written", res.Written),
		zap.Int("failed_chunks", res.FailedChunks),
		zap.Strings("collected", res.Collected),
		zap.Duration("duration", res.Duration),
	)
	span.SetStatus(codes.Ok, "success")
	return res, nil
}

// embedBatch embeds a batch in one call, falling back to one call per chunk
// when the batch fails. Only cancellation is returned as an error.
func (w *Writer) embedBatch(ctx context.Context, logger *zap.Logger, batch []chunker.Chunk) ([]vectorstore.Record, int, error) {
	texts := make([]string, len(batch))
	for i, c := range batch {
		texts[i] = c.Text
	}

	vectors, err := w.embedder.EmbedDocuments(ctx, texts)
	if err == nil && len(vectors) == len(batch) {
		records := make([]vectorstore.Record, len(batch))
		for i, c := range batch {
			records[i] = newRecord(c, vectors[i])
		}
		return records, 0, nil
	}
	if ctx.Err() != nil {
		return nil, 0, ctx.Err()
	}
	if err == nil {
		err = fmt.Errorf("got %d vectors for %d texts", len(vectors), len(batch))
	}
	logger.Warn("batch embedding failed, falling back to single chunks",
		zap.Int("batch_size", len(batch)), zap.Error(err))

	records := make([]vectorstore.Record, 0, len(batch))
	failed := 0
	for _, c := range batch {
		vectors, err := w.embedder.EmbedDocuments(ctx, []string{c.Text})
		if err != nil || len(vectors) != 1 {
			if ctx.Err() != nil {
				return nil, 0, ctx.Err()
			}
			failed++
			logger.Warn("dropping chunk that could not be embedded",
				zap.String("source_url", c.SourceURL),
				zap.Int("ordinal", c.Ordinal),
				zap.Error(err))
			continue
		}
		records = append(records, newRecord(c, vectors[0]))
	}
	return records, failed, nil
}

func newRecord(c chunker.Chunk, vector []float32) vectorstore.Record {
	return vectorstore.Record{
		SourceURL: c.SourceURL,
		Text:      c.Text,
		Ordinal:   c.Ordinal,
		Vector:    vector,
	}
}

// discard removes a staged generation. It runs even if ctx is cancelled.
func (w *Writer) discard(ctx context.Context, logger *zap.Logger, generation string) {
	if err := w.index.DropGeneration(context.WithoutCancel(ctx), generation); err != nil {
		logger.Warn("failed to drop staged generation", zap.Error(err))
	}
}

// collect drops every generation except current. Failures are logged; old
// generations are invisible to searches either way.
func (w *Writer) collect(ctx context.Context, logger *zap.Logger, current string) []string {
	ctx = context.WithoutCancel(ctx)
	gens, err := w.index.Generations(ctx)
	if err != nil {
		logger.Warn("listing generations for cleanup", zap.Error(err))
		return nil
	}
	var dropped []string
	for _, g := range gens {
		if g == current {
			continue
		}
		if err := w.index.DropGeneration(ctx, g); err != nil {
			logger.Warn("dropping old generation", zap.String("old", g), zap.Error(err))
			continue
		}
		dropped = append(dropped, g)
	}
	return dropped
}

// Count returns the number of records searches currently see for tenantID.
// Zero means the tenant is still training.
func (w *Writer) Count(ctx context.Context, tenantID string) (int, error) {
	if err := vectorstore.ValidateTenantID(tenantID); err != nil {
		return 0, err
	}
	return w.index.Count(vectorstore.WithTenantID(ctx, tenantID))
}

// Delete removes every record of tenantID.
func (w *Writer) Delete(ctx context.Context, tenantID string) error {
	if err := vectorstore.ValidateTenantID(tenantID); err != nil {
		return err
	}
	if err := w.index.DeleteTenant(vectorstore.WithTenantID(ctx, tenantID)); err != nil {
		return &IndexWriteError{TenantID: tenantID, Op: "delete", Err: err}
	}
	w.logger.Info("tenant index deleted", zap.String("tenant_id", tenantID))
	return nil
}
