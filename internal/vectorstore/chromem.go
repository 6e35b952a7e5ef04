package vectorstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	chromem "github.com/philippgille/chromem-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

// chromemTracer for OpenTelemetry instrumentation.
var chromemTracer = otel.Tracer("siteindex.vectorstore.chromem")

const (
	// manifestCollection holds one pointer document per tenant.
	manifestCollection = "site_generations"

	collectionPrefix = "site_"
)

// errEmbeddingRequired is returned if chromem ever tries to embed on its own.
// Every record and query carries a precomputed vector.
var errEmbeddingRequired = errors.New("chromem index requires precomputed embeddings")

// ChromemConfig holds configuration for the chromem-go embedded vector database.
type ChromemConfig struct {
	// Path is the directory for persistent storage.
	// Empty keeps everything in memory.
	Path string

	// Compress enables gzip compression for stored data.
	Compress bool

	// VectorSize is the expected embedding dimension.
	// Must match the embedder's output dimension.
	// Default: 384 (for FastEmbed bge-small-en-v1.5)
	VectorSize int

	// Isolation is the tenant isolation mode.
	// Default: PayloadIsolation.
	Isolation IsolationMode
}

// ApplyDefaults sets default values for unset fields.
func (c *ChromemConfig) ApplyDefaults() {
	if c.VectorSize == 0 {
		c.VectorSize = 384
	}
	if c.Isolation == nil {
		c.Isolation = NewPayloadIsolation()
	}
}

// Validate validates the configuration.
func (c *ChromemConfig) Validate() error {
	if c.VectorSize <= 0 {
		return fmt.Errorf("%w: vector size must be positive", ErrInvalidConfig)
	}
	return nil
}

// ChromemIndex implements VectorIndex using chromem-go.
//
// Each tenant generation lives in its own collection, so dropping a
// generation is a single collection delete and counting is exact. Queries
// still carry the tenant where-filter, evaluated by chromem before scoring.
// The tenant's current generation is persisted in a manifest collection.
type ChromemIndex struct {
	db        *chromem.DB
	config    ChromemConfig
	logger    *zap.Logger
	isolation IsolationMode

	manifest *chromem.Collection

	// mu serializes pointer flips; current caches manifest reads.
	mu      sync.Mutex
	current sync.Map
}

// NewChromemIndex creates a ChromemIndex with the given configuration.
func NewChromemIndex(config ChromemConfig, logger *zap.Logger) (*ChromemIndex, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	var (
		db  *chromem.DB
		err error
	)
	if config.Path == "" {
		db = chromem.NewDB()
	} else {
		path, perr := expandChromemPath(config.Path)
		if perr != nil {
			return nil, fmt.Errorf("expanding path: %w", perr)
		}
		if err := os.MkdirAll(path, 0o755); err != nil {
			return nil, fmt.Errorf("creating directory %s: %w", path, err)
		}
		db, err = openResilientDB(path, config.Compress, logger)
		if err != nil {
			return nil, fmt.Errorf("creating chromem DB: %w", err)
		}
		config.Path = path
	}

	manifest, err := db.GetOrCreateCollection(manifestCollection, nil, noEmbedding)
	if err != nil {
		return nil, fmt.Errorf("opening generation manifest: %w", err)
	}

	idx := &ChromemIndex{
		db:        db,
		config:    config,
		logger:    logger,
		isolation: config.Isolation,
		manifest:  manifest,
	}

	logger.Info("chromem index initialized",
		zap.String("path", config.Path),
		zap.Bool("persistent", config.Path != ""),
		zap.Int("vector_size", config.VectorSize),
		zap.String("isolation", idx.isolation.Mode()),
	)
	return idx, nil
}

// expandChromemPath expands ~ to home directory.
func expandChromemPath(path string) (string, error) {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, path[1:]), nil
	}
	return path, nil
}

func noEmbedding(context.Context, string) ([]float32, error) {
	return nil, errEmbeddingRequired
}

// tenantKey maps a tenant ID onto characters valid in a collection name.
func tenantKey(tenantID string) string {
	sum := sha256.Sum256([]byte(tenantID))
	return hex.EncodeToString(sum[:8])
}

func generationCollection(tenantID, generation string) string {
	return collectionPrefix + tenantKey(tenantID) + "_" + generation
}

// Upsert writes records into the generation's collection.
func (s *ChromemIndex) Upsert(ctx context.Context, generation string, records []Record) error {
	ctx, span := chromemTracer.Start(ctx, "ChromemIndex.Upsert")
	defer span.End()
	defer observe("chromem", "upsert")()

	span.SetAttributes(
		attribute.Int("record_count", len(records)),
		attribute.String("generation", generation),
	)

	if len(records) == 0 {
		return ErrEmptyRecords
	}
	if err := ValidateGeneration(generation); err != nil {
		return err
	}
	if err := s.isolation.InjectMetadata(ctx, records); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("injecting tenant metadata: %w", err)
	}

	tenantID := records[0].TenantID
	name := generationCollection(tenantID, generation)
	if err := ValidateCollectionName(name); err != nil {
		return err
	}

	docs := make([]chromem.Document, len(records))
	for i, r := range records {
		if len(r.Vector) != s.config.VectorSize {
			err := fmt.Errorf("%w: record %d has %d dimensions, want %d",
				ErrDimensionMismatch, i, len(r.Vector), s.config.VectorSize)
			span.RecordError(err)
			return err
		}
		docs[i] = chromem.Document{
			ID:        r.ID,
			Content:   r.Text,
			Metadata:  recordMetadata(r, generation),
			Embedding: r.Vector,
		}
	}

	collection, err := s.db.GetOrCreateCollection(name, map[string]string{
		MetaTenantID:   tenantID,
		MetaGeneration: generation,
	}, noEmbedding)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("getting/creating collection %s: %w", name, err)
	}

	if err := collection.AddDocuments(ctx, docs, 1); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("adding documents: %w", err)
	}

	span.SetStatus(codes.Ok, "success")
	s.logger.Debug("upserted records",
		zap.String("tenant_id", tenantID),
		zap.String("generation", generation),
		zap.Int("count", len(docs)),
	)
	return nil
}

// Search queries the tenant's current generation.
func (s *ChromemIndex) Search(ctx context.Context, vector []float32, k int) ([]SearchResult, error) {
	ctx, span := chromemTracer.Start(ctx, "ChromemIndex.Search")
	defer span.End()
	defer observe("chromem", "search")()

	span.SetAttributes(attribute.Int("k", k))

	if k <= 0 {
		return nil, fmt.Errorf("k must be positive, got %d", k)
	}
	if len(vector) != s.config.VectorSize {
		return nil, fmt.Errorf("%w: query has %d dimensions, want %d",
			ErrDimensionMismatch, len(vector), s.config.VectorSize)
	}

	filters, err := s.isolation.InjectFilter(ctx, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("injecting tenant filter: %w", err)
	}
	tenantID := filters[MetaTenantID]

	generation, err := s.currentGeneration(ctx, tenantID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if generation == "" {
		return []SearchResult{}, nil
	}
	filters[MetaGeneration] = generation
	span.SetAttributes(attribute.String("generation", generation))

	collection := s.db.GetCollection(generationCollection(tenantID, generation), noEmbedding)
	if collection == nil {
		return []SearchResult{}, nil
	}

	// chromem requires nResults <= doc count
	docCount := collection.Count()
	if docCount == 0 {
		return []SearchResult{}, nil
	}
	if k > docCount {
		k = docCount
	}

	results, err := collection.QueryEmbedding(ctx, vector, k, filters, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("querying generation %s: %w", generation, err)
	}

	out := make([]SearchResult, 0, len(results))
	for _, r := range results {
		// Tenant filter already applied by chromem; this guards the manifest.
		if r.Metadata[MetaTenantID] != tenantID {
			continue
		}
		out = append(out, SearchResult{
			ID:        r.ID,
			Content:   r.Content,
			SourceURL: r.Metadata[MetaSourceURL],
			Score:     r.Similarity,
			Metadata:  convertMetadataFromString(r.Metadata),
		})
	}

	span.SetAttributes(attribute.Int("results_count", len(out)))
	span.SetStatus(codes.Ok, "success")
	return out, nil
}

// Promote flips the tenant's current generation.
func (s *ChromemIndex) Promote(ctx context.Context, generation string) (string, error) {
	ctx, span := chromemTracer.Start(ctx, "ChromemIndex.Promote")
	defer span.End()

	tenant, err := s.isolation.Tenant(ctx)
	if err != nil {
		return "", err
	}
	if err := ValidateGeneration(generation); err != nil {
		return "", err
	}

	collection := s.db.GetCollection(generationCollection(tenant.TenantID, generation), noEmbedding)
	if collection == nil || collection.Count() == 0 {
		return "", fmt.Errorf("%w: %s", ErrGenerationNotFound, generation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	previous, err := s.currentGeneration(ctx, tenant.TenantID)
	if err != nil {
		return "", err
	}

	err = s.manifest.AddDocument(ctx, chromem.Document{
		ID:      tenantKey(tenant.TenantID),
		Content: tenant.TenantID,
		Metadata: map[string]string{
			MetaTenantID:   tenant.TenantID,
			MetaGeneration: generation,
		},
		Embedding: []float32{1},
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", fmt.Errorf("writing generation pointer: %w", err)
	}
	s.current.Store(tenant.TenantID, generation)
	PromotionsTotal.WithLabelValues("chromem").Inc()

	span.SetAttributes(
		attribute.String("generation", generation),
		attribute.String("previous", previous),
	)
	span.SetStatus(codes.Ok, "success")
	s.logger.Info("promoted generation",
		zap.String("tenant_id", tenant.TenantID),
		zap.String("generation", generation),
		zap.String("previous", previous),
		zap.Int("records", collection.Count()),
	)
	return previous, nil
}

// CurrentGeneration returns the tenant's current generation.
func (s *ChromemIndex) CurrentGeneration(ctx context.Context) (string, error) {
	tenant, err := s.isolation.Tenant(ctx)
	if err != nil {
		return "", err
	}
	return s.currentGeneration(ctx, tenant.TenantID)
}

func (s *ChromemIndex) currentGeneration(ctx context.Context, tenantID string) (string, error) {
	if v, ok := s.current.Load(tenantID); ok {
		return v.(string), nil
	}
	doc, err := s.manifest.GetByID(ctx, tenantKey(tenantID))
	if err != nil {
		// chromem reports a missing ID as an error; no pointer yet.
		return "", nil
	}
	if doc.Metadata[MetaTenantID] != tenantID {
		return "", nil
	}
	generation := doc.Metadata[MetaGeneration]
	s.current.Store(tenantID, generation)
	return generation, nil
}

// Generations lists the tenant's generation collections.
func (s *ChromemIndex) Generations(ctx context.Context) ([]string, error) {
	tenant, err := s.isolation.Tenant(ctx)
	if err != nil {
		return nil, err
	}
	prefix := collectionPrefix + tenantKey(tenant.TenantID) + "_"

	var generations []string
	for name := range s.db.ListCollections() {
		if strings.HasPrefix(name, prefix) {
			generations = append(generations, strings.TrimPrefix(name, prefix))
		}
	}
	return generations, nil
}

// DropGeneration deletes a non-current generation's collection.
func (s *ChromemIndex) DropGeneration(ctx context.Context, generation string) error {
	ctx, span := chromemTracer.Start(ctx, "ChromemIndex.DropGeneration")
	defer span.End()

	tenant, err := s.isolation.Tenant(ctx)
	if err != nil {
		return err
	}
	if err := ValidateGeneration(generation); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.currentGeneration(ctx, tenant.TenantID)
	if err != nil {
		return err
	}
	if generation == current {
		return fmt.Errorf("%w: %s", ErrGenerationCurrent, generation)
	}

	if err := s.db.DeleteCollection(generationCollection(tenant.TenantID, generation)); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("deleting generation %s: %w", generation, err)
	}
	GenerationsDropped.WithLabelValues("chromem").Inc()
	span.SetStatus(codes.Ok, "success")
	return nil
}

// Count returns the size of the tenant's current generation.
func (s *ChromemIndex) Count(ctx context.Context) (int, error) {
	tenant, err := s.isolation.Tenant(ctx)
	if err != nil {
		return 0, err
	}
	generation, err := s.currentGeneration(ctx, tenant.TenantID)
	if err != nil || generation == "" {
		return 0, err
	}
	collection := s.db.GetCollection(generationCollection(tenant.TenantID, generation), noEmbedding)
	if collection == nil {
		return 0, nil
	}
	return collection.Count(), nil
}

// DeleteTenant removes every generation and the pointer for the tenant.
func (s *ChromemIndex) DeleteTenant(ctx context.Context) error {
	ctx, span := chromemTracer.Start(ctx, "ChromemIndex.DeleteTenant")
	defer span.End()

	tenant, err := s.isolation.Tenant(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := tenantKey(tenant.TenantID)
	if _, err := s.manifest.GetByID(ctx, key); err == nil {
		if err := s.manifest.Delete(ctx, nil, nil, key); err != nil {
			span.RecordError(err)
			return fmt.Errorf("deleting generation pointer: %w", err)
		}
	}
	s.current.Delete(tenant.TenantID)

	prefix := collectionPrefix + key + "_"
	for name := range s.db.ListCollections() {
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		if err := s.db.DeleteCollection(name); err != nil {
			span.RecordError(err)
			return fmt.Errorf("deleting collection %s: %w", name, err)
		}
	}

	span.SetStatus(codes.Ok, "success")
	s.logger.Info("deleted tenant index", zap.String("tenant_id", tenant.TenantID))
	return nil
}

// Close releases the index. chromem persists on every write.
func (s *ChromemIndex) Close() error {
	s.logger.Info("chromem index closed")
	return nil
}

// convertMetadataFromString converts stored metadata back to typed values.
func convertMetadataFromString(metadata map[string]string) map[string]interface{} {
	if metadata == nil {
		return nil
	}

	result := make(map[string]interface{}, len(metadata))
	for k, v := range metadata {
		if k == MetaOrdinal {
			if n, err := strconv.Atoi(v); err == nil {
				result[k] = n
				continue
			}
		}
		result[k] = v
	}
	return result
}

// Ensure ChromemIndex implements VectorIndex interface.
var _ VectorIndex = (*ChromemIndex)(nil)
