package vectorstore

import (
	"context"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Tracer for OpenTelemetry instrumentation.
var tracer = otel.Tracer("siteindex.vectorstore.qdrant")

// collectionNamePattern validates collection names.
// Pattern: lowercase letters, numbers, underscores, 1-64 characters.
var collectionNamePattern = regexp.MustCompile(`^[a-z0-9_]{1,64}$`)

// QdrantConfig holds configuration for Qdrant gRPC client.
type QdrantConfig struct {
	// Host is the Qdrant server hostname or IP address.
	// Default: "localhost"
	Host string

	// Port is the Qdrant gRPC port (NOT HTTP REST port).
	// Default: 6334
	Port int

	// CollectionName holds every tenant's records, partitioned by payload.
	// Default: "site_chunks"
	CollectionName string

	// VectorSize is the dimensionality of embeddings.
	// MUST match Embedder output dimensions.
	VectorSize uint64

	// UseTLS enables TLS encryption for gRPC connection.
	UseTLS bool

	// APIKey authenticates against managed Qdrant deployments.
	APIKey string

	// MaxRetries is the maximum number of retry attempts for transient failures.
	// Default: 3
	MaxRetries int

	// RetryBackoff is the initial backoff duration for retries.
	// Doubles on each retry (exponential backoff).
	// Default: 1 second
	RetryBackoff time.Duration

	// MaxMessageSize is the maximum gRPC message size in bytes.
	// Default: 50MB
	MaxMessageSize int

	// CircuitBreakerThreshold is the number of failures before opening circuit.
	// Default: 5
	CircuitBreakerThreshold int

	// Isolation is the tenant isolation mode.
	// Default: PayloadIsolation.
	Isolation IsolationMode
}

// Validate validates the configuration.
func (c QdrantConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("%w: host required", ErrInvalidConfig)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%w: invalid port: %d", ErrInvalidConfig, c.Port)
	}
	if c.VectorSize == 0 {
		return fmt.Errorf("%w: vector size required", ErrInvalidConfig)
	}
	return ValidateCollectionName(c.CollectionName)
}

// ApplyDefaults sets default values for unset fields.
func (c *QdrantConfig) ApplyDefaults() {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 6334
	}
	if c.CollectionName == "" {
		c.CollectionName = "site_chunks"
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.RetryBackoff == 0 {
		c.RetryBackoff = time.Second
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = 50 * 1024 * 1024
	}
	if c.CircuitBreakerThreshold == 0 {
		c.CircuitBreakerThreshold = 5
	}
	if c.Isolation == nil {
		c.Isolation = NewPayloadIsolation()
	}
}

// manifestName is the collection holding per-tenant generation pointers.
func (c QdrantConfig) manifestName() string {
	return c.CollectionName + "_generations"
}

// ValidateCollectionName validates a collection name against security rules.
// Pattern: ^[a-z0-9_]{1,64}$
func ValidateCollectionName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: collection name cannot be empty", ErrInvalidCollectionName)
	}
	if !collectionNamePattern.MatchString(name) {
		return fmt.Errorf("%w: collection name must match pattern ^[a-z0-9_]{1,64}$, got %q", ErrInvalidCollectionName, name)
	}
	return nil
}

// IsTransientError checks if an error is transient (should retry).
// Returns true for network timeouts, temporary unavailability.
// Returns false for invalid config, not found, permission denied.
func IsTransientError(err error) bool {
	if err == nil {
		return false
	}

	st, ok := status.FromError(err)
	if !ok {
		return false
	}

	switch st.Code() {
	case grpccodes.Unavailable, grpccodes.DeadlineExceeded, grpccodes.Aborted, grpccodes.ResourceExhausted:
		return true
	default:
		return false
	}
}

// QdrantIndex is a VectorIndex backed by Qdrant's native gRPC client.
//
// All tenants share one collection. Every query and count carries a Must
// filter on tenant_id and generation, both keyword-indexed.
type QdrantIndex struct {
	client    *qdrant.Client
	config    QdrantConfig
	logger    *zap.Logger
	isolation IsolationMode

	mu sync.Mutex

	circuitBreaker struct {
		failures int
		lastFail time.Time
		mu       sync.Mutex
	}
}

// NewQdrantIndex connects to Qdrant, health-checks it, and ensures the
// record and manifest collections exist.
func NewQdrantIndex(ctx context.Context, config QdrantConfig, logger *zap.Logger) (*QdrantIndex, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	if !config.UseTLS {
		logger.Warn("qdrant gRPC using plaintext (TLS disabled)")
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   config.Host,
		Port:   config.Port,
		APIKey: config.APIKey,
		UseTLS: config.UseTLS,
		GrpcOptions: []grpc.DialOption{
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(config.MaxMessageSize),
				grpc.MaxCallSendMsgSize(config.MaxMessageSize),
			),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	idx := &QdrantIndex{
		client:    client,
		config:    config,
		logger:    logger,
		isolation: config.Isolation,
	}

	hctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := client.HealthCheck(hctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("health check failed: %w", err)
	}

	if err := idx.ensureCollection(ctx, config.CollectionName, config.VectorSize); err != nil {
		_ = client.Close()
		return nil, err
	}
	if err := idx.ensureCollection(ctx, config.manifestName(), 1); err != nil {
		_ = client.Close()
		return nil, err
	}

	logger.Info("qdrant index initialized",
		zap.String("host", config.Host),
		zap.Int("port", config.Port),
		zap.String("collection", config.CollectionName),
		zap.Uint64("vector_size", config.VectorSize),
	)
	return idx, nil
}

// ensureCollection creates a collection with keyword indexes on the
// partition fields if it does not exist yet.
func (s *QdrantIndex) ensureCollection(ctx context.Context, name string, size uint64) error {
	var exists bool
	err := s.retryOperation(ctx, "collection_exists", func() error {
		var err error
		exists, err = s.client.CollectionExists(ctx, name)
		return err
	})
	if err != nil {
		return fmt.Errorf("checking collection %s: %w", name, err)
	}
	if exists {
		return nil
	}

	err = s.retryOperation(ctx, "create_collection", func() error {
		return s.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: name,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     size,
				Distance: qdrant.Distance_Cosine,
			}),
		})
	})
	if err != nil {
		return fmt.Errorf("creating collection %s: %w", name, err)
	}

	for _, field := range []string{MetaTenantID, MetaGeneration} {
		err := s.retryOperation(ctx, "create_field_index", func() error {
			_, err := s.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
				CollectionName: name,
				FieldName:      field,
				FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
			})
			return err
		})
		if err != nil {
			return fmt.Errorf("indexing %s.%s: %w", name, field, err)
		}
	}
	return nil
}

// Close closes the Qdrant gRPC connection.
func (s *QdrantIndex) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

// retryOperation retries an operation with exponential backoff.
func (s *QdrantIndex) retryOperation(ctx context.Context, operationName string, operation func() error) error {
	backoff := s.config.RetryBackoff

	for attempt := 0; attempt <= s.config.MaxRetries; attempt++ {
		err := operation()
		if err == nil {
			s.resetCircuitBreaker()
			return nil
		}

		if s.isCircuitOpen() {
			return fmt.Errorf("%s: circuit breaker open", operationName)
		}

		if !IsTransientError(err) {
			return fmt.Errorf("%s failed (permanent): %w", operationName, err)
		}

		s.recordFailure()

		if attempt == s.config.MaxRetries {
			return fmt.Errorf("%s failed after %d retries: %w", operationName, s.config.MaxRetries, err)
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("%s canceled: %w", operationName, ctx.Err())
		case <-time.After(backoff):
			backoff *= 2
		}
	}
	return nil
}

func (s *QdrantIndex) recordFailure() {
	s.circuitBreaker.mu.Lock()
	defer s.circuitBreaker.mu.Unlock()
	s.circuitBreaker.failures++
	s.circuitBreaker.lastFail = time.Now()
}

func (s *QdrantIndex) resetCircuitBreaker() {
	s.circuitBreaker.mu.Lock()
	defer s.circuitBreaker.mu.Unlock()
	s.circuitBreaker.failures = 0
}

func (s *QdrantIndex) isCircuitOpen() bool {
	s.circuitBreaker.mu.Lock()
	defer s.circuitBreaker.mu.Unlock()

	if s.circuitBreaker.failures >= s.config.CircuitBreakerThreshold {
		// Allow retry after 30 seconds
		if time.Since(s.circuitBreaker.lastFail) > 30*time.Second {
			s.circuitBreaker.failures = 0
			return false
		}
		return true
	}
	return false
}

// Upsert writes records under generation.
func (s *QdrantIndex) Upsert(ctx context.Context, generation string, records []Record) error {
	ctx, span := tracer.Start(ctx, "QdrantIndex.Upsert")
	defer span.End()
	defer observe("qdrant", "upsert")()

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

	points := make([]*qdrant.PointStruct, len(records))
	for i, r := range records {
		if uint64(len(r.Vector)) != s.config.VectorSize {
			return fmt.Errorf("%w: record %d has %d dimensions, want %d",
				ErrDimensionMismatch, i, len(r.Vector), s.config.VectorSize)
		}

		payload := make(map[string]*qdrant.Value, 7)
		for k, v := range recordMetadata(r, generation) {
			payload[k] = stringValue(v)
		}
		payload[MetaOrdinal] = &qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: int64(r.Ordinal)}}
		payload["content"] = stringValue(r.Text)
		payload["id"] = stringValue(r.ID)

		points[i] = &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(pointUUID(r.ID)),
			Vectors: qdrant.NewVectors(r.Vector...),
			Payload: payload,
		}
	}

	err := s.retryOperation(ctx, "upsert", func() error {
		_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: s.config.CollectionName,
			Wait:           qdrant.PtrOf(true),
			Points:         points,
		})
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("upserting points: %w", err)
	}

	span.SetStatus(codes.Ok, "success")
	return nil
}

// Search queries the tenant's current generation.
func (s *QdrantIndex) Search(ctx context.Context, vector []float32, k int) ([]SearchResult, error) {
	ctx, span := tracer.Start(ctx, "QdrantIndex.Search")
	defer span.End()
	defer observe("qdrant", "search")()

	span.SetAttributes(attribute.Int("k", k))

	if k <= 0 {
		return nil, fmt.Errorf("k must be positive, got %d", k)
	}
	const maxK = 10000
	if k > maxK {
		k = maxK
	}
	if uint64(len(vector)) != s.config.VectorSize {
		return nil, fmt.Errorf("%w: query has %d dimensions, want %d",
			ErrDimensionMismatch, len(vector), s.config.VectorSize)
	}

	filters, err := s.isolation.InjectFilter(ctx, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("injecting tenant filter: %w", err)
	}

	generation, err := s.currentGeneration(ctx, filters[MetaTenantID])
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if generation == "" {
		return []SearchResult{}, nil
	}
	filters[MetaGeneration] = generation

	var points []*qdrant.ScoredPoint
	err = s.retryOperation(ctx, "search", func() error {
		res, err := s.client.Query(ctx, &qdrant.QueryPoints{
			CollectionName: s.config.CollectionName,
			Query:          qdrant.NewQuery(vector...),
			Limit:          qdrant.PtrOf(uint64(k)),
			WithPayload:    qdrant.NewWithPayload(true),
			Filter:         buildFilter(filters),
		})
		if err != nil {
			return err
		}
		points = res
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("searching collection %s: %w", s.config.CollectionName, err)
	}

	results := make([]SearchResult, len(points))
	for i, point := range points {
		result := SearchResult{
			Score:    point.Score,
			Metadata: make(map[string]interface{}, len(point.Payload)),
		}
		for k, v := range point.Payload {
			switch val := v.Kind.(type) {
			case *qdrant.Value_StringValue:
				result.Metadata[k] = val.StringValue
				switch k {
				case "content":
					result.Content = val.StringValue
				case "id":
					result.ID = val.StringValue
				case MetaSourceURL:
					result.SourceURL = val.StringValue
				}
			case *qdrant.Value_IntegerValue:
				result.Metadata[k] = int(val.IntegerValue)
			}
		}
		results[i] = result
	}

	span.SetAttributes(attribute.Int("results_count", len(results)))
	span.SetStatus(codes.Ok, "success")
	return results, nil
}

// Promote points the tenant's manifest entry at generation.
func (s *QdrantIndex) Promote(ctx context.Context, generation string) (string, error) {
	ctx, span := tracer.Start(ctx, "QdrantIndex.Promote")
	defer span.End()

	tenant, err := s.isolation.Tenant(ctx)
	if err != nil {
		return "", err
	}
	if err := ValidateGeneration(generation); err != nil {
		return "", err
	}

	staged, err := s.countGeneration(ctx, tenant.TenantID, generation)
	if err != nil {
		return "", err
	}
	if staged == 0 {
		return "", fmt.Errorf("%w: %s", ErrGenerationNotFound, generation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	previous, err := s.currentGeneration(ctx, tenant.TenantID)
	if err != nil {
		return "", err
	}

	err = s.retryOperation(ctx, "promote", func() error {
		_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: s.config.manifestName(),
			Wait:           qdrant.PtrOf(true),
			Points: []*qdrant.PointStruct{{
				Id:      qdrant.NewIDUUID(manifestID(tenant.TenantID)),
				Vectors: qdrant.NewVectors(1),
				Payload: map[string]*qdrant.Value{
					MetaTenantID:   stringValue(tenant.TenantID),
					MetaGeneration: stringValue(generation),
				},
			}},
		})
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", fmt.Errorf("writing generation pointer: %w", err)
	}
	PromotionsTotal.WithLabelValues("qdrant").Inc()

	span.SetStatus(codes.Ok, "success")
	s.logger.Info("promoted generation",
		zap.String("tenant_id", tenant.TenantID),
		zap.String("generation", generation),
		zap.String("previous", previous),
		zap.Int("records", staged),
	)
	return previous, nil
}

// CurrentGeneration returns the tenant's current generation.
func (s *QdrantIndex) CurrentGeneration(ctx context.Context) (string, error) {
	tenant, err := s.isolation.Tenant(ctx)
	if err != nil {
		return "", err
	}
	return s.currentGeneration(ctx, tenant.TenantID)
}

func (s *QdrantIndex) currentGeneration(ctx context.Context, tenantID string) (string, error) {
	var points []*qdrant.RetrievedPoint
	err := s.retryOperation(ctx, "get_generation", func() error {
		res, err := s.client.Get(ctx, &qdrant.GetPoints{
			CollectionName: s.config.manifestName(),
			Ids:            []*qdrant.PointId{qdrant.NewIDUUID(manifestID(tenantID))},
			WithPayload:    qdrant.NewWithPayload(true),
		})
		if err != nil {
			return err
		}
		points = res
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("reading generation pointer: %w", err)
	}
	if len(points) == 0 {
		return "", nil
	}
	payload := points[0].GetPayload()
	if payload[MetaTenantID].GetStringValue() != tenantID {
		return "", nil
	}
	return payload[MetaGeneration].GetStringValue(), nil
}

// Generations lists distinct generation values stored for the tenant.
func (s *QdrantIndex) Generations(ctx context.Context) ([]string, error) {
	tenant, err := s.isolation.Tenant(ctx)
	if err != nil {
		return nil, err
	}

	var hits []*qdrant.FacetHit
	err = s.retryOperation(ctx, "facet_generations", func() error {
		res, err := s.client.Facet(ctx, &qdrant.FacetCounts{
			CollectionName: s.config.CollectionName,
			Key:            MetaGeneration,
			Filter:         buildFilter(tenant.TenantFilter()),
			Limit:          qdrant.PtrOf(uint64(100)),
		})
		if err != nil {
			return err
		}
		hits = res
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing generations: %w", err)
	}

	generations := make([]string, 0, len(hits))
	for _, hit := range hits {
		if g := hit.GetValue().GetStringValue(); g != "" {
			generations = append(generations, g)
		}
	}
	return generations, nil
}

// DropGeneration deletes a non-current generation's points.
func (s *QdrantIndex) DropGeneration(ctx context.Context, generation string) error {
	ctx, span := tracer.Start(ctx, "QdrantIndex.DropGeneration")
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

	filters := tenant.TenantFilter()
	filters[MetaGeneration] = generation
	if err := s.deleteByFilter(ctx, s.config.CollectionName, buildFilter(filters)); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("deleting generation %s: %w", generation, err)
	}
	GenerationsDropped.WithLabelValues("qdrant").Inc()
	span.SetStatus(codes.Ok, "success")
	return nil
}

// Count returns the size of the tenant's current generation.
func (s *QdrantIndex) Count(ctx context.Context) (int, error) {
	tenant, err := s.isolation.Tenant(ctx)
	if err != nil {
		return 0, err
	}
	generation, err := s.currentGeneration(ctx, tenant.TenantID)
	if err != nil || generation == "" {
		return 0, err
	}
	return s.countGeneration(ctx, tenant.TenantID, generation)
}

func (s *QdrantIndex) countGeneration(ctx context.Context, tenantID, generation string) (int, error) {
	var n uint64
	err := s.retryOperation(ctx, "count", func() error {
		var err error
		n, err = s.client.Count(ctx, &qdrant.CountPoints{
			CollectionName: s.config.CollectionName,
			Filter: buildFilter(map[string]string{
				MetaTenantID:   tenantID,
				MetaGeneration: generation,
			}),
			Exact: qdrant.PtrOf(true),
		})
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("counting generation %s: %w", generation, err)
	}
	return int(n), nil
}

// DeleteTenant removes all of the tenant's points and its manifest entry.
func (s *QdrantIndex) DeleteTenant(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "QdrantIndex.DeleteTenant")
	defer span.End()

	tenant, err := s.isolation.Tenant(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.deleteByFilter(ctx, s.config.manifestName(), buildFilter(tenant.TenantFilter())); err != nil {
		span.RecordError(err)
		return fmt.Errorf("deleting generation pointer: %w", err)
	}
	if err := s.deleteByFilter(ctx, s.config.CollectionName, buildFilter(tenant.TenantFilter())); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("deleting tenant points: %w", err)
	}

	span.SetStatus(codes.Ok, "success")
	s.logger.Info("deleted tenant index", zap.String("tenant_id", tenant.TenantID))
	return nil
}

func (s *QdrantIndex) deleteByFilter(ctx context.Context, collection string, filter *qdrant.Filter) error {
	return s.retryOperation(ctx, "delete", func() error {
		_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
			CollectionName: collection,
			Wait:           qdrant.PtrOf(true),
			Points: &qdrant.PointsSelector{
				PointsSelectorOneOf: &qdrant.PointsSelector_Filter{Filter: filter},
			},
		})
		return err
	})
}

// buildFilter turns exact-match filters into a Qdrant Must filter.
func buildFilter(filters map[string]string) *qdrant.Filter {
	if len(filters) == 0 {
		return nil
	}
	conditions := make([]*qdrant.Condition, 0, len(filters))
	for key, value := range filters {
		conditions = append(conditions, &qdrant.Condition{
			ConditionOneOf: &qdrant.Condition_Field{
				Field: &qdrant.FieldCondition{
					Key: key,
					Match: &qdrant.Match{
						MatchValue: &qdrant.Match_Keyword{Keyword: value},
					},
				},
			},
		})
	}
	return &qdrant.Filter{Must: conditions}
}

func stringValue(s string) *qdrant.Value {
	return &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: s}}
}

// pointUUID returns id if it is a UUID, else a stable UUID derived from it.
// The original ID is preserved in payload["id"].
func pointUUID(id string) string {
	if _, err := uuid.Parse(id); err == nil {
		return id
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(id)).String()
}

func manifestID(tenantID string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("tenant:"+tenantID)).String()
}

// Ensure QdrantIndex implements VectorIndex interface.
var _ VectorIndex = (*QdrantIndex)(nil)
