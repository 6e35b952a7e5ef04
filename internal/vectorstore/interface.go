package vectorstore

import (
	"context"
	"errors"
)

// Sentinel errors for vector index operations.
var (
	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrEmptyRecords indicates an empty or nil record batch.
	ErrEmptyRecords = errors.New("empty or nil records")

	// ErrConnectionFailed indicates gRPC connection issues.
	ErrConnectionFailed = errors.New("failed to connect to Qdrant")

	// ErrDimensionMismatch indicates a vector of the wrong length.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")

	// ErrInvalidCollectionName indicates collection name validation failure.
	ErrInvalidCollectionName = errors.New("invalid collection name")

	// ErrInvalidGeneration indicates a malformed generation identifier.
	ErrInvalidGeneration = errors.New("invalid generation")

	// ErrGenerationNotFound is returned when promoting a generation that holds no records.
	ErrGenerationNotFound = errors.New("generation not found")

	// ErrGenerationCurrent is returned when dropping the generation searches are served from.
	ErrGenerationCurrent = errors.New("generation is current")
)

// Metadata keys stored alongside every record.
const (
	MetaTenantID   = "tenant_id"
	MetaGeneration = "generation"
	MetaSourceURL  = "source_url"
	MetaOrdinal    = "ordinal"
	MetaCreatedAt  = "created_at"
)

// Embedder generates vector embeddings from text.
//
// Embeddings are dense numerical representations that capture semantic meaning,
// enabling similarity search. Implementations can use local models (FastEmbed),
// a TEI server, or OpenAI-compatible APIs.
type Embedder interface {
	// EmbedDocuments generates embeddings for multiple texts.
	// Returns a slice of embeddings (one per input text) or an error.
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)

	// EmbedQuery generates an embedding for a single query.
	// Some models optimize differently for queries vs documents.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// VectorIndex stores embedded chunks per tenant and answers nearest-neighbor
// queries scoped to a single tenant.
//
// Every operation reads the tenant from ctx (see ContextWithTenant) and fails
// closed with ErrMissingTenant when it is absent.
//
// Records are written under a generation. Searches and counts only see the
// tenant's current generation, which changes atomically via Promote. This
// lets a re-ingestion stage a complete replacement before it becomes visible.
//
// Implementations:
//   - ChromemIndex: Embedded chromem-go (default)
//   - QdrantIndex: External Qdrant gRPC client
type VectorIndex interface {
	// Upsert writes records under the given generation.
	// Tenant metadata is taken from ctx and overwrites anything on the records.
	Upsert(ctx context.Context, generation string, records []Record) error

	// Search returns up to k records from the tenant's current generation,
	// most similar first. A tenant with no current generation yields an
	// empty result, not an error.
	Search(ctx context.Context, vector []float32, k int) ([]SearchResult, error)

	// Promote makes generation the tenant's current generation and returns the
	// previously current one ("" if none).
	Promote(ctx context.Context, generation string) (string, error)

	// CurrentGeneration returns the tenant's current generation, or "".
	CurrentGeneration(ctx context.Context) (string, error)

	// Generations lists every generation holding records for the tenant.
	Generations(ctx context.Context) ([]string, error)

	// DropGeneration deletes every record of a non-current generation.
	DropGeneration(ctx context.Context, generation string) error

	// Count returns the number of records in the tenant's current generation.
	Count(ctx context.Context) (int, error)

	// DeleteTenant removes all of the tenant's records and its generation pointer.
	DeleteTenant(ctx context.Context) error

	// Close releases resources held by the index.
	Close() error
}
