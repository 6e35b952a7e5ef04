package vectorstore

import (
	"regexp"
	"strconv"
	"time"
)

// generationPattern keeps generation IDs safe to embed in collection names.
var generationPattern = regexp.MustCompile(`^[a-z0-9]{1,32}$`)

// Record is one embedded chunk ready for storage.
type Record struct {
	// ID is the unique identifier of the record. Must be a UUID for Qdrant.
	ID string

	// TenantID owns the record. Overwritten from ctx on write.
	TenantID string

	// SourceURL is the page the chunk was extracted from.
	SourceURL string

	// Text is the chunk text.
	Text string

	// Ordinal is the chunk position within its page.
	Ordinal int

	// Vector is the chunk embedding.
	Vector []float32

	// CreatedAt is when the record was embedded.
	CreatedAt time.Time
}

// SearchResult represents a search result from the vector index.
type SearchResult struct {
	// ID is the record identifier
	ID string

	// Content is the chunk text
	Content string

	// SourceURL is the page the chunk came from
	SourceURL string

	// Score is the cosine similarity (higher = more similar)
	Score float32

	// Metadata contains the stored record metadata
	Metadata map[string]interface{}
}

// ValidateGeneration checks a generation identifier.
func ValidateGeneration(generation string) error {
	if !generationPattern.MatchString(generation) {
		return ErrInvalidGeneration
	}
	return nil
}

// recordMetadata flattens a record into string metadata for storage.
func recordMetadata(r Record, generation string) map[string]string {
	return map[string]string{
		MetaTenantID:   r.TenantID,
		MetaGeneration: generation,
		MetaSourceURL:  r.SourceURL,
		MetaOrdinal:    strconv.Itoa(r.Ordinal),
		MetaCreatedAt:  r.CreatedAt.UTC().Format(time.RFC3339),
	}
}
