package vectorstore

import (
	"context"
	"fmt"

	"github.com/fyrsmithlabs/siteindex/internal/config"
	"go.uber.org/zap"
)

// NewIndex creates a VectorIndex based on the configuration.
//
// The provider selects the implementation:
//   - "chromem" (default): embedded ChromemIndex, no external dependencies
//   - "qdrant": QdrantIndex against an external Qdrant server
//
// Both use PayloadIsolation, so every call needs a tenant in ctx:
//
//	idx, err := vectorstore.NewIndex(ctx, cfg.VectorStore, 384, logger)
//	if err != nil {
//	    return err
//	}
//	defer idx.Close()
//
//	ctx = vectorstore.WithTenantID(ctx, "acme")
//	results, err := idx.Search(ctx, vector, 5)
func NewIndex(ctx context.Context, cfg config.VectorStoreConfig, dimension int, logger *zap.Logger) (VectorIndex, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("%w: dimension must be positive, got %d", ErrInvalidConfig, dimension)
	}

	switch cfg.Provider {
	case "chromem", "":
		return NewChromemIndex(ChromemConfig{
			Path:       cfg.Chromem.Path,
			Compress:   cfg.Chromem.Compress,
			VectorSize: dimension,
		}, logger)

	case "qdrant":
		return NewQdrantIndex(ctx, QdrantConfig{
			Host:           cfg.Qdrant.Host,
			Port:           cfg.Qdrant.Port,
			CollectionName: cfg.Qdrant.CollectionName,
			VectorSize:     uint64(dimension),
			UseTLS:         cfg.Qdrant.UseTLS,
			APIKey:         cfg.Qdrant.APIKey.Value(),
		}, logger)

	default:
		return nil, fmt.Errorf("unsupported vectorstore provider: %s (supported: chromem, qdrant)", cfg.Provider)
	}
}
