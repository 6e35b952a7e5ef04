package embeddings

import (
	"fmt"

	"github.com/fyrsmithlabs/siteindex/internal/config"
	"github.com/fyrsmithlabs/siteindex/internal/vectorstore"
	"go.uber.org/zap"
)

// Provider is the interface for embedding providers.
type Provider interface {
	vectorstore.Embedder
	// Dimension returns the embedding dimension for the current model.
	Dimension() int
	// Close releases resources held by the provider.
	Close() error
}

// NewProvider creates the configured provider, rate limited and wrapped
// with retries of transient failures.
func NewProvider(cfg config.EmbeddingsConfig, logger *zap.Logger) (Provider, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	dimension := cfg.Dimension
	if dimension <= 0 {
		dimension = DetectDimension(cfg.Model)
	}

	var (
		base Provider
		err  error
	)
	switch cfg.Provider {
	case "tei", "":
		base, err = NewTEIProvider(TEIConfig{
			BaseURL:   cfg.BaseURL,
			Model:     cfg.Model,
			APIKey:    cfg.APIKey.Value(),
			Dimension: dimension,
			Timeout:   cfg.Timeout.Duration(),
		}, logger)
	case "openai":
		base, err = NewOpenAIProvider(OpenAIConfig{
			BaseURL:   cfg.BaseURL,
			Model:     cfg.Model,
			APIKey:    cfg.APIKey.Value(),
			Dimension: dimension,
			Timeout:   cfg.Timeout.Duration(),
		}, logger)
	case "fastembed":
		// Local inference: nothing upstream to protect with a rate limit.
		fe, ferr := NewFastEmbedProvider(FastEmbedConfig{
			Model:       cfg.Model,
			CacheDir:    cfg.CacheDir,
			AutoInstall: cfg.ONNXAutoInstall,
		}, logger)
		if ferr != nil {
			return nil, ferr
		}
		return fe, nil
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrInvalidConfig, cfg.Provider)
	}
	if err != nil {
		return nil, err
	}

	limited := WithRateLimit(base, cfg.RateLimit, cfg.RateBurst)
	return WithRetry(limited, cfg.Provider, RetryConfig{
		MaxAttempts: cfg.MaxRetries,
		Backoff:     cfg.RetryBackoff.Duration(),
	}, logger), nil
}
