package embeddings

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// RetryConfig bounds retries of transient provider failures.
type RetryConfig struct {
	// MaxAttempts includes the first call. Default: 3
	MaxAttempts int

	// Backoff is the first delay; it doubles after each retry. Default: 500ms
	Backoff time.Duration
}

func (c *RetryConfig) applyDefaults() {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.Backoff <= 0 {
		c.Backoff = 500 * time.Millisecond
	}
}

// retryingProvider retries retryable failures of the wrapped provider.
type retryingProvider struct {
	Provider
	name    string
	config  RetryConfig
	logger  *zap.Logger
	metrics *Metrics
}

// WithRetry wraps p so retryable failures are retried up to MaxAttempts
// times with doubling backoff. Non-retryable errors surface immediately.
func WithRetry(p Provider, name string, cfg RetryConfig, logger *zap.Logger) Provider {
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &retryingProvider{
		Provider: p,
		name:     name,
		config:   cfg,
		logger:   logger,
		metrics:  NewMetrics(logger),
	}
}

// EmbedDocuments embeds texts, retrying transient failures.
func (r *retryingProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	var vectors [][]float32
	err := r.do(ctx, "embed_documents", func() error {
		var err error
		vectors, err = r.Provider.EmbedDocuments(ctx, texts)
		return err
	})
	return vectors, err
}

// EmbedQuery embeds a query, retrying transient failures.
func (r *retryingProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	var vector []float32
	err := r.do(ctx, "embed_query", func() error {
		var err error
		vector, err = r.Provider.EmbedQuery(ctx, text)
		return err
	})
	return vector, err
}

func (r *retryingProvider) do(ctx context.Context, op string, call func() error) error {
	backoff := r.config.Backoff
	var err error
	for attempt := 1; attempt <= r.config.MaxAttempts; attempt++ {
		if err = call(); err == nil {
			return nil
		}
		if !IsRetryable(err) || ctx.Err() != nil || attempt == r.config.MaxAttempts {
			return err
		}

		r.logger.Warn("embedding request failed, retrying",
			zap.String("provider", r.name),
			zap.String("operation", op),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)
		r.metrics.RecordRetry(ctx, r.name, op)

		select {
		case <-ctx.Done():
			return err
		case <-time.After(backoff):
			backoff *= 2
		}
	}
	return err
}
