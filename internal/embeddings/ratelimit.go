package embeddings

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// rateLimitedProvider waits on a token bucket before each upstream request.
type rateLimitedProvider struct {
	Provider
	limiter *rate.Limiter
}

// WithRateLimit wraps p with a limiter allowing limit requests per second
// and bursts of burst. A non-positive limit returns p unchanged.
func WithRateLimit(p Provider, limit float64, burst int) Provider {
	if limit <= 0 {
		return p
	}
	if burst <= 0 {
		burst = 1
	}
	return &rateLimitedProvider{
		Provider: p,
		limiter:  rate.NewLimiter(rate.Limit(limit), burst),
	}
}

// EmbedDocuments waits for a token, then embeds texts.
func (r *rateLimitedProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}
	return r.Provider.EmbedDocuments(ctx, texts)
}

// EmbedQuery waits for a token, then embeds text.
func (r *rateLimitedProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}
	return r.Provider.EmbedQuery(ctx, text)
}
