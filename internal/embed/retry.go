package embed

import (
	"context"

	rgerrors "github.com/hybridrag/hybridrag/internal/errors"
)

// RetryEmbedder wraps an Embedder with exponential-backoff retries for
// transient failures (timeouts, rate limits). Non-retryable errors surface
// immediately.
type RetryEmbedder struct {
	inner Embedder
	cfg   rgerrors.RetryConfig
}

// Verify interface implementation at compile time.
var _ Embedder = (*RetryEmbedder)(nil)

// NewRetryEmbedder wraps the given embedder with the default retry policy.
func NewRetryEmbedder(inner Embedder) *RetryEmbedder {
	return &RetryEmbedder{inner: inner, cfg: rgerrors.DefaultRetryConfig()}
}

// NewRetryEmbedderWithConfig wraps with a custom retry policy.
func NewRetryEmbedderWithConfig(inner Embedder, cfg rgerrors.RetryConfig) *RetryEmbedder {
	return &RetryEmbedder{inner: inner, cfg: cfg}
}

// Embed retries transient failures.
func (r *RetryEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return rgerrors.RetryWithResult(ctx, r.cfg, func() ([]float32, error) {
		return r.inner.Embed(ctx, text)
	})
}

// EmbedBatch retries transient failures. The whole batch is retried; the
// inner embedder is responsible for idempotence.
func (r *RetryEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return rgerrors.RetryWithResult(ctx, r.cfg, func() ([][]float32, error) {
		return r.inner.EmbedBatch(ctx, texts)
	})
}

// Dimensions returns the inner embedder's dimension.
func (r *RetryEmbedder) Dimensions() int { return r.inner.Dimensions() }

// ModelName returns the inner embedder's model identifier.
func (r *RetryEmbedder) ModelName() string { return r.inner.ModelName() }

// Available delegates to the inner embedder.
func (r *RetryEmbedder) Available(ctx context.Context) bool {
	return r.inner.Available(ctx)
}

// Close closes the inner embedder.
func (r *RetryEmbedder) Close() error { return r.inner.Close() }
