package ai

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/arturoeanton/sakenny/internal/port"
)

// RetryingEmbedder retries BackendUnavailable failures of an inner embedder
// with exponential backoff. Every other error is returned immediately.
type RetryingEmbedder struct {
	inner      port.Embedder
	maxRetries uint64
	base       time.Duration
}

// NewRetryingEmbedder wraps inner with up to maxRetries extra attempts.
func NewRetryingEmbedder(inner port.Embedder, maxRetries uint64, base time.Duration) *RetryingEmbedder {
	return &RetryingEmbedder{inner: inner, maxRetries: maxRetries, base: base}
}

// ModelName returns the inner model identifier.
func (r *RetryingEmbedder) ModelName() string { return r.inner.ModelName() }

// Dimension returns the inner vector length.
func (r *RetryingEmbedder) Dimension() int { return r.inner.Dimension() }

// Embed calls the inner embedder, retrying while the backend is unavailable.
func (r *RetryingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	backoff := retry.NewExponential(r.base)
	backoff = retry.WithJitterPercent(20, backoff)
	backoff = retry.WithMaxRetries(r.maxRetries, backoff)

	var out []float32
	attempt := 0
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		v, err := r.inner.Embed(ctx, text)
		if err != nil {
			if errors.Is(err, port.ErrBackendUnavailable) {
				slog.Warn("embedding backend unavailable, retrying",
					"model", r.inner.ModelName(),
					"attempt", attempt,
					"error", err,
				)
				return retry.RetryableError(err)
			}
			return err
		}
		out = v
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
