package ai

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/arturoeanton/sakenny/internal/port"
	"github.com/arturoeanton/sakenny/pkg/config"
)

// NewEmbedder creates the configured embedding backend wrapped with retry and cache layers.
func NewEmbedder(cfg *config.Config) (port.Embedder, error) {
	timeout := time.Duration(cfg.EmbeddingTimeout) * time.Second

	var base port.Embedder
	switch cfg.EmbeddingProvider {
	case config.ProviderOllama:
		base = NewOllamaEmbedder(OllamaConfig{
			BaseURL:   cfg.OllamaBaseURL,
			Model:     cfg.EmbeddingModel,
			Token:     cfg.OllamaToken,
			Dimension: cfg.EmbeddingDimension,
			Timeout:   timeout,
		})
	case config.ProviderOpenAI:
		base = NewOpenAIEmbedder(OpenAIConfig{
			APIKey:    cfg.OpenAIAPIKey,
			BaseURL:   cfg.OpenAIBaseURL,
			Model:     cfg.EmbeddingModel,
			Dimension: cfg.EmbeddingDimension,
		})
	case config.ProviderHuggingFace:
		base = NewHuggingFaceEmbedder(HuggingFaceConfig{
			Token:     cfg.HuggingFaceToken,
			ModelID:   cfg.EmbeddingModel,
			Dimension: cfg.EmbeddingDimension,
		})
	case config.ProviderHash:
		base = NewHashEmbedder(cfg.EmbeddingDimension)
	default:
		return nil, port.Configuration("unsupported embedding provider %q", cfg.EmbeddingProvider)
	}

	slog.Info("embedding provider initialized",
		"provider", cfg.EmbeddingProvider,
		"model", base.ModelName(),
		"dimension", base.Dimension(),
	)

	var e port.Embedder = base
	if cfg.EmbeddingMaxRetries > 0 {
		e = NewRetryingEmbedder(e, uint64(cfg.EmbeddingMaxRetries), 200*time.Millisecond)
	}
	if cfg.EmbeddingCacheSize > 0 {
		cached, err := NewCachedEmbedder(e, cfg.EmbeddingCacheSize)
		if err != nil {
			return nil, err
		}
		e = cached
	}
	return e, nil
}

// ValidateDimension embeds a sample text and checks the backend really returns
// vectors of the expected length. A mismatch is a configuration error.
func ValidateDimension(ctx context.Context, e port.Embedder, expected int) error {
	if e.Dimension() != expected {
		return port.Configuration("embedder %s declares dimension %d, configured %d", e.ModelName(), e.Dimension(), expected)
	}
	v, err := e.Embed(ctx, "dimension check")
	if err != nil {
		return fmt.Errorf("validate embedder: %w", err)
	}
	if len(v) != expected {
		return port.Configuration("embedder %s returned %d dimensions, configured %d", e.ModelName(), len(v), expected)
	}
	slog.Info("embedder dimension validated", "model", e.ModelName(), "dimension", expected)
	return nil
}

// checkInput rejects input with no embeddable content.
func checkInput(text string) error {
	if strings.TrimSpace(text) == "" {
		return port.Validation("text to embed is empty")
	}
	return nil
}

// checkDimension makes sure a backend response matches the declared dimension.
func checkDimension(e port.Embedder, v []float32) ([]float32, error) {
	if len(v) != e.Dimension() {
		return nil, port.Configuration("%s returned %d dimensions, expected %d", e.ModelName(), len(v), e.Dimension())
	}
	return v, nil
}

// statusError maps a failed backend response to an error kind. Only throttling
// and server faults are reported as unavailable.
func statusError(backend string, status int, err error) error {
	switch {
	case status == http.StatusTooManyRequests || status >= http.StatusInternalServerError:
		return port.Unavailable(backend, err)
	case status == http.StatusBadRequest:
		return &port.Error{Kind: port.KindValidation, Reason: backend + " rejected the request", Err: err}
	case status >= http.StatusBadRequest:
		return &port.Error{
			Kind:   port.KindConfiguration,
			Reason: fmt.Sprintf("%s rejected the request with status %d", backend, status),
			Err:    err,
		}
	default:
		return port.Unavailable(backend, err)
	}
}
