package ai

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arturoeanton/sakenny/internal/domain"
	"github.com/arturoeanton/sakenny/internal/port"
	"github.com/arturoeanton/sakenny/pkg/config"
)

type stubEmbedder struct {
	dim   int
	calls atomic.Int32
	fn    func(call int32, text string) ([]float32, error)
}

func (s *stubEmbedder) ModelName() string { return "stub" }
func (s *stubEmbedder) Dimension() int    { return s.dim }
func (s *stubEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	n := s.calls.Add(1)
	return s.fn(n, text)
}

func TestHashEmbedder(t *testing.T) {
	ctx := context.Background()
	e := NewHashEmbedder(256)

	t.Run("ShouldBeDeterministic", func(t *testing.T) {
		a, err := e.Embed(ctx, "Cozy Studio. located in Maadi")
		require.NoError(t, err)
		b, err := e.Embed(ctx, "Cozy Studio. located in Maadi")
		require.NoError(t, err)
		assert.Equal(t, a, b)
	})

	t.Run("ShouldReturnUnitVectorsOfFixedDimension", func(t *testing.T) {
		v, err := e.Embed(ctx, "villa with garden in Zamalek")
		require.NoError(t, err)
		require.Len(t, v, 256)
		var norm float64
		for _, x := range v {
			assert.GreaterOrEqual(t, x, float32(0))
			norm += float64(x) * float64(x)
		}
		assert.InDelta(t, 1.0, math.Sqrt(norm), 1e-5)
	})

	t.Run("ShouldRankRelatedTextCloser", func(t *testing.T) {
		q, _ := e.Embed(ctx, "studio in Maadi")
		near, _ := e.Embed(ctx, "Cozy Studio. located in Maadi. price 5000 EGP")
		far, _ := e.Embed(ctx, "Family villa. located in Sheikh Zayed. price 90000 EGP")
		assert.Less(t, domain.CosineDistance(q, near), domain.CosineDistance(q, far))
	})

	t.Run("ShouldRejectEmptyText", func(t *testing.T) {
		for _, text := range []string{"", "   ", "...!"} {
			_, err := e.Embed(ctx, text)
			assert.ErrorIs(t, err, port.ErrValidation, "text %q", text)
		}
	})
}

func TestCachedEmbedder(t *testing.T) {
	ctx := context.Background()

	t.Run("ShouldServeRepeatedTextFromCache", func(t *testing.T) {
		inner := &stubEmbedder{dim: 2, fn: func(_ int32, _ string) ([]float32, error) { return []float32{1, 0}, nil }}
		c, err := NewCachedEmbedder(inner, 8)
		require.NoError(t, err)
		for i := 0; i < 3; i++ {
			v, err := c.Embed(ctx, "same text")
			require.NoError(t, err)
			assert.Equal(t, []float32{1, 0}, v)
		}
		assert.Equal(t, int32(1), inner.calls.Load())
		assert.Equal(t, 1, c.Len())
	})

	t.Run("ShouldNotLetCallersMutateCachedVectors", func(t *testing.T) {
		inner := &stubEmbedder{dim: 2, fn: func(_ int32, _ string) ([]float32, error) { return []float32{1, 0}, nil }}
		c, err := NewCachedEmbedder(inner, 8)
		require.NoError(t, err)
		v, _ := c.Embed(ctx, "x")
		v[0] = 42
		again, _ := c.Embed(ctx, "x")
		assert.Equal(t, float32(1), again[0])
	})

	t.Run("ShouldNotCacheFailures", func(t *testing.T) {
		inner := &stubEmbedder{dim: 2, fn: func(_ int32, _ string) ([]float32, error) {
			return nil, port.Unavailable("stub", errors.New("down"))
		}}
		c, err := NewCachedEmbedder(inner, 8)
		require.NoError(t, err)
		_, err = c.Embed(ctx, "x")
		require.Error(t, err)
		_, err = c.Embed(ctx, "x")
		require.Error(t, err)
		assert.Equal(t, int32(2), inner.calls.Load())
	})
}

func TestRetryingEmbedder(t *testing.T) {
	ctx := context.Background()

	t.Run("ShouldRetryUnavailableBackend", func(t *testing.T) {
		inner := &stubEmbedder{dim: 2, fn: func(call int32, _ string) ([]float32, error) {
			if call < 3 {
				return nil, port.Unavailable("stub", errors.New("connection refused"))
			}
			return []float32{0, 1}, nil
		}}
		r := NewRetryingEmbedder(inner, 3, time.Millisecond)
		v, err := r.Embed(ctx, "x")
		require.NoError(t, err)
		assert.Equal(t, []float32{0, 1}, v)
		assert.Equal(t, int32(3), inner.calls.Load())
	})

	t.Run("ShouldGiveUpAfterMaxRetries", func(t *testing.T) {
		inner := &stubEmbedder{dim: 2, fn: func(_ int32, _ string) ([]float32, error) {
			return nil, port.Unavailable("stub", errors.New("connection refused"))
		}}
		r := NewRetryingEmbedder(inner, 2, time.Millisecond)
		_, err := r.Embed(ctx, "x")
		assert.ErrorIs(t, err, port.ErrBackendUnavailable)
		assert.Equal(t, int32(3), inner.calls.Load())
	})

	t.Run("ShouldNotRetryValidationErrors", func(t *testing.T) {
		inner := &stubEmbedder{dim: 2, fn: func(_ int32, _ string) ([]float32, error) {
			return nil, port.Validation("empty")
		}}
		r := NewRetryingEmbedder(inner, 5, time.Millisecond)
		_, err := r.Embed(ctx, "")
		assert.ErrorIs(t, err, port.ErrValidation)
		assert.Equal(t, int32(1), inner.calls.Load())
	})
}

func TestOllamaEmbedder(t *testing.T) {
	ctx := context.Background()

	t.Run("ShouldPostModelAndInput", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/api/embed", r.URL.Path)
			assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
			var body map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "all-minilm", body["model"])
			assert.Equal(t, "hello", body["input"])
			_ = json.NewEncoder(w).Encode(map[string]any{"embeddings": [][]float32{{0.1, 0.2, 0.3}}})
		}))
		defer srv.Close()

		e := NewOllamaEmbedder(OllamaConfig{BaseURL: srv.URL + "/", Token: "secret", Dimension: 3})
		v, err := e.Embed(ctx, "hello")
		require.NoError(t, err)
		assert.Equal(t, []float32{0.1, 0.2, 0.3}, v)
		assert.Equal(t, "ollama/all-minilm", e.ModelName())
	})

	t.Run("ShouldMapServerErrorsToBackendUnavailable", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "model not loaded", http.StatusInternalServerError)
		}))
		defer srv.Close()

		e := NewOllamaEmbedder(OllamaConfig{BaseURL: srv.URL, Dimension: 3})
		_, err := e.Embed(ctx, "hello")
		assert.ErrorIs(t, err, port.ErrBackendUnavailable)
	})

	t.Run("ShouldMapClientErrorsByStatus", func(t *testing.T) {
		cases := []struct {
			name   string
			status int
			want   error
		}{
			{"ModelNotFound", http.StatusNotFound, port.ErrConfiguration},
			{"BadToken", http.StatusUnauthorized, port.ErrConfiguration},
			{"BadRequest", http.StatusBadRequest, port.ErrValidation},
			{"Throttled", http.StatusTooManyRequests, port.ErrBackendUnavailable},
			{"Overloaded", http.StatusBadGateway, port.ErrBackendUnavailable},
		}
		for _, tc := range cases {
			t.Run(tc.name, func(t *testing.T) {
				srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
					http.Error(w, `{"error":"model \"nope\" not found"}`, tc.status)
				}))
				defer srv.Close()

				e := NewOllamaEmbedder(OllamaConfig{BaseURL: srv.URL, Model: "nope", Dimension: 3})
				_, err := e.Embed(ctx, "hello")
				assert.ErrorIs(t, err, tc.want)
			})
		}
	})

	t.Run("ShouldNotRetryMissingModel", func(t *testing.T) {
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			calls.Add(1)
			http.Error(w, `{"error":"model \"nope\" not found"}`, http.StatusNotFound)
		}))
		defer srv.Close()

		e := NewRetryingEmbedder(NewOllamaEmbedder(OllamaConfig{BaseURL: srv.URL, Model: "nope", Dimension: 3}), 3, time.Millisecond)
		err := ValidateDimension(ctx, e, 3)
		assert.ErrorIs(t, err, port.ErrConfiguration)
		assert.Equal(t, int32(1), calls.Load())
	})

	t.Run("ShouldReportUnreachableServerAsUnavailable", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
		url := srv.URL
		srv.Close()

		e := NewOllamaEmbedder(OllamaConfig{BaseURL: url, Dimension: 3})
		_, err := e.Embed(ctx, "hello")
		assert.ErrorIs(t, err, port.ErrBackendUnavailable)
	})

	t.Run("ShouldRejectWrongDimension", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_ = json.NewEncoder(w).Encode(map[string]any{"embeddings": [][]float32{{0.1, 0.2}}})
		}))
		defer srv.Close()

		e := NewOllamaEmbedder(OllamaConfig{BaseURL: srv.URL, Dimension: 3})
		_, err := e.Embed(ctx, "hello")
		assert.ErrorIs(t, err, port.ErrConfiguration)
	})
}

func TestOpenAIEmbedder(t *testing.T) {
	ctx := context.Background()

	t.Run("ShouldRequestNativeDimensionsForV3Models", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/v1/embeddings", r.URL.Path)
			var body map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "text-embedding-3-small", body["model"])
			assert.EqualValues(t, 4, body["dimensions"])
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]any{
				"object": "list",
				"model":  "text-embedding-3-small",
				"data": []map[string]any{
					{"object": "embedding", "index": 0, "embedding": []float32{0.5, 0.5, 0.5, 0.5}},
				},
			})
		}))
		defer srv.Close()

		e := NewOpenAIEmbedder(OpenAIConfig{APIKey: "sk-test", BaseURL: srv.URL + "/v1", Dimension: 4})
		v, err := e.Embed(ctx, "hello")
		require.NoError(t, err)
		assert.Equal(t, []float32{0.5, 0.5, 0.5, 0.5}, v)
		assert.Equal(t, "openai/text-embedding-3-small", e.ModelName())
	})

	t.Run("ShouldMapAPIErrorsToBackendUnavailable", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"error":{"message":"overloaded","type":"server_error"}}`))
		}))
		defer srv.Close()

		e := NewOpenAIEmbedder(OpenAIConfig{APIKey: "sk-test", BaseURL: srv.URL + "/v1", Dimension: 4})
		_, err := e.Embed(ctx, "hello")
		assert.ErrorIs(t, err, port.ErrBackendUnavailable)
	})

	t.Run("ShouldMapRejectedCredentialsToConfiguration", func(t *testing.T) {
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			calls.Add(1)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":{"message":"Incorrect API key provided","type":"invalid_request_error","code":"invalid_api_key"}}`))
		}))
		defer srv.Close()

		e := NewRetryingEmbedder(NewOpenAIEmbedder(OpenAIConfig{APIKey: "sk-bad", BaseURL: srv.URL + "/v1", Dimension: 4}), 3, time.Millisecond)
		_, err := e.Embed(ctx, "hello")
		assert.ErrorIs(t, err, port.ErrConfiguration)
		assert.Equal(t, int32(1), calls.Load())
	})

	t.Run("ShouldMapMalformedRequestToValidation", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":{"message":"input too long","type":"invalid_request_error"}}`))
		}))
		defer srv.Close()

		e := NewOpenAIEmbedder(OpenAIConfig{APIKey: "sk-test", BaseURL: srv.URL + "/v1", Dimension: 4})
		_, err := e.Embed(ctx, "hello")
		assert.ErrorIs(t, err, port.ErrValidation)
	})
}

func TestNewEmbedder(t *testing.T) {
	ctx := context.Background()

	t.Run("ShouldBuildValidatedHashEmbedder", func(t *testing.T) {
		cfg := config.Load()
		cfg.EmbeddingProvider = config.ProviderHash
		cfg.EmbeddingDimension = 32
		e, err := NewEmbedder(cfg)
		require.NoError(t, err)
		assert.Equal(t, 32, e.Dimension())
		assert.NoError(t, ValidateDimension(ctx, e, 32))
	})

	t.Run("ShouldFailFastOnDimensionMismatch", func(t *testing.T) {
		err := ValidateDimension(ctx, NewHashEmbedder(32), 384)
		assert.ErrorIs(t, err, port.ErrConfiguration)
	})

	t.Run("ShouldFailWhenBackendLiesAboutDimension", func(t *testing.T) {
		liar := &stubEmbedder{dim: 4, fn: func(_ int32, _ string) ([]float32, error) { return []float32{1, 2}, nil }}
		err := ValidateDimension(ctx, liar, 4)
		assert.ErrorIs(t, err, port.ErrConfiguration)
	})

	t.Run("ShouldRejectUnknownProvider", func(t *testing.T) {
		cfg := config.Load()
		cfg.EmbeddingProvider = "word2vec"
		_, err := NewEmbedder(cfg)
		assert.ErrorIs(t, err, port.ErrConfiguration)
	})
}
