package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/arturoeanton/sakenny/internal/port"
)

// DefaultOllamaModel produces 384-dimension vectors.
const DefaultOllamaModel = "all-minilm"

// OllamaConfig holds the configuration for the Ollama embed endpoint.
type OllamaConfig struct {
	BaseURL   string // e.g. http://localhost:11434 or https://api.ollama.com
	Model     string // e.g. all-minilm, nomic-embed-text
	Token     string // Bearer token for Ollama Cloud (empty = no auth)
	Dimension int
	Timeout   time.Duration
}

// OllamaEmbedder implements port.Embedder using the Ollama REST API.
type OllamaEmbedder struct {
	cfg        OllamaConfig
	httpClient *http.Client
}

// NewOllamaEmbedder creates a new Ollama-backed embedder.
func NewOllamaEmbedder(cfg OllamaConfig) *OllamaEmbedder {
	if cfg.Model == "" {
		cfg.Model = DefaultOllamaModel
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &OllamaEmbedder{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

// ModelName returns the embedding model identifier.
func (o *OllamaEmbedder) ModelName() string {
	return "ollama/" + o.cfg.Model
}

// Dimension returns the configured vector length.
func (o *OllamaEmbedder) Dimension() int {
	return o.cfg.Dimension
}

// Embed generates a vector embedding for the given text.
func (o *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := checkInput(text); err != nil {
		return nil, err
	}

	payload := map[string]interface{}{
		"model": o.cfg.Model,
		"input": text,
	}

	body, err := o.post(ctx, "/api/embed", payload)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Embeddings [][]float32 `json:"embeddings"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, port.Unavailable("ollama", fmt.Errorf("decode embed response: %w", err))
	}

	if len(resp.Embeddings) == 0 {
		return nil, port.Unavailable("ollama", fmt.Errorf("empty embed response"))
	}

	return checkDimension(o, resp.Embeddings[0])
}

// post is a helper for POST requests to the Ollama endpoint (with optional bearer token).
func (o *OllamaEmbedder) post(ctx context.Context, path string, payload interface{}) ([]byte, error) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.cfg.BaseURL+path, bytes.NewReader(payloadBytes))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if o.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+o.cfg.Token)
	}

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return nil, port.Unavailable("ollama", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, statusError("ollama", resp.StatusCode,
			fmt.Errorf("ollama API error (%d): %s", resp.StatusCode, strings.TrimSpace(string(body))))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, port.Unavailable("ollama", fmt.Errorf("read embed response: %w", err))
	}
	return body, nil
}
