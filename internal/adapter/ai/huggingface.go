package ai

import (
	"context"
	"fmt"

	"github.com/hupe1980/go-huggingface"

	"github.com/arturoeanton/sakenny/internal/port"
)

// DefaultHuggingFaceModel is a 384-dimension sentence-transformers model.
const DefaultHuggingFaceModel = "sentence-transformers/all-MiniLM-L6-v2"

// HuggingFaceConfig configures the HuggingFace inference embedder.
type HuggingFaceConfig struct {
	Token     string // empty works for public models
	ModelID   string
	Dimension int
}

// HuggingFaceEmbedder implements port.Embedder using HuggingFace feature extraction.
type HuggingFaceEmbedder struct {
	modelID   string
	dimension int
	client    *huggingface.InferenceClient
}

// NewHuggingFaceEmbedder creates a new HuggingFace embedder.
func NewHuggingFaceEmbedder(cfg HuggingFaceConfig) *HuggingFaceEmbedder {
	if cfg.ModelID == "" {
		cfg.ModelID = DefaultHuggingFaceModel
	}
	client := huggingface.NewInferenceClient(cfg.Token)
	client.SetModel(cfg.ModelID)
	return &HuggingFaceEmbedder{
		modelID:   cfg.ModelID,
		dimension: cfg.Dimension,
		client:    client,
	}
}

// ModelName returns the embedding model identifier.
func (e *HuggingFaceEmbedder) ModelName() string {
	return "huggingface/" + e.modelID
}

// Dimension returns the configured vector length.
func (e *HuggingFaceEmbedder) Dimension() int {
	return e.dimension
}

// Embed creates a mean-pooled sentence embedding for the given text.
func (e *HuggingFaceEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := checkInput(text); err != nil {
		return nil, err
	}

	req := &huggingface.FeatureExtractionRequest{
		Inputs: []string{text},
		Options: huggingface.Options{
			WaitForModel: huggingface.PTR(true),
			UseCache:     huggingface.PTR(true),
		},
	}

	resp, err := e.client.FeatureExtractionWithAutomaticReduction(ctx, req)
	if err != nil {
		return nil, port.Unavailable("huggingface", fmt.Errorf("model %s: %w", e.modelID, err))
	}
	if len(resp) == 0 {
		return nil, port.Unavailable("huggingface", fmt.Errorf("empty feature extraction response"))
	}
	return checkDimension(e, resp[0])
}
