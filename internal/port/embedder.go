package port

import "context"

// Embedder abstracts the text embedding backend.
// Implementations can target Ollama, OpenAI, HuggingFace or a local hashing model.
type Embedder interface {
	// ModelName returns the identifier of the model producing the vectors.
	// It is stored next to every vector so vectors of different models never mix.
	ModelName() string

	// Dimension returns the fixed length of every vector returned by Embed.
	Dimension() int

	// Embed generates a vector embedding for the given text.
	// The same text always yields the same vector for a given model.
	Embed(ctx context.Context, text string) ([]float32, error)
}
