package ai

import (
	"context"
	"hash/fnv"
	"math"
	"strconv"
	"strings"
	"unicode"

	"github.com/arturoeanton/sakenny/internal/port"
)

// HashEmbedder is an offline embedder based on feature hashing of word tokens
// and character trigrams. It needs no model download and is fully
// deterministic, which makes it the default for development and tests.
// All components are non-negative, so cosine similarity stays in [0, 1].
type HashEmbedder struct {
	dimension int
}

// NewHashEmbedder creates a hashing embedder producing vectors of length dimension.
func NewHashEmbedder(dimension int) *HashEmbedder {
	return &HashEmbedder{dimension: dimension}
}

// ModelName returns the embedding model identifier.
func (h *HashEmbedder) ModelName() string {
	return "hash-v1/" + strconv.Itoa(h.dimension)
}

// Dimension returns the vector length.
func (h *HashEmbedder) Dimension() int {
	return h.dimension
}

// Embed returns the L2-normalized hashed feature vector of text.
func (h *HashEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := checkInput(text); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	vec := make([]float64, h.dimension)
	for _, tok := range tokenize(text) {
		vec[h.bucket("w:"+tok)] += 2
		padded := "^" + tok + "$"
		runes := []rune(padded)
		for i := 0; i+3 <= len(runes); i++ {
			vec[h.bucket("c:"+string(runes[i:i+3]))]++
		}
	}

	var norm float64
	for _, x := range vec {
		norm += x * x
	}
	norm = math.Sqrt(norm)

	if norm == 0 {
		return nil, port.Validation("text has no embeddable tokens")
	}
	out := make([]float32, h.dimension)
	for i, x := range vec {
		out[i] = float32(x / norm)
	}
	return out, nil
}

func (h *HashEmbedder) bucket(feature string) int {
	f := fnv.New32a()
	_, _ = f.Write([]byte(feature))
	return int(f.Sum32() % uint32(h.dimension))
}

// tokenize lowercases text and splits it on anything that is not a letter or digit.
func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
