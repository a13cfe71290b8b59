package port

import (
	"context"

	"github.com/arturoeanton/sakenny/internal/domain"
)

// PropertyStore abstracts the persistent property store and its vector index.
// Attributes and the embedding of a property live in the same row, so every
// write below is atomic for one property.
type PropertyStore interface {
	// Dimension returns the vector dimension the store was configured with.
	Dimension() int

	// EnsureEmbeddingSpace records the active model and dimension, failing with
	// a configuration error when the dimension conflicts with stored vectors.
	EnsureEmbeddingSpace(ctx context.Context, model string, dimension int) error

	// Create inserts a property and returns it with ID and CreatedAt assigned.
	Create(ctx context.Context, p *domain.Property) (*domain.Property, error)

	// Update replaces attributes and embedding of an existing property.
	Update(ctx context.Context, p *domain.Property) (*domain.Property, error)

	// Delete removes a property together with its vector.
	Delete(ctx context.Context, id int64) error

	// Get returns a single property by ID.
	Get(ctx context.Context, id int64) (*domain.Property, error)

	// List returns properties matching filter ordered by ID.
	List(ctx context.Context, filter domain.PropertyFilter, page domain.Page) ([]domain.Property, error)

	// Nearest returns up to q.K properties ordered by ascending cosine distance.
	Nearest(ctx context.Context, q domain.NearestQuery) ([]domain.Neighbor, error)

	// ListUnembedded returns properties with ID greater than afterID that have
	// no vector for model, ordered by ID.
	ListUnembedded(ctx context.Context, model string, afterID int64, limit int) ([]domain.Property, error)

	// SetEmbedding stores vector on an existing property unless the row already
	// holds an embedding for model. It reports whether the vector was written.
	SetEmbedding(ctx context.Context, id int64, vector []float32, model string) (bool, error)

	// Close releases the underlying resources.
	Close() error
}
