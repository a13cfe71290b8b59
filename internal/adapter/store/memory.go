package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/arturoeanton/sakenny/internal/domain"
	"github.com/arturoeanton/sakenny/internal/port"
)

// MemoryStore is an in-process PropertyStore with exact cosine search.
// It backs the test suite and STORE_BACKEND=memory.
type MemoryStore struct {
	mu        sync.RWMutex
	dimension int
	nextID    int64
	rows      map[int64]domain.Property
	now       func() time.Time
}

// NewMemoryStore creates an empty store for vectors of the given dimension.
func NewMemoryStore(dimension int) *MemoryStore {
	return &MemoryStore{
		dimension: dimension,
		rows:      make(map[int64]domain.Property),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Dimension returns the configured vector dimension.
func (m *MemoryStore) Dimension() int { return m.dimension }

// EnsureEmbeddingSpace checks the embedder dimension against the store.
// Rows are filtered by model at query time, so nothing is recorded here.
func (m *MemoryStore) EnsureEmbeddingSpace(_ context.Context, _ string, dimension int) error {
	if dimension != m.dimension {
		return port.Configuration("store dimension %d does not match embedder dimension %d", m.dimension, dimension)
	}
	return nil
}

// Create inserts a property and assigns its ID and creation time.
func (m *MemoryStore) Create(_ context.Context, p *domain.Property) (*domain.Property, error) {
	if err := checkVector(p.Embedding, m.dimension); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	row := copyProperty(*p)
	row.ID = m.nextID
	row.CreatedAt = m.now()
	m.rows[row.ID] = row

	out := copyProperty(row)
	return &out, nil
}

// Update replaces attributes and embedding; ID and CreatedAt are preserved.
func (m *MemoryStore) Update(_ context.Context, p *domain.Property) (*domain.Property, error) {
	if err := checkVector(p.Embedding, m.dimension); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.rows[p.ID]
	if !ok {
		return nil, port.NotFound("property %d not found", p.ID)
	}
	row := copyProperty(*p)
	row.CreatedAt = existing.CreatedAt
	m.rows[row.ID] = row

	out := copyProperty(row)
	return &out, nil
}

// Delete removes a property and its vector.
func (m *MemoryStore) Delete(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.rows[id]; !ok {
		return port.NotFound("property %d not found", id)
	}
	delete(m.rows, id)
	return nil
}

// Get returns a property by ID.
func (m *MemoryStore) Get(_ context.Context, id int64) (*domain.Property, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	row, ok := m.rows[id]
	if !ok {
		return nil, port.NotFound("property %d not found", id)
	}
	out := copyProperty(row)
	return &out, nil
}

// List returns properties matching filter ordered by ID.
func (m *MemoryStore) List(_ context.Context, filter domain.PropertyFilter, page domain.Page) ([]domain.Property, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]domain.Property, 0, len(m.rows))
	for _, row := range m.sortedRows() {
		if filter.Matches(&row) {
			out = append(out, copyProperty(row))
		}
	}
	return paginate(out, page), nil
}

// Nearest ranks filtered candidates by cosine distance, ties broken by ID.
func (m *MemoryStore) Nearest(_ context.Context, q domain.NearestQuery) ([]domain.Neighbor, error) {
	if q.K <= 0 {
		return []domain.Neighbor{}, nil
	}
	if err := checkQueryVector(q.Vector, m.dimension); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	candidates := make([]domain.Neighbor, 0, len(m.rows))
	for _, row := range m.rows {
		if row.ID == q.ExcludeID || !row.Searchable(q.Model) || !q.Filter.Matches(&row) {
			continue
		}
		candidates = append(candidates, domain.Neighbor{
			Property: row,
			Distance: domain.CosineDistance(q.Vector, row.Embedding),
		})
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Distance != candidates[j].Distance {
			return candidates[i].Distance < candidates[j].Distance
		}
		return candidates[i].Property.ID < candidates[j].Property.ID
	})
	if len(candidates) > q.K {
		candidates = candidates[:q.K]
	}
	for i := range candidates {
		candidates[i].Property = copyProperty(candidates[i].Property)
	}
	return candidates, nil
}

// ListUnembedded returns properties after afterID whose vector is missing or
// from another model.
func (m *MemoryStore) ListUnembedded(_ context.Context, model string, afterID int64, limit int) ([]domain.Property, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := []domain.Property{}
	for _, row := range m.sortedRows() {
		if limit > 0 && len(out) >= limit {
			break
		}
		if row.ID > afterID && !row.Searchable(model) {
			out = append(out, copyProperty(row))
		}
	}
	return out, nil
}

// SetEmbedding stores vector unless the row is already embedded for model.
func (m *MemoryStore) SetEmbedding(_ context.Context, id int64, vector []float32, model string) (bool, error) {
	if err := checkVector(vector, m.dimension); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	row, ok := m.rows[id]
	if !ok {
		return false, port.NotFound("property %d not found", id)
	}
	if row.Searchable(model) {
		return false, nil
	}
	row.Embedding = append([]float32(nil), vector...)
	row.EmbeddingModel = model
	m.rows[id] = row
	return true, nil
}

// Close is a no-op.
func (m *MemoryStore) Close() error { return nil }

func (m *MemoryStore) sortedRows() []domain.Property {
	rows := make([]domain.Property, 0, len(m.rows))
	for _, row := range m.rows {
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].ID < rows[j].ID })
	return rows
}

// copyProperty deep-copies the pointer and slice fields of p.
func copyProperty(p domain.Property) domain.Property {
	if p.Embedding != nil {
		p.Embedding = append([]float32(nil), p.Embedding...)
	}
	if p.Description != nil {
		v := *p.Description
		p.Description = &v
	}
	if p.Bedrooms != nil {
		v := *p.Bedrooms
		p.Bedrooms = &v
	}
	if p.Bathrooms != nil {
		v := *p.Bathrooms
		p.Bathrooms = &v
	}
	if p.Area != nil {
		v := *p.Area
		p.Area = &v
	}
	if p.PropertyType != nil {
		v := *p.PropertyType
		p.PropertyType = &v
	}
	return p
}

func paginate(rows []domain.Property, page domain.Page) []domain.Property {
	if page.Offset > 0 {
		if page.Offset >= len(rows) {
			return []domain.Property{}
		}
		rows = rows[page.Offset:]
	}
	if page.Limit > 0 && len(rows) > page.Limit {
		rows = rows[:page.Limit]
	}
	return rows
}

// checkQueryVector requires a vector of exactly dimension floats.
func checkQueryVector(v []float32, dimension int) error {
	if len(v) == 0 {
		return port.Validation("query vector is empty")
	}
	return checkVector(v, dimension)
}

// checkVector accepts a nil vector or one of exactly dimension floats.
func checkVector(v []float32, dimension int) error {
	if v != nil && len(v) != dimension {
		return port.Validation("vector has %d dimensions, store expects %d", len(v), dimension)
	}
	return nil
}
