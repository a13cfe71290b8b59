package domain

import "time"

// PropertyAttributes is the caller-supplied attribute set of a listing.
type PropertyAttributes struct {
	Title        string   `json:"title"                   validate:"required,notblank"`
	Description  *string  `json:"description,omitempty"`
	Price        float64  `json:"price"                   validate:"gte=0"`
	Location     string   `json:"location"                validate:"required,notblank"`
	Bedrooms     *int     `json:"bedrooms,omitempty"      validate:"omitempty,gte=0"`
	Bathrooms    *int     `json:"bathrooms,omitempty"     validate:"omitempty,gte=0"`
	Area         *float64 `json:"area,omitempty"          validate:"omitempty,gte=0"` // square meters
	PropertyType *string  `json:"property_type,omitempty"`
}

// Property is a stored real-estate listing.
type Property struct {
	PropertyAttributes
	ID             int64     `json:"id"         db:"id"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
	Embedding      []float32 `json:"-"          db:"embedding"`
	EmbeddingModel string    `json:"-"          db:"embedding_model"`
}

// Searchable reports whether the property carries a vector produced by model.
func (p *Property) Searchable(model string) bool {
	return len(p.Embedding) > 0 && p.EmbeddingModel == model
}
