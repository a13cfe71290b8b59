package domain

import (
	"math"
	"strings"
)

// ScorePrecision is the number of decimals kept in reported similarity scores.
const ScorePrecision = 4

// PropertyFilter narrows the candidate set before ranking. Zero values are ignored.
type PropertyFilter struct {
	Location     string   `json:"location,omitempty"`
	MinPrice     *float64 `json:"min_price,omitempty"     validate:"omitempty,gte=0"`
	MaxPrice     *float64 `json:"max_price,omitempty"     validate:"omitempty,gte=0"`
	Bedrooms     *int     `json:"bedrooms,omitempty"      validate:"omitempty,gte=0"`
	PropertyType string   `json:"property_type,omitempty"`
}

// Matches reports whether p satisfies every set condition of f.
func (f PropertyFilter) Matches(p *Property) bool {
	if f.Location != "" && !strings.Contains(strings.ToLower(p.Location), strings.ToLower(f.Location)) {
		return false
	}
	if f.MinPrice != nil && p.Price < *f.MinPrice {
		return false
	}
	if f.MaxPrice != nil && p.Price > *f.MaxPrice {
		return false
	}
	if f.Bedrooms != nil && (p.Bedrooms == nil || *p.Bedrooms != *f.Bedrooms) {
		return false
	}
	if f.PropertyType != "" && (p.PropertyType == nil || !strings.EqualFold(*p.PropertyType, f.PropertyType)) {
		return false
	}
	return true
}

// Page bounds a list query.
type Page struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

// NearestQuery is a typed k-nearest-neighbor request against the vector index.
type NearestQuery struct {
	Vector    []float32
	K         int
	ExcludeID int64 // 0 excludes nothing
	Filter    PropertyFilter
	Model     string
}

// Neighbor is one k-NN hit with its cosine distance.
type Neighbor struct {
	Property Property
	Distance float64
}

// TextSearch is a free-text similarity search request.
type TextSearch struct {
	Query   string         `json:"query"`
	K       int            `json:"k"`
	Filters PropertyFilter `json:"filters"`
}

// SearchResult is a ranked property with its similarity score.
type SearchResult struct {
	Property
	SimilarityScore float64 `json:"similarity_score"`
}

// SimilarityScore converts a cosine distance into the reported score.
func SimilarityScore(distance float64) float64 {
	p := math.Pow(10, ScorePrecision)
	return math.Round((1-distance)*p) / p
}
