package service

import (
	"strconv"
	"strings"

	"github.com/arturoeanton/sakenny/internal/domain"
)

// ComposeText renders the attributes of a listing into the single sentence
// that gets embedded. Clauses appear in a fixed order and absent or blank
// fields are skipped, so equal attributes always produce equal text.
func ComposeText(a domain.PropertyAttributes) string {
	parts := make([]string, 0, 6)

	if s := strings.TrimSpace(a.Title); s != "" {
		parts = append(parts, s)
	}
	if s := strings.TrimSpace(a.Location); s != "" {
		parts = append(parts, "located in "+s)
	}
	parts = append(parts, "price "+strconv.FormatFloat(a.Price, 'f', -1, 64)+" EGP")
	if a.Bedrooms != nil {
		parts = append(parts, strconv.Itoa(*a.Bedrooms)+" bedrooms")
	}
	if s := optional(a.PropertyType); s != "" {
		parts = append(parts, "type "+s)
	}
	if s := optional(a.Description); s != "" {
		parts = append(parts, s)
	}

	return strings.Join(parts, ". ")
}

func optional(s *string) string {
	if s == nil {
		return ""
	}
	return strings.TrimSpace(*s)
}
