package service

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arturoeanton/sakenny/internal/domain"
)

func ptr[T any](v T) *T { return &v }

func TestComposeText(t *testing.T) {
	t.Run("ShouldRenderFieldsInFixedOrder", func(t *testing.T) {
		text := ComposeText(domain.PropertyAttributes{
			Title:        "Cozy Studio",
			Location:     "Maadi",
			Price:        5000,
			Bedrooms:     ptr(1),
			PropertyType: ptr("studio"),
		})
		assert.Equal(t, "Cozy Studio. located in Maadi. price 5000 EGP. 1 bedrooms. type studio", text)
	})

	t.Run("ShouldAppendDescriptionLast", func(t *testing.T) {
		text := ComposeText(domain.PropertyAttributes{
			Title:       "Loft",
			Location:    "Zamalek",
			Price:       12500.5,
			Description: ptr("Nile view, furnished"),
		})
		assert.Equal(t, "Loft. located in Zamalek. price 12500.5 EGP. Nile view, furnished", text)
	})

	t.Run("ShouldOmitAbsentAndBlankFields", func(t *testing.T) {
		text := ComposeText(domain.PropertyAttributes{
			Title:        "Flat",
			Location:     "Dokki",
			Price:        0,
			Description:  ptr("   "),
			PropertyType: ptr(""),
		})
		assert.Equal(t, "Flat. located in Dokki. price 0 EGP", text)
		assert.NotContains(t, text, "None")
		assert.NotContains(t, text, "nil")
		assert.NotContains(t, text, ". .")
	})

	t.Run("ShouldRenderZeroBedrooms", func(t *testing.T) {
		text := ComposeText(domain.PropertyAttributes{Title: "Shop", Location: "Heliopolis", Price: 1, Bedrooms: ptr(0)})
		assert.Equal(t, "Shop. located in Heliopolis. price 1 EGP. 0 bedrooms", text)
	})

	t.Run("ShouldNotDependOnInputFieldOrder", func(t *testing.T) {
		var a, b domain.PropertyAttributes
		require.NoError(t, json.Unmarshal([]byte(
			`{"title":"Villa","location":"Sheikh Zayed","price":90000,"bedrooms":4,"property_type":"villa","description":"garden"}`,
		), &a))
		require.NoError(t, json.Unmarshal([]byte(
			`{"description":"garden","property_type":"villa","bedrooms":4,"price":90000,"location":"Sheikh Zayed","title":"Villa"}`,
		), &b))
		assert.Equal(t, ComposeText(a), ComposeText(b))
		assert.Equal(t, ComposeText(a), ComposeText(a))
	})
}
