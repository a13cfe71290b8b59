package domain

import "math"

// CosineDistance returns 1 - cos(a, b). Zero-length inputs are treated as
// orthogonal to everything (distance 1). a and b must have the same length.
func CosineDistance(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 1
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
}
