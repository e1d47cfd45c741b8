// Package vector provides normalization and similarity helpers for dense vectors.
package vector

import "math"

// InnerProduct returns the inner product of two vectors. It returns 0 when the
// lengths differ or the vectors are empty.
func InnerProduct(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot
}

// L2Norm returns the L2 norm of a vector, accumulated in float64.
func L2Norm(x []float32) float64 {
	var sum float64
	for _, v := range x {
		sum += float64(v) * float64(v)
	}
	return math.Sqrt(sum)
}

// CosineSimilarity returns dot(a,b) / (||a||·||b||). It returns 0 when the
// lengths differ or either vector has zero magnitude.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	return CosineWithNorms(a, b, L2Norm(a), L2Norm(b))
}

// CosineWithNorms is CosineSimilarity with precomputed norms, for scoring one
// query against many entries.
func CosineWithNorms(a, b []float32, normA, normB float64) float64 {
	if normA == 0 || normB == 0 {
		return 0
	}
	return InnerProduct(a, b) / (normA * normB)
}

// IsFinite reports whether every element is neither NaN nor ±Inf.
func IsFinite(x []float32) bool {
	for _, v := range x {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}
	return true
}
