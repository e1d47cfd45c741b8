package vector

// Normalize returns v scaled to unit L2 norm as a new slice. A zero vector is
// returned unchanged. The input is never modified.
func Normalize(v []float32) []float32 {
	out := make([]float32, len(v))
	copy(out, v)
	norm := L2Norm(v)
	if norm == 0 {
		return out
	}
	inv := 1 / norm
	for i := range out {
		out[i] = float32(float64(out[i]) * inv)
	}
	return out
}

// NormalizeInPlace scales x to unit L2 norm. A zero vector is left unchanged.
func NormalizeInPlace(x []float32) {
	norm := L2Norm(x)
	if norm == 0 {
		return
	}
	inv := 1 / norm
	for i := range x {
		x[i] = float32(float64(x[i]) * inv)
	}
}
