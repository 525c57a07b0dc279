package aggregate

import "math"

// WeightedMean computes the confidence-weighted mean of the given
// vectors: sum(v_i * w_i) / sum(w_i). Vectors whose length differs
// from the first are skipped. Returns nil when no vector contributes.
func WeightedMean(vectors [][]float32, weights []float64) []float32 {
	var out []float64
	var totalWeight float64
	dim := 0
	for i, v := range vectors {
		if len(v) == 0 {
			continue
		}
		if dim == 0 {
			dim = len(v)
			out = make([]float64, dim)
		}
		if len(v) != dim {
			continue
		}
		w := weights[i]
		if w <= 0 {
			continue
		}
		for j, x := range v {
			out[j] += float64(x) * w
		}
		totalWeight += w
	}
	if totalWeight == 0 {
		return nil
	}
	result := make([]float32, dim)
	for j := range out {
		result[j] = float32(out[j] / totalWeight)
	}
	return result
}

// Normalize scales a vector to unit L2 length. A zero vector is
// returned unchanged.
func Normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	norm := math.Sqrt(sum)
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}
