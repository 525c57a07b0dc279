package aggregate

import (
	"math"
	"testing"
)

func almostEqual(a, b float32) bool {
	return math.Abs(float64(a)-float64(b)) < 1e-5
}

func TestWeightedMean(t *testing.T) {
	vectors := [][]float32{
		{1, 0},
		{0, 1},
	}
	weights := []float64{0.9, 0.5}

	got := WeightedMean(vectors, weights)
	if got == nil {
		t.Fatal("expected a vector, got nil")
	}
	// (0.9*[1,0] + 0.5*[0,1]) / 1.4
	if !almostEqual(got[0], float32(0.9/1.4)) || !almostEqual(got[1], float32(0.5/1.4)) {
		t.Errorf("got %v", got)
	}
}

func TestWeightedMeanSkipsMismatchedDimensions(t *testing.T) {
	vectors := [][]float32{
		{1, 0},
		{1, 1, 1}, // wrong dimension, skipped
		{0, 2},
	}
	weights := []float64{1, 1, 1}

	got := WeightedMean(vectors, weights)
	if got == nil {
		t.Fatal("expected a vector, got nil")
	}
	if !almostEqual(got[0], 0.5) || !almostEqual(got[1], 1.0) {
		t.Errorf("got %v", got)
	}
}

func TestWeightedMeanNoContribution(t *testing.T) {
	if got := WeightedMean(nil, nil); got != nil {
		t.Errorf("expected nil for no vectors, got %v", got)
	}
	if got := WeightedMean([][]float32{{1, 2}}, []float64{0}); got != nil {
		t.Errorf("expected nil for zero total weight, got %v", got)
	}
}

func TestNormalize(t *testing.T) {
	got := Normalize([]float32{3, 4})
	if !almostEqual(got[0], 0.6) || !almostEqual(got[1], 0.8) {
		t.Errorf("got %v", got)
	}

	var sum float64
	for _, x := range got {
		sum += float64(x) * float64(x)
	}
	if math.Abs(sum-1) > 1e-5 {
		t.Errorf("norm^2 = %v, want 1", sum)
	}
}

func TestNormalizeZeroVector(t *testing.T) {
	got := Normalize([]float32{0, 0, 0})
	for _, x := range got {
		if x != 0 {
			t.Errorf("zero vector changed: %v", got)
		}
	}
}

func TestWeightedMeanDeterministic(t *testing.T) {
	vectors := [][]float32{{0.2, 0.8, 0.1}, {0.5, 0.1, 0.9}}
	weights := []float64{0.7, 0.95}

	first := Normalize(WeightedMean(vectors, weights))
	second := Normalize(WeightedMean(vectors, weights))
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("recomputation differs at %d: %v vs %v", i, first[i], second[i])
		}
	}
}
