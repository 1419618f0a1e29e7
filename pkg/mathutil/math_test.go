package mathutil

import (
	"math"
	"testing"
)

const epsilon = 1e-5

func almostEqual(a, b float32) bool {
	return math.Abs(float64(a-b)) < epsilon
}

func TestDot(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float32
	}{
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"identical unit", []float32{1, 0}, []float32{1, 0}, 1},
		{"opposite", []float32{0, 1}, []float32{0, -1}, -1},
		{"general", []float32{0.5, 0.5}, []float32{0.5, 0.5}, 0.5},
		{"length mismatch", []float32{1, 2, 3}, []float32{1, 2}, 0},
		{"empty", nil, nil, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Dot(tt.a, tt.b); !almostEqual(got, tt.want) {
				t.Errorf("Dot() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNormalize(t *testing.T) {
	v := Normalize([]float32{3, 4})
	if !almostEqual(v[0], 0.6) || !almostEqual(v[1], 0.8) {
		t.Errorf("Normalize([3,4]) = %v, want [0.6, 0.8]", v)
	}
	if !almostEqual(Norm(v), 1) {
		t.Errorf("Norm(normalized) = %v, want 1", Norm(v))
	}

	// Zero vector stays zero instead of becoming NaN
	z := Normalize([]float32{0, 0, 0})
	for i, x := range z {
		if x != 0 {
			t.Errorf("Normalize(zero)[%d] = %v, want 0", i, x)
		}
	}

	// Input must not be mutated
	orig := []float32{2, 0}
	_ = Normalize(orig)
	if orig[0] != 2 {
		t.Errorf("Normalize mutated its input: %v", orig)
	}
}

func TestMean(t *testing.T) {
	got := Mean([][]float32{{1, 0}, {0, 1}})
	if !almostEqual(got[0], 0.5) || !almostEqual(got[1], 0.5) {
		t.Errorf("Mean() = %v, want [0.5, 0.5]", got)
	}

	if Mean(nil) != nil {
		t.Error("Mean(nil) should be nil")
	}
}

func TestNormalizedMeanIsUnit(t *testing.T) {
	// The aggregate used for enrollment: normalize(mean(unit pose vectors))
	poses := [][]float32{
		Normalize([]float32{1, 0.1, 0}),
		Normalize([]float32{0.9, 0.2, 0.1}),
		Normalize([]float32{1, 0, 0.05}),
	}
	agg := Normalize(Mean(poses))
	if !almostEqual(Norm(agg), 1) {
		t.Errorf("aggregate norm = %v, want 1", Norm(agg))
	}
}

func TestCosineSim(t *testing.T) {
	// Same direction, different magnitude
	if got := CosineSim([]float32{2, 0}, []float32{7, 0}); !almostEqual(got, 1) {
		t.Errorf("CosineSim same direction = %v, want 1", got)
	}
	if got := CosineSim([]float32{0, 0}, []float32{1, 0}); got != 0 {
		t.Errorf("CosineSim with zero vector = %v, want 0", got)
	}
}

func TestClampInt(t *testing.T) {
	tests := []struct {
		value, min, max, want int
	}{
		{5, 1, 10, 5},
		{0, 1, 10, 1},
		{15, 1, 10, 10},
	}
	for _, tt := range tests {
		if got := ClampInt(tt.value, tt.min, tt.max); got != tt.want {
			t.Errorf("ClampInt(%d, %d, %d) = %d, want %d", tt.value, tt.min, tt.max, got, tt.want)
		}
	}
}

func TestClampLimit(t *testing.T) {
	tests := []struct {
		limit, def, max, want int
	}{
		{0, 50, 200, 50},
		{-1, 50, 200, 50},
		{100, 50, 200, 100},
		{500, 50, 200, 200},
	}
	for _, tt := range tests {
		if got := ClampLimit(tt.limit, tt.def, tt.max); got != tt.want {
			t.Errorf("ClampLimit(%d, %d, %d) = %d, want %d", tt.limit, tt.def, tt.max, got, tt.want)
		}
	}
}
