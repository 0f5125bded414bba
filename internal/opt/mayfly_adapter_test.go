package opt

import (
	"math"
	"testing"
)

// shiftedSphere has its minimum at (2, 2, ..., 2).
func shiftedSphere(x []float64) float64 {
	var sum float64
	for _, v := range x {
		sum += (v - 2) * (v - 2)
	}
	return sum
}

func TestMayflyAdapterOnShiftedSphere(t *testing.T) {
	optimizer := NewMayfly(100, 20, 42) // maxIters, popSize, seed

	dim := 3
	lower := make([]float64, dim)
	upper := make([]float64, dim)
	for i := 0; i < dim; i++ {
		lower[i] = -10
		upper[i] = 10
	}

	best, cost := optimizer.Run(shiftedSphere, lower, upper, dim)

	if len(best) != dim {
		t.Fatalf("Expected %d parameters, got %d", dim, len(best))
	}
	if cost > 0.5 {
		t.Errorf("Expected cost near 0, got %f", cost)
	}
	for i, v := range best {
		if math.Abs(v-2) > 1.5 {
			t.Errorf("Parameter %d = %f, expected near 2", i, v)
		}
	}
}

func TestMayflyAdapterRespectsAsymmetricBounds(t *testing.T) {
	// Minimum of the shifted sphere lies outside the box, so the solver
	// must stay at the boundary without ever leaving the box.
	dim := 2
	lower := []float64{-1, 3}
	upper := []float64{1, 5}

	eval := func(x []float64) float64 {
		for i, v := range x {
			if v < lower[i]-1e-9 || v > upper[i]+1e-9 {
				t.Errorf("Evaluated outside box: x[%d] = %f", i, v)
			}
		}
		return shiftedSphere(x)
	}

	optimizer := NewMayfly(50, 20, 123)
	best, _ := optimizer.Run(eval, lower, upper, dim)
	for i, v := range best {
		if v < lower[i]-1e-9 || v > upper[i]+1e-9 {
			t.Errorf("Best point outside box: x[%d] = %f", i, v)
		}
	}
}

func TestMayflyAdapterDeterministic(t *testing.T) {
	dim := 2
	lower := []float64{-5, -5}
	upper := []float64{5, 5}

	// Run twice with same seed (popSize must be >=20 for mayfly v0.1.0)
	optimizer1 := NewMayfly(50, 20, 123)
	_, cost1 := optimizer1.Run(shiftedSphere, lower, upper, dim)

	optimizer2 := NewMayfly(50, 20, 123)
	_, cost2 := optimizer2.Run(shiftedSphere, lower, upper, dim)

	if cost1 != cost2 {
		t.Errorf("Non-deterministic: cost1=%f, cost2=%f", cost1, cost2)
	}
}
