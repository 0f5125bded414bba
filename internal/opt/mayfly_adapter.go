package opt

import (
	"math/rand"

	"github.com/cwbudde/mayfly"
)

// MayflyAdapter wraps the external Mayfly library to conform to our
// Optimizer interface. The library only supports one scalar bound pair for
// all dimensions, so the adapter optimizes over the unit cube and rescales
// into the per-dimension box inside the objective.
type MayflyAdapter struct {
	maxIters int
	popSize  int
	seed     int64
}

// NewMayfly creates a new Mayfly optimizer adapter.
func NewMayfly(maxIters, popSize int, seed int64) Optimizer {
	return &MayflyAdapter{
		maxIters: maxIters,
		popSize:  popSize,
		seed:     seed,
	}
}

// Run executes the Mayfly optimization using the external library.
func (m *MayflyAdapter) Run(eval func([]float64) float64, lower, upper []float64, dim int) ([]float64, float64) {
	config := mayfly.NewDefaultConfig()

	config.ProblemSize = dim
	config.MaxIterations = m.maxIters
	config.NPop = m.popSize

	// Unit cube internally, per-dimension box externally.
	config.LowerBound = 0
	config.UpperBound = 1
	config.ObjectiveFunc = func(unit []float64) float64 {
		return eval(rescale(unit, lower, upper))
	}

	// Set random seed for reproducibility.
	config.Rand = rand.New(rand.NewSource(m.seed))

	result, err := mayfly.Optimize(config)
	if err != nil {
		// Fall back to the box midpoint if the solver rejects the setup.
		mid := make([]float64, dim)
		for i := range mid {
			mid[i] = 0.5
		}
		best := rescale(mid, lower, upper)
		return best, eval(best)
	}

	return rescale(result.GlobalBest.Position, lower, upper), result.GlobalBest.Cost
}

// rescale maps a unit-cube point into the [lower, upper] box.
func rescale(unit, lower, upper []float64) []float64 {
	out := make([]float64, len(unit))
	for i, u := range unit {
		out[i] = lower[i] + u*(upper[i]-lower[i])
	}
	return out
}
