package opt

// Optimizer defines a derivative-free minimization algorithm interface.
// Algorithms are consumed from third-party libraries, never implemented
// here; derivative information for diagnostics comes from the numdiff
// package afterwards.
type Optimizer interface {
	// Run minimizes eval over the box [lower, upper].
	// eval: objective function to minimize
	// lower, upper: per-dimension parameter bounds
	// dim: dimensionality of parameter space
	// Returns: best parameters and best cost
	Run(eval func([]float64) float64, lower, upper []float64, dim int) ([]float64, float64)
}
