package numdiff

import "fmt"

// InvalidBoundsError reports bounds that cannot be applied to the flattened
// parameter vector.
type InvalidBoundsError struct {
	Reason string
}

func (e *InvalidBoundsError) Error() string {
	return fmt.Sprintf("invalid bounds: %s", e.Reason)
}

// InfeasibleStepError reports a coordinate whose bounds leave no room for a
// finite-difference step in either direction.
type InfeasibleStepError struct {
	Index int
	X     float64
	Lower float64
	Upper float64
}

func (e *InfeasibleStepError) Error() string {
	return fmt.Sprintf("no feasible step at coordinate %d: x=%g within [%g, %g]",
		e.Index, e.X, e.Lower, e.Upper)
}
