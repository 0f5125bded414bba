package numdiff

import (
	"math"

	"github.com/cwbudde/estikit/internal/tree"
)

// Bounds holds per-coordinate limits aligned to the flattened parameter
// vector. Unbounded entries use +-Inf.
type Bounds struct {
	Lower []float64
	Upper []float64
}

// NewBounds creates unbounded limits for dim coordinates.
func NewBounds(dim int) *Bounds {
	b := &Bounds{
		Lower: make([]float64, dim),
		Upper: make([]float64, dim),
	}
	for i := 0; i < dim; i++ {
		b.Lower[i] = math.Inf(-1)
		b.Upper[i] = math.Inf(1)
	}
	return b
}

// BoundsFromTrees flattens tree-shaped lower and upper limits against the
// params spec. Both trees must match the params structure exactly.
func BoundsFromTrees(lower, upper tree.Node, paramsSpec *tree.Spec) (*Bounds, error) {
	lo, loSpec, err := tree.Flatten(lower)
	if err != nil {
		return nil, &InvalidBoundsError{Reason: "lower: " + err.Error()}
	}
	up, upSpec, err := tree.Flatten(upper)
	if err != nil {
		return nil, &InvalidBoundsError{Reason: "upper: " + err.Error()}
	}
	if !loSpec.Equal(paramsSpec) || !upSpec.Equal(paramsSpec) {
		return nil, &InvalidBoundsError{Reason: "bounds tree structure does not match params"}
	}
	return &Bounds{Lower: lo, Upper: up}, nil
}

// validate checks dimensions, ordering and that x lies inside the bounds.
// NaN entries are treated as unbounded.
func (b *Bounds) validate(x []float64) error {
	if b == nil {
		return nil
	}
	if len(b.Lower) != len(x) || len(b.Upper) != len(x) {
		return &InvalidBoundsError{Reason: "bounds length does not match flattened params"}
	}
	for i := range x {
		lo, up := b.at(i)
		if lo > up {
			return &InvalidBoundsError{Reason: "lower bound exceeds upper bound"}
		}
		if x[i] < lo || x[i] > up {
			return &InvalidBoundsError{Reason: "params violate bounds"}
		}
	}
	return nil
}

// at returns the effective limits for coordinate i, mapping NaN to +-Inf.
func (b *Bounds) at(i int) (lo, up float64) {
	lo, up = b.Lower[i], b.Upper[i]
	if math.IsNaN(lo) {
		lo = math.Inf(-1)
	}
	if math.IsNaN(up) {
		up = math.Inf(1)
	}
	return lo, up
}

// unbounded reports whether no coordinate carries a finite limit.
func (b *Bounds) unbounded() bool {
	if b == nil {
		return true
	}
	for i := range b.Lower {
		lo, up := b.at(i)
		if !math.IsInf(lo, -1) || !math.IsInf(up, 1) {
			return false
		}
	}
	return true
}
