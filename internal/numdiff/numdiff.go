// Package numdiff computes first and second derivatives of functions over
// parameter trees by finite differences. Step sizes follow a relative-step
// heuristic, bounds on the flattened parameters are respected by switching
// to one-sided stencils, and the independent function evaluations can run on
// a fixed-size worker pool.
package numdiff

import (
	"fmt"

	"github.com/cwbudde/estikit/internal/pool"
	"github.com/cwbudde/estikit/internal/tree"
	"gonum.org/v1/gonum/mat"
)

// Func is a user-supplied function over a parameter tree. The returned tree
// may be a single Scalar or any tree of numeric leaves; its structure must
// be identical across calls. Errors propagate to the caller unmodified and
// abort the enclosing derivative computation.
type Func func(params tree.Node) (tree.Node, error)

// Method selects the finite-difference stencil.
type Method string

const (
	// Central uses two-sided differences, one evaluation on each side per
	// coordinate. Default for first derivatives.
	Central Method = "central"
	// Forward uses a single evaluation above the base point per coordinate.
	Forward Method = "forward"
	// Backward uses a single evaluation below the base point per coordinate.
	Backward Method = "backward"
	// CentralCross uses the symmetric 4-point cross stencil for mixed second
	// derivatives. Default for second derivatives.
	CentralCross Method = "central_cross"
)

// Options configures a derivative computation. The zero value selects the
// default method, no bounds and synchronous evaluation.
type Options struct {
	Method  Method
	Bounds  *Bounds
	Workers int
	// RelStep overrides the automatic relative step size.
	RelStep float64
	// AbsStep overrides step selection with a fixed absolute step.
	AbsStep float64
	// StoreEvals records every evaluation point and function value on the
	// result for diagnostics.
	StoreEvals bool
}

// Evaluation is one recorded function call, in flattened coordinates.
type Evaluation struct {
	X []float64
	Y []float64
}

// Result holds a computed derivative in tree shape plus diagnostics.
type Result struct {
	// Derivative is the gradient reshaped into the params tree. Only set for
	// scalar-valued functions.
	Derivative tree.Node
	// Jacobian is the m x d derivative matrix in flattened coordinates.
	// For second derivatives it is nil and Hessian is set instead.
	Jacobian *mat.Dense
	// Hessian is the symmetric d x d second derivative matrix.
	Hessian *mat.SymDense
	// Blocks describes the params x params block structure of the Hessian.
	Blocks *tree.BlockSpec
	// FuncValue is the function value at the base point.
	FuncValue tree.Node
	// Steps are the per-coordinate step sizes actually used (signed).
	Steps []float64
	// OneSided marks coordinates where bounds altered the stencil: a central
	// difference switched to one side, or a one-sided step flipped direction
	// or shrank to stay inside the bounds.
	OneSided []bool
	// NumEvals counts function evaluations including the base point.
	NumEvals int
	// Evaluations holds all recorded calls when Options.StoreEvals is set.
	Evaluations []Evaluation
}

// BlockAt extracts one block of the Hessian as a dense matrix.
func (r *Result) BlockAt(b tree.Block) *mat.Dense {
	if r.Hessian == nil {
		return nil
	}
	out := mat.NewDense(b.RowDim, b.ColDim, nil)
	for i := 0; i < b.RowDim; i++ {
		for j := 0; j < b.ColDim; j++ {
			out.Set(i, j, r.Hessian.At(b.RowOffset+i, b.ColOffset+j))
		}
	}
	return out
}

// evaluator runs the user function at flattened points and checks that the
// output structure stays consistent across calls.
type evaluator struct {
	fun     Func
	spec    *tree.Spec
	outSpec *tree.Spec
}

func (ev *evaluator) at(x []float64) ([]float64, error) {
	params, err := ev.spec.Unflatten(x)
	if err != nil {
		return nil, err
	}
	out, err := ev.fun(params)
	if err != nil {
		return nil, err
	}
	vec, spec, err := tree.Flatten(out)
	if err != nil {
		return nil, err
	}
	if !spec.Equal(ev.outSpec) {
		return nil, &tree.StructureError{Reason: "function output structure changed between evaluations"}
	}
	return vec, nil
}

// runPoints evaluates all points in parallel, preserving index order.
func (ev *evaluator) runPoints(points [][]float64, workers int) ([][]float64, error) {
	results := make([][]float64, len(points))
	err := pool.Map(workers, len(points), func(i int) error {
		y, err := ev.at(points[i])
		if err != nil {
			return fmt.Errorf("evaluation %d: %w", i, err)
		}
		results[i] = y
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}
