package numdiff

import (
	"errors"
	"math"
	"testing"

	"github.com/cwbudde/estikit/internal/tree"
	"gonum.org/v1/gonum/mat"
)

// dot is f(x) = x.x with gradient 2x and Hessian 2I.
func dot(params tree.Node) (tree.Node, error) {
	vec, _, err := tree.Flatten(params)
	if err != nil {
		return nil, err
	}
	var sum float64
	for _, v := range vec {
		sum += v * v
	}
	return tree.Scalar(sum), nil
}

func linspaceVector(d int) tree.Vector {
	out := make(tree.Vector, d)
	for i := range out {
		out[i] = 0.5 + 0.3*float64(i)
	}
	return out
}

func TestFirstDerivativeDotProduct(t *testing.T) {
	for _, method := range []Method{Central, Forward, Backward} {
		for _, d := range []int{1, 5, 10} {
			x := linspaceVector(d)

			res, err := FirstDerivative(dot, x, Options{Method: method})
			if err != nil {
				t.Fatalf("method=%s d=%d: %v", method, d, err)
			}

			grad, ok := res.Derivative.(tree.Vector)
			if !ok {
				t.Fatalf("method=%s d=%d: derivative is %T, want Vector", method, d, res.Derivative)
			}
			for i := range grad {
				want := 2 * x[i]
				if math.Abs(grad[i]-want) > 1e-4 {
					t.Errorf("method=%s d=%d: grad[%d]=%g, want %g", method, d, i, grad[i], want)
				}
			}
		}
	}
}

func TestFirstDerivativeTreeParams(t *testing.T) {
	params := tree.Mapping{
		"a": tree.Vector{1, 2},
		"b": tree.Scalar(3),
	}

	res, err := FirstDerivative(dot, params, Options{})
	if err != nil {
		t.Fatalf("FirstDerivative failed: %v", err)
	}

	// Gradient must come back in the same tree shape.
	grad, ok := res.Derivative.(tree.Mapping)
	if !ok {
		t.Fatalf("Derivative is %T, want Mapping", res.Derivative)
	}
	a := grad["a"].(tree.Vector)
	if math.Abs(a[0]-2) > 1e-4 || math.Abs(a[1]-4) > 1e-4 {
		t.Errorf("grad[a] = %v, want [2 4]", a)
	}
	b := float64(grad["b"].(tree.Scalar))
	if math.Abs(b-6) > 1e-4 {
		t.Errorf("grad[b] = %g, want 6", b)
	}
}

func TestFirstDerivativeParallelMatchesSequential(t *testing.T) {
	x := linspaceVector(8)

	seq, err := FirstDerivative(dot, x, Options{Workers: 1})
	if err != nil {
		t.Fatalf("sequential: %v", err)
	}
	par, err := FirstDerivative(dot, x, Options{Workers: 4})
	if err != nil {
		t.Fatalf("parallel: %v", err)
	}

	gs := seq.Derivative.(tree.Vector)
	gp := par.Derivative.(tree.Vector)
	for i := range gs {
		if gs[i] != gp[i] {
			t.Errorf("Coordinate %d differs: sequential %g, parallel %g", i, gs[i], gp[i])
		}
	}
}

func TestFirstDerivativeVectorValued(t *testing.T) {
	// f(x) = (x0+x1, x0*x1) with known Jacobian.
	fun := func(params tree.Node) (tree.Node, error) {
		v := params.(tree.Vector)
		return tree.Vector{v[0] + v[1], v[0] * v[1]}, nil
	}

	res, err := FirstDerivative(fun, tree.Vector{2, 3}, Options{})
	if err != nil {
		t.Fatalf("FirstDerivative failed: %v", err)
	}
	if res.Derivative != nil {
		t.Error("Vector-valued function should not produce a tree gradient")
	}

	want := [][]float64{{1, 1}, {3, 2}}
	for i := 0; i < 2; i++ {
		for j := 0; j < 2; j++ {
			if got := res.Jacobian.At(i, j); math.Abs(got-want[i][j]) > 1e-4 {
				t.Errorf("J[%d][%d] = %g, want %g", i, j, got, want[i][j])
			}
		}
	}
}

func TestFirstDerivativeAtLowerBound(t *testing.T) {
	// x0 sits exactly on its lower bound: the engine must switch to a
	// forward stencil and never evaluate below the bound.
	x := tree.Vector{0, 1}
	bounds := &Bounds{
		Lower: []float64{0, math.Inf(-1)},
		Upper: []float64{math.Inf(1), math.Inf(1)},
	}

	fun := func(params tree.Node) (tree.Node, error) {
		v := params.(tree.Vector)
		if v[0] < 0 {
			t.Errorf("Evaluated out of bounds at x0=%g", v[0])
		}
		return dot(params)
	}

	res, err := FirstDerivative(fun, x, Options{Method: Central, Bounds: bounds})
	if err != nil {
		t.Fatalf("FirstDerivative failed: %v", err)
	}
	if !res.OneSided[0] {
		t.Error("Coordinate 0 should be one-sided at its bound")
	}
	if res.OneSided[1] {
		t.Error("Coordinate 1 is interior, should stay central")
	}

	grad := res.Derivative.(tree.Vector)
	if math.IsNaN(grad[0]) || math.IsInf(grad[0], 0) {
		t.Errorf("grad[0] = %g, want finite", grad[0])
	}
	if math.Abs(grad[0]) > 1e-4 {
		t.Errorf("grad[0] = %g, want 0", grad[0])
	}
	if math.Abs(grad[1]-2) > 1e-4 {
		t.Errorf("grad[1] = %g, want 2", grad[1])
	}
}

func TestFirstDerivativeForwardFlipsAtBound(t *testing.T) {
	// x0 sits on its upper bound: a forward step must flip to a backward one
	// and record the switch, without ever stepping above the bound.
	x := tree.Vector{2, 1}
	bounds := &Bounds{
		Lower: []float64{math.Inf(-1), math.Inf(-1)},
		Upper: []float64{2, math.Inf(1)},
	}

	fun := func(params tree.Node) (tree.Node, error) {
		v := params.(tree.Vector)
		if v[0] > 2 {
			t.Errorf("Evaluated out of bounds at x0=%g", v[0])
		}
		return dot(params)
	}

	res, err := FirstDerivative(fun, x, Options{Method: Forward, Bounds: bounds})
	if err != nil {
		t.Fatalf("FirstDerivative failed: %v", err)
	}
	if res.Steps[0] >= 0 {
		t.Errorf("Steps[0] = %g, want a backward step", res.Steps[0])
	}
	if !res.OneSided[0] {
		t.Error("Coordinate 0 flipped direction, OneSided should record it")
	}
	if res.OneSided[1] {
		t.Error("Coordinate 1 is interior, should stay unflagged")
	}

	grad := res.Derivative.(tree.Vector)
	if math.Abs(grad[0]-4) > 1e-4 {
		t.Errorf("grad[0] = %g, want 4", grad[0])
	}
}

func TestBoundsFromTrees(t *testing.T) {
	params := tree.Mapping{"a": tree.Scalar(0), "b": tree.Vector{1, 2}}
	_, spec, err := tree.Flatten(params)
	if err != nil {
		t.Fatalf("Flatten failed: %v", err)
	}

	lower := tree.Mapping{"a": tree.Scalar(0), "b": tree.Vector{0, 0}}
	upper := tree.Mapping{"a": tree.Scalar(5), "b": tree.Vector{5, 5}}
	bounds, err := BoundsFromTrees(lower, upper, spec)
	if err != nil {
		t.Fatalf("BoundsFromTrees failed: %v", err)
	}

	// Flatten order is sorted keys, so a comes first and sits on its bound.
	res, err := FirstDerivative(dot, params, Options{Bounds: bounds})
	if err != nil {
		t.Fatalf("FirstDerivative failed: %v", err)
	}
	if !res.OneSided[0] {
		t.Error("Coordinate a sits on its lower bound, should be one-sided")
	}
	grad := res.Derivative.(tree.Mapping)
	b := grad["b"].(tree.Vector)
	if math.Abs(b[0]-2) > 1e-4 || math.Abs(b[1]-4) > 1e-4 {
		t.Errorf("grad[b] = %v, want [2 4]", b)
	}
}

func TestBoundsFromTreesStructureMismatch(t *testing.T) {
	params := tree.Mapping{"a": tree.Scalar(0), "b": tree.Vector{1, 2}}
	_, spec, err := tree.Flatten(params)
	if err != nil {
		t.Fatalf("Flatten failed: %v", err)
	}

	tests := []struct {
		name         string
		lower, upper tree.Node
	}{
		{
			name:  "missing key",
			lower: tree.Mapping{"a": tree.Scalar(0)},
			upper: tree.Mapping{"a": tree.Scalar(5), "b": tree.Vector{5, 5}},
		},
		{
			name:  "wrong leaf shape",
			lower: tree.Mapping{"a": tree.Scalar(0), "b": tree.Vector{0, 0}},
			upper: tree.Mapping{"a": tree.Scalar(5), "b": tree.Vector{5, 5, 5}},
		},
		{
			name:  "wrong kind",
			lower: tree.Vector{0, 0, 0},
			upper: tree.Mapping{"a": tree.Scalar(5), "b": tree.Vector{5, 5}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := BoundsFromTrees(tt.lower, tt.upper, spec)
			var boundsErr *InvalidBoundsError
			if !errors.As(err, &boundsErr) {
				t.Fatalf("Expected InvalidBoundsError, got %v", err)
			}
		})
	}
}

func TestFirstDerivativeInfeasibleStep(t *testing.T) {
	bounds := &Bounds{Lower: []float64{1}, Upper: []float64{1}}

	_, err := FirstDerivative(dot, tree.Vector{1}, Options{Bounds: bounds})
	var stepErr *InfeasibleStepError
	if !errors.As(err, &stepErr) {
		t.Fatalf("Expected InfeasibleStepError, got %v", err)
	}
	if stepErr.Index != 0 {
		t.Errorf("Expected coordinate 0, got %d", stepErr.Index)
	}
}

func TestFirstDerivativeInvalidBounds(t *testing.T) {
	tests := []struct {
		name   string
		bounds *Bounds
	}{
		{name: "length mismatch", bounds: &Bounds{Lower: []float64{0}, Upper: []float64{1}}},
		{name: "lower above upper", bounds: &Bounds{Lower: []float64{2, 2}, Upper: []float64{1, 1}}},
		{name: "params outside", bounds: &Bounds{Lower: []float64{5, 5}, Upper: []float64{9, 9}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := FirstDerivative(dot, tree.Vector{1, 1}, Options{Bounds: tt.bounds})
			var boundsErr *InvalidBoundsError
			if !errors.As(err, &boundsErr) {
				t.Fatalf("Expected InvalidBoundsError, got %v", err)
			}
		})
	}
}

func TestFirstDerivativeEmptyParams(t *testing.T) {
	calls := 0
	fun := func(params tree.Node) (tree.Node, error) {
		calls++
		return tree.Scalar(0), nil
	}

	res, err := FirstDerivative(fun, tree.Vector{}, Options{})
	if err != nil {
		t.Fatalf("FirstDerivative failed: %v", err)
	}
	if calls != 0 {
		t.Errorf("Function called %d times for empty params, want 0", calls)
	}
	if res.NumEvals != 0 {
		t.Errorf("NumEvals = %d, want 0", res.NumEvals)
	}
	if got := res.Derivative.(tree.Vector); len(got) != 0 {
		t.Errorf("Expected empty derivative tree, got %v", got)
	}
}

func TestFirstDerivativeFunctionErrorPropagates(t *testing.T) {
	boom := errors.New("model blew up")
	fun := func(params tree.Node) (tree.Node, error) {
		v := params.(tree.Vector)
		if v[1] != 2 { // fails only on perturbed points
			return nil, boom
		}
		return dot(params)
	}

	_, err := FirstDerivative(fun, tree.Vector{1, 2}, Options{})
	if !errors.Is(err, boom) {
		t.Fatalf("Expected user error to propagate, got %v", err)
	}
}

func TestSecondDerivativeDotProduct(t *testing.T) {
	for _, method := range []Method{CentralCross, Forward} {
		tol := 1e-4
		if method == Forward {
			tol = 1e-2
		}
		for _, d := range []int{1, 5, 10} {
			x := linspaceVector(d)

			res, err := SecondDerivative(dot, x, Options{Method: method})
			if err != nil {
				t.Fatalf("method=%s d=%d: %v", method, d, err)
			}

			for i := 0; i < d; i++ {
				for j := 0; j < d; j++ {
					want := 0.0
					if i == j {
						want = 2
					}
					if got := res.Hessian.At(i, j); math.Abs(got-want) > tol {
						t.Errorf("method=%s d=%d: H[%d][%d] = %g, want %g", method, d, i, j, got, want)
					}
				}
			}
		}
	}
}

func TestSecondDerivativeMixedTerms(t *testing.T) {
	// f(x) = x0^2 * x1 has H[0][1] = 2*x0.
	fun := func(params tree.Node) (tree.Node, error) {
		v := params.(tree.Vector)
		return tree.Scalar(v[0] * v[0] * v[1]), nil
	}

	res, err := SecondDerivative(fun, tree.Vector{1.5, 2.0}, Options{})
	if err != nil {
		t.Fatalf("SecondDerivative failed: %v", err)
	}
	if got := res.Hessian.At(0, 1); math.Abs(got-3) > 1e-3 {
		t.Errorf("H[0][1] = %g, want 3", got)
	}
	if res.Hessian.At(0, 1) != res.Hessian.At(1, 0) {
		t.Error("Hessian must be symmetric")
	}
}

func TestSecondDerivativeBlocks(t *testing.T) {
	params := tree.Mapping{"a": tree.Vector{1, 2}, "b": tree.Scalar(3)}

	res, err := SecondDerivative(dot, params, Options{})
	if err != nil {
		t.Fatalf("SecondDerivative failed: %v", err)
	}
	if len(res.Blocks.Blocks) != 4 {
		t.Fatalf("Expected 4 blocks, got %d", len(res.Blocks.Blocks))
	}

	// The a x a block of 2I.
	blk := res.BlockAt(res.Blocks.Blocks[0])
	r, c := blk.Dims()
	if r != 2 || c != 2 {
		t.Fatalf("Block dims %dx%d, want 2x2", r, c)
	}
	if math.Abs(blk.At(0, 0)-2) > 1e-3 || math.Abs(blk.At(0, 1)) > 1e-3 {
		t.Errorf("Unexpected block values: %v", mat.Formatted(blk))
	}
}

func TestSecondDerivativeRejectsVectorOutput(t *testing.T) {
	fun := func(params tree.Node) (tree.Node, error) {
		return tree.Vector{1, 2}, nil
	}
	if _, err := SecondDerivative(fun, tree.Vector{1}, Options{}); err == nil {
		t.Fatal("Expected error for vector-valued function")
	}
}

func TestSecondDerivativeEvaluationBudget(t *testing.T) {
	d := 4
	res, err := SecondDerivative(dot, linspaceVector(d), Options{})
	if err != nil {
		t.Fatalf("SecondDerivative failed: %v", err)
	}
	// 1 base + 2d singles + 4 * d(d-1)/2 cross points, pairs deduplicated.
	want := 1 + 2*d + 4*d*(d-1)/2
	if res.NumEvals != want {
		t.Errorf("NumEvals = %d, want %d", res.NumEvals, want)
	}
}

func TestStoreEvals(t *testing.T) {
	res, err := FirstDerivative(dot, tree.Vector{1, 2}, Options{StoreEvals: true})
	if err != nil {
		t.Fatalf("FirstDerivative failed: %v", err)
	}
	if len(res.Evaluations) != res.NumEvals-1 {
		t.Errorf("Recorded %d evaluations, want %d", len(res.Evaluations), res.NumEvals-1)
	}
}
