package numdiff

import (
	"fmt"
	"math"

	"github.com/cwbudde/estikit/internal/tree"
	"gonum.org/v1/gonum/mat"
)

// FirstDerivative approximates the first derivative of fun at params. For
// scalar-valued functions the result carries the gradient reshaped into the
// params tree; vector-valued functions yield the Jacobian in flattened
// coordinates. Coordinates whose central step would cross a bound switch to
// a one-sided stencil automatically.
func FirstDerivative(fun Func, params tree.Node, opts Options) (*Result, error) {
	method := opts.Method
	if method == "" {
		method = Central
	}
	if method != Central && method != Forward && method != Backward {
		return nil, fmt.Errorf("unknown first-derivative method %q", method)
	}

	x, spec, err := tree.Flatten(params)
	if err != nil {
		return nil, err
	}
	d := len(x)

	// Empty params: nothing to differentiate, fun is never called.
	if d == 0 {
		empty, err := spec.Unflatten(nil)
		if err != nil {
			return nil, err
		}
		return &Result{Derivative: empty}, nil
	}

	if err := opts.Bounds.validate(x); err != nil {
		return nil, err
	}

	ev := &evaluator{fun: fun, spec: spec}
	f0tree, err := fun(params)
	if err != nil {
		return nil, err
	}
	f0, outSpec, err := tree.Flatten(f0tree)
	if err != nil {
		return nil, err
	}
	ev.outSpec = outSpec
	m := len(f0)

	h := stepSizes(x, baseEps(method), opts)
	oneSided, err := adjustFirstSteps(x, h, method, opts.Bounds)
	if err != nil {
		return nil, err
	}

	// Build the evaluation points: two per coordinate for central stencils,
	// one for one-sided ones. pointIdx maps coordinate to its first point.
	points := make([][]float64, 0, 2*d)
	pointIdx := make([]int, d)
	for i := 0; i < d; i++ {
		pointIdx[i] = len(points)
		if method == Central && !oneSided[i] {
			points = append(points, perturb(x, i, h[i]), perturb(x, i, -h[i]))
		} else {
			points = append(points, perturb(x, i, h[i]))
		}
	}

	values, err := ev.runPoints(points, opts.Workers)
	if err != nil {
		return nil, err
	}

	jac := mat.NewDense(m, d, nil)
	for i := 0; i < d; i++ {
		if method == Central && !oneSided[i] {
			plus, minus := values[pointIdx[i]], values[pointIdx[i]+1]
			inv := 1 / (2 * h[i])
			for j := 0; j < m; j++ {
				jac.Set(j, i, (plus[j]-minus[j])*inv)
			}
		} else {
			fh := values[pointIdx[i]]
			inv := 1 / h[i]
			for j := 0; j < m; j++ {
				jac.Set(j, i, (fh[j]-f0[j])*inv)
			}
		}
	}

	res := &Result{
		Jacobian:  jac,
		FuncValue: f0tree,
		Steps:     h,
		OneSided:  oneSided,
		NumEvals:  1 + len(points),
	}
	if m == 1 {
		grad := make([]float64, d)
		mat.Row(grad, 0, jac)
		res.Derivative, err = spec.Unflatten(grad)
		if err != nil {
			return nil, err
		}
	}
	if opts.StoreEvals {
		res.Evaluations = recordEvals(points, values)
	}
	return res, nil
}

// adjustFirstSteps clips steps to the bounds. Central coordinates that
// cannot step on both sides are switched to a one-sided stencil toward the
// larger gap; one-sided methods flip direction or shrink when blocked.
// Every bound-altered coordinate is flagged in the returned slice. A
// coordinate with zero room on both sides is infeasible.
func adjustFirstSteps(x, h []float64, method Method, b *Bounds) ([]bool, error) {
	oneSided := make([]bool, len(x))

	if method == Backward {
		for i := range h {
			h[i] = -math.Abs(h[i])
		}
	}
	if b.unbounded() {
		return oneSided, nil
	}

	for i := range x {
		lo, up := b.at(i)
		ld, ud := x[i]-lo, up-x[i]
		step := math.Abs(h[i])

		if method == Central {
			if ld >= step && ud >= step {
				h[i] = step
				continue
			}
			oneSided[i] = true
			room := math.Max(ld, ud)
			if room <= 0 {
				return nil, &InfeasibleStepError{Index: i, X: x[i], Lower: lo, Upper: up}
			}
			if ud >= ld {
				h[i] = math.Min(step, ud)
			} else {
				h[i] = -math.Min(step, ld)
			}
			continue
		}

		// Forward and backward: keep the requested direction when there is
		// room, otherwise flip, otherwise shrink into the larger gap.
		fwd := h[i] > 0
		ahead, behind := ud, ld
		if !fwd {
			ahead, behind = ld, ud
		}
		switch {
		case ahead >= step:
			// Fits as requested.
		case behind >= step:
			h[i] = -h[i]
			oneSided[i] = true
		default:
			room := math.Max(ld, ud)
			if room <= 0 {
				return nil, &InfeasibleStepError{Index: i, X: x[i], Lower: lo, Upper: up}
			}
			if ud >= ld {
				h[i] = room
			} else {
				h[i] = -room
			}
			oneSided[i] = true
		}
	}
	return oneSided, nil
}

// perturb returns a copy of x with coordinate i shifted by step.
func perturb(x []float64, i int, step float64) []float64 {
	out := make([]float64, len(x))
	copy(out, x)
	out[i] += step
	return out
}

func recordEvals(points, values [][]float64) []Evaluation {
	out := make([]Evaluation, len(points))
	for i := range points {
		out[i] = Evaluation{X: points[i], Y: values[i]}
	}
	return out
}
