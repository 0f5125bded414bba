package numdiff

import (
	"fmt"
	"math"

	"github.com/cwbudde/estikit/internal/tree"
	"gonum.org/v1/gonum/mat"
)

// SecondDerivative approximates the Hessian of a scalar-valued fun at
// params. The default central_cross method uses a 3-point stencil on the
// diagonal and the symmetric 4-point cross stencil for mixed entries; the
// forward method trades accuracy for roughly half the evaluations. Each
// unordered coordinate pair is evaluated once and mirrored.
func SecondDerivative(fun Func, params tree.Node, opts Options) (*Result, error) {
	method := opts.Method
	if method == "" {
		method = CentralCross
	}
	if method != CentralCross && method != Forward {
		return nil, fmt.Errorf("unknown second-derivative method %q", method)
	}

	x, spec, err := tree.Flatten(params)
	if err != nil {
		return nil, err
	}
	d := len(x)

	if d == 0 {
		empty, err := spec.Unflatten(nil)
		if err != nil {
			return nil, err
		}
		return &Result{Derivative: empty, Blocks: tree.OuterProduct(spec, spec)}, nil
	}

	if err := opts.Bounds.validate(x); err != nil {
		return nil, err
	}

	ev := &evaluator{fun: fun, spec: spec}
	f0tree, err := fun(params)
	if err != nil {
		return nil, err
	}
	f0vec, outSpec, err := tree.Flatten(f0tree)
	if err != nil {
		return nil, err
	}
	if len(f0vec) != 1 {
		return nil, fmt.Errorf("second derivative requires a scalar-valued function, output has dimension %d", len(f0vec))
	}
	ev.outSpec = outSpec
	f0 := f0vec[0]

	eps := epsHessCtr
	if method == Forward {
		eps = epsHessFwd
	}
	h := stepSizes(x, eps, opts)
	if err := adjustSecondSteps(x, h, method, opts.Bounds); err != nil {
		return nil, err
	}

	// Single-coordinate points first, then one point (forward) or four
	// points (central cross) per unordered pair i<j.
	var points [][]float64
	singleIdx := make([]int, d)
	for i := 0; i < d; i++ {
		singleIdx[i] = len(points)
		if method == CentralCross {
			points = append(points, perturb(x, i, h[i]), perturb(x, i, -h[i]))
		} else {
			points = append(points, perturb(x, i, h[i]), perturb(x, i, 2*h[i]))
		}
	}
	pairIdx := make(map[[2]int]int, d*(d-1)/2)
	for i := 0; i < d; i++ {
		for j := i + 1; j < d; j++ {
			pairIdx[[2]int{i, j}] = len(points)
			if method == CentralCross {
				points = append(points,
					perturb2(x, i, h[i], j, h[j]),
					perturb2(x, i, h[i], j, -h[j]),
					perturb2(x, i, -h[i], j, h[j]),
					perturb2(x, i, -h[i], j, -h[j]),
				)
			} else {
				points = append(points, perturb2(x, i, h[i], j, h[j]))
			}
		}
	}

	values, err := ev.runPoints(points, opts.Workers)
	if err != nil {
		return nil, err
	}
	at := func(idx int) float64 { return values[idx][0] }

	hess := mat.NewSymDense(d, nil)
	for i := 0; i < d; i++ {
		si := singleIdx[i]
		if method == CentralCross {
			// (f(x+h) - 2 f0 + f(x-h)) / h^2
			hess.SetSym(i, i, (at(si)-2*f0+at(si+1))/(h[i]*h[i]))
		} else {
			// (f(x+2h) - 2 f(x+h) + f0) / h^2
			hess.SetSym(i, i, (at(si+1)-2*at(si)+f0)/(h[i]*h[i]))
		}
	}
	for i := 0; i < d; i++ {
		for j := i + 1; j < d; j++ {
			pi := pairIdx[[2]int{i, j}]
			var v float64
			if method == CentralCross {
				v = (at(pi) - at(pi+1) - at(pi+2) + at(pi+3)) / (4 * h[i] * h[j])
			} else {
				fi, fj := at(singleIdx[i]), at(singleIdx[j])
				v = (at(pi) - fi - fj + f0) / (h[i] * h[j])
			}
			hess.SetSym(i, j, v)
		}
	}

	res := &Result{
		Hessian:   hess,
		Blocks:    tree.OuterProduct(spec, spec),
		FuncValue: f0tree,
		Steps:     h,
		OneSided:  make([]bool, d),
		NumEvals:  1 + len(points),
	}
	if opts.StoreEvals {
		res.Evaluations = recordEvals(points, values)
	}
	return res, nil
}

// adjustSecondSteps shrinks steps so every stencil point stays inside the
// bounds. Central cross needs room on both sides; forward needs 2h of room
// in one direction and flips when only the other side has it.
func adjustSecondSteps(x, h []float64, method Method, b *Bounds) error {
	for i := range h {
		h[i] = math.Abs(h[i])
	}
	if b.unbounded() {
		return nil
	}

	for i := range x {
		lo, up := b.at(i)
		ld, ud := x[i]-lo, up-x[i]

		if method == CentralCross {
			room := math.Min(ld, ud)
			if room <= 0 {
				return &InfeasibleStepError{Index: i, X: x[i], Lower: lo, Upper: up}
			}
			h[i] = math.Min(h[i], room)
			continue
		}

		switch {
		case ud >= 2*h[i]:
			// Fits forward.
		case ld >= 2*h[i]:
			h[i] = -h[i]
		default:
			room := math.Max(ld, ud)
			if room <= 0 {
				return &InfeasibleStepError{Index: i, X: x[i], Lower: lo, Upper: up}
			}
			if ud >= ld {
				h[i] = room / 2
			} else {
				h[i] = -room / 2
			}
		}
	}
	return nil
}

// perturb2 returns a copy of x with coordinates i and j shifted.
func perturb2(x []float64, i int, si float64, j int, sj float64) []float64 {
	out := make([]float64, len(x))
	copy(out, x)
	out[i] += si
	out[j] += sj
	return out
}
