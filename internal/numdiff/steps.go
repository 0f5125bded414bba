package numdiff

import "math"

// Machine-epsilon based step constants, one exponent per stencil order.
// h = copysign(eps, x) * max(1, |x|) balances truncation against rounding
// error for the respective stencil; same family as the scipy heuristic.
var (
	machEps    = math.Nextafter(1, 2) - 1
	epsForward = math.Sqrt(machEps)             // one-sided first derivative
	epsCentral = math.Cbrt(machEps)             // central first derivative
	epsHessFwd = math.Cbrt(machEps)             // one-sided second derivative
	epsHessCtr = math.Pow(machEps, 1.0/4.0)     // central-cross second derivative
)

// baseEps returns the default relative step for a first-derivative method.
func baseEps(method Method) float64 {
	if method == Central {
		return epsCentral
	}
	return epsForward
}

// stepSizes computes per-coordinate signed steps. AbsStep, if set, is used
// verbatim; RelStep scales with |x|; otherwise the eps heuristic applies.
// A step that vanishes in floating point falls back to the heuristic.
func stepSizes(x []float64, eps float64, opts Options) []float64 {
	h := make([]float64, len(x))
	for i, v := range x {
		var s float64
		switch {
		case opts.AbsStep != 0:
			s = opts.AbsStep
		case opts.RelStep != 0:
			s = math.Copysign(opts.RelStep, v) * math.Max(1, math.Abs(v))
		default:
			s = math.Copysign(eps, v) * math.Max(1, math.Abs(v))
		}
		// Guard against steps that round away entirely.
		if (v+s)-v == 0 {
			s = math.Copysign(eps, v) * math.Max(1, math.Abs(v))
		}
		h[i] = s
	}
	return h
}
