package bootstrap

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/cwbudde/estikit/internal/tree"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// SEMethod selects the dispersion estimator used by SE.
type SEMethod string

const (
	// SEStandard is the sample standard deviation per leaf coordinate.
	SEStandard SEMethod = "standard"
	// SERobust is the interquartile range normalized to the standard
	// deviation of a normal distribution, insensitive to outlier draws.
	SERobust SEMethod = "robust"
)

// CIMethod selects the confidence interval construction.
type CIMethod string

const (
	// CIPercentile takes empirical quantiles of the outcome distribution.
	CIPercentile CIMethod = "percentile"
	// CIBiasCorrected shifts the quantile levels by the bias-correction
	// factor derived from the share of outcomes below the point estimate.
	CIBiasCorrected CIMethod = "bc"
	// CINormal uses the normal approximation around the point estimate with
	// the bootstrap standard error.
	CINormal CIMethod = "t"
)

// Result owns the outcome trees of a bootstrap run, the point estimate and
// the seeds of every generation segment. It is immutable; extension through
// Run appends to a copy and never reorders existing outcomes.
type Result struct {
	spec     *tree.Spec
	base     []float64
	outcomes [][]float64
	seeds    []int64
}

// NumDraws returns the number of outcomes held.
func (r *Result) NumDraws() int { return len(r.outcomes) }

// Seeds returns the seed of every generation segment, oldest first.
func (r *Result) Seeds() []int64 { return append([]int64(nil), r.seeds...) }

// Base returns the point estimate, the outcome on the original data.
func (r *Result) Base() (tree.Node, error) { return r.spec.Unflatten(r.base) }

// Outcome returns the i-th outcome tree.
func (r *Result) Outcome(i int) (tree.Node, error) {
	return r.spec.Unflatten(r.outcomes[i])
}

// Outcomes reconstructs all outcome trees in draw order.
func (r *Result) Outcomes() ([]tree.Node, error) {
	out := make([]tree.Node, len(r.outcomes))
	for i := range r.outcomes {
		n, err := r.spec.Unflatten(r.outcomes[i])
		if err != nil {
			return nil, err
		}
		out[i] = n
	}
	return out, nil
}

// column extracts coordinate j across all draws.
func (r *Result) column(j int) []float64 {
	col := make([]float64, len(r.outcomes))
	for i, o := range r.outcomes {
		col[i] = o[j]
	}
	return col
}

func sortedColumn(col []float64) []float64 {
	out := append([]float64(nil), col...)
	sort.Float64s(out)
	return out
}

// se computes the flat per-coordinate standard error.
func (r *Result) se(method SEMethod) ([]float64, error) {
	dim := r.spec.Dim()
	out := make([]float64, dim)
	// Half-width of the central normal interval covering 50% of mass.
	iqrNorm := 2 * distuv.UnitNormal.Quantile(0.75)

	for j := 0; j < dim; j++ {
		col := r.column(j)
		switch method {
		case SEStandard, "":
			out[j] = stat.StdDev(col, nil)
		case SERobust:
			sorted := sortedColumn(col)
			q1 := stat.Quantile(0.25, stat.LinInterp, sorted, nil)
			q3 := stat.Quantile(0.75, stat.LinInterp, sorted, nil)
			out[j] = (q3 - q1) / iqrNorm
		default:
			return nil, fmt.Errorf("unknown se method %q", method)
		}
	}
	return out, nil
}

// SE returns the leafwise standard error across draws, in outcome shape.
func (r *Result) SE(method SEMethod) (tree.Node, error) {
	flat, err := r.se(method)
	if err != nil {
		return nil, err
	}
	return r.spec.Unflatten(flat)
}

// CI returns leafwise lower and upper confidence bounds at the given level
// (e.g. 0.95), in outcome shape.
func (r *Result) CI(method CIMethod, level float64) (lower, upper tree.Node, err error) {
	if level <= 0 || level >= 1 {
		return nil, nil, fmt.Errorf("confidence level must be in (0, 1), got %g", level)
	}
	alpha := 1 - level
	dim := r.spec.Dim()
	lo := make([]float64, dim)
	up := make([]float64, dim)
	n := float64(len(r.outcomes))

	switch method {
	case CIPercentile, "":
		for j := 0; j < dim; j++ {
			sorted := sortedColumn(r.column(j))
			lo[j] = stat.Quantile(alpha/2, stat.LinInterp, sorted, nil)
			up[j] = stat.Quantile(1-alpha/2, stat.LinInterp, sorted, nil)
		}

	case CIBiasCorrected:
		norm := distuv.UnitNormal
		zAlpha := norm.Quantile(alpha / 2)
		for j := 0; j < dim; j++ {
			col := r.column(j)
			below := 0.0
			for _, v := range col {
				if v < r.base[j] {
					below++
				}
			}
			// Clamp so the correction factor stays finite at the edges.
			prop := (below + 0.5) / (n + 1)
			z0 := norm.Quantile(prop)

			sorted := sortedColumn(col)
			lo[j] = stat.Quantile(norm.CDF(2*z0+zAlpha), stat.LinInterp, sorted, nil)
			up[j] = stat.Quantile(norm.CDF(2*z0-zAlpha), stat.LinInterp, sorted, nil)
		}

	case CINormal:
		se, seErr := r.se(SEStandard)
		if seErr != nil {
			return nil, nil, seErr
		}
		z := distuv.UnitNormal.Quantile(1 - alpha/2)
		for j := 0; j < dim; j++ {
			lo[j] = r.base[j] - z*se[j]
			up[j] = r.base[j] + z*se[j]
		}

	default:
		return nil, nil, fmt.Errorf("unknown ci method %q", method)
	}

	lower, err = r.spec.Unflatten(lo)
	if err != nil {
		return nil, nil, err
	}
	upper, err = r.spec.Unflatten(up)
	if err != nil {
		return nil, nil, err
	}
	return lower, upper, nil
}

// Cov returns the full leaf-pairwise covariance matrix of the outcomes over
// flattened coordinates, plus the block structure mapping matrix regions
// back to leaf pairs.
func (r *Result) Cov() (*mat.SymDense, *tree.BlockSpec, error) {
	dim := r.spec.Dim()
	if dim == 0 {
		return nil, tree.OuterProduct(r.spec, r.spec), nil
	}

	x := mat.NewDense(len(r.outcomes), dim, nil)
	for i, o := range r.outcomes {
		x.SetRow(i, o)
	}
	cov := mat.NewSymDense(dim, nil)
	stat.CovarianceMatrix(cov, x, nil)
	return cov, tree.OuterProduct(r.spec, r.spec), nil
}

type resultJSON struct {
	Spec     *tree.Spec  `json:"spec"`
	Base     []float64   `json:"base"`
	Seeds    []int64     `json:"seeds"`
	Outcomes [][]float64 `json:"outcomes"`
}

// MarshalJSON serializes the result including its outcome structure.
func (r *Result) MarshalJSON() ([]byte, error) {
	return json.Marshal(resultJSON{
		Spec:     r.spec,
		Base:     r.base,
		Seeds:    r.seeds,
		Outcomes: r.outcomes,
	})
}

// UnmarshalJSON restores a result previously written by MarshalJSON.
func (r *Result) UnmarshalJSON(data []byte) error {
	var raw resultJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw.Spec == nil {
		return fmt.Errorf("result is missing its outcome spec")
	}
	dim := raw.Spec.Dim()
	if len(raw.Base) != dim {
		return &tree.ShapeError{Want: dim, Got: len(raw.Base)}
	}
	for _, o := range raw.Outcomes {
		if len(o) != dim {
			return &tree.ShapeError{Want: dim, Got: len(o)}
		}
	}
	r.spec = raw.Spec
	r.base = raw.Base
	r.seeds = raw.Seeds
	r.outcomes = raw.Outcomes
	return nil
}
