// Package bootstrap draws resamples of a tabular dataset, applies an
// outcome function to each and summarizes the tree-shaped outcomes with
// standard errors, confidence intervals and a covariance matrix. Draws can
// be clustered, extended incrementally and are reproducible per seed: all
// resample indices are generated sequentially from one generator before any
// parallel evaluation starts.
package bootstrap

import (
	"fmt"
	"math/rand"
	"sort"

	"github.com/cwbudde/estikit/internal/dataset"
	"github.com/cwbudde/estikit/internal/pool"
	"github.com/cwbudde/estikit/internal/tree"
)

// Outcome maps a (re)sampled dataset to a tree of statistics. The tree
// structure must be identical across draws. Errors abort the whole batch.
type Outcome func(data *dataset.Frame) (tree.Node, error)

// Options configures a bootstrap run.
type Options struct {
	// ClusterBy names a column whose values group correlated rows. Draws
	// then resample whole clusters instead of individual rows.
	ClusterBy string
	// Draws is the requested number of outcomes. Defaults to 1000.
	Draws int
	// Workers bounds the parallel outcome evaluations; <= 1 is synchronous.
	Workers int
	// Seed drives the resampling generator. When extending an existing
	// result the caller must supply a seed different from the ones already
	// used; seed collisions are not detected.
	Seed int64
	// Existing enables reuse: more draws than it holds are computed as a
	// delta and appended, fewer are served as a random subset.
	Existing *Result
}

// Run executes a bootstrap. The outcome is first evaluated on the original
// data to obtain the point estimate, then once per draw on each resample.
func Run(data *dataset.Frame, outcome Outcome, opts Options) (*Result, error) {
	draws := opts.Draws
	if draws <= 0 {
		draws = 1000
	}

	if opts.Existing != nil {
		return reuse(data, outcome, opts, draws)
	}
	return fresh(data, outcome, opts, draws)
}

func fresh(data *dataset.Frame, outcome Outcome, opts Options, draws int) (*Result, error) {
	baseTree, err := outcome(data)
	if err != nil {
		return nil, err
	}
	base, spec, err := tree.Flatten(baseTree)
	if err != nil {
		return nil, err
	}

	outcomes, err := runDraws(data, outcome, spec, opts, draws)
	if err != nil {
		return nil, err
	}

	return &Result{
		spec:     spec,
		base:     base,
		outcomes: outcomes,
		seeds:    []int64{opts.Seed},
	}, nil
}

func reuse(data *dataset.Frame, outcome Outcome, opts Options, draws int) (*Result, error) {
	existing := opts.Existing
	nExisting := len(existing.outcomes)

	if draws <= nExisting {
		return existing.subset(draws, opts.Seed), nil
	}

	delta, err := runDraws(data, outcome, existing.spec, opts, draws-nExisting)
	if err != nil {
		return nil, err
	}

	// Existing outcomes keep their position; new ones are appended so every
	// prior seed segment stays reproducible.
	combined := make([][]float64, 0, draws)
	combined = append(combined, existing.outcomes...)
	combined = append(combined, delta...)

	return &Result{
		spec:     existing.spec,
		base:     existing.base,
		outcomes: combined,
		seeds:    append(append([]int64(nil), existing.seeds...), opts.Seed),
	}, nil
}

// runDraws precomputes all resample index sets sequentially, then evaluates
// the outcome on each resample in parallel. Result order is fixed by draw
// index regardless of worker count.
func runDraws(data *dataset.Frame, outcome Outcome, spec *tree.Spec, opts Options, draws int) ([][]float64, error) {
	rng := rand.New(rand.NewSource(opts.Seed))
	samples, err := sampleIndices(data, opts.ClusterBy, draws, rng)
	if err != nil {
		return nil, err
	}

	outcomes := make([][]float64, draws)
	err = pool.Map(opts.Workers, draws, func(i int) error {
		out, err := outcome(data.Take(samples[i]))
		if err != nil {
			return fmt.Errorf("draw %d: %w", i, err)
		}
		vec, outSpec, err := tree.Flatten(out)
		if err != nil {
			return fmt.Errorf("draw %d: %w", i, err)
		}
		if !outSpec.Equal(spec) {
			return fmt.Errorf("draw %d: %w", i,
				&tree.StructureError{Reason: "outcome structure differs from point estimate"})
		}
		outcomes[i] = vec
		return nil
	})
	if err != nil {
		return nil, err
	}
	return outcomes, nil
}

// sampleIndices draws row-index multisets, one per draw. Without clustering
// each draw samples len(data) rows with replacement. With clustering each
// draw samples as many cluster labels as there are distinct clusters, with
// replacement, and includes every row of each sampled cluster.
func sampleIndices(data *dataset.Frame, clusterBy string, draws int, rng *rand.Rand) ([][]int, error) {
	n := data.Len()

	if clusterBy == "" {
		samples := make([][]int, draws)
		for d := range samples {
			idx := make([]int, n)
			for i := range idx {
				idx[i] = rng.Intn(n)
			}
			samples[d] = idx
		}
		return samples, nil
	}

	labels, groups, err := data.GroupBy(clusterBy)
	if err != nil {
		return nil, err
	}

	samples := make([][]int, draws)
	for d := range samples {
		idx := make([]int, 0, n)
		for range labels {
			label := labels[rng.Intn(len(labels))]
			idx = append(idx, groups[label]...)
		}
		samples[d] = idx
	}
	return samples, nil
}

// subset returns a uniformly random selection of size draws from the
// existing outcomes, preserving their relative order. No recomputation.
func (r *Result) subset(draws int, seed int64) *Result {
	rng := rand.New(rand.NewSource(seed))
	picked := rng.Perm(len(r.outcomes))[:draws]
	sort.Ints(picked)

	outcomes := make([][]float64, draws)
	for i, j := range picked {
		outcomes[i] = r.outcomes[j]
	}
	return &Result{
		spec:     r.spec,
		base:     r.base,
		outcomes: outcomes,
		seeds:    append([]int64(nil), r.seeds...),
	}
}
