package main

import (
	"fmt"
	"log/slog"
	"math"
	"os"
	"text/tabwriter"
	"time"

	"github.com/cwbudde/estikit/internal/bootstrap"
	"github.com/cwbudde/estikit/internal/dataset"
	"github.com/cwbudde/estikit/internal/numdiff"
	"github.com/cwbudde/estikit/internal/opt"
	"github.com/cwbudde/estikit/internal/store"
	"github.com/cwbudde/estikit/internal/tree"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/mat"
)

var (
	fitDataPath string
	fitXCol     string
	fitYCol     string
	fitModel    string
	fitBound    float64
	fitIters    int
	fitPop      int
	fitSeed     int64
	fitDraws    int
	fitWorkers  int
	fitLevel    float64
	fitDataDir  string
)

var fitCmd = &cobra.Command{
	Use:   "fit",
	Short: "Fit a model to CSV data and quantify uncertainty",
	Long: `Fits a least-squares model to two columns of a CSV file with a
derivative-free solver, then reports two kinds of standard errors: one from
the curvature of the objective (finite-difference Hessian) and one from
bootstrap resampling of the rows.`,
	RunE: runFit,
}

func init() {
	fitCmd.Flags().StringVar(&fitDataPath, "data", "", "CSV data file (required)")
	fitCmd.Flags().StringVar(&fitXCol, "x", "x", "Predictor column")
	fitCmd.Flags().StringVar(&fitYCol, "y", "y", "Response column")
	fitCmd.Flags().StringVar(&fitModel, "model", "linear", "Model: linear, exp")
	fitCmd.Flags().Float64Var(&fitBound, "bound", 10, "Parameter search box half-width")
	fitCmd.Flags().IntVar(&fitIters, "iters", 100, "Max solver iterations")
	fitCmd.Flags().IntVar(&fitPop, "pop", 30, "Solver population size")
	fitCmd.Flags().Int64Var(&fitSeed, "seed", 42, "Random seed")
	fitCmd.Flags().IntVar(&fitDraws, "draws", 200, "Bootstrap draws")
	fitCmd.Flags().IntVar(&fitWorkers, "workers", 4, "Parallel workers")
	fitCmd.Flags().Float64Var(&fitLevel, "level", 0.95, "Confidence level")
	fitCmd.Flags().StringVar(&fitDataDir, "data-dir", "", "Persist the bootstrap result under this directory")

	fitCmd.MarkFlagRequired("data")
	rootCmd.AddCommand(fitCmd)
}

// model is a parametric curve. Parameter names are kept sorted so their
// order matches the flattened order of the parameter mapping.
type model struct {
	names   []string
	predict func(p []float64, x float64) float64
}

var models = map[string]model{
	"linear": {
		names: []string{"intercept", "slope"},
		predict: func(p []float64, x float64) float64 {
			return p[0] + p[1]*x
		},
	},
	"exp": {
		names: []string{"rate", "scale"},
		predict: func(p []float64, x float64) float64 {
			return p[1] * math.Exp(p[0]*x)
		},
	},
}

func (m model) node(p []float64) tree.Node {
	out := make(tree.Mapping, len(m.names))
	for i, name := range m.names {
		out[name] = tree.Scalar(p[i])
	}
	return out
}

func (m model) ssr(xs, ys []float64) func(p []float64) float64 {
	return func(p []float64) float64 {
		var sum float64
		for i := range xs {
			r := ys[i] - m.predict(p, xs[i])
			sum += r * r
		}
		return sum
	}
}

func runFit(cmd *cobra.Command, args []string) error {
	m, ok := models[fitModel]
	if !ok {
		return fmt.Errorf("unknown model: %s", fitModel)
	}

	frame, err := dataset.LoadCSV(fitDataPath)
	if err != nil {
		return fmt.Errorf("failed to load data: %w", err)
	}
	xs, err := frame.Float(fitXCol)
	if err != nil {
		return err
	}
	ys, err := frame.Float(fitYCol)
	if err != nil {
		return err
	}

	slog.Info("Starting fit", "model", fitModel, "rows", frame.Len(), "iters", fitIters)

	k := len(m.names)
	lower := make([]float64, k)
	upper := make([]float64, k)
	for i := range lower {
		lower[i] = -fitBound
		upper[i] = fitBound
	}

	start := time.Now()
	optimizer := opt.NewMayfly(fitIters, fitPop, fitSeed)
	best, cost := optimizer.Run(m.ssr(xs, ys), lower, upper, k)
	slog.Info("Fit complete", "elapsed", time.Since(start), "cost", cost)

	params := m.node(best)
	objective := m.ssr(xs, ys)

	// The optimum may sit on the edge of the search box, so the Hessian
	// stencil is bounded by the same box the solver searched.
	_, paramSpec, err := tree.Flatten(params)
	if err != nil {
		return err
	}
	hessBounds, err := numdiff.BoundsFromTrees(m.node(lower), m.node(upper), paramSpec)
	if err != nil {
		return fmt.Errorf("failed to build bounds: %w", err)
	}

	// Curvature of the objective at the optimum. The inverse Hessian scaled
	// by the residual variance gives the classical least-squares covariance.
	hess, err := numdiff.SecondDerivative(func(n tree.Node) (tree.Node, error) {
		vec, _, err := tree.Flatten(n)
		if err != nil {
			return nil, err
		}
		return tree.Scalar(objective(vec)), nil
	}, params, numdiff.Options{Workers: fitWorkers, Bounds: hessBounds})
	if err != nil {
		return fmt.Errorf("failed to compute Hessian: %w", err)
	}

	curvSE := hessianSE(hess.Hessian, cost, frame.Len(), k)

	slog.Info("Starting bootstrap", "draws", fitDraws, "workers", fitWorkers)
	outcome := func(d *dataset.Frame) (tree.Node, error) {
		bx, err := d.Float(fitXCol)
		if err != nil {
			return nil, err
		}
		by, err := d.Float(fitYCol)
		if err != nil {
			return nil, err
		}
		refit := opt.NewMayfly(fitIters, fitPop, fitSeed)
		p, _ := refit.Run(m.ssr(bx, by), lower, upper, k)
		return m.node(p), nil
	}

	result, err := bootstrap.Run(frame, outcome, bootstrap.Options{
		Draws:   fitDraws,
		Seed:    fitSeed,
		Workers: fitWorkers,
	})
	if err != nil {
		return fmt.Errorf("bootstrap failed: %w", err)
	}

	bootSE, err := result.SE(bootstrap.SEStandard)
	if err != nil {
		return err
	}
	ciLo, ciUp, err := result.CI(bootstrap.CIPercentile, fitLevel)
	if err != nil {
		return err
	}

	seVec, _, err := tree.Flatten(bootSE)
	if err != nil {
		return err
	}
	loVec, _, err := tree.Flatten(ciLo)
	if err != nil {
		return err
	}
	upVec, _, err := tree.Flatten(ciUp)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PARAMETER\tESTIMATE\tCURV SE\tBOOT SE\tCI LOWER\tCI UPPER")
	for i, name := range m.names {
		curv := "n/a"
		if curvSE != nil {
			curv = fmt.Sprintf("%.6g", curvSE[i])
		}
		fmt.Fprintf(w, "%s\t%.6g\t%s\t%.6g\t%.6g\t%.6g\n",
			name, best[i], curv, seVec[i], loVec[i], upVec[i])
	}
	w.Flush()
	fmt.Printf("\nResidual sum of squares: %.6g (%d evaluations for the Hessian)\n", cost, hess.NumEvals)

	if fitDataDir != "" {
		id := uuid.NewString()
		resultStore, err := store.NewFSStore(fitDataDir)
		if err != nil {
			return fmt.Errorf("failed to create result store: %w", err)
		}
		now := time.Now().UTC()
		record := &store.Record{
			ID:          id,
			DataPath:    fitDataPath,
			OutcomeName: "fit-" + fitModel,
			CreatedAt:   now,
			UpdatedAt:   now,
			Result:      result,
		}
		if err := resultStore.Save(id, record); err != nil {
			return fmt.Errorf("failed to save result: %w", err)
		}
		fmt.Printf("Saved bootstrap result %s\n", id)
	}

	return nil
}

// hessianSE turns the objective Hessian into least-squares standard errors,
// sqrt of the diagonal of 2*sigma^2*H^-1. Returns nil when the Hessian is
// not positive definite or there are no residual degrees of freedom.
func hessianSE(hessian *mat.SymDense, rss float64, n, k int) []float64 {
	dof := n - k
	if dof <= 0 {
		slog.Warn("No residual degrees of freedom", "rows", n, "params", k)
		return nil
	}
	sigma2 := rss / float64(dof)

	var chol mat.Cholesky
	if !chol.Factorize(hessian) {
		slog.Warn("Hessian is not positive definite, skipping curvature standard errors")
		return nil
	}
	var inv mat.SymDense
	if err := chol.InverseTo(&inv); err != nil {
		slog.Warn("Failed to invert Hessian", "error", err)
		return nil
	}

	out := make([]float64, k)
	for i := range out {
		out[i] = math.Sqrt(2 * sigma2 * inv.At(i, i))
	}
	return out
}
