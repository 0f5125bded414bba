package main

import (
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/cwbudde/estikit/internal/bootstrap"
	"github.com/cwbudde/estikit/internal/dataset"
	"github.com/cwbudde/estikit/internal/store"
	"github.com/cwbudde/estikit/internal/tree"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/stat"
)

const columnMeansOutcome = "column-means"

var (
	bootDataDir   string
	bootDataPath  string
	bootClusterBy string
	bootDraws     int
	bootSeed      int64
	bootWorkers   int
	bootLevel     float64
	bootCIMethod  string
	bootSEMethod  string
)

var bootstrapCmd = &cobra.Command{
	Use:   "bootstrap",
	Short: "Manage bootstrap resampling runs",
	Long: `Run bootstrap resampling over a CSV file and manage the stored results.
Stored results can be listed, extended with additional draws under a fresh
seed, and deleted.`,
}

var bootstrapRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Bootstrap the column means of a CSV file",
	Long: `Resamples the rows of a CSV file with replacement and recomputes the
mean of every numeric column on each draw. With --cluster-by, whole clusters
of rows are resampled instead of individual rows. The result is persisted so
it can be extended later.`,
	RunE: runBootstrap,
}

var bootstrapListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored bootstrap results",
	RunE:  runListBootstrap,
}

var bootstrapExtendCmd = &cobra.Command{
	Use:   "extend [id]",
	Short: "Extend a stored result to a new number of draws",
	Long: `Loads a stored result and brings it to --draws outcomes. More draws than
stored are computed under the new --seed and appended; existing outcomes keep
their position. Fewer draws select a random subset without recomputation.`,
	Args: cobra.ExactArgs(1),
	RunE: runExtendBootstrap,
}

var bootstrapDeleteCmd = &cobra.Command{
	Use:   "delete [id]",
	Short: "Delete a stored bootstrap result",
	Args:  cobra.ExactArgs(1),
	RunE:  runDeleteBootstrap,
}

func init() {
	rootCmd.AddCommand(bootstrapCmd)
	bootstrapCmd.AddCommand(bootstrapRunCmd)
	bootstrapCmd.AddCommand(bootstrapListCmd)
	bootstrapCmd.AddCommand(bootstrapExtendCmd)
	bootstrapCmd.AddCommand(bootstrapDeleteCmd)

	bootstrapCmd.PersistentFlags().StringVar(&bootDataDir, "data-dir", "./data", "Base directory for result storage")

	bootstrapRunCmd.Flags().StringVar(&bootDataPath, "data", "", "CSV data file (required)")
	bootstrapRunCmd.Flags().StringVar(&bootClusterBy, "cluster-by", "", "Resample whole clusters keyed by this column")
	bootstrapRunCmd.Flags().IntVar(&bootDraws, "draws", 1000, "Number of bootstrap draws")
	bootstrapRunCmd.Flags().Int64Var(&bootSeed, "seed", 42, "Random seed")
	bootstrapRunCmd.Flags().IntVar(&bootWorkers, "workers", 4, "Parallel workers")
	bootstrapRunCmd.Flags().Float64Var(&bootLevel, "level", 0.95, "Confidence level")
	bootstrapRunCmd.Flags().StringVar(&bootCIMethod, "ci", "percentile", "Interval method: percentile, bc, t")
	bootstrapRunCmd.Flags().StringVar(&bootSEMethod, "se", "standard", "Standard error method: standard, robust")
	bootstrapRunCmd.MarkFlagRequired("data")

	bootstrapExtendCmd.Flags().IntVar(&bootDraws, "draws", 2000, "Target number of draws")
	bootstrapExtendCmd.Flags().Int64Var(&bootSeed, "seed", 0, "Seed for the new draws (required)")
	bootstrapExtendCmd.Flags().IntVar(&bootWorkers, "workers", 4, "Parallel workers")
	bootstrapExtendCmd.MarkFlagRequired("seed")
}

// columnMeans builds the outcome that maps a resample to the mean of each
// listed column. The column set is fixed up front so every draw produces the
// same tree structure.
func columnMeans(cols []string) bootstrap.Outcome {
	return func(d *dataset.Frame) (tree.Node, error) {
		out := make(tree.Mapping, len(cols))
		for _, name := range cols {
			vals, err := d.Float(name)
			if err != nil {
				return nil, err
			}
			out[name] = tree.Scalar(stat.Mean(vals, nil))
		}
		return out, nil
	}
}

// numericColumns returns the names of all numeric columns except the cluster
// column, whose values are labels rather than measurements.
func numericColumns(f *dataset.Frame, exclude string) []string {
	var cols []string
	for _, name := range f.Names() {
		if name == exclude {
			continue
		}
		if _, err := f.Float(name); err == nil {
			cols = append(cols, name)
		}
	}
	return cols
}

func runBootstrap(cmd *cobra.Command, args []string) error {
	frame, err := dataset.LoadCSV(bootDataPath)
	if err != nil {
		return fmt.Errorf("failed to load data: %w", err)
	}

	cols := numericColumns(frame, bootClusterBy)
	if len(cols) == 0 {
		return fmt.Errorf("no numeric columns in %s", bootDataPath)
	}

	slog.Info("Starting bootstrap",
		"rows", frame.Len(), "columns", len(cols), "draws", bootDraws,
		"cluster_by", bootClusterBy, "workers", bootWorkers)

	start := time.Now()
	result, err := bootstrap.Run(frame, columnMeans(cols), bootstrap.Options{
		ClusterBy: bootClusterBy,
		Draws:     bootDraws,
		Seed:      bootSeed,
		Workers:   bootWorkers,
	})
	if err != nil {
		return fmt.Errorf("bootstrap failed: %w", err)
	}
	slog.Info("Bootstrap complete", "elapsed", time.Since(start), "draws", result.NumDraws())

	resultStore, err := store.NewFSStore(bootDataDir)
	if err != nil {
		return fmt.Errorf("failed to create result store: %w", err)
	}
	id := uuid.NewString()
	now := time.Now().UTC()
	record := &store.Record{
		ID:          id,
		DataPath:    bootDataPath,
		OutcomeName: columnMeansOutcome,
		ClusterBy:   bootClusterBy,
		CreatedAt:   now,
		UpdatedAt:   now,
		Result:      result,
	}
	if err := resultStore.Save(id, record); err != nil {
		return fmt.Errorf("failed to save result: %w", err)
	}

	fmt.Printf("Result %s (%d draws)\n\n", id, result.NumDraws())
	return printSummary(result, bootstrap.SEMethod(bootSEMethod), bootstrap.CIMethod(bootCIMethod), bootLevel)
}

func runListBootstrap(cmd *cobra.Command, args []string) error {
	resultStore, err := store.NewFSStore(bootDataDir)
	if err != nil {
		return fmt.Errorf("failed to create result store: %w", err)
	}

	infos, err := resultStore.List()
	if err != nil {
		return fmt.Errorf("failed to list results: %w", err)
	}
	if len(infos) == 0 {
		fmt.Println("No stored results.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tOUTCOME\tDRAWS\tCLUSTER\tUPDATED\tDATA")
	for _, info := range infos {
		cluster := info.ClusterBy
		if cluster == "" {
			cluster = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%s\n",
			info.ID, info.OutcomeName, info.Draws, cluster,
			info.UpdatedAt.Format("2006-01-02 15:04:05"), info.DataPath)
	}
	w.Flush()

	fmt.Printf("\nTotal results: %d\n", len(infos))
	return nil
}

func runExtendBootstrap(cmd *cobra.Command, args []string) error {
	id := args[0]

	resultStore, err := store.NewFSStore(bootDataDir)
	if err != nil {
		return fmt.Errorf("failed to create result store: %w", err)
	}
	record, err := resultStore.Load(id)
	if err != nil {
		return fmt.Errorf("failed to load result %s: %w", id, err)
	}
	if record.OutcomeName != columnMeansOutcome {
		return fmt.Errorf("result %s has outcome %q, only %q can be extended",
			id, record.OutcomeName, columnMeansOutcome)
	}
	for _, used := range record.Result.Seeds() {
		if used == bootSeed {
			return fmt.Errorf("seed %d was already used by result %s, pick a fresh one", bootSeed, id)
		}
	}

	frame, err := dataset.LoadCSV(record.DataPath)
	if err != nil {
		return fmt.Errorf("failed to reload data: %w", err)
	}
	cols := numericColumns(frame, record.ClusterBy)

	slog.Info("Extending bootstrap", "id", id,
		"from", record.Result.NumDraws(), "to", bootDraws, "seed", bootSeed)

	result, err := bootstrap.Run(frame, columnMeans(cols), bootstrap.Options{
		ClusterBy: record.ClusterBy,
		Draws:     bootDraws,
		Seed:      bootSeed,
		Workers:   bootWorkers,
		Existing:  record.Result,
	})
	if err != nil {
		return fmt.Errorf("bootstrap failed: %w", err)
	}

	record.Result = result
	record.UpdatedAt = time.Now().UTC()
	if err := resultStore.Save(id, record); err != nil {
		return fmt.Errorf("failed to save result: %w", err)
	}

	fmt.Printf("Result %s now holds %d draws (seeds %v)\n", id, result.NumDraws(), result.Seeds())
	return nil
}

func runDeleteBootstrap(cmd *cobra.Command, args []string) error {
	resultStore, err := store.NewFSStore(bootDataDir)
	if err != nil {
		return fmt.Errorf("failed to create result store: %w", err)
	}
	if err := resultStore.Delete(args[0]); err != nil {
		return fmt.Errorf("failed to delete result: %w", err)
	}
	fmt.Printf("Deleted result %s\n", args[0])
	return nil
}

// printSummary writes per-coordinate point estimates, standard errors and
// confidence bounds as a table, one row per flattened leaf coordinate.
func printSummary(result *bootstrap.Result, seMethod bootstrap.SEMethod, ciMethod bootstrap.CIMethod, level float64) error {
	base, err := result.Base()
	if err != nil {
		return err
	}
	se, err := result.SE(seMethod)
	if err != nil {
		return err
	}
	lo, up, err := result.CI(ciMethod, level)
	if err != nil {
		return err
	}

	baseVec, spec, err := tree.Flatten(base)
	if err != nil {
		return err
	}
	seVec, _, err := tree.Flatten(se)
	if err != nil {
		return err
	}
	loVec, _, err := tree.Flatten(lo)
	if err != nil {
		return err
	}
	upVec, _, err := tree.Flatten(up)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "COORDINATE\tESTIMATE\tSE\tCI LOWER\tCI UPPER")
	for i, label := range leafLabels(spec) {
		fmt.Fprintf(w, "%s\t%.6g\t%.6g\t%.6g\t%.6g\n",
			label, baseVec[i], seVec[i], loVec[i], upVec[i])
	}
	return w.Flush()
}

// leafLabels expands the leaves of a spec into one label per flat coordinate.
func leafLabels(spec *tree.Spec) []string {
	var labels []string
	for _, leaf := range spec.Leaves() {
		if leaf.Size == 1 {
			labels = append(labels, leaf.Path)
			continue
		}
		for i := 0; i < leaf.Size; i++ {
			labels = append(labels, fmt.Sprintf("%s[%d]", leaf.Path, i))
		}
	}
	return labels
}
