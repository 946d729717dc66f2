package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/sdm-cli/internal/pipeline"
)

var (
	runVarsPath    string
	runPointsPath  string
	runPredictPath string
	runSpecies     string
	runModels      []string
	runK           []int
	runMetric      string
	runOutDir      string
	runFormat      string
	runNoStore     bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Fit models and write similarity layers",
	Long:  "Reads a variable table with an occurrence column (or a separate occurrence point file), fits every configured model, and writes one similarity layer per model.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		applyRunFlags(cmd)
		if err := cfg.Validate("run"); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		if st != nil {
			defer st.Close() //nolint:errcheck
		}

		res, err := pipeline.NewRunner(cfg, st).Run(ctx, pipeline.Request{
			VarsPath:    runVarsPath,
			PointsPath:  runPointsPath,
			PredictPath: runPredictPath,
			Species:     runSpecies,
		})
		if err != nil {
			return eris.Wrap(err, "sdm run")
		}

		zap.L().Info("run complete",
			zap.String("run_id", res.Run.ID),
			zap.Int("layers", len(res.Layers)),
			zap.String("report", res.ReportPath),
		)
		formatRunResult(os.Stdout, res)
		return nil
	},
}

// applyRunFlags copies explicitly set flags over the loaded configuration.
func applyRunFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	if flags.Changed("model") {
		cfg.Model.Kinds = runModels
	}
	if flags.Changed("k") {
		cfg.Model.K = runK
	}
	if flags.Changed("metric") {
		cfg.Model.Metric = runMetric
	}
	if flags.Changed("out") {
		cfg.Output.Dir = runOutDir
	}
	if flags.Changed("format") {
		cfg.Output.Format = runFormat
	}
	if runNoStore {
		cfg.Store.Driver = "none"
	}
}

// formatRunResult writes a table of produced layers to w.
func formatRunResult(out io.Writer, res *pipeline.Result) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Run:\t%s\n", res.Run.ID)
	_, _ = fmt.Fprintf(w, "Rows:\t%d (dropped %d)\n", res.Rows, res.Dropped)
	_, _ = fmt.Fprintf(w, "Occurrences:\t%d\n", res.Occurrences)
	if res.Snap != nil {
		_, _ = fmt.Fprintf(w, "Points:\t%d snapped, %d skipped\n", res.Snap.Snapped, res.Snap.Skipped)
	}
	_, _ = fmt.Fprintln(w)
	_, _ = fmt.Fprintln(w, "LAYER\tROWS\tMIN\tMAX\tMEAN\tOUT_OF_RANGE\tPATH")
	_, _ = fmt.Fprintln(w, "-----\t----\t---\t---\t----\t------------\t----")
	for _, l := range res.Layers {
		path := l.Path
		if path == "" {
			path = "-"
		}
		_, _ = fmt.Fprintf(w, "%s\t%d\t%.4f\t%.4f\t%.4f\t%d\t%s\n",
			l.Name, l.Rows, l.Min, l.Max, l.Mean, l.OutOfRange, path)
	}
	if res.ReportPath != "" {
		_, _ = fmt.Fprintf(w, "\nReport:\t%s\n", res.ReportPath)
	}
	_ = w.Flush()
}

func init() {
	runCmd.Flags().StringVar(&runVarsPath, "vars", "", "variable table: csv, tsv or xlsx path, http(s) or ftp URL, or zip archive (required)")
	runCmd.Flags().StringVar(&runPointsPath, "occ-points", "", "occurrence points (csv, tsv or xlsx with x/y columns, URL or zip); replaces the occurrence column")
	runCmd.Flags().StringVar(&runPredictPath, "predict", "", "table to project the fitted models onto")
	runCmd.Flags().StringVar(&runSpecies, "species", "", "species name used to prefix layer names")
	runCmd.Flags().StringSliceVar(&runModels, "model", nil, "model kinds to fit (gms, knns)")
	runCmd.Flags().IntSliceVar(&runK, "k", nil, "neighbour counts for knns")
	runCmd.Flags().StringVar(&runMetric, "metric", "", "distance metric (l1, euclidean, chebyshev)")
	runCmd.Flags().StringVar(&runOutDir, "out", "", "output directory for layer files")
	runCmd.Flags().StringVar(&runFormat, "format", "", "layer file format (csv, xlsx, none)")
	runCmd.Flags().BoolVar(&runNoStore, "no-store", false, "skip the layer store")
	_ = runCmd.MarkFlagRequired("vars")
	rootCmd.AddCommand(runCmd)
}
