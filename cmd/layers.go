package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/sdm-cli/internal/model"
	"github.com/sells-group/sdm-cli/internal/pipeline"
	"github.com/sells-group/sdm-cli/internal/store"
	"github.com/sells-group/sdm-cli/internal/tableio"
)

var layersCmd = &cobra.Command{
	Use:   "layers",
	Short: "Inspect stored similarity layers",
	Long:  "Commands for listing, exporting, and deleting layers in the layer store.",
}

// -- layers list --

var layersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored layers",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := requireStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		runID, _ := cmd.Flags().GetString("run")
		kind, _ := cmd.Flags().GetString("model")
		limit, _ := cmd.Flags().GetInt("limit")

		layers, err := st.ListLayers(ctx, store.LayerFilter{RunID: runID, Model: kind, Limit: limit})
		if err != nil {
			return eris.Wrap(err, "layers list")
		}

		if len(layers) == 0 {
			fmt.Fprintln(os.Stderr, "No layers found.")
			return nil
		}

		formatLayersList(os.Stdout, layers)
		return nil
	},
}

// -- layers show --

var layersShowCmd = &cobra.Command{
	Use:   "show <name>",
	Short: "Show a layer's cells, or export it with --out",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := requireStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		layer, err := st.GetLayer(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "layers show")
		}

		out, _ := cmd.Flags().GetString("out")
		if out != "" {
			t, err := pipeline.LayerTable(layer)
			if err != nil {
				return err
			}
			if err := tableio.WriteFile(out, t, cfg.Input.Options); err != nil {
				return eris.Wrap(err, "layers show")
			}
			zap.L().Info("layer exported", zap.String("layer", layer.Name), zap.String("path", out))
			return nil
		}

		limit, _ := cmd.Flags().GetInt("limit")
		formatLayer(os.Stdout, layer, limit)
		return nil
	},
}

// -- layers delete --

var layersDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Delete a stored layer",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := requireStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if err := st.DeleteLayer(ctx, args[0]); err != nil {
			return eris.Wrap(err, "layers delete")
		}
		zap.L().Info("layer deleted", zap.String("layer", args[0]))
		return nil
	},
}

func init() {
	layersListCmd.Flags().String("run", "", "filter by run ID")
	layersListCmd.Flags().String("model", "", "filter by model kind (gms, knns)")
	layersListCmd.Flags().Int("limit", 50, "max number of layers to display")

	layersShowCmd.Flags().Int("limit", 20, "max number of cells to display (0 for all)")
	layersShowCmd.Flags().String("out", "", "export the layer to a csv or xlsx file instead of printing")

	layersCmd.AddCommand(layersListCmd)
	layersCmd.AddCommand(layersShowCmd)
	layersCmd.AddCommand(layersDeleteCmd)
	rootCmd.AddCommand(layersCmd)
}

// formatLayersList writes a tabular list of layers to w.
func formatLayersList(out io.Writer, layers []model.LayerMeta) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "NAME\tMODEL\tRUN\tROWS\tOCC\tMEAN\tOUT_OF_RANGE\tCREATED")
	_, _ = fmt.Fprintln(w, "----\t-----\t---\t----\t---\t----\t------------\t-------")

	for _, l := range layers {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%.4f\t%d\t%s\n",
			l.Name,
			l.Model,
			truncateID(l.RunID),
			l.Rows,
			l.Occurrences,
			l.Mean,
			l.OutOfRange,
			l.CreatedAt.Format("2006-01-02 15:04"),
		)
	}
	_ = w.Flush()
}

// formatLayer writes a layer's summary and up to limit cells to w.
func formatLayer(out io.Writer, l *model.Layer, limit int) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Name:\t%s\n", l.Name)
	_, _ = fmt.Fprintf(w, "Model:\t%s (%s", l.Model, l.Metric)
	if l.K > 0 {
		_, _ = fmt.Fprintf(w, ", k=%d", l.K)
	}
	_, _ = fmt.Fprintln(w, ")")
	_, _ = fmt.Fprintf(w, "Run:\t%s\n", l.RunID)
	_, _ = fmt.Fprintf(w, "Columns:\t%v\n", l.Columns)
	_, _ = fmt.Fprintf(w, "Range:\t%.4f .. %.4f (mean %.4f, std %.4f)\n", l.Min, l.Max, l.Mean, l.Std)
	_, _ = fmt.Fprintln(w)
	_, _ = fmt.Fprintln(w, "LABEL\tX\tY\tSIM")

	n := len(l.Cells)
	if limit > 0 && limit < n {
		n = limit
	}
	for _, c := range l.Cells[:n] {
		x, y := "-", "-"
		if c.Coord != nil {
			x = tableio.FormatValue(c.Coord.X())
			y = tableio.FormatValue(c.Coord.Y())
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", c.Label, x, y, tableio.FormatValue(c.Sim))
	}
	if n < len(l.Cells) {
		_, _ = fmt.Fprintf(w, "... %d more cells\n", len(l.Cells)-n)
	}
	_ = w.Flush()
}
