package pipeline

import (
	"math"
	"slices"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/sells-group/sdm-cli/internal/model"
	"github.com/sells-group/sdm-cli/internal/table"
)

// Summarize fills the value statistics of meta from a similarity column.
// NaN cells are excluded; a column without finite values gives NaN statistics.
func Summarize(meta *model.LayerMeta, values []float64) {
	meta.Rows = len(values)
	finite := slices.DeleteFunc(slices.Clone(values), math.IsNaN)
	if len(finite) == 0 {
		meta.Min, meta.Max, meta.Mean, meta.Std = math.NaN(), math.NaN(), math.NaN(), math.NaN()
		return
	}
	meta.Min = floats.Min(finite)
	meta.Max = floats.Max(finite)
	meta.Mean, meta.Std = stat.MeanStdDev(finite, nil)
	if len(finite) == 1 {
		meta.Std = 0
	}
}

// NewLayer pairs meta with the cells of a similarity table.
func NewLayer(meta model.LayerMeta, sim *table.Table) *model.Layer {
	cells := make([]model.Cell, sim.Len())
	for i := range cells {
		c, _ := sim.Coord(i)
		cells[i] = model.Cell{Label: sim.Label(i), Coord: c, Sim: sim.At(i, 0)}
	}
	meta.Rows = len(cells)
	return &model.Layer{LayerMeta: meta, Cells: cells}
}

// LayerTable rebuilds the similarity table of a stored layer. Coordinates are
// kept only when every cell has one.
func LayerTable(l *model.Layer) (*table.Table, error) {
	if len(l.Cells) == 0 {
		return nil, eris.Wrapf(table.ErrEmpty, "pipeline: layer %s has no cells", l.Name)
	}
	index := make([]string, len(l.Cells))
	coords := make([]geom.Coord, 0, len(l.Cells))
	rows := make([][]float64, len(l.Cells))
	for i, c := range l.Cells {
		index[i] = c.Label
		rows[i] = []float64{c.Sim}
		if c.Coord != nil {
			coords = append(coords, c.Coord)
		}
	}
	if len(coords) != len(l.Cells) {
		coords = nil
	}
	t, err := table.New([]string{table.SimilarityColumn}, index, coords, rows)
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: layer %s", l.Name)
	}
	return t, nil
}
