// Package table holds the tabular data exchanged with the similarity models:
// named numeric columns, one row per spatial sample, with row labels and
// optional cell coordinates that travel unchanged from input to output.
package table

import (
	"math"
	"slices"
	"sort"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"gonum.org/v1/gonum/mat"
)

var (
	// ErrEmpty is returned for tables without rows or without columns.
	ErrEmpty = eris.New("table: empty table")
	// ErrShape is returned when data does not match the declared dimensions.
	ErrShape = eris.New("table: shape mismatch")
	// ErrColumnMismatch is returned when a table's column set differs from the expected one.
	ErrColumnMismatch = eris.New("table: column set mismatch")
	// ErrUnknownColumn is returned when a named column does not exist.
	ErrUnknownColumn = eris.New("table: unknown column")
)

// SimilarityColumn is the name of the single column in a similarity table.
const SimilarityColumn = "sim"

// Table is an immutable set of named float64 columns.
type Table struct {
	columns []string
	index   []string
	coords  []geom.Coord // nil when the rows carry no coordinates
	data    *mat.Dense
}

// New builds a table from row-major values. index may be nil, in which case rows
// are labelled by their 0-based position. coords may be nil.
func New(columns, index []string, coords []geom.Coord, rows [][]float64) (*Table, error) {
	if len(columns) == 0 || len(rows) == 0 {
		return nil, ErrEmpty
	}
	if err := checkColumns(columns); err != nil {
		return nil, err
	}
	if index == nil {
		index = positionalIndex(len(rows))
	}
	if len(index) != len(rows) {
		return nil, eris.Wrapf(ErrShape, "table: %d index labels for %d rows", len(index), len(rows))
	}
	if coords != nil && len(coords) != len(rows) {
		return nil, eris.Wrapf(ErrShape, "table: %d coordinates for %d rows", len(coords), len(rows))
	}

	flat := make([]float64, 0, len(rows)*len(columns))
	for i, row := range rows {
		if len(row) != len(columns) {
			return nil, eris.Wrapf(ErrShape, "table: row %d has %d values, expected %d", i, len(row), len(columns))
		}
		flat = append(flat, row...)
	}

	return &Table{
		columns: slices.Clone(columns),
		index:   slices.Clone(index),
		coords:  cloneCoords(coords),
		data:    mat.NewDense(len(rows), len(columns), flat),
	}, nil
}

// FromDense wraps an existing matrix. The matrix is copied.
func FromDense(columns, index []string, coords []geom.Coord, m mat.Matrix) (*Table, error) {
	r, c := m.Dims()
	if r == 0 || c == 0 {
		return nil, ErrEmpty
	}
	if len(columns) != c {
		return nil, eris.Wrapf(ErrShape, "table: %d column names for %d columns", len(columns), c)
	}
	if err := checkColumns(columns); err != nil {
		return nil, err
	}
	if index == nil {
		index = positionalIndex(r)
	}
	if len(index) != r {
		return nil, eris.Wrapf(ErrShape, "table: %d index labels for %d rows", len(index), r)
	}
	if coords != nil && len(coords) != r {
		return nil, eris.Wrapf(ErrShape, "table: %d coordinates for %d rows", len(coords), r)
	}
	return &Table{
		columns: slices.Clone(columns),
		index:   slices.Clone(index),
		coords:  cloneCoords(coords),
		data:    mat.DenseCopyOf(m),
	}, nil
}

// Similarity builds the single-column output table of a prediction, carrying
// the row labels and coordinates of like.
func Similarity(like *Table, values []float64) (*Table, error) {
	if len(values) != like.Len() {
		return nil, eris.Wrapf(ErrShape, "table: %d similarity values for %d rows", len(values), like.Len())
	}
	return &Table{
		columns: []string{SimilarityColumn},
		index:   slices.Clone(like.index),
		coords:  cloneCoords(like.coords),
		data:    mat.NewDense(len(values), 1, slices.Clone(values)),
	}, nil
}

// Len returns the number of rows.
func (t *Table) Len() int {
	r, _ := t.data.Dims()
	return r
}

// Columns returns a copy of the column names in storage order.
func (t *Table) Columns() []string { return slices.Clone(t.columns) }

// Index returns a copy of the row labels.
func (t *Table) Index() []string { return slices.Clone(t.index) }

// Label returns the label of row i.
func (t *Table) Label(i int) string { return t.index[i] }

// HasCoords reports whether rows carry coordinates.
func (t *Table) HasCoords() bool { return t.coords != nil }

// Coord returns the coordinate of row i. ok is false when the table has none.
func (t *Table) Coord(i int) (geom.Coord, bool) {
	if t.coords == nil {
		return nil, false
	}
	return t.coords[i], true
}

// Coords returns a copy of the row coordinates, or nil.
func (t *Table) Coords() []geom.Coord { return cloneCoords(t.coords) }

// At returns the value at row i, column j.
func (t *Table) At(i, j int) float64 { return t.data.At(i, j) }

// Row returns a copy of row i.
func (t *Table) Row(i int) []float64 {
	return mat.Row(nil, i, t.data)
}

// Column returns a copy of the named column.
func (t *Table) Column(name string) ([]float64, error) {
	j := slices.Index(t.columns, name)
	if j < 0 {
		return nil, eris.Wrapf(ErrUnknownColumn, "table: column %q", name)
	}
	return mat.Col(nil, j, t.data), nil
}

// Values returns the single column of a one-column table, e.g. a similarity table.
func (t *Table) Values() []float64 {
	return mat.Col(nil, 0, t.data)
}

// Matrix returns a copy of the underlying data.
func (t *Table) Matrix() *mat.Dense {
	return mat.DenseCopyOf(t.data)
}

// Align returns the data with columns reordered to match want. The column set
// must be identical to want; order may differ.
func (t *Table) Align(want []string) (*mat.Dense, error) {
	if err := MatchColumns(want, t.columns); err != nil {
		return nil, err
	}
	if slices.Equal(want, t.columns) {
		return mat.DenseCopyOf(t.data), nil
	}

	pos := make(map[string]int, len(t.columns))
	for j, c := range t.columns {
		pos[c] = j
	}
	r := t.Len()
	out := mat.NewDense(r, len(want), nil)
	for dst, name := range want {
		out.SetCol(dst, mat.Col(nil, pos[name], t.data))
	}
	return out, nil
}

// Drop returns a table without the named columns, plus the removed columns by name.
func (t *Table) Drop(names ...string) (*Table, map[string][]float64, error) {
	removed := make(map[string][]float64, len(names))
	for _, n := range names {
		col, err := t.Column(n)
		if err != nil {
			return nil, nil, err
		}
		removed[n] = col
	}

	var keep []string
	var keepIdx []int
	for j, c := range t.columns {
		if _, ok := removed[c]; !ok {
			keep = append(keep, c)
			keepIdx = append(keepIdx, j)
		}
	}
	if len(keep) == 0 {
		return nil, nil, eris.Wrap(ErrEmpty, "table: no columns left after drop")
	}

	out := mat.NewDense(t.Len(), len(keep), nil)
	for dst, src := range keepIdx {
		out.SetCol(dst, mat.Col(nil, src, t.data))
	}
	return &Table{
		columns: keep,
		index:   slices.Clone(t.index),
		coords:  cloneCoords(t.coords),
		data:    out,
	}, removed, nil
}

// Select returns the rows whose positions are listed, in the given order.
func (t *Table) Select(rows []int) (*Table, error) {
	if len(rows) == 0 {
		return nil, eris.Wrap(ErrEmpty, "table: no rows selected")
	}
	_, c := t.data.Dims()
	out := mat.NewDense(len(rows), c, nil)
	index := make([]string, len(rows))
	var coords []geom.Coord
	if t.coords != nil {
		coords = make([]geom.Coord, len(rows))
	}
	for dst, src := range rows {
		if src < 0 || src >= t.Len() {
			return nil, eris.Wrapf(ErrShape, "table: row %d out of range", src)
		}
		out.SetRow(dst, mat.Row(nil, src, t.data))
		index[dst] = t.index[src]
		if coords != nil {
			coords[dst] = slices.Clone(t.coords[src])
		}
	}
	return &Table{
		columns: slices.Clone(t.columns),
		index:   index,
		coords:  coords,
		data:    out,
	}, nil
}

// CompleteRows returns the positions of rows without NaN values.
func (t *Table) CompleteRows() []int {
	var keep []int
	for i := 0; i < t.Len(); i++ {
		if !slices.ContainsFunc(t.data.RawRowView(i), math.IsNaN) {
			keep = append(keep, i)
		}
	}
	return keep
}

// MatchColumns checks that got holds exactly the column names in want,
// ignoring order.
func MatchColumns(want, got []string) error {
	wantSet := make(map[string]bool, len(want))
	for _, c := range want {
		wantSet[c] = true
	}
	gotSet := make(map[string]bool, len(got))
	for _, c := range got {
		gotSet[c] = true
	}

	var missing, unexpected []string
	for _, c := range want {
		if !gotSet[c] {
			missing = append(missing, c)
		}
	}
	for _, c := range got {
		if !wantSet[c] {
			unexpected = append(unexpected, c)
		}
	}
	if len(missing) == 0 && len(unexpected) == 0 && len(want) == len(got) {
		return nil
	}

	sort.Strings(missing)
	sort.Strings(unexpected)
	return eris.Wrapf(ErrColumnMismatch, "table: missing [%s], unexpected [%s]",
		strings.Join(missing, ", "), strings.Join(unexpected, ", "))
}

func checkColumns(columns []string) error {
	seen := make(map[string]bool, len(columns))
	for _, c := range columns {
		if c == "" {
			return eris.Wrap(ErrShape, "table: empty column name")
		}
		if seen[c] {
			return eris.Wrapf(ErrShape, "table: duplicate column %q", c)
		}
		seen[c] = true
	}
	return nil
}

func positionalIndex(n int) []string {
	index := make([]string, n)
	for i := range index {
		index[i] = strconv.Itoa(i)
	}
	return index
}

func cloneCoords(coords []geom.Coord) []geom.Coord {
	if coords == nil {
		return nil
	}
	out := make([]geom.Coord, len(coords))
	for i, c := range coords {
		out[i] = slices.Clone(c)
	}
	return out
}
