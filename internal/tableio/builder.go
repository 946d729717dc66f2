package tableio

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"

	"github.com/sells-group/sdm-cli/internal/table"
)

// Options names the special columns of a variable table file. A named column
// is used only when the header contains it; x and y must both be present to
// give rows coordinates.
type Options struct {
	IDColumn string `yaml:"id_column" mapstructure:"id_column"`
	XColumn  string `yaml:"x_column" mapstructure:"x_column"`
	YColumn  string `yaml:"y_column" mapstructure:"y_column"`
	Sheet    string `yaml:"sheet" mapstructure:"sheet"`
	// Encoding is the character set of CSV and TSV files. Ignored for XLSX.
	Encoding string `yaml:"encoding" mapstructure:"encoding"`
}

func (o Options) withDefaults() Options {
	if o.IDColumn == "" {
		o.IDColumn = "id"
	}
	if o.XColumn == "" {
		o.XColumn = "x"
	}
	if o.YColumn == "" {
		o.YColumn = "y"
	}
	return o
}

// missing lists the cell values read as NaN (no-data).
var missing = map[string]bool{
	"":     true,
	"na":   true,
	"nan":  true,
	"null": true,
}

// ParseValue parses a numeric cell. Empty and no-data markers give NaN.
func ParseValue(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if missing[strings.ToLower(s)] {
		return math.NaN(), nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, eris.Wrapf(err, "tableio: parse %q", s)
	}
	return v, nil
}

// FormatValue renders a float for output; NaN is written as an empty cell.
func FormatValue(v float64) string {
	if math.IsNaN(v) {
		return ""
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// builder accumulates parsed rows.
type builder struct {
	header  []string
	columns []string
	varIdx  []int
	idIdx   int
	xIdx    int
	yIdx    int

	index  []string
	coords []geom.Coord
	rows   [][]float64
}

func newBuilder(header []string, opts Options) (*builder, error) {
	opts = opts.withDefaults()
	b := &builder{header: header, idIdx: -1, xIdx: -1, yIdx: -1}

	for i, name := range header {
		name = strings.TrimSpace(name)
		switch name {
		case opts.IDColumn:
			b.idIdx = i
		case opts.XColumn:
			b.xIdx = i
		case opts.YColumn:
			b.yIdx = i
		default:
			if slices.Contains(b.columns, name) {
				return nil, eris.Wrapf(table.ErrShape, "tableio: duplicate column %q", name)
			}
			b.columns = append(b.columns, name)
			b.varIdx = append(b.varIdx, i)
		}
	}
	// A lone x or y column is an ordinary variable.
	if (b.xIdx < 0) != (b.yIdx < 0) {
		for _, i := range []int{b.xIdx, b.yIdx} {
			if i >= 0 {
				b.columns = append(b.columns, strings.TrimSpace(header[i]))
				b.varIdx = append(b.varIdx, i)
			}
		}
		b.xIdx, b.yIdx = -1, -1
	}
	if len(b.columns) == 0 {
		return nil, eris.Wrap(table.ErrEmpty, "tableio: no variable columns")
	}
	return b, nil
}

func (b *builder) add(record []string) error {
	line := len(b.rows) + 2 // 1-based, after the header
	if len(record) != len(b.header) {
		return eris.Wrapf(table.ErrShape, "tableio: line %d has %d fields, header has %d", line, len(record), len(b.header))
	}

	row := make([]float64, len(b.varIdx))
	for j, i := range b.varIdx {
		v, err := ParseValue(record[i])
		if err != nil {
			return eris.Wrapf(err, "tableio: line %d column %q", line, b.columns[j])
		}
		row[j] = v
	}

	var label string
	if b.xIdx >= 0 {
		x, err := strconv.ParseFloat(strings.TrimSpace(record[b.xIdx]), 64)
		if err != nil {
			return eris.Wrapf(err, "tableio: line %d x coordinate", line)
		}
		y, err := strconv.ParseFloat(strings.TrimSpace(record[b.yIdx]), 64)
		if err != nil {
			return eris.Wrapf(err, "tableio: line %d y coordinate", line)
		}
		b.coords = append(b.coords, geom.Coord{x, y})
		label = FormatValue(x) + "," + FormatValue(y)
	}
	if b.idIdx >= 0 {
		label = strings.TrimSpace(record[b.idIdx])
	}
	if label == "" {
		label = strconv.Itoa(len(b.rows))
	}

	b.index = append(b.index, label)
	b.rows = append(b.rows, row)
	return nil
}

func (b *builder) build() (*table.Table, error) {
	if len(b.rows) == 0 {
		return nil, eris.Wrap(table.ErrEmpty, "tableio: no data rows")
	}
	t, err := table.New(b.columns, b.index, b.coords, b.rows)
	if err != nil {
		return nil, eris.Wrap(err, "tableio: build table")
	}
	return t, nil
}

// records renders t as string rows, header first.
func records(t *table.Table, opts Options) [][]string {
	header := []string{opts.IDColumn}
	if t.HasCoords() {
		header = append(header, opts.XColumn, opts.YColumn)
	}
	columns := t.Columns()
	header = append(header, columns...)

	out := make([][]string, 0, t.Len()+1)
	out = append(out, header)
	for i := 0; i < t.Len(); i++ {
		rec := make([]string, 0, len(header))
		rec = append(rec, t.Label(i))
		if c, ok := t.Coord(i); ok {
			rec = append(rec, FormatValue(c.X()), FormatValue(c.Y()))
		}
		for _, v := range t.Row(i) {
			rec = append(rec, FormatValue(v))
		}
		out = append(out, rec)
	}
	return out
}

// ReadFile reads a variable table, choosing the format from the file extension.
func ReadFile(ctx context.Context, path string, opts Options) (*table.Table, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx":
		return ReadXLSX(path, opts)
	case ".tsv", ".tab":
		return readCSVFile(ctx, path, CSVOptions{Delimiter: '\t', TrimSpace: true, Encoding: opts.Encoding}, opts)
	default:
		return readCSVFile(ctx, path, CSVOptions{TrimSpace: true, Encoding: opts.Encoding}, opts)
	}
}

func readCSVFile(ctx context.Context, path string, csvOpts CSVOptions, opts Options) (*table.Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "tableio: open %s", path)
	}
	defer f.Close() //nolint:errcheck

	t, err := ReadCSV(ctx, f, csvOpts, opts)
	if err != nil {
		return nil, eris.Wrapf(err, "tableio: read %s", path)
	}
	return t, nil
}

// WriteFile writes t to path as CSV or XLSX depending on the extension.
func WriteFile(path string, t *table.Table, opts Options) error {
	if strings.ToLower(filepath.Ext(path)) == ".xlsx" {
		return WriteXLSX(path, t, opts)
	}

	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "tableio: create %s", path)
	}
	if err := WriteCSV(f, t, opts); err != nil {
		f.Close() //nolint:errcheck
		return err
	}
	return eris.Wrapf(f.Close(), "tableio: close %s", path)
}
