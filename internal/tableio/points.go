package tableio

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/sdm-cli/internal/table"
)

// ReadPoints reads an occurrence points file and returns a two-column table
// holding its x and y columns. Every other column is ignored.
func ReadPoints(ctx context.Context, path string, opts Options) (*table.Table, error) {
	opts = opts.withDefaults()
	records, err := readRecords(ctx, path, opts)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, eris.Wrapf(table.ErrEmpty, "tableio: %s has no header row", path)
	}

	header := records[0]
	xi := slices.IndexFunc(header, func(h string) bool { return strings.TrimSpace(h) == opts.XColumn })
	yi := slices.IndexFunc(header, func(h string) bool { return strings.TrimSpace(h) == opts.YColumn })
	if xi < 0 || yi < 0 {
		return nil, eris.Wrapf(table.ErrUnknownColumn, "tableio: %s needs %q and %q columns", path, opts.XColumn, opts.YColumn)
	}

	rows := make([][]float64, 0, len(records)-1)
	for n, rec := range records[1:] {
		if blank(rec) {
			continue
		}
		row := make([]float64, 2)
		for j, i := range []int{xi, yi} {
			cell := ""
			if i < len(rec) {
				cell = rec[i]
			}
			v, err := ParseValue(cell)
			if err != nil {
				return nil, eris.Wrapf(err, "tableio: %s line %d", path, n+2)
			}
			row[j] = v
		}
		rows = append(rows, row)
	}
	if len(rows) == 0 {
		return nil, eris.Wrapf(table.ErrEmpty, "tableio: %s has no points", path)
	}
	return table.New([]string{opts.XColumn, opts.YColumn}, nil, nil, rows)
}

// readRecords loads every row of a CSV, TSV or XLSX file as strings.
func readRecords(ctx context.Context, path string, opts Options) ([][]string, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".xlsx" {
		f, err := xlsx.OpenFile(path)
		if err != nil {
			return nil, eris.Wrap(err, "xlsx: open file")
		}
		s, err := getSheet(f, opts.Sheet)
		if err != nil {
			return nil, err
		}
		var out [][]string
		for _, row := range s.Rows {
			if row != nil {
				out = append(out, rowToStrings(row))
			}
		}
		return out, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "tableio: open %s", path)
	}
	defer f.Close() //nolint:errcheck

	csvOpts := CSVOptions{TrimSpace: true, Encoding: opts.Encoding}
	if ext == ".tsv" || ext == ".tab" {
		csvOpts.Delimiter = '\t'
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	rowCh, errCh := StreamCSV(ctx, f, csvOpts)

	var out [][]string
	for rec := range rowCh {
		out = append(out, rec)
	}
	if err := <-errCh; err != nil {
		return nil, eris.Wrapf(err, "tableio: read %s", path)
	}
	return out, nil
}
