package tableio

import (
	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/sdm-cli/internal/table"
)

// ReadXLSX reads a variable table from a worksheet: opts.Sheet when set,
// otherwise the first sheet. The first row is the header; blank rows are skipped.
func ReadXLSX(path string, opts Options) (*table.Table, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "xlsx: open file")
	}

	sheet, err := getSheet(f, opts.Sheet)
	if err != nil {
		return nil, err
	}

	var b *builder
	for _, row := range sheet.Rows {
		if row == nil {
			continue
		}
		cells := rowToStrings(row)
		if blank(cells) {
			continue
		}
		if b == nil {
			if b, err = newBuilder(cells, opts); err != nil {
				return nil, eris.Wrapf(err, "xlsx: %s", path)
			}
			continue
		}
		// Trailing empty cells are often omitted by spreadsheet writers.
		for len(cells) < len(b.header) {
			cells = append(cells, "")
		}
		if err := b.add(cells); err != nil {
			return nil, eris.Wrapf(err, "xlsx: %s", path)
		}
	}
	if b == nil {
		return nil, eris.Wrapf(table.ErrEmpty, "xlsx: %s has no header row", path)
	}
	return b.build()
}

// WriteXLSX writes t to a single-sheet workbook named after opts.Sheet
// (default "sim").
func WriteXLSX(path string, t *table.Table, opts Options) error {
	opts = opts.withDefaults()
	name := opts.Sheet
	if name == "" {
		name = table.SimilarityColumn
	}

	f := xlsx.NewFile()
	sheet, err := f.AddSheet(name)
	if err != nil {
		return eris.Wrap(err, "xlsx: add sheet")
	}

	for i, rec := range records(t, opts) {
		row := sheet.AddRow()
		for j, v := range rec {
			cell := row.AddCell()
			if i == 0 || j == 0 || v == "" {
				cell.SetString(v)
				continue
			}
			fv, err := ParseValue(v)
			if err != nil {
				return eris.Wrap(err, "xlsx: write cell")
			}
			cell.SetFloat(fv)
		}
	}

	if err := f.Save(path); err != nil {
		return eris.Wrapf(err, "xlsx: save %s", path)
	}
	return nil
}

func getSheet(f *xlsx.File, name string) (*xlsx.Sheet, error) {
	if name != "" {
		sheet, ok := f.Sheet[name]
		if !ok {
			return nil, eris.Errorf("xlsx: sheet %q not found", name)
		}
		return sheet, nil
	}
	if len(f.Sheets) == 0 {
		return nil, eris.New("xlsx: workbook has no sheets")
	}
	return f.Sheets[0], nil
}

func rowToStrings(row *xlsx.Row) []string {
	cells := make([]string, len(row.Cells))
	for j, cell := range row.Cells {
		cells[j] = cell.String()
	}
	return cells
}

func blank(cells []string) bool {
	for _, c := range cells {
		if c != "" {
			return false
		}
	}
	return true
}
