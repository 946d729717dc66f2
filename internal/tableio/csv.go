// Package tableio reads variable tables from CSV and XLSX files and writes
// similarity tables back out.
package tableio

import (
	"context"
	"encoding/csv"
	"io"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/text/encoding/htmlindex"

	"github.com/sells-group/sdm-cli/internal/table"
)

// CSVOptions configures the streaming CSV parser.
type CSVOptions struct {
	Delimiter rune // default ','
	Comment   rune // comment character (0 = none)
	TrimSpace bool
	// Encoding is a WHATWG encoding label such as "latin1" or
	// "windows-1252". Empty means UTF-8.
	Encoding string
}

// StreamCSV reads a CSV file and sends rows to a channel, header included.
// Caller must consume the returned row channel. Errors are sent on the error channel.
// Both channels are closed when processing completes.
func StreamCSV(ctx context.Context, r io.Reader, opts CSVOptions) (<-chan []string, <-chan error) {
	rowCh := make(chan []string, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(rowCh)
		defer close(errCh)

		if opts.Encoding != "" {
			enc, err := htmlindex.Get(opts.Encoding)
			if err != nil {
				errCh <- eris.Wrapf(err, "csv: unsupported encoding %q", opts.Encoding)
				return
			}
			r = enc.NewDecoder().Reader(r)
		}

		reader := csv.NewReader(r)
		if opts.Delimiter != 0 {
			reader.Comma = opts.Delimiter
		}
		if opts.Comment != 0 {
			reader.Comment = opts.Comment
		}
		reader.FieldsPerRecord = 0 // every row must match the header width
		reader.ReuseRecord = false

		for {
			if ctx.Err() != nil {
				errCh <- eris.Wrap(ctx.Err(), "csv: context cancelled")
				return
			}

			record, err := reader.Read()
			if err == io.EOF {
				return
			}
			if err != nil {
				errCh <- eris.Wrap(err, "csv: read row")
				return
			}

			if opts.TrimSpace {
				for i, field := range record {
					record[i] = strings.TrimSpace(field)
				}
			}

			select {
			case rowCh <- record:
			case <-ctx.Done():
				errCh <- eris.Wrap(ctx.Err(), "csv: context cancelled")
				return
			}
		}
	}()

	return rowCh, errCh
}

// ReadCSV parses a CSV variable table. The first row is the header.
func ReadCSV(ctx context.Context, r io.Reader, csvOpts CSVOptions, opts Options) (*table.Table, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	rowCh, errCh := StreamCSV(ctx, r, csvOpts)

	var b *builder
	for record := range rowCh {
		if b == nil {
			var err error
			if b, err = newBuilder(record, opts); err != nil {
				return nil, err
			}
			continue
		}
		if err := b.add(record); err != nil {
			return nil, err
		}
	}
	if err := <-errCh; err != nil {
		return nil, err
	}
	if b == nil {
		return nil, eris.Wrap(table.ErrEmpty, "csv: no header row")
	}
	return b.build()
}

// WriteCSV writes t with a leading id column and, when present, x and y columns.
func WriteCSV(w io.Writer, t *table.Table, opts Options) error {
	cw := csv.NewWriter(w)
	for _, record := range records(t, opts.withDefaults()) {
		if err := cw.Write(record); err != nil {
			return eris.Wrap(err, "csv: write row")
		}
	}
	cw.Flush()
	return eris.Wrap(cw.Error(), "csv: flush")
}
