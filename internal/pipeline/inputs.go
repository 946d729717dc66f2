package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/sdm-cli/internal/fetcher"
	"github.com/sells-group/sdm-cli/internal/geo"
	"github.com/sells-group/sdm-cli/internal/table"
	"github.com/sells-group/sdm-cli/internal/tableio"
)

// inputs is the prepared data for one run.
type inputs struct {
	fit         *table.Table
	y           []float64
	target      *table.Table
	occurrences int
}

// loadInputs reads the variable table, derives the occurrence vector and
// reads the optional projection table.
func (r *Runner) loadInputs(ctx context.Context, req Request, res *Result, log *zap.Logger) (*inputs, error) {
	opts := r.cfg.Input.Options
	occCol := r.cfg.Input.OccurrenceColumn

	req, cleanup, err := r.resolve(ctx, req)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	X, err := tableio.ReadFile(ctx, req.VarsPath, opts)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: read variables")
	}

	res.Rows = X.Len()
	var y []float64
	if req.PointsPath != "" {
		if slices.Contains(X.Columns(), occCol) {
			log.Warn("pipeline: occurrence points given, ignoring occurrence column", zap.String("column", occCol))
			if X, _, err = X.Drop(occCol); err != nil {
				return nil, eris.Wrap(err, "pipeline: drop occurrence column")
			}
		}
		// Points snap onto complete cells only.
		if X, _, err = r.dropIncomplete(X, nil, res, log); err != nil {
			return nil, err
		}
		pts, err := tableio.ReadPoints(ctx, req.PointsPath, tableio.Options{XColumn: opts.XColumn, YColumn: opts.YColumn, Encoding: opts.Encoding})
		if err != nil {
			return nil, eris.Wrap(err, "pipeline: read occurrence points")
		}
		cols := pts.Columns()
		points, err := geo.Points(pts, cols[0], cols[1])
		if err != nil {
			return nil, eris.Wrap(err, "pipeline: occurrence points")
		}
		var stats geo.SnapStats
		if y, stats, err = geo.Occurrences(X, points, r.cfg.Occurrence.MaxSnapDistance); err != nil {
			return nil, eris.Wrap(err, "pipeline: snap occurrence points")
		}
		res.Snap = &stats
		log.Info("pipeline: snapped occurrence points",
			zap.Int("points", stats.Points),
			zap.Int("cells", stats.Cells),
			zap.Int("skipped", stats.Skipped),
		)
	} else {
		var dropped map[string][]float64
		if X, dropped, err = X.Drop(occCol); err != nil {
			return nil, eris.Wrapf(err, "pipeline: occurrence column %q", occCol)
		}
		if X, y, err = r.dropIncomplete(X, dropped[occCol], res, log); err != nil {
			return nil, err
		}
	}

	in := &inputs{fit: X, y: y, target: X, occurrences: countOccurrences(y)}

	if req.PredictPath != "" {
		P, err := tableio.ReadFile(ctx, req.PredictPath, opts)
		if err != nil {
			return nil, eris.Wrap(err, "pipeline: read projection")
		}
		if slices.Contains(P.Columns(), occCol) {
			if P, _, err = P.Drop(occCol); err != nil {
				return nil, eris.Wrap(err, "pipeline: drop occurrence column from projection")
			}
		}
		if err := table.MatchColumns(X.Columns(), P.Columns()); err != nil {
			return nil, eris.Wrap(err, "pipeline: projection columns")
		}
		if r.cfg.Input.DropNA {
			keep := P.CompleteRows()
			if len(keep) < P.Len() {
				if P, err = P.Select(keep); err != nil {
					return nil, eris.Wrap(err, "pipeline: drop projection rows with missing values")
				}
			}
		}
		in.target = P
	}
	return in, nil
}

// resolve replaces remote and zipped sources in req with local paths. The
// returned cleanup removes anything downloaded or extracted.
func (r *Runner) resolve(ctx context.Context, req Request) (Request, func(), error) {
	noop := func() {}
	srcs := []*string{&req.VarsPath, &req.PointsPath, &req.PredictPath}
	if !slices.ContainsFunc(srcs, func(s *string) bool { return needsResolve(*s) }) {
		return req, noop, nil
	}

	dir, err := os.MkdirTemp("", "sdm-inputs-*")
	if err != nil {
		return req, noop, eris.Wrap(err, "pipeline: create input directory")
	}
	cleanup := func() { _ = os.RemoveAll(dir) }

	resolver := &fetcher.Resolver{HTTP: r.http, FTP: r.ftp, Dir: dir}
	for _, src := range srcs {
		if !needsResolve(*src) {
			continue
		}
		local, err := resolver.Resolve(ctx, *src)
		if err != nil {
			cleanup()
			return req, noop, eris.Wrap(err, "pipeline: resolve input")
		}
		*src = local
	}
	return req, cleanup, nil
}

// dropIncomplete removes rows with missing values from X, and the matching
// entries of y when y is non-nil, if input.drop_na is set.
func (r *Runner) dropIncomplete(X *table.Table, y []float64, res *Result, log *zap.Logger) (*table.Table, []float64, error) {
	if !r.cfg.Input.DropNA {
		return X, y, nil
	}
	keep := X.CompleteRows()
	n := X.Len() - len(keep)
	if n == 0 {
		return X, y, nil
	}
	X, err := X.Select(keep)
	if err != nil {
		return nil, nil, eris.Wrap(err, "pipeline: drop rows with missing values")
	}
	if y != nil {
		y = pick(y, keep)
	}
	res.Dropped = n
	log.Info("pipeline: dropped rows with missing values", zap.Int("rows", n))
	return X, y, nil
}

func needsResolve(src string) bool {
	return src != "" && (fetcher.IsRemote(src) || strings.EqualFold(filepath.Ext(src), ".zip"))
}

func pick(values []float64, rows []int) []float64 {
	out := make([]float64, len(rows))
	for i, r := range rows {
		out[i] = values[r]
	}
	return out
}

func countOccurrences(y []float64) int {
	n := 0
	for _, v := range y {
		if v == 1 {
			n++
		}
	}
	return n
}
