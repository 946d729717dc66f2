// Package scaler implements the per-column min-max transform shared by the
// similarity models.
package scaler

import (
	"math"
	"slices"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/sells-group/sdm-cli/internal/table"
)

var (
	// ErrNotFitted is returned by Transform before Fit.
	ErrNotFitted = eris.New("scaler: not fitted")
	// ErrNaN is returned when a fit table contains missing values.
	ErrNaN = eris.New("scaler: missing value in fit table")
)

// ColumnScaler maps every column linearly so that its fit-time minimum becomes
// 0 and its fit-time maximum becomes 1.
//
// A column that is constant at fit time has no range; it is scaled with a
// range of 1, so fit-time values map to 0.0 and any other value maps to its
// offset from the fitted constant.
type ColumnScaler struct {
	columns []string
	min     []float64
	max     []float64
	scale   []float64
}

// New returns an unfitted scaler.
func New() *ColumnScaler {
	return &ColumnScaler{}
}

// Fit learns the per-column minimum and maximum of X, replacing any previous state.
func (s *ColumnScaler) Fit(X *table.Table) error {
	columns := X.Columns()
	m := X.Matrix()

	lo := make([]float64, len(columns))
	hi := make([]float64, len(columns))
	scale := make([]float64, len(columns))
	for j, name := range columns {
		col := mat.Col(nil, j, m)
		if slices.ContainsFunc(col, math.IsNaN) {
			return eris.Wrapf(ErrNaN, "scaler: column %q", name)
		}
		lo[j] = floats.Min(col)
		hi[j] = floats.Max(col)
		scale[j] = hi[j] - lo[j]
		if scale[j] == 0 {
			zap.L().Warn("scaler: constant column, scaling with unit range",
				zap.String("column", name),
				zap.Float64("value", lo[j]),
			)
			scale[j] = 1
		}
	}

	s.columns = columns
	s.min = lo
	s.max = hi
	s.scale = scale
	return nil
}

// Transform scales X with the fitted parameters. X must hold exactly the fitted
// columns, in any order; the result uses the fitted column order.
func (s *ColumnScaler) Transform(X *table.Table) (*mat.Dense, error) {
	if !s.Fitted() {
		return nil, ErrNotFitted
	}
	m, err := X.Align(s.columns)
	if err != nil {
		return nil, eris.Wrap(err, "scaler: transform")
	}

	r, c := m.Dims()
	for i := 0; i < r; i++ {
		row := m.RawRowView(i)
		for j := 0; j < c; j++ {
			row[j] = (row[j] - s.min[j]) / s.scale[j]
		}
	}
	return m, nil
}

// FitTransform fits on X and returns X scaled.
func (s *ColumnScaler) FitTransform(X *table.Table) (*mat.Dense, error) {
	if err := s.Fit(X); err != nil {
		return nil, err
	}
	return s.Transform(X)
}

// Fitted reports whether Fit has succeeded.
func (s *ColumnScaler) Fitted() bool { return s.columns != nil }

// Columns returns the fitted column names.
func (s *ColumnScaler) Columns() []string { return slices.Clone(s.columns) }

// Min returns the fitted per-column minima.
func (s *ColumnScaler) Min() []float64 { return slices.Clone(s.min) }

// Max returns the fitted per-column maxima.
func (s *ColumnScaler) Max() []float64 { return slices.Clone(s.max) }

// RangeReport counts scaled values falling outside [0, 1].
type RangeReport struct {
	Cells   int
	Columns []string
}

// Out reports whether any value was out of range.
func (r RangeReport) Out() bool { return r.Cells > 0 }

// OutOfRange inspects a matrix produced by Transform. NaN values are not counted.
func (s *ColumnScaler) OutOfRange(scaled *mat.Dense) RangeReport {
	var rep RangeReport
	r, c := scaled.Dims()
	hit := make([]bool, c)
	for i := 0; i < r; i++ {
		for j, v := range scaled.RawRowView(i) {
			if v < 0 || v > 1 {
				rep.Cells++
				hit[j] = true
			}
		}
	}
	for j, h := range hit {
		if h && j < len(s.columns) {
			rep.Columns = append(rep.Columns, s.columns[j])
		}
	}
	return rep
}
