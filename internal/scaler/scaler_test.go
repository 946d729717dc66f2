package scaler

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/sells-group/sdm-cli/internal/table"
)

func mustTable(t *testing.T, columns []string, rows [][]float64) *table.Table {
	t.Helper()
	tbl, err := table.New(columns, nil, nil, rows)
	require.NoError(t, err)
	return tbl
}

func TestColumnScaler_FitTransform(t *testing.T) {
	X := mustTable(t, []string{"bio_1", "bio_2"}, [][]float64{
		{10, 100},
		{20, 300},
		{15, 200},
	})

	s := New()
	m, err := s.FitTransform(X)
	require.NoError(t, err)

	assert.Equal(t, []float64{10, 100}, s.Min())
	assert.Equal(t, []float64{20, 300}, s.Max())
	assert.InDelta(t, 0.0, m.At(0, 0), 1e-12)
	assert.InDelta(t, 1.0, m.At(1, 0), 1e-12)
	assert.InDelta(t, 0.5, m.At(2, 0), 1e-12)
	assert.InDelta(t, 0.0, m.At(0, 1), 1e-12)
	assert.InDelta(t, 1.0, m.At(1, 1), 1e-12)
	assert.InDelta(t, 0.5, m.At(2, 1), 1e-12)
	assert.False(t, s.OutOfRange(m).Out())
}

func TestColumnScaler_TransformReordersColumns(t *testing.T) {
	s := New()
	require.NoError(t, s.Fit(mustTable(t, []string{"a", "b"}, [][]float64{{0, 0}, {10, 20}})))

	m, err := s.Transform(mustTable(t, []string{"b", "a"}, [][]float64{{10, 5}}))
	require.NoError(t, err)
	assert.InDelta(t, 0.5, m.At(0, 0), 1e-12)
	assert.InDelta(t, 0.5, m.At(0, 1), 1e-12)
}

func TestColumnScaler_TransformColumnMismatch(t *testing.T) {
	s := New()
	require.NoError(t, s.Fit(mustTable(t, []string{"a", "b"}, [][]float64{{0, 0}, {1, 1}})))

	_, err := s.Transform(mustTable(t, []string{"a"}, [][]float64{{0.5}}))
	require.Error(t, err)
	assert.ErrorIs(t, err, table.ErrColumnMismatch)

	_, err = s.Transform(mustTable(t, []string{"a", "c"}, [][]float64{{0.5, 0.5}}))
	assert.ErrorIs(t, err, table.ErrColumnMismatch)
}

func TestColumnScaler_NotFitted(t *testing.T) {
	_, err := New().Transform(mustTable(t, []string{"a"}, [][]float64{{1}}))
	assert.ErrorIs(t, err, ErrNotFitted)
}

func TestColumnScaler_RejectsNaN(t *testing.T) {
	err := New().Fit(mustTable(t, []string{"a"}, [][]float64{{1}, {math.NaN()}}))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNaN)
}

func TestColumnScaler_ConstantColumn(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	undo := zap.ReplaceGlobals(zap.New(core))
	defer undo()

	s := New()
	m, err := s.FitTransform(mustTable(t, []string{"elev", "bio_1"}, [][]float64{
		{500, 1},
		{500, 2},
	}))
	require.NoError(t, err)

	assert.Equal(t, 0.0, m.At(0, 0))
	assert.Equal(t, 0.0, m.At(1, 0))
	assert.Equal(t, 1, logs.FilterMessage("scaler: constant column, scaling with unit range").Len())

	// Values off the constant are offsets with unit range and are out of range.
	out, err := s.Transform(mustTable(t, []string{"elev", "bio_1"}, [][]float64{{502, 1.5}}))
	require.NoError(t, err)
	assert.Equal(t, 2.0, out.At(0, 0))
	rep := s.OutOfRange(out)
	assert.Equal(t, 1, rep.Cells)
	assert.Equal(t, []string{"elev"}, rep.Columns)
}

func TestColumnScaler_OutOfRange(t *testing.T) {
	s := New()
	require.NoError(t, s.Fit(mustTable(t, []string{"a", "b"}, [][]float64{{0, 0}, {1, 1}})))

	m, err := s.Transform(mustTable(t, []string{"a", "b"}, [][]float64{
		{-0.5, 0.5},
		{0.5, 1.5},
		{math.NaN(), 0.2},
	}))
	require.NoError(t, err)

	rep := s.OutOfRange(m)
	assert.True(t, rep.Out())
	assert.Equal(t, 2, rep.Cells)
	assert.Equal(t, []string{"a", "b"}, rep.Columns)
}

func TestColumnScaler_RefitReplacesState(t *testing.T) {
	s := New()
	require.NoError(t, s.Fit(mustTable(t, []string{"a"}, [][]float64{{0}, {1}})))
	require.NoError(t, s.Fit(mustTable(t, []string{"x", "y"}, [][]float64{{0, 2}, {4, 6}})))

	assert.Equal(t, []string{"x", "y"}, s.Columns())
	_, err := s.Transform(mustTable(t, []string{"a"}, [][]float64{{0.5}}))
	assert.ErrorIs(t, err, table.ErrColumnMismatch)
}
