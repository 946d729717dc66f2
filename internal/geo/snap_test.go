package geo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"

	"github.com/sells-group/sdm-cli/internal/table"
)

// gridTable is a 3x2 grid of cells with unit spacing.
func gridTable(t *testing.T) *table.Table {
	t.Helper()
	coords := []geom.Coord{
		{0, 0}, {1, 0}, {2, 0},
		{0, 1}, {1, 1}, {2, 1},
	}
	rows := make([][]float64, len(coords))
	for i := range rows {
		rows[i] = []float64{float64(i)}
	}
	tbl, err := table.New([]string{"bio_1"}, nil, coords, rows)
	require.NoError(t, err)
	return tbl
}

func pt(x, y float64) *geom.Point {
	return geom.NewPointFlat(geom.XY, []float64{x, y})
}

func TestSnapper_Nearest(t *testing.T) {
	s, err := NewSnapper(gridTable(t), 0)
	require.NoError(t, err)

	row, ok := s.Snap(pt(1.1, 0.9))
	require.True(t, ok)
	assert.Equal(t, 4, row)

	// Equidistant from (0,0) and (1,0): earliest row wins.
	row, ok = s.Snap(pt(0.5, 0))
	require.True(t, ok)
	assert.Equal(t, 0, row)

	_, ok = s.Snap(pt(5, 5))
	assert.False(t, ok)
}

func TestSnapper_MaxDistance(t *testing.T) {
	s, err := NewSnapper(gridTable(t), 0.25)
	require.NoError(t, err)

	_, ok := s.Snap(pt(0.5, 0.5))
	assert.False(t, ok)

	row, ok := s.Snap(pt(2.2, 1.1))
	require.True(t, ok)
	assert.Equal(t, 5, row)

	_, ok = s.Snap(pt(-0.3, 0))
	assert.False(t, ok)
}

func TestNewSnapper_Errors(t *testing.T) {
	tbl, err := table.New([]string{"a"}, nil, nil, [][]float64{{1}})
	require.NoError(t, err)
	_, err = NewSnapper(tbl, 0)
	assert.ErrorIs(t, err, ErrNoCoordinates)

	_, err = NewSnapper(gridTable(t), -1)
	assert.Error(t, err)
}

func TestOccurrences(t *testing.T) {
	Y, stats, err := Occurrences(gridTable(t), []*geom.Point{
		pt(0, 0),
		pt(0.1, 0.1), // same cell as the first point
		pt(2, 1),
		pt(10, 10), // outside
	}, 0)
	require.NoError(t, err)

	assert.Equal(t, []float64{1, 0, 0, 0, 0, 1}, Y)
	assert.Equal(t, SnapStats{Points: 4, Snapped: 3, Skipped: 1, Cells: 2, Duplicate: 1}, stats)
}

func TestPoints(t *testing.T) {
	tbl, err := table.New([]string{"x", "y", "id"}, nil, nil, [][]float64{
		{-48.5, -25.4, 1},
		{-48.6, -25.5, 2},
	})
	require.NoError(t, err)

	points, err := Points(tbl, "x", "y")
	require.NoError(t, err)
	require.Len(t, points, 2)
	assert.Equal(t, -48.6, points[1].X())
	assert.Equal(t, -25.5, points[1].Y())

	_, err = Points(tbl, "lon", "lat")
	assert.ErrorIs(t, err, table.ErrUnknownColumn)
}

func TestEncodeDecodeCell(t *testing.T) {
	data, err := EncodeCell(geom.Coord{-48.5, -25.4}, DefaultSRID)
	require.NoError(t, err)
	require.NotEmpty(t, data)

	c, err := DecodeCell(data)
	require.NoError(t, err)
	assert.Equal(t, geom.Coord{-48.5, -25.4}, c)

	data, err = EncodeCell(nil, DefaultSRID)
	assert.NoError(t, err)
	assert.Nil(t, data)

	_, err = EncodeCell(geom.Coord{1}, DefaultSRID)
	assert.Error(t, err)
}
