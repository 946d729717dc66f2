// Package geo maps occurrence points onto the cells of a variable table and
// encodes cell geometries for spatial stores.
package geo

import (
	"math"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"

	"github.com/sells-group/sdm-cli/internal/table"
)

// ErrNoCoordinates is returned when a table has no cell coordinates.
var ErrNoCoordinates = eris.New("geo: table has no coordinates")

// Snapper finds the table cell nearest to a point.
type Snapper struct {
	coords  []geom.Coord
	bounds  *geom.Bounds
	maxDist float64
}

// NewSnapper indexes the cell coordinates of t. maxDist > 0 limits how far a
// point may lie from its cell; 0 accepts the nearest cell at any distance
// within the table's bounding box.
func NewSnapper(t *table.Table, maxDist float64) (*Snapper, error) {
	if !t.HasCoords() {
		return nil, ErrNoCoordinates
	}
	if maxDist < 0 {
		return nil, eris.Errorf("geo: negative snap distance %g", maxDist)
	}

	coords := t.Coords()
	bounds := geom.NewBounds(geom.XY)
	for _, c := range coords {
		bounds.Extend(geom.NewPointFlat(geom.XY, []float64{c.X(), c.Y()}))
	}
	return &Snapper{coords: coords, bounds: bounds, maxDist: maxDist}, nil
}

// Snap returns the row of the cell nearest to p. Ties go to the earliest row.
// ok is false when p lies outside the table's bounding box grown by the snap
// distance, or farther than the snap distance from every cell.
func (s *Snapper) Snap(p *geom.Point) (row int, ok bool) {
	x, y := p.X(), p.Y()
	if x < s.bounds.Min(0)-s.maxDist || x > s.bounds.Max(0)+s.maxDist ||
		y < s.bounds.Min(1)-s.maxDist || y > s.bounds.Max(1)+s.maxDist {
		return 0, false
	}

	best, bestDist := -1, math.Inf(1)
	for i, c := range s.coords {
		if d := math.Hypot(c.X()-x, c.Y()-y); d < bestDist {
			best, bestDist = i, d
		}
	}
	if best < 0 || (s.maxDist > 0 && bestDist > s.maxDist) {
		return 0, false
	}
	return best, true
}

// SnapStats summarises an occurrence rasterisation.
type SnapStats struct {
	Points    int `json:"points" yaml:"points"`
	Snapped   int `json:"snapped" yaml:"snapped"`
	Skipped   int `json:"skipped" yaml:"skipped"`
	Cells     int `json:"cells" yaml:"cells"`
	Duplicate int `json:"duplicate" yaml:"duplicate"`
}

// Occurrences builds the binary occurrence vector of t from points: 1 for every
// cell that received at least one point, 0 elsewhere.
func Occurrences(t *table.Table, points []*geom.Point, maxDist float64) ([]float64, SnapStats, error) {
	s, err := NewSnapper(t, maxDist)
	if err != nil {
		return nil, SnapStats{}, err
	}

	Y := make([]float64, t.Len())
	stats := SnapStats{Points: len(points)}
	for i, p := range points {
		row, ok := s.Snap(p)
		if !ok {
			stats.Skipped++
			zap.L().Warn("geo: occurrence point outside table extent, skipped",
				zap.Int("point", i),
				zap.Float64("x", p.X()),
				zap.Float64("y", p.Y()),
			)
			continue
		}
		stats.Snapped++
		if Y[row] == 1 {
			stats.Duplicate++
			continue
		}
		Y[row] = 1
		stats.Cells++
	}
	return Y, stats, nil
}

// Points converts two coordinate columns of t into points.
func Points(t *table.Table, xCol, yCol string) ([]*geom.Point, error) {
	xs, err := t.Column(xCol)
	if err != nil {
		return nil, eris.Wrap(err, "geo: points")
	}
	ys, err := t.Column(yCol)
	if err != nil {
		return nil, eris.Wrap(err, "geo: points")
	}

	points := make([]*geom.Point, 0, len(xs))
	for i := range xs {
		if math.IsNaN(xs[i]) || math.IsNaN(ys[i]) {
			return nil, eris.Errorf("geo: point %d has a missing coordinate", i)
		}
		points = append(points, geom.NewPointFlat(geom.XY, []float64{xs[i], ys[i]}))
	}
	return points, nil
}
