// Package distance provides the distance metrics available to the similarity
// models and pairwise distance matrices between sets of rows.
package distance

import (
	"math"
	"strings"

	"github.com/rotisserie/eris"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// ErrUnknownMetric is returned for metric names outside the supported set.
var ErrUnknownMetric = eris.New("distance: unknown metric")

// Metric identifies a distance metric.
type Metric int

const (
	// L1 is the Manhattan / city-block distance: sum of absolute differences.
	L1 Metric = iota
	// Euclidean is the L2 distance.
	Euclidean
	// Chebyshev is the L-infinity distance: largest absolute difference.
	Chebyshev
)

// Default is the metric used when none is configured.
const Default = L1

var aliases = map[string]Metric{
	"l1":        L1,
	"manhattan": L1,
	"cityblock": L1,
	"euclidean": Euclidean,
	"l2":        Euclidean,
	"chebyshev": Chebyshev,
	"linf":      Chebyshev,
}

// Parse resolves a metric name (case-insensitive, aliases accepted).
func Parse(name string) (Metric, error) {
	m, ok := aliases[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return 0, eris.Wrapf(ErrUnknownMetric, "distance: %q", name)
	}
	return m, nil
}

// Names returns the canonical metric names.
func Names() []string {
	return []string{L1.String(), Euclidean.String(), Chebyshev.String()}
}

// String returns the canonical name, used in layer names.
func (m Metric) String() string {
	switch m {
	case L1:
		return "l1"
	case Euclidean:
		return "euclidean"
	case Chebyshev:
		return "chebyshev"
	default:
		return "unknown"
	}
}

// norm returns the L-norm passed to floats.Distance.
func (m Metric) norm() float64 {
	switch m {
	case Euclidean:
		return 2
	case Chebyshev:
		return math.Inf(1)
	default:
		return 1
	}
}

// Between returns the distance between a and b. Both must have the same length.
func (m Metric) Between(a, b []float64) float64 {
	return floats.Distance(a, b, m.norm())
}

// Pairwise returns the len(a) x len(b) matrix of distances between the rows of
// a and the rows of b. Memory and time are O(rows(a) * rows(b)); no spatial
// index is used.
func Pairwise(a, b mat.RawMatrixer, m Metric) (*mat.Dense, error) {
	ra, rb := a.RawMatrix(), b.RawMatrix()
	if ra.Cols != rb.Cols {
		return nil, eris.Errorf("distance: dimension mismatch: %d vs %d columns", ra.Cols, rb.Cols)
	}
	if ra.Rows == 0 || rb.Rows == 0 {
		return nil, eris.New("distance: empty input")
	}

	out := mat.NewDense(ra.Rows, rb.Rows, nil)
	for i := 0; i < ra.Rows; i++ {
		x := ra.Data[i*ra.Stride : i*ra.Stride+ra.Cols]
		row := out.RawRowView(i)
		for j := 0; j < rb.Rows; j++ {
			row[j] = m.Between(x, rb.Data[j*rb.Stride:j*rb.Stride+rb.Cols])
		}
	}
	return out, nil
}
