// Package sdm implements similarity-based species distribution models.
//
// Both models min-max scale every environmental variable to [0, 1] with the
// range observed at fit time and score each location as
//
//	1 - distance / number of variables
//
// GMS (Geometric Median Similarity) measures distance to a single reference
// point, the occurrence row with the smallest summed distance to all other
// occurrence rows (a medoid, not the continuous geometric median). It behaves
// like BIOCLIM with a median instead of a centroid.
//
// KNNS (K-Nearest-Neighbour Similarity) measures the mean distance to the k
// closest occurrence rows. With k = 1 it behaves like DOMAIN.
//
// The normalisation assumes each scaled variable contributes a distance in
// [0, 1] that the metric sums. That holds for L1. For Euclidean and Chebyshev
// the score is only approximately "fraction of variables that differ", and is
// kept that way so scores stay comparable with the L1 formulation.
package sdm

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"gonum.org/v1/gonum/mat"

	"github.com/sells-group/sdm-cli/internal/distance"
	"github.com/sells-group/sdm-cli/internal/table"
)

var (
	// ErrShape is returned when X and Y differ in length.
	ErrShape = eris.New("sdm: variable table and occurrence vector differ in length")
	// ErrNoOccurrences is returned when no row has occurrence value 1.
	ErrNoOccurrences = eris.New("sdm: no occurrence rows")
	// ErrInsufficientNeighbours is returned when KNNS has fewer occurrences than k.
	ErrInsufficientNeighbours = eris.New("sdm: fewer occurrence rows than k")
	// ErrNotFitted is returned by Predict before Fit.
	ErrNotFitted = eris.New("sdm: model not fitted")
	// ErrInvalidK is returned for k < 1.
	ErrInvalidK = eris.New("sdm: k must be positive")
	// ErrUnknownModel is returned for model kinds other than gms and knns.
	ErrUnknownModel = eris.New("sdm: unknown model kind")
)

// Model is a similarity model: fit on a variable table and a binary occurrence
// vector, then predict a similarity table for any table with the same columns.
//
// Fit replaces all previous state. Predict never mutates the model, so
// concurrent Predict calls on a fitted model are safe.
type Model interface {
	Fit(X *table.Table, Y []float64) error
	Predict(X *table.Table) (*table.Table, error)
	// Name identifies the model kind, e.g. "gms".
	Name() string
	// LayerName is the output layer name, e.g. "gms_l1" or "knns_l1_5".
	LayerName() string
}

// Model kinds.
const (
	KindGMS  = "gms"
	KindKNNS = "knns"
)

// Kinds lists the supported model kinds.
func Kinds() []string { return []string{KindGMS, KindKNNS} }

// Spec describes a model to build.
type Spec struct {
	Kind   string `yaml:"kind" json:"kind"`
	K      int    `yaml:"k,omitempty" json:"k,omitempty"`
	Metric string `yaml:"metric" json:"metric"`
}

// String renders the spec as its layer name.
func (s Spec) String() string {
	m, err := distance.Parse(s.Metric)
	metric := s.Metric
	if err == nil {
		metric = m.String()
	}
	if strings.EqualFold(s.Kind, KindKNNS) {
		return fmt.Sprintf("%s_%s_%d", KindKNNS, metric, s.K)
	}
	return fmt.Sprintf("%s_%s", strings.ToLower(s.Kind), metric)
}

// New builds an unfitted model from spec.
func New(spec Spec) (Model, error) {
	switch strings.ToLower(spec.Kind) {
	case KindGMS:
		return NewGMS(spec.Metric)
	case KindKNNS:
		return NewKNNS(spec.K, spec.Metric)
	default:
		return nil, eris.Wrapf(ErrUnknownModel, "sdm: %q", spec.Kind)
	}
}

// Specs expands model kinds and neighbour counts into specs: GMS once, KNNS
// once per distinct k. Order follows kinds, then ks.
func Specs(kinds []string, ks []int, metric string) ([]Spec, error) {
	if _, err := distance.Parse(metric); err != nil {
		return nil, err
	}
	var specs []Spec
	seen := make(map[string]bool)
	add := func(s Spec) {
		if key := s.String(); !seen[key] {
			seen[key] = true
			specs = append(specs, s)
		}
	}
	for _, kind := range kinds {
		switch strings.ToLower(kind) {
		case KindGMS:
			add(Spec{Kind: KindGMS, Metric: metric})
		case KindKNNS:
			if len(ks) == 0 {
				ks = []int{1}
			}
			for _, k := range ks {
				if k < 1 {
					return nil, eris.Wrapf(ErrInvalidK, "sdm: k=%d", k)
				}
				add(Spec{Kind: KindKNNS, K: k, Metric: metric})
			}
		default:
			return nil, eris.Wrapf(ErrUnknownModel, "sdm: %q", kind)
		}
	}
	return specs, nil
}

// occurrenceRows returns the positions where Y is exactly 1.
func occurrenceRows(Y []float64) []int {
	var rows []int
	for i, y := range Y {
		if y == 1 {
			rows = append(rows, i)
		}
	}
	return rows
}

// checkShape validates the fit inputs shared by both models.
func checkShape(X *table.Table, Y []float64) error {
	if X == nil {
		return eris.Wrap(table.ErrEmpty, "sdm: nil variable table")
	}
	if X.Len() != len(Y) {
		return eris.Wrapf(ErrShape, "sdm: %d rows, %d occurrence values", X.Len(), len(Y))
	}
	return nil
}

// similarity converts a distance into a score: 1 - d / ncols.
func similarity(d float64, ncols int) float64 {
	return 1 - d/float64(ncols)
}

// selectRows copies the listed rows of m.
func selectRows(m *mat.Dense, rows []int) *mat.Dense {
	_, c := m.Dims()
	out := mat.NewDense(len(rows), c, nil)
	for dst, src := range rows {
		out.SetRow(dst, m.RawRowView(src))
	}
	return out
}
