package sdm

import (
	"slices"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"

	"github.com/sells-group/sdm-cli/internal/distance"
	"github.com/sells-group/sdm-cli/internal/scaler"
	"github.com/sells-group/sdm-cli/internal/table"
)

// GMS is the Geometric Median Similarity model.
type GMS struct {
	metric distance.Metric

	mu    sync.RWMutex
	state *gmsState
}

type gmsState struct {
	scaler *scaler.ColumnScaler
	median []float64 // scaled
	row    int       // position of the median row in the fit table
	label  string
}

// NewGMS returns an unfitted GMS model. An empty metric selects L1.
func NewGMS(metric string) (*GMS, error) {
	m := distance.Default
	if metric != "" {
		var err error
		if m, err = distance.Parse(metric); err != nil {
			return nil, err
		}
	}
	return &GMS{metric: m}, nil
}

// Name implements Model.
func (g *GMS) Name() string { return KindGMS }

// LayerName implements Model.
func (g *GMS) LayerName() string { return KindGMS + "_" + g.metric.String() }

// Metric returns the configured distance metric.
func (g *GMS) Metric() distance.Metric { return g.metric }

// Fit selects the occurrence row with the smallest summed distance to every
// other occurrence row. Ties go to the earliest row. The pairwise matrix is
// O(n^2) in the number of occurrences.
func (g *GMS) Fit(X *table.Table, Y []float64) error {
	s, occ, rows, err := fitOccurrences(X, Y)
	if err != nil {
		return eris.Wrap(err, "gms: fit")
	}

	dist, err := distance.Pairwise(occ, occ, g.metric)
	if err != nil {
		return eris.Wrap(err, "gms: pairwise distances")
	}
	n, _ := dist.Dims()
	sums := make([]float64, n)
	for i := range sums {
		sums[i] = floats.Sum(dist.RawRowView(i))
	}
	best := floats.MinIdx(sums)

	state := &gmsState{
		scaler: s,
		median: slices.Clone(occ.RawRowView(best)),
		row:    rows[best],
		label:  X.Label(rows[best]),
	}

	g.mu.Lock()
	g.state = state
	g.mu.Unlock()

	zap.L().Debug("gms: fitted",
		zap.String("metric", g.metric.String()),
		zap.Int("occurrences", n),
		zap.String("median_row", state.label),
		zap.Float64("median_distance_sum", sums[best]),
	)
	return nil
}

// Predict scores every row of X by similarity to the fitted median.
func (g *GMS) Predict(X *table.Table) (*table.Table, error) {
	g.mu.RLock()
	state := g.state
	g.mu.RUnlock()
	if state == nil {
		return nil, eris.Wrap(ErrNotFitted, "gms: predict")
	}

	scaled, err := scaleForPredict(g.LayerName(), state.scaler, X)
	if err != nil {
		return nil, err
	}

	ncols := len(state.median)
	sim := make([]float64, X.Len())
	for i := range sim {
		sim[i] = similarity(g.metric.Between(scaled.RawRowView(i), state.median), ncols)
	}
	return table.Similarity(X, sim)
}

// Median returns the scaled reference point, or nil before Fit.
func (g *GMS) Median() []float64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.state == nil {
		return nil
	}
	return slices.Clone(g.state.median)
}

// MedianRow returns the position and label of the fit-table row chosen as the
// median. ok is false before Fit.
func (g *GMS) MedianRow() (pos int, label string, ok bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.state == nil {
		return 0, "", false
	}
	return g.state.row, g.state.label, true
}

// Columns returns the fitted variable names, or nil before Fit.
func (g *GMS) Columns() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.state == nil {
		return nil
	}
	return g.state.scaler.Columns()
}

// Range reports the cells of X outside the fitted range.
func (g *GMS) Range(X *table.Table) (scaler.RangeReport, error) {
	g.mu.RLock()
	state := g.state
	g.mu.RUnlock()
	if state == nil {
		return scaler.RangeReport{}, eris.Wrap(ErrNotFitted, "gms: range")
	}
	return rangeReport(state.scaler, X)
}
