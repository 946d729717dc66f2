package sdm

import (
	"slices"
	"strconv"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/sells-group/sdm-cli/internal/distance"
	"github.com/sells-group/sdm-cli/internal/scaler"
	"github.com/sells-group/sdm-cli/internal/table"
)

// KNNS is the K-Nearest-Neighbour Similarity model.
type KNNS struct {
	k      int
	metric distance.Metric

	mu    sync.RWMutex
	state *knnsState
}

type knnsState struct {
	scaler *scaler.ColumnScaler
	occ    *mat.Dense // scaled occurrence rows
}

// NewKNNS returns an unfitted KNNS model. k must be at least 1; an empty
// metric selects L1.
func NewKNNS(k int, metric string) (*KNNS, error) {
	if k < 1 {
		return nil, eris.Wrapf(ErrInvalidK, "knns: k=%d", k)
	}
	m := distance.Default
	if metric != "" {
		var err error
		if m, err = distance.Parse(metric); err != nil {
			return nil, err
		}
	}
	return &KNNS{k: k, metric: m}, nil
}

// Name implements Model.
func (m *KNNS) Name() string { return KindKNNS }

// LayerName implements Model.
func (m *KNNS) LayerName() string {
	return KindKNNS + "_" + m.metric.String() + "_" + strconv.Itoa(m.k)
}

// K returns the neighbour count.
func (m *KNNS) K() int { return m.k }

// Metric returns the configured distance metric.
func (m *KNNS) Metric() distance.Metric { return m.metric }

// Fit stores every scaled occurrence row. Fewer occurrences than k is an error.
func (m *KNNS) Fit(X *table.Table, Y []float64) error {
	s, occ, rows, err := fitOccurrences(X, Y)
	if err != nil {
		return eris.Wrap(err, "knns: fit")
	}
	if len(rows) < m.k {
		return eris.Wrapf(ErrInsufficientNeighbours, "knns: %d occurrences, k=%d", len(rows), m.k)
	}

	m.mu.Lock()
	m.state = &knnsState{scaler: s, occ: occ}
	m.mu.Unlock()

	zap.L().Debug("knns: fitted",
		zap.String("metric", m.metric.String()),
		zap.Int("k", m.k),
		zap.Int("occurrences", len(rows)),
	)
	return nil
}

// Predict scores every row of X by similarity to the mean distance of its k
// nearest occurrence rows. The distance matrix is rows(X) x occurrences.
func (m *KNNS) Predict(X *table.Table) (*table.Table, error) {
	m.mu.RLock()
	state := m.state
	m.mu.RUnlock()
	if state == nil {
		return nil, eris.Wrap(ErrNotFitted, "knns: predict")
	}

	scaled, err := scaleForPredict(m.LayerName(), state.scaler, X)
	if err != nil {
		return nil, err
	}

	dist, err := distance.Pairwise(scaled, state.occ, m.metric)
	if err != nil {
		return nil, eris.Wrap(err, "knns: pairwise distances")
	}

	_, ncols := state.occ.Dims()
	sim := make([]float64, X.Len())
	for i := range sim {
		row := slices.Clone(dist.RawRowView(i))
		slices.Sort(row)
		sim[i] = similarity(stat.Mean(row[:m.k], nil), ncols)
	}
	return table.Similarity(X, sim)
}

// Occurrences returns the number of stored occurrence rows, 0 before Fit.
func (m *KNNS) Occurrences() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.state == nil {
		return 0
	}
	r, _ := m.state.occ.Dims()
	return r
}

// Columns returns the fitted variable names, or nil before Fit.
func (m *KNNS) Columns() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.state == nil {
		return nil
	}
	return m.state.scaler.Columns()
}

// Range reports the cells of X outside the fitted range.
func (m *KNNS) Range(X *table.Table) (scaler.RangeReport, error) {
	m.mu.RLock()
	state := m.state
	m.mu.RUnlock()
	if state == nil {
		return scaler.RangeReport{}, eris.Wrap(ErrNotFitted, "knns: range")
	}
	return rangeReport(state.scaler, X)
}
