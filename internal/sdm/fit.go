package sdm

import (
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"github.com/sells-group/sdm-cli/internal/scaler"
	"github.com/sells-group/sdm-cli/internal/table"
)

// fitOccurrences fits a fresh scaler on all of X and returns it with the
// scaled occurrence rows, in original row order, and their positions in X.
func fitOccurrences(X *table.Table, Y []float64) (*scaler.ColumnScaler, *mat.Dense, []int, error) {
	if err := checkShape(X, Y); err != nil {
		return nil, nil, nil, err
	}
	rows := occurrenceRows(Y)
	if len(rows) == 0 {
		return nil, nil, nil, eris.Wrapf(ErrNoOccurrences, "sdm: %d rows, none equal to 1", len(Y))
	}

	s := scaler.New()
	scaled, err := s.FitTransform(X)
	if err != nil {
		return nil, nil, nil, eris.Wrap(err, "sdm: fit scaler")
	}
	return s, selectRows(scaled, rows), rows, nil
}

// scaleForPredict scales X with a fitted scaler and logs the range advisory
// when any value lies outside the fitted range. The advisory never fails the call.
func scaleForPredict(layer string, s *scaler.ColumnScaler, X *table.Table) (*mat.Dense, error) {
	if X == nil {
		return nil, eris.Wrap(table.ErrEmpty, "sdm: nil variable table")
	}
	scaled, err := s.Transform(X)
	if err != nil {
		return nil, eris.Wrapf(err, "sdm: %s predict", layer)
	}
	if rep := s.OutOfRange(scaled); rep.Out() {
		zap.L().Warn(RangeWarning,
			zap.String("layer", layer),
			zap.Int("cells", rep.Cells),
			zap.Strings("columns", rep.Columns),
		)
	}
	return scaled, nil
}

// RangeWarning is the log message emitted when predict-time values fall
// outside the range seen at fit time.
const RangeWarning = "sdm: values beyond fitted model range"

// RangeReporter is implemented by fitted models that can report how much of
// a table lies outside their fitted range without scoring it.
type RangeReporter interface {
	Range(X *table.Table) (scaler.RangeReport, error)
}

func rangeReport(s *scaler.ColumnScaler, X *table.Table) (scaler.RangeReport, error) {
	if s == nil {
		return scaler.RangeReport{}, ErrNotFitted
	}
	scaled, err := s.Transform(X)
	if err != nil {
		return scaler.RangeReport{}, eris.Wrap(err, "sdm: range report")
	}
	return s.OutOfRange(scaled), nil
}
