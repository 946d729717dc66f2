package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	_ "modernc.org/sqlite"

	"github.com/sells-group/sdm-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY,
	species    TEXT NOT NULL DEFAULT '',
	input      TEXT NOT NULL,
	models     TEXT NOT NULL DEFAULT '[]',
	status     TEXT NOT NULL DEFAULT 'running',
	error      TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS layers (
	id           TEXT PRIMARY KEY,
	name         TEXT NOT NULL UNIQUE,
	run_id       TEXT NOT NULL DEFAULT '',
	model        TEXT NOT NULL,
	metric       TEXT NOT NULL,
	k            INTEGER NOT NULL DEFAULT 0,
	columns      TEXT NOT NULL DEFAULT '[]',
	occurrences  INTEGER NOT NULL DEFAULT 0,
	row_count    INTEGER NOT NULL DEFAULT 0,
	min          REAL,
	max          REAL,
	mean         REAL,
	std          REAL,
	out_of_range INTEGER NOT NULL DEFAULT 0,
	created_at   DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS layer_cells (
	layer_id TEXT NOT NULL,
	pos      INTEGER NOT NULL,
	label    TEXT NOT NULL,
	x        REAL,
	y        REAL,
	sim      REAL,
	PRIMARY KEY (layer_id, pos)
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_runs_species ON runs(species);
CREATE INDEX IF NOT EXISTS idx_layers_run_id ON layers(run_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateRun(ctx context.Context, run model.Run) (*model.Run, error) {
	run.ID = uuid.New().String()
	run.Status = model.RunStatusRunning
	run.CreatedAt = time.Now().UTC()
	run.UpdatedAt = run.CreatedAt

	modelsJSON, err := json.Marshal(run.Models)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal models")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (id, species, input, models, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Species, run.Input, string(modelsJSON), string(run.Status), run.CreatedAt, run.UpdatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
	}
	return &run, nil
}

func (s *SQLiteStore) FinishRun(ctx context.Context, runID string, status model.RunStatus, runErr string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, error = ?, updated_at = ? WHERE id = ?`,
		string(status), runErr, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: finish run %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, species, input, models, status, error, created_at, updated_at FROM runs WHERE id = ?`,
		runID,
	)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: run %s", runID)
	}
	return r, err
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT id, species, input, models, status, error, created_at, updated_at FROM runs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.Species != "" {
		query += ` AND species = ?`
		args = append(args, filter.Species)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limitOrDefault(filter.Limit))

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close() //nolint:errcheck

	var runs []model.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

func (s *SQLiteStore) SaveLayer(ctx context.Context, layer *model.Layer) error {
	if err := validateLayer(layer); err != nil {
		return err
	}
	columnsJSON, err := json.Marshal(layer.Columns)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal columns")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM layer_cells WHERE layer_id IN (SELECT id FROM layers WHERE name = ?)`, layer.Name,
	); err != nil {
		return eris.Wrapf(err, "sqlite: delete cells of %s", layer.Name)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM layers WHERE name = ?`, layer.Name); err != nil {
		return eris.Wrapf(err, "sqlite: delete layer %s", layer.Name)
	}

	layer.ID = uuid.New().String()
	layer.CreatedAt = time.Now().UTC()
	layer.Rows = len(layer.Cells)

	_, err = tx.ExecContext(ctx,
		`INSERT INTO layers (id, name, run_id, model, metric, k, columns, occurrences, row_count, min, max, mean, std, out_of_range, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		layer.ID, layer.Name, layer.RunID, layer.Model, layer.Metric, layer.K, string(columnsJSON),
		layer.Occurrences, layer.Rows, nullFloat(layer.Min), nullFloat(layer.Max),
		nullFloat(layer.Mean), nullFloat(layer.Std), layer.OutOfRange, layer.CreatedAt,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: insert layer %s", layer.Name)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO layer_cells (layer_id, pos, label, x, y, sim) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare cell insert")
	}
	defer stmt.Close() //nolint:errcheck

	for i, c := range layer.Cells {
		var x, y sql.NullFloat64
		if len(c.Coord) >= 2 {
			x = sql.NullFloat64{Float64: c.Coord.X(), Valid: true}
			y = sql.NullFloat64{Float64: c.Coord.Y(), Valid: true}
		}
		if _, err := stmt.ExecContext(ctx, layer.ID, i, c.Label, x, y, nullFloat(c.Sim)); err != nil {
			return eris.Wrapf(err, "sqlite: insert cell %d of %s", i, layer.Name)
		}
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit layer")
}

func (s *SQLiteStore) GetLayer(ctx context.Context, name string) (*model.Layer, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+layerColumns+` FROM layers WHERE name = ?`, name)
	meta, err := scanLayerMeta(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: layer %s", name)
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT label, x, y, sim FROM layer_cells WHERE layer_id = ? ORDER BY pos`, meta.ID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: query cells of %s", name)
	}
	defer rows.Close() //nolint:errcheck

	layer := &model.Layer{LayerMeta: *meta, Cells: make([]model.Cell, 0, meta.Rows)}
	for rows.Next() {
		var c model.Cell
		var x, y, sim sql.NullFloat64
		if err := rows.Scan(&c.Label, &x, &y, &sim); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan cell")
		}
		if x.Valid && y.Valid {
			c.Coord = geom.Coord{x.Float64, y.Float64}
		}
		c.Sim = floatOrNaN(sim)
		layer.Cells = append(layer.Cells, c)
	}
	return layer, eris.Wrap(rows.Err(), "sqlite: cells iterate")
}

func (s *SQLiteStore) ListLayers(ctx context.Context, filter LayerFilter) ([]model.LayerMeta, error) {
	query := `SELECT ` + layerColumns + ` FROM layers WHERE 1=1`
	var args []any

	if filter.RunID != "" {
		query += ` AND run_id = ?`
		args = append(args, filter.RunID)
	}
	if filter.Model != "" {
		query += ` AND model = ?`
		args = append(args, filter.Model)
	}
	query += ` ORDER BY name LIMIT ?`
	args = append(args, limitOrDefault(filter.Limit))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list layers")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.LayerMeta
	for rows.Next() {
		m, err := scanLayerMeta(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list layers iterate")
}

func (s *SQLiteStore) DeleteLayer(ctx context.Context, name string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM layer_cells WHERE layer_id IN (SELECT id FROM layers WHERE name = ?)`, name,
	); err != nil {
		return eris.Wrapf(err, "sqlite: delete cells of %s", name)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM layers WHERE name = ?`, name)
	if err != nil {
		return eris.Wrapf(err, "sqlite: delete layer %s", name)
	}
	if err := checkRowsAffected(res, "layer", name); err != nil {
		return err
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit delete")
}

// helpers

const layerColumns = `id, name, run_id, model, metric, k, columns, occurrences, row_count, min, max, mean, std, out_of_range, created_at`

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRun(row scannable) (*model.Run, error) {
	var r model.Run
	var modelsJSON string

	err := row.Scan(&r.ID, &r.Species, &r.Input, &modelsJSON, &r.Status, &r.Error, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan run")
	}
	if err := json.Unmarshal([]byte(modelsJSON), &r.Models); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal models")
	}
	return &r, nil
}

func scanLayerMeta(row scannable) (*model.LayerMeta, error) {
	var m model.LayerMeta
	var columnsJSON string
	var minV, maxV, mean, std sql.NullFloat64

	err := row.Scan(&m.ID, &m.Name, &m.RunID, &m.Model, &m.Metric, &m.K, &columnsJSON,
		&m.Occurrences, &m.Rows, &minV, &maxV, &mean, &std, &m.OutOfRange, &m.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan layer")
	}
	if err := json.Unmarshal([]byte(columnsJSON), &m.Columns); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal columns")
	}
	m.Min, m.Max = floatOrNaN(minV), floatOrNaN(maxV)
	m.Mean, m.Std = floatOrNaN(mean), floatOrNaN(std)
	return &m, nil
}

// nullFloat stores NaN as NULL.
func nullFloat(v float64) sql.NullFloat64 {
	if math.IsNaN(v) {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: v, Valid: true}
}

func floatOrNaN(v sql.NullFloat64) float64 {
	if !v.Valid {
		return math.NaN()
	}
	return v.Float64
}
