package store

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/sdm-cli/internal/db"
	"github.com/sells-group/sdm-cli/internal/geo"
	"github.com/sells-group/sdm-cli/internal/model"
	"github.com/sells-group/sdm-cli/internal/resilience"
)

// DefaultSchema holds the postgres tables unless configured otherwise.
const DefaultSchema = "sdm"

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
	schema  string
	srid    int
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// PostgresOptions configures NewPostgres.
type PostgresOptions struct {
	Schema string
	SRID   int
	Pool   *PoolConfig
	// Retry governs the initial ping. Zero value uses the resilience defaults.
	Retry resilience.RetryConfig
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, opts PostgresOptions) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if opts.Pool != nil {
		if opts.Pool.MaxConns > 0 {
			maxConns = opts.Pool.MaxConns
		}
		if opts.Pool.MinConns > 0 {
			minConns = opts.Pool.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	retry := opts.Retry
	if retry.OnRetry == nil {
		retry.OnRetry = resilience.RetryLogger("postgres: ping")
	}
	if err := resilience.Do(ctx, retry, pool.Ping); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return newPostgresStore(pool, pool.Close, opts), nil
}

func newPostgresStore(pool db.Pool, closeFn func(), opts PostgresOptions) *PostgresStore {
	if opts.Schema == "" {
		opts.Schema = DefaultSchema
	}
	if opts.SRID == 0 {
		opts.SRID = geo.DefaultSRID
	}
	return &PostgresStore{pool: pool, closeFn: closeFn, schema: opts.Schema, srid: opts.SRID}
}

// Pool returns the underlying database pool.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

// table returns the sanitized, schema-qualified name of a store table.
func (s *PostgresStore) table(name string) string {
	return db.Identifier(s.schema, name).Sanitize()
}

// q expands %[1]s (runs), %[2]s (layers) and %[3]s (layer_cells) in query.
func (s *PostgresStore) q(query string) string {
	return fmt.Sprintf(query, s.table("runs"), s.table("layers"), s.table("layer_cells"))
}

const postgresMigration = `
CREATE SCHEMA IF NOT EXISTS %[4]s;

CREATE TABLE IF NOT EXISTS %[1]s (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	species    TEXT NOT NULL DEFAULT '',
	input      TEXT NOT NULL,
	models     TEXT[] NOT NULL DEFAULT '{}',
	status     TEXT NOT NULL DEFAULT 'running',
	error      TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS %[2]s (
	id           TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	name         TEXT NOT NULL UNIQUE,
	run_id       TEXT NOT NULL DEFAULT '',
	model        TEXT NOT NULL,
	metric       TEXT NOT NULL,
	k            INTEGER NOT NULL DEFAULT 0,
	columns      TEXT[] NOT NULL DEFAULT '{}',
	occurrences  INTEGER NOT NULL DEFAULT 0,
	row_count    INTEGER NOT NULL DEFAULT 0,
	min          DOUBLE PRECISION,
	max          DOUBLE PRECISION,
	mean         DOUBLE PRECISION,
	std          DOUBLE PRECISION,
	out_of_range INTEGER NOT NULL DEFAULT 0,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS %[3]s (
	layer_id TEXT NOT NULL REFERENCES %[2]s(id) ON DELETE CASCADE,
	pos      INTEGER NOT NULL,
	label    TEXT NOT NULL,
	geom     BYTEA,
	sim      DOUBLE PRECISION,
	PRIMARY KEY (layer_id, pos)
);

CREATE INDEX IF NOT EXISTS idx_sdm_runs_status ON %[1]s(status);
CREATE INDEX IF NOT EXISTS idx_sdm_layers_run_id ON %[2]s(run_id);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	ddl := fmt.Sprintf(postgresMigration,
		s.table("runs"), s.table("layers"), s.table("layer_cells"), pgx.Identifier{s.schema}.Sanitize())
	_, err := s.pool.Exec(ctx, ddl)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateRun(ctx context.Context, run model.Run) (*model.Run, error) {
	run.ID = uuid.New().String()
	run.Status = model.RunStatusRunning
	run.CreatedAt = time.Now().UTC()
	run.UpdatedAt = run.CreatedAt
	if run.Models == nil {
		run.Models = []string{}
	}

	_, err := s.pool.Exec(ctx,
		s.q(`INSERT INTO %[1]s (id, species, input, models, status, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`),
		run.ID, run.Species, run.Input, run.Models, string(run.Status), run.CreatedAt, run.UpdatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
	}
	return &run, nil
}

func (s *PostgresStore) FinishRun(ctx context.Context, runID string, status model.RunStatus, runErr string) error {
	tag, err := s.pool.Exec(ctx,
		s.q(`UPDATE %[1]s SET status = $1, error = $2, updated_at = $3 WHERE id = $4`),
		string(status), runErr, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: finish run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "postgres: run %s", runID)
	}
	return nil
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.pool.QueryRow(ctx,
		s.q(`SELECT id, species, input, models, status, error, created_at, updated_at FROM %[1]s WHERE id = $1`),
		runID,
	)
	var r model.Run
	if err := row.Scan(&r.ID, &r.Species, &r.Input, &r.Models, &r.Status, &r.Error, &r.CreatedAt, &r.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, eris.Wrapf(ErrNotFound, "postgres: get run %s", runID)
		}
		return nil, eris.Wrapf(err, "postgres: get run %s", runID)
	}
	return &r, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := s.q(`SELECT id, species, input, models, status, error, created_at, updated_at FROM %[1]s WHERE true`)
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	if filter.Species != "" {
		query += fmt.Sprintf(` AND species = $%d`, argIdx)
		args = append(args, filter.Species)
		argIdx++
	}
	query += ` ORDER BY created_at DESC`

	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limitOrDefault(filter.Limit))
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		var r model.Run
		if err := rows.Scan(&r.ID, &r.Species, &r.Input, &r.Models, &r.Status, &r.Error, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

// SaveLayer replaces any layer of the same name inside one transaction and
// bulk-loads the cells with COPY. Cell centres are stored as EWKB points.
func (s *PostgresStore) SaveLayer(ctx context.Context, layer *model.Layer) error {
	if err := validateLayer(layer); err != nil {
		return err
	}

	cells := make([][]any, len(layer.Cells))
	id := uuid.New().String()
	for i, c := range layer.Cells {
		g, err := geo.EncodeCell(c.Coord, s.srid)
		if err != nil {
			return eris.Wrapf(err, "postgres: encode cell %d of %s", i, layer.Name)
		}
		cells[i] = []any{id, int32(i), c.Label, g, nanToNil(c.Sim)}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, s.q(`DELETE FROM %[2]s WHERE name = $1`), layer.Name); err != nil {
		return eris.Wrapf(err, "postgres: delete layer %s", layer.Name)
	}

	columns := layer.Columns
	if columns == nil {
		columns = []string{}
	}
	createdAt := time.Now().UTC()
	_, err = tx.Exec(ctx,
		s.q(`INSERT INTO %[2]s (id, name, run_id, model, metric, k, columns, occurrences, row_count, min, max, mean, std, out_of_range, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`),
		id, layer.Name, layer.RunID, layer.Model, layer.Metric, layer.K, columns,
		layer.Occurrences, len(layer.Cells), nanToNil(layer.Min), nanToNil(layer.Max),
		nanToNil(layer.Mean), nanToNil(layer.Std), layer.OutOfRange, createdAt,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: insert layer %s", layer.Name)
	}

	if _, err := db.CopyFrom(ctx, tx, s.schema, "layer_cells",
		[]string{"layer_id", "pos", "label", "geom", "sim"}, cells); err != nil {
		return eris.Wrapf(err, "postgres: copy cells of %s", layer.Name)
	}

	if err := tx.Commit(ctx); err != nil {
		return eris.Wrap(err, "postgres: commit layer")
	}
	layer.ID = id
	layer.CreatedAt = createdAt
	layer.Rows = len(layer.Cells)
	return nil
}

func (s *PostgresStore) GetLayer(ctx context.Context, name string) (*model.Layer, error) {
	row := s.pool.QueryRow(ctx, s.q(`SELECT `+pgLayerColumns+` FROM %[2]s WHERE name = $1`), name)
	meta, err := scanPgLayerMeta(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, eris.Wrapf(ErrNotFound, "postgres: get layer %s", name)
		}
		return nil, eris.Wrapf(err, "postgres: get layer %s", name)
	}

	rows, err := s.pool.Query(ctx,
		s.q(`SELECT label, geom, sim FROM %[3]s WHERE layer_id = $1 ORDER BY pos`), meta.ID)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: query cells of %s", name)
	}
	defer rows.Close()

	layer := &model.Layer{LayerMeta: *meta, Cells: make([]model.Cell, 0, meta.Rows)}
	for rows.Next() {
		var c model.Cell
		var g []byte
		var sim *float64
		if err := rows.Scan(&c.Label, &g, &sim); err != nil {
			return nil, eris.Wrap(err, "postgres: scan cell")
		}
		if c.Coord, err = geo.DecodeCell(g); err != nil {
			return nil, eris.Wrapf(err, "postgres: cell %q", c.Label)
		}
		c.Sim = nilToNaN(sim)
		layer.Cells = append(layer.Cells, c)
	}
	return layer, eris.Wrap(rows.Err(), "postgres: cells iterate")
}

func (s *PostgresStore) ListLayers(ctx context.Context, filter LayerFilter) ([]model.LayerMeta, error) {
	query := s.q(`SELECT ` + pgLayerColumns + ` FROM %[2]s WHERE true`)
	args := []any{}
	argIdx := 1

	if filter.RunID != "" {
		query += fmt.Sprintf(` AND run_id = $%d`, argIdx)
		args = append(args, filter.RunID)
		argIdx++
	}
	if filter.Model != "" {
		query += fmt.Sprintf(` AND model = $%d`, argIdx)
		args = append(args, filter.Model)
		argIdx++
	}
	query += fmt.Sprintf(` ORDER BY name LIMIT $%d`, argIdx)
	args = append(args, limitOrDefault(filter.Limit))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list layers")
	}
	defer rows.Close()

	var out []model.LayerMeta
	for rows.Next() {
		m, err := scanPgLayerMeta(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan layer")
		}
		out = append(out, *m)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list layers iterate")
}

// DeleteLayer removes a layer; its cells go with it through ON DELETE CASCADE.
func (s *PostgresStore) DeleteLayer(ctx context.Context, name string) error {
	tag, err := s.pool.Exec(ctx, s.q(`DELETE FROM %[2]s WHERE name = $1`), name)
	if err != nil {
		return eris.Wrapf(err, "postgres: delete layer %s", name)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "postgres: layer %s", name)
	}
	return nil
}

const pgLayerColumns = `id, name, run_id, model, metric, k, columns, occurrences, row_count, min, max, mean, std, out_of_range, created_at`

func scanPgLayerMeta(row pgx.Row) (*model.LayerMeta, error) {
	var m model.LayerMeta
	var minV, maxV, mean, std *float64
	err := row.Scan(&m.ID, &m.Name, &m.RunID, &m.Model, &m.Metric, &m.K, &m.Columns,
		&m.Occurrences, &m.Rows, &minV, &maxV, &mean, &std, &m.OutOfRange, &m.CreatedAt)
	if err != nil {
		return nil, err
	}
	m.Min, m.Max = nilToNaN(minV), nilToNaN(maxV)
	m.Mean, m.Std = nilToNaN(mean), nilToNaN(std)
	return &m, nil
}

func nanToNil(v float64) *float64 {
	if math.IsNaN(v) {
		return nil
	}
	return &v
}

func nilToNaN(v *float64) float64 {
	if v == nil {
		return math.NaN()
	}
	return *v
}
