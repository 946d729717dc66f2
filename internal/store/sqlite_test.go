package store

import (
	"context"
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"

	"github.com/sells-group/sdm-cli/internal/model"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func testLayer(name string) *model.Layer {
	return &model.Layer{
		LayerMeta: model.LayerMeta{
			Name: name, Model: "gms", Metric: "l1", Columns: []string{"bio_1", "bio_12"},
			Occurrences: 1, Min: 0.25, Max: 1, Mean: 0.625, Std: math.NaN(),
		},
		Cells: []model.Cell{
			{Label: "a", Coord: geom.Coord{-48.5, -25.4}, Sim: 1},
			{Label: "b", Coord: geom.Coord{-48.4, -25.4}, Sim: 0.25},
			{Label: "c", Sim: math.NaN()},
		},
	}
}

func TestSQLite_Migrate_Idempotent(t *testing.T) {
	st := newTestSQLiteStore(t)
	assert.NoError(t, st.Migrate(context.Background()))
}

func TestSQLite_Runs(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	run, err := st.CreateRun(ctx, model.Run{Species: "puma", Input: "vars.csv", Models: []string{"gms_l1", "knns_l1_1"}})
	require.NoError(t, err)
	assert.NotEmpty(t, run.ID)
	assert.Equal(t, model.RunStatusRunning, run.Status)

	require.NoError(t, st.FinishRun(ctx, run.ID, model.RunStatusFailed, "sdm: no occurrences"))

	got, err := st.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusFailed, got.Status)
	assert.Equal(t, "sdm: no occurrences", got.Error)
	assert.Equal(t, []string{"gms_l1", "knns_l1_1"}, got.Models)
	assert.True(t, got.Finished())

	_, err = st.CreateRun(ctx, model.Run{Species: "jaguar", Input: "vars.csv"})
	require.NoError(t, err)

	all, err := st.ListRuns(ctx, RunFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	pumas, err := st.ListRuns(ctx, RunFilter{Species: "puma"})
	require.NoError(t, err)
	require.Len(t, pumas, 1)
	assert.Equal(t, run.ID, pumas[0].ID)

	failed, err := st.ListRuns(ctx, RunFilter{Status: model.RunStatusFailed, Limit: 1})
	require.NoError(t, err)
	assert.Len(t, failed, 1)
}

func TestSQLite_RunNotFound(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	_, err := st.GetRun(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	err = st.FinishRun(ctx, "missing", model.RunStatusComplete, "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLite_SaveAndGetLayer(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	in := testLayer("gms_l1")
	require.NoError(t, st.SaveLayer(ctx, in))
	assert.NotEmpty(t, in.ID)
	assert.Equal(t, 3, in.Rows)

	got, err := st.GetLayer(ctx, "gms_l1")
	require.NoError(t, err)
	assert.Equal(t, in.ID, got.ID)
	assert.Equal(t, []string{"bio_1", "bio_12"}, got.Columns)
	assert.Equal(t, 0.625, got.Mean)
	assert.True(t, math.IsNaN(got.Std))

	require.Len(t, got.Cells, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{got.Cells[0].Label, got.Cells[1].Label, got.Cells[2].Label})
	assert.Equal(t, geom.Coord{-48.4, -25.4}, got.Cells[1].Coord)
	assert.Equal(t, 0.25, got.Cells[1].Sim)
	assert.Nil(t, got.Cells[2].Coord)
	assert.True(t, math.IsNaN(got.Cells[2].Sim))
}

func TestSQLite_SaveLayer_Replaces(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.SaveLayer(ctx, testLayer("gms_l1")))

	second := testLayer("gms_l1")
	second.Cells = second.Cells[:1]
	second.RunID = "run-2"
	require.NoError(t, st.SaveLayer(ctx, second))

	got, err := st.GetLayer(ctx, "gms_l1")
	require.NoError(t, err)
	assert.Equal(t, "run-2", got.RunID)
	assert.Len(t, got.Cells, 1)

	layers, err := st.ListLayers(ctx, LayerFilter{})
	require.NoError(t, err)
	assert.Len(t, layers, 1)
}

func TestSQLite_ListAndDeleteLayers(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	gms := testLayer("gms_l1")
	gms.RunID = "r1"
	require.NoError(t, st.SaveLayer(ctx, gms))

	knns := testLayer("knns_l1_1")
	knns.Model = "knns"
	knns.K = 1
	knns.RunID = "r2"
	require.NoError(t, st.SaveLayer(ctx, knns))

	layers, err := st.ListLayers(ctx, LayerFilter{})
	require.NoError(t, err)
	require.Len(t, layers, 2)
	assert.Equal(t, "gms_l1", layers[0].Name)
	assert.Equal(t, 1, layers[1].K)

	byRun, err := st.ListLayers(ctx, LayerFilter{RunID: "r2"})
	require.NoError(t, err)
	require.Len(t, byRun, 1)
	assert.Equal(t, "knns_l1_1", byRun[0].Name)

	byModel, err := st.ListLayers(ctx, LayerFilter{Model: "gms"})
	require.NoError(t, err)
	assert.Len(t, byModel, 1)

	require.NoError(t, st.DeleteLayer(ctx, "gms_l1"))
	assert.ErrorIs(t, st.DeleteLayer(ctx, "gms_l1"), ErrNotFound)

	_, err = st.GetLayer(ctx, "gms_l1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLite_SaveLayer_Invalid(t *testing.T) {
	st := newTestSQLiteStore(t)
	assert.Error(t, st.SaveLayer(context.Background(), &model.Layer{}))
}

var _ Store = (*SQLiteStore)(nil)
var _ Store = (*PostgresStore)(nil)
