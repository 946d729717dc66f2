package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/sdm-cli/internal/config"
	"github.com/sells-group/sdm-cli/internal/model"
	"github.com/sells-group/sdm-cli/internal/store"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}

	for _, name := range []string{"run", "layers", "runs", "migrate"} {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "sdm-cli", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestRunCommand_Flags(t *testing.T) {
	for _, name := range []string{"vars", "occ-points", "predict", "species", "model", "k", "metric", "out", "format", "no-store"} {
		assert.NotNil(t, runCmd.Flags().Lookup(name), "run command should have --%s flag", name)
	}
	assert.Equal(t, "false", runCmd.Flags().Lookup("no-store").DefValue)
}

func TestLayersCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range layersCmd.Commands() {
		names[c.Name()] = true
	}
	for _, name := range []string{"list", "show", "delete"} {
		assert.True(t, names[name], "expected layers subcommand %q not found", name)
	}

	flag := layersShowCmd.Flags().Lookup("limit")
	require.NotNil(t, flag)
	assert.Equal(t, "20", flag.DefValue)
}

func TestInitStore_None(t *testing.T) {
	cfg = &config.Config{}
	cfg.Store.Driver = "none"

	st, err := initStore(context.Background())
	require.NoError(t, err)
	assert.Nil(t, st)

	_, err = requireStore(context.Background())
	assert.Error(t, err)
}

func TestInitStore_Unsupported(t *testing.T) {
	cfg = &config.Config{}
	cfg.Store.Driver = "mysql"

	_, err := initStore(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported store driver")
}

func TestRunCommand_EndToEnd(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) }) //nolint:errcheck

	vars := filepath.Join(dir, "vars.csv")
	require.NoError(t, os.WriteFile(vars, []byte("id,x,y,bio_1,occ\na,0,0,1,1\nb,1,0,2,0\nc,2,0,3,0\n"), 0o600))
	dbPath := filepath.Join(dir, "layers.db")
	t.Setenv("SDM_STORE_DATABASE_URL", dbPath)
	t.Setenv("SDM_LOG_LEVEL", "error")

	rootCmd.SetArgs([]string{"run", "--vars", vars, "--out", filepath.Join(dir, "out"), "--model", "gms", "--species", "puma"})
	require.NoError(t, rootCmd.ExecuteContext(context.Background()))

	assert.FileExists(t, filepath.Join(dir, "out", "puma_gms_l1.csv"))

	st, err := store.NewSQLite(dbPath)
	require.NoError(t, err)
	defer st.Close() //nolint:errcheck

	layer, err := st.GetLayer(context.Background(), "puma_gms_l1")
	require.NoError(t, err)
	assert.Equal(t, "gms", layer.Model)
	assert.Len(t, layer.Cells, 3)

	runs, err := st.ListRuns(context.Background(), store.RunFilter{Species: "puma"})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, model.RunStatusComplete, runs[0].Status)

	export := filepath.Join(dir, "export.csv")
	rootCmd.SetArgs([]string{"layers", "show", "puma_gms_l1", "--out", export})
	require.NoError(t, rootCmd.ExecuteContext(context.Background()))
	data, err := os.ReadFile(export)
	require.NoError(t, err)
	assert.Contains(t, string(data), "id,x,y,sim")

	rootCmd.SetArgs([]string{"layers", "delete", "puma_gms_l1"})
	require.NoError(t, rootCmd.ExecuteContext(context.Background()))
	_, err = st.GetLayer(context.Background(), "puma_gms_l1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}
