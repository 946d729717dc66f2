package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/sdm-cli/internal/store"
)

// initStore opens and migrates the configured layer store. It returns a nil
// store when the driver is "none".
func initStore(ctx context.Context) (store.Store, error) {
	var (
		st  store.Store
		err error
	)
	switch cfg.Store.Driver {
	case "none", "":
		return nil, nil
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "sdm.db"
		}
		st, err = store.NewSQLite(dsn)
	case "postgres":
		st, err = store.NewPostgres(ctx, cfg.Store.DatabaseURL, store.PostgresOptions{
			Schema: cfg.Store.Schema,
			SRID:   cfg.Geo.SRID,
			Pool:   &cfg.Store.Pool,
			Retry:  cfg.Store.Retry.Policy(),
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
	if err != nil {
		return nil, err
	}

	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

// requireStore opens the store for commands that cannot run without one.
func requireStore(ctx context.Context) (store.Store, error) {
	if err := cfg.Validate("store"); err != nil {
		return nil, err
	}
	return initStore(ctx)
}
