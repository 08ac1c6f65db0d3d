package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/verte-labs/refillery/internal/refdata"
	"github.com/verte-labs/refillery/internal/store"
)

func initStore(ctx context.Context) (store.Store, error) {
	var (
		st  store.Store
		err error
	)
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "refillery.db"
		}
		st, err = store.NewSQLite(dsn)
	case "postgres":
		st, err = store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close() //nolint:errcheck
		return nil, err
	}
	return st, nil
}

// loadRefData loads the versioned reference files named in config.
func loadRefData() (*refdata.BrandTiers, *refdata.Taxonomy, error) {
	tiers, err := refdata.LoadBrandTiers(cfg.RefData.BrandTiersPath)
	if err != nil {
		return nil, nil, err
	}
	taxonomy, err := refdata.LoadTaxonomy(cfg.RefData.TaxonomyPath)
	if err != nil {
		return nil, nil, err
	}
	return tiers, taxonomy, nil
}
