package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/palengke-labs/pricewatch/internal/config"
	"github.com/palengke-labs/pricewatch/internal/db"
)

// Open builds the store named by configuration and runs migrations.
func Open(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	var st Store
	switch cfg.Driver {
	case "", "sqlite":
		s, err := NewSQLite(cfg.Path)
		if err != nil {
			return nil, err
		}
		st = s
	case "postgres":
		pool, err := db.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		st = NewPostgres(pool)
	default:
		return nil, eris.Errorf("store: unknown driver %q", cfg.Driver)
	}

	if err := st.Migrate(ctx); err != nil {
		st.Close() //nolint:errcheck
		return nil, err
	}
	return st, nil
}
