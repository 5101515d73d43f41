package storage

import (
	"context"
	"fmt"

	"seo-rules-engine/internal/config"
)

// Open returns the Store selected by storage.driver.
func Open(ctx context.Context, cfg config.Config) (Store, error) {
	switch cfg.Storage.Driver {
	case "sqlite":
		return NewSQLite(cfg.SQLite.Path)
	case "postgres", "":
		return NewPostgres(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
}
