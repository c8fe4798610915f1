package cache

import (
	"context"
	"fmt"

	"github.com/kozaktomas/face-search/internal/config"
)

// Open builds the cache described by cfg: PostgreSQL when a database URL is
// configured, the SQLite file at cfg.Cache.Path otherwise.
func Open(ctx context.Context, cfg *config.Config) (*Cache, error) {
	var (
		backend Backend
		err     error
	)
	if cfg.Database.URL != "" {
		backend, err = OpenPostgres(ctx, &cfg.Database)
	} else {
		backend, err = OpenSQLite(ctx, cfg.Cache.Path)
	}
	if err != nil {
		return nil, fmt.Errorf("open cache backend: %w", err)
	}

	c, err := New(backend, cfg.Cache.HotMaxCost)
	if err != nil {
		backend.Close()
		return nil, err
	}
	return c, nil
}
