package store

import (
	"context"
	"fmt"

	"marketsim/internal/config"
	"marketsim/internal/db"
	"marketsim/internal/game"
)

// Open connects the store selected by cfg. The returned func releases it.
func Open(ctx context.Context, cfg config.StoreConfig, appName string) (game.Store, func(), error) {
	switch cfg.Kind {
	case config.StoreSQLite:
		s, err := OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite: %w", err)
		}
		return s, func() { _ = s.Close() }, nil
	case config.StorePostgres:
		pool, err := db.Connect(ctx, db.PoolConfig{URL: cfg.DatabaseURL, MaxConns: cfg.MaxConns, AppName: appName})
		if err != nil {
			return nil, nil, err
		}
		s, err := NewPostgres(ctx, pool)
		if err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("migrate postgres: %w", err)
		}
		return s, pool.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown store %q", cfg.Kind)
	}
}
