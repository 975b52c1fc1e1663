package main

import (
	"context"
	"log/slog"

	"github.com/knaydenov/hal"
	"github.com/knaydenov/hal/kvstore/file"
	"github.com/knaydenov/hal/kvstore/redis"
	"github.com/knaydenov/hal/kvstore/sqlite"
)

// openStore returns the configured key-value store and a function releasing
// it.
func openStore(ctx context.Context, cfg Config, logger *slog.Logger) (hal.KeyValueStore, func() error, error) {
	noop := func() error { return nil }
	switch cfg.Store {
	case "file":
		s, err := file.New(cfg.Path, file.WithLogger(logger))
		if err != nil {
			return nil, nil, err
		}
		return s, noop, nil
	case "sqlite":
		s, err := sqlite.New(cfg.Path, sqlite.WithLogger(logger))
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	case "redis":
		s, err := redis.Dial(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB,
			redis.WithNamespace(cfg.Redis.Namespace),
			redis.WithLogger(logger),
		)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	default:
		return hal.NewMemoryStore(), noop, nil
	}
}
