package main

import (
	"context"
	"fmt"
	"log/slog"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/cuttrack/store"
	"github.com/xraph/cuttrack/store/memory"
	"github.com/xraph/cuttrack/store/postgres"
	"github.com/xraph/cuttrack/store/redis"
	"github.com/xraph/cuttrack/store/sqlite"
)

// openStore connects the configured backend. Closing the store releases
// every connection it opened.
func openStore(ctx context.Context, cfg StoreConfig, logger *slog.Logger) (store.Store, error) {
	switch cfg.Driver {
	case "memory":
		return memory.New(), nil
	case "postgres":
		return postgres.New(ctx, cfg.DSN, postgres.WithLogger(logger))
	case "sqlite":
		return sqlite.Open(ctx, cfg.DSN, sqlite.WithLogger(logger))
	case "redis":
		opts, err := goredis.ParseURL(cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("parse redis dsn: %w", err)
		}
		rs := []redis.Option{redis.WithLogger(logger), redis.WithOwnedClient()}
		if cfg.Prefix != "" {
			rs = append(rs, redis.WithKeyPrefix(cfg.Prefix))
		}
		return redis.New(goredis.NewClient(opts), rs...), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}
