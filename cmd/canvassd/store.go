package main

import (
	"context"
	"fmt"
	"log/slog"

	goredis "github.com/redis/go-redis/v9"
	"github.com/spf13/viper"

	"github.com/canvasshq/canvass/store"
	"github.com/canvasshq/canvass/store/memory"
	"github.com/canvasshq/canvass/store/postgres"
	"github.com/canvasshq/canvass/store/redis"
)

// openStore builds the configured store backend.
func openStore(ctx context.Context, logger *slog.Logger) (store.Store, error) {
	backend := viper.GetString("store.backend")
	switch backend {
	case "memory", "":
		logger.Warn("using in-memory store, state will not survive restarts")
		return memory.New(), nil

	case "postgres":
		dsn := viper.GetString("store.postgres_dsn")
		if dsn == "" {
			return nil, fmt.Errorf("postgres backend requires store.postgres_dsn (CANVASS_STORE_POSTGRES_DSN)")
		}
		return postgres.New(ctx, dsn, postgres.WithLogger(logger))

	case "redis":
		addr := viper.GetString("store.redis_addr")
		if addr == "" {
			return nil, fmt.Errorf("redis backend requires store.redis_addr (CANVASS_STORE_REDIS_ADDR)")
		}
		client := goredis.NewClient(&goredis.Options{Addr: addr})
		return redis.New(client, redis.WithLogger(logger)), nil

	default:
		return nil, fmt.Errorf("unknown store backend %q", backend)
	}
}
