// Package redis implements store.Store using Redis for deployments that
// already run Redis and do not want a relational database. Executions
// are stored as Hashes with a version field for compare-and-swap, the
// dial queue is a Sorted Set scored by due time, and leases use
// TTL-bearing keys so Redis reaps expirations natively.
//
// Usage:
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	s := redisstore.New(client)
//	if err := s.Ping(ctx); err != nil { ... }
package redis

import (
	"context"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/canvasshq/canvass/audit"
	"github.com/canvasshq/canvass/dial"
	"github.com/canvasshq/canvass/execution"
	"github.com/canvasshq/canvass/store"
)

// Compile-time interface checks.
var (
	_ execution.Store = (*Store)(nil)
	_ dial.Store      = (*Store)(nil)
	_ audit.Store     = (*Store)(nil)
	_ store.Store     = (*Store)(nil)
)

// Option configures the Store.
type Option func(*Store)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// Store implements the composite store.Store interface backed by Redis.
type Store struct {
	client redis.Cmdable
	logger *slog.Logger
}

// New creates a new Redis-backed store. The caller owns the Redis client
// lifecycle.
func New(client redis.Cmdable, opts ...Option) *Store {
	s := &Store{client: client, logger: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Client returns the underlying Redis client.
func (s *Store) Client() redis.Cmdable { return s.client }

// Migrate is a no-op for Redis (schemaless).
func (s *Store) Migrate(_ context.Context) error { return nil }

// Ping verifies the Redis connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close is a no-op — the caller owns the Redis client lifecycle.
func (s *Store) Close() error { return nil }
