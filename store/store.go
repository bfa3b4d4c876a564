// Package store defines the aggregate persistence interface. Each
// subsystem (execution, dial, audit) defines its own store interface.
// The composite Store composes them all. Backends: Postgres, Redis,
// and Memory.
package store

import (
	"context"

	"github.com/canvasshq/canvass/audit"
	"github.com/canvasshq/canvass/dial"
	"github.com/canvasshq/canvass/execution"
)

// Store is the aggregate persistence interface.
// Each subsystem store is a composable interface; a single backend
// (postgres, redis, memory) implements all of them.
type Store interface {
	execution.Store
	dial.Store
	audit.Store

	// Migrate runs all schema migrations.
	Migrate(ctx context.Context) error

	// Ping checks backend connectivity.
	Ping(ctx context.Context) error

	// Close closes the store connection.
	Close() error
}
