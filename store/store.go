package store

import (
	"context"

	"github.com/xraph/cuttrack/job"
)

// Store is the aggregate persistence interface implemented by every
// backend.
type Store interface {
	job.Store

	// Migrate runs all schema migrations.
	Migrate(ctx context.Context) error

	// Ping checks backend connectivity.
	Ping(ctx context.Context) error

	// Close closes the store connection.
	Close() error
}
