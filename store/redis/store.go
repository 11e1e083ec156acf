package redis

import (
	"context"
	"log/slog"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/cuttrack/backoff"
	"github.com/xraph/cuttrack/store"
)

// Compile-time interface check.
var _ store.Store = (*Store)(nil)

// DefaultMaxAttempts bounds the optimistic retries of one MutateJob.
const DefaultMaxAttempts = 50

// Option configures the Store.
type Option func(*Store)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithKeyPrefix namespaces every key. Useful when several deployments
// share one Redis database.
func WithKeyPrefix(prefix string) Option {
	return func(s *Store) { s.keys = keys{prefix: prefix} }
}

// WithRetryPolicy replaces the policy used when a WATCH transaction loses
// a race.
func WithRetryPolicy(p backoff.Policy) Option {
	return func(s *Store) { s.retry = p }
}

// WithOwnedClient hands the client lifecycle to the store: Close closes
// the client.
func WithOwnedClient() Option {
	return func(s *Store) { s.owned = true }
}

// Store implements store.Store backed by Redis.
type Store struct {
	client goredis.UniversalClient
	logger *slog.Logger
	keys   keys
	retry  backoff.Policy
	owned  bool
}

// New creates a new Redis-backed store. The caller owns the Redis client
// lifecycle unless WithOwnedClient is given.
func New(client goredis.UniversalClient, opts ...Option) *Store {
	s := &Store{
		client: client,
		logger: slog.Default(),
		keys:   keys{prefix: defaultKeyPrefix},
		retry: backoff.Policy{
			Strategy:    backoff.DefaultConflict(),
			MaxAttempts: DefaultMaxAttempts,
		},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Client returns the underlying Redis client.
func (s *Store) Client() goredis.UniversalClient { return s.client }

// Migrate is a no-op for Redis (schemaless).
func (s *Store) Migrate(_ context.Context) error { return nil }

// Ping verifies the Redis connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the client when the store owns it and is a no-op otherwise.
func (s *Store) Close() error {
	if !s.owned {
		return nil
	}
	return s.client.Close()
}
