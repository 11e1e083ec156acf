package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	_ "modernc.org/sqlite" // register the "sqlite" database/sql driver

	"github.com/xraph/cuttrack/store"
	"github.com/xraph/cuttrack/store/internal/migrations"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Ensure Store implements store.Store at compile time.
var _ store.Store = (*Store)(nil)

// Store is a SQLite implementation of store.Store.
type Store struct {
	db     *sql.DB
	owned  bool
	logger *slog.Logger
}

// Option configures the Store.
type Option func(*Store)

// WithLogger sets the logger for the store.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// Open opens (creating if needed) the database file at path with foreign
// keys on, WAL journaling and a busy timeout. The returned Store owns the
// connection pool and closes it on Close.
func Open(ctx context.Context, path string, opts ...Option) (*Store, error) {
	q := url.Values{}
	q.Add("_pragma", "foreign_keys(1)")
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "busy_timeout(10000)")

	db, err := sql.Open("sqlite", "file:"+path+"?"+q.Encode())
	if err != nil {
		return nil, fmt.Errorf("cuttrack/sqlite: open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("cuttrack/sqlite: connect: %w", err)
	}

	s := New(db, opts...)
	s.owned = true
	return s, nil
}

// New wraps an existing *sql.DB opened with the "sqlite" driver. The
// caller owns the db lifecycle and must enable foreign keys for deletes
// to cascade.
func New(db *sql.DB, opts ...Option) *Store {
	s := &Store{
		db:     db,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DB returns the underlying *sql.DB for advanced usage.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Migrate applies the embedded schema files that have not run yet.
func (s *Store) Migrate(ctx context.Context) error {
	files, err := migrations.Load(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("cuttrack/sqlite: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS cuttrack_migrations (
			filename   TEXT PRIMARY KEY,
			applied_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
		)`)
	if err != nil {
		return fmt.Errorf("cuttrack/sqlite: create migrations table: %w", err)
	}
	if err := migrations.Apply(ctx, migrator{s}, files, s.logger); err != nil {
		return fmt.Errorf("cuttrack/sqlite: %w", err)
	}
	return nil
}

type migrator struct{ s *Store }

func (m migrator) Applied(ctx context.Context, name string) (bool, error) {
	var n int
	err := m.s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM cuttrack_migrations WHERE filename = ?`, name,
	).Scan(&n)
	return n > 0, err
}

func (m migrator) Run(ctx context.Context, f migrations.File) error {
	return m.s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, f.SQL); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `INSERT INTO cuttrack_migrations (filename) VALUES (?)`, f.Name)
		return err
	})
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database when the store opened it.
func (s *Store) Close() error {
	if !s.owned {
		return nil
	}
	return s.db.Close()
}

func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// ── helpers ──────────────────────────────────────────────────────

// isNoRows returns true when err indicates no rows were found.
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// isDuplicateKey checks if a SQLite error is a unique constraint violation.
func isDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
