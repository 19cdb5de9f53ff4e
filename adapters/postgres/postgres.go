// Package postgres provides PostgreSQL implementations of storage ports.
//
// Usage events live in one append-only table. ConsumeIfBelow serializes
// same-key writers with a transaction-scoped advisory lock, which makes the
// daily limit hold across every instance sharing the database.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Store holds the pool and table naming shared by the stores in this package.
type Store struct {
	pool        *pgxpool.Pool
	tablePrefix string
}

// Option configures Store.
type Option func(*Store)

// WithTablePrefix sets the table name prefix (default "tutorquota_").
func WithTablePrefix(prefix string) Option {
	return func(s *Store) { s.tablePrefix = prefix }
}

// New creates a Store on an existing pool.
func New(pool *pgxpool.Pool, opts ...Option) *Store {
	s := &Store{
		pool:        pool,
		tablePrefix: "tutorquota_",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Connect opens a pool for dsn and verifies it is reachable.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return pool, nil
}

func (s *Store) eventsTable() string   { return s.tablePrefix + "usage_events" }
func (s *Store) sessionsTable() string { return s.tablePrefix + "user_sessions" }
func (s *Store) plansTable() string    { return s.tablePrefix + "user_plans" }

// EnsureSchema creates the required tables if they don't exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	q := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %[1]s (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			action TEXT NOT NULL,
			occurred_at TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS %[1]s_key_time_idx ON %[1]s (user_id, action, occurred_at);
		CREATE INDEX IF NOT EXISTS %[1]s_time_idx ON %[1]s (occurred_at);
		CREATE TABLE IF NOT EXISTS %[2]s (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			email TEXT NOT NULL DEFAULT '',
			expires_at TIMESTAMPTZ NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE TABLE IF NOT EXISTS %[3]s (
			user_id TEXT PRIMARY KEY,
			plan_id TEXT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);
	`, s.eventsTable(), s.sessionsTable(), s.plansTable())
	if _, err := s.pool.Exec(ctx, q); err != nil {
		return fmt.Errorf("postgres: ensure schema: %w", err)
	}
	return nil
}

// HealthCheck pings the database.
func (s *Store) HealthCheck(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close closes the pool.
func (s *Store) Close() {
	s.pool.Close()
}
