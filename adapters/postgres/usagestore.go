package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/artpar/tutorquota/domain/usage"
	"github.com/artpar/tutorquota/ports"
)

// UsageStore implements ports.AtomicUsageEventStore on PostgreSQL.
type UsageStore struct {
	*Store
}

// NewUsageStore creates a usage store sharing s's pool and table prefix.
func NewUsageStore(s *Store) *UsageStore {
	return &UsageStore{Store: s}
}

// Count returns the number of events for key in [from, until).
func (s *UsageStore) Count(ctx context.Context, key usage.Key, from, until time.Time) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT COUNT(*) FROM %s
			WHERE user_id = $1 AND action = $2 AND occurred_at >= $3 AND occurred_at < $4`, s.eventsTable()),
		key.UserID, string(key.Action), from.UTC(), until.UTC(),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("postgres: count: %w", err)
	}
	return n, nil
}

// Append records one event.
func (s *UsageStore) Append(ctx context.Context, e usage.Event) error {
	_, err := s.pool.Exec(ctx,
		fmt.Sprintf(`INSERT INTO %s (id, user_id, action, occurred_at) VALUES ($1, $2, $3, $4)`, s.eventsTable()),
		e.ID, e.UserID, string(e.Action), e.OccurredAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("postgres: append: %w", err)
	}
	return nil
}

// keyLockSQL takes the transaction-scoped advisory lock for one key. The
// two-int4 form hashes action and user separately, so unrelated keys only
// queue behind each other when both hashes collide.
const keyLockSQL = `SELECT pg_advisory_xact_lock(hashtext($1), hashtext($2))`

// ConsumeIfBelow appends e only if fewer than limit events exist for its key
// in [from, until). Writers for the same key queue on an advisory lock that
// is released when the transaction ends.
func (s *UsageStore) ConsumeIfBelow(ctx context.Context, e usage.Event, from, until time.Time, limit int64) (int64, bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, false, fmt.Errorf("postgres: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, keyLockSQL, string(e.Action), e.UserID); err != nil {
		return 0, false, fmt.Errorf("postgres: advisory lock: %w", err)
	}

	var used int64
	err = tx.QueryRow(ctx,
		fmt.Sprintf(`SELECT COUNT(*) FROM %s
			WHERE user_id = $1 AND action = $2 AND occurred_at >= $3 AND occurred_at < $4`, s.eventsTable()),
		e.UserID, string(e.Action), from.UTC(), until.UTC(),
	).Scan(&used)
	if err != nil {
		return 0, false, fmt.Errorf("postgres: count: %w", err)
	}
	if used >= limit {
		return used, false, nil
	}

	_, err = tx.Exec(ctx,
		fmt.Sprintf(`INSERT INTO %s (id, user_id, action, occurred_at) VALUES ($1, $2, $3, $4)`, s.eventsTable()),
		e.ID, e.UserID, string(e.Action), e.OccurredAt.UTC(),
	)
	if err != nil {
		return 0, false, fmt.Errorf("postgres: append: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, false, fmt.Errorf("postgres: commit: %w", err)
	}
	return used, true, nil
}

// PruneBefore deletes events older than cutoff.
func (s *UsageStore) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE occurred_at < $1`, s.eventsTable()),
		cutoff.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("postgres: prune: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Ensure interface compliance.
var (
	_ ports.AtomicUsageEventStore = (*UsageStore)(nil)
	_ ports.UsagePruner           = (*UsageStore)(nil)
	_ ports.HealthChecker         = (*UsageStore)(nil)
)
