package sqlite

import (
	"context"
	"time"

	"github.com/artpar/tutorquota/domain/usage"
	"github.com/artpar/tutorquota/ports"
)

// UsageStore implements ports.AtomicUsageEventStore using SQLite.
// SQLite serializes writers, so a count and insert inside one immediate
// transaction is atomic across every process sharing the database file.
type UsageStore struct {
	db *DB
}

// NewUsageStore creates a new SQLite usage store.
func NewUsageStore(db *DB) *UsageStore {
	return &UsageStore{db: db}
}

// Count returns the number of events for key in [from, until).
func (s *UsageStore) Count(ctx context.Context, key usage.Key, from, until time.Time) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM usage_events
		WHERE user_id = ? AND action = ? AND occurred_at >= ? AND occurred_at < ?
	`, key.UserID, string(key.Action), from.UTC().UnixNano(), until.UTC().UnixNano()).Scan(&n)
	if err != nil {
		return 0, err
	}
	return n, nil
}

// Append records one event.
func (s *UsageStore) Append(ctx context.Context, e usage.Event) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO usage_events (id, user_id, action, occurred_at)
		VALUES (?, ?, ?, ?)
	`, e.ID, e.UserID, string(e.Action), e.OccurredAt.UTC().UnixNano())
	return err
}

// ConsumeIfBelow appends e only if fewer than limit events exist for its
// key in [from, until). The count and the insert run in one write
// transaction so concurrent callers cannot both take the last unit.
func (s *UsageStore) ConsumeIfBelow(ctx context.Context, e usage.Event, from, until time.Time, limit int64) (int64, bool, error) {
	// _txlock=immediate takes the write lock at BEGIN.
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, false, err
	}
	defer tx.Rollback()

	var used int64
	err = tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM usage_events
		WHERE user_id = ? AND action = ? AND occurred_at >= ? AND occurred_at < ?
	`, e.UserID, string(e.Action), from.UTC().UnixNano(), until.UTC().UnixNano()).Scan(&used)
	if err != nil {
		return 0, false, err
	}
	if used >= limit {
		return used, false, nil
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO usage_events (id, user_id, action, occurred_at)
		VALUES (?, ?, ?, ?)
	`, e.ID, e.UserID, string(e.Action), e.OccurredAt.UTC().UnixNano()); err != nil {
		return 0, false, err
	}
	if err := tx.Commit(); err != nil {
		return 0, false, err
	}
	return used, true, nil
}

// PruneBefore deletes events older than cutoff.
func (s *UsageStore) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM usage_events WHERE occurred_at < ?
	`, cutoff.UTC().UnixNano())
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// List returns a user's events in [from, until), oldest first.
func (s *UsageStore) List(ctx context.Context, userID string, from, until time.Time) ([]usage.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, action, occurred_at FROM usage_events
		WHERE user_id = ? AND occurred_at >= ? AND occurred_at < ?
		ORDER BY occurred_at ASC
	`, userID, from.UTC().UnixNano(), until.UTC().UnixNano())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []usage.Event
	for rows.Next() {
		var (
			e      usage.Event
			action string
			nanos  int64
		)
		if err := rows.Scan(&e.ID, &e.UserID, &action, &nanos); err != nil {
			return nil, err
		}
		e.Action = usage.Action(action)
		e.OccurredAt = time.Unix(0, nanos).UTC()
		events = append(events, e)
	}
	return events, rows.Err()
}

// Ensure interface compliance.
var (
	_ ports.AtomicUsageEventStore = (*UsageStore)(nil)
	_ ports.UsagePruner           = (*UsageStore)(nil)
)
