package sqlite

import (
	"context"
	"database/sql"
	"errors"

	"github.com/artpar/tutorquota/domain/auth"
	"github.com/artpar/tutorquota/ports"
)

// SessionStore implements ports.SessionStore using SQLite.
// Sessions are written by the login flow; this store only reads them,
// except for Put which seeds sessions in tests and tooling.
type SessionStore struct {
	db *DB
}

// NewSessionStore creates a new SQLite session store.
func NewSessionStore(db *DB) *SessionStore {
	return &SessionStore{db: db}
}

// Get retrieves a session by token. Returns auth.ErrNoSession if unknown.
func (s *SessionStore) Get(ctx context.Context, token string) (auth.Session, error) {
	var sess auth.Session
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, email, expires_at, created_at
		FROM user_sessions
		WHERE id = ?
	`, token).Scan(&sess.ID, &sess.UserID, &sess.Email, &sess.ExpiresAt, &sess.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.Session{}, auth.ErrNoSession
	}
	if err != nil {
		return auth.Session{}, err
	}
	sess.ExpiresAt = sess.ExpiresAt.UTC()
	sess.CreatedAt = sess.CreatedAt.UTC()
	return sess, nil
}

// Put inserts or replaces a session.
func (s *SessionStore) Put(ctx context.Context, sess auth.Session) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_sessions (id, user_id, email, expires_at, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			user_id = excluded.user_id,
			email = excluded.email,
			expires_at = excluded.expires_at
	`, sess.ID, sess.UserID, sess.Email, sess.ExpiresAt.UTC(), sess.CreatedAt.UTC())
	return err
}

// Ensure interface compliance.
var _ ports.SessionStore = (*SessionStore)(nil)
