package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/artpar/tutorquota/domain/auth"
	"github.com/artpar/tutorquota/ports"
	"github.com/jackc/pgx/v5"
)

// SessionStore implements ports.SessionStore on PostgreSQL.
type SessionStore struct {
	*Store
}

// NewSessionStore creates a session store sharing s's pool.
func NewSessionStore(s *Store) *SessionStore {
	return &SessionStore{Store: s}
}

// Get retrieves a session by token. Returns auth.ErrNoSession if unknown.
func (s *SessionStore) Get(ctx context.Context, token string) (auth.Session, error) {
	var sess auth.Session
	err := s.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT id, user_id, email, expires_at, created_at FROM %s WHERE id = $1`, s.sessionsTable()),
		token,
	).Scan(&sess.ID, &sess.UserID, &sess.Email, &sess.ExpiresAt, &sess.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return auth.Session{}, auth.ErrNoSession
	}
	if err != nil {
		return auth.Session{}, fmt.Errorf("postgres: get session: %w", err)
	}
	sess.ExpiresAt = sess.ExpiresAt.UTC()
	sess.CreatedAt = sess.CreatedAt.UTC()
	return sess, nil
}

// Put inserts or replaces a session.
func (s *SessionStore) Put(ctx context.Context, sess auth.Session) error {
	_, err := s.pool.Exec(ctx,
		fmt.Sprintf(`INSERT INTO %s (id, user_id, email, expires_at, created_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (id) DO UPDATE SET user_id = $2, email = $3, expires_at = $4`, s.sessionsTable()),
		sess.ID, sess.UserID, sess.Email, sess.ExpiresAt.UTC(), sess.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("postgres: put session: %w", err)
	}
	return nil
}

// PlanStore implements ports.PlanResolver on PostgreSQL.
// Users without a row are on the fallback plan.
type PlanStore struct {
	*Store
	fallback string
}

// NewPlanStore creates a plan store sharing s's pool.
func NewPlanStore(s *Store, fallback string) *PlanStore {
	return &PlanStore{Store: s, fallback: fallback}
}

// PlanFor returns the plan a user is on.
func (s *PlanStore) PlanFor(ctx context.Context, userID string) (string, error) {
	var planID string
	err := s.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT plan_id FROM %s WHERE user_id = $1`, s.plansTable()),
		userID,
	).Scan(&planID)
	if errors.Is(err, pgx.ErrNoRows) {
		return s.fallback, nil
	}
	if err != nil {
		return "", fmt.Errorf("postgres: plan for: %w", err)
	}
	return planID, nil
}

// Assign puts a user on a plan.
func (s *PlanStore) Assign(ctx context.Context, userID, planID string) error {
	_, err := s.pool.Exec(ctx,
		fmt.Sprintf(`INSERT INTO %s (user_id, plan_id) VALUES ($1, $2)
			ON CONFLICT (user_id) DO UPDATE SET plan_id = $2, updated_at = now()`, s.plansTable()),
		userID, planID,
	)
	if err != nil {
		return fmt.Errorf("postgres: assign plan: %w", err)
	}
	return nil
}

// Ensure interface compliance.
var (
	_ ports.SessionStore = (*SessionStore)(nil)
	_ ports.PlanResolver = (*PlanStore)(nil)
)
