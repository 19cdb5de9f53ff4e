package sqlite

import (
	"context"
	"database/sql"
	"errors"

	"github.com/artpar/tutorquota/ports"
)

// PlanStore implements ports.PlanResolver with SQLite.
// Users without a row are on the fallback plan.
type PlanStore struct {
	db       *DB
	fallback string
}

// NewPlanStore creates a new SQLite plan store.
func NewPlanStore(db *DB, fallback string) *PlanStore {
	return &PlanStore{db: db, fallback: fallback}
}

// PlanFor returns the plan a user is on.
func (s *PlanStore) PlanFor(ctx context.Context, userID string) (string, error) {
	var planID string
	err := s.db.QueryRowContext(ctx, `
		SELECT plan_id FROM user_plans WHERE user_id = ?
	`, userID).Scan(&planID)
	if errors.Is(err, sql.ErrNoRows) {
		return s.fallback, nil
	}
	if err != nil {
		return "", err
	}
	return planID, nil
}

// Assign puts a user on a plan.
func (s *PlanStore) Assign(ctx context.Context, userID, planID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_plans (user_id, plan_id, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(user_id) DO UPDATE SET
			plan_id = excluded.plan_id,
			updated_at = excluded.updated_at
	`, userID, planID)
	return err
}

// Ensure interface compliance.
var _ ports.PlanResolver = (*PlanStore)(nil)
