package memory

import (
	"context"
	"sync"

	"github.com/artpar/tutorquota/ports"
)

// PlanStore is an in-memory implementation of ports.PlanResolver.
// Users without an assignment are on the fallback plan.
type PlanStore struct {
	mu       sync.RWMutex
	fallback string
	byUser   map[string]string
}

// NewPlanStore creates a plan store with the given fallback plan.
func NewPlanStore(fallback string) *PlanStore {
	return &PlanStore{
		fallback: fallback,
		byUser:   make(map[string]string),
	}
}

// PlanFor returns the plan assigned to a user.
func (s *PlanStore) PlanFor(ctx context.Context, userID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if p, ok := s.byUser[userID]; ok {
		return p, nil
	}
	return s.fallback, nil
}

// Assign puts a user on a plan.
func (s *PlanStore) Assign(userID, planID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byUser[userID] = planID
}

// Ensure interface compliance.
var _ ports.PlanResolver = (*PlanStore)(nil)
