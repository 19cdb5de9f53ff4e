package app

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/artpar/tutorquota/domain/plan"
	"github.com/artpar/tutorquota/domain/quota"
	"github.com/artpar/tutorquota/domain/usage"
	"github.com/artpar/tutorquota/ports"
	"github.com/rs/zerolog"
)

// QuotaService resolves a user's daily limits from their plan and applies
// them through the Ledger. It is what request handlers talk to.
type QuotaService struct {
	ledger *Ledger
	plans  ports.PlanResolver
	logger zerolog.Logger

	// Hot-reloadable policy
	policy atomic.Pointer[QuotaPolicy]
}

// QuotaPolicy is the hot-reloadable limit table.
type QuotaPolicy struct {
	Plans       []plan.Plan
	DefaultPlan string
	// FailOpen lists actions that proceed when the event store is
	// unavailable. All other actions fail closed.
	FailOpen map[usage.Action]bool
}

// Decision is the outcome of a quota call as seen by a request handler.
type Decision struct {
	quota.CheckResult
	Action   usage.Action
	Plan     string
	Degraded bool // Store was unavailable and the action failed open
}

// NewQuotaService creates a new quota service.
func NewQuotaService(ledger *Ledger, plans ports.PlanResolver, policy QuotaPolicy, logger zerolog.Logger) *QuotaService {
	s := &QuotaService{
		ledger: ledger,
		plans:  plans,
		logger: logger,
	}
	s.UpdatePolicy(policy)
	return s
}

// UpdatePolicy swaps the limit table.
// This is thread-safe and can be called while handling requests.
func (s *QuotaService) UpdatePolicy(p QuotaPolicy) {
	s.policy.Store(&p)
}

// Consume checks and consumes one unit of action for the user.
// Exactly one call must be made per logical attempt.
func (s *QuotaService) Consume(ctx context.Context, userID string, action usage.Action) (Decision, error) {
	p, pl := s.resolvePlan(ctx, userID)
	limit := plan.LimitFor(pl, action)

	res, err := s.ledger.CheckAndConsume(ctx, userID, action, limit)
	if err != nil {
		if errors.Is(err, quota.ErrStorageUnavailable) && p.FailOpen[action] {
			s.logger.Warn().Err(err).
				Str("user_id", userID).
				Str("action", string(action)).
				Msg("quota store unavailable, failing open")
			w := quota.WindowFor(s.ledger.clock.Now())
			return Decision{
				CheckResult: quota.CheckResult{Allowed: true, Limit: limit, ResetAt: w.End},
				Action:      action,
				Plan:        pl.ID,
				Degraded:    true,
			}, nil
		}
		return Decision{}, err
	}

	return Decision{CheckResult: res, Action: action, Plan: pl.ID}, nil
}

// Status reports the user's counter for one action without consuming.
func (s *QuotaService) Status(ctx context.Context, userID string, action usage.Action) (Decision, error) {
	_, pl := s.resolvePlan(ctx, userID)
	limit := plan.LimitFor(pl, action)

	res, err := s.ledger.PeekStatus(ctx, userID, action, limit)
	if err != nil {
		return Decision{}, err
	}
	return Decision{CheckResult: res, Action: action, Plan: pl.ID}, nil
}

// StatusAll reports every action metered by the user's plan.
func (s *QuotaService) StatusAll(ctx context.Context, userID string) ([]Decision, error) {
	_, pl := s.resolvePlan(ctx, userID)

	now := s.ledger.clock.Now()
	actions := plan.Actions(pl)
	out := make([]Decision, 0, len(actions))
	for _, a := range actions {
		res, err := s.ledger.PeekStatusAt(ctx, usage.NewKey(userID, a), plan.LimitFor(pl, a), now)
		if err != nil {
			return nil, err
		}
		out = append(out, Decision{CheckResult: res, Action: a, Plan: pl.ID})
	}
	return out, nil
}

// resolvePlan looks up the user's plan. Lookup failures and unknown plans
// fall back to the default plan.
func (s *QuotaService) resolvePlan(ctx context.Context, userID string) (*QuotaPolicy, plan.Plan) {
	p := s.policy.Load()

	planID := p.DefaultPlan
	if s.plans != nil && userID != "" {
		id, err := s.plans.PlanFor(ctx, userID)
		switch {
		case err != nil:
			s.logger.Warn().Err(err).Str("user_id", userID).Msg("plan lookup failed, using default plan")
		case id != "":
			planID = id
		}
	}

	if pl, ok := plan.FindPlan(p.Plans, planID); ok {
		return p, pl
	}
	if planID != p.DefaultPlan {
		s.logger.Warn().Str("user_id", userID).Str("plan_id", planID).Msg("unknown plan, using default plan")
	}
	pl, _ := plan.FindPlan(p.Plans, p.DefaultPlan)
	return p, pl
}
