package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/artpar/tutorquota/domain/auth"
	"github.com/artpar/tutorquota/ports"
)

// SessionStore implements ports.SessionStore with one hash per session token.
type SessionStore struct {
	client    goredis.Cmdable
	keyPrefix string
}

// NewSessionStore creates a Redis-backed session store.
func NewSessionStore(client goredis.Cmdable, keyPrefix string) *SessionStore {
	return &SessionStore{client: client, keyPrefix: keyPrefix}
}

func (s *SessionStore) sessionKey(token string) string {
	return s.keyPrefix + "session:" + token
}

// Get retrieves a session by token. Returns auth.ErrNoSession if unknown.
func (s *SessionStore) Get(ctx context.Context, token string) (auth.Session, error) {
	vals, err := s.client.HGetAll(ctx, s.sessionKey(token)).Result()
	if err != nil {
		return auth.Session{}, fmt.Errorf("redis: get session: %w", err)
	}
	if len(vals) == 0 {
		return auth.Session{}, auth.ErrNoSession
	}

	expires, _ := strconv.ParseInt(vals["expires_at"], 10, 64)
	created, _ := strconv.ParseInt(vals["created_at"], 10, 64)
	return auth.Session{
		ID:        token,
		UserID:    vals["user_id"],
		Email:     vals["email"],
		ExpiresAt: time.Unix(expires, 0).UTC(),
		CreatedAt: time.Unix(created, 0).UTC(),
	}, nil
}

// Put stores a session. The hash expires with the session.
func (s *SessionStore) Put(ctx context.Context, sess auth.Session) error {
	key := s.sessionKey(sess.ID)
	_, err := s.client.TxPipelined(ctx, func(p goredis.Pipeliner) error {
		p.HSet(ctx, key,
			"user_id", sess.UserID,
			"email", sess.Email,
			"expires_at", sess.ExpiresAt.Unix(),
			"created_at", sess.CreatedAt.Unix(),
		)
		p.ExpireAt(ctx, key, sess.ExpiresAt)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis: put session: %w", err)
	}
	return nil
}

// PlanStore implements ports.PlanResolver with a single user → plan hash.
type PlanStore struct {
	client    goredis.Cmdable
	keyPrefix string
	fallback  string
}

// NewPlanStore creates a Redis-backed plan store.
func NewPlanStore(client goredis.Cmdable, keyPrefix, fallback string) *PlanStore {
	return &PlanStore{client: client, keyPrefix: keyPrefix, fallback: fallback}
}

// PlanFor returns the plan a user is on.
func (s *PlanStore) PlanFor(ctx context.Context, userID string) (string, error) {
	planID, err := s.client.HGet(ctx, s.keyPrefix+"plans", userID).Result()
	if errors.Is(err, goredis.Nil) {
		return s.fallback, nil
	}
	if err != nil {
		return "", fmt.Errorf("redis: plan for: %w", err)
	}
	return planID, nil
}

// Assign puts a user on a plan.
func (s *PlanStore) Assign(ctx context.Context, userID, planID string) error {
	if err := s.client.HSet(ctx, s.keyPrefix+"plans", userID, planID).Err(); err != nil {
		return fmt.Errorf("redis: assign plan: %w", err)
	}
	return nil
}

// Ensure interface compliance.
var (
	_ ports.SessionStore = (*SessionStore)(nil)
	_ ports.PlanResolver = (*PlanStore)(nil)
)
