// Package memory provides in-memory implementations of storage ports.
package memory

import (
	"context"
	"sync"

	"github.com/artpar/tutorquota/domain/auth"
	"github.com/artpar/tutorquota/ports"
)

// SessionStore is an in-memory implementation of ports.SessionStore.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]auth.Session // by token
}

// NewSessionStore creates a new in-memory session store.
func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessions: make(map[string]auth.Session),
	}
}

// Get retrieves a session by token.
func (s *SessionStore) Get(ctx context.Context, token string) (auth.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[token]
	if !ok {
		return auth.Session{}, auth.ErrNoSession
	}
	return sess, nil
}

// Put stores a session under its ID (for testing and development).
func (s *SessionStore) Put(sess auth.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.ID] = sess
}

// Ensure interface compliance.
var _ ports.SessionStore = (*SessionStore)(nil)
