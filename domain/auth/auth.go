// Package auth provides session value types and pure validation functions.
// This package has NO dependencies on I/O or external packages.
//
// Sessions are issued by the login flow, which lives outside this module;
// here they are only looked up and checked.
package auth

import (
	"errors"
	"strings"
	"time"
)

// Sentinel errors.
var (
	ErrNoSession      = errors.New("auth: no session")
	ErrSessionExpired = errors.New("auth: session expired")
)

// SessionPrefix is the prefix of every session token issued by the login flow.
const SessionPrefix = "sess_"

// Session represents a logged-in browser session (immutable value type).
type Session struct {
	ID        string
	UserID    string
	Email     string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// ExpiredAt returns true if the session has expired at the given instant.
func (s Session) ExpiredAt(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// Check validates a looked-up session against the current time.
// This is a PURE function.
func Check(s Session, now time.Time) error {
	if s.UserID == "" {
		return ErrNoSession
	}
	if s.ExpiredAt(now) {
		return ErrSessionExpired
	}
	return nil
}

// WellFormedToken reports whether a cookie value looks like a session token.
// Malformed values are rejected before any store lookup.
func WellFormedToken(token string) bool {
	if !strings.HasPrefix(token, SessionPrefix) {
		return false
	}
	rest := token[len(SessionPrefix):]
	if len(rest) < 16 || len(rest) > 128 {
		return false
	}
	for _, r := range rest {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '-' || r == '_') {
			return false
		}
	}
	return true
}
