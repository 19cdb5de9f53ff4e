// Package quota provides pure functions for daily quota enforcement.
// All functions are deterministic with no side effects.
package quota

import (
	"fmt"
	"strings"
	"time"

	"github.com/artpar/tutorquota/domain/usage"
)

// Window is the UTC calendar day containing an instant (value type).
// End is the last whole second of the day and is inclusive.
type Window struct {
	Start time.Time
	End   time.Time
}

// WindowFor returns the UTC calendar day containing now.
// This is a PURE function; callers must recompute it on every check.
func WindowFor(now time.Time) Window {
	now = now.UTC()
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return Window{
		Start: start,
		End:   start.Add(24*time.Hour - time.Second),
	}
}

// Until returns the exclusive upper bound of the window (next UTC midnight).
// Stores query [Start, Until) so that sub-second instants inside the
// final second still belong to the day.
func (w Window) Until() time.Time {
	return w.End.Add(time.Second)
}

// Contains reports whether t falls inside the window.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.Until())
}

// WarningLevel indicates how close to the daily limit the user is.
type WarningLevel int

const (
	WarningNone        WarningLevel = iota // < 80%
	WarningApproaching                     // >= 80%
	WarningCritical                        // >= 95%
	WarningExhausted                       // >= 100%
)

// CheckResult represents the outcome of a quota check (value type).
type CheckResult struct {
	Allowed   bool
	Remaining int64
	Limit     int64
	Used      int64 // Units consumed today, including the one just consumed
	ResetAt   time.Time
}

// Decide computes the outcome of a consume attempt given the units already
// used today. When allowed, the result already accounts for the unit about
// to be appended.
// This is a PURE function.
func Decide(used, limit int64, w Window) CheckResult {
	if limit <= 0 || used >= limit {
		return CheckResult{
			Allowed:   false,
			Remaining: 0,
			Limit:     limit,
			Used:      used,
			ResetAt:   w.End,
		}
	}

	return CheckResult{
		Allowed:   true,
		Remaining: limit - used - 1,
		Limit:     limit,
		Used:      used + 1,
		ResetAt:   w.End,
	}
}

// Status computes the read-only view of a counter.
// This is a PURE function.
func Status(used, limit int64, w Window) CheckResult {
	remaining := limit - used
	if remaining < 0 {
		remaining = 0
	}
	return CheckResult{
		Allowed:   used < limit,
		Remaining: remaining,
		Limit:     limit,
		Used:      used,
		ResetAt:   w.End,
	}
}

// Validate checks the caller-supplied arguments of a ledger call.
// A zero limit is valid and always denies.
func Validate(key usage.Key, limit int64) error {
	if strings.TrimSpace(key.UserID) == "" {
		return fmt.Errorf("%w: user id is required", ErrInvalidArgument)
	}
	if strings.TrimSpace(string(key.Action)) == "" {
		return fmt.Errorf("%w: action is required", ErrInvalidArgument)
	}
	if limit < 0 {
		return fmt.Errorf("%w: limit must not be negative, got %d", ErrInvalidArgument, limit)
	}
	return nil
}

// Warning returns the warning level for the result.
func (r CheckResult) Warning() WarningLevel {
	if r.Limit <= 0 {
		return WarningExhausted
	}
	pct := float64(r.Used) / float64(r.Limit) * 100
	switch {
	case pct >= 100:
		return WarningExhausted
	case pct >= 95:
		return WarningCritical
	case pct >= 80:
		return WarningApproaching
	default:
		return WarningNone
	}
}

// String returns the string representation of a warning level.
func (w WarningLevel) String() string {
	switch w {
	case WarningNone:
		return "none"
	case WarningApproaching:
		return "approaching"
	case WarningCritical:
		return "critical"
	case WarningExhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}
