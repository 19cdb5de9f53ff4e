// Package quota provides pure functions for daily quota enforcement.
// Tests for all public functions and types.
package quota

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/artpar/tutorquota/domain/usage"
)

// -----------------------------------------------------------------------------
// WindowFor tests
// -----------------------------------------------------------------------------

func TestWindowFor_MiddleOfDay(t *testing.T) {
	now := time.Date(2024, 1, 15, 13, 45, 12, 500, time.UTC)

	w := WindowFor(now)

	wantStart := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	wantEnd := time.Date(2024, 1, 15, 23, 59, 59, 0, time.UTC)
	if !w.Start.Equal(wantStart) {
		t.Errorf("Start = %v, want %v", w.Start, wantStart)
	}
	if !w.End.Equal(wantEnd) {
		t.Errorf("End = %v, want %v", w.End, wantEnd)
	}
}

func TestWindowFor_Boundaries(t *testing.T) {
	tests := []struct {
		name    string
		now     time.Time
		wantDay int
	}{
		{"exact midnight", time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC), 15},
		{"last second", time.Date(2024, 1, 15, 23, 59, 59, 0, time.UTC), 15},
		{"last nanosecond", time.Date(2024, 1, 15, 23, 59, 59, 999999999, time.UTC), 15},
		{"next midnight", time.Date(2024, 1, 16, 0, 0, 0, 0, time.UTC), 16},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := WindowFor(tt.now)
			if w.Start.Day() != tt.wantDay {
				t.Errorf("Start day = %d, want %d", w.Start.Day(), tt.wantDay)
			}
			if !w.Contains(tt.now) {
				t.Errorf("window %v..%v does not contain %v", w.Start, w.End, tt.now)
			}
		})
	}
}

func TestWindowFor_NonUTCInput(t *testing.T) {
	// 2024-03-10 02:00 at UTC+5 is 2024-03-09 21:00 UTC.
	loc := time.FixedZone("UTC+5", 5*60*60)
	now := time.Date(2024, 3, 10, 2, 0, 0, 0, loc)

	w := WindowFor(now)

	want := time.Date(2024, 3, 9, 0, 0, 0, 0, time.UTC)
	if !w.Start.Equal(want) {
		t.Errorf("Start = %v, want %v", w.Start, want)
	}
	if w.Start.Location() != time.UTC || w.End.Location() != time.UTC {
		t.Error("window bounds should be in UTC")
	}
}

func TestWindowFor_LeapDay(t *testing.T) {
	w := WindowFor(time.Date(2024, 2, 29, 18, 0, 0, 0, time.UTC))

	if w.End.Month() != time.February || w.End.Day() != 29 {
		t.Errorf("End = %v, want Feb 29", w.End)
	}
	if !w.Until().Equal(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("Until = %v, want Mar 1 midnight", w.Until())
	}
}

func TestWindow_Contains(t *testing.T) {
	w := WindowFor(time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC))

	if w.Contains(w.Start.Add(-time.Nanosecond)) {
		t.Error("previous day should not be contained")
	}
	if !w.Contains(w.End) {
		t.Error("End should be inclusive")
	}
	if !w.Contains(w.End.Add(500 * time.Millisecond)) {
		t.Error("sub-second instants of the last second should be contained")
	}
	if w.Contains(w.Until()) {
		t.Error("next midnight should not be contained")
	}
}

// -----------------------------------------------------------------------------
// Decide tests
// -----------------------------------------------------------------------------

func TestDecide(t *testing.T) {
	w := WindowFor(time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC))

	tests := []struct {
		name          string
		used, limit   int64
		wantAllowed   bool
		wantRemaining int64
		wantUsed      int64
	}{
		{"fresh key", 0, 50, true, 49, 1},
		{"one left", 49, 50, true, 0, 50},
		{"at limit", 50, 50, false, 0, 50},
		{"over limit", 53, 50, false, 0, 53},
		{"zero limit fresh", 0, 0, false, 0, 0},
		{"zero limit with history", 7, 0, false, 0, 7},
		{"limit one", 0, 1, true, 0, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Decide(tt.used, tt.limit, w)
			if got.Allowed != tt.wantAllowed {
				t.Errorf("Allowed = %v, want %v", got.Allowed, tt.wantAllowed)
			}
			if got.Remaining != tt.wantRemaining {
				t.Errorf("Remaining = %d, want %d", got.Remaining, tt.wantRemaining)
			}
			if got.Used != tt.wantUsed {
				t.Errorf("Used = %d, want %d", got.Used, tt.wantUsed)
			}
			if got.Limit != tt.limit {
				t.Errorf("Limit = %d, want %d", got.Limit, tt.limit)
			}
			if !got.ResetAt.Equal(w.End) {
				t.Errorf("ResetAt = %v, want %v", got.ResetAt, w.End)
			}
		})
	}
}

// -----------------------------------------------------------------------------
// Status tests
// -----------------------------------------------------------------------------

func TestStatus(t *testing.T) {
	w := WindowFor(time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC))

	tests := []struct {
		name          string
		used, limit   int64
		wantAllowed   bool
		wantRemaining int64
	}{
		{"fresh key", 0, 50, true, 50},
		{"partially used", 20, 50, true, 30},
		{"exhausted", 50, 50, false, 0},
		{"limit lowered below usage", 60, 50, false, 0},
		{"zero limit", 0, 0, false, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Status(tt.used, tt.limit, w)
			if got.Allowed != tt.wantAllowed {
				t.Errorf("Allowed = %v, want %v", got.Allowed, tt.wantAllowed)
			}
			if got.Remaining != tt.wantRemaining {
				t.Errorf("Remaining = %d, want %d", got.Remaining, tt.wantRemaining)
			}
			if got.Used != tt.used {
				t.Errorf("Used = %d, want %d", got.Used, tt.used)
			}
		})
	}
}

// -----------------------------------------------------------------------------
// Validate tests
// -----------------------------------------------------------------------------

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		key     usage.Key
		limit   int64
		wantErr bool
	}{
		{"valid", usage.NewKey("user-1", usage.ActionChat), 50, false},
		{"zero limit is valid", usage.NewKey("user-1", usage.ActionChat), 0, false},
		{"empty user", usage.NewKey("", usage.ActionChat), 50, true},
		{"blank user", usage.NewKey("  ", usage.ActionChat), 50, true},
		{"empty action", usage.NewKey("user-1", ""), 50, true},
		{"negative limit", usage.NewKey("user-1", usage.ActionChat), -1, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.key, tt.limit)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidArgument) {
					t.Errorf("Validate() = %v, want ErrInvalidArgument", err)
				}
				return
			}
			if err != nil {
				t.Errorf("Validate() = %v, want nil", err)
			}
		})
	}
}

// -----------------------------------------------------------------------------
// Error tests
// -----------------------------------------------------------------------------

func TestStorageError_Is(t *testing.T) {
	cause := context.DeadlineExceeded
	var err error = &StorageError{Op: "count", Key: usage.NewKey("user-1", usage.ActionChat), Err: cause}
	wrapped := fmt.Errorf("chat: %w", err)

	if !errors.Is(wrapped, ErrStorageUnavailable) {
		t.Error("StorageError should match ErrStorageUnavailable")
	}
	if !errors.Is(wrapped, context.DeadlineExceeded) {
		t.Error("StorageError should unwrap to its cause")
	}
	if errors.Is(wrapped, ErrInvalidArgument) {
		t.Error("StorageError should not match ErrInvalidArgument")
	}

	var se *StorageError
	if !errors.As(wrapped, &se) || se.Op != "count" {
		t.Errorf("errors.As() did not recover StorageError, got %+v", se)
	}
}

func TestIsRetryable(t *testing.T) {
	if !IsRetryable(&StorageError{Op: "append", Err: errors.New("disk I/O error")}) {
		t.Error("storage errors should be retryable")
	}
	if IsRetryable(fmt.Errorf("%w: action is required", ErrInvalidArgument)) {
		t.Error("invalid arguments should not be retryable")
	}
	if IsRetryable(nil) {
		t.Error("nil should not be retryable")
	}
}

// -----------------------------------------------------------------------------
// WarningLevel tests
// -----------------------------------------------------------------------------

func TestCheckResult_Warning(t *testing.T) {
	tests := []struct {
		used, limit int64
		want        WarningLevel
	}{
		{0, 50, WarningNone},
		{39, 50, WarningNone},
		{40, 50, WarningApproaching},
		{48, 50, WarningCritical},
		{50, 50, WarningExhausted},
		{0, 0, WarningExhausted},
	}

	for _, tt := range tests {
		r := CheckResult{Used: tt.used, Limit: tt.limit}
		if got := r.Warning(); got != tt.want {
			t.Errorf("Warning() for %d/%d = %v, want %v", tt.used, tt.limit, got, tt.want)
		}
	}
}

func TestWarningLevel_String(t *testing.T) {
	tests := map[WarningLevel]string{
		WarningNone:        "none",
		WarningApproaching: "approaching",
		WarningCritical:    "critical",
		WarningExhausted:   "exhausted",
		WarningLevel(99):   "unknown",
	}

	for level, want := range tests {
		if got := level.String(); got != want {
			t.Errorf("WarningLevel(%d).String() = %q, want %q", int(level), got, want)
		}
	}
}
