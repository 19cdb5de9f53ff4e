// Package clock provides Clock implementations. Every clock reports UTC,
// which is the timezone quota days are counted in.
package clock

import (
	"sync/atomic"
	"time"

	"github.com/artpar/tutorquota/ports"
)

var (
	_ ports.Clock = Real{}
	_ ports.Clock = (*Fake)(nil)
)

// Real reads the system clock.
type Real struct{}

func (Real) Now() time.Time {
	return time.Now().UTC()
}

// Fake is a manually driven clock for tests. It is safe for concurrent use.
type Fake struct {
	nanos atomic.Int64 // unix nanoseconds
}

// NewFake returns a fake clock stopped at t.
func NewFake(t time.Time) *Fake {
	f := &Fake{}
	f.Set(t)
	return f
}

func (f *Fake) Now() time.Time {
	return time.Unix(0, f.nanos.Load()).UTC()
}

// Set jumps to t.
func (f *Fake) Set(t time.Time) {
	f.nanos.Store(t.UnixNano())
}

// Advance moves the clock forward by d.
func (f *Fake) Advance(d time.Duration) {
	f.nanos.Add(int64(d))
}

// NextDay jumps to the next UTC midnight and returns it.
func (f *Fake) NextDay() time.Time {
	now := f.Now()
	midnight := time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, time.UTC)
	f.Set(midnight)
	return midnight
}
