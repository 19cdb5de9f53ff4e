package memory

import (
	"context"
	"sync"
	"time"

	"github.com/artpar/tutorquota/domain/usage"
	"github.com/artpar/tutorquota/ports"
)

// UsageStore is an in-memory implementation of ports.UsageEventStore.
// Events are grouped per key so a count only scans its own key's events.
// It serves tests and single-process development; the ledger serializes
// same-key access with its own lock table.
type UsageStore struct {
	mu     sync.RWMutex
	events map[usage.Key][]usage.Event
}

// NewUsageStore creates a new in-memory usage store.
func NewUsageStore() *UsageStore {
	return &UsageStore{
		events: make(map[usage.Key][]usage.Event),
	}
}

// Count returns the number of events for key in [from, until).
func (s *UsageStore) Count(ctx context.Context, key usage.Key, from, until time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return usage.Count(s.events[key], key, from, until), nil
}

// Append records one event.
func (s *UsageStore) Append(ctx context.Context, event usage.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	k := event.Key()
	s.events[k] = append(s.events[k], event)
	return nil
}

// PruneBefore removes events that occurred before cutoff.
func (s *UsageStore) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64
	for k, events := range s.events {
		kept := events[:0]
		for _, e := range events {
			if e.OccurredAt.Before(cutoff) {
				removed++
				continue
			}
			kept = append(kept, e)
		}
		if len(kept) == 0 {
			delete(s.events, k)
			continue
		}
		s.events[k] = kept
	}
	return removed, nil
}

// GetAll returns a copy of every stored event (for testing).
func (s *UsageStore) GetAll() []usage.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []usage.Event
	for _, events := range s.events {
		out = append(out, events...)
	}
	return out
}

// Len returns the total number of stored events (for testing).
func (s *UsageStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total := 0
	for _, events := range s.events {
		total += len(events)
	}
	return total
}

// Ensure interface compliance.
var (
	_ ports.UsageEventStore = (*UsageStore)(nil)
	_ ports.UsagePruner     = (*UsageStore)(nil)
)
