// Package ports defines interfaces (contracts) between layers.
// These interfaces enable dependency injection and testability.
// Implementations live in adapters/.
package ports

import (
	"context"
	"time"

	"github.com/artpar/tutorquota/domain/auth"
	"github.com/artpar/tutorquota/domain/chat"
	"github.com/artpar/tutorquota/domain/usage"
)

// -----------------------------------------------------------------------------
// Infrastructure Ports
// -----------------------------------------------------------------------------

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

// IDGenerator generates unique identifiers.
type IDGenerator interface {
	New() string
}

// -----------------------------------------------------------------------------
// Usage Event Store Ports
// -----------------------------------------------------------------------------

// UsageEventStore is the durable, append-only log of consumed quota units.
// It is the sole source of truth for the ledger.
type UsageEventStore interface {
	// Count returns the number of events for key with OccurredAt in [from, until).
	Count(ctx context.Context, key usage.Key, from, until time.Time) (int64, error)

	// Append durably records one event. Either the event is stored or an
	// error is returned.
	Append(ctx context.Context, event usage.Event) error
}

// AtomicUsageEventStore can perform the check-and-append as one atomic
// operation. Stores shared by several processes implement it so the daily
// limit holds across instances, not just within one.
type AtomicUsageEventStore interface {
	UsageEventStore

	// ConsumeIfBelow counts events for the event's key in [from, until) and,
	// only if that count is below limit, appends the event. It returns the
	// count observed before the append and whether the event was appended.
	ConsumeIfBelow(ctx context.Context, event usage.Event, from, until time.Time, limit int64) (used int64, appended bool, err error)
}

// UsagePruner deletes events older than a cutoff. It is used by the
// retention job only; the ledger never deletes.
type UsagePruner interface {
	PruneBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// -----------------------------------------------------------------------------
// Collaborator Ports
// -----------------------------------------------------------------------------

// SessionStore looks up browser sessions issued by the login flow.
type SessionStore interface {
	// Get retrieves a session by token. Returns auth.ErrNoSession if unknown.
	Get(ctx context.Context, token string) (auth.Session, error)
}

// PlanResolver returns the subscription plan a user is currently on.
// Subscription state is owned by the billing collaborator.
type PlanResolver interface {
	PlanFor(ctx context.Context, userID string) (string, error)
}

// ChatCompleter forwards a tutoring conversation to the upstream model.
type ChatCompleter interface {
	Complete(ctx context.Context, req chat.Request) (chat.Response, error)
}

// QuotaObserver receives ledger outcomes for monitoring.
type QuotaObserver interface {
	// ObserveDecision is called once per ledger call with outcome
	// "allowed", "denied" or "error".
	ObserveDecision(action usage.Action, outcome string)

	// ObserveStorageError is called when an event store call fails.
	ObserveStorageError(op string)
}

// HealthChecker reports whether a dependency is reachable.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}
