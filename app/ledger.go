// Package app provides application services that orchestrate domain logic.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/artpar/tutorquota/domain/quota"
	"github.com/artpar/tutorquota/domain/usage"
	"github.com/artpar/tutorquota/ports"
	"github.com/rs/zerolog"
)

// Decision outcomes reported to the observer.
const (
	OutcomeAllowed = "allowed"
	OutcomeDenied  = "denied"
	OutcomeError   = "error"
)

// Ledger enforces and reports the daily cap for (user, action) keys.
//
// When the store implements ports.AtomicUsageEventStore the check and the
// append run as one store operation, which holds across processes. Otherwise
// the count-then-append sequence runs under a per-key lock, which holds
// within this process.
type Ledger struct {
	store    ports.UsageEventStore
	atomic   ports.AtomicUsageEventStore // nil when the store has no atomic path
	clock    ports.Clock
	idGen    ports.IDGenerator
	observer ports.QuotaObserver
	logger   zerolog.Logger
	locks    *keyLocks

	storeTimeout time.Duration
}

// LedgerDeps contains dependencies for Ledger.
type LedgerDeps struct {
	Store    ports.UsageEventStore
	Clock    ports.Clock
	IDGen    ports.IDGenerator
	Observer ports.QuotaObserver // Optional
	Logger   zerolog.Logger
}

// LedgerConfig contains configuration for Ledger.
type LedgerConfig struct {
	// StoreTimeout bounds each store call. Zero leaves bounding to the
	// caller's context and the store's own timeouts.
	StoreTimeout time.Duration

	// DisableAtomic forces the per-key lock path even when the store
	// supports atomic consumption.
	DisableAtomic bool
}

// NewLedger creates a new quota ledger.
func NewLedger(deps LedgerDeps, cfg LedgerConfig) *Ledger {
	l := &Ledger{
		store:        deps.Store,
		clock:        deps.Clock,
		idGen:        deps.IDGen,
		observer:     deps.Observer,
		logger:       deps.Logger,
		locks:        newKeyLocks(),
		storeTimeout: cfg.StoreTimeout,
	}
	if a, ok := deps.Store.(ports.AtomicUsageEventStore); ok && !cfg.DisableAtomic {
		l.atomic = a
	}
	return l
}

// CheckAndConsume decides whether the user may perform action now and, if
// so, durably records one unit. A denied attempt is a normal result, not an
// error. Errors are quota.ErrInvalidArgument or quota.ErrStorageUnavailable.
func (l *Ledger) CheckAndConsume(ctx context.Context, userID string, action usage.Action, limit int64) (quota.CheckResult, error) {
	return l.CheckAndConsumeAt(ctx, usage.NewKey(userID, action), limit, l.clock.Now())
}

// PeekStatus reports the counter for the user and action without consuming.
func (l *Ledger) PeekStatus(ctx context.Context, userID string, action usage.Action, limit int64) (quota.CheckResult, error) {
	return l.PeekStatusAt(ctx, usage.NewKey(userID, action), limit, l.clock.Now())
}

// CheckAndConsumeAt is CheckAndConsume with an explicit instant.
func (l *Ledger) CheckAndConsumeAt(ctx context.Context, key usage.Key, limit int64, now time.Time) (quota.CheckResult, error) {
	if err := quota.Validate(key, limit); err != nil {
		return quota.CheckResult{}, err
	}

	now = now.UTC()
	w := quota.WindowFor(now)

	// A zero limit denies regardless of history; no need to touch the store.
	if limit == 0 {
		res := quota.Decide(0, 0, w)
		l.observe(key, OutcomeDenied)
		return res, nil
	}

	event := usage.NewEvent(l.idGen.New(), key, now)

	var (
		res quota.CheckResult
		err error
	)
	if l.atomic != nil {
		res, err = l.consumeAtomic(ctx, event, limit, w)
	} else {
		res, err = l.consumeLocked(ctx, event, limit, w)
	}
	if err != nil {
		l.observe(key, OutcomeError)
		l.logger.Error().Err(err).
			Str("user_id", key.UserID).
			Str("action", string(key.Action)).
			Int64("limit", limit).
			Msg("quota check failed")
		return quota.CheckResult{}, err
	}

	if res.Allowed {
		l.observe(key, OutcomeAllowed)
	} else {
		l.observe(key, OutcomeDenied)
		l.logger.Debug().
			Str("user_id", key.UserID).
			Str("action", string(key.Action)).
			Int64("limit", limit).
			Time("reset_at", res.ResetAt).
			Msg("daily quota exhausted")
	}
	return res, nil
}

// PeekStatusAt is PeekStatus with an explicit instant.
func (l *Ledger) PeekStatusAt(ctx context.Context, key usage.Key, limit int64, now time.Time) (quota.CheckResult, error) {
	if err := quota.Validate(key, limit); err != nil {
		return quota.CheckResult{}, err
	}

	w := quota.WindowFor(now)

	sctx, cancel := l.storeContext(ctx)
	defer cancel()

	used, err := l.store.Count(sctx, key, w.Start, w.Until())
	if err != nil {
		return quota.CheckResult{}, l.storageError("count", key, err)
	}
	return quota.Status(used, limit, w), nil
}

// consumeAtomic delegates the whole check-and-append to the store.
func (l *Ledger) consumeAtomic(ctx context.Context, event usage.Event, limit int64, w quota.Window) (quota.CheckResult, error) {
	sctx, cancel := l.storeContext(ctx)
	defer cancel()

	used, appended, err := l.atomic.ConsumeIfBelow(sctx, event, w.Start, w.Until(), limit)
	if err != nil {
		return quota.CheckResult{}, l.storageError("consume", event.Key(), err)
	}

	res := quota.Decide(used, limit, w)
	if res.Allowed != appended {
		return quota.CheckResult{}, l.storageError("consume", event.Key(),
			fmt.Errorf("store reported appended=%t with used=%d limit=%d", appended, used, limit))
	}
	return res, nil
}

// consumeLocked runs count-then-append while holding the key's lock.
func (l *Ledger) consumeLocked(ctx context.Context, event usage.Event, limit int64, w quota.Window) (quota.CheckResult, error) {
	key := event.Key()

	unlock, err := l.locks.Lock(ctx, key.String())
	if err != nil {
		return quota.CheckResult{}, l.storageError("lock", key, err)
	}
	defer unlock()

	cctx, cancel := l.storeContext(ctx)
	used, err := l.store.Count(cctx, key, w.Start, w.Until())
	cancel()
	if err != nil {
		return quota.CheckResult{}, l.storageError("count", key, err)
	}

	res := quota.Decide(used, limit, w)
	if !res.Allowed {
		return res, nil
	}

	actx, cancel := l.storeContext(ctx)
	err = l.store.Append(actx, event)
	cancel()
	if err != nil {
		return quota.CheckResult{}, l.storageError("append", key, err)
	}

	// The unit is consumed once appended, whatever happens to ctx now.
	return res, nil
}

func (l *Ledger) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if l.storeTimeout > 0 {
		return context.WithTimeout(ctx, l.storeTimeout)
	}
	return context.WithCancel(ctx)
}

func (l *Ledger) storageError(op string, key usage.Key, err error) error {
	if l.observer != nil {
		l.observer.ObserveStorageError(op)
	}
	return &quota.StorageError{Op: op, Key: key, Err: err}
}

func (l *Ledger) observe(key usage.Key, outcome string) {
	if l.observer != nil {
		l.observer.ObserveDecision(key.Action, outcome)
	}
}
