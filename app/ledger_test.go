package app_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/artpar/tutorquota/adapters/clock"
	"github.com/artpar/tutorquota/adapters/idgen"
	"github.com/artpar/tutorquota/adapters/memory"
	"github.com/artpar/tutorquota/app"
	"github.com/artpar/tutorquota/domain/quota"
	"github.com/artpar/tutorquota/domain/usage"
	"github.com/artpar/tutorquota/ports"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

var baseTime = time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)

func newTestLedger(store ports.UsageEventStore, clk ports.Clock) (*app.Ledger, *recordingObserver) {
	obs := &recordingObserver{decisions: make(map[string]int)}
	l := app.NewLedger(app.LedgerDeps{
		Store:    store,
		Clock:    clk,
		IDGen:    idgen.NewSequential("evt-"),
		Observer: obs,
		Logger:   zerolog.Nop(),
	}, app.LedgerConfig{StoreTimeout: time.Second})
	return l, obs
}

// consumeN spends n units and fails the test on any error or denial.
func consumeN(t *testing.T, l *app.Ledger, userID string, action usage.Action, limit int64, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		res, err := l.CheckAndConsume(context.Background(), userID, action, limit)
		if err != nil {
			t.Fatalf("CheckAndConsume %d error: %v", i, err)
		}
		if !res.Allowed {
			t.Fatalf("CheckAndConsume %d denied, want allowed", i)
		}
	}
}

func mustConsume(t *testing.T, l *app.Ledger, userID string, action usage.Action, limit int64) quota.CheckResult {
	t.Helper()
	res, err := l.CheckAndConsume(context.Background(), userID, action, limit)
	if err != nil {
		t.Fatalf("CheckAndConsume error: %v", err)
	}
	return res
}

// -----------------------------------------------------------------------------
// CheckAndConsume
// -----------------------------------------------------------------------------

func TestLedger_CheckAndConsume_FiftyThenDenied(t *testing.T) {
	store := memory.NewUsageStore()
	l, obs := newTestLedger(store, clock.NewFake(baseTime))

	for i := 1; i <= 50; i++ {
		res := mustConsume(t, l, "u1", usage.ActionChat, 50)
		if !res.Allowed {
			t.Fatalf("call %d denied, want allowed", i)
		}
		if res.Remaining != int64(50-i) || res.Limit != 50 {
			t.Errorf("call %d Remaining/Limit = %d/%d, want %d/50", i, res.Remaining, res.Limit, 50-i)
		}
	}

	res := mustConsume(t, l, "u1", usage.ActionChat, 50)
	if res.Allowed || res.Remaining != 0 {
		t.Errorf("51st call Allowed/Remaining = %v/%d, want false/0", res.Allowed, res.Remaining)
	}
	if want := time.Date(2024, 1, 15, 23, 59, 59, 0, time.UTC); !res.ResetAt.Equal(want) {
		t.Errorf("ResetAt = %v, want %v", res.ResetAt, want)
	}

	// A denied call appends nothing.
	if store.Len() != 50 {
		t.Errorf("events = %d, want 50", store.Len())
	}
	if got := obs.count(usage.ActionChat, app.OutcomeAllowed); got != 50 {
		t.Errorf("allowed decisions = %d, want 50", got)
	}
	if got := obs.count(usage.ActionChat, app.OutcomeDenied); got != 1 {
		t.Errorf("denied decisions = %d, want 1", got)
	}
}

func TestLedger_CheckAndConsume_ZeroLimit(t *testing.T) {
	store := memory.NewUsageStore()
	l, _ := newTestLedger(store, clock.NewFake(baseTime))

	res := mustConsume(t, l, "u1", usage.ActionSpeech, 0)
	if res.Allowed || res.Remaining != 0 {
		t.Errorf("Allowed/Remaining = %v/%d, want false/0", res.Allowed, res.Remaining)
	}
	if store.Len() != 0 {
		t.Errorf("events = %d, want 0", store.Len())
	}
}

func TestLedger_CheckAndConsume_InvalidArgument(t *testing.T) {
	store := memory.NewUsageStore()
	l, _ := newTestLedger(store, clock.NewFake(baseTime))
	ctx := context.Background()

	tests := []struct {
		name   string
		userID string
		action usage.Action
		limit  int64
	}{
		{"empty user", "", usage.ActionChat, 50},
		{"empty action", "u1", "", 50},
		{"negative limit", "u1", usage.ActionChat, -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := l.CheckAndConsume(ctx, tt.userID, tt.action, tt.limit)
			if !errors.Is(err, quota.ErrInvalidArgument) {
				t.Errorf("err = %v, want ErrInvalidArgument", err)
			}
		})
	}
	if store.Len() != 0 {
		t.Errorf("events = %d, want 0", store.Len())
	}
}

func TestLedger_CheckAndConsume_KeysAreIndependent(t *testing.T) {
	l, _ := newTestLedger(memory.NewUsageStore(), clock.NewFake(baseTime))

	consumeN(t, l, "u1", usage.ActionChat, 2, 2)

	if res := mustConsume(t, l, "u1", usage.ActionSpeech, 2); !res.Allowed {
		t.Error("other action should have its own counter")
	}
	if res := mustConsume(t, l, "u2", usage.ActionChat, 2); !res.Allowed {
		t.Error("other user should have its own counter")
	}
	if res := mustConsume(t, l, "u1", usage.ActionChat, 2); res.Allowed {
		t.Error("u1 chat should be exhausted")
	}
}

func TestLedger_CheckAndConsume_ResetsAtUTCMidnight(t *testing.T) {
	clk := clock.NewFake(time.Date(2024, 1, 15, 23, 59, 0, 0, time.UTC))
	l, _ := newTestLedger(memory.NewUsageStore(), clk)

	consumeN(t, l, "u1", usage.ActionChat, 3, 3)

	clk.Set(time.Date(2024, 1, 15, 23, 59, 59, 0, time.UTC))
	if res := mustConsume(t, l, "u1", usage.ActionChat, 3); res.Allowed {
		t.Error("still the same UTC day, want denied")
	}

	clk.NextDay()
	res := mustConsume(t, l, "u1", usage.ActionChat, 3)
	if !res.Allowed || res.Remaining != 2 {
		t.Errorf("Allowed/Remaining = %v/%d, want true/2", res.Allowed, res.Remaining)
	}
	if want := time.Date(2024, 1, 16, 23, 59, 59, 0, time.UTC); !res.ResetAt.Equal(want) {
		t.Errorf("ResetAt = %v, want %v", res.ResetAt, want)
	}
}

func TestLedger_CheckAndConsume_LimitLoweredBelowUsage(t *testing.T) {
	l, _ := newTestLedger(memory.NewUsageStore(), clock.NewFake(baseTime))

	consumeN(t, l, "u1", usage.ActionChat, 50, 10)

	res := mustConsume(t, l, "u1", usage.ActionChat, 5)
	if res.Allowed || res.Remaining != 0 {
		t.Errorf("Allowed/Remaining = %v/%d, want false/0", res.Allowed, res.Remaining)
	}
}

func TestLedger_CheckAndConsume_ConcurrentSingleUnit(t *testing.T) {
	l, _ := newTestLedger(memory.NewUsageStore(), clock.NewFake(baseTime))

	var allowed atomic.Int64
	g, ctx := errgroup.WithContext(context.Background())
	for i := 0; i < 64; i++ {
		g.Go(func() error {
			res, err := l.CheckAndConsume(ctx, "u1", usage.ActionChat, 1)
			if err != nil {
				return err
			}
			if res.Allowed {
				allowed.Add(1)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("CheckAndConsume error: %v", err)
	}
	if got := allowed.Load(); got != 1 {
		t.Errorf("allowed = %d, want 1", got)
	}
}

func TestLedger_CheckAndConsume_ConcurrentNeverExceedsLimit(t *testing.T) {
	store := memory.NewUsageStore()
	l, _ := newTestLedger(store, clock.NewFake(baseTime))

	const limit = 20
	var allowed atomic.Int64
	g, ctx := errgroup.WithContext(context.Background())
	for i := 0; i < 100; i++ {
		g.Go(func() error {
			res, err := l.CheckAndConsume(ctx, "u1", usage.ActionTranscription, limit)
			if err != nil {
				return err
			}
			if res.Allowed {
				allowed.Add(1)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("CheckAndConsume error: %v", err)
	}
	if got := allowed.Load(); got != limit {
		t.Errorf("allowed = %d, want %d", got, limit)
	}
	if store.Len() != limit {
		t.Errorf("events = %d, want %d", store.Len(), limit)
	}
}

func TestLedger_CheckAndConsume_CountFailure(t *testing.T) {
	store := &failingStore{countErr: errors.New("database is locked")}
	l, obs := newTestLedger(store, clock.NewFake(baseTime))

	_, err := l.CheckAndConsume(context.Background(), "u1", usage.ActionChat, 50)
	if !errors.Is(err, quota.ErrStorageUnavailable) {
		t.Fatalf("err = %v, want ErrStorageUnavailable", err)
	}

	var se *quota.StorageError
	if !errors.As(err, &se) {
		t.Fatalf("err = %T, want *quota.StorageError", err)
	}
	if se.Op != "count" {
		t.Errorf("Op = %q, want count", se.Op)
	}
	if n := store.appends.Load(); n != 0 {
		t.Errorf("appends = %d, want 0 when the count fails", n)
	}
	if got := obs.count(usage.ActionChat, app.OutcomeError); got != 1 {
		t.Errorf("error decisions = %d, want 1", got)
	}
	if got := obs.storageErrors["count"]; got != 1 {
		t.Errorf("count storage errors = %d, want 1", got)
	}
}

func TestLedger_CheckAndConsume_AppendFailure(t *testing.T) {
	store := &failingStore{appendErr: errors.New("disk I/O error")}
	l, _ := newTestLedger(store, clock.NewFake(baseTime))

	_, err := l.CheckAndConsume(context.Background(), "u1", usage.ActionChat, 50)
	if !errors.Is(err, quota.ErrStorageUnavailable) {
		t.Fatalf("err = %v, want ErrStorageUnavailable", err)
	}

	var se *quota.StorageError
	if !errors.As(err, &se) || se.Op != "append" {
		t.Errorf("err = %v, want append StorageError", err)
	}
}

func TestLedger_CheckAndConsume_CancelledWhileWaiting(t *testing.T) {
	store := &blockingStore{UsageStore: memory.NewUsageStore(), entered: make(chan struct{}), release: make(chan struct{})}
	l, _ := newTestLedger(store, clock.NewFake(baseTime))

	done := make(chan error, 1)
	go func() {
		_, err := l.CheckAndConsume(context.Background(), "u1", usage.ActionChat, 5)
		done <- err
	}()
	<-store.entered

	ctx, cancel := context.WithCancel(context.Background())
	waitErr := make(chan error, 1)
	go func() {
		_, err := l.CheckAndConsume(ctx, "u1", usage.ActionChat, 5)
		waitErr <- err
	}()
	cancel()

	err := <-waitErr
	if !errors.Is(err, quota.ErrStorageUnavailable) || !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want ErrStorageUnavailable wrapping context.Canceled", err)
	}

	close(store.release)
	if err := <-done; err != nil {
		t.Fatalf("first call error: %v", err)
	}
	if store.Len() != 1 {
		t.Errorf("events = %d, want 1", store.Len())
	}
}

// -----------------------------------------------------------------------------
// Atomic store path
// -----------------------------------------------------------------------------

func TestLedger_UsesAtomicStore(t *testing.T) {
	store := &atomicStore{UsageStore: memory.NewUsageStore()}
	l, _ := newTestLedger(store, clock.NewFake(baseTime))

	consumeN(t, l, "u1", usage.ActionChat, 3, 3)
	if res := mustConsume(t, l, "u1", usage.ActionChat, 3); res.Allowed {
		t.Error("fourth call should be denied")
	}

	if n := store.calls.Load(); n != 4 {
		t.Errorf("ConsumeIfBelow calls = %d, want 4", n)
	}
	if store.Len() != 3 {
		t.Errorf("events = %d, want 3", store.Len())
	}
}

func TestLedger_AtomicStoreInconsistent(t *testing.T) {
	store := &atomicStore{UsageStore: memory.NewUsageStore(), lie: true}
	l, _ := newTestLedger(store, clock.NewFake(baseTime))

	_, err := l.CheckAndConsume(context.Background(), "u1", usage.ActionChat, 3)
	if !errors.Is(err, quota.ErrStorageUnavailable) {
		t.Errorf("err = %v, want ErrStorageUnavailable", err)
	}
}

func TestLedger_DisableAtomic(t *testing.T) {
	store := &atomicStore{UsageStore: memory.NewUsageStore()}
	l := app.NewLedger(app.LedgerDeps{
		Store:  store,
		Clock:  clock.NewFake(baseTime),
		IDGen:  idgen.NewSequential("evt-"),
		Logger: zerolog.Nop(),
	}, app.LedgerConfig{DisableAtomic: true})

	if res := mustConsume(t, l, "u1", usage.ActionChat, 3); !res.Allowed {
		t.Error("first call should be allowed")
	}
	if n := store.calls.Load(); n != 0 {
		t.Errorf("ConsumeIfBelow calls = %d, want 0", n)
	}
	if store.Len() != 1 {
		t.Errorf("events = %d, want 1", store.Len())
	}
}

// -----------------------------------------------------------------------------
// PeekStatus
// -----------------------------------------------------------------------------

func TestLedger_PeekStatus(t *testing.T) {
	ctx := context.Background()
	store := memory.NewUsageStore()
	l, _ := newTestLedger(store, clock.NewFake(baseTime))

	res, err := l.PeekStatus(ctx, "u1", usage.ActionChat, 50)
	if err != nil {
		t.Fatalf("PeekStatus error: %v", err)
	}
	if !res.Allowed || res.Remaining != 50 {
		t.Errorf("Allowed/Remaining = %v/%d, want true/50", res.Allowed, res.Remaining)
	}

	consumeN(t, l, "u1", usage.ActionChat, 50, 20)

	for i := 0; i < 3; i++ {
		res, err = l.PeekStatus(ctx, "u1", usage.ActionChat, 50)
		if err != nil {
			t.Fatalf("PeekStatus error: %v", err)
		}
		if res.Remaining != 30 || res.Used != 20 {
			t.Errorf("peek %d Used/Remaining = %d/%d, want 20/30", i, res.Used, res.Remaining)
		}
	}
	if store.Len() != 20 {
		t.Errorf("events = %d, want 20; peek must not consume", store.Len())
	}
}

func TestLedger_PeekStatus_Exhausted(t *testing.T) {
	l, _ := newTestLedger(memory.NewUsageStore(), clock.NewFake(baseTime))

	consumeN(t, l, "u1", usage.ActionSpeech, 2, 2)

	res, err := l.PeekStatus(context.Background(), "u1", usage.ActionSpeech, 2)
	if err != nil {
		t.Fatalf("PeekStatus error: %v", err)
	}
	if res.Allowed || res.Remaining != 0 {
		t.Errorf("Allowed/Remaining = %v/%d, want false/0", res.Allowed, res.Remaining)
	}
}

func TestLedger_PeekStatus_Errors(t *testing.T) {
	l, _ := newTestLedger(&failingStore{countErr: errors.New("connection refused")}, clock.NewFake(baseTime))

	_, err := l.PeekStatus(context.Background(), "u1", usage.ActionChat, 50)
	if !errors.Is(err, quota.ErrStorageUnavailable) {
		t.Errorf("err = %v, want ErrStorageUnavailable", err)
	}

	_, err = l.PeekStatus(context.Background(), "", usage.ActionChat, 50)
	if !errors.Is(err, quota.ErrInvalidArgument) {
		t.Errorf("err = %v, want ErrInvalidArgument", err)
	}
}

// -----------------------------------------------------------------------------
// Test doubles
// -----------------------------------------------------------------------------

type recordingObserver struct {
	mu            sync.Mutex
	decisions     map[string]int
	storageErrors map[string]int
}

func (o *recordingObserver) ObserveDecision(action usage.Action, outcome string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.decisions[string(action)+"/"+outcome]++
}

func (o *recordingObserver) ObserveStorageError(op string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.storageErrors == nil {
		o.storageErrors = make(map[string]int)
	}
	o.storageErrors[op]++
}

func (o *recordingObserver) count(action usage.Action, outcome string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.decisions[string(action)+"/"+outcome]
}

type failingStore struct {
	countErr  error
	appendErr error
	appends   atomic.Int32
}

func (s *failingStore) Count(ctx context.Context, key usage.Key, from, until time.Time) (int64, error) {
	return 0, s.countErr
}

func (s *failingStore) Append(ctx context.Context, event usage.Event) error {
	s.appends.Add(1)
	return s.appendErr
}

// blockingStore parks the first Count until release is closed.
type blockingStore struct {
	*memory.UsageStore
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (s *blockingStore) Count(ctx context.Context, key usage.Key, from, until time.Time) (int64, error) {
	first := false
	s.once.Do(func() { first = true })
	if first {
		close(s.entered)
		<-s.release
	}
	return s.UsageStore.Count(ctx, key, from, until)
}

// atomicStore adds a mutex-guarded ConsumeIfBelow to the memory store.
type atomicStore struct {
	*memory.UsageStore
	mu    sync.Mutex
	calls atomic.Int32
	lie   bool // report appended without appending
}

func (s *atomicStore) ConsumeIfBelow(ctx context.Context, event usage.Event, from, until time.Time, limit int64) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls.Add(1)

	used, err := s.Count(ctx, event.Key(), from, until)
	if err != nil {
		return 0, false, err
	}
	if s.lie {
		return limit, true, nil
	}
	if used >= limit {
		return used, false, nil
	}
	return used, true, s.Append(ctx, event)
}

var _ ports.AtomicUsageEventStore = (*atomicStore)(nil)
