package app_test

import (
	"context"
	"errors"
	"testing"

	"github.com/artpar/tutorquota/adapters/clock"
	"github.com/artpar/tutorquota/adapters/memory"
	"github.com/artpar/tutorquota/app"
	"github.com/artpar/tutorquota/domain/plan"
	"github.com/artpar/tutorquota/domain/quota"
	"github.com/artpar/tutorquota/domain/usage"
	"github.com/artpar/tutorquota/ports"
	"github.com/rs/zerolog"
)

func testPolicy() app.QuotaPolicy {
	return app.QuotaPolicy{
		DefaultPlan: plan.Free,
		Plans: []plan.Plan{
			{ID: plan.Free, Name: "Free", Limits: map[usage.Action]int64{
				usage.ActionChat:          3,
				usage.ActionSpeech:        2,
				usage.ActionTranscription: 0,
			}},
			{ID: plan.Premium, Name: "Premium", Limits: map[usage.Action]int64{
				usage.ActionChat:   10,
				usage.ActionSpeech: 5,
			}},
		},
	}
}

func newTestQuotaService(store ports.UsageEventStore, plans ports.PlanResolver, policy app.QuotaPolicy) *app.QuotaService {
	ledger, _ := newTestLedger(store, clock.NewFake(baseTime))
	return app.NewQuotaService(ledger, plans, policy, zerolog.Nop())
}

func TestQuotaService_Consume_UsesPlanLimit(t *testing.T) {
	ctx := context.Background()
	plans := memory.NewPlanStore(plan.Free)
	plans.Assign("paid", plan.Premium)
	svc := newTestQuotaService(memory.NewUsageStore(), plans, testPolicy())

	d, err := svc.Consume(ctx, "paid", usage.ActionChat)
	if err != nil {
		t.Fatalf("Consume error: %v", err)
	}
	if d.Plan != plan.Premium || d.Limit != 10 || d.Remaining != 9 {
		t.Errorf("Plan/Limit/Remaining = %s/%d/%d, want premium/10/9", d.Plan, d.Limit, d.Remaining)
	}

	d, err = svc.Consume(ctx, "anon", usage.ActionChat)
	if err != nil {
		t.Fatalf("Consume error: %v", err)
	}
	if d.Plan != plan.Free || d.Limit != 3 {
		t.Errorf("Plan/Limit = %s/%d, want free/3", d.Plan, d.Limit)
	}
}

func TestQuotaService_Consume_UnmeteredActionDenied(t *testing.T) {
	svc := newTestQuotaService(memory.NewUsageStore(), memory.NewPlanStore(plan.Free), testPolicy())

	d, err := svc.Consume(context.Background(), "u1", usage.ActionTranscription)
	if err != nil {
		t.Fatalf("Consume error: %v", err)
	}
	if d.Allowed || d.Limit != 0 {
		t.Errorf("Allowed/Limit = %v/%d, want false/0", d.Allowed, d.Limit)
	}
}

func TestQuotaService_Consume_UnknownPlanFallsBack(t *testing.T) {
	plans := memory.NewPlanStore(plan.Free)
	plans.Assign("u1", "enterprise")
	svc := newTestQuotaService(memory.NewUsageStore(), plans, testPolicy())

	d, err := svc.Consume(context.Background(), "u1", usage.ActionChat)
	if err != nil {
		t.Fatalf("Consume error: %v", err)
	}
	if d.Plan != plan.Free {
		t.Errorf("Plan = %s, want %s", d.Plan, plan.Free)
	}
}

func TestQuotaService_Consume_PlanLookupFailure(t *testing.T) {
	svc := newTestQuotaService(memory.NewUsageStore(), failingPlans{}, testPolicy())

	d, err := svc.Consume(context.Background(), "u1", usage.ActionChat)
	if err != nil {
		t.Fatalf("Consume error: %v", err)
	}
	if d.Plan != plan.Free || !d.Allowed {
		t.Errorf("Plan/Allowed = %s/%v, want free/true", d.Plan, d.Allowed)
	}
}

func TestQuotaService_Consume_FailClosed(t *testing.T) {
	svc := newTestQuotaService(&failingStore{countErr: errors.New("down")}, nil, testPolicy())

	_, err := svc.Consume(context.Background(), "u1", usage.ActionChat)
	if !errors.Is(err, quota.ErrStorageUnavailable) {
		t.Errorf("err = %v, want ErrStorageUnavailable", err)
	}
}

func TestQuotaService_Consume_FailOpen(t *testing.T) {
	policy := testPolicy()
	policy.FailOpen = map[usage.Action]bool{usage.ActionSpeech: true}
	svc := newTestQuotaService(&failingStore{countErr: errors.New("down")}, nil, policy)

	d, err := svc.Consume(context.Background(), "u1", usage.ActionSpeech)
	if err != nil {
		t.Fatalf("Consume error: %v", err)
	}
	if !d.Allowed || !d.Degraded {
		t.Errorf("Allowed/Degraded = %v/%v, want true/true", d.Allowed, d.Degraded)
	}

	// Other actions still fail closed.
	_, err = svc.Consume(context.Background(), "u1", usage.ActionChat)
	if !errors.Is(err, quota.ErrStorageUnavailable) {
		t.Errorf("chat err = %v, want ErrStorageUnavailable", err)
	}
}

func TestQuotaService_UpdatePolicy(t *testing.T) {
	ctx := context.Background()
	svc := newTestQuotaService(memory.NewUsageStore(), nil, testPolicy())

	for i := 0; i < 3; i++ {
		if _, err := svc.Consume(ctx, "u1", usage.ActionChat); err != nil {
			t.Fatalf("Consume %d error: %v", i, err)
		}
	}
	d, err := svc.Consume(ctx, "u1", usage.ActionChat)
	if err != nil {
		t.Fatalf("Consume error: %v", err)
	}
	if d.Allowed {
		t.Fatal("fourth call should be denied at limit 3")
	}

	raised := testPolicy()
	raised.Plans[0].Limits[usage.ActionChat] = 5
	svc.UpdatePolicy(raised)

	d, err = svc.Consume(ctx, "u1", usage.ActionChat)
	if err != nil {
		t.Fatalf("Consume error: %v", err)
	}
	if !d.Allowed || d.Remaining != 1 {
		t.Errorf("Allowed/Remaining = %v/%d, want true/1", d.Allowed, d.Remaining)
	}
}

func TestQuotaService_Status(t *testing.T) {
	ctx := context.Background()
	store := memory.NewUsageStore()
	svc := newTestQuotaService(store, nil, testPolicy())

	if _, err := svc.Consume(ctx, "u1", usage.ActionChat); err != nil {
		t.Fatalf("Consume error: %v", err)
	}

	d, err := svc.Status(ctx, "u1", usage.ActionChat)
	if err != nil {
		t.Fatalf("Status error: %v", err)
	}
	if d.Remaining != 2 || d.Action != usage.ActionChat {
		t.Errorf("Action/Remaining = %s/%d, want chat_request/2", d.Action, d.Remaining)
	}
	if store.Len() != 1 {
		t.Errorf("events = %d, want 1; Status must not consume", store.Len())
	}
}

func TestQuotaService_StatusAll(t *testing.T) {
	ctx := context.Background()
	svc := newTestQuotaService(memory.NewUsageStore(), nil, testPolicy())

	if _, err := svc.Consume(ctx, "u1", usage.ActionSpeech); err != nil {
		t.Fatalf("Consume error: %v", err)
	}

	all, err := svc.StatusAll(ctx, "u1")
	if err != nil {
		t.Fatalf("StatusAll error: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("len(StatusAll) = %d, want 3", len(all))
	}

	byAction := make(map[usage.Action]app.Decision)
	for _, d := range all {
		byAction[d.Action] = d
	}
	if got := byAction[usage.ActionChat].Remaining; got != 3 {
		t.Errorf("chat remaining = %d, want 3", got)
	}
	if got := byAction[usage.ActionSpeech].Remaining; got != 1 {
		t.Errorf("speech remaining = %d, want 1", got)
	}
	if byAction[usage.ActionTranscription].Allowed {
		t.Error("transcription should not be allowed at limit 0")
	}
}

type failingPlans struct{}

func (failingPlans) PlanFor(ctx context.Context, userID string) (string, error) {
	return "", errors.New("billing unavailable")
}
