package scheduler

import (
	"context"
	"testing"
	"time"

	"inboxforge/internal/models"
	"inboxforge/internal/repository"
	"inboxforge/internal/services/credits"
	"inboxforge/internal/services/mailsource"
	"inboxforge/internal/statemachine"
	"inboxforge/pkg/database"
)

func setupSchedulerDB(t *testing.T) {
	t.Helper()
	db := database.Init(t.TempDir())
	if err := database.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
}

func newTestScheduler(t *testing.T) *Scheduler {
	t.Helper()
	emails := repository.NewEmailStore()
	configs := repository.NewConfigStore()
	creditsStore := repository.NewCreditsStore()
	ledger := credits.NewLedger(creditsStore)
	tasks := repository.NewTaskStore()

	return NewScheduler(emails, configs, creditsStore, ledger, tasks, nil, newTestLocker(t), nil, nil, Options{
		UploadsDir: t.TempDir(),
		FreePlanID: "plan_free",
	})
}

func TestReapStuckResetsTimedOutRows(t *testing.T) {
	setupSchedulerDB(t)
	db := database.GetDB()
	if err := db.Create(&models.EmailMessage{ID: "stuck1", UserID: "u1", MessageID: "m1", Status: statemachine.StatusOCRProcessing}).Error; err != nil {
		t.Fatalf("seed: %v", err)
	}

	s := newTestScheduler(t)
	s.stuckTimeout = -time.Hour // every row looks stuck regardless of updated_at
	s.reapStuck(context.Background(), time.Now().UTC())

	got, err := s.emails.LoadEmail(context.Background(), "stuck1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Status != statemachine.StatusFetched {
		t.Fatalf("expected FETCHED after reap, got %s", got.Status)
	}
}

func TestRenewCreditsResetsElapsedPeriod(t *testing.T) {
	setupSchedulerDB(t)
	db := database.GetDB()
	now := time.Now().UTC()

	if err := db.Create(&models.Plan{ID: "plan1", Name: "Pro", Metadata: models.JSONMap{
		"credits_per_period": float64(500),
		"period_days":        float64(30),
	}}).Error; err != nil {
		t.Fatalf("seed plan: %v", err)
	}
	if err := db.Create(&models.Subscription{ID: "sub1", UserID: "u1", PlanID: "plan1", Status: models.SubscriptionStatusActive}).Error; err != nil {
		t.Fatalf("seed sub: %v", err)
	}
	subID := "sub1"
	if err := db.Create(&models.UserCredits{
		ID:              "uc1",
		UserID:          "u1",
		SubscriptionID:  &subID,
		BaseCredits:     500,
		ConsumedCredits: 400,
		IsActive:        true,
		PeriodStart:     now.AddDate(0, -1, 0),
		PeriodEnd:       now.Add(-time.Hour),
	}).Error; err != nil {
		t.Fatalf("seed credits: %v", err)
	}

	s := newTestScheduler(t)
	s.renewCredits(context.Background(), now)

	got, err := s.creditsStore.GetActive(context.Background(), "u1")
	if err != nil {
		t.Fatalf("load credits: %v", err)
	}
	if got.ConsumedCredits != 0 {
		t.Fatalf("expected consumed_credits reset to 0, got %d", got.ConsumedCredits)
	}
	if got.BaseCredits != 500 {
		t.Fatalf("expected base_credits refreshed to plan amount 500, got %d", got.BaseCredits)
	}
	if !got.PeriodEnd.After(now) {
		t.Fatalf("expected period_end pushed into the future, got %s", got.PeriodEnd)
	}
}

func TestDowngradePastDueReplacesSubscription(t *testing.T) {
	setupSchedulerDB(t)
	db := database.GetDB()
	now := time.Now().UTC()
	pastDueSince := now.Add(-10 * 24 * time.Hour)

	if err := db.Create(&models.Subscription{
		ID: "sub2", UserID: "u2", PlanID: "plan_paid",
		Status: models.SubscriptionStatusPastDue, PastDueSince: &pastDueSince,
	}).Error; err != nil {
		t.Fatalf("seed sub: %v", err)
	}
	if err := db.Create(&models.UserCredits{
		ID: "uc2", UserID: "u2", SubscriptionID: strPtr("sub2"), IsActive: true,
		PeriodStart: now, PeriodEnd: now.AddDate(0, 1, 0),
	}).Error; err != nil {
		t.Fatalf("seed credits: %v", err)
	}

	s := newTestScheduler(t)
	s.downgradeGrace = 7 * 24 * time.Hour
	s.downgradePastDue(context.Background(), now)

	oldSub, err := s.creditsStore.GetSubscription(context.Background(), "sub2")
	if err != nil {
		t.Fatalf("load old sub: %v", err)
	}
	if oldSub.Status != models.SubscriptionStatusCanceled {
		t.Fatalf("expected old subscription canceled, got %s", oldSub.Status)
	}

	got, err := s.creditsStore.GetActive(context.Background(), "u2")
	if err != nil {
		t.Fatalf("load credits: %v", err)
	}
	if got.SubscriptionID == nil || *got.SubscriptionID == "sub2" {
		t.Fatalf("expected credits row relinked to a new free subscription, got %+v", got.SubscriptionID)
	}

	newSub, err := s.creditsStore.GetSubscription(context.Background(), *got.SubscriptionID)
	if err != nil {
		t.Fatalf("load new sub: %v", err)
	}
	if newSub.PlanID != "plan_free" || newSub.Status != models.SubscriptionStatusActive {
		t.Fatalf("expected active free-plan subscription, got %+v", newSub)
	}
}

func TestStoreRawEmailDedupsByMessageID(t *testing.T) {
	setupSchedulerDB(t)
	db := database.GetDB()
	if err := db.Create(&models.User{ID: "u3", Email: "u3@example.com"}).Error; err != nil {
		t.Fatalf("seed user: %v", err)
	}

	s := newTestScheduler(t)
	raw := mailsource.RawEmail{
		MessageID:  "email_abc123",
		Subject:    "hello",
		Sender:     "a@example.com",
		ReceivedAt: time.Now().UTC(),
	}

	if err := s.storeRawEmail(context.Background(), "u3", raw); err != nil {
		t.Fatalf("first store: %v", err)
	}
	if err := s.storeRawEmail(context.Background(), "u3", raw); err != nil {
		t.Fatalf("second store: %v", err)
	}

	var count int64
	if err := db.Model(&models.EmailMessage{}).Where("user_id = ? AND message_id = ?", "u3", raw.MessageID).Count(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected exactly one row after duplicate fetch, got %d", count)
	}
}

func strPtr(s string) *string { return &s }
