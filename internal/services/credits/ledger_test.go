package credits

import (
	"context"
	"errors"
	"testing"
	"time"

	"inboxforge/internal/models"
	"inboxforge/internal/repository"
	"inboxforge/pkg/database"
)

func setupTestDB(t *testing.T) {
	t.Helper()
	db := database.Init(t.TempDir())
	if err := database.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
}

func seedCredits(t *testing.T, userID string, base int64) {
	t.Helper()
	db := database.GetDB()
	if err := db.Create(&models.User{ID: userID, Email: userID + "@example.com"}).Error; err != nil {
		t.Fatalf("seed user: %v", err)
	}
	now := time.Now().UTC()
	credits := &models.UserCredits{
		ID:          "uc_" + userID,
		UserID:      userID,
		BaseCredits: base,
		IsActive:    true,
		PeriodStart: now,
		PeriodEnd:   now.AddDate(0, 1, 0),
	}
	if err := db.Create(credits).Error; err != nil {
		t.Fatalf("seed credits: %v", err)
	}
}

func TestLedgerCheckReflectsAvailable(t *testing.T) {
	setupTestDB(t)
	seedCredits(t, "u1", 10)
	ledger := NewLedger(repository.NewCreditsStore())

	ok, err := ledger.Check(context.Background(), "u1", 5)
	if err != nil || !ok {
		t.Fatalf("expected 5 available credits ok, got ok=%v err=%v", ok, err)
	}

	ok, err = ledger.Check(context.Background(), "u1", 11)
	if err != nil || ok {
		t.Fatalf("expected insufficient credits, got ok=%v err=%v", ok, err)
	}
}

func TestLedgerConsumeIsIdempotent(t *testing.T) {
	setupTestDB(t)
	seedCredits(t, "u2", 10)
	ledger := NewLedger(repository.NewCreditsStore())
	ctx := context.Background()

	txn1, err := ledger.Consume(ctx, "u2", 4, "workflow run", "key-1", nil)
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	txn2, err := ledger.Consume(ctx, "u2", 4, "workflow run", "key-1", nil)
	if err != nil {
		t.Fatalf("consume replay: %v", err)
	}
	if txn1.ID != txn2.ID {
		t.Fatalf("expected idempotent consume to return the same txn, got %s vs %s", txn1.ID, txn2.ID)
	}

	ok, err := ledger.Check(ctx, "u2", 6)
	if err != nil || !ok {
		t.Fatalf("expected only one debit applied, got ok=%v err=%v", ok, err)
	}
}

func TestLedgerConsumeRejectsInsufficientBalance(t *testing.T) {
	setupTestDB(t)
	seedCredits(t, "u3", 2)
	ledger := NewLedger(repository.NewCreditsStore())

	_, err := ledger.Consume(context.Background(), "u3", 5, "workflow run", "key-2", nil)
	if !errors.Is(err, repository.ErrInsufficientCredits) {
		t.Fatalf("expected ErrInsufficientCredits, got %v", err)
	}
}

func TestLedgerRefundRestoresBalance(t *testing.T) {
	setupTestDB(t)
	seedCredits(t, "u4", 10)
	ledger := NewLedger(repository.NewCreditsStore())
	ctx := context.Background()

	txn, err := ledger.Consume(ctx, "u4", 6, "workflow run", "key-3", nil)
	if err != nil {
		t.Fatalf("consume: %v", err)
	}

	if _, err := ledger.Refund(ctx, txn.ID); err != nil {
		t.Fatalf("refund: %v", err)
	}
	if _, err := ledger.Refund(ctx, txn.ID); err != nil {
		t.Fatalf("refund replay: %v", err)
	}

	ok, err := ledger.Check(ctx, "u4", 10)
	if err != nil || !ok {
		t.Fatalf("expected full balance restored exactly once, got ok=%v err=%v", ok, err)
	}
}
