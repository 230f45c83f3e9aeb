// Package credits implements C4: the credits ledger service wrapping
// internal/repository's atomic primitives with the operation names spec
// §4.3 names (check/consume/refund/grant_bonus/reset_period). Grounded on
// original_source/devify/billing/services/credits_service.py.
package credits

import (
	"context"
	"fmt"

	"inboxforge/internal/models"
	"inboxforge/internal/repository"
)

type Ledger struct {
	store *repository.CreditsStore
}

func NewLedger(store *repository.CreditsStore) *Ledger {
	return &Ledger{store: store}
}

// Check reports whether the user's active UserCredits row has at least n
// credits available, without consuming anything (spec §4.3 "check").
func (l *Ledger) Check(ctx context.Context, userID string, n int64) (bool, error) {
	credits, err := l.store.GetActive(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("credits: check: %w", err)
	}
	return credits.Available() >= n, nil
}

// Consume debits n credits idempotently, returning the transaction that
// recorded it (existing or newly created, spec §4.3).
func (l *Ledger) Consume(ctx context.Context, userID string, amount int64, reason, idempotencyKey string, emailID *string) (*models.EmailCreditsTxn, error) {
	txn, err := l.store.Consume(ctx, userID, amount, reason, idempotencyKey, emailID)
	if err != nil {
		return nil, fmt.Errorf("credits: consume: %w", err)
	}
	return txn, nil
}

// Refund credits back the amount of a prior Consume transaction, idempotent
// on a derived key so a retried refund never double-credits (spec §4.3).
func (l *Ledger) Refund(ctx context.Context, txnID string) (*models.EmailCreditsTxn, error) {
	txn, err := l.store.Refund(ctx, txnID)
	if err != nil {
		return nil, fmt.Errorf("credits: refund: %w", err)
	}
	return txn, nil
}

// GrantBonus adds bonus credits outside the normal plan cycle, e.g. an
// operator-issued goodwill grant (spec §4.3).
func (l *Ledger) GrantBonus(ctx context.Context, userID string, amount int64, reason string, operatorID *string) (*models.GeneralCreditsTxn, error) {
	txn, err := l.store.GrantBonus(ctx, userID, amount, reason, operatorID)
	if err != nil {
		return nil, fmt.Errorf("credits: grant_bonus: %w", err)
	}
	return txn, nil
}

// ResetPeriod is invoked by the scheduler's renewal job for every
// UserCredits row whose period has elapsed (spec §4.3).
func (l *Ledger) ResetPeriod(ctx context.Context, userID string, planCredits int64, periodDays int) error {
	if err := l.store.ResetPeriod(ctx, userID, planCredits, periodDays); err != nil {
		return fmt.Errorf("credits: reset_period: %w", err)
	}
	return nil
}
