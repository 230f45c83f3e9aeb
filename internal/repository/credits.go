package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"inboxforge/internal/metrics"
	"inboxforge/internal/models"
	"inboxforge/pkg/database"
)

var ErrInsufficientCredits = errors.New("insufficient credits")

type CreditsStore struct {
	db *gorm.DB
}

func NewCreditsStore() *CreditsStore {
	return &CreditsStore{db: database.GetDB()}
}

func (s *CreditsStore) GetActive(ctx context.Context, userID string) (*models.UserCredits, error) {
	var c models.UserCredits
	err := s.db.WithContext(ctx).Where("user_id = ? AND is_active = ?", userID, true).First(&c).Error
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *CreditsStore) FindEmailTxnByKey(ctx context.Context, key string) (*models.EmailCreditsTxn, error) {
	var t models.EmailCreditsTxn
	err := s.db.WithContext(ctx).Where("idempotency_key = ?", key).First(&t).Error
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// Consume implements spec §4.3's concurrency contract exactly: idempotency
// short-circuit, SELECT FOR UPDATE, availability check, a relative delta
// update (never read-modify-write the whole value), then the txn insert —
// all inside one transaction (grounded on original_source
// billing/services/credits_service.py's consume_credits).
func (s *CreditsStore) Consume(ctx context.Context, userID string, amount int64, reason, idempotencyKey string, emailID *string) (*models.EmailCreditsTxn, error) {
	if idempotencyKey != "" {
		if existing, err := s.FindEmailTxnByKey(ctx, idempotencyKey); err == nil {
			return existing, nil
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}

	var result *models.EmailCreditsTxn
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var credits models.UserCredits
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("user_id = ? AND is_active = ?", userID, true).
			First(&credits).Error; err != nil {
			return fmt.Errorf("consume: load user credits: %w", err)
		}

		if credits.Available() < amount {
			metrics.CreditsInsufficientTotal.Inc()
			return ErrInsufficientCredits
		}

		if err := tx.Model(&models.UserCredits{}).
			Where("user_id = ? AND is_active = ?", userID, true).
			Update("consumed_credits", gorm.Expr("consumed_credits + ?", amount)).Error; err != nil {
			return fmt.Errorf("consume: apply delta: %w", err)
		}

		txn := &models.EmailCreditsTxn{
			ID:             newID(),
			UserID:         userID,
			EmailMessageID: emailID,
			Type:           models.CreditsTxnConsume,
			Amount:         amount,
			Reason:         reason,
			IdempotencyKey: idempotencyKey,
		}
		if err := tx.Create(txn).Error; err != nil {
			return fmt.Errorf("consume: insert txn: %w", err)
		}
		metrics.CreditsConsumed.WithLabelValues(reason).Add(float64(amount))
		result = txn
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Refund mirrors Consume: idempotent on a derived key `refund_<txnID>`
// (spec §4.3).
func (s *CreditsStore) Refund(ctx context.Context, txnID string) (*models.EmailCreditsTxn, error) {
	refundKey := "refund_" + txnID
	if existing, err := s.FindEmailTxnByKey(ctx, refundKey); err == nil {
		return existing, nil
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	var result *models.EmailCreditsTxn
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var orig models.EmailCreditsTxn
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", txnID).First(&orig).Error; err != nil {
			return fmt.Errorf("refund: load original txn: %w", err)
		}

		if err := tx.Model(&models.UserCredits{}).
			Where("user_id = ? AND is_active = ?", orig.UserID, true).
			Update("consumed_credits", gorm.Expr("consumed_credits - ?", orig.Amount)).Error; err != nil {
			return fmt.Errorf("refund: apply delta: %w", err)
		}

		txn := &models.EmailCreditsTxn{
			ID:             newID(),
			UserID:         orig.UserID,
			EmailMessageID: orig.EmailMessageID,
			Type:           models.CreditsTxnRefund,
			Amount:         orig.Amount,
			Reason:         "refund of " + txnID,
			IdempotencyKey: refundKey,
		}
		if err := tx.Create(txn).Error; err != nil {
			return fmt.Errorf("refund: insert txn: %w", err)
		}
		result = txn
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *CreditsStore) GrantBonus(ctx context.Context, userID string, amount int64, reason string, operatorID *string) (*models.GeneralCreditsTxn, error) {
	var result *models.GeneralCreditsTxn
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.UserCredits{}).
			Where("user_id = ? AND is_active = ?", userID, true).
			Update("bonus_credits", gorm.Expr("bonus_credits + ?", amount)).Error; err != nil {
			return err
		}
		txn := &models.GeneralCreditsTxn{
			ID:         newID(),
			UserID:     userID,
			Type:       models.GeneralCreditsTxnBonus,
			Amount:     amount,
			Reason:     reason,
			OperatorID: operatorID,
		}
		if err := tx.Create(txn).Error; err != nil {
			return err
		}
		result = txn
		return nil
	})
	return result, err
}

// ResetPeriod zeroes consumed credits and shifts the period window, driven
// by the plan's metadata (spec §4.3).
func (s *CreditsStore) ResetPeriod(ctx context.Context, userID string, planCredits int64, periodDays int) error {
	now := time.Now().UTC()
	return s.db.WithContext(ctx).Model(&models.UserCredits{}).
		Where("user_id = ? AND is_active = ?", userID, true).
		Updates(map[string]any{
			"base_credits":     planCredits,
			"consumed_credits": 0,
			"period_start":     now,
			"period_end":       now.AddDate(0, 0, periodDays),
		}).Error
}

// ListDueForRenewal returns active UserCredits rows whose period has
// elapsed (spec §4.3 periodic renewal).
func (s *CreditsStore) ListDueForRenewal(ctx context.Context, now time.Time) ([]models.UserCredits, error) {
	var rows []models.UserCredits
	err := s.db.WithContext(ctx).Where("is_active = ? AND period_end <= ?", true, now).Find(&rows).Error
	return rows, err
}

func (s *CreditsStore) GetSubscription(ctx context.Context, id string) (*models.Subscription, error) {
	var sub models.Subscription
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&sub).Error
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (s *CreditsStore) GetPlan(ctx context.Context, id string) (*models.Plan, error) {
	var p models.Plan
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&p).Error
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ListPastDue returns subscriptions past_due since before the grace cutoff
// (spec §4.3 downgrade job).
func (s *CreditsStore) ListPastDue(ctx context.Context, cutoff time.Time) ([]models.Subscription, error) {
	var rows []models.Subscription
	err := s.db.WithContext(ctx).
		Where("status = ? AND past_due_since IS NOT NULL AND past_due_since <= ?", models.SubscriptionStatusPastDue, cutoff).
		Find(&rows).Error
	return rows, err
}

func (s *CreditsStore) CancelSubscription(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Model(&models.Subscription{}).
		Where("id = ?", id).
		Update("status", models.SubscriptionStatusCanceled).Error
}

func (s *CreditsStore) CreateSubscription(ctx context.Context, sub *models.Subscription) error {
	return s.db.WithContext(ctx).Create(sub).Error
}

func (s *CreditsStore) LinkSubscription(ctx context.Context, userID string, subscriptionID string) error {
	return s.db.WithContext(ctx).Model(&models.UserCredits{}).
		Where("user_id = ? AND is_active = ?", userID, true).
		Update("subscription_id", subscriptionID).Error
}
