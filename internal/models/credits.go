package models

import "time"

// Plan and Subscription are inputs to the credits ledger, owned by the
// billing/payments system outside this module's scope (spec §3); only the
// fields the ledger and scheduler actually read are modeled here.
type Plan struct {
	ID       string  `json:"id" gorm:"primaryKey"`
	Name     string  `json:"name"`
	Metadata JSONMap `json:"metadata" gorm:"type:text"` // credits_per_period, period_days, workflow_cost_credits
}

func (Plan) TableName() string { return "plans" }

const (
	SubscriptionStatusActive   = "active"
	SubscriptionStatusPastDue  = "past_due"
	SubscriptionStatusCanceled = "canceled"
)

type Subscription struct {
	ID           string     `json:"id" gorm:"primaryKey"`
	UserID       string     `json:"user_id" gorm:"not null;index"`
	PlanID       string     `json:"plan_id"`
	Status       string     `json:"status" gorm:"index"`
	PastDueSince *time.Time `json:"past_due_since"`
	CreatedAt    time.Time  `json:"created_at" gorm:"autoCreateTime"`
}

func (Subscription) TableName() string { return "subscriptions" }

// UserCredits is the metered balance for one user (spec §3). At most one
// row with is_active=true exists per user.
type UserCredits struct {
	ID               string    `json:"id" gorm:"primaryKey"`
	UserID           string    `json:"user_id" gorm:"not null;uniqueIndex:idx_user_credits_active,where:is_active"`
	SubscriptionID   *string   `json:"subscription_id"`
	BaseCredits      int64     `json:"base_credits"`
	BonusCredits     int64     `json:"bonus_credits"`
	ConsumedCredits  int64     `json:"consumed_credits"`
	PeriodStart      time.Time `json:"period_start"`
	PeriodEnd        time.Time `json:"period_end"`
	IsActive         bool      `json:"is_active" gorm:"default:true"`
	CreatedAt        time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt        time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

func (UserCredits) TableName() string { return "user_credits" }

// Available returns base + bonus - consumed, the invariant floor at >= 0
// enforced by Ledger.Consume (spec §3, §8 property 1).
func (c UserCredits) Available() int64 {
	return c.BaseCredits + c.BonusCredits - c.ConsumedCredits
}

const (
	CreditsTxnConsume = "consume"
	CreditsTxnRefund  = "refund"
)

// EmailCreditsTxn debits/credits tied to a specific workflow run (spec §3).
type EmailCreditsTxn struct {
	ID              string  `json:"id" gorm:"primaryKey"`
	UserID          string  `json:"user_id" gorm:"not null;index"`
	EmailMessageID  *string `json:"email_message_id" gorm:"index"`
	Type            string  `json:"type" gorm:"not null"`
	Amount          int64   `json:"amount"`
	Reason          string  `json:"reason"`
	IdempotencyKey  string  `json:"idempotency_key" gorm:"uniqueIndex"`

	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
}

func (EmailCreditsTxn) TableName() string { return "email_credits_txns" }

const (
	GeneralCreditsTxnGrant        = "grant"
	GeneralCreditsTxnBonus        = "bonus"
	GeneralCreditsTxnCompensation = "compensation"
)

// GeneralCreditsTxn covers bonuses/grants/compensation issued by an
// operator, outside the per-email workflow (spec §3).
type GeneralCreditsTxn struct {
	ID             string  `json:"id" gorm:"primaryKey"`
	UserID         string  `json:"user_id" gorm:"not null;index"`
	Type           string  `json:"type" gorm:"not null"`
	Amount         int64   `json:"amount"`
	Reason         string  `json:"reason"`
	OperatorID     *string `json:"operator_id"`
	IdempotencyKey string  `json:"idempotency_key" gorm:"uniqueIndex"`

	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
}

func (GeneralCreditsTxn) TableName() string { return "general_credits_txns" }
