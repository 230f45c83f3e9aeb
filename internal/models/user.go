package models

import "time"

// User is the owner of mailboxes, credits, and issues. The broader user
// profile (auth, settings) lives in the out-of-scope REST API (spec §1);
// only the columns this module's core reads are modeled here.
type User struct {
	ID        string    `json:"id" gorm:"primaryKey"`
	Email     string    `json:"email" gorm:"uniqueIndex;not null"`
	IsActive  bool      `json:"is_active" gorm:"default:true"`
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
}

func (User) TableName() string { return "users" }

// EmailAlias maps an additional recipient address to a user, consulted by
// the Haraka filesystem MailSource when the envelope "To" doesn't match
// User.Email directly (spec §4.1).
type EmailAlias struct {
	ID     string `json:"id" gorm:"primaryKey"`
	UserID string `json:"user_id" gorm:"not null;index"`
	Address string `json:"address" gorm:"uniqueIndex"`
}

func (EmailAlias) TableName() string { return "email_aliases" }
