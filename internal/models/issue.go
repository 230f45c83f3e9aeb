package models

import "time"

// Issue is a synthesized external tracker ticket created by Finalize on
// workflow success (spec §3). At most one successful Issue exists per
// (email_message_id, engine).
type Issue struct {
	ID             string    `json:"id" gorm:"primaryKey"`
	UserID         string    `json:"user_id" gorm:"not null;index"`
	EmailMessageID string    `json:"email_message_id" gorm:"not null;uniqueIndex:idx_issue_email_engine"`
	Title          string    `json:"title"`
	Description    string    `json:"description"`
	Priority       string    `json:"priority"`
	Engine         string    `json:"engine" gorm:"uniqueIndex:idx_issue_email_engine;uniqueIndex:idx_issue_engine_external"`
	ExternalID     string    `json:"external_id" gorm:"uniqueIndex:idx_issue_engine_external"`
	IssueURL       string    `json:"issue_url"`
	Metadata       JSONMap   `json:"metadata" gorm:"type:text"`
	CreatedAt      time.Time `json:"created_at" gorm:"autoCreateTime"`
}

func (Issue) TableName() string { return "issues" }
