package models

import "time"

// EmailTask is a trace record of one scheduler-initiated unit of work
// (email fetch, workflow run, credit renewal, ...). It is a trace, not a
// lock: the single-flight lock living in Redis (services/scheduler) is
// what actually prevents duplicate dispatch (spec §3, §4.6).
type EmailTask struct {
	ID        string    `json:"id" gorm:"primaryKey"`
	UserID    *string   `json:"user_id" gorm:"index"`
	TaskType  string    `json:"task_type" gorm:"not null;index"`
	Status    string    `json:"status" gorm:"not null;index"`

	StartedAt      *time.Time `json:"started_at"`
	CompletedAt    *time.Time `json:"completed_at"`
	EmailsProcessed int       `json:"emails_processed"`
	ErrorMessage   string     `json:"error_message"`
	Details        JSONMap    `json:"details" gorm:"type:text"`

	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

func (EmailTask) TableName() string { return "email_tasks" }

const (
	TaskStatusPending   = "pending"
	TaskStatusRunning   = "running"
	TaskStatusCompleted = "completed"
	TaskStatusFailed    = "failed"
	TaskStatusCancelled = "cancelled"
)

const (
	TaskTypeFetch           = "fetch_user_emails"
	TaskTypeWorkflow        = "process_email"
	TaskTypeStuckReaper     = "stuck_task_reaper"
	TaskTypeCreditRenewal   = "credit_renewal"
	TaskTypeDowngrade       = "subscription_downgrade"
)
