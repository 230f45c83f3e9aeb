package models

import (
	"time"

	"inboxforge/internal/statemachine"
)

// EmailMessage is one ingested email moving through the workflow pipeline
// (spec §3).
type EmailMessage struct {
	ID           string `json:"id" gorm:"primaryKey"`
	UserID       string `json:"user_id" gorm:"not null;index;uniqueIndex:idx_user_message"`
	TaskID       *string `json:"task_id" gorm:"index"`
	MessageID    string `json:"message_id" gorm:"not null;uniqueIndex:idx_user_message"`
	Subject      string `json:"subject"`
	Sender       string `json:"sender"`
	Recipients   string `json:"recipients"`
	ReceivedAt   time.Time `json:"received_at"`
	RawContent   string `json:"-"`
	HTMLContent  string `json:"-"`
	TextContent  string `json:"-"`
	LLMContent   string `json:"llm_content"`
	SummaryTitle string `json:"summary_title"`
	SummaryContent string `json:"summary_content"`

	Status       statemachine.EmailStatus `json:"status" gorm:"not null;index;default:FETCHED"`
	ErrorMessage string                   `json:"error_message"`

	Metadata JSONMap `json:"metadata" gorm:"type:text"`

	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`

	Attachments []EmailAttachment `json:"attachments,omitempty" gorm:"foreignKey:EmailMessageID"`
}

func (EmailMessage) TableName() string { return "email_messages" }

// UserID is also the index column; (user_id, message_id) mirrors the
// uniqueIndex tag above.
func (EmailMessage) UniqueIndexName() string { return "idx_user_message" }

// EmailAttachment is a file extracted from an EmailMessage (spec §3).
type EmailAttachment struct {
	ID             string `json:"id" gorm:"primaryKey"`
	UserID         string `json:"user_id" gorm:"not null;index"`
	EmailMessageID string `json:"email_message_id" gorm:"not null;index"`

	Filename     string `json:"filename"`
	SafeFilename string `json:"safe_filename" gorm:"index"`
	ContentType  string `json:"content_type"`
	FileSize     int64  `json:"file_size"`
	FilePath     string `json:"file_path"`
	IsImage      bool   `json:"is_image"`

	OCRContent string `json:"ocr_content"`
	LLMContent string `json:"llm_content"`

	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
}

func (EmailAttachment) TableName() string { return "email_attachments" }
