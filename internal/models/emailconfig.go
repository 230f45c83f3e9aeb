package models

import "time"

const (
	EmailModeAutoAssign = "auto_assign"
	EmailModeCustomIMAP = "custom_imap"
)

// EmailConfig is per-user mailbox configuration (spec §4.1, §6). Password
// is stored encrypted (pkg/secretbox) and is never serialized to JSON.
type EmailConfig struct {
	ID       string `json:"id" gorm:"primaryKey"`
	UserID   string `json:"user_id" gorm:"not null;index"`
	Mode     string `json:"mode" gorm:"default:custom_imap"`

	IMAPHost string `json:"imap_host"`
	IMAPPort int    `json:"imap_port" gorm:"default:993"`
	Username string `json:"username"`
	Password string `json:"-" gorm:"column:password_enc"` // secretbox-sealed

	SSL     bool   `json:"ssl" gorm:"default:true"`
	Folder  string `json:"folder" gorm:"default:INBOX"`
	Filters JSONMap `json:"filters" gorm:"type:text"` // unseen/from/subject rules
	Since   *time.Time `json:"since"`
	MaxAgeDays int     `json:"max_age_days" gorm:"default:30"`

	Cursor   *time.Time `json:"cursor"` // max(received_at) of last successful fetch
	IsActive bool       `json:"is_active" gorm:"default:true"`

	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

func (EmailConfig) TableName() string { return "email_configs" }

// JiraConfig is the per-engine block of IssueConfig (spec §4.4).
type JiraConfig struct {
	URL               string     `json:"url"`
	Username          string     `json:"username"`
	APIToken          string     `json:"-"`               // secretbox-sealed, stored in APITokenEnc
	APITokenEnc       string     `json:"api_token_enc"`
	ProjectKey        string     `json:"project_key"`
	DefaultIssueType  string     `json:"default_issue_type"`
	DefaultPriority   string     `json:"default_priority"`
	EpicLink          string     `json:"epic_link"`
	Assignee          string     `json:"assignee"`
	AllowProjectKeys  StringList `json:"allow_project_keys"`
	AllowAssignees    StringList `json:"allow_assignees"`
	ProjectPrompt     string     `json:"project_prompt"`
	DescriptionPrompt string     `json:"description_prompt"`
	AssigneePrompt    string     `json:"assignee_prompt"`
	SummaryPrefix     string     `json:"summary_prefix"`
	SummaryTimestamp  bool       `json:"summary_timestamp"`

	Extra JSONMap `json:"-" gorm:"-"`
}

// IssueConfig is per-user tracker configuration (spec §4.4, §6).
type IssueConfig struct {
	ID     string `json:"id" gorm:"primaryKey"`
	UserID string `json:"user_id" gorm:"not null;uniqueIndex"`
	Enable bool   `json:"enable" gorm:"default:false"`
	Engine string `json:"engine" gorm:"default:jira"`

	Jira JSONMap `json:"jira" gorm:"type:text"` // JiraConfig fields, free-form for round-trip

	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

func (IssueConfig) TableName() string { return "issue_configs" }

// PromptConfig is per-user LLM prompt configuration (spec §4.5, §6).
type PromptConfig struct {
	ID                string `json:"id" gorm:"primaryKey"`
	UserID            string `json:"user_id" gorm:"not null;uniqueIndex"`
	EmailContentPrompt string `json:"email_content_prompt"`
	OCRPrompt          string `json:"ocr_prompt"`
	SummaryPrompt      string `json:"summary_prompt"`
	SummaryTitlePrompt string `json:"summary_title_prompt"`
	OutputLanguage     string `json:"output_language"`
}

func (PromptConfig) TableName() string { return "prompt_configs" }

// WebhookConfig is per-user notification configuration (spec §4.7, §6).
type WebhookConfig struct {
	ID       string     `json:"id" gorm:"primaryKey"`
	UserID   string     `json:"user_id" gorm:"not null;uniqueIndex"`
	URL      string     `json:"url"`
	Events   StringList `json:"events" gorm:"type:text"`
	Provider string     `json:"provider" gorm:"default:card"`
	Language string     `json:"language" gorm:"default:en"`
	Timeout  int        `json:"timeout_seconds" gorm:"default:10"`
	Retries  int        `json:"retries" gorm:"default:3"`
}

func (WebhookConfig) TableName() string { return "webhook_configs" }
