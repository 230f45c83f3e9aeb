package database

import (
	"gorm.io/gorm"

	"inboxforge/internal/models"
)

// AutoMigrate creates/updates every table this module owns. Centralized
// here (rather than scattered per-package, as the teacher's cmd/server/
// main.go does inline) so tests and cmd/worker share one migration list.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.User{},
		&models.EmailAlias{},
		&models.EmailConfig{},
		&models.IssueConfig{},
		&models.PromptConfig{},
		&models.WebhookConfig{},
		&models.EmailMessage{},
		&models.EmailAttachment{},
		&models.Issue{},
		&models.EmailTask{},
		&models.Plan{},
		&models.Subscription{},
		&models.UserCredits{},
		&models.EmailCreditsTxn{},
		&models.GeneralCreditsTxn{},
	)
}
