package repository

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"inboxforge/internal/models"
	"inboxforge/internal/statemachine"
	"inboxforge/pkg/database"
)

type EmailStore struct {
	db *gorm.DB
}

func NewEmailStore() *EmailStore {
	return &EmailStore{db: database.GetDB()}
}

// ContentHash returns the stable content-addressed hash used to build an
// attachment's safe_filename (spec §3, §6).
func ContentHash(content []byte, ext string) string {
	sum := sha256.Sum256(content)
	ext = strings.TrimPrefix(strings.ToLower(ext), ".")
	if ext == "" {
		return hex.EncodeToString(sum[:])
	}
	return hex.EncodeToString(sum[:]) + "." + ext
}

// LoadEmail loads an EmailMessage with its attachments (spec §4.2).
func (s *EmailStore) LoadEmail(ctx context.Context, id string) (*models.EmailMessage, error) {
	var email models.EmailMessage
	err := s.db.WithContext(ctx).Preload("Attachments").Where("id = ?", id).First(&email).Error
	if err != nil {
		return nil, err
	}
	return &email, nil
}

func (s *EmailStore) CreateEmail(ctx context.Context, email *models.EmailMessage) error {
	return s.db.WithContext(ctx).Create(email).Error
}

func (s *EmailStore) CreateAttachment(ctx context.Context, att *models.EmailAttachment) error {
	return s.db.WithContext(ctx).Create(att).Error
}

// FindByUserAndMessageID enforces the (user_id, message_id) uniqueness
// invariant (spec §3) ahead of insert.
func (s *EmailStore) FindByUserAndMessageID(ctx context.Context, userID, messageID string) (*models.EmailMessage, error) {
	var email models.EmailMessage
	err := s.db.WithContext(ctx).Where("user_id = ? AND message_id = ?", userID, messageID).First(&email).Error
	if err != nil {
		return nil, err
	}
	return &email, nil
}

// ListDispatchable returns emails ready for workflow dispatch: FETCHED, or in a
// retryable *_FAILED state (spec §4.6 item 2).
func (s *EmailStore) ListDispatchable(ctx context.Context, limit int) ([]models.EmailMessage, error) {
	statuses := append([]statemachine.EmailStatus{statemachine.StatusFetched}, statemachine.RetryableFailureStatuses()...)
	var emails []models.EmailMessage
	q := s.db.WithContext(ctx).Where("status IN ?", statuses).Order("received_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&emails).Error
	return emails, err
}

// ListStuck returns rows in a *_PROCESSING state whose updated_at is older
// than the reaper cutoff (spec §4.6 item 3).
func (s *EmailStore) ListStuck(ctx context.Context, cutoffUnix int64) ([]models.EmailMessage, error) {
	var emails []models.EmailMessage
	err := s.db.WithContext(ctx).
		Where("status IN ? AND CAST(strftime('%s', updated_at) AS INTEGER) < ?", statemachine.ProcessingStatuses(), cutoffUnix).
		Find(&emails).Error
	return emails, err
}

// TransitionStatus performs the atomic conditional update described in
// spec §4.2: it only applies if the row's current status is in `fromSet`.
// Returns whether the transition occurred; a false return with nil error
// means another worker already advanced the row (§7 StateMachineViolation
// — logged by the caller, never treated as an error).
func (s *EmailStore) TransitionStatus(ctx context.Context, id string, fromSet []statemachine.EmailStatus, to statemachine.EmailStatus, errMsg string) (bool, error) {
	updates := map[string]any{"status": to}
	if errMsg != "" {
		updates["error_message"] = errMsg
	}
	res := s.db.WithContext(ctx).Model(&models.EmailMessage{}).
		Where("id = ? AND status IN ?", id, fromSet).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// WorkflowResult is the full set of outputs one workflow run produces,
// written atomically by PersistWorkflowResult (spec §4.5 node 7).
type WorkflowResult struct {
	SummaryTitle   string
	SummaryContent string
	LLMContent     string
	Metadata       models.JSONMap

	AttachmentUpdates map[string]AttachmentUpdate // keyed by attachment id

	Issue *models.Issue // nil if issue creation was skipped/disabled
}

type AttachmentUpdate struct {
	OCRContent string
	LLMContent string
}

// PersistWorkflowResult is the Finalize barrier's only write path: a single
// transaction, SELECT FOR UPDATE on the email row, bulk attachment update,
// issue dedup-insert, final status transition (spec §4.5 node 7, §5).
func (s *EmailStore) PersistWorkflowResult(ctx context.Context, emailID string, result WorkflowResult) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var email models.EmailMessage
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", emailID).First(&email).Error; err != nil {
			return fmt.Errorf("finalize: load email for update: %w", err)
		}

		updates := map[string]any{}
		if result.SummaryTitle != "" {
			updates["summary_title"] = result.SummaryTitle
		}
		if result.SummaryContent != "" {
			updates["summary_content"] = result.SummaryContent
		}
		if result.LLMContent != "" {
			updates["llm_content"] = result.LLMContent
		}
		if len(result.Metadata) > 0 {
			updates["metadata"] = result.Metadata
		}
		updates["status"] = statemachine.StatusSuccess
		updates["error_message"] = ""

		if err := tx.Model(&models.EmailMessage{}).Where("id = ?", emailID).Updates(updates).Error; err != nil {
			return fmt.Errorf("finalize: update email: %w", err)
		}

		for attID, upd := range result.AttachmentUpdates {
			attUpdates := map[string]any{}
			if upd.OCRContent != "" {
				attUpdates["ocr_content"] = upd.OCRContent
			}
			if upd.LLMContent != "" {
				attUpdates["llm_content"] = upd.LLMContent
			}
			if len(attUpdates) == 0 {
				continue
			}
			if err := tx.Model(&models.EmailAttachment{}).
				Where("id = ? AND email_message_id = ?", attID, emailID).
				Updates(attUpdates).Error; err != nil {
				return fmt.Errorf("finalize: update attachment %s: %w", attID, err)
			}
		}

		if result.Issue != nil {
			var existing models.Issue
			err := tx.Where("email_message_id = ? AND external_id = ?", emailID, result.Issue.ExternalID).
				First(&existing).Error
			switch {
			case err == nil:
				// Already recorded (force replay returned the same external id).
			case errors.Is(err, gorm.ErrRecordNotFound):
				if err := tx.Create(result.Issue).Error; err != nil {
					return fmt.Errorf("finalize: create issue: %w", err)
				}
			default:
				return fmt.Errorf("finalize: lookup existing issue: %w", err)
			}
		}

		return nil
	})
}

// MarkFailed records node-error failure without touching any content
// field (spec §4.5 node 7, §8 property 3: finalize atomicity).
func (s *EmailStore) MarkFailed(ctx context.Context, emailID string, errSummary string) error {
	return s.db.WithContext(ctx).Model(&models.EmailMessage{}).
		Where("id = ?", emailID).
		Updates(map[string]any{
			"status":        statemachine.StatusFailed,
			"error_message": errSummary,
		}).Error
}

// ResetStuck reverts a *_PROCESSING row back to FETCHED (spec §4.6 item 3,
// "blanket reset to pipeline head").
func (s *EmailStore) ResetStuck(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Model(&models.EmailMessage{}).
		Where("id = ? AND status IN ?", id, statemachine.ProcessingStatuses()).
		Updates(map[string]any{"status": statemachine.StatusFetched})
	return res.Error
}
