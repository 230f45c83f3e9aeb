package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"inboxforge/internal/models"
	"inboxforge/pkg/database"
)

type IssueStore struct {
	db *gorm.DB
}

func NewIssueStore() *IssueStore {
	return &IssueStore{db: database.GetDB()}
}

// ExistsForEmail reports whether a successful Issue already exists for this
// (email, engine) pair (spec §3 invariant: at most one successful Issue per
// EmailMessage per engine).
func (s *IssueStore) ExistsForEmail(ctx context.Context, emailID, engine string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.Issue{}).
		Where("email_message_id = ? AND engine = ?", emailID, engine).
		Count(&count).Error
	return count > 0, err
}

func (s *IssueStore) FindByEmail(ctx context.Context, emailID, engine string) (*models.Issue, error) {
	var issue models.Issue
	err := s.db.WithContext(ctx).Where("email_message_id = ? AND engine = ?", emailID, engine).First(&issue).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &issue, nil
}
