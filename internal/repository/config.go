package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"inboxforge/internal/models"
	"inboxforge/pkg/database"
)

type ConfigStore struct {
	db *gorm.DB
}

func NewConfigStore() *ConfigStore {
	return &ConfigStore{db: database.GetDB()}
}

func (s *ConfigStore) ListActiveEmailConfigs(ctx context.Context) ([]models.EmailConfig, error) {
	var configs []models.EmailConfig
	err := s.db.WithContext(ctx).Where("is_active = ?", true).Find(&configs).Error
	return configs, err
}

func (s *ConfigStore) UpdateCursor(ctx context.Context, configID string, cursor any) error {
	return s.db.WithContext(ctx).Model(&models.EmailConfig{}).
		Where("id = ?", configID).Update("cursor", cursor).Error
}

func (s *ConfigStore) GetIssueConfig(ctx context.Context, userID string) (*models.IssueConfig, error) {
	var c models.IssueConfig
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&c).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &models.IssueConfig{UserID: userID, Enable: false}, nil
		}
		return nil, err
	}
	return &c, nil
}

func (s *ConfigStore) GetPromptConfig(ctx context.Context, userID string) (*models.PromptConfig, error) {
	var c models.PromptConfig
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&c).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &models.PromptConfig{UserID: userID}, nil
		}
		return nil, err
	}
	return &c, nil
}

func (s *ConfigStore) GetWebhookConfig(ctx context.Context, userID string) (*models.WebhookConfig, error) {
	var c models.WebhookConfig
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&c).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &c, nil
}

func (s *ConfigStore) ResolveUserByRecipient(ctx context.Context, address string) (*models.User, error) {
	var user models.User
	err := s.db.WithContext(ctx).Where("email = ?", address).First(&user).Error
	if err == nil {
		return &user, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	var alias models.EmailAlias
	if err := s.db.WithContext(ctx).Where("address = ?", address).First(&alias).Error; err != nil {
		return nil, err
	}
	return s.GetUser(ctx, alias.UserID)
}

func (s *ConfigStore) GetUser(ctx context.Context, id string) (*models.User, error) {
	var user models.User
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&user).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}
