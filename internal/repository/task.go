package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"inboxforge/internal/models"
	"inboxforge/pkg/database"
)

type TaskStore struct {
	db *gorm.DB
}

func NewTaskStore() *TaskStore {
	return &TaskStore{db: database.GetDB()}
}

func (s *TaskStore) Create(ctx context.Context, taskType string, userID *string) (*models.EmailTask, error) {
	t := &models.EmailTask{
		ID:       newID(),
		UserID:   userID,
		TaskType: taskType,
		Status:   models.TaskStatusPending,
		Details:  models.JSONMap{},
	}
	if err := s.db.WithContext(ctx).Create(t).Error; err != nil {
		return nil, err
	}
	return t, nil
}

func (s *TaskStore) Start(ctx context.Context, id string) error {
	now := time.Now().UTC()
	return s.db.WithContext(ctx).Model(&models.EmailTask{}).
		Where("id = ?", id).
		Updates(map[string]any{"status": models.TaskStatusRunning, "started_at": &now}).Error
}

func (s *TaskStore) Complete(ctx context.Context, id string, emailsProcessed int) error {
	now := time.Now().UTC()
	return s.db.WithContext(ctx).Model(&models.EmailTask{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":           models.TaskStatusCompleted,
			"completed_at":     &now,
			"emails_processed": emailsProcessed,
		}).Error
}

func (s *TaskStore) Fail(ctx context.Context, id string, errMsg string) error {
	now := time.Now().UTC()
	return s.db.WithContext(ctx).Model(&models.EmailTask{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":        models.TaskStatusFailed,
			"completed_at":  &now,
			"error_message": errMsg,
		}).Error
}

func (s *TaskStore) Recent(ctx context.Context, taskType string, limit int) ([]models.EmailTask, error) {
	var tasks []models.EmailTask
	q := s.db.WithContext(ctx).Order("created_at DESC")
	if taskType != "" {
		q = q.Where("task_type = ?", taskType)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&tasks).Error
	return tasks, err
}
