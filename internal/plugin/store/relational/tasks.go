package relational

import (
	"context"
	"strings"
	"time"

	"github.com/chirino/chat-service/internal/model"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// claimLease is how long a claimed task stays invisible to other processors.
const claimLease = 5 * time.Minute

func (s *GormStore) CreateTask(ctx context.Context, taskType string, taskBody map[string]interface{}) error {
	var taskName *string
	if rawName, ok := taskBody["taskName"]; ok {
		if name, ok := rawName.(string); ok {
			trimmed := strings.TrimSpace(name)
			if trimmed != "" {
				taskName = &trimmed
			}
		}
	}

	now := time.Now().UTC()
	task := model.Task{
		ID:        uuid.New(),
		TaskName:  taskName,
		TaskType:  taskType,
		TaskBody:  taskBody,
		CreatedAt: now,
		RetryAt:   now,
	}
	err := s.db.WithContext(ctx).Create(&task).Error
	if err == nil {
		return nil
	}
	if taskName != nil && isUniqueViolation(err) {
		// Singleton task already exists; idempotent no-op.
		return nil
	}
	return err
}

func (s *GormStore) ClaimReadyTasks(ctx context.Context, limit int) ([]model.Task, error) {
	if s.isPostgres() {
		var tasks []model.Task
		err := s.db.WithContext(ctx).Raw(`
			WITH claimed AS (
				SELECT id
				FROM tasks
				WHERE retry_at <= NOW()
				ORDER BY retry_at, created_at
				LIMIT ?
				FOR UPDATE SKIP LOCKED
			)
			UPDATE tasks t
			SET retry_at = NOW() + INTERVAL '5 minutes'
			FROM claimed
			WHERE t.id = claimed.id
			RETURNING t.*
		`, limit).
			Scan(&tasks).Error
		return tasks, err
	}

	// SQLite has a single writer, so a plain transaction is enough to claim.
	var tasks []model.Task
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now().UTC()
		if err := tx.Where("retry_at <= ?", now).Order("retry_at, created_at").Limit(limit).Find(&tasks).Error; err != nil {
			return err
		}
		if len(tasks) == 0 {
			return nil
		}
		ids := make([]uuid.UUID, len(tasks))
		for i, t := range tasks {
			ids[i] = t.ID
		}
		return tx.Model(&model.Task{}).Where("id IN ?", ids).Update("retry_at", now.Add(claimLease)).Error
	})
	return tasks, err
}

func (s *GormStore) DeleteTask(ctx context.Context, taskID uuid.UUID) error {
	return s.db.WithContext(ctx).Where("id = ?", taskID).Delete(&model.Task{}).Error
}

func (s *GormStore) FailTask(ctx context.Context, taskID uuid.UUID, errMsg string, retryDelay time.Duration) error {
	return s.db.WithContext(ctx).Model(&model.Task{}).Where("id = ?", taskID).Updates(map[string]interface{}{
		"retry_count": gorm.Expr("retry_count + 1"),
		"retry_at":    time.Now().UTC().Add(retryDelay),
		"last_error":  errMsg,
	}).Error
}
