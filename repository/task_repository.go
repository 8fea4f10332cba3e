package repository

import (
	"time"

	"github.com/clinsys/capture-service/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// TaskRepository persists ProcessingTask rows. Every state transition is a
// guarded UPDATE whose WHERE clause encodes the legal source states, so an
// illegal transition simply matches zero rows.
type TaskRepository interface {
	Create(task *models.ProcessingTask) error
	GetByID(id uuid.UUID) (*models.ProcessingTask, error)
	GetLatest() (*models.ProcessingTask, error)
	MarkProcessing(id uuid.UUID) (bool, error)
	MarkCapturing(id uuid.UUID) (bool, error)
	MarkCompleted(id uuid.UUID) (bool, error)
	MarkFailed(id uuid.UUID, errMsg string) (bool, error)
	// IncrementProgress atomically bumps the progress counters. total, when
	// positive, is applied monotonically: it can only raise total_guides.
	IncrementProgress(id uuid.UUID, processedDelta, retryDelta, total int) error
}

type TaskRepositoryImpl struct {
	db *gorm.DB
}

func NewTaskRepository(db *gorm.DB) TaskRepository {
	return &TaskRepositoryImpl{db: db}
}

func (r *TaskRepositoryImpl) Create(task *models.ProcessingTask) error {
	return r.db.Create(task).Error
}

func (r *TaskRepositoryImpl) GetByID(id uuid.UUID) (*models.ProcessingTask, error) {
	var task models.ProcessingTask
	err := r.db.First(&task, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &task, nil
}

func (r *TaskRepositoryImpl) GetLatest() (*models.ProcessingTask, error) {
	var task models.ProcessingTask
	err := r.db.Order("created_at DESC").First(&task).Error
	if err != nil {
		return nil, err
	}
	return &task, nil
}

func (r *TaskRepositoryImpl) MarkProcessing(id uuid.UUID) (bool, error) {
	now := time.Now()
	res := r.db.Model(&models.ProcessingTask{}).
		Where("id = ? AND status IN ?", id, []string{models.TaskStatusPending, models.TaskStatusWaiting}).
		Updates(map[string]interface{}{
			"status":      models.TaskStatusProcessing,
			"started_at":  now,
			"last_update": now,
		})
	return res.RowsAffected > 0, res.Error
}

func (r *TaskRepositoryImpl) MarkCapturing(id uuid.UUID) (bool, error) {
	res := r.db.Model(&models.ProcessingTask{}).
		Where("id = ? AND status = ?", id, models.TaskStatusProcessing).
		Updates(map[string]interface{}{
			"status":      models.TaskStatusCapturing,
			"last_update": time.Now(),
		})
	return res.RowsAffected > 0, res.Error
}

func (r *TaskRepositoryImpl) MarkCompleted(id uuid.UUID) (bool, error) {
	now := time.Now()
	res := r.db.Model(&models.ProcessingTask{}).
		Where("id = ? AND status IN ?", id, []string{models.TaskStatusProcessing, models.TaskStatusCapturing}).
		Updates(map[string]interface{}{
			"status":       models.TaskStatusCompleted,
			"completed_at": now,
			"last_update":  now,
		})
	return res.RowsAffected > 0, res.Error
}

func (r *TaskRepositoryImpl) MarkFailed(id uuid.UUID, errMsg string) (bool, error) {
	now := time.Now()
	nonTerminal := []string{
		models.TaskStatusPending,
		models.TaskStatusWaiting,
		models.TaskStatusProcessing,
		models.TaskStatusCapturing,
	}
	res := r.db.Model(&models.ProcessingTask{}).
		Where("id = ? AND status IN ?", id, nonTerminal).
		Updates(map[string]interface{}{
			"status":      models.TaskStatusError,
			"error":       errMsg,
			"error_at":    now,
			"last_update": now,
		})
	return res.RowsAffected > 0, res.Error
}

func (r *TaskRepositoryImpl) IncrementProgress(id uuid.UUID, processedDelta, retryDelta, total int) error {
	updates := map[string]interface{}{
		"last_update": time.Now(),
	}
	if processedDelta != 0 {
		updates["processed_guides"] = gorm.Expr("processed_guides + ?", processedDelta)
	}
	if retryDelta != 0 {
		updates["retry_guides"] = gorm.Expr("retry_guides + ?", retryDelta)
	}
	if total > 0 {
		updates["total_guides"] = gorm.Expr("GREATEST(total_guides, ?)", total)
	}
	return r.db.Model(&models.ProcessingTask{}).Where("id = ?", id).Updates(updates).Error
}
