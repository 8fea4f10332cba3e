package repository

import (
	"time"

	"github.com/clinsys/capture-service/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type OutboxRepository interface {
	Create(entry *models.OutboxEntry) error
	// Due returns pending entries whose next attempt is not in the future,
	// oldest first.
	Due(now time.Time, limit int) ([]*models.OutboxEntry, error)
	MarkDelivered(id uuid.UUID) error
	Reschedule(id uuid.UUID, attempts int, nextAttemptAt time.Time, lastError string) error
	Abandon(id uuid.UUID, lastError string) error
	CountPending() (int64, error)
}

type OutboxRepositoryImpl struct {
	db *gorm.DB
}

func NewOutboxRepository(db *gorm.DB) OutboxRepository {
	return &OutboxRepositoryImpl{db: db}
}

func (r *OutboxRepositoryImpl) Create(entry *models.OutboxEntry) error {
	return r.db.Create(entry).Error
}

func (r *OutboxRepositoryImpl) Due(now time.Time, limit int) ([]*models.OutboxEntry, error) {
	var entries []*models.OutboxEntry
	err := r.db.Where("status = ? AND next_attempt_at <= ?", models.OutboxStatusPendente, now).
		Order("next_attempt_at ASC").
		Limit(limit).
		Find(&entries).Error
	return entries, err
}

func (r *OutboxRepositoryImpl) MarkDelivered(id uuid.UUID) error {
	return r.db.Model(&models.OutboxEntry{}).Where("id = ?", id).Updates(map[string]interface{}{
		"status":     models.OutboxStatusEntregue,
		"updated_at": time.Now(),
	}).Error
}

func (r *OutboxRepositoryImpl) Reschedule(id uuid.UUID, attempts int, nextAttemptAt time.Time, lastError string) error {
	return r.db.Model(&models.OutboxEntry{}).Where("id = ?", id).Updates(map[string]interface{}{
		"attempts":        attempts,
		"next_attempt_at": nextAttemptAt,
		"last_error":      lastError,
		"updated_at":      time.Now(),
	}).Error
}

func (r *OutboxRepositoryImpl) Abandon(id uuid.UUID, lastError string) error {
	return r.db.Model(&models.OutboxEntry{}).Where("id = ?", id).Updates(map[string]interface{}{
		"status":     models.OutboxStatusAbandonado,
		"last_error": lastError,
		"updated_at": time.Now(),
	}).Error
}

func (r *OutboxRepositoryImpl) CountPending() (int64, error) {
	var count int64
	err := r.db.Model(&models.OutboxEntry{}).Where("status = ?", models.OutboxStatusPendente).Count(&count).Error
	return count, err
}
