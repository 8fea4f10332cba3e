package repository

import (
	"github.com/clinsys/capture-service/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// SessaoLogRepository is the append-only store of per-attempt log entries.
// Nothing here updates or deletes.
type SessaoLogRepository interface {
	Append(entry *models.SessaoLog) error
	ListBySessao(sessaoID uuid.UUID) ([]*models.SessaoLog, error)
	ListByExecution(executionID uuid.UUID) ([]*models.SessaoLog, error)
	// CountsBySessao derives the per-status counts on read; they are never
	// stored redundantly.
	CountsBySessao(sessaoID uuid.UUID) (map[string]int64, error)
}

type SessaoLogRepositoryImpl struct {
	db *gorm.DB
}

func NewSessaoLogRepository(db *gorm.DB) SessaoLogRepository {
	return &SessaoLogRepositoryImpl{db: db}
}

func (r *SessaoLogRepositoryImpl) Append(entry *models.SessaoLog) error {
	return r.db.Create(entry).Error
}

func (r *SessaoLogRepositoryImpl) ListBySessao(sessaoID uuid.UUID) ([]*models.SessaoLog, error) {
	var logs []*models.SessaoLog
	err := r.db.Where("sessao_id = ?", sessaoID).Order("created_at ASC").Find(&logs).Error
	return logs, err
}

func (r *SessaoLogRepositoryImpl) ListByExecution(executionID uuid.UUID) ([]*models.SessaoLog, error) {
	var logs []*models.SessaoLog
	err := r.db.Where("execution_id = ?", executionID).Order("created_at ASC").Find(&logs).Error
	return logs, err
}

func (r *SessaoLogRepositoryImpl) CountsBySessao(sessaoID uuid.UUID) (map[string]int64, error) {
	type row struct {
		Status string
		Total  int64
	}
	var rows []row
	err := r.db.Model(&models.SessaoLog{}).
		Select("status, COUNT(*) AS total").
		Where("sessao_id = ?", sessaoID).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int64, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Total
	}
	return counts, nil
}
