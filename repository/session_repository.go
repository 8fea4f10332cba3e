package repository

import (
	"time"

	"github.com/clinsys/capture-service/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SessionRepository persists CapturedSession rows. The status transitions
// are guarded at the SQL level: MarkProcessed only matches pendente rows,
// Requeue only matches erro rows, so a session can never jump from erro
// straight to processado.
type SessionRepository interface {
	// Upsert inserts the session or, when the natural key already exists,
	// refreshes the captured fields without touching status, error or
	// execution_id. Safe under at-least-once redelivery.
	Upsert(sess *models.CapturedSession) error
	GetByID(id uuid.UUID) (*models.CapturedSession, error)
	GetByNaturalKey(numeroGuia, dataExecucao string) (*models.CapturedSession, error)
	MarkProcessed(id uuid.UUID) (bool, error)
	MarkError(id uuid.UUID, errMsg string) (bool, error)
	// Requeue re-arms an erro session with a fresh execution id.
	Requeue(id uuid.UUID, executionID uuid.UUID) (bool, error)
	// RequeueExecution re-arms an erro session only while it still carries
	// the given execution id. Used by the outbox worker so a stale retry can
	// never clobber a newer attempt.
	RequeueExecution(id uuid.UUID, executionID uuid.UUID) (bool, error)
	// RevertToError moves a pendente session back to erro, but only while it
	// still belongs to the given execution.
	RevertToError(id uuid.UUID, executionID uuid.UUID, errMsg string) (bool, error)
	List(status, search string, limit, offset int) ([]*models.CapturedSession, int64, error)
}

type SessionRepositoryImpl struct {
	db *gorm.DB
}

func NewSessionRepository(db *gorm.DB) SessionRepository {
	return &SessionRepositoryImpl{db: db}
}

// capturedColumns are the fields refreshed when a guide is redelivered.
var capturedColumns = []string{
	"task_id",
	"data_atendimento_completa",
	"paciente_nome",
	"paciente_carteirinha",
	"codigo_ficha",
	"profissional_executante",
	"conselho_profissional",
	"numero_conselho",
	"uf_conselho",
	"codigo_cbo",
	"origem",
	"updated_at",
}

func (r *SessionRepositoryImpl) Upsert(sess *models.CapturedSession) error {
	return r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "numero_guia"}, {Name: "data_execucao"}},
		DoUpdates: clause.AssignmentColumns(capturedColumns),
	}).Create(sess).Error
}

func (r *SessionRepositoryImpl) GetByID(id uuid.UUID) (*models.CapturedSession, error) {
	var sess models.CapturedSession
	err := r.db.First(&sess, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

func (r *SessionRepositoryImpl) GetByNaturalKey(numeroGuia, dataExecucao string) (*models.CapturedSession, error) {
	var sess models.CapturedSession
	err := r.db.Where("numero_guia = ? AND data_execucao = ?", numeroGuia, dataExecucao).First(&sess).Error
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

func (r *SessionRepositoryImpl) MarkProcessed(id uuid.UUID) (bool, error) {
	now := time.Now()
	res := r.db.Model(&models.CapturedSession{}).
		Where("id = ? AND status = ?", id, models.SessionStatusPendente).
		Updates(map[string]interface{}{
			"status":       models.SessionStatusProcessado,
			"error":        nil,
			"processed_at": now,
			"updated_at":   now,
		})
	return res.RowsAffected > 0, res.Error
}

func (r *SessionRepositoryImpl) MarkError(id uuid.UUID, errMsg string) (bool, error) {
	res := r.db.Model(&models.CapturedSession{}).
		Where("id = ? AND status IN ?", id, []string{models.SessionStatusPendente, models.SessionStatusProcessado}).
		Updates(map[string]interface{}{
			"status":     models.SessionStatusErro,
			"error":      errMsg,
			"updated_at": time.Now(),
		})
	return res.RowsAffected > 0, res.Error
}

func (r *SessionRepositoryImpl) Requeue(id uuid.UUID, executionID uuid.UUID) (bool, error) {
	res := r.db.Model(&models.CapturedSession{}).
		Where("id = ? AND status = ?", id, models.SessionStatusErro).
		Updates(map[string]interface{}{
			"status":       models.SessionStatusPendente,
			"error":        nil,
			"execution_id": executionID,
			"updated_at":   time.Now(),
		})
	return res.RowsAffected > 0, res.Error
}

func (r *SessionRepositoryImpl) RequeueExecution(id uuid.UUID, executionID uuid.UUID) (bool, error) {
	res := r.db.Model(&models.CapturedSession{}).
		Where("id = ? AND status = ? AND execution_id = ?", id, models.SessionStatusErro, executionID).
		Updates(map[string]interface{}{
			"status":     models.SessionStatusPendente,
			"error":      nil,
			"updated_at": time.Now(),
		})
	return res.RowsAffected > 0, res.Error
}

func (r *SessionRepositoryImpl) RevertToError(id uuid.UUID, executionID uuid.UUID, errMsg string) (bool, error) {
	res := r.db.Model(&models.CapturedSession{}).
		Where("id = ? AND status = ? AND execution_id = ?", id, models.SessionStatusPendente, executionID).
		Updates(map[string]interface{}{
			"status":     models.SessionStatusErro,
			"error":      errMsg,
			"updated_at": time.Now(),
		})
	return res.RowsAffected > 0, res.Error
}

func (r *SessionRepositoryImpl) List(status, search string, limit, offset int) ([]*models.CapturedSession, int64, error) {
	query := r.db.Model(&models.CapturedSession{})
	if status != "" {
		query = query.Where("status = ?", status)
	}
	if search != "" {
		pattern := "%" + search + "%"
		query = query.Where(
			"numero_guia ILIKE ? OR paciente_nome ILIKE ? OR paciente_carteirinha ILIKE ?",
			pattern, pattern, pattern,
		)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var sessions []*models.CapturedSession
	err := query.Order("created_at DESC").Limit(limit).Offset(offset).Find(&sessions).Error
	if err != nil {
		return nil, 0, err
	}
	return sessions, total, nil
}
