package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// SessaoLog is one immutable log line for a session attempt. Rows are only
// ever appended; retention is a deployment concern.
type SessaoLog struct {
	ID          uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	SessaoID    uuid.UUID      `gorm:"type:uuid;not null;index" json:"sessao_id"`
	ExecutionID uuid.UUID      `gorm:"type:uuid;index" json:"execution_id"`
	Status      string         `gorm:"type:varchar(20);not null;index" json:"status"`
	Mensagem    string         `gorm:"type:text;not null" json:"mensagem"`
	Detalhes    datatypes.JSON `gorm:"type:jsonb" json:"detalhes,omitempty"`
	CreatedAt   time.Time      `gorm:"index" json:"created_at"`
}

func (SessaoLog) TableName() string {
	return "sessao_logs"
}

func (l *SessaoLog) BeforeCreate(tx *gorm.DB) error {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	return nil
}

// Log status constants
const (
	LogStatusInfo    = "info"
	LogStatusSucesso = "sucesso"
	LogStatusWarning = "warning"
	LogStatusErro    = "erro"
)
