package models

import (
	"time"

	"github.com/google/uuid"
)

// CapturedSession is one captured guide/attendance record. The pair
// (numero_guia, data_execucao) is the natural key used for idempotent
// upserts when the capture routine redelivers the same guide.
type CapturedSession struct {
	Base
	TaskID                  uuid.UUID  `gorm:"type:uuid;not null;index" json:"task_id"`
	NumeroGuia              string     `gorm:"type:varchar(50);not null;uniqueIndex:idx_guia_execucao" json:"numero_guia"`
	DataExecucao            string     `gorm:"type:varchar(10);not null;uniqueIndex:idx_guia_execucao" json:"data_execucao"`
	DataAtendimentoCompleta string     `gorm:"type:varchar(30)" json:"data_atendimento_completa"`
	PacienteNome            string     `gorm:"type:varchar(255);index" json:"paciente_nome"`
	PacienteCarteirinha     string     `gorm:"type:varchar(50);index" json:"paciente_carteirinha"`
	CodigoFicha             string     `gorm:"type:varchar(50)" json:"codigo_ficha"`
	ProfissionalExecutante  string     `gorm:"type:varchar(255)" json:"profissional_executante"`
	ConselhoProfissional    string     `gorm:"type:varchar(20)" json:"conselho_profissional"`
	NumeroConselho          string     `gorm:"type:varchar(20)" json:"numero_conselho"`
	UFConselho              string     `gorm:"type:varchar(2)" json:"uf_conselho"`
	CodigoCBO               string     `gorm:"type:varchar(10)" json:"codigo_cbo"`
	Origem                  string     `gorm:"type:varchar(50)" json:"origem"`
	Status                  string     `gorm:"type:varchar(20);not null;index;default:'pendente'" json:"status"`
	Error                   *string    `gorm:"type:text" json:"error,omitempty"`
	ExecutionID             uuid.UUID  `gorm:"type:uuid;not null;index" json:"execution_id"`
	ProcessedAt             *time.Time `json:"processed_at,omitempty"`
}

func (CapturedSession) TableName() string {
	return "captured_sessions"
}

// Session status constants
const (
	SessionStatusPendente   = "pendente"
	SessionStatusProcessado = "processado"
	SessionStatusErro       = "erro"
)

// ValidSessionStatus reports whether s is one of the ledger statuses.
func ValidSessionStatus(s string) bool {
	return s == SessionStatusPendente || s == SessionStatusProcessado || s == SessionStatusErro
}
