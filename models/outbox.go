package models

import (
	"time"

	"gorm.io/datatypes"
)

// OutboxEntry is a durable retry record for a reprocessing dispatch that
// could not reach the capture routine. Entries survive process restarts and
// are redelivered with backoff by the outbox worker.
type OutboxEntry struct {
	Base
	Kind          string         `gorm:"type:varchar(20);not null" json:"kind"`
	Payload       datatypes.JSON `gorm:"type:jsonb;not null" json:"payload"`
	Status        string         `gorm:"type:varchar(20);not null;index;default:'pendente'" json:"status"`
	Attempts      int            `gorm:"not null;default:0" json:"attempts"`
	NextAttemptAt time.Time      `gorm:"not null;index" json:"next_attempt_at"`
	LastError     *string        `gorm:"type:text" json:"last_error,omitempty"`
}

func (OutboxEntry) TableName() string {
	return "dispatch_outbox"
}

const (
	OutboxKindReprocess = "reprocess"

	OutboxStatusPendente   = "pendente"
	OutboxStatusEntregue   = "entregue"
	OutboxStatusAbandonado = "abandonado"
)
