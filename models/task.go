package models

import "time"

// ProcessingTask represents one bounded capture run over a date range.
type ProcessingTask struct {
	Base
	Status          string     `gorm:"type:varchar(20);not null;index;default:'pending'" json:"status"`
	StartDate       string     `gorm:"type:varchar(10);not null" json:"start_date"`
	EndDate         string     `gorm:"type:varchar(10);not null" json:"end_date"`
	MaxGuides       int        `gorm:"not null" json:"max_guides"`
	TotalGuides     int        `gorm:"not null;default:0" json:"total_guides"`
	ProcessedGuides int        `gorm:"not null;default:0" json:"processed_guides"`
	RetryGuides     int        `gorm:"not null;default:0" json:"retry_guides"`
	Error           *string    `gorm:"type:text" json:"error,omitempty"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	ErrorAt         *time.Time `json:"error_at,omitempty"`
	LastUpdate      time.Time  `gorm:"not null;index" json:"last_update"`
}

func (ProcessingTask) TableName() string {
	return "processing_tasks"
}

// Task status constants
const (
	TaskStatusPending    = "pending"
	TaskStatusWaiting    = "waiting"
	TaskStatusProcessing = "processing"
	TaskStatusCapturing  = "capturing"
	TaskStatusCompleted  = "completed"
	TaskStatusError      = "error"
)

const (
	MinGuidesPerTask = 1
	MaxGuidesPerTask = 1000
)

// IsTerminal reports whether the task can no longer change state.
func (t *ProcessingTask) IsTerminal() bool {
	return t.Status == TaskStatusCompleted || t.Status == TaskStatusError
}
