package model

import "time"

const (
	ExceptionLevelWarn  = "warn"
	ExceptionLevelError = "error"
)

// Exception records a job failure that exhausted its retries (or was not
// retryable), so it can be inspected after the log has rotated away.
type Exception struct {
	ID uint `gorm:"primaryKey" json:"id"`

	// Where the error happened
	Service string `gorm:"size:100;index" json:"service"` // e.g. "worker"
	Module  string `gorm:"size:100;index" json:"module"`  // e.g. "reconcile"
	Method  string `gorm:"size:100" json:"method"`        // job name, e.g. "full_sync:7"

	UserID       uint   `gorm:"index" json:"user_id"`
	ConnectionID uint   `gorm:"index" json:"connection_id"`
	Attempts     int    `json:"attempts"`
	Message      string `gorm:"type:text" json:"message"`
	Level        string `gorm:"size:20;index" json:"level"`

	// Extra context stored as JSON text
	Context string `gorm:"type:text" json:"context,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

func (Exception) TableName() string {
	return "exceptions"
}
