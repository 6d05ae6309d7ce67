package models

import "time"

// ReconciliationReport is the persisted summary of one reconciliation pass
// against the provider's subscription list. Partial marks passes that could
// not follow pagination to completion; those skip local-only flagging.
type ReconciliationReport struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	Created     int       `gorm:"not null;default:0" json:"created"`
	Updated     int       `gorm:"not null;default:0" json:"updated"`
	Unchanged   int       `gorm:"not null;default:0" json:"unchanged"`
	Flagged     int       `gorm:"not null;default:0" json:"flagged"`
	Failed      int       `gorm:"not null;default:0" json:"failed"`
	Partial     bool      `gorm:"default:false" json:"partial"`
	DurationMs  int64     `gorm:"not null;default:0" json:"duration_ms"`
	ErrorDetail string    `gorm:"type:text" json:"error_detail"`
	CreatedAt   time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}
