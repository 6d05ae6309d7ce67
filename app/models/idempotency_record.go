package models

import "time"

// Processing outcomes for provider events. A record stays in processing only
// while a worker holds its lease; terminal outcomes are succeeded or failed.
const (
	OutcomeProcessing = "processing"
	OutcomeSucceeded  = "succeeded"
	OutcomeFailed     = "failed"
)

// IdempotencyRecord stores the processing outcome of exactly one provider
// event, keyed by the provider-assigned event id. The unique index is the
// synchronization primitive for duplicate deliveries: insert-if-absent
// decides which delivery owns the event, everyone else reads the stored
// outcome. Rows are retained indefinitely as an audit trail.
type IdempotencyRecord struct {
	ID                   uint       `gorm:"primaryKey" json:"id"`
	EventID              string     `gorm:"type:varchar(191);not null;uniqueIndex:ux_idempotency_records_event_id" json:"event_id"`
	EventType            string     `gorm:"type:varchar(100);not null;index" json:"event_type"`
	ReceivedAt           time.Time  `gorm:"type:timestamp;not null" json:"received_at"`
	Outcome              string     `gorm:"type:varchar(16);not null;default:'processing';index" json:"outcome"`
	ApplyResult          string     `gorm:"type:varchar(16);not null;default:''" json:"apply_result,omitempty"`
	ErrorDetail          string     `gorm:"type:text" json:"error_detail"`
	ProcessingDurationMs int64      `gorm:"not null;default:0" json:"processing_duration_ms"`
	LeaseExpiresAt       *time.Time `gorm:"type:timestamp;default:null" json:"lease_expires_at,omitempty"`
	CreatedAt            time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt            time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// Terminal reports whether the outcome can no longer change.
func (r *IdempotencyRecord) Terminal() bool {
	return r.Outcome == OutcomeSucceeded || r.Outcome == OutcomeFailed
}
