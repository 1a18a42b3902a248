package model

import (
	"time"
)

// IdempotencyStatus idempotency key status
type IdempotencyStatus string

const (
	IdempotencyStatusProcessing IdempotencyStatus = "PROCESSING"
	IdempotencyStatusCompleted  IdempotencyStatus = "COMPLETED"
	IdempotencyStatusFailed     IdempotencyStatus = "FAILED"
)

// IdempotencyKey one row per distinct client request
type IdempotencyKey struct {
	ID           uint64            `gorm:"primaryKey;autoIncrement" json:"id"`
	Key          string            `gorm:"type:varchar(64);uniqueIndex;not null" json:"key"`
	RequestType  string            `gorm:"type:varchar(32);not null" json:"request_type"`
	UserID       uint64            `gorm:"type:bigint unsigned;not null;index" json:"user_id"`
	EntityID     string            `gorm:"type:varchar(64)" json:"entity_id"`
	Status       IdempotencyStatus `gorm:"type:varchar(16);not null;index:idx_idem_status_created" json:"status"`
	ResponseData string            `gorm:"type:text" json:"response_data,omitempty"`
	ErrorMessage string            `gorm:"type:varchar(500)" json:"error_message,omitempty"`
	CreatedAt    time.Time         `gorm:"type:timestamp;not null;default:CURRENT_TIMESTAMP;index:idx_idem_status_created" json:"created_at"`
	UpdatedAt    time.Time         `gorm:"type:timestamp;not null;default:CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName set name
func (IdempotencyKey) TableName() string {
	return "idempotency_keys"
}

// IsZombie reports whether the original caller likely crashed mid-request
func (k *IdempotencyKey) IsZombie(timeout time.Duration) bool {
	return k.Status == IdempotencyStatusProcessing && time.Since(k.CreatedAt) > timeout
}

// IsTerminal reports whether the key reached a terminal state
func (k *IdempotencyKey) IsTerminal() bool {
	return k.Status == IdempotencyStatusCompleted || k.Status == IdempotencyStatusFailed
}
