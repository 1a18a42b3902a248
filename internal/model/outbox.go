package model

import (
	"time"
)

// Outbox event type const
const (
	EventTypeOrderPaid            = "ORDER_PAID"
	EventTypeCouponIssued         = "COUPON_ISSUED"
	EventTypeCouponIssuanceFailed = "COUPON_ISSUANCE_FAILED"
)

// Outbox aggregate type const
const (
	AggregateTypeOrder  = "order"
	AggregateTypeCoupon = "coupon"
)

// OutboxEvent append-only event row, written in the same transaction as
// the business mutation it describes. AggregateID is the broker partition
// key so all events for one aggregate are strictly ordered.
type OutboxEvent struct {
	ID            uint64     `gorm:"primaryKey;autoIncrement" json:"id"`
	AggregateType string     `gorm:"type:varchar(32);not null" json:"aggregate_type"`
	AggregateID   string     `gorm:"type:varchar(64);not null;index" json:"aggregate_id"`
	EventType     string     `gorm:"type:varchar(32);not null" json:"event_type"`
	Payload       string     `gorm:"type:text;not null" json:"payload"`
	PublishedAt   *time.Time `gorm:"type:timestamp;index" json:"published_at,omitempty"`
	CreatedAt     time.Time  `gorm:"type:timestamp;not null;default:CURRENT_TIMESTAMP;index" json:"created_at"`
}

// TableName set name
func (OutboxEvent) TableName() string {
	return "outbox_events"
}
