package model

import (
	"time"
)

// Order order model
type Order struct {
	ID             uint64      `gorm:"primaryKey;autoIncrement" json:"id"`
	OrderNo        string      `gorm:"type:varchar(32);uniqueIndex;not null" json:"order_no"`
	UserID         uint64      `gorm:"type:bigint unsigned;not null;index" json:"user_id"`
	TotalAmount    int64       `gorm:"type:bigint;not null" json:"total_amount"`
	DiscountAmount int64       `gorm:"type:bigint;default:0" json:"discount_amount"`
	PaymentAmount  int64       `gorm:"type:bigint;not null" json:"payment_amount"`
	CouponID       *uint64     `gorm:"type:bigint unsigned" json:"coupon_id,omitempty"`
	Status         int8        `gorm:"type:tinyint;not null;default:1;index" json:"status"`
	PaidAt         *time.Time  `gorm:"type:timestamp" json:"paid_at,omitempty"`
	CancelReason   *string     `gorm:"type:varchar(255)" json:"cancel_reason,omitempty"`
	CreatedAt      time.Time   `gorm:"type:timestamp;not null;default:CURRENT_TIMESTAMP;index" json:"created_at"`
	UpdatedAt      time.Time   `gorm:"type:timestamp;not null;default:CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP" json:"updated_at"`

	Items []OrderItem `gorm:"foreignKey:OrderNo;references:OrderNo" json:"items,omitempty"`
}

// TableName set name
func (Order) TableName() string {
	return "orders"
}

// OrderItem order line item
type OrderItem struct {
	ID       uint64 `gorm:"primaryKey;autoIncrement" json:"id"`
	OrderNo  string `gorm:"type:varchar(32);not null;index" json:"order_no"`
	SKU      string `gorm:"type:varchar(64);not null" json:"sku"`
	Price    int64  `gorm:"type:bigint;not null" json:"price"`
	Quantity int    `gorm:"type:int;not null" json:"quantity"`
	Amount   int64  `gorm:"type:bigint;not null" json:"amount"`
}

// TableName set name
func (OrderItem) TableName() string {
	return "order_items"
}

// OrderStatus order status const
const (
	OrderStatusPending   = 1
	OrderStatusPaid      = 2
	OrderStatusCancelled = 3
	OrderStatusCompleted = 4
)

// IsPending check order is pending
func (o *Order) IsPending() bool {
	return o.Status == OrderStatusPending
}

// IsPaid check order is paid
func (o *Order) IsPaid() bool {
	return o.Status == OrderStatusPaid
}

// IsCancelled check order is cancelled
func (o *Order) IsCancelled() bool {
	return o.Status == OrderStatusCancelled
}

// IsCompleted check order is completed
func (o *Order) IsCompleted() bool {
	return o.Status == OrderStatusCompleted
}

// CanCancel check order can still be cancelled
func (o *Order) CanCancel() bool {
	return o.IsPending() || o.IsPaid()
}
