package model

import (
	"time"
)

// CouponStatus coupon status const
const (
	CouponStatusActive   = 1
	CouponStatusInactive = 2
)

// Coupon coupon definition with an issuance counter.
// IssuedQuantity is the shared counter guarded by the distributed lock:
// check-then-increment-then-insert spans multiple statements.
type Coupon struct {
	ID             uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	Code           string    `gorm:"type:varchar(32);uniqueIndex;not null" json:"code"`
	DiscountAmount int64     `gorm:"type:bigint;not null" json:"discount_amount"`
	TotalQuantity  int       `gorm:"type:int;not null" json:"total_quantity"`
	IssuedQuantity int       `gorm:"type:int;not null;default:0" json:"issued_quantity"`
	PerUserLimit   int       `gorm:"type:int;not null;default:1" json:"per_user_limit"`
	Status         int8      `gorm:"type:tinyint;not null;default:1" json:"status"`
	CreatedAt      time.Time `gorm:"type:timestamp;not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt      time.Time `gorm:"type:timestamp;not null;default:CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName set name
func (Coupon) TableName() string {
	return "coupons"
}

// Remaining coupons still issuable
func (c *Coupon) Remaining() int {
	remaining := c.TotalQuantity - c.IssuedQuantity
	if remaining < 0 {
		return 0
	}
	return remaining
}

// IsActive check coupon is issuable
func (c *Coupon) IsActive() bool {
	return c.Status == CouponStatusActive
}

// UserCouponStatus user coupon status const
const (
	UserCouponStatusUnused = 1
	UserCouponStatusUsed   = 2
)

// UserCoupon one issued coupon held by a user
type UserCoupon struct {
	ID        uint64     `gorm:"primaryKey;autoIncrement" json:"id"`
	CouponID  uint64     `gorm:"type:bigint unsigned;not null;index:idx_user_coupons_coupon_user" json:"coupon_id"`
	UserID    uint64     `gorm:"type:bigint unsigned;not null;index:idx_user_coupons_coupon_user" json:"user_id"`
	RequestID string     `gorm:"type:varchar(64);uniqueIndex;not null" json:"request_id"`
	Status    int8       `gorm:"type:tinyint;not null;default:1" json:"status"`
	OrderNo   *string    `gorm:"type:varchar(32)" json:"order_no,omitempty"`
	UsedAt    *time.Time `gorm:"type:timestamp" json:"used_at,omitempty"`
	CreatedAt time.Time  `gorm:"type:timestamp;not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt time.Time  `gorm:"type:timestamp;not null;default:CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName set name
func (UserCoupon) TableName() string {
	return "user_coupons"
}

// IsUnused check user coupon is still usable
func (uc *UserCoupon) IsUnused() bool {
	return uc.Status == UserCouponStatusUnused
}
