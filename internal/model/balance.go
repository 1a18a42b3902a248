package model

import (
	"time"
)

// UserBalance one row per user, mutated only under a row lock
type UserBalance struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID    uint64    `gorm:"type:bigint unsigned;uniqueIndex;not null" json:"user_id"`
	Balance   int64     `gorm:"type:bigint;not null;default:0" json:"balance"`
	CreatedAt time.Time `gorm:"type:timestamp;not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt time.Time `gorm:"type:timestamp;not null;default:CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName set name
func (UserBalance) TableName() string {
	return "user_balances"
}

// CanDeduct check balance covers the amount
func (b *UserBalance) CanDeduct(amount int64) bool {
	return amount > 0 && b.Balance >= amount
}

// BalanceLog balance change type const
const (
	BalanceChangeDeduct = "deduct"
	BalanceChangeCredit = "credit"
)

// BalanceLog audit trail of balance mutations
type BalanceLog struct {
	ID         uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID     uint64    `gorm:"type:bigint unsigned;not null;index" json:"user_id"`
	OrderNo    string    `gorm:"type:varchar(32);index" json:"order_no"`
	ChangeType string    `gorm:"type:varchar(16);not null" json:"change_type"`
	Amount     int64     `gorm:"type:bigint;not null" json:"amount"`
	After      int64     `gorm:"type:bigint;not null" json:"after"`
	CreatedAt  time.Time `gorm:"type:timestamp;not null;default:CURRENT_TIMESTAMP;index" json:"created_at"`
}

// TableName set name
func (BalanceLog) TableName() string {
	return "balance_logs"
}
