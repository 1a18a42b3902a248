package model

import (
	"fmt"
	"time"
)

// StockStatus derived inventory status
type StockStatus string

const (
	StockStatusInStock    StockStatus = "IN_STOCK"
	StockStatusLowStock   StockStatus = "LOW_STOCK"
	StockStatusOutOfStock StockStatus = "OUT_OF_STOCK"
)

// LowStockThreshold available stock at or below this counts as low
const LowStockThreshold = 5

// InventoryRecord one row per SKU, mutated only under a row lock
type InventoryRecord struct {
	ID            uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	SKU           string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"sku"`
	PhysicalStock int       `gorm:"type:int;not null" json:"physical_stock"`
	ReservedStock int       `gorm:"type:int;not null;default:0" json:"reserved_stock"`
	SafetyStock   int       `gorm:"type:int;not null;default:0" json:"safety_stock"`
	CreatedAt     time.Time `gorm:"type:timestamp;not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt     time.Time `gorm:"type:timestamp;not null;default:CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName set name
func (InventoryRecord) TableName() string {
	return "inventory"
}

// AvailableStock physical minus reserved minus safety, floored at zero
func (r *InventoryRecord) AvailableStock() int {
	available := r.PhysicalStock - r.ReservedStock - r.SafetyStock
	if available < 0 {
		return 0
	}
	return available
}

// Status derived from available stock thresholds
func (r *InventoryRecord) Status() StockStatus {
	available := r.AvailableStock()
	switch {
	case available <= 0:
		return StockStatusOutOfStock
	case available <= LowStockThreshold:
		return StockStatusLowStock
	default:
		return StockStatusInStock
	}
}

// CanReserve reports whether qty can be reserved without going negative
func (r *InventoryRecord) CanReserve(qty int) bool {
	return qty > 0 && qty <= r.AvailableStock()
}

// ReservationStatus reservation status
type ReservationStatus string

const (
	ReservationStatusActive    ReservationStatus = "ACTIVE"
	ReservationStatusConfirmed ReservationStatus = "CONFIRMED"
	ReservationStatusExpired   ReservationStatus = "EXPIRED"
	ReservationStatusCancelled ReservationStatus = "CANCELLED"
)

// Reservation a tentative stock hold for one (order, SKU) pair.
// Creating one decrements physical stock immediately; expiry and
// cancellation are pure credit-back operations.
type Reservation struct {
	ID            uint64            `gorm:"primaryKey;autoIncrement" json:"id"`
	ReservationNo string            `gorm:"type:varchar(32);uniqueIndex;not null" json:"reservation_no"`
	OrderNo       string            `gorm:"type:varchar(32);not null;index:idx_reservations_order_sku" json:"order_no"`
	SKU           string            `gorm:"type:varchar(64);not null;index:idx_reservations_order_sku" json:"sku"`
	Quantity      int               `gorm:"type:int;not null" json:"quantity"`
	Status        ReservationStatus `gorm:"type:varchar(16);not null;index:idx_reservations_status_expires" json:"status"`
	ExpiresAt     time.Time         `gorm:"type:timestamp;not null;index:idx_reservations_status_expires" json:"expires_at"`
	CreatedAt     time.Time         `gorm:"type:timestamp;not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt     time.Time         `gorm:"type:timestamp;not null;default:CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName set name
func (Reservation) TableName() string {
	return "reservations"
}

// IsActive reports whether the hold is still tentative
func (r *Reservation) IsActive() bool {
	return r.Status == ReservationStatusActive
}

// Confirm transitions ACTIVE -> CONFIRMED. Any other source state is a
// programming error, not a silent no-op.
func (r *Reservation) Confirm() error {
	if r.Status != ReservationStatusActive {
		return fmt.Errorf("cannot confirm reservation %s in status %s", r.ReservationNo, r.Status)
	}
	r.Status = ReservationStatusConfirmed
	return nil
}

// Cancel transitions ACTIVE -> CANCELLED
func (r *Reservation) Cancel() error {
	if r.Status != ReservationStatusActive {
		return fmt.Errorf("cannot cancel reservation %s in status %s", r.ReservationNo, r.Status)
	}
	r.Status = ReservationStatusCancelled
	return nil
}

// Expire transitions ACTIVE -> EXPIRED
func (r *Reservation) Expire() error {
	if r.Status != ReservationStatusActive {
		return fmt.Errorf("cannot expire reservation %s in status %s", r.ReservationNo, r.Status)
	}
	r.Status = ReservationStatusExpired
	return nil
}

// Release transitions CONFIRMED -> CANCELLED after the owning order is
// rolled back. The flip marks the hold's stock as returned, so a second
// compensation pass cannot credit it again.
func (r *Reservation) Release() error {
	if r.Status != ReservationStatusConfirmed {
		return fmt.Errorf("cannot release reservation %s in status %s", r.ReservationNo, r.Status)
	}
	r.Status = ReservationStatusCancelled
	return nil
}
