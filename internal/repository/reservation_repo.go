package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"checkout/internal/model"
)

// ReservationRepository reservation repository interface
type ReservationRepository interface {
	// Create creates a reservation
	Create(tx *gorm.DB, reservation *model.Reservation) error

	// GetByReservationNo gets a reservation without locking
	GetByReservationNo(ctx context.Context, reservationNo string) (*model.Reservation, error)

	// GetByOrderAndSKU gets the reservation for an (order, SKU) pair
	GetByOrderAndSKU(ctx context.Context, orderNo, sku string) (*model.Reservation, error)

	// GetForUpdate gets a reservation under an exclusive row lock
	GetForUpdate(tx *gorm.DB, reservationNo string) (*model.Reservation, error)

	// ListByOrderNo lists all reservations for an order
	ListByOrderNo(ctx context.Context, orderNo string) ([]*model.Reservation, error)

	// Save persists reservation state
	Save(tx *gorm.DB, reservation *model.Reservation) error

	// ListExpired lists ACTIVE reservations whose TTL has elapsed
	ListExpired(tx *gorm.DB, now time.Time, limit int) ([]*model.Reservation, error)

	// BulkExpire flips the given ACTIVE reservations to EXPIRED in one
	// statement. Returns rows updated so callers can detect races with
	// concurrent confirms.
	BulkExpire(tx *gorm.DB, ids []uint64) (int64, error)
}

// reservationRepository reservation repository implementation
type reservationRepository struct {
	db *gorm.DB
}

// NewReservationRepository creates a reservation repository
func NewReservationRepository(db *gorm.DB) ReservationRepository {
	return &reservationRepository{db: db}
}

// Create creates a reservation
func (r *reservationRepository) Create(tx *gorm.DB, reservation *model.Reservation) error {
	return tx.Create(reservation).Error
}

// GetByReservationNo gets a reservation without locking
func (r *reservationRepository) GetByReservationNo(ctx context.Context, reservationNo string) (*model.Reservation, error) {
	var reservation model.Reservation
	err := r.db.WithContext(ctx).
		Where("reservation_no = ?", reservationNo).
		First(&reservation).Error
	if err != nil {
		return nil, err
	}
	return &reservation, nil
}

// GetByOrderAndSKU gets the reservation for an (order, SKU) pair
func (r *reservationRepository) GetByOrderAndSKU(ctx context.Context, orderNo, sku string) (*model.Reservation, error) {
	var reservation model.Reservation
	err := r.db.WithContext(ctx).
		Where("order_no = ? AND sku = ?", orderNo, sku).
		First(&reservation).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &reservation, nil
}

// GetForUpdate gets a reservation under SELECT ... FOR UPDATE
func (r *reservationRepository) GetForUpdate(tx *gorm.DB, reservationNo string) (*model.Reservation, error) {
	var reservation model.Reservation
	err := tx.
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("reservation_no = ?", reservationNo).
		First(&reservation).Error
	if err != nil {
		return nil, err
	}
	return &reservation, nil
}

// ListByOrderNo lists all reservations for an order
func (r *reservationRepository) ListByOrderNo(ctx context.Context, orderNo string) ([]*model.Reservation, error) {
	var reservations []*model.Reservation
	err := r.db.WithContext(ctx).
		Where("order_no = ?", orderNo).
		Find(&reservations).Error
	return reservations, err
}

// Save persists reservation state
func (r *reservationRepository) Save(tx *gorm.DB, reservation *model.Reservation) error {
	return tx.Save(reservation).Error
}

// ListExpired lists ACTIVE reservations whose TTL has elapsed, locked so
// a concurrent confirm on the same row waits for the expiry transaction
func (r *reservationRepository) ListExpired(tx *gorm.DB, now time.Time, limit int) ([]*model.Reservation, error) {
	var reservations []*model.Reservation
	err := tx.
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("status = ? AND expires_at < ?", model.ReservationStatusActive, now).
		Order("expires_at ASC").
		Limit(limit).
		Find(&reservations).Error
	return reservations, err
}

// BulkExpire flips the given ACTIVE reservations to EXPIRED
func (r *reservationRepository) BulkExpire(tx *gorm.DB, ids []uint64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	result := tx.
		Model(&model.Reservation{}).
		Where("id IN ? AND status = ?", ids, model.ReservationStatusActive).
		Update("status", model.ReservationStatusExpired)

	return result.RowsAffected, result.Error
}
