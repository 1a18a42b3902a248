package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"checkout/internal/model"
)

// OrderRepository order repository interface
type OrderRepository interface {
	// Create creates an order with its items
	Create(tx *gorm.DB, order *model.Order) error

	// GetByOrderNo gets an order with items, nil when not found
	GetByOrderNo(ctx context.Context, orderNo string) (*model.Order, error)

	// GetForUpdate gets an order under an exclusive row lock
	GetForUpdate(tx *gorm.DB, orderNo string) (*model.Order, error)

	// Save persists order state
	Save(tx *gorm.DB, order *model.Order) error

	// ListByUserID lists orders for a user, newest first
	ListByUserID(ctx context.Context, userID uint64, limit int) ([]*model.Order, error)
}

// orderRepository order repository implementation
type orderRepository struct {
	db *gorm.DB
}

// NewOrderRepository creates an order repository
func NewOrderRepository(db *gorm.DB) OrderRepository {
	return &orderRepository{db: db}
}

// Create creates an order with its items
func (r *orderRepository) Create(tx *gorm.DB, order *model.Order) error {
	return tx.Create(order).Error
}

// GetByOrderNo gets an order with items, nil when not found
func (r *orderRepository) GetByOrderNo(ctx context.Context, orderNo string) (*model.Order, error) {
	var order model.Order
	err := r.db.WithContext(ctx).
		Preload("Items").
		Where("order_no = ?", orderNo).
		First(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &order, nil
}

// GetForUpdate gets an order under SELECT ... FOR UPDATE
func (r *orderRepository) GetForUpdate(tx *gorm.DB, orderNo string) (*model.Order, error) {
	var order model.Order
	err := tx.
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("order_no = ?", orderNo).
		First(&order).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// Save persists order state
func (r *orderRepository) Save(tx *gorm.DB, order *model.Order) error {
	return tx.Save(order).Error
}

// ListByUserID lists orders for a user, newest first
func (r *orderRepository) ListByUserID(ctx context.Context, userID uint64, limit int) ([]*model.Order, error) {
	var orders []*model.Order
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("id DESC").
		Limit(limit).
		Find(&orders).Error
	return orders, err
}
