package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"checkout/internal/model"
	"checkout/internal/repository"
	"checkout/internal/service/outbox"
	"checkout/pkg/log"
	"checkout/pkg/snowflake"
	"checkout/pkg/utils"
)

// CreateOrderRequest input for order creation. OrderNo is assigned by
// the caller so reservations and the saga row can reference the order
// before it exists.
type CreateOrderRequest struct {
	OrderNo        string
	UserID         uint64
	Items          []model.OrderItem
	CouponID       *uint64
	DiscountAmount int64
}

// OrderService order service interface
type OrderService interface {
	// Create creates a PENDING order with its line items
	Create(ctx context.Context, req *CreateOrderRequest) (*model.Order, error)

	// Cancel cancels a PENDING or PAID order
	Cancel(ctx context.Context, orderNo, reason string) error

	// Reopen flips a CANCELLED order back to PENDING for a retry
	Reopen(ctx context.Context, orderNo string) error

	// Complete marks the order COMPLETED and emits ORDER_PAID through
	// the outbox in the same transaction
	Complete(ctx context.Context, orderNo string) error

	// Get returns an order with items
	Get(ctx context.Context, orderNo string) (*model.Order, error)
}

// orderService order service implementation
type orderService struct {
	db     *gorm.DB
	repo   repository.OrderRepository
	outbox outbox.Publisher
	idGen  *snowflake.IDGenerator
}

// NewOrderService creates an order service
func NewOrderService(
	db *gorm.DB,
	repo repository.OrderRepository,
	publisher outbox.Publisher,
	idGen *snowflake.IDGenerator,
) OrderService {
	return &orderService{
		db:     db,
		repo:   repo,
		outbox: publisher,
		idGen:  idGen,
	}
}

// Create creates a PENDING order with its line items
func (s *orderService) Create(ctx context.Context, req *CreateOrderRequest) (*model.Order, error) {
	if req.UserID == 0 || len(req.Items) == 0 {
		return nil, utils.ErrInvalidParam
	}

	orderNo := req.OrderNo
	if orderNo == "" {
		orderNo = fmt.Sprintf("ORD%d", s.idGen.NextID())
	}

	var totalAmount int64
	for i := range req.Items {
		item := &req.Items[i]
		if item.Quantity <= 0 || item.Price < 0 {
			return nil, utils.ErrInvalidParam
		}
		item.OrderNo = orderNo
		item.Amount = item.Price * int64(item.Quantity)
		totalAmount += item.Amount
	}

	paymentAmount := totalAmount - req.DiscountAmount
	if paymentAmount < 0 {
		paymentAmount = 0
	}

	order := &model.Order{
		OrderNo:        orderNo,
		UserID:         req.UserID,
		TotalAmount:    totalAmount,
		DiscountAmount: req.DiscountAmount,
		PaymentAmount:  paymentAmount,
		CouponID:       req.CouponID,
		Status:         model.OrderStatusPending,
		Items:          req.Items,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return s.repo.Create(tx, order)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create order: %w", err)
	}

	log.WithFields(map[string]interface{}{
		"order_no":       order.OrderNo,
		"user_id":        order.UserID,
		"payment_amount": order.PaymentAmount,
		"items":          len(order.Items),
	}).Info("Order created")

	return order, nil
}

// Cancel cancels a PENDING or PAID order
func (s *orderService) Cancel(ctx context.Context, orderNo, reason string) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		order, err := s.repo.GetForUpdate(tx, orderNo)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return utils.ErrOrderNotFound
			}
			return fmt.Errorf("failed to lock order %s: %w", orderNo, err)
		}

		if !order.CanCancel() {
			return utils.ErrOrderNotCancellable
		}

		order.Status = model.OrderStatusCancelled
		order.CancelReason = &reason
		return s.repo.Save(tx, order)
	})
	if err != nil {
		return err
	}

	log.WithFields(map[string]interface{}{
		"order_no": orderNo,
		"reason":   reason,
	}).Info("Order cancelled")
	return nil
}

// Reopen flips a CANCELLED order back to PENDING so a recovery retry
// can re-drive it instead of colliding on the order number
func (s *orderService) Reopen(ctx context.Context, orderNo string) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		order, err := s.repo.GetForUpdate(tx, orderNo)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return utils.ErrOrderNotFound
			}
			return fmt.Errorf("failed to lock order %s: %w", orderNo, err)
		}

		if !order.IsCancelled() {
			return nil
		}

		order.Status = model.OrderStatusPending
		order.CancelReason = nil
		return s.repo.Save(tx, order)
	})
	if err != nil {
		return err
	}

	log.WithField("order_no", orderNo).Info("Order reopened")
	return nil
}

// Complete marks the order COMPLETED and emits ORDER_PAID atomically
// with the status change
func (s *orderService) Complete(ctx context.Context, orderNo string) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		order, err := s.repo.GetForUpdate(tx, orderNo)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return utils.ErrOrderNotFound
			}
			return fmt.Errorf("failed to lock order %s: %w", orderNo, err)
		}

		now := time.Now()
		order.Status = model.OrderStatusCompleted
		order.PaidAt = &now
		if err := s.repo.Save(tx, order); err != nil {
			return fmt.Errorf("failed to update order: %w", err)
		}

		items, err := s.loadItems(tx, orderNo)
		if err != nil {
			return err
		}

		return s.outbox.Publish(tx, model.AggregateTypeOrder, orderNo, model.EventTypeOrderPaid, model.OrderPaidPayload{
			OrderNo:        order.OrderNo,
			UserID:         order.UserID,
			Items:          items,
			TotalAmount:    order.TotalAmount,
			DiscountAmount: order.DiscountAmount,
			PaidAt:         now,
		})
	})
	if err != nil {
		return err
	}

	log.WithField("order_no", orderNo).Info("Order completed")
	return nil
}

// Get returns an order with items
func (s *orderService) Get(ctx context.Context, orderNo string) (*model.Order, error) {
	order, err := s.repo.GetByOrderNo(ctx, orderNo)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, utils.ErrOrderNotFound
	}
	return order, nil
}

func (s *orderService) loadItems(tx *gorm.DB, orderNo string) ([]model.OrderItem, error) {
	var items []model.OrderItem
	if err := tx.Where("order_no = ?", orderNo).Find(&items).Error; err != nil {
		return nil, fmt.Errorf("failed to load order items: %w", err)
	}
	return items, nil
}
