package saga

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"checkout/internal/model"
	"checkout/internal/monitor"
	"checkout/internal/repository"
	"checkout/internal/service/idempotency"
	"checkout/internal/service/inventory"
	"checkout/pkg/log"
	"checkout/pkg/snowflake"
	"checkout/pkg/utils"
)

// CheckoutItem one line of a checkout request
type CheckoutItem struct {
	SKU      string `json:"sku" binding:"required"`
	Price    int64  `json:"price" binding:"min=0"`
	Quantity int    `json:"quantity" binding:"min=1"`
}

// CheckoutRequest input for one checkout attempt
type CheckoutRequest struct {
	IdempotencyKey string         `json:"idempotency_key" binding:"required"`
	UserID         uint64         `json:"user_id" binding:"required"`
	Items          []CheckoutItem `json:"items" binding:"required,min=1,dive"`
	CouponID       *uint64        `json:"coupon_id"`
	DiscountAmount int64          `json:"discount_amount" binding:"min=0"`
}

// CheckoutResult the durable outcome of a checkout, also the payload
// replayed for duplicate requests
type CheckoutResult struct {
	SagaID        string `json:"saga_id"`
	OrderNo       string `json:"order_no"`
	PaymentAmount int64  `json:"payment_amount"`
	Replayed      bool   `json:"-"`
}

// IdempotencyGuard the slice of the idempotency registry the checkout
// path needs
type IdempotencyGuard interface {
	Acquire(ctx context.Context, key, requestType string, userID uint64, entityID string) (*idempotency.AcquireResult, error)
	Retake(ctx context.Context, key string) (bool, error)
	Complete(ctx context.Context, key, responseData string) error
	Fail(ctx context.Context, key, errorMessage string) error
}

// Locker serializes checkouts that share an idempotency key
type Locker interface {
	TryLock(ctx context.Context, key string, waitTime, holdTime time.Duration) error
	Unlock(ctx context.Context, key string) error
}

// Service the checkout entry point: idempotency guard, stock holds,
// then the saga pipeline
type Service struct {
	orchestrator  *Orchestrator
	sagaRepo      repository.SagaRepository
	idem          IdempotencyGuard
	stocks        inventory.InventoryService
	locks         Locker
	lockWait      time.Duration
	lockHold      time.Duration
	idGen         *snowflake.IDGenerator
	metrics       *monitor.MetricsCollector
	maxRetryCount int
}

// NewService creates the checkout saga service
func NewService(
	orchestrator *Orchestrator,
	sagaRepo repository.SagaRepository,
	idem IdempotencyGuard,
	stocks inventory.InventoryService,
	locks Locker,
	lockWait, lockHold time.Duration,
	idGen *snowflake.IDGenerator,
	metrics *monitor.MetricsCollector,
	maxRetryCount int,
) *Service {
	return &Service{
		orchestrator:  orchestrator,
		sagaRepo:      sagaRepo,
		idem:          idem,
		stocks:        stocks,
		locks:         locks,
		lockWait:      lockWait,
		lockHold:      lockHold,
		idGen:         idGen,
		metrics:       metrics,
		maxRetryCount: maxRetryCount,
	}
}

// Checkout runs one checkout attempt end to end. Duplicate requests
// replay the stored response; concurrent duplicates are rejected.
// The per-key lock keeps two carriers of the same idempotency key from
// racing through Acquire before either has its row down.
func (s *Service) Checkout(ctx context.Context, req *CheckoutRequest) (*CheckoutResult, error) {
	lockKey := "checkout:" + req.IdempotencyKey
	if err := s.locks.TryLock(ctx, lockKey, s.lockWait, s.lockHold); err != nil {
		return nil, err
	}
	defer func() {
		if err := s.locks.Unlock(ctx, lockKey); err != nil {
			log.WithField("lock_key", lockKey).WithError(err).Warn("Failed to release checkout lock")
		}
	}()

	orderNo := fmt.Sprintf("ORD%d", s.idGen.NextID())

	acquired, err := s.idem.Acquire(ctx, req.IdempotencyKey, "checkout", req.UserID, orderNo)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire idempotency key: %w", err)
	}
	switch acquired.Outcome {
	case idempotency.OutcomeCompleted:
		var result CheckoutResult
		if err := json.Unmarshal([]byte(acquired.ResponseData), &result); err != nil {
			return nil, fmt.Errorf("failed to decode replayed response: %w", err)
		}
		result.Replayed = true
		return &result, nil
	case idempotency.OutcomeInFlight:
		return nil, utils.ErrRequestInFlight
	case idempotency.OutcomeFailed:
		// The key carries a stored failure; only an explicit retake may
		// run the request again.
		won, err := s.idem.Retake(ctx, req.IdempotencyKey)
		if err != nil {
			return nil, fmt.Errorf("failed to retake idempotency key: %w", err)
		}
		if !won {
			return nil, utils.ErrRequestInFlight
		}
		log.WithField("idempotency_key", req.IdempotencyKey).
			WithField("previous_error", acquired.ErrorMessage).
			Info("Retrying previously failed checkout")
	}

	result, err := s.runSaga(ctx, req, orderNo)
	if err != nil {
		if failErr := s.idem.Fail(ctx, req.IdempotencyKey, err.Error()); failErr != nil {
			log.WithError(failErr).Error("Failed to record checkout failure")
		}
		return nil, err
	}

	data, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to encode checkout response: %w", err)
	}
	if err := s.idem.Complete(ctx, req.IdempotencyKey, string(data)); err != nil {
		log.WithError(err).Error("Failed to record checkout success")
	}
	return result, nil
}

// runSaga reserves stock and drives the saga pipeline
func (s *Service) runSaga(ctx context.Context, req *CheckoutRequest, orderNo string) (*CheckoutResult, error) {
	items := make([]model.OrderItem, 0, len(req.Items))
	var totalAmount int64
	for _, item := range req.Items {
		items = append(items, model.OrderItem{
			OrderNo:  orderNo,
			SKU:      item.SKU,
			Price:    item.Price,
			Quantity: item.Quantity,
			Amount:   item.Price * int64(item.Quantity),
		})
		totalAmount += item.Price * int64(item.Quantity)
	}
	paymentAmount := totalAmount - req.DiscountAmount
	if paymentAmount < 0 {
		paymentAmount = 0
	}

	reservationNos, err := s.reserveAll(ctx, orderNo, items)
	if err != nil {
		return nil, err
	}

	saga := &model.SagaInstance{
		SagaID:        fmt.Sprintf("SAGA%d", s.idGen.NextID()),
		OrderNo:       orderNo,
		UserID:        req.UserID,
		Status:        model.SagaStatusPending,
		MaxRetryCount: s.maxRetryCount,
	}
	if err := s.sagaRepo.Create(ctx, saga); err != nil {
		return nil, fmt.Errorf("failed to create saga: %w", err)
	}
	s.metrics.RecordSagaStarted(req.CouponID != nil)

	sc := &StepContext{
		SagaID:         saga.SagaID,
		OrderNo:        orderNo,
		UserID:         req.UserID,
		Items:          items,
		CouponID:       req.CouponID,
		DiscountAmount: req.DiscountAmount,
		PaymentAmount:  paymentAmount,
		ReservationNos: reservationNos,
	}
	if err := s.orchestrator.Execute(ctx, saga, sc); err != nil {
		var execErr *ExecutionError
		if errors.As(err, &execErr) && execErr.Compensated {
			s.releaseHolds(ctx, reservationNos)
		}
		return nil, err
	}

	return &CheckoutResult{
		SagaID:        saga.SagaID,
		OrderNo:       orderNo,
		PaymentAmount: paymentAmount,
	}, nil
}

// releaseHolds cancels the ACTIVE reservations a failed attempt left
// behind, so a retry inside the TTL window does not double-hold the
// SKUs. Holds already confirmed or expired refuse the transition and
// stay with the compensation path or the expiry job.
func (s *Service) releaseHolds(ctx context.Context, reservationNos []string) {
	for _, reservationNo := range reservationNos {
		if err := s.stocks.CancelReservation(ctx, reservationNo); err != nil {
			log.WithField("reservation_no", reservationNo).
				WithError(err).Debug("Reservation not releasable, leaving to expiry")
		}
	}
}

// reserveAll places a hold per item, releasing earlier holds when a
// later one fails so a rejected checkout leaves no live reservations
func (s *Service) reserveAll(ctx context.Context, orderNo string, items []model.OrderItem) ([]string, error) {
	reservationNos := make([]string, 0, len(items))
	for _, item := range items {
		reservation, err := s.stocks.Reserve(ctx, orderNo, item.SKU, item.Quantity)
		if err != nil {
			for _, reservationNo := range reservationNos {
				if cancelErr := s.stocks.CancelReservation(ctx, reservationNo); cancelErr != nil {
					// TTL expiry will reclaim it.
					log.WithField("reservation_no", reservationNo).
						WithError(cancelErr).Warn("Failed to release reservation after reserve failure")
				}
			}
			return nil, err
		}
		reservationNos = append(reservationNos, reservation.ReservationNo)
	}
	return reservationNos, nil
}
