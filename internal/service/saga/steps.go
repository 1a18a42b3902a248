package saga

import (
	"context"
	"errors"
	"fmt"

	"checkout/internal/model"
	"checkout/internal/service/balance"
	"checkout/internal/service/coupon"
	"checkout/internal/service/inventory"
	"checkout/internal/service/order"
	"checkout/pkg/utils"
)

// StepContext carries everything the steps need for one checkout
// attempt. Recovery rebuilds it from the order row and fresh
// reservations before re-driving a failed saga.
type StepContext struct {
	SagaID         string
	OrderNo        string
	UserID         uint64
	Items          []model.OrderItem
	CouponID       *uint64
	DiscountAmount int64
	PaymentAmount  int64
	ReservationNos []string
}

// Step one forward action with its compensating inverse. Steps with
// Applies false are left out of the run and out of completedSteps.
type Step interface {
	Name() model.SagaStep
	Applies(sc *StepContext) bool
	Execute(ctx context.Context, sc *StepContext) error
	Compensate(ctx context.Context, sc *StepContext) error
}

// orderCreateStep creates the PENDING order, compensated by cancelling
type orderCreateStep struct {
	orders order.OrderService
}

func (s *orderCreateStep) Name() model.SagaStep { return model.StepOrderCreate }
func (s *orderCreateStep) Applies(sc *StepContext) bool { return true }

func (s *orderCreateStep) Execute(ctx context.Context, sc *StepContext) error {
	// A recovery retry finds the cancelled order from the previous
	// attempt; reopen it instead of re-inserting.
	existing, err := s.orders.Get(ctx, sc.OrderNo)
	if err != nil && !errors.Is(err, utils.ErrOrderNotFound) {
		return err
	}
	if existing != nil {
		return s.orders.Reopen(ctx, sc.OrderNo)
	}

	_, err = s.orders.Create(ctx, &order.CreateOrderRequest{
		OrderNo:        sc.OrderNo,
		UserID:         sc.UserID,
		Items:          sc.Items,
		CouponID:       sc.CouponID,
		DiscountAmount: sc.DiscountAmount,
	})
	return err
}

func (s *orderCreateStep) Compensate(ctx context.Context, sc *StepContext) error {
	return s.orders.Cancel(ctx, sc.OrderNo, "checkout failed")
}

// balanceDeductStep takes the payment amount, compensated by crediting
type balanceDeductStep struct {
	balances balance.BalanceService
}

func (s *balanceDeductStep) Name() model.SagaStep { return model.StepBalanceDeduct }
func (s *balanceDeductStep) Applies(sc *StepContext) bool { return sc.PaymentAmount > 0 }

func (s *balanceDeductStep) Execute(ctx context.Context, sc *StepContext) error {
	return s.balances.Deduct(ctx, sc.UserID, sc.OrderNo, sc.PaymentAmount)
}

func (s *balanceDeductStep) Compensate(ctx context.Context, sc *StepContext) error {
	return s.balances.Credit(ctx, sc.UserID, sc.OrderNo, sc.PaymentAmount)
}

// inventoryConfirmStep finalizes the stock holds taken at checkout
// entry, compensated by crediting confirmed stock back
type inventoryConfirmStep struct {
	stocks inventory.InventoryService
}

func (s *inventoryConfirmStep) Name() model.SagaStep { return model.StepInventoryConfirm }
func (s *inventoryConfirmStep) Applies(sc *StepContext) bool { return true }

func (s *inventoryConfirmStep) Execute(ctx context.Context, sc *StepContext) error {
	// One transaction for the whole order: a hold that cannot confirm
	// must not leave a sibling hold CONFIRMED with no compensation
	// entry to restore it.
	if err := s.stocks.ConfirmReservations(ctx, sc.ReservationNos); err != nil {
		return fmt.Errorf("confirm reservations for %s: %w", sc.OrderNo, err)
	}
	return nil
}

func (s *inventoryConfirmStep) Compensate(ctx context.Context, sc *StepContext) error {
	return s.stocks.RestoreStock(ctx, sc.OrderNo)
}

// couponUseStep consumes the coupon, compensated by restoring it.
// Skipped entirely when the checkout carries no coupon.
type couponUseStep struct {
	coupons coupon.CouponService
}

func (s *couponUseStep) Name() model.SagaStep { return model.StepCouponUse }
func (s *couponUseStep) Applies(sc *StepContext) bool { return sc.CouponID != nil }

func (s *couponUseStep) Execute(ctx context.Context, sc *StepContext) error {
	return s.coupons.Use(ctx, *sc.CouponID, sc.UserID, sc.OrderNo)
}

func (s *couponUseStep) Compensate(ctx context.Context, sc *StepContext) error {
	return s.coupons.Restore(ctx, *sc.CouponID, sc.UserID, sc.OrderNo)
}

// orderCompleteStep finishes the order and emits ORDER_PAID. As the
// final step it never appears in a compensation walk.
type orderCompleteStep struct {
	orders order.OrderService
}

func (s *orderCompleteStep) Name() model.SagaStep { return model.StepOrderComplete }
func (s *orderCompleteStep) Applies(sc *StepContext) bool { return true }

func (s *orderCompleteStep) Execute(ctx context.Context, sc *StepContext) error {
	return s.orders.Complete(ctx, sc.OrderNo)
}

func (s *orderCompleteStep) Compensate(ctx context.Context, sc *StepContext) error {
	return nil
}

// NewSteps builds the checkout pipeline in canonical order
func NewSteps(
	orders order.OrderService,
	balances balance.BalanceService,
	stocks inventory.InventoryService,
	coupons coupon.CouponService,
) []Step {
	return []Step{
		&orderCreateStep{orders: orders},
		&balanceDeductStep{balances: balances},
		&inventoryConfirmStep{stocks: stocks},
		&couponUseStep{coupons: coupons},
		&orderCompleteStep{orders: orders},
	}
}
