package coupon

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"checkout/internal/model"
	"checkout/internal/repository"
	"checkout/internal/service/outbox"
	"checkout/pkg/lock"
	"checkout/pkg/log"
	"checkout/pkg/utils"
)

// CouponService coupon service interface
type CouponService interface {
	// Issue grants one coupon to the user, idempotent on requestID.
	// The issuance counter check spans several statements, so it runs
	// under the coupon's distributed lock.
	Issue(ctx context.Context, requestID string, couponID, userID uint64) (*model.UserCoupon, error)

	// Use consumes an unused coupon for an order
	Use(ctx context.Context, couponID, userID uint64, orderNo string) error

	// Restore reverts Use: the coupon becomes usable again and the
	// order association is cleared
	Restore(ctx context.Context, couponID, userID uint64, orderNo string) error
}

// couponService coupon service implementation
type couponService struct {
	db       *gorm.DB
	repo     repository.CouponRepository
	locks    *lock.Service
	outbox   outbox.Publisher
	waitTime time.Duration
	holdTime time.Duration
}

// NewCouponService creates a coupon service
func NewCouponService(
	db *gorm.DB,
	repo repository.CouponRepository,
	locks *lock.Service,
	publisher outbox.Publisher,
	waitTime, holdTime time.Duration,
) CouponService {
	return &couponService{
		db:       db,
		repo:     repo,
		locks:    locks,
		outbox:   publisher,
		waitTime: waitTime,
		holdTime: holdTime,
	}
}

// Issue grants one coupon to the user under the coupon's lock
func (s *couponService) Issue(ctx context.Context, requestID string, couponID, userID uint64) (*model.UserCoupon, error) {
	// Replay check before taking the lock: a re-delivered message for
	// an already-recorded issuance needs no serialization.
	existing, err := s.repo.GetUserCouponByRequestID(ctx, requestID)
	if err != nil {
		return nil, fmt.Errorf("failed to check issuance request: %w", err)
	}
	if existing != nil {
		return existing, nil
	}

	lockKey := fmt.Sprintf("coupon:%d", couponID)
	if err := s.locks.TryLock(ctx, lockKey, s.waitTime, s.holdTime); err != nil {
		return nil, err
	}
	defer func() {
		if err := s.locks.Unlock(context.WithoutCancel(ctx), lockKey); err != nil {
			log.WithField("lock_key", lockKey).WithError(err).Warn("Failed to release coupon lock")
		}
	}()

	var userCoupon *model.UserCoupon
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		coupon, err := s.repo.GetForUpdate(tx, couponID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return utils.ErrInvalidCoupon
			}
			return fmt.Errorf("failed to lock coupon %d: %w", couponID, err)
		}

		if !coupon.IsActive() {
			return utils.ErrInvalidCoupon
		}
		if coupon.Remaining() <= 0 {
			return utils.ErrCouponExhausted
		}

		held, err := s.repo.CountUserCoupons(tx, couponID, userID)
		if err != nil {
			return fmt.Errorf("failed to count user coupons: %w", err)
		}
		if held >= int64(coupon.PerUserLimit) {
			return utils.ErrCouponExhausted
		}

		coupon.IssuedQuantity++
		if err := s.repo.Save(tx, coupon); err != nil {
			return fmt.Errorf("failed to update issuance counter: %w", err)
		}

		userCoupon = &model.UserCoupon{
			CouponID:  couponID,
			UserID:    userID,
			RequestID: requestID,
			Status:    model.UserCouponStatusUnused,
		}
		if err := s.repo.CreateUserCoupon(tx, userCoupon); err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				// Re-delivered request raced us through the replay
				// check. The original insert stands.
				return utils.ErrDuplicateRequest
			}
			return fmt.Errorf("failed to create user coupon: %w", err)
		}

		return s.outbox.Publish(tx, model.AggregateTypeCoupon, fmt.Sprintf("user:%d", userID),
			model.EventTypeCouponIssued, model.CouponIssuedPayload{
				RequestID: requestID,
				UserID:    userID,
				CouponID:  couponID,
			})
	})
	if err != nil {
		if errors.Is(err, utils.ErrDuplicateRequest) {
			return s.repo.GetUserCouponByRequestID(ctx, requestID)
		}
		return nil, err
	}

	log.WithFields(map[string]interface{}{
		"request_id": requestID,
		"coupon_id":  couponID,
		"user_id":    userID,
	}).Info("Coupon issued")
	return userCoupon, nil
}

// Use consumes an unused coupon for an order
func (s *couponService) Use(ctx context.Context, couponID, userID uint64, orderNo string) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		userCoupon, err := s.repo.GetUserCouponForUpdate(tx, couponID, userID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return utils.ErrInvalidCoupon
			}
			return fmt.Errorf("failed to lock user coupon: %w", err)
		}

		if !userCoupon.IsUnused() {
			return utils.ErrInvalidCoupon
		}

		now := time.Now()
		userCoupon.Status = model.UserCouponStatusUsed
		userCoupon.OrderNo = &orderNo
		userCoupon.UsedAt = &now
		return s.repo.SaveUserCoupon(tx, userCoupon)
	})
	if err != nil {
		return err
	}

	log.WithFields(map[string]interface{}{
		"coupon_id": couponID,
		"user_id":   userID,
		"order_no":  orderNo,
	}).Info("Coupon used")
	return nil
}

// Restore reverts Use. Only the order that consumed the coupon may
// restore it, and restoring an already-unused coupon is a no-op so
// compensation replays stay safe.
func (s *couponService) Restore(ctx context.Context, couponID, userID uint64, orderNo string) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		userCoupon, err := s.repo.GetUserCouponForUpdate(tx, couponID, userID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return utils.ErrInvalidCoupon
			}
			return fmt.Errorf("failed to lock user coupon: %w", err)
		}

		if userCoupon.IsUnused() {
			return nil
		}
		if userCoupon.OrderNo == nil || *userCoupon.OrderNo != orderNo {
			return fmt.Errorf("coupon %d held by user %d was used by a different order", couponID, userID)
		}

		userCoupon.Status = model.UserCouponStatusUnused
		userCoupon.OrderNo = nil
		userCoupon.UsedAt = nil
		return s.repo.SaveUserCoupon(tx, userCoupon)
	})
	if err != nil {
		return err
	}

	log.WithFields(map[string]interface{}{
		"coupon_id": couponID,
		"user_id":   userID,
		"order_no":  orderNo,
	}).Info("Coupon restored")
	return nil
}
