package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"checkout/internal/model"
)

// CouponRepository coupon and user coupon repository interface
type CouponRepository interface {
	// GetByID gets a coupon definition
	GetByID(ctx context.Context, couponID uint64) (*model.Coupon, error)

	// GetForUpdate gets a coupon definition under an exclusive row lock
	GetForUpdate(tx *gorm.DB, couponID uint64) (*model.Coupon, error)

	// Save persists the coupon definition, including the issuance counter
	Save(tx *gorm.DB, coupon *model.Coupon) error

	// CreateUserCoupon inserts an issued coupon; a unique-constraint
	// violation on request_id means the issuance was already recorded
	CreateUserCoupon(tx *gorm.DB, userCoupon *model.UserCoupon) error

	// GetUserCoupon gets a user coupon, nil when not found
	GetUserCoupon(ctx context.Context, couponID, userID uint64) (*model.UserCoupon, error)

	// GetUserCouponForUpdate gets a user coupon under an exclusive row lock
	GetUserCouponForUpdate(tx *gorm.DB, couponID, userID uint64) (*model.UserCoupon, error)

	// GetUserCouponByRequestID gets a user coupon by issuance request ID
	GetUserCouponByRequestID(ctx context.Context, requestID string) (*model.UserCoupon, error)

	// CountUserCoupons counts coupons of one definition held by a user
	CountUserCoupons(tx *gorm.DB, couponID, userID uint64) (int64, error)

	// SaveUserCoupon persists user coupon state
	SaveUserCoupon(tx *gorm.DB, userCoupon *model.UserCoupon) error
}

// couponRepository coupon repository implementation
type couponRepository struct {
	db *gorm.DB
}

// NewCouponRepository creates a coupon repository
func NewCouponRepository(db *gorm.DB) CouponRepository {
	return &couponRepository{db: db}
}

// GetByID gets a coupon definition
func (r *couponRepository) GetByID(ctx context.Context, couponID uint64) (*model.Coupon, error) {
	var coupon model.Coupon
	err := r.db.WithContext(ctx).
		Where("id = ?", couponID).
		First(&coupon).Error
	if err != nil {
		return nil, err
	}
	return &coupon, nil
}

// GetForUpdate gets a coupon definition under SELECT ... FOR UPDATE
func (r *couponRepository) GetForUpdate(tx *gorm.DB, couponID uint64) (*model.Coupon, error) {
	var coupon model.Coupon
	err := tx.
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", couponID).
		First(&coupon).Error
	if err != nil {
		return nil, err
	}
	return &coupon, nil
}

// Save persists the coupon definition
func (r *couponRepository) Save(tx *gorm.DB, coupon *model.Coupon) error {
	return tx.Save(coupon).Error
}

// CreateUserCoupon inserts an issued coupon
func (r *couponRepository) CreateUserCoupon(tx *gorm.DB, userCoupon *model.UserCoupon) error {
	return tx.Create(userCoupon).Error
}

// GetUserCoupon gets a user coupon, nil when not found
func (r *couponRepository) GetUserCoupon(ctx context.Context, couponID, userID uint64) (*model.UserCoupon, error) {
	var userCoupon model.UserCoupon
	err := r.db.WithContext(ctx).
		Where("coupon_id = ? AND user_id = ?", couponID, userID).
		First(&userCoupon).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &userCoupon, nil
}

// GetUserCouponForUpdate gets a user coupon under SELECT ... FOR UPDATE
func (r *couponRepository) GetUserCouponForUpdate(tx *gorm.DB, couponID, userID uint64) (*model.UserCoupon, error) {
	var userCoupon model.UserCoupon
	err := tx.
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("coupon_id = ? AND user_id = ?", couponID, userID).
		First(&userCoupon).Error
	if err != nil {
		return nil, err
	}
	return &userCoupon, nil
}

// GetUserCouponByRequestID gets a user coupon by issuance request ID
func (r *couponRepository) GetUserCouponByRequestID(ctx context.Context, requestID string) (*model.UserCoupon, error) {
	var userCoupon model.UserCoupon
	err := r.db.WithContext(ctx).
		Where("request_id = ?", requestID).
		First(&userCoupon).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &userCoupon, nil
}

// CountUserCoupons counts coupons of one definition held by a user
func (r *couponRepository) CountUserCoupons(tx *gorm.DB, couponID, userID uint64) (int64, error) {
	var count int64
	err := tx.
		Model(&model.UserCoupon{}).
		Where("coupon_id = ? AND user_id = ?", couponID, userID).
		Count(&count).Error
	return count, err
}

// SaveUserCoupon persists user coupon state
func (r *couponRepository) SaveUserCoupon(tx *gorm.DB, userCoupon *model.UserCoupon) error {
	return tx.Save(userCoupon).Error
}
