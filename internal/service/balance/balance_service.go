package balance

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"checkout/internal/model"
	"checkout/internal/repository"
	"checkout/pkg/log"
	"checkout/pkg/utils"
)

// BalanceService user balance service interface
type BalanceService interface {
	// Deduct takes amount from the user balance for an order
	Deduct(ctx context.Context, userID uint64, orderNo string, amount int64) error

	// Credit returns amount to the user balance, the inverse of Deduct
	Credit(ctx context.Context, userID uint64, orderNo string, amount int64) error

	// GetBalance returns the current balance for a user
	GetBalance(ctx context.Context, userID uint64) (int64, error)
}

// balanceService balance service implementation
type balanceService struct {
	db   *gorm.DB
	repo repository.BalanceRepository
}

// NewBalanceService creates a balance service
func NewBalanceService(db *gorm.DB, repo repository.BalanceRepository) BalanceService {
	return &balanceService{db: db, repo: repo}
}

// Deduct takes amount from the user balance under the row lock and
// writes the audit log in the same transaction
func (s *balanceService) Deduct(ctx context.Context, userID uint64, orderNo string, amount int64) error {
	if amount <= 0 {
		return utils.ErrInvalidParam
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		balance, err := s.repo.GetForUpdate(tx, userID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return utils.ErrInsufficientBalance
			}
			return fmt.Errorf("failed to lock balance for user %d: %w", userID, err)
		}

		if !balance.CanDeduct(amount) {
			return utils.ErrInsufficientBalance
		}

		balance.Balance -= amount
		if err := s.repo.Save(tx, balance); err != nil {
			return fmt.Errorf("failed to update balance: %w", err)
		}

		return s.repo.CreateLog(tx, &model.BalanceLog{
			UserID:     userID,
			OrderNo:    orderNo,
			ChangeType: model.BalanceChangeDeduct,
			Amount:     amount,
			After:      balance.Balance,
		})
	})
	if err != nil {
		return err
	}

	log.WithFields(map[string]interface{}{
		"user_id":  userID,
		"order_no": orderNo,
		"amount":   amount,
	}).Info("Balance deducted")
	return nil
}

// Credit returns amount to the user balance under the row lock
func (s *balanceService) Credit(ctx context.Context, userID uint64, orderNo string, amount int64) error {
	if amount <= 0 {
		return utils.ErrInvalidParam
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		balance, err := s.repo.GetForUpdate(tx, userID)
		if err != nil {
			return fmt.Errorf("failed to lock balance for user %d: %w", userID, err)
		}

		balance.Balance += amount
		if err := s.repo.Save(tx, balance); err != nil {
			return fmt.Errorf("failed to update balance: %w", err)
		}

		return s.repo.CreateLog(tx, &model.BalanceLog{
			UserID:     userID,
			OrderNo:    orderNo,
			ChangeType: model.BalanceChangeCredit,
			Amount:     amount,
			After:      balance.Balance,
		})
	})
	if err != nil {
		return err
	}

	log.WithFields(map[string]interface{}{
		"user_id":  userID,
		"order_no": orderNo,
		"amount":   amount,
	}).Info("Balance credited")
	return nil
}

// GetBalance returns the current balance for a user
func (s *balanceService) GetBalance(ctx context.Context, userID uint64) (int64, error) {
	balance, err := s.repo.GetByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, nil
		}
		return 0, err
	}
	return balance.Balance, nil
}
