package repository

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"checkout/internal/model"
)

// BalanceRepository user balance repository interface
type BalanceRepository interface {
	// GetByUserID gets a balance row without locking
	GetByUserID(ctx context.Context, userID uint64) (*model.UserBalance, error)

	// GetForUpdate gets a balance row under an exclusive row lock
	GetForUpdate(tx *gorm.DB, userID uint64) (*model.UserBalance, error)

	// Save persists the balance, normally under the row lock taken above
	Save(tx *gorm.DB, balance *model.UserBalance) error

	// CreateLog appends a balance mutation audit row
	CreateLog(tx *gorm.DB, log *model.BalanceLog) error
}

// balanceRepository balance repository implementation
type balanceRepository struct {
	db *gorm.DB
}

// NewBalanceRepository creates a balance repository
func NewBalanceRepository(db *gorm.DB) BalanceRepository {
	return &balanceRepository{db: db}
}

// GetByUserID gets a balance row without locking
func (r *balanceRepository) GetByUserID(ctx context.Context, userID uint64) (*model.UserBalance, error) {
	var balance model.UserBalance
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		First(&balance).Error
	if err != nil {
		return nil, err
	}
	return &balance, nil
}

// GetForUpdate gets a balance row under SELECT ... FOR UPDATE
func (r *balanceRepository) GetForUpdate(tx *gorm.DB, userID uint64) (*model.UserBalance, error) {
	var balance model.UserBalance
	err := tx.
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ?", userID).
		First(&balance).Error
	if err != nil {
		return nil, err
	}
	return &balance, nil
}

// Save persists the balance
func (r *balanceRepository) Save(tx *gorm.DB, balance *model.UserBalance) error {
	return tx.Save(balance).Error
}

// CreateLog appends a balance mutation audit row
func (r *balanceRepository) CreateLog(tx *gorm.DB, log *model.BalanceLog) error {
	return tx.Create(log).Error
}
