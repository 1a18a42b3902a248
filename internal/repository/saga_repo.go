package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"checkout/internal/model"
)

// SagaRepository saga instance repository interface
type SagaRepository interface {
	// Create creates a saga instance
	Create(ctx context.Context, saga *model.SagaInstance) error

	// GetBySagaID gets a saga instance by saga ID
	GetBySagaID(ctx context.Context, sagaID string) (*model.SagaInstance, error)

	// GetByOrderNo gets the latest saga instance for an order
	GetByOrderNo(ctx context.Context, orderNo string) (*model.SagaInstance, error)

	// Update persists the full saga instance state
	Update(ctx context.Context, saga *model.SagaInstance) error

	// ListRecoverable lists FAILED sagas with retries left whose last
	// update is older than the cool-down window
	ListRecoverable(ctx context.Context, cooldown time.Duration, limit int) ([]*model.SagaInstance, error)

	// ListByStatus lists sagas in the given status
	ListByStatus(ctx context.Context, status model.SagaStatus, limit int) ([]*model.SagaInstance, error)

	// PurgeTerminal deletes terminal sagas older than the cutoff
	PurgeTerminal(ctx context.Context, before time.Time) (int64, error)
}

// sagaRepository saga repository implementation
type sagaRepository struct {
	db *gorm.DB
}

// NewSagaRepository creates a saga repository
func NewSagaRepository(db *gorm.DB) SagaRepository {
	return &sagaRepository{db: db}
}

// Create creates a saga instance
func (r *sagaRepository) Create(ctx context.Context, saga *model.SagaInstance) error {
	return r.db.WithContext(ctx).Create(saga).Error
}

// GetBySagaID gets a saga instance by saga ID
func (r *sagaRepository) GetBySagaID(ctx context.Context, sagaID string) (*model.SagaInstance, error) {
	var saga model.SagaInstance
	err := r.db.WithContext(ctx).
		Where("saga_id = ?", sagaID).
		First(&saga).Error
	if err != nil {
		return nil, err
	}
	return &saga, nil
}

// GetByOrderNo gets the latest saga instance for an order
func (r *sagaRepository) GetByOrderNo(ctx context.Context, orderNo string) (*model.SagaInstance, error) {
	var saga model.SagaInstance
	err := r.db.WithContext(ctx).
		Where("order_no = ?", orderNo).
		Order("id DESC").
		First(&saga).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &saga, nil
}

// Update persists the full saga instance state
func (r *sagaRepository) Update(ctx context.Context, saga *model.SagaInstance) error {
	return r.db.WithContext(ctx).Save(saga).Error
}

// ListRecoverable lists FAILED sagas eligible for automatic recovery
func (r *sagaRepository) ListRecoverable(ctx context.Context, cooldown time.Duration, limit int) ([]*model.SagaInstance, error) {
	var sagas []*model.SagaInstance

	cutoff := time.Now().Add(-cooldown)
	err := r.db.WithContext(ctx).
		Where("status = ?", model.SagaStatusFailed).
		Where("retry_count < max_retry_count").
		Where("updated_at < ?", cutoff).
		Order("updated_at ASC").
		Limit(limit).
		Find(&sagas).Error

	return sagas, err
}

// ListByStatus lists sagas in the given status
func (r *sagaRepository) ListByStatus(ctx context.Context, status model.SagaStatus, limit int) ([]*model.SagaInstance, error) {
	var sagas []*model.SagaInstance

	err := r.db.WithContext(ctx).
		Where("status = ?", status).
		Order("updated_at ASC").
		Limit(limit).
		Find(&sagas).Error

	return sagas, err
}

// PurgeTerminal deletes COMPLETED sagas and retry-exhausted FAILED sagas
// older than the cutoff
func (r *sagaRepository) PurgeTerminal(ctx context.Context, before time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("updated_at < ?", before).
		Where("status = ? OR (status = ? AND retry_count >= max_retry_count)",
			model.SagaStatusCompleted, model.SagaStatusFailed).
		Delete(&model.SagaInstance{})

	return result.RowsAffected, result.Error
}
