package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"checkout/internal/model"
)

// IdempotencyRepository idempotency key repository interface
type IdempotencyRepository interface {
	// Create inserts a new key in PROCESSING state. A unique-constraint
	// violation means the key already exists.
	Create(ctx context.Context, key *model.IdempotencyKey) error

	// GetByKey gets a key row
	GetByKey(ctx context.Context, key string) (*model.IdempotencyKey, error)

	// MarkCompleted transitions PROCESSING -> COMPLETED. Returns the
	// number of rows updated: zero means another writer already moved
	// the key to a terminal state and this write lost the race.
	MarkCompleted(ctx context.Context, key, responseData string) (int64, error)

	// MarkFailed transitions PROCESSING -> FAILED, same race semantics
	MarkFailed(ctx context.Context, key, errorMessage string) (int64, error)

	// Retake transitions FAILED -> PROCESSING so a new attempt can run.
	// Zero rows updated means another caller retook the key first.
	Retake(ctx context.Context, key string) (int64, error)

	// FailZombies forces PROCESSING rows older than the cutoff to FAILED
	FailZombies(ctx context.Context, before time.Time) (int64, error)

	// DeleteExpired deletes rows older than the cutoff regardless of status
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// idempotencyRepository idempotency repository implementation
type idempotencyRepository struct {
	db *gorm.DB
}

// NewIdempotencyRepository creates an idempotency repository
func NewIdempotencyRepository(db *gorm.DB) IdempotencyRepository {
	return &idempotencyRepository{db: db}
}

// Create inserts a new key in PROCESSING state
func (r *idempotencyRepository) Create(ctx context.Context, key *model.IdempotencyKey) error {
	return r.db.WithContext(ctx).Create(key).Error
}

// GetByKey gets a key row
func (r *idempotencyRepository) GetByKey(ctx context.Context, key string) (*model.IdempotencyKey, error) {
	var row model.IdempotencyKey
	err := r.db.WithContext(ctx).
		Where("`key` = ?", key).
		First(&row).Error
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// MarkCompleted transitions PROCESSING -> COMPLETED.
// The status guard makes the first terminal writer win when a zombie
// sweep and a late success race on the same key.
func (r *idempotencyRepository) MarkCompleted(ctx context.Context, key, responseData string) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&model.IdempotencyKey{}).
		Where("`key` = ? AND status = ?", key, model.IdempotencyStatusProcessing).
		Updates(map[string]interface{}{
			"status":        model.IdempotencyStatusCompleted,
			"response_data": responseData,
		})
	return result.RowsAffected, result.Error
}

// MarkFailed transitions PROCESSING -> FAILED
func (r *idempotencyRepository) MarkFailed(ctx context.Context, key, errorMessage string) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&model.IdempotencyKey{}).
		Where("`key` = ? AND status = ?", key, model.IdempotencyStatusProcessing).
		Updates(map[string]interface{}{
			"status":        model.IdempotencyStatusFailed,
			"error_message": errorMessage,
		})
	return result.RowsAffected, result.Error
}

// Retake transitions FAILED -> PROCESSING for a retry attempt
func (r *idempotencyRepository) Retake(ctx context.Context, key string) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&model.IdempotencyKey{}).
		Where("`key` = ? AND status = ?", key, model.IdempotencyStatusFailed).
		Updates(map[string]interface{}{
			"status":        model.IdempotencyStatusProcessing,
			"error_message": "",
			"created_at":    time.Now(),
		})
	return result.RowsAffected, result.Error
}

// FailZombies forces PROCESSING rows older than the cutoff to FAILED
func (r *idempotencyRepository) FailZombies(ctx context.Context, before time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&model.IdempotencyKey{}).
		Where("status = ? AND created_at < ?", model.IdempotencyStatusProcessing, before).
		Updates(map[string]interface{}{
			"status":        model.IdempotencyStatusFailed,
			"error_message": "request timed out",
		})
	return result.RowsAffected, result.Error
}

// DeleteExpired deletes rows older than the cutoff regardless of status
func (r *idempotencyRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("created_at < ?", before).
		Delete(&model.IdempotencyKey{})
	return result.RowsAffected, result.Error
}
