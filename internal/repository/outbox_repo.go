package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"checkout/internal/model"
)

// OutboxRepository outbox event repository interface
type OutboxRepository interface {
	// Create inserts an event; tx must be the transaction carrying the
	// business mutation so insert and mutation commit together
	Create(tx *gorm.DB, event *model.OutboxEvent) error

	// ListUnpublished lists unpublished events in insertion order
	ListUnpublished(ctx context.Context, limit int) ([]*model.OutboxEvent, error)

	// MarkPublished stamps the events as handed to the broker
	MarkPublished(ctx context.Context, ids []uint64) error

	// DeletePublished deletes published events older than the cutoff
	DeletePublished(ctx context.Context, before time.Time) (int64, error)
}

// outboxRepository outbox repository implementation
type outboxRepository struct {
	db *gorm.DB
}

// NewOutboxRepository creates an outbox repository
func NewOutboxRepository(db *gorm.DB) OutboxRepository {
	return &outboxRepository{db: db}
}

// Create inserts an event inside the caller's transaction
func (r *outboxRepository) Create(tx *gorm.DB, event *model.OutboxEvent) error {
	return tx.Create(event).Error
}

// ListUnpublished lists unpublished events in insertion order.
// Insertion order plus the aggregate-keyed broker partition preserves
// per-aggregate ordering end to end.
func (r *outboxRepository) ListUnpublished(ctx context.Context, limit int) ([]*model.OutboxEvent, error) {
	var events []*model.OutboxEvent
	err := r.db.WithContext(ctx).
		Where("published_at IS NULL").
		Order("id ASC").
		Limit(limit).
		Find(&events).Error
	return events, err
}

// MarkPublished stamps the events as handed to the broker
func (r *outboxRepository) MarkPublished(ctx context.Context, ids []uint64) error {
	if len(ids) == 0 {
		return nil
	}

	now := time.Now()
	return r.db.WithContext(ctx).
		Model(&model.OutboxEvent{}).
		Where("id IN ?", ids).
		Update("published_at", now).Error
}

// DeletePublished deletes published events older than the cutoff
func (r *outboxRepository) DeletePublished(ctx context.Context, before time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("published_at IS NOT NULL AND published_at < ?", before).
		Delete(&model.OutboxEvent{})
	return result.RowsAffected, result.Error
}
