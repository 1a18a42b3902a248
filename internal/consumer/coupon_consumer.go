package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"checkout/internal/model"
	"checkout/internal/service/coupon"
	"checkout/internal/service/outbox"
	"checkout/pkg/log"
	"checkout/pkg/queue"
	"checkout/pkg/utils"
)

// CouponConsumer consumes coupon issuance requests from the broker.
// Issue is idempotent on the request ID, so an at-least-once broker
// never double-grants; business rejections (exhausted, inactive,
// per-user limit) are surfaced to downstream systems through a
// COUPON_ISSUANCE_FAILED outbox event rather than retried.
type CouponConsumer struct {
	couponService coupon.CouponService
	messageQueue  queue.MessageQueue
	db            *gorm.DB
	publisher     outbox.Publisher
	topic         string
	stopCh        chan struct{}
}

// NewCouponConsumer creates a coupon issuance consumer
func NewCouponConsumer(
	couponService coupon.CouponService,
	messageQueue queue.MessageQueue,
	db *gorm.DB,
	publisher outbox.Publisher,
	topic string,
) *CouponConsumer {
	return &CouponConsumer{
		couponService: couponService,
		messageQueue:  messageQueue,
		db:            db,
		publisher:     publisher,
		topic:         topic,
		stopCh:        make(chan struct{}),
	}
}

// Start starts the consumer loop
func (c *CouponConsumer) Start(ctx context.Context) {
	log.WithField("topic", c.topic).Info("Starting coupon issuance consumer")

	go func() {
		for {
			select {
			case <-c.stopCh:
				log.Info("Coupon issuance consumer stopped")
				return
			case <-ctx.Done():
				log.Info("Coupon issuance consumer context cancelled")
				return
			default:
				consumeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
				message, err := c.messageQueue.Consume(consumeCtx, c.topic)
				cancel()

				if err != nil {
					if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
						continue
					}
					if errors.Is(err, queue.ErrQueueClosed) {
						log.Info("Coupon issuance consumer queue closed")
						return
					}
					log.WithError(err).Error("Failed to consume coupon message")
					time.Sleep(1 * time.Second)
					continue
				}

				if err := c.handle(ctx, message); err != nil {
					log.WithError(err).Error("Failed to process coupon message")
				}
			}
		}
	}()
}

// Stop stops the consumer
func (c *CouponConsumer) Stop() {
	close(c.stopCh)
}

// handle processes one issuance request
func (c *CouponConsumer) handle(ctx context.Context, message *queue.Message) error {
	var msg model.CouponIssueMessage
	if err := json.Unmarshal(message.Value, &msg); err != nil {
		// Malformed payload, drop it; redelivery would fail the same way.
		log.WithField("key", message.Key).WithError(err).Error("Dropping malformed coupon message")
		return nil
	}
	if msg.RequestID == "" || msg.CouponID == 0 || msg.UserID == 0 {
		log.WithField("request_id", msg.RequestID).Error("Dropping incomplete coupon message")
		return nil
	}

	_, err := c.couponService.Issue(ctx, msg.RequestID, msg.CouponID, msg.UserID)
	if err == nil {
		return nil
	}

	appErr, ok := utils.IsAppError(err)
	if !ok || appErr.Code == utils.CodeLockTimeout || appErr.Code == utils.CodeDatabaseError || appErr.Code == utils.CodeInternalError {
		// Infrastructure trouble, leave the message for redelivery.
		return fmt.Errorf("issue coupon %d for user %d: %w", msg.CouponID, msg.UserID, err)
	}

	log.WithFields(map[string]interface{}{
		"request_id": msg.RequestID,
		"coupon_id":  msg.CouponID,
		"user_id":    msg.UserID,
		"code":       appErr.Code,
	}).Warn("Coupon issuance rejected")

	return c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return c.publisher.Publish(tx, model.AggregateTypeCoupon, fmt.Sprintf("user:%d", msg.UserID),
			model.EventTypeCouponIssuanceFailed, &model.CouponIssuanceFailedPayload{
				RequestID: msg.RequestID,
				UserID:    msg.UserID,
				CouponID:  msg.CouponID,
				ErrorCode: fmt.Sprintf("%d", appErr.Code),
			})
	})
}
