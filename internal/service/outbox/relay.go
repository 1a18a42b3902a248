package outbox

import (
	"context"
	"fmt"
	"time"

	"checkout/internal/monitor"
	"checkout/internal/repository"
	"checkout/pkg/log"
	"checkout/pkg/queue"
)

// Relay tails unpublished outbox rows and forwards them to the broker,
// keyed by aggregate ID so the broker preserves per-aggregate order.
// Marking rows published after the broker accepts them gives at-least-
// once delivery; consumers dedupe on aggregate ID plus event ID.
type Relay struct {
	repo    repository.OutboxRepository
	mq      queue.MessageQueue
	metrics *monitor.MetricsCollector
	topic   string
	batch   int
}

// NewRelay creates an outbox relay
func NewRelay(
	repo repository.OutboxRepository,
	mq queue.MessageQueue,
	metrics *monitor.MetricsCollector,
	topic string,
	batch int,
) *Relay {
	return &Relay{
		repo:    repo,
		mq:      mq,
		metrics: metrics,
		topic:   topic,
		batch:   batch,
	}
}

// RelayOnce runs one relay pass, returns events forwarded
func (r *Relay) RelayOnce(ctx context.Context) (int, error) {
	events, err := r.repo.ListUnpublished(ctx, r.batch)
	if err != nil {
		return 0, fmt.Errorf("failed to list unpublished events: %w", err)
	}
	r.metrics.SetOutboxBacklog(len(events))
	if len(events) == 0 {
		return 0, nil
	}

	published := make([]uint64, 0, len(events))
	for _, event := range events {
		if err := r.mq.Publish(ctx, r.topic, event.AggregateID, []byte(event.Payload)); err != nil {
			// Stop at the first failure so per-aggregate order holds.
			log.WithFields(map[string]interface{}{
				"event_id":   event.ID,
				"event_type": event.EventType,
			}).WithError(err).Error("Failed to forward outbox event")
			break
		}
		published = append(published, event.ID)
		r.metrics.RecordOutboxPublished(event.EventType)
	}
	if len(published) == 0 {
		return 0, nil
	}

	if err := r.repo.MarkPublished(ctx, published); err != nil {
		// The events will be re-sent next pass; at-least-once holds.
		return len(published), fmt.Errorf("failed to mark events published: %w", err)
	}
	return len(published), nil
}

// Start runs RelayOnce on a ticker until ctx is done
func (r *Relay) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.WithField("interval", interval.String()).Info("Outbox relay started")

	for {
		select {
		case <-ctx.Done():
			log.Info("Outbox relay stopped")
			return
		case <-ticker.C:
			if _, err := r.RelayOnce(ctx); err != nil {
				log.WithError(err).Error("Outbox relay pass failed")
			}
		}
	}
}
