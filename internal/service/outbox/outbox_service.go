package outbox

import (
	"encoding/json"
	"fmt"

	"gorm.io/gorm"

	"checkout/internal/model"
	"checkout/internal/repository"
)

// Publisher writes domain events into the outbox table. The tx argument
// must be the transaction carrying the business mutation so the event
// and the mutation commit or roll back together.
type Publisher interface {
	Publish(tx *gorm.DB, aggregateType, aggregateID, eventType string, payload interface{}) error
}

// publisher outbox publisher implementation
type publisher struct {
	repo repository.OutboxRepository
}

// NewPublisher creates an outbox publisher
func NewPublisher(repo repository.OutboxRepository) Publisher {
	return &publisher{repo: repo}
}

// Publish marshals the payload and inserts the event row
func (p *publisher) Publish(tx *gorm.DB, aggregateType, aggregateID, eventType string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s payload: %w", eventType, err)
	}

	return p.repo.Create(tx, &model.OutboxEvent{
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     eventType,
		Payload:       string(data),
	})
}
