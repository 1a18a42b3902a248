package queue

import (
	"context"
	"errors"
)

// Message a broker message. Key is the partition key: all messages with
// the same key are delivered in publish order.
type Message struct {
	Key   string `json:"key"`
	Value []byte `json:"value"`
}

// MessageQueue message broker interface
type MessageQueue interface {
	// Publish publishes a message to a topic, partitioned by key
	Publish(ctx context.Context, topic, key string, value []byte) error
	// Consume blocks until a message is available on the topic
	Consume(ctx context.Context, topic string) (*Message, error)
	// Close closes the queue
	Close() error
}

// Common errors
var (
	ErrQueueClosed    = errors.New("queue is closed")
	ErrPublishTimeout = errors.New("publish timeout")
)
