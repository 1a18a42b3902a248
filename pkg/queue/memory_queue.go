package queue

import (
	"context"
	"sync"
)

const defaultBufferSize = 1000

// MemoryMessageQueue in-memory broker implementation. A single channel
// per topic, so delivery order equals publish order for every key; a real
// broker only guarantees this per partition key.
//
// Topic channels are never closed: shutdown is signalled through done,
// so a publisher caught mid-send cannot hit a closed channel.
type MemoryMessageQueue struct {
	queues map[string]chan *Message
	mu     sync.Mutex
	done   chan struct{}
	closed bool
}

// NewMemoryMessageQueue creates a new in-memory message queue
func NewMemoryMessageQueue() *MemoryMessageQueue {
	return &MemoryMessageQueue{
		queues: make(map[string]chan *Message),
		done:   make(chan struct{}),
	}
}

// Publish publishes a message to a topic
func (q *MemoryMessageQueue) Publish(ctx context.Context, topic, key string, value []byte) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	ch := q.topicChan(topic)
	q.mu.Unlock()

	select {
	case ch <- &Message{Key: key, Value: value}:
		return nil
	case <-q.done:
		return ErrQueueClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Consume consumes a message from a topic
func (q *MemoryMessageQueue) Consume(ctx context.Context, topic string) (*Message, error) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil, ErrQueueClosed
	}
	ch := q.topicChan(topic)
	q.mu.Unlock()

	select {
	case msg := <-ch:
		return msg, nil
	case <-q.done:
		return nil, ErrQueueClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close closes the queue. In-flight publishers and consumers unblock
// with ErrQueueClosed.
func (q *MemoryMessageQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}

	q.closed = true
	close(q.done)
	return nil
}

// topicChan must be called with q.mu held
func (q *MemoryMessageQueue) topicChan(topic string) chan *Message {
	ch, ok := q.queues[topic]
	if !ok {
		ch = make(chan *Message, defaultBufferSize)
		q.queues[topic] = ch
	}
	return ch
}
