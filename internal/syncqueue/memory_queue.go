package syncqueue

import (
	"context"
	"strconv"
	"sync/atomic"
)

// MemoryQueue is a Queue backed by an in-memory buffered channel, used when
// UseMemoryQueue is set so a single process can run both producer and
// Worker without a real SQS queue.
type MemoryQueue struct {
	ch      chan string
	counter atomic.Int64
}

// NewMemoryQueue creates a MemoryQueue with the given buffer capacity.
func NewMemoryQueue(buffer int) *MemoryQueue {
	if buffer <= 0 {
		buffer = 64
	}
	return &MemoryQueue{ch: make(chan string, buffer)}
}

func (q *MemoryQueue) Send(ctx context.Context, jobID string) error {
	select {
	case q.ch <- jobID:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *MemoryQueue) Receive(ctx context.Context, maxMessages, _ int) ([]Message, error) {
	if maxMessages <= 0 {
		maxMessages = 1
	}

	select {
	case jobID := <-q.ch:
		messages := []Message{q.wrap(jobID)}
		for len(messages) < maxMessages {
			select {
			case jobID := <-q.ch:
				messages = append(messages, q.wrap(jobID))
			default:
				return messages, nil
			}
		}
		return messages, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Delete is a no-op: MemoryQueue has no redelivery to acknowledge.
func (q *MemoryQueue) Delete(_ context.Context, _ string) error {
	return nil
}

func (q *MemoryQueue) wrap(jobID string) Message {
	return Message{JobID: jobID, ReceiptHandle: strconv.FormatInt(q.counter.Add(1), 10)}
}
