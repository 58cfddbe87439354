package pipeline

import (
	"context"
	"errors"
	"time"
)

// ErrQueueClosed is returned by Pop once the producer has closed the queue
// and all items are drained.
var ErrQueueClosed = errors.New("queue closed")

// Queue timeouts. Pops wake up periodically so stage loops can observe
// cancellation and pause; pushes re-check cancellation while blocked on a
// full queue.
const (
	popTimeout  = 1 * time.Second
	pushTimeout = 500 * time.Millisecond
)

// Queue is a bounded FIFO connecting two pipeline stages. Exactly one
// producer closes it to signal end of stream.
type Queue[T any] struct {
	ch chan T
}

// NewQueue creates a queue with a fixed capacity.
func NewQueue[T any](size int) *Queue[T] {
	return &Queue[T]{ch: make(chan T, size)}
}

// Push blocks until the item is enqueued or the context is cancelled. A full
// queue is backpressure, not an error.
func (q *Queue[T]) Push(ctx context.Context, item T) error {
	for {
		select {
		case q.ch <- item:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		timer := time.NewTimer(pushTimeout)
		select {
		case q.ch <- item:
			timer.Stop()
			return nil
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Pop returns the next item. ok=false with a nil error means the wait timed
// out and the caller should re-check its loop conditions. ErrQueueClosed
// signals a drained, closed queue.
func (q *Queue[T]) Pop(ctx context.Context) (T, bool, error) {
	var zero T

	timer := time.NewTimer(popTimeout)
	defer timer.Stop()

	select {
	case item, open := <-q.ch:
		if !open {
			return zero, false, ErrQueueClosed
		}
		return item, true, nil
	case <-ctx.Done():
		return zero, false, ctx.Err()
	case <-timer.C:
		return zero, false, nil
	}
}

// Close signals end of stream. Only the producing stage calls this.
func (q *Queue[T]) Close() {
	close(q.ch)
}

// Len returns the current queue depth.
func (q *Queue[T]) Len() int {
	return len(q.ch)
}
