package auth

import (
	"context"
	"sync"
)

// Queue serializes access to a capability that must not be used
// concurrently, such as a single signer. Calls run in the order they were
// made; each starts only after the previous one has returned.
type Queue struct {
	mu   sync.Mutex
	tail chan struct{} // closed when the last queued call finishes
}

// NewQueue creates an empty queue
func NewQueue() *Queue {
	return &Queue{}
}

// Do waits for earlier calls to finish and then runs fn. If ctx ends while
// waiting, fn is not run and the queue order is kept for later calls.
func (q *Queue) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	done := make(chan struct{})

	q.mu.Lock()
	prev := q.tail
	q.tail = done
	q.mu.Unlock()

	if prev != nil {
		select {
		case <-prev:
		case <-ctx.Done():
			go func() {
				<-prev
				close(done)
			}()
			return ctx.Err()
		}
	}

	defer close(done)
	return fn(ctx)
}
