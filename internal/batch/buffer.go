// Package batch collects items arriving from many goroutines and hands them
// to a callback in batches.
package batch

import (
	"log/slog"
	"sync"
	"time"
)

// DefaultWindow is how long a Buffer holds items before flushing
const DefaultWindow = 300 * time.Millisecond

// Buffer collects items over a time window and passes them to flushFn in one call.
// The window starts with the first item added after a flush. Items are delivered
// in the order they were added; batch boundaries carry no meaning.
type Buffer[T any] struct {
	name    string
	flushFn func(items []T)
	window  time.Duration

	flushMu sync.Mutex // one flushFn call at a time

	mu       sync.Mutex
	pending  []T
	timer    *time.Timer
	timerSet bool
	closed   bool
}

// New creates a buffer.
//
// Parameters:
//   - name: Identifier for logging
//   - window: Time to wait after the first item before flushing (0 = DefaultWindow)
//   - flushFn: Receives each batch; never called with an empty slice
func New[T any](name string, window time.Duration, flushFn func(items []T)) *Buffer[T] {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Buffer[T]{
		name:    name,
		flushFn: flushFn,
		window:  window,
	}
}

// Add buffers an item. Items added after Close are flushed immediately.
func (b *Buffer[T]) Add(item T) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		b.deliver([]T{item})
		return
	}

	b.pending = append(b.pending, item)

	// Start timer if not already running
	if !b.timerSet {
		b.timerSet = true
		b.timer = time.AfterFunc(b.window, b.Flush)
	}
	b.mu.Unlock()
}

// Flush delivers buffered items now. It returns after flushFn has run, so
// callers can rely on everything added before Flush being delivered.
func (b *Buffer[T]) Flush() {
	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	b.mu.Lock()
	items := b.pending
	b.pending = nil
	if b.timerSet {
		b.timer.Stop()
		b.timerSet = false
	}
	b.mu.Unlock()

	if len(items) == 0 {
		return
	}

	slog.Debug("batch: flushing", "name", b.name, "items", len(items))
	b.flushFn(items)
}

func (b *Buffer[T]) deliver(items []T) {
	b.flushMu.Lock()
	defer b.flushMu.Unlock()
	b.flushFn(items)
}

// Pending returns the number of buffered items
func (b *Buffer[T]) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Close flushes remaining items and stops the timer.
func (b *Buffer[T]) Close() {
	b.Flush()

	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
}
