package store

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"
)

// DefaultPersistDelay is the write coalescing window for persisted values
const DefaultPersistDelay = 300 * time.Millisecond

const persistWriteTimeout = 5 * time.Second

// Persisted loads key from backend into a new Value and mirrors later changes
// back to the backend through a Persister. A missing key, a read error or
// undecodable JSON all yield defaultValue, so setting defaultValue again
// deletes the key instead of writing it.
func Persisted[T any](ctx context.Context, backend Backend, key string, defaultValue T, delay time.Duration) (*Value[T], *Persister[T]) {
	value := defaultValue

	data, found, err := backend.Get(ctx, key)
	switch {
	case err != nil:
		slog.Debug("persisted value read failed, using default", "key", key, "error", err)
	case found:
		var decoded T
		if err := json.Unmarshal(data, &decoded); err != nil {
			slog.Debug("persisted value is not valid JSON, using default", "key", key, "error", err)
		} else {
			value = decoded
		}
	}

	v := NewValue(value)
	p := NewPersister(v, backend, key, delay)
	if data, err := json.Marshal(defaultValue); err == nil {
		p.reset = data
	}
	return v, p
}

// Persister writes a Value to a Backend, at most once per delay window.
// Writes are trailing-edge: the value persisted is the last one set in the window.
type Persister[T any] struct {
	backend Backend
	key     string
	delay   time.Duration
	reset   []byte // encoding that is deleted rather than stored

	flushMu sync.Mutex // keeps writes in the order values were taken

	mu      sync.Mutex
	pending T
	dirty   bool
	timer   *time.Timer
	closed  bool

	unsubscribe func()
}

// NewPersister subscribes to v. The current value is not written; only changes are.
func NewPersister[T any](v *Value[T], backend Backend, key string, delay time.Duration) *Persister[T] {
	if delay <= 0 {
		delay = DefaultPersistDelay
	}
	p := &Persister[T]{
		backend: backend,
		key:     key,
		delay:   delay,
	}

	initial := true
	p.unsubscribe = v.Subscribe(func(value T) {
		if initial {
			initial = false
			return
		}
		p.schedule(value)
	})
	return p
}

func (p *Persister[T]) schedule(value T) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}
	p.pending = value
	p.dirty = true

	// Start timer if not already running
	if p.timer == nil {
		p.timer = time.AfterFunc(p.delay, p.Flush)
	}
}

// Flush writes a pending value immediately
func (p *Persister[T]) Flush() {
	p.flushMu.Lock()
	defer p.flushMu.Unlock()

	p.mu.Lock()
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	if !p.dirty {
		p.mu.Unlock()
		return
	}
	value := p.pending
	p.dirty = false
	p.mu.Unlock()

	data, err := json.Marshal(value)
	if err != nil {
		slog.Debug("persisted value could not be encoded", "key", p.key, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), persistWriteTimeout)
	defer cancel()

	if p.reset != nil && bytes.Equal(data, p.reset) {
		if err := p.backend.Delete(ctx, p.key); err != nil {
			slog.Debug("persisted value delete failed", "key", p.key, "error", err)
		}
		return
	}
	if err := p.backend.Set(ctx, p.key, data); err != nil {
		slog.Debug("persisted value write failed", "key", p.key, "error", err)
	}
}

// Close stops watching the value and writes anything still pending
func (p *Persister[T]) Close() {
	p.unsubscribe()
	p.Flush()

	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
}
