package store

import "sync"

// Value is an observable value. Subscribers are called synchronously, in
// registration order, once on Subscribe and again after every Set.
// A subscriber must not Set the value it is subscribed to.
type Value[T any] struct {
	writeMu sync.Mutex // serializes Set and notification so subscribers see changes in order

	mu     sync.RWMutex
	value  T
	subs   map[uint64]func(T)
	order  []uint64
	nextID uint64
}

// NewValue creates a Value holding initial
func NewValue[T any](initial T) *Value[T] {
	return &Value[T]{
		value: initial,
		subs:  make(map[uint64]func(T)),
	}
}

// Get returns the current value
func (v *Value[T]) Get() T {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.value
}

// Set replaces the value and notifies subscribers
func (v *Value[T]) Set(value T) {
	v.writeMu.Lock()
	defer v.writeMu.Unlock()

	v.mu.Lock()
	v.value = value
	subs := v.snapshotLocked()
	v.mu.Unlock()

	for _, fn := range subs {
		fn(value)
	}
}

// Update sets the value to fn(current)
func (v *Value[T]) Update(fn func(T) T) {
	v.writeMu.Lock()
	defer v.writeMu.Unlock()

	v.mu.Lock()
	v.value = fn(v.value)
	value := v.value
	subs := v.snapshotLocked()
	v.mu.Unlock()

	for _, fn := range subs {
		fn(value)
	}
}

// Subscribe registers fn, calls it with the current value and returns a
// function that removes the subscription.
func (v *Value[T]) Subscribe(fn func(T)) func() {
	v.writeMu.Lock()
	v.mu.Lock()
	id := v.nextID
	v.nextID++
	v.subs[id] = fn
	v.order = append(v.order, id)
	current := v.value
	v.mu.Unlock()

	fn(current)
	v.writeMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			v.mu.Lock()
			defer v.mu.Unlock()
			delete(v.subs, id)
			for i, sid := range v.order {
				if sid == id {
					v.order = append(v.order[:i], v.order[i+1:]...)
					break
				}
			}
		})
	}
}

func (v *Value[T]) snapshotLocked() []func(T) {
	subs := make([]func(T), 0, len(v.order))
	for _, id := range v.order {
		subs = append(subs, v.subs[id])
	}
	return subs
}
