package feed

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"nostr-feed/internal/relay"
	"nostr-feed/internal/types"
)

// fakeClient serves a fixed event set from every relay in a request
type fakeClient struct {
	mu     sync.Mutex
	events []types.Event
	loads  []relay.Request
	subs   []*fakeHandle

	delay    time.Duration
	inFlight atomic.Int32
	maxSeen  atomic.Int32
}

func (f *fakeClient) add(events ...types.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, events...)
}

func (f *fakeClient) Load(ctx context.Context, req relay.Request) relay.Result {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		peak := f.maxSeen.Load()
		if n <= peak || f.maxSeen.CompareAndSwap(peak, n) {
			break
		}
	}

	f.mu.Lock()
	f.loads = append(f.loads, req)
	events := append([]types.Event(nil), f.events...)
	f.mu.Unlock()

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return relay.Result{}
		}
	}

	result := relay.Result{EOSE: true}
	for range req.Relays {
		for _, evt := range events {
			if matches(req.Filters, evt) {
				req.OnEvent(evt)
				result.Events++
			}
		}
	}
	return result
}

func (f *fakeClient) Subscribe(ctx context.Context, req relay.Request) relay.Handle {
	f.mu.Lock()
	defer f.mu.Unlock()
	h := &fakeHandle{req: req}
	f.subs = append(f.subs, h)
	return h
}

// loadsFor returns the recorded loads asking for kind
func (f *fakeClient) loadsFor(kind int) []relay.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []relay.Request
	for _, req := range f.loads {
		if req.Filters[0].Kinds[0] == kind {
			out = append(out, req)
		}
	}
	return out
}

func (f *fakeClient) handles() []*fakeHandle {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*fakeHandle(nil), f.subs...)
}

func matches(filters []types.Filter, evt types.Event) bool {
	for _, f := range filters {
		if f.Matches(evt) {
			return true
		}
	}
	return false
}

type fakeHandle struct {
	req    relay.Request
	closed atomic.Bool
}

func (h *fakeHandle) Close() {
	h.closed.Store(true)
}

// push delivers a live event as the relay client would
func (h *fakeHandle) push(evt types.Event) {
	if !h.closed.Load() {
		h.req.OnEvent(evt)
	}
}
