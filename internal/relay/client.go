package relay

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"nostr-feed/internal/types"
)

// DefaultTimeout bounds a Load that does not receive EOSE from every relay
const DefaultTimeout = 1000 * time.Millisecond

// Request describes a query sent identically to each relay
type Request struct {
	Relays  []string
	Filters []types.Filter
	// OnEvent is called once per received event, one call at a time, in arrival order
	OnEvent func(types.Event)
}

// Result summarizes a finished Load
type Result struct {
	EOSE   bool // every relay reported end of stored events
	Events int
}

// Handle is an open live subscription
type Handle interface {
	Close()
}

// Client runs Loads and live subscriptions over a Pool
type Client struct {
	pool    *Pool
	timeout time.Duration
}

// NewClient creates a client. A zero timeout means DefaultTimeout.
func NewClient(pool *Pool, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{pool: pool, timeout: timeout}
}

// Load subscribes to every relay at once and returns when all of them have
// reported EOSE (or failed), when the timeout fires, or when ctx ends.
// Relay failures are logged and only reduce the number of events delivered.
// OnEvent is never called after Load returns.
func (c *Client) Load(ctx context.Context, req Request) Result {
	LoadsTotal.Add(1)
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	events := make(chan types.Event)
	settled := make(chan bool, len(req.Relays))

	var wg sync.WaitGroup
	for _, relayURL := range req.Relays {
		wg.Add(1)
		go func(relayURL string) {
			defer wg.Done()
			settled <- c.loadFromRelay(ctx, relayURL, req.Filters, events)
		}(relayURL)
	}

	var result Result
	eoseCount, settledCount := 0, 0

collectLoop:
	for settledCount < len(req.Relays) {
		select {
		case evt := <-events:
			result.Events++
			if req.OnEvent != nil {
				req.OnEvent(evt)
			}
		case eose := <-settled:
			settledCount++
			if eose {
				eoseCount++
			}
		case <-ctx.Done():
			LoadsTimedOut.Add(1)
			break collectLoop
		}
	}

	cancel()
	wg.Wait()

	result.EOSE = len(req.Relays) > 0 && eoseCount == len(req.Relays)
	slog.Debug("relay: load finished",
		"relays", len(req.Relays),
		"eose", eoseCount,
		"events", result.Events,
		"duration_ms", time.Since(start).Milliseconds())
	return result
}

// loadFromRelay forwards one relay's events until EOSE and reports whether EOSE arrived.
// events is unbuffered, so every forwarded event has been consumed before the report.
func (c *Client) loadFromRelay(ctx context.Context, relayURL string, filters []types.Filter, events chan<- types.Event) bool {
	sub, err := c.pool.Subscribe(ctx, relayURL, filters)
	if err != nil {
		slog.Debug("relay: subscribe failed", "relay", relayURL, "error", err)
		return false
	}
	defer c.pool.Unsubscribe(sub)

	forward := func(evt types.Event) bool {
		select {
		case events <- evt:
			return true
		case <-ctx.Done():
			return false
		}
	}

	// Events queued ahead of EOSE or CLOSED still belong to this load
	drain := func() bool {
		for {
			select {
			case evt := <-sub.EventChan:
				if !forward(evt) {
					return false
				}
			default:
				return true
			}
		}
	}

	for {
		select {
		case evt := <-sub.EventChan:
			if !forward(evt) {
				return false
			}
		case <-sub.EOSEChan:
			return drain()
		case <-sub.Done:
			drain()
			return false
		case <-ctx.Done():
			return false
		}
	}
}

// live is a running Subscribe call
type live struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func (l *live) Close() {
	l.once.Do(func() {
		l.cancel()
		<-l.done
		LiveSubscriptions.Add(-1)
	})
}

// Subscribe opens a subscription on every relay that stays open past EOSE
// until the returned handle is closed or ctx ends. OnEvent calls are sequential.
func (c *Client) Subscribe(ctx context.Context, req Request) Handle {
	ctx, cancel := context.WithCancel(ctx)
	l := &live{cancel: cancel, done: make(chan struct{})}
	LiveSubscriptions.Add(1)

	events := make(chan types.Event)
	var wg sync.WaitGroup
	for _, relayURL := range req.Relays {
		wg.Add(1)
		go func(relayURL string) {
			defer wg.Done()
			c.streamFromRelay(ctx, relayURL, req.Filters, events)
		}(relayURL)
	}

	relaysDone := make(chan struct{})
	go func() {
		wg.Wait()
		close(relaysDone)
	}()

	go func() {
		defer close(l.done)
		for {
			select {
			case evt := <-events:
				if req.OnEvent != nil {
					req.OnEvent(evt)
				}
			case <-relaysDone:
				return
			}
		}
	}()

	return l
}

func (c *Client) streamFromRelay(ctx context.Context, relayURL string, filters []types.Filter, events chan<- types.Event) {
	sub, err := c.pool.Subscribe(ctx, relayURL, filters)
	if err != nil {
		slog.Debug("relay: live subscribe failed", "relay", relayURL, "error", err)
		return
	}
	defer c.pool.Unsubscribe(sub)

	for {
		select {
		case evt := <-sub.EventChan:
			select {
			case events <- evt:
			case <-ctx.Done():
				return
			}
		case <-sub.EOSEChan:
		case <-sub.Done:
			slog.Debug("relay: live subscription ended", "relay", relayURL)
			return
		case <-ctx.Done():
			return
		}
	}
}
