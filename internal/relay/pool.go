// Package relay talks NIP-01 to Nostr relays over shared websocket connections.
package relay

import (
	"context"
	"encoding/hex"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"lukechampine.com/frand"

	"nostr-feed/internal/nostr"
	"nostr-feed/internal/types"
)

const (
	subscriptionBuffer = 1024
	writeTimeout       = 10 * time.Second
	idleTimeout        = 2 * time.Minute
	cleanupInterval    = 60 * time.Second
)

// ErrUnsafeRelay is returned for relay URLs that resolve to private destinations
var ErrUnsafeRelay = errors.New("relay URL blocked: unsafe destination")

// ErrPoolClosed is returned for dials that finish after Close
var ErrPoolClosed = errors.New("relay pool closed")

// Subscription represents an active subscription on a relay connection
type Subscription struct {
	ID        string
	Relay     string
	EventChan chan types.Event
	EOSEChan  chan struct{}
	Done      chan struct{}
	closeOnce sync.Once
}

// Close safely closes the Done channel exactly once
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		close(s.Done)
	})
}

// relayConn manages a single websocket connection with multiple subscriptions
type relayConn struct {
	conn          *websocket.Conn
	relayURL      string
	mu            sync.Mutex
	writeMu       sync.Mutex
	subscriptions map[string]*Subscription
	closed        bool
	lastActivity  time.Time
}

// Pool manages one connection per relay URL
type Pool struct {
	mu          sync.RWMutex
	connections map[string]*relayConn
	dialing     map[string]*pendingDial
	dialer      *websocket.Dialer

	stop     chan struct{}
	stopOnce sync.Once
}

// NewPool creates a connection pool and starts its idle-connection cleanup
func NewPool() *Pool {
	p := &Pool{
		connections: make(map[string]*relayConn),
		dialing:     make(map[string]*pendingDial),
		dialer:      websocket.DefaultDialer,
		stop:        make(chan struct{}),
	}
	go p.cleanupLoop()
	return p
}

// pendingDial is a dial in progress; waiters block on done
type pendingDial struct {
	done chan struct{}
	rc   *relayConn
	err  error
}

// getOrCreateConn gets an existing connection or dials a new one. Dials run
// outside the pool lock so a relay that stalls its handshake only delays
// callers of that relay. Concurrent callers for one URL share a dial.
func (p *Pool) getOrCreateConn(ctx context.Context, relayURL string) (*relayConn, error) {
	if !nostr.IsRelayURLSafe(relayURL) {
		return nil, ErrUnsafeRelay
	}

	for {
		p.mu.Lock()
		if rc := p.connections[relayURL]; rc != nil && !rc.isClosed() {
			p.mu.Unlock()
			return rc, nil
		}
		if d := p.dialing[relayURL]; d != nil {
			p.mu.Unlock()
			select {
			case <-d.done:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			if d.err == nil {
				return d.rc, nil
			}
			// The dialer's own deadline ended its attempt; ours may still have time
			if ctx.Err() == nil && (errors.Is(d.err, context.Canceled) || errors.Is(d.err, context.DeadlineExceeded)) {
				continue
			}
			return nil, d.err
		}

		d := &pendingDial{done: make(chan struct{})}
		p.dialing[relayURL] = d
		p.mu.Unlock()

		return p.dial(ctx, relayURL, d)
	}
}

func (p *Pool) dial(ctx context.Context, relayURL string, d *pendingDial) (*relayConn, error) {
	slog.Debug("pool: connecting", "relay", relayURL)
	conn, _, err := p.dialer.DialContext(ctx, relayURL, nil)

	var rc *relayConn
	if err == nil {
		rc = &relayConn{
			conn:          conn,
			relayURL:      relayURL,
			subscriptions: make(map[string]*Subscription),
			lastActivity:  time.Now(),
		}
	}

	p.mu.Lock()
	delete(p.dialing, relayURL)
	if rc != nil {
		select {
		case <-p.stop:
			conn.Close()
			rc, err = nil, ErrPoolClosed
		default:
			p.connections[relayURL] = rc
		}
	}
	p.mu.Unlock()

	d.rc, d.err = rc, err
	close(d.done)

	if err != nil {
		return nil, err
	}
	go rc.readLoop()
	return rc, nil
}

// Subscribe sends a REQ with filters to relayURL under a fresh subscription ID
func (p *Pool) Subscribe(ctx context.Context, relayURL string, filters []types.Filter) (*Subscription, error) {
	const maxRetries = 3
	var rc *relayConn
	var err error
	var connected bool

	for attempt := 0; attempt < maxRetries; attempt++ {
		rc, err = p.getOrCreateConn(ctx, relayURL)
		if err != nil {
			return nil, err
		}

		rc.mu.Lock()
		if rc.closed {
			rc.mu.Unlock()
			p.mu.Lock()
			if p.connections[relayURL] == rc {
				delete(p.connections, relayURL)
			}
			p.mu.Unlock()
			continue
		}
		connected = true
		break
	}

	if !connected {
		return nil, errors.New("failed to establish connection after retries")
	}

	sub := &Subscription{
		ID:        newSubscriptionID(),
		Relay:     relayURL,
		EventChan: make(chan types.Event, subscriptionBuffer),
		EOSEChan:  make(chan struct{}, 1),
		Done:      make(chan struct{}),
	}

	// rc.mu is still held from the loop
	rc.subscriptions[sub.ID] = sub
	rc.mu.Unlock()

	req := make([]interface{}, 0, len(filters)+2)
	req = append(req, "REQ", sub.ID)
	for _, f := range filters {
		req = append(req, f)
	}

	if err := rc.writeJSON(req); err != nil {
		rc.mu.Lock()
		delete(rc.subscriptions, sub.ID)
		rc.mu.Unlock()
		rc.markClosed()
		return nil, err
	}

	rc.touch()
	return sub, nil
}

// Unsubscribe sends CLOSE for sub and releases it
func (p *Pool) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}

	p.mu.RLock()
	rc := p.connections[sub.Relay]
	p.mu.RUnlock()

	if rc != nil {
		rc.mu.Lock()
		_, exists := rc.subscriptions[sub.ID]
		shouldSendClose := !rc.closed && exists
		if exists {
			delete(rc.subscriptions, sub.ID)
		}
		rc.mu.Unlock()

		// Best effort, the connection may already be gone
		if shouldSendClose {
			rc.writeJSON([]interface{}{"CLOSE", sub.ID})
		}
	}

	sub.Close()
}

// Connections returns the number of open relay connections
func (p *Pool) Connections() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.connections)
}

// Close shuts every connection and stops the cleanup loop
func (p *Pool) Close() {
	p.stopOnce.Do(func() { close(p.stop) })

	p.mu.Lock()
	conns := p.connections
	p.connections = make(map[string]*relayConn)
	p.mu.Unlock()

	for _, rc := range conns {
		rc.markClosed()
	}
}

func (rc *relayConn) writeJSON(v interface{}) error {
	rc.writeMu.Lock()
	defer rc.writeMu.Unlock()

	rc.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	defer rc.conn.SetWriteDeadline(time.Time{})

	return rc.conn.WriteJSON(v)
}

func (rc *relayConn) isClosed() bool {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.closed
}

func (rc *relayConn) touch() {
	rc.mu.Lock()
	rc.lastActivity = time.Now()
	rc.mu.Unlock()
}

func (rc *relayConn) subscription(subID string) *Subscription {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.subscriptions[subID]
}

// readLoop continuously reads from the connection and routes messages
func (rc *relayConn) readLoop() {
	defer rc.markClosed()

	for {
		var msg types.NostrMessage
		if err := rc.conn.ReadJSON(&msg); err != nil {
			if !rc.isClosed() {
				slog.Debug("pool: read error", "relay", rc.relayURL, "error", err)
			}
			return
		}

		rc.touch()

		if len(msg) < 2 {
			continue
		}
		msgType, ok := msg[0].(string)
		if !ok {
			continue
		}
		subID, _ := msg[1].(string)

		switch msgType {
		case "EVENT":
			if len(msg) < 3 {
				continue
			}
			evt, ok := nostr.ParseEventFromInterface(msg[2])
			if !ok {
				EventsInvalid.Add(1)
				continue
			}
			EventsReceived.Add(1)
			evt.RelaysSeen = []string{rc.relayURL}

			if sub := rc.subscription(subID); sub != nil {
				select {
				case sub.EventChan <- evt:
				case <-sub.Done:
				default:
					EventsDropped.Add(1)
				}
			}

		case "EOSE":
			if sub := rc.subscription(subID); sub != nil {
				select {
				case sub.EOSEChan <- struct{}{}:
				default:
				}
			}

		case "CLOSED":
			rc.mu.Lock()
			sub := rc.subscriptions[subID]
			delete(rc.subscriptions, subID)
			rc.mu.Unlock()
			if sub != nil {
				reason := ""
				if len(msg) >= 3 {
					reason, _ = msg[2].(string)
				}
				slog.Debug("pool: subscription closed by relay", "relay", rc.relayURL, "reason", reason)
				sub.Close()
			}

		case "NOTICE":
			notice, _ := msg[1].(string)
			slog.Info("pool: notice", "relay", rc.relayURL, "notice", notice)
		}
	}
}

// markClosed marks the connection as closed and ends its subscriptions
func (rc *relayConn) markClosed() {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	if rc.closed {
		return
	}

	rc.closed = true
	rc.conn.Close()

	for _, sub := range rc.subscriptions {
		sub.Close()
	}
	rc.subscriptions = make(map[string]*Subscription)
}

// cleanupLoop periodically removes stale connections
func (p *Pool) cleanupLoop() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.cleanup(time.Now())
		case <-p.stop:
			return
		}
	}
}

// cleanup removes connections that have been idle too long
func (p *Pool) cleanup(now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for url, rc := range p.connections {
		rc.mu.Lock()
		closed := rc.closed
		idle := len(rc.subscriptions) == 0 && now.Sub(rc.lastActivity) > idleTimeout
		rc.mu.Unlock()

		if closed || idle {
			if !closed {
				slog.Debug("pool: closing idle connection", "relay", url)
				rc.markClosed()
			}
			delete(p.connections, url)
		}
	}
}

func newSubscriptionID() string {
	return "sub-" + hex.EncodeToString(frand.Bytes(8))
}
