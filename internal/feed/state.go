package feed

import (
	"context"
	"time"

	"nostr-feed/internal/store"
)

// Storage keys
const (
	KeyPubkey   = "pubkey"
	KeyFollows  = "follows"
	KeyMaxPosts = "maxPosts"
	KeyDaysAgo  = "daysAgo"
)

// Default UI parameters
const (
	DefaultMaxPosts = 10
	DefaultDaysAgo  = 3
)

// State is the persisted session: who is logged in, whom they follow and how
// much of the feed is shown.
type State struct {
	Pubkey   *store.Value[string] // empty when logged out
	Follows  *store.Value[[]string]
	MaxPosts *store.Value[int]
	DaysAgo  *store.Value[int]

	persisters []persister
}

type persister interface {
	Flush()
	Close()
}

// StateDefaults are used for keys that are missing or unreadable in storage
type StateDefaults struct {
	MaxPosts int
	DaysAgo  int
}

// OpenState loads the session from backend. Later changes are written back
// at most once per persistDelay.
func OpenState(ctx context.Context, backend store.Backend, defaults StateDefaults, persistDelay time.Duration) *State {
	if defaults.MaxPosts <= 0 {
		defaults.MaxPosts = DefaultMaxPosts
	}
	if defaults.DaysAgo <= 0 {
		defaults.DaysAgo = DefaultDaysAgo
	}

	s := &State{}

	var p1, p2, p3, p4 persister
	s.Pubkey, p1 = persisted(ctx, backend, KeyPubkey, "", persistDelay)
	s.Follows, p2 = persisted(ctx, backend, KeyFollows, []string{}, persistDelay)
	s.MaxPosts, p3 = persisted(ctx, backend, KeyMaxPosts, defaults.MaxPosts, persistDelay)
	s.DaysAgo, p4 = persisted(ctx, backend, KeyDaysAgo, defaults.DaysAgo, persistDelay)
	s.persisters = []persister{p1, p2, p3, p4}

	return s
}

func persisted[T any](ctx context.Context, backend store.Backend, key string, defaultValue T, delay time.Duration) (*store.Value[T], persister) {
	return store.Persisted(ctx, backend, key, defaultValue, delay)
}

// LoggedIn reports whether a pubkey is set
func (s *State) LoggedIn() bool {
	return s.Pubkey.Get() != ""
}

// Flush writes pending changes now
func (s *State) Flush() {
	for _, p := range s.persisters {
		p.Flush()
	}
}

// Close flushes and stops persisting
func (s *State) Close() {
	for _, p := range s.persisters {
		p.Close()
	}
}
