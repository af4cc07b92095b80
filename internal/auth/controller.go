package auth

import (
	"context"
	"log/slog"
	"sync"

	"nostr-feed/internal/feed"
	"nostr-feed/internal/nostr"
)

// FollowResolver fetches the follow list for a pubkey
type FollowResolver interface {
	LoadFollows(ctx context.Context, pubkey string) feed.FollowList
}

// Controller drives logins through a shared Queue and records the outcome
// in the session state.
type Controller struct {
	queue    *Queue
	resolver FollowResolver
	state    *feed.State

	mu   sync.Mutex
	auth Authenticator // default for Login, and the one Logout notifies
}

// NewController creates a controller using a for Login
func NewController(a Authenticator, resolver FollowResolver, state *feed.State) *Controller {
	return &Controller{
		queue:    NewQueue(),
		resolver: resolver,
		state:    state,
		auth:     a,
	}
}

// Login runs the default authenticator. It reports false with a nil error
// when the user cancelled, and ctx.Err() when ctx ended first.
func (c *Controller) Login(ctx context.Context) (bool, error) {
	c.mu.Lock()
	a := c.auth
	c.mu.Unlock()
	return c.LoginWith(ctx, a)
}

// LoginWith runs a through the queue. On success the session pubkey is set
// and the follow list is resolved and replaced before the next queued login
// may start.
func (c *Controller) LoginWith(ctx context.Context, a Authenticator) (bool, error) {
	var ok bool
	err := c.queue.Do(ctx, func(ctx context.Context) error {
		var result Result
		select {
		case result = <-a.Launch(ctx):
		case <-ctx.Done():
			return ctx.Err()
		}
		if result.Pubkey == "" {
			slog.Info("login cancelled")
			return nil
		}

		c.mu.Lock()
		c.auth = a
		c.mu.Unlock()

		c.state.Pubkey.Set(result.Pubkey)
		follows := c.resolver.LoadFollows(ctx, result.Pubkey)
		c.state.Follows.Set(follows.Pubkeys)
		ok = true

		slog.Info("logged in",
			"pubkey", nostr.ShortID(result.Pubkey),
			"follows", len(follows.Pubkeys),
			"follows_status", follows.Status.String())
		return nil
	})
	if err != nil {
		return false, err
	}
	return ok, nil
}

// Logout clears the session without touching the network
func (c *Controller) Logout() {
	c.state.Pubkey.Set("")
	c.state.Follows.Set([]string{})

	c.mu.Lock()
	a := c.auth
	c.mu.Unlock()
	if a != nil {
		a.Logout()
	}
	slog.Info("logged out")
}
