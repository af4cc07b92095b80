package main

import (
	"context"
	"fmt"
	"io"

	"nostr-feed/internal/auth"
	"nostr-feed/internal/config"
	"nostr-feed/internal/feed"
	"nostr-feed/internal/relay"
	"nostr-feed/internal/store"
)

// App holds the wired client: session state, relay access, loader and login.
type App struct {
	settings *config.Settings
	backend  store.Backend
	pool     *relay.Pool
	state    *feed.State
	loader   *feed.Loader
	auth     *auth.Controller
}

// newApp opens storage and wires the components. The default authenticator
// uses the configured identifier when there is one and otherwise prompts on in/out.
func newApp(ctx context.Context, settings *config.Settings, in io.Reader, out io.Writer) (*App, error) {
	backend, err := store.Open(ctx, store.Options{
		Kind:     settings.Storage.Backend,
		Path:     settings.Storage.Path,
		RedisURL: settings.Storage.RedisURL,
		Prefix:   settings.Storage.Prefix,
	})
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	pool := relay.NewPool()
	app := wireApp(ctx, settings, backend, relay.NewClient(pool, settings.RelayTimeout), defaultAuthenticator(settings, in, out))
	app.pool = pool
	return app, nil
}

// wireApp builds the app over an already opened backend and relay client
func wireApp(ctx context.Context, settings *config.Settings, backend store.Backend, client feed.RelayClient, authenticator auth.Authenticator) *App {
	state := feed.OpenState(ctx, backend, feed.StateDefaults{
		MaxPosts: settings.MaxPosts,
		DaysAgo:  settings.DaysAgo,
	}, settings.Storage.PersistDelay)

	loader := feed.NewLoader(client, feed.NewPeople(), state, feed.Config{
		IndexerRelays:    settings.IndexerRelays,
		ContentRelays:    settings.ContentRelays,
		ChunkSize:        settings.ChunkSize,
		ChunkConcurrency: settings.ChunkConcurrency,
		LiveTailLimit:    settings.LiveTailLimit,
		PageSize:         settings.PageSize,
		MaxDaysAgo:       settings.MaxDaysAgo,
		BatchWindow:      settings.BatchWindow,
	})

	return &App{
		settings: settings,
		backend:  backend,
		state:    state,
		loader:   loader,
		auth:     auth.NewController(authenticator, loader, state),
	}
}

func defaultAuthenticator(settings *config.Settings, in io.Reader, out io.Writer) auth.Authenticator {
	if settings.Identifier != "" {
		return auth.Static{Identifier: settings.Identifier}
	}
	return auth.NewPrompt(in, out)
}

// Close stops loading, writes pending state and releases storage and relays
func (a *App) Close() {
	a.loader.Close()
	a.state.Close()
	if a.pool != nil {
		a.pool.Close()
	}
	a.backend.Close()
}
