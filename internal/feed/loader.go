package feed

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"nostr-feed/internal/batch"
	"nostr-feed/internal/relay"
	"nostr-feed/internal/types"
	"nostr-feed/internal/util"
)

const day = 86400

// ErrLoggedOut is returned by operations that need a session pubkey
var ErrLoggedOut = errors.New("not logged in")

// RelayClient is the relay access the loader needs
type RelayClient interface {
	Load(ctx context.Context, req relay.Request) relay.Result
	Subscribe(ctx context.Context, req relay.Request) relay.Handle
}

// Config holds relay sets and loading parameters
type Config struct {
	IndexerRelays []string // profiles and contact lists
	ContentRelays []string // notes

	ChunkSize        int           // authors per note request
	ChunkConcurrency int           // note requests in flight
	LiveTailLimit    int           // follows covered by the live subscription
	PageSize         int           // maxPosts increment per LoadMore
	MaxDaysAgo       int           // LoadMore stops widening here
	BatchWindow      time.Duration // merge buffering

	Now func() time.Time
}

func (c *Config) setDefaults() {
	if c.ChunkSize <= 0 {
		c.ChunkSize = 10
	}
	if c.ChunkConcurrency <= 0 {
		c.ChunkConcurrency = 10
	}
	if c.LiveTailLimit <= 0 {
		c.LiveTailLimit = 1000
	}
	if c.PageSize <= 0 {
		c.PageSize = 10
	}
	if c.MaxDaysAgo <= 0 {
		c.MaxDaysAgo = 30
	}
	if c.BatchWindow <= 0 {
		c.BatchWindow = batch.DefaultWindow
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// Loader fills People from relays for the follows in State
type Loader struct {
	client RelayClient
	people *People
	state  *State
	cfg    Config

	profiles *batch.Buffer[types.Event]
	notes    *batch.Buffer[types.Event]

	followsGroup singleflight.Group

	// loadMu serializes LoadData runs; runMu guards the newest run's cancel
	loadMu    sync.Mutex
	runMu     sync.Mutex
	runGen    uint64
	runCancel context.CancelFunc

	// live tail outlives the LoadData call that opened it
	ctx    context.Context
	cancel context.CancelFunc

	liveMu sync.Mutex
	live   relay.Handle
}

// NewLoader creates a loader writing into people
func NewLoader(client RelayClient, people *People, state *State, cfg Config) *Loader {
	cfg.setDefaults()
	ctx, cancel := context.WithCancel(context.Background())

	return &Loader{
		client:   client,
		people:   people,
		state:    state,
		cfg:      cfg,
		profiles: batch.New("profiles", cfg.BatchWindow, people.MergeProfiles),
		notes:    batch.New("notes", cfg.BatchWindow, people.MergeNotes),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// People returns the map the loader writes into
func (l *Loader) People() *People {
	return l.people
}

// State returns the session state the loader reads from
func (l *Loader) State() *State {
	return l.state
}

// LoadData loads missing profiles and recent notes for the current follows,
// then replaces the live tail. Everything received by a finished historical
// load has been merged when LoadData returns. A newer call cancels an older
// one still in flight; the superseded call returns nil without touching the
// live tail. Only cancellation of ctx is reported as an error.
func (l *Loader) LoadData(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	l.runMu.Lock()
	if l.runCancel != nil {
		l.runCancel()
	}
	l.runGen++
	gen := l.runGen
	l.runCancel = cancel
	l.runMu.Unlock()

	l.loadMu.Lock()
	defer l.loadMu.Unlock()

	err := l.loadData(runCtx, gen)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err != nil && l.superseded(gen) {
		slog.Debug("feed load superseded", "run", gen)
		return nil
	}
	return err
}

func (l *Loader) superseded(gen uint64) bool {
	l.runMu.Lock()
	defer l.runMu.Unlock()
	return gen != l.runGen
}

func (l *Loader) loadData(ctx context.Context, gen uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	// Snapshot after taking loadMu so the newest run sees the newest follows
	follows := l.state.Follows.Get()
	daysAgo := l.state.DaysAgo.Get()
	start := time.Now()

	if err := l.loadProfiles(ctx, follows); err != nil {
		return err
	}
	if err := l.loadNotes(ctx, follows, daysAgo); err != nil {
		return err
	}
	if l.superseded(gen) {
		return context.Canceled
	}
	l.openLiveTail(follows)

	slog.Info("feed loaded",
		"follows", len(follows),
		"days_ago", daysAgo,
		"people", l.people.Len(),
		"duration_ms", time.Since(start).Milliseconds())
	return nil
}

func (l *Loader) loadProfiles(ctx context.Context, follows []string) error {
	var missing []string
	for _, pubkey := range follows {
		if !l.people.HasProfile(pubkey) {
			missing = append(missing, pubkey)
		}
	}
	if len(missing) == 0 {
		return nil
	}

	l.client.Load(ctx, relay.Request{
		Relays:  l.cfg.IndexerRelays,
		Filters: []types.Filter{{Authors: missing, Kinds: []int{types.KindProfile}}},
		OnEvent: l.profiles.Add,
	})
	l.profiles.Flush()

	return ctx.Err()
}

// loadNotes requests notes since daysAgo in author chunks, a bounded number
// of chunks at a time.
func (l *Loader) loadNotes(ctx context.Context, follows []string, daysAgo int) error {
	since := l.cfg.Now().Unix() - int64(daysAgo)*day

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.cfg.ChunkConcurrency)

	for _, authors := range util.Chunk(follows, l.cfg.ChunkSize) {
		g.Go(func() error {
			l.client.Load(gctx, relay.Request{
				Relays:  l.cfg.ContentRelays,
				Filters: []types.Filter{{Authors: authors, Kinds: []int{types.KindTextNote}, Since: &since}},
				OnEvent: l.notes.Add,
			})
			l.notes.Flush()
			return gctx.Err()
		})
	}

	return g.Wait()
}

// openLiveTail replaces the live subscription with one for new notes from
// the first LiveTailLimit follows.
func (l *Loader) openLiveTail(follows []string) {
	l.liveMu.Lock()
	defer l.liveMu.Unlock()

	if l.live != nil {
		l.live.Close()
		l.live = nil
	}
	if len(follows) == 0 || l.ctx.Err() != nil {
		return
	}

	since := l.cfg.Now().Unix()
	l.live = l.client.Subscribe(l.ctx, relay.Request{
		Relays:  l.cfg.ContentRelays,
		Filters: []types.Filter{{Authors: util.LimitSlice(follows, l.cfg.LiveTailLimit), Kinds: []int{types.KindTextNote}, Since: &since}},
		OnEvent: l.notes.Add,
	})
}

// LoadMore shows one more page. When fewer notes are loaded than the new
// maxPosts, the window is widened by a day and the feed reloaded, up to
// MaxDaysAgo days back.
func (l *Loader) LoadMore(ctx context.Context) error {
	l.state.MaxPosts.Update(func(n int) int { return n + l.cfg.PageSize })
	if l.people.NoteCount() >= l.state.MaxPosts.Get() {
		return nil
	}

	widened := false
	l.state.DaysAgo.Update(func(n int) int {
		if n >= l.cfg.MaxDaysAgo {
			return n
		}
		widened = true
		return n + 1
	})
	if !widened {
		slog.Debug("feed window at its limit", "days_ago", l.cfg.MaxDaysAgo)
		return nil
	}
	return l.LoadData(ctx)
}

// Refresh re-resolves the session's follows and reloads the feed. A follow
// list that could not be found leaves the current one in place.
func (l *Loader) Refresh(ctx context.Context) (FollowList, error) {
	pubkey := l.state.Pubkey.Get()
	if pubkey == "" {
		return FollowList{}, ErrLoggedOut
	}

	list := l.LoadFollows(ctx, pubkey)
	if list.Status != FollowsUnknown {
		l.state.Follows.Set(list.Pubkeys)
	}
	if err := ctx.Err(); err != nil {
		return list, err
	}
	return list, l.LoadData(ctx)
}

// Close stops the live tail and merges anything still buffered
func (l *Loader) Close() {
	l.cancel()

	l.liveMu.Lock()
	if l.live != nil {
		l.live.Close()
		l.live = nil
	}
	l.liveMu.Unlock()

	l.profiles.Close()
	l.notes.Close()
}
