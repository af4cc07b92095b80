package auth

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nbd-wtf/go-nostr/nip19"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nostr-feed/internal/feed"
	"nostr-feed/internal/nostr"
	"nostr-feed/internal/nostrtest"
	"nostr-feed/internal/store"
)

type fakeResolver struct {
	mu    sync.Mutex
	list  feed.FollowList
	calls []string
}

func (f *fakeResolver) LoadFollows(ctx context.Context, pubkey string) feed.FollowList {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, pubkey)
	return f.list
}

// manualAuth delivers whatever the test sends on results
type manualAuth struct {
	results chan Result
	logouts int
}

func (m *manualAuth) Launch(ctx context.Context) <-chan Result {
	return m.results
}

func (m *manualAuth) Logout() {
	m.logouts++
}

func newTestState(t *testing.T) *feed.State {
	state := feed.OpenState(context.Background(), store.NewMemoryBackend(), feed.StateDefaults{}, time.Hour)
	t.Cleanup(state.Close)
	return state
}

func TestLoginSetsPubkeyAndFollows(t *testing.T) {
	state := newTestState(t)
	resolver := &fakeResolver{list: feed.FollowList{Status: feed.FollowsPopulated, Pubkeys: []string{"x", "y"}}}
	c := NewController(Static{Identifier: nostrtest.Alice.Pubkey}, resolver, state)

	ok, err := c.Login(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)

	assert.Equal(t, nostrtest.Alice.Pubkey, state.Pubkey.Get())
	assert.Equal(t, []string{"x", "y"}, state.Follows.Get())
	assert.Equal(t, []string{nostrtest.Alice.Pubkey}, resolver.calls)
}

func TestLoginWithSecretKeyStoresOnlyPubkey(t *testing.T) {
	state := newTestState(t)
	nsec, err := nip19.EncodePrivateKey(nostrtest.Bob.Secret)
	require.NoError(t, err)

	c := NewController(nil, &fakeResolver{}, state)
	ok, err := c.LoginWith(context.Background(), Static{Identifier: nsec})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, nostrtest.Bob.Pubkey, state.Pubkey.Get())
}

func TestLoginCancelledLeavesStateUnchanged(t *testing.T) {
	state := newTestState(t)
	state.Pubkey.Set("previous")
	resolver := &fakeResolver{}
	c := NewController(Static{Identifier: "not a key"}, resolver, state)

	ok, err := c.Login(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, "previous", state.Pubkey.Get())
	assert.Empty(t, resolver.calls)
}

func TestLoginReturnsContextError(t *testing.T) {
	state := newTestState(t)
	a := &manualAuth{results: make(chan Result)}
	c := NewController(a, &fakeResolver{}, state)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	ok, err := c.Login(ctx)
	assert.False(t, ok)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Empty(t, state.Pubkey.Get())
}

func TestLoginEmptyFollowListStillReplaces(t *testing.T) {
	state := newTestState(t)
	state.Follows.Set([]string{"stale"})
	resolver := &fakeResolver{list: feed.FollowList{Status: feed.FollowsUnknown, Pubkeys: []string{}}}
	c := NewController(Static{Identifier: nostrtest.Alice.Pubkey}, resolver, state)

	ok, err := c.Login(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, state.Follows.Get())
}

func TestLogoutClearsSession(t *testing.T) {
	state := newTestState(t)
	a := &manualAuth{results: make(chan Result, 1)}
	a.results <- Result{Pubkey: "abc"}
	c := NewController(a, &fakeResolver{list: feed.FollowList{Pubkeys: []string{"x"}}}, state)

	ok, err := c.Login(context.Background())
	require.NoError(t, err)
	require.True(t, ok)

	c.Logout()
	assert.Empty(t, state.Pubkey.Get())
	assert.Empty(t, state.Follows.Get())
	assert.False(t, state.LoggedIn())
	assert.Equal(t, 1, a.logouts)
}

func TestConcurrentLoginsAreSerialized(t *testing.T) {
	state := newTestState(t)
	c := NewController(nil, &fakeResolver{}, state)

	first := &manualAuth{results: make(chan Result, 1)}
	second := &manualAuth{results: make(chan Result, 1)}

	firstDone := make(chan struct{})
	go func() {
		defer close(firstDone)
		c.LoginWith(context.Background(), first)
	}()

	// Wait for the first login to hold the queue
	time.Sleep(20 * time.Millisecond)

	secondDone := make(chan struct{})
	go func() {
		defer close(secondDone)
		c.LoginWith(context.Background(), second)
	}()

	second.results <- Result{Pubkey: "second"}
	select {
	case <-secondDone:
		t.Fatal("second login finished before the first settled")
	case <-time.After(50 * time.Millisecond):
	}

	first.results <- Result{Pubkey: "first"}
	<-firstDone
	<-secondDone
	assert.Equal(t, "second", state.Pubkey.Get())
}

func TestQueueRunsInOrder(t *testing.T) {
	q := NewQueue()

	var mu sync.Mutex
	var order []int
	running := 0
	overlap := false

	release := make(chan struct{})
	started := make(chan struct{})
	go q.Do(context.Background(), func(context.Context) error {
		close(started)
		<-release
		return nil
	})
	<-started

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			q.Do(context.Background(), func(context.Context) error {
				mu.Lock()
				running++
				if running > 1 {
					overlap = true
				}
				order = append(order, i)
				mu.Unlock()

				time.Sleep(time.Millisecond)

				mu.Lock()
				running--
				mu.Unlock()
				return nil
			})
		}(i)
		// Let each call join the queue before the next
		time.Sleep(5 * time.Millisecond)
	}

	close(release)
	wg.Wait()

	assert.False(t, overlap)
	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestQueueCancelledWaiterKeepsOrder(t *testing.T) {
	q := NewQueue()
	release := make(chan struct{})
	started := make(chan struct{})
	go q.Do(context.Background(), func(context.Context) error {
		close(started)
		<-release
		return nil
	})
	<-started

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := q.Do(ctx, func(context.Context) error {
		t.Error("cancelled call must not run")
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)

	ran := make(chan struct{})
	go q.Do(context.Background(), func(context.Context) error {
		close(ran)
		return nil
	})

	select {
	case <-ran:
		t.Fatal("call ran while the queue was held")
	case <-time.After(20 * time.Millisecond):
	}

	close(release)
	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("queue did not advance")
	}
}

func TestPromptReadsIdentifier(t *testing.T) {
	npub := nostr.EncodeNpub(nostrtest.Alice.Pubkey)

	var out strings.Builder
	p := NewPrompt(strings.NewReader("garbage\n"+npub+"\n"), &out)

	result := <-p.Launch(context.Background())
	assert.Equal(t, nostrtest.Alice.Pubkey, result.Pubkey)
	assert.Contains(t, out.String(), "npub, nsec or hex public key")
}

func TestPromptCancels(t *testing.T) {
	for name, input := range map[string]string{"empty line": "\n", "end of input": ""} {
		t.Run(name, func(t *testing.T) {
			var out strings.Builder
			result := <-NewPrompt(strings.NewReader(input), &out).Launch(context.Background())
			assert.Empty(t, result.Pubkey)
		})
	}
}

func TestCSRFTokens(t *testing.T) {
	c := NewCSRF()
	session := NewSessionID()
	token := c.Token(session)

	assert.True(t, c.Valid(session, token))
	assert.False(t, c.Valid("other", token))
	assert.False(t, c.Valid("", token))
	assert.False(t, c.Valid(session, "garbage"))

	c.now = func() time.Time { return time.Now().Add(CSRFTokenMaxAge + time.Minute) }
	assert.False(t, c.Valid(session, token))
}
