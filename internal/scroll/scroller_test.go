package scroll

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedViewport struct {
	mu sync.Mutex
	m  ScrollMetrics
}

func (v *fixedViewport) ScrollMetrics() ScrollMetrics {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.m
}

func (v *fixedViewport) set(m ScrollMetrics) {
	v.mu.Lock()
	v.m = m
	v.mu.Unlock()
}

func TestShouldLoad(t *testing.T) {
	tests := []struct {
		name    string
		window  ScrollMetrics
		element *ScrollMetrics
		reverse bool
		want    bool
	}{
		{"near the end", ScrollMetrics{ScrollTop: 0, ViewportHeight: 800, ScrollHeight: 5000}, nil, false, true},
		{"far from the end", ScrollMetrics{ScrollTop: 0, ViewportHeight: 800, ScrollHeight: 10000}, nil, false, false},
		{"exactly at threshold", ScrollMetrics{ScrollTop: 200, ViewportHeight: 800, ScrollHeight: 5000}, nil, false, false},
		{"scrolled down", ScrollMetrics{ScrollTop: 5300, ViewportHeight: 800, ScrollHeight: 10000}, nil, false, true},
		{"reverse uses absolute offset", ScrollMetrics{ScrollTop: -5300, ViewportHeight: 800, ScrollHeight: 10000}, nil, true, true},
		{
			"element offset and height win",
			ScrollMetrics{ScrollTop: 0, ViewportHeight: 800, ScrollHeight: 100},
			&ScrollMetrics{ScrollTop: 100, ScrollHeight: 10000},
			false, false,
		},
		{
			"element at top falls back to window offset",
			ScrollMetrics{ScrollTop: 6000, ViewportHeight: 800, ScrollHeight: 100},
			&ScrollMetrics{ScrollTop: 0, ScrollHeight: 10000},
			false, true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := Options{Threshold: 4000, Reverse: tt.reverse}
			if tt.element != nil {
				opts.Element = &fixedViewport{m: *tt.element}
			}
			s := New(func(context.Context) error { return nil }, &fixedViewport{m: tt.window}, opts)
			assert.Equal(t, tt.want, s.ShouldLoad())
		})
	}
}

func TestCheckCallsLoadMoreNearTheEnd(t *testing.T) {
	calls := 0
	window := &fixedViewport{m: ScrollMetrics{ScrollTop: 0, ViewportHeight: 800, ScrollHeight: 5000}}
	s := New(func(context.Context) error { calls++; return nil }, window, Options{})

	assert.True(t, s.Check(context.Background()))
	assert.Equal(t, 1, calls)

	window.set(ScrollMetrics{ScrollTop: 0, ViewportHeight: 800, ScrollHeight: 50000})
	assert.False(t, s.Check(context.Background()))
	assert.Equal(t, 1, calls)
}

func TestCheckSkipsWhileLoading(t *testing.T) {
	release := make(chan struct{})
	var calls atomic.Int32
	window := &fixedViewport{m: ScrollMetrics{ViewportHeight: 800, ScrollHeight: 100}}
	s := New(func(context.Context) error {
		calls.Add(1)
		<-release
		return nil
	}, window, Options{})

	done := make(chan bool)
	go func() { done <- s.Check(context.Background()) }()

	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)
	assert.False(t, s.Check(context.Background()), "second check must not overlap the first")

	close(release)
	assert.True(t, <-done)
	assert.Equal(t, int32(1), calls.Load())
	assert.True(t, s.Check(context.Background()))
}

func TestStartPollsUntilStopped(t *testing.T) {
	var calls atomic.Int32
	window := &fixedViewport{m: ScrollMetrics{ViewportHeight: 800, ScrollHeight: 5000}}
	s := New(func(context.Context) error {
		calls.Add(1)
		return nil
	}, window, Options{Delay: 5 * time.Millisecond, FrameInterval: time.Millisecond})

	s.Start(context.Background())
	require.Eventually(t, func() bool { return calls.Load() >= 3 }, time.Second, time.Millisecond)

	s.Stop()
	after := calls.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, after, calls.Load())

	// A stopped scroller stays stopped
	s.Start(context.Background())
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, after, calls.Load())
}

func TestStartStopsWithContext(t *testing.T) {
	window := &fixedViewport{m: ScrollMetrics{ViewportHeight: 800, ScrollHeight: 1 << 20}}
	s := New(func(context.Context) error { return nil }, window, Options{Delay: time.Millisecond, FrameInterval: time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	cancel()

	stopped := make(chan struct{})
	go func() {
		s.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return")
	}
}

func TestStopBeforeStart(t *testing.T) {
	s := New(func(context.Context) error { return nil }, &fixedViewport{}, Options{})
	assert.NotPanics(t, s.Stop)
}
