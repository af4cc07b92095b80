// Package scroll triggers pagination as a viewport nears the end of its content.
package scroll

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Defaults for Options
const (
	DefaultDelay         = 500 * time.Millisecond
	DefaultThreshold     = 4000
	DefaultFrameInterval = 16 * time.Millisecond
)

// ScrollMetrics is a viewport's position, in whatever unit it scrolls by
type ScrollMetrics struct {
	ScrollTop      int
	ViewportHeight int
	ScrollHeight   int
}

// Viewport reports its current scroll position
type Viewport interface {
	ScrollMetrics() ScrollMetrics
}

// Options configures a Scroller
type Options struct {
	Delay     time.Duration // pause after each check
	Threshold int           // distance from the end that triggers loading
	// Reverse marks content that grows upwards. Offsets are taken as absolute
	// values, so negative scroll positions behave like positive ones.
	Reverse bool
	// Element, when set, is the scrolling container; its offset and height
	// take precedence over the window's.
	Element       Viewport
	FrameInterval time.Duration // wait before each check
}

// Scroller polls a viewport and calls loadMore when it is close to the end
type Scroller struct {
	loadMore func(ctx context.Context) error
	window   Viewport
	opts     Options

	loading atomic.Bool

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	stopped bool
}

// New creates a scroller. Zero options take the defaults.
func New(loadMore func(ctx context.Context) error, window Viewport, opts Options) *Scroller {
	if opts.Delay <= 0 {
		opts.Delay = DefaultDelay
	}
	if opts.Threshold <= 0 {
		opts.Threshold = DefaultThreshold
	}
	if opts.FrameInterval <= 0 {
		opts.FrameInterval = DefaultFrameInterval
	}
	return &Scroller{loadMore: loadMore, window: window, opts: opts}
}

// ShouldLoad reports whether the viewport is within Threshold of the end
func (s *Scroller) ShouldLoad() bool {
	win := s.window.ScrollMetrics()
	offset, scrollHeight := win.ScrollTop, win.ScrollHeight

	if s.opts.Element != nil {
		el := s.opts.Element.ScrollMetrics()
		scrollHeight = el.ScrollHeight
		if el.ScrollTop != 0 {
			offset = el.ScrollTop
		}
	}
	if offset < 0 {
		offset = -offset
	}

	return offset+win.ViewportHeight+s.opts.Threshold > scrollHeight
}

// Check calls loadMore if the viewport is near the end and no earlier call
// is still running. It reports whether loadMore was called.
func (s *Scroller) Check(ctx context.Context) bool {
	if !s.ShouldLoad() {
		return false
	}
	if !s.loading.CompareAndSwap(false, true) {
		return false
	}
	defer s.loading.Store(false)

	if err := s.loadMore(ctx); err != nil {
		slog.Debug("scroll: load more failed", "error", err)
	}
	return true
}

// Start runs the polling loop until Stop is called or ctx ends.
// Calling Start on a running or stopped scroller does nothing.
func (s *Scroller) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done != nil || s.stopped {
		return
	}

	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go s.run(ctx, s.done)
}

func (s *Scroller) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	timer := time.NewTimer(s.opts.FrameInterval)
	defer timer.Stop()

	for {
		select {
		case <-timer.C:
		case <-ctx.Done():
			return
		}

		s.Check(ctx)

		// No need to check all that often
		timer.Reset(s.opts.Delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			return
		}
		timer.Reset(s.opts.FrameInterval)
	}
}

// Stop halts the loop for good and waits for it to exit
func (s *Scroller) Stop() {
	s.mu.Lock()
	s.stopped = true
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}
