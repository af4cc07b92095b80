package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"nostr-feed/internal/nostr"
	"nostr-feed/internal/scroll"
	"nostr-feed/internal/types"
	"nostr-feed/internal/util"
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("99"))
	authorStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("214"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
)

const maxAuthorRunes = 32

// feedChangedMsg is sent when the people map or the session changes
type feedChangedMsg struct{}

type loadDoneMsg struct {
	action string
	err    error
}

// tuiViewport exposes the bubbles viewport position to the scroller, which
// runs on its own goroutine. Lines stand in for pixels.
type tuiViewport struct {
	top, height, total atomic.Int64
}

func (v *tuiViewport) set(vp viewport.Model) {
	v.top.Store(int64(vp.YOffset))
	v.height.Store(int64(vp.Height))
	v.total.Store(int64(vp.TotalLineCount()))
}

func (v *tuiViewport) ScrollMetrics() scroll.ScrollMetrics {
	return scroll.ScrollMetrics{
		ScrollTop:      int(v.top.Load()),
		ViewportHeight: int(v.height.Load()),
		ScrollHeight:   int(v.total.Load()),
	}
}

type tuiModel struct {
	ctx     context.Context
	app     *App
	changes <-chan struct{}

	viewport viewport.Model
	metrics  *tuiViewport
	spinner  spinner.Model
	ready    bool
	width    int

	loading int
	status  string
	err     error
	now     func() time.Time
}

func newTUIModel(ctx context.Context, app *App, changes <-chan struct{}, metrics *tuiViewport) tuiModel {
	return tuiModel{
		ctx:     ctx,
		app:     app,
		changes: changes,
		metrics: metrics,
		spinner: spinner.New(
			spinner.WithSpinner(spinner.Dot),
			spinner.WithStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("69"))),
		),
		loading: 1,
		now:     time.Now,
	}
}

// waitForChange turns the next change notification into a message
func waitForChange(changes <-chan struct{}) tea.Cmd {
	return func() tea.Msg {
		if _, ok := <-changes; !ok {
			return nil
		}
		return feedChangedMsg{}
	}
}

func (m tuiModel) run(action string, fn func(ctx context.Context) error) tea.Cmd {
	return func() tea.Msg {
		return loadDoneMsg{action: action, err: fn(m.ctx)}
	}
}

func (m tuiModel) Init() tea.Cmd {
	return tea.Batch(
		m.spinner.Tick,
		waitForChange(m.changes),
		m.run("load", m.app.loader.LoadData),
	)
}

func (m tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "r":
			m.loading++
			m.status = "refreshing follows"
			return m, m.run("refresh", func(ctx context.Context) error {
				_, err := m.app.loader.Refresh(ctx)
				return err
			})
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		height := msg.Height - 2
		if !m.ready {
			m.viewport = viewport.New(msg.Width, height)
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = height
		}
		m.render()

	case feedChangedMsg:
		m.render()
		cmds = append(cmds, waitForChange(m.changes))

	case loadDoneMsg:
		m.loading--
		m.err = msg.err
		if msg.err == nil {
			m.status = msg.action + " done"
		}
		m.render()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	if m.ready {
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		cmds = append(cmds, cmd)
		m.metrics.set(m.viewport)
	}

	return m, tea.Batch(cmds...)
}

// render rebuilds the viewport content from the current timeline
func (m *tuiModel) render() {
	if !m.ready {
		return
	}

	notes := timelineNotes(m.app)
	if len(notes) == 0 {
		m.viewport.SetContent(dimStyle.Render("No notes yet. Press 'r' to refresh follows."))
		m.metrics.set(m.viewport)
		return
	}

	body := lipgloss.NewStyle().Width(max(m.width-2, 20))
	var b strings.Builder
	for _, evt := range notes {
		b.WriteString(m.renderNote(evt, body))
		b.WriteString("\n\n")
	}
	m.viewport.SetContent(b.String())
	m.metrics.set(m.viewport)
}

func (m *tuiModel) renderNote(evt types.Event, body lipgloss.Style) string {
	people := m.app.loader.People()
	header := authorStyle.Render(util.TruncateStringRunes(authorName(people, evt.PubKey), maxAuthorRunes)) + " " +
		dimStyle.Render(formatAgo(m.now(), evt.CreatedAt))
	return header + "\n" + body.Render(evt.Content)
}

func (m tuiModel) View() string {
	if !m.ready {
		return "\n  " + m.spinner.View() + " loading..."
	}

	npub := nostr.EncodeNpub(m.app.state.Pubkey.Get())
	header := titleStyle.Render("nostr-feed") + " " + dimStyle.Render(fmt.Sprintf("%s | %d follows | %d people",
		nostr.ShortID(npub), len(m.app.state.Follows.Get()), m.app.loader.People().Len()))

	footer := dimStyle.Render("q quit | r refresh | ↑/↓ scroll")
	switch {
	case m.err != nil:
		footer = errorStyle.Render(m.err.Error())
	case m.loading > 0:
		footer = m.spinner.View() + " " + dimStyle.Render("loading")
	case m.status != "":
		footer = dimStyle.Render(m.status) + "  " + footer
	}

	return header + "\n" + m.viewport.View() + "\n" + footer
}

// watchFeed reports changes to the people map and session state on a
// channel holding at most one pending notification.
func watchFeed(app *App) (<-chan struct{}, func()) {
	changes := make(chan struct{}, 1)
	notify := func() {
		select {
		case changes <- struct{}{}:
		default:
		}
	}

	unsubs := []func(){
		app.loader.People().Subscribe(func(uint64) { notify() }),
		app.state.MaxPosts.Subscribe(func(int) { notify() }),
		app.state.Follows.Subscribe(func([]string) { notify() }),
	}
	return changes, func() {
		for _, unsub := range unsubs {
			unsub()
		}
	}
}

func newTUICmd(c *cli) *cobra.Command {
	var logFile string

	cmd := &cobra.Command{
		Use:   "tui",
		Short: "Browse the feed in the terminal",
		RunE: func(cmd *cobra.Command, _ []string) error {
			f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
			if err != nil {
				return fmt.Errorf("open log file: %w", err)
			}
			defer f.Close()
			InitLogger(c.settings.LogLevel, f, true)

			return c.withApp(cmd, func(app *App) error {
				ctx := cmd.Context()
				if !app.state.LoggedIn() {
					ok, err := app.auth.Login(ctx)
					if err != nil {
						return err
					}
					if !ok {
						return fmt.Errorf("login cancelled")
					}
				}
				return runTUI(ctx, app, c.settings.ScrollDelay, c.settings.TUIThresholdLines)
			})
		},
	}

	cmd.Flags().StringVar(&logFile, "log-file", "nostr-feed.log", "file the terminal UI logs to")
	return cmd
}

// runTUI drives the terminal UI until the user quits. The scroller loads
// another page whenever the viewport is within thresholdLines of the end.
func runTUI(ctx context.Context, app *App, delay time.Duration, thresholdLines int) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	changes, unsubscribe := watchFeed(app)
	defer unsubscribe()

	metrics := &tuiViewport{}
	loadMore := func(ctx context.Context) error {
		// Nothing is on screen before the first window size arrives
		if metrics.height.Load() == 0 {
			return nil
		}
		return app.loader.LoadMore(ctx)
	}
	scroller := scroll.New(loadMore, metrics, scroll.Options{
		Delay:     delay,
		Threshold: thresholdLines,
	})
	scroller.Start(ctx)
	defer scroller.Stop()

	p := tea.NewProgram(newTUIModel(ctx, app, changes, metrics), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	return err
}
