package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"nostr-feed/internal/auth"
	"nostr-feed/internal/feed"
	"nostr-feed/internal/nostr"
	"nostr-feed/internal/types"
	"nostr-feed/internal/util"
)

// server exposes an App over HTTP
type server struct {
	app          *App
	csrf         *auth.CSRF
	render       *noteRenderer
	pingInterval time.Duration
}

func newServer(app *App) *server {
	return &server{
		app:          app,
		csrf:         auth.NewCSRF(),
		render:       newNoteRenderer(),
		pingInterval: ssePingInterval,
	}
}

// routes builds the handler tree
func (s *server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/" {
			http.Redirect(w, r, "/html/feed", http.StatusFound)
		} else {
			http.NotFound(w, r)
		}
	})

	mux.HandleFunc("/feed", s.feedHandler)
	mux.HandleFunc("/feed/stream", s.streamFeedHandler)
	mux.HandleFunc("/html/feed", securityHeaders(s.htmlFeedHandler))

	mux.HandleFunc("/login", securityHeaders(limitBody(s.post(s.loginHandler), maxBodySize)))
	mux.HandleFunc("/logout", securityHeaders(limitBody(s.post(s.logoutHandler), maxBodySize)))
	mux.HandleFunc("/feed/more", securityHeaders(limitBody(s.post(s.moreHandler), maxBodySize)))
	mux.HandleFunc("/feed/refresh", securityHeaders(limitBody(s.post(s.refreshHandler), maxBodySize)))

	mux.HandleFunc("/health", healthHandler)
	mux.HandleFunc("/metrics", s.metricsHandler)

	return RequestLoggingMiddleware(mux)
}

// post restricts a handler to POST requests carrying a CSRF token for the
// browser session, in the csrf_token form field or the X-CSRF-Token header.
func (s *server) post(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			util.RespondMethodNotAllowed(w, "Method not allowed")
			return
		}
		token := r.Header.Get("X-CSRF-Token")
		if token == "" {
			token = r.FormValue("csrf_token")
		}
		if !s.csrf.Valid(requestSession(r), token) {
			LoggerFromContext(r.Context()).Warn("csrf check failed", "path", r.URL.Path)
			http.Error(w, "Invalid or expired CSRF token", http.StatusForbidden)
			return
		}
		next(w, r)
	}
}

type noteJSON struct {
	ID        string `json:"id"`
	Pubkey    string `json:"pubkey"`
	Author    string `json:"author"`
	CreatedAt int64  `json:"created_at"`
	Content   string `json:"content"`
}

type feedJSON struct {
	Pubkey    string     `json:"pubkey,omitempty"`
	Npub      string     `json:"npub,omitempty"`
	Follows   int        `json:"follows"`
	People    int        `json:"people"`
	MaxPosts  int        `json:"max_posts"`
	DaysAgo   int        `json:"days_ago"`
	CSRFToken string     `json:"csrf_token"`
	Notes     []noteJSON `json:"notes"`
}

// authorName is the profile display name, or a short pubkey when the
// profile is missing or has no name.
func authorName(people *feed.People, pubkey string) string {
	if person, ok := people.Get(pubkey); ok {
		if name := person.DisplayName(); name != "" {
			return name
		}
	}
	return nostr.ShortID(pubkey)
}

// snapshot collects the current timeline as the JSON view
func (s *server) snapshot(sessionID string) feedJSON {
	state := s.app.state
	people := s.app.loader.People()
	maxPosts := state.MaxPosts.Get()

	view := feedJSON{
		Follows:   len(state.Follows.Get()),
		People:    people.Len(),
		MaxPosts:  maxPosts,
		DaysAgo:   state.DaysAgo.Get(),
		CSRFToken: s.csrf.Token(sessionID),
		Notes:     []noteJSON{},
	}
	if pubkey := state.Pubkey.Get(); pubkey != "" {
		view.Pubkey = pubkey
		view.Npub = nostr.EncodeNpub(pubkey)
	}
	for _, evt := range people.Timeline(maxPosts) {
		view.Notes = append(view.Notes, noteJSON{
			ID:        evt.ID,
			Pubkey:    evt.PubKey,
			Author:    authorName(people, evt.PubKey),
			CreatedAt: evt.CreatedAt,
			Content:   evt.Content,
		})
	}
	return view
}

// feedHandler returns the timeline as JSON.
// GET /feed
func (s *server) feedHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		util.RespondMethodNotAllowed(w, "Method not allowed")
		return
	}
	util.WriteJSON(w, http.StatusOK, s.snapshot(browserSession(w, r)))
}

// respond sends browsers back to the HTML feed and API clients the JSON view
func (s *server) respond(w http.ResponseWriter, r *http.Request) {
	if strings.Contains(r.Header.Get("Accept"), "text/html") {
		http.Redirect(w, r, "/html/feed", http.StatusSeeOther)
		return
	}
	util.WriteJSON(w, http.StatusOK, s.snapshot(requestSession(r)))
}

// loadFailed reports a load error. Only cancellation reaches here, which
// means the client went away or the server is shutting down.
func loadFailed(w http.ResponseWriter, r *http.Request, err error) {
	LoggerFromContext(r.Context()).Debug("load interrupted", "error", err)
	http.Error(w, "Request cancelled", http.StatusServiceUnavailable)
}

// loginHandler logs in with an npub, nsec or hex key and loads the feed.
// POST /login
func (s *server) loginHandler(w http.ResponseWriter, r *http.Request) {
	identifier := strings.TrimSpace(r.FormValue("identifier"))
	if identifier == "" {
		util.RespondBadRequest(w, "Missing identifier")
		return
	}

	ok, err := s.app.auth.LoginWith(r.Context(), auth.Static{Identifier: identifier})
	if err != nil {
		loadFailed(w, r, err)
		return
	}
	if !ok {
		util.RespondUnauthorized(w, "Invalid identifier")
		return
	}

	if err := s.app.loader.LoadData(r.Context()); err != nil {
		loadFailed(w, r, err)
		return
	}
	s.respond(w, r)
}

// logoutHandler clears the session.
// POST /logout
func (s *server) logoutHandler(w http.ResponseWriter, r *http.Request) {
	s.app.auth.Logout()
	s.respond(w, r)
}

// moreHandler extends the timeline by one page.
// POST /feed/more
func (s *server) moreHandler(w http.ResponseWriter, r *http.Request) {
	if !s.app.state.LoggedIn() {
		util.RespondUnauthorized(w, "Not logged in")
		return
	}
	if err := s.app.loader.LoadMore(r.Context()); err != nil {
		loadFailed(w, r, err)
		return
	}
	s.respond(w, r)
}

// refreshHandler re-resolves follows and reloads.
// POST /feed/refresh
func (s *server) refreshHandler(w http.ResponseWriter, r *http.Request) {
	list, err := s.app.loader.Refresh(r.Context())
	if errors.Is(err, feed.ErrLoggedOut) {
		util.RespondUnauthorized(w, "Not logged in")
		return
	}
	if err != nil {
		loadFailed(w, r, err)
		return
	}
	slog.Debug("follows refreshed", "status", list.Status.String(), "follows", len(list.Pubkeys))
	s.respond(w, r)
}

// resumeSession reloads the feed for a session persisted by an earlier run
func resumeSession(ctx context.Context, app *App) {
	if !app.state.LoggedIn() {
		return
	}
	slog.Info("resuming session",
		"pubkey", nostr.ShortID(app.state.Pubkey.Get()),
		"follows", len(app.state.Follows.Get()))
	if err := app.loader.LoadData(ctx); err != nil {
		slog.Debug("resume interrupted", "error", err)
	}
}

// timelineNotes is shared by the HTML page and the terminal UI
func timelineNotes(app *App) []types.Event {
	return app.loader.People().Timeline(app.state.MaxPosts.Get())
}
