package main

import (
	"bytes"
	"html/template"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"

	"nostr-feed/internal/nostr"
	"nostr-feed/internal/util"
)

var htmlFeedTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8">
  <meta name="viewport" content="width=device-width, initial-scale=1.0">
  <title>Nostr Feed</title>
  <style>
    * { box-sizing: border-box; }
    body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.5; color: #333; background: #f5f5f5; margin: 0; padding: 20px; }
    .container { max-width: 720px; margin: 0 auto; background: white; border-radius: 8px; box-shadow: 0 2px 8px rgba(0,0,0,0.1); }
    header { padding: 20px; border-bottom: 1px solid #dee2e6; display: flex; gap: 10px; align-items: center; flex-wrap: wrap; }
    header h1 { font-size: 22px; margin: 0 auto 0 0; }
    form { display: inline; }
    button { padding: 6px 14px; border: 0; border-radius: 4px; background: #667eea; color: white; cursor: pointer; }
    input[type=text] { padding: 6px; width: 22em; }
    .note { padding: 16px 20px; border-bottom: 1px solid #eee; }
    .meta { font-size: 13px; color: #666; margin-bottom: 6px; }
    .author { font-weight: 600; color: #333; }
    .content img { max-width: 100%; }
    .empty { padding: 40px 20px; text-align: center; color: #666; }
    footer { padding: 16px 20px; text-align: center; }
  </style>
</head>
<body>
<div class="container">
  <header>
    <h1>Nostr Feed</h1>
    {{if .Npub}}
    <span class="meta">{{.Npub}} &middot; {{.Follows}} follows</span>
    <form method="POST" action="/feed/refresh"><input type="hidden" name="csrf_token" value="{{.CSRFToken}}"><button type="submit">Refresh</button></form>
    <form method="POST" action="/logout"><input type="hidden" name="csrf_token" value="{{.CSRFToken}}"><button type="submit">Logout</button></form>
    {{else}}
    <form method="POST" action="/login">
      <input type="hidden" name="csrf_token" value="{{.CSRFToken}}">
      <input type="text" name="identifier" placeholder="npub, nsec or hex key" autocomplete="off" required>
      <button type="submit">Login</button>
    </form>
    {{end}}
  </header>
  {{range .Notes}}
  <article class="note">
    <div class="meta"><span class="author" title="{{.Pubkey}}">{{.Author}}</span> &middot; <time datetime="{{.Time}}">{{.Ago}}</time></div>
    <div class="content">{{.Content}}</div>
  </article>
  {{else}}
  <div class="empty">{{if .Npub}}No notes loaded yet.{{else}}Log in to see notes from the people you follow.{{end}}</div>
  {{end}}
  {{if .Npub}}
  <footer>
    <form method="POST" action="/feed/more"><input type="hidden" name="csrf_token" value="{{.CSRFToken}}"><button type="submit">Load more</button></form>
  </footer>
  {{end}}
</div>
</body>
</html>
`

var htmlFeed = util.MustCompileTemplate("feed", nil, htmlFeedTemplate)

type htmlNote struct {
	Pubkey  string
	Author  string
	Time    string
	Ago     string
	Content template.HTML
}

type htmlFeedData struct {
	Npub      string
	Follows   int
	CSRFToken string
	Notes     []htmlNote
}

// noteRenderer turns note content into sanitized HTML
type noteRenderer struct {
	md     goldmark.Markdown
	policy *bluemonday.Policy
	now    func() time.Time
}

func newNoteRenderer() *noteRenderer {
	return &noteRenderer{
		md: goldmark.New(
			goldmark.WithExtensions(extension.Linkify, extension.Strikethrough),
			goldmark.WithRendererOptions(html.WithHardWraps()),
		),
		policy: bluemonday.UGCPolicy().RequireNoFollowOnLinks(true).AddTargetBlankToFullyQualifiedLinks(true),
		now:    time.Now,
	}
}

// Content renders Markdown and strips anything outside the UGC policy.
// Content that fails to render is shown as escaped text.
func (n *noteRenderer) Content(content string) template.HTML {
	var buf bytes.Buffer
	if err := n.md.Convert([]byte(content), &buf); err != nil {
		slog.Debug("markdown render failed", "error", err)
		return template.HTML(template.HTMLEscapeString(content))
	}
	return template.HTML(n.policy.SanitizeBytes(buf.Bytes()))
}

// Ago formats a unix timestamp relative to now
func (n *noteRenderer) Ago(createdAt int64) string {
	return formatAgo(n.now(), createdAt)
}

func formatAgo(now time.Time, createdAt int64) string {
	d := now.Sub(time.Unix(createdAt, 0))
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return formatUnit(int(d/time.Minute), "m")
	case d < 24*time.Hour:
		return formatUnit(int(d/time.Hour), "h")
	default:
		return formatUnit(int(d/(24*time.Hour)), "d")
	}
}

func formatUnit(n int, unit string) string {
	return strconv.Itoa(n) + unit + " ago"
}

// htmlFeedHandler renders the timeline page.
// GET /html/feed
func (s *server) htmlFeedHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		util.RespondMethodNotAllowed(w, "Method not allowed")
		return
	}

	sessionID := browserSession(w, r)
	people := s.app.loader.People()

	data := htmlFeedData{
		Follows:   len(s.app.state.Follows.Get()),
		CSRFToken: s.csrf.Token(sessionID),
	}
	if pubkey := s.app.state.Pubkey.Get(); pubkey != "" {
		data.Npub = nostr.EncodeNpub(pubkey)
	}
	for _, evt := range timelineNotes(s.app) {
		data.Notes = append(data.Notes, htmlNote{
			Pubkey:  evt.PubKey,
			Author:  authorName(people, evt.PubKey),
			Time:    time.Unix(evt.CreatedAt, 0).UTC().Format(time.RFC3339),
			Ago:     s.render.Ago(evt.CreatedAt),
			Content: s.render.Content(evt.Content),
		})
	}

	var buf bytes.Buffer
	if err := htmlFeed.Execute(&buf, data); err != nil {
		LoggerFromContext(r.Context()).Error("failed to render feed", "error", err)
		util.RespondInternalError(w, "Failed to render page")
		return
	}

	util.SetHTMLHeaders(w, "0")
	w.Write(buf.Bytes())
}
