package main

import (
	"net/http"

	"nostr-feed/internal/auth"
)

// sessionCookieName identifies the anonymous browser session that CSRF
// tokens are bound to. It carries no login state; the client has one
// session pubkey shared by every surface.
const sessionCookieName = "nostr_feed_session"

const sessionCookieMaxAge = 24 * 60 * 60

// shouldSecureCookie reports whether the request arrived over HTTPS,
// directly or through a proxy.
func shouldSecureCookie(r *http.Request) bool {
	return r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https"
}

// setSessionCookie sets a cookie with strict security defaults
func setSessionCookie(w http.ResponseWriter, r *http.Request, name, value string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   shouldSecureCookie(r),
		SameSite: http.SameSiteStrictMode,
	})
}

// browserSession returns the request's session ID, issuing a new cookie
// when the request has none.
func browserSession(w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(sessionCookieName); err == nil && c.Value != "" {
		return c.Value
	}
	id := auth.NewSessionID()
	setSessionCookie(w, r, sessionCookieName, id, sessionCookieMaxAge)
	return id
}

// requestSession returns the existing session ID without issuing one
func requestSession(r *http.Request) string {
	if c, err := r.Cookie(sessionCookieName); err == nil {
		return c.Value
	}
	return ""
}
