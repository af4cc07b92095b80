package main

import (
	"fmt"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"nostr-feed/internal/relay"
)

// HTTP metrics
var (
	httpRequestsTotal atomic.Int64
	httpErrorsTotal   atomic.Int64
)

// SSE connection metrics
var (
	sseConnectionsActive atomic.Int64
)

var serverStartTime = time.Now()

// metricsHandler serves Prometheus-compatible metrics
func (s *server) metricsHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

	fmt.Fprintf(w, "# HELP nostr_feed_build_info Build and configuration information\n")
	fmt.Fprintf(w, "# TYPE nostr_feed_build_info gauge\n")
	fmt.Fprintf(w, "nostr_feed_build_info{storage_backend=%q,go_version=%q} 1\n\n", s.app.settings.Storage.Backend, runtime.Version())

	gauge(w, "process_uptime_seconds", "Time since process started", int64(time.Since(serverStartTime).Seconds()))
	gauge(w, "go_goroutines", "Number of active goroutines", int64(runtime.NumGoroutine()))

	counter(w, "http_requests_total", "Total number of HTTP requests", httpRequestsTotal.Load())
	counter(w, "http_errors_total", "Total number of HTTP 5xx errors", httpErrorsTotal.Load())
	gauge(w, "sse_connections_active", "Number of active SSE connections", sseConnectionsActive.Load())

	if s.app.pool != nil {
		gauge(w, "nostr_relay_connections_active", "Number of open relay connections", int64(s.app.pool.Connections()))
	}
	counter(w, "nostr_events_received_total", "Verified events received from relays", relay.EventsReceived.Load())
	counter(w, "nostr_events_invalid_total", "Events rejected for a bad ID or signature", relay.EventsInvalid.Load())
	counter(w, "nostr_events_dropped_total", "Events dropped due to full channels", relay.EventsDropped.Load())
	counter(w, "nostr_loads_total", "Relay loads started", relay.LoadsTotal.Load())
	counter(w, "nostr_loads_timed_out_total", "Relay loads that ended on timeout", relay.LoadsTimedOut.Load())
	gauge(w, "nostr_live_subscriptions", "Open live subscriptions", relay.LiveSubscriptions.Load())

	people := s.app.loader.People()
	gauge(w, "nostr_feed_people", "People in the feed", int64(people.Len()))
	gauge(w, "nostr_feed_follows", "Follows of the logged in user", int64(len(s.app.state.Follows.Get())))
	counter(w, "nostr_feed_revision", "Merged batches since start", int64(people.Revision()))
}

func gauge(w http.ResponseWriter, name, help string, value int64) {
	fmt.Fprintf(w, "# HELP %s %s\n", name, help)
	fmt.Fprintf(w, "# TYPE %s gauge\n", name)
	fmt.Fprintf(w, "%s %d\n\n", name, value)
}

func counter(w http.ResponseWriter, name, help string, value int64) {
	fmt.Fprintf(w, "# HELP %s %s\n", name, help)
	fmt.Fprintf(w, "# TYPE %s counter\n", name)
	fmt.Fprintf(w, "%s %d\n\n", name, value)
}
