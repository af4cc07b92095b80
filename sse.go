package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// SSE event types
const (
	SSEEventConnected = "connected"
	SSEEventUpdate    = "update"
	SSEEventPing      = "ping"
)

const ssePingInterval = 30 * time.Second

// feedUpdate is the payload of an update event
type feedUpdate struct {
	Revision uint64 `json:"revision"`
	People   int    `json:"people"`
}

// streamFeedHandler handles SSE connections that follow changes to the people map.
// GET /feed/stream
func (s *server) streamFeedHandler(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	sseConnectionsActive.Add(1)
	defer sseConnectionsActive.Add(-1)

	people := s.app.loader.People()

	// Revisions are coalesced: a slow client only sees the latest one.
	updates := make(chan uint64, 1)
	unsubscribe := people.Subscribe(func(revision uint64) {
		select {
		case updates <- revision:
		default:
			select {
			case <-updates:
			default:
			}
			select {
			case updates <- revision:
			default:
			}
		}
	})
	defer unsubscribe()

	last := people.Revision()
	sendSSEEvent(w, flusher, SSEEventConnected, feedUpdate{Revision: last, People: people.Len()})

	ping := time.NewTicker(s.pingInterval)
	defer ping.Stop()

	logger := LoggerFromContext(r.Context())
	logger.Debug("SSE: client connected")

	for {
		select {
		case <-r.Context().Done():
			logger.Debug("SSE: client disconnected")
			return
		case revision := <-updates:
			if revision <= last {
				continue
			}
			last = revision
			sendSSEEvent(w, flusher, SSEEventUpdate, feedUpdate{Revision: revision, People: people.Len()})
		case <-ping.C:
			sendSSEEvent(w, flusher, SSEEventPing, nil)
		}
	}
}

// sendSSEEvent sends a formatted SSE event to the client
func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, eventType string, data interface{}) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		slog.Error("SSE: failed to marshal event", "error", err)
		return
	}

	// SSE format: "event: <type>\ndata: <json>\n\n"
	fmt.Fprintf(w, "event: %s\n", eventType)
	fmt.Fprintf(w, "data: %s\n\n", jsonData)
	flusher.Flush()
}
