package relay

import "sync/atomic"

// Relay metrics, read by the /metrics handler
var (
	EventsReceived    atomic.Int64
	EventsInvalid     atomic.Int64
	EventsDropped     atomic.Int64
	LoadsTotal        atomic.Int64
	LoadsTimedOut     atomic.Int64
	LiveSubscriptions atomic.Int64
)
