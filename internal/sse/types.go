// Package sse provides Server-Sent Events transport for dashboard updates.
package sse

import "context"

// Event types published by the harvester.
const (
	// Per-job stream events (also mirrored onto the shared stream).
	EventTypeChannel  = "channel"
	EventTypeProgress = "progress"
	EventTypeError    = "error"

	// Shared stream events.
	EventTypeJobProgress  = "job:progress"
	EventTypeJobCompleted = "job:completed"
	EventTypeLoopStatus   = "loop:status"

	eventTypeConnected = "connected"
)

// Event represents a Server-Sent Event.
// Wire format: event: <Type>\ndata: <JSON payload>\n\n
type Event struct {
	// Type is the event type (e.g., "progress", "loop:status").
	Type string `json:"type"`
	// Data is the JSON payload.
	Data any `json:"data"`
	// ID is an optional event ID for client-side tracking.
	ID string `json:"id,omitempty"`
}

// Publisher sends events to the broker.
type Publisher interface {
	// Publish sends an event to all connected clients. Returns an error if
	// the publish buffer is full.
	Publish(ctx context.Context, event Event) error
}

// Subscriber receives events from the broker.
type Subscriber interface {
	// Subscribe returns a channel that receives events. The channel is
	// closed when the subscription ends.
	Subscribe(ctx context.Context, opts ...ClientOption) (<-chan Event, func())
}

// Broker manages SSE connections and event distribution.
type Broker interface {
	Publisher
	Subscriber
	// Start begins processing events (non-blocking).
	Start(ctx context.Context) error
	// Stop gracefully shuts down the broker.
	Stop() error
	// ClientCount returns the number of connected clients.
	ClientCount() int
}

// EventFilter determines if an event should be sent to a client.
// Return true to send the event, false to skip.
type EventFilter func(Event) bool

// ClientOptions holds per-subscription settings.
type ClientOptions struct {
	BufferSize int
	Filter     EventFilter
}
