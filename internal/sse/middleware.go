package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jonesrussell/harvester/internal/logger"
)

// SSE header constants.
const (
	headerContentType              = "Content-Type"
	headerCacheControl             = "Cache-Control"
	headerConnection               = "Connection"
	headerXAccelBuffering          = "X-Accel-Buffering"
	headerAccessControlAllowOrigin = "Access-Control-Allow-Origin"

	sseContentType = "text/event-stream"
)

// Handler creates a Gin handler for SSE endpoints backed by the broker.
// It sets SSE headers, subscribes, and streams events until disconnection.
func Handler(broker Broker, log logger.Interface, opts ...ClientOption) gin.HandlerFunc {
	return func(c *gin.Context) {
		SetSSEHeaders(c.Writer)
		c.Writer.Flush()

		eventChan, cleanup := broker.Subscribe(c.Request.Context(), opts...)
		defer cleanup()

		if !checkSubscriptionValid(eventChan, c, log) {
			return
		}

		if err := writeEvent(c.Writer, connectionEvent()); err != nil {
			log.Error("Failed to write connection event", "error", err)
			return
		}

		log.Debug("SSE client connected", "remote_addr", c.ClientIP())

		streamEvents(c, eventChan, log)
	}
}

// StreamChannel streams an already-established event channel to the client.
// Used by per-job endpoints where the subscription carries its own snapshot
// semantics instead of going through the broker.
func StreamChannel(c *gin.Context, eventChan <-chan Event, log logger.Interface) {
	SetSSEHeaders(c.Writer)
	c.Writer.Flush()

	streamEvents(c, eventChan, log)
}

// checkSubscriptionValid checks if the subscription was accepted.
func checkSubscriptionValid(eventChan <-chan Event, c *gin.Context, log logger.Interface) bool {
	select {
	case _, ok := <-eventChan:
		if !ok {
			log.Warn("SSE subscription rejected (max clients reached)")
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "too many connections"})
			return false
		}
	default:
	}
	return true
}

// connectionEvent is the initial event sent on connect.
func connectionEvent() Event {
	return Event{
		Type: eventTypeConnected,
		Data: map[string]any{
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"message":   "SSE connection established",
		},
	}
}

// streamEvents handles the main event streaming loop.
func streamEvents(c *gin.Context, eventChan <-chan Event, log logger.Interface) {
	ticker := time.NewTicker(DefaultHeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case event, ok := <-eventChan:
			if !ok {
				log.Debug("SSE event channel closed")
				return
			}
			if err := writeEvent(c.Writer, event); err != nil {
				log.Debug("SSE write failed (client likely disconnected)",
					"error", err, "event_type", event.Type)
				return
			}
		case <-ticker.C:
			if err := writeHeartbeat(c.Writer); err != nil {
				log.Debug("SSE heartbeat failed (client disconnected)")
				return
			}
		case <-c.Request.Context().Done():
			log.Debug("SSE client request context cancelled")
			return
		}
	}
}

// writeEventToWriter writes an SSE event to any io.Writer.
func writeEventToWriter(w interface{ Write([]byte) (int, error) }, event Event) error {
	if event.Type != "" {
		if _, writeErr := fmt.Fprintf(w, "event: %s\n", event.Type); writeErr != nil {
			return fmt.Errorf("write event type: %w", writeErr)
		}
	}

	if event.ID != "" {
		if _, writeErr := fmt.Fprintf(w, "id: %s\n", event.ID); writeErr != nil {
			return fmt.Errorf("write event id: %w", writeErr)
		}
	}

	dataJSON, marshalErr := json.Marshal(event.Data)
	if marshalErr != nil {
		return fmt.Errorf("marshal event data: %w", marshalErr)
	}

	if _, writeErr := fmt.Fprintf(w, "data: %s\n\n", dataJSON); writeErr != nil {
		return fmt.Errorf("write event data: %w", writeErr)
	}

	return nil
}

// writeEvent writes an SSE event to the response writer and flushes.
func writeEvent(w gin.ResponseWriter, event Event) error {
	if err := writeEventToWriter(w, event); err != nil {
		return err
	}
	w.Flush()
	return nil
}

// writeHeartbeat writes an SSE comment to keep the connection alive.
func writeHeartbeat(w gin.ResponseWriter) error {
	if _, writeErr := fmt.Fprintf(w, ": heartbeat %s\n\n", time.Now().UTC().Format(time.RFC3339)); writeErr != nil {
		return fmt.Errorf("write heartbeat: %w", writeErr)
	}
	w.Flush()
	return nil
}

// flusher interface for response writers that support flushing.
type flusher interface {
	Flush()
}

// WriteEventDirect writes an SSE event directly to an http.ResponseWriter.
func WriteEventDirect(w http.ResponseWriter, event Event) error {
	if err := writeEventToWriter(w, event); err != nil {
		return err
	}

	if f, ok := w.(flusher); ok {
		f.Flush()
	}

	return nil
}

// SetSSEHeaders sets the standard SSE headers on a response writer.
func SetSSEHeaders(w http.ResponseWriter) {
	w.Header().Set(headerContentType, sseContentType)
	w.Header().Set(headerCacheControl, "no-cache")
	w.Header().Set(headerConnection, "keep-alive")
	w.Header().Set(headerXAccelBuffering, "no")
	w.Header().Set(headerAccessControlAllowOrigin, "*")
}
