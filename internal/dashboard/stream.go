package dashboard

import (
	"bufio"
	"encoding/json"
	"io"
	"strings"
	"sync"
)

// streamBufferSize bounds how many parsed events can sit unread before the
// reader goroutine blocks on the consumer.
const streamBufferSize = 64

// maxEventSize caps a single SSE line. Job events are small; anything larger
// indicates a broken stream.
const maxEventSize = 1 << 20

// StreamEvent is one parsed server-sent event. Data is left raw so callers
// decode into the payload type matching Type.
type StreamEvent struct {
	Type string
	ID   string
	Data json.RawMessage
}

// Stream reads server-sent events off an open response body. Events arrive
// on Events() in wire order; the channel closes when the server ends the
// stream, the body errors, or Close is called.
type Stream struct {
	body   io.ReadCloser
	events chan StreamEvent

	mu     sync.Mutex
	err    error
	closed bool

	closeOnce sync.Once
}

func newStream(body io.ReadCloser) *Stream {
	s := &Stream{
		body:   body,
		events: make(chan StreamEvent, streamBufferSize),
	}
	go s.readLoop()
	return s
}

// Events returns the parsed event channel.
func (s *Stream) Events() <-chan StreamEvent {
	return s.events
}

// Err returns the terminal read error, if any, once Events() is closed.
// A server-side end of stream reports nil.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close terminates the stream. Safe to call multiple times and concurrently
// with reads.
func (s *Stream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		err = s.body.Close()
	})
	return err
}

// readLoop parses the SSE wire format: "event:", "id:" and "data:" lines
// accumulate into one event, dispatched on a blank line. Comment lines
// (heartbeats) are skipped.
func (s *Stream) readLoop() {
	defer close(s.events)
	defer s.Close()

	scanner := bufio.NewScanner(s.body)
	scanner.Buffer(make([]byte, 0, 4096), maxEventSize)

	var current StreamEvent
	var data []string

	dispatch := func() {
		if current.Type == "" && len(data) == 0 {
			return
		}
		if len(data) > 0 {
			current.Data = json.RawMessage(strings.Join(data, "\n"))
		}
		s.events <- current
		current = StreamEvent{}
		data = nil
	}

	for scanner.Scan() {
		line := scanner.Text()

		switch {
		case line == "":
			dispatch()
		case strings.HasPrefix(line, ":"):
			// Heartbeat comment.
		case strings.HasPrefix(line, "event:"):
			current.Type = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "id:"):
			current.ID = strings.TrimSpace(strings.TrimPrefix(line, "id:"))
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}

	// Flush a trailing event cut off without its blank line.
	dispatch()

	if scanErr := scanner.Err(); scanErr != nil {
		s.mu.Lock()
		// A read error caused by our own Close is not a stream failure.
		if !s.closed {
			s.err = scanErr
		}
		s.mu.Unlock()
	}
}
