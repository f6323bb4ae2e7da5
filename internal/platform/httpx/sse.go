package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ErrStreamingUnsupported is returned when the writer cannot flush partial responses.
var ErrStreamingUnsupported = errors.New("response writer does not support streaming")

// EventStream writes Server-Sent Events. It is not safe for concurrent use.
type EventStream struct {
	w       io.Writer
	flusher http.Flusher
	nextID  int
}

// NewEventStream sends the SSE headers and clears the write deadline so the stream can outlive
// the server's WriteTimeout.
func NewEventStream(w http.ResponseWriter) (*EventStream, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, ErrStreamingUnsupported
	}
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	return &EventStream{w: w, flusher: flusher}, nil
}

// Send writes one event with a JSON data payload and flushes it.
func (s *EventStream) Send(event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	s.nextID++
	var b strings.Builder
	fmt.Fprintf(&b, "id: %d\n", s.nextID)
	if event = strings.TrimSpace(event); event != "" {
		fmt.Fprintf(&b, "event: %s\n", strings.ReplaceAll(event, "\n", ""))
	}
	fmt.Fprintf(&b, "data: %s\n\n", data)
	if _, err := io.WriteString(s.w, b.String()); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// Heartbeat writes an SSE comment so idle proxies keep the connection open.
func (s *EventStream) Heartbeat() error {
	if _, err := io.WriteString(s.w, ": keep-alive\n\n"); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}
