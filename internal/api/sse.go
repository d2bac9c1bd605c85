package api

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/valyala/fasthttp"
)

// Server-sent event names
const (
	sseConnected = "connected"
	sseLog       = "log"
	sseStatus    = "status"
	sseError     = "error"
	sseHeartbeat = "heartbeat"
	sseEnd       = "end"
)

// sseStream writes named events to a streamed response body. Safe for concurrent use.
type sseStream struct {
	mu     sync.Mutex
	w      *bufio.Writer
	closed bool
}

func newSSEStream(w *bufio.Writer) *sseStream {
	return &sseStream{w: w}
}

// Send writes one event and flushes it. After the first write error every call returns io.EOF.
func (s *sseStream) Send(event string, data interface{}) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", event, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return io.EOF
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, payload); err != nil {
		s.closed = true
		return err
	}
	if err := s.w.Flush(); err != nil {
		s.closed = true
		return err
	}
	return nil
}

// Heartbeat emits a heartbeat event carrying the current time
func (s *sseStream) Heartbeat() error {
	return s.Send(sseHeartbeat, fiber.Map{"timestamp": time.Now().UTC().Format(time.RFC3339)})
}

// streamSSE sets the event-stream headers and hands the response body to fn.
// fn runs after the handler returns, so it must not touch c.
func streamSSE(c *fiber.Ctx, fn func(stream *sseStream)) {
	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")
	c.Set("X-Accel-Buffering", "no")
	c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		fn(newSSEStream(w))
	}))
}
