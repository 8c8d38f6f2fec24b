package api

import (
	"fmt"
	"net/http"
	"sync"
)

// sseWriter writes Server-Sent Events frames. Each frame carries the event
// type name, the broker sequence as the SSE id (so reconnecting clients can
// send Last-Event-ID), and a JSON body. Safe for concurrent use; the stream
// handler writes events and keepalives from one goroutine today, but the
// mutex keeps that an implementation detail.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	mu      sync.Mutex
}

func newSSEWriter(w http.ResponseWriter) (*sseWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support streaming")
	}
	return &sseWriter{w: w, flusher: flusher}, nil
}

// setSSEHeaders configures the response for SSE streaming. Must be called
// before the first write. X-Accel-Buffering disables proxy buffering so
// events reach the client immediately.
func setSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

// writeEvent writes one SSE frame and flushes it.
func (s *sseWriter) writeEvent(name string, id uint64, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := fmt.Fprintf(s.w, "event: %s\nid: %d\ndata: %s\n\n", name, id, data); err != nil {
		return fmt.Errorf("write sse event: %w", err)
	}
	s.flusher.Flush()
	return nil
}

// writeComment writes an SSE comment line. Clients ignore comments, but
// they reset intermediary idle timeouts, which is all a keepalive needs.
func (s *sseWriter) writeComment(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := fmt.Fprintf(s.w, ": %s\n\n", text); err != nil {
		return fmt.Errorf("write sse comment: %w", err)
	}
	s.flusher.Flush()
	return nil
}
