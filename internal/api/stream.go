package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mattjoyce/streamhub/internal/broker"
	"github.com/mattjoyce/streamhub/internal/event"
)

// handleSubscribe streams session events over SSE. A resuming client passes
// the last sequence it saw via ?from= or the Last-Event-ID header; events
// after that point are replayed from history before the live stream begins.
// When the requested offset has already been evicted from history, a
// "truncated" frame announces the oldest retained sequence and the full
// retained window follows.
func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session_id")
	if sessionID == "" {
		s.writeError(w, http.StatusBadRequest, "session_id is required")
		return
	}

	from, err := resumeOffset(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	setSSEHeaders(w)
	sw, err := newSSEWriter(w)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusOK)

	sub, replay, truncated, err := s.broker.Subscribe(sessionID, from)
	if err != nil {
		s.logger.Error("subscribe failed", "session_id", sessionID, "error", err)
		return
	}
	defer s.broker.Unsubscribe(sub)

	s.logger.Info("stream opened",
		"session_id", sessionID,
		"subscriber_id", sub.ID(),
		"from", from,
		"replay", len(replay),
		"truncated", truncated,
	)

	if truncated {
		// When nothing is retained the session restarted from scratch, so
		// the window effectively begins at sequence 1.
		oldest := uint64(1)
		if len(replay) > 0 {
			oldest = replay[0].Sequence
		}
		notice, _ := json.Marshal(map[string]uint64{"oldest_sequence": oldest})
		if err := sw.writeEvent("truncated", oldest, notice); err != nil {
			return
		}
	}

	for _, ev := range replay {
		if err := writeEventFrame(sw, ev); err != nil {
			return
		}
	}

	keepalive := time.NewTicker(s.config.KeepaliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			s.logger.Info("stream closed by client", "session_id", sessionID, "subscriber_id", sub.ID())
			return
		case <-keepalive.C:
			if err := sw.writeComment("ping"); err != nil {
				return
			}
		case ev, ok := <-sub.Events():
			if !ok {
				if err := sub.Err(); err == broker.ErrSlowConsumer {
					payload := event.MarshalPayload(event.ErrorPayload{Message: err.Error()})
					sw.writeEvent("error", 0, payload)
					s.logger.Warn("stream dropped", "session_id", sessionID, "subscriber_id", sub.ID(), "reason", err)
				}
				return
			}
			if err := writeEventFrame(sw, ev); err != nil {
				return
			}
		}
	}
}

func writeEventFrame(sw *sseWriter, ev event.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return sw.writeEvent(string(ev.Type), ev.Sequence, data)
}

// resumeOffset extracts the resume point from the request. The query
// parameter wins over the header when both are present.
func resumeOffset(r *http.Request) (uint64, error) {
	raw := r.URL.Query().Get("from")
	if raw == "" {
		raw = r.Header.Get("Last-Event-ID")
	}
	if raw == "" {
		return 0, nil
	}
	from, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid resume offset %q: must be a non-negative integer", raw)
	}
	return from, nil
}
