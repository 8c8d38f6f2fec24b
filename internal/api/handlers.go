package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mattjoyce/streamhub/internal/event"
)

type publishRequest struct {
	Type    event.Type      `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type publishResponse struct {
	Sequence uint64 `json:"sequence"`
}

type askRequest struct {
	Prompt string `json:"prompt"`
}

// handlePublish appends one event to a session and returns its sequence.
func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session_id")
	if sessionID == "" {
		s.writeError(w, http.StatusBadRequest, "session_id is required")
		return
	}

	var req publishRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}

	seq, err := s.broker.Append(sessionID, req.Type, req.Payload)
	if err != nil {
		if errors.Is(err, event.ErrValidation) {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error("append failed", "session_id", sessionID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to append event")
		return
	}

	s.respondJSON(w, http.StatusAccepted, publishResponse{Sequence: seq})
}

// handleListSessions returns a snapshot of live sessions.
func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]any{
		"sessions": s.broker.Sessions(),
	})
}

// handleAsk enqueues a narrator job that streams its answer into the session.
func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	if s.asks == nil {
		s.writeError(w, http.StatusServiceUnavailable, "no LLM provider configured")
		return
	}

	sessionID := chi.URLParam(r, "session_id")
	if sessionID == "" {
		s.writeError(w, http.StatusBadRequest, "session_id is required")
		return
	}

	var req askRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if req.Prompt == "" {
		s.writeError(w, http.StatusBadRequest, "prompt is required")
		return
	}

	if err := s.asks.Enqueue(sessionID, req.Prompt); err != nil {
		s.writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}

	s.respondJSON(w, http.StatusAccepted, map[string]string{
		"status":     "queued",
		"session_id": sessionID,
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"uptime_seconds": int(time.Since(s.startedAt).Seconds()),
	})
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
