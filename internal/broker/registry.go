package broker

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// registry maps session ids to sessions and runs the TTL sweep. The
// registry lock guards only the map; per-session state is guarded by the
// session's own lock. Lock order is always registry then session.
type registry struct {
	mu       sync.Mutex
	sessions map[string]*session

	historyLimit  int
	ttl           time.Duration
	sweepInterval time.Duration
	logger        *slog.Logger
	done          chan struct{}
}

func newRegistry(historyLimit int, ttl, sweepInterval time.Duration, logger *slog.Logger) *registry {
	return &registry{
		sessions:      make(map[string]*session),
		historyLimit:  historyLimit,
		ttl:           ttl,
		sweepInterval: sweepInterval,
		logger:        logger,
		done:          make(chan struct{}),
	}
}

// getOrCreate returns the live session for id, creating it on first touch.
// Concurrent first-touch callers all receive the same session. The caller
// must re-check session.evicted after taking the session lock: a sweep may
// have removed the session between lookup and lock acquisition.
func (r *registry) getOrCreate(id string) *session {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		s = newSession(id, r.historyLimit, time.Now().UTC())
		r.sessions[id] = s
		r.logger.Debug("session created", "session_id", id)
	}
	return s
}

// get returns the session for id, or nil.
func (r *registry) get(id string) *session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[id]
}

func (r *registry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// start runs the sweep loop until the context is cancelled.
func (r *registry) start(ctx context.Context) {
	defer close(r.done)
	ticker := time.NewTicker(r.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweep(time.Now().UTC())
		}
	}
}

// Done returns a channel closed when the sweep loop has stopped.
func (r *registry) Done() <-chan struct{} {
	return r.done
}

// sweep evicts sessions with no subscribers that have been idle past the
// TTL. It snapshots candidate ids first, then re-validates each candidate
// under both locks before removal, so a session that just gained a
// subscriber or fresh activity survives. No per-session lock is held
// while iterating the full map.
func (r *registry) sweep(now time.Time) {
	r.mu.Lock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	evicted := 0
	for _, id := range ids {
		if r.tryEvict(id, now) {
			evicted++
		}
	}
	if evicted > 0 {
		r.logger.Info("session sweep complete", "evicted", evicted, "remaining", r.len())
	}
}

// tryEvict removes the session if it still meets the eviction predicate.
func (r *registry) tryEvict(id string, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.subs) > 0 || now.Sub(s.lastActivity) <= r.ttl {
		return false
	}
	s.evicted = true
	delete(r.sessions, id)
	r.logger.Debug("session evicted", "session_id", id, "idle", now.Sub(s.lastActivity))
	return true
}
