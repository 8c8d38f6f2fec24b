// Package broker implements the session-scoped event broadcaster: bounded
// per-session history with replay, synchronous fan-out to subscribers, and
// TTL-based session eviction.
package broker

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/mattjoyce/streamhub/internal/event"
)

// Config holds broker tunables. All limits come from the service config;
// nothing here is read from the environment directly.
type Config struct {
	HistoryLimit     int
	SessionTTL       time.Duration
	SweepInterval    time.Duration
	SubscriberBuffer int
}

// Sink receives a copy of every successfully appended event. Record must
// not block; the broker calls it on the publish path while holding the
// session lock.
type Sink interface {
	Record(e event.Event)
}

// Broker is the public append/subscribe/unsubscribe surface. Mutation is
// serialized per session; unrelated sessions proceed in parallel.
type Broker struct {
	cfg    Config
	reg    *registry
	logger *slog.Logger
	sink   Sink
}

// Option configures optional broker collaborators.
type Option func(*Broker)

// WithSink attaches an audit sink for appended events.
func WithSink(sink Sink) Option {
	return func(b *Broker) { b.sink = sink }
}

// New creates a Broker.
func New(cfg Config, logger *slog.Logger, opts ...Option) *Broker {
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 500
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 30 * time.Minute
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Minute
	}
	if cfg.SubscriberBuffer <= 0 {
		cfg.SubscriberBuffer = 64
	}

	b := &Broker{
		cfg:    cfg,
		reg:    newRegistry(cfg.HistoryLimit, cfg.SessionTTL, cfg.SweepInterval, logger),
		logger: logger,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Start runs the TTL sweep loop. Blocks until the context is cancelled.
func (b *Broker) Start(ctx context.Context) {
	b.logger.Info("broker sweep started",
		"history_limit", b.cfg.HistoryLimit,
		"session_ttl", b.cfg.SessionTTL,
		"sweep_interval", b.cfg.SweepInterval,
	)
	b.reg.start(ctx)
}

// Done returns a channel closed once the sweep loop has stopped.
func (b *Broker) Done() <-chan struct{} {
	return b.reg.Done()
}

// Append validates the payload, assigns the session's next sequence,
// stores the event in history, and delivers it to every live subscriber
// with a non-blocking bounded send. A subscriber whose buffer is full is
// dropped with a slow-consumer signal rather than stalling delivery.
// A validation failure is returned to the caller and nothing is stored
// or delivered.
func (b *Broker) Append(sessionID string, typ event.Type, payload json.RawMessage) (uint64, error) {
	if err := event.Validate(typ, payload); err != nil {
		return 0, err
	}

	s := b.lockSession(sessionID)
	defer s.mu.Unlock()

	e := event.Event{
		SessionID: sessionID,
		Sequence:  s.nextSeq,
		Type:      typ,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}
	s.nextSeq++
	s.hist.append(e)
	s.lastActivity = e.Timestamp

	for id, sub := range s.subs {
		select {
		case sub.ch <- e:
		default:
			delete(s.subs, id)
			sub.close(ErrSlowConsumer)
			b.logger.Warn("dropping slow consumer",
				"session_id", sessionID, "subscriber_id", id, "sequence", e.Sequence)
		}
	}

	if b.sink != nil {
		b.sink.Record(e)
	}
	return e.Sequence, nil
}

// Subscribe registers a handle on the session and returns the retained
// history with sequence > from. Replay and registration happen in one
// critical section, so an append racing with Subscribe is delivered on
// the live channel strictly after the replay slice — never interleaved.
// truncated reports that `from` predates the retained window; the replay
// slice then holds the full retained window and the caller must treat the
// resume as a full refresh, not an incremental one.
func (b *Broker) Subscribe(sessionID string, from uint64) (sub *Subscriber, replay []event.Event, truncated bool, err error) {
	s := b.lockSession(sessionID)
	defer s.mu.Unlock()

	replay, truncated = s.hist.since(from)
	sub = newSubscriber(uuid.New().String(), sessionID, b.cfg.SubscriberBuffer)
	s.subs[sub.id] = sub
	s.lastActivity = time.Now().UTC()

	b.logger.Debug("subscriber attached",
		"session_id", sessionID, "subscriber_id", sub.id,
		"from", from, "replayed", len(replay), "truncated", truncated)
	return sub, replay, truncated, nil
}

// Unsubscribe detaches the handle and closes its channel. Idempotent:
// calling it again, or on an already-dropped subscriber, is a no-op.
func (b *Broker) Unsubscribe(sub *Subscriber) {
	if sub == nil {
		return
	}
	if s := b.reg.get(sub.sessionID); s != nil {
		s.mu.Lock()
		delete(s.subs, sub.id)
		s.mu.Unlock()
	}
	sub.close(nil)
}

// lockSession returns a live (non-evicted) session for id with its lock
// held; the caller unlocks. The retry loop covers the narrow race where
// the sweep evicts a session between lookup and lock acquisition.
func (b *Broker) lockSession(id string) *session {
	for {
		s := b.reg.getOrCreate(id)
		s.mu.Lock()
		if !s.evicted {
			return s
		}
		s.mu.Unlock()
	}
}

// SessionInfo is a point-in-time snapshot of one session, for the
// introspection API.
type SessionInfo struct {
	ID             string    `json:"id"`
	CreatedAt      time.Time `json:"created_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
	Subscribers    int       `json:"subscribers"`
	HistoryDepth   int       `json:"history_depth"`
	NextSequence   uint64    `json:"next_sequence"`
}

// Sessions returns a snapshot of all live sessions.
func (b *Broker) Sessions() []SessionInfo {
	b.reg.mu.Lock()
	sessions := make([]*session, 0, len(b.reg.sessions))
	for _, s := range b.reg.sessions {
		sessions = append(sessions, s)
	}
	b.reg.mu.Unlock()

	infos := make([]SessionInfo, 0, len(sessions))
	for _, s := range sessions {
		s.mu.Lock()
		infos = append(infos, SessionInfo{
			ID:             s.id,
			CreatedAt:      s.createdAt,
			LastActivityAt: s.lastActivity,
			Subscribers:    len(s.subs),
			HistoryDepth:   s.hist.depth(),
			NextSequence:   s.nextSeq,
		})
		s.mu.Unlock()
	}
	return infos
}
