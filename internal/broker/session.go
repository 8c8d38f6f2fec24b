package broker

import (
	"errors"
	"sync"
	"time"

	"github.com/mattjoyce/streamhub/internal/event"
)

// ErrSlowConsumer is reported by Subscriber.Err after the broker dropped
// the subscriber for failing to drain its outbound buffer.
var ErrSlowConsumer = errors.New("subscriber dropped: slow consumer")

// session owns one session's history and subscriber set. All mutation
// happens under mu; unrelated sessions never share a lock.
type session struct {
	id string

	mu           sync.Mutex
	nextSeq      uint64
	hist         *queue
	subs         map[string]*Subscriber
	createdAt    time.Time
	lastActivity time.Time
	evicted      bool
}

func newSession(id string, historyLimit int, now time.Time) *session {
	return &session{
		id:           id,
		nextSeq:      1,
		hist:         newQueue(historyLimit),
		subs:         make(map[string]*Subscriber),
		createdAt:    now,
		lastActivity: now,
	}
}

// Subscriber is a live delivery handle for one session. The broker owns
// the channel: it is closed on Unsubscribe or when the subscriber is
// dropped as a slow consumer, after which Err distinguishes the two.
type Subscriber struct {
	id        string
	sessionID string
	ch        chan event.Event

	mu     sync.Mutex
	closed bool
	err    error
}

func newSubscriber(id, sessionID string, buffer int) *Subscriber {
	return &Subscriber{
		id:        id,
		sessionID: sessionID,
		ch:        make(chan event.Event, buffer),
	}
}

// ID returns the handle's unique id.
func (s *Subscriber) ID() string { return s.id }

// SessionID returns the session this handle is subscribed to.
func (s *Subscriber) SessionID() string { return s.sessionID }

// Events returns the outbound channel. It is closed when the subscription
// ends; drain it fully, then check Err.
func (s *Subscriber) Events() <-chan event.Event { return s.ch }

// Err reports why the channel was closed: nil after a clean Unsubscribe,
// ErrSlowConsumer after a drop. Only meaningful once Events is closed.
func (s *Subscriber) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// close closes the outbound channel exactly once, recording the reason.
func (s *Subscriber) close(reason error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.err = reason
	close(s.ch)
}
