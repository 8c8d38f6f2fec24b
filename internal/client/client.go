package client

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mattjoyce/streamhub/internal/event"
	"github.com/mattjoyce/streamhub/internal/status"
)

// ConnState describes the lifecycle of a subscription's connection.
type ConnState string

const (
	StateIdle         ConnState = "idle"
	StateConnecting   ConnState = "connecting"
	StateOpen         ConnState = "open"
	StateReconnecting ConnState = "reconnecting"
	StateClosed       ConnState = "closed"
)

// Config holds client connection settings.
type Config struct {
	BaseURL     string
	Token       string
	BackoffBase time.Duration
	BackoffCap  time.Duration
	Status      status.Config
}

// Callbacks receive subscription activity. All callbacks are invoked from
// the subscription's own goroutines; none are called after Unsubscribe
// returns. Nil callbacks are skipped.
type Callbacks struct {
	// OnEvent receives each session event in sequence order, exactly once.
	OnEvent func(event.Event)
	// OnStatus receives a fresh status line on every resolver tick.
	OnStatus func(status.Snapshot)
	// OnTruncated fires when a resume point has aged out of server history.
	// The full retained window follows through OnEvent; consumers should
	// treat their local view as stale and rebuild it from the replay.
	OnTruncated func(oldestSequence uint64)
	// OnState reports connection lifecycle transitions.
	OnState func(ConnState)
}

// Client subscribes to session event streams with automatic reconnection.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *slog.Logger
}

// New creates a client. A nil httpClient falls back to a default with no
// overall timeout, since event streams are long-lived.
func New(cfg Config, httpClient *http.Client, logger *slog.Logger) *Client {
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = time.Second
	}
	if cfg.BackoffCap < cfg.BackoffBase {
		cfg.BackoffCap = 30 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{cfg: cfg, http: httpClient, logger: logger}
}

// Subscription is one live attachment to a session stream.
type Subscription struct {
	sessionID string
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once

	mu       sync.Mutex
	lastSeen uint64
	state    ConnState
}

// State returns the current connection state.
func (s *Subscription) State() ConnState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LastSequence returns the highest sequence delivered so far.
func (s *Subscription) LastSequence() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

// Unsubscribe detaches from the stream. It blocks until the subscription's
// goroutines have stopped, so no callback fires after it returns. Safe to
// call more than once.
func (s *Subscription) Unsubscribe() {
	s.closeOnce.Do(func() {
		s.cancel()
		<-s.done
	})
}

// Subscribe attaches to a session's event stream and keeps the connection
// alive until Unsubscribe is called. Lost connections are retried with
// exponential backoff, resuming from the last delivered sequence so no
// event is handed to the consumer twice.
func (c *Client) Subscribe(sessionID string, cb Callbacks) *Subscription {
	ctx, cancel := context.WithCancel(context.Background())
	sub := &Subscription{
		sessionID: sessionID,
		cancel:    cancel,
		done:      make(chan struct{}),
		state:     StateIdle,
	}

	var resolver *status.Resolver
	if cb.OnStatus != nil {
		resolver = status.New(c.cfg.Status)
	}

	go c.run(ctx, sub, cb, resolver)
	return sub
}

func (c *Client) run(ctx context.Context, sub *Subscription, cb Callbacks, resolver *status.Resolver) {
	defer close(sub.done)
	defer sub.setState(StateClosed, cb)

	start := time.Now()
	var statusDone chan struct{}
	if resolver != nil {
		statusDone = make(chan struct{})
		go func() {
			defer close(statusDone)
			ticker := time.NewTicker(resolver.TickInterval())
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					cb.OnStatus(resolver.Resolve(time.Since(start)))
				}
			}
		}()
		defer func() { <-statusDone }()
	}

	for attempt := 0; ; attempt++ {
		if ctx.Err() != nil {
			return
		}

		if attempt == 0 {
			sub.setState(StateConnecting, cb)
		} else {
			sub.setState(StateReconnecting, cb)
			if !c.sleepBackoff(ctx, attempt) {
				return
			}
		}

		opened, err := c.streamOnce(ctx, sub, cb, resolver)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			c.logger.Warn("stream attempt failed",
				"session_id", sub.sessionID,
				"attempt", attempt,
				"error", err,
			)
		}
		if opened {
			// The connection was healthy before it dropped; start the
			// backoff schedule over.
			attempt = 0
		}
	}
}

// sleepBackoff waits base*2^(attempt-1) capped at BackoffCap, plus up to
// 10% jitter. Returns false if the context was cancelled while waiting.
func (c *Client) sleepBackoff(ctx context.Context, attempt int) bool {
	delay := c.cfg.BackoffBase
	for i := 1; i < attempt && delay < c.cfg.BackoffCap; i++ {
		delay *= 2
	}
	if delay > c.cfg.BackoffCap {
		delay = c.cfg.BackoffCap
	}
	delay += time.Duration(rand.Int63n(int64(delay)/10 + 1))

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// streamOnce runs a single connection until it drops or the context is
// cancelled. Events already delivered are skipped so reconnect replays
// never reach the consumer twice.
func (c *Client) streamOnce(ctx context.Context, sub *Subscription, cb Callbacks, resolver *status.Resolver) (opened bool, err error) {
	u := fmt.Sprintf("%s/v1/sessions/%s/events", c.cfg.BaseURL, url.PathEscape(sub.sessionID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return false, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	if last := sub.LastSequence(); last > 0 {
		req.Header.Set("Last-Event-ID", strconv.FormatUint(last, 10))
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return false, fmt.Errorf("connect stream: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return false, fmt.Errorf("stream request failed: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	// A 200 alone is not an acknowledged subscription; the server flushes
	// the replay (or a keepalive on an idle session) right behind the
	// headers, so the first body bytes mark the stream as open.
	body := &ackReader{r: resp.Body, ack: func() {
		sub.setState(StateOpen, cb)
		c.logger.Debug("stream open", "session_id", sub.sessionID, "from", sub.LastSequence())
	}}

	err = parseStream(body, func(name string, data []byte) error {
		return c.handleFrame(sub, cb, resolver, name, data)
	})
	return true, err
}

// ackReader invokes ack once, on the first successful read.
type ackReader struct {
	r     io.Reader
	ack   func()
	acked bool
}

func (a *ackReader) Read(p []byte) (int, error) {
	n, err := a.r.Read(p)
	if n > 0 && !a.acked {
		a.acked = true
		a.ack()
	}
	return n, err
}

func (c *Client) handleFrame(sub *Subscription, cb Callbacks, resolver *status.Resolver, name string, data []byte) error {
	if name == "truncated" {
		oldest, err := decodeTruncated(data)
		if err != nil {
			return err
		}
		// The replay that follows starts at oldest; rewind the dedupe
		// watermark so the window is delivered in full.
		sub.rewind(oldest - 1)
		c.logger.Warn("resume point evicted from history",
			"session_id", sub.sessionID,
			"oldest_sequence", oldest,
		)
		if cb.OnTruncated != nil {
			cb.OnTruncated(oldest)
		}
		return nil
	}

	ev, err := decodeEvent(data)
	if err != nil {
		c.logger.Warn("dropping unparseable frame", "session_id", sub.sessionID, "event", name, "error", err)
		return nil
	}
	if sub.delivered(ev.Sequence) {
		return nil // already handed over on a previous connection
	}
	if resolver != nil {
		resolver.Observe(ev)
	}
	if cb.OnEvent != nil {
		cb.OnEvent(ev)
	}
	// The watermark moves only after the consumer has the event, so a drop
	// mid-delivery re-sends it on reconnect (at-least-once).
	sub.advance(ev.Sequence)
	return nil
}

func (s *Subscription) setState(state ConnState, cb Callbacks) {
	s.mu.Lock()
	changed := s.state != state
	s.state = state
	s.mu.Unlock()
	if changed && cb.OnState != nil {
		cb.OnState(state)
	}
}

func (s *Subscription) delivered(seq uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return seq <= s.lastSeen
}

// advance moves the dedupe watermark forward to seq.
func (s *Subscription) advance(seq uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if seq > s.lastSeen {
		s.lastSeen = seq
	}
}

func (s *Subscription) rewind(seq uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if seq < s.lastSeen {
		s.lastSeen = seq
	}
}
