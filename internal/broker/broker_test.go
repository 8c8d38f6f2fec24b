package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/mattjoyce/streamhub/internal/event"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testBroker(cfg Config) *Broker {
	return New(cfg, testLogger())
}

func mustAppend(t *testing.T, b *Broker, sessionID string, typ event.Type, payload string) uint64 {
	t.Helper()
	seq, err := b.Append(sessionID, typ, json.RawMessage(payload))
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	return seq
}

func TestAppendAssignsMonotonicSequences(t *testing.T) {
	b := testBroker(Config{})
	for want := uint64(1); want <= 5; want++ {
		seq := mustAppend(t, b, "sess-1", event.TypeToken, `{"content":"x"}`)
		if seq != want {
			t.Fatalf("sequence = %d, want %d", seq, want)
		}
	}

	// Sequences are per session, not global.
	if seq := mustAppend(t, b, "sess-2", event.TypeToken, `{"content":"y"}`); seq != 1 {
		t.Fatalf("second session sequence = %d, want 1", seq)
	}
}

func TestAppendRejectsInvalidPayload(t *testing.T) {
	b := testBroker(Config{})

	if _, err := b.Append("sess-1", event.TypeToken, json.RawMessage(`{not json`)); !errors.Is(err, event.ErrValidation) {
		t.Fatalf("expected ErrValidation for bad JSON, got %v", err)
	}
	if _, err := b.Append("sess-1", "bogus", nil); !errors.Is(err, event.ErrValidation) {
		t.Fatalf("expected ErrValidation for unknown type, got %v", err)
	}

	// Nothing was stored or broadcast.
	sub, replay, _, err := b.Subscribe("sess-1", 0)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer b.Unsubscribe(sub)
	if len(replay) != 0 {
		t.Fatalf("expected empty history after rejected appends, got %d events", len(replay))
	}
}

func TestReplayThenLiveDelivery(t *testing.T) {
	// End-to-end: three appended events replay in order, a fourth arrives live.
	b := testBroker(Config{})
	for i := 1; i <= 3; i++ {
		mustAppend(t, b, "sess-1", event.TypeToken, fmt.Sprintf(`{"content":"%d"}`, i))
	}

	sub, replay, truncated, err := b.Subscribe("sess-1", 0)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer b.Unsubscribe(sub)

	if truncated {
		t.Fatalf("unexpected truncation")
	}
	if len(replay) != 3 {
		t.Fatalf("replay = %d events, want 3", len(replay))
	}
	for i, e := range replay {
		if e.Sequence != uint64(i+1) {
			t.Fatalf("replay[%d].Sequence = %d, want %d", i, e.Sequence, i+1)
		}
	}

	mustAppend(t, b, "sess-1", event.TypeDone, "")
	select {
	case e := <-sub.Events():
		if e.Sequence != 4 || e.Type != event.TypeDone {
			t.Fatalf("live event = seq %d type %s, want seq 4 done", e.Sequence, e.Type)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for live event")
	}
}

func TestSubscribeFromOffsetReplaysTail(t *testing.T) {
	b := testBroker(Config{})
	for i := 1; i <= 6; i++ {
		mustAppend(t, b, "sess-1", event.TypeToken, `{}`)
	}

	sub, replay, truncated, err := b.Subscribe("sess-1", 4)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer b.Unsubscribe(sub)

	if truncated {
		t.Fatalf("unexpected truncation")
	}
	if len(replay) != 2 || replay[0].Sequence != 5 || replay[1].Sequence != 6 {
		t.Fatalf("expected replay of [5,6], got %+v", replay)
	}
}

func TestSubscribePastEvictedHistoryReportsTruncation(t *testing.T) {
	// Reconnect at sequence 2 after everything below 4 was evicted: the
	// subscriber must get an explicit truncation signal plus the full
	// retained window, never a silent gap.
	b := testBroker(Config{HistoryLimit: 3})
	for i := 1; i <= 6; i++ {
		mustAppend(t, b, "sess-1", event.TypeToken, `{}`)
	}

	sub, replay, truncated, err := b.Subscribe("sess-1", 2)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer b.Unsubscribe(sub)

	if !truncated {
		t.Fatalf("expected truncation signal")
	}
	if len(replay) != 3 || replay[0].Sequence != 4 {
		t.Fatalf("expected full retained window [4,6], got %+v", replay)
	}
}

func TestSubscribeAheadOfHistoryReportsTruncation(t *testing.T) {
	// Reconnect at sequence 10 against a session whose history only holds
	// 1..5 (the session was evicted and recreated, so sequences restarted).
	// Resuming silently would let the stale watermark swallow every event
	// up to 10; the subscriber must get the truncation signal and the full
	// retained window instead.
	b := testBroker(Config{})
	for i := 1; i <= 5; i++ {
		mustAppend(t, b, "sess-1", event.TypeToken, `{}`)
	}

	sub, replay, truncated, err := b.Subscribe("sess-1", 10)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer b.Unsubscribe(sub)

	if !truncated {
		t.Fatalf("expected truncation signal for offset ahead of history")
	}
	if len(replay) != 5 || replay[0].Sequence != 1 {
		t.Fatalf("expected full retained window [1,5], got %+v", replay)
	}

	// Live delivery continues past the window.
	mustAppend(t, b, "sess-1", event.TypeToken, `{}`)
	select {
	case e := <-sub.Events():
		if e.Sequence != 6 {
			t.Fatalf("live event sequence = %d, want 6", e.Sequence)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for live event")
	}

	// Same signal when the recreated session has no history at all yet.
	_, replay, truncated, err = b.Subscribe("sess-2", 10)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if !truncated || len(replay) != 0 {
		t.Fatalf("empty history: replay=%d truncated=%v, want 0 and true", len(replay), truncated)
	}
}

func TestSlowConsumerIsDroppedWithoutAffectingPeers(t *testing.T) {
	b := testBroker(Config{SubscriberBuffer: 2})

	slow, _, _, err := b.Subscribe("sess-1", 0)
	if err != nil {
		t.Fatalf("subscribe slow: %v", err)
	}
	fast, _, _, err := b.Subscribe("sess-1", 0)
	if err != nil {
		t.Fatalf("subscribe fast: %v", err)
	}
	defer b.Unsubscribe(fast)

	// Never drain `slow`; keep `fast` drained concurrently.
	var fastGot []uint64
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for e := range fast.Events() {
			fastGot = append(fastGot, e.Sequence)
			if len(fastGot) == 5 {
				return
			}
		}
	}()

	for i := 1; i <= 5; i++ {
		mustAppend(t, b, "sess-1", event.TypeToken, `{}`)
	}
	wg.Wait()

	for i, seq := range fastGot {
		if seq != uint64(i+1) {
			t.Fatalf("fast subscriber got %v, want contiguous 1..5", fastGot)
		}
	}

	// The slow subscriber's channel is closed with the slow-consumer reason
	// once its buffer (2) overflowed.
	deadline := time.After(time.Second)
	for {
		select {
		case _, ok := <-slow.Events():
			if ok {
				continue
			}
			if !errors.Is(slow.Err(), ErrSlowConsumer) {
				t.Fatalf("slow.Err() = %v, want ErrSlowConsumer", slow.Err())
			}
			return
		case <-deadline:
			t.Fatalf("slow subscriber channel was never closed")
		}
	}
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	b := testBroker(Config{})
	sub, _, _, err := b.Subscribe("sess-1", 0)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	b.Unsubscribe(sub)
	b.Unsubscribe(sub) // second call is a no-op, must not panic

	if sub.Err() != nil {
		t.Fatalf("clean unsubscribe should leave Err nil, got %v", sub.Err())
	}
	if _, ok := <-sub.Events(); ok {
		t.Fatalf("expected closed channel after unsubscribe")
	}

	// The session no longer counts the subscriber.
	for _, info := range b.Sessions() {
		if info.ID == "sess-1" && info.Subscribers != 0 {
			t.Fatalf("subscribers = %d, want 0", info.Subscribers)
		}
	}
}

func TestConcurrentAppendsStaySequentialPerSession(t *testing.T) {
	b := testBroker(Config{HistoryLimit: 1000})

	const producers = 8
	const perProducer = 50
	errCh := make(chan error, producers)
	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				if _, err := b.Append("sess-1", event.TypeToken, json.RawMessage(`{}`)); err != nil {
					errCh <- err
					return
				}
			}
		}()
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		t.Fatalf("concurrent append failed: %v", err)
	}

	_, replay, _, err := b.Subscribe("sess-1", 0)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if len(replay) != producers*perProducer {
		t.Fatalf("history = %d events, want %d", len(replay), producers*perProducer)
	}
	for i, e := range replay {
		if e.Sequence != uint64(i+1) {
			t.Fatalf("gap or duplicate at index %d: sequence %d", i, e.Sequence)
		}
	}
}

func TestSubscriberNeverSeesOutOfOrderDelivery(t *testing.T) {
	b := testBroker(Config{SubscriberBuffer: 256})
	sub, _, _, err := b.Subscribe("sess-1", 0)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer b.Unsubscribe(sub)

	done := make(chan struct{})
	go func() {
		defer close(done)
		var last uint64
		for i := 0; i < 100; i++ {
			e := <-sub.Events()
			if e.Sequence <= last {
				t.Errorf("out of order: %d after %d", e.Sequence, last)
				return
			}
			last = e.Sequence
		}
	}()

	for i := 0; i < 100; i++ {
		mustAppend(t, b, "sess-1", event.TypeToken, `{}`)
	}
	<-done
}

type recordingSink struct {
	mu     sync.Mutex
	events []event.Event
}

func (s *recordingSink) Record(e event.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
}

func TestSinkReceivesAppendedEvents(t *testing.T) {
	sink := &recordingSink{}
	b := New(Config{}, testLogger(), WithSink(sink))

	mustAppend(t, b, "sess-1", event.TypeToken, `{"content":"a"}`)
	if _, err := b.Append("sess-1", "bogus", nil); err == nil {
		t.Fatalf("expected validation error")
	}
	mustAppend(t, b, "sess-1", event.TypeDone, "")

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.events) != 2 {
		t.Fatalf("sink recorded %d events, want 2 (rejected append must not reach the sink)", len(sink.events))
	}
}

func TestStartStopsOnContextCancel(t *testing.T) {
	b := testBroker(Config{SweepInterval: 10 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	go b.Start(ctx)
	cancel()

	select {
	case <-b.Done():
	case <-time.After(time.Second):
		t.Fatalf("broker did not stop after context cancel")
	}
}
