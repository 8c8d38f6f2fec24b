package broker

import (
	"testing"

	"github.com/mattjoyce/streamhub/internal/event"
)

func makeEvents(from, to uint64) []event.Event {
	var events []event.Event
	for seq := from; seq <= to; seq++ {
		events = append(events, event.Event{Sequence: seq, Type: event.TypeToken})
	}
	return events
}

func TestQueueSinceReturnsEventsAfterOffset(t *testing.T) {
	q := newQueue(10)
	for _, e := range makeEvents(1, 5) {
		q.append(e)
	}

	events, truncated := q.since(2)
	if truncated {
		t.Fatalf("expected no truncation")
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	for i, e := range events {
		if want := uint64(3 + i); e.Sequence != want {
			t.Fatalf("events[%d].Sequence = %d, want %d", i, e.Sequence, want)
		}
	}
}

func TestQueueSinceFromZeroOnFreshQueue(t *testing.T) {
	q := newQueue(10)
	if events, truncated := q.since(0); truncated || events != nil {
		t.Fatalf("fresh queue: events=%v truncated=%v, want empty and false", events, truncated)
	}

	for _, e := range makeEvents(1, 3) {
		q.append(e)
	}
	events, truncated := q.since(0)
	if truncated {
		t.Fatalf("expected no truncation from offset 0 with full history")
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
}

func TestQueueEvictsOldestAtCapacity(t *testing.T) {
	q := newQueue(3)
	for _, e := range makeEvents(1, 5) {
		q.append(e)
	}

	if q.depth() != 3 {
		t.Fatalf("depth = %d, want 3", q.depth())
	}
	if q.oldestSequence() != 3 {
		t.Fatalf("oldest = %d, want 3", q.oldestSequence())
	}
}

func TestQueueSinceReportsTruncation(t *testing.T) {
	q := newQueue(3)
	for _, e := range makeEvents(1, 5) {
		q.append(e)
	}
	// Retained window is [3, 5]. Offset 1 means sequence 2 was evicted.
	events, truncated := q.since(1)
	if !truncated {
		t.Fatalf("expected truncation for offset below retained window")
	}
	if len(events) != 3 || events[0].Sequence != 3 {
		t.Fatalf("expected full retained window [3,5], got %d events starting at %d",
			len(events), events[0].Sequence)
	}

	// Offset 2 is exactly the eviction boundary: sequence 3 onward is retained.
	if _, truncated := q.since(2); truncated {
		t.Fatalf("offset at retained boundary should not be truncated")
	}
}

func TestQueueSinceAheadOfWindowReportsTruncation(t *testing.T) {
	q := newQueue(10)
	for _, e := range makeEvents(1, 4) {
		q.append(e)
	}

	// Offset 9 claims events this history never produced, so the resume
	// cannot be gap-free: full refresh, same as resuming below the window.
	events, truncated := q.since(9)
	if !truncated {
		t.Fatalf("expected truncation for offset ahead of retained window")
	}
	if len(events) != 4 || events[0].Sequence != 1 {
		t.Fatalf("expected full retained window [1,4], got %d events", len(events))
	}

	// Offset exactly at the newest retained sequence is a clean resume.
	if events, truncated := q.since(4); truncated || len(events) != 0 {
		t.Fatalf("offset at head: events=%d truncated=%v, want 0 and false", len(events), truncated)
	}
}

func TestQueueSinceNonzeroOffsetOnEmptyHistory(t *testing.T) {
	q := newQueue(10)
	if _, truncated := q.since(7); !truncated {
		t.Fatalf("expected truncation for nonzero offset against empty history")
	}
}
