package broker

import "github.com/mattjoyce/streamhub/internal/event"

// queue is the bounded per-session history buffer. Events are contiguous
// and sequence-ordered; when the buffer is at capacity the oldest event is
// evicted silently. Not safe for concurrent use; callers hold the session
// lock.
type queue struct {
	events []event.Event
	limit  int
}

func newQueue(limit int) *queue {
	return &queue{limit: limit}
}

// append stores an event, evicting the oldest if the buffer is full.
func (q *queue) append(e event.Event) {
	if len(q.events) >= q.limit {
		// Shift instead of re-slicing so the backing array does not pin
		// evicted events alive indefinitely.
		copy(q.events, q.events[1:])
		q.events[len(q.events)-1] = e
		return
	}
	q.events = append(q.events, e)
}

// since returns copies of all retained events with sequence > from, in
// order. truncated reports that `from` falls outside the retained window
// on either side: below it, events the caller has not seen were already
// evicted; above it, the caller's position belongs to history this buffer
// never held (a session evicted and recreated restarts at sequence 1).
// Either way the full retained window is returned so the caller can take
// an explicit full-refresh path instead of resuming over a silent gap.
func (q *queue) since(from uint64) (events []event.Event, truncated bool) {
	if len(q.events) == 0 {
		return nil, from > 0
	}
	oldest := q.events[0].Sequence
	newest := q.events[len(q.events)-1].Sequence
	if from+1 < oldest || from > newest {
		truncated = true
		from = 0
	}
	for i, e := range q.events {
		if e.Sequence > from {
			events = make([]event.Event, len(q.events)-i)
			copy(events, q.events[i:])
			break
		}
	}
	return events, truncated
}

// oldestSequence returns the lowest retained sequence, or 0 when empty.
func (q *queue) oldestSequence() uint64 {
	if len(q.events) == 0 {
		return 0
	}
	return q.events[0].Sequence
}

func (q *queue) depth() int {
	return len(q.events)
}
