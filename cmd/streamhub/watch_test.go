package main

import (
	"strings"
	"testing"
	"time"

	"github.com/mattjoyce/streamhub/internal/event"
)

func TestHandleEventAccumulatesTokens(t *testing.T) {
	m := newWatchModel(watchConfig{SessionID: "sess-1"})

	for i, chunk := range []string{"The answer ", "is ", "42."} {
		m.handleEvent(event.Event{
			SessionID: "sess-1",
			Sequence:  uint64(i + 1),
			Type:      event.TypeToken,
			Payload:   event.MarshalPayload(event.TokenPayload{Content: chunk}),
			Timestamp: time.Now(),
		})
	}

	if got := m.answer.String(); got != "The answer is 42." {
		t.Fatalf("accumulated answer = %q", got)
	}
	if m.lastSeq != 3 {
		t.Fatalf("lastSeq = %d, want 3", m.lastSeq)
	}
}

func TestHandleEventTerminalStates(t *testing.T) {
	m := newWatchModel(watchConfig{SessionID: "sess-1"})

	m.handleEvent(event.Event{
		Sequence:  1,
		Type:      event.TypeDone,
		Payload:   []byte(`{}`),
		Timestamp: time.Now(),
	})
	if !m.done {
		t.Fatal("done event did not mark model done")
	}

	m = newWatchModel(watchConfig{SessionID: "sess-1"})
	m.handleEvent(event.Event{
		Sequence:  1,
		Type:      event.TypeError,
		Payload:   event.MarshalPayload(event.ErrorPayload{Message: "provider unreachable"}),
		Timestamp: time.Now(),
	})
	if !m.failed {
		t.Fatal("error event did not mark model failed")
	}
	if len(m.events) == 0 || !strings.Contains(m.events[0], "provider unreachable") {
		t.Fatalf("error line missing: %v", m.events)
	}
}

func TestHandleEventToolLine(t *testing.T) {
	m := newWatchModel(watchConfig{SessionID: "sess-1"})

	m.handleEvent(event.Event{
		Sequence: 1,
		Type:     event.TypeTool,
		Payload: event.MarshalPayload(event.ToolPayload{
			Name:  "web_search",
			Phase: event.ToolPhaseStart,
		}),
		Timestamp: time.Now(),
	})

	if len(m.events) != 1 || !strings.Contains(m.events[0], "tool web_search start") {
		t.Fatalf("tool line = %v", m.events)
	}
}

func TestTrimForLog(t *testing.T) {
	if got := trimForLog("short", 10); got != "short" {
		t.Fatalf("trimForLog(short) = %q", got)
	}
	if got := trimForLog("a long message that overflows", 10); got != "a long ..." {
		t.Fatalf("trimForLog(long) = %q", got)
	}
}
