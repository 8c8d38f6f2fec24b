package client

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/mattjoyce/streamhub/internal/event"
)

// parseStream reads SSE frames off r and hands each to fn until the stream
// ends or fn returns an error. Comment lines (keepalives) are skipped.
func parseStream(r io.Reader, fn func(name string, data []byte) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 2*1024*1024)

	var eventName string
	var dataLines []string

	flush := func() error {
		if len(dataLines) == 0 {
			eventName = ""
			return nil
		}
		name := eventName
		if name == "" {
			name = "message"
		}
		data := []byte(strings.Join(dataLines, "\n"))
		eventName = ""
		dataLines = nil
		return fn(name, data)
	}

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			if err := flush(); err != nil {
				return err
			}
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		if strings.HasPrefix(line, "event:") {
			eventName = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
			continue
		}
		if strings.HasPrefix(line, "data:") {
			part := strings.TrimPrefix(line, "data:")
			if strings.HasPrefix(part, " ") {
				part = part[1:]
			}
			dataLines = append(dataLines, part)
		}
	}
	if err := flush(); err != nil {
		return err
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read stream: %w", err)
	}
	return nil
}

func decodeEvent(data []byte) (event.Event, error) {
	var ev event.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return event.Event{}, fmt.Errorf("decode event: %w", err)
	}
	if ev.Sequence == 0 {
		return event.Event{}, fmt.Errorf("decode event: missing sequence")
	}
	return ev, nil
}

func decodeTruncated(data []byte) (uint64, error) {
	var notice struct {
		OldestSequence uint64 `json:"oldest_sequence"`
	}
	if err := json.Unmarshal(data, &notice); err != nil {
		return 0, fmt.Errorf("decode truncation notice: %w", err)
	}
	if notice.OldestSequence == 0 {
		return 0, fmt.Errorf("decode truncation notice: missing oldest_sequence")
	}
	return notice.OldestSequence, nil
}
