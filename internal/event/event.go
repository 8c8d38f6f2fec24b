// Package event defines the wire-level event model shared by producers,
// the broker, and consumers.
package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Type identifies the kind of payload an event carries.
type Type string

const (
	// TypeStatus is an explicit, human-readable progress narration from a
	// producer. It always wins status resolution.
	TypeStatus Type = "status"
	// TypeTool marks the start or completion of a tool execution.
	TypeTool Type = "tool"
	// TypeReasoning carries free-form model reasoning text.
	TypeReasoning Type = "reasoning"
	// TypeToken carries a partial content chunk.
	TypeToken Type = "token"
	// TypeDone marks successful completion of a session's stream.
	TypeDone Type = "done"
	// TypeError marks a terminal upstream failure for the session.
	TypeError Type = "error"
)

var knownTypes = map[Type]bool{
	TypeStatus:    true,
	TypeTool:      true,
	TypeReasoning: true,
	TypeToken:     true,
	TypeDone:      true,
	TypeError:     true,
}

// ErrValidation is wrapped by all publish-side validation failures.
var ErrValidation = errors.New("invalid event")

// Event is one unit of the session stream. Sequence is assigned by the
// broker at append time and is strictly increasing per session; producers
// never set it.
type Event struct {
	SessionID string          `json:"session_id"`
	Sequence  uint64          `json:"sequence"`
	Type      Type            `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// Validate checks that the type is known and the payload, if present, is
// well-formed JSON. Called on the publish path before anything is stored
// or fanned out.
func Validate(typ Type, payload json.RawMessage) error {
	if !knownTypes[typ] {
		return fmt.Errorf("%w: unknown type %q", ErrValidation, typ)
	}
	if len(payload) > 0 && !json.Valid(payload) {
		return fmt.Errorf("%w: payload is not valid JSON", ErrValidation)
	}
	return nil
}

// StatusPayload is the payload of a TypeStatus event.
type StatusPayload struct {
	Message string `json:"message"`
}

// ToolPhase is the lifecycle position of a tool event.
type ToolPhase string

const (
	ToolPhaseStart ToolPhase = "start"
	ToolPhaseDone  ToolPhase = "done"
)

// ToolPayload is the payload of a TypeTool event.
type ToolPayload struct {
	Name        string    `json:"name"`
	Phase       ToolPhase `json:"phase"`
	ResultCount *int      `json:"result_count,omitempty"`
	Error       string    `json:"error,omitempty"`
}

// ReasoningPayload is the payload of a TypeReasoning event.
type ReasoningPayload struct {
	Text string `json:"text"`
}

// TokenPayload is the payload of a TypeToken event.
type TokenPayload struct {
	Content string `json:"content"`
}

// ErrorPayload is the payload of a TypeError event.
type ErrorPayload struct {
	Message string `json:"message"`
}

// MarshalPayload serializes a typed payload, for producers that build
// events programmatically.
func MarshalPayload(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}
