// Package narrator answers ad-hoc prompts by streaming an LLM response
// into a session's event stream, one event per model chunk.
package narrator

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/mattjoyce/streamhub/internal/broker"
	"github.com/mattjoyce/streamhub/internal/event"
)

var ErrQueueFull = errors.New("narrator queue is full")

type job struct {
	sessionID string
	prompt    string
}

// Narrator runs prompts serially off a bounded queue and publishes the
// model's output into the target session.
type Narrator struct {
	chatModel model.BaseChatModel
	broker    *broker.Broker
	logger    *slog.Logger

	queue chan job
	done  chan struct{}
}

// New creates a Narrator. queueSize <= 0 gets a default.
func New(chatModel model.BaseChatModel, b *broker.Broker, queueSize int, logger *slog.Logger) *Narrator {
	if queueSize <= 0 {
		queueSize = 16
	}
	return &Narrator{
		chatModel: chatModel,
		broker:    b,
		logger:    logger,
		queue:     make(chan job, queueSize),
		done:      make(chan struct{}),
	}
}

// Enqueue adds a prompt to the processing queue.
// It returns ErrQueueFull when the queue cannot accept the job.
func (n *Narrator) Enqueue(sessionID, prompt string) error {
	select {
	case n.queue <- job{sessionID: sessionID, prompt: prompt}:
		return nil
	default:
		return ErrQueueFull
	}
}

// Start runs the serial worker loop. Blocks until context is cancelled.
func (n *Narrator) Start(ctx context.Context) {
	defer close(n.done)
	n.logger.Info("narrator started")
	for {
		select {
		case <-ctx.Done():
			n.logger.Info("narrator stopping")
			return
		case j := <-n.queue:
			n.process(ctx, j)
		}
	}
}

// Done returns a channel that is closed when the worker loop has returned.
// Use this for graceful shutdown.
func (n *Narrator) Done() <-chan struct{} {
	return n.done
}

func (n *Narrator) process(ctx context.Context, j job) {
	start := time.Now()
	n.publish(j.sessionID, event.TypeStatus, event.MarshalPayload(event.StatusPayload{
		Message: "Working on an answer…",
	}))

	reader, err := n.chatModel.Stream(ctx, []*schema.Message{schema.UserMessage(j.prompt)})
	if err != nil {
		n.fail(j.sessionID, err)
		return
	}
	defer reader.Close()

	for {
		msg, err := reader.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			n.fail(j.sessionID, err)
			return
		}
		if msg.ReasoningContent != "" {
			n.publish(j.sessionID, event.TypeReasoning, event.MarshalPayload(event.ReasoningPayload{
				Text: msg.ReasoningContent,
			}))
		}
		if msg.Content != "" {
			n.publish(j.sessionID, event.TypeToken, event.MarshalPayload(event.TokenPayload{
				Content: msg.Content,
			}))
		}
	}

	n.publish(j.sessionID, event.TypeDone, json.RawMessage(`{}`))
	n.logger.Info("prompt answered", "session_id", j.sessionID, "duration", time.Since(start))
}

func (n *Narrator) fail(sessionID string, cause error) {
	n.logger.Error("prompt failed", "session_id", sessionID, "error", cause)
	n.publish(sessionID, event.TypeError, event.MarshalPayload(event.ErrorPayload{
		Message: cause.Error(),
	}))
}

func (n *Narrator) publish(sessionID string, typ event.Type, payload json.RawMessage) {
	if _, err := n.broker.Append(sessionID, typ, payload); err != nil {
		n.logger.Error("failed to publish narrator event",
			"session_id", sessionID,
			"type", typ,
			"error", err,
		)
	}
}
