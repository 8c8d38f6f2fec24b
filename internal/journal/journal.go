// Package journal persists a write-behind audit trail of session events.
// The journal is strictly an audit surface: live delivery and reconnect
// replay are served from in-memory history, never from here.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/mattjoyce/streamhub/internal/event"
)

// Journal records events to SQLite from a background writer. Record never
// blocks the caller; when the write queue is full the event is dropped
// from the journal (it still reaches subscribers).
type Journal struct {
	db     *sql.DB
	logger *slog.Logger
	queue  chan event.Event
	done   chan struct{}
}

// New creates a journal writing to db. queueSize <= 0 gets a default.
func New(db *sql.DB, queueSize int, logger *slog.Logger) *Journal {
	if queueSize <= 0 {
		queueSize = 256
	}
	return &Journal{
		db:     db,
		logger: logger,
		queue:  make(chan event.Event, queueSize),
		done:   make(chan struct{}),
	}
}

// Record queues an event for persistence. Implements the broker sink.
func (j *Journal) Record(ev event.Event) {
	select {
	case j.queue <- ev:
	default:
		j.logger.Warn("journal queue full, dropping event",
			"session_id", ev.SessionID,
			"sequence", ev.Sequence,
		)
	}
}

// Start runs the writer loop until ctx is cancelled, then drains whatever
// is still queued before closing Done.
func (j *Journal) Start(ctx context.Context) {
	defer close(j.done)
	j.logger.Info("journal writer started")

	for {
		select {
		case <-ctx.Done():
			j.drain()
			j.logger.Info("journal writer stopped")
			return
		case ev := <-j.queue:
			j.write(ev)
		}
	}
}

// Done is closed when the writer loop has exited.
func (j *Journal) Done() <-chan struct{} {
	return j.done
}

func (j *Journal) drain() {
	for {
		select {
		case ev := <-j.queue:
			j.write(ev)
		default:
			return
		}
	}
}

func (j *Journal) write(ev event.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := j.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO events (session_id, sequence, type, payload, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		ev.SessionID,
		ev.Sequence,
		string(ev.Type),
		string(ev.Payload),
		ev.Timestamp.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		j.logger.Error("journal write failed",
			"session_id", ev.SessionID,
			"sequence", ev.Sequence,
			"error", err,
		)
	}
}

// ListBySession returns journaled events for a session in sequence order,
// newest limited to limit rows (0 means no limit).
func (j *Journal) ListBySession(ctx context.Context, sessionID string, limit int) ([]event.Event, error) {
	query := `SELECT session_id, sequence, type, payload, created_at
		FROM events WHERE session_id = ? ORDER BY sequence`
	args := []any{sessionID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list journal events: %w", err)
	}
	defer rows.Close()

	var events []event.Event
	for rows.Next() {
		var ev event.Event
		var typ, payload, createdAt string
		if err := rows.Scan(&ev.SessionID, &ev.Sequence, &typ, &payload, &createdAt); err != nil {
			return nil, fmt.Errorf("scan journal event: %w", err)
		}
		ev.Type = event.Type(typ)
		ev.Payload = []byte(payload)
		if ts, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
			ev.Timestamp = ts
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}
