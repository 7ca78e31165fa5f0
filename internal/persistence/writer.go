package persistence

import (
	"MangoCache/internal/event"
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// BatchWriter commits one batch of event rows atomically.
type BatchWriter interface {
	WriteBatch(ctx context.Context, events []EventRow) error
}

// EventLogWriter writes applied events to cache_log.events using
// multi-row INSERTs inside one transaction per batch.
type EventLogWriter struct {
	db *sql.DB
}

// EventRow represents a row in cache_log.events
type EventRow struct {
	Sequence       int64
	EventType      event.EventType
	IdempotencyKey string
	Partition      string
	Payload        []byte // JSON-encoded event payload
	StateHash      []byte
	PrevHash       []byte
	EventTimestamp uint64 // network seconds carried by the update
	AppliedAt      time.Time
}

// NewEventRow converts an applied envelope into its log row.
func NewEventRow(env *event.EventEnvelope, appliedAt time.Time) EventRow {
	return EventRow{
		Sequence:       env.Sequence,
		EventType:      env.EventType,
		IdempotencyKey: env.IdempotencyKey,
		Partition:      env.Partition,
		Payload:        env.Payload,
		StateHash:      append([]byte(nil), env.StateHash[:]...),
		PrevHash:       append([]byte(nil), env.PrevHash[:]...),
		EventTimestamp: env.Timestamp,
		AppliedAt:      appliedAt,
	}
}

func NewEventLogWriter(db *sql.DB) *EventLogWriter {
	return &EventLogWriter{db: db}
}

// WriteBatch writes events in a single transaction.
func (w *EventLogWriter) WriteBatch(ctx context.Context, events []EventRow) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := WriteEventBatch(ctx, tx, events); err != nil {
		return fmt.Errorf("write events: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// WriteEventBatch inserts events through exec. Rows already in the log
// are skipped so a retried batch is harmless.
func WriteEventBatch(ctx context.Context, exec execer, events []EventRow) error {
	if len(events) == 0 {
		return nil
	}
	query, args := buildEventInsert(events)
	_, err := exec.ExecContext(ctx, query, args...)
	return err
}

const eventColumns = 10

func buildEventInsert(events []EventRow) (string, []interface{}) {
	var b strings.Builder
	b.WriteString(`INSERT INTO cache_log.events
		(sequence, event_type_id, event_type, idempotency_key, partition, payload, state_hash, prev_hash, event_timestamp, applied_at)
		VALUES `)

	args := make([]interface{}, 0, len(events)*eventColumns)
	for i, e := range events {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('(')
		for c := 0; c < eventColumns; c++ {
			if c > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "$%d", i*eventColumns+c+1)
		}
		b.WriteByte(')')

		args = append(args,
			e.Sequence, int32(e.EventType), e.EventType.String(), e.IdempotencyKey, e.Partition,
			e.Payload, e.StateHash, e.PrevHash, int64(e.EventTimestamp), e.AppliedAt,
		)
	}
	b.WriteString(" ON CONFLICT (sequence) DO NOTHING")
	return b.String(), args
}
