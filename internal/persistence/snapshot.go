package persistence

import (
	"MangoCache/internal/event"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SnapshotManager stores cache images for warm start and reads the event
// log back for replay.
type SnapshotManager struct {
	db *sql.DB
}

// SnapshotRecord is one row of cache_log.snapshots. Image is the binary
// MangoCache layout, so a snapshot can be decoded without the service.
type SnapshotRecord struct {
	SnapshotID uuid.UUID
	Sequence   int64
	StateHash  [32]byte
	Image      []byte
	CreatedAt  time.Time
}

// KeyRow is a logged (event type, idempotency key) pair used to warm the
// dedup LRU.
type KeyRow struct {
	EventType      event.EventType
	IdempotencyKey string
}

const snapshotFormatVersion = 1 // v1: raw MangoCache binary image

func NewSnapshotManager(db *sql.DB) *SnapshotManager {
	return &SnapshotManager{db: db}
}

// SaveSnapshot persists a snapshot. Saving twice at one sequence overwrites.
func (sm *SnapshotManager) SaveSnapshot(ctx context.Context, snap *SnapshotRecord) error {
	if snap.SnapshotID == uuid.Nil {
		snap.SnapshotID = uuid.New()
	}
	if snap.CreatedAt.IsZero() {
		snap.CreatedAt = time.Now().UTC()
	}

	_, err := sm.db.ExecContext(ctx, `
		INSERT INTO cache_log.snapshots
			(snapshot_id, sequence, image, state_hash, format_version, size_bytes, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (sequence) DO UPDATE SET image = $3, state_hash = $4, size_bytes = $6
	`, snap.SnapshotID, snap.Sequence, snap.Image, snap.StateHash[:], snapshotFormatVersion, len(snap.Image), snap.CreatedAt)
	if err != nil {
		return fmt.Errorf("save snapshot seq %d: %w", snap.Sequence, err)
	}
	return nil
}

// LoadLatestSnapshot returns the newest snapshot whose state hash matches
// the event log entry at the same sequence, or nil on cold start.
func (sm *SnapshotManager) LoadLatestSnapshot(ctx context.Context) (*SnapshotRecord, error) {
	row := sm.db.QueryRowContext(ctx, `
		SELECT s.snapshot_id, s.sequence, s.image, s.state_hash, s.created_at
		FROM cache_log.snapshots s
		JOIN cache_log.events e ON e.sequence = s.sequence AND e.state_hash = s.state_hash
		WHERE s.format_version = $1
		ORDER BY s.sequence DESC
		LIMIT 1
	`, snapshotFormatVersion)

	var (
		snap SnapshotRecord
		hash []byte
	)
	if err := row.Scan(&snap.SnapshotID, &snap.Sequence, &snap.Image, &hash, &snap.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	if len(hash) != len(snap.StateHash) {
		return nil, fmt.Errorf("load snapshot seq %d: state hash is %d bytes", snap.Sequence, len(hash))
	}
	copy(snap.StateHash[:], hash)
	return &snap, nil
}

// LoadEventsFrom loads up to limit envelopes starting at fromSequence.
func (sm *SnapshotManager) LoadEventsFrom(ctx context.Context, fromSequence int64, limit int) ([]*event.EventEnvelope, error) {
	rows, err := sm.db.QueryContext(ctx, `
		SELECT sequence, event_type_id, idempotency_key, partition, payload,
		       state_hash, prev_hash, event_timestamp
		FROM cache_log.events
		WHERE sequence >= $1
		ORDER BY sequence ASC
		LIMIT $2
	`, fromSequence, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var envelopes []*event.EventEnvelope
	for rows.Next() {
		var (
			env       event.EventEnvelope
			typeID    int32
			stateHash []byte
			prevHash  []byte
			ts        int64
		)
		if err := rows.Scan(&env.Sequence, &typeID, &env.IdempotencyKey, &env.Partition,
			&env.Payload, &stateHash, &prevHash, &ts); err != nil {
			return nil, err
		}
		env.EventType = event.EventType(typeID)
		env.Timestamp = uint64(ts)
		copy(env.StateHash[:], stateHash)
		copy(env.PrevHash[:], prevHash)
		envelopes = append(envelopes, &env)
	}
	return envelopes, rows.Err()
}

// LoadRecentKeys returns the idempotency keys of the last limit events,
// oldest first.
func (sm *SnapshotManager) LoadRecentKeys(ctx context.Context, limit int) ([]KeyRow, error) {
	rows, err := sm.db.QueryContext(ctx, `
		SELECT event_type_id, idempotency_key FROM (
			SELECT sequence, event_type_id, idempotency_key
			FROM cache_log.events
			ORDER BY sequence DESC
			LIMIT $1
		) recent
		ORDER BY sequence ASC
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []KeyRow
	for rows.Next() {
		var (
			k      KeyRow
			typeID int32
		)
		if err := rows.Scan(&typeID, &k.IdempotencyKey); err != nil {
			return nil, err
		}
		k.EventType = event.EventType(typeID)
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// GetLatestSequence returns the highest sequence in the event log, or -1
// when the log is empty.
func (sm *SnapshotManager) GetLatestSequence(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	if err := sm.db.QueryRowContext(ctx, `SELECT MAX(sequence) FROM cache_log.events`).Scan(&seq); err != nil {
		return 0, err
	}
	if !seq.Valid {
		return -1, nil
	}
	return seq.Int64, nil
}
