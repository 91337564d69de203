package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vscarpenter/gsd-task-manager-sub001/pkg/storage"
)

// SyncStore implements storage.SyncStore using SQLite.
type SyncStore struct {
	db *sql.DB
}

// NewSyncStore creates a SQLite-backed SyncStore.
func NewSyncStore(db *DB) *SyncStore {
	return &SyncStore{db: db.DB()}
}

var _ storage.SyncStore = (*SyncStore)(nil)

// UpsertMetadata writes the (user, device) sync state, replacing any
// previous row.
func (s *SyncStore) UpsertMetadata(ctx context.Context, meta storage.SyncMetadata) error {
	pushJSON, err := encodeClock(meta.LastPushVector)
	if err != nil {
		return err
	}
	pullJSON, err := encodeClock(meta.LastPullVector)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sync_metadata (
			user_id, device_id, last_sync_at, last_push_vector,
			last_pull_vector, sync_status
		) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, device_id) DO UPDATE SET
			last_sync_at = excluded.last_sync_at,
			last_push_vector = excluded.last_push_vector,
			last_pull_vector = excluded.last_pull_vector,
			sync_status = excluded.sync_status`,
		meta.UserID, meta.DeviceID, meta.LastSyncAt, pushJSON, pullJSON, meta.SyncStatus,
	)
	if err != nil {
		return fmt.Errorf("upserting sync metadata: %w", err)
	}
	return nil
}

// GetMetadata retrieves the (user, device) sync state.
func (s *SyncStore) GetMetadata(ctx context.Context, userID, deviceID string) (storage.SyncMetadata, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT user_id, device_id, last_sync_at, last_push_vector,
			last_pull_vector, sync_status
		FROM sync_metadata WHERE user_id = ? AND device_id = ?`,
		userID, deviceID,
	)

	var (
		m        storage.SyncMetadata
		pushJSON string
		pullJSON string
	)
	err := row.Scan(&m.UserID, &m.DeviceID, &m.LastSyncAt, &pushJSON, &pullJSON, &m.SyncStatus)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.SyncMetadata{}, storage.ErrNotFound
		}
		return storage.SyncMetadata{}, fmt.Errorf("scanning sync metadata: %w", err)
	}

	if m.LastPushVector, err = decodeClock(pushJSON); err != nil {
		return storage.SyncMetadata{}, err
	}
	if m.LastPullVector, err = decodeClock(pullJSON); err != nil {
		return storage.SyncMetadata{}, err
	}
	return m, nil
}

// RecordOperation appends one audit row.
func (s *SyncStore) RecordOperation(ctx context.Context, op storage.SyncOperation) error {
	clockJSON, err := encodeClock(op.VectorClock)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sync_operations (
			user_id, device_id, operation, vector_clock,
			task_count, conflict_count, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		op.UserID, op.DeviceID, op.Operation, clockJSON,
		op.TaskCount, op.ConflictCount, op.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("recording sync operation: %w", err)
	}
	return nil
}

// RecordConflict appends one conflict-log row.
func (s *SyncStore) RecordConflict(ctx context.Context, conflict storage.Conflict) error {
	existingJSON, err := encodeClock(conflict.ExistingClock)
	if err != nil {
		return err
	}
	incomingJSON, err := encodeClock(conflict.IncomingClock)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sync_conflicts (
			user_id, task_id, reason, resolution,
			existing_clock, incoming_clock, created_at, resolved_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		conflict.UserID, conflict.TaskID, conflict.Reason,
		nullableStr(conflict.Resolution),
		existingJSON, incomingJSON, conflict.CreatedAt,
		nullableMs(conflict.ResolvedAt),
	)
	if err != nil {
		return fmt.Errorf("recording conflict: %w", err)
	}
	return nil
}

// CountOpenConflicts counts the user's conflict rows still awaiting
// resolution.
func (s *SyncStore) CountOpenConflicts(ctx context.Context, userID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sync_conflicts WHERE user_id = ? AND resolved_at IS NULL`,
		userID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting open conflicts: %w", err)
	}
	return count, nil
}

// MarkTaskConflictsResolved stamps resolved_at on the task's open
// conflict rows and returns how many were affected.
func (s *SyncStore) MarkTaskConflictsResolved(
	ctx context.Context, userID, taskID string, now int64,
) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sync_conflicts SET resolved_at = ?
		WHERE user_id = ? AND task_id = ? AND resolved_at IS NULL`,
		now, userID, taskID,
	)
	if err != nil {
		return 0, fmt.Errorf("resolving conflicts: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	return affected, nil
}

// PurgeResolvedConflicts deletes conflict rows resolved before cutoff.
func (s *SyncStore) PurgeResolvedConflicts(ctx context.Context, cutoff int64) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM sync_conflicts WHERE resolved_at IS NOT NULL AND resolved_at < ?`,
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("purging resolved conflicts: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	return affected, nil
}
