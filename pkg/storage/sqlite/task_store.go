package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vscarpenter/gsd-task-manager-sub001/pkg/storage"
	"github.com/vscarpenter/gsd-task-manager-sub001/pkg/vclock"
)

// TaskStore implements storage.TaskStore using SQLite.
type TaskStore struct {
	db *sql.DB
}

// NewTaskStore creates a SQLite-backed TaskStore.
func NewTaskStore(db *DB) *TaskStore {
	return &TaskStore{db: db.DB()}
}

var _ storage.TaskStore = (*TaskStore)(nil)

const taskColumns = `id, user_id, encrypted_blob, nonce, checksum, version,
	vector_clock, last_modified_device, created_at, updated_at, deleted_at`

// Get returns the row whether live or tombstoned.
func (s *TaskStore) Get(ctx context.Context, userID, taskID string) (storage.EncryptedTask, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM encrypted_tasks WHERE user_id = ? AND id = ?`,
		userID, taskID,
	)
	return scanTask(row)
}

// Insert stores a brand-new task row.
func (s *TaskStore) Insert(ctx context.Context, task storage.EncryptedTask) error {
	clockJSON, err := encodeClock(task.VectorClock)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO encrypted_tasks (
			id, user_id, encrypted_blob, nonce, checksum, version,
			vector_clock, last_modified_device, created_at, updated_at, deleted_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		task.ID,
		task.UserID,
		task.EncryptedBlob,
		task.Nonce,
		task.Checksum,
		task.Version,
		clockJSON,
		task.LastModifiedDevice,
		task.CreatedAt,
		task.UpdatedAt,
		nullableMs(task.DeletedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrAlreadyExists
		}
		return fmt.Errorf("inserting task: %w", err)
	}
	return nil
}

// Overwrite replaces the mutable fields of an existing row and clears
// any tombstone marker.
func (s *TaskStore) Overwrite(ctx context.Context, task storage.EncryptedTask) error {
	clockJSON, err := encodeClock(task.VectorClock)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE encrypted_tasks SET
			encrypted_blob = ?, nonce = ?, checksum = ?, version = ?,
			vector_clock = ?, last_modified_device = ?, updated_at = ?,
			deleted_at = NULL
		WHERE user_id = ? AND id = ?`,
		task.EncryptedBlob,
		task.Nonce,
		task.Checksum,
		task.Version,
		clockJSON,
		task.LastModifiedDevice,
		task.UpdatedAt,
		task.UserID,
		task.ID,
	)
	if err != nil {
		return fmt.Errorf("updating task: %w", err)
	}
	return checkAffected(res)
}

// SoftDelete tombstones the row, recording the delete's vector clock.
func (s *TaskStore) SoftDelete(
	ctx context.Context, userID, taskID string, clock vclock.Clock, deviceID string, now int64,
) error {
	clockJSON, err := encodeClock(clock)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE encrypted_tasks SET
			vector_clock = ?, last_modified_device = ?, version = version + 1,
			updated_at = ?, deleted_at = ?
		WHERE user_id = ? AND id = ?`,
		clockJSON, deviceID, now, now, userID, taskID,
	)
	if err != nil {
		return fmt.Errorf("tombstoning task: %w", err)
	}
	return checkAffected(res)
}

// CountLive counts the user's non-tombstoned rows.
func (s *TaskStore) CountLive(ctx context.Context, userID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM encrypted_tasks WHERE user_id = ? AND deleted_at IS NULL`,
		userID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting live tasks: %w", err)
	}
	return count, nil
}

// ListChangedSince returns live rows with updated_at >= since and
// tombstones with deleted_at >= since, merged, ordered by that timestamp
// ascending. The inequality is inclusive so millisecond ties are kept.
func (s *TaskStore) ListChangedSince(
	ctx context.Context, userID string, since int64, limit int,
) ([]storage.EncryptedTask, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+taskColumns+`,
			COALESCE(deleted_at, updated_at) AS changed_at
		FROM encrypted_tasks
		WHERE user_id = ?
		  AND ((deleted_at IS NULL AND updated_at >= ?)
		    OR (deleted_at IS NOT NULL AND deleted_at >= ?))
		ORDER BY changed_at ASC, id ASC
		LIMIT ?`,
		userID, since, since, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying changed tasks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return collectTasks(rows, true)
}

// ListAll returns every row for the user, live and deleted.
func (s *TaskStore) ListAll(ctx context.Context, userID string) ([]storage.EncryptedTask, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+taskColumns+` FROM encrypted_tasks WHERE user_id = ? ORDER BY updated_at ASC, id ASC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying tasks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return collectTasks(rows, false)
}

// MergedClock folds the vector clocks of all live rows into one.
func (s *TaskStore) MergedClock(ctx context.Context, userID string) (vclock.Clock, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT vector_clock FROM encrypted_tasks WHERE user_id = ? AND deleted_at IS NULL`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying vector clocks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	merged := vclock.Clock{}
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scanning vector clock: %w", err)
		}
		clock, err := decodeClock(raw)
		if err != nil {
			return nil, err
		}
		merged = vclock.Merge(merged, clock)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating vector clocks: %w", err)
	}
	return merged, nil
}

// PurgeTombstones hard-deletes rows tombstoned before cutoff.
func (s *TaskStore) PurgeTombstones(ctx context.Context, cutoff int64) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM encrypted_tasks WHERE deleted_at IS NOT NULL AND deleted_at < ?`,
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("purging tombstones: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	return affected, nil
}

func checkAffected(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func scanTask(row *sql.Row) (storage.EncryptedTask, error) {
	var (
		t         storage.EncryptedTask
		clockRaw  string
		deletedAt sql.NullInt64
	)
	err := row.Scan(
		&t.ID, &t.UserID, &t.EncryptedBlob, &t.Nonce, &t.Checksum, &t.Version,
		&clockRaw, &t.LastModifiedDevice, &t.CreatedAt, &t.UpdatedAt, &deletedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.EncryptedTask{}, storage.ErrNotFound
		}
		return storage.EncryptedTask{}, fmt.Errorf("scanning task row: %w", err)
	}

	t.DeletedAt = msOf(deletedAt)
	t.VectorClock, err = decodeClock(clockRaw)
	if err != nil {
		return storage.EncryptedTask{}, err
	}
	return t, nil
}

// collectTasks drains rows into task values. withChangedAt marks queries
// that select the synthetic changed_at column last.
func collectTasks(rows *sql.Rows, withChangedAt bool) ([]storage.EncryptedTask, error) {
	var tasks []storage.EncryptedTask
	for rows.Next() {
		var (
			t         storage.EncryptedTask
			clockRaw  string
			deletedAt sql.NullInt64
			changedAt int64
		)
		dest := []any{
			&t.ID, &t.UserID, &t.EncryptedBlob, &t.Nonce, &t.Checksum, &t.Version,
			&clockRaw, &t.LastModifiedDevice, &t.CreatedAt, &t.UpdatedAt, &deletedAt,
		}
		if withChangedAt {
			dest = append(dest, &changedAt)
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scanning task row: %w", err)
		}

		t.DeletedAt = msOf(deletedAt)
		clock, err := decodeClock(clockRaw)
		if err != nil {
			return nil, err
		}
		t.VectorClock = clock
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating task rows: %w", err)
	}
	return tasks, nil
}
