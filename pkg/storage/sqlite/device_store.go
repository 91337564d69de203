package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vscarpenter/gsd-task-manager-sub001/pkg/storage"
)

// DeviceStore implements storage.DeviceStore using SQLite.
type DeviceStore struct {
	db *sql.DB
}

// NewDeviceStore creates a SQLite-backed DeviceStore.
func NewDeviceStore(db *DB) *DeviceStore {
	return &DeviceStore{db: db.DB()}
}

var _ storage.DeviceStore = (*DeviceStore)(nil)

// Create inserts a new device row.
func (s *DeviceStore) Create(ctx context.Context, device storage.Device) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO devices (id, user_id, name, last_seen_at, is_active)
		VALUES (?, ?, ?, ?, ?)`,
		device.ID, device.UserID, device.Name, device.LastSeenAt, device.IsActive,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrAlreadyExists
		}
		return fmt.Errorf("inserting device: %w", err)
	}
	return nil
}

// Get retrieves a device scoped to its owner.
func (s *DeviceStore) Get(ctx context.Context, userID, deviceID string) (storage.Device, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, name, last_seen_at, is_active
		FROM devices WHERE user_id = ? AND id = ?`,
		userID, deviceID,
	)

	var d storage.Device
	if err := row.Scan(&d.ID, &d.UserID, &d.Name, &d.LastSeenAt, &d.IsActive); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.Device{}, storage.ErrNotFound
		}
		return storage.Device{}, fmt.Errorf("scanning device row: %w", err)
	}
	return d, nil
}

// List returns the user's devices, most recently seen first.
func (s *DeviceStore) List(ctx context.Context, userID string) ([]storage.Device, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, name, last_seen_at, is_active
		FROM devices WHERE user_id = ?
		ORDER BY last_seen_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying devices: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var devices []storage.Device
	for rows.Next() {
		var d storage.Device
		if err := rows.Scan(&d.ID, &d.UserID, &d.Name, &d.LastSeenAt, &d.IsActive); err != nil {
			return nil, fmt.Errorf("scanning device row: %w", err)
		}
		devices = append(devices, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating device rows: %w", err)
	}
	return devices, nil
}

// TouchSeen stamps last_seen_at.
func (s *DeviceStore) TouchSeen(ctx context.Context, userID, deviceID string, now int64) error {
	return s.update(ctx,
		`UPDATE devices SET last_seen_at = ? WHERE user_id = ? AND id = ?`,
		now, userID, deviceID)
}

// Deactivate flips is_active off. The row survives for audit; retention
// cleanup removes it later.
func (s *DeviceStore) Deactivate(ctx context.Context, userID, deviceID string) error {
	return s.update(ctx,
		`UPDATE devices SET is_active = 0 WHERE user_id = ? AND id = ?`,
		userID, deviceID)
}

func (s *DeviceStore) update(ctx context.Context, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("updating device: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// PurgeInactive hard-deletes inactive devices unseen since cutoff.
func (s *DeviceStore) PurgeInactive(ctx context.Context, cutoff int64) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM devices WHERE is_active = 0 AND last_seen_at < ?`,
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("purging inactive devices: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	return affected, nil
}
