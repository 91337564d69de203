package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/vscarpenter/gsd-task-manager-sub001/pkg/storage"
	"github.com/vscarpenter/gsd-task-manager-sub001/pkg/vclock"
)

// Store bundles the SQLite-backed domain stores over one DB handle.
type Store struct {
	wrapper *DB
	users   *UserStore
	devices *DeviceStore
	tasks   *TaskStore
	sync    *SyncStore
}

var _ storage.Store = (*Store)(nil)

// NewStore opens the database at path and returns the bundled stores.
func NewStore(ctx context.Context, path string) (*Store, error) {
	db, err := Open(ctx, path)
	if err != nil {
		return nil, err
	}
	return &Store{
		wrapper: db,
		users:   NewUserStore(db),
		devices: NewDeviceStore(db),
		tasks:   NewTaskStore(db),
		sync:    NewSyncStore(db),
	}, nil
}

// Users returns the user store.
func (s *Store) Users() storage.UserStore { return s.users }

// Devices returns the device store.
func (s *Store) Devices() storage.DeviceStore { return s.devices }

// Tasks returns the encrypted-task store.
func (s *Store) Tasks() storage.TaskStore { return s.tasks }

// Sync returns the sync bookkeeping store.
func (s *Store) Sync() storage.SyncStore { return s.sync }

// Close closes the underlying database connection.
func (s *Store) Close() error { return s.wrapper.Close() }

// encodeClock serializes a vector clock for a TEXT column. Go maps
// marshal with sorted keys, which keeps the encoding deterministic.
func encodeClock(c vclock.Clock) (string, error) {
	if c == nil {
		c = vclock.Clock{}
	}
	data, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("encoding vector clock: %w", err)
	}
	return string(data), nil
}

// decodeClock parses a vector clock column.
func decodeClock(raw string) (vclock.Clock, error) {
	if raw == "" {
		return vclock.Clock{}, nil
	}
	var c vclock.Clock
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		return nil, fmt.Errorf("decoding vector clock: %w", err)
	}
	return c, nil
}

// nullableMs maps a zero millisecond timestamp to SQL NULL.
func nullableMs(ms int64) any {
	if ms == 0 {
		return nil
	}
	return ms
}

// nullableStr maps an empty string to SQL NULL.
func nullableStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// msOf unwraps a nullable millisecond column.
func msOf(v sql.NullInt64) int64 {
	if v.Valid {
		return v.Int64
	}
	return 0
}

// strOf unwraps a nullable text column.
func strOf(v sql.NullString) string {
	if v.Valid {
		return v.String
	}
	return ""
}
