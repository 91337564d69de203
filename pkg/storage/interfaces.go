// Package storage defines the persistent data model and store interfaces
// for users, devices, encrypted task rows, and sync bookkeeping. The
// relational store owns all durable user data; everything time-bounded
// lives in the kv package.
package storage

import (
	"context"

	"github.com/vscarpenter/gsd-task-manager-sub001/pkg/vclock"
)

// Auth providers.
const (
	ProviderGoogle = "google"
	ProviderApple  = "apple"
)

// Account statuses.
const (
	StatusActive    = "active"
	StatusSuspended = "suspended"
	StatusDeleted   = "deleted"
)

// Sync statuses recorded in sync_metadata.
const (
	SyncSuccess  = "success"
	SyncConflict = "conflict"
	SyncError    = "error"
)

// Conflict resolution modes.
const (
	ResolutionAutoMerge     = "auto_merge"
	ResolutionLastWriteWins = "last_write_wins"
	ResolutionManual        = "manual"
)

// All timestamps are Unix milliseconds. Zero means "not set" (a task with
// DeletedAt == 0 is live; a user with LastLoginAt == 0 has never logged in).

// User is an account row. EncryptionSalt is empty until the client
// uploads one; the salt is an opaque base64 string and never empty once
// set, so the empty string doubles as the null marker.
type User struct {
	ID             string
	Email          string
	AuthProvider   string
	ProviderUserID string
	AccountStatus  string
	EncryptionSalt string
	CreatedAt      int64
	UpdatedAt      int64
	LastLoginAt    int64
}

// Device is a client installation bound to a user. Revocation flips
// IsActive; device rows are only ever hard-deleted by retention cleanup.
type Device struct {
	ID         string
	UserID     string
	Name       string
	LastSeenAt int64
	IsActive   bool
}

// EncryptedTask is an opaque ciphertext envelope. The server never
// interprets EncryptedBlob, Nonce, or Checksum. DeletedAt != 0 marks a
// tombstone.
type EncryptedTask struct {
	ID                 string
	UserID             string
	EncryptedBlob      string
	Nonce              string
	Checksum           string
	Version            int64
	VectorClock        vclock.Clock
	LastModifiedDevice string
	CreatedAt          int64
	UpdatedAt          int64
	DeletedAt          int64
}

// Live reports whether the row is not a tombstone.
func (t *EncryptedTask) Live() bool { return t.DeletedAt == 0 }

// ChangedAt is the timestamp pull pagination orders by: deletion time
// for tombstones, last update time otherwise.
func (t *EncryptedTask) ChangedAt() int64 {
	if t.DeletedAt != 0 {
		return t.DeletedAt
	}
	return t.UpdatedAt
}

// SyncMetadata is the observational per-(user, device) sync state.
type SyncMetadata struct {
	UserID         string
	DeviceID       string
	LastSyncAt     int64
	LastPushVector vclock.Clock
	LastPullVector vclock.Clock
	SyncStatus     string
}

// SyncOperation is one append-only audit row per push or pull.
type SyncOperation struct {
	ID            int64
	UserID        string
	DeviceID      string
	Operation     string
	VectorClock   vclock.Clock
	TaskCount     int
	ConflictCount int
	CreatedAt     int64
}

// Conflict is an append-only record of a server-side conflict
// observation. ResolvedAt stays zero until a manual resolution lands.
type Conflict struct {
	ID            int64
	UserID        string
	TaskID        string
	Reason        string
	Resolution    string
	ExistingClock vclock.Clock
	IncomingClock vclock.Clock
	CreatedAt     int64
	ResolvedAt    int64
}

// UserStore manages account rows.
type UserStore interface {
	// Create inserts a new user. Returns ErrAlreadyExists when the email
	// or the (provider, subject) pair is taken.
	Create(ctx context.Context, user User) error
	GetByID(ctx context.Context, id string) (User, error)
	GetByProviderSubject(ctx context.Context, provider, subject string) (User, error)
	GetByEmail(ctx context.Context, email string) (User, error)
	// TouchLogin sets last_login_at and updated_at.
	TouchLogin(ctx context.Context, id string, now int64) error
	SetEncryptionSalt(ctx context.Context, id, salt string, now int64) error
}

// DeviceStore manages device rows.
type DeviceStore interface {
	Create(ctx context.Context, device Device) error
	Get(ctx context.Context, userID, deviceID string) (Device, error)
	List(ctx context.Context, userID string) ([]Device, error)
	TouchSeen(ctx context.Context, userID, deviceID string, now int64) error
	// Deactivate flips is_active off. Returns ErrNotFound when the device
	// does not belong to the user.
	Deactivate(ctx context.Context, userID, deviceID string) error
	// PurgeInactive hard-deletes inactive devices unseen since cutoff and
	// returns the number removed.
	PurgeInactive(ctx context.Context, cutoff int64) (int64, error)
}

// TaskStore manages encrypted task rows, tombstones included.
type TaskStore interface {
	// Get returns the row whether live or tombstoned.
	Get(ctx context.Context, userID, taskID string) (EncryptedTask, error)
	Insert(ctx context.Context, task EncryptedTask) error
	// Overwrite replaces blob, nonce, checksum, clock, version, and
	// last_modified_device, clearing any tombstone marker.
	Overwrite(ctx context.Context, task EncryptedTask) error
	// SoftDelete tombstones the row and stores the delete's clock.
	SoftDelete(ctx context.Context, userID, taskID string, clock vclock.Clock, deviceID string, now int64) error
	CountLive(ctx context.Context, userID string) (int, error)
	// ListChangedSince returns live rows with updated_at >= since and
	// tombstones with deleted_at >= since, merged and ordered by that
	// timestamp ascending, at most limit rows.
	ListChangedSince(ctx context.Context, userID string, since int64, limit int) ([]EncryptedTask, error)
	// ListAll returns every row for the user, live and deleted.
	ListAll(ctx context.Context, userID string) ([]EncryptedTask, error)
	// MergedClock folds the vector clocks of all live rows.
	MergedClock(ctx context.Context, userID string) (vclock.Clock, error)
	// PurgeTombstones hard-deletes rows tombstoned before cutoff.
	PurgeTombstones(ctx context.Context, cutoff int64) (int64, error)
}

// SyncStore manages sync metadata, the audit log, and the conflict log.
type SyncStore interface {
	UpsertMetadata(ctx context.Context, meta SyncMetadata) error
	GetMetadata(ctx context.Context, userID, deviceID string) (SyncMetadata, error)
	RecordOperation(ctx context.Context, op SyncOperation) error
	RecordConflict(ctx context.Context, conflict Conflict) error
	CountOpenConflicts(ctx context.Context, userID string) (int, error)
	// MarkTaskConflictsResolved stamps resolved_at on the task's open
	// conflict rows.
	MarkTaskConflictsResolved(ctx context.Context, userID, taskID string, now int64) (int64, error)
	// PurgeResolvedConflicts deletes conflict rows resolved before cutoff.
	PurgeResolvedConflicts(ctx context.Context, cutoff int64) (int64, error)
}

// Store bundles the four domain stores over one database handle.
type Store interface {
	Users() UserStore
	Devices() DeviceStore
	Tasks() TaskStore
	Sync() SyncStore
	Close() error
}
