// Package sync implements the causal replication engine: push with
// vector-clock conflict detection, pull with inclusive-timestamp
// pagination, manual conflict resolution, and the status/stats views.
package sync

import (
	"github.com/vscarpenter/gsd-task-manager-sub001/pkg/vclock"
)

// Operation types accepted in a push batch.
const (
	OpCreate = "create"
	OpUpdate = "update"
	OpDelete = "delete"
)

// Rejection reasons reported inline in the push response.
const (
	ReasonValidation    = "validation_error"
	ReasonQuotaExceeded = "quota_exceeded"
	ReasonInternal      = "internal_error"
)

// Conflict reasons.
const (
	ConflictConcurrentEdit = "concurrent_edit"
	ConflictDeleteEdit     = "delete_edit"
)

// Operation is one entry of a push batch. Blob, nonce, and checksum are
// required for create/update and absent for delete.
type Operation struct {
	Type          string       `json:"type"`
	TaskID        string       `json:"taskId"`
	EncryptedBlob string       `json:"encryptedBlob,omitempty"`
	Nonce         string       `json:"nonce,omitempty"`
	Checksum      string       `json:"checksum,omitempty"`
	VectorClock   vclock.Clock `json:"vectorClock"`
}

// PushRequest is the body of POST /api/sync/push.
type PushRequest struct {
	DeviceID          string       `json:"deviceId"`
	Operations        []Operation  `json:"operations"`
	ClientVectorClock vclock.Clock `json:"clientVectorClock"`
}

// Rejection describes one operation the server refused.
type Rejection struct {
	TaskID string `json:"taskId"`
	Reason string `json:"reason"`
	Detail string `json:"detail,omitempty"`
}

// ConflictEntry names an operation that needs client resolution.
type ConflictEntry struct {
	TaskID        string       `json:"taskId"`
	Reason        string       `json:"reason"`
	ExistingClock vclock.Clock `json:"existingClock"`
	IncomingClock vclock.Clock `json:"incomingClock"`
}

// PushResponse partitions the batch into accepted, rejected, and
// conflicting operations and carries the merged server clock.
type PushResponse struct {
	Accepted          []string        `json:"accepted"`
	Rejected          []Rejection     `json:"rejected"`
	Conflicts         []ConflictEntry `json:"conflicts"`
	ServerVectorClock vclock.Clock    `json:"serverVectorClock"`
}

// PullRequest is the body of POST /api/sync/pull. Cursor, when set,
// continues a previous page and supersedes SinceTimestamp.
type PullRequest struct {
	DeviceID        string       `json:"deviceId"`
	LastVectorClock vclock.Clock `json:"lastVectorClock"`
	SinceTimestamp  int64        `json:"sinceTimestamp,omitempty"`
	Limit           int          `json:"limit,omitempty"`
	Cursor          int64        `json:"cursor,omitempty"`
}

// TaskEnvelope is one live row on the wire. The ciphertext fields pass
// through untouched.
type TaskEnvelope struct {
	TaskID             string       `json:"taskId"`
	EncryptedBlob      string       `json:"encryptedBlob"`
	Nonce              string       `json:"nonce"`
	Checksum           string       `json:"checksum"`
	Version            int64        `json:"version"`
	VectorClock        vclock.Clock `json:"vectorClock"`
	LastModifiedDevice string       `json:"lastModifiedDevice"`
	CreatedAt          int64        `json:"createdAt"`
	UpdatedAt          int64        `json:"updatedAt"`
}

// PullResponse returns changed rows and tombstones since the requested
// timestamp.
type PullResponse struct {
	Tasks             []TaskEnvelope `json:"tasks"`
	DeletedTaskIDs    []string       `json:"deletedTaskIds"`
	ServerVectorClock vclock.Clock   `json:"serverVectorClock"`
	HasMore           bool           `json:"hasMore"`
	NextCursor        int64          `json:"nextCursor,omitempty"`
}

// Resolution modes for POST /api/sync/resolve.
const (
	ResolveKeepLocal  = "keep_local"
	ResolveKeepRemote = "keep_remote"
	ResolveMerge      = "merge"
)

// MergedTask is the client-merged replacement row for merge resolutions.
type MergedTask struct {
	EncryptedBlob string       `json:"encryptedBlob"`
	Nonce         string       `json:"nonce"`
	Checksum      string       `json:"checksum"`
	VectorClock   vclock.Clock `json:"vectorClock,omitempty"`
}

// ResolveRequest is the body of POST /api/sync/resolve.
type ResolveRequest struct {
	TaskID     string      `json:"taskId"`
	Resolution string      `json:"resolution"`
	MergedTask *MergedTask `json:"mergedTask,omitempty"`
}

// Status is the response of GET /api/sync/status. Pending counts are a
// client-only concept and always zero here.
type Status struct {
	LastSyncAt       int64 `json:"lastSyncAt"`
	PendingPushCount int   `json:"pendingPushCount"`
	PendingPullCount int   `json:"pendingPullCount"`
	ConflictCount    int   `json:"conflictCount"`
	DeviceCount      int   `json:"deviceCount"`
	StorageUsed      int64 `json:"storageUsed"`
	StorageQuota     int64 `json:"storageQuota"`
}

// Stats is the response of GET /api/stats: every envelope plus
// aggregates over envelope fields only.
type Stats struct {
	TotalTasks      int            `json:"totalTasks"`
	LiveTasks       int            `json:"liveTasks"`
	DeletedTasks    int            `json:"deletedTasks"`
	OldestCreatedAt int64          `json:"oldestCreatedAt,omitempty"`
	NewestUpdatedAt int64          `json:"newestUpdatedAt,omitempty"`
	StorageBytes    int64          `json:"storageBytes"`
	Tasks           []TaskEnvelope `json:"tasks"`
}
