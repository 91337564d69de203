package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vscarpenter/gsd-task-manager-sub001/pkg/config"
	"github.com/vscarpenter/gsd-task-manager-sub001/pkg/logger"
	"github.com/vscarpenter/gsd-task-manager-sub001/pkg/storage"
	"github.com/vscarpenter/gsd-task-manager-sub001/pkg/vclock"
)

// Validation errors surfaced to the handler as 400s.
var (
	ErrBatchTooLarge = fmt.Errorf("push batch exceeds %d operations", config.MaxPushBatch)
	ErrBadResolution = errors.New("resolution must be keep_local, keep_remote, or merge")
	ErrTaskNotFound  = errors.New("task not found")
)

// Service implements the sync operations over the relational store. All
// methods take the authenticated user and device IDs from the session,
// never from the request body.
type Service struct {
	store        storage.Store
	maxLiveTasks int

	now func() time.Time
}

// NewService wires the engine to a store.
func NewService(store storage.Store, maxLiveTasks int) *Service {
	return &Service{
		store:        store,
		maxLiveTasks: maxLiveTasks,
		now:          time.Now,
	}
}

// Push applies a batch of operations. Each operation is validated and
// applied independently; one bad operation never poisons the rest of the
// batch. The response partitions the batch into accepted, rejected, and
// conflicting task IDs.
func (s *Service) Push(ctx context.Context, userID, deviceID string, req PushRequest) (PushResponse, error) {
	if len(req.Operations) > config.MaxPushBatch {
		return PushResponse{}, ErrBatchTooLarge
	}

	now := s.now().UnixMilli()
	resp := PushResponse{
		Accepted:  []string{},
		Rejected:  []Rejection{},
		Conflicts: []ConflictEntry{},
	}

	for _, op := range req.Operations {
		if reason, detail := validateOperation(op); reason != "" {
			resp.Rejected = append(resp.Rejected, Rejection{TaskID: op.TaskID, Reason: reason, Detail: detail})
			continue
		}

		outcome, err := s.applyOperation(ctx, userID, deviceID, op, now)
		if err != nil {
			var qe *quotaError
			if errors.As(err, &qe) {
				resp.Rejected = append(resp.Rejected, Rejection{
					TaskID: op.TaskID,
					Reason: ReasonQuotaExceeded,
					Detail: qe.Error(),
				})
				continue
			}
			logger.Errorw("push operation failed", "task_id", op.TaskID, "type", op.Type, "error", err)
			resp.Rejected = append(resp.Rejected, Rejection{
				TaskID: op.TaskID,
				Reason: ReasonInternal,
				Detail: "operation could not be applied",
			})
			continue
		}
		if outcome.conflict != nil {
			resp.Conflicts = append(resp.Conflicts, *outcome.conflict)
			s.recordConflict(ctx, userID, *outcome.conflict, now)
			continue
		}
		resp.Accepted = append(resp.Accepted, op.TaskID)
	}

	serverClock, err := s.store.Tasks().MergedClock(ctx, userID)
	if err != nil {
		return PushResponse{}, fmt.Errorf("computing server vector clock: %w", err)
	}
	resp.ServerVectorClock = serverClock

	s.finishSync(ctx, userID, deviceID, storage.SyncMetadata{
		UserID:         userID,
		DeviceID:       deviceID,
		LastSyncAt:     now,
		LastPushVector: req.ClientVectorClock,
		SyncStatus:     syncStatusFor(len(resp.Conflicts)),
	}, storage.SyncOperation{
		UserID:        userID,
		DeviceID:      deviceID,
		Operation:     "push",
		VectorClock:   req.ClientVectorClock,
		TaskCount:     len(req.Operations),
		ConflictCount: len(resp.Conflicts),
		CreatedAt:     now,
	}, now)

	return resp, nil
}

// applyOutcome is the result of one operation: either it was applied, or
// it produced a conflict entry.
type applyOutcome struct {
	conflict *ConflictEntry
}

func (s *Service) applyOperation(ctx context.Context, userID, deviceID string, op Operation, now int64) (applyOutcome, error) {
	existing, err := s.store.Tasks().Get(ctx, userID, op.TaskID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return s.applyAbsent(ctx, userID, deviceID, op, now)
	case err != nil:
		return applyOutcome{}, err
	default:
		return s.applyPresent(ctx, userID, deviceID, op, existing, now)
	}
}

// applyAbsent handles operations against a task ID the server has never
// seen. Deletes of unknown tasks are accepted no-ops so retried delete
// batches stay idempotent.
func (s *Service) applyAbsent(ctx context.Context, userID, deviceID string, op Operation, now int64) (applyOutcome, error) {
	if op.Type == OpDelete {
		return applyOutcome{}, nil
	}

	live, err := s.store.Tasks().CountLive(ctx, userID)
	if err != nil {
		return applyOutcome{}, err
	}
	if live >= s.maxLiveTasks {
		return applyOutcome{}, &quotaError{live: live, max: s.maxLiveTasks}
	}

	return applyOutcome{}, s.store.Tasks().Insert(ctx, storage.EncryptedTask{
		ID:                 op.TaskID,
		UserID:             userID,
		EncryptedBlob:      op.EncryptedBlob,
		Nonce:              op.Nonce,
		Checksum:           op.Checksum,
		Version:            1,
		VectorClock:        op.VectorClock,
		LastModifiedDevice: deviceID,
		CreatedAt:          now,
		UpdatedAt:          now,
	})
}

// applyPresent compares the incoming clock against the stored row and
// either writes, no-ops, or reports a conflict.
//
// For an existing live row a create/update wins unless the clocks are
// concurrent: stale writers lose their data to last-write-wins only when
// they explicitly dominate or trail, never silently on a fork. A write
// against a tombstone must dominate the delete to resurrect the task;
// anything else is a delete_edit conflict. A delete must dominate (or
// match) the stored clock; a newer server row turns the delete into
// delete_edit, a fork into concurrent_edit.
func (s *Service) applyPresent(ctx context.Context, userID, deviceID string, op Operation, existing storage.EncryptedTask, now int64) (applyOutcome, error) {
	order := vclock.Compare(existing.VectorClock, op.VectorClock)

	conflictWith := func(reason string) applyOutcome {
		return applyOutcome{conflict: &ConflictEntry{
			TaskID:        op.TaskID,
			Reason:        reason,
			ExistingClock: existing.VectorClock,
			IncomingClock: op.VectorClock,
		}}
	}

	if op.Type == OpDelete {
		switch order {
		case vclock.Before, vclock.Identical:
			return applyOutcome{}, s.store.Tasks().SoftDelete(ctx, userID, op.TaskID, op.VectorClock, deviceID, now)
		case vclock.After:
			return conflictWith(ConflictDeleteEdit), nil
		default:
			return conflictWith(ConflictConcurrentEdit), nil
		}
	}

	if !existing.Live() {
		if order == vclock.Before {
			return applyOutcome{}, s.overwrite(ctx, userID, deviceID, op, existing, now)
		}
		return conflictWith(ConflictDeleteEdit), nil
	}

	if order == vclock.Concurrent {
		return conflictWith(ConflictConcurrentEdit), nil
	}
	return applyOutcome{}, s.overwrite(ctx, userID, deviceID, op, existing, now)
}

func (s *Service) overwrite(ctx context.Context, userID, deviceID string, op Operation, existing storage.EncryptedTask, now int64) error {
	return s.store.Tasks().Overwrite(ctx, storage.EncryptedTask{
		ID:                 op.TaskID,
		UserID:             userID,
		EncryptedBlob:      op.EncryptedBlob,
		Nonce:              op.Nonce,
		Checksum:           op.Checksum,
		Version:            existing.Version + 1,
		VectorClock:        op.VectorClock,
		LastModifiedDevice: deviceID,
		UpdatedAt:          now,
	})
}

// Pull returns rows changed at or after the requested timestamp, one
// page at a time. The since bound is inclusive, so a client that stores
// the returned nextCursor may see the boundary row again; re-applying it
// is harmless because envelopes are idempotent.
func (s *Service) Pull(ctx context.Context, userID, deviceID string, req PullRequest) (PullResponse, error) {
	since := req.SinceTimestamp
	if req.Cursor > 0 {
		since = req.Cursor
	}

	limit := req.Limit
	if limit <= 0 {
		limit = config.DefaultPullLimit
	}
	if limit > config.MaxPullLimit {
		limit = config.MaxPullLimit
	}

	// Fetch one extra row to learn whether another page exists.
	rows, err := s.store.Tasks().ListChangedSince(ctx, userID, since, limit+1)
	if err != nil {
		return PullResponse{}, fmt.Errorf("listing changed tasks: %w", err)
	}

	resp := PullResponse{
		Tasks:          []TaskEnvelope{},
		DeletedTaskIDs: []string{},
	}
	if len(rows) > limit {
		resp.HasMore = true
		rows = rows[:limit]
	}
	for i := range rows {
		row := &rows[i]
		if row.Live() {
			resp.Tasks = append(resp.Tasks, envelopeOf(row))
		} else {
			resp.DeletedTaskIDs = append(resp.DeletedTaskIDs, row.ID)
		}
	}
	if resp.HasMore {
		resp.NextCursor = rows[len(rows)-1].ChangedAt()
	}

	serverClock, err := s.store.Tasks().MergedClock(ctx, userID)
	if err != nil {
		return PullResponse{}, fmt.Errorf("computing server vector clock: %w", err)
	}
	resp.ServerVectorClock = serverClock

	now := s.now().UnixMilli()
	s.finishSync(ctx, userID, deviceID, storage.SyncMetadata{
		UserID:         userID,
		DeviceID:       deviceID,
		LastSyncAt:     now,
		LastPullVector: serverClock,
		SyncStatus:     storage.SyncSuccess,
	}, storage.SyncOperation{
		UserID:      userID,
		DeviceID:    deviceID,
		Operation:   "pull",
		VectorClock: req.LastVectorClock,
		TaskCount:   len(rows),
		CreatedAt:   now,
	}, now)

	return resp, nil
}

// Resolve records a manual conflict resolution. keep_local and
// keep_remote need no server write: the client follows up with a push or
// pull respectively. A merge resolution carries the merged row, which
// replaces the stored one with a bumped version and the union of the
// clocks.
func (s *Service) Resolve(ctx context.Context, userID, deviceID string, req ResolveRequest) error {
	switch req.Resolution {
	case ResolveKeepLocal, ResolveKeepRemote:
	case ResolveMerge:
		if req.MergedTask == nil {
			return fmt.Errorf("%w: merge requires mergedTask", ErrBadResolution)
		}
	default:
		return ErrBadResolution
	}

	now := s.now().UnixMilli()

	existing, err := s.store.Tasks().Get(ctx, userID, req.TaskID)
	if errors.Is(err, storage.ErrNotFound) {
		return ErrTaskNotFound
	}
	if err != nil {
		return err
	}

	if req.Resolution == ResolveMerge {
		merged := req.MergedTask
		err := s.store.Tasks().Overwrite(ctx, storage.EncryptedTask{
			ID:                 req.TaskID,
			UserID:             userID,
			EncryptedBlob:      merged.EncryptedBlob,
			Nonce:              merged.Nonce,
			Checksum:           merged.Checksum,
			Version:            existing.Version + 1,
			VectorClock:        vclock.Merge(existing.VectorClock, merged.VectorClock),
			LastModifiedDevice: deviceID,
			UpdatedAt:          now,
		})
		if err != nil {
			return fmt.Errorf("writing merged task: %w", err)
		}
	}

	if err := s.store.Sync().RecordConflict(ctx, storage.Conflict{
		UserID:        userID,
		TaskID:        req.TaskID,
		Reason:        ConflictConcurrentEdit,
		Resolution:    storage.ResolutionManual,
		ExistingClock: existing.VectorClock,
		IncomingClock: mergedClockOf(req),
		CreatedAt:     now,
		ResolvedAt:    now,
	}); err != nil {
		logger.Errorw("recording conflict resolution failed", "task_id", req.TaskID, "error", err)
	}

	if _, err := s.store.Sync().MarkTaskConflictsResolved(ctx, userID, req.TaskID, now); err != nil {
		logger.Errorw("marking conflicts resolved failed", "task_id", req.TaskID, "error", err)
	}
	return nil
}

func mergedClockOf(req ResolveRequest) vclock.Clock {
	if req.MergedTask != nil {
		return req.MergedTask.VectorClock
	}
	return vclock.Clock{}
}

// Status summarizes sync health for the authenticated device. The
// pending counts exist only on clients, which have a local queue; the
// server reports them as zero for API symmetry.
func (s *Service) Status(ctx context.Context, userID, deviceID string) (Status, error) {
	st := Status{
		StorageQuota: config.StorageQuotaBytes,
	}

	meta, err := s.store.Sync().GetMetadata(ctx, userID, deviceID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		// Device has never synced.
	case err != nil:
		return Status{}, err
	default:
		st.LastSyncAt = meta.LastSyncAt
	}

	conflicts, err := s.store.Sync().CountOpenConflicts(ctx, userID)
	if err != nil {
		return Status{}, err
	}
	st.ConflictCount = conflicts

	devices, err := s.store.Devices().List(ctx, userID)
	if err != nil {
		return Status{}, err
	}
	st.DeviceCount = len(devices)

	live, err := s.store.Tasks().CountLive(ctx, userID)
	if err != nil {
		return Status{}, err
	}
	st.StorageUsed = int64(live) * config.TaskSizeEstimate

	return st, nil
}

// Stats returns every envelope the server holds for the user plus
// aggregates computed from envelope metadata. The blobs stay opaque;
// the only size available is the ciphertext length.
func (s *Service) Stats(ctx context.Context, userID string) (Stats, error) {
	rows, err := s.store.Tasks().ListAll(ctx, userID)
	if err != nil {
		return Stats{}, err
	}

	stats := Stats{
		TotalTasks: len(rows),
		Tasks:      make([]TaskEnvelope, 0, len(rows)),
	}
	for i := range rows {
		row := &rows[i]
		if row.Live() {
			stats.LiveTasks++
		} else {
			stats.DeletedTasks++
		}
		if stats.OldestCreatedAt == 0 || row.CreatedAt < stats.OldestCreatedAt {
			stats.OldestCreatedAt = row.CreatedAt
		}
		if row.UpdatedAt > stats.NewestUpdatedAt {
			stats.NewestUpdatedAt = row.UpdatedAt
		}
		stats.StorageBytes += int64(len(row.EncryptedBlob))
		stats.Tasks = append(stats.Tasks, envelopeOf(row))
	}
	return stats, nil
}

// finishSync records the metadata upsert and the audit row. Both are
// observational; failures are logged and do not fail the sync call that
// already did its task writes.
func (s *Service) finishSync(ctx context.Context, userID, deviceID string, meta storage.SyncMetadata, op storage.SyncOperation, now int64) {
	if err := s.store.Sync().UpsertMetadata(ctx, meta); err != nil {
		logger.Errorw("updating sync metadata failed", "user_id", userID, "device_id", deviceID, "error", err)
	}
	if err := s.store.Sync().RecordOperation(ctx, op); err != nil {
		logger.Errorw("recording sync operation failed", "user_id", userID, "device_id", deviceID, "error", err)
	}
	if err := s.store.Devices().TouchSeen(ctx, userID, deviceID, now); err != nil && !errors.Is(err, storage.ErrNotFound) {
		logger.Errorw("touching device failed", "user_id", userID, "device_id", deviceID, "error", err)
	}
}

func (s *Service) recordConflict(ctx context.Context, userID string, entry ConflictEntry, now int64) {
	err := s.store.Sync().RecordConflict(ctx, storage.Conflict{
		UserID:        userID,
		TaskID:        entry.TaskID,
		Reason:        entry.Reason,
		ExistingClock: entry.ExistingClock,
		IncomingClock: entry.IncomingClock,
		CreatedAt:     now,
	})
	if err != nil {
		logger.Errorw("recording conflict failed", "task_id", entry.TaskID, "error", err)
	}
}

func syncStatusFor(conflicts int) string {
	if conflicts > 0 {
		return storage.SyncConflict
	}
	return storage.SyncSuccess
}

func envelopeOf(t *storage.EncryptedTask) TaskEnvelope {
	return TaskEnvelope{
		TaskID:             t.ID,
		EncryptedBlob:      t.EncryptedBlob,
		Nonce:              t.Nonce,
		Checksum:           t.Checksum,
		Version:            t.Version,
		VectorClock:        t.VectorClock,
		LastModifiedDevice: t.LastModifiedDevice,
		CreatedAt:          t.CreatedAt,
		UpdatedAt:          t.UpdatedAt,
	}
}

// quotaError carries the live-task count for the rejection detail.
type quotaError struct {
	live, max int
}

func (e *quotaError) Error() string {
	return fmt.Sprintf("storage quota exceeded: %d of %d tasks used", e.live, e.max)
}

// validateOperation checks the shape of one push operation. An empty
// reason means the operation is valid.
func validateOperation(op Operation) (reason, detail string) {
	if op.TaskID == "" {
		return ReasonValidation, "taskId is required"
	}
	switch op.Type {
	case OpCreate, OpUpdate:
		if op.EncryptedBlob == "" || op.Nonce == "" || op.Checksum == "" {
			return ReasonValidation, "encryptedBlob, nonce, and checksum are required"
		}
		if len(op.EncryptedBlob) > config.MaxBlobBytes {
			return ReasonValidation, fmt.Sprintf("encryptedBlob exceeds %d bytes", config.MaxBlobBytes)
		}
		if len(op.Nonce) > config.MaxFieldBytes || len(op.Checksum) > config.MaxFieldBytes {
			return ReasonValidation, fmt.Sprintf("nonce and checksum are limited to %d bytes", config.MaxFieldBytes)
		}
	case OpDelete:
	default:
		return ReasonValidation, fmt.Sprintf("unknown operation type %q", op.Type)
	}
	if len(op.VectorClock) == 0 {
		return ReasonValidation, "vectorClock is required"
	}
	for device, counter := range op.VectorClock {
		if device == "" || counter < 0 {
			return ReasonValidation, "vectorClock entries must have a device ID and a non-negative counter"
		}
	}
	return "", ""
}
