// Package cleanup implements the scheduled retention job: expired
// tombstones, resolved conflicts past their audit window, and device
// rows revoked long ago are hard-deleted on a fixed cadence.
package cleanup

import (
	"context"
	"time"

	"github.com/vscarpenter/gsd-task-manager-sub001/pkg/config"
	"github.com/vscarpenter/gsd-task-manager-sub001/pkg/logger"
	"github.com/vscarpenter/gsd-task-manager-sub001/pkg/storage"
)

// Result counts the rows removed by one run.
type Result struct {
	Tombstones        int64
	ResolvedConflicts int64
	StaleDevices      int64
}

// Job runs the retention passes against a store.
type Job struct {
	store storage.Store

	now func() time.Time
}

// New builds a cleanup job over the store.
func New(store storage.Store) *Job {
	return &Job{store: store, now: time.Now}
}

// Run executes the three retention passes once. The passes are
// independent: a failure in one is logged and the others still run, so
// a single bad table never blocks all retention.
func (j *Job) Run(ctx context.Context) Result {
	now := j.now()
	var res Result

	cutoff := now.Add(-config.TombstoneRetention).UnixMilli()
	if n, err := j.store.Tasks().PurgeTombstones(ctx, cutoff); err != nil {
		logger.Errorw("tombstone purge failed", "error", err)
	} else {
		res.Tombstones = n
	}

	cutoff = now.Add(-config.ConflictRetention).UnixMilli()
	if n, err := j.store.Sync().PurgeResolvedConflicts(ctx, cutoff); err != nil {
		logger.Errorw("resolved-conflict purge failed", "error", err)
	} else {
		res.ResolvedConflicts = n
	}

	cutoff = now.Add(-config.StaleDeviceRetention).UnixMilli()
	if n, err := j.store.Devices().PurgeInactive(ctx, cutoff); err != nil {
		logger.Errorw("stale-device purge failed", "error", err)
	} else {
		res.StaleDevices = n
	}

	logger.Infow("retention cleanup finished",
		"tombstones", res.Tombstones,
		"resolved_conflicts", res.ResolvedConflicts,
		"stale_devices", res.StaleDevices)
	return res
}

// Schedule runs the job every interval until the context is canceled.
// The first run happens after one full interval, not at startup, so a
// crash-looping process does not hammer the database.
func (j *Job) Schedule(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.Run(ctx)
		}
	}
}
