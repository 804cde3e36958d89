package scheduler

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/kagaztrade/kagaz/internal/modules/snapshots"
)

// SnapshotJob records the daily NAV for every account. Scheduled after
// market close; re-running it on the same day replaces that day's rows.
type SnapshotJob struct {
	snapshots *snapshots.Service
	log       zerolog.Logger
}

// NewSnapshotJob creates the daily NAV snapshot job
func NewSnapshotJob(snapshotService *snapshots.Service, log zerolog.Logger) *SnapshotJob {
	return &SnapshotJob{
		snapshots: snapshotService,
		log:       log.With().Str("job", "nav_snapshot").Logger(),
	}
}

// Name returns the job name
func (j *SnapshotJob) Name() string {
	return "nav_snapshot"
}

// Run snapshots all accounts
func (j *SnapshotJob) Run() error {
	return j.snapshots.SnapshotAll(context.Background())
}
