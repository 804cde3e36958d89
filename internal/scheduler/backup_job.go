package scheduler

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/kagaztrade/kagaz/internal/reliability"
)

// BackupJob runs the nightly database backup and rotates old archives
type BackupJob struct {
	backups *reliability.BackupService
	log     zerolog.Logger
}

// NewBackupJob creates the nightly backup job
func NewBackupJob(backupService *reliability.BackupService, log zerolog.Logger) *BackupJob {
	return &BackupJob{
		backups: backupService,
		log:     log.With().Str("job", "backup").Logger(),
	}
}

// Name returns the job name
func (j *BackupJob) Name() string {
	return "backup"
}

// Run creates and uploads a backup, then rotates old ones
func (j *BackupJob) Run() error {
	ctx := context.Background()

	if err := j.backups.CreateAndUploadBackup(ctx); err != nil {
		return err
	}

	if err := j.backups.RotateOldBackups(ctx); err != nil {
		// A failed rotation only means extra archives linger.
		j.log.Warn().Err(err).Msg("Backup rotation failed")
	}

	return nil
}
