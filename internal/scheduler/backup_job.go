package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// BackupJob uploads a snapshot of the state database
type BackupJob struct {
	service BackupService
	timeout time.Duration
	log     zerolog.Logger
}

// NewBackupJob creates a new BackupJob
func NewBackupJob(service BackupService) *BackupJob {
	return &BackupJob{
		service: service,
		timeout: DefaultJobTimeout,
		log:     zerolog.Nop(),
	}
}

// SetLogger sets the logger for the job
func (j *BackupJob) SetLogger(log zerolog.Logger) {
	j.log = log.With().Str("job", j.Name()).Logger()
}

// Name returns the job name
func (j *BackupJob) Name() string {
	return "backup"
}

// Run executes the backup
func (j *BackupJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	key, err := j.service.Backup(ctx)
	if err != nil {
		return err
	}
	j.log.Info().Str("key", key).Msg("Backup uploaded")
	return nil
}
