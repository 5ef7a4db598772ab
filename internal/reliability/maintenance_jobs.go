package reliability

import (
	"fmt"
	"time"

	"github.com/aristath/tierindex/internal/database"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/disk"
)

const (
	// criticalFreeBytes halts maintenance: the next save may not fit
	criticalFreeBytes = 500 * 1024 * 1024
	lowFreeBytes      = 5 * 1024 * 1024 * 1024

	// vacuumFreelistRatio is the share of free pages above which the database is vacuumed
	vacuumFreelistRatio = 0.25
)

// MaintenanceJob checks disk headroom and compacts the state database
type MaintenanceJob struct {
	db      *database.DB
	dataDir string
	log     zerolog.Logger

	usage func(path string) (*disk.UsageStat, error)
}

// NewMaintenanceJob creates a new maintenance job
func NewMaintenanceJob(db *database.DB, dataDir string, log zerolog.Logger) *MaintenanceJob {
	return &MaintenanceJob{
		db:      db,
		dataDir: dataDir,
		log:     log.With().Str("job", "maintenance").Logger(),
		usage:   disk.Usage,
	}
}

// Name returns the job name for scheduler
func (j *MaintenanceJob) Name() string {
	return "maintenance"
}

// Run executes the maintenance job
func (j *MaintenanceJob) Run() error {
	j.log.Debug().Msg("Starting maintenance")
	startTime := time.Now()

	if err := j.checkDiskSpace(); err != nil {
		return err
	}
	if err := j.compact(); err != nil {
		// not critical, the database keeps working fragmented
		j.log.Error().Err(err).Msg("VACUUM failed")
	}

	j.log.Debug().
		Dur("duration_ms", time.Since(startTime)).
		Msg("Maintenance completed")
	return nil
}

// checkDiskSpace verifies sufficient disk space is available
func (j *MaintenanceJob) checkDiskSpace() error {
	stat, err := j.usage(j.dataDir)
	if err != nil {
		return fmt.Errorf("failed to stat filesystem: %w", err)
	}

	availableGB := float64(stat.Free) / 1e9
	j.log.Debug().Float64("available_gb", availableGB).Msg("Disk space check")

	switch {
	case stat.Free < criticalFreeBytes:
		j.log.Error().
			Float64("available_gb", availableGB).
			Msg("CRITICAL: Insufficient disk space")
		return fmt.Errorf("CRITICAL: only %.2f GB free in %s", availableGB, j.dataDir)
	case stat.Free < lowFreeBytes:
		j.log.Warn().
			Float64("available_gb", availableGB).
			Msg("Disk space running low")
	}
	return nil
}

// compact vacuums the database once enough pages are free
func (j *MaintenanceJob) compact() error {
	stats, err := j.db.GetStats()
	if err != nil {
		return err
	}
	if stats.PageCount == 0 || float64(stats.FreelistCount)/float64(stats.PageCount) < vacuumFreelistRatio {
		return nil
	}

	sizeBefore := stats.PageCount * stats.PageSize
	if _, err := j.db.Conn().Exec("VACUUM"); err != nil {
		return fmt.Errorf("VACUUM failed: %w", err)
	}

	after, err := j.db.GetStats()
	if err != nil {
		return err
	}
	j.log.Info().
		Str("database", j.db.Name()).
		Int64("size_before_bytes", sizeBefore).
		Int64("size_after_bytes", after.PageCount*after.PageSize).
		Msg("VACUUM completed")
	return nil
}
