package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/aristath/tierindex/internal/domain"
	"github.com/aristath/tierindex/internal/scheduler"
	"github.com/aristath/tierindex/internal/server/apiutil"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
)

const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// errUnavailable marks an optional subsystem that was not wired
var errUnavailable = fmt.Errorf("%w: not configured", domain.ErrExternalDataUnavailable)

// SystemHandlers serves monitoring, job and backup endpoints
type SystemHandlers struct {
	cfg         Config
	startupTime time.Time
	log         zerolog.Logger

	// replaced in tests
	hostStats func() (float64, float64)
	diskUsage func(path string) (*disk.UsageStat, error)
}

// NewSystemHandlers creates new system handlers
func NewSystemHandlers(cfg Config, log zerolog.Logger) *SystemHandlers {
	h := &SystemHandlers{
		cfg:         cfg,
		startupTime: time.Now(),
		log:         log.With().Str("handler", "system").Logger(),
		diskUsage:   disk.Usage,
	}
	h.hostStats = h.getSystemStats
	return h
}

// RegisterRoutes registers system routes
func (h *SystemHandlers) RegisterRoutes(r chi.Router) {
	r.Route("/system", func(r chi.Router) {
		r.Get("/status", h.HandleSystemStatus)
		r.Get("/database", h.HandleDatabaseStats)
		r.Get("/disk", h.HandleDiskUsage)
	})
	r.Route("/jobs", func(r chi.Router) {
		r.Get("/", h.HandleJobs)
		r.Post("/{name}/run", h.HandleRunJob)
	})
	r.Route("/backups", func(r chi.Router) {
		r.Get("/", h.HandleListBackups)
		r.Post("/", h.HandleCreateBackup)
	})
	r.Route("/paper", func(r chi.Router) {
		r.Get("/fills", h.HandleFills)
		r.Get("/unbonding", h.HandleUnbonding)
	})
}

// SystemStatusResponse summarizes the health of the fund process
type SystemStatusResponse struct {
	Status        string   `json:"status"`
	Problems      []string `json:"problems"`
	UptimeSeconds int64    `json:"uptime_seconds"`
	CPUPercent    float64  `json:"cpu_percent"`
	MemoryPercent float64  `json:"memory_percent"`
	DatabaseBytes int64    `json:"database_bytes"`
	Assets        int      `json:"assets"`
	DueChanges    int      `json:"due_changes"`
	ActiveTier    string   `json:"active_tier"`
	IndexStale    bool     `json:"index_stale"`
	IndexDegraded bool     `json:"index_degraded"`
	FailingJobs   []string `json:"failing_jobs,omitempty"`
}

// snapshot collects the status without host CPU sampling
func (h *SystemHandlers) snapshot(ctx context.Context) SystemStatusResponse {
	resp := SystemStatusResponse{
		Status:        StatusHealthy,
		Problems:      []string{},
		UptimeSeconds: int64(time.Since(h.startupTime).Seconds()),
	}

	if db := h.cfg.DB; db != nil {
		if err := db.HealthCheck(ctx); err != nil {
			resp.Status = StatusUnhealthy
			resp.Problems = append(resp.Problems, "database: "+err.Error())
		} else if stats, err := db.GetStats(); err == nil {
			resp.DatabaseBytes = stats.SizeBytes
		}
	}

	if c := h.cfg.Core; c != nil {
		resp.Assets = len(c.Assets())
		resp.DueChanges = c.DueCount()
		resp.ActiveTier = c.ActiveTier().Active.String()

		reading := c.IndexReading()
		resp.IndexStale = reading.Initialized && reading.Stale
		resp.IndexDegraded = reading.Degraded
		if resp.IndexStale {
			resp.Problems = append(resp.Problems, "index value is stale")
		}
		if resp.IndexDegraded {
			resp.Problems = append(resp.Problems, "index value is degraded")
		}
	}

	if h.cfg.Scheduler != nil {
		for _, st := range h.cfg.Scheduler.Statuses() {
			if st.LastErr != "" {
				resp.FailingJobs = append(resp.FailingJobs, st.Name)
				resp.Problems = append(resp.Problems, fmt.Sprintf("job %s: %s", st.Name, st.LastErr))
			}
		}
	}

	if resp.Status == StatusHealthy && len(resp.Problems) > 0 {
		resp.Status = StatusDegraded
	}
	return resp
}

// HandleSystemStatus returns the system status with host statistics
func (h *SystemHandlers) HandleSystemStatus(w http.ResponseWriter, r *http.Request) {
	resp := h.snapshot(r.Context())
	resp.CPUPercent, resp.MemoryPercent = h.hostStats()
	apiutil.WriteJSON(w, h.log, http.StatusOK, resp)
}

// HandleDatabaseStats returns state database statistics
func (h *SystemHandlers) HandleDatabaseStats(w http.ResponseWriter, r *http.Request) {
	if h.cfg.DB == nil {
		apiutil.WriteError(w, h.log, errUnavailable)
		return
	}
	stats, err := h.cfg.DB.GetStats()
	if err != nil {
		apiutil.WriteError(w, h.log, fmt.Errorf("failed to read database stats: %w", err))
		return
	}
	apiutil.WriteJSON(w, h.log, http.StatusOK, map[string]interface{}{
		"name":  h.cfg.DB.Name(),
		"path":  h.cfg.DB.Path(),
		"stats": stats,
	})
}

// DiskUsageResponse represents disk usage of the data directory's filesystem
type DiskUsageResponse struct {
	Path        string  `json:"path"`
	TotalMB     float64 `json:"total_mb"`
	UsedMB      float64 `json:"used_mb"`
	AvailableMB float64 `json:"available_mb"`
	UsedPercent float64 `json:"used_percent"`
}

// HandleDiskUsage returns disk usage statistics
func (h *SystemHandlers) HandleDiskUsage(w http.ResponseWriter, r *http.Request) {
	path := h.cfg.Config.DataDir
	usage, err := h.diskUsage(path)
	if err != nil {
		apiutil.WriteError(w, h.log, fmt.Errorf("failed to stat %s: %w", path, err))
		return
	}
	apiutil.WriteJSON(w, h.log, http.StatusOK, DiskUsageResponse{
		Path:        path,
		TotalMB:     float64(usage.Total) / 1024 / 1024,
		UsedMB:      float64(usage.Used) / 1024 / 1024,
		AvailableMB: float64(usage.Free) / 1024 / 1024,
		UsedPercent: usage.UsedPercent,
	})
}

// HandleJobs lists scheduled jobs and their last outcome
func (h *SystemHandlers) HandleJobs(w http.ResponseWriter, r *http.Request) {
	if h.cfg.Scheduler == nil {
		apiutil.WriteError(w, h.log, errUnavailable)
		return
	}
	statuses := h.cfg.Scheduler.Statuses()
	if statuses == nil {
		statuses = []scheduler.Status{}
	}
	apiutil.WriteJSON(w, h.log, http.StatusOK, statuses)
}

// HandleRunJob triggers a job immediately. Requires the manager role.
func (h *SystemHandlers) HandleRunJob(w http.ResponseWriter, r *http.Request) {
	if err := domain.Require(apiutil.Capabilities(r), domain.RoleManager); err != nil {
		apiutil.WriteError(w, h.log, err)
		return
	}
	if h.cfg.Scheduler == nil {
		apiutil.WriteError(w, h.log, errUnavailable)
		return
	}

	name := chi.URLParam(r, "name")
	if err := h.cfg.Scheduler.RunNow(name); err != nil {
		if errors.Is(err, scheduler.ErrUnknownJob) {
			err = fmt.Errorf("%w: %v", domain.ErrNotFound, err)
		}
		apiutil.WriteError(w, h.log, err)
		return
	}
	h.log.Info().Str("job", name).Msg("Job triggered")
	apiutil.WriteJSON(w, h.log, http.StatusAccepted, map[string]string{"job": name, "status": "triggered"})
}

// HandleListBackups lists stored backups, newest first
func (h *SystemHandlers) HandleListBackups(w http.ResponseWriter, r *http.Request) {
	if h.cfg.Backups == nil {
		apiutil.WriteError(w, h.log, errUnavailable)
		return
	}
	backups, err := h.cfg.Backups.ListBackups(r.Context())
	if err != nil {
		apiutil.WriteError(w, h.log, err)
		return
	}
	apiutil.WriteJSON(w, h.log, http.StatusOK, backups)
}

// HandleCreateBackup takes a backup now. Requires the owner role.
func (h *SystemHandlers) HandleCreateBackup(w http.ResponseWriter, r *http.Request) {
	if err := domain.Require(apiutil.Capabilities(r), domain.RoleOwner); err != nil {
		apiutil.WriteError(w, h.log, err)
		return
	}
	if h.cfg.Backups == nil {
		apiutil.WriteError(w, h.log, errUnavailable)
		return
	}
	key, err := h.cfg.Backups.Backup(r.Context())
	if err != nil {
		apiutil.WriteError(w, h.log, err)
		return
	}
	apiutil.WriteJSON(w, h.log, http.StatusCreated, map[string]string{"key": key})
}

// HandleFills returns the paper swap fill log
func (h *SystemHandlers) HandleFills(w http.ResponseWriter, r *http.Request) {
	if h.cfg.Swap == nil {
		apiutil.WriteError(w, h.log, errUnavailable)
		return
	}
	apiutil.WriteJSON(w, h.log, http.StatusOK, h.cfg.Swap.Fills())
}

// HandleUnbonding returns paper unstake requests still locked
func (h *SystemHandlers) HandleUnbonding(w http.ResponseWriter, r *http.Request) {
	if h.cfg.Staking == nil {
		apiutil.WriteError(w, h.log, errUnavailable)
		return
	}
	apiutil.WriteJSON(w, h.log, http.StatusOK, h.cfg.Staking.Unbonding())
}

// getSystemStats samples CPU over 100ms and reads memory usage
func (h *SystemHandlers) getSystemStats() (float64, float64) {
	cpuPercent, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get CPU percentage")
		cpuPercent = []float64{0}
	}

	memStat, err := mem.VirtualMemory()
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get memory statistics")
		return 0, 0
	}

	cpuAvg := 0.0
	if len(cpuPercent) > 0 {
		cpuAvg = cpuPercent[0]
	}
	return cpuAvg, memStat.UsedPercent
}
