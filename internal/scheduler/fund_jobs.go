package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/aristath/tierindex/internal/domain"
	"github.com/rs/zerolog"
)

// maxPasses bounds how many batches one job run may drive
const maxPasses = 1000

// DefaultJobTimeout bounds a single job run
const DefaultJobTimeout = 10 * time.Minute

// schedulerCaps is the identity jobs act under
var schedulerCaps = domain.NewRoleSet(domain.RoleManager)

// fundJob carries what every fund job needs
type fundJob struct {
	core    FundCore
	batch   int
	timeout time.Duration
	log     zerolog.Logger
}

func newFundJob(core FundCore, batch int, name string) fundJob {
	if batch < 1 {
		batch = 1
	}
	return fundJob{
		core:    core,
		batch:   batch,
		timeout: DefaultJobTimeout,
		log:     zerolog.Nop().With().Str("job", name).Logger(),
	}
}

func (j *fundJob) context() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), j.timeout)
}

// ProcessDueJob commits pending tier changes whose grace period has ended
type ProcessDueJob struct {
	fundJob
}

// NewProcessDueJob creates a new ProcessDueJob
func NewProcessDueJob(core FundCore, batch int) *ProcessDueJob {
	return &ProcessDueJob{fundJob: newFundJob(core, batch, "process_due")}
}

// SetLogger sets the logger for the job
func (j *ProcessDueJob) SetLogger(log zerolog.Logger) {
	j.log = log.With().Str("job", j.Name()).Logger()
}

// Name returns the job name
func (j *ProcessDueJob) Name() string {
	return "process_due"
}

// Run drains every due change, one batch at a time
func (j *ProcessDueJob) Run() error {
	ctx, cancel := j.context()
	defer cancel()

	total := 0
	for pass := 0; pass < maxPasses && j.core.DueCount() > 0; pass++ {
		n, err := j.core.ProcessDue(ctx, schedulerCaps, j.batch)
		if err != nil {
			return err
		}
		total += n
		if n == 0 {
			break
		}
	}
	if total > 0 {
		j.log.Info().Int("committed", total).Msg("Committed due tier changes")
	}
	return nil
}

// RefreshTiersJob reclassifies every active asset from live metrics
type RefreshTiersJob struct {
	fundJob
}

// NewRefreshTiersJob creates a new RefreshTiersJob
func NewRefreshTiersJob(core FundCore, batch int) *RefreshTiersJob {
	return &RefreshTiersJob{fundJob: newFundJob(core, batch, "refresh_tiers")}
}

// SetLogger sets the logger for the job
func (j *RefreshTiersJob) SetLogger(log zerolog.Logger) {
	j.log = log.With().Str("job", j.Name()).Logger()
}

// Name returns the job name
func (j *RefreshTiersJob) Name() string {
	return "refresh_tiers"
}

// Run sweeps the registry once
func (j *RefreshTiersJob) Run() error {
	ctx, cancel := j.context()
	defer cancel()

	var classified, proposed, cancelled, unavailable int
	for pass := 0; pass < maxPasses; pass++ {
		res, err := j.core.RefreshTiers(ctx, schedulerCaps, j.batch)
		if err != nil {
			return err
		}
		classified += res.Classified
		proposed += res.Proposed
		cancelled += res.Cancelled
		unavailable += len(res.Unavailable)
		if res.Done {
			break
		}
	}

	j.log.Info().
		Int("classified", classified).
		Int("proposed", proposed).
		Int("cancelled", cancelled).
		Int("unavailable", unavailable).
		Msg("Tier refresh completed")
	return nil
}

// SampleMetricsJob appends one metric observation per active asset
type SampleMetricsJob struct {
	fundJob
}

// NewSampleMetricsJob creates a new SampleMetricsJob
func NewSampleMetricsJob(core FundCore, batch int) *SampleMetricsJob {
	return &SampleMetricsJob{fundJob: newFundJob(core, batch, "sample_metrics")}
}

// SetLogger sets the logger for the job
func (j *SampleMetricsJob) SetLogger(log zerolog.Logger) {
	j.log = log.With().Str("job", j.Name()).Logger()
}

// Name returns the job name
func (j *SampleMetricsJob) Name() string {
	return "sample_metrics"
}

// Run samples the registry once
func (j *SampleMetricsJob) Run() error {
	ctx, cancel := j.context()
	defer cancel()

	sampled, unavailable := 0, 0
	for pass := 0; pass < maxPasses; pass++ {
		res, err := j.core.SampleMetrics(ctx, schedulerCaps, j.batch)
		if err != nil {
			return err
		}
		sampled += res.Sampled
		unavailable += len(res.Unavailable)
		if res.Done {
			break
		}
	}

	j.log.Debug().Int("sampled", sampled).Int("unavailable", unavailable).Msg("Metrics sampled")
	return nil
}

// RefreshIndexJob recomputes the cached index value
type RefreshIndexJob struct {
	fundJob
}

// NewRefreshIndexJob creates a new RefreshIndexJob
func NewRefreshIndexJob(core FundCore) *RefreshIndexJob {
	return &RefreshIndexJob{fundJob: newFundJob(core, 1, "refresh_index")}
}

// SetLogger sets the logger for the job
func (j *RefreshIndexJob) SetLogger(log zerolog.Logger) {
	j.log = log.With().Str("job", j.Name()).Logger()
}

// Name returns the job name
func (j *RefreshIndexJob) Name() string {
	return "refresh_index"
}

// Run refreshes the index once it has a baseline
func (j *RefreshIndexJob) Run() error {
	if !j.core.IndexReading().Initialized {
		j.log.Debug().Msg("Index not initialized, skipping refresh")
		return nil
	}

	ctx, cancel := j.context()
	defer cancel()

	reading, err := j.core.RefreshIndex(ctx, schedulerCaps)
	if err != nil {
		return err
	}
	if w := reading.Warning(); w != nil {
		j.log.Warn().Err(w).Msg("Index value is degraded")
	}
	return nil
}

// RebalanceJob runs the periodic rebalance to completion, resuming any
// partially executed plan
type RebalanceJob struct {
	fundJob
}

// NewRebalanceJob creates a new RebalanceJob executing maxSteps per call
func NewRebalanceJob(core FundCore, maxSteps int) *RebalanceJob {
	return &RebalanceJob{fundJob: newFundJob(core, maxSteps, "rebalance")}
}

// SetLogger sets the logger for the job
func (j *RebalanceJob) SetLogger(log zerolog.Logger) {
	j.log = log.With().Str("job", j.Name()).Logger()
}

// Name returns the job name
func (j *RebalanceJob) Name() string {
	return "rebalance"
}

// Run executes the due rebalance. A rebalance that is not yet due is not an error.
func (j *RebalanceJob) Run() error {
	ctx, cancel := j.context()
	defer cancel()

	for pass := 0; pass < maxPasses; pass++ {
		res, err := j.core.ExecuteRebalance(ctx, schedulerCaps, j.batch, false)
		if err != nil {
			if errors.Is(err, domain.ErrInsufficientHistory) {
				j.log.Warn().Err(err).Msg("Rebalance postponed")
				return nil
			}
			if errors.Is(err, domain.ErrOperationsHalted) {
				j.log.Info().Err(err).Msg("Rebalance held while operations are halted")
				return nil
			}
			return err
		}
		if res.Skipped {
			j.log.Debug().Time("next_due_at", res.NextDueAt).Msg("Rebalance not due")
			return nil
		}
		if res.Completed {
			j.log.Info().
				Str("plan_id", res.PlanID).
				Int("steps", res.Total).
				Msg("Rebalance completed")
			return nil
		}
		if res.Executed == 0 {
			break
		}
	}
	return nil
}
