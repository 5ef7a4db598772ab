// Package main runs the tiered index fund: the fund core behind an HTTP API,
// a Redis price oracle, paper trading venues and the scheduled jobs that
// keep classifications, the index value and the allocation current.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aristath/tierindex/internal/clients/oracle"
	"github.com/aristath/tierindex/internal/clients/paper"
	"github.com/aristath/tierindex/internal/config"
	"github.com/aristath/tierindex/internal/core"
	"github.com/aristath/tierindex/internal/database"
	"github.com/aristath/tierindex/internal/domain"
	"github.com/aristath/tierindex/internal/events"
	"github.com/aristath/tierindex/internal/reliability"
	"github.com/aristath/tierindex/internal/scheduler"
	"github.com/aristath/tierindex/internal/server"
	"github.com/aristath/tierindex/internal/store"
	"github.com/aristath/tierindex/pkg/logger"
	"github.com/rs/zerolog"
)

// loggable jobs accept the process logger after construction
type loggable interface {
	SetLogger(log zerolog.Logger)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logger.New(logger.Config{Level: "info", Pretty: true})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})
	logger.SetGlobalLogger(log)
	log.Info().Str("data_dir", cfg.DataDir).Msg("Starting tierindex")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := database.New(database.Config{
		Path:    cfg.DatabasePath(),
		Profile: database.ProfileLedger,
		Name:    "core",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open state database")
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("Failed to migrate state database")
	}

	st := store.New(db, log)
	state, err := st.Load(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load fund state")
	}
	if state == nil {
		log.Info().Msg("No saved state, starting an empty fund")
		state = core.NewState(cfg.StateConfig())
	}

	bus := events.NewBus()
	eventManager := events.NewManager(bus, log)

	rdb, err := oracle.Dial(ctx, oracle.ClientConfig{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		log.Fatal().Err(err).Str("addr", cfg.Redis.Addr).Msg("Failed to connect to price oracle")
	}
	defer rdb.Close()

	priceOracle := oracle.New(rdb, oracle.Config{
		KeyPrefix: cfg.Redis.KeyPrefix,
		MaxAge:    cfg.Redis.MaxAge,
	}, nil, log)

	swap, err := paper.NewSwap(priceOracle, cfg.Paper.SlippageBP, nil, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create paper swap venue")
	}
	staking := paper.NewStaking(nil, nil, log)
	staking.SetActiveTier(state.ActiveTier.Active)

	// unbonding locks follow the active tier
	bus.Subscribe(events.ActiveTierShifted, func(e *events.Event) {
		raw, _ := e.Data["new_tier"].(string)
		tier, err := domain.ParseTier(raw)
		if err != nil {
			log.Warn().Err(err).Msg("Ignoring active tier shift with unreadable tier")
			return
		}
		staking.SetActiveTier(tier)
	})

	fund, err := core.New(state, core.Deps{
		Oracle:  priceOracle,
		Swap:    swap,
		Staking: staking,
		Store:   st,
		Emitter: eventManager,
	}, cfg.Options(), log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create fund core")
	}

	sched := scheduler.New(log)
	var backups server.BackupManager

	jobs := []struct {
		schedule string
		job      scheduler.Job
	}{
		{cfg.Jobs.ProcessDue, scheduler.NewProcessDueJob(fund, cfg.Fund.ProcessBatch)},
		{cfg.Jobs.RefreshTiers, scheduler.NewRefreshTiersJob(fund, cfg.Fund.RefreshBatch)},
		{cfg.Jobs.SampleMetrics, scheduler.NewSampleMetricsJob(fund, cfg.Fund.SampleBatch)},
		{cfg.Jobs.RefreshIndex, scheduler.NewRefreshIndexJob(fund)},
		{cfg.Jobs.Rebalance, scheduler.NewRebalanceJob(fund, cfg.Fund.RebalanceSteps)},
		{cfg.Jobs.Maintenance, scheduler.NewCheckDatabaseJob(db)},
		{cfg.Jobs.Maintenance, scheduler.NewCheckWALCheckpointsJob(db)},
		{cfg.Jobs.Maintenance, reliability.NewMaintenanceJob(db, cfg.DataDir, log)},
	}

	if cfg.Backup.Enabled {
		s3Store, err := reliability.NewS3Store(ctx, reliability.S3Config{
			Endpoint:       cfg.Backup.Endpoint,
			Region:         cfg.Backup.Region,
			Bucket:         cfg.Backup.Bucket,
			AccessKey:      cfg.Backup.AccessKey,
			SecretKey:      cfg.Backup.SecretKey,
			ForcePathStyle: cfg.Backup.ForcePathStyle,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create backup store")
		}
		backupService := reliability.NewBackupService(db, s3Store, reliability.BackupConfig{
			StagingDir:    cfg.DataDir,
			Prefix:        cfg.Backup.Prefix,
			RetentionDays: cfg.Backup.RetentionDays,
		}, nil, eventManager, log)
		backups = backupService
		jobs = append(jobs, struct {
			schedule string
			job      scheduler.Job
		}{cfg.Jobs.Backup, scheduler.NewBackupJob(backupService)})
	}

	for _, j := range jobs {
		if l, ok := j.job.(loggable); ok {
			l.SetLogger(log)
		}
		if err := sched.AddJob(j.schedule, j.job); err != nil {
			log.Fatal().Err(err).Str("job", j.job.Name()).Msg("Failed to register job")
		}
	}
	sched.Start()

	srv := server.New(server.Config{
		Log:       log,
		Config:    cfg,
		DB:        db,
		Core:      fund,
		Bus:       bus,
		Events:    eventManager,
		Scheduler: sched,
		Backups:   backups,
		Swap:      swap,
		Staking:   staking,
	})

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()
	log.Info().Int("port", cfg.Port).Msg("Server started successfully")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	// lets a running job finish its save before the database closes
	sched.Stop()

	if err := db.WALCheckpoint("TRUNCATE"); err != nil {
		log.Warn().Err(err).Msg("Final WAL checkpoint failed")
	}
	log.Info().Msg("Server stopped")
}
