// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/aristath/tierindex/internal/core"
	"github.com/aristath/tierindex/internal/domain"
	"github.com/aristath/tierindex/internal/modules/activetier"
	"github.com/aristath/tierindex/internal/modules/grace"
	"github.com/aristath/tierindex/internal/modules/history"
	"github.com/aristath/tierindex/internal/modules/index"
	"github.com/aristath/tierindex/internal/modules/marketdata"
	"github.com/aristath/tierindex/internal/modules/rebalancing"
	"github.com/aristath/tierindex/internal/modules/registry"
	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	DataDir  string `toml:"data_dir"` // Base directory for the state database and snapshots (always absolute after Load)
	LogLevel string `toml:"log_level"`
	Port     int    `toml:"port"`
	DevMode  bool   `toml:"dev_mode"`

	Fund   FundConfig   `toml:"fund"`
	Jobs   JobsConfig   `toml:"jobs"`
	Auth   AuthConfig   `toml:"auth"`
	Redis  RedisConfig  `toml:"redis"`
	Paper  PaperConfig  `toml:"paper"`
	Backup BackupConfig `toml:"backup"`
}

// FundConfig tunes the fund core
type FundConfig struct {
	GracePeriod       time.Duration `toml:"grace_period"`
	MinAssets         int           `toml:"min_assets"`
	Staleness         time.Duration `toml:"staleness"`
	MaxShiftBP        int           `toml:"max_shift_bp"`
	MaxPositionBP     int           `toml:"max_position_bp"`
	MaxAssets         int           `toml:"max_assets"`
	MinHistorySamples int           `toml:"min_history_samples"`
	HistoryWindow     int           `toml:"history_window"`
	HistoryCapacity   int           `toml:"history_capacity"`
	Smoothing         string        `toml:"smoothing"`
	RebalanceInterval time.Duration `toml:"rebalance_interval"`
	CallTimeout       time.Duration `toml:"call_timeout"`

	// Per-invocation work bounds for the scheduled jobs
	RefreshBatch   int `toml:"refresh_batch"`
	ProcessBatch   int `toml:"process_batch"`
	SampleBatch    int `toml:"sample_batch"`
	RebalanceSteps int `toml:"rebalance_steps"`
}

// JobsConfig holds cron specs (seconds field included). Empty disables a job.
type JobsConfig struct {
	ProcessDue    string `toml:"process_due"`
	RefreshTiers  string `toml:"refresh_tiers"`
	SampleMetrics string `toml:"sample_metrics"`
	RefreshIndex  string `toml:"refresh_index"`
	Rebalance     string `toml:"rebalance"`
	Backup        string `toml:"backup"`
	Maintenance   string `toml:"maintenance"`
}

// AuthConfig maps bearer tokens to roles
type AuthConfig struct {
	OwnerToken     string `toml:"owner_token"`
	ManagerToken   string `toml:"manager_token"`
	EmergencyToken string `toml:"emergency_token"`
}

// RedisConfig locates the price oracle feed
type RedisConfig struct {
	Addr      string        `toml:"addr"`
	Password  string        `toml:"password"`
	DB        int           `toml:"db"`
	KeyPrefix string        `toml:"key_prefix"`
	MaxAge    time.Duration `toml:"max_age"`
}

// PaperConfig tunes the paper trading venue
type PaperConfig struct {
	SlippageBP int `toml:"slippage_bp"`
}

// BackupConfig describes the S3-compatible snapshot target
type BackupConfig struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	Prefix         string `toml:"prefix"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	ForcePathStyle bool   `toml:"force_path_style"`
	RetentionDays  int    `toml:"retention_days"`
}

// Defaults returns the built-in configuration
func Defaults() Config {
	return Config{
		DataDir:  "./data",
		LogLevel: "info",
		Port:     8001,
		Fund: FundConfig{
			GracePeriod:       grace.DefaultGracePeriod,
			MinAssets:         activetier.DefaultMinAssets,
			Staleness:         index.DefaultStaleness,
			MaxShiftBP:        rebalancing.DefaultMaxShiftBP,
			MaxPositionBP:     rebalancing.DefaultMaxPositionBP,
			MaxAssets:         registry.DefaultMaxAssets,
			MinHistorySamples: history.DefaultMinSamples,
			HistoryWindow:     history.DefaultCapacity,
			HistoryCapacity:   history.DefaultCapacity,
			Smoothing:         string(history.SmoothingSMA),
			RebalanceInterval: rebalancing.DefaultInterval,
			CallTimeout:       marketdata.DefaultTimeout,
			RefreshBatch:      50,
			ProcessBatch:      50,
			SampleBatch:       50,
			RebalanceSteps:    20,
		},
		Jobs: JobsConfig{
			ProcessDue:    "0 */15 * * * *",
			RefreshTiers:  "0 0 */6 * * *",
			SampleMetrics: "0 30 * * * *",
			RefreshIndex:  "0 */5 * * * *",
			Rebalance:     "0 0 2 1 * *",
			Backup:        "0 0 3 * * *",
			Maintenance:   "0 0 * * * *",
		},
		Redis: RedisConfig{
			Addr:      "localhost:6379",
			KeyPrefix: "oracle",
			MaxAge:    index.DefaultStaleness,
		},
		Paper: PaperConfig{
			SlippageBP: 30,
		},
		Backup: BackupConfig{
			Region:        "us-east-1",
			Prefix:        "tierindex",
			RetentionDays: 30,
		},
	}
}

// Load reads configuration: optional .env, optional TOML file named by
// TIERINDEX_CONFIG, then TIERINDEX_* environment overrides
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg := Defaults()
	if path := os.Getenv("TIERINDEX_CONFIG"); path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}
	applyEnvOverrides(&cfg)

	absDataDir, err := filepath.Abs(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	cfg.DataDir = absDataDir

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	cfg.DataDir = getEnv("TIERINDEX_DATA_DIR", cfg.DataDir)
	cfg.LogLevel = getEnv("TIERINDEX_LOG_LEVEL", cfg.LogLevel)
	cfg.Port = getEnvAsInt("TIERINDEX_PORT", cfg.Port)
	cfg.DevMode = getEnvAsBool("TIERINDEX_DEV_MODE", cfg.DevMode)

	f := &cfg.Fund
	f.GracePeriod = getEnvAsDuration("TIERINDEX_GRACE_PERIOD", f.GracePeriod)
	f.MinAssets = getEnvAsInt("TIERINDEX_MIN_ASSETS", f.MinAssets)
	f.Staleness = getEnvAsDuration("TIERINDEX_STALENESS", f.Staleness)
	f.MaxShiftBP = getEnvAsInt("TIERINDEX_MAX_SHIFT_BP", f.MaxShiftBP)
	f.MaxPositionBP = getEnvAsInt("TIERINDEX_MAX_POSITION_BP", f.MaxPositionBP)
	f.MaxAssets = getEnvAsInt("TIERINDEX_MAX_ASSETS", f.MaxAssets)
	f.MinHistorySamples = getEnvAsInt("TIERINDEX_MIN_HISTORY_SAMPLES", f.MinHistorySamples)
	f.HistoryWindow = getEnvAsInt("TIERINDEX_HISTORY_WINDOW", f.HistoryWindow)
	f.HistoryCapacity = getEnvAsInt("TIERINDEX_HISTORY_CAPACITY", f.HistoryCapacity)
	f.Smoothing = getEnv("TIERINDEX_SMOOTHING", f.Smoothing)
	f.RebalanceInterval = getEnvAsDuration("TIERINDEX_REBALANCE_INTERVAL", f.RebalanceInterval)
	f.CallTimeout = getEnvAsDuration("TIERINDEX_CALL_TIMEOUT", f.CallTimeout)
	f.RefreshBatch = getEnvAsInt("TIERINDEX_REFRESH_BATCH", f.RefreshBatch)
	f.ProcessBatch = getEnvAsInt("TIERINDEX_PROCESS_BATCH", f.ProcessBatch)
	f.SampleBatch = getEnvAsInt("TIERINDEX_SAMPLE_BATCH", f.SampleBatch)
	f.RebalanceSteps = getEnvAsInt("TIERINDEX_REBALANCE_STEPS", f.RebalanceSteps)

	j := &cfg.Jobs
	j.ProcessDue = getEnv("TIERINDEX_JOB_PROCESS_DUE", j.ProcessDue)
	j.RefreshTiers = getEnv("TIERINDEX_JOB_REFRESH_TIERS", j.RefreshTiers)
	j.SampleMetrics = getEnv("TIERINDEX_JOB_SAMPLE_METRICS", j.SampleMetrics)
	j.RefreshIndex = getEnv("TIERINDEX_JOB_REFRESH_INDEX", j.RefreshIndex)
	j.Rebalance = getEnv("TIERINDEX_JOB_REBALANCE", j.Rebalance)
	j.Backup = getEnv("TIERINDEX_JOB_BACKUP", j.Backup)
	j.Maintenance = getEnv("TIERINDEX_JOB_MAINTENANCE", j.Maintenance)

	cfg.Auth.OwnerToken = getEnv("TIERINDEX_OWNER_TOKEN", cfg.Auth.OwnerToken)
	cfg.Auth.ManagerToken = getEnv("TIERINDEX_MANAGER_TOKEN", cfg.Auth.ManagerToken)
	cfg.Auth.EmergencyToken = getEnv("TIERINDEX_EMERGENCY_TOKEN", cfg.Auth.EmergencyToken)

	cfg.Redis.Addr = getEnv("TIERINDEX_REDIS_ADDR", cfg.Redis.Addr)
	cfg.Redis.Password = getEnv("TIERINDEX_REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Redis.DB = getEnvAsInt("TIERINDEX_REDIS_DB", cfg.Redis.DB)
	cfg.Redis.KeyPrefix = getEnv("TIERINDEX_REDIS_KEY_PREFIX", cfg.Redis.KeyPrefix)
	cfg.Redis.MaxAge = getEnvAsDuration("TIERINDEX_REDIS_MAX_AGE", cfg.Redis.MaxAge)

	cfg.Paper.SlippageBP = getEnvAsInt("TIERINDEX_PAPER_SLIPPAGE_BP", cfg.Paper.SlippageBP)

	b := &cfg.Backup
	b.Enabled = getEnvAsBool("TIERINDEX_BACKUP_ENABLED", b.Enabled)
	b.Endpoint = getEnv("TIERINDEX_S3_ENDPOINT", b.Endpoint)
	b.Region = getEnv("TIERINDEX_S3_REGION", b.Region)
	b.Bucket = getEnv("TIERINDEX_S3_BUCKET", b.Bucket)
	b.Prefix = getEnv("TIERINDEX_S3_PREFIX", b.Prefix)
	b.AccessKey = getEnv("TIERINDEX_S3_ACCESS_KEY", b.AccessKey)
	b.SecretKey = getEnv("TIERINDEX_S3_SECRET_KEY", b.SecretKey)
	b.ForcePathStyle = getEnvAsBool("TIERINDEX_S3_FORCE_PATH_STYLE", b.ForcePathStyle)
	b.RetentionDays = getEnvAsInt("TIERINDEX_BACKUP_RETENTION_DAYS", b.RetentionDays)
}

// Validate checks the configuration is usable
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("%w: port %d", domain.ErrInvalidParameter, c.Port)
	}
	f := c.Fund
	if f.GracePeriod < grace.MinGracePeriod || f.GracePeriod > grace.MaxGracePeriod {
		return fmt.Errorf("%w: grace period %s outside [%s, %s]",
			domain.ErrInvalidParameter, f.GracePeriod, grace.MinGracePeriod, grace.MaxGracePeriod)
	}
	if f.MinAssets < 1 {
		return fmt.Errorf("%w: min assets %d", domain.ErrInvalidParameter, f.MinAssets)
	}
	if f.MaxAssets < 1 {
		return fmt.Errorf("%w: max assets %d", domain.ErrInvalidParameter, f.MaxAssets)
	}
	if f.Staleness <= 0 || f.CallTimeout <= 0 {
		return fmt.Errorf("%w: staleness and call timeout must be positive", domain.ErrInvalidParameter)
	}
	if f.MinHistorySamples < 1 || f.HistoryWindow < f.MinHistorySamples || f.HistoryCapacity < f.HistoryWindow {
		return fmt.Errorf("%w: history needs 1 <= min samples (%d) <= window (%d) <= capacity (%d)",
			domain.ErrInvalidParameter, f.MinHistorySamples, f.HistoryWindow, f.HistoryCapacity)
	}
	if _, err := history.ParseSmoothing(f.Smoothing); err != nil {
		return err
	}
	if f.RefreshBatch < 1 || f.ProcessBatch < 1 || f.SampleBatch < 1 || f.RebalanceSteps < 1 {
		return fmt.Errorf("%w: batch sizes must be positive", domain.ErrInvalidParameter)
	}
	if c.Paper.SlippageBP < 0 || c.Paper.SlippageBP >= domain.MaxWeightBP {
		return fmt.Errorf("%w: slippage %d bp", domain.ErrInvalidParameter, c.Paper.SlippageBP)
	}
	if c.Backup.Enabled && c.Backup.Bucket == "" {
		return fmt.Errorf("%w: backup enabled without a bucket", domain.ErrInvalidParameter)
	}
	if c.Backup.RetentionDays < 0 {
		return fmt.Errorf("%w: backup retention %d days", domain.ErrInvalidParameter, c.Backup.RetentionDays)
	}
	return c.Options().Rebalance.Validate()
}

// Options converts the fund settings into core tuning
func (c *Config) Options() core.Options {
	smoothing, err := history.ParseSmoothing(c.Fund.Smoothing)
	if err != nil {
		smoothing = history.SmoothingSMA
	}
	return core.Options{
		Staleness:   c.Fund.Staleness,
		CallTimeout: c.Fund.CallTimeout,
		Rebalance: rebalancing.Config{
			Smoother: history.Smoother{
				Method:     smoothing,
				MinSamples: c.Fund.MinHistorySamples,
				Window:     c.Fund.HistoryWindow,
				EMAPeriod:  c.Fund.MinHistorySamples,
			},
			Interval:      c.Fund.RebalanceInterval,
			MaxShiftBP:    c.Fund.MaxShiftBP,
			MaxPositionBP: c.Fund.MaxPositionBP,
		},
	}
}

// StateConfig seeds a fresh fund state
func (c *Config) StateConfig() core.StateConfig {
	return core.StateConfig{
		GracePeriod:     c.Fund.GracePeriod,
		MinAssets:       c.Fund.MinAssets,
		MaxAssets:       c.Fund.MaxAssets,
		HistoryCapacity: c.Fund.HistoryCapacity,
	}
}

// DatabasePath is the location of the state database
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "tierindex.db")
}

// Tokens maps each configured bearer token to its role set.
// One token may carry several roles when the same value is reused.
func (a AuthConfig) Tokens() map[string]domain.RoleSet {
	out := make(map[string]domain.RoleSet)
	add := func(token string, role domain.Role) {
		token = strings.TrimSpace(token)
		if token == "" {
			return
		}
		if out[token] == nil {
			out[token] = domain.RoleSet{}
		}
		out[token][role] = true
	}
	add(a.OwnerToken, domain.RoleOwner)
	add(a.ManagerToken, domain.RoleManager)
	add(a.EmergencyToken, domain.RoleEmergencyController)
	return out
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
