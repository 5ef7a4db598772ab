// Package store persists the fund core state in SQLite.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aristath/tierindex/internal/core"
	"github.com/aristath/tierindex/internal/database"
	"github.com/aristath/tierindex/internal/domain"
	"github.com/aristath/tierindex/internal/modules/rebalancing"
	"github.com/rs/zerolog"
)

// Store saves and loads the whole core state. Every Save replaces the previous
// state inside one transaction.
type Store struct {
	db  *database.DB
	log zerolog.Logger
}

// New creates a store over a migrated core database
func New(db *database.DB, log zerolog.Logger) *Store {
	return &Store{
		db:  db,
		log: log.With().Str("repo", "state").Logger(),
	}
}

var stateTables = []string{
	"metric_samples",
	"pending_changes",
	"assets",
	"tier_distribution",
	"tier_thresholds",
	"active_tier_shifts",
	"active_tier",
	"index_state",
	"rebalance_state",
	"fund_settings",
}

// Save implements core.Persister
func (s *Store) Save(ctx context.Context, st *core.State) error {
	journal, err := rebalancing.EncodeJournal(st.Rebalance.Journal)
	if err != nil {
		return err
	}
	lastJournal, err := rebalancing.EncodeJournal(st.Rebalance.LastJournal)
	if err != nil {
		return err
	}
	missing, err := json.Marshal(st.Index.Missing)
	if err != nil {
		return fmt.Errorf("failed to encode missing assets: %w", err)
	}

	err = database.WithTransaction(ctx, s.db.Conn(), func(tx *sql.Tx) error {
		for _, table := range stateTables {
			if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
				return fmt.Errorf("failed to clear %s: %w", table, err)
			}
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO fund_settings
			(id, next_asset_id, grace_period_ns, refresh_cursor, sample_cursor, history_capacity,
			 max_assets, operating_state, operating_reason, operating_changed_at, updated_at)
			VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			uint32(st.Registry.NextID()),
			int64(st.Pending.GracePeriod),
			uint32(st.Pending.RefreshCursor),
			uint32(st.History.Cursor),
			st.History.Capacity,
			st.Registry.MaxAssets(),
			string(st.Operations.State),
			st.Operations.Reason,
			formatTime(st.Operations.ChangedAt),
			formatTime(time.Now()),
		); err != nil {
			return fmt.Errorf("failed to save settings: %w", err)
		}

		for _, rec := range st.Registry.List() {
			var retiredAt interface{}
			if rec.RetiredAt != nil {
				retiredAt = formatTime(*rec.RetiredAt)
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO assets
				(id, underlying, provider, quantity, staked, target_weight_bp, tier,
				 tier_changed_at, registered_at, retired, retired_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				uint32(rec.ID), rec.Underlying, rec.Provider,
				rec.Quantity.String(), rec.Staked.String(),
				rec.TargetWeightBP, uint8(rec.Tier),
				formatTime(rec.TierChangedAt), formatTime(rec.RegisteredAt),
				boolToInt(rec.Retired), retiredAt,
			); err != nil {
				return fmt.Errorf("failed to save asset %s: %w", rec.ID, err)
			}
		}

		for tier, count := range st.Registry.Distribution().Counts() {
			if _, err := tx.ExecContext(ctx,
				"INSERT INTO tier_distribution (tier, count) VALUES (?, ?)", uint8(tier), count); err != nil {
				return fmt.Errorf("failed to save distribution: %w", err)
			}
		}

		for i, th := range st.Thresholds {
			if _, err := tx.ExecContext(ctx,
				"INSERT INTO tier_thresholds (tier, market_cap_floor, volume_floor) VALUES (?, ?, ?)",
				i+1, th.MarketCapFloor.String(), th.VolumeFloor.String()); err != nil {
				return fmt.Errorf("failed to save thresholds: %w", err)
			}
		}

		for _, p := range st.Pending.List() {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO pending_changes
				(asset_id, current_tier, proposed_tier, proposed_at, commit_at, reason)
				VALUES (?, ?, ?, ?, ?, ?)`,
				uint32(p.AssetID), uint8(p.CurrentTier), uint8(p.ProposedTier),
				formatTime(p.ProposedAt), formatTime(p.CommitAt), p.Reason,
			); err != nil {
				return fmt.Errorf("failed to save pending change for asset %s: %w", p.AssetID, err)
			}
		}

		at := st.ActiveTier
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO active_tier (id, active, min_assets, last_shift_at) VALUES (1, ?, ?, ?)",
			uint8(at.Active), at.MinAssets, formatTime(at.LastShiftAt)); err != nil {
			return fmt.Errorf("failed to save active tier: %w", err)
		}
		for i, sh := range at.History {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO active_tier_shifts
				(seq, at, from_tier, to_tier, reason, justification, qualifying, total)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
				i, formatTime(sh.At), uint8(sh.From), uint8(sh.To),
				sh.Reason, sh.Justification, sh.Qualifying, sh.Total,
			); err != nil {
				return fmt.Errorf("failed to save tier shift: %w", err)
			}
		}

		ix := st.Index
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO index_state
			(id, initialized, initialized_at, baseline_value, baseline_aggregate, current_value,
			 performance_bp, last_update, last_reset_at, reset_count, degraded, missing, tracking_enabled)
			VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			boolToInt(ix.Initialized), formatTime(ix.InitializedAt),
			ix.BaselineValue.String(), ix.BaselineAggregate.String(), ix.CurrentValue.String(),
			ix.PerformanceBP, formatTime(ix.LastUpdate), formatTime(ix.LastResetAt),
			ix.ResetCount, boolToInt(ix.Degraded), string(missing), boolToInt(ix.TrackingEnabled),
		); err != nil {
			return fmt.Errorf("failed to save index state: %w", err)
		}

		for id, samples := range st.History.Samples {
			for seq, sample := range samples {
				if _, err := tx.ExecContext(ctx, `
					INSERT INTO metric_samples (asset_id, seq, at, market_cap, trailing_volume, price)
					VALUES (?, ?, ?, ?, ?, ?)`,
					uint32(id), seq, formatTime(sample.At),
					sample.MarketCap.String(), sample.TrailingVolume.String(), sample.Price.String(),
				); err != nil {
					return fmt.Errorf("failed to save samples of asset %s: %w", id, err)
				}
			}
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO rebalance_state (id, last_rebalance_at, reserve, journal, last_journal)
			VALUES (1, ?, ?, ?, ?)`,
			formatTime(st.Rebalance.LastRebalanceAt), st.Rebalance.Reserve.String(), journal, lastJournal,
		); err != nil {
			return fmt.Errorf("failed to save rebalance state: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.log.Debug().Int("assets", len(st.Registry.List())).Msg("State saved")
	return nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	return t.UTC(), nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

var _ core.Persister = (*Store)(nil)

// assetID converts a scanned column value
func assetID(v int64) domain.AssetID {
	return domain.AssetID(uint32(v))
}
