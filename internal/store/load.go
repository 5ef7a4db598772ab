package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aristath/tierindex/internal/core"
	"github.com/aristath/tierindex/internal/domain"
	"github.com/aristath/tierindex/internal/modules/activetier"
	"github.com/aristath/tierindex/internal/modules/grace"
	"github.com/aristath/tierindex/internal/modules/history"
	"github.com/aristath/tierindex/internal/modules/index"
	"github.com/aristath/tierindex/internal/modules/rebalancing"
	"github.com/aristath/tierindex/internal/modules/registry"
	"github.com/aristath/tierindex/internal/modules/tiers"
	"github.com/shopspring/decimal"
)

// Load reads the saved state. It returns (nil, nil) when nothing has been saved.
func (s *Store) Load(ctx context.Context) (*core.State, error) {
	var (
		nextID, refreshCursor, sampleCursor int64
		gracePeriod                         int64
		capacity, maxAssets                 int
		opState, opReason, opChangedAt      string
		updatedAt                           string
	)
	err := s.db.Conn().QueryRowContext(ctx, `
		SELECT next_asset_id, grace_period_ns, refresh_cursor, sample_cursor, history_capacity,
		       max_assets, operating_state, operating_reason, operating_changed_at, updated_at
		FROM fund_settings WHERE id = 1`).
		Scan(&nextID, &gracePeriod, &refreshCursor, &sampleCursor, &capacity,
			&maxAssets, &opState, &opReason, &opChangedAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}

	st := &core.State{}

	records, err := s.loadAssets(ctx)
	if err != nil {
		return nil, err
	}
	counts, err := s.loadDistribution(ctx)
	if err != nil {
		return nil, err
	}
	st.Registry, err = registry.Restore(records, assetID(nextID), registry.NewDistribution(counts))
	if err != nil {
		return nil, fmt.Errorf("failed to restore registry: %w", err)
	}
	if err := st.Registry.SetMaxAssets(maxAssets); err != nil {
		return nil, fmt.Errorf("failed to restore registry: %w", err)
	}

	if st.Operations.State, err = domain.ParseOperatingState(opState); err != nil {
		return nil, err
	}
	st.Operations.Reason = opReason
	if st.Operations.ChangedAt, err = parseTime(opChangedAt); err != nil {
		return nil, err
	}

	if st.Thresholds, err = s.loadThresholds(ctx); err != nil {
		return nil, err
	}

	st.Pending = grace.NewBook(time.Duration(gracePeriod))
	st.Pending.RefreshCursor = assetID(refreshCursor)
	if err := s.loadPending(ctx, st.Pending); err != nil {
		return nil, err
	}

	if st.ActiveTier, err = s.loadActiveTier(ctx); err != nil {
		return nil, err
	}
	if st.Index, err = s.loadIndex(ctx); err != nil {
		return nil, err
	}

	st.History = history.NewStore(capacity)
	st.History.Cursor = assetID(sampleCursor)
	if err := s.loadSamples(ctx, st.History); err != nil {
		return nil, err
	}

	if st.Rebalance, err = s.loadRebalance(ctx); err != nil {
		return nil, err
	}

	s.log.Info().
		Int("assets", len(records)).
		Int("pending", len(st.Pending.Pending)).
		Str("saved_at", updatedAt).
		Msg("State loaded")
	return st, nil
}

func (s *Store) loadAssets(ctx context.Context) ([]*domain.AssetRecord, error) {
	rows, err := s.db.Conn().QueryContext(ctx, `
		SELECT id, underlying, provider, quantity, staked, target_weight_bp, tier,
		       tier_changed_at, registered_at, retired, retired_at
		FROM assets ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query assets: %w", err)
	}
	defer rows.Close()

	var out []*domain.AssetRecord
	for rows.Next() {
		var (
			id                      int64
			quantity, staked        string
			tier                    int
			changedAt, registeredAt string
			retired                 int
			retiredAt               sql.NullString
			rec                     domain.AssetRecord
		)
		if err := rows.Scan(&id, &rec.Underlying, &rec.Provider, &quantity, &staked,
			&rec.TargetWeightBP, &tier, &changedAt, &registeredAt, &retired, &retiredAt); err != nil {
			return nil, fmt.Errorf("failed to scan asset: %w", err)
		}
		rec.ID = assetID(id)
		rec.Tier = domain.Tier(tier)
		rec.Retired = retired != 0
		if rec.Quantity, err = decimal.NewFromString(quantity); err != nil {
			return nil, fmt.Errorf("asset %d quantity: %w", id, err)
		}
		if rec.Staked, err = decimal.NewFromString(staked); err != nil {
			return nil, fmt.Errorf("asset %d staked: %w", id, err)
		}
		if rec.TierChangedAt, err = parseTime(changedAt); err != nil {
			return nil, err
		}
		if rec.RegisteredAt, err = parseTime(registeredAt); err != nil {
			return nil, err
		}
		if retiredAt.Valid {
			t, err := parseTime(retiredAt.String)
			if err != nil {
				return nil, err
			}
			rec.RetiredAt = &t
		}
		out = append(out, &rec)
	}
	return out, rows.Err()
}

func (s *Store) loadDistribution(ctx context.Context) (map[domain.Tier]int, error) {
	rows, err := s.db.Conn().QueryContext(ctx, "SELECT tier, count FROM tier_distribution")
	if err != nil {
		return nil, fmt.Errorf("failed to query distribution: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.Tier]int)
	for rows.Next() {
		var tier, count int
		if err := rows.Scan(&tier, &count); err != nil {
			return nil, fmt.Errorf("failed to scan distribution: %w", err)
		}
		counts[domain.Tier(tier)] = count
	}
	return counts, rows.Err()
}

func (s *Store) loadThresholds(ctx context.Context) (tiers.Thresholds, error) {
	th := tiers.DefaultThresholds()
	rows, err := s.db.Conn().QueryContext(ctx, "SELECT tier, market_cap_floor, volume_floor FROM tier_thresholds")
	if err != nil {
		return th, fmt.Errorf("failed to query thresholds: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var tier int
		var capFloor, volFloor string
		if err := rows.Scan(&tier, &capFloor, &volFloor); err != nil {
			return th, fmt.Errorf("failed to scan thresholds: %w", err)
		}
		if tier < 1 || tier > len(th) {
			return th, fmt.Errorf("threshold for unknown tier %d", tier)
		}
		if th[tier-1].MarketCapFloor, err = decimal.NewFromString(capFloor); err != nil {
			return th, fmt.Errorf("tier %d market cap floor: %w", tier, err)
		}
		if th[tier-1].VolumeFloor, err = decimal.NewFromString(volFloor); err != nil {
			return th, fmt.Errorf("tier %d volume floor: %w", tier, err)
		}
	}
	return th, rows.Err()
}

func (s *Store) loadPending(ctx context.Context, book *grace.Book) error {
	rows, err := s.db.Conn().QueryContext(ctx, `
		SELECT asset_id, current_tier, proposed_tier, proposed_at, commit_at, reason
		FROM pending_changes`)
	if err != nil {
		return fmt.Errorf("failed to query pending changes: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id                   int64
			current, proposed    int
			proposedAt, commitAt string
			p                    grace.PendingChange
		)
		if err := rows.Scan(&id, &current, &proposed, &proposedAt, &commitAt, &p.Reason); err != nil {
			return fmt.Errorf("failed to scan pending change: %w", err)
		}
		p.AssetID = assetID(id)
		p.CurrentTier = domain.Tier(current)
		p.ProposedTier = domain.Tier(proposed)
		if p.ProposedAt, err = parseTime(proposedAt); err != nil {
			return err
		}
		if p.CommitAt, err = parseTime(commitAt); err != nil {
			return err
		}
		book.Pending[p.AssetID] = &p
	}
	return rows.Err()
}

func (s *Store) loadActiveTier(ctx context.Context) (*activetier.State, error) {
	var active, minAssets int
	var lastShift string
	err := s.db.Conn().QueryRowContext(ctx,
		"SELECT active, min_assets, last_shift_at FROM active_tier WHERE id = 1").
		Scan(&active, &minAssets, &lastShift)
	if err != nil {
		return nil, fmt.Errorf("failed to load active tier: %w", err)
	}
	st := activetier.NewState(minAssets)
	st.Active = domain.Tier(active)
	if st.LastShiftAt, err = parseTime(lastShift); err != nil {
		return nil, err
	}

	rows, err := s.db.Conn().QueryContext(ctx, `
		SELECT at, from_tier, to_tier, reason, justification, qualifying, total
		FROM active_tier_shifts ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("failed to query tier shifts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var at string
		var from, to int
		var sh activetier.Shift
		if err := rows.Scan(&at, &from, &to, &sh.Reason, &sh.Justification, &sh.Qualifying, &sh.Total); err != nil {
			return nil, fmt.Errorf("failed to scan tier shift: %w", err)
		}
		sh.From = domain.Tier(from)
		sh.To = domain.Tier(to)
		if sh.At, err = parseTime(at); err != nil {
			return nil, err
		}
		st.History = append(st.History, sh)
	}
	return st, rows.Err()
}

func (s *Store) loadIndex(ctx context.Context) (*index.State, error) {
	var (
		initialized, degraded, tracking       int
		initializedAt, lastUpdate, lastReset  string
		baseline, aggregate, current, missing string
		st                                    index.State
	)
	err := s.db.Conn().QueryRowContext(ctx, `
		SELECT initialized, initialized_at, baseline_value, baseline_aggregate, current_value,
		       performance_bp, last_update, last_reset_at, reset_count, degraded, missing, tracking_enabled
		FROM index_state WHERE id = 1`).
		Scan(&initialized, &initializedAt, &baseline, &aggregate, &current,
			&st.PerformanceBP, &lastUpdate, &lastReset, &st.ResetCount, &degraded, &missing, &tracking)
	if err != nil {
		return nil, fmt.Errorf("failed to load index state: %w", err)
	}
	st.Initialized = initialized != 0
	st.Degraded = degraded != 0
	st.TrackingEnabled = tracking != 0

	for _, f := range []struct {
		dst *decimal.Decimal
		src string
	}{{&st.BaselineValue, baseline}, {&st.BaselineAggregate, aggregate}, {&st.CurrentValue, current}} {
		if *f.dst, err = decimal.NewFromString(f.src); err != nil {
			return nil, fmt.Errorf("index state: %w", err)
		}
	}
	for _, f := range []struct {
		dst *time.Time
		src string
	}{{&st.InitializedAt, initializedAt}, {&st.LastUpdate, lastUpdate}, {&st.LastResetAt, lastReset}} {
		if *f.dst, err = parseTime(f.src); err != nil {
			return nil, err
		}
	}
	if err := json.Unmarshal([]byte(missing), &st.Missing); err != nil {
		return nil, fmt.Errorf("index missing assets: %w", err)
	}
	return &st, nil
}

func (s *Store) loadSamples(ctx context.Context, h *history.Store) error {
	rows, err := s.db.Conn().QueryContext(ctx, `
		SELECT asset_id, at, market_cap, trailing_volume, price
		FROM metric_samples ORDER BY asset_id, seq`)
	if err != nil {
		return fmt.Errorf("failed to query samples: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id int64
		var at, marketCap, volume, price string
		if err := rows.Scan(&id, &at, &marketCap, &volume, &price); err != nil {
			return fmt.Errorf("failed to scan sample: %w", err)
		}
		var sample domain.MetricSample
		if sample.At, err = parseTime(at); err != nil {
			return err
		}
		if sample.MarketCap, err = decimal.NewFromString(marketCap); err != nil {
			return fmt.Errorf("sample market cap: %w", err)
		}
		if sample.TrailingVolume, err = decimal.NewFromString(volume); err != nil {
			return fmt.Errorf("sample volume: %w", err)
		}
		if sample.Price, err = decimal.NewFromString(price); err != nil {
			return fmt.Errorf("sample price: %w", err)
		}
		h.Append(assetID(id), sample)
	}
	return rows.Err()
}

func (s *Store) loadRebalance(ctx context.Context) (*rebalancing.State, error) {
	var lastAt, reserve string
	var journal, lastJournal []byte
	err := s.db.Conn().QueryRowContext(ctx,
		"SELECT last_rebalance_at, reserve, journal, last_journal FROM rebalance_state WHERE id = 1").
		Scan(&lastAt, &reserve, &journal, &lastJournal)
	if err != nil {
		return nil, fmt.Errorf("failed to load rebalance state: %w", err)
	}
	st := rebalancing.NewState()
	if st.LastRebalanceAt, err = parseTime(lastAt); err != nil {
		return nil, err
	}
	if st.Reserve, err = decimal.NewFromString(reserve); err != nil {
		return nil, fmt.Errorf("reserve: %w", err)
	}
	if st.Journal, err = rebalancing.DecodeJournal(journal); err != nil {
		return nil, err
	}
	if st.LastJournal, err = rebalancing.DecodeJournal(lastJournal); err != nil {
		return nil, err
	}
	return st, nil
}
