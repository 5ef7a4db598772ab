package core

import (
	"context"
	"fmt"

	"github.com/aristath/tierindex/internal/domain"
	"github.com/aristath/tierindex/internal/events"
	"github.com/aristath/tierindex/internal/modules/tiers"
	"github.com/shopspring/decimal"
)

// RegisterAsset adds an asset classified from its live metrics. Registration
// fails when the metrics are unavailable rather than guessing a tier.
func (c *Core) RegisterAsset(ctx context.Context, caps domain.Capabilities, underlying, provider string, weightBP int) (*domain.AssetRecord, error) {
	var out *domain.AssetRecord
	err := c.run(ctx, caps, domain.RoleManager, "register_asset", func(t *tx) error {
		reg := t.state.Registry
		key := domain.AssetKey{ID: reg.NextID(), Underlying: underlying, Provider: provider}
		metrics, err := c.fetcher.Metrics(ctx, key)
		if err != nil {
			return err
		}
		tier := tiers.Classify(metrics, t.state.Thresholds)
		rec, err := reg.Register(underlying, provider, weightBP, tier, c.clock.Now())
		if err != nil {
			return err
		}
		t.state.History.Append(rec.ID, domain.MetricSample{
			At:             c.clock.Now(),
			MarketCap:      metrics.MarketCap,
			TrailingVolume: metrics.TrailingVolume,
		})

		c.log.Info().
			Uint32("asset_id", uint32(rec.ID)).
			Str("underlying", rec.Underlying).
			Str("provider", rec.Provider).
			Str("tier", tier.String()).
			Msg("Asset registered")
		t.emit(events.AssetRegistered, &events.AssetRegisteredData{
			ID:             rec.ID,
			Underlying:     rec.Underlying,
			Provider:       rec.Provider,
			Tier:           rec.Tier,
			TargetWeightBP: rec.TargetWeightBP,
		})
		t.distributionChanged()
		out = rec.Clone()
		return nil
	})
	return out, err
}

// UpdateAsset changes the target weight of an asset
func (c *Core) UpdateAsset(ctx context.Context, caps domain.Capabilities, id domain.AssetID, weightBP int) error {
	return c.run(ctx, caps, domain.RoleManager, "update_asset", func(t *tx) error {
		rec, err := t.state.Registry.Get(id)
		if err != nil {
			return err
		}
		if rec.Retired {
			return fmt.Errorf("%w: asset %s is retired", domain.ErrInvalidParameter, id)
		}
		if err := t.state.Registry.SetWeight(id, weightBP); err != nil {
			return err
		}
		t.emit(events.AssetUpdated, &events.AssetUpdatedData{ID: id, TargetWeightBP: weightBP, Tier: rec.Tier})
		return nil
	})
}

// SetHoldings records the fund's held and staked quantity of an asset
func (c *Core) SetHoldings(ctx context.Context, caps domain.Capabilities, id domain.AssetID, quantity, staked decimal.Decimal) error {
	return c.run(ctx, caps, domain.RoleManager, "set_holdings", func(t *tx) error {
		if err := t.requireHoldingChanges(); err != nil {
			return err
		}
		rec, err := t.state.Registry.Get(id)
		if err != nil {
			return err
		}
		if rec.Retired {
			return fmt.Errorf("%w: asset %s is retired", domain.ErrInvalidParameter, id)
		}
		return t.state.Registry.SetHoldings(id, quantity, staked)
	})
}

// RemoveAsset retires an asset the fund no longer holds. Its pending change
// and metric history are dropped; the record itself is kept.
func (c *Core) RemoveAsset(ctx context.Context, caps domain.Capabilities, id domain.AssetID) error {
	return c.run(ctx, caps, domain.RoleManager, "remove_asset", func(t *tx) error {
		rec, err := t.state.Registry.Get(id)
		if err != nil {
			return err
		}
		if rec.Retired {
			return nil
		}
		if rec.Held() {
			return fmt.Errorf("%w: asset %s still holds %s", domain.ErrInvalidParameter, id, rec.Quantity)
		}
		if _, err := t.grace().ClearPending(id); err != nil {
			return err
		}
		if err := t.state.Registry.Retire(id, c.clock.Now()); err != nil {
			return err
		}
		t.state.History.Forget(id)

		c.log.Info().Uint32("asset_id", uint32(id)).Msg("Asset removed")
		t.emit(events.AssetRetired, &events.AssetRetiredData{ID: id, Reason: "removed"})
		t.distributionChanged()
		return nil
	})
}

// AdjustReserve adds delta (possibly negative) to the stable reserve
func (c *Core) AdjustReserve(ctx context.Context, caps domain.Capabilities, delta decimal.Decimal) (decimal.Decimal, error) {
	var out decimal.Decimal
	err := c.run(ctx, caps, domain.RoleOwner, "adjust_reserve", func(t *tx) error {
		if err := t.requireHoldingChanges(); err != nil {
			return err
		}
		next := t.state.Rebalance.Reserve.Add(delta)
		if next.IsNegative() {
			return fmt.Errorf("%w: reserve %s cannot cover %s", domain.ErrUnderflow, t.state.Rebalance.Reserve, delta)
		}
		t.state.Rebalance.Reserve = next
		out = next
		return nil
	})
	return out, err
}

// SetThresholds replaces the tier floors. Existing tiers are not touched;
// the next refresh classifies against the new floors.
func (c *Core) SetThresholds(ctx context.Context, caps domain.Capabilities, th tiers.Thresholds) error {
	return c.run(ctx, caps, domain.RoleOwner, "set_thresholds", func(t *tx) error {
		if err := th.Validate(); err != nil {
			return err
		}
		t.state.Thresholds = th

		pairs := make([]events.ThresholdPair, 0, len(th))
		for i, f := range th {
			pairs = append(pairs, events.ThresholdPair{
				Tier:           domain.Tier(i + 1),
				MarketCapFloor: f.MarketCapFloor,
				VolumeFloor:    f.VolumeFloor,
			})
		}
		t.emit(events.TierThresholdsUpdated, &events.TierThresholdsUpdatedData{Thresholds: pairs})
		return nil
	})
}
