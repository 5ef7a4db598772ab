package core

import (
	"context"
	"time"

	"github.com/aristath/tierindex/internal/domain"
	"github.com/aristath/tierindex/internal/modules/grace"
	"github.com/aristath/tierindex/internal/modules/history"
)

// ProposeTierChange schedules a manual tier change behind the grace period
func (c *Core) ProposeTierChange(ctx context.Context, caps domain.Capabilities, id domain.AssetID, tier domain.Tier) (*grace.PendingChange, error) {
	var out *grace.PendingChange
	err := c.run(ctx, caps, domain.RoleManager, "propose_tier_change", func(t *tx) error {
		p, err := t.grace().Propose(id, tier, grace.ReasonManual)
		if p != nil {
			cp := *p
			out = &cp
		}
		return err
	})
	return out, err
}

// ReclassifyAsset classifies one asset from live metrics and schedules the result
func (c *Core) ReclassifyAsset(ctx context.Context, caps domain.Capabilities, id domain.AssetID) (domain.Tier, grace.Outcome, error) {
	var tier domain.Tier
	var outcome grace.Outcome
	err := c.run(ctx, caps, domain.RoleManager, "reclassify_asset", func(t *tx) error {
		var err error
		tier, outcome, err = t.grace().Reclassify(ctx, id)
		return err
	})
	return tier, outcome, err
}

// RefreshTiers reclassifies the next batch of assets
func (c *Core) RefreshTiers(ctx context.Context, caps domain.Capabilities, maxBatch int) (grace.RefreshResult, error) {
	var res grace.RefreshResult
	err := c.run(ctx, caps, domain.RoleManager, "refresh_tiers", func(t *tx) error {
		var err error
		res, err = t.grace().RefreshTiers(ctx, maxBatch)
		return err
	})
	return res, err
}

// ProcessDue commits up to maxBatch due tier changes, oldest first
func (c *Core) ProcessDue(ctx context.Context, caps domain.Capabilities, maxBatch int) (int, error) {
	var n int
	err := c.run(ctx, caps, domain.RoleManager, "process_due", func(t *tx) error {
		var err error
		n, err = t.grace().ProcessDue(maxBatch)
		return err
	})
	return n, err
}

// EmergencyOverride sets a tier immediately, discarding any pending change
func (c *Core) EmergencyOverride(ctx context.Context, caps domain.Capabilities, id domain.AssetID, tier domain.Tier, justification string) error {
	return c.run(ctx, caps, domain.RoleEmergencyController, "emergency_override", func(t *tx) error {
		return t.grace().EmergencyOverride(id, tier, justification)
	})
}

// EmergencyOverrideToCalculated overrides to the tier live metrics yield
func (c *Core) EmergencyOverrideToCalculated(ctx context.Context, caps domain.Capabilities, id domain.AssetID, justification string) (domain.Tier, error) {
	var tier domain.Tier
	err := c.run(ctx, caps, domain.RoleEmergencyController, "emergency_override_calculated", func(t *tx) error {
		var err error
		tier, err = t.grace().EmergencyOverrideToCalculated(ctx, id, justification)
		return err
	})
	return tier, err
}

// ClearPending drops an asset's pending change without committing it
func (c *Core) ClearPending(ctx context.Context, caps domain.Capabilities, id domain.AssetID) (bool, error) {
	var cleared bool
	err := c.run(ctx, caps, domain.RoleManager, "clear_pending", func(t *tx) error {
		var err error
		cleared, err = t.grace().ClearPending(id)
		return err
	})
	return cleared, err
}

// SetGracePeriod changes the delay applied to future proposals
func (c *Core) SetGracePeriod(ctx context.Context, caps domain.Capabilities, d time.Duration) error {
	return c.run(ctx, caps, domain.RoleOwner, "set_grace_period", func(t *tx) error {
		return t.grace().SetGracePeriod(d)
	})
}

// OverrideActiveTier sets the fund's operating tier by hand
func (c *Core) OverrideActiveTier(ctx context.Context, caps domain.Capabilities, tier domain.Tier, justification string) error {
	return c.run(ctx, caps, domain.RoleOwner, "override_active_tier", func(t *tx) error {
		return t.activeTier().ManualOverride(tier, justification, t.state.Registry.Distribution())
	})
}

// SetMinAssets changes the fund size needed for automatic shifts and
// re-evaluates the rule under the new minimum.
func (c *Core) SetMinAssets(ctx context.Context, caps domain.Capabilities, n int) error {
	return c.run(ctx, caps, domain.RoleOwner, "set_min_assets", func(t *tx) error {
		if err := t.activeTier().SetMinAssets(n); err != nil {
			return err
		}
		t.distributionChanged()
		return nil
	})
}

// RefreshDistribution recomputes the per-tier counts from the records
func (c *Core) RefreshDistribution(ctx context.Context, caps domain.Capabilities) error {
	return c.run(ctx, caps, domain.RoleManager, "refresh_distribution", func(t *tx) error {
		t.state.Registry.Refresh()
		t.distributionChanged()
		return nil
	})
}

// SampleMetrics records a market data sample for the next batch of assets
func (c *Core) SampleMetrics(ctx context.Context, caps domain.Capabilities, maxBatch int) (history.SampleResult, error) {
	var res history.SampleResult
	err := c.run(ctx, caps, domain.RoleManager, "sample_metrics", func(t *tx) error {
		var err error
		res, err = t.sampler().SampleMetrics(ctx, maxBatch)
		return err
	})
	return res, err
}
