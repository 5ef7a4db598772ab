package core

import (
	"context"
	"errors"
	"time"

	"github.com/aristath/tierindex/internal/domain"
	"github.com/aristath/tierindex/internal/modules/index"
	"github.com/aristath/tierindex/internal/modules/rebalancing"
	"github.com/shopspring/decimal"
)

// InitializeIndex records the index baseline; a zero value selects the default
func (c *Core) InitializeIndex(ctx context.Context, caps domain.Capabilities, baselineValue decimal.Decimal) error {
	if baselineValue.IsZero() {
		baselineValue = index.DefaultBaselineValue
	}
	return c.run(ctx, caps, domain.RoleOwner, "initialize_index", func(t *tx) error {
		return t.index().Initialize(ctx, baselineValue)
	})
}

// RefreshIndex recomputes and caches the index value. A reading built from
// partial data is committed and carries a PartialDataDegraded warning.
func (c *Core) RefreshIndex(ctx context.Context, caps domain.Capabilities) (index.Reading, error) {
	var r index.Reading
	err := c.run(ctx, caps, domain.RoleManager, "refresh_index", func(t *tx) error {
		var err error
		r, err = t.index().Refresh(ctx)
		return err
	})
	return r, err
}

// ComputeIndexValue values the index from live prices without caching
func (c *Core) ComputeIndexValue(ctx context.Context) (index.Valuation, error) {
	var v index.Valuation
	err := c.query(ctx, func(t *tx) error {
		var err error
		v, err = t.index().ComputeCurrentValue(ctx)
		return err
	})
	return v, err
}

// EmergencyResetIndex moves the baseline aggregate to the live aggregate
func (c *Core) EmergencyResetIndex(ctx context.Context, caps domain.Capabilities, justification string) error {
	return c.run(ctx, caps, domain.RoleEmergencyController, "emergency_reset_index", func(t *tx) error {
		return t.index().EmergencyReset(ctx, justification)
	})
}

// SetIndexTracking enables or disables index refreshes
func (c *Core) SetIndexTracking(ctx context.Context, caps domain.Capabilities, enabled bool) error {
	return c.run(ctx, caps, domain.RoleOwner, "set_index_tracking", func(t *tx) error {
		return t.index().SetTracking(ctx, enabled)
	})
}

// PreviewRebalance builds the plan the next cycle would start with
func (c *Core) PreviewRebalance(ctx context.Context) (*rebalancing.Plan, error) {
	var plan *rebalancing.Plan
	err := c.query(ctx, func(t *tx) error {
		var err error
		plan, err = t.engine().Preview(ctx)
		return err
	})
	return plan, err
}

// ExecuteRebalance runs up to maxSteps instructions of the current cycle,
// planning one first if the cadence allows. Forcing an early cycle needs the
// owner role. A failed step still commits the steps completed before it, and
// steps already sent to a venue stay applied even when saving fails. Paused
// or emergency operation refuses the call.
func (c *Core) ExecuteRebalance(ctx context.Context, caps domain.Capabilities, maxSteps int, force bool) (rebalancing.ExecuteResult, error) {
	var res rebalancing.ExecuteResult
	role := domain.RoleManager
	if force {
		role = domain.RoleOwner
	}
	err := c.run(ctx, caps, role, "execute_rebalance", func(t *tx) error {
		if err := t.requireRebalance(); err != nil {
			return err
		}
		var err error
		res, err = t.engine().Execute(ctx, maxSteps, force)
		var stepErr *rebalancing.StepFailedError
		if errors.As(err, &stepErr) {
			t.keep = true
		}
		if res.Executed > 0 {
			t.keep = true
			t.external = true
		}
		if err == nil || t.keep {
			t.distributionChanged()
		}
		return err
	})
	return res, err
}

// AbandonRebalance drops the in-progress cycle
func (c *Core) AbandonRebalance(ctx context.Context, caps domain.Capabilities) (bool, error) {
	var dropped bool
	err := c.run(ctx, caps, domain.RoleOwner, "abandon_rebalance", func(t *tx) error {
		dropped = t.engine().Abandon()
		return nil
	})
	return dropped, err
}

// RebalanceStatus describes the rebalancing cycle state
type RebalanceStatus struct {
	LastRebalanceAt time.Time            `json:"last_rebalance_at"`
	NextDueAt       time.Time            `json:"next_due_at"`
	Reserve         decimal.Decimal      `json:"reserve"`
	Journal         *rebalancing.Journal `json:"journal,omitempty"`
	LastJournal     *rebalancing.Journal `json:"last_journal,omitempty"`
}

// RebalanceStatus returns the current and last journals and the cadence
func (c *Core) RebalanceStatus() RebalanceStatus {
	s := c.Snapshot()
	var next time.Time
	if !s.Rebalance.LastRebalanceAt.IsZero() {
		next = s.Rebalance.LastRebalanceAt.Add(c.opts.Rebalance.Interval)
	}
	return RebalanceStatus{
		LastRebalanceAt: s.Rebalance.LastRebalanceAt,
		NextDueAt:       next,
		Reserve:         s.Rebalance.Reserve,
		Journal:         s.Rebalance.Journal,
		LastJournal:     s.Rebalance.LastJournal,
	}
}
