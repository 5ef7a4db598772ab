package core

import (
	"time"

	"github.com/aristath/tierindex/internal/domain"
	"github.com/aristath/tierindex/internal/modules/activetier"
	"github.com/aristath/tierindex/internal/modules/grace"
	"github.com/aristath/tierindex/internal/modules/index"
	"github.com/aristath/tierindex/internal/modules/tiers"
)

// Asset returns a copy of one record
func (c *Core) Asset(id domain.AssetID) (*domain.AssetRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, err := c.state.Registry.Get(id)
	if err != nil {
		return nil, err
	}
	return rec.Clone(), nil
}

// Assets returns copies of every record, retired ones included, by id
func (c *Core) Assets() []*domain.AssetRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	return cloneRecords(c.state.Registry.List())
}

// AssetsByTier returns copies of the active records at tier
func (c *Core) AssetsByTier(tier domain.Tier) []*domain.AssetRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	return cloneRecords(c.state.Registry.ByTier(tier))
}

func cloneRecords(recs []*domain.AssetRecord) []*domain.AssetRecord {
	out := make([]*domain.AssetRecord, len(recs))
	for i, r := range recs {
		out[i] = r.Clone()
	}
	return out
}

// Classify returns the tier metrics would receive under the current floors
func (c *Core) Classify(m domain.Metrics) domain.Tier {
	c.mu.Lock()
	defer c.mu.Unlock()
	return tiers.Classify(m, c.state.Thresholds)
}

// Thresholds returns the tier floors
func (c *Core) Thresholds() tiers.Thresholds {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Thresholds
}

// Distribution returns the per-tier counts of active assets
func (c *Core) Distribution() map[domain.Tier]int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Registry.Distribution().Counts()
}

// ActiveTierStatus is the operating tier and how it got there
type ActiveTierStatus struct {
	LastShiftAt time.Time          `json:"last_shift_at"`
	History     []activetier.Shift `json:"history"`
	Active      domain.Tier        `json:"active"`
	Candidate   domain.Tier        `json:"candidate"`
	MinAssets   int                `json:"min_assets"`
	Qualifies   bool               `json:"qualifies"`
}

// ActiveTier returns the operating tier with its shift history
func (c *Core) ActiveTier() ActiveTierStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.state.ActiveTier.Clone()
	ctl := activetier.NewController(s, c.clock, nil, c.log)
	candidate, ok := ctl.Candidate(c.state.Registry.Distribution())
	return ActiveTierStatus{
		LastShiftAt: s.LastShiftAt,
		History:     s.History,
		Active:      s.Active,
		Candidate:   candidate,
		MinAssets:   s.MinAssets,
		Qualifies:   ok,
	}
}

// PendingStatus is a pending change with its timing
type PendingStatus struct {
	grace.PendingChange
	Remaining time.Duration `json:"remaining"`
	Expired   bool          `json:"expired"`
}

func (c *Core) pendingStatus(p *grace.PendingChange) PendingStatus {
	now := c.clock.Now()
	left := p.CommitAt.Sub(now)
	if left < 0 {
		left = 0
	}
	return PendingStatus{PendingChange: *p, Remaining: left, Expired: p.Due(now)}
}

// Pending returns an asset's pending change, if any
func (c *Core) Pending(id domain.AssetID) (PendingStatus, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.state.Pending.Get(id)
	if !ok {
		return PendingStatus{}, false
	}
	return c.pendingStatus(p), true
}

// PendingChanges lists every pending change in commit order
func (c *Core) PendingChanges() []PendingStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	list := c.state.Pending.List()
	out := make([]PendingStatus, len(list))
	for i, p := range list {
		out[i] = c.pendingStatus(p)
	}
	return out
}

// DueCount returns how many pending changes can be committed now
func (c *Core) DueCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.state.Pending.Due(c.clock.Now()))
}

// GraceSettings is the grace period and its accepted range
type GraceSettings struct {
	Period time.Duration `json:"period"`
	Min    time.Duration `json:"min"`
	Max    time.Duration `json:"max"`
}

// GracePeriod returns the configured grace period and its limits
func (c *Core) GracePeriod() GraceSettings {
	c.mu.Lock()
	defer c.mu.Unlock()
	lo, hi := grace.Limits()
	return GraceSettings{Period: c.state.Pending.GracePeriod, Min: lo, Max: hi}
}

// IndexReading returns the cached index value, flagged stale when old
func (c *Core) IndexReading() index.Reading {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.state.Index.Clone()
	return index.NewTracker(s, c.state.Registry, c.state.Rebalance.Reserve, c.fetcher,
		c.clock, nil, c.opts.Staleness, c.log).Read()
}
