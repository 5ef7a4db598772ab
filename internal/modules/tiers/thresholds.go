// Package tiers classifies assets into tiers from market metrics.
package tiers

import (
	"fmt"

	"github.com/aristath/tierindex/internal/domain"
	"github.com/shopspring/decimal"
)

// Threshold is the pair of floors an asset must both meet to reach a tier
type Threshold struct {
	MarketCapFloor decimal.Decimal `json:"market_cap_floor"`
	VolumeFloor    decimal.Decimal `json:"volume_floor"`
}

// Thresholds holds the floors for Tier1..Tier4, lowest tier first
type Thresholds [4]Threshold

// DefaultThresholds returns the launch configuration:
// 50M/5M, 250M/25M, 500M/50M and 2B/200M.
func DefaultThresholds() Thresholds {
	m := decimal.NewFromInt(1_000_000)
	return Thresholds{
		{MarketCapFloor: m.Mul(decimal.NewFromInt(50)), VolumeFloor: m.Mul(decimal.NewFromInt(5))},
		{MarketCapFloor: m.Mul(decimal.NewFromInt(250)), VolumeFloor: m.Mul(decimal.NewFromInt(25))},
		{MarketCapFloor: m.Mul(decimal.NewFromInt(500)), VolumeFloor: m.Mul(decimal.NewFromInt(50))},
		{MarketCapFloor: m.Mul(decimal.NewFromInt(2000)), VolumeFloor: m.Mul(decimal.NewFromInt(200))},
	}
}

// For returns the floors of an investable tier
func (t Thresholds) For(tier domain.Tier) (Threshold, bool) {
	if tier < domain.Tier1 || tier > domain.Tier4 {
		return Threshold{}, false
	}
	return t[tier-1], true
}

// Validate checks floors are non-negative and strictly increasing on both axes
func (t Thresholds) Validate() error {
	for i, th := range t {
		tier := domain.Tier(i + 1)
		if th.MarketCapFloor.IsNegative() || th.VolumeFloor.IsNegative() {
			return fmt.Errorf("%w: %s floors must be non-negative", domain.ErrInvalidParameter, tier)
		}
		if i == 0 {
			continue
		}
		prev := t[i-1]
		if !th.MarketCapFloor.GreaterThan(prev.MarketCapFloor) {
			return fmt.Errorf("%w: %s market cap floor %s must exceed %s floor %s",
				domain.ErrInvalidParameter, tier, th.MarketCapFloor, tier-1, prev.MarketCapFloor)
		}
		if !th.VolumeFloor.GreaterThan(prev.VolumeFloor) {
			return fmt.Errorf("%w: %s volume floor %s must exceed %s floor %s",
				domain.ErrInvalidParameter, tier, th.VolumeFloor, tier-1, prev.VolumeFloor)
		}
	}
	return nil
}
