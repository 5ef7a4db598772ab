package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// PriceOracle provides live market data for an asset.
// An absent value is reported as an error wrapping ErrExternalDataUnavailable;
// a nil error always carries a real value, zero included.
type PriceOracle interface {
	Price(ctx context.Context, asset AssetKey) (decimal.Decimal, error)
	MarketCap(ctx context.Context, asset AssetKey) (decimal.Decimal, error)
	TrailingVolume(ctx context.Context, asset AssetKey) (decimal.Decimal, error)
}

// SwapService trades assets against the stable reference asset
type SwapService interface {
	// Liquidate sells amount units of the asset and returns the stable proceeds
	Liquidate(ctx context.Context, asset AssetKey, amount decimal.Decimal) (decimal.Decimal, error)

	// Acquire spends stableAmount and returns the units of the asset received
	Acquire(ctx context.Context, asset AssetKey, stableAmount decimal.Decimal) (decimal.Decimal, error)
}

// StakingService manages the fund's staked positions
type StakingService interface {
	// Unstake releases amount units and returns the units actually released
	Unstake(ctx context.Context, asset AssetKey, amount decimal.Decimal) (decimal.Decimal, error)

	// CurrentLockDuration is the unstaking lock applied to positions of the given tier
	CurrentLockDuration(tier Tier) time.Duration
}

// Clock abstracts wall time so grace periods and staleness are testable
type Clock interface {
	Now() time.Time
}

// SystemClock is the wall clock, in UTC
type SystemClock struct{}

// Now implements Clock
func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}
