// Package domain provides core domain models and types.
package domain

import (
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// MaxWeightBP is the full allocation expressed in basis points (100%)
const MaxWeightBP = 10000

// AssetID identifies a registered asset. IDs are assigned sequentially from 1.
type AssetID uint32

// String returns the decimal form of the id
func (id AssetID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// ParseAssetID parses the decimal form of an asset id
func ParseAssetID(s string) (AssetID, error) {
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil || v == 0 {
		return 0, fmt.Errorf("%w: invalid asset id %q", ErrInvalidParameter, s)
	}
	return AssetID(v), nil
}

// AssetKey is what external collaborators need to resolve an asset:
// the underlying asset identity and the identity of its price-data provider.
type AssetKey struct {
	ID         AssetID `json:"id"`
	Underlying string  `json:"underlying"`
	Provider   string  `json:"provider"`
}

// AssetRecord is the authoritative record for a constituent asset.
// Records are owned by the registry and mutated only through the
// classification, grace period and rebalancing paths.
type AssetRecord struct {
	RegisteredAt   time.Time       `json:"registered_at"`
	TierChangedAt  time.Time       `json:"tier_changed_at"`
	RetiredAt      *time.Time      `json:"retired_at,omitempty"`
	Underlying     string          `json:"underlying"`
	Provider       string          `json:"provider"`
	Quantity       decimal.Decimal `json:"quantity"`
	Staked         decimal.Decimal `json:"staked"`
	ID             AssetID         `json:"id"`
	TargetWeightBP int             `json:"target_weight_bp"`
	Tier           Tier            `json:"tier"`
	Retired        bool            `json:"retired"`
}

// Key returns the collaborator-facing identity of the record
func (r *AssetRecord) Key() AssetKey {
	return AssetKey{ID: r.ID, Underlying: r.Underlying, Provider: r.Provider}
}

// Held reports whether the fund currently holds any of the asset
func (r *AssetRecord) Held() bool {
	return r.Quantity.IsPositive()
}

// Clone returns a copy that shares no mutable state with r
func (r *AssetRecord) Clone() *AssetRecord {
	c := *r
	if r.RetiredAt != nil {
		t := *r.RetiredAt
		c.RetiredAt = &t
	}
	return &c
}

// Metrics are the market inputs to tier classification
type Metrics struct {
	MarketCap      decimal.Decimal `json:"market_cap"`
	TrailingVolume decimal.Decimal `json:"trailing_volume"`
}

// MetricSample is a point-in-time observation of an asset's market data
type MetricSample struct {
	At             time.Time       `json:"at"`
	MarketCap      decimal.Decimal `json:"market_cap"`
	TrailingVolume decimal.Decimal `json:"trailing_volume"`
	Price          decimal.Decimal `json:"price"`
}

// ValidateWeightBP checks a weight is within [0, 10000]
func ValidateWeightBP(weight int) error {
	if weight < 0 || weight > MaxWeightBP {
		return fmt.Errorf("%w: weight %d bp outside [0, %d]", ErrInvalidParameter, weight, MaxWeightBP)
	}
	return nil
}
