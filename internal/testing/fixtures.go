package testing

import (
	"time"

	"github.com/shopspring/decimal"
)

// Epoch is the fixed start time used by tests
var Epoch = time.Date(2025, time.January, 6, 12, 0, 0, 0, time.UTC)

// AssetFixture describes a test asset and its market data
type AssetFixture struct {
	Underlying     string
	Provider       string
	MarketCap      decimal.Decimal
	TrailingVolume decimal.Decimal
	Price          decimal.Decimal
}

func millions(n int64) decimal.Decimal {
	return decimal.NewFromInt(n).Mul(decimal.NewFromInt(1_000_000))
}

// NewAssetFixtures returns a spread of assets across the default tiers:
// two at Tier4, one each at Tier3, Tier2 and Tier1, and one below Tier1.
func NewAssetFixtures() []AssetFixture {
	return []AssetFixture{
		{Underlying: "DOT", Provider: "oracle-a", MarketCap: millions(9_000), TrailingVolume: millions(400), Price: decimal.NewFromInt(7)},
		{Underlying: "KSM", Provider: "oracle-a", MarketCap: millions(2_500), TrailingVolume: millions(250), Price: decimal.NewFromInt(30)},
		{Underlying: "ASTR", Provider: "oracle-a", MarketCap: millions(600), TrailingVolume: millions(60), Price: decimal.NewFromFloat(0.08)},
		{Underlying: "GLMR", Provider: "oracle-b", MarketCap: millions(300), TrailingVolume: millions(30), Price: decimal.NewFromFloat(0.3)},
		{Underlying: "PHA", Provider: "oracle-b", MarketCap: millions(60), TrailingVolume: millions(6), Price: decimal.NewFromFloat(0.15)},
		{Underlying: "ZZZ", Provider: "oracle-b", MarketCap: millions(40), TrailingVolume: millions(1), Price: decimal.NewFromFloat(0.01)},
	}
}
