package tiers

import "github.com/aristath/tierindex/internal/domain"

// Classify returns the highest tier whose market cap and volume floors are
// both met, or TierNone when even Tier1 is out of reach.
func Classify(m domain.Metrics, t Thresholds) domain.Tier {
	for _, tier := range domain.RankedTiers {
		th := t[tier-1]
		if m.MarketCap.GreaterThanOrEqual(th.MarketCapFloor) &&
			m.TrailingVolume.GreaterThanOrEqual(th.VolumeFloor) {
			return tier
		}
	}
	return domain.TierNone
}

// ClassifyBatch classifies many metric sets against the same thresholds.
// Output order matches input order.
func ClassifyBatch(ms []domain.Metrics, t Thresholds) []domain.Tier {
	out := make([]domain.Tier, len(ms))
	for i, m := range ms {
		out[i] = Classify(m, t)
	}
	return out
}
