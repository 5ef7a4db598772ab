package tiers

import (
	"testing"

	"github.com/aristath/tierindex/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func metrics(marketCap, volume int64) domain.Metrics {
	return domain.Metrics{
		MarketCap:      decimal.NewFromInt(marketCap),
		TrailingVolume: decimal.NewFromInt(volume),
	}
}

func TestClassify(t *testing.T) {
	th := DefaultThresholds()

	tests := []struct {
		name string
		in   domain.Metrics
		want domain.Tier
	}{
		{"tier1 above both floors", metrics(60_000_000, 6_000_000), domain.Tier1},
		{"below tier1 market cap", metrics(40_000_000, 6_000_000), domain.TierNone},
		{"below tier1 volume", metrics(60_000_000, 4_000_000), domain.TierNone},
		{"exactly on tier1 floors", metrics(50_000_000, 5_000_000), domain.Tier1},
		{"cap for tier4 but volume for tier2", metrics(3_000_000_000, 30_000_000), domain.Tier2},
		{"tier3", metrics(600_000_000, 60_000_000), domain.Tier3},
		{"tier4", metrics(2_000_000_000, 200_000_000), domain.Tier4},
		{"zero", metrics(0, 0), domain.TierNone},
		{"negative", metrics(-1, -1), domain.TierNone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.in, th))
		})
	}
}

func TestClassify_Deterministic(t *testing.T) {
	th := DefaultThresholds()
	m := metrics(260_000_000, 30_000_000)
	first := Classify(m, th)
	for i := 0; i < 100; i++ {
		require.Equal(t, first, Classify(m, th))
	}
	assert.Equal(t, domain.Tier2, first)
}

func TestClassifyBatch(t *testing.T) {
	th := DefaultThresholds()
	got := ClassifyBatch([]domain.Metrics{
		metrics(60_000_000, 6_000_000),
		metrics(40_000_000, 6_000_000),
		metrics(2_500_000_000, 250_000_000),
	}, th)

	assert.Equal(t, []domain.Tier{domain.Tier1, domain.TierNone, domain.Tier4}, got)
	assert.Empty(t, ClassifyBatch(nil, th))
}

func TestThresholds_Validate(t *testing.T) {
	assert.NoError(t, DefaultThresholds().Validate())

	equal := DefaultThresholds()
	equal[1].MarketCapFloor = equal[0].MarketCapFloor
	assert.ErrorIs(t, equal.Validate(), domain.ErrInvalidParameter)

	descendingVolume := DefaultThresholds()
	descendingVolume[3].VolumeFloor = decimal.NewFromInt(1)
	assert.ErrorIs(t, descendingVolume.Validate(), domain.ErrInvalidParameter)

	negative := DefaultThresholds()
	negative[0].VolumeFloor = decimal.NewFromInt(-5)
	assert.ErrorIs(t, negative.Validate(), domain.ErrInvalidParameter)

	zeroBase := DefaultThresholds()
	zeroBase[0] = Threshold{MarketCapFloor: decimal.Zero, VolumeFloor: decimal.Zero}
	assert.NoError(t, zeroBase.Validate())
}

func TestThresholds_For(t *testing.T) {
	th := DefaultThresholds()

	got, ok := th.For(domain.Tier3)
	require.True(t, ok)
	assert.True(t, got.MarketCapFloor.Equal(decimal.NewFromInt(500_000_000)))

	_, ok = th.For(domain.TierNone)
	assert.False(t, ok)
}
