package activetier

import (
	"testing"
	"time"

	"github.com/aristath/tierindex/internal/domain"
	"github.com/aristath/tierindex/internal/events"
	"github.com/aristath/tierindex/internal/modules/registry"
	testingpkg "github.com/aristath/tierindex/internal/testing"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dist(counts map[domain.Tier]int) registry.Distribution {
	return registry.NewDistribution(counts)
}

func newController(minAssets int) (*Controller, *events.Recorder, *testingpkg.FakeClock) {
	rec := events.NewRecorder()
	clock := testingpkg.NewFakeClock(testingpkg.Epoch)
	return NewController(NewState(minAssets), clock, rec, zerolog.Nop()), rec, clock
}

func TestQualifies(t *testing.T) {
	assert.True(t, Qualifies(4, 5))
	assert.True(t, Qualifies(8, 10))
	assert.False(t, Qualifies(3, 4))
	assert.False(t, Qualifies(79, 100))
	assert.True(t, Qualifies(80, 100))
	assert.False(t, Qualifies(0, 0))
}

func TestDistributionChanged_FourOfFiveShifts(t *testing.T) {
	c, rec, _ := newController(DefaultMinAssets)

	shifted := c.DistributionChanged(dist(map[domain.Tier]int{domain.Tier2: 4, domain.Tier1: 1}))

	require.True(t, shifted)
	assert.Equal(t, domain.Tier2, c.Active())
	require.Len(t, c.History(), 1)
	assert.Equal(t, ReasonAutomatic, c.History()[0].Reason)
	assert.Equal(t, 4, c.History()[0].Qualifying)
	assert.Equal(t, 5, c.History()[0].Total)

	evts := rec.OfType(events.ActiveTierShifted)
	require.Len(t, evts, 1)
	data := evts[0].(*events.ActiveTierShiftedData)
	assert.Equal(t, domain.Tier1, data.OldTier)
	assert.Equal(t, domain.Tier2, data.NewTier)
}

func TestDistributionChanged_ThreeOfFourDoesNotShift(t *testing.T) {
	c, rec, _ := newController(DefaultMinAssets)

	assert.False(t, c.DistributionChanged(dist(map[domain.Tier]int{domain.Tier2: 3, domain.Tier1: 1})))
	assert.Equal(t, domain.Tier1, c.Active())
	assert.Equal(t, 0, rec.Len())
}

func TestDistributionChanged_BelowMinimumCount(t *testing.T) {
	c, _, _ := newController(DefaultMinAssets)

	// 100% at tier3 but only four assets
	assert.False(t, c.DistributionChanged(dist(map[domain.Tier]int{domain.Tier3: 4})))
	assert.Equal(t, domain.Tier1, c.Active())
}

func TestDistributionChanged_HighestQualifyingTierWins(t *testing.T) {
	c, _, _ := newController(1)

	// with a single asset, its tier holds 100%
	require.True(t, c.DistributionChanged(dist(map[domain.Tier]int{domain.Tier4: 1})))
	assert.Equal(t, domain.Tier4, c.Active())

	// shifting down is allowed and happens in a single step
	require.True(t, c.DistributionChanged(dist(map[domain.Tier]int{domain.Tier1: 9, domain.Tier4: 1})))
	assert.Equal(t, domain.Tier1, c.Active())
	assert.Len(t, c.History(), 2)
}

func TestDistributionChanged_SameTierIsNoop(t *testing.T) {
	c, rec, _ := newController(DefaultMinAssets)

	assert.False(t, c.DistributionChanged(dist(map[domain.Tier]int{domain.Tier1: 5})))
	assert.Equal(t, 0, rec.Len())
}

func TestManualOverride(t *testing.T) {
	c, rec, clock := newController(DefaultMinAssets)
	clock.Advance(time.Hour)

	err := c.ManualOverride(domain.Tier3, "market restructuring", dist(map[domain.Tier]int{domain.Tier1: 2}))
	require.NoError(t, err)
	assert.Equal(t, domain.Tier3, c.Active())

	h := c.History()
	require.Len(t, h, 1)
	assert.Equal(t, ReasonManual, h[0].Reason)
	assert.Equal(t, "market restructuring", h[0].Justification)
	assert.Equal(t, testingpkg.Epoch.Add(time.Hour), h[0].At)
	assert.Equal(t, 1, rec.Len())

	assert.ErrorIs(t, c.ManualOverride(domain.Tier2, "  ", dist(nil)), domain.ErrInvalidParameter)
	assert.ErrorIs(t, c.ManualOverride(domain.Tier(7), "x", dist(nil)), domain.ErrInvalidParameter)
}

func TestHistoryIsBounded(t *testing.T) {
	c, _, _ := newController(1)
	for i := 0; i < MaxHistory+10; i++ {
		target := domain.Tier2
		if i%2 == 0 {
			target = domain.Tier3
		}
		require.NoError(t, c.ManualOverride(target, "cycle", dist(nil)))
	}
	assert.Len(t, c.History(), MaxHistory)
}

func TestStateClone(t *testing.T) {
	s := NewState(5)
	s.History = []Shift{{To: domain.Tier2}}
	c := s.Clone()
	c.History[0].To = domain.Tier4
	c.Active = domain.Tier3

	assert.Equal(t, domain.Tier2, s.History[0].To)
	assert.Equal(t, domain.Tier1, s.Active)
}

func TestSetMinAssets(t *testing.T) {
	c, _, _ := newController(DefaultMinAssets)
	assert.ErrorIs(t, c.SetMinAssets(0), domain.ErrInvalidParameter)
	require.NoError(t, c.SetMinAssets(2))
	assert.True(t, c.DistributionChanged(dist(map[domain.Tier]int{domain.Tier2: 2})))
}
