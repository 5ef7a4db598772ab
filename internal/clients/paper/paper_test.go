package paper

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aristath/tierindex/internal/domain"
	testingpkg "github.com/aristath/tierindex/internal/testing"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var eth = domain.AssetKey{ID: 2, Underlying: "ETH", Provider: "feedA"}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newSwap(t *testing.T, slippageBP int) (*Swap, *testingpkg.MockOracle) {
	t.Helper()
	oracle := testingpkg.NewMockOracle()
	oracle.SetPrice(eth.ID, d("2000"))
	s, err := NewSwap(oracle, slippageBP, testingpkg.NewFakeClock(testingpkg.Epoch), zerolog.Nop())
	require.NoError(t, err)
	return s, oracle
}

func TestSwap_Liquidate(t *testing.T) {
	s, _ := newSwap(t, 50)

	proceeds, err := s.Liquidate(context.Background(), eth, d("1.5"))
	require.NoError(t, err)
	// 1.5 * 2000 * 0.995
	assert.True(t, proceeds.Equal(d("2985")), proceeds.String())

	fills := s.Fills()
	require.Len(t, fills, 1)
	assert.Equal(t, SideSell, fills[0].Side)
	assert.NotEmpty(t, fills[0].ID)
	assert.Equal(t, testingpkg.Epoch, fills[0].At)
}

func TestSwap_Acquire(t *testing.T) {
	s, _ := newSwap(t, 0)

	units, err := s.Acquire(context.Background(), eth, d("1000"))
	require.NoError(t, err)
	assert.True(t, units.Equal(d("0.5")), units.String())

	s, _ = newSwap(t, 100)
	units, err = s.Acquire(context.Background(), eth, d("1000"))
	require.NoError(t, err)
	assert.True(t, units.Equal(d("0.495")), units.String())
}

func TestSwap_Errors(t *testing.T) {
	ctx := context.Background()

	_, err := NewSwap(testingpkg.NewMockOracle(), domain.MaxWeightBP, nil, zerolog.Nop())
	assert.True(t, errors.Is(err, domain.ErrInvalidParameter))

	s, oracle := newSwap(t, 10)
	_, err = s.Liquidate(ctx, eth, decimal.Zero)
	assert.True(t, errors.Is(err, domain.ErrInvalidParameter))
	_, err = s.Acquire(ctx, eth, d("-1"))
	assert.True(t, errors.Is(err, domain.ErrInvalidParameter))

	oracle.SetPrice(eth.ID, decimal.Zero)
	_, err = s.Acquire(ctx, eth, d("10"))
	assert.True(t, errors.Is(err, domain.ErrExternalDataUnavailable))

	oracle.RemovePrice(eth.ID)
	_, err = s.Liquidate(ctx, eth, d("1"))
	assert.True(t, errors.Is(err, domain.ErrExternalDataUnavailable))
	assert.Empty(t, s.Fills())
}

func TestStaking_LockByActiveTier(t *testing.T) {
	st := NewStaking(nil, testingpkg.NewFakeClock(testingpkg.Epoch), zerolog.Nop())

	tests := []struct {
		tier domain.Tier
		want time.Duration
	}{
		{domain.TierNone, 14 * 24 * time.Hour},
		{domain.Tier1, 14 * 24 * time.Hour},
		{domain.Tier2, 10 * 24 * time.Hour},
		{domain.Tier3, 7 * 24 * time.Hour},
		{domain.Tier4, 3 * 24 * time.Hour},
	}
	for _, tt := range tests {
		t.Run(tt.tier.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, st.CurrentLockDuration(tt.tier))
		})
	}

	st.SetActiveTier(domain.Tier3)
	got, err := st.Unstake(context.Background(), eth, d("4"))
	require.NoError(t, err)
	assert.True(t, got.Equal(d("4")))

	open := st.Unbonding()
	require.Len(t, open, 1)
	assert.Equal(t, testingpkg.Epoch.Add(7*24*time.Hour), open[0].ReleaseAt)
	assert.Equal(t, domain.Tier3, open[0].Tier)
}

func TestStaking_RequestLimitAndRelease(t *testing.T) {
	clock := testingpkg.NewFakeClock(testingpkg.Epoch)
	st := NewStaking(nil, clock, zerolog.Nop())
	ctx := context.Background()

	for i := 0; i < MaxUnstakingRequests; i++ {
		_, err := st.Unstake(ctx, eth, d("1"))
		require.NoError(t, err)
	}
	_, err := st.Unstake(ctx, eth, d("1"))
	assert.True(t, errors.Is(err, domain.ErrInvalidParameter))

	clock.Advance(14 * 24 * time.Hour)
	assert.Empty(t, st.Unbonding())

	_, err = st.Unstake(ctx, eth, d("1"))
	assert.NoError(t, err)

	_, err = st.Unstake(ctx, eth, decimal.Zero)
	assert.True(t, errors.Is(err, domain.ErrInvalidParameter))
}
