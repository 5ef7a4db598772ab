package store

import (
	"context"
	"testing"
	"time"

	"github.com/aristath/tierindex/internal/core"
	"github.com/aristath/tierindex/internal/domain"
	"github.com/aristath/tierindex/internal/modules/activetier"
	"github.com/aristath/tierindex/internal/modules/grace"
	"github.com/aristath/tierindex/internal/modules/rebalancing"
	testingpkg "github.com/aristath/tierindex/internal/testing"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleState(t *testing.T) *core.State {
	t.Helper()
	now := testingpkg.Epoch
	st := core.NewState(core.StateConfig{GracePeriod: 48 * time.Hour, MinAssets: 5, MaxAssets: 12, HistoryCapacity: 8})

	a, err := st.Registry.Register("DOT", "oracle-a", 2500, domain.Tier4, now)
	require.NoError(t, err)
	require.NoError(t, st.Registry.SetHoldings(a.ID, decimal.RequireFromString("1234.56789"), decimal.NewFromInt(100)))
	b, err := st.Registry.Register("ZZZ", "oracle-b", 0, domain.TierNone, now)
	require.NoError(t, err)
	require.NoError(t, st.Registry.Retire(b.ID, now.Add(time.Hour)))

	st.Pending.Pending[a.ID] = &grace.PendingChange{
		AssetID:      a.ID,
		CurrentTier:  domain.Tier4,
		ProposedTier: domain.Tier3,
		ProposedAt:   now,
		CommitAt:     now.Add(48 * time.Hour),
		Reason:       grace.ReasonAutomatic,
	}
	st.Pending.RefreshCursor = a.ID

	st.Thresholds[0].VolumeFloor = decimal.NewFromInt(4_000_000)

	st.ActiveTier.Active = domain.Tier2
	st.ActiveTier.LastShiftAt = now
	st.ActiveTier.History = []activetier.Shift{{At: now, From: domain.Tier1, To: domain.Tier2, Reason: activetier.ReasonAutomatic, Qualifying: 4, Total: 5}}

	st.Index.Initialized = true
	st.Index.InitializedAt = now
	st.Index.BaselineAggregate = decimal.NewFromInt(1_000_000)
	st.Index.CurrentValue = decimal.RequireFromString("101.25")
	st.Index.PerformanceBP = 125
	st.Index.Degraded = true
	st.Index.Missing = []domain.AssetID{a.ID}

	for i := 0; i < 3; i++ {
		st.History.Append(a.ID, domain.MetricSample{
			At:        now.Add(time.Duration(i) * time.Hour),
			MarketCap: decimal.NewFromInt(int64(100 + i)),
			Price:     decimal.RequireFromString("7.5"),
		})
	}

	st.Rebalance.Reserve = decimal.RequireFromString("42.5")
	st.Rebalance.LastRebalanceAt = now
	plan := &rebalancing.Plan{
		ID:         "plan-1",
		CreatedAt:  now,
		TotalValue: decimal.NewFromInt(1000),
		Instructions: []rebalancing.Instruction{
			{Seq: 0, Kind: rebalancing.KindLiquidate, Asset: a.ID, Units: decimal.NewFromInt(5)},
		},
	}
	st.Rebalance.Journal = rebalancing.NewJournal(plan, now)
	st.Rebalance.Journal.Proceeds[a.ID] = decimal.NewFromInt(37)

	st.Operations = core.Operations{State: domain.OperatingMaintenance, Reason: "venue migration", ChangedAt: now}
	return st
}

func TestSaveLoadRoundTrip(t *testing.T) {
	db, _ := testingpkg.NewTestDB(t, "core")
	s := New(db, zerolog.Nop())
	ctx := context.Background()

	got, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, got, "fresh database has no state")

	want := sampleState(t)
	require.NoError(t, s.Save(ctx, want))

	got, err = s.Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.NoError(t, got.Validate())

	assert.Equal(t, want.Registry.NextID(), got.Registry.NextID())
	assert.Equal(t, want.Registry.Distribution().Counts(), got.Registry.Distribution().Counts())
	recs := got.Registry.List()
	require.Len(t, recs, 2)
	assert.True(t, recs[0].Quantity.Equal(decimal.RequireFromString("1234.56789")))
	assert.True(t, recs[0].Staked.Equal(decimal.NewFromInt(100)))
	assert.Equal(t, domain.Tier4, recs[0].Tier)
	assert.True(t, recs[1].Retired)
	require.NotNil(t, recs[1].RetiredAt)

	assert.Equal(t, 48*time.Hour, got.Pending.GracePeriod)
	p, ok := got.Pending.Get(1)
	require.True(t, ok)
	assert.Equal(t, domain.Tier3, p.ProposedTier)
	assert.True(t, p.CommitAt.Equal(testingpkg.Epoch.Add(48*time.Hour)))
	assert.Equal(t, domain.AssetID(1), got.Pending.RefreshCursor)

	assert.True(t, got.Thresholds[0].VolumeFloor.Equal(decimal.NewFromInt(4_000_000)))
	assert.Equal(t, domain.Tier2, got.ActiveTier.Active)
	require.Len(t, got.ActiveTier.History, 1)
	assert.Equal(t, 4, got.ActiveTier.History[0].Qualifying)

	assert.True(t, got.Index.Initialized)
	assert.True(t, got.Index.CurrentValue.Equal(decimal.RequireFromString("101.25")))
	assert.Equal(t, int32(125), got.Index.PerformanceBP)
	assert.Equal(t, []domain.AssetID{1}, got.Index.Missing)

	assert.Equal(t, 8, got.History.Capacity)
	assert.Equal(t, 3, got.History.Count(1))
	assert.True(t, got.History.Get(1)[2].MarketCap.Equal(decimal.NewFromInt(102)))

	assert.True(t, got.Rebalance.Reserve.Equal(decimal.RequireFromString("42.5")))
	require.NotNil(t, got.Rebalance.Journal)
	assert.Equal(t, "plan-1", got.Rebalance.Journal.Plan.ID)
	assert.True(t, got.Rebalance.Journal.Proceeds[1].Equal(decimal.NewFromInt(37)))
	assert.Nil(t, got.Rebalance.LastJournal)

	assert.Equal(t, 12, got.Registry.MaxAssets())
	assert.Equal(t, domain.OperatingMaintenance, got.Operations.State)
	assert.Equal(t, "venue migration", got.Operations.Reason)
	assert.True(t, got.Operations.ChangedAt.Equal(testingpkg.Epoch))
}

func TestSaveReplacesPreviousState(t *testing.T) {
	db, _ := testingpkg.NewTestDB(t, "core")
	s := New(db, zerolog.Nop())
	ctx := context.Background()

	st := sampleState(t)
	require.NoError(t, s.Save(ctx, st))

	delete(st.Pending.Pending, 1)
	st.Rebalance.LastJournal = st.Rebalance.Journal
	st.Rebalance.Journal = nil
	require.NoError(t, s.Save(ctx, st))

	got, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, got.Pending.Pending)
	assert.Nil(t, got.Rebalance.Journal)
	require.NotNil(t, got.Rebalance.LastJournal)
}

func TestCorePersistsThroughStore(t *testing.T) {
	db, closeDB := testingpkg.NewTestDB(t, "core")
	s := New(db, zerolog.Nop())
	ctx := context.Background()
	oracle := testingpkg.NewMockOracle()
	oracle.SetMetrics(1, decimal.NewFromInt(60_000_000), decimal.NewFromInt(6_000_000))
	clock := testingpkg.NewFakeClock(testingpkg.Epoch)

	c, err := core.New(nil, core.Deps{Oracle: oracle, Clock: clock, Store: s}, core.DefaultOptions(), zerolog.Nop())
	require.NoError(t, err)
	_, err = c.RegisterAsset(ctx, domain.NewRoleSet(domain.RoleManager), "PHA", "oracle", 100)
	require.NoError(t, err)

	path := db.Path()
	closeDB()

	reopened := New(testingpkg.NewTestDBFromFile(t, path, "core"), zerolog.Nop())
	st, err := reopened.Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, st)

	restarted, err := core.New(st, core.Deps{Oracle: oracle, Clock: clock, Store: reopened}, core.DefaultOptions(), zerolog.Nop())
	require.NoError(t, err)
	rec, err := restarted.Asset(1)
	require.NoError(t, err)
	assert.Equal(t, "PHA", rec.Underlying)
	assert.Equal(t, domain.Tier1, rec.Tier)
	assert.Equal(t, 1, restarted.Distribution()[domain.Tier1])
}
