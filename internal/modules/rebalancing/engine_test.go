package rebalancing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aristath/tierindex/internal/domain"
	"github.com/aristath/tierindex/internal/events"
	"github.com/aristath/tierindex/internal/modules/grace"
	"github.com/aristath/tierindex/internal/modules/history"
	"github.com/aristath/tierindex/internal/modules/marketdata"
	"github.com/aristath/tierindex/internal/modules/registry"
	testingpkg "github.com/aristath/tierindex/internal/testing"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const zombieLock = 14 * 24 * time.Hour

type fixture struct {
	reg     *registry.Registry
	hist    *history.Store
	book    *grace.Book
	state   *State
	clock   *testingpkg.FakeClock
	oracle  *testingpkg.MockOracle
	swap    *testingpkg.MockSwap
	staking *testingpkg.MockStaking
	rec     *events.Recorder
}

func d(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func newFixture() *fixture {
	return &fixture{
		reg:     registry.New(),
		hist:    history.NewStore(0),
		book:    grace.NewBook(0),
		state:   NewState(),
		clock:   testingpkg.NewFakeClock(testingpkg.Epoch),
		oracle:  testingpkg.NewMockOracle(),
		swap:    testingpkg.NewMockSwap(),
		staking: testingpkg.NewMockStaking(map[domain.Tier]time.Duration{domain.TierNone: zombieLock}),
		rec:     events.NewRecorder(),
	}
}

// add registers an asset holding quantity at price with a flat market-cap
// history. None assets are registered one grace period back so they are
// already past their removal grace.
func (f *fixture) add(t *testing.T, name string, tier domain.Tier, quantity, price, marketCap int64) domain.AssetID {
	t.Helper()
	registeredAt := f.clock.Now()
	if tier == domain.TierNone {
		registeredAt = registeredAt.Add(-f.book.GracePeriod)
	}
	rec, err := f.reg.Register(name, "oracle", 0, tier, registeredAt)
	require.NoError(t, err)
	require.NoError(t, f.reg.SetHoldings(rec.ID, d(quantity), decimal.Zero))
	f.oracle.SetPrice(rec.ID, d(price))
	f.swap.SetPrice(rec.ID, d(price))
	for i := 0; i < history.DefaultMinSamples; i++ {
		f.hist.Append(rec.ID, domain.MetricSample{At: f.clock.Now(), MarketCap: d(marketCap)})
	}
	return rec.ID
}

func (f *fixture) engine() *Engine {
	return NewEngine(f.state, Deps{
		Registry:   f.reg,
		History:    f.hist,
		Pending:    f.book,
		ActiveTier: domain.Tier1,
		Fetcher:    marketdata.NewFetcher(f.oracle, time.Second),
		Swap:       f.swap,
		Staking:    f.staking,
		Clock:      f.clock,
		Emitter:    f.rec,
	}, DefaultConfig(), zerolog.Nop())
}

func quantity(t *testing.T, reg *registry.Registry, id domain.AssetID) decimal.Decimal {
	t.Helper()
	rec, err := reg.Get(id)
	require.NoError(t, err)
	return rec.Quantity
}

func TestPreview_ShiftScaledToBound(t *testing.T) {
	// equal targets, held 67.5% / 32.5%: raw adjustments of 175 each way
	// sum to 35% of the portfolio and are scaled by 20/35
	f := newFixture()
	a := f.add(t, "AAA", domain.Tier1, 675, 1, 100)
	b := f.add(t, "BBB", domain.Tier1, 325, 1, 100)

	plan, err := f.engine().Preview(context.Background())
	require.NoError(t, err)

	assert.True(t, plan.TotalValue.Equal(d(1000)))
	assert.True(t, plan.Bound.Equal(d(200)))
	assert.True(t, plan.RawShift.Equal(d(350)))
	assert.True(t, plan.Scaled)

	require.Len(t, plan.Targets, 2)
	assert.Equal(t, 5000, plan.Targets[0].WeightBP)
	assert.Equal(t, 5000, plan.Targets[1].WeightBP)

	require.Len(t, plan.Adjustments, 2)
	assert.Equal(t, a, plan.Adjustments[0].Asset)
	assert.True(t, plan.Adjustments[0].Raw.Equal(d(-175)))
	assert.True(t, plan.Adjustments[0].Scaled.Equal(d(-100)), "got %s", plan.Adjustments[0].Scaled)
	assert.Equal(t, b, plan.Adjustments[1].Asset)
	assert.True(t, plan.Adjustments[1].Scaled.Equal(d(100)))

	require.Len(t, plan.Instructions, 2)
	assert.Equal(t, KindDivest, plan.Instructions[0].Kind)
	assert.True(t, plan.Instructions[0].Units.Equal(d(100)))
	assert.Equal(t, KindAcquire, plan.Instructions[1].Kind)
	assert.True(t, plan.Instructions[1].Stable.Equal(d(100)))
}

func TestPreview_HasNoSideEffects(t *testing.T) {
	f := newFixture()
	a := f.add(t, "AAA", domain.Tier1, 675, 1, 100)
	f.add(t, "BBB", domain.Tier1, 325, 1, 100)

	_, err := f.engine().Preview(context.Background())
	require.NoError(t, err)

	assert.Nil(t, f.state.Journal)
	assert.True(t, f.state.Reserve.IsZero())
	assert.True(t, quantity(t, f.reg, a).Equal(d(675)))
	assert.Empty(t, f.swap.Calls())
	assert.Equal(t, 0, f.rec.Len())
}

func TestPreview_WithinBoundIsUnscaled(t *testing.T) {
	f := newFixture()
	f.add(t, "AAA", domain.Tier1, 550, 1, 100)
	f.add(t, "BBB", domain.Tier1, 450, 1, 100)

	plan, err := f.engine().Preview(context.Background())
	require.NoError(t, err)
	assert.False(t, plan.Scaled)
	assert.True(t, plan.ScaleFactor.Equal(d(1)))
	assert.True(t, plan.Adjustments[0].Scaled.Equal(d(-50)))
}

func TestPreview_InsufficientHistory(t *testing.T) {
	f := newFixture()
	f.add(t, "AAA", domain.Tier1, 10, 1, 100)
	rec, err := f.reg.Register("NEW", "oracle", 0, domain.Tier1, f.clock.Now())
	require.NoError(t, err)
	f.hist.Append(rec.ID, domain.MetricSample{At: f.clock.Now(), MarketCap: d(100)})

	_, err = f.engine().Preview(context.Background())
	assert.ErrorIs(t, err, domain.ErrInsufficientHistory)
}

func TestPreview_MissingPriceAborts(t *testing.T) {
	f := newFixture()
	a := f.add(t, "AAA", domain.Tier1, 10, 1, 100)
	f.oracle.RemovePrice(a)

	_, err := f.engine().Preview(context.Background())
	assert.ErrorIs(t, err, domain.ErrExternalDataUnavailable)
}

func TestIsZombie_PendingChangeProtects(t *testing.T) {
	f := newFixture()
	z := f.add(t, "ZZZ", domain.TierNone, 10, 1, 1)
	e := f.engine()
	rec, err := f.reg.Get(z)
	require.NoError(t, err)
	assert.True(t, e.IsZombie(rec))

	f.book.Pending[z] = &grace.PendingChange{AssetID: z, ProposedTier: domain.Tier1}
	assert.False(t, e.IsZombie(rec))
}

func TestIsZombie_RemovalGrace(t *testing.T) {
	f := newFixture()
	f.add(t, "AAA", domain.Tier1, 500, 1, 100)
	f.add(t, "BBB", domain.Tier1, 500, 1, 100)
	fresh, err := f.reg.Register("NEW", "oracle", 0, domain.TierNone, f.clock.Now())
	require.NoError(t, err)
	demoted, err := f.reg.Register("OLD", "oracle", 0, domain.Tier1, f.clock.Now())
	require.NoError(t, err)

	e := f.engine()
	assert.False(t, e.IsZombie(fresh), "classified None at registration")

	f.clock.Advance(time.Hour)
	_, err = f.reg.SetTier(demoted.ID, domain.TierNone, f.clock.Now())
	require.NoError(t, err)
	assert.True(t, e.IsZombie(demoted), "committed change to None")

	plan, err := e.Preview(context.Background())
	require.NoError(t, err)
	require.Len(t, plan.Zombies, 1)
	assert.Equal(t, demoted.ID, plan.Zombies[0].Asset)

	res, err := e.Execute(context.Background(), 10, false)
	require.NoError(t, err)
	assert.True(t, res.Completed)
	rec, err := f.reg.Get(fresh.ID)
	require.NoError(t, err)
	assert.False(t, rec.Retired)
	rec, err = f.reg.Get(demoted.ID)
	require.NoError(t, err)
	assert.True(t, rec.Retired)

	f.clock.Advance(f.book.GracePeriod)
	assert.True(t, e.IsZombie(fresh), "registration grace served")
}

func TestExecute_ScaledRebalance(t *testing.T) {
	f := newFixture()
	a := f.add(t, "AAA", domain.Tier1, 675, 1, 100)
	b := f.add(t, "BBB", domain.Tier1, 325, 1, 100)
	e := f.engine()

	res, err := e.Execute(context.Background(), 10, false)
	require.NoError(t, err)
	assert.True(t, res.Started)
	assert.True(t, res.Completed)
	assert.Equal(t, 2, res.Executed)

	assert.True(t, quantity(t, f.reg, a).Equal(d(575)))
	assert.True(t, quantity(t, f.reg, b).Equal(d(425)))
	assert.True(t, f.state.Reserve.IsZero())

	for _, id := range []domain.AssetID{a, b} {
		rec, err := f.reg.Get(id)
		require.NoError(t, err)
		assert.Equal(t, 5000, rec.TargetWeightBP)
	}

	assert.Nil(t, f.state.Journal)
	require.NotNil(t, f.state.LastJournal)
	assert.Equal(t, StatusCompleted, f.state.LastJournal.Status)
	assert.Equal(t, f.clock.Now(), f.state.LastRebalanceAt)
	assert.Len(t, f.rec.OfType(events.RebalancePlanned), 1)
	assert.Len(t, f.rec.OfType(events.RebalanceCompleted), 1)
}

func TestExecute_Cadence(t *testing.T) {
	f := newFixture()
	f.add(t, "AAA", domain.Tier1, 600, 1, 100)
	f.add(t, "BBB", domain.Tier1, 400, 1, 100)
	e := f.engine()
	ctx := context.Background()

	_, err := e.Execute(ctx, 10, false)
	require.NoError(t, err)

	f.clock.Advance(24 * time.Hour)
	res, err := e.Execute(ctx, 10, false)
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Equal(t, testingpkg.Epoch.Add(DefaultInterval), res.NextDueAt)

	res, err = e.Execute(ctx, 10, true)
	require.NoError(t, err)
	assert.False(t, res.Skipped)
	assert.True(t, res.Started)

	f.clock.Advance(DefaultInterval)
	res, err = e.Execute(ctx, 10, false)
	require.NoError(t, err)
	assert.False(t, res.Skipped)
}

func TestExecute_InvalidBatch(t *testing.T) {
	f := newFixture()
	_, err := f.engine().Execute(context.Background(), 0, false)
	assert.ErrorIs(t, err, domain.ErrInvalidParameter)
}

// zombieFixture holds two equal targets worth 500 each and a zombie worth 100
// with 20 of its 50 units staked.
func zombieFixture(t *testing.T) (*fixture, domain.AssetID, domain.AssetID, domain.AssetID) {
	f := newFixture()
	a := f.add(t, "AAA", domain.Tier1, 500, 1, 100)
	b := f.add(t, "BBB", domain.Tier1, 500, 1, 100)
	z := f.add(t, "ZZZ", domain.TierNone, 50, 2, 1)
	require.NoError(t, f.reg.SetHoldings(z, d(50), d(20)))
	return f, a, b, z
}

func TestExecute_ZombieCleanup(t *testing.T) {
	f, a, b, z := zombieFixture(t)
	e := f.engine()

	plan, err := e.Preview(context.Background())
	require.NoError(t, err)
	assert.True(t, plan.TotalValue.Equal(d(1000)), "zombie value stays out of the total")
	require.Len(t, plan.Zombies, 1)
	assert.Equal(t, zombieLock, plan.Zombies[0].LockDuration)
	kinds := make([]Kind, len(plan.Instructions))
	for i, in := range plan.Instructions {
		kinds[i] = in.Kind
	}
	assert.Equal(t, []Kind{KindUnstake, KindLiquidate, KindRedistribute, KindRedistribute}, kinds)

	res, err := e.Execute(context.Background(), 10, false)
	require.NoError(t, err)
	assert.True(t, res.Completed)

	assert.True(t, quantity(t, f.reg, a).Equal(d(550)))
	assert.True(t, quantity(t, f.reg, b).Equal(d(550)))
	assert.True(t, f.state.Reserve.IsZero())

	zrec, err := f.reg.Get(z)
	require.NoError(t, err)
	assert.True(t, zrec.Retired)
	assert.True(t, zrec.Quantity.IsZero())

	audits := f.rec.OfType(events.ZombieAssetLiquidated)
	require.Len(t, audits, 1)
	audit := audits[0].(*events.ZombieAssetLiquidatedData)
	assert.Equal(t, z, audit.ID)
	assert.True(t, audit.Unstaked.Equal(d(20)))
	assert.True(t, audit.Liquidated.Equal(d(50)))
	assert.True(t, audit.Recovered.Equal(d(100)))
	assert.Equal(t, []domain.AssetID{a, b}, audit.Targets)
	assert.Equal(t, testingpkg.Epoch.Add(zombieLock), audit.ExpectedUnlock)
}

func TestExecute_EmptyZombieIsRetired(t *testing.T) {
	f := newFixture()
	f.add(t, "AAA", domain.Tier1, 500, 1, 100)
	f.add(t, "BBB", domain.Tier1, 500, 1, 100)
	z := f.add(t, "ZZZ", domain.TierNone, 0, 2, 1)

	res, err := f.engine().Execute(context.Background(), 10, false)
	require.NoError(t, err)
	assert.True(t, res.Completed)

	zrec, err := f.reg.Get(z)
	require.NoError(t, err)
	assert.True(t, zrec.Retired)
	assert.Empty(t, f.rec.OfType(events.ZombieAssetLiquidated))
}

func TestExecute_PartialFailureResumes(t *testing.T) {
	f, a, b, z := zombieFixture(t)
	e := f.engine()
	ctx := context.Background()
	venueDown := errors.New("venue down")
	f.swap.FailOn("acquire", b, venueDown)

	res, err := e.Execute(ctx, 10, false)
	require.Error(t, err)
	var stepErr *StepFailedError
	require.ErrorAs(t, err, &stepErr)
	assert.ErrorIs(t, err, venueDown)
	assert.Equal(t, 3, stepErr.Step)
	assert.Equal(t, KindRedistribute, stepErr.Kind)
	assert.Equal(t, b, stepErr.Asset)
	assert.Equal(t, 3, res.Cursor)

	// completed steps stay applied
	require.NotNil(t, f.state.Journal)
	assert.Equal(t, StatusFailed, f.state.Journal.Status)
	assert.True(t, quantity(t, f.reg, a).Equal(d(550)))
	assert.True(t, quantity(t, f.reg, z).IsZero())
	assert.True(t, f.state.Reserve.Equal(d(50)))
	assert.Len(t, f.rec.OfType(events.RebalanceStepFailed), 1)

	planID := f.state.Journal.Plan.ID
	f.swap.FailOn("acquire", b, nil)
	res, err = e.Execute(ctx, 10, false)
	require.NoError(t, err)
	assert.False(t, res.Started)
	assert.True(t, res.Completed)
	assert.Equal(t, planID, res.PlanID)
	assert.Equal(t, 1, res.Executed)

	assert.True(t, quantity(t, f.reg, b).Equal(d(550)))
	assert.True(t, f.state.Reserve.IsZero())

	liquidations := 0
	for _, c := range f.swap.Calls() {
		if c.Kind == "liquidate" {
			liquidations++
		}
	}
	assert.Equal(t, 1, liquidations, "resumed cycle must not repeat completed steps")
}

func TestExecute_StepBudget(t *testing.T) {
	f, _, _, _ := zombieFixture(t)
	e := f.engine()
	ctx := context.Background()

	res, err := e.Execute(ctx, 1, false)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Executed)
	assert.False(t, res.Completed)
	assert.Equal(t, StatusPartial, e.Journal().Status)

	// an open journal runs regardless of cadence
	for !res.Completed {
		res, err = e.Execute(ctx, 1, false)
		require.NoError(t, err)
	}
	assert.Len(t, f.rec.OfType(events.RebalancePlanned), 1)
}

func TestAbandon(t *testing.T) {
	f, _, _, _ := zombieFixture(t)
	e := f.engine()
	assert.False(t, e.Abandon())

	_, err := e.Execute(context.Background(), 1, false)
	require.NoError(t, err)
	assert.True(t, e.Abandon())
	assert.Nil(t, e.Journal())
	assert.Equal(t, StatusFailed, f.state.LastJournal.Status)
}

func TestJournal_EncodeDecode(t *testing.T) {
	f, _, _, z := zombieFixture(t)
	e := f.engine()
	_, err := e.Execute(context.Background(), 2, false)
	require.NoError(t, err)

	data, err := EncodeJournal(e.Journal())
	require.NoError(t, err)
	got, err := DecodeJournal(data)
	require.NoError(t, err)

	assert.Equal(t, 2, got.Cursor)
	assert.Equal(t, e.Journal().Plan.ID, got.Plan.ID)
	assert.Len(t, got.Plan.Instructions, 4)
	assert.True(t, got.Proceeds[z].Equal(d(100)))
	assert.True(t, got.Plan.TotalValue.Equal(d(1000)))
	require.NotNil(t, got.Distributed)

	empty, err := DecodeJournal(nil)
	require.NoError(t, err)
	assert.Nil(t, empty)
}

func TestState_CloneIsolatesJournal(t *testing.T) {
	f, _, _, z := zombieFixture(t)
	e := f.engine()
	_, err := e.Execute(context.Background(), 2, false)
	require.NoError(t, err)

	c := f.state.Clone()
	c.Journal.Proceeds[z] = d(1)
	c.Journal.Plan.Zombies[0].Targets[0] = 99
	c.Journal.Cursor = 0

	assert.True(t, f.state.Journal.Proceeds[z].Equal(d(100)))
	assert.NotEqual(t, domain.AssetID(99), f.state.Journal.Plan.Zombies[0].Targets[0])
	assert.Equal(t, 2, f.state.Journal.Cursor)
}
