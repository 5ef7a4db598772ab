package rebalancing

import (
	"context"
	"fmt"
	"time"

	"github.com/aristath/tierindex/internal/domain"
	"github.com/aristath/tierindex/internal/events"
	"github.com/aristath/tierindex/internal/modules/grace"
	"github.com/aristath/tierindex/internal/modules/history"
	"github.com/aristath/tierindex/internal/modules/marketdata"
	"github.com/aristath/tierindex/internal/modules/registry"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

type position struct {
	rec   *domain.AssetRecord
	price decimal.Decimal
	value decimal.Decimal
}

// Engine plans and executes rebalancing cycles over the fund state
type Engine struct {
	state      *State
	registry   *registry.Registry
	history    *history.Store
	pending    *grace.Book
	activeTier domain.Tier
	fetcher    *marketdata.Fetcher
	swap       domain.SwapService
	staking    domain.StakingService
	clock      domain.Clock
	emitter    events.Emitter
	cfg        Config
	timeout    time.Duration
	log        zerolog.Logger
}

// Deps groups the engine's collaborators
type Deps struct {
	Registry   *registry.Registry
	History    *history.Store
	Pending    *grace.Book
	ActiveTier domain.Tier
	Fetcher    *marketdata.Fetcher
	Swap       domain.SwapService
	Staking    domain.StakingService
	Clock      domain.Clock
	Emitter    events.Emitter
	// CallTimeout bounds every swap and staking call
	CallTimeout time.Duration
}

// NewEngine creates an engine over state
func NewEngine(state *State, deps Deps, cfg Config, log zerolog.Logger) *Engine {
	timeout := deps.CallTimeout
	if timeout <= 0 {
		timeout = marketdata.DefaultTimeout
	}
	return &Engine{
		state:      state,
		registry:   deps.Registry,
		history:    deps.History,
		pending:    deps.Pending,
		activeTier: deps.ActiveTier,
		fetcher:    deps.Fetcher,
		swap:       deps.Swap,
		staking:    deps.Staking,
		clock:      deps.Clock,
		emitter:    deps.Emitter,
		cfg:        cfg,
		timeout:    timeout,
		log:        log.With().Str("service", "rebalancing").Logger(),
	}
}

func (e *Engine) emit(eventType events.EventType, data events.EventData) {
	if e.emitter != nil {
		e.emitter.EmitTyped(eventType, "rebalancing", data)
	}
}

// IsZombie reports whether rec is tiered None for good: not retired, with no
// pending change that could still lift it, and past its removal grace. An
// asset that reached None through a committed change has served that grace
// already; one classified None at registration serves a full grace period
// from its registration first.
func (e *Engine) IsZombie(rec *domain.AssetRecord) bool {
	if rec.Retired || rec.Tier != domain.TierNone {
		return false
	}
	gracePeriod := grace.DefaultGracePeriod
	if e.pending != nil {
		if _, ok := e.pending.Get(rec.ID); ok {
			return false
		}
		gracePeriod = e.pending.GracePeriod
	}
	if rec.TierChangedAt.After(rec.RegisteredAt) {
		return true
	}
	return !e.clock.Now().Before(rec.RegisteredAt.Add(gracePeriod))
}

// Targets returns the non-retired assets at the active tier
func (e *Engine) Targets() []*domain.AssetRecord {
	if e.activeTier == domain.TierNone {
		return nil
	}
	return e.registry.ByTier(e.activeTier)
}

// Preview builds the plan the next execution would start with. It has no side effects.
func (e *Engine) Preview(ctx context.Context) (*Plan, error) {
	return e.buildPlan(ctx)
}

func (e *Engine) buildPlan(ctx context.Context) (*Plan, error) {
	now := e.clock.Now()
	plan := &Plan{
		ID:          uuid.New().String(),
		CreatedAt:   now,
		ActiveTier:  e.activeTier,
		Reserve:     e.state.Reserve,
		ScaleFactor: decimal.NewFromInt(1),
	}

	// 1-2: smoothed target weights
	targets := e.Targets()
	ids := make([]domain.AssetID, len(targets))
	smoothed := make([]decimal.Decimal, len(targets))
	for i, rec := range targets {
		v, err := e.cfg.Smoother.MarketCap(e.history.Get(rec.ID))
		if err != nil {
			return nil, fmt.Errorf("asset %s: %w", rec.ID, err)
		}
		ids[i] = rec.ID
		smoothed[i] = v
	}
	weights, err := NormalizeWeights(ids, smoothed, e.cfg.MaxPositionBP)
	if err != nil {
		return nil, err
	}
	targetBP := make(map[domain.AssetID]int, len(ids))
	for i, id := range ids {
		targetBP[id] = weights[i]
		plan.Targets = append(plan.Targets, TargetWeight{Asset: id, WeightBP: weights[i], SmoothedMarketCap: smoothed[i]})
	}

	// 3: live valuation of everything held, zombies kept apart
	var positions []position
	var zombies []position
	total := e.state.Reserve
	for _, rec := range e.registry.Active() {
		zombie := e.IsZombie(rec)
		_, isTarget := targetBP[rec.ID]
		if !rec.Held() && !isTarget && !zombie {
			continue
		}
		if zombie && !rec.Held() {
			zombies = append(zombies, position{rec: rec})
			continue
		}
		p := position{rec: rec, value: decimal.Zero}
		if rec.Held() {
			price, err := e.fetcher.Price(ctx, rec.Key())
			if err != nil {
				return nil, err
			}
			p.price = price
			p.value = rec.Quantity.Mul(price)
		}
		if zombie {
			zombies = append(zombies, p)
			continue
		}
		positions = append(positions, p)
		total = total.Add(p.value)
	}
	plan.TotalValue = total

	raw := make([]decimal.Decimal, len(positions))
	for i, p := range positions {
		target := decimal.Zero
		if w, ok := targetBP[p.rec.ID]; ok {
			target = total.Mul(decimal.NewFromInt(int64(w))).Div(bpScale)
		}
		raw[i] = target.Sub(p.value).Truncate(StablePrecision)
		adj := Adjustment{
			Asset:        p.rec.ID,
			Price:        p.price,
			CurrentValue: p.value,
			TargetValue:  target,
			Raw:          raw[i],
			TargetBP:     targetBP[p.rec.ID],
		}
		if total.IsPositive() {
			adj.CurrentBP = int(p.value.Mul(bpScale).Div(total).IntPart())
		}
		plan.Adjustments = append(plan.Adjustments, adj)
	}

	// 4: clamp the shift to the per-cycle bound
	plan.Bound = total.Mul(decimal.NewFromInt(int64(e.cfg.MaxShiftBP))).Div(bpScale)
	scaled, rawShift, factor := ClampAdjustments(raw, plan.Bound)
	plan.RawShift = rawShift
	plan.ScaleFactor = factor
	plan.Scaled = rawShift.GreaterThan(plan.Bound)
	for i := range plan.Adjustments {
		plan.Adjustments[i].Scaled = scaled[i]
	}

	// 5: zombie cleanup
	for _, z := range zombies {
		cleanup := ZombieCleanup{
			Asset:            z.rec.ID,
			Quantity:         z.rec.Quantity,
			Staked:           z.rec.Staked,
			ExpectedProceeds: z.value,
			Targets:          append([]domain.AssetID(nil), ids...),
			RetireOnly:       !z.rec.Held(),
		}
		if e.staking != nil {
			cleanup.LockDuration = e.staking.CurrentLockDuration(z.rec.Tier)
		}
		plan.Zombies = append(plan.Zombies, cleanup)
	}

	// 6: ordered instructions
	e.sequence(plan, positions, weights)
	return plan, nil
}

func (e *Engine) sequence(plan *Plan, positions []position, weights []int) {
	add := func(in Instruction) {
		in.Seq = len(plan.Instructions)
		plan.Instructions = append(plan.Instructions, in)
	}
	for _, z := range plan.Zombies {
		if !z.RetireOnly && z.Staked.IsPositive() {
			add(Instruction{Kind: KindUnstake, Asset: z.Asset, Units: z.Staked})
		}
	}
	for _, z := range plan.Zombies {
		if !z.RetireOnly {
			add(Instruction{Kind: KindLiquidate, Asset: z.Asset, Units: z.Quantity, Stable: z.ExpectedProceeds})
		}
	}
	for i, adj := range plan.Adjustments {
		if !adj.Scaled.IsNegative() {
			continue
		}
		units := decimal.Zero
		if positions[i].price.IsPositive() {
			units = adj.Scaled.Abs().Div(positions[i].price).Truncate(StablePrecision)
		}
		if units.IsPositive() {
			add(Instruction{Kind: KindDivest, Asset: adj.Asset, Units: units, Stable: adj.Scaled.Abs()})
		}
	}
	for _, z := range plan.Zombies {
		if z.RetireOnly || len(z.Targets) == 0 {
			continue
		}
		expected := SplitByWeights(z.ExpectedProceeds, weights)
		for i, target := range z.Targets {
			add(Instruction{
				Kind:    KindRedistribute,
				Asset:   target,
				Zombie:  z.Asset,
				ShareBP: weights[i],
				Stable:  expected[i],
				Last:    i == len(z.Targets)-1,
			})
		}
	}
	for _, adj := range plan.Adjustments {
		if adj.Scaled.IsPositive() {
			add(Instruction{Kind: KindAcquire, Asset: adj.Asset, Stable: adj.Scaled})
		}
	}
}
