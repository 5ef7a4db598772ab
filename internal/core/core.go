package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aristath/tierindex/internal/domain"
	"github.com/aristath/tierindex/internal/events"
	"github.com/aristath/tierindex/internal/modules/activetier"
	"github.com/aristath/tierindex/internal/modules/grace"
	"github.com/aristath/tierindex/internal/modules/history"
	"github.com/aristath/tierindex/internal/modules/index"
	"github.com/aristath/tierindex/internal/modules/marketdata"
	"github.com/aristath/tierindex/internal/modules/rebalancing"
	"github.com/rs/zerolog"
)

// Persister stores a committed state. Save must be atomic: either the whole
// state is written or nothing is.
type Persister interface {
	Save(ctx context.Context, s *State) error
}

// Deps are the core's external collaborators. Only Clock is required.
type Deps struct {
	Oracle  domain.PriceOracle
	Swap    domain.SwapService
	Staking domain.StakingService
	Clock   domain.Clock
	Store   Persister
	Emitter events.Emitter
}

// Options tune the components the core drives
type Options struct {
	Staleness   time.Duration
	CallTimeout time.Duration
	Rebalance   rebalancing.Config
}

// DefaultOptions returns the stock tuning
func DefaultOptions() Options {
	return Options{
		Staleness:   index.DefaultStaleness,
		CallTimeout: marketdata.DefaultTimeout,
		Rebalance:   rebalancing.DefaultConfig(),
	}
}

// Core serializes operations over the fund state. Each operation runs on a
// deep copy which replaces the live state only once it has succeeded and been
// persisted. Events emitted along the way are released on commit.
type Core struct {
	mu      sync.Mutex
	state   *State
	fetcher *marketdata.Fetcher
	swap    domain.SwapService
	staking domain.StakingService
	clock   domain.Clock
	store   Persister
	emitter events.Emitter
	opts    Options
	log     zerolog.Logger
}

// New creates a core over state; a nil state starts an empty fund
func New(state *State, deps Deps, opts Options, log zerolog.Logger) (*Core, error) {
	if deps.Clock == nil {
		deps.Clock = domain.SystemClock{}
	}
	if err := opts.Rebalance.Validate(); err != nil {
		return nil, err
	}
	if state == nil {
		state = NewState(StateConfig{})
	}
	if err := state.Validate(); err != nil {
		return nil, fmt.Errorf("invalid state: %w", err)
	}
	return &Core{
		state:   state,
		fetcher: marketdata.NewFetcher(deps.Oracle, opts.CallTimeout),
		swap:    deps.Swap,
		staking: deps.Staking,
		clock:   deps.Clock,
		store:   deps.Store,
		emitter: deps.Emitter,
		opts:    opts,
		log:     log.With().Str("component", "core").Logger(),
	}, nil
}

// tx is one operation in flight
type tx struct {
	ctx    context.Context
	core   *Core
	state  *State
	events *events.Recorder
	// keep commits the state even though the operation returned an error
	keep bool
	// external marks side effects already applied at a venue; the state is
	// adopted in memory even when it cannot be persisted
	external bool
}

func (t *tx) activeTier() *activetier.Controller {
	return activetier.NewController(t.state.ActiveTier, t.core.clock, t.events, t.core.log)
}

func (t *tx) grace() *grace.Manager {
	return grace.NewManager(t.state.Pending, t.state.Registry, t.state.Thresholds,
		t.core.fetcher, t.core.clock, t.events, t.activeTier(), t.core.log)
}

func (t *tx) index() *index.Tracker {
	return index.NewTracker(t.state.Index, t.state.Registry, t.state.Rebalance.Reserve,
		t.core.fetcher, t.core.clock, t.events, t.core.opts.Staleness, t.core.log)
}

func (t *tx) sampler() *history.Sampler {
	return history.NewSampler(t.state.History, t.state.Registry, t.core.fetcher, t.core.clock, t.events, t.core.log)
}

func (t *tx) engine() *rebalancing.Engine {
	return rebalancing.NewEngine(t.state.Rebalance, rebalancing.Deps{
		Registry:    t.state.Registry,
		History:     t.state.History,
		Pending:     t.state.Pending,
		ActiveTier:  t.state.ActiveTier.Active,
		Fetcher:     t.core.fetcher,
		Swap:        t.core.swap,
		Staking:     t.core.staking,
		Clock:       t.core.clock,
		Emitter:     t.events,
		CallTimeout: t.core.opts.CallTimeout,
	}, t.core.opts.Rebalance, t.core.log)
}

// distributionChanged re-runs the supermajority rule after a committed change
func (t *tx) distributionChanged() {
	t.activeTier().DistributionChanged(t.state.Registry.Distribution())
}

func (t *tx) emit(eventType events.EventType, data events.EventData) {
	t.events.EmitTyped(eventType, "core", data)
}

// run checks role, then executes fn on a copy of the state and commits it
func (c *Core) run(ctx context.Context, caps domain.Capabilities, role domain.Role, op string, fn func(t *tx) error) error {
	if err := domain.Require(caps, role); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	t := &tx{ctx: ctx, core: c, state: c.state.Clone(), events: events.NewRecorder()}
	opErr := fn(t)
	if opErr != nil && !t.keep {
		c.log.Debug().Err(opErr).Str("op", op).Int("dropped_events", t.events.Len()).Msg("Operation rolled back")
		return opErr
	}
	if err := c.commit(ctx, t); err != nil {
		if !t.external {
			return errors.Join(opErr, err)
		}
		c.state = t.state
		c.log.Warn().Err(err).Str("op", op).Msg("Adopted unpersisted state after venue calls")
		t.events.Flush(c.emitter)
		return errors.Join(opErr, err)
	}
	c.log.Debug().Str("op", op).Int("events", t.events.Len()).Msg("Operation committed")
	t.events.Flush(c.emitter)
	return opErr
}

func (c *Core) commit(ctx context.Context, t *tx) error {
	if c.store != nil {
		if err := c.store.Save(ctx, t.state); err != nil {
			c.log.Error().Err(err).Msg("Failed to persist state")
			return fmt.Errorf("failed to persist state: %w", err)
		}
	}
	c.state = t.state
	return nil
}

// query runs fn on a private copy of the state and discards it
func (c *Core) query(ctx context.Context, fn func(t *tx) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &tx{ctx: ctx, core: c, state: c.state.Clone(), events: events.NewRecorder()}
	return fn(t)
}

// Snapshot returns a deep copy of the committed state
func (c *Core) Snapshot() *State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Clone()
}
