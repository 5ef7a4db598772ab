// Package index tracks the fund's performance index against a fixed baseline.
package index

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/aristath/tierindex/internal/domain"
	"github.com/aristath/tierindex/internal/events"
	"github.com/aristath/tierindex/internal/modules/marketdata"
	"github.com/aristath/tierindex/internal/modules/registry"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const (
	DefaultStaleness = time.Hour

	// ValuePrecision is the number of decimal places kept on index values
	ValuePrecision = 8
)

// DefaultBaselineValue is the index value at initialization
var DefaultBaselineValue = decimal.NewFromInt(100)

var bpScale = decimal.NewFromInt(10000)

// State is the persisted index record. The baseline fields are written once
// by Initialize and change afterwards only through EmergencyReset.
type State struct {
	InitializedAt     time.Time        `json:"initialized_at"`
	LastUpdate        time.Time        `json:"last_update"`
	LastResetAt       time.Time        `json:"last_reset_at"`
	BaselineValue     decimal.Decimal  `json:"baseline_value"`
	BaselineAggregate decimal.Decimal  `json:"baseline_aggregate"`
	CurrentValue      decimal.Decimal  `json:"current_value"`
	Missing           []domain.AssetID `json:"missing,omitempty"`
	ResetCount        int              `json:"reset_count"`
	PerformanceBP     int32            `json:"performance_bp"`
	Initialized       bool             `json:"initialized"`
	Degraded          bool             `json:"degraded"`
	TrackingEnabled   bool             `json:"tracking_enabled"`
}

// NewState returns an uninitialized index with tracking enabled
func NewState() *State {
	return &State{
		BaselineValue:   DefaultBaselineValue,
		CurrentValue:    DefaultBaselineValue,
		TrackingEnabled: true,
	}
}

// Clone returns a deep copy
func (s *State) Clone() *State {
	c := *s
	c.Missing = append([]domain.AssetID(nil), s.Missing...)
	return &c
}

// Valuation is one live computation of the index
type Valuation struct {
	Aggregate decimal.Decimal  `json:"aggregate"`
	Value     decimal.Decimal  `json:"value"`
	Missing   []domain.AssetID `json:"missing,omitempty"`
	Priced    int              `json:"priced"`
	Degraded  bool             `json:"degraded"`
}

// Warning returns ErrPartialDataDegraded when the valuation skipped assets
func (v Valuation) Warning() error {
	if !v.Degraded {
		return nil
	}
	return fmt.Errorf("%w: %d assets without a price", domain.ErrPartialDataDegraded, len(v.Missing))
}

// Reading is the cached index state as seen by readers
type Reading struct {
	State
	Age   time.Duration `json:"age"`
	Stale bool          `json:"stale"`
}

// Warning returns ErrPartialDataDegraded when the cached value is degraded
func (r Reading) Warning() error {
	if !r.Degraded {
		return nil
	}
	return fmt.Errorf("%w: %d assets without a price", domain.ErrPartialDataDegraded, len(r.Missing))
}

// Tracker computes and caches index values
type Tracker struct {
	state     *State
	registry  *registry.Registry
	reserve   decimal.Decimal
	fetcher   *marketdata.Fetcher
	clock     domain.Clock
	emitter   events.Emitter
	staleness time.Duration
	log       zerolog.Logger
}

// NewTracker creates a tracker. reserve is the stable balance held outside
// any asset; it counts toward the aggregate.
func NewTracker(
	state *State,
	reg *registry.Registry,
	reserve decimal.Decimal,
	fetcher *marketdata.Fetcher,
	clock domain.Clock,
	emitter events.Emitter,
	staleness time.Duration,
	log zerolog.Logger,
) *Tracker {
	if staleness <= 0 {
		staleness = DefaultStaleness
	}
	return &Tracker{
		state:     state,
		registry:  reg,
		reserve:   reserve,
		fetcher:   fetcher,
		clock:     clock,
		emitter:   emitter,
		staleness: staleness,
		log:       log.With().Str("service", "index").Logger(),
	}
}

func (t *Tracker) emit(eventType events.EventType, data events.EventData) {
	if t.emitter != nil {
		t.emitter.EmitTyped(eventType, "index", data)
	}
}

// LiveAggregate values every held asset at live prices. Assets whose price is
// unavailable are left out and reported; if none can be priced it fails.
func (t *Tracker) LiveAggregate(ctx context.Context) (Valuation, error) {
	v := Valuation{Aggregate: t.reserve}
	held := t.registry.Held()
	for _, rec := range held {
		if t.fetcher == nil {
			v.Missing = append(v.Missing, rec.ID)
			continue
		}
		price, err := t.fetcher.Price(ctx, rec.Key())
		if err != nil {
			if !errors.Is(err, domain.ErrExternalDataUnavailable) {
				return Valuation{}, err
			}
			t.log.Debug().Err(err).Uint32("asset_id", uint32(rec.ID)).Msg("Price unavailable")
			v.Missing = append(v.Missing, rec.ID)
			continue
		}
		v.Aggregate = v.Aggregate.Add(rec.Quantity.Mul(price))
		v.Priced++
	}
	if len(held) > 0 && v.Priced == 0 {
		return Valuation{}, fmt.Errorf("%w: no held asset could be priced", domain.ErrExternalDataUnavailable)
	}
	v.Degraded = len(v.Missing) > 0
	return v, nil
}

func (t *Tracker) completeAggregate(ctx context.Context) (decimal.Decimal, error) {
	v, err := t.LiveAggregate(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	if v.Degraded {
		return decimal.Zero, fmt.Errorf("%w: %d held assets without a price", domain.ErrExternalDataUnavailable, len(v.Missing))
	}
	if !v.Aggregate.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: aggregate valuation is %s", domain.ErrInvalidParameter, v.Aggregate)
	}
	return v.Aggregate, nil
}

// Initialize records the baseline. It succeeds exactly once.
func (t *Tracker) Initialize(ctx context.Context, baselineValue decimal.Decimal) error {
	if t.state.Initialized {
		return fmt.Errorf("%w: index baseline is already set", domain.ErrAlreadyInitialized)
	}
	if !baselineValue.IsPositive() {
		return fmt.Errorf("%w: baseline value must be positive", domain.ErrInvalidParameter)
	}
	held := t.registry.Held()
	if len(held) == 0 {
		return fmt.Errorf("%w: no holdings to value", domain.ErrInvalidParameter)
	}
	aggregate, err := t.completeAggregate(ctx)
	if err != nil {
		return err
	}

	now := t.clock.Now()
	t.state.BaselineValue = baselineValue
	t.state.BaselineAggregate = aggregate
	t.state.CurrentValue = baselineValue
	t.state.PerformanceBP = 0
	t.state.Initialized = true
	t.state.InitializedAt = now
	t.state.LastUpdate = now
	t.state.Degraded = false
	t.state.Missing = nil

	t.log.Info().
		Str("baseline_value", baselineValue.String()).
		Str("baseline_aggregate", aggregate.String()).
		Msg("Index initialized")
	t.emit(events.IndexInitialized, &events.IndexInitializedData{
		BaselineValue:     baselineValue,
		BaselineAggregate: aggregate,
		AssetCount:        len(held),
	})
	return nil
}

// ComputeCurrentValue values the index from live prices without caching it
func (t *Tracker) ComputeCurrentValue(ctx context.Context) (Valuation, error) {
	if !t.state.Initialized {
		return Valuation{}, fmt.Errorf("%w: index is not initialized", domain.ErrInvalidParameter)
	}
	v, err := t.LiveAggregate(ctx)
	if err != nil {
		return Valuation{}, err
	}
	v.Value = t.state.BaselineValue.Mul(v.Aggregate).
		Div(t.state.BaselineAggregate).
		Round(ValuePrecision)
	return v, nil
}

// PerformanceBP returns the signed change of value against the baseline in
// basis points, truncated toward zero.
func (t *Tracker) PerformanceBP(value decimal.Decimal) (int32, error) {
	return PerformanceBP(value, t.state.BaselineValue)
}

// PerformanceBP is ((value - baseline) / baseline) * 10000, truncated
func PerformanceBP(value, baseline decimal.Decimal) (int32, error) {
	if !baseline.IsPositive() {
		return 0, fmt.Errorf("%w: baseline value must be positive", domain.ErrInvalidParameter)
	}
	bp := value.Sub(baseline).Mul(bpScale).Div(baseline).Truncate(0)
	if bp.GreaterThan(decimal.NewFromInt(math.MaxInt32)) || bp.LessThan(decimal.NewFromInt(math.MinInt32)) {
		return 0, fmt.Errorf("%w: performance %s bp", domain.ErrOverflow, bp)
	}
	return int32(bp.IntPart()), nil
}

// Refresh recomputes and caches value and performance. With tracking
// disabled it returns the cached reading untouched.
func (t *Tracker) Refresh(ctx context.Context) (Reading, error) {
	if !t.state.TrackingEnabled {
		return t.Read(), nil
	}
	v, err := t.ComputeCurrentValue(ctx)
	if err != nil {
		return Reading{}, err
	}
	perf, err := t.PerformanceBP(v.Value)
	if err != nil {
		return Reading{}, err
	}

	t.state.CurrentValue = v.Value
	t.state.PerformanceBP = perf
	t.state.LastUpdate = t.clock.Now()
	t.state.Degraded = v.Degraded
	t.state.Missing = v.Missing

	if v.Degraded {
		t.log.Warn().Int("missing", len(v.Missing)).Msg("Index refreshed from partial data")
	}
	t.emit(events.IndexValueUpdated, &events.IndexValueUpdatedData{
		Value:         v.Value,
		PerformanceBP: perf,
		Degraded:      v.Degraded,
		Missing:       v.Missing,
	})
	return t.Read(), nil
}

// Read returns the cached state. Readings older than the staleness
// threshold are flagged but still returned.
func (t *Tracker) Read() Reading {
	r := Reading{State: *t.state.Clone()}
	if !t.state.Initialized || t.state.LastUpdate.IsZero() {
		return r
	}
	r.Age = t.clock.Now().Sub(t.state.LastUpdate)
	r.Stale = t.state.TrackingEnabled && r.Age > t.staleness
	return r
}

// EmergencyReset moves the baseline aggregate to the live aggregate, which
// resets performance to zero. The live aggregate must be complete.
func (t *Tracker) EmergencyReset(ctx context.Context, justification string) error {
	justification = strings.TrimSpace(justification)
	if justification == "" {
		return fmt.Errorf("%w: justification is required", domain.ErrInvalidParameter)
	}
	if !t.state.Initialized {
		return fmt.Errorf("%w: index is not initialized", domain.ErrInvalidParameter)
	}
	aggregate, err := t.completeAggregate(ctx)
	if err != nil {
		return err
	}

	now := t.clock.Now()
	old := t.state.BaselineAggregate
	t.state.BaselineAggregate = aggregate
	t.state.CurrentValue = t.state.BaselineValue
	t.state.PerformanceBP = 0
	t.state.LastUpdate = now
	t.state.LastResetAt = now
	t.state.ResetCount++
	t.state.Degraded = false
	t.state.Missing = nil

	t.log.Warn().
		Str("old_aggregate", old.String()).
		Str("new_aggregate", aggregate.String()).
		Str("justification", justification).
		Msg("Index baseline emergency reset")
	t.emit(events.IndexBaselineReset, &events.IndexBaselineResetData{
		OldAggregate:  old,
		NewAggregate:  aggregate,
		Justification: justification,
	})
	return nil
}

// SetTracking enables or disables refreshes. Enabling an uninitialized index
// that already has holdings initializes it with the default baseline.
func (t *Tracker) SetTracking(ctx context.Context, enabled bool) error {
	t.state.TrackingEnabled = enabled
	if enabled && !t.state.Initialized && len(t.registry.Held()) > 0 {
		if err := t.Initialize(ctx, DefaultBaselineValue); err != nil {
			return err
		}
	}
	t.emit(events.IndexTrackingSet, &events.IndexTrackingSetData{Enabled: enabled})
	return nil
}
