// Package rebalancing plans and executes the periodic reallocation of the
// fund, including the cleanup of zombie positions.
package rebalancing

import (
	"fmt"
	"time"

	"github.com/aristath/tierindex/internal/domain"
	"github.com/aristath/tierindex/internal/modules/history"
	"github.com/shopspring/decimal"
)

const (
	DefaultMaxShiftBP    = 2000
	DefaultMaxPositionBP = 2000
	DefaultInterval      = 30 * 24 * time.Hour

	// StablePrecision is the number of decimal places kept on stable amounts
	StablePrecision = 8
)

// Config tunes planning and cadence
type Config struct {
	Smoother   history.Smoother
	Interval   time.Duration
	MaxShiftBP int
	// MaxPositionBP caps any single target weight; 0 leaves weights uncapped
	MaxPositionBP int
}

// DefaultConfig returns a 20% per-cycle bound, a 20% position cap, a monthly
// cadence and SMA smoothing
func DefaultConfig() Config {
	return Config{
		Smoother:      history.DefaultSmoother(),
		Interval:      DefaultInterval,
		MaxShiftBP:    DefaultMaxShiftBP,
		MaxPositionBP: DefaultMaxPositionBP,
	}
}

// Validate checks the configuration
func (c Config) Validate() error {
	if c.MaxShiftBP < 1 || c.MaxShiftBP > domain.MaxWeightBP {
		return fmt.Errorf("%w: max shift %d bp", domain.ErrInvalidParameter, c.MaxShiftBP)
	}
	if c.MaxPositionBP < 0 || c.MaxPositionBP > domain.MaxWeightBP {
		return fmt.Errorf("%w: max position %d bp", domain.ErrInvalidParameter, c.MaxPositionBP)
	}
	if c.Interval < 0 {
		return fmt.Errorf("%w: rebalance interval %s", domain.ErrInvalidParameter, c.Interval)
	}
	return nil
}

// Kind of an execution instruction
type Kind string

const (
	KindUnstake      Kind = "unstake"
	KindLiquidate    Kind = "liquidate"
	KindDivest       Kind = "divest"
	KindRedistribute Kind = "redistribute"
	KindAcquire      Kind = "acquire"
)

// Instruction is one ordered call to the swap or staking collaborator.
// Units are asset amounts; Stable amounts are in the stable reference asset.
type Instruction struct {
	Units   decimal.Decimal `json:"units" msgpack:"units"`
	Stable  decimal.Decimal `json:"stable" msgpack:"stable"`
	Kind    Kind            `json:"kind" msgpack:"kind"`
	Seq     int             `json:"seq" msgpack:"seq"`
	ShareBP int             `json:"share_bp,omitempty" msgpack:"share_bp"`
	Asset   domain.AssetID  `json:"asset" msgpack:"asset"`
	Zombie  domain.AssetID  `json:"zombie,omitempty" msgpack:"zombie"`
	Last    bool            `json:"last,omitempty" msgpack:"last"`
}

// TargetWeight is the allocation an asset is steered toward
type TargetWeight struct {
	SmoothedMarketCap decimal.Decimal `json:"smoothed_market_cap" msgpack:"smoothed_market_cap"`
	Asset             domain.AssetID  `json:"asset" msgpack:"asset"`
	WeightBP          int             `json:"weight_bp" msgpack:"weight_bp"`
}

// Adjustment is the signed change of one asset's value; positive acquires
type Adjustment struct {
	Price        decimal.Decimal `json:"price" msgpack:"price"`
	CurrentValue decimal.Decimal `json:"current_value" msgpack:"current_value"`
	TargetValue  decimal.Decimal `json:"target_value" msgpack:"target_value"`
	Raw          decimal.Decimal `json:"raw" msgpack:"raw"`
	Scaled       decimal.Decimal `json:"scaled" msgpack:"scaled"`
	Asset        domain.AssetID  `json:"asset" msgpack:"asset"`
	CurrentBP    int             `json:"current_bp" msgpack:"current_bp"`
	TargetBP     int             `json:"target_bp" msgpack:"target_bp"`
}

// ZombieCleanup describes the unwinding of one zombie position
type ZombieCleanup struct {
	Quantity         decimal.Decimal  `json:"quantity" msgpack:"quantity"`
	Staked           decimal.Decimal  `json:"staked" msgpack:"staked"`
	ExpectedProceeds decimal.Decimal  `json:"expected_proceeds" msgpack:"expected_proceeds"`
	Targets          []domain.AssetID `json:"targets" msgpack:"targets"`
	LockDuration     time.Duration    `json:"lock_duration" msgpack:"lock_duration"`
	Asset            domain.AssetID   `json:"asset" msgpack:"asset"`
	RetireOnly       bool             `json:"retire_only" msgpack:"retire_only"`
}

// Plan is a complete rebalancing cycle
type Plan struct {
	CreatedAt    time.Time       `json:"created_at" msgpack:"created_at"`
	ID           string          `json:"id" msgpack:"id"`
	TotalValue   decimal.Decimal `json:"total_value" msgpack:"total_value"`
	Reserve      decimal.Decimal `json:"reserve" msgpack:"reserve"`
	RawShift     decimal.Decimal `json:"raw_shift" msgpack:"raw_shift"`
	Bound        decimal.Decimal `json:"bound" msgpack:"bound"`
	ScaleFactor  decimal.Decimal `json:"scale_factor" msgpack:"scale_factor"`
	Targets      []TargetWeight  `json:"targets" msgpack:"targets"`
	Adjustments  []Adjustment    `json:"adjustments" msgpack:"adjustments"`
	Zombies      []ZombieCleanup `json:"zombies" msgpack:"zombies"`
	Instructions []Instruction   `json:"instructions" msgpack:"instructions"`
	ActiveTier   domain.Tier     `json:"active_tier" msgpack:"active_tier"`
	Scaled       bool            `json:"scaled" msgpack:"scaled"`
}

// Journal statuses
const (
	StatusPending   = "pending"
	StatusPartial   = "partial"
	StatusFailed    = "failed"
	StatusCompleted = "completed"
)

// StepOutcome records what one executed instruction did
type StepOutcome struct {
	At     time.Time       `json:"at" msgpack:"at"`
	Input  decimal.Decimal `json:"input" msgpack:"input"`
	Output decimal.Decimal `json:"output" msgpack:"output"`
	Error  string          `json:"error,omitempty" msgpack:"error"`
	Seq    int             `json:"seq" msgpack:"seq"`
	OK     bool            `json:"ok" msgpack:"ok"`
}

// Journal tracks execution of a plan. Cursor is the first instruction that
// has not completed; a retry resumes there.
type Journal struct {
	StartedAt   time.Time                          `json:"started_at" msgpack:"started_at"`
	UpdatedAt   time.Time                          `json:"updated_at" msgpack:"updated_at"`
	Plan        *Plan                              `json:"plan" msgpack:"plan"`
	Outcomes    []StepOutcome                      `json:"outcomes" msgpack:"outcomes"`
	Unstaked    map[domain.AssetID]decimal.Decimal `json:"unstaked" msgpack:"unstaked"`
	Liquidated  map[domain.AssetID]decimal.Decimal `json:"liquidated" msgpack:"liquidated"`
	Proceeds    map[domain.AssetID]decimal.Decimal `json:"proceeds" msgpack:"proceeds"`
	Distributed map[domain.AssetID]decimal.Decimal `json:"distributed" msgpack:"distributed"`
	Unlocks     map[domain.AssetID]time.Time       `json:"unlocks" msgpack:"unlocks"`
	Status      string                             `json:"status" msgpack:"status"`
	Cursor      int                                `json:"cursor" msgpack:"cursor"`
}

// NewJournal starts a journal for plan
func NewJournal(plan *Plan, now time.Time) *Journal {
	return &Journal{
		StartedAt:   now,
		UpdatedAt:   now,
		Plan:        plan,
		Unstaked:    make(map[domain.AssetID]decimal.Decimal),
		Liquidated:  make(map[domain.AssetID]decimal.Decimal),
		Proceeds:    make(map[domain.AssetID]decimal.Decimal),
		Distributed: make(map[domain.AssetID]decimal.Decimal),
		Unlocks:     make(map[domain.AssetID]time.Time),
		Status:      StatusPending,
	}
}

// Done reports whether every instruction has completed
func (j *Journal) Done() bool {
	return j.Cursor >= len(j.Plan.Instructions)
}

// Remaining returns the number of instructions left
func (j *Journal) Remaining() int {
	return len(j.Plan.Instructions) - j.Cursor
}

// State is the engine's persisted state
type State struct {
	LastRebalanceAt time.Time `json:"last_rebalance_at"`
	// Reserve is the stable balance held between liquidations and acquisitions
	Reserve     decimal.Decimal `json:"reserve"`
	Journal     *Journal        `json:"journal,omitempty"`
	LastJournal *Journal        `json:"last_journal,omitempty"`
}

// NewState returns an empty engine state
func NewState() *State {
	return &State{Reserve: decimal.Zero}
}

// Clone returns a deep copy
func (s *State) Clone() *State {
	c := *s
	c.Journal = s.Journal.Clone()
	c.LastJournal = s.LastJournal.Clone()
	return &c
}

// Clone returns a deep copy; nil stays nil
func (j *Journal) Clone() *Journal {
	if j == nil {
		return nil
	}
	c := *j
	c.Plan = j.Plan.Clone()
	c.Outcomes = append([]StepOutcome(nil), j.Outcomes...)
	c.Unstaked = cloneAmounts(j.Unstaked)
	c.Liquidated = cloneAmounts(j.Liquidated)
	c.Proceeds = cloneAmounts(j.Proceeds)
	c.Distributed = cloneAmounts(j.Distributed)
	c.Unlocks = make(map[domain.AssetID]time.Time, len(j.Unlocks))
	for k, v := range j.Unlocks {
		c.Unlocks[k] = v
	}
	return &c
}

// Clone returns a deep copy; nil stays nil
func (p *Plan) Clone() *Plan {
	if p == nil {
		return nil
	}
	c := *p
	c.Targets = append([]TargetWeight(nil), p.Targets...)
	c.Adjustments = append([]Adjustment(nil), p.Adjustments...)
	c.Instructions = append([]Instruction(nil), p.Instructions...)
	c.Zombies = make([]ZombieCleanup, len(p.Zombies))
	for i, z := range p.Zombies {
		z.Targets = append([]domain.AssetID(nil), z.Targets...)
		c.Zombies[i] = z
	}
	return &c
}

func cloneAmounts(m map[domain.AssetID]decimal.Decimal) map[domain.AssetID]decimal.Decimal {
	out := make(map[domain.AssetID]decimal.Decimal, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// StepFailedError reports the instruction that stopped execution. Every
// instruction before it has completed and stays committed.
type StepFailedError struct {
	Err    error
	PlanID string
	Kind   Kind
	Step   int
	Asset  domain.AssetID
}

func (e *StepFailedError) Error() string {
	return fmt.Sprintf("rebalance %s step %d (%s asset %s) failed: %v", e.PlanID, e.Step, e.Kind, e.Asset, e.Err)
}

func (e *StepFailedError) Unwrap() error {
	return e.Err
}
