// Package activetier decides the single tier the fund targets.
package activetier

import (
	"fmt"
	"strings"
	"time"

	"github.com/aristath/tierindex/internal/domain"
	"github.com/aristath/tierindex/internal/events"
	"github.com/aristath/tierindex/internal/modules/registry"
	"github.com/rs/zerolog"
)

const (
	// ShiftThresholdPercent is the share of assets a tier needs to become active
	ShiftThresholdPercent = 80
	// DefaultMinAssets is the smallest fund size for automatic shifts
	DefaultMinAssets = 5
	// MaxHistory bounds the retained shift history
	MaxHistory = 100

	ReasonAutomatic = "automatic_80_percent"
	ReasonManual    = "manual_override"
)

// Shift is one recorded change of the active tier
type Shift struct {
	At            time.Time   `json:"at"`
	From          domain.Tier `json:"from"`
	To            domain.Tier `json:"to"`
	Reason        string      `json:"reason"`
	Justification string      `json:"justification,omitempty"`
	Qualifying    int         `json:"qualifying"`
	Total         int         `json:"total"`
}

// State is the controller's persisted state
type State struct {
	LastShiftAt time.Time   `json:"last_shift_at"`
	History     []Shift     `json:"history"`
	MinAssets   int         `json:"min_assets"`
	Active      domain.Tier `json:"active"`
}

// NewState returns the launch state: Tier1 active
func NewState(minAssets int) *State {
	if minAssets < 1 {
		minAssets = DefaultMinAssets
	}
	return &State{Active: domain.Tier1, MinAssets: minAssets}
}

// Clone returns a deep copy
func (s *State) Clone() *State {
	c := *s
	c.History = append([]Shift(nil), s.History...)
	return &c
}

// Qualifies reports whether count of total meets the supermajority share
func Qualifies(count, total int) bool {
	if total <= 0 {
		return false
	}
	return count*100 >= ShiftThresholdPercent*total
}

// Controller applies the supermajority rule over a State
type Controller struct {
	state   *State
	clock   domain.Clock
	emitter events.Emitter
	log     zerolog.Logger
}

// NewController creates a controller over state
func NewController(state *State, clock domain.Clock, emitter events.Emitter, log zerolog.Logger) *Controller {
	return &Controller{
		state:   state,
		clock:   clock,
		emitter: emitter,
		log:     log.With().Str("service", "active_tier").Logger(),
	}
}

// Active returns the current active tier
func (c *Controller) Active() domain.Tier {
	return c.state.Active
}

// Candidate returns the tier the rule selects for dist, if any.
// Tiers are evaluated from highest to lowest; the first qualifying tier wins.
func (c *Controller) Candidate(dist registry.Distribution) (domain.Tier, bool) {
	total := dist.Total()
	if total < c.state.MinAssets {
		return domain.TierNone, false
	}
	for _, t := range domain.RankedTiers {
		if Qualifies(dist.Count(t), total) {
			return t, true
		}
	}
	return domain.TierNone, false
}

// DistributionChanged re-evaluates the rule and shifts at most once
func (c *Controller) DistributionChanged(dist registry.Distribution) bool {
	t, ok := c.Candidate(dist)
	if !ok || t == c.state.Active {
		return false
	}
	c.shift(t, ReasonAutomatic, "", dist.Count(t), dist.Total())
	return true
}

// ManualOverride sets the active tier regardless of the distribution
func (c *Controller) ManualOverride(t domain.Tier, justification string, dist registry.Distribution) error {
	if !t.Valid() {
		return fmt.Errorf("%w: tier %d", domain.ErrInvalidParameter, t)
	}
	justification = strings.TrimSpace(justification)
	if justification == "" {
		return fmt.Errorf("%w: justification is required", domain.ErrInvalidParameter)
	}
	if t == c.state.Active {
		return nil
	}
	if dist.Total() < c.state.MinAssets {
		c.log.Info().
			Int("total", dist.Total()).
			Int("min_assets", c.state.MinAssets).
			Msg("Manual override below minimum asset count")
	}
	c.shift(t, ReasonManual, justification, dist.Count(t), dist.Total())
	return nil
}

// SetMinAssets changes the minimum fund size for automatic shifts
func (c *Controller) SetMinAssets(n int) error {
	if n < 1 {
		return fmt.Errorf("%w: min assets %d", domain.ErrInvalidParameter, n)
	}
	c.state.MinAssets = n
	return nil
}

// History returns the recorded shifts, oldest first
func (c *Controller) History() []Shift {
	return c.state.History
}

func (c *Controller) shift(to domain.Tier, reason, justification string, qualifying, total int) {
	now := c.clock.Now()
	from := c.state.Active
	c.state.Active = to
	c.state.LastShiftAt = now
	c.state.History = append(c.state.History, Shift{
		At:            now,
		From:          from,
		To:            to,
		Reason:        reason,
		Justification: justification,
		Qualifying:    qualifying,
		Total:         total,
	})
	if n := len(c.state.History); n > MaxHistory {
		c.state.History = append([]Shift(nil), c.state.History[n-MaxHistory:]...)
	}

	c.log.Info().
		Str("from", from.String()).
		Str("to", to.String()).
		Str("reason", reason).
		Int("qualifying", qualifying).
		Int("total", total).
		Msg("Active tier shifted")

	if c.emitter != nil {
		c.emitter.EmitTyped(events.ActiveTierShifted, "activetier", &events.ActiveTierShiftedData{
			OldTier:         from,
			NewTier:         to,
			Reason:          reason,
			QualifyingCount: qualifying,
			TotalCount:      total,
			Justification:   justification,
		})
	}
}
