// Package core owns the fund state and runs every operation over it as a
// single transaction.
package core

import (
	"fmt"
	"time"

	"github.com/aristath/tierindex/internal/domain"
	"github.com/aristath/tierindex/internal/modules/activetier"
	"github.com/aristath/tierindex/internal/modules/grace"
	"github.com/aristath/tierindex/internal/modules/history"
	"github.com/aristath/tierindex/internal/modules/index"
	"github.com/aristath/tierindex/internal/modules/rebalancing"
	"github.com/aristath/tierindex/internal/modules/registry"
	"github.com/aristath/tierindex/internal/modules/tiers"
)

// State is everything the fund core owns. Components hold asset ids and look
// records up through Registry.
type State struct {
	Registry   *registry.Registry
	Pending    *grace.Book
	Thresholds tiers.Thresholds
	ActiveTier *activetier.State
	Index      *index.State
	History    *history.Store
	Rebalance  *rebalancing.State
	Operations Operations
}

// Operations is the operating mode of the fund and why it was last set
type Operations struct {
	ChangedAt time.Time             `json:"changed_at,omitempty"`
	State     domain.OperatingState `json:"state"`
	Reason    string                `json:"reason,omitempty"`
}

// StateConfig sizes a fresh state
type StateConfig struct {
	GracePeriod     time.Duration
	MinAssets       int
	MaxAssets       int
	HistoryCapacity int
}

// NewState returns an empty fund with default thresholds
func NewState(cfg StateConfig) *State {
	reg := registry.New()
	if cfg.MaxAssets > 0 {
		_ = reg.SetMaxAssets(cfg.MaxAssets)
	}
	return &State{
		Registry:   reg,
		Pending:    grace.NewBook(cfg.GracePeriod),
		Thresholds: tiers.DefaultThresholds(),
		ActiveTier: activetier.NewState(cfg.MinAssets),
		Index:      index.NewState(),
		History:    history.NewStore(cfg.HistoryCapacity),
		Rebalance:  rebalancing.NewState(),
		Operations: Operations{State: domain.OperatingActive},
	}
}

// Clone returns a deep copy that shares nothing mutable with s
func (s *State) Clone() *State {
	return &State{
		Registry:   s.Registry.Clone(),
		Pending:    s.Pending.Clone(),
		Thresholds: s.Thresholds,
		ActiveTier: s.ActiveTier.Clone(),
		Index:      s.Index.Clone(),
		History:    s.History.Clone(),
		Rebalance:  s.Rebalance.Clone(),
		Operations: s.Operations,
	}
}

// Validate checks the cross-component invariants of a loaded state
func (s *State) Validate() error {
	if s.Registry == nil || s.Pending == nil || s.ActiveTier == nil ||
		s.Index == nil || s.History == nil || s.Rebalance == nil {
		return fmt.Errorf("incomplete state")
	}
	if !s.Operations.State.Valid() {
		return fmt.Errorf("%w: operating state %q", domain.ErrInvalidParameter, s.Operations.State)
	}
	if err := s.Thresholds.Validate(); err != nil {
		return err
	}
	if err := s.Registry.Verify(); err != nil {
		return fmt.Errorf("registry: %w", err)
	}
	for id := range s.Pending.Pending {
		if _, err := s.Registry.Get(id); err != nil {
			return fmt.Errorf("pending change for asset %s: %w", id, err)
		}
	}
	return nil
}
