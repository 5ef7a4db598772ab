package core

import (
	"context"
	"fmt"
	"strings"

	"github.com/aristath/tierindex/internal/domain"
	"github.com/aristath/tierindex/internal/events"
)

// Operations returns the current operating mode
func (c *Core) Operations() Operations {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Operations
}

// SetOperatingState moves the fund into any operating mode
func (c *Core) SetOperatingState(ctx context.Context, caps domain.Capabilities, state domain.OperatingState, reason string) error {
	return c.run(ctx, caps, domain.RoleOwner, "set_operating_state", func(t *tx) error {
		return t.setOperations(state, reason)
	})
}

// EmergencyPause halts trading and holding changes until operations resume
func (c *Core) EmergencyPause(ctx context.Context, caps domain.Capabilities, reason string) error {
	return c.run(ctx, caps, domain.RoleEmergencyController, "emergency_pause", func(t *tx) error {
		return t.setOperations(domain.OperatingEmergency, reason)
	})
}

// ResumeOperations returns the fund to active operation
func (c *Core) ResumeOperations(ctx context.Context, caps domain.Capabilities, reason string) error {
	return c.run(ctx, caps, domain.RoleEmergencyController, "resume_operations", func(t *tx) error {
		return t.setOperations(domain.OperatingActive, reason)
	})
}

// MaxAssets returns the cap on registered, non-retired assets
func (c *Core) MaxAssets() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Registry.MaxAssets()
}

// SetMaxAssets changes the cap on registered, non-retired assets
func (c *Core) SetMaxAssets(ctx context.Context, caps domain.Capabilities, n int) error {
	return c.run(ctx, caps, domain.RoleOwner, "set_max_assets", func(t *tx) error {
		return t.state.Registry.SetMaxAssets(n)
	})
}

func (t *tx) setOperations(state domain.OperatingState, reason string) error {
	if !state.Valid() {
		return fmt.Errorf("%w: operating state %q", domain.ErrInvalidParameter, state)
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return fmt.Errorf("%w: a reason is required", domain.ErrInvalidParameter)
	}
	old := t.state.Operations.State
	if old == state {
		return nil
	}
	t.state.Operations = Operations{State: state, Reason: reason, ChangedAt: t.core.clock.Now()}

	t.core.log.Warn().
		Str("from", string(old)).
		Str("to", string(state)).
		Str("reason", reason).
		Msg("Operating state changed")
	t.emit(events.OperatingStateChanged, &events.OperatingStateChangedData{
		OldState: old,
		NewState: state,
		Reason:   reason,
	})
	return nil
}

// requireHoldingChanges refuses edits to holdings or the reserve unless active
func (t *tx) requireHoldingChanges() error {
	if s := t.state.Operations.State; !s.AllowsHoldingChanges() {
		return fmt.Errorf("%w: fund is %s", domain.ErrOperationsHalted, s)
	}
	return nil
}

// requireRebalance refuses rebalancing trades while paused or in emergency
func (t *tx) requireRebalance() error {
	if s := t.state.Operations.State; !s.AllowsRebalance() {
		return fmt.Errorf("%w: fund is %s", domain.ErrOperationsHalted, s)
	}
	return nil
}
