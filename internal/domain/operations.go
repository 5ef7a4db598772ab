package domain

import (
	"fmt"
	"strings"
)

// OperatingState is the operating mode of the fund
type OperatingState string

const (
	// OperatingActive allows every operation
	OperatingActive OperatingState = "active"
	// OperatingPaused halts trading and holding changes
	OperatingPaused OperatingState = "paused"
	// OperatingMaintenance lets rebalancing run while manual holding
	// changes are refused
	OperatingMaintenance OperatingState = "maintenance"
	// OperatingEmergency is entered by an emergency pause and halts
	// trading and holding changes until operations resume
	OperatingEmergency OperatingState = "emergency"
)

// Valid reports whether s is one of the defined states
func (s OperatingState) Valid() bool {
	switch s {
	case OperatingActive, OperatingPaused, OperatingMaintenance, OperatingEmergency:
		return true
	}
	return false
}

// AllowsHoldingChanges reports whether holdings and the reserve may be edited
func (s OperatingState) AllowsHoldingChanges() bool {
	return s == OperatingActive
}

// AllowsRebalance reports whether rebalancing may send trades
func (s OperatingState) AllowsRebalance() bool {
	return s == OperatingActive || s == OperatingMaintenance
}

// ParseOperatingState accepts the state names case-insensitively
func ParseOperatingState(raw string) (OperatingState, error) {
	s := OperatingState(strings.ToLower(strings.TrimSpace(raw)))
	if !s.Valid() {
		return "", fmt.Errorf("%w: unknown operating state %q", ErrInvalidParameter, raw)
	}
	return s, nil
}
