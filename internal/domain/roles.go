package domain

import (
	"fmt"
	"sort"
	"strings"
)

// Role is a named capability held by a caller
type Role string

const (
	RoleOwner               Role = "owner"
	RoleManager             Role = "manager"
	RoleEmergencyController Role = "emergency_controller"
)

// Capabilities is the resolved permission set of a caller.
// Role bookkeeping happens outside the core; the core only asks.
type Capabilities interface {
	Has(role Role) bool
}

// RoleSet is a simple Capabilities implementation.
// An owner satisfies every role.
type RoleSet map[Role]bool

// NewRoleSet builds a role set from the given roles
func NewRoleSet(roles ...Role) RoleSet {
	rs := make(RoleSet, len(roles))
	for _, r := range roles {
		rs[r] = true
	}
	return rs
}

// Has implements Capabilities
func (rs RoleSet) Has(role Role) bool {
	if rs == nil {
		return false
	}
	return rs[RoleOwner] || rs[role]
}

// Roles returns the roles in the set, sorted
func (rs RoleSet) Roles() []Role {
	out := make([]Role, 0, len(rs))
	for r, ok := range rs {
		if ok {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ParseRole accepts the role names used in configuration
func ParseRole(s string) (Role, error) {
	switch Role(strings.ToLower(strings.TrimSpace(s))) {
	case RoleOwner:
		return RoleOwner, nil
	case RoleManager:
		return RoleManager, nil
	case RoleEmergencyController, "emergency":
		return RoleEmergencyController, nil
	}
	return "", fmt.Errorf("%w: unknown role %q", ErrInvalidParameter, s)
}

// Require returns ErrUnauthorized unless caps holds role
func Require(caps Capabilities, role Role) error {
	if caps == nil || !caps.Has(role) {
		return fmt.Errorf("%w: requires %s role", ErrUnauthorized, role)
	}
	return nil
}
