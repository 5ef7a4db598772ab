package domain

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Tier is a discrete classification bucket based on market-cap and volume floors
type Tier uint8

const (
	// TierNone means the asset is below the Tier1 floors
	TierNone Tier = iota
	Tier1
	Tier2
	Tier3
	Tier4
)

// AllTiers lists every tier from lowest to highest, None included
var AllTiers = []Tier{TierNone, Tier1, Tier2, Tier3, Tier4}

// RankedTiers lists the investable tiers from highest to lowest
var RankedTiers = []Tier{Tier4, Tier3, Tier2, Tier1}

// String returns the canonical name of the tier
func (t Tier) String() string {
	switch t {
	case TierNone:
		return "none"
	case Tier1:
		return "tier1"
	case Tier2:
		return "tier2"
	case Tier3:
		return "tier3"
	case Tier4:
		return "tier4"
	default:
		return fmt.Sprintf("tier(%d)", uint8(t))
	}
}

// Valid reports whether t is one of the defined tiers
func (t Tier) Valid() bool {
	return t <= Tier4
}

// ParseTier accepts the canonical name ("tier2"), a bare number ("2") or "none"
func ParseTier(s string) (Tier, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "none", "0":
		return TierNone, nil
	case "tier1", "1":
		return Tier1, nil
	case "tier2", "2":
		return Tier2, nil
	case "tier3", "3":
		return Tier3, nil
	case "tier4", "4":
		return Tier4, nil
	}
	return TierNone, fmt.Errorf("%w: unknown tier %q", ErrInvalidParameter, s)
}

// MarshalJSON encodes the tier by name
func (t Tier) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON accepts either the name or the numeric form
func (t *Tier) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		parsed, err := ParseTier(name)
		if err != nil {
			return err
		}
		*t = parsed
		return nil
	}
	var n uint8
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("%w: tier must be a string or number", ErrInvalidParameter)
	}
	if !Tier(n).Valid() {
		return fmt.Errorf("%w: unknown tier %d", ErrInvalidParameter, n)
	}
	*t = Tier(n)
	return nil
}
