// Package grace delays tier transitions behind a configurable grace period.
package grace

import (
	"sort"
	"time"

	"github.com/aristath/tierindex/internal/domain"
)

const (
	DefaultGracePeriod = 90 * 24 * time.Hour
	MinGracePeriod     = time.Hour
	MaxGracePeriod     = 365 * 24 * time.Hour
)

// Reasons a pending change was proposed
const (
	ReasonAutomatic = "automatic"
	ReasonManual    = "manual"
	ReasonEmergency = "emergency_override"
)

// Reasons carried by TierChanged events
const (
	ChangeGraceEnded = "grace_period_ended"
	ChangeEmergency  = "emergency_override"
)

// PendingChange is a tier transition waiting for its commit time
type PendingChange struct {
	ProposedAt   time.Time      `json:"proposed_at"`
	CommitAt     time.Time      `json:"commit_at"`
	Reason       string         `json:"reason"`
	AssetID      domain.AssetID `json:"asset_id"`
	CurrentTier  domain.Tier    `json:"current_tier"`
	ProposedTier domain.Tier    `json:"proposed_tier"`
}

// Due reports whether the change may be committed at now
func (p *PendingChange) Due(now time.Time) bool {
	return !p.CommitAt.After(now)
}

// Book holds at most one pending change per asset plus the grace settings
type Book struct {
	Pending     map[domain.AssetID]*PendingChange
	GracePeriod time.Duration

	// RefreshCursor is the first asset id the next bulk refresh visits
	RefreshCursor domain.AssetID
}

// NewBook creates an empty book; a zero grace period selects the default
func NewBook(gracePeriod time.Duration) *Book {
	if gracePeriod == 0 {
		gracePeriod = DefaultGracePeriod
	}
	return &Book{
		Pending:     make(map[domain.AssetID]*PendingChange),
		GracePeriod: gracePeriod,
	}
}

// Clone returns a deep copy
func (b *Book) Clone() *Book {
	c := &Book{
		Pending:       make(map[domain.AssetID]*PendingChange, len(b.Pending)),
		GracePeriod:   b.GracePeriod,
		RefreshCursor: b.RefreshCursor,
	}
	for id, p := range b.Pending {
		cp := *p
		c.Pending[id] = &cp
	}
	return c
}

// Get returns the pending change of an asset
func (b *Book) Get(id domain.AssetID) (*PendingChange, bool) {
	p, ok := b.Pending[id]
	return p, ok
}

// List returns every pending change ordered by commit time, then asset id
func (b *Book) List() []*PendingChange {
	out := make([]*PendingChange, 0, len(b.Pending))
	for _, p := range b.Pending {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CommitAt.Equal(out[j].CommitAt) {
			return out[i].CommitAt.Before(out[j].CommitAt)
		}
		return out[i].AssetID < out[j].AssetID
	})
	return out
}

// Due returns the changes due at now in commit order
func (b *Book) Due(now time.Time) []*PendingChange {
	var out []*PendingChange
	for _, p := range b.List() {
		if !p.Due(now) {
			break
		}
		out = append(out, p)
	}
	return out
}
