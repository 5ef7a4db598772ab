// Package registry holds the authoritative asset records of the fund.
package registry

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/aristath/tierindex/internal/domain"
	"github.com/shopspring/decimal"
)

// DefaultMaxAssets bounds the non-retired assets of a fresh registry
const DefaultMaxAssets = 50

// Registry is an arena of asset records keyed by id, with an incrementally
// maintained tier distribution. Other components hold ids, not records.
type Registry struct {
	records   map[domain.AssetID]*domain.AssetRecord
	nextID    domain.AssetID
	dist      Distribution
	maxAssets int
}

// New creates an empty registry
func New() *Registry {
	return &Registry{
		records:   make(map[domain.AssetID]*domain.AssetRecord),
		nextID:    1,
		maxAssets: DefaultMaxAssets,
	}
}

// Restore rebuilds a registry from persisted records and the cached distribution
func Restore(records []*domain.AssetRecord, nextID domain.AssetID, dist Distribution) (*Registry, error) {
	r := New()
	for _, rec := range records {
		if rec.ID == 0 {
			return nil, fmt.Errorf("%w: asset id 0", domain.ErrInvalidParameter)
		}
		r.records[rec.ID] = rec.Clone()
		if rec.ID >= nextID {
			nextID = rec.ID + 1
		}
	}
	if nextID == 0 {
		nextID = 1
	}
	r.nextID = nextID
	r.dist = dist
	if err := r.Verify(); err != nil {
		return nil, err
	}
	return r, nil
}

// Clone returns a deep copy
func (r *Registry) Clone() *Registry {
	c := &Registry{
		records:   make(map[domain.AssetID]*domain.AssetRecord, len(r.records)),
		nextID:    r.nextID,
		dist:      r.dist,
		maxAssets: r.maxAssets,
	}
	for id, rec := range r.records {
		c.records[id] = rec.Clone()
	}
	return c
}

// NextID returns the id the next registration will receive
func (r *Registry) NextID() domain.AssetID {
	return r.nextID
}

// Register adds a new asset at the given tier
func (r *Registry) Register(underlying, provider string, weightBP int, tier domain.Tier, now time.Time) (*domain.AssetRecord, error) {
	underlying = strings.TrimSpace(underlying)
	provider = strings.TrimSpace(provider)
	if underlying == "" || provider == "" {
		return nil, fmt.Errorf("%w: underlying and provider are required", domain.ErrInvalidParameter)
	}
	if err := domain.ValidateWeightBP(weightBP); err != nil {
		return nil, err
	}
	if !tier.Valid() {
		return nil, fmt.Errorf("%w: tier %d", domain.ErrInvalidParameter, tier)
	}
	for _, rec := range r.records {
		if !rec.Retired && rec.Underlying == underlying && rec.Provider == provider {
			return nil, fmt.Errorf("%w: %s from %s already registered as asset %s",
				domain.ErrInvalidParameter, underlying, provider, rec.ID)
		}
	}
	if n := r.activeCount(); n >= r.maxAssets {
		return nil, fmt.Errorf("%w: %d of %d assets registered", domain.ErrInvalidParameter, n, r.maxAssets)
	}
	if r.nextID == 0 {
		return nil, fmt.Errorf("%w: asset id space exhausted", domain.ErrOverflow)
	}

	rec := &domain.AssetRecord{
		ID:             r.nextID,
		Underlying:     underlying,
		Provider:       provider,
		Quantity:       decimal.Zero,
		Staked:         decimal.Zero,
		TargetWeightBP: weightBP,
		Tier:           tier,
		TierChangedAt:  now,
		RegisteredAt:   now,
	}
	r.records[rec.ID] = rec
	r.nextID++
	r.dist.add(tier)
	return rec, nil
}

// MaxAssets returns the cap on non-retired assets
func (r *Registry) MaxAssets() int {
	return r.maxAssets
}

// SetMaxAssets changes the cap on non-retired assets. It cannot drop below
// the assets already registered.
func (r *Registry) SetMaxAssets(n int) error {
	if n < 1 {
		return fmt.Errorf("%w: max assets %d", domain.ErrInvalidParameter, n)
	}
	if active := r.activeCount(); n < active {
		return fmt.Errorf("%w: max assets %d below %d registered", domain.ErrInvalidParameter, n, active)
	}
	r.maxAssets = n
	return nil
}

func (r *Registry) activeCount() int {
	n := 0
	for _, rec := range r.records {
		if !rec.Retired {
			n++
		}
	}
	return n
}

// Get returns the live record for id. Callers inside an operation may mutate
// quantities through the setters below; tier changes must go through SetTier.
func (r *Registry) Get(id domain.AssetID) (*domain.AssetRecord, error) {
	rec, ok := r.records[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrNotFound, id)
	}
	return rec, nil
}

// List returns every record, retired included, ordered by id
func (r *Registry) List() []*domain.AssetRecord {
	out := make([]*domain.AssetRecord, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Active returns the non-retired records ordered by id
func (r *Registry) Active() []*domain.AssetRecord {
	all := r.List()
	out := all[:0]
	for _, rec := range all {
		if !rec.Retired {
			out = append(out, rec)
		}
	}
	return out
}

// ByTier returns the non-retired records at tier t ordered by id
func (r *Registry) ByTier(t domain.Tier) []*domain.AssetRecord {
	var out []*domain.AssetRecord
	for _, rec := range r.Active() {
		if rec.Tier == t {
			out = append(out, rec)
		}
	}
	return out
}

// Held returns the records with a positive quantity ordered by id
func (r *Registry) Held() []*domain.AssetRecord {
	var out []*domain.AssetRecord
	for _, rec := range r.List() {
		if rec.Held() {
			out = append(out, rec)
		}
	}
	return out
}

// SetTier commits a tier change and keeps the distribution in step
func (r *Registry) SetTier(id domain.AssetID, tier domain.Tier, now time.Time) (domain.Tier, error) {
	rec, err := r.Get(id)
	if err != nil {
		return domain.TierNone, err
	}
	if !tier.Valid() {
		return rec.Tier, fmt.Errorf("%w: tier %d", domain.ErrInvalidParameter, tier)
	}
	if rec.Retired {
		return rec.Tier, fmt.Errorf("%w: asset %s is retired", domain.ErrInvalidParameter, id)
	}
	old := rec.Tier
	if old == tier {
		return old, nil
	}
	if err := r.dist.move(old, tier); err != nil {
		return old, err
	}
	rec.Tier = tier
	rec.TierChangedAt = now
	return old, nil
}

// SetWeight sets the target weight of an asset
func (r *Registry) SetWeight(id domain.AssetID, weightBP int) error {
	if err := domain.ValidateWeightBP(weightBP); err != nil {
		return err
	}
	rec, err := r.Get(id)
	if err != nil {
		return err
	}
	rec.TargetWeightBP = weightBP
	return nil
}

// SetHoldings replaces the held and staked quantities of an asset
func (r *Registry) SetHoldings(id domain.AssetID, quantity, staked decimal.Decimal) error {
	rec, err := r.Get(id)
	if err != nil {
		return err
	}
	if quantity.IsNegative() || staked.IsNegative() {
		return fmt.Errorf("%w: holdings of asset %s", domain.ErrUnderflow, id)
	}
	if staked.GreaterThan(quantity) {
		return fmt.Errorf("%w: staked %s exceeds quantity %s", domain.ErrInvalidParameter, staked, quantity)
	}
	rec.Quantity = quantity
	rec.Staked = staked
	return nil
}

// Retire removes an asset from the active set. Retired records are kept.
func (r *Registry) Retire(id domain.AssetID, now time.Time) error {
	rec, err := r.Get(id)
	if err != nil {
		return err
	}
	if rec.Retired {
		return nil
	}
	if err := r.dist.remove(rec.Tier); err != nil {
		return err
	}
	rec.Retired = true
	rec.TargetWeightBP = 0
	retiredAt := now
	rec.RetiredAt = &retiredAt
	return nil
}

// Distribution returns the cached per-tier counts
func (r *Registry) Distribution() Distribution {
	return r.dist
}

// ActiveCount returns the number of non-retired assets
func (r *Registry) ActiveCount() int {
	n := 0
	for _, rec := range r.records {
		if !rec.Retired {
			n++
		}
	}
	return n
}

func (r *Registry) recompute() Distribution {
	var d Distribution
	for _, rec := range r.records {
		if !rec.Retired {
			d.add(rec.Tier)
		}
	}
	return d
}

// Refresh recomputes the distribution from the records
func (r *Registry) Refresh() Distribution {
	r.dist = r.recompute()
	return r.dist
}

// Verify checks the cached distribution against the records
func (r *Registry) Verify() error {
	want := r.recompute()
	if want != r.dist {
		return fmt.Errorf("%w: tier distribution out of sync with records", domain.ErrInvalidParameter)
	}
	return nil
}
