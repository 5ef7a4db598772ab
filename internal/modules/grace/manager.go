package grace

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aristath/tierindex/internal/domain"
	"github.com/aristath/tierindex/internal/events"
	"github.com/aristath/tierindex/internal/modules/marketdata"
	"github.com/aristath/tierindex/internal/modules/registry"
	"github.com/aristath/tierindex/internal/modules/tiers"
	"github.com/rs/zerolog"
)

// TierObserver is told about every committed distribution change
type TierObserver interface {
	DistributionChanged(dist registry.Distribution) bool
}

// Manager runs the grace period state machine over a Book and a Registry
type Manager struct {
	book       *Book
	registry   *registry.Registry
	thresholds tiers.Thresholds
	fetcher    *marketdata.Fetcher
	clock      domain.Clock
	emitter    events.Emitter
	observer   TierObserver
	log        zerolog.Logger
}

// NewManager creates a grace period manager. fetcher and observer may be nil.
func NewManager(
	book *Book,
	reg *registry.Registry,
	thresholds tiers.Thresholds,
	fetcher *marketdata.Fetcher,
	clock domain.Clock,
	emitter events.Emitter,
	observer TierObserver,
	log zerolog.Logger,
) *Manager {
	return &Manager{
		book:       book,
		registry:   reg,
		thresholds: thresholds,
		fetcher:    fetcher,
		clock:      clock,
		emitter:    emitter,
		observer:   observer,
		log:        log.With().Str("service", "grace").Logger(),
	}
}

func (m *Manager) emit(eventType events.EventType, data events.EventData) {
	if m.emitter != nil {
		m.emitter.EmitTyped(eventType, "grace", data)
	}
}

func (m *Manager) activeRecord(id domain.AssetID) (*domain.AssetRecord, error) {
	rec, err := m.registry.Get(id)
	if err != nil {
		return nil, err
	}
	if rec.Retired {
		return nil, fmt.Errorf("%w: asset %s is retired", domain.ErrInvalidParameter, id)
	}
	return rec, nil
}

// Propose schedules a tier change for an asset. Proposing the current tier is
// a no-op; proposing the tier already pending keeps the scheduled commit.
func (m *Manager) Propose(id domain.AssetID, tier domain.Tier, reason string) (*PendingChange, error) {
	if !tier.Valid() {
		return nil, fmt.Errorf("%w: tier %d", domain.ErrInvalidParameter, tier)
	}
	switch reason {
	case ReasonAutomatic, ReasonManual:
	default:
		return nil, fmt.Errorf("%w: proposal reason %q", domain.ErrInvalidParameter, reason)
	}
	rec, err := m.activeRecord(id)
	if err != nil {
		return nil, err
	}
	if tier == rec.Tier {
		return nil, nil
	}
	// same target already pending: it keeps its original commit time
	if existing, ok := m.book.Get(id); ok && existing.ProposedTier == tier {
		return existing, nil
	}

	now := m.clock.Now()
	p := &PendingChange{
		AssetID:      id,
		CurrentTier:  rec.Tier,
		ProposedTier: tier,
		ProposedAt:   now,
		CommitAt:     now.Add(m.book.GracePeriod),
		Reason:       reason,
	}
	m.book.Pending[id] = p

	m.log.Info().
		Uint32("asset_id", uint32(id)).
		Str("from", rec.Tier.String()).
		Str("to", tier.String()).
		Time("commit_at", p.CommitAt).
		Msg("Grace period started")
	m.emit(events.GracePeriodStarted, &events.GracePeriodStartedData{
		ID:          id,
		CurrentTier: rec.Tier,
		NewTier:     tier,
		CommitAt:    p.CommitAt,
		Reason:      reason,
	})
	return p, nil
}

// ProcessDue commits up to maxBatch due changes, oldest first, and returns
// how many were processed. Calling it again drains what is left.
func (m *Manager) ProcessDue(maxBatch int) (int, error) {
	if maxBatch < 1 {
		return 0, fmt.Errorf("%w: max batch %d", domain.ErrInvalidParameter, maxBatch)
	}
	now := m.clock.Now()
	processed := 0
	for _, p := range m.book.Due(now) {
		if processed >= maxBatch {
			break
		}
		processed++

		rec, err := m.registry.Get(p.AssetID)
		if err != nil || rec.Retired {
			delete(m.book.Pending, p.AssetID)
			m.log.Warn().Uint32("asset_id", uint32(p.AssetID)).Msg("Dropped pending change of retired asset")
			continue
		}
		if err := m.commit(p.AssetID, p.ProposedTier, ChangeGraceEnded); err != nil {
			return processed - 1, err
		}
		delete(m.book.Pending, p.AssetID)
	}
	return processed, nil
}

// DueCount returns the number of changes ProcessDue would commit now
func (m *Manager) DueCount() int {
	return len(m.book.Due(m.clock.Now()))
}

func (m *Manager) commit(id domain.AssetID, tier domain.Tier, reason string) error {
	old, err := m.registry.SetTier(id, tier, m.clock.Now())
	if err != nil {
		return fmt.Errorf("failed to commit tier of asset %s: %w", id, err)
	}
	if old == tier {
		return nil
	}
	m.log.Info().
		Uint32("asset_id", uint32(id)).
		Str("from", old.String()).
		Str("to", tier.String()).
		Str("reason", reason).
		Msg("Tier changed")
	m.emit(events.TierChanged, &events.TierChangedData{ID: id, OldTier: old, NewTier: tier, Reason: reason})
	if m.observer != nil {
		m.observer.DistributionChanged(m.registry.Distribution())
	}
	return nil
}

// EmergencyOverride deletes any pending change and commits tier immediately
func (m *Manager) EmergencyOverride(id domain.AssetID, tier domain.Tier, justification string) error {
	justification = strings.TrimSpace(justification)
	if justification == "" {
		return fmt.Errorf("%w: justification is required", domain.ErrInvalidParameter)
	}
	if !tier.Valid() {
		return fmt.Errorf("%w: tier %d", domain.ErrInvalidParameter, tier)
	}
	rec, err := m.activeRecord(id)
	if err != nil {
		return err
	}
	old := rec.Tier

	delete(m.book.Pending, id)
	if err := m.commit(id, tier, ChangeEmergency); err != nil {
		return err
	}

	m.log.Warn().
		Uint32("asset_id", uint32(id)).
		Str("from", old.String()).
		Str("to", tier.String()).
		Str("justification", justification).
		Msg("Emergency tier override")
	m.emit(events.EmergencyTierOverride, &events.EmergencyTierOverrideData{
		ID:            id,
		OldTier:       old,
		NewTier:       tier,
		Justification: justification,
	})
	return nil
}

// EmergencyOverrideToCalculated overrides to the tier the live metrics classify to
func (m *Manager) EmergencyOverrideToCalculated(ctx context.Context, id domain.AssetID, justification string) (domain.Tier, error) {
	if strings.TrimSpace(justification) == "" {
		return domain.TierNone, fmt.Errorf("%w: justification is required", domain.ErrInvalidParameter)
	}
	rec, err := m.activeRecord(id)
	if err != nil {
		return domain.TierNone, err
	}
	tier, err := m.classifyLive(ctx, rec)
	if err != nil {
		return domain.TierNone, err
	}
	return tier, m.EmergencyOverride(id, tier, justification)
}

// ClearPending deletes the pending change of an asset without committing it.
// It reports whether anything was removed.
func (m *Manager) ClearPending(id domain.AssetID) (bool, error) {
	if _, err := m.registry.Get(id); err != nil {
		return false, err
	}
	return m.cancel(id, "cleared"), nil
}

func (m *Manager) cancel(id domain.AssetID, reason string) bool {
	p, ok := m.book.Get(id)
	if !ok {
		return false
	}
	delete(m.book.Pending, id)
	m.log.Info().
		Uint32("asset_id", uint32(id)).
		Str("proposed", p.ProposedTier.String()).
		Str("reason", reason).
		Msg("Grace period cancelled")
	m.emit(events.GracePeriodCancelled, &events.GracePeriodCancelledData{
		ID:           id,
		ProposedTier: p.ProposedTier,
		Reason:       reason,
	})
	return true
}

// SetGracePeriod changes the delay for future proposals only
func (m *Manager) SetGracePeriod(d time.Duration) error {
	if d < MinGracePeriod || d > MaxGracePeriod {
		return fmt.Errorf("%w: grace period %s outside [%s, %s]", domain.ErrInvalidParameter, d, MinGracePeriod, MaxGracePeriod)
	}
	old := m.book.GracePeriod
	m.book.GracePeriod = d
	m.emit(events.GracePeriodUpdated, &events.GracePeriodUpdatedData{
		OldSeconds: int64(old / time.Second),
		NewSeconds: int64(d / time.Second),
	})
	return nil
}

// GracePeriod returns the configured delay
func (m *Manager) GracePeriod() time.Duration {
	return m.book.GracePeriod
}

// Limits returns the accepted grace period range
func Limits() (time.Duration, time.Duration) {
	return MinGracePeriod, MaxGracePeriod
}

// Pending returns the pending change of an asset
func (m *Manager) Pending(id domain.AssetID) (*PendingChange, bool) {
	return m.book.Get(id)
}

// ListPending returns every pending change in commit order
func (m *Manager) ListPending() []*PendingChange {
	return m.book.List()
}

// CommitTime returns the scheduled commit time of an asset's pending change
func (m *Manager) CommitTime(id domain.AssetID) (time.Time, bool) {
	p, ok := m.book.Get(id)
	if !ok {
		return time.Time{}, false
	}
	return p.CommitAt, true
}

// RemainingTime returns the time left before commit, zero once due
func (m *Manager) RemainingTime(id domain.AssetID) (time.Duration, bool) {
	p, ok := m.book.Get(id)
	if !ok {
		return 0, false
	}
	left := p.CommitAt.Sub(m.clock.Now())
	if left < 0 {
		left = 0
	}
	return left, true
}

// IsExpired reports whether an asset's pending change is due
func (m *Manager) IsExpired(id domain.AssetID) bool {
	p, ok := m.book.Get(id)
	return ok && p.Due(m.clock.Now())
}

func (m *Manager) classifyLive(ctx context.Context, rec *domain.AssetRecord) (domain.Tier, error) {
	if m.fetcher == nil {
		return domain.TierNone, fmt.Errorf("%w: no market data source", domain.ErrExternalDataUnavailable)
	}
	metrics, err := m.fetcher.Metrics(ctx, rec.Key())
	if err != nil {
		return domain.TierNone, err
	}
	return tiers.Classify(metrics, m.thresholds), nil
}

// Outcome of applying a fresh classification to one asset
type Outcome int

const (
	Unchanged Outcome = iota
	Proposed
	Cancelled
)

func (m *Manager) apply(rec *domain.AssetRecord, tier domain.Tier, reason string) (Outcome, error) {
	if tier == rec.Tier {
		if m.cancel(rec.ID, "classification_reverted") {
			return Cancelled, nil
		}
		return Unchanged, nil
	}
	before, had := m.book.Get(rec.ID)
	p, err := m.Propose(rec.ID, tier, reason)
	if err != nil {
		return Unchanged, err
	}
	if had && p == before {
		return Unchanged, nil
	}
	return Proposed, nil
}

// Reclassify classifies one asset from live metrics and schedules the result
func (m *Manager) Reclassify(ctx context.Context, id domain.AssetID) (domain.Tier, Outcome, error) {
	rec, err := m.activeRecord(id)
	if err != nil {
		return domain.TierNone, Unchanged, err
	}
	tier, err := m.classifyLive(ctx, rec)
	if err != nil {
		return domain.TierNone, Unchanged, err
	}
	outcome, err := m.apply(rec, tier, ReasonManual)
	return tier, outcome, err
}

// RefreshResult summarizes one bulk refresh batch
type RefreshResult struct {
	Unavailable []domain.AssetID `json:"unavailable,omitempty"`
	Classified  int              `json:"classified"`
	Proposed    int              `json:"proposed"`
	Cancelled   int              `json:"cancelled"`
	Done        bool             `json:"done"`
}

// RefreshTiers reclassifies up to maxBatch active assets from live metrics,
// resuming after the last asset visited. Done is set once every asset has been
// visited; the next call starts over. Assets without metrics are skipped.
func (m *Manager) RefreshTiers(ctx context.Context, maxBatch int) (RefreshResult, error) {
	var res RefreshResult
	if maxBatch < 1 {
		return res, fmt.Errorf("%w: max batch %d", domain.ErrInvalidParameter, maxBatch)
	}

	visited := 0
	next := domain.AssetID(0)
	for _, rec := range m.registry.Active() {
		if rec.ID < m.book.RefreshCursor {
			continue
		}
		if visited >= maxBatch {
			next = rec.ID
			break
		}
		visited++

		tier, err := m.classifyLive(ctx, rec)
		if err != nil {
			if errors.Is(err, domain.ErrExternalDataUnavailable) {
				res.Unavailable = append(res.Unavailable, rec.ID)
				m.log.Debug().Err(err).Uint32("asset_id", uint32(rec.ID)).Msg("Skipped asset without metrics")
				continue
			}
			return res, err
		}
		res.Classified++

		outcome, err := m.apply(rec, tier, ReasonAutomatic)
		if err != nil {
			return res, err
		}
		switch outcome {
		case Proposed:
			res.Proposed++
		case Cancelled:
			res.Cancelled++
		}
	}

	m.book.RefreshCursor = next
	res.Done = next == 0
	return res, nil
}
