package paper

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/aristath/tierindex/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// MaxUnstakingRequests is the number of open unbonding requests allowed per asset
const MaxUnstakingRequests = 10

// DefaultLocks are the unbonding periods by active tier. Unclassified
// positions take the longest period.
var DefaultLocks = map[domain.Tier]time.Duration{
	domain.TierNone: 14 * 24 * time.Hour,
	domain.Tier1:    14 * 24 * time.Hour,
	domain.Tier2:    10 * 24 * time.Hour,
	domain.Tier3:    7 * 24 * time.Hour,
	domain.Tier4:    3 * 24 * time.Hour,
}

// UnstakeRequest is an unbonding position
type UnstakeRequest struct {
	RequestedAt time.Time       `json:"requested_at"`
	ReleaseAt   time.Time       `json:"release_at"`
	ID          string          `json:"id"`
	Asset       domain.AssetKey `json:"asset"`
	Amount      decimal.Decimal `json:"amount"`
	Tier        domain.Tier     `json:"tier"`
}

// Staking is a paper staking ledger implementing domain.StakingService.
// Unstaked units are released to the fund immediately; the ledger keeps the
// unbonding requests so the lock they would carry on chain is observable.
type Staking struct {
	clock domain.Clock
	locks map[domain.Tier]time.Duration
	log   zerolog.Logger

	mu       sync.Mutex
	active   domain.Tier
	requests map[domain.AssetID][]UnstakeRequest
}

// NewStaking creates a ledger; nil locks select DefaultLocks
func NewStaking(locks map[domain.Tier]time.Duration, clock domain.Clock, log zerolog.Logger) *Staking {
	if locks == nil {
		locks = DefaultLocks
	}
	if clock == nil {
		clock = domain.SystemClock{}
	}
	return &Staking{
		clock:    clock,
		locks:    locks,
		log:      log.With().Str("venue", "paper-staking").Logger(),
		active:   domain.Tier1,
		requests: make(map[domain.AssetID][]UnstakeRequest),
	}
}

// SetActiveTier records the fund's active tier, which sets the lock of new requests
func (s *Staking) SetActiveTier(tier domain.Tier) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = tier
}

// CurrentLockDuration implements domain.StakingService
func (s *Staking) CurrentLockDuration(tier domain.Tier) time.Duration {
	if d, ok := s.locks[tier]; ok {
		return d
	}
	return s.locks[domain.TierNone]
}

// Unstake implements domain.StakingService
func (s *Staking) Unstake(_ context.Context, asset domain.AssetKey, amount decimal.Decimal) (decimal.Decimal, error) {
	if !amount.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: unstake amount %s", domain.ErrInvalidParameter, amount)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	open := s.pruneLocked(asset.ID, now)
	if len(open) >= MaxUnstakingRequests {
		return decimal.Zero, fmt.Errorf("%w: %d open unstaking requests for %s",
			domain.ErrInvalidParameter, len(open), asset.Underlying)
	}

	req := UnstakeRequest{
		RequestedAt: now,
		ReleaseAt:   now.Add(s.CurrentLockDuration(s.active)),
		ID:          uuid.NewString(),
		Asset:       asset,
		Amount:      amount,
		Tier:        s.active,
	}
	s.requests[asset.ID] = append(open, req)

	s.log.Info().
		Str("request_id", req.ID).
		Str("underlying", asset.Underlying).
		Str("amount", amount.String()).
		Time("release_at", req.ReleaseAt).
		Msg("Unstake requested")
	return amount, nil
}

// pruneLocked drops released requests and returns the open ones
func (s *Staking) pruneLocked(id domain.AssetID, now time.Time) []UnstakeRequest {
	open := s.requests[id][:0]
	for _, r := range s.requests[id] {
		if now.Before(r.ReleaseAt) {
			open = append(open, r)
		}
	}
	if len(open) == 0 {
		delete(s.requests, id)
		return nil
	}
	s.requests[id] = open
	return open
}

// Unbonding returns every open request, earliest release first
func (s *Staking) Unbonding() []UnstakeRequest {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	var out []UnstakeRequest
	for id := range s.requests {
		out = append(out, s.pruneLocked(id, now)...)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReleaseAt.Before(out[j].ReleaseAt) })
	return out
}

var _ domain.StakingService = (*Staking)(nil)
