// Package paper provides simulated trading and staking venues. Fills are
// priced off the live oracle with a fixed slippage so the rebalancing engine
// can run end to end without touching real markets.
package paper

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aristath/tierindex/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Precision of paper fills, in decimal places
const Precision = 8

// maxFills bounds the in-memory fill log
const maxFills = 500

// Side of a fill
type Side string

const (
	SideSell Side = "sell"
	SideBuy  Side = "buy"
)

// Fill is one simulated trade
type Fill struct {
	At     time.Time       `json:"at"`
	ID     string          `json:"id"`
	Asset  domain.AssetKey `json:"asset"`
	Side   Side            `json:"side"`
	Price  decimal.Decimal `json:"price"`
	Units  decimal.Decimal `json:"units"`
	Stable decimal.Decimal `json:"stable"`
}

// Swap implements domain.SwapService against oracle prices
type Swap struct {
	oracle   domain.PriceOracle
	clock    domain.Clock
	slippage decimal.Decimal // fraction kept after slippage
	log      zerolog.Logger

	mu    sync.Mutex
	fills []Fill
}

// NewSwap creates a paper swap venue charging slippageBP on every fill
func NewSwap(oracle domain.PriceOracle, slippageBP int, clock domain.Clock, log zerolog.Logger) (*Swap, error) {
	if slippageBP < 0 || slippageBP >= domain.MaxWeightBP {
		return nil, fmt.Errorf("%w: slippage %d bp", domain.ErrInvalidParameter, slippageBP)
	}
	if clock == nil {
		clock = domain.SystemClock{}
	}
	keep := decimal.NewFromInt(int64(domain.MaxWeightBP - slippageBP)).Div(decimal.NewFromInt(domain.MaxWeightBP))
	return &Swap{
		oracle:   oracle,
		clock:    clock,
		slippage: keep,
		log:      log.With().Str("venue", "paper-swap").Logger(),
	}, nil
}

func (s *Swap) price(ctx context.Context, asset domain.AssetKey) (decimal.Decimal, error) {
	price, err := s.oracle.Price(ctx, asset)
	if err != nil {
		return decimal.Zero, err
	}
	if !price.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: no positive price for %s", domain.ErrExternalDataUnavailable, asset.Underlying)
	}
	return price, nil
}

// Liquidate implements domain.SwapService
func (s *Swap) Liquidate(ctx context.Context, asset domain.AssetKey, amount decimal.Decimal) (decimal.Decimal, error) {
	if !amount.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: liquidation amount %s", domain.ErrInvalidParameter, amount)
	}
	price, err := s.price(ctx, asset)
	if err != nil {
		return decimal.Zero, err
	}
	proceeds := amount.Mul(price).Mul(s.slippage).Truncate(Precision)
	s.record(Fill{Asset: asset, Side: SideSell, Price: price, Units: amount, Stable: proceeds})
	return proceeds, nil
}

// Acquire implements domain.SwapService
func (s *Swap) Acquire(ctx context.Context, asset domain.AssetKey, stableAmount decimal.Decimal) (decimal.Decimal, error) {
	if !stableAmount.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: acquisition amount %s", domain.ErrInvalidParameter, stableAmount)
	}
	price, err := s.price(ctx, asset)
	if err != nil {
		return decimal.Zero, err
	}
	units := stableAmount.Mul(s.slippage).DivRound(price, Precision+4).Truncate(Precision)
	s.record(Fill{Asset: asset, Side: SideBuy, Price: price, Units: units, Stable: stableAmount})
	return units, nil
}

func (s *Swap) record(f Fill) {
	f.ID = uuid.NewString()
	f.At = s.clock.Now()

	s.mu.Lock()
	s.fills = append(s.fills, f)
	if len(s.fills) > maxFills {
		s.fills = append([]Fill(nil), s.fills[len(s.fills)-maxFills:]...)
	}
	s.mu.Unlock()

	s.log.Info().
		Str("fill_id", f.ID).
		Str("side", string(f.Side)).
		Str("underlying", f.Asset.Underlying).
		Str("units", f.Units.String()).
		Str("stable", f.Stable.String()).
		Str("price", f.Price.String()).
		Msg("Paper fill")
}

// Fills returns the most recent fills, oldest first
func (s *Swap) Fills() []Fill {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Fill(nil), s.fills...)
}

var _ domain.SwapService = (*Swap)(nil)
