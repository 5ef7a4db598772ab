package testing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aristath/tierindex/internal/domain"
	"github.com/shopspring/decimal"
)

// FakeClock is a settable Clock
type FakeClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewFakeClock creates a clock fixed at now
func NewFakeClock(now time.Time) *FakeClock {
	return &FakeClock{now: now}
}

// Now implements domain.Clock
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Set moves the clock to t
func (c *FakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type quote struct {
	price     *decimal.Decimal
	marketCap *decimal.Decimal
	volume    *decimal.Decimal
}

// MockOracle is an in-memory domain.PriceOracle.
// Values that were never set are reported unavailable.
type MockOracle struct {
	mu     sync.RWMutex
	quotes map[domain.AssetID]*quote
	err    error
	calls  int
}

// NewMockOracle creates an empty oracle
func NewMockOracle() *MockOracle {
	return &MockOracle{quotes: make(map[domain.AssetID]*quote)}
}

func (m *MockOracle) entry(id domain.AssetID) *quote {
	q, ok := m.quotes[id]
	if !ok {
		q = &quote{}
		m.quotes[id] = q
	}
	return q
}

// SetPrice sets the price of an asset
func (m *MockOracle) SetPrice(id domain.AssetID, price decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entry(id).price = &price
}

// SetMetrics sets market cap and trailing volume of an asset
func (m *MockOracle) SetMetrics(id domain.AssetID, marketCap, volume decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q := m.entry(id)
	q.marketCap = &marketCap
	q.volume = &volume
}

// Remove makes every value of an asset unavailable
func (m *MockOracle) Remove(id domain.AssetID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.quotes, id)
}

// RemovePrice makes only the price of an asset unavailable
func (m *MockOracle) RemovePrice(id domain.AssetID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if q, ok := m.quotes[id]; ok {
		q.price = nil
	}
}

// SetError makes every call fail with err until cleared with nil
func (m *MockOracle) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Calls returns the number of oracle calls served
func (m *MockOracle) Calls() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.calls
}

func (m *MockOracle) get(key domain.AssetKey, what string, pick func(*quote) *decimal.Decimal) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return decimal.Zero, m.err
	}
	q, ok := m.quotes[key.ID]
	if !ok || pick(q) == nil {
		return decimal.Zero, fmt.Errorf("%w: no %s for %s", domain.ErrExternalDataUnavailable, what, key.Underlying)
	}
	return *pick(q), nil
}

// Price implements domain.PriceOracle
func (m *MockOracle) Price(_ context.Context, key domain.AssetKey) (decimal.Decimal, error) {
	return m.get(key, "price", func(q *quote) *decimal.Decimal { return q.price })
}

// MarketCap implements domain.PriceOracle
func (m *MockOracle) MarketCap(_ context.Context, key domain.AssetKey) (decimal.Decimal, error) {
	return m.get(key, "market cap", func(q *quote) *decimal.Decimal { return q.marketCap })
}

// TrailingVolume implements domain.PriceOracle
func (m *MockOracle) TrailingVolume(_ context.Context, key domain.AssetKey) (decimal.Decimal, error) {
	return m.get(key, "volume", func(q *quote) *decimal.Decimal { return q.volume })
}

// SwapCall records one swap instruction received
type SwapCall struct {
	Kind   string
	Asset  domain.AssetID
	Amount decimal.Decimal
}

// MockSwap is a domain.SwapService that fills at fixed prices
type MockSwap struct {
	mu     sync.Mutex
	prices map[domain.AssetID]decimal.Decimal
	fail   map[string]error
	calls  []SwapCall
}

// NewMockSwap creates a swap venue with no prices
func NewMockSwap() *MockSwap {
	return &MockSwap{
		prices: make(map[domain.AssetID]decimal.Decimal),
		fail:   make(map[string]error),
	}
}

// SetPrice sets the fill price of an asset
func (m *MockSwap) SetPrice(id domain.AssetID, price decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prices[id] = price
}

// FailOn makes the next calls of kind ("liquidate" or "acquire") for id fail with err.
// A nil err clears the failure.
func (m *MockSwap) FailOn(kind string, id domain.AssetID, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := kind + "/" + id.String()
	if err == nil {
		delete(m.fail, k)
		return
	}
	m.fail[k] = err
}

// Calls returns the successful instructions in order
func (m *MockSwap) Calls() []SwapCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SwapCall, len(m.calls))
	copy(out, m.calls)
	return out
}

func (m *MockSwap) price(id domain.AssetID) (decimal.Decimal, error) {
	p, ok := m.prices[id]
	if !ok || !p.IsPositive() {
		return decimal.Zero, fmt.Errorf("no market for asset %s", id)
	}
	return p, nil
}

// Liquidate implements domain.SwapService
func (m *MockSwap) Liquidate(_ context.Context, asset domain.AssetKey, amount decimal.Decimal) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail["liquidate/"+asset.ID.String()]; err != nil {
		return decimal.Zero, err
	}
	p, err := m.price(asset.ID)
	if err != nil {
		return decimal.Zero, err
	}
	m.calls = append(m.calls, SwapCall{Kind: "liquidate", Asset: asset.ID, Amount: amount})
	return amount.Mul(p), nil
}

// Acquire implements domain.SwapService
func (m *MockSwap) Acquire(_ context.Context, asset domain.AssetKey, stableAmount decimal.Decimal) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail["acquire/"+asset.ID.String()]; err != nil {
		return decimal.Zero, err
	}
	p, err := m.price(asset.ID)
	if err != nil {
		return decimal.Zero, err
	}
	m.calls = append(m.calls, SwapCall{Kind: "acquire", Asset: asset.ID, Amount: stableAmount})
	return stableAmount.Div(p), nil
}

// MockStaking is a domain.StakingService that releases everything requested
type MockStaking struct {
	mu    sync.Mutex
	locks map[domain.Tier]time.Duration
	fail  map[domain.AssetID]error
	calls []SwapCall
}

// NewMockStaking creates a staking service with the given per-tier locks
func NewMockStaking(locks map[domain.Tier]time.Duration) *MockStaking {
	if locks == nil {
		locks = make(map[domain.Tier]time.Duration)
	}
	return &MockStaking{locks: locks, fail: make(map[domain.AssetID]error)}
}

// FailOn makes unstaking id fail with err; nil clears it
func (m *MockStaking) FailOn(id domain.AssetID, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.fail, id)
		return
	}
	m.fail[id] = err
}

// Calls returns the successful unstake instructions in order
func (m *MockStaking) Calls() []SwapCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SwapCall, len(m.calls))
	copy(out, m.calls)
	return out
}

// Unstake implements domain.StakingService
func (m *MockStaking) Unstake(_ context.Context, asset domain.AssetKey, amount decimal.Decimal) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail[asset.ID]; err != nil {
		return decimal.Zero, err
	}
	m.calls = append(m.calls, SwapCall{Kind: "unstake", Asset: asset.ID, Amount: amount})
	return amount, nil
}

// CurrentLockDuration implements domain.StakingService
func (m *MockStaking) CurrentLockDuration(tier domain.Tier) time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.locks[tier]
}
