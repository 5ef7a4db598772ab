// Package history keeps bounded per-asset metric samples and smooths them.
package history

import (
	"fmt"

	"github.com/aristath/tierindex/internal/domain"
	"github.com/markcheno/go-talib"
	"github.com/shopspring/decimal"
	"gonum.org/v1/gonum/stat"
)

const (
	DefaultCapacity   = 64
	DefaultMinSamples = 4
)

// Smoothing selects how a sample series is reduced to one value
type Smoothing string

const (
	SmoothingSMA Smoothing = "sma"
	SmoothingEMA Smoothing = "ema"
)

// ParseSmoothing accepts "sma" or "ema"
func ParseSmoothing(s string) (Smoothing, error) {
	switch Smoothing(s) {
	case SmoothingSMA, "":
		return SmoothingSMA, nil
	case SmoothingEMA:
		return SmoothingEMA, nil
	}
	return "", fmt.Errorf("%w: smoothing %q", domain.ErrInvalidParameter, s)
}

// Store is a ring of the most recent samples per asset
type Store struct {
	Samples  map[domain.AssetID][]domain.MetricSample
	Capacity int

	// Cursor is the first asset id the next sampling batch visits
	Cursor domain.AssetID
}

// NewStore creates an empty store; capacity < 1 selects DefaultCapacity
func NewStore(capacity int) *Store {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	return &Store{
		Samples:  make(map[domain.AssetID][]domain.MetricSample),
		Capacity: capacity,
	}
}

// Clone returns a deep copy
func (s *Store) Clone() *Store {
	c := &Store{
		Samples:  make(map[domain.AssetID][]domain.MetricSample, len(s.Samples)),
		Capacity: s.Capacity,
		Cursor:   s.Cursor,
	}
	for id, samples := range s.Samples {
		c.Samples[id] = append([]domain.MetricSample(nil), samples...)
	}
	return c
}

// Append adds a sample, evicting the oldest beyond capacity
func (s *Store) Append(id domain.AssetID, sample domain.MetricSample) {
	samples := append(s.Samples[id], sample)
	if len(samples) > s.Capacity {
		samples = append([]domain.MetricSample(nil), samples[len(samples)-s.Capacity:]...)
	}
	s.Samples[id] = samples
}

// Get returns the samples of an asset, oldest first
func (s *Store) Get(id domain.AssetID) []domain.MetricSample {
	return s.Samples[id]
}

// Count returns the number of samples held for an asset
func (s *Store) Count(id domain.AssetID) int {
	return len(s.Samples[id])
}

// Forget drops the samples of an asset
func (s *Store) Forget(id domain.AssetID) {
	delete(s.Samples, id)
}

// Smoother reduces the market cap series of an asset to one value. The series
// is smoothed in float64, so market caps beyond 2^53 lose low-order digits;
// the result only feeds relative target weights.
type Smoother struct {
	Method     Smoothing
	MinSamples int
	// Window is the number of most recent samples considered
	Window int
	// EMAPeriod is the go-talib period used for SmoothingEMA
	EMAPeriod int
}

// DefaultSmoother is a trailing SMA over the whole ring
func DefaultSmoother() Smoother {
	return Smoother{
		Method:     SmoothingSMA,
		MinSamples: DefaultMinSamples,
		Window:     DefaultCapacity,
		EMAPeriod:  DefaultMinSamples,
	}
}

// MarketCap returns the smoothed market cap of samples
func (sm Smoother) MarketCap(samples []domain.MetricSample) (decimal.Decimal, error) {
	minSamples := sm.MinSamples
	if minSamples < 1 {
		minSamples = DefaultMinSamples
	}
	if len(samples) < minSamples {
		return decimal.Zero, fmt.Errorf("%w: %d samples, need %d", domain.ErrInsufficientHistory, len(samples), minSamples)
	}
	if sm.Window > 0 && len(samples) > sm.Window {
		samples = samples[len(samples)-sm.Window:]
	}

	series := make([]float64, len(samples))
	for i, s := range samples {
		series[i] = s.MarketCap.InexactFloat64()
	}

	var v float64
	switch sm.Method {
	case SmoothingEMA:
		period := sm.EMAPeriod
		if period < 2 || period > len(series) {
			period = len(series)
		}
		ema := talib.Ema(series, period)
		v = ema[len(ema)-1]
	default:
		v = stat.Mean(series, nil)
	}
	if v < 0 {
		return decimal.Zero, fmt.Errorf("%w: negative smoothed market cap", domain.ErrUnderflow)
	}
	return decimal.NewFromFloat(v), nil
}
