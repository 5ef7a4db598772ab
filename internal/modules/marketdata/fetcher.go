// Package marketdata wraps the price oracle with per-call deadlines and
// uniform unavailability errors.
package marketdata

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aristath/tierindex/internal/domain"
	"github.com/shopspring/decimal"
)

// DefaultTimeout bounds a single oracle call
const DefaultTimeout = 5 * time.Second

// Fetcher issues single-shot oracle calls. It never retries and never
// turns a failure into a zero value.
type Fetcher struct {
	oracle  domain.PriceOracle
	timeout time.Duration
}

// NewFetcher creates a fetcher; a non-positive timeout selects DefaultTimeout
func NewFetcher(oracle domain.PriceOracle, timeout time.Duration) *Fetcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Fetcher{oracle: oracle, timeout: timeout}
}

type oracleCall func(context.Context, domain.AssetKey) (decimal.Decimal, error)

var errNoOracle = fmt.Errorf("%w: no price oracle configured", domain.ErrExternalDataUnavailable)

func (f *Fetcher) call(ctx context.Context, what string, key domain.AssetKey, fn oracleCall) (decimal.Decimal, error) {
	callCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	v, err := fn(callCtx, key)
	if err != nil {
		if errors.Is(err, domain.ErrExternalDataUnavailable) {
			return decimal.Zero, fmt.Errorf("%s of asset %s: %w", what, key.ID, err)
		}
		return decimal.Zero, fmt.Errorf("%w: %s of asset %s: %w", domain.ErrExternalDataUnavailable, what, key.ID, err)
	}
	return v, nil
}

// Price returns the live price of one unit of the asset in stable units
func (f *Fetcher) Price(ctx context.Context, key domain.AssetKey) (decimal.Decimal, error) {
	if f.oracle == nil {
		return decimal.Zero, errNoOracle
	}
	return f.call(ctx, "price", key, f.oracle.Price)
}

// Metrics returns the classification inputs. Both must be available.
func (f *Fetcher) Metrics(ctx context.Context, key domain.AssetKey) (domain.Metrics, error) {
	if f.oracle == nil {
		return domain.Metrics{}, errNoOracle
	}
	marketCap, err := f.call(ctx, "market cap", key, f.oracle.MarketCap)
	if err != nil {
		return domain.Metrics{}, err
	}
	volume, err := f.call(ctx, "trailing volume", key, f.oracle.TrailingVolume)
	if err != nil {
		return domain.Metrics{}, err
	}
	return domain.Metrics{MarketCap: marketCap, TrailingVolume: volume}, nil
}

// Sample returns a full observation stamped at now
func (f *Fetcher) Sample(ctx context.Context, key domain.AssetKey, now time.Time) (domain.MetricSample, error) {
	m, err := f.Metrics(ctx, key)
	if err != nil {
		return domain.MetricSample{}, err
	}
	price, err := f.Price(ctx, key)
	if err != nil {
		return domain.MetricSample{}, err
	}
	return domain.MetricSample{
		At:             now,
		MarketCap:      m.MarketCap,
		TrailingVolume: m.TrailingVolume,
		Price:          price,
	}, nil
}
