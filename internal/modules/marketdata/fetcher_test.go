package marketdata

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aristath/tierindex/internal/domain"
	testingpkg "github.com/aristath/tierindex/internal/testing"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type slowOracle struct{ testingpkg.MockOracle }

func (s *slowOracle) Price(ctx context.Context, _ domain.AssetKey) (decimal.Decimal, error) {
	<-ctx.Done()
	return decimal.Zero, ctx.Err()
}

func TestFetcher_Price(t *testing.T) {
	oracle := testingpkg.NewMockOracle()
	oracle.SetPrice(1, decimal.NewFromInt(0))
	f := NewFetcher(oracle, time.Second)
	key := domain.AssetKey{ID: 1, Underlying: "DOT", Provider: "oracle"}

	price, err := f.Price(context.Background(), key)
	require.NoError(t, err, "a real zero is a value, not an absence")
	assert.True(t, price.IsZero())

	_, err = f.Price(context.Background(), domain.AssetKey{ID: 2})
	assert.ErrorIs(t, err, domain.ErrExternalDataUnavailable)
}

func TestFetcher_WrapsForeignErrors(t *testing.T) {
	oracle := testingpkg.NewMockOracle()
	cause := errors.New("connection refused")
	oracle.SetError(cause)
	f := NewFetcher(oracle, time.Second)

	_, err := f.Metrics(context.Background(), domain.AssetKey{ID: 1})
	assert.ErrorIs(t, err, domain.ErrExternalDataUnavailable)
	assert.ErrorIs(t, err, cause)
}

func TestFetcher_Timeout(t *testing.T) {
	f := NewFetcher(&slowOracle{}, 10*time.Millisecond)

	start := time.Now()
	_, err := f.Price(context.Background(), domain.AssetKey{ID: 1})
	assert.ErrorIs(t, err, domain.ErrExternalDataUnavailable)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestFetcher_NoOracle(t *testing.T) {
	f := NewFetcher(nil, 0)
	_, err := f.Price(context.Background(), domain.AssetKey{ID: 1})
	assert.ErrorIs(t, err, domain.ErrExternalDataUnavailable)
	_, err = f.Metrics(context.Background(), domain.AssetKey{ID: 1})
	assert.ErrorIs(t, err, domain.ErrExternalDataUnavailable)
}

func TestFetcher_Sample(t *testing.T) {
	oracle := testingpkg.NewMockOracle()
	oracle.SetMetrics(1, decimal.NewFromInt(500), decimal.NewFromInt(50))
	f := NewFetcher(oracle, time.Second)
	key := domain.AssetKey{ID: 1}

	_, err := f.Sample(context.Background(), key, testingpkg.Epoch)
	assert.ErrorIs(t, err, domain.ErrExternalDataUnavailable, "price missing")

	oracle.SetPrice(1, decimal.NewFromInt(2))
	s, err := f.Sample(context.Background(), key, testingpkg.Epoch)
	require.NoError(t, err)
	assert.Equal(t, testingpkg.Epoch, s.At)
	assert.True(t, s.MarketCap.Equal(decimal.NewFromInt(500)))
	assert.True(t, s.Price.Equal(decimal.NewFromInt(2)))
}
