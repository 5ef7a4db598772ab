package oracle

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/aristath/tierindex/internal/domain"
	testingpkg "github.com/aristath/tierindex/internal/testing"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHashes struct {
	data  map[string]map[string]string
	err   error
	reads int
}

func newFakeHashes() *fakeHashes {
	return &fakeHashes{data: make(map[string]map[string]string)}
}

func (f *fakeHashes) HGetAll(_ context.Context, key string) *redis.MapStringStringCmd {
	f.reads++
	if f.err != nil {
		return redis.NewMapStringStringResult(nil, f.err)
	}
	return redis.NewMapStringStringResult(f.data[key], nil)
}

func (f *fakeHashes) HSet(_ context.Context, key string, values ...interface{}) *redis.IntCmd {
	h := f.data[key]
	if h == nil {
		h = make(map[string]string)
		f.data[key] = h
	}
	for _, v := range values {
		for k, val := range v.(map[string]interface{}) {
			h[k] = fmt.Sprint(val)
		}
	}
	return redis.NewIntResult(int64(len(h)), nil)
}

var btc = domain.AssetKey{ID: 1, Underlying: "BTC", Provider: "feedA"}

func dec(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func newOracle(maxAge time.Duration) (*Oracle, *fakeHashes, *testingpkg.FakeClock) {
	h := newFakeHashes()
	clock := testingpkg.NewFakeClock(testingpkg.Epoch)
	o := New(h, Config{MaxAge: maxAge, CacheTTL: time.Second}, clock, zerolog.Nop())
	return o, h, clock
}

func TestOracle_Key(t *testing.T) {
	o, _, _ := newOracle(0)
	assert.Equal(t, "oracle:feedA:BTC", o.Key(btc))
}

func TestOracle_PublishAndRead(t *testing.T) {
	o, _, clock := newOracle(time.Hour)
	ctx := context.Background()

	require.NoError(t, o.Publish(ctx, btc, Quote{
		At:        clock.Now(),
		Price:     dec("64000.5"),
		MarketCap: dec("1250000000000"),
		Volume:    dec("30000000000"),
	}))

	price, err := o.Price(ctx, btc)
	require.NoError(t, err)
	assert.True(t, price.Equal(decimal.RequireFromString("64000.5")))

	mc, err := o.MarketCap(ctx, btc)
	require.NoError(t, err)
	assert.True(t, mc.Equal(decimal.RequireFromString("1250000000000")))

	vol, err := o.TrailingVolume(ctx, btc)
	require.NoError(t, err)
	assert.True(t, vol.Equal(decimal.RequireFromString("30000000000")))
}

func TestOracle_CachesWithinTTL(t *testing.T) {
	o, h, clock := newOracle(time.Hour)
	ctx := context.Background()
	require.NoError(t, o.Publish(ctx, btc, Quote{At: clock.Now(), Price: dec("1"), MarketCap: dec("2"), Volume: dec("3")}))

	_, _ = o.Price(ctx, btc)
	_, _ = o.MarketCap(ctx, btc)
	_, _ = o.TrailingVolume(ctx, btc)
	assert.Equal(t, 1, h.reads)

	clock.Advance(2 * time.Second)
	_, _ = o.Price(ctx, btc)
	assert.Equal(t, 2, h.reads)
}

func TestOracle_Unavailable(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name  string
		setup func(o *Oracle, h *fakeHashes, clock *testingpkg.FakeClock)
	}{
		{"missing hash", func(*Oracle, *fakeHashes, *testingpkg.FakeClock) {}},
		{"redis error", func(_ *Oracle, h *fakeHashes, _ *testingpkg.FakeClock) {
			h.err = errors.New("connection refused")
		}},
		{"missing field", func(o *Oracle, _ *fakeHashes, clock *testingpkg.FakeClock) {
			require.NoError(t, o.Publish(ctx, btc, Quote{At: clock.Now(), MarketCap: dec("5")}))
		}},
		{"malformed value", func(o *Oracle, h *fakeHashes, clock *testingpkg.FakeClock) {
			h.data[o.Key(btc)] = map[string]string{FieldPrice: "abc", FieldTimestamp: "1"}
		}},
		{"negative value", func(o *Oracle, h *fakeHashes, clock *testingpkg.FakeClock) {
			require.NoError(t, o.Publish(ctx, btc, Quote{At: clock.Now(), Price: dec("-1")}))
		}},
		{"missing timestamp", func(o *Oracle, h *fakeHashes, _ *testingpkg.FakeClock) {
			h.data[o.Key(btc)] = map[string]string{FieldPrice: "1"}
		}},
		{"stale", func(o *Oracle, _ *fakeHashes, clock *testingpkg.FakeClock) {
			require.NoError(t, o.Publish(ctx, btc, Quote{At: clock.Now().Add(-2 * time.Hour), Price: dec("1")}))
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o, h, clock := newOracle(time.Hour)
			tt.setup(o, h, clock)
			_, err := o.Price(ctx, btc)
			require.Error(t, err)
			assert.True(t, errors.Is(err, domain.ErrExternalDataUnavailable))
		})
	}
}

func TestOracle_ZeroIsAValue(t *testing.T) {
	o, _, clock := newOracle(0)
	ctx := context.Background()
	require.NoError(t, o.Publish(ctx, btc, Quote{At: clock.Now().Add(-48 * time.Hour), Volume: dec("0")}))

	vol, err := o.TrailingVolume(ctx, btc)
	require.NoError(t, err, "max age 0 disables the staleness check")
	assert.True(t, vol.IsZero())
}
