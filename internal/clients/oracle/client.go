// Package oracle reads market data published to Redis by an external price feed.
//
// Each asset is a hash at "{prefix}:{provider}:{underlying}" with the fields
// price, market_cap, volume (decimal strings) and ts (Unix nanoseconds).
package oracle

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/aristath/tierindex/internal/domain"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Hash fields
const (
	FieldPrice     = "price"
	FieldMarketCap = "market_cap"
	FieldVolume    = "volume"
	FieldTimestamp = "ts"
)

// DefaultCacheTTL is how long a fetched hash is reused across the three
// metric reads of one classification
const DefaultCacheTTL = 2 * time.Second

// ClientConfig holds connection parameters for the Redis client
type ClientConfig struct {
	Addr       string
	Password   string
	DB         int
	TLSEnabled bool
}

// Dial creates a Redis client and pings it
func Dial(ctx context.Context, cfg ClientConfig) (*redis.Client, error) {
	opts := &redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
	if cfg.TLSEnabled {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	return rdb, nil
}

// HashStore is the subset of the Redis API the oracle uses
type HashStore interface {
	HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd
	HSet(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
}

// Quote is one published observation
type Quote struct {
	At        time.Time
	Price     *decimal.Decimal
	MarketCap *decimal.Decimal
	Volume    *decimal.Decimal
}

type cached struct {
	quote     Quote
	fetchedAt time.Time
}

// Oracle implements domain.PriceOracle over Redis hashes
type Oracle struct {
	rdb    HashStore
	prefix string
	maxAge time.Duration
	ttl    time.Duration
	clock  domain.Clock
	log    zerolog.Logger

	mu    sync.Mutex
	cache map[string]cached
}

// Config tunes the oracle
type Config struct {
	KeyPrefix string
	// MaxAge is the oldest observation still served; older hashes are unavailable
	MaxAge   time.Duration
	CacheTTL time.Duration
}

// New creates an oracle reading from rdb
func New(rdb HashStore, cfg Config, clock domain.Clock, log zerolog.Logger) *Oracle {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "oracle"
	}
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = DefaultCacheTTL
	}
	if clock == nil {
		clock = domain.SystemClock{}
	}
	return &Oracle{
		rdb:    rdb,
		prefix: cfg.KeyPrefix,
		maxAge: cfg.MaxAge,
		ttl:    cfg.CacheTTL,
		clock:  clock,
		log:    log.With().Str("client", "redis-oracle").Logger(),
		cache:  make(map[string]cached),
	}
}

// Key returns the hash key of an asset
func (o *Oracle) Key(asset domain.AssetKey) string {
	return o.prefix + ":" + asset.Provider + ":" + asset.Underlying
}

// Price implements domain.PriceOracle
func (o *Oracle) Price(ctx context.Context, asset domain.AssetKey) (decimal.Decimal, error) {
	return o.field(ctx, asset, FieldPrice, func(q Quote) *decimal.Decimal { return q.Price })
}

// MarketCap implements domain.PriceOracle
func (o *Oracle) MarketCap(ctx context.Context, asset domain.AssetKey) (decimal.Decimal, error) {
	return o.field(ctx, asset, FieldMarketCap, func(q Quote) *decimal.Decimal { return q.MarketCap })
}

// TrailingVolume implements domain.PriceOracle
func (o *Oracle) TrailingVolume(ctx context.Context, asset domain.AssetKey) (decimal.Decimal, error) {
	return o.field(ctx, asset, FieldVolume, func(q Quote) *decimal.Decimal { return q.Volume })
}

func (o *Oracle) field(ctx context.Context, asset domain.AssetKey, name string, pick func(Quote) *decimal.Decimal) (decimal.Decimal, error) {
	q, err := o.Quote(ctx, asset)
	if err != nil {
		return decimal.Zero, err
	}
	v := pick(q)
	if v == nil {
		return decimal.Zero, fmt.Errorf("%w: %s missing for %s", domain.ErrExternalDataUnavailable, name, o.Key(asset))
	}
	return *v, nil
}

// Quote fetches the current hash of an asset. Missing, malformed and stale
// hashes are reported as domain.ErrExternalDataUnavailable.
func (o *Oracle) Quote(ctx context.Context, asset domain.AssetKey) (Quote, error) {
	key := o.Key(asset)
	now := o.clock.Now()

	o.mu.Lock()
	if c, ok := o.cache[key]; ok && now.Sub(c.fetchedAt) < o.ttl {
		o.mu.Unlock()
		return c.quote, nil
	}
	o.mu.Unlock()

	vals, err := o.rdb.HGetAll(ctx, key).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return Quote{}, fmt.Errorf("%w: redis: get %s: %v", domain.ErrExternalDataUnavailable, key, err)
	}
	if len(vals) == 0 {
		return Quote{}, fmt.Errorf("%w: no quote for %s", domain.ErrExternalDataUnavailable, key)
	}

	q, err := parseQuote(vals)
	if err != nil {
		o.log.Warn().Err(err).Str("key", key).Msg("Malformed oracle hash")
		return Quote{}, fmt.Errorf("%w: %s: %v", domain.ErrExternalDataUnavailable, key, err)
	}
	if o.maxAge > 0 && now.Sub(q.At) > o.maxAge {
		return Quote{}, fmt.Errorf("%w: quote for %s is %s old", domain.ErrExternalDataUnavailable, key, now.Sub(q.At).Round(time.Second))
	}

	o.mu.Lock()
	o.cache[key] = cached{quote: q, fetchedAt: now}
	o.mu.Unlock()
	return q, nil
}

// Publish writes a quote for an asset. Nil fields are left untouched.
func (o *Oracle) Publish(ctx context.Context, asset domain.AssetKey, q Quote) error {
	key := o.Key(asset)
	fields := map[string]interface{}{
		FieldTimestamp: strconv.FormatInt(q.At.UnixNano(), 10),
	}
	if q.Price != nil {
		fields[FieldPrice] = q.Price.String()
	}
	if q.MarketCap != nil {
		fields[FieldMarketCap] = q.MarketCap.String()
	}
	if q.Volume != nil {
		fields[FieldVolume] = q.Volume.String()
	}
	if err := o.rdb.HSet(ctx, key, fields).Err(); err != nil {
		return fmt.Errorf("redis: publish %s: %w", key, err)
	}

	o.mu.Lock()
	delete(o.cache, key)
	o.mu.Unlock()
	return nil
}

func parseQuote(vals map[string]string) (Quote, error) {
	var q Quote
	ts, ok := vals[FieldTimestamp]
	if !ok {
		return q, fmt.Errorf("missing %s", FieldTimestamp)
	}
	nanos, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return q, fmt.Errorf("parse %s: %w", FieldTimestamp, err)
	}
	q.At = time.Unix(0, nanos).UTC()

	for name, dst := range map[string]**decimal.Decimal{
		FieldPrice:     &q.Price,
		FieldMarketCap: &q.MarketCap,
		FieldVolume:    &q.Volume,
	} {
		raw, ok := vals[name]
		if !ok {
			continue
		}
		v, err := decimal.NewFromString(raw)
		if err != nil {
			return q, fmt.Errorf("parse %s: %w", name, err)
		}
		if v.IsNegative() {
			return q, fmt.Errorf("negative %s", name)
		}
		*dst = &v
	}
	return q, nil
}

var _ domain.PriceOracle = (*Oracle)(nil)
