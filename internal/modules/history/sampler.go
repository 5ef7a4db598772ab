package history

import (
	"context"
	"errors"
	"fmt"

	"github.com/aristath/tierindex/internal/domain"
	"github.com/aristath/tierindex/internal/events"
	"github.com/aristath/tierindex/internal/modules/marketdata"
	"github.com/aristath/tierindex/internal/modules/registry"
	"github.com/rs/zerolog"
)

// SampleResult summarizes one sampling batch
type SampleResult struct {
	Unavailable []domain.AssetID `json:"unavailable,omitempty"`
	Sampled     int              `json:"sampled"`
	Done        bool             `json:"done"`
}

// Sampler appends live observations to a Store
type Sampler struct {
	store    *Store
	registry *registry.Registry
	fetcher  *marketdata.Fetcher
	clock    domain.Clock
	emitter  events.Emitter
	log      zerolog.Logger
}

// NewSampler creates a sampler
func NewSampler(store *Store, reg *registry.Registry, fetcher *marketdata.Fetcher, clock domain.Clock, emitter events.Emitter, log zerolog.Logger) *Sampler {
	return &Sampler{
		store:    store,
		registry: reg,
		fetcher:  fetcher,
		clock:    clock,
		emitter:  emitter,
		log:      log.With().Str("service", "history").Logger(),
	}
}

// SampleMetrics samples up to maxBatch active assets, resuming where the
// previous batch stopped. Assets without data are skipped and reported.
func (s *Sampler) SampleMetrics(ctx context.Context, maxBatch int) (SampleResult, error) {
	var res SampleResult
	if maxBatch < 1 {
		return res, fmt.Errorf("%w: max batch %d", domain.ErrInvalidParameter, maxBatch)
	}

	now := s.clock.Now()
	active := s.registry.Active()
	visited := 0
	next := domain.AssetID(0)
	for _, rec := range active {
		if rec.ID < s.store.Cursor {
			continue
		}
		if visited >= maxBatch {
			next = rec.ID
			break
		}
		visited++

		sample, err := s.fetcher.Sample(ctx, rec.Key(), now)
		if err != nil {
			if !errors.Is(err, domain.ErrExternalDataUnavailable) {
				return res, err
			}
			res.Unavailable = append(res.Unavailable, rec.ID)
			continue
		}
		s.store.Append(rec.ID, sample)
		res.Sampled++
	}

	s.store.Cursor = next
	res.Done = next == 0

	if len(res.Unavailable) > 0 {
		s.log.Warn().Int("unavailable", len(res.Unavailable)).Msg("Some assets could not be sampled")
	}
	if s.emitter != nil {
		s.emitter.EmitTyped(events.MetricsSampled, "history", &events.MetricsSampledData{
			Sampled:     res.Sampled,
			Unavailable: res.Unavailable,
			Done:        res.Done,
		})
	}
	return res, nil
}
