package registry

import (
	"fmt"

	"github.com/aristath/tierindex/internal/domain"
)

// Distribution counts non-retired assets per tier
type Distribution struct {
	counts [5]int
}

// NewDistribution builds a distribution from stored counts, indexed by tier
func NewDistribution(counts map[domain.Tier]int) Distribution {
	var d Distribution
	for t, n := range counts {
		if t.Valid() {
			d.counts[t] = n
		}
	}
	return d
}

// Count returns the number of assets at tier t
func (d Distribution) Count(t domain.Tier) int {
	if !t.Valid() {
		return 0
	}
	return d.counts[t]
}

// Total returns the number of assets counted
func (d Distribution) Total() int {
	total := 0
	for _, n := range d.counts {
		total += n
	}
	return total
}

// Counts returns the per-tier counts keyed by tier
func (d Distribution) Counts() map[domain.Tier]int {
	out := make(map[domain.Tier]int, len(d.counts))
	for _, t := range domain.AllTiers {
		out[t] = d.counts[t]
	}
	return out
}

func (d *Distribution) add(t domain.Tier) {
	d.counts[t]++
}

func (d *Distribution) remove(t domain.Tier) error {
	if d.counts[t] == 0 {
		return fmt.Errorf("%w: distribution count for %s", domain.ErrUnderflow, t)
	}
	d.counts[t]--
	return nil
}

func (d *Distribution) move(from, to domain.Tier) error {
	if from == to {
		return nil
	}
	if err := d.remove(from); err != nil {
		return err
	}
	d.add(to)
	return nil
}
