package rebalancing

import (
	"fmt"
	"time"

	"github.com/aristath/tierindex/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/vmihailenco/msgpack/v5"
)

// EncodeJournal serializes a journal for storage; nil encodes to nil
func EncodeJournal(j *Journal) ([]byte, error) {
	if j == nil {
		return nil, nil
	}
	data, err := msgpack.Marshal(j)
	if err != nil {
		return nil, fmt.Errorf("failed to encode journal: %w", err)
	}
	return data, nil
}

// DecodeJournal restores a journal written by EncodeJournal; empty input is nil
func DecodeJournal(data []byte) (*Journal, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var j Journal
	if err := msgpack.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("failed to decode journal: %w", err)
	}
	for _, m := range []*map[domain.AssetID]decimal.Decimal{&j.Unstaked, &j.Liquidated, &j.Proceeds, &j.Distributed} {
		if *m == nil {
			*m = make(map[domain.AssetID]decimal.Decimal)
		}
	}
	if j.Unlocks == nil {
		j.Unlocks = make(map[domain.AssetID]time.Time)
	}
	return &j, nil
}
