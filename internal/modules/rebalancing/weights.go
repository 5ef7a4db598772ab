package rebalancing

import (
	"fmt"
	"sort"

	"github.com/aristath/tierindex/internal/domain"
	"github.com/shopspring/decimal"
)

var bpScale = decimal.NewFromInt(domain.MaxWeightBP)

// NormalizeWeights turns non-negative values into basis-point weights summing
// to exactly 10000. Floors are assigned first and the leftover points go to the
// largest fractional remainders, ties to the lower asset id. All-zero input is
// split evenly the same way.
//
// A positive capBP limits any single weight. Points above the cap are spread
// over the uncapped assets in proportion to their values. When the cap cannot
// cover 10000 points across len(ids) assets it is raised to the even split.
func NormalizeWeights(ids []domain.AssetID, values []decimal.Decimal, capBP int) ([]int, error) {
	if len(ids) != len(values) {
		return nil, fmt.Errorf("%w: %d ids for %d values", domain.ErrInvalidParameter, len(ids), len(values))
	}
	if capBP < 0 || capBP > domain.MaxWeightBP {
		return nil, fmt.Errorf("%w: position cap %d bp", domain.ErrInvalidParameter, capBP)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	total := decimal.Zero
	for _, v := range values {
		if v.IsNegative() {
			return nil, fmt.Errorf("%w: negative weight input", domain.ErrInvalidParameter)
		}
		total = total.Add(v)
	}
	if total.IsZero() {
		values = make([]decimal.Decimal, len(ids))
		for i := range values {
			values[i] = decimal.NewFromInt(1)
		}
	}

	exact := capShares(values, effectiveCap(capBP, len(ids)))

	type share struct {
		idx       int
		remainder decimal.Decimal
	}
	weights := make([]int, len(ids))
	shares := make([]share, len(ids))
	assigned := 0
	for i, x := range exact {
		floor := x.Floor()
		weights[i] = int(floor.IntPart())
		assigned += weights[i]
		shares[i] = share{idx: i, remainder: x.Sub(floor)}
	}

	sort.SliceStable(shares, func(a, b int) bool {
		if !shares[a].remainder.Equal(shares[b].remainder) {
			return shares[a].remainder.GreaterThan(shares[b].remainder)
		}
		return ids[shares[a].idx] < ids[shares[b].idx]
	})
	for k := 0; assigned < domain.MaxWeightBP; k++ {
		weights[shares[k%len(shares)].idx]++
		assigned++
	}
	return weights, nil
}

// effectiveCap returns the cap actually applied to n weights, 0 for none
func effectiveCap(capBP, n int) int {
	if capBP == 0 || capBP >= domain.MaxWeightBP {
		return 0
	}
	if capBP*n < domain.MaxWeightBP {
		return (domain.MaxWeightBP + n - 1) / n
	}
	return capBP
}

// capShares returns the exact basis-point share of every value. Shares over
// capBP are pinned to it and the rest of the 10000 points is split again over
// the remaining values until none exceeds the cap.
func capShares(values []decimal.Decimal, capBP int) []decimal.Decimal {
	limit := decimal.NewFromInt(int64(capBP))
	capped := make([]bool, len(values))
	exact := make([]decimal.Decimal, len(values))
	for {
		remaining := bpScale
		free := decimal.Zero
		freeCount := 0
		for i, v := range values {
			if capped[i] {
				remaining = remaining.Sub(limit)
				continue
			}
			free = free.Add(v)
			freeCount++
		}
		changed := false
		for i, v := range values {
			if capped[i] {
				exact[i] = limit
				continue
			}
			if free.IsZero() {
				exact[i] = remaining.Div(decimal.NewFromInt(int64(freeCount)))
			} else {
				exact[i] = v.Mul(remaining).Div(free)
			}
			if capBP > 0 && exact[i].GreaterThan(limit) {
				capped[i] = true
				changed = true
			}
		}
		if !changed {
			return exact
		}
	}
}

// ClampAdjustments scales every adjustment by bound/sum when the sum of
// absolute adjustments exceeds bound. It returns the scaled amounts, the
// raw sum and the factor applied (1 when untouched).
func ClampAdjustments(raw []decimal.Decimal, bound decimal.Decimal) ([]decimal.Decimal, decimal.Decimal, decimal.Decimal) {
	sum := decimal.Zero
	for _, a := range raw {
		sum = sum.Add(a.Abs())
	}
	out := make([]decimal.Decimal, len(raw))
	if !sum.GreaterThan(bound) {
		copy(out, raw)
		return out, sum, decimal.NewFromInt(1)
	}
	factor := bound.Div(sum)
	for i, a := range raw {
		out[i] = a.Mul(bound).Div(sum).Truncate(StablePrecision)
	}
	return out, sum, factor
}

// SplitByWeights divides amount across weights in basis points. The last
// share takes whatever rounding left over, so the parts sum to amount.
func SplitByWeights(amount decimal.Decimal, weights []int) []decimal.Decimal {
	out := make([]decimal.Decimal, len(weights))
	if len(weights) == 0 {
		return out
	}
	total := 0
	for _, w := range weights {
		total += w
	}
	if total == 0 {
		out[len(out)-1] = amount
		return out
	}
	spent := decimal.Zero
	for i, w := range weights {
		if i == len(weights)-1 {
			out[i] = amount.Sub(spent)
			break
		}
		out[i] = amount.Mul(decimal.NewFromInt(int64(w))).Div(decimal.NewFromInt(int64(total))).Truncate(StablePrecision)
		spent = spent.Add(out[i])
	}
	return out
}
