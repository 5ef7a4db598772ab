package rebalancing

import (
	"context"
	"fmt"
	"time"

	"github.com/aristath/tierindex/internal/domain"
	"github.com/aristath/tierindex/internal/events"
	"github.com/shopspring/decimal"
)

// ExecuteResult summarizes one Execute call
type ExecuteResult struct {
	NextDueAt time.Time `json:"next_due_at,omitempty"`
	PlanID    string    `json:"plan_id,omitempty"`
	Executed  int       `json:"executed"`
	Cursor    int       `json:"cursor"`
	Total     int       `json:"total"`
	Started   bool      `json:"started"`
	Completed bool      `json:"completed"`
	Skipped   bool      `json:"skipped"`
}

// NextDue returns when the cadence next allows a new cycle
func (e *Engine) NextDue() time.Time {
	if e.state.LastRebalanceAt.IsZero() {
		return time.Time{}
	}
	return e.state.LastRebalanceAt.Add(e.cfg.Interval)
}

// Execute runs up to maxSteps instructions of the active journal, planning a
// new cycle first when none is in progress and the cadence allows it (or
// force is set). On a failed step it returns a *StepFailedError; the steps
// completed before it remain applied and a later call resumes at the failure.
func (e *Engine) Execute(ctx context.Context, maxSteps int, force bool) (ExecuteResult, error) {
	var res ExecuteResult
	if maxSteps < 1 {
		return res, fmt.Errorf("%w: max steps %d", domain.ErrInvalidParameter, maxSteps)
	}
	if e.swap == nil || e.staking == nil {
		return res, fmt.Errorf("%w: swap and staking services are required", domain.ErrInvalidParameter)
	}

	now := e.clock.Now()
	if e.state.Journal == nil {
		if next := e.NextDue(); !force && !next.IsZero() && now.Before(next) {
			res.Skipped = true
			res.NextDueAt = next
			return res, nil
		}
		plan, err := e.buildPlan(ctx)
		if err != nil {
			return res, err
		}
		e.state.Journal = NewJournal(plan, now)
		res.Started = true

		e.log.Info().
			Str("plan_id", plan.ID).
			Str("total_value", plan.TotalValue.String()).
			Int("instructions", len(plan.Instructions)).
			Int("zombies", len(plan.Zombies)).
			Bool("scaled", plan.Scaled).
			Msg("Rebalance planned")
		e.emit(events.RebalancePlanned, &events.RebalancePlannedData{
			PlanID:       plan.ID,
			TotalValue:   plan.TotalValue,
			Instructions: len(plan.Instructions),
			Zombies:      len(plan.Zombies),
			ScaleFactor:  plan.ScaleFactor,
		})
	}

	j := e.state.Journal
	res.PlanID = j.Plan.ID
	res.Total = len(j.Plan.Instructions)

	for res.Executed < maxSteps && !j.Done() {
		in := j.Plan.Instructions[j.Cursor]
		input, output, err := e.run(ctx, j, in)
		stepAt := e.clock.Now()
		j.UpdatedAt = stepAt
		if err != nil {
			j.Status = StatusFailed
			j.Outcomes = append(j.Outcomes, StepOutcome{Seq: in.Seq, At: stepAt, Input: input, Error: err.Error()})
			res.Cursor = j.Cursor

			e.log.Error().
				Err(err).
				Str("plan_id", j.Plan.ID).
				Int("step", in.Seq).
				Str("kind", string(in.Kind)).
				Uint32("asset_id", uint32(in.Asset)).
				Msg("Rebalance step failed")
			e.emit(events.RebalanceStepFailed, &events.RebalanceStepFailedData{
				PlanID: j.Plan.ID,
				Step:   in.Seq,
				Kind:   string(in.Kind),
				Asset:  in.Asset,
				Error:  err.Error(),
			})
			return res, &StepFailedError{Err: err, PlanID: j.Plan.ID, Kind: in.Kind, Step: in.Seq, Asset: in.Asset}
		}
		j.Outcomes = append(j.Outcomes, StepOutcome{Seq: in.Seq, At: stepAt, Input: input, Output: output, OK: true})
		j.Cursor++
		j.Status = StatusPartial
		res.Executed++
	}
	res.Cursor = j.Cursor

	if j.Done() {
		if err := e.complete(j); err != nil {
			return res, err
		}
		res.Completed = true
	}
	return res, nil
}

func (e *Engine) call(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, e.timeout)
}

// run executes one instruction and applies it to the books.
// It returns the amount sent and the amount received.
func (e *Engine) run(ctx context.Context, j *Journal, in Instruction) (decimal.Decimal, decimal.Decimal, error) {
	rec, err := e.registry.Get(in.Asset)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	key := rec.Key()

	switch in.Kind {
	case KindUnstake:
		amount := decimal.Min(in.Units, rec.Staked)
		if !amount.IsPositive() {
			return decimal.Zero, decimal.Zero, nil
		}
		callCtx, cancel := e.call(ctx)
		released, err := e.staking.Unstake(callCtx, key, amount)
		cancel()
		if err != nil {
			return amount, decimal.Zero, fmt.Errorf("failed to unstake: %w", err)
		}
		released = decimal.Min(released, rec.Staked)
		if err := e.registry.SetHoldings(in.Asset, rec.Quantity, rec.Staked.Sub(released)); err != nil {
			return amount, released, err
		}
		j.Unstaked[in.Asset] = j.Unstaked[in.Asset].Add(released)
		j.Unlocks[in.Asset] = e.clock.Now().Add(e.staking.CurrentLockDuration(rec.Tier))
		return amount, released, nil

	case KindLiquidate, KindDivest:
		free := rec.Quantity.Sub(rec.Staked)
		amount := free
		if in.Kind == KindDivest {
			amount = decimal.Min(in.Units, free)
		}
		if !amount.IsPositive() {
			return decimal.Zero, decimal.Zero, nil
		}
		callCtx, cancel := e.call(ctx)
		proceeds, err := e.swap.Liquidate(callCtx, key, amount)
		cancel()
		if err != nil {
			return amount, decimal.Zero, fmt.Errorf("failed to liquidate: %w", err)
		}
		if err := e.registry.SetHoldings(in.Asset, rec.Quantity.Sub(amount), rec.Staked); err != nil {
			return amount, proceeds, err
		}
		e.state.Reserve = e.state.Reserve.Add(proceeds)
		if in.Kind == KindLiquidate {
			j.Liquidated[in.Asset] = j.Liquidated[in.Asset].Add(amount)
			j.Proceeds[in.Asset] = j.Proceeds[in.Asset].Add(proceeds)
		}
		return amount, proceeds, nil

	case KindRedistribute, KindAcquire:
		amount := in.Stable
		if in.Kind == KindRedistribute {
			proceeds := j.Proceeds[in.Zombie]
			if in.Last {
				amount = proceeds.Sub(j.Distributed[in.Zombie])
			} else {
				amount = proceeds.Mul(decimal.NewFromInt(int64(in.ShareBP))).Div(bpScale).Truncate(StablePrecision)
			}
		}
		amount = decimal.Min(amount, e.state.Reserve)
		if !amount.IsPositive() {
			return decimal.Zero, decimal.Zero, nil
		}
		callCtx, cancel := e.call(ctx)
		received, err := e.swap.Acquire(callCtx, key, amount)
		cancel()
		if err != nil {
			return amount, decimal.Zero, fmt.Errorf("failed to acquire: %w", err)
		}
		if err := e.registry.SetHoldings(in.Asset, rec.Quantity.Add(received), rec.Staked); err != nil {
			return amount, received, err
		}
		e.state.Reserve = e.state.Reserve.Sub(amount)
		if in.Kind == KindRedistribute {
			j.Distributed[in.Zombie] = j.Distributed[in.Zombie].Add(amount)
		}
		return amount, received, nil
	}
	return decimal.Zero, decimal.Zero, fmt.Errorf("%w: instruction kind %q", domain.ErrInvalidParameter, in.Kind)
}

// complete writes target weights, retires emptied zombies and closes the journal
func (e *Engine) complete(j *Journal) error {
	now := e.clock.Now()
	plan := j.Plan

	weights := make(map[domain.AssetID]int, len(plan.Targets))
	for _, t := range plan.Targets {
		weights[t.Asset] = t.WeightBP
	}
	for _, rec := range e.registry.Active() {
		if err := e.registry.SetWeight(rec.ID, weights[rec.ID]); err != nil {
			return err
		}
	}

	for _, z := range plan.Zombies {
		rec, err := e.registry.Get(z.Asset)
		if err != nil {
			return err
		}
		if !z.RetireOnly {
			e.log.Info().
				Uint32("asset_id", uint32(z.Asset)).
				Str("recovered", j.Proceeds[z.Asset].String()).
				Msg("Zombie asset liquidated")
			e.emit(events.ZombieAssetLiquidated, &events.ZombieAssetLiquidatedData{
				ID:             z.Asset,
				Unstaked:       j.Unstaked[z.Asset],
				Liquidated:     j.Liquidated[z.Asset],
				Recovered:      j.Proceeds[z.Asset],
				Targets:        z.Targets,
				ExpectedUnlock: j.Unlocks[z.Asset],
			})
		}
		if rec.Retired || rec.Held() || rec.Tier != domain.TierNone {
			continue
		}
		if err := e.registry.Retire(z.Asset, now); err != nil {
			return err
		}
		e.emit(events.AssetRetired, &events.AssetRetiredData{ID: z.Asset, Reason: "zombie_liquidated"})
	}

	j.Status = StatusCompleted
	j.UpdatedAt = now
	e.state.LastRebalanceAt = now
	e.state.LastJournal = j
	e.state.Journal = nil

	e.log.Info().
		Str("plan_id", plan.ID).
		Int("steps", len(plan.Instructions)).
		Str("reserve", e.state.Reserve.String()).
		Msg("Rebalance completed")
	e.emit(events.RebalanceCompleted, &events.RebalanceCompletedData{PlanID: plan.ID, Steps: len(plan.Instructions)})
	return nil
}

// Abandon drops the active journal without executing the remaining steps
func (e *Engine) Abandon() bool {
	if e.state.Journal == nil {
		return false
	}
	j := e.state.Journal
	j.Status = StatusFailed
	j.UpdatedAt = e.clock.Now()
	e.state.LastJournal = j
	e.state.Journal = nil
	e.log.Warn().Str("plan_id", j.Plan.ID).Int("cursor", j.Cursor).Msg("Rebalance journal abandoned")
	return true
}

// Journal returns the active journal, if any
func (e *Engine) Journal() *Journal {
	return e.state.Journal
}
