package position

import (
	"fmt"
	"math"

	"futures-decision-engine/internal/exchange"
	"futures-decision-engine/internal/modes"
)

// ComputeQty sizes an entry from equity and the mode's risk budget, rounded
// down to the instrument's quantity step. Typed errors surface orders the
// exchange would reject so no position state is created for them.
func ComputeQty(equity, entryPrice float64, mc modes.ModeConfig, meta exchange.InstrumentMeta) (float64, error) {
	if entryPrice <= 0 {
		return 0, fmt.Errorf("non-positive entry price %.8f", entryPrice)
	}
	if equity <= 0 {
		return 0, fmt.Errorf("non-positive equity %.2f", equity)
	}

	lev := float64(mc.EffectiveLeverage())
	qty := equity * mc.RiskFraction * lev / entryPrice * (1 - mc.SafetyBuffer)
	qty = RoundToStep(qty, meta.QtyStep)

	if qty <= 0 {
		return 0, exchange.ErrQtyBelowStep
	}
	if meta.MinNotional > 0 && qty*entryPrice < meta.MinNotional {
		return 0, exchange.ErrBelowMinNotional
	}
	return qty, nil
}

// RoundToStep rounds qty down to a multiple of step. Zero step returns qty
// unchanged.
func RoundToStep(qty, step float64) float64 {
	if step <= 0 {
		return qty
	}
	// Tiny epsilon keeps 0.3/0.1 from rounding to 0.2.
	return math.Floor(qty/step+1e-9) * step
}

// RoundToTick rounds a price to the instrument's tick size.
func RoundToTick(price, tick float64) float64 {
	if tick <= 0 {
		return price
	}
	return math.Round(price/tick) * tick
}
