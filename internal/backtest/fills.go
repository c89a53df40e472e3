package backtest

import (
	"futures-decision-engine/internal/exchange"
	"futures-decision-engine/internal/market"
	"futures-decision-engine/internal/modes"
	"futures-decision-engine/internal/position"
)

// PathResult is the outcome of walking one trade forward through the bars.
type PathResult struct {
	Reason       string    // stop_loss, take_profit, breakeven, horizon
	Bars         int       // bars consumed including the exit bar
	PnLFrac      float64   // gross PnL relative to entry notional, before costs
	QtyFractions []float64 // partial-fill fractions, sum <= 1.0
}

// SimulatePath replays the live TP1 -> breakeven -> TP2 state machine over
// future bars. When one bar's range crosses both the stop and a take-profit,
// the stop is assumed to trigger first. This is an assumption, not verified
// exchange behavior.
func SimulatePath(bars []market.Candle, entry float64, side exchange.Side, mc modes.ModeConfig) PathResult {
	dir := 1.0
	if side == exchange.SideSell {
		dir = -1
	}

	stop := entry * (1 - dir*mc.SLFrac)
	tp1 := entry * (1 + dir*mc.TPFrac*mc.TPSplit.BreakevenTrigger)
	tp2 := entry * (1 + dir*mc.TPFrac)
	splitTP1 := mc.TPSplit.TP1

	fills := position.RangeTouch{}
	realized := 0.0
	remaining := 1.0
	tp1Done := false
	var fractions []float64

	for i, bar := range bars {
		// Stop first: conservative tie-break.
		if fills.Filled(side, stop, false, bar.High, bar.Low) {
			realized += (stop - entry) * dir * remaining / entry
			fractions = append(fractions, remaining)
			reason := "stop_loss"
			if tp1Done {
				reason = "breakeven"
			}
			return PathResult{Reason: reason, Bars: i + 1, PnLFrac: realized, QtyFractions: fractions}
		}

		if !tp1Done && fills.Filled(side, tp1, true, bar.High, bar.Low) {
			realized += (tp1 - entry) * dir * splitTP1 / entry
			fractions = append(fractions, splitTP1)
			remaining -= splitTP1
			stop = entry // breakeven shift
			tp1Done = true
		}

		// TP2 is tested against the same bar a TP1 fill came from, matching
		// the live management pass.
		if tp1Done && fills.Filled(side, tp2, true, bar.High, bar.Low) {
			realized += (tp2 - entry) * dir * remaining / entry
			fractions = append(fractions, remaining)
			return PathResult{Reason: "take_profit", Bars: i + 1, PnLFrac: realized, QtyFractions: fractions}
		}
	}

	// Horizon exhausted: flatten at the last close.
	if len(bars) == 0 {
		return PathResult{Reason: "horizon", PnLFrac: 0, QtyFractions: nil}
	}
	last := bars[len(bars)-1].Close
	realized += (last - entry) * dir * remaining / entry
	fractions = append(fractions, remaining)
	return PathResult{Reason: "horizon", Bars: len(bars), PnLFrac: realized, QtyFractions: fractions}
}
