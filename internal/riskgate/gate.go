package riskgate

import (
	"futures-decision-engine/internal/fusion"
	"futures-decision-engine/internal/market"
	"futures-decision-engine/internal/modes"
)

// Reason is a machine-readable rejection code. Gate rejections are normal
// outcomes, not errors; every rejection names its specific check.
type Reason string

const (
	ReasonCooldown         Reason = "cooldown"
	ReasonDailyLossLimit   Reason = "daily_loss_limit"
	ReasonMaxPositions     Reason = "max_positions"
	ReasonLowConfidence    Reason = "low_confidence"
	ReasonInsufficientEdge Reason = "insufficient_edge"
	ReasonVolGate          Reason = "vol_gate"
	ReasonSpreadGate       Reason = "spread_gate"
)

// Verdict is the gate outcome for one decision.
type Verdict struct {
	Admitted bool   `json:"admitted"`
	Reason   Reason `json:"reason,omitempty"`
}

func admit() Verdict          { return Verdict{Admitted: true} }
func reject(r Reason) Verdict { return Verdict{Reason: r} }

// Breaker reports whether a rejection reason is an account-level breaker trip
// (trading paused) rather than a per-tick gate miss. Operators need to tell
// "no good trade this tick" apart from "trading is paused".
func (r Reason) Breaker() bool {
	return r == ReasonCooldown || r == ReasonDailyLossLimit
}

// Admit runs the ordered admission checks; the first failure wins. Cheap
// account-level checks run before the per-decision ones. A daily-loss breach
// also flips the account into the paused state until the next day boundary.
func Admit(d fusion.Decision, fv market.FeatureVector, mc modes.ModeConfig, acct *AccountState, openPositions int) Verdict {
	snap := acct.Snapshot()

	if acct.CooldownActive() {
		return reject(ReasonCooldown)
	}

	if snap.Paused || snap.DailyPnLFrac <= -mc.DailyMaxLossFrac {
		if !snap.Paused {
			acct.Pause()
		}
		return reject(ReasonDailyLossLimit)
	}

	if openPositions >= mc.MaxOpenPositions {
		return reject(ReasonMaxPositions)
	}

	if d.Confidence < mc.ConfidenceThreshold {
		return reject(ReasonLowConfidence)
	}

	if d.ExpectedValueBps < mc.MinEdgeBps {
		return reject(ReasonInsufficientEdge)
	}

	if fv.VolatilityFrac < mc.VolGateLo || fv.VolatilityFrac > mc.VolGateHi {
		return reject(ReasonVolGate)
	}

	if mc.SpreadLimitBps > 0 && fv.SpreadBps > mc.SpreadLimitBps {
		return reject(ReasonSpreadGate)
	}

	return admit()
}
