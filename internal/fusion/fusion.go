// Package fusion combines the feature extractor, signal model, and opinion
// oracle outputs into a single trade decision.
//
// Fuse is a pure function of its inputs so the same code backs live decisions
// and backtest replay.
package fusion

import (
	"futures-decision-engine/internal/market"
	"futures-decision-engine/internal/model"
	"futures-decision-engine/internal/modes"
	"futures-decision-engine/internal/oracle"
)

// Action is the decision outcome.
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
	ActionSkip Action = "SKIP"
)

// SkipReason explains a SKIP produced by fusion itself, before the risk gate.
type SkipReason string

const (
	SkipNone      SkipReason = ""
	SkipDeadZone  SkipReason = "dead_zone"
	SkipConsensus SkipReason = "no_consensus"
	// SkipVeto is applied by the engine when the advisor confirmation rejects
	// an otherwise admitted entry. Fusion itself never produces it.
	SkipVeto SkipReason = "llm_veto"
)

// Decision is produced once per tick and never mutated afterward.
type Decision struct {
	Action           Action     `json:"action"`
	Confidence       float64    `json:"confidence"`
	ExpectedValueBps float64    `json:"expected_value_bps"`
	Mode             string     `json:"mode"`
	SkipReason       SkipReason `json:"skip_reason,omitempty"`
}

// Costs holds the transaction cost assumptions used in the expected-value
// estimate. Configuration inputs, never hardcoded.
type Costs struct {
	RoundTripFeeBps float64 `json:"round_trip_fee_bps"`
	SlippageBps     float64 `json:"slippage_bps"`
}

// Confidence down-weighting applied when the oracle is unavailable: the
// composite must not look as certain without its second signal.
const unavailableOpinionDiscount = 0.9

// Fuse combines the model probability and oracle bias into one decision.
// higher is the higher-timeframe feature set for modes requiring consensus;
// nil skips the check.
func Fuse(fv market.FeatureVector, higher *market.FeatureVector, sig model.Signal, op oracle.Opinion, mc modes.ModeConfig, costs Costs) Decision {
	// Consensus short-circuits before any scoring.
	if mc.RequireConsensus && higher != nil && !ConsensusOK(fv, *higher) {
		return Decision{Action: ActionSkip, Mode: mc.Name, SkipReason: SkipConsensus}
	}

	composite := composite(sig, op, mc)

	dist := composite - 0.5
	if abs(dist) <= mc.DeadZone {
		return Decision{Action: ActionSkip, Mode: mc.Name, SkipReason: SkipDeadZone}
	}

	action := ActionBuy
	confidence := composite
	if dist < 0 {
		action = ActionSell
		confidence = 1 - composite
	}

	if !op.Available {
		confidence *= unavailableOpinionDiscount
	}

	return Decision{
		Action:           action,
		Confidence:       confidence,
		ExpectedValueBps: ExpectedValueBps(confidence, mc, costs, fv.SpreadBps),
		Mode:             mc.Name,
	}
}

// composite blends the model probability with the oracle bias. The oracle's
// share of the remaining weight is scaled by its own confidence, so a shaky
// opinion barely moves the needle and an unavailable one not at all.
func composite(sig model.Signal, op oracle.Opinion, mc modes.ModeConfig) float64 {
	wm := mc.ModelWeight
	if wm <= 0 || wm > 1 {
		wm = 0.7
	}

	wo := 0.0
	bias := 0.5
	if op.Available {
		wo = (1 - wm) * op.Confidence
		bias = op.Bias
	}
	if wm+wo == 0 {
		return 0.5
	}
	return (wm*sig.Probability + wo*bias) / (wm + wo)
}

// ExpectedValueBps is the single authoritative profitability estimate:
// p*tp - (1-p)*sl - fees - slippage - spread, in basis points.
func ExpectedValueBps(p float64, mc modes.ModeConfig, costs Costs, spreadBps float64) float64 {
	tpBps := mc.TPFrac * 10000
	slBps := mc.SLFrac * 10000
	return p*tpBps - (1-p)*slBps - costs.RoundTripFeeBps - costs.SlippageBps - spreadBps
}

// ConsensusOK reports whether the primary and higher-timeframe feature sets
// agree on direction. Flat higher-timeframe trend counts as disagreement: a
// consensus mode wants confirmation, not absence of contradiction.
func ConsensusOK(primary, higher market.FeatureVector) bool {
	if primary.TrendScore == 0 || higher.TrendScore == 0 {
		return false
	}
	return (primary.TrendScore > 0) == (higher.TrendScore > 0)
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
