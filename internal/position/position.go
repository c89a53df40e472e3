// Package position sizes entries and manages open positions through the
// TP1 -> breakeven -> TP2 lifecycle.
package position

import (
	"math"
	"time"

	"futures-decision-engine/internal/exchange"
)

// State of a managed position. Transitions only move forward:
// OPEN -> TP1_FILLED -> BREAKEVEN_ACTIVE -> CLOSED.
type State string

const (
	StateOpen            State = "OPEN"
	StateTP1Filled       State = "TP1_FILLED"
	StateBreakevenActive State = "BREAKEVEN_ACTIVE"
	StateClosed          State = "CLOSED"
)

var stateRank = map[State]int{
	StateOpen:            0,
	StateTP1Filled:       1,
	StateBreakevenActive: 2,
	StateClosed:          3,
}

// Position is one managed position. Mutated only by the Manager as fills are
// observed. At most one exists per (symbol, mode).
type Position struct {
	ID              string        `json:"id"`
	Symbol          string        `json:"symbol"`
	Mode            string        `json:"mode"`
	Side            exchange.Side `json:"side"`
	EntryPrice      float64       `json:"entry_price"`
	Qty             float64       `json:"qty"`
	RemainingQty    float64       `json:"remaining_qty"`
	State           State         `json:"state"`
	BreakevenActive bool          `json:"breakeven_active"`

	StopPrice float64 `json:"stop_price"`
	TP1Price  float64 `json:"tp1_price"`
	TP2Price  float64 `json:"tp2_price"`

	// Parameters frozen from the mode config at entry.
	SplitTP1  float64 `json:"split_tp1"`
	TrailFrac float64 `json:"trail_frac"`

	RealizedPnL      float64   `json:"realized_pnl"`
	PendingBreakeven bool      `json:"pending_breakeven"`
	OpenedAt         time.Time `json:"opened_at"`
}

// direction returns +1 for long, -1 for short.
func (p *Position) direction() float64 {
	if p.Side == exchange.SideBuy {
		return 1
	}
	return -1
}

// advance moves the state forward. Backward transitions are ignored.
func (p *Position) advance(next State) {
	if stateRank[next] > stateRank[p.State] {
		p.State = next
	}
}

// ClosedTrade is the record emitted when a position reaches CLOSED.
type ClosedTrade struct {
	PositionID string        `json:"position_id"`
	Symbol     string        `json:"symbol"`
	Mode       string        `json:"mode"`
	Side       exchange.Side `json:"side"`
	EntryPrice float64       `json:"entry_price"`
	ExitPrice  float64       `json:"exit_price"`
	Qty        float64       `json:"qty"`
	PnL        float64       `json:"pnl"`
	PnLFrac    float64       `json:"pnl_frac"` // PnL relative to entry notional
	Reason     string        `json:"reason"`
	OpenedAt   time.Time     `json:"opened_at"`
	ClosedAt   time.Time     `json:"closed_at"`
}

// FillOracle decides whether a working price level was reached given the
// price range observed since the last management pass.
//
// This is an explicit approximation layer: range touching stands in for
// authoritative execution reports. A reconciliation-based implementation can
// replace it without touching the state machine.
type FillOracle interface {
	// Filled reports whether target was reached. favorable marks
	// profit-direction levels (TPs); the stop is the unfavorable one.
	Filled(side exchange.Side, target float64, favorable bool, high, low float64) bool
}

// RangeTouch is the default fill oracle: a level counts as filled when the
// observed high/low range crosses it.
type RangeTouch struct{}

// Filled implements FillOracle.
func (RangeTouch) Filled(side exchange.Side, target float64, favorable bool, high, low float64) bool {
	above := (side == exchange.SideBuy) == favorable
	if above {
		return high >= target
	}
	return low <= target
}

// DynamicTrailing derives a trailing-stop fraction from volatility,
// clamped to [0.2%, 1.5%].
func DynamicTrailing(vol float64) float64 {
	v := math.Min(math.Max(vol, 0), 0.03)
	return math.Min(math.Max(0.002+20*v, 0.002), 0.015)
}
