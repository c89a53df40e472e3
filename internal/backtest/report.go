package backtest

import (
	"time"

	"futures-decision-engine/internal/exchange"
)

// Trade is one simulated out-of-sample trade.
type Trade struct {
	WindowIndex int           `json:"window_index"`
	Symbol      string        `json:"symbol"`
	Mode        string        `json:"mode"`
	Side        exchange.Side `json:"side"`
	EntryTime   time.Time     `json:"entry_time"`
	ExitTime    time.Time     `json:"exit_time"`
	EntryPrice  float64       `json:"entry_price"`
	PnLFrac     float64       `json:"pnl_frac"` // net of fees and slippage
	Reason      string        `json:"reason"`
	Bars        int           `json:"bars"`
	Confidence  float64       `json:"confidence"`
}

// EquityPoint is one point of the compounded equity curve.
type EquityPoint struct {
	Time   time.Time `json:"time"`
	Equity float64   `json:"equity"`
}

// Result is the full output of one walk-forward run.
type Result struct {
	RunID         string        `json:"run_id"`
	Symbol        string        `json:"symbol"`
	Mode          string        `json:"mode"`
	Windows       int           `json:"windows"`
	InitialEquity float64       `json:"initial_equity"`
	Trades        []Trade       `json:"trades"`
	EquityCurve   []EquityPoint `json:"equity_curve"`
	StartedAt     time.Time     `json:"started_at"`
	FinishedAt    time.Time     `json:"finished_at"`
}

// Summary is the aggregate view derived from a Result.
type Summary struct {
	Trades          int            `json:"trades"`
	Wins            int            `json:"wins"`
	Losses          int            `json:"losses"`
	WinRate         float64        `json:"win_rate"`
	TotalPnLFrac    float64        `json:"total_pnl_frac"` // compounded return
	MaxDrawdownFrac float64        `json:"max_drawdown_frac"`
	FinalEquity     float64        `json:"final_equity"`
	ByReason        map[string]int `json:"by_reason"`
}

// Summarize derives the aggregate metrics from the trade list and equity
// curve. Pure function of the result.
func (r *Result) Summarize() Summary {
	s := Summary{
		FinalEquity: r.InitialEquity,
		ByReason:    make(map[string]int),
	}

	for _, t := range r.Trades {
		s.Trades++
		if t.PnLFrac > 0 {
			s.Wins++
		} else {
			s.Losses++
		}
		s.ByReason[t.Reason]++
	}
	if s.Trades > 0 {
		s.WinRate = float64(s.Wins) / float64(s.Trades)
	}

	peak := r.InitialEquity
	for _, p := range r.EquityCurve {
		if p.Equity > peak {
			peak = p.Equity
		}
		if peak > 0 {
			if dd := (peak - p.Equity) / peak; dd > s.MaxDrawdownFrac {
				s.MaxDrawdownFrac = dd
			}
		}
		s.FinalEquity = p.Equity
	}
	if r.InitialEquity > 0 {
		s.TotalPnLFrac = s.FinalEquity/r.InitialEquity - 1
	}
	return s
}
