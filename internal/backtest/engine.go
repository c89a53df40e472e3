// Package backtest replays the live decision pipeline over historical candles
// in walk-forward windows. It reuses the exact fusion, gate, and fill code the
// live engine runs, so a backtest admission is a live admission.
package backtest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"futures-decision-engine/internal/exchange"
	"futures-decision-engine/internal/fusion"
	"futures-decision-engine/internal/market"
	"futures-decision-engine/internal/model"
	"futures-decision-engine/internal/modes"
	"futures-decision-engine/internal/oracle"
	"futures-decision-engine/internal/riskgate"
)

// Config holds the walk-forward layout and the cost model. All costs are
// configuration inputs, never hardcoded.
type Config struct {
	Symbol           string  `json:"symbol" yaml:"symbol"`
	TrainBars        int     `json:"train_bars" yaml:"train_bars"`
	TestBars         int     `json:"test_bars" yaml:"test_bars"`
	StepBars         int     `json:"step_bars" yaml:"step_bars"`
	HorizonBars      int     `json:"horizon_bars" yaml:"horizon_bars"`
	FeeRoundTripFrac float64 `json:"fee_round_trip_frac" yaml:"fee_round_trip_frac"`
	SlipFrac         float64 `json:"slip_frac" yaml:"slip_frac"` // one-sided slippage per fill
	InitialEquity    float64 `json:"initial_equity" yaml:"initial_equity"`
	Workers          int     `json:"workers" yaml:"workers"` // <=1 runs windows sequentially
}

// Validate reports the first layout problem found.
func (c Config) Validate() error {
	if c.TrainBars <= 0 || c.TestBars <= 0 || c.StepBars <= 0 {
		return fmt.Errorf("train_bars, test_bars and step_bars must be positive")
	}
	if c.HorizonBars <= 0 {
		return fmt.Errorf("horizon_bars must be positive")
	}
	if c.InitialEquity <= 0 {
		return fmt.Errorf("initial_equity must be positive")
	}
	return nil
}

// WindowParams carries a per-window parameter set, typically the output of
// tuning on that window's in-sample span. Windows without an entry fall back
// to the simulator's base mode config.
type WindowParams struct {
	Index int              `json:"index"`
	Mode  modes.ModeConfig `json:"mode"`
}

type window struct {
	index    int
	start    int // in-sample start
	trainEnd int // first out-of-sample bar
	end      int // one past the last out-of-sample bar
}

// Simulator drives walk-forward replay of one symbol's candle history.
type Simulator struct {
	cfg       Config
	extractor *market.Extractor
	mdl       *model.Model
	base      modes.ModeConfig
	log       zerolog.Logger
}

// NewSimulator creates a simulator over one model and base mode config.
func NewSimulator(cfg Config, extractor *market.Extractor, mdl *model.Model, base modes.ModeConfig, log zerolog.Logger) (*Simulator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := base.Validate(); err != nil {
		return nil, err
	}
	return &Simulator{cfg: cfg, extractor: extractor, mdl: mdl, base: base, log: log}, nil
}

// windows lays out the walk-forward windows over n bars. The last partial
// window is dropped: a short out-of-sample span would bias the summary.
func (s *Simulator) windows(n int) []window {
	var out []window
	for start, idx := 0, 0; start+s.cfg.TrainBars+s.cfg.TestBars <= n; start, idx = start+s.cfg.StepBars, idx+1 {
		out = append(out, window{
			index:    idx,
			start:    start,
			trainEnd: start + s.cfg.TrainBars,
			end:      start + s.cfg.TrainBars + s.cfg.TestBars,
		})
	}
	return out
}

// Run replays all windows and compounds equity across them in window order.
// params entries override the base mode config per window index.
func (s *Simulator) Run(ctx context.Context, candles []market.Candle, params []WindowParams) (*Result, error) {
	wins := s.windows(len(candles))
	if len(wins) == 0 {
		return nil, fmt.Errorf("history too short: %d bars, need at least %d", len(candles), s.cfg.TrainBars+s.cfg.TestBars)
	}

	overrides := make(map[int]modes.ModeConfig, len(params))
	for _, p := range params {
		if err := p.Mode.Validate(); err != nil {
			return nil, fmt.Errorf("window %d params: %w", p.Index, err)
		}
		overrides[p.Index] = p.Mode
	}

	started := time.Now()
	perWindow := make([][]Trade, len(wins))

	if s.cfg.Workers > 1 {
		if err := s.runParallel(ctx, candles, wins, overrides, perWindow); err != nil {
			return nil, err
		}
	} else {
		for _, w := range wins {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			perWindow[w.index] = s.runWindow(candles, w, s.modeFor(w.index, overrides))
		}
	}

	return s.assemble(wins, perWindow, started), nil
}

// runParallel fans windows out over a bounded worker pool. Windows are
// independent by construction (fresh account state, no shared positions), so
// the only ordering requirement is reassembly by window index.
func (s *Simulator) runParallel(ctx context.Context, candles []market.Candle, wins []window, overrides map[int]modes.ModeConfig, perWindow [][]Trade) error {
	jobs := make(chan window)
	var wg sync.WaitGroup

	for i := 0; i < s.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for w := range jobs {
				perWindow[w.index] = s.runWindow(candles, w, s.modeFor(w.index, overrides))
			}
		}()
	}

	var err error
	for _, w := range wins {
		if err = ctx.Err(); err != nil {
			break
		}
		jobs <- w
	}
	close(jobs)
	wg.Wait()
	return err
}

func (s *Simulator) modeFor(index int, overrides map[int]modes.ModeConfig) modes.ModeConfig {
	if mc, ok := overrides[index]; ok {
		return mc
	}
	return s.base
}

// runWindow replays one window's out-of-sample span through the live decision
// pipeline: extract, score, fuse, gate, fill. The account state is fresh per
// window and runs on the bar clock, so cooldowns expire in bar time.
func (s *Simulator) runWindow(candles []market.Candle, w window, mc modes.ModeConfig) []Trade {
	barTime := candles[w.trainEnd].OpenTime
	acct := riskgate.NewAccountState(s.cfg.InitialEquity).WithClock(func() time.Time { return barTime })
	costs := fusion.Costs{
		RoundTripFeeBps: s.cfg.FeeRoundTripFrac * 10000,
		SlippageBps:     s.cfg.SlipFrac * 10000,
	}
	cooldown := time.Duration(mc.CooldownMinutes) * time.Minute

	var trades []Trade
	minBars := s.extractor.MinBars()

	for j := w.trainEnd; j < w.end-1; j++ {
		barTime = candles[j].OpenTime
		if j+1 < minBars {
			continue
		}

		fv, err := s.extractor.Extract(candles[:j+1], 0)
		if err != nil {
			continue
		}
		mcEff := mc.WithATROverrides(fv.ATRFrac)

		d := fusion.Fuse(fv, nil, s.mdl.Predict(fv), oracle.Neutral(), mcEff, costs)
		if d.Action == fusion.ActionSkip {
			continue
		}
		if v := riskgate.Admit(d, fv, mcEff, acct, 0); !v.Admitted {
			continue
		}

		// Fill at the next bar's open plus entry-side slippage.
		entryIdx := j + 1
		side := exchange.SideBuy
		dir := 1.0
		if d.Action == fusion.ActionSell {
			side = exchange.SideSell
			dir = -1
		}
		entry := candles[entryIdx].Open * (1 + dir*s.cfg.SlipFrac)

		pathEnd := entryIdx + s.cfg.HorizonBars
		if pathEnd > len(candles) {
			pathEnd = len(candles)
		}
		path := SimulatePath(candles[entryIdx:pathEnd], entry, side, mcEff)
		pnlNet := path.PnLFrac - s.cfg.FeeRoundTripFrac - s.cfg.SlipFrac

		exitIdx := entryIdx
		if path.Bars > 0 {
			exitIdx = entryIdx + path.Bars - 1
		}
		barTime = candles[exitIdx].OpenTime
		acct.RecordClose(pnlNet*acct.Equity(), pnlNet, mcEff.LossStreakLimit, cooldown)

		trades = append(trades, Trade{
			WindowIndex: w.index,
			Symbol:      s.cfg.Symbol,
			Mode:        mcEff.Name,
			Side:        side,
			EntryTime:   candles[entryIdx].OpenTime,
			ExitTime:    candles[exitIdx].OpenTime,
			EntryPrice:  entry,
			PnLFrac:     pnlNet,
			Reason:      path.Reason,
			Bars:        path.Bars,
			Confidence:  d.Confidence,
		})

		// No overlapping trades: resume scanning after the exit bar.
		j = exitIdx
	}
	return trades
}

// assemble flattens per-window trades in window order and compounds the
// equity curve across the whole run.
func (s *Simulator) assemble(wins []window, perWindow [][]Trade, started time.Time) *Result {
	res := &Result{
		RunID:         uuid.NewString(),
		Symbol:        s.cfg.Symbol,
		Mode:          s.base.Name,
		Windows:       len(wins),
		InitialEquity: s.cfg.InitialEquity,
		StartedAt:     started,
		FinishedAt:    time.Now(),
	}

	eq := s.cfg.InitialEquity
	for _, trades := range perWindow {
		for _, t := range trades {
			eq *= 1 + t.PnLFrac
			res.Trades = append(res.Trades, t)
			res.EquityCurve = append(res.EquityCurve, EquityPoint{Time: t.ExitTime, Equity: eq})
		}
	}

	s.log.Info().
		Str("run_id", res.RunID).
		Int("windows", res.Windows).
		Int("trades", len(res.Trades)).
		Float64("final_equity", eq).
		Msg("backtest run complete")
	return res
}
