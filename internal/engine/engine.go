// Package engine runs the live decision loop: feature extraction, model
// scoring, opinion fusion, risk admission, sizing, and position management.
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"futures-decision-engine/internal/exchange"
	"futures-decision-engine/internal/fusion"
	"futures-decision-engine/internal/market"
	"futures-decision-engine/internal/metrics"
	"futures-decision-engine/internal/model"
	"futures-decision-engine/internal/modes"
	"futures-decision-engine/internal/oracle"
	"futures-decision-engine/internal/position"
	"futures-decision-engine/internal/riskgate"
	"futures-decision-engine/internal/store"
)

// Config holds the engine loop settings.
type Config struct {
	Symbols        []string      `yaml:"symbols"`
	TickInterval   time.Duration `yaml:"tick_interval"`
	ManageInterval time.Duration `yaml:"manage_interval"`
	HistoryBars    int           `yaml:"history_bars"`
	// EquityFloor is the real-environment safety floor: equity at or below it
	// forces the engine back onto testnet.
	EquityFloor float64      `yaml:"equity_floor"`
	Costs       fusion.Costs `yaml:"costs"`
}

// Engine owns the decision loop for a set of symbols. One position per
// (symbol, mode); the manager enforces it, the engine never retries an
// admission within the same tick.
type Engine struct {
	cfg       Config
	flags     *modes.Flags
	modeStore *modes.Store
	extractor *market.Extractor
	models    map[string]*model.Model // keyed by mode name
	oracle    *oracle.Client
	client    exchange.TradingClient
	acct      *riskgate.AccountState
	mgr       *position.Manager
	cache     *store.PositionCache
	repo      *store.Repository // nil disables trade persistence
	log       zerolog.Logger

	events EventSink

	mu      sync.Mutex
	primary map[string]*market.Series
	higher  map[string]*market.Series
	spreads map[string]float64
}

// EventSink receives engine events for the operator feed. Implementations must
// not block.
type EventSink interface {
	Publish(typ string, data interface{})
}

type decisionEvent struct {
	Symbol   string          `json:"symbol"`
	Decision fusion.Decision `json:"decision"`
}

// SetEventSink registers the operator event feed. Optional; call before Run.
func (e *Engine) SetEventSink(sink EventSink) { e.events = sink }

func (e *Engine) publish(typ string, data interface{}) {
	if e.events != nil {
		e.events.Publish(typ, data)
	}
}

// New wires the engine. The manager's close callback is registered here so
// every closed trade updates account risk state, metrics, and persistence in
// one place.
func New(cfg Config, flags *modes.Flags, modeStore *modes.Store, extractor *market.Extractor,
	models map[string]*model.Model, oc *oracle.Client, client exchange.TradingClient,
	acct *riskgate.AccountState, mgr *position.Manager, cache *store.PositionCache,
	repo *store.Repository, log zerolog.Logger) *Engine {

	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 15 * time.Second
	}
	if cfg.ManageInterval <= 0 {
		cfg.ManageInterval = 5 * time.Second
	}
	if cfg.HistoryBars <= 0 {
		cfg.HistoryBars = 500
	}

	e := &Engine{
		cfg:       cfg,
		flags:     flags,
		modeStore: modeStore,
		extractor: extractor,
		models:    models,
		oracle:    oc,
		client:    client,
		acct:      acct,
		mgr:       mgr,
		cache:     cache,
		repo:      repo,
		log:       log,
		primary:   make(map[string]*market.Series),
		higher:    make(map[string]*market.Series),
		spreads:   make(map[string]float64),
	}
	for _, sym := range cfg.Symbols {
		e.primary[sym] = market.NewSeries(cfg.HistoryBars)
		e.higher[sym] = market.NewSeries(cfg.HistoryBars)
	}

	mgr.OnClose(e.onClose)
	return e
}

// OnPrimaryCandle feeds one closed primary-timeframe candle.
func (e *Engine) OnPrimaryCandle(symbol string, c market.Candle) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if s, ok := e.primary[symbol]; ok {
		s.Append(c)
	}
}

// OnHigherCandle feeds one closed higher-timeframe candle.
func (e *Engine) OnHigherCandle(symbol string, c market.Candle) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if s, ok := e.higher[symbol]; ok {
		s.Append(c)
	}
}

// SetSpread updates the current spread estimate for a symbol.
func (e *Engine) SetSpread(symbol string, bps float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.spreads[symbol] = bps
}

// Restore reloads persisted open positions into the manager. Called once at
// startup before Run.
func (e *Engine) Restore(ctx context.Context) error {
	if e.cache == nil {
		return nil
	}
	persisted, err := e.cache.LoadAll(ctx)
	if err != nil {
		return err
	}
	for _, p := range persisted {
		if p.State == position.StateClosed {
			continue
		}
		if err := e.mgr.Restore(p); err != nil {
			e.log.Warn().Err(err).Str("symbol", p.Symbol).Msg("skipping persisted position")
			continue
		}
		e.log.Info().Str("symbol", p.Symbol).Str("mode", p.Mode).Str("state", string(p.State)).Msg("position restored")
	}
	metrics.OpenPositions.Set(float64(e.mgr.OpenCount()))
	return nil
}

// Run drives the decision and management loops until the context is canceled.
func (e *Engine) Run(ctx context.Context) {
	tick := time.NewTicker(e.cfg.TickInterval)
	manage := time.NewTicker(e.cfg.ManageInterval)
	defer tick.Stop()
	defer manage.Stop()

	e.log.Info().
		Strs("symbols", e.cfg.Symbols).
		Dur("tick_interval", e.cfg.TickInterval).
		Msg("engine started")

	for {
		select {
		case <-ctx.Done():
			e.log.Info().Msg("engine stopped")
			return
		case <-manage.C:
			e.managePass(ctx)
		case <-tick.C:
			for _, sym := range e.cfg.Symbols {
				e.evaluate(ctx, sym)
			}
		}
	}
}

// evaluate runs one decision tick for a symbol.
func (e *Engine) evaluate(ctx context.Context, symbol string) {
	start := time.Now()
	defer func() { metrics.TickDuration.Observe(time.Since(start).Seconds()) }()

	if !e.flags.TradingEnabled() {
		return
	}
	e.enforceEquityFloor()

	mc, err := e.modeStore.Get(e.flags.Mode())
	if err != nil {
		e.log.Error().Err(err).Str("mode", e.flags.Mode()).Msg("mode config unavailable")
		return
	}

	e.mu.Lock()
	candles := e.primary[symbol].Candles()
	higherCandles := e.higher[symbol].Candles()
	spread := e.spreads[symbol]
	e.mu.Unlock()

	fv, err := e.extractor.Extract(candles, spread)
	if err != nil {
		e.log.Debug().Err(err).Str("symbol", symbol).Msg("features unavailable")
		return
	}

	var higherFV *market.FeatureVector
	if mc.RequireConsensus {
		if hfv, err := e.extractor.Extract(higherCandles, spread); err == nil {
			higherFV = &hfv
		}
	}

	mcEff := mc.WithATROverrides(fv.ATRFrac)

	mdl := e.models[mc.Name]
	if mdl == nil {
		e.log.Debug().Str("mode", mc.Name).Msg("no model artifact for mode")
		return
	}
	sig := mdl.Predict(fv)

	op := e.oracle.Ask(ctx, symbol, map[string]float64{
		"trend_score":     fv.TrendScore,
		"volatility_frac": fv.VolatilityFrac,
		"momentum_score":  fv.MomentumScore,
		"spread_bps":      fv.SpreadBps,
		"atr_frac":        fv.ATRFrac,
		"model_prob":      sig.Probability,
	})
	if !op.Available && e.oracle.Configured() {
		metrics.OracleFailures.Inc()
	}

	d := fusion.Fuse(fv, higherFV, sig, op, mcEff, e.cfg.Costs)
	metrics.Decisions.WithLabelValues(symbol, mcEff.Name, string(d.Action)).Inc()
	e.publish("decision", decisionEvent{Symbol: symbol, Decision: d})
	if d.Action == fusion.ActionSkip {
		e.log.Debug().Str("symbol", symbol).Str("reason", string(d.SkipReason)).Msg("skip")
		return
	}

	if e.mgr.Get(symbol, mcEff.Name) != nil {
		return
	}

	if v := riskgate.Admit(d, fv, mcEff, e.acct, e.mgr.OpenCount()); !v.Admitted {
		metrics.GateRejections.WithLabelValues(mcEff.Name, string(v.Reason)).Inc()
		evt := e.log.Debug()
		if v.Reason.Breaker() {
			evt = e.log.Warn()
		}
		evt.Str("symbol", symbol).Str("reason", string(v.Reason)).Msg("gate rejected")
		return
	}

	// Low-confidence entries get a second opinion before capital commits.
	if e.oracle.ConfirmEnabled() && d.Confidence < e.oracle.ConfirmThreshold() {
		ok, why := e.oracle.ConfirmEntry(ctx, map[string]any{
			"symbol":     symbol,
			"action":     d.Action,
			"confidence": d.Confidence,
			"ev_bps":     d.ExpectedValueBps,
			"trend":      fv.TrendScore,
			"vol":        fv.VolatilityFrac,
		})
		if !ok {
			e.log.Info().Str("symbol", symbol).Str("why", why).Msg("entry vetoed")
			d.Action = fusion.ActionSkip
			d.SkipReason = fusion.SkipVeto
			e.publish("decision", decisionEvent{Symbol: symbol, Decision: d})
			return
		}
	}

	last, ok := e.lastClose(symbol)
	if !ok {
		return
	}

	meta, err := e.client.GetInstrumentMeta(ctx, symbol)
	if err != nil {
		e.log.Warn().Err(err).Str("symbol", symbol).Msg("instrument meta unavailable")
		return
	}
	qty, err := position.ComputeQty(e.acct.Equity(), last, mcEff, meta)
	if err != nil {
		e.log.Debug().Err(err).Str("symbol", symbol).Msg("entry not sized")
		return
	}

	if e.flags.Simulation() {
		e.log.Info().
			Str("symbol", symbol).
			Str("action", string(d.Action)).
			Float64("qty", qty).
			Float64("confidence", d.Confidence).
			Msg("simulation: order intent dropped")
		return
	}

	side := exchange.SideBuy
	if d.Action == fusion.ActionSell {
		side = exchange.SideSell
	}
	pos, err := e.mgr.Open(ctx, symbol, side, last, qty, fv.VolatilityFrac, mcEff)
	if err != nil {
		e.log.Warn().Err(err).Str("symbol", symbol).Msg("entry failed")
		return
	}
	e.persist(ctx, pos)
	metrics.OpenPositions.Set(float64(e.mgr.OpenCount()))
}

// managePass advances every open position against the latest primary candle.
func (e *Engine) managePass(ctx context.Context) {
	for _, p := range e.mgr.Positions() {
		e.mu.Lock()
		s, ok := e.primary[p.Symbol]
		e.mu.Unlock()
		if !ok {
			continue
		}
		c, ok := s.Last()
		if !ok {
			continue
		}
		e.mgr.ManagementPass(ctx, p.Symbol, p.Mode, c.High, c.Low, c.Close)
		if cur := e.mgr.Get(p.Symbol, p.Mode); cur != nil {
			e.persist(ctx, cur)
		}
	}
	metrics.OpenPositions.Set(float64(e.mgr.OpenCount()))
}

// enforceEquityFloor downgrades a real-environment session to testnet once
// equity falls to the floor. One-way within a session; only the operator can
// switch back.
func (e *Engine) enforceEquityFloor() {
	if e.cfg.EquityFloor <= 0 || e.flags.Testnet() {
		return
	}
	if eq := e.acct.Equity(); eq <= e.cfg.EquityFloor {
		e.flags.SetTestnet(true)
		e.log.Error().
			Float64("equity", eq).
			Float64("floor", e.cfg.EquityFloor).
			Msg("equity floor breached, downgrading to testnet")
	}
}

func (e *Engine) lastClose(symbol string) (float64, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.primary[symbol]
	if !ok {
		return 0, false
	}
	c, ok := s.Last()
	if !ok || c.Close <= 0 {
		return 0, false
	}
	return c.Close, true
}

func (e *Engine) persist(ctx context.Context, p *position.Position) {
	if e.cache == nil {
		return
	}
	if err := e.cache.Save(ctx, p); err != nil {
		e.log.Warn().Err(err).Str("symbol", p.Symbol).Msg("position state not persisted")
	}
}

// onClose applies one closed trade to account risk state, metrics, and
// persistence.
func (e *Engine) onClose(t position.ClosedTrade) {
	mc, err := e.modeStore.Get(t.Mode)
	if err != nil {
		mc = modes.Default(t.Mode)
	}
	cooldown := time.Duration(mc.CooldownMinutes) * time.Minute
	e.acct.RecordClose(t.PnL, t.PnLFrac, mc.LossStreakLimit, cooldown)

	metrics.TradesClosed.WithLabelValues(t.Symbol, t.Mode, t.Reason).Inc()
	metrics.Equity.Set(e.acct.Equity())
	metrics.OpenPositions.Set(float64(e.mgr.OpenCount()))
	e.publish("trade_closed", t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if e.cache != nil {
		e.cache.Delete(ctx, t.Symbol, t.Mode)
	}
	if e.repo != nil {
		if err := e.repo.SaveClosedTrade(ctx, t); err != nil {
			e.log.Error().Err(err).Str("symbol", t.Symbol).Msg("closed trade not persisted")
		}
	}
}
