package position

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"futures-decision-engine/internal/exchange"
	"futures-decision-engine/internal/modes"
)

// Manager owns all open positions and drives the TP/SL state machine. The
// management pass is idempotent: re-running it against a position that already
// advanced is a no-op, because retries after partial failures re-invoke it.
type Manager struct {
	client exchange.TradingClient
	fills  FillOracle
	log    zerolog.Logger
	now    func() time.Time

	mu        sync.Mutex
	positions map[string]*Position
	onClose   func(ClosedTrade)
}

// NewManager creates a position manager using the range-touch fill oracle.
func NewManager(client exchange.TradingClient, log zerolog.Logger) *Manager {
	return &Manager{
		client:    client,
		fills:     RangeTouch{},
		log:       log,
		now:       time.Now,
		positions: make(map[string]*Position),
	}
}

// WithFillOracle swaps the fill detection implementation.
func (m *Manager) WithFillOracle(f FillOracle) *Manager {
	m.fills = f
	return m
}

// WithClock replaces the wall clock. Test hook.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	return m
}

// OnClose registers the callback invoked once per closed position, after the
// position reaches CLOSED.
func (m *Manager) OnClose(fn func(ClosedTrade)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onClose = fn
}

func key(symbol, mode string) string { return symbol + "/" + mode }

// Get returns a copy of the open position for (symbol, mode), or nil. Copies
// are safe to read and marshal while management passes run.
func (m *Manager) Get(symbol, mode string) *Position {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.positions[key(symbol, mode)]
	if p == nil {
		return nil
	}
	cp := *p
	return &cp
}

// Positions returns copies of all open positions.
func (m *Manager) Positions() []*Position {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Position, 0, len(m.positions))
	for _, p := range m.positions {
		cp := *p
		out = append(out, &cp)
	}
	return out
}

// OpenCount returns the number of open positions.
func (m *Manager) OpenCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.positions)
}

// Restore re-registers a persisted position after a restart.
func (m *Manager) Restore(p *Position) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := key(p.Symbol, p.Mode)
	if _, exists := m.positions[k]; exists {
		return fmt.Errorf("position already open for %s", k)
	}
	m.positions[k] = p
	return nil
}

// Open places the entry order and starts managing the position. volFrac feeds
// the trailing-stop fraction when the mode does not pin one.
func (m *Manager) Open(ctx context.Context, symbol string, side exchange.Side, entryPrice, qty, volFrac float64, mc modes.ModeConfig) (*Position, error) {
	m.mu.Lock()
	k := key(symbol, mc.Name)
	if _, exists := m.positions[k]; exists {
		m.mu.Unlock()
		return nil, fmt.Errorf("position already open for %s", k)
	}
	m.mu.Unlock()

	meta, err := m.client.GetInstrumentMeta(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch instrument meta: %w", err)
	}

	orderID, err := m.client.PlaceOrder(ctx, exchange.Order{
		Symbol:   symbol,
		Side:     side,
		Type:     exchange.OrderMarket,
		Qty:      qty,
		ClientID: fmt.Sprintf("fde_%d_%s", m.now().UnixMilli(), side[:1]),
	})
	if err != nil {
		return nil, fmt.Errorf("entry order failed: %w", err)
	}

	dir := 1.0
	if side == exchange.SideSell {
		dir = -1
	}

	trail := mc.TrailingFrac
	if trail <= 0 {
		trail = DynamicTrailing(volFrac)
	}

	p := &Position{
		ID:           uuid.NewString(),
		Symbol:       symbol,
		Mode:         mc.Name,
		Side:         side,
		EntryPrice:   entryPrice,
		Qty:          qty,
		RemainingQty: qty,
		State:        StateOpen,
		StopPrice:    RoundToTick(entryPrice*(1-dir*mc.SLFrac), meta.TickSize),
		TP1Price:     RoundToTick(entryPrice*(1+dir*mc.TPFrac*mc.TPSplit.BreakevenTrigger), meta.TickSize),
		TP2Price:     RoundToTick(entryPrice*(1+dir*mc.TPFrac), meta.TickSize),
		SplitTP1:     mc.TPSplit.TP1,
		TrailFrac:    trail,
		OpenedAt:     m.now(),
	}

	if err := m.client.ReplaceStop(ctx, symbol, p.StopPrice); err != nil {
		// Entry is live; keep the position and let the next pass retry.
		m.log.Warn().Err(err).Str("symbol", symbol).Msg("initial stop placement failed, will retry")
	}

	m.mu.Lock()
	m.positions[k] = p
	m.mu.Unlock()

	m.log.Info().
		Str("symbol", symbol).
		Str("mode", mc.Name).
		Str("side", string(side)).
		Str("order_id", orderID).
		Float64("entry", entryPrice).
		Float64("qty", qty).
		Float64("sl", p.StopPrice).
		Float64("tp1", p.TP1Price).
		Float64("tp2", p.TP2Price).
		Msg("position opened")
	return p, nil
}

// ManagementPass advances one position's state machine given the price range
// observed since the last pass. Safe to re-invoke; a CLOSED position is a
// no-op. When the same range crosses both the stop and a take-profit, the
// stop is assumed to trigger first (conservative tie-break, matching the
// backtest fill model). State mutation happens under the manager lock so
// snapshot readers never observe a half-applied transition; the close
// callback runs after the lock is released.
func (m *Manager) ManagementPass(ctx context.Context, symbol, mode string, high, low, last float64) {
	m.mu.Lock()
	p := m.positions[key(symbol, mode)]
	if p == nil || p.State == StateClosed {
		m.mu.Unlock()
		return
	}
	trade := m.passLocked(ctx, p, high, low, last)
	cb := m.onClose
	m.mu.Unlock()

	if trade != nil && cb != nil {
		cb(*trade)
	}
}

// passLocked runs the state machine for one position. Caller holds m.mu.
func (m *Manager) passLocked(ctx context.Context, p *Position, high, low, last float64) *ClosedTrade {
	// Stop first: conservative tie-break.
	if m.fills.Filled(p.Side, p.StopPrice, false, high, low) {
		reason := "stop_loss"
		if p.BreakevenActive {
			reason = "breakeven"
		} else if p.StopPrice*p.direction() >= p.EntryPrice*p.direction() {
			reason = "trailing_stop"
		}
		return m.closeLocked(p, p.StopPrice, reason)
	}

	// Retry a breakeven shift that failed on an earlier pass. The position
	// stays in its last known-good state until the replacement succeeds.
	if p.PendingBreakeven {
		m.activateBreakeven(ctx, p)
	}

	if p.State == StateOpen && m.fills.Filled(p.Side, p.TP1Price, true, high, low) {
		m.fillTP1(ctx, p)
	}

	if p.State != StateOpen && m.fills.Filled(p.Side, p.TP2Price, true, high, low) {
		m.placeReduceOnly(ctx, p, p.TP2Price, p.RemainingQty)
		return m.closeLocked(p, p.TP2Price, "take_profit")
	}

	if p.State == StateBreakevenActive && last > 0 {
		m.trail(ctx, p, last)
	}
	return nil
}

// fillTP1 realizes the partial take-profit and schedules the breakeven shift.
func (m *Manager) fillTP1(ctx context.Context, p *Position) {
	fillQty := p.Qty * p.SplitTP1
	m.placeReduceOnly(ctx, p, p.TP1Price, fillQty)

	p.RealizedPnL += (p.TP1Price - p.EntryPrice) * p.direction() * fillQty
	p.RemainingQty -= fillQty
	p.advance(StateTP1Filled)

	m.log.Info().
		Str("symbol", p.Symbol).
		Str("mode", p.Mode).
		Float64("price", p.TP1Price).
		Float64("remaining_qty", p.RemainingQty).
		Msg("tp1 filled")

	m.activateBreakeven(ctx, p)
}

// activateBreakeven moves the stop to entry. Best-effort: a transient failure
// marks the shift pending so the next pass retries instead of leaving the
// remainder unprotected indefinitely.
func (m *Manager) activateBreakeven(ctx context.Context, p *Position) {
	if p.BreakevenActive {
		p.PendingBreakeven = false
		return
	}
	if err := m.client.ReplaceStop(ctx, p.Symbol, p.EntryPrice); err != nil {
		p.PendingBreakeven = true
		m.log.Warn().Err(err).Str("symbol", p.Symbol).Msg("breakeven shift failed, will retry")
		return
	}
	p.StopPrice = p.EntryPrice
	p.BreakevenActive = true
	p.PendingBreakeven = false
	p.advance(StateBreakevenActive)
	m.log.Info().Str("symbol", p.Symbol).Float64("stop", p.StopPrice).Msg("breakeven active")
}

// trail tightens the stop as price moves favorably. Never loosens, never
// crosses back through entry.
func (m *Manager) trail(ctx context.Context, p *Position, last float64) {
	dir := p.direction()
	target := last * (1 - dir*p.TrailFrac)

	// Clamp to breakeven on the unfavorable side.
	if dir > 0 && target < p.EntryPrice {
		target = p.EntryPrice
	}
	if dir < 0 && target > p.EntryPrice {
		target = p.EntryPrice
	}

	if target*dir <= p.StopPrice*dir+1e-9 {
		return
	}
	if err := m.client.ReplaceStop(ctx, p.Symbol, target); err != nil {
		m.log.Debug().Err(err).Str("symbol", p.Symbol).Msg("trailing stop adjust skipped")
		return
	}
	p.StopPrice = target
	m.log.Debug().Str("symbol", p.Symbol).Float64("stop", target).Msg("trailing stop tightened")
}

func (m *Manager) placeReduceOnly(ctx context.Context, p *Position, price, qty float64) {
	if qty <= 0 {
		return
	}
	_, err := m.client.PlaceOrder(ctx, exchange.Order{
		Symbol:     p.Symbol,
		Side:       p.Side.Opposite(),
		Type:       exchange.OrderMarket,
		Qty:        qty,
		Price:      price,
		ReduceOnly: true,
	})
	if err != nil {
		m.log.Warn().Err(err).Str("symbol", p.Symbol).Msg("reduce-only order failed")
	}
}

// closeLocked finalizes the position and builds the ClosedTrade record. Caller
// holds m.mu and invokes the close callback after releasing it.
func (m *Manager) closeLocked(p *Position, exitPrice float64, reason string) *ClosedTrade {
	pnl := p.RealizedPnL + (exitPrice-p.EntryPrice)*p.direction()*p.RemainingQty
	notional := p.EntryPrice * p.Qty

	p.RemainingQty = 0
	p.advance(StateClosed)
	delete(m.positions, key(p.Symbol, p.Mode))

	trade := ClosedTrade{
		PositionID: p.ID,
		Symbol:     p.Symbol,
		Mode:       p.Mode,
		Side:       p.Side,
		EntryPrice: p.EntryPrice,
		ExitPrice:  exitPrice,
		Qty:        p.Qty,
		PnL:        pnl,
		Reason:     reason,
		OpenedAt:   p.OpenedAt,
		ClosedAt:   m.now(),
	}
	if notional > 0 {
		trade.PnLFrac = pnl / notional
	}

	m.log.Info().
		Str("symbol", p.Symbol).
		Str("mode", p.Mode).
		Str("reason", reason).
		Float64("exit", exitPrice).
		Float64("pnl", pnl).
		Msg("position closed")
	return &trade
}
