package exchange

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// PaperClient is an in-memory trading client for simulation mode and tests.
// Fills every market order instantly at the configured mark price.
type PaperClient struct {
	mu        sync.Mutex
	balance   float64
	marks     map[string]float64
	positions map[string]*PositionInfo
	stops     map[string]float64
	orders    map[string]Order
	meta      InstrumentMeta

	// FailReplaceStop makes the next n ReplaceStop calls fail. Test hook for
	// the breakeven retry path.
	FailReplaceStop int
}

// NewPaperClient creates a paper client with a starting balance.
func NewPaperClient(balance float64) *PaperClient {
	return &PaperClient{
		balance:   balance,
		marks:     make(map[string]float64),
		positions: make(map[string]*PositionInfo),
		stops:     make(map[string]float64),
		orders:    make(map[string]Order),
		meta:      InstrumentMeta{QtyStep: 0.001, TickSize: 0.01, MinNotional: 5},
	}
}

// SetMark sets the mark price used to fill market orders.
func (p *PaperClient) SetMark(symbol string, price float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.marks[symbol] = price
}

// SetInstrumentMeta overrides the rounding constraints.
func (p *PaperClient) SetInstrumentMeta(meta InstrumentMeta) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.meta = meta
}

// PlaceOrder fills market orders at the mark price; limit and stop orders are
// recorded as working orders.
func (p *PaperClient) PlaceOrder(_ context.Context, order Order) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if order.Qty <= 0 {
		return "", ErrQtyBelowStep
	}
	mark := p.marks[order.Symbol]
	if order.Type == OrderMarket && mark <= 0 {
		return "", fmt.Errorf("%w: no mark price for %s", ErrOrderRejected, order.Symbol)
	}
	if p.meta.MinNotional > 0 && mark > 0 && order.Qty*mark < p.meta.MinNotional && !order.ReduceOnly {
		return "", ErrBelowMinNotional
	}

	id := uuid.NewString()
	if order.Type == OrderMarket {
		p.applyFill(order, mark)
	} else {
		p.orders[id] = order
	}
	return id, nil
}

func (p *PaperClient) applyFill(order Order, price float64) {
	pos, ok := p.positions[order.Symbol]
	if !ok || pos.Qty == 0 {
		p.positions[order.Symbol] = &PositionInfo{
			Symbol:     order.Symbol,
			Side:       order.Side,
			EntryPrice: price,
			Qty:        order.Qty,
		}
		return
	}

	if pos.Side == order.Side {
		total := pos.Qty + order.Qty
		pos.EntryPrice = (pos.EntryPrice*pos.Qty + price*order.Qty) / total
		pos.Qty = total
		return
	}

	// Opposite side reduces or closes.
	if order.Qty >= pos.Qty {
		delete(p.positions, order.Symbol)
		delete(p.stops, order.Symbol)
		return
	}
	pos.Qty -= order.Qty
}

// CancelOrder removes a working order.
func (p *PaperClient) CancelOrder(_ context.Context, _ string, orderID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.orders, orderID)
	return nil
}

// GetPosition returns the open position for a symbol, or nil.
func (p *PaperClient) GetPosition(_ context.Context, symbol string) (*PositionInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pos, ok := p.positions[symbol]
	if !ok {
		return nil, nil
	}
	copied := *pos
	return &copied, nil
}

// GetBalance returns the paper balance.
func (p *PaperClient) GetBalance(_ context.Context) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.balance, nil
}

// GetInstrumentMeta returns the configured rounding constraints.
func (p *PaperClient) GetInstrumentMeta(_ context.Context, _ string) (InstrumentMeta, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.meta, nil
}

// ReplaceStop records the protective stop for a symbol.
func (p *PaperClient) ReplaceStop(_ context.Context, symbol string, stopPrice float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.FailReplaceStop > 0 {
		p.FailReplaceStop--
		return fmt.Errorf("%w: stop replacement unavailable", ErrOrderRejected)
	}
	p.stops[symbol] = stopPrice
	return nil
}

// Stop returns the recorded stop price for a symbol. Test helper.
func (p *PaperClient) Stop(symbol string) (float64, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	v, ok := p.stops[symbol]
	return v, ok
}
