// Package exchange defines the trading-client capability the engine consumes.
// One adapter per exchange implements this interface; the core never inspects
// which exchange is active and never encodes exchange-specific requests.
package exchange

import (
	"context"
	"errors"
)

// Side of an order or position.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Opposite returns the closing side.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OrderType of a submitted order.
type OrderType string

const (
	OrderMarket     OrderType = "MARKET"
	OrderLimit      OrderType = "LIMIT"
	OrderStopMarket OrderType = "STOP_MARKET"
)

// Order is one order intent.
type Order struct {
	Symbol     string    `json:"symbol"`
	Side       Side      `json:"side"`
	Type       OrderType `json:"type"`
	Qty        float64   `json:"qty"`
	Price      float64   `json:"price,omitempty"` // limit or stop trigger price
	ReduceOnly bool      `json:"reduce_only"`
	ClientID   string    `json:"client_id,omitempty"`
}

// PositionInfo is the exchange's view of an open position.
type PositionInfo struct {
	Symbol     string  `json:"symbol"`
	Side       Side    `json:"side"`
	EntryPrice float64 `json:"entry_price"`
	Qty        float64 `json:"qty"`
}

// InstrumentMeta carries the exchange-reported rounding constraints. The
// engine only rounds to these steps; it does not know exchange formats.
type InstrumentMeta struct {
	QtyStep     float64 `json:"qty_step"`
	TickSize    float64 `json:"tick_size"`
	MinNotional float64 `json:"min_notional"`
}

// Typed execution failures. The position is not created and no state mutation
// occurs when these surface.
var (
	ErrBelowMinNotional = errors.New("order notional below instrument minimum")
	ErrQtyBelowStep     = errors.New("order quantity below instrument step")
	ErrOrderRejected    = errors.New("order rejected by exchange")
)

// TradingClient is the uniform capability set the engine calls.
type TradingClient interface {
	PlaceOrder(ctx context.Context, order Order) (orderID string, err error)
	CancelOrder(ctx context.Context, symbol, orderID string) error
	GetPosition(ctx context.Context, symbol string) (*PositionInfo, error)
	GetBalance(ctx context.Context) (float64, error)
	GetInstrumentMeta(ctx context.Context, symbol string) (InstrumentMeta, error)

	// ReplaceStop moves the protective stop for a symbol's open position.
	// Used for the breakeven shift and trailing adjustments.
	ReplaceStop(ctx context.Context, symbol string, stopPrice float64) error
}
