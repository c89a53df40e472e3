package exchange

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPaperMarketOrderOpensPosition(t *testing.T) {
	p := NewPaperClient(10000)
	p.SetMark("BTCUSDT", 100)

	_, err := p.PlaceOrder(context.Background(), Order{
		Symbol: "BTCUSDT", Side: SideBuy, Type: OrderMarket, Qty: 1,
	})
	require.NoError(t, err)

	pos, err := p.GetPosition(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	require.NotNil(t, pos)
	assert.Equal(t, SideBuy, pos.Side)
	assert.Equal(t, 100.0, pos.EntryPrice)
	assert.Equal(t, 1.0, pos.Qty)
}

func TestPaperOppositeOrderReducesAndCloses(t *testing.T) {
	p := NewPaperClient(10000)
	p.SetMark("BTCUSDT", 100)
	ctx := context.Background()

	_, err := p.PlaceOrder(ctx, Order{Symbol: "BTCUSDT", Side: SideBuy, Type: OrderMarket, Qty: 1})
	require.NoError(t, err)

	_, err = p.PlaceOrder(ctx, Order{Symbol: "BTCUSDT", Side: SideSell, Type: OrderMarket, Qty: 0.6, ReduceOnly: true})
	require.NoError(t, err)
	pos, _ := p.GetPosition(ctx, "BTCUSDT")
	require.NotNil(t, pos)
	assert.InDelta(t, 0.4, pos.Qty, 1e-9)

	_, err = p.PlaceOrder(ctx, Order{Symbol: "BTCUSDT", Side: SideSell, Type: OrderMarket, Qty: 0.4, ReduceOnly: true})
	require.NoError(t, err)
	pos, _ = p.GetPosition(ctx, "BTCUSDT")
	assert.Nil(t, pos)
}

func TestPaperRejectsWithoutMark(t *testing.T) {
	p := NewPaperClient(10000)
	_, err := p.PlaceOrder(context.Background(), Order{
		Symbol: "BTCUSDT", Side: SideBuy, Type: OrderMarket, Qty: 1,
	})
	require.ErrorIs(t, err, ErrOrderRejected)
}

func TestPaperMinNotional(t *testing.T) {
	p := NewPaperClient(10000)
	p.SetMark("BTCUSDT", 100)
	_, err := p.PlaceOrder(context.Background(), Order{
		Symbol: "BTCUSDT", Side: SideBuy, Type: OrderMarket, Qty: 0.01,
	})
	require.ErrorIs(t, err, ErrBelowMinNotional)
}

func TestPaperReplaceStopFailureHook(t *testing.T) {
	p := NewPaperClient(10000)
	p.FailReplaceStop = 1

	err := p.ReplaceStop(context.Background(), "BTCUSDT", 99)
	require.Error(t, err)

	require.NoError(t, p.ReplaceStop(context.Background(), "BTCUSDT", 99))
	stop, ok := p.Stop("BTCUSDT")
	require.True(t, ok)
	assert.Equal(t, 99.0, stop)
}

func TestSideOpposite(t *testing.T) {
	assert.Equal(t, SideSell, SideBuy.Opposite())
	assert.Equal(t, SideBuy, SideSell.Opposite())
}
