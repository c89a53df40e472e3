package store

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"futures-decision-engine/internal/exchange"
	"futures-decision-engine/internal/position"
)

func testPosition(symbol, mode string) *position.Position {
	return &position.Position{
		ID: "pos-1", Symbol: symbol, Mode: mode, Side: exchange.SideBuy,
		EntryPrice: 100, Qty: 1, RemainingQty: 0.4,
		State: position.StateBreakevenActive, BreakevenActive: true,
		StopPrice: 100, TP1Price: 101.2, TP2Price: 102,
		SplitTP1: 0.6, TrailFrac: 0.005, RealizedPnL: 0.72,
		OpenedAt: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

// The cache must keep working with no Redis at all: everything lands in the
// in-memory fallback.
func TestPositionCacheWithoutRedis(t *testing.T) {
	c := NewPositionCache(nil, zerolog.Nop())
	ctx := context.Background()

	p := testPosition("BTCUSDT", "adaptive")
	require.NoError(t, c.Save(ctx, p))

	loaded, err := c.Load(ctx, "BTCUSDT", "adaptive")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, *p, *loaded)
}

func TestPositionCacheLoadMissing(t *testing.T) {
	c := NewPositionCache(nil, zerolog.Nop())
	loaded, err := c.Load(context.Background(), "ETHUSDT", "swing")
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestPositionCacheDelete(t *testing.T) {
	c := NewPositionCache(nil, zerolog.Nop())
	ctx := context.Background()

	require.NoError(t, c.Save(ctx, testPosition("BTCUSDT", "adaptive")))
	c.Delete(ctx, "BTCUSDT", "adaptive")

	loaded, err := c.Load(ctx, "BTCUSDT", "adaptive")
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestPositionCacheLoadAll(t *testing.T) {
	c := NewPositionCache(nil, zerolog.Nop())
	ctx := context.Background()

	require.NoError(t, c.Save(ctx, testPosition("BTCUSDT", "adaptive")))
	require.NoError(t, c.Save(ctx, testPosition("ETHUSDT", "scalping")))

	all, err := c.LoadAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	symbols := map[string]bool{}
	for _, p := range all {
		symbols[p.Symbol] = true
	}
	assert.True(t, symbols["BTCUSDT"])
	assert.True(t, symbols["ETHUSDT"])
}

func TestPositionCacheKeyedBySymbolAndMode(t *testing.T) {
	c := NewPositionCache(nil, zerolog.Nop())
	ctx := context.Background()

	a := testPosition("BTCUSDT", "adaptive")
	b := testPosition("BTCUSDT", "scalping")
	b.ID = "pos-2"
	require.NoError(t, c.Save(ctx, a))
	require.NoError(t, c.Save(ctx, b))

	loaded, err := c.Load(ctx, "BTCUSDT", "scalping")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, "pos-2", loaded.ID)
}
