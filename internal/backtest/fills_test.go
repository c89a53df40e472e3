package backtest

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"futures-decision-engine/internal/exchange"
	"futures-decision-engine/internal/market"
	"futures-decision-engine/internal/modes"
	"futures-decision-engine/internal/position"
)

func pathMode() modes.ModeConfig {
	mc := modes.Default("adaptive")
	mc.TPFrac = 0.02
	mc.SLFrac = 0.01
	mc.TPSplit = modes.TPSplit{TP1: 0.6, TP2: 0.4, BreakevenTrigger: 0.6}
	return mc
}

func bar(high, low, close float64) market.Candle {
	return market.Candle{
		OpenTime: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		Open:     close, High: high, Low: low, Close: close,
	}
}

func TestPathStopLossWinsTieBreak(t *testing.T) {
	// One bar crosses both the stop (99) and TP1 (101.2).
	res := SimulatePath([]market.Candle{bar(101.5, 98.5, 99.5)}, 100, exchange.SideBuy, pathMode())

	assert.Equal(t, "stop_loss", res.Reason)
	assert.Equal(t, 1, res.Bars)
	assert.InDelta(t, -0.01, res.PnLFrac, 1e-9)
	assert.Equal(t, []float64{1.0}, res.QtyFractions)
}

func TestPathTP1ThenTP2(t *testing.T) {
	bars := []market.Candle{
		bar(101.3, 100.4, 101.1), // TP1 at 101.2
		bar(102.5, 100.9, 102.2), // TP2 at 102
	}
	res := SimulatePath(bars, 100, exchange.SideBuy, pathMode())

	require.Equal(t, "take_profit", res.Reason)
	assert.Equal(t, 2, res.Bars)
	assert.InDelta(t, (101.2-100)*0.6/100+(102.0-100)*0.4/100, res.PnLFrac, 1e-9)
	assert.Equal(t, []float64{0.6, 0.4}, res.QtyFractions)
}

func TestPathBreakevenAfterTP1(t *testing.T) {
	bars := []market.Candle{
		bar(101.3, 100.4, 101.1),
		bar(100.8, 99.8, 100.0), // falls back through entry
	}
	res := SimulatePath(bars, 100, exchange.SideBuy, pathMode())

	require.Equal(t, "breakeven", res.Reason)
	// Only the TP1 partial is profit; the remainder exits flat at entry.
	assert.InDelta(t, (101.2-100)*0.6/100, res.PnLFrac, 1e-9)
	assert.Greater(t, res.PnLFrac, 0.0)
}

// One bar crossing both TP1 and TP2 closes the trade on that bar, the way the
// live management pass does.
func TestPathSameBarTP1AndTP2(t *testing.T) {
	res := SimulatePath([]market.Candle{bar(102.5, 100.2, 102.3)}, 100, exchange.SideBuy, pathMode())

	require.Equal(t, "take_profit", res.Reason)
	assert.Equal(t, 1, res.Bars)
	assert.InDelta(t, (101.2-100)*0.6/100+(102.0-100)*0.4/100, res.PnLFrac, 1e-9)
	assert.Equal(t, []float64{0.6, 0.4}, res.QtyFractions)
}

// The path simulation must agree with the live manager when both see the same
// price range from the same entry.
func TestPathMatchesLiveManagement(t *testing.T) {
	cases := map[string]market.Candle{
		"tp1 and tp2 in one bar":  bar(102.5, 100.2, 102.3),
		"stop and tp1 in one bar": bar(101.5, 98.5, 99.0),
		"tp1 only":                bar(101.3, 100.4, 101.1),
		"stop only":               bar(100.2, 98.9, 99.0),
	}
	for name, c := range cases {
		res := SimulatePath([]market.Candle{c}, 100, exchange.SideBuy, pathMode())

		client := exchange.NewPaperClient(10000)
		client.SetMark("BTCUSDT", 100)
		mgr := position.NewManager(client, zerolog.Nop())
		var closed []position.ClosedTrade
		mgr.OnClose(func(tr position.ClosedTrade) { closed = append(closed, tr) })

		_, err := mgr.Open(context.Background(), "BTCUSDT", exchange.SideBuy, 100, 1, 0.01, pathMode())
		require.NoError(t, err, name)
		mgr.ManagementPass(context.Background(), "BTCUSDT", "adaptive", c.High, c.Low, c.Close)

		if len(closed) == 0 {
			// Live position stays open; the path flattens at the horizon.
			assert.Equal(t, "horizon", res.Reason, name)
			continue
		}
		require.Len(t, closed, 1, name)
		assert.Equal(t, closed[0].Reason, res.Reason, name)
		assert.InDelta(t, closed[0].PnLFrac, res.PnLFrac, 1e-9, name)
	}
}

// TP1 sits at the breakeven-trigger fraction of the target; the qty split is
// a separate knob.
func TestPathTP1PlacedAtBreakevenTrigger(t *testing.T) {
	mc := pathMode()
	mc.TPSplit.BreakevenTrigger = 0.5 // TP1 at 101.0, fill still 60%

	bars := []market.Candle{
		bar(101.1, 100.4, 101.0),
		bar(102.3, 100.9, 102.1),
	}
	res := SimulatePath(bars, 100, exchange.SideBuy, mc)

	require.Equal(t, "take_profit", res.Reason)
	assert.Equal(t, []float64{0.6, 0.4}, res.QtyFractions)
	assert.InDelta(t, (101.0-100)*0.6/100+(102.0-100)*0.4/100, res.PnLFrac, 1e-9)
}

func TestPathHorizonFlattens(t *testing.T) {
	bars := []market.Candle{
		bar(100.5, 99.6, 100.2),
		bar(100.6, 99.7, 99.8),
	}
	res := SimulatePath(bars, 100, exchange.SideBuy, pathMode())

	require.Equal(t, "horizon", res.Reason)
	assert.Equal(t, 2, res.Bars)
	assert.InDelta(t, (99.8-100)/100, res.PnLFrac, 1e-9)
	assert.Equal(t, []float64{1.0}, res.QtyFractions)
}

func TestPathShortSide(t *testing.T) {
	bars := []market.Candle{
		bar(100.4, 98.7, 98.9), // TP1 at 98.8
		bar(99.0, 97.9, 98.1),  // TP2 at 98
	}
	res := SimulatePath(bars, 100, exchange.SideSell, pathMode())

	require.Equal(t, "take_profit", res.Reason)
	assert.InDelta(t, (100-98.8)*0.6/100+(100-98.0)*0.4/100, res.PnLFrac, 1e-9)
}

func TestPathShortStopAboveEntry(t *testing.T) {
	res := SimulatePath([]market.Candle{bar(101.2, 99.8, 101.1)}, 100, exchange.SideSell, pathMode())

	require.Equal(t, "stop_loss", res.Reason)
	assert.InDelta(t, -0.01, res.PnLFrac, 1e-9)
}

func TestPathEmptyBars(t *testing.T) {
	res := SimulatePath(nil, 100, exchange.SideBuy, pathMode())
	assert.Equal(t, "horizon", res.Reason)
	assert.Zero(t, res.PnLFrac)
}
