package position

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"futures-decision-engine/internal/exchange"
	"futures-decision-engine/internal/modes"
)

func sizerMode() modes.ModeConfig {
	mc := modes.Default("adaptive")
	mc.RiskFraction = 0.02
	mc.Leverage = 5
	mc.LeverageCap = 10
	mc.SafetyBuffer = 0.05
	return mc
}

func TestComputeQty(t *testing.T) {
	meta := exchange.InstrumentMeta{QtyStep: 0.001, TickSize: 0.01, MinNotional: 5}

	qty, err := ComputeQty(10000, 100, sizerMode(), meta)
	require.NoError(t, err)
	// 10000 * 0.02 * 5 / 100 * 0.95 = 9.5
	assert.InDelta(t, 9.5, qty, 1e-9)
}

func TestComputeQtyRoundsDownToStep(t *testing.T) {
	meta := exchange.InstrumentMeta{QtyStep: 0.1, MinNotional: 5}

	qty, err := ComputeQty(10000, 97, sizerMode(), meta)
	require.NoError(t, err)
	// raw = 10000*0.02*5/97*0.95 = 9.7938...; floored to 9.7
	assert.InDelta(t, 9.7, qty, 1e-9)
}

func TestComputeQtyLeverageCapApplies(t *testing.T) {
	mc := sizerMode()
	mc.Leverage = 50 // capped to 10
	meta := exchange.InstrumentMeta{QtyStep: 0.001}

	qty, err := ComputeQty(10000, 100, mc, meta)
	require.NoError(t, err)
	assert.InDelta(t, 19.0, qty, 1e-9)
}

func TestComputeQtyBelowStep(t *testing.T) {
	meta := exchange.InstrumentMeta{QtyStep: 1}
	_, err := ComputeQty(100, 50000, sizerMode(), meta)
	require.ErrorIs(t, err, exchange.ErrQtyBelowStep)
}

func TestComputeQtyBelowMinNotional(t *testing.T) {
	meta := exchange.InstrumentMeta{QtyStep: 0.0001, MinNotional: 100}
	_, err := ComputeQty(100, 100, sizerMode(), meta)
	require.ErrorIs(t, err, exchange.ErrBelowMinNotional)
}

func TestComputeQtyRejectsBadInputs(t *testing.T) {
	meta := exchange.InstrumentMeta{}
	_, err := ComputeQty(0, 100, sizerMode(), meta)
	require.Error(t, err)
	_, err = ComputeQty(1000, 0, sizerMode(), meta)
	require.Error(t, err)
}

func TestRoundToStepEpsilon(t *testing.T) {
	// 0.3/0.1 is 2.9999... in floats; the epsilon keeps it at 0.3.
	assert.InDelta(t, 0.3, RoundToStep(0.3, 0.1), 1e-12)
	assert.Equal(t, 5.0, RoundToStep(5.0, 0))
}

func TestRoundToTick(t *testing.T) {
	assert.InDelta(t, 101.25, RoundToTick(101.2501, 0.05), 1e-9)
	assert.Equal(t, 101.2501, RoundToTick(101.2501, 0))
}
