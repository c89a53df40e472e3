package modes

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsValidate(t *testing.T) {
	for _, name := range []string{"scalping", "swing", "hybrid", "adaptive"} {
		require.NoError(t, Default(name).Validate(), name)
	}
}

func TestValidateRejectsBadConfigs(t *testing.T) {
	cases := map[string]func(*ModeConfig){
		"missing name":       func(c *ModeConfig) { c.Name = "" },
		"confidence range":   func(c *ModeConfig) { c.ConfidenceThreshold = 1.5 },
		"zero tp":            func(c *ModeConfig) { c.TPFrac = 0 },
		"inverted vol gates": func(c *ModeConfig) { c.VolGateLo = 0.05; c.VolGateHi = 0.01 },
		"split over one":     func(c *ModeConfig) { c.TPSplit = TPSplit{TP1: 0.8, TP2: 0.4, BreakevenTrigger: 0.8} },
		"zero trigger":       func(c *ModeConfig) { c.TPSplit.BreakevenTrigger = 0 },
		"trigger over one":   func(c *ModeConfig) { c.TPSplit.BreakevenTrigger = 1.2 },
		"zero positions":     func(c *ModeConfig) { c.MaxOpenPositions = 0 },
		"risk fraction":      func(c *ModeConfig) { c.RiskFraction = 0 },
	}
	for name, mutate := range cases {
		cfg := Default("adaptive")
		mutate(&cfg)
		assert.Error(t, cfg.Validate(), name)
	}
}

func TestStoreFallsBackToDefaults(t *testing.T) {
	s := NewStore(t.TempDir())
	cfg, err := s.Get("scalping")
	require.NoError(t, err)
	assert.Equal(t, Default("scalping"), cfg)
}

// Gate parameters written by tuning must read back unchanged; a silently
// shifted threshold would change live admission behavior.
func TestStoreSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir)

	cfg := Default("scalping")
	cfg.ConfidenceThreshold = 0.71
	cfg.MinEdgeBps = 12.5
	cfg.VolGateLo = 0.0021
	cfg.VolGateHi = 0.0275
	cfg.TPSplit = TPSplit{TP1: 0.55, TP2: 0.45, BreakevenTrigger: 0.55}
	cfg.SpreadLimitBps = 3.5
	require.NoError(t, s.Save(cfg))

	_, err := os.Stat(filepath.Join(dir, "scalping.yaml"))
	require.NoError(t, err)

	loaded, err := s.Get("scalping")
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestStoreReloadDropsCache(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir)

	first, err := s.Get("swing")
	require.NoError(t, err)

	tuned := first
	tuned.MinEdgeBps = 20
	require.NoError(t, s.Save(tuned))
	s.Reload()

	loaded, err := s.Get("swing")
	require.NoError(t, err)
	assert.Equal(t, 20.0, loaded.MinEdgeBps)
}

func TestStoreRejectsInvalidFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.yaml"),
		[]byte("tp_frac: 0\nsl_frac: 0\n"), 0o644))

	_, err := NewStore(dir).Get("broken")
	require.Error(t, err)
}

func TestWithATROverridesWidensAndCaps(t *testing.T) {
	cfg := Default("adaptive")
	cfg.TPFrac = 0.02
	cfg.SLFrac = 0.01
	cfg.ATRScaleTP = 2.0
	cfg.ATRScaleSL = 2.0
	cfg.TPCap = 0.05
	cfg.SLCap = 0.02

	out := cfg.WithATROverrides(0.02)
	assert.InDelta(t, 0.04, out.TPFrac, 1e-12)  // 2.0 * 0.02
	assert.InDelta(t, 0.02, out.SLFrac, 1e-12)  // capped from 2.0*0.02*0.5

	// Small ATR keeps the configured floors.
	out = cfg.WithATROverrides(0.001)
	assert.Equal(t, cfg.TPFrac, out.TPFrac)
	assert.Equal(t, cfg.SLFrac, out.SLFrac)

	// Disabled scaling is a no-op.
	cfg.ATRScaleTP, cfg.ATRScaleSL = 0, 0
	assert.Equal(t, cfg, cfg.WithATROverrides(0.02))
}

func TestEffectiveLeverageCap(t *testing.T) {
	cfg := ModeConfig{Leverage: 20, LeverageCap: 10}
	assert.Equal(t, 10, cfg.EffectiveLeverage())

	cfg = ModeConfig{Leverage: 5, LeverageCap: 10}
	assert.Equal(t, 5, cfg.EffectiveLeverage())

	cfg = ModeConfig{}
	assert.Equal(t, 1, cfg.EffectiveLeverage())
}

func TestFlags(t *testing.T) {
	f := NewFlags("adaptive")
	assert.Equal(t, "adaptive", f.Mode())
	assert.True(t, f.Testnet())
	assert.True(t, f.TradingEnabled())
	assert.False(t, f.Simulation())

	f.SetMode("scalping")
	f.SetTestnet(false)
	f.SetSimulation(true)
	f.SetTradingEnabled(false)

	assert.Equal(t, "scalping", f.Mode())
	assert.False(t, f.Testnet())
	assert.True(t, f.Simulation())
	assert.False(t, f.TradingEnabled())
}
