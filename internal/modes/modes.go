// Package modes holds per-mode tunable parameters and the runtime mode flags.
//
// ModeConfigs are produced by offline tuning and consumed read-only at decision
// time; the store never writes them back.
package modes

import (
	"fmt"
	"math"
)

// TPSplit controls partial take-profit sizing.
type TPSplit struct {
	TP1              float64 `json:"tp1" yaml:"tp1"`                             // fraction of qty closed at TP1
	TP2              float64 `json:"tp2" yaml:"tp2"`                             // fraction of qty left for TP2
	BreakevenTrigger float64 `json:"breakeven_trigger" yaml:"breakeven_trigger"` // fraction of tp_frac where TP1 sits
}

// ModeConfig is the tunable parameter set for one trading mode.
type ModeConfig struct {
	Name                string  `json:"name" yaml:"name"`
	Timeframe           string  `json:"timeframe" yaml:"timeframe"`
	HigherTimeframe     string  `json:"higher_timeframe" yaml:"higher_timeframe"`
	ConfidenceThreshold float64 `json:"confidence_threshold" yaml:"confidence_threshold"`
	MinEdgeBps          float64 `json:"min_edge_bps" yaml:"min_edge_bps"`
	TPFrac              float64 `json:"tp_frac" yaml:"tp_frac"`
	SLFrac              float64 `json:"sl_frac" yaml:"sl_frac"`
	TPSplit             TPSplit `json:"tp_split" yaml:"tp_split"`
	Leverage            int     `json:"leverage" yaml:"leverage"`
	LeverageCap         int     `json:"leverage_cap" yaml:"leverage_cap"`
	VolGateLo           float64 `json:"vol_gate_lo" yaml:"vol_gate_lo"`
	VolGateHi           float64 `json:"vol_gate_hi" yaml:"vol_gate_hi"`
	SpreadLimitBps      float64 `json:"spread_limit_bps" yaml:"spread_limit_bps"` // 0 disables the spread gate
	RequireConsensus    bool    `json:"require_consensus" yaml:"require_consensus"`
	ModelWeight         float64 `json:"model_weight" yaml:"model_weight"` // weight of model vs oracle in fusion
	DeadZone            float64 `json:"dead_zone" yaml:"dead_zone"`       // half-width of the SKIP band around 0.5
	MaxOpenPositions    int     `json:"max_open_positions" yaml:"max_open_positions"`
	DailyMaxLossFrac    float64 `json:"daily_max_loss_frac" yaml:"daily_max_loss_frac"`
	LossStreakLimit     int     `json:"loss_streak_limit" yaml:"loss_streak_limit"`
	CooldownMinutes     int     `json:"cooldown_minutes" yaml:"cooldown_minutes"`
	RiskFraction        float64 `json:"risk_fraction" yaml:"risk_fraction"`
	SafetyBuffer        float64 `json:"safety_buffer" yaml:"safety_buffer"`
	TrailingFrac        float64 `json:"trailing_frac" yaml:"trailing_frac"` // 0 derives from volatility
	ATRScaleTP          float64 `json:"atr_scale_tp" yaml:"atr_scale_tp"`   // 0 disables ATR scaling
	ATRScaleSL          float64 `json:"atr_scale_sl" yaml:"atr_scale_sl"`
	TPCap               float64 `json:"tp_cap" yaml:"tp_cap"` // 0 means uncapped
	SLCap               float64 `json:"sl_cap" yaml:"sl_cap"`
}

// Validate reports the first configuration problem found.
func (c ModeConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("mode config missing name")
	}
	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1 {
		return fmt.Errorf("mode %s: confidence_threshold %.3f outside [0,1]", c.Name, c.ConfidenceThreshold)
	}
	if c.TPFrac <= 0 || c.SLFrac <= 0 {
		return fmt.Errorf("mode %s: tp_frac and sl_frac must be positive", c.Name)
	}
	if c.VolGateHi < c.VolGateLo {
		return fmt.Errorf("mode %s: vol_gate_hi %.5f below vol_gate_lo %.5f", c.Name, c.VolGateHi, c.VolGateLo)
	}
	split := c.TPSplit.TP1 + c.TPSplit.TP2
	if split <= 0 || split > 1.0+1e-9 {
		return fmt.Errorf("mode %s: tp_split fractions sum to %.3f, want (0,1]", c.Name, split)
	}
	if c.TPSplit.BreakevenTrigger <= 0 || c.TPSplit.BreakevenTrigger > 1 {
		return fmt.Errorf("mode %s: tp_split.breakeven_trigger %.3f outside (0,1]", c.Name, c.TPSplit.BreakevenTrigger)
	}
	if c.MaxOpenPositions <= 0 {
		return fmt.Errorf("mode %s: max_open_positions must be positive", c.Name)
	}
	if c.RiskFraction <= 0 || c.RiskFraction > 1 {
		return fmt.Errorf("mode %s: risk_fraction %.3f outside (0,1]", c.Name, c.RiskFraction)
	}
	return nil
}

// WithATROverrides returns a copy with TP/SL widened by ATR when the mode
// enables ATR scaling. SL scales at half the ATR step, so it stays tighter.
func (c ModeConfig) WithATROverrides(atrFrac float64) ModeConfig {
	if atrFrac <= 0 || (c.ATRScaleTP == 0 && c.ATRScaleSL == 0) {
		return c
	}
	out := c
	if c.ATRScaleTP > 0 {
		out.TPFrac = math.Max(c.TPFrac, c.ATRScaleTP*atrFrac)
		if c.TPCap > 0 {
			out.TPFrac = math.Min(out.TPFrac, c.TPCap)
		}
	}
	if c.ATRScaleSL > 0 {
		out.SLFrac = math.Max(c.SLFrac, c.ATRScaleSL*atrFrac*0.5)
		if c.SLCap > 0 {
			out.SLFrac = math.Min(out.SLFrac, c.SLCap)
		}
	}
	return out
}

// EffectiveLeverage applies the mode's hard leverage cap.
func (c ModeConfig) EffectiveLeverage() int {
	lev := c.Leverage
	if lev <= 0 {
		lev = 1
	}
	if c.LeverageCap > 0 && lev > c.LeverageCap {
		lev = c.LeverageCap
	}
	return lev
}

// Default returns the built-in parameter set for a mode name. Unknown names get
// the adaptive profile.
func Default(name string) ModeConfig {
	base := ModeConfig{
		Name:                name,
		Timeframe:           "15m",
		HigherTimeframe:     "1h",
		ConfidenceThreshold: 0.62,
		MinEdgeBps:          5,
		TPFrac:              0.02,
		SLFrac:              0.01,
		TPSplit:             TPSplit{TP1: 0.5, TP2: 0.5, BreakevenTrigger: 0.5},
		Leverage:            5,
		LeverageCap:         10,
		VolGateLo:           0.0015,
		VolGateHi:           0.03,
		ModelWeight:         0.7,
		DeadZone:            0.02,
		MaxOpenPositions:    3,
		DailyMaxLossFrac:    0.05,
		LossStreakLimit:     3,
		CooldownMinutes:     15,
		RiskFraction:        0.02,
		SafetyBuffer:        0.05,
		ATRScaleTP:          1.2,
		ATRScaleSL:          1.0,
	}

	switch name {
	case "scalping":
		base.Timeframe = "5m"
		base.HigherTimeframe = "15m"
		base.ConfidenceThreshold = 0.68
		base.MinEdgeBps = 8
		base.TPFrac = 0.012
		base.SLFrac = 0.006
		base.TPSplit = TPSplit{TP1: 0.6, TP2: 0.4, BreakevenTrigger: 0.6}
		base.VolGateLo = 0.002
		base.VolGateHi = 0.025
		base.SpreadLimitBps = 4
		base.RequireConsensus = true
		base.ATRScaleTP = 0.8
		base.ATRScaleSL = 1.2
		base.TPCap = 0.025
		base.SLCap = 0.012
	case "swing":
		base.Timeframe = "1h"
		base.HigherTimeframe = "4h"
		base.ConfidenceThreshold = 0.60
		base.TPFrac = 0.035
		base.SLFrac = 0.015
		base.VolGateLo = 0.001
		base.VolGateHi = 0.04
		base.CooldownMinutes = 60
	case "hybrid":
		base.RequireConsensus = true
	case "adaptive":
		// base profile
	}
	return base
}
