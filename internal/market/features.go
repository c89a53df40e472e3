package market

import (
	"fmt"
	"math"
	"time"
)

// FeatureVector is one immutable per-tick snapshot of the feature set the
// decision pipeline consumes. One is produced per evaluation tick per symbol.
type FeatureVector struct {
	TrendScore     float64   `json:"trend_score"`     // -1..1, fast vs slow EMA separation
	VolatilityFrac float64   `json:"volatility_frac"` // mean abs return per bar
	MomentumScore  float64   `json:"momentum_score"`  // -1..1, RSI recentered
	SpreadBps      float64   `json:"spread_bps"`
	ATRFrac        float64   `json:"atr_frac"` // ATR relative to last close
	Timestamp      time.Time `json:"timestamp"`
}

// ExtractorConfig holds indicator periods for feature extraction.
type ExtractorConfig struct {
	EMAFast     int `json:"ema_fast"`
	EMASlow     int `json:"ema_slow"`
	RSIPeriod   int `json:"rsi_period"`
	ATRPeriod   int `json:"atr_period"`
	VolLookback int `json:"vol_lookback"`
}

// DefaultExtractorConfig returns the standard periods.
func DefaultExtractorConfig() ExtractorConfig {
	return ExtractorConfig{
		EMAFast:     9,
		EMASlow:     50,
		RSIPeriod:   14,
		ATRPeriod:   14,
		VolLookback: 20,
	}
}

// Extractor turns candle history into FeatureVectors.
type Extractor struct {
	cfg ExtractorConfig
}

// NewExtractor creates an extractor. A zero-value config gets defaults.
func NewExtractor(cfg ExtractorConfig) *Extractor {
	def := DefaultExtractorConfig()
	if cfg.EMAFast <= 0 {
		cfg.EMAFast = def.EMAFast
	}
	if cfg.EMASlow <= 0 {
		cfg.EMASlow = def.EMASlow
	}
	if cfg.RSIPeriod <= 0 {
		cfg.RSIPeriod = def.RSIPeriod
	}
	if cfg.ATRPeriod <= 0 {
		cfg.ATRPeriod = def.ATRPeriod
	}
	if cfg.VolLookback <= 0 {
		cfg.VolLookback = def.VolLookback
	}
	return &Extractor{cfg: cfg}
}

// MinBars is the minimum candle history Extract needs.
func (e *Extractor) MinBars() int {
	min := e.cfg.EMASlow
	for _, p := range []int{e.cfg.EMAFast, e.cfg.RSIPeriod + 1, e.cfg.ATRPeriod + 1, e.cfg.VolLookback + 1} {
		if p > min {
			min = p
		}
	}
	return min
}

// Extract computes the feature vector for the most recent candle. spreadBps is
// supplied by the caller (order book proxy, or 0 when unknown).
func (e *Extractor) Extract(candles []Candle, spreadBps float64) (FeatureVector, error) {
	if len(candles) < e.MinBars() {
		return FeatureVector{}, fmt.Errorf("insufficient history: got %d candles, need %d", len(candles), e.MinBars())
	}

	last := candles[len(candles)-1]
	if last.Close <= 0 {
		return FeatureVector{}, fmt.Errorf("non-positive close %.8f at %s", last.Close, last.OpenTime)
	}

	emaFast := EMA(candles, e.cfg.EMAFast)
	emaSlow := EMA(candles, e.cfg.EMASlow)

	// EMA separation normalized by price, squashed into -1..1.
	// 1% separation maps to ~0.76.
	trend := math.Tanh((emaFast - emaSlow) / last.Close * 100)

	rsi := RSI(candles, e.cfg.RSIPeriod)
	momentum := (rsi - 50) / 50

	return FeatureVector{
		TrendScore:     trend,
		VolatilityFrac: RealizedVolatility(candles, e.cfg.VolLookback),
		MomentumScore:  momentum,
		SpreadBps:      spreadBps,
		ATRFrac:        ATR(candles, e.cfg.ATRPeriod) / last.Close,
		Timestamp:      last.OpenTime,
	}, nil
}
