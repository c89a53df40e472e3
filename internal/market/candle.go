// Package market holds candle data, the feature extractor, and market data feeds.
package market

import "time"

// Candle is one OHLCV bar.
type Candle struct {
	OpenTime time.Time `json:"open_time"`
	Open     float64   `json:"open"`
	High     float64   `json:"high"`
	Low      float64   `json:"low"`
	Close    float64   `json:"close"`
	Volume   float64   `json:"volume"`
}

// Series is a time-ordered candle history with a bounded length.
type Series struct {
	candles []Candle
	maxLen  int
}

// NewSeries creates a series that retains at most maxLen candles.
func NewSeries(maxLen int) *Series {
	if maxLen <= 0 {
		maxLen = 500
	}
	return &Series{maxLen: maxLen}
}

// Append adds a candle, evicting the oldest when the series is full.
// A candle with the same open time as the last one replaces it (stream updates
// re-send the current bar until it closes).
func (s *Series) Append(c Candle) {
	n := len(s.candles)
	if n > 0 && s.candles[n-1].OpenTime.Equal(c.OpenTime) {
		s.candles[n-1] = c
		return
	}
	s.candles = append(s.candles, c)
	if len(s.candles) > s.maxLen {
		s.candles = s.candles[len(s.candles)-s.maxLen:]
	}
}

// Candles returns the underlying slice. Callers must not mutate it.
func (s *Series) Candles() []Candle { return s.candles }

// Len returns the number of stored candles.
func (s *Series) Len() int { return len(s.candles) }

// Last returns the most recent candle and whether one exists.
func (s *Series) Last() (Candle, bool) {
	if len(s.candles) == 0 {
		return Candle{}, false
	}
	return s.candles[len(s.candles)-1], true
}
