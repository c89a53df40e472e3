package market

import "math"

// SMA calculates the Simple Moving Average of closes.
func SMA(candles []Candle, period int) float64 {
	if len(candles) < period || period <= 0 {
		return 0
	}

	sum := 0.0
	for i := len(candles) - period; i < len(candles); i++ {
		sum += candles[i].Close
	}
	return sum / float64(period)
}

// EMA calculates the Exponential Moving Average of closes.
func EMA(candles []Candle, period int) float64 {
	if len(candles) < period || period <= 0 {
		return 0
	}

	// Initial SMA as starting point
	ema := SMA(candles[:period], period)
	multiplier := 2.0 / float64(period+1)

	for i := period; i < len(candles); i++ {
		ema = (candles[i].Close * multiplier) + (ema * (1 - multiplier))
	}
	return ema
}

// RSI calculates the Relative Strength Index.
func RSI(candles []Candle, period int) float64 {
	if len(candles) < period+1 {
		return 50.0 // Neutral
	}

	gains := 0.0
	losses := 0.0
	for i := len(candles) - period; i < len(candles); i++ {
		change := candles[i].Close - candles[i-1].Close
		if change > 0 {
			gains += change
		} else {
			losses += -change
		}
	}

	avgGain := gains / float64(period)
	avgLoss := losses / float64(period)
	if avgLoss == 0 {
		return 100.0
	}

	rs := avgGain / avgLoss
	return 100 - (100 / (1 + rs))
}

// ATR calculates the Average True Range.
func ATR(candles []Candle, period int) float64 {
	if len(candles) < period+1 {
		return 0
	}

	sum := 0.0
	for i := len(candles) - period; i < len(candles); i++ {
		highLow := candles[i].High - candles[i].Low
		highClose := math.Abs(candles[i].High - candles[i-1].Close)
		lowClose := math.Abs(candles[i].Low - candles[i-1].Close)
		sum += math.Max(highLow, math.Max(highClose, lowClose))
	}
	return sum / float64(period)
}

// RealizedVolatility is the mean absolute close-to-close return over the period.
func RealizedVolatility(candles []Candle, period int) float64 {
	if len(candles) < period+1 {
		return 0
	}

	sum := 0.0
	count := 0
	for i := len(candles) - period; i < len(candles); i++ {
		prev := candles[i-1].Close
		if prev <= 0 {
			continue
		}
		sum += math.Abs(candles[i].Close-prev) / prev
		count++
	}
	if count == 0 {
		return 0
	}
	return sum / float64(count)
}
