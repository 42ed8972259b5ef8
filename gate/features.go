package gate

import (
	"github.com/rustyeddy/evobot/indicators"
	"github.com/rustyeddy/evobot/market"
)

// NFeatures is the width of the feature vector. The field order below is
// a shared contract with the offline training pipeline; changing it
// breaks every deployed model.
const NFeatures = 8

// Features projects one candle close into the gate's input vector.
//
// Order: rsi, fastMA, slowMA, trendSlope, adx, atr, bandWidth, pattern.
func Features(c market.Candle, s indicators.Snapshot) []float64 {
	return []float64{
		s.RSI,
		s.FastMA,
		s.SlowMA,
		s.TrendSlope,
		s.ADX,
		s.ATR,
		s.BandWidth,
		patternCode(c),
	}
}

// patternCode is a coarse single-candle shape encoding: +1 bullish body,
// -1 bearish body, 0 doji (body under 10% of the range).
func patternCode(c market.Candle) float64 {
	body := c.Close - c.Open
	rng := c.High - c.Low
	if rng <= 0 {
		return 0
	}
	if body > 0.1*rng {
		return 1
	}
	if body < -0.1*rng {
		return -1
	}
	return 0
}
