package strategies

import (
	"math"

	"github.com/rustyeddy/evobot/indicators"
	"github.com/rustyeddy/evobot/market"
)

// TrendFollow joins an established trend: ADX above the configured
// minimum, fast MA on the right side of slow, and a slope that clears the
// threshold. Lowest priority; it only fires when nothing sharper did.
type TrendFollow struct{}

func (TrendFollow) Name() string  { return "trend-follow" }
func (TrendFollow) Priority() int { return 4 }

func (TrendFollow) Evaluate(c market.Candle, snap indicators.Snapshot, p Params) *TradeIdea {
	if snap.ADX < p.ADXMin || math.Abs(snap.TrendSlope) < p.Slope {
		return nil
	}

	conf := clamp01(snap.ADX / 50)

	switch {
	case snap.TrendSlope > 0 && snap.FastMA > snap.SlowMA:
		return &TradeIdea{
			Symbol:     c.Symbol,
			Side:       market.Buy,
			Price:      c.Close,
			Reason:     "TrendUp",
			Confidence: conf,
		}
	case snap.TrendSlope < 0 && snap.FastMA < snap.SlowMA:
		return &TradeIdea{
			Symbol:     c.Symbol,
			Side:       market.Sell,
			Price:      c.Close,
			Reason:     "TrendDown",
			Confidence: conf,
		}
	default:
		return nil
	}
}
