package strategies

import (
	"github.com/rustyeddy/evobot/indicators"
	"github.com/rustyeddy/evobot/market"
)

// BandBreakout enters in the direction of a close beyond the fast MA by
// more than one ATR, provided the bands are wide enough that the move is
// not just noise inside a quiet range.
type BandBreakout struct{}

func (BandBreakout) Name() string  { return "band-breakout" }
func (BandBreakout) Priority() int { return 3 }

func (BandBreakout) Evaluate(c market.Candle, snap indicators.Snapshot, p Params) *TradeIdea {
	if snap.BandWidth < p.BandWMin || snap.ATR <= 0 {
		return nil
	}

	excursion := c.Close - snap.FastMA
	switch {
	case excursion > snap.ATR:
		return &TradeIdea{
			Symbol:     c.Symbol,
			Side:       market.Buy,
			Price:      c.Close,
			Reason:     "BreakoutUp",
			Confidence: clamp01(excursion / (2 * snap.ATR)),
		}
	case excursion < -snap.ATR:
		return &TradeIdea{
			Symbol:     c.Symbol,
			Side:       market.Sell,
			Price:      c.Close,
			Reason:     "BreakoutDown",
			Confidence: clamp01(-excursion / (2 * snap.ATR)),
		}
	default:
		return nil
	}
}

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}
