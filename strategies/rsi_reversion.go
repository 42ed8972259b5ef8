package strategies

import (
	"github.com/rustyeddy/evobot/indicators"
	"github.com/rustyeddy/evobot/market"
)

// RSIReversion buys oversold and sells overbought, but only when the
// trend is weak (ADX below the configured minimum): mean reversion in a
// strong trend is how accounts die.
type RSIReversion struct{}

func (RSIReversion) Name() string  { return "rsi-reversion" }
func (RSIReversion) Priority() int { return 2 }

func (RSIReversion) Evaluate(c market.Candle, snap indicators.Snapshot, p Params) *TradeIdea {
	if snap.ADX >= p.ADXMin {
		return nil
	}

	switch {
	case snap.RSI <= p.RSIBuy:
		return &TradeIdea{
			Symbol:     c.Symbol,
			Side:       market.Buy,
			Price:      c.Close,
			Reason:     "RSIOversold",
			Confidence: (p.RSIBuy - snap.RSI) / p.RSIBuy,
		}
	case snap.RSI >= p.RSISell:
		return &TradeIdea{
			Symbol:     c.Symbol,
			Side:       market.Sell,
			Price:      c.Close,
			Reason:     "RSIOverbought",
			Confidence: (snap.RSI - p.RSISell) / (100 - p.RSISell),
		}
	default:
		return nil
	}
}
