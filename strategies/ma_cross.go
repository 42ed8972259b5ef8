package strategies

import (
	"github.com/rustyeddy/evobot/indicators"
	"github.com/rustyeddy/evobot/market"
)

// MACross signals on a fast/slow moving-average crossover.
// - Bull cross: fast moves from <= slow to > slow
// - Bear cross: the reverse
//
// It keeps only the previous MA difference; position state lives in the
// agent, never here.
type MACross struct {
	lastDiff     float64
	haveLastDiff bool
}

func (s *MACross) Name() string  { return "ma-cross" }
func (s *MACross) Priority() int { return 1 }

func (s *MACross) Evaluate(c market.Candle, snap indicators.Snapshot, p Params) *TradeIdea {
	diff := snap.FastMA - snap.SlowMA

	if !s.haveLastDiff {
		s.lastDiff = diff
		s.haveLastDiff = true
		return nil
	}

	bullCross := diff > 0 && s.lastDiff <= 0
	bearCross := diff < 0 && s.lastDiff >= 0
	s.lastDiff = diff

	switch {
	case bullCross:
		return &TradeIdea{
			Symbol:     c.Symbol,
			Side:       market.Buy,
			Price:      c.Close,
			Reason:     "BullCross",
			Confidence: crossConfidence(snap),
		}
	case bearCross:
		return &TradeIdea{
			Symbol:     c.Symbol,
			Side:       market.Sell,
			Price:      c.Close,
			Reason:     "BearCross",
			Confidence: crossConfidence(snap),
		}
	default:
		return nil
	}
}

// crossConfidence leans on ADX: a cross in a trending market is worth more
// than one in chop.
func crossConfidence(snap indicators.Snapshot) float64 {
	conf := snap.ADX / 100
	if conf > 1 {
		conf = 1
	}
	if conf < 0.1 {
		conf = 0.1
	}
	return conf
}
