package strategies

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/evobot/indicators"
	"github.com/rustyeddy/evobot/market"
)

func snap(mut func(*indicators.Snapshot)) indicators.Snapshot {
	s := indicators.Snapshot{
		Ready:     true,
		FastMA:    100,
		SlowMA:    100,
		RSI:       50,
		ADX:       20,
		ATR:       1,
		BandWidth: 0.03,
		Close:     100,
	}
	if mut != nil {
		mut(&s)
	}
	return s
}

func bar(close float64) market.Candle {
	return market.Candle{Symbol: "EUR_USD", Close: close}
}

func TestMACrossDetectsBullAndBearCross(t *testing.T) {
	t.Parallel()

	s := &MACross{}
	p := DefaultParams()

	// Seed: fast below slow, no signal on the very first evaluation.
	assert.Nil(t, s.Evaluate(bar(100), snap(func(x *indicators.Snapshot) { x.FastMA = 99 }), p))

	// Fast crosses above slow.
	idea := s.Evaluate(bar(101), snap(func(x *indicators.Snapshot) { x.FastMA = 101 }), p)
	require.NotNil(t, idea)
	assert.Equal(t, market.Buy, idea.Side)
	assert.Equal(t, "BullCross", idea.Reason)

	// Stays above: no repeat trigger.
	assert.Nil(t, s.Evaluate(bar(102), snap(func(x *indicators.Snapshot) { x.FastMA = 102 }), p))

	// Crosses back below.
	idea = s.Evaluate(bar(99), snap(func(x *indicators.Snapshot) { x.FastMA = 98 }), p)
	require.NotNil(t, idea)
	assert.Equal(t, market.Sell, idea.Side)
}

func TestRSIReversionRespectsADXFilter(t *testing.T) {
	t.Parallel()

	p := DefaultParams()
	s := RSIReversion{}

	oversold := snap(func(x *indicators.Snapshot) { x.RSI = 25 })
	idea := s.Evaluate(bar(100), oversold, p)
	require.NotNil(t, idea)
	assert.Equal(t, market.Buy, idea.Side)

	trending := snap(func(x *indicators.Snapshot) { x.RSI = 25; x.ADX = 40 })
	assert.Nil(t, s.Evaluate(bar(100), trending, p), "no reversion against a strong trend")

	overbought := snap(func(x *indicators.Snapshot) { x.RSI = 80 })
	idea = s.Evaluate(bar(100), overbought, p)
	require.NotNil(t, idea)
	assert.Equal(t, market.Sell, idea.Side)
}

func TestBandBreakoutNeedsWidthAndExcursion(t *testing.T) {
	t.Parallel()

	p := DefaultParams()
	s := BandBreakout{}

	quiet := snap(func(x *indicators.Snapshot) { x.BandWidth = 0.001 })
	assert.Nil(t, s.Evaluate(bar(105), quiet, p))

	wide := snap(nil)
	idea := s.Evaluate(bar(102), wide, p) // 2 ATR above fast MA
	require.NotNil(t, idea)
	assert.Equal(t, market.Buy, idea.Side)
	assert.Equal(t, "BreakoutUp", idea.Reason)

	idea = s.Evaluate(bar(97.5), wide, p)
	require.NotNil(t, idea)
	assert.Equal(t, market.Sell, idea.Side)

	assert.Nil(t, s.Evaluate(bar(100.5), wide, p), "inside one ATR is noise")
}

func TestTrendFollowDirection(t *testing.T) {
	t.Parallel()

	p := DefaultParams()
	s := TrendFollow{}

	up := snap(func(x *indicators.Snapshot) {
		x.ADX = 35
		x.TrendSlope = 0.2
		x.FastMA = 101
	})
	idea := s.Evaluate(bar(101), up, p)
	require.NotNil(t, idea)
	assert.Equal(t, market.Buy, idea.Side)

	flat := snap(func(x *indicators.Snapshot) { x.ADX = 35; x.TrendSlope = 0.01 })
	assert.Nil(t, s.Evaluate(bar(100), flat, p))
}

func TestSetFirstMatchWinsByPriority(t *testing.T) {
	t.Parallel()

	set := DefaultSet()
	p := DefaultParams()

	// Snapshot that satisfies both rsi-reversion (prio 2) and band-breakout
	// (prio 3): reversion must win.
	s := snap(func(x *indicators.Snapshot) { x.RSI = 20 })
	idea, name := set.Evaluate(bar(103), s, p)
	require.NotNil(t, idea)
	assert.Equal(t, "rsi-reversion", name)
}

func TestSetNotReadyMeansNoSignal(t *testing.T) {
	t.Parallel()

	set := DefaultSet()
	s := snap(func(x *indicators.Snapshot) { x.Ready = false; x.RSI = 5 })
	idea, _ := set.Evaluate(bar(100), s, DefaultParams())
	assert.Nil(t, idea)
}
