package indicators

import (
	"fmt"
	"math"

	"github.com/rustyeddy/evobot/market"
)

func trueRange(c, prev market.Candle) float64 {
	a := c.High - c.Low
	b := math.Abs(c.High - prev.Close)
	d := math.Abs(c.Low - prev.Close)
	return math.Max(a, math.Max(b, d))
}

// ATR is Wilder's Average True Range: seeded with an SMA of the first
// Period true ranges, then Wilder-smoothed.
type ATR struct {
	period int

	prev    market.Candle
	hasPrev bool

	seen  int
	sumTR float64
	atr   float64
	ready bool
}

func NewATR(period int) *ATR {
	if period <= 0 {
		panic("ATR period must be > 0")
	}
	return &ATR{period: period}
}

func (a *ATR) Name() string { return fmt.Sprintf("ATR(%d)", a.period) }
func (a *ATR) Warmup() int  { return a.period + 1 }
func (a *ATR) Ready() bool  { return a.ready }

func (a *ATR) Reset() {
	*a = ATR{period: a.period}
}

func (a *ATR) Update(c market.Candle) {
	if !a.hasPrev {
		a.prev = c
		a.hasPrev = true
		return
	}

	tr := trueRange(c, a.prev)
	a.prev = c

	a.seen++
	if a.seen <= a.period {
		a.sumTR += tr
		if a.seen == a.period {
			a.atr = a.sumTR / float64(a.period)
			a.ready = true
		}
		return
	}

	p := float64(a.period)
	a.atr = (a.atr*(p-1) + tr) / p
}

func (a *ATR) Value() float64 {
	if !a.ready {
		return 0
	}
	return a.atr
}
