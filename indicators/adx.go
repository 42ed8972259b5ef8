package indicators

import (
	"fmt"
	"math"

	"github.com/rustyeddy/evobot/market"
)

// ADX is Wilder's Average Directional Index (trend strength, 0..100).
//
// Warmup happens in two phases:
//  1. Period candles to build the initial smoothed TR/+DM/-DM
//  2. Period DX values, averaged, to seed ADX
//
// Practically that is about 2*Period candles after the first seed candle,
// so Warmup() reports 2*Period + 1.
type ADX struct {
	period int

	prev    market.Candle
	hasPrev bool

	periods int // deltas consumed

	// phase 1 accumulation
	sumTR      float64
	sumPlusDM  float64
	sumMinusDM float64

	// Wilder-smoothed after phase 1
	smTR      float64
	smPlusDM  float64
	smMinusDM float64

	// phase 2: seed ADX with average of first Period DX values
	dxSum   float64
	dxCount int

	adx   float64
	ready bool
}

func NewADX(period int) *ADX {
	if period <= 0 {
		panic("ADX period must be > 0")
	}
	return &ADX{period: period}
}

func (a *ADX) Name() string { return fmt.Sprintf("ADX(%d)", a.period) }
func (a *ADX) Warmup() int  { return 2*a.period + 1 }
func (a *ADX) Ready() bool  { return a.ready }

func (a *ADX) Reset() {
	*a = ADX{period: a.period}
}

func (a *ADX) Update(c market.Candle) {
	if !a.hasPrev {
		a.prev = c
		a.hasPrev = true
		return
	}

	upMove := c.High - a.prev.High
	downMove := a.prev.Low - c.Low

	var plusDM, minusDM float64
	if upMove > downMove && upMove > 0 {
		plusDM = upMove
	}
	if downMove > upMove && downMove > 0 {
		minusDM = downMove
	}
	tr := trueRange(c, a.prev)
	a.prev = c
	a.periods++

	// Phase 1: accumulate the first Period samples, then seed smoothing.
	if a.periods <= a.period {
		a.sumTR += tr
		a.sumPlusDM += plusDM
		a.sumMinusDM += minusDM
		if a.periods == a.period {
			a.smTR = a.sumTR
			a.smPlusDM = a.sumPlusDM
			a.smMinusDM = a.sumMinusDM
		}
		return
	}

	// Wilder smoothing of TR/+DM/-DM.
	p := float64(a.period)
	a.smTR = a.smTR - a.smTR/p + tr
	a.smPlusDM = a.smPlusDM - a.smPlusDM/p + plusDM
	a.smMinusDM = a.smMinusDM - a.smMinusDM/p + minusDM

	if a.smTR == 0 {
		return
	}

	plusDI := 100 * a.smPlusDM / a.smTR
	minusDI := 100 * a.smMinusDM / a.smTR
	den := plusDI + minusDI
	if den == 0 {
		return
	}
	dx := 100 * math.Abs(plusDI-minusDI) / den

	if !a.ready {
		a.dxSum += dx
		a.dxCount++
		if a.dxCount == a.period {
			a.adx = a.dxSum / p
			a.ready = true
		}
		return
	}

	a.adx = (a.adx*(p-1) + dx) / p
}

func (a *ADX) Value() float64 {
	if !a.ready {
		return 0
	}
	return a.adx
}
