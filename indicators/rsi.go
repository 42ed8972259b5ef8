package indicators

import (
	"fmt"

	"github.com/rustyeddy/evobot/market"
)

// RSI is Wilder's Relative Strength Index over candle closes.
//
// Warmup: the first Period deltas seed the average gain/loss as simple
// averages; after that both are Wilder-smoothed.
type RSI struct {
	period int

	prev    float64
	hasPrev bool

	seen    int // deltas consumed
	sumGain float64
	sumLoss float64

	avgGain float64
	avgLoss float64
	ready   bool
}

func NewRSI(period int) *RSI {
	if period <= 0 {
		panic("RSI period must be > 0")
	}
	return &RSI{period: period}
}

func (r *RSI) Name() string { return fmt.Sprintf("RSI(%d)", r.period) }
func (r *RSI) Warmup() int  { return r.period + 1 }
func (r *RSI) Ready() bool  { return r.ready }

func (r *RSI) Reset() {
	*r = RSI{period: r.period}
}

func (r *RSI) Update(c market.Candle) {
	if !r.hasPrev {
		r.prev = c.Close
		r.hasPrev = true
		return
	}

	delta := c.Close - r.prev
	r.prev = c.Close

	gain, loss := 0.0, 0.0
	if delta > 0 {
		gain = delta
	} else {
		loss = -delta
	}

	r.seen++
	if r.seen <= r.period {
		r.sumGain += gain
		r.sumLoss += loss
		if r.seen == r.period {
			p := float64(r.period)
			r.avgGain = r.sumGain / p
			r.avgLoss = r.sumLoss / p
			r.ready = true
		}
		return
	}

	p := float64(r.period)
	r.avgGain = (r.avgGain*(p-1) + gain) / p
	r.avgLoss = (r.avgLoss*(p-1) + loss) / p
}

func (r *RSI) Value() float64 {
	if !r.ready {
		return 0
	}
	if r.avgLoss == 0 {
		return 100
	}
	rs := r.avgGain / r.avgLoss
	return 100 - 100/(1+rs)
}
