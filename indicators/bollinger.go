package indicators

import (
	"fmt"
	"math"

	"github.com/rustyeddy/evobot/market"
)

// BandWidth is the Bollinger band width: (upper − lower) / middle, where
// the bands are middle ± k standard deviations of the close over the
// period. A volatility measure normalized by price level.
type BandWidth struct {
	period int
	k      float64
	window []float64
}

func NewBandWidth(period int, k float64) *BandWidth {
	if period <= 1 {
		panic("BandWidth period must be > 1")
	}
	if k <= 0 {
		k = 2
	}
	return &BandWidth{
		period: period,
		k:      k,
		window: make([]float64, 0, period),
	}
}

func (b *BandWidth) Name() string { return fmt.Sprintf("BW(%d,%.1f)", b.period, b.k) }
func (b *BandWidth) Warmup() int  { return b.period }
func (b *BandWidth) Ready() bool  { return len(b.window) >= b.period }

func (b *BandWidth) Reset() {
	b.window = b.window[:0]
}

func (b *BandWidth) Update(c market.Candle) {
	b.window = append(b.window, c.Close)
	if len(b.window) > b.period {
		b.window = b.window[1:]
	}
}

func (b *BandWidth) Value() float64 {
	if !b.Ready() {
		return 0
	}

	n := float64(len(b.window))
	mean := 0.0
	for _, x := range b.window {
		mean += x
	}
	mean /= n
	if mean == 0 {
		return 0
	}

	variance := 0.0
	for _, x := range b.window {
		d := x - mean
		variance += d * d
	}
	sd := math.Sqrt(variance / n)

	// (upper - lower) / middle = 2k·sd / mean
	return 2 * b.k * sd / mean
}
