package indicators

import (
	"fmt"

	"github.com/rustyeddy/evobot/market"
)

// SimpleMA is a streaming Simple Moving Average over candle closes.
type SimpleMA struct {
	period int
	window []float64
	sum    float64
}

func NewMA(period int) *SimpleMA {
	if period <= 0 {
		panic("MA period must be > 0")
	}
	return &SimpleMA{
		period: period,
		window: make([]float64, 0, period),
	}
}

func (m *SimpleMA) Name() string { return fmt.Sprintf("MA(%d)", m.period) }
func (m *SimpleMA) Warmup() int  { return m.period }
func (m *SimpleMA) Ready() bool  { return len(m.window) >= m.period }

func (m *SimpleMA) Reset() {
	m.window = m.window[:0]
	m.sum = 0
}

func (m *SimpleMA) Update(c market.Candle) {
	m.window = append(m.window, c.Close)
	m.sum += c.Close
	if len(m.window) > m.period {
		m.sum -= m.window[0]
		m.window = m.window[1:]
	}
}

func (m *SimpleMA) Value() float64 {
	if !m.Ready() {
		return 0
	}
	return m.sum / float64(len(m.window))
}

// ExponentialMA is a streaming Exponential Moving Average over candle
// closes, seeded with an SMA of the first period values.
type ExponentialMA struct {
	period     int
	multiplier float64
	ema        float64
	count      int
	warmupSum  float64
}

func NewEMA(period int) *ExponentialMA {
	if period <= 0 {
		panic("EMA period must be > 0")
	}
	return &ExponentialMA{
		period:     period,
		multiplier: 2.0 / float64(period+1),
	}
}

func (e *ExponentialMA) Name() string { return fmt.Sprintf("EMA(%d)", e.period) }
func (e *ExponentialMA) Warmup() int  { return e.period }
func (e *ExponentialMA) Ready() bool  { return e.count >= e.period }

func (e *ExponentialMA) Reset() {
	e.ema = 0
	e.count = 0
	e.warmupSum = 0
}

func (e *ExponentialMA) Update(c market.Candle) {
	if e.count < e.period {
		e.warmupSum += c.Close
		e.count++
		if e.count == e.period {
			e.ema = e.warmupSum / float64(e.period)
		}
		return
	}
	e.ema = (c.Close-e.ema)*e.multiplier + e.ema
}

func (e *ExponentialMA) Value() float64 {
	if !e.Ready() {
		return 0
	}
	return e.ema
}
