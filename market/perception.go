package market

import "time"

// Perception builds candles from raw ticks and keeps a bounded rolling
// window of closed bars for one symbol.
//
// Invariants:
//   - at most one open candle, keyed by its bucket start
//   - closed candles have strictly increasing bucket timestamps
//   - the window never exceeds the configured cap (oldest evicted)
type Perception struct {
	symbol string
	bucket time.Duration
	cap    int

	open    *Candle
	candles []Candle

	dropped int // ticks older than the open bucket
}

const DefaultCandleCap = 500

func NewPerception(symbol string, bucket time.Duration, cap int) *Perception {
	if cap <= 0 {
		cap = DefaultCandleCap
	}
	if bucket <= 0 {
		bucket = time.Minute
	}
	return &Perception{
		symbol:  symbol,
		bucket:  bucket,
		cap:     cap,
		candles: make([]Candle, 0, cap),
	}
}

func (p *Perception) Symbol() string { return p.symbol }

// AddTick folds a price into the open candle. When ts lands in a later
// bucket the open candle is closed and returned, and a new one opens.
// Ticks older than the open bucket are dropped, not retrofitted.
func (p *Perception) AddTick(price float64, ts time.Time) (closed *Candle) {
	start := Bucket(ts, p.bucket)

	if p.open == nil {
		p.open = p.newCandle(price, start)
		return nil
	}

	switch {
	case start.Equal(p.open.OpenTime):
		p.open.Close = price
		if price > p.open.High {
			p.open.High = price
		}
		if price < p.open.Low {
			p.open.Low = price
		}
		return nil

	case start.After(p.open.OpenTime):
		done := *p.open
		p.append(done)
		p.open = p.newCandle(price, start)
		return &done

	default:
		p.dropped++
		return nil
	}
}

// Window returns the closed candles, oldest first. The slice is shared;
// callers must not mutate it.
func (p *Perception) Window() []Candle { return p.candles }

// Last returns the most recently closed candle.
func (p *Perception) Last() (Candle, bool) {
	if len(p.candles) == 0 {
		return Candle{}, false
	}
	return p.candles[len(p.candles)-1], true
}

func (p *Perception) Len() int          { return len(p.candles) }
func (p *Perception) DroppedTicks() int { return p.dropped }

func (p *Perception) newCandle(price float64, start time.Time) *Candle {
	return &Candle{
		Symbol:   p.symbol,
		OpenTime: start,
		Open:     price,
		High:     price,
		Low:      price,
		Close:    price,
	}
}

func (p *Perception) append(c Candle) {
	p.candles = append(p.candles, c)
	if len(p.candles) > p.cap {
		// Shift rather than reslice so the backing array doesn't grow
		// without bound over a long session.
		copy(p.candles, p.candles[1:])
		p.candles = p.candles[:p.cap]
	}
}
