package indicators

import "github.com/rustyeddy/evobot/market"

// Snapshot is the indicator state after one candle close. Consumers must
// treat Ready == false as "no signal", never as zero values.
type Snapshot struct {
	Ready bool

	FastMA    float64
	SlowMA    float64
	RSI       float64
	ADX       float64
	ATR       float64
	BandWidth float64

	// TrendSlope is the per-candle change of the fast MA, averaged over
	// the last few closes. Positive means rising.
	TrendSlope float64

	Close float64
}

// CacheConfig sets indicator periods. Zero fields get defaults.
type CacheConfig struct {
	FastPeriod int     `yaml:"fast_period"`
	SlowPeriod int     `yaml:"slow_period"`
	RSIPeriod  int     `yaml:"rsi_period"`
	ADXPeriod  int     `yaml:"adx_period"`
	ATRPeriod  int     `yaml:"atr_period"`
	BandPeriod int     `yaml:"band_period"`
	BandK      float64 `yaml:"band_k"`
}

func (c *CacheConfig) defaults() {
	if c.FastPeriod == 0 {
		c.FastPeriod = 10
	}
	if c.SlowPeriod == 0 {
		c.SlowPeriod = 30
	}
	if c.RSIPeriod == 0 {
		c.RSIPeriod = 14
	}
	if c.ADXPeriod == 0 {
		c.ADXPeriod = 14
	}
	if c.ATRPeriod == 0 {
		c.ATRPeriod = 14
	}
	if c.BandPeriod == 0 {
		c.BandPeriod = 20
	}
	if c.BandK == 0 {
		c.BandK = 2
	}
}

const slopeWindow = 5

// Cache updates every indicator incrementally on each candle close and
// hands out a consistent Snapshot per close.
type Cache struct {
	fast *SimpleMA
	slow *SimpleMA
	rsi  *RSI
	adx  *ADX
	atr  *ATR
	bw   *BandWidth

	fastHist []float64
}

func NewCache(cfg CacheConfig) *Cache {
	cfg.defaults()
	return &Cache{
		fast: NewMA(cfg.FastPeriod),
		slow: NewMA(cfg.SlowPeriod),
		rsi:  NewRSI(cfg.RSIPeriod),
		adx:  NewADX(cfg.ADXPeriod),
		atr:  NewATR(cfg.ATRPeriod),
		bw:   NewBandWidth(cfg.BandPeriod, cfg.BandK),
	}
}

func (c *Cache) Reset() {
	c.fast.Reset()
	c.slow.Reset()
	c.rsi.Reset()
	c.adx.Reset()
	c.atr.Reset()
	c.bw.Reset()
	c.fastHist = c.fastHist[:0]
}

// Update consumes one closed candle and returns the resulting snapshot.
func (c *Cache) Update(candle market.Candle) Snapshot {
	c.fast.Update(candle)
	c.slow.Update(candle)
	c.rsi.Update(candle)
	c.adx.Update(candle)
	c.atr.Update(candle)
	c.bw.Update(candle)

	if c.fast.Ready() {
		c.fastHist = append(c.fastHist, c.fast.Value())
		if len(c.fastHist) > slopeWindow {
			c.fastHist = c.fastHist[1:]
		}
	}

	ready := c.fast.Ready() && c.slow.Ready() && c.rsi.Ready() &&
		c.adx.Ready() && c.atr.Ready() && c.bw.Ready()

	return Snapshot{
		Ready:      ready,
		FastMA:     c.fast.Value(),
		SlowMA:     c.slow.Value(),
		RSI:        c.rsi.Value(),
		ADX:        c.adx.Value(),
		ATR:        c.atr.Value(),
		BandWidth:  c.bw.Value(),
		TrendSlope: c.slope(),
		Close:      candle.Close,
	}
}

func (c *Cache) slope() float64 {
	n := len(c.fastHist)
	if n < 2 {
		return 0
	}
	return (c.fastHist[n-1] - c.fastHist[0]) / float64(n-1)
}
