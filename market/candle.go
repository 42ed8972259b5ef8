package market

import "time"

// Candle is one OHLC bar over a fixed time bucket. OpenTime is the bucket
// start, truncated to the bucket size.
type Candle struct {
	Symbol   string
	OpenTime time.Time

	Open  float64
	High  float64
	Low   float64
	Close float64
}

// Bucket truncates ts to the start of its bucket.
func Bucket(ts time.Time, size time.Duration) time.Time {
	return ts.UTC().Truncate(size)
}
