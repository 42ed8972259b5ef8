package market

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ts(sec int) time.Time {
	return time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC).Add(time.Duration(sec) * time.Second)
}

func TestPerceptionSameBucketMerges(t *testing.T) {
	t.Parallel()

	p := NewPerception("EUR_USD", time.Minute, 10)

	require.Nil(t, p.AddTick(1.10, ts(0)))
	require.Nil(t, p.AddTick(1.12, ts(20)))
	require.Nil(t, p.AddTick(1.09, ts(40)))

	closed := p.AddTick(1.11, ts(61))
	require.NotNil(t, closed)

	assert.Equal(t, 1.10, closed.Open)
	assert.Equal(t, 1.12, closed.High)
	assert.Equal(t, 1.09, closed.Low)
	assert.Equal(t, 1.09, closed.Close)
	assert.Equal(t, ts(0), closed.OpenTime)
	assert.Equal(t, 1, p.Len())
}

func TestPerceptionDropsOutOfOrderTicks(t *testing.T) {
	t.Parallel()

	p := NewPerception("EUR_USD", time.Minute, 10)
	p.AddTick(1.10, ts(70))

	closed := p.AddTick(1.20, ts(5)) // older bucket
	assert.Nil(t, closed)
	assert.Equal(t, 1, p.DroppedTicks())
	assert.Equal(t, 0, p.Len())
}

func TestPerceptionCapEvictsOldest(t *testing.T) {
	t.Parallel()

	p := NewPerception("EUR_USD", time.Minute, 3)
	for i := 0; i < 6; i++ {
		p.AddTick(float64(i), ts(i*60))
	}

	require.Equal(t, 3, p.Len())

	w := p.Window()
	// 5 candles closed (the 6th is still open); window holds the last 3.
	assert.Equal(t, ts(2*60), w[0].OpenTime)
	assert.Equal(t, ts(4*60), w[2].OpenTime)

	// No duplicate bucket timestamps.
	seen := map[time.Time]bool{}
	for _, c := range w {
		require.False(t, seen[c.OpenTime], "duplicate bucket %v", c.OpenTime)
		seen[c.OpenTime] = true
	}
}

func TestPerceptionMonotonicBuckets(t *testing.T) {
	t.Parallel()

	p := NewPerception("EUR_USD", time.Minute, 100)
	// Gap of several buckets between ticks is fine; buckets stay increasing.
	p.AddTick(1.0, ts(0))
	p.AddTick(1.1, ts(60))
	p.AddTick(1.2, ts(600))
	p.AddTick(1.3, ts(660))

	w := p.Window()
	require.Len(t, w, 3)
	for i := 1; i < len(w); i++ {
		assert.True(t, w[i].OpenTime.After(w[i-1].OpenTime))
	}
}

func TestTickStore(t *testing.T) {
	t.Parallel()

	s := NewTickStore()
	_, err := s.Get("EUR_USD")
	assert.ErrorIs(t, err, ErrNoPrice)

	s.Set(Tick{Symbol: "EUR_USD", Bid: 1.0999, Ask: 1.1001})
	tk, err := s.Get("EUR_USD")
	require.NoError(t, err)
	assert.InDelta(t, 1.1000, tk.Mid(), 1e-9)
	assert.InDelta(t, 0.0002, tk.Spread(), 1e-9)
}
