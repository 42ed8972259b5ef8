package monitor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeNotifier struct {
	alerts int
}

func (f *fakeNotifier) Notify(title, msg string) error {
	f.alerts++
	return nil
}

func TestCountersAndSnapshot(t *testing.T) {
	t.Parallel()

	m := New(DefaultConfig(), nil)
	m.Inc(CTicks)
	m.Inc(CTicks)
	m.Inc(COrders)
	m.Inc(CFills)

	snap := m.Snapshot()
	assert.Equal(t, int64(2), snap.Counters[CTicks])
	assert.InDelta(t, 1.0, snap.Health, 1e-9, "all orders filled, no errors")
}

func TestHealthDegradesWithErrors(t *testing.T) {
	t.Parallel()

	m := New(DefaultConfig(), nil)
	for i := 0; i < 10; i++ {
		m.Inc(COrders)
	}
	for i := 0; i < 5; i++ {
		m.Inc(CFills)
	}
	for i := 0; i < 10; i++ {
		m.Inc(CExecErrors)
	}

	snap := m.Snapshot()
	assert.Less(t, snap.Health, 0.5)
}

func TestHealthyWithNoTraffic(t *testing.T) {
	t.Parallel()

	m := New(DefaultConfig(), nil)
	assert.InDelta(t, 1.0, m.Snapshot().Health, 1e-9)
}

func TestLatencyPercentiles(t *testing.T) {
	t.Parallel()

	m := New(DefaultConfig(), nil)
	for i := 1; i <= 100; i++ {
		m.ObserveLatency(time.Duration(i) * time.Millisecond)
	}

	p := m.Snapshot().Latency
	assert.Equal(t, 50*time.Millisecond, p.P50)
	assert.Equal(t, 95*time.Millisecond, p.P95)
	assert.Equal(t, 99*time.Millisecond, p.P99)
}

func TestAlertCooldown(t *testing.T) {
	t.Parallel()

	n := &fakeNotifier{}
	m := New(Config{CriticalHealth: 0.5, AlertCooldown: 10 * time.Minute}, n)

	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	m.SetClock(func() time.Time { return now })

	// Force a critical state: orders with no fills.
	for i := 0; i < 10; i++ {
		m.Inc(COrders)
		m.Inc(CExecErrors)
	}

	snap := m.CheckHealth()
	require.LessOrEqual(t, snap.Health, 0.5)
	assert.Equal(t, 1, n.alerts)

	// Within cooldown: suppressed.
	now = now.Add(5 * time.Minute)
	m.CheckHealth()
	assert.Equal(t, 1, n.alerts)

	// Cooldown elapsed: fires again.
	now = now.Add(6 * time.Minute)
	m.CheckHealth()
	assert.Equal(t, 2, n.alerts)
}

func TestWorkerCrashesPenalizeHealth(t *testing.T) {
	t.Parallel()

	m := New(DefaultConfig(), nil)
	for i := 0; i < 3; i++ {
		m.Inc(CWorkerCrashes)
	}
	snap := m.Snapshot()
	assert.InDelta(t, 0.7, snap.Health, 1e-9)
}
