// Package monitor tracks decision-to-fill pipeline health: counters,
// latency percentiles and a composite health score, with alerting on
// critical degradation subject to a cooldown.
package monitor

import (
	"sort"
	"sync"
	"time"

	"github.com/rustyeddy/evobot/observ"
)

// Counter names used across the pipeline.
const (
	CTicks         = "ticks"
	CCandles       = "candles"
	CIdeas         = "ideas"
	CGateApprovals = "gate_approvals"
	CGateVetoes    = "gate_vetoes"
	CRiskVetoes    = "risk_vetoes"
	COrders        = "orders"
	CFills         = "fills"
	CExecErrors    = "exec_errors"
	CPersistErrors = "persist_errors"
	CWorkerCrashes = "worker_crashes"
)

// Config tunes alerting.
type Config struct {
	// CriticalHealth is the score at or below which an alert fires.
	CriticalHealth float64 `yaml:"critical_health"`
	// AlertCooldown suppresses repeat alerts.
	AlertCooldown time.Duration `yaml:"alert_cooldown"`
	// LatencyWindow caps retained latency samples.
	LatencyWindow int `yaml:"latency_window"`
}

func DefaultConfig() Config {
	return Config{
		CriticalHealth: 0.4,
		AlertCooldown:  10 * time.Minute,
		LatencyWindow:  1024,
	}
}

// Notifier matches alerts.Webhook.
type Notifier interface {
	Notify(title, message string) error
}

// Percentiles summarizes latency samples.
type Percentiles struct {
	P50 time.Duration
	P95 time.Duration
	P99 time.Duration
}

// Snapshot is a point-in-time view of the monitor.
type Snapshot struct {
	Counters  map[string]int64
	Latency   Percentiles
	Health    float64
	SampledAt time.Time
}

// Monitor is safe for concurrent use; every worker reports into one
// instance.
type Monitor struct {
	cfg      Config
	notifier Notifier

	mu        sync.Mutex
	counters  map[string]int64
	latencies []time.Duration
	lastAlert time.Time
	now       func() time.Time
}

func New(cfg Config, notifier Notifier) *Monitor {
	if cfg.CriticalHealth <= 0 {
		cfg.CriticalHealth = DefaultConfig().CriticalHealth
	}
	if cfg.AlertCooldown <= 0 {
		cfg.AlertCooldown = DefaultConfig().AlertCooldown
	}
	if cfg.LatencyWindow <= 0 {
		cfg.LatencyWindow = DefaultConfig().LatencyWindow
	}
	return &Monitor{
		cfg:      cfg,
		notifier: notifier,
		counters: make(map[string]int64),
		now:      time.Now,
	}
}

// SetClock overrides the time source for tests.
func (m *Monitor) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

func (m *Monitor) Inc(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters[name]++
}

// ObserveLatency records one decision-to-fill duration.
func (m *Monitor) ObserveLatency(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latencies = append(m.latencies, d)
	if len(m.latencies) > m.cfg.LatencyWindow {
		m.latencies = m.latencies[len(m.latencies)-m.cfg.LatencyWindow:]
	}
}

func (m *Monitor) Count(name string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counters[name]
}

// Snapshot copies the current state and evaluates health.
func (m *Monitor) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	counters := make(map[string]int64, len(m.counters))
	for k, v := range m.counters {
		counters[k] = v
	}
	return Snapshot{
		Counters:  counters,
		Latency:   percentiles(m.latencies),
		Health:    health(counters),
		SampledAt: m.now().UTC(),
	}
}

// CheckHealth snapshots, logs, and alerts when the score is critical and
// the cooldown has elapsed.
func (m *Monitor) CheckHealth() Snapshot {
	snap := m.Snapshot()

	observ.Log("pipeline_health", map[string]any{
		"health":  snap.Health,
		"orders":  snap.Counters[COrders],
		"fills":   snap.Counters[CFills],
		"errors":  snap.Counters[CExecErrors],
		"p95_ms":  snap.Latency.P95.Milliseconds(),
		"crashes": snap.Counters[CWorkerCrashes],
	})

	if snap.Health > m.cfg.CriticalHealth {
		return snap
	}

	m.mu.Lock()
	since := m.now().Sub(m.lastAlert)
	cooled := since >= m.cfg.AlertCooldown
	if cooled {
		m.lastAlert = m.now()
	}
	m.mu.Unlock()

	if cooled && m.notifier != nil {
		if err := m.notifier.Notify("Pipeline health critical",
			"health score at or below threshold; check exec_errors and worker_crashes"); err != nil {
			observ.Error("health_alert_failed", err, nil)
		}
	}
	return snap
}

// health composes a 0..1 score from fill success and error pressure.
// With no orders yet the pipeline is healthy by definition.
func health(c map[string]int64) float64 {
	orders := c[COrders]
	score := 1.0

	if orders > 0 {
		fillRatio := float64(c[CFills]) / float64(orders)
		score *= fillRatio
	}

	attempts := orders + c[CExecErrors]
	if attempts > 0 {
		errRatio := float64(c[CExecErrors]) / float64(attempts)
		score *= 1 - errRatio
	}

	if crashes := c[CWorkerCrashes]; crashes > 0 {
		penalty := 1 - float64(crashes)*0.1
		if penalty < 0 {
			penalty = 0
		}
		score *= penalty
	}

	if score < 0 {
		score = 0
	}
	return score
}

func percentiles(samples []time.Duration) Percentiles {
	if len(samples) == 0 {
		return Percentiles{}
	}
	sorted := make([]time.Duration, len(samples))
	copy(sorted, samples)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	at := func(q float64) time.Duration {
		i := int(q * float64(len(sorted)-1))
		return sorted[i]
	}
	return Percentiles{P50: at(0.50), P95: at(0.95), P99: at(0.99)}
}
