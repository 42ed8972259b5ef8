package risk

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rustyeddy/evobot/market"
)

var (
	ErrZeroStopDistance = errors.New("stop distance is zero")
	ErrNoOpenPosition   = errors.New("no open position")
	ErrQtyMismatch      = errors.New("close qty does not match oldest position")
)

// Position is one open position, owned exclusively by its Manager.
type Position struct {
	ID         string
	Symbol     string
	Side       market.Side
	Qty        float64
	EntryPrice float64
	Stop       float64
	OpenTime   time.Time

	// riskPct is this position's contribution to openRiskPct at register
	// time; ClosePosition removes exactly this amount (symmetry invariant).
	riskPct float64
}

// State is a point-in-time copy of a Manager's risk accounting.
type State struct {
	Equity      float64
	OpenRiskPct float64
	DayPnL      float64
	Positions   int
}

// Limits are the per-agent risk ceilings.
type Limits struct {
	RiskPct        float64 `yaml:"risk_pct"`         // percent of equity risked per trade
	MaxOpenRiskPct float64 `yaml:"max_open_risk"`    // ceiling on summed open risk, percent
	MaxDayLossPct  float64 `yaml:"max_day_loss_pct"` // fraction of equity, e.g. 0.03
	MinRR          float64 `yaml:"min_rr"`           // reject ideas below this reward/risk
}

func DefaultLimits() Limits {
	return Limits{
		RiskPct:        1.0,
		MaxOpenRiskPct: 3.0,
		MaxDayLossPct:  0.03,
		MinRR:          2.0,
	}
}

// Manager tracks positions, sizing and realized PnL for a single agent.
// It is not safe for concurrent use; each agent owns exactly one Manager
// and drives it from its own worker.
type Manager struct {
	limits    Limits
	equity    float64
	openRisk  float64 // percent
	dayPnL    float64
	positions []Position // FIFO, oldest first

	day time.Time // UTC day the dayPnL belongs to
	now func() time.Time

	// onDayRoll observes the day boundary before dayPnL resets, so the
	// pre-reset value can be journaled.
	onDayRoll func(day time.Time, pnl float64)
}

func NewManager(equity float64, limits Limits) *Manager {
	return &Manager{
		limits: limits,
		equity: equity,
		now:    time.Now,
	}
}

// SetClock overrides the time source, for tests and replay.
func (m *Manager) SetClock(now func() time.Time) { m.now = now }

// OnDayRoll registers a hook called with the closing day and its PnL when
// the UTC day boundary is crossed.
func (m *Manager) OnDayRoll(fn func(day time.Time, pnl float64)) { m.onDayRoll = fn }

func (m *Manager) Limits() Limits { return m.limits }

func (m *Manager) State() State {
	m.rollDay()
	return State{
		Equity:      m.equity,
		OpenRiskPct: m.openRisk,
		DayPnL:      m.dayPnL,
		Positions:   len(m.positions),
	}
}

// RiskState satisfies StateProvider so a Manager can feed the Portfolio
// aggregator directly.
func (m *Manager) RiskState() State { return m.State() }

// SizeTrade returns the quantity that risks limits.RiskPct of equity if
// the stop is hit: qty = (equity × riskPct/100) / |entry − stop|.
func (m *Manager) SizeTrade(entryPrice, stopPrice float64) (float64, error) {
	dist := math.Abs(entryPrice - stopPrice)
	if dist == 0 {
		// A zero stop distance would size an infinite position; that is a
		// configuration error, never a trade.
		return 0, fmt.Errorf("size trade: %w (entry=%v stop=%v)", ErrZeroStopDistance, entryPrice, stopPrice)
	}
	return (m.equity * m.limits.RiskPct / 100) / dist, nil
}

// CanTrade reports whether this agent may open new risk.
func (m *Manager) CanTrade() (bool, string) {
	m.rollDay()
	if m.openRisk >= m.limits.MaxOpenRiskPct {
		return false, fmt.Sprintf("open risk %.2f%% >= max %.2f%%", m.openRisk, m.limits.MaxOpenRiskPct)
	}
	if m.dayPnL <= -m.limits.MaxDayLossPct*m.equity {
		return false, fmt.Sprintf("day pnl %.2f <= limit %.2f", m.dayPnL, -m.limits.MaxDayLossPct*m.equity)
	}
	return true, ""
}

// RegisterOrder appends a position and adds its risk contribution:
// (qty × |price−stop|) / equity × 100.
func (m *Manager) RegisterOrder(id, symbol string, side market.Side, qty, price, stop float64) Position {
	m.rollDay()
	riskPct := 0.0
	if m.equity > 0 {
		riskPct = qty * math.Abs(price-stop) / m.equity * 100
	}
	pos := Position{
		ID:         id,
		Symbol:     symbol,
		Side:       side,
		Qty:        qty,
		EntryPrice: price,
		Stop:       stop,
		OpenTime:   m.now().UTC(),
		riskPct:    riskPct,
	}
	m.positions = append(m.positions, pos)
	m.openRisk += riskPct
	return pos
}

// ClosePosition pops the oldest position (FIFO), realizes its PnL into
// dayPnL and equity, and removes exactly the risk contribution added when
// it was registered. qty must match the position being closed; partial
// fills are not modeled.
func (m *Manager) ClosePosition(qty, exitPrice, fee float64) (float64, error) {
	m.rollDay()
	if len(m.positions) == 0 {
		return 0, ErrNoOpenPosition
	}
	pos := m.positions[0]
	if math.Abs(pos.Qty-qty) > 1e-9 {
		return 0, fmt.Errorf("close position: %w (have %v want %v)", ErrQtyMismatch, pos.Qty, qty)
	}
	m.positions = m.positions[1:]

	var pnl float64
	if pos.Side == market.Buy {
		pnl = (exitPrice - pos.EntryPrice) * pos.Qty
	} else {
		pnl = (pos.EntryPrice - exitPrice) * pos.Qty
	}
	pnl -= fee

	m.dayPnL += pnl
	m.equity += pnl
	m.openRisk -= pos.riskPct
	if m.openRisk < 0 {
		m.openRisk = 0
	}
	return pnl, nil
}

// Oldest returns the position that the next ClosePosition would consume.
func (m *Manager) Oldest() (Position, bool) {
	if len(m.positions) == 0 {
		return Position{}, false
	}
	return m.positions[0], true
}

func (m *Manager) OpenPositions() []Position {
	out := make([]Position, len(m.positions))
	copy(out, m.positions)
	return out
}

// rollDay resets dayPnL when the UTC calendar day changes. Checked lazily
// on every accessor so an idle overnight agent still resets correctly.
func (m *Manager) rollDay() {
	today := m.now().UTC().Truncate(24 * time.Hour)
	if m.day.IsZero() {
		m.day = today
		return
	}
	if today.After(m.day) {
		day, pnl := m.day, m.dayPnL
		m.day = today
		m.dayPnL = 0
		// State is rolled before the hook runs so a hook reading the
		// manager back cannot re-trigger the roll.
		if m.onDayRoll != nil {
			m.onDayRoll(day, pnl)
		}
	}
}
