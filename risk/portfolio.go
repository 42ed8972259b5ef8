package risk

import (
	"fmt"
	"sync"
	"time"

	"github.com/rustyeddy/evobot/observ"
)

// PortfolioState is a derived view over all live agents' risk state. It is
// recomputed on demand and never mutated directly.
type PortfolioState struct {
	Equity      float64
	DayPnL      float64
	OpenRiskPct float64
	Agents      int
	At          time.Time
}

func (s PortfolioState) DayLossPct() float64 {
	if s.Equity <= 0 {
		return 0
	}
	if s.DayPnL >= 0 {
		return 0
	}
	return -s.DayPnL / s.Equity * 100
}

// PortfolioLimits are the portfolio-wide circuit breaker levels.
type PortfolioLimits struct {
	MaxDailyLossPct float64 `yaml:"max_daily_loss_pct"` // percent of equity, e.g. 5
	MaxOpenRisk     float64 `yaml:"max_open_risk"`      // summed open risk ceiling, percent
}

func DefaultPortfolioLimits() PortfolioLimits {
	return PortfolioLimits{
		MaxDailyLossPct: 5,
		MaxOpenRisk:     10,
	}
}

// Veto records why the portfolio circuit breaker refused new risk.
type Veto struct {
	Reason      string
	DayLossPct  float64
	OpenRiskPct float64
	Limits      PortfolioLimits
	Time        time.Time
}

// VetoLog persists veto records for audit.
type VetoLog interface {
	SaveRiskVeto(Veto) error
}

// Notifier pushes critical alerts to an external channel.
type Notifier interface {
	Notify(title, message string) error
}

// StateProvider is anything that can report per-agent risk state.
type StateProvider interface {
	RiskState() State
}

// Portfolio aggregates risk across agents and enforces the global circuit
// breaker. Recalc is called once per candle-close cycle by the supervisor,
// which serializes all writes; readers get value copies.
type Portfolio struct {
	mu     sync.RWMutex
	limits PortfolioLimits
	last   PortfolioState

	vetoes   VetoLog
	notifier Notifier
}

func NewPortfolio(limits PortfolioLimits, vetoes VetoLog, notifier Notifier) *Portfolio {
	return &Portfolio{
		limits:   limits,
		vetoes:   vetoes,
		notifier: notifier,
	}
}

// SetLimits swaps the circuit breaker levels, used by the periodic config
// reload so limit changes don't need a restart.
func (p *Portfolio) SetLimits(l PortfolioLimits) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if l != p.limits {
		observ.Log("portfolio_limits_updated", map[string]any{
			"max_daily_loss_pct": l.MaxDailyLossPct,
			"max_open_risk":      l.MaxOpenRisk,
		})
	}
	p.limits = l
}

func (p *Portfolio) Limits() PortfolioLimits {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.limits
}

// Recalc sums equity, dayPnL and open risk across agents. The result is a
// snapshot, not a source of truth.
func (p *Portfolio) Recalc(agents []StateProvider) PortfolioState {
	st := PortfolioState{At: time.Now().UTC(), Agents: len(agents)}
	for _, a := range agents {
		s := a.RiskState()
		st.Equity += s.Equity
		st.DayPnL += s.DayPnL
		st.OpenRiskPct += s.OpenRiskPct
	}

	p.mu.Lock()
	p.last = st
	p.mu.Unlock()
	return st
}

func (p *Portfolio) State() PortfolioState {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.last
}

// CanTrade applies the circuit breaker to the last recalculated state. On
// veto it persists an audit record and raises an external notification.
func (p *Portfolio) CanTrade() (bool, string) {
	p.mu.RLock()
	st := p.last
	lim := p.limits
	p.mu.RUnlock()

	var reason string
	switch {
	case st.DayLossPct() >= lim.MaxDailyLossPct:
		reason = fmt.Sprintf("portfolio day loss %.2f%% >= max %.2f%%", st.DayLossPct(), lim.MaxDailyLossPct)
	case st.OpenRiskPct >= lim.MaxOpenRisk:
		reason = fmt.Sprintf("portfolio open risk %.2f%% >= max %.2f%%", st.OpenRiskPct, lim.MaxOpenRisk)
	default:
		return true, ""
	}

	p.recordVeto(Veto{
		Reason:      reason,
		DayLossPct:  st.DayLossPct(),
		OpenRiskPct: st.OpenRiskPct,
		Limits:      lim,
		Time:        time.Now().UTC(),
	})
	return false, reason
}

func (p *Portfolio) recordVeto(v Veto) {
	observ.Warn("portfolio_veto", map[string]any{
		"reason":        v.Reason,
		"day_loss_pct":  v.DayLossPct,
		"open_risk_pct": v.OpenRiskPct,
	})
	if p.vetoes != nil {
		if err := p.vetoes.SaveRiskVeto(v); err != nil {
			// Persistence failures never stop trading; they are surfaced
			// through logs and the durability-gap counter.
			observ.Error("veto_persist_failed", err, nil)
		}
	}
	if p.notifier != nil {
		if err := p.notifier.Notify("Portfolio circuit breaker", v.Reason); err != nil {
			observ.Error("veto_notify_failed", err, nil)
		}
	}
}
