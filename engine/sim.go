package engine

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"
)

// SimConfig tunes the simulated fill model.
type SimConfig struct {
	// FeeBps is the fee charged per fill, in basis points of notional.
	FeeBps float64 `yaml:"fee_bps"`

	// ImpactDivisor scales the equity-proportional slippage model: the
	// fill price moves against the order by notional/(equity*divisor),
	// capped at MaxSlippagePct. Bigger orders relative to equity slip
	// more.
	ImpactDivisor  float64 `yaml:"impact_divisor"`
	MaxSlippagePct float64 `yaml:"max_slippage_pct"`
}

func DefaultSimConfig() SimConfig {
	return SimConfig{
		FeeBps:         2,
		ImpactDivisor:  100,
		MaxSlippagePct: 0.5,
	}
}

// Sim fills every order locally. It is both the paper-trading engine and
// the fallback when a broker adapter fails.
type Sim struct {
	cfg    SimConfig
	equity func() float64

	mu     sync.Mutex
	placed int
}

// NewSim builds a simulator. equity feeds the slippage model; a nil func
// fixes it at 10k.
func NewSim(cfg SimConfig, equity func() float64) *Sim {
	if cfg.ImpactDivisor <= 0 {
		cfg.ImpactDivisor = DefaultSimConfig().ImpactDivisor
	}
	if equity == nil {
		equity = func() float64 { return 10000 }
	}
	return &Sim{cfg: cfg, equity: equity}
}

func (s *Sim) Place(ctx context.Context, o Order) (Fill, error) {
	if err := ctx.Err(); err != nil {
		return Fill{}, err
	}
	if !o.Side.Valid() {
		return Fill{}, fmt.Errorf("sim place: invalid side %q: %w", o.Side, ErrRejected)
	}
	if o.Qty <= 0 || o.Price <= 0 {
		return Fill{}, fmt.Errorf("sim place: qty=%v price=%v: %w", o.Qty, o.Price, ErrRejected)
	}

	s.mu.Lock()
	s.placed++
	s.mu.Unlock()

	price := o.Price * (1 + o.Side.Sign()*s.slipFraction(o))
	fee := o.Notional() * s.cfg.FeeBps / 10000

	return Fill{
		Qty:       o.Qty,
		Price:     price,
		Fee:       fee,
		Time:      time.Now().UTC(),
		Simulated: true,
	}, nil
}

// slipFraction is the equity-proportional price impact, always adverse.
func (s *Sim) slipFraction(o Order) float64 {
	eq := s.equity()
	if eq <= 0 {
		return 0
	}
	slip := o.Notional() / (eq * s.cfg.ImpactDivisor)
	cap := s.cfg.MaxSlippagePct / 100
	if cap > 0 {
		slip = math.Min(slip, cap)
	}
	return slip
}

// Placed reports how many orders this simulator filled.
func (s *Sim) Placed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.placed
}
