package strategies

import (
	"sort"

	"github.com/rustyeddy/evobot/indicators"
	"github.com/rustyeddy/evobot/market"
)

// TradeIdea is an ephemeral entry proposal from one strategy. At most one
// idea is produced per candle close; the first strategy (by priority) that
// returns non-nil wins.
type TradeIdea struct {
	Symbol     string
	Side       market.Side
	Price      float64
	Reason     string
	Confidence float64 // 0..1, strategy's own conviction, informational
}

// Params is the evolvable numeric parameter set shared by all strategies.
// Every field must be numeric: the evolution manager perturbs each one
// independently when forking a candidate.
type Params struct {
	RiskPct  float64 `yaml:"risk_pct" json:"risk_pct"`   // per-trade risk, percent of equity
	StopATR  float64 `yaml:"stop_atr" json:"stop_atr"`   // stop distance in ATR multiples
	TargetRR float64 `yaml:"target_rr" json:"target_rr"` // take-profit as multiple of risk
	RSIBuy   float64 `yaml:"rsi_buy" json:"rsi_buy"`     // oversold entry level
	RSISell  float64 `yaml:"rsi_sell" json:"rsi_sell"`   // overbought entry level
	ADXMin   float64 `yaml:"adx_min" json:"adx_min"`     // minimum trend strength
	BandWMin float64 `yaml:"bandw_min" json:"bandw_min"` // minimum band width for breakouts
	Slope    float64 `yaml:"slope" json:"slope"`         // minimum |trend slope| for trend entries
}

func DefaultParams() Params {
	return Params{
		RiskPct:  1.0,
		StopATR:  2.0,
		TargetRR: 2.0,
		RSIBuy:   30,
		RSISell:  70,
		ADXMin:   25,
		BandWMin: 0.02,
		Slope:    0.05,
	}
}

// Strategy is a pure function of (candle, indicators, params). Implementations
// hold no position state; the agent owns all bookkeeping.
type Strategy interface {
	Name() string
	Priority() int // lower evaluates first
	Evaluate(c market.Candle, s indicators.Snapshot, p Params) *TradeIdea
}

// Set is a priority-ordered strategy list.
type Set struct {
	strategies []Strategy
}

func NewSet(strats ...Strategy) *Set {
	s := &Set{strategies: append([]Strategy(nil), strats...)}
	sort.SliceStable(s.strategies, func(i, j int) bool {
		return s.strategies[i].Priority() < s.strategies[j].Priority()
	})
	return s
}

// DefaultSet wires the four built-in strategies in priority order.
func DefaultSet() *Set {
	return NewSet(
		&MACross{},
		&RSIReversion{},
		&BandBreakout{},
		&TrendFollow{},
	)
}

// Evaluate runs strategies in priority order and returns the first idea,
// along with the name of the strategy that produced it.
func (s *Set) Evaluate(c market.Candle, snap indicators.Snapshot, p Params) (*TradeIdea, string) {
	if !snap.Ready {
		return nil, ""
	}
	for _, strat := range s.strategies {
		if idea := strat.Evaluate(c, snap, p); idea != nil {
			return idea, strat.Name()
		}
	}
	return nil, ""
}

func (s *Set) Names() []string {
	names := make([]string, 0, len(s.strategies))
	for _, st := range s.strategies {
		names = append(names, st.Name())
	}
	return names
}
