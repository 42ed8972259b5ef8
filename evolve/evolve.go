// Package evolve breeds strategy parameter sets. Each generation forks
// the live parameters N times with random perturbation, runs every
// child over a replayed tick window through the full agent and sim
// engine stack, and promotes the best-scoring survivor. The manager is
// the single writer for promotion state.
package evolve

import (
	"context"
	"encoding/json"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/rustyeddy/evobot/agent"
	"github.com/rustyeddy/evobot/engine"
	"github.com/rustyeddy/evobot/gate"
	"github.com/rustyeddy/evobot/id"
	"github.com/rustyeddy/evobot/observ"
	"github.com/rustyeddy/evobot/replay"
	"github.com/rustyeddy/evobot/risk"
	"github.com/rustyeddy/evobot/store"
	"github.com/rustyeddy/evobot/strategies"
)

// eps keeps a flat pnl series from dividing by zero in the sharpe
// calculation.
const eps = 1e-9

// drawdownSlack is how much worse than the best child's drawdown a
// candidate may be and still win on sharpe.
const drawdownSlack = 1.2

// Score summarizes one candidate's replayed trade list.
type Score struct {
	Sharpe   float64
	Drawdown float64
	Trades   int
}

// Candidate is one mutated parameter set and its replay result.
type Candidate struct {
	ID     string
	Params strategies.Params
	Score  Score
}

// CandidateLog is the slice of the store the manager writes to.
type CandidateLog interface {
	SaveCandidate(store.Candidate) error
	SetPromoted(childID string, promoted bool) error
}

// Config tunes a Manager.
type Config struct {
	Symbol    string        `yaml:"symbol"`
	Children  int           `yaml:"children"`   // forks per generation
	MutatePct float64       `yaml:"mutate_pct"` // ± perturbation per field
	Equity    float64       `yaml:"equity"`     // starting equity per child run
	Bucket    time.Duration `yaml:"bucket"`
	Every     time.Duration `yaml:"every"` // generation cadence
}

func DefaultConfig() Config {
	return Config{
		Children:  5,
		MutatePct: 0.10,
		Equity:    10000,
		Bucket:    time.Minute,
		Every:     time.Hour,
	}
}

// Manager runs the evolution loop for one symbol.
type Manager struct {
	cfg    Config
	log    CandidateLog
	window []replay.Row
	rng    *rand.Rand

	parentID    string
	parent      strategies.Params
	parentScore Score

	// onPromote delivers the winning parameters to the live system
	// (typically Supervisor.UpdateParams behind a closure).
	onPromote func(strategies.Params)

	// eval scores one parameter set; swapped in tests.
	eval func(ctx context.Context, p strategies.Params) ([]float64, error)
}

func NewManager(cfg Config, log CandidateLog, window []replay.Row,
	parent strategies.Params, onPromote func(strategies.Params)) *Manager {

	d := DefaultConfig()
	if cfg.Children <= 0 {
		cfg.Children = d.Children
	}
	if cfg.MutatePct <= 0 {
		cfg.MutatePct = d.MutatePct
	}
	if cfg.Equity <= 0 {
		cfg.Equity = d.Equity
	}
	if cfg.Bucket <= 0 {
		cfg.Bucket = d.Bucket
	}
	if cfg.Every <= 0 {
		cfg.Every = d.Every
	}
	m := &Manager{
		cfg:       cfg,
		log:       log,
		window:    window,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
		parentID:  "genesis",
		parent:    parent,
		onPromote: onPromote,
	}
	m.eval = m.evaluate
	return m
}

// Seed fixes the random source, for reproducible runs.
func (m *Manager) Seed(seed int64) { m.rng = rand.New(rand.NewSource(seed)) }

func (m *Manager) Parent() strategies.Params { return m.parent }

// Run executes one generation per tick until ctx ends.
func (m *Manager) Run(ctx context.Context) {
	tick := time.NewTicker(m.cfg.Every)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			if _, err := m.RunGeneration(ctx); err != nil {
				observ.Error("evolution_failed", err, map[string]any{
					"symbol": m.cfg.Symbol,
				})
			}
		}
	}
}

// RunGeneration scores the parent and N mutated children over the
// replay window, persists every candidate, and promotes the winner if
// it beats the parent. Returns the promoted candidate, if any.
func (m *Manager) RunGeneration(ctx context.Context) (*Candidate, error) {
	parentPnls, err := m.eval(ctx, m.parent)
	if err != nil {
		return nil, err
	}
	m.parentScore = score(parentPnls)

	// Mutation stays on this goroutine (the rng is not safe to share);
	// each child then replays the window in its own goroutine over a
	// fully isolated agent, risk, and sim stack.
	children := make([]Candidate, m.cfg.Children)
	for i := range children {
		children[i] = Candidate{ID: id.Candidate(), Params: mutate(m.parent, m.cfg.MutatePct, m.rng)}
	}

	var wg sync.WaitGroup
	errs := make([]error, len(children))
	for i := range children {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			pnls, err := m.eval(ctx, children[i].Params)
			if err != nil {
				errs[i] = err
				return
			}
			children[i].Score = score(pnls)
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	for _, c := range children {
		m.persist(c)
	}

	winner, ok := pickWinner(children, m.parentScore)
	if !ok {
		observ.Log("evolution_no_promotion", map[string]any{
			"symbol":        m.cfg.Symbol,
			"parent_sharpe": m.parentScore.Sharpe,
		})
		return nil, nil
	}

	m.promote(winner)
	return &winner, nil
}

// promote flips the active parameter set: demote the old record, mark
// the winner, swap in memory, then hand the params to the live system.
func (m *Manager) promote(winner Candidate) {
	if m.log != nil {
		if m.parentID != "genesis" {
			if err := m.log.SetPromoted(m.parentID, false); err != nil {
				observ.Error("demote_failed", err, map[string]any{"child": m.parentID})
			}
		}
		if err := m.log.SetPromoted(winner.ID, true); err != nil {
			observ.Error("promote_failed", err, map[string]any{"child": winner.ID})
		}
	}
	m.parentID = winner.ID
	m.parent = winner.Params
	m.parentScore = winner.Score

	observ.Log("evolution_promoted", map[string]any{
		"symbol":   m.cfg.Symbol,
		"child":    winner.ID,
		"sharpe":   winner.Score.Sharpe,
		"drawdown": winner.Score.Drawdown,
		"trades":   winner.Score.Trades,
	})
	if m.onPromote != nil {
		m.onPromote(winner.Params)
	}
}

func (m *Manager) persist(c Candidate) {
	if m.log == nil {
		return
	}
	raw, err := json.Marshal(c.Params)
	if err != nil {
		observ.Error("candidate_marshal_failed", err, nil)
		return
	}
	rec := store.Candidate{
		ParentID: m.parentID,
		ChildID:  c.ID,
		Params:   string(raw),
		Sharpe:   c.Score.Sharpe,
		Drawdown: c.Score.Drawdown,
		Promoted: false,
		Time:     time.Now().UTC(),
	}
	if err := m.log.SaveCandidate(rec); err != nil {
		observ.Error("candidate_persist_failed", err, map[string]any{"child": c.ID})
	}
}

// evaluate replays the window through a throwaway agent wired to the
// sim engine and returns the realized pnl per closed trade.
func (m *Manager) evaluate(ctx context.Context, params strategies.Params) ([]float64, error) {
	limits := risk.DefaultLimits()
	limits.RiskPct = params.RiskPct

	rm := risk.NewManager(m.cfg.Equity, limits)
	sim := engine.NewSim(engine.DefaultSimConfig(), func() float64 { return m.cfg.Equity })
	journal := &pnlCollector{}

	a := agent.New(agent.Config{
		Symbol: m.cfg.Symbol,
		BotID:  "evolve-" + m.cfg.Symbol,
		Bucket: m.cfg.Bucket,
	}, nil, params, rm, nil, openGate{}, sim, journal, nil)

	for _, row := range m.window {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		a.OnTick(ctx, row.Price, row.Time)
	}
	return journal.pnls, nil
}

// pickWinner applies the promotion rule: among children whose drawdown
// is within drawdownSlack of the best (smallest) observed drawdown,
// take the highest sharpe; promote only if it is positive and beats
// the parent.
func pickWinner(children []Candidate, parent Score) (Candidate, bool) {
	if len(children) == 0 {
		return Candidate{}, false
	}

	bestDD := math.Inf(1)
	for _, c := range children {
		if c.Score.Drawdown < bestDD {
			bestDD = c.Score.Drawdown
		}
	}
	limit := bestDD * drawdownSlack

	best := -1
	for i, c := range children {
		if c.Score.Drawdown > limit+eps {
			continue
		}
		if best < 0 || c.Score.Sharpe > children[best].Score.Sharpe {
			best = i
		}
	}
	if best < 0 {
		return Candidate{}, false
	}
	w := children[best]
	if w.Score.Sharpe <= 0 || w.Score.Sharpe <= parent.Sharpe {
		return Candidate{}, false
	}
	return w, true
}

// score computes sharpe and max peak-to-trough drawdown over a trade
// pnl series.
func score(pnls []float64) Score {
	s := Score{Trades: len(pnls)}
	if len(pnls) == 0 {
		return s
	}

	mean := 0.0
	for _, p := range pnls {
		mean += p
	}
	mean /= float64(len(pnls))

	variance := 0.0
	for _, p := range pnls {
		d := p - mean
		variance += d * d
	}
	variance /= float64(len(pnls))
	s.Sharpe = mean / math.Max(math.Sqrt(variance), eps)

	cum, peak := 0.0, 0.0
	for _, p := range pnls {
		cum += p
		if cum > peak {
			peak = cum
		}
		if dd := peak - cum; dd > s.Drawdown {
			s.Drawdown = dd
		}
	}
	return s
}

// mutate perturbs every numeric field by an independent uniform draw
// in ±pct.
func mutate(p strategies.Params, pct float64, rng *rand.Rand) strategies.Params {
	jitter := func(v float64) float64 {
		return v * (1 + (rng.Float64()*2-1)*pct)
	}
	return strategies.Params{
		RiskPct:  jitter(p.RiskPct),
		StopATR:  jitter(p.StopATR),
		TargetRR: jitter(p.TargetRR),
		RSIBuy:   jitter(p.RSIBuy),
		RSISell:  jitter(p.RSISell),
		ADXMin:   jitter(p.ADXMin),
		BandWMin: jitter(p.BandWMin),
		Slope:    jitter(p.Slope),
	}
}

// openGate approves everything; evaluation measures parameter quality,
// not the scoring model.
type openGate struct{}

func (openGate) Approve([]float64) gate.Result {
	return gate.Result{Approved: true, Score: 1}
}
func (openGate) LogDecision(string, []float64, string, float64) string { return "" }
func (openGate) UpdateOutcome(string, float64)                         {}

// pnlCollector implements agent.Journal in memory.
type pnlCollector struct {
	pnls []float64
}

func (c *pnlCollector) RecordTrade(t store.TradeRecord) error {
	c.pnls = append(c.pnls, t.Realized)
	return nil
}
