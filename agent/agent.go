// Package agent composes perception, indicators, strategies, risk, the
// approval gate and an execution engine into one per-symbol decision
// loop. An AssetAgent is single-threaded by construction: its owning
// worker delivers ticks in arrival order and every pipeline run is
// synchronous from candle close to fill.
package agent

import (
	"context"
	"time"

	"github.com/rustyeddy/evobot/engine"
	"github.com/rustyeddy/evobot/gate"
	"github.com/rustyeddy/evobot/id"
	"github.com/rustyeddy/evobot/indicators"
	"github.com/rustyeddy/evobot/market"
	"github.com/rustyeddy/evobot/monitor"
	"github.com/rustyeddy/evobot/observ"
	"github.com/rustyeddy/evobot/risk"
	"github.com/rustyeddy/evobot/store"
	"github.com/rustyeddy/evobot/strategies"
)

// Phase names the pipeline step an agent is in. Every candle-close run
// funnels back to Idle whatever the outcome.
type Phase string

const (
	Idle         Phase = "idle"
	Accumulating Phase = "accumulating"
	Deciding     Phase = "deciding"
	RiskChecking Phase = "risk_checking"
	Gating       Phase = "gating"
	Sizing       Phase = "sizing"
	Executing    Phase = "executing"
	Settling     Phase = "settling"
)

// Guard is the portfolio-wide circuit breaker consulted once per candle
// close. The supervisor wires risk.Portfolio behind it; standalone runs
// (replay, evolution) leave it nil.
type Guard interface {
	Recalc()
	CanTrade() (bool, string)
}

// Approver is the slice of gate.Gatekeeper the agent uses.
type Approver interface {
	Approve(features []float64) gate.Result
	LogDecision(symbol string, features []float64, action string, score float64) string
	UpdateOutcome(decisionID string, pnl float64)
}

// Journal receives one row per closed trade. Persistence failures are
// the journal's problem; the agent never blocks on them.
type Journal interface {
	RecordTrade(store.TradeRecord) error
}

// Config shapes one agent.
type Config struct {
	Symbol     string                 `yaml:"symbol"`
	BotID      string                 `yaml:"bot_id"`
	Bucket     time.Duration          `yaml:"bucket"`
	CandleCap  int                    `yaml:"candle_cap"`
	Indicators indicators.CacheConfig `yaml:"indicators"`
}

// openTrade is the agent's view of its single open position. Stop
// ratchets toward price on every tick; entry ATR is frozen so the
// trail distance does not breathe with volatility.
type openTrade struct {
	orderID    string
	decisionID string
	side       market.Side
	qty        float64
	entry      float64
	stop       float64
	target     float64
	atr        float64
	openTime   time.Time
}

// AssetAgent runs the tick-to-order pipeline for one symbol. Not safe
// for concurrent use; exactly one goroutine owns it.
type AssetAgent struct {
	cfg        Config
	perception *market.Perception
	cache      *indicators.Cache
	set        *strategies.Set
	params     strategies.Params
	riskman    *risk.Manager
	guard      Guard
	gate       Approver
	eng        engine.Engine
	journal    Journal
	mon        *monitor.Monitor

	phase Phase
	open  *openTrade
}

func New(cfg Config, set *strategies.Set, params strategies.Params,
	rm *risk.Manager, guard Guard, approver Approver,
	eng engine.Engine, journal Journal, mon *monitor.Monitor) *AssetAgent {

	if cfg.Bucket <= 0 {
		cfg.Bucket = time.Minute
	}
	if cfg.BotID == "" {
		cfg.BotID = cfg.Symbol
	}
	if set == nil {
		set = strategies.DefaultSet()
	}
	return &AssetAgent{
		cfg:        cfg,
		perception: market.NewPerception(cfg.Symbol, cfg.Bucket, cfg.CandleCap),
		cache:      indicators.NewCache(cfg.Indicators),
		set:        set,
		params:     params,
		riskman:    rm,
		guard:      guard,
		gate:       approver,
		eng:        eng,
		journal:    journal,
		mon:        mon,
		phase:      Idle,
	}
}

func (a *AssetAgent) Symbol() string            { return a.cfg.Symbol }
func (a *AssetAgent) BotID() string             { return a.cfg.BotID }
func (a *AssetAgent) Phase() Phase              { return a.phase }
func (a *AssetAgent) Params() strategies.Params { return a.params }
func (a *AssetAgent) Risk() *risk.Manager       { return a.riskman }
func (a *AssetAgent) HasOpenPosition() bool     { return a.open != nil }

// SetParams swaps the strategy parameter set. Called between evolution
// generations, never mid-candle.
func (a *AssetAgent) SetParams(p strategies.Params) { a.params = p }

// OnTick folds a tick into perception and manages the open position's
// trailing stop. It never opens a position; entries happen only on
// candle close. A tick that completes a bucket drives the full
// decision pipeline before returning.
func (a *AssetAgent) OnTick(ctx context.Context, price float64, ts time.Time) {
	a.phase = Accumulating
	defer func() { a.phase = Idle }()

	if a.mon != nil {
		a.mon.Inc(monitor.CTicks)
	}
	a.manageStops(ctx, price, ts)

	if closed := a.perception.AddTick(price, ts); closed != nil {
		a.OnCandleClose(ctx, *closed)
	}
}

// OnCandleClose runs the decision pipeline on one finished candle:
// indicators, portfolio circuit breaker, strategy evaluation, a
// reward/risk pre-filter, the approval gate, sizing, and execution.
// Every exit path returns the agent to Idle.
func (a *AssetAgent) OnCandleClose(ctx context.Context, c market.Candle) {
	started := time.Now()
	a.phase = Deciding
	defer func() { a.phase = Idle }()

	snap := a.cache.Update(c)
	if a.mon != nil {
		a.mon.Inc(monitor.CCandles)
	}

	if a.open != nil {
		// One position per symbol; the trail manages the exit.
		return
	}

	a.phase = RiskChecking
	if a.guard != nil {
		a.guard.Recalc()
		if ok, reason := a.guard.CanTrade(); !ok {
			observ.Warn("portfolio_veto", map[string]any{
				"symbol": a.cfg.Symbol, "reason": reason,
			})
			if a.mon != nil {
				a.mon.Inc(monitor.CRiskVetoes)
			}
			return
		}
	}
	if ok, reason := a.riskman.CanTrade(); !ok {
		observ.Warn("risk_veto", map[string]any{
			"symbol": a.cfg.Symbol, "reason": reason,
		})
		if a.mon != nil {
			a.mon.Inc(monitor.CRiskVetoes)
		}
		return
	}

	idea, strat := a.set.Evaluate(c, snap, a.params)
	if idea == nil {
		return
	}
	if a.mon != nil {
		a.mon.Inc(monitor.CIdeas)
	}

	stop, target, ok := a.projectExit(*idea, snap)
	if !ok {
		return
	}
	if rr := rewardRisk(idea.Price, stop, target); rr < a.riskman.Limits().MinRR {
		observ.Log("idea_rejected", map[string]any{
			"symbol": a.cfg.Symbol, "strategy": strat, "rr": rr,
		})
		return
	}

	a.phase = Gating
	features := gate.Features(c, snap)
	res := a.gate.Approve(features)
	if !res.Approved {
		a.gate.LogDecision(a.cfg.Symbol, features, "veto", res.Score)
		if a.mon != nil {
			a.mon.Inc(monitor.CGateVetoes)
		}
		return
	}
	decisionID := a.gate.LogDecision(a.cfg.Symbol, features, string(idea.Side), res.Score)
	if a.mon != nil {
		a.mon.Inc(monitor.CGateApprovals)
	}

	a.phase = Sizing
	qty, err := a.riskman.SizeTrade(idea.Price, stop)
	if err != nil || qty <= 0 {
		observ.Warn("sizing_failed", map[string]any{
			"symbol": a.cfg.Symbol, "err": errString(err),
		})
		return
	}

	a.phase = Executing
	order := engine.Order{
		ID:     id.Order(),
		BotID:  a.cfg.BotID,
		Symbol: a.cfg.Symbol,
		Side:   idea.Side,
		Qty:    qty,
		Price:  idea.Price,
		Type:   engine.Market,
	}
	if a.mon != nil {
		a.mon.Inc(monitor.COrders)
	}
	fill, err := a.eng.Place(ctx, order)
	if err != nil {
		observ.Error("order_failed", err, map[string]any{
			"symbol": a.cfg.Symbol, "order": order.ID,
		})
		if a.mon != nil {
			a.mon.Inc(monitor.CExecErrors)
		}
		return
	}

	a.phase = Settling
	a.riskman.RegisterOrder(order.ID, a.cfg.Symbol, idea.Side, fill.Qty, fill.Price, stop)
	a.open = &openTrade{
		orderID:    order.ID,
		decisionID: decisionID,
		side:       idea.Side,
		qty:        fill.Qty,
		entry:      fill.Price,
		stop:       stop,
		target:     target,
		atr:        snap.ATR,
		openTime:   fill.Time,
	}
	if a.mon != nil {
		a.mon.Inc(monitor.CFills)
		a.mon.ObserveLatency(time.Since(started))
	}
	observ.Log("position_opened", map[string]any{
		"symbol": a.cfg.Symbol, "strategy": strat, "side": string(idea.Side),
		"qty": fill.Qty, "price": fill.Price, "stop": stop, "target": target,
		"score": res.Score, "simulated": fill.Simulated,
	})
}

// projectExit places the stop StopATR·ATR away from entry and the
// target TargetRR stop-distances beyond it.
func (a *AssetAgent) projectExit(idea strategies.TradeIdea, snap indicators.Snapshot) (stop, target float64, ok bool) {
	dist := a.params.StopATR * snap.ATR
	if dist <= 0 {
		return 0, 0, false
	}
	sign := idea.Side.Sign()
	stop = idea.Price - sign*dist
	target = idea.Price + sign*dist*a.params.TargetRR
	return stop, target, true
}

// rewardRisk is |target−entry| / |entry−stop|.
func rewardRisk(entry, stop, target float64) float64 {
	loss := entry - stop
	if loss < 0 {
		loss = -loss
	}
	if loss == 0 {
		return 0
	}
	gain := target - entry
	if gain < 0 {
		gain = -gain
	}
	return gain / loss
}

// manageStops ratchets the trailing stop toward price and closes the
// position when the stop or target is crossed.
func (a *AssetAgent) manageStops(ctx context.Context, price float64, ts time.Time) {
	t := a.open
	if t == nil {
		return
	}

	trail := a.params.StopATR * t.atr
	switch t.side {
	case market.Buy:
		if s := price - trail; s > t.stop {
			t.stop = s
		}
		if price <= t.stop {
			a.closeOpen(ctx, price, ts, "stop")
			return
		}
		if price >= t.target {
			a.closeOpen(ctx, price, ts, "target")
		}
	case market.Sell:
		if s := price + trail; s < t.stop {
			t.stop = s
		}
		if price >= t.stop {
			a.closeOpen(ctx, price, ts, "stop")
			return
		}
		if price <= t.target {
			a.closeOpen(ctx, price, ts, "target")
		}
	}
}

// closeOpen unwinds the open position through the engine, realizes PnL
// in the risk manager, records the gate outcome and journals the trade.
func (a *AssetAgent) closeOpen(ctx context.Context, price float64, ts time.Time, reason string) {
	t := a.open
	a.open = nil

	order := engine.Order{
		ID:     id.Order(),
		BotID:  a.cfg.BotID,
		Symbol: a.cfg.Symbol,
		Side:   t.side.Opposite(),
		Qty:    t.qty,
		Price:  price,
		Type:   engine.Market,
	}
	fill, err := a.eng.Place(ctx, order)
	if err != nil {
		// The position is flat in our books either way; settle at the
		// trigger price so risk accounting cannot wedge open.
		observ.Error("close_order_failed", err, map[string]any{
			"symbol": a.cfg.Symbol, "order": order.ID,
		})
		if a.mon != nil {
			a.mon.Inc(monitor.CExecErrors)
		}
		fill = engine.Fill{Qty: t.qty, Price: price, Time: ts, Simulated: true}
	}

	pnl, err := a.riskman.ClosePosition(fill.Qty, fill.Price, fill.Fee)
	if err != nil {
		observ.Error("close_position_failed", err, map[string]any{
			"symbol": a.cfg.Symbol,
		})
		return
	}

	if t.decisionID != "" {
		a.gate.UpdateOutcome(t.decisionID, pnl)
	}
	if a.journal != nil {
		rec := store.TradeRecord{
			ID:        t.orderID,
			BotID:     a.cfg.BotID,
			Symbol:    a.cfg.Symbol,
			Side:      t.side,
			Qty:       t.qty,
			Entry:     t.entry,
			Exit:      fill.Price,
			OpenTime:  t.openTime,
			CloseTime: fill.Time,
			Realized:  pnl,
			Fee:       fill.Fee,
			Reason:    reason,
		}
		if err := a.journal.RecordTrade(rec); err != nil {
			observ.Error("journal_failed", err, map[string]any{"trade": rec.ID})
			if a.mon != nil {
				a.mon.Inc(monitor.CPersistErrors)
			}
		}
	}
	observ.Log("position_closed", map[string]any{
		"symbol": a.cfg.Symbol, "reason": reason, "pnl": pnl,
		"exit": fill.Price,
	})
}

func errString(err error) string {
	if err == nil {
		return "qty is zero"
	}
	return err.Error()
}
