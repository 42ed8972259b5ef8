// Package runner is the actor layer: each bot runs in its own worker
// goroutine owning its agent outright, and everything that crosses a
// worker boundary is a typed message. The Supervisor is the single
// writer for worker lifecycle state; crashed workers are restarted
// after a fixed delay unless the bot has been disabled.
package runner

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rustyeddy/evobot/agent"
	"github.com/rustyeddy/evobot/engine"
	"github.com/rustyeddy/evobot/market"
	"github.com/rustyeddy/evobot/monitor"
	"github.com/rustyeddy/evobot/observ"
	"github.com/rustyeddy/evobot/risk"
	"github.com/rustyeddy/evobot/store"
	"github.com/rustyeddy/evobot/strategies"
)

// Bot is what a worker drives. *agent.AssetAgent satisfies it; tests
// inject fakes.
type Bot interface {
	BotID() string
	Symbol() string
	OnTick(ctx context.Context, price float64, ts time.Time)
	SetParams(strategies.Params)
	Risk() *risk.Manager
}

// Publisher matches telemetry.Hub.
type Publisher interface {
	Publish(v any)
}

// MetricStore persists portfolio equity snapshots and the single
// account-state row a restarted engine seeds its equity from.
type MetricStore interface {
	RecordEquity(store.EquitySnapshot) error
	SaveAccountState(store.AccountState) error
}

// Config tunes the supervisor's timers.
type Config struct {
	RestartDelay time.Duration `yaml:"restart_delay"` // wait before reviving a crashed worker
	MetricEvery  time.Duration `yaml:"metric_every"`  // per-worker metric cadence
	HealthEvery  time.Duration `yaml:"health_every"`  // pipeline health + equity snapshot cadence
	TickBuffer   int           `yaml:"tick_buffer"`
}

func DefaultConfig() Config {
	return Config{
		RestartDelay: 2 * time.Second,
		MetricEvery:  10 * time.Second,
		HealthEvery:  time.Minute,
		TickBuffer:   256,
	}
}

type worker struct {
	bot     Bot
	ticks   chan TickMsg
	params  chan ParamsMsg
	enabled atomic.Bool
	cancel  context.CancelFunc
}

// Supervisor owns the bot registry and worker lifecycle. All mutation
// of the registry goes through its mutex; agents themselves are only
// ever touched by their owning worker goroutine.
type Supervisor struct {
	cfg       Config
	portfolio *risk.Portfolio
	mon       *monitor.Monitor
	hub       Publisher
	metrics   MetricStore

	prices *market.TickStore

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	workers map[string]*worker
	bySym   map[string]*worker
	states  map[string]risk.State

	wg sync.WaitGroup
}

func NewSupervisor(cfg Config, portfolio *risk.Portfolio, mon *monitor.Monitor,
	hub Publisher, metrics MetricStore) *Supervisor {

	d := DefaultConfig()
	if cfg.RestartDelay <= 0 {
		cfg.RestartDelay = d.RestartDelay
	}
	if cfg.MetricEvery <= 0 {
		cfg.MetricEvery = d.MetricEvery
	}
	if cfg.HealthEvery <= 0 {
		cfg.HealthEvery = d.HealthEvery
	}
	if cfg.TickBuffer <= 0 {
		cfg.TickBuffer = d.TickBuffer
	}
	return &Supervisor{
		cfg:       cfg,
		portfolio: portfolio,
		mon:       mon,
		hub:       hub,
		metrics:   metrics,
		prices:    market.NewTickStore(),
		workers:   make(map[string]*worker),
		bySym:     make(map[string]*worker),
		states:    make(map[string]risk.State),
	}
}

// Guard builds the portfolio circuit breaker handle an agent consults
// on every candle close. Safe to call before the bot is registered.
func (s *Supervisor) Guard(botID string) agent.Guard {
	return &portfolioGuard{sup: s, botID: botID}
}

// Engine wraps an execution engine so order activity is mirrored onto
// the telemetry hub as OrderMsg/OrderResultMsg pairs.
func (s *Supervisor) Engine(botID string, inner engine.Engine) engine.Engine {
	return &announcingEngine{sup: s, botID: botID, inner: inner}
}

// Start launches all registered workers plus the health loop, then
// returns. Stop (or ctx cancellation) shuts everything down.
func (s *Supervisor) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.ctx = ctx
	s.cancel = cancel
	for _, w := range s.workers {
		if w.enabled.Load() {
			s.spawnLocked(w)
		}
	}
	s.mu.Unlock()

	s.wg.Add(1)
	go s.healthLoop(ctx)
}

// AddBot registers a bot and, if the supervisor is running, starts its
// worker immediately.
func (s *Supervisor) AddBot(b Bot) {
	w := &worker{
		bot:    b,
		ticks:  make(chan TickMsg, s.cfg.TickBuffer),
		params: make(chan ParamsMsg, 1),
	}
	w.enabled.Store(true)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.workers[b.BotID()] = w
	s.bySym[b.Symbol()] = w
	if s.ctx != nil {
		s.spawnLocked(w)
	}
}

// Disable stops a bot's worker and marks it so a pending crash-restart
// gives up instead of reviving it.
func (s *Supervisor) Disable(botID string) {
	s.mu.Lock()
	w := s.workers[botID]
	s.mu.Unlock()
	if w == nil {
		return
	}
	w.enabled.Store(false)
	if w.cancel != nil {
		w.cancel()
	}
	observ.Log("bot_disabled", map[string]any{"bot": botID})
}

// Enable re-arms a disabled bot and restarts its worker.
func (s *Supervisor) Enable(botID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w := s.workers[botID]
	if w == nil || w.enabled.Load() {
		return
	}
	w.enabled.Store(true)
	if s.ctx != nil {
		s.spawnLocked(w)
	}
	observ.Log("bot_enabled", map[string]any{"bot": botID})
}

// Dispatch routes a tick to the worker owning its symbol. A full inbox
// drops the tick rather than stalling the feed.
func (s *Supervisor) Dispatch(t TickMsg) {
	s.prices.Set(market.Tick{Symbol: t.Symbol, Time: t.Time, Bid: t.Price, Ask: t.Price})

	s.mu.Lock()
	w := s.bySym[t.Symbol]
	s.mu.Unlock()
	if w == nil || !w.enabled.Load() {
		return
	}
	select {
	case w.ticks <- t:
	default:
		observ.Warn("tick_dropped", map[string]any{"symbol": t.Symbol})
	}
}

// UpdateParams queues new strategy parameters for a bot. The swap is
// applied by the worker goroutine; a still-queued older swap is
// replaced rather than applied first.
func (s *Supervisor) UpdateParams(msg ParamsMsg) {
	s.mu.Lock()
	w := s.workers[msg.BotID]
	s.mu.Unlock()
	if w == nil {
		return
	}
	for {
		select {
		case w.params <- msg:
			return
		default:
			select {
			case <-w.params:
			default:
			}
		}
	}
}

// LastTick returns the most recent tick seen for a symbol.
func (s *Supervisor) LastTick(symbol string) (market.Tick, error) {
	return s.prices.Get(symbol)
}

// Bots lists registered bot IDs.
func (s *Supervisor) Bots() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.workers))
	for id := range s.workers {
		ids = append(ids, id)
	}
	return ids
}

// Stop cancels every worker and waits for them to drain.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	for _, w := range s.workers {
		if w.cancel != nil {
			w.cancel()
		}
	}
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
}

func (s *Supervisor) spawnLocked(w *worker) {
	ctx, cancel := context.WithCancel(s.ctx)
	w.cancel = cancel
	s.wg.Add(1)
	go s.runWorker(ctx, w)
}

// runWorker keeps one bot alive: it runs the message loop, and when the
// loop dies to a panic it waits RestartDelay and revives the bot if it
// is still enabled.
func (s *Supervisor) runWorker(ctx context.Context, w *worker) {
	defer s.wg.Done()
	for {
		crashed := s.runOnce(ctx, w)
		if !crashed || ctx.Err() != nil {
			return
		}
		if s.mon != nil {
			s.mon.Inc(monitor.CWorkerCrashes)
		}
		select {
		case <-ctx.Done():
			if !w.enabled.Load() {
				observ.Log("bot_not_restarted", map[string]any{"bot": w.bot.BotID()})
			}
			return
		case <-time.After(s.cfg.RestartDelay):
		}
		if !w.enabled.Load() {
			observ.Log("bot_not_restarted", map[string]any{"bot": w.bot.BotID()})
			return
		}
		observ.Log("bot_restarted", map[string]any{"bot": w.bot.BotID()})
	}
}

func (s *Supervisor) runOnce(ctx context.Context, w *worker) (crashed bool) {
	defer func() {
		if r := recover(); r != nil {
			crashed = true
			observ.Error("worker_panic", nil, map[string]any{
				"bot": w.bot.BotID(), "panic": fmt.Sprint(r),
			})
		}
	}()

	metrics := time.NewTicker(s.cfg.MetricEvery)
	defer metrics.Stop()

	for {
		select {
		case <-ctx.Done():
			return false
		case t := <-w.ticks:
			w.bot.OnTick(ctx, t.Price, t.Time)
		case p := <-w.params:
			w.bot.SetParams(p.Params)
			observ.Log("params_applied", map[string]any{"bot": w.bot.BotID()})
		case <-metrics.C:
			s.reportMetrics(w)
		}
	}
}

// reportMetrics runs on the worker's own goroutine, so reading its risk
// manager is race-free; the shared cache write is under the mutex.
func (s *Supervisor) reportMetrics(w *worker) {
	st := w.bot.Risk().RiskState()

	s.mu.Lock()
	s.states[w.bot.BotID()] = st
	s.mu.Unlock()

	if s.hub != nil {
		price := 0.0
		if t, err := s.prices.Get(w.bot.Symbol()); err == nil {
			price = t.Mid()
		}
		s.hub.Publish(MetricMsg{
			BotID:       w.bot.BotID(),
			Symbol:      w.bot.Symbol(),
			Price:       price,
			Equity:      st.Equity,
			DayPnL:      st.DayPnL,
			OpenRiskPct: st.OpenRiskPct,
			Positions:   st.Positions,
			Time:        time.Now().UTC(),
		})
	}
}

// recalc recomputes portfolio state from the caller's live risk state
// plus the last published state of every other bot. The caller owns its
// own manager so the fresh read is safe; everything else comes from the
// cache and may be one metric interval stale.
func (s *Supervisor) recalc(callerID string) {
	s.mu.Lock()
	if w := s.workers[callerID]; w != nil {
		s.states[callerID] = w.bot.Risk().RiskState()
	}
	providers := make([]risk.StateProvider, 0, len(s.states))
	for _, st := range s.states {
		providers = append(providers, staticState(st))
	}
	s.mu.Unlock()

	if s.portfolio != nil {
		s.portfolio.Recalc(providers)
	}
}

func (s *Supervisor) healthLoop(ctx context.Context) {
	defer s.wg.Done()
	tick := time.NewTicker(s.cfg.HealthEvery)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			if s.mon != nil {
				s.mon.CheckHealth()
			}
			s.snapshotEquity()
		}
	}
}

func (s *Supervisor) snapshotEquity() {
	if s.portfolio == nil || s.metrics == nil {
		return
	}
	st := s.portfolio.State()
	if st.Agents == 0 {
		return
	}
	snap := store.EquitySnapshot{
		Time:        time.Now().UTC(),
		Equity:      st.Equity,
		DayPnL:      st.DayPnL,
		OpenRiskPct: st.OpenRiskPct,
	}
	if err := s.metrics.RecordEquity(snap); err != nil {
		observ.Error("equity_snapshot_failed", err, nil)
		if s.mon != nil {
			s.mon.Inc(monitor.CPersistErrors)
		}
	}
	state := store.AccountState{Equity: st.Equity, UpdatedAt: snap.Time}
	if err := s.metrics.SaveAccountState(state); err != nil {
		observ.Error("account_state_save_failed", err, nil)
		if s.mon != nil {
			s.mon.Inc(monitor.CPersistErrors)
		}
	}
}

// staticState adapts a cached state copy to risk.StateProvider.
type staticState risk.State

func (s staticState) RiskState() risk.State { return risk.State(s) }

type portfolioGuard struct {
	sup   *Supervisor
	botID string
}

func (g *portfolioGuard) Recalc() { g.sup.recalc(g.botID) }

func (g *portfolioGuard) CanTrade() (bool, string) {
	if g.sup.portfolio == nil {
		return true, ""
	}
	return g.sup.portfolio.CanTrade()
}

// announcingEngine mirrors order traffic onto the telemetry hub.
type announcingEngine struct {
	sup   *Supervisor
	botID string
	inner engine.Engine
}

func (e *announcingEngine) Place(ctx context.Context, o engine.Order) (engine.Fill, error) {
	if e.sup.hub != nil {
		e.sup.hub.Publish(OrderMsg{
			BotID: e.botID, OrderID: o.ID, Symbol: o.Symbol,
			Side: o.Side, Qty: o.Qty, Price: o.Price, Time: time.Now().UTC(),
		})
	}
	fill, err := e.inner.Place(ctx, o)
	if e.sup.hub != nil {
		res := OrderResultMsg{
			BotID: e.botID, OrderID: o.ID,
			FillQty: fill.Qty, FillPrice: fill.Price, Fee: fill.Fee,
			Simulated: fill.Simulated, Time: time.Now().UTC(),
		}
		if err != nil {
			res.Err = err.Error()
		}
		e.sup.hub.Publish(res)
	}
	return fill, err
}
