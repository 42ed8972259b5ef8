package runner

import (
	"bytes"
	"context"
	"errors"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/evobot/engine"
	"github.com/rustyeddy/evobot/market"
	"github.com/rustyeddy/evobot/monitor"
	"github.com/rustyeddy/evobot/observ"
	"github.com/rustyeddy/evobot/risk"
	"github.com/rustyeddy/evobot/store"
	"github.com/rustyeddy/evobot/strategies"
)

type fakeBot struct {
	id     string
	sym    string
	rm     *risk.Manager
	ticks  atomic.Int64
	params atomic.Pointer[strategies.Params]

	// panicEvery > 0 makes every tick panic; panicOnce panics only the
	// first tick.
	panicEvery bool
	panicOnce  bool
}

func newFakeBot(id, sym string) *fakeBot {
	return &fakeBot{id: id, sym: sym, rm: risk.NewManager(10000, risk.DefaultLimits())}
}

func (b *fakeBot) BotID() string                 { return b.id }
func (b *fakeBot) Symbol() string                { return b.sym }
func (b *fakeBot) Risk() *risk.Manager           { return b.rm }
func (b *fakeBot) SetParams(p strategies.Params) { b.params.Store(&p) }

func (b *fakeBot) OnTick(_ context.Context, _ float64, _ time.Time) {
	n := b.ticks.Add(1)
	if b.panicEvery || (b.panicOnce && n == 1) {
		panic("tick handler blew up")
	}
}

type fakeHub struct {
	mu   chan struct{}
	msgs []any
}

func newFakeHub() *fakeHub {
	h := &fakeHub{mu: make(chan struct{}, 1)}
	h.mu <- struct{}{}
	return h
}

func (h *fakeHub) Publish(v any) {
	<-h.mu
	h.msgs = append(h.msgs, v)
	h.mu <- struct{}{}
}

func (h *fakeHub) all() []any {
	<-h.mu
	out := append([]any(nil), h.msgs...)
	h.mu <- struct{}{}
	return out
}

type fakeMetricStore struct {
	snaps  []store.EquitySnapshot
	states []store.AccountState
}

func (f *fakeMetricStore) RecordEquity(s store.EquitySnapshot) error {
	f.snaps = append(f.snaps, s)
	return nil
}

func (f *fakeMetricStore) SaveAccountState(a store.AccountState) error {
	f.states = append(f.states, a)
	return nil
}

func fastConfig() Config {
	return Config{
		RestartDelay: 20 * time.Millisecond,
		MetricEvery:  10 * time.Millisecond,
		HealthEvery:  time.Hour,
		TickBuffer:   16,
	}
}

func TestDispatchRoutesBySymbol(t *testing.T) {
	t.Parallel()

	sup := NewSupervisor(fastConfig(), nil, nil, nil, nil)
	a := newFakeBot("bot-a", "EURUSD")
	b := newFakeBot("bot-b", "GBPUSD")
	sup.AddBot(a)
	sup.AddBot(b)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sup.Start(ctx)
	defer sup.Stop()

	sup.Dispatch(TickMsg{Symbol: "EURUSD", Price: 1.1, Time: time.Now()})
	sup.Dispatch(TickMsg{Symbol: "EURUSD", Price: 1.2, Time: time.Now()})
	sup.Dispatch(TickMsg{Symbol: "GBPUSD", Price: 1.3, Time: time.Now()})

	require.Eventually(t, func() bool {
		return a.ticks.Load() == 2 && b.ticks.Load() == 1
	}, time.Second, 5*time.Millisecond)
}

func TestCrashedWorkerRestarts(t *testing.T) {
	t.Parallel()

	mon := monitor.New(monitor.DefaultConfig(), nil)
	sup := NewSupervisor(fastConfig(), nil, mon, nil, nil)
	b := newFakeBot("bot-a", "EURUSD")
	b.panicOnce = true
	sup.AddBot(b)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sup.Start(ctx)
	defer sup.Stop()

	sup.Dispatch(TickMsg{Symbol: "EURUSD", Price: 1.1, Time: time.Now()})
	require.Eventually(t, func() bool {
		return mon.Count(monitor.CWorkerCrashes) == 1
	}, time.Second, 5*time.Millisecond)

	// The revived worker keeps processing.
	require.Eventually(t, func() bool {
		sup.Dispatch(TickMsg{Symbol: "EURUSD", Price: 1.2, Time: time.Now()})
		return b.ticks.Load() >= 2
	}, time.Second, 10*time.Millisecond)
}

func TestDisabledBotIsNotRestarted(t *testing.T) {
	var buf bytes.Buffer
	observ.SetOutput(&buf)
	defer observ.SetOutput(os.Stdout)

	sup := NewSupervisor(fastConfig(), nil, nil, nil, nil)
	b := newFakeBot("bot-a", "EURUSD")
	b.panicEvery = true
	sup.AddBot(b)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sup.Start(ctx)

	sup.Dispatch(TickMsg{Symbol: "EURUSD", Price: 1.1, Time: time.Now()})
	require.Eventually(t, func() bool {
		return b.ticks.Load() == 1
	}, time.Second, 5*time.Millisecond)

	sup.Disable("bot-a")
	sup.Stop()

	assert.Contains(t, buf.String(), "bot_not_restarted")
	assert.NotContains(t, buf.String(), "bot_restarted")
	assert.Equal(t, int64(1), b.ticks.Load())
}

func TestGuardAggregatesAcrossBots(t *testing.T) {
	t.Parallel()

	portfolio := risk.NewPortfolio(risk.DefaultPortfolioLimits(), nil, nil)
	sup := NewSupervisor(fastConfig(), portfolio, nil, nil, nil)
	sup.AddBot(newFakeBot("bot-a", "EURUSD"))
	sup.AddBot(newFakeBot("bot-b", "GBPUSD"))

	sup.recalc("bot-b")
	sup.recalc("bot-a")

	st := portfolio.State()
	assert.Equal(t, 2, st.Agents)
	assert.InDelta(t, 20000, st.Equity, 1e-9)

	ok, reason := sup.Guard("bot-a").CanTrade()
	assert.True(t, ok, reason)
}

func TestEquitySnapshotUpsertsAccountState(t *testing.T) {
	t.Parallel()

	ms := &fakeMetricStore{}
	portfolio := risk.NewPortfolio(risk.DefaultPortfolioLimits(), nil, nil)
	sup := NewSupervisor(fastConfig(), portfolio, nil, nil, ms)
	sup.AddBot(newFakeBot("bot-a", "EURUSD"))
	sup.recalc("bot-a")

	sup.snapshotEquity()

	require.Len(t, ms.snaps, 1)
	require.Len(t, ms.states, 1)
	assert.InDelta(t, 10000, ms.states[0].Equity, 1e-9)
	assert.False(t, ms.states[0].UpdatedAt.IsZero())
}

func TestMetricsPublishedToHub(t *testing.T) {
	t.Parallel()

	hub := newFakeHub()
	sup := NewSupervisor(fastConfig(), nil, nil, hub, nil)
	sup.AddBot(newFakeBot("bot-a", "EURUSD"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sup.Start(ctx)
	defer sup.Stop()

	require.Eventually(t, func() bool {
		for _, m := range hub.all() {
			if mm, ok := m.(MetricMsg); ok && mm.BotID == "bot-a" && mm.Equity == 10000 {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)
}

func TestUpdateParamsAppliedOnWorker(t *testing.T) {
	t.Parallel()

	sup := NewSupervisor(fastConfig(), nil, nil, nil, nil)
	b := newFakeBot("bot-a", "EURUSD")
	sup.AddBot(b)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sup.Start(ctx)
	defer sup.Stop()

	want := strategies.DefaultParams()
	want.RiskPct = 0.42
	sup.UpdateParams(ParamsMsg{BotID: "bot-a", Params: want})

	require.Eventually(t, func() bool {
		p := b.params.Load()
		return p != nil && p.RiskPct == 0.42
	}, time.Second, 5*time.Millisecond)
}

type okEngine struct{ fail bool }

func (e *okEngine) Place(_ context.Context, o engine.Order) (engine.Fill, error) {
	if e.fail {
		return engine.Fill{}, errors.New("broker down")
	}
	return engine.Fill{Qty: o.Qty, Price: o.Price, Time: time.Now()}, nil
}

func TestAnnouncingEngineMirrorsOrders(t *testing.T) {
	t.Parallel()

	hub := newFakeHub()
	sup := NewSupervisor(fastConfig(), nil, nil, hub, nil)
	eng := sup.Engine("bot-a", &okEngine{})

	fill, err := eng.Place(context.Background(), engine.Order{
		ID: "o1", Symbol: "EURUSD", Side: market.Buy, Qty: 2, Price: 1.1, Type: engine.Market,
	})
	require.NoError(t, err)
	assert.Equal(t, 2.0, fill.Qty)

	msgs := hub.all()
	require.Len(t, msgs, 2)
	om, ok := msgs[0].(OrderMsg)
	require.True(t, ok)
	assert.Equal(t, "o1", om.OrderID)
	rm, ok := msgs[1].(OrderResultMsg)
	require.True(t, ok)
	assert.Equal(t, "o1", rm.OrderID)
	assert.Empty(t, rm.Err)
}

func TestAnnouncingEngineReportsErrors(t *testing.T) {
	t.Parallel()

	hub := newFakeHub()
	sup := NewSupervisor(fastConfig(), nil, nil, hub, nil)
	eng := sup.Engine("bot-a", &okEngine{fail: true})

	_, err := eng.Place(context.Background(), engine.Order{
		ID: "o2", Symbol: "EURUSD", Side: market.Buy, Qty: 1, Price: 1.1, Type: engine.Market,
	})
	require.Error(t, err)

	msgs := hub.all()
	require.Len(t, msgs, 2)
	rm, ok := msgs[1].(OrderResultMsg)
	require.True(t, ok)
	assert.Equal(t, "broker down", rm.Err)
}
