package gate

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/evobot/indicators"
	"github.com/rustyeddy/evobot/market"
	"github.com/rustyeddy/evobot/store"
)

type fixedScorer struct {
	score  float64
	err    error
	closed bool
}

func (f *fixedScorer) Score([]float64) (float64, error) { return f.score, f.err }
func (f *fixedScorer) Close() error                     { f.closed = true; return nil }

type fakeLog struct {
	decisions map[string]store.Decision
	outcomes  map[string]float64
	saveErr   error
}

func newFakeLog() *fakeLog {
	return &fakeLog{decisions: map[string]store.Decision{}, outcomes: map[string]float64{}}
}

func (f *fakeLog) SaveDecision(d store.Decision) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	f.decisions[d.ID] = d
	return nil
}

func (f *fakeLog) UpdateDecisionOutcome(id string, pnl float64) error {
	f.outcomes[id] = pnl
	return nil
}

type fakeRegistry struct {
	model store.ModelVersion
	ok    bool
}

func (f *fakeRegistry) ActiveModel() (store.ModelVersion, bool, error) {
	return f.model, f.ok, nil
}

func gateWith(t *testing.T, scorer Scorer, threshold float64) *Gatekeeper {
	t.Helper()
	reg := &fakeRegistry{model: store.ModelVersion{Version: 1, Path: "gate.onnx"}, ok: true}
	g := New(Config{Enabled: true, Threshold: threshold}, newFakeLog(), reg,
		func(string) (Scorer, error) { return scorer, nil })
	_, err := g.Reload()
	require.NoError(t, err)
	return g
}

func TestApproveThresholdBoundary(t *testing.T) {
	t.Parallel()

	const eps = 1e-9

	exact := gateWith(t, &fixedScorer{score: 0.55}, 0.55)
	assert.True(t, exact.Approve(make([]float64, NFeatures)).Approved, "score == threshold approves")

	below := gateWith(t, &fixedScorer{score: 0.55 - eps}, 0.55)
	assert.False(t, below.Approve(make([]float64, NFeatures)).Approved, "score just under threshold vetoes")
}

func TestDisabledGateAlwaysApproves(t *testing.T) {
	t.Parallel()

	g := New(Config{Enabled: false, Threshold: 0.99}, nil, nil, nil)
	res := g.Approve(make([]float64, NFeatures))
	assert.True(t, res.Approved)
}

func TestInferenceFailureUsesNeutralScore(t *testing.T) {
	t.Parallel()

	// Default threshold (0.55) is above neutral: an outage vetoes.
	strict := gateWith(t, &fixedScorer{err: errors.New("boom")}, 0.55)
	res := strict.Approve(make([]float64, NFeatures))
	assert.False(t, res.Approved)
	assert.InDelta(t, NeutralScore, res.Score, 1e-12)

	// A threshold at or below neutral lets the fallback through.
	lenient := gateWith(t, &fixedScorer{err: errors.New("boom")}, 0.5)
	assert.True(t, lenient.Approve(make([]float64, NFeatures)).Approved)
}

func TestNoModelLoadedUsesNeutralScore(t *testing.T) {
	t.Parallel()

	g := New(Config{Enabled: true, Threshold: 0.55}, nil, nil, nil)
	res := g.Approve(make([]float64, NFeatures))
	assert.False(t, res.Approved)
	assert.InDelta(t, NeutralScore, res.Score, 1e-12)
}

func TestReloadSwapsAndClosesOldScorer(t *testing.T) {
	t.Parallel()

	old := &fixedScorer{score: 0.2}
	next := &fixedScorer{score: 0.9}
	reg := &fakeRegistry{model: store.ModelVersion{Version: 1, Path: "v1"}, ok: true}

	loads := 0
	g := New(DefaultConfig(), nil, reg, func(path string) (Scorer, error) {
		loads++
		if path == "v1" {
			return old, nil
		}
		return next, nil
	})

	swapped, err := g.Reload()
	require.NoError(t, err)
	assert.True(t, swapped)
	assert.False(t, g.Approve(make([]float64, NFeatures)).Approved)

	// Same version: no reload.
	swapped, err = g.Reload()
	require.NoError(t, err)
	assert.False(t, swapped)
	assert.Equal(t, 1, loads)

	// Promotion to v2 swaps atomically and closes the old scorer.
	reg.model = store.ModelVersion{Version: 2, Path: "v2"}
	swapped, err = g.Reload()
	require.NoError(t, err)
	assert.True(t, swapped)
	assert.True(t, old.closed)
	assert.True(t, g.Approve(make([]float64, NFeatures)).Approved)
}

func TestDecisionLoggingAndOutcome(t *testing.T) {
	t.Parallel()

	log := newFakeLog()
	reg := &fakeRegistry{model: store.ModelVersion{Version: 7, Path: "v7"}, ok: true}
	g := New(Config{Enabled: true, Threshold: 0.5}, log, reg,
		func(string) (Scorer, error) { return &fixedScorer{score: 0.8}, nil })
	_, err := g.Reload()
	require.NoError(t, err)

	feats := Features(market.Candle{Open: 1, High: 2, Low: 0.5, Close: 1.8},
		indicators.Snapshot{Ready: true, RSI: 60})

	id := g.LogDecision("EUR_USD", feats, "buy", 0.8)
	require.NotEmpty(t, id)

	d := log.decisions[id]
	assert.Equal(t, "EUR_USD", d.Symbol)
	assert.Equal(t, "7", d.ModelID)
	assert.Nil(t, d.Outcome)
	assert.Equal(t, feats, d.Features)

	g.UpdateOutcome(id, 12.5)
	assert.InDelta(t, 12.5, log.outcomes[id], 1e-9)
}

func TestLogDecisionSwallowsPersistFailure(t *testing.T) {
	t.Parallel()

	log := newFakeLog()
	log.saveErr = errors.New("disk full")
	g := New(Config{Enabled: true, Threshold: 0.5}, log, nil, nil)

	id := g.LogDecision("EUR_USD", make([]float64, NFeatures), "buy", 0.6)
	assert.Empty(t, id, "failed persist returns no id to update later")
}

func TestFeatureVectorShape(t *testing.T) {
	t.Parallel()

	c := market.Candle{Open: 100, High: 110, Low: 90, Close: 108}
	s := indicators.Snapshot{RSI: 55, FastMA: 104, SlowMA: 101, TrendSlope: 0.4, ADX: 30, ATR: 2, BandWidth: 0.05}

	feats := Features(c, s)
	require.Len(t, feats, NFeatures)
	assert.Equal(t, 55.0, feats[0])
	assert.Equal(t, 1.0, feats[7], "strong bullish body encodes +1")

	doji := market.Candle{Open: 100, High: 110, Low: 90, Close: 100.5}
	assert.Equal(t, 0.0, Features(doji, s)[7])
}

func TestDefaultConfig(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	assert.Greater(t, cfg.Threshold, NeutralScore,
		"default threshold must sit above neutral so outages fail closed")
	assert.Equal(t, time.Minute, cfg.ReloadInterval)
}
