// Package gate wraps the learned approval model that vets trade ideas
// before execution, logs every decision for later outcome labeling, and
// hot-reloads newly promoted models without a restart.
package gate

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rustyeddy/evobot/id"
	"github.com/rustyeddy/evobot/observ"
	"github.com/rustyeddy/evobot/store"
)

// NeutralScore is substituted when inference fails. Whether a neutral
// score passes depends only on the configured threshold: with the default
// threshold above 0.5 a scorer outage vetoes, it does not wave trades
// through. This is a deliberate policy, not an accident of defaults.
const NeutralScore = 0.5

// Config controls the gate.
type Config struct {
	Enabled        bool          `yaml:"enabled"`
	Threshold      float64       `yaml:"threshold"`
	ReloadInterval time.Duration `yaml:"reload_interval"`
}

func DefaultConfig() Config {
	return Config{
		Enabled:        true,
		Threshold:      0.55,
		ReloadInterval: time.Minute,
	}
}

// Result is one approval decision.
type Result struct {
	Approved   bool
	Score      float64
	DecisionID string
}

// DecisionLog is the slice of the store the gate writes to.
type DecisionLog interface {
	SaveDecision(store.Decision) error
	UpdateDecisionOutcome(id string, pnl float64) error
}

// ModelRegistry is the slice of the store the hot-reload poller reads.
type ModelRegistry interface {
	ActiveModel() (store.ModelVersion, bool, error)
}

// LoadFunc loads a scoring artifact from a path. Production wires
// LoadONNX; tests inject fakes.
type LoadFunc func(path string) (Scorer, error)

type handle struct {
	scorer  Scorer
	modelID string
	version int64
}

// Gatekeeper approves or vetoes trade ideas using the currently active
// model. The model handle is swapped atomically on promotion; readers see
// either the old or the new scorer, never a partial state.
type Gatekeeper struct {
	cfg      Config
	log      DecisionLog
	registry ModelRegistry
	load     LoadFunc

	current atomic.Pointer[handle]

	// scoreMu serializes inference: the ONNX session reuses one input
	// tensor.
	scoreMu sync.Mutex
}

func New(cfg Config, log DecisionLog, registry ModelRegistry, load LoadFunc) *Gatekeeper {
	if cfg.Threshold == 0 {
		cfg.Threshold = DefaultConfig().Threshold
	}
	if load == nil {
		load = LoadONNX
	}
	g := &Gatekeeper{
		cfg:      cfg,
		log:      log,
		registry: registry,
		load:     load,
	}
	g.current.Store(&handle{})
	return g
}

// Reload checks the registry for a newer promoted model and swaps it in.
// Returns true when a swap happened.
func (g *Gatekeeper) Reload() (bool, error) {
	if g.registry == nil {
		return false, nil
	}
	mv, ok, err := g.registry.ActiveModel()
	if err != nil {
		return false, fmt.Errorf("poll model registry: %w", err)
	}
	if !ok {
		return false, nil
	}

	cur := g.current.Load()
	if cur.version == mv.Version && cur.scorer != nil {
		return false, nil
	}

	scorer, err := g.load(mv.Path)
	if err != nil {
		return false, fmt.Errorf("load model v%d: %w", mv.Version, err)
	}

	old := g.current.Swap(&handle{
		scorer:  scorer,
		modelID: strconv.FormatInt(mv.Version, 10),
		version: mv.Version,
	})
	if old.scorer != nil {
		old.scorer.Close()
	}

	observ.Log("gate_model_loaded", map[string]any{
		"version": mv.Version,
		"path":    mv.Path,
	})
	return true, nil
}

// Run polls the registry until ctx is cancelled. An initial reload runs
// immediately so the gate is armed before the first candle closes.
func (g *Gatekeeper) Run(ctx context.Context) {
	if _, err := g.Reload(); err != nil {
		observ.Error("gate_reload_failed", err, nil)
	}

	interval := g.cfg.ReloadInterval
	if interval <= 0 {
		interval = DefaultConfig().ReloadInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := g.Reload(); err != nil {
				observ.Error("gate_reload_failed", err, nil)
			}
		}
	}
}

// Approve scores the feature vector and applies the threshold. Inference
// failure substitutes NeutralScore (see its doc for the policy). When the
// gate is disabled every idea is approved with score 1.
func (g *Gatekeeper) Approve(features []float64) Result {
	if !g.cfg.Enabled {
		return Result{Approved: true, Score: 1}
	}

	score := g.score(features)
	return Result{
		Approved: score >= g.cfg.Threshold,
		Score:    score,
	}
}

func (g *Gatekeeper) score(features []float64) float64 {
	h := g.current.Load()
	if h.scorer == nil {
		observ.Warn("gate_no_model", nil)
		return NeutralScore
	}

	g.scoreMu.Lock()
	score, err := h.scorer.Score(features)
	g.scoreMu.Unlock()
	if err != nil {
		observ.Error("gate_inference_failed", err, nil)
		return NeutralScore
	}
	return score
}

// LogDecision persists a pending feedback row with outcome unset and
// returns its id. Persistence failure is logged and swallowed; the empty
// id tells the caller there is no row to update later.
func (g *Gatekeeper) LogDecision(symbol string, features []float64, action string, score float64) string {
	if g.log == nil {
		return ""
	}
	d := store.Decision{
		ID:       id.Decision(),
		Symbol:   symbol,
		Features: features,
		Action:   action,
		Score:    score,
		ModelID:  g.current.Load().modelID,
		Time:     time.Now().UTC(),
	}
	if err := g.log.SaveDecision(d); err != nil {
		observ.Error("decision_persist_failed", err, map[string]any{"symbol": symbol})
		return ""
	}
	return d.ID
}

// UpdateOutcome closes the feedback loop once the trade's realized PnL is
// known.
func (g *Gatekeeper) UpdateOutcome(decisionID string, pnl float64) {
	if g.log == nil || decisionID == "" {
		return
	}
	if err := g.log.UpdateDecisionOutcome(decisionID, pnl); err != nil {
		observ.Error("outcome_update_failed", err, map[string]any{"decision_id": decisionID})
	}
}

// Close releases the active scorer.
func (g *Gatekeeper) Close() {
	h := g.current.Swap(&handle{})
	if h.scorer != nil {
		h.scorer.Close()
	}
}
