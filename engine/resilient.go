package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rustyeddy/evobot/observ"
)

// MaxChunks caps how many sub-orders one order is split into.
const MaxChunks = 3

// ResilientConfig controls the execution policy applied around any inner
// engine.
type ResilientConfig struct {
	// SplitNotional chunks orders whose notional exceeds it. Zero
	// disables chunking.
	SplitNotional float64 `yaml:"split_notional"`

	// AttemptTimeout bounds each sub-order attempt. A timed-out or
	// cancelled attempt is retried exactly once.
	AttemptTimeout time.Duration `yaml:"attempt_timeout"`

	// SlippageWarnPct logs a warning (never a failure) when
	// |fill−requested|/requested exceeds it.
	SlippageWarnPct float64 `yaml:"slippage_warn_pct"`
}

func DefaultResilientConfig() ResilientConfig {
	return ResilientConfig{
		SplitNotional:   50000,
		AttemptTimeout:  3 * time.Second,
		SlippageWarnPct: 0.5,
	}
}

// Resilient wraps an Engine with the execution policy: chunking,
// per-attempt timeout with a single retry, and slippage monitoring.
type Resilient struct {
	cfg   ResilientConfig
	inner Engine
}

func NewResilient(cfg ResilientConfig, inner Engine) *Resilient {
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = DefaultResilientConfig().AttemptTimeout
	}
	return &Resilient{cfg: cfg, inner: inner}
}

// Place executes the order as at most MaxChunks sequential sub-orders and
// aggregates the fills (quantity summed, price volume-weighted).
func (r *Resilient) Place(ctx context.Context, o Order) (Fill, error) {
	chunks := r.split(o)

	var agg Fill
	var notional float64
	for i, chunk := range chunks {
		fill, err := r.placeOnce(ctx, chunk)
		if err != nil {
			return Fill{}, fmt.Errorf("sub-order %d/%d: %w", i+1, len(chunks), err)
		}
		if math.Abs(fill.Qty-chunk.Qty) > 1e-9 {
			return Fill{}, fmt.Errorf("sub-order %d/%d: got %v want %v: %w",
				i+1, len(chunks), fill.Qty, chunk.Qty, ErrBadFill)
		}

		agg.Qty += fill.Qty
		agg.Fee += fill.Fee
		agg.Time = fill.Time
		agg.Simulated = agg.Simulated || fill.Simulated
		if agg.BrokerOrderID == "" {
			agg.BrokerOrderID = fill.BrokerOrderID
		}
		notional += fill.Qty * fill.Price
	}

	if agg.Qty > 0 {
		agg.Price = notional / agg.Qty
	}
	r.checkSlippage(o, agg)
	return agg, nil
}

// placeOnce runs one time-bounded attempt and retries exactly once on
// timeout or cancellation. An order already accepted by a broker cannot
// be cancelled at this layer, so no further attempts are made.
func (r *Resilient) placeOnce(ctx context.Context, o Order) (Fill, error) {
	fill, err := r.attempt(ctx, o)
	if err == nil {
		return fill, nil
	}
	if !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
		return Fill{}, err
	}

	observ.Warn("order_attempt_timeout", map[string]any{
		"order_id": o.ID,
		"symbol":   o.Symbol,
	})
	return r.attempt(ctx, o)
}

func (r *Resilient) attempt(ctx context.Context, o Order) (Fill, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, r.cfg.AttemptTimeout)
	defer cancel()
	return r.inner.Place(attemptCtx, o)
}

// split divides the order into equal sub-orders, remainder on the last,
// quantities always summing exactly to the requested qty.
func (r *Resilient) split(o Order) []Order {
	if r.cfg.SplitNotional <= 0 || o.Notional() <= r.cfg.SplitNotional {
		return []Order{o}
	}

	n := int(math.Ceil(o.Notional() / r.cfg.SplitNotional))
	if n > MaxChunks {
		n = MaxChunks
	}

	chunks := make([]Order, n)
	each := o.Qty / float64(n)
	var used float64
	for i := range chunks {
		chunks[i] = o
		chunks[i].ID = fmt.Sprintf("%s-%d", o.ID, i+1)
		if i == n-1 {
			chunks[i].Qty = o.Qty - used
		} else {
			chunks[i].Qty = each
			used += each
		}
	}
	return chunks
}

func (r *Resilient) checkSlippage(o Order, f Fill) {
	if o.Price <= 0 || r.cfg.SlippageWarnPct <= 0 {
		return
	}
	slipPct := math.Abs(f.Price-o.Price) / o.Price * 100
	if slipPct > r.cfg.SlippageWarnPct {
		observ.Warn("slippage_exceeded", map[string]any{
			"order_id":     o.ID,
			"symbol":       o.Symbol,
			"requested":    o.Price,
			"filled":       f.Price,
			"slippage_pct": slipPct,
			"limit_pct":    r.cfg.SlippageWarnPct,
		})
	}
}
