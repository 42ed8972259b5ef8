// Package engine places orders. An Engine is either the local simulator
// or a broker adapter; Resilient wraps any of them with chunking, retry,
// slippage checks and a fallback to simulation so the risk bookkeeping
// upstream never stalls on an external outage.
package engine

import (
	"context"
	"errors"
	"time"

	"github.com/rustyeddy/evobot/market"
)

// OrderType distinguishes market from limit orders. Only market orders
// are executed today; limit/stop prices ride along for broker adapters
// that can attach them.
type OrderType string

const (
	Market OrderType = "market"
	Limit  OrderType = "limit"
)

// Order is a request to trade.
type Order struct {
	ID     string
	BotID  string
	Symbol string
	Side   market.Side
	Qty    float64
	Price  float64 // reference price the decision was made at
	Type   OrderType

	LimitPrice *float64
	StopPrice  *float64
}

func (o Order) Notional() float64 {
	return o.Qty * o.Price
}

// Fill is the broker's (or simulator's) response. Fill.Qty always equals
// the requested quantity; engines that cannot guarantee that must return
// ErrBadFill instead. Partial fills are not modeled.
type Fill struct {
	Qty           float64
	Price         float64
	Fee           float64
	Time          time.Time
	BrokerOrderID string
	Simulated     bool
}

var (
	ErrBadFill  = errors.New("fill quantity does not match order")
	ErrRejected = errors.New("order rejected")
)

// Engine places a single order and reports the fill.
type Engine interface {
	Place(ctx context.Context, o Order) (Fill, error)
}
