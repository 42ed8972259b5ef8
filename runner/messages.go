package runner

import (
	"time"

	"github.com/rustyeddy/evobot/market"
	"github.com/rustyeddy/evobot/strategies"
)

// Messages are the only values that cross a worker boundary. All of
// them are plain data, JSON-serializable for the telemetry hub.

// TickMsg is one price observation routed to a symbol's worker.
type TickMsg struct {
	Symbol string    `json:"symbol"`
	Price  float64   `json:"price"`
	Time   time.Time `json:"time"`
}

// OrderMsg announces an order leaving a worker for the broker.
type OrderMsg struct {
	BotID   string      `json:"bot_id"`
	OrderID string      `json:"order_id"`
	Symbol  string      `json:"symbol"`
	Side    market.Side `json:"side"`
	Qty     float64     `json:"qty"`
	Price   float64     `json:"price"`
	Time    time.Time   `json:"time"`
}

// OrderResultMsg reports how that order ended.
type OrderResultMsg struct {
	BotID     string    `json:"bot_id"`
	OrderID   string    `json:"order_id"`
	FillQty   float64   `json:"fill_qty"`
	FillPrice float64   `json:"fill_price"`
	Fee       float64   `json:"fee"`
	Simulated bool      `json:"simulated"`
	Err       string    `json:"err,omitempty"`
	Time      time.Time `json:"time"`
}

// ParamsMsg swaps a bot's strategy parameters. Applied on the worker's
// own goroutine between ticks, never mid-candle.
type ParamsMsg struct {
	BotID  string            `json:"bot_id"`
	Params strategies.Params `json:"params"`
}

// MetricMsg is a worker's periodic risk/health report.
type MetricMsg struct {
	BotID       string    `json:"bot_id"`
	Symbol      string    `json:"symbol"`
	Price       float64   `json:"price"`
	Equity      float64   `json:"equity"`
	DayPnL      float64   `json:"day_pnl"`
	OpenRiskPct float64   `json:"open_risk_pct"`
	Positions   int       `json:"positions"`
	Time        time.Time `json:"time"`
}
