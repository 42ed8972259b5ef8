// Package store persists the engine's durable records: account state,
// risk vetoes, gate decisions, evolution candidates, the model registry,
// and the trade/equity journal.
//
// Persistence failures are a durability hole, not a trading halt: callers
// log-and-swallow errors from this package and surface the gap through
// the pipeline monitor.
package store

import (
	"time"

	"github.com/rustyeddy/evobot/market"
	"github.com/rustyeddy/evobot/risk"
)

// AccountState is the single-row portfolio equity record, read at startup
// and upserted after every portfolio recalculation.
type AccountState struct {
	Equity    float64
	UpdatedAt time.Time
}

// Decision is one gate decision, forming the feedback dataset for offline
// retraining. Outcome is unset until the originating trade's realized PnL
// is known, then written exactly once.
type Decision struct {
	ID       string
	Symbol   string
	Features []float64
	Action   string // buy, sell, skip
	Score    float64
	Outcome  *float64
	ModelID  string
	Time     time.Time
}

// Candidate is one evolution-generation record, immutable once scored.
type Candidate struct {
	ParentID string
	ChildID  string
	Params   string // JSON-encoded parameter set
	Sharpe   float64
	Drawdown float64
	Promoted bool
	Time     time.Time
}

// ModelVersion is one row of the scoring-model registry. Exactly one row
// is active at a time.
type ModelVersion struct {
	Version     int64
	Path        string
	CreatedAt   time.Time
	Description string
	Active      bool
}

// OrderRecord is the local order row, written before any remote broker
// call so bookkeeping survives an external outage.
type OrderRecord struct {
	ID            string
	BotID         string
	Symbol        string
	Side          market.Side
	Qty           float64
	Price         float64
	Type          string // market, limit
	Status        string // pending, filled, rejected, simulated
	BrokerOrderID string
	Time          time.Time
}

// TradeRecord journals one closed position.
type TradeRecord struct {
	ID        string
	BotID     string
	Symbol    string
	Side      market.Side
	Qty       float64
	Entry     float64
	Exit      float64
	OpenTime  time.Time
	CloseTime time.Time
	Realized  float64
	Fee       float64
	Reason    string
}

// EquitySnapshot journals the portfolio state after a recalculation.
type EquitySnapshot struct {
	Time        time.Time
	Equity      float64
	DayPnL      float64
	OpenRiskPct float64
}

// Store is the persistence contract the rest of the engine depends on.
type Store interface {
	SaveAccountState(AccountState) error
	LoadAccountState() (AccountState, bool, error)

	SaveRiskVeto(risk.Veto) error

	SaveDecision(Decision) error
	UpdateDecisionOutcome(id string, pnl float64) error
	Decision(id string) (Decision, error)

	SaveCandidate(Candidate) error
	SetPromoted(childID string, promoted bool) error
	Candidates(parentID string) ([]Candidate, error)

	SaveModel(ModelVersion) error
	ActivateModel(version int64) error
	ActiveModel() (ModelVersion, bool, error)

	SaveOrder(OrderRecord) error
	UpdateOrderStatus(id, status, brokerOrderID string) error

	RecordTrade(TradeRecord) error
	RecordEquity(EquitySnapshot) error

	Close() error
}
