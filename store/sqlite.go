package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/rustyeddy/evobot/market"
	"github.com/rustyeddy/evobot/risk"
)

var ErrNotFound = errors.New("record not found")

// SQLite implements Store on a local SQLite database.
type SQLite struct {
	db *sql.DB
}

func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) SaveAccountState(a AccountState) error {
	_, err := s.db.Exec(`
		INSERT INTO account_state (id, equity, updated_at) VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET equity = excluded.equity, updated_at = excluded.updated_at`,
		a.Equity, a.UpdatedAt,
	)
	return err
}

func (s *SQLite) LoadAccountState() (AccountState, bool, error) {
	var a AccountState
	err := s.db.QueryRow(`SELECT equity, updated_at FROM account_state WHERE id = 1`).
		Scan(&a.Equity, &a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return AccountState{}, false, nil
	}
	if err != nil {
		return AccountState{}, false, err
	}
	return a, true, nil
}

func (s *SQLite) SaveRiskVeto(v risk.Veto) error {
	_, err := s.db.Exec(`
		INSERT INTO risk_vetoes
		(reason, day_loss_pct, open_risk_pct, max_daily_loss_pct, max_open_risk, time)
		VALUES (?, ?, ?, ?, ?, ?)`,
		v.Reason, v.DayLossPct, v.OpenRiskPct,
		v.Limits.MaxDailyLossPct, v.Limits.MaxOpenRisk, v.Time,
	)
	return err
}

func (s *SQLite) SaveDecision(d Decision) error {
	feats, err := json.Marshal(d.Features)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`
		INSERT INTO decisions (decision_id, symbol, features, action, score, outcome, model_id, time)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.Symbol, string(feats), d.Action, d.Score, d.Outcome, d.ModelID, d.Time,
	)
	return err
}

func (s *SQLite) UpdateDecisionOutcome(id string, pnl float64) error {
	res, err := s.db.Exec(`UPDATE decisions SET outcome = ? WHERE decision_id = ?`, pnl, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("update outcome %s: %w", id, ErrNotFound)
	}
	return nil
}

func (s *SQLite) Decision(id string) (Decision, error) {
	var d Decision
	var feats string
	err := s.db.QueryRow(`
		SELECT decision_id, symbol, features, action, score, outcome, model_id, time
		FROM decisions WHERE decision_id = ?`, id).
		Scan(&d.ID, &d.Symbol, &feats, &d.Action, &d.Score, &d.Outcome, &d.ModelID, &d.Time)
	if errors.Is(err, sql.ErrNoRows) {
		return Decision{}, fmt.Errorf("decision %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return Decision{}, err
	}
	if err := json.Unmarshal([]byte(feats), &d.Features); err != nil {
		return Decision{}, fmt.Errorf("decode features: %w", err)
	}
	return d, nil
}

func (s *SQLite) SaveCandidate(c Candidate) error {
	_, err := s.db.Exec(`
		INSERT INTO evolution_candidates (child_id, parent_id, params, sharpe, drawdown, promoted, time)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.ChildID, c.ParentID, c.Params, c.Sharpe, c.Drawdown, c.Promoted, c.Time,
	)
	return err
}

func (s *SQLite) SetPromoted(childID string, promoted bool) error {
	_, err := s.db.Exec(`UPDATE evolution_candidates SET promoted = ? WHERE child_id = ?`,
		promoted, childID)
	return err
}

func (s *SQLite) Candidates(parentID string) ([]Candidate, error) {
	rows, err := s.db.Query(`
		SELECT child_id, parent_id, params, sharpe, drawdown, promoted, time
		FROM evolution_candidates WHERE parent_id = ? ORDER BY time`, parentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Candidate
	for rows.Next() {
		var c Candidate
		if err := rows.Scan(&c.ChildID, &c.ParentID, &c.Params, &c.Sharpe, &c.Drawdown, &c.Promoted, &c.Time); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *SQLite) SaveModel(m ModelVersion) error {
	_, err := s.db.Exec(`
		INSERT INTO model_registry (version, path, created_at, description, active)
		VALUES (?, ?, ?, ?, ?)`,
		m.Version, m.Path, m.CreatedAt, m.Description, m.Active,
	)
	return err
}

// ActivateModel flags one registry row active and clears all others in a
// single transaction, preserving the exactly-one-active invariant.
func (s *SQLite) ActivateModel(version int64) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`UPDATE model_registry SET active = 0 WHERE active = 1`); err != nil {
		return err
	}
	res, err := tx.Exec(`UPDATE model_registry SET active = 1 WHERE version = ?`, version)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("activate model %d: %w", version, ErrNotFound)
	}
	return tx.Commit()
}

func (s *SQLite) ActiveModel() (ModelVersion, bool, error) {
	var m ModelVersion
	err := s.db.QueryRow(`
		SELECT version, path, created_at, description, active
		FROM model_registry WHERE active = 1`).
		Scan(&m.Version, &m.Path, &m.CreatedAt, &m.Description, &m.Active)
	if errors.Is(err, sql.ErrNoRows) {
		return ModelVersion{}, false, nil
	}
	if err != nil {
		return ModelVersion{}, false, err
	}
	return m, true, nil
}

func (s *SQLite) SaveOrder(o OrderRecord) error {
	_, err := s.db.Exec(`
		INSERT INTO orders
		(order_id, bot_id, symbol, side, qty, price, type, status, broker_order_id, time)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.ID, o.BotID, o.Symbol, string(o.Side), o.Qty, o.Price, o.Type, o.Status, o.BrokerOrderID, o.Time,
	)
	return err
}

func (s *SQLite) UpdateOrderStatus(id, status, brokerOrderID string) error {
	res, err := s.db.Exec(`UPDATE orders SET status = ?, broker_order_id = ? WHERE order_id = ?`,
		status, brokerOrderID, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("update order %s: %w", id, ErrNotFound)
	}
	return nil
}

func (s *SQLite) RecordTrade(t TradeRecord) error {
	_, err := s.db.Exec(`
		INSERT INTO trades
		(trade_id, bot_id, symbol, side, qty, entry_price, exit_price, open_time, close_time, realized_pnl, fee, reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.BotID, t.Symbol, string(t.Side), t.Qty, t.Entry, t.Exit,
		t.OpenTime, t.CloseTime, t.Realized, t.Fee, t.Reason,
	)
	return err
}

func (s *SQLite) RecordEquity(e EquitySnapshot) error {
	_, err := s.db.Exec(`
		INSERT INTO equity (time, equity, day_pnl, open_risk_pct) VALUES (?, ?, ?, ?)`,
		e.Time, e.Equity, e.DayPnL, e.OpenRiskPct,
	)
	return err
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

// Trades returns a bot's journaled trades in close-time order, used by the
// replay summary and the evolution scorer.
func (s *SQLite) Trades(botID string) ([]TradeRecord, error) {
	rows, err := s.db.Query(`
		SELECT trade_id, bot_id, symbol, side, qty, entry_price, exit_price,
		       open_time, close_time, realized_pnl, fee, reason
		FROM trades WHERE bot_id = ? ORDER BY close_time`, botID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TradeRecord
	for rows.Next() {
		var t TradeRecord
		var side string
		if err := rows.Scan(&t.ID, &t.BotID, &t.Symbol, &side, &t.Qty, &t.Entry, &t.Exit,
			&t.OpenTime, &t.CloseTime, &t.Realized, &t.Fee, &t.Reason); err != nil {
			return nil, err
		}
		t.Side = market.Side(side)
		out = append(out, t)
	}
	return out, rows.Err()
}
