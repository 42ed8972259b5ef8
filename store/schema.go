package store

const schema = `
CREATE TABLE IF NOT EXISTS account_state (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	equity REAL NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS risk_vetoes (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	reason TEXT NOT NULL,
	day_loss_pct REAL NOT NULL,
	open_risk_pct REAL NOT NULL,
	max_daily_loss_pct REAL NOT NULL,
	max_open_risk REAL NOT NULL,
	time DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS decisions (
	decision_id TEXT PRIMARY KEY,
	symbol TEXT NOT NULL,
	features TEXT NOT NULL,
	action TEXT NOT NULL,
	score REAL NOT NULL,
	outcome REAL,
	model_id TEXT NOT NULL,
	time DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS evolution_candidates (
	child_id TEXT PRIMARY KEY,
	parent_id TEXT NOT NULL,
	params TEXT NOT NULL,
	sharpe REAL NOT NULL,
	drawdown REAL NOT NULL,
	promoted INTEGER NOT NULL DEFAULT 0,
	time DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS model_registry (
	version INTEGER PRIMARY KEY,
	path TEXT NOT NULL,
	created_at DATETIME NOT NULL,
	description TEXT NOT NULL,
	active INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS orders (
	order_id TEXT PRIMARY KEY,
	bot_id TEXT NOT NULL,
	symbol TEXT NOT NULL,
	side TEXT NOT NULL,
	qty REAL NOT NULL,
	price REAL NOT NULL,
	type TEXT NOT NULL,
	status TEXT NOT NULL,
	broker_order_id TEXT NOT NULL DEFAULT '',
	time DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS trades (
	trade_id TEXT PRIMARY KEY,
	bot_id TEXT NOT NULL,
	symbol TEXT NOT NULL,
	side TEXT NOT NULL,
	qty REAL NOT NULL,
	entry_price REAL NOT NULL,
	exit_price REAL NOT NULL,
	open_time DATETIME NOT NULL,
	close_time DATETIME NOT NULL,
	realized_pnl REAL NOT NULL,
	fee REAL NOT NULL,
	reason TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS equity (
	time DATETIME NOT NULL,
	equity REAL NOT NULL,
	day_pnl REAL NOT NULL,
	open_risk_pct REAL NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_equity_time ON equity(time);
CREATE INDEX IF NOT EXISTS idx_decisions_time ON decisions(time);
CREATE INDEX IF NOT EXISTS idx_candidates_parent ON evolution_candidates(parent_id);
`
