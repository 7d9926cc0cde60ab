package db

import (
	"database/sql"
	"fmt"
)

// Domain timestamps are unix milliseconds; created_at/updated_at are
// bookkeeping only.
const schema = `
CREATE TABLE IF NOT EXISTS trade_log (
    id TEXT PRIMARY KEY,
    position_id TEXT NOT NULL,
    instrument TEXT NOT NULL,
    side TEXT NOT NULL,
    action TEXT NOT NULL,
    strategy_id TEXT NOT NULL,
    price REAL NOT NULL,
    size REAL NOT NULL,
    size_usd REAL NOT NULL,
    pnl REAL DEFAULT 0,
    score REAL DEFAULT 0,
    reason TEXT,
    at_ms INTEGER NOT NULL,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_trade_log_at ON trade_log(at_ms);

CREATE TABLE IF NOT EXISTS positions (
    id TEXT PRIMARY KEY,
    instrument TEXT NOT NULL,
    side TEXT NOT NULL,
    strategy_id TEXT NOT NULL,
    entry_price REAL NOT NULL,
    size REAL NOT NULL,
    size_usd REAL NOT NULL,
    stop_loss REAL NOT NULL,
    take_profit1 REAL NOT NULL,
    take_profit2 REAL NOT NULL,
    trailing_stop REAL,
    tp1_hit INTEGER DEFAULT 0,
    trailing_active INTEGER DEFAULT 0,
    opened_at_ms INTEGER NOT NULL,
    exit_time_ms INTEGER,
    atr_at_entry REAL DEFAULT 0,
    emergency_exit INTEGER DEFAULT 1,
    risk_amount REAL DEFAULT 0,
    score REAL DEFAULT 0,
    leverage INTEGER DEFAULT 1,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS risk_state (
    id INTEGER PRIMARY KEY CHECK (id = 1),
    state TEXT NOT NULL,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS risk_metrics (
    date TEXT PRIMARY KEY,
    daily_pnl REAL DEFAULT 0,
    daily_trades INTEGER DEFAULT 0,
    daily_wins INTEGER DEFAULT 0,
    daily_losses REAL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS kpi_trades (
    position_id TEXT PRIMARY KEY,
    instrument TEXT NOT NULL,
    strategy_id TEXT NOT NULL,
    pnl REAL NOT NULL,
    pnl_pct REAL NOT NULL,
    hold_minutes REAL NOT NULL,
    risk_reward REAL NOT NULL,
    hold_ok INTEGER NOT NULL,
    rr_ok INTEGER NOT NULL,
    closed_at_ms INTEGER NOT NULL
);
`

// ApplyMigrations bootstraps the schema; keep lightweight for fast startup.
func ApplyMigrations(d *Database) error {
	if d == nil || d.DB == nil {
		return fmt.Errorf("database is not initialized")
	}
	if _, err := d.DB.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}

	// Columns added after the first release.
	if err := ensureColumn(d.DB, "positions", "leverage", "INTEGER DEFAULT 1"); err != nil {
		return err
	}
	if err := ensureColumn(d.DB, "trade_log", "score", "REAL DEFAULT 0"); err != nil {
		return err
	}
	return nil
}

// ensureColumn adds a column if it does not already exist.
func ensureColumn(db *sql.DB, table, column, definition string) error {
	exists, err := columnExists(db, table, column)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	alter := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, definition)
	if _, err := db.Exec(alter); err != nil {
		return fmt.Errorf("alter table %s add column %s: %w", table, column, err)
	}
	return nil
}

func columnExists(db *sql.DB, table, column string) (bool, error) {
	rows, err := db.Query("PRAGMA table_info(" + table + ")")
	if err != nil {
		return false, fmt.Errorf("pragma table_info(%s): %w", table, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid        int
			name       string
			colType    string
			notNull    int
			defaultVal sql.NullString
			pk         int
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &defaultVal, &pk); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}
