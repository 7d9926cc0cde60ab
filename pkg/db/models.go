package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a single-row lookup matches nothing.
var ErrNotFound = errors.New("not found")

// TradeLogEntry is one append-only trade log row.
type TradeLogEntry struct {
	ID         string
	PositionID string
	Instrument string
	Side       string
	Action     string // open, partial, close
	StrategyID string
	Price      float64
	Size       float64
	SizeUsd    float64
	PnL        float64
	Score      float64
	Reason     string
	At         time.Time
}

// PositionRow mirrors an open position.
type PositionRow struct {
	ID             string
	Instrument     string
	Side           string
	StrategyID     string
	EntryPrice     float64
	Size           float64
	SizeUsd        float64
	StopLoss       float64
	TakeProfit1    float64
	TakeProfit2    float64
	TrailingStop   *float64
	TP1Hit         bool
	TrailingActive bool
	OpenedAt       time.Time
	ExitTime       *time.Time
	ATRAtEntry     float64
	EmergencyExit  bool
	RiskAmount     float64
	Score          float64
	Leverage       int
}

// DailyRiskMetrics is the per-day aggregate written on every closed trade.
type DailyRiskMetrics struct {
	Date        string
	DailyPnL    float64
	DailyTrades int
	DailyWins   int
	DailyLosses float64
}

// KPIRow is one tracked closed trade.
type KPIRow struct {
	PositionID  string
	Instrument  string
	StrategyID  string
	PnL         float64
	PnLPct      float64
	HoldMinutes float64
	RiskReward  float64
	HoldOK      bool
	RROK        bool
	ClosedAt    time.Time
}

func ms(t time.Time) int64 { return t.UnixMilli() }

func fromMs(v int64) time.Time { return time.UnixMilli(v).UTC() }

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

const insertTradeLog = `
	INSERT INTO trade_log (
		id, position_id, instrument, side, action, strategy_id,
		price, size, size_usd, pnl, score, reason, at_ms
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func appendTradeLog(ctx context.Context, x execer, e TradeLogEntry) error {
	_, err := x.ExecContext(ctx, insertTradeLog,
		e.ID, e.PositionID, e.Instrument, e.Side, e.Action, e.StrategyID,
		e.Price, e.Size, e.SizeUsd, e.PnL, e.Score, e.Reason, ms(e.At),
	)
	if err != nil {
		return fmt.Errorf("insert trade log %s: %w", e.ID, err)
	}
	return nil
}

// AppendTradeLog inserts a trade log row.
func (d *Database) AppendTradeLog(ctx context.Context, e TradeLogEntry) error {
	return appendTradeLog(ctx, d.DB, e)
}

// AppendTradeLogBatch inserts rows in one transaction; either all land or
// none do.
func (d *Database) AppendTradeLogBatch(ctx context.Context, entries []TradeLogEntry) error {
	if len(entries) == 0 {
		return nil
	}
	tx, err := d.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin trade log batch: %w", err)
	}
	for _, e := range entries {
		if err := appendTradeLog(ctx, tx, e); err != nil {
			tx.Rollback()
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit trade log batch: %w", err)
	}
	return nil
}

// RecentTradeLog returns the newest rows first.
func (d *Database) RecentTradeLog(ctx context.Context, limit int) ([]TradeLogEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := d.DB.QueryContext(ctx, `
		SELECT id, position_id, instrument, side, action, strategy_id,
		       price, size, size_usd, pnl, score, COALESCE(reason, ''), at_ms
		FROM trade_log ORDER BY at_ms DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []TradeLogEntry
	for rows.Next() {
		var (
			e  TradeLogEntry
			at int64
		)
		if err := rows.Scan(&e.ID, &e.PositionID, &e.Instrument, &e.Side, &e.Action, &e.StrategyID,
			&e.Price, &e.Size, &e.SizeUsd, &e.PnL, &e.Score, &e.Reason, &at); err != nil {
			return nil, err
		}
		e.At = fromMs(at)
		res = append(res, e)
	}
	return res, rows.Err()
}

// UpsertPosition stores the latest state of an open position.
func (d *Database) UpsertPosition(ctx context.Context, p PositionRow) error {
	var exit sql.NullInt64
	if p.ExitTime != nil {
		exit = sql.NullInt64{Int64: ms(*p.ExitTime), Valid: true}
	}
	var trail sql.NullFloat64
	if p.TrailingStop != nil {
		trail = sql.NullFloat64{Float64: *p.TrailingStop, Valid: true}
	}
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO positions (
			id, instrument, side, strategy_id, entry_price, size, size_usd,
			stop_loss, take_profit1, take_profit2, trailing_stop, tp1_hit, trailing_active,
			opened_at_ms, exit_time_ms, atr_at_entry, emergency_exit, risk_amount, score, leverage,
			updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET
			size = excluded.size,
			size_usd = excluded.size_usd,
			stop_loss = excluded.stop_loss,
			take_profit1 = excluded.take_profit1,
			take_profit2 = excluded.take_profit2,
			trailing_stop = excluded.trailing_stop,
			tp1_hit = excluded.tp1_hit,
			trailing_active = excluded.trailing_active,
			exit_time_ms = excluded.exit_time_ms,
			updated_at = CURRENT_TIMESTAMP
	`,
		p.ID, p.Instrument, p.Side, p.StrategyID, p.EntryPrice, p.Size, p.SizeUsd,
		p.StopLoss, p.TakeProfit1, p.TakeProfit2, trail, boolToInt(p.TP1Hit), boolToInt(p.TrailingActive),
		ms(p.OpenedAt), exit, p.ATRAtEntry, boolToInt(p.EmergencyExit), p.RiskAmount, p.Score, p.Leverage,
	)
	if err != nil {
		return fmt.Errorf("upsert position %s: %w", p.ID, err)
	}
	return nil
}

// DeletePosition removes a closed position.
func (d *Database) DeletePosition(ctx context.Context, id string) error {
	_, err := d.DB.ExecContext(ctx, `DELETE FROM positions WHERE id = ?`, id)
	return err
}

// ListPositions returns every stored open position, oldest first.
func (d *Database) ListPositions(ctx context.Context) ([]PositionRow, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT id, instrument, side, strategy_id, entry_price, size, size_usd,
		       stop_loss, take_profit1, take_profit2, trailing_stop, tp1_hit, trailing_active,
		       opened_at_ms, exit_time_ms, atr_at_entry, emergency_exit, risk_amount, score, leverage
		FROM positions ORDER BY opened_at_ms`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []PositionRow
	for rows.Next() {
		var (
			p                    PositionRow
			trail                sql.NullFloat64
			exit                 sql.NullInt64
			opened               int64
			tp1, trailing, emerg int
		)
		if err := rows.Scan(&p.ID, &p.Instrument, &p.Side, &p.StrategyID, &p.EntryPrice, &p.Size, &p.SizeUsd,
			&p.StopLoss, &p.TakeProfit1, &p.TakeProfit2, &trail, &tp1, &trailing,
			&opened, &exit, &p.ATRAtEntry, &emerg, &p.RiskAmount, &p.Score, &p.Leverage); err != nil {
			return nil, err
		}
		if trail.Valid {
			v := trail.Float64
			p.TrailingStop = &v
		}
		if exit.Valid {
			t := fromMs(exit.Int64)
			p.ExitTime = &t
		}
		p.OpenedAt = fromMs(opened)
		p.TP1Hit, p.TrailingActive, p.EmergencyExit = tp1 == 1, trailing == 1, emerg == 1
		res = append(res, p)
	}
	return res, rows.Err()
}

// SaveRiskState replaces the single risk state snapshot.
func (d *Database) SaveRiskState(ctx context.Context, state []byte) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO risk_state (id, state, updated_at) VALUES (1, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET state = excluded.state, updated_at = CURRENT_TIMESTAMP
	`, string(state))
	return err
}

// LoadRiskState returns the stored snapshot or ErrNotFound.
func (d *Database) LoadRiskState(ctx context.Context) ([]byte, error) {
	var s string
	err := d.DB.QueryRowContext(ctx, `SELECT state FROM risk_state WHERE id = 1`).Scan(&s)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return []byte(s), nil
}

// AddDailyRiskMetrics folds one realized PnL into the day's aggregate.
func (d *Database) AddDailyRiskMetrics(ctx context.Context, date string, pnl float64) error {
	wins, losses := 0, 0.0
	if pnl > 0 {
		wins = 1
	} else if pnl < 0 {
		losses = -pnl
	}
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO risk_metrics (date, daily_pnl, daily_trades, daily_wins, daily_losses)
		VALUES (?, ?, 1, ?, ?)
		ON CONFLICT(date) DO UPDATE SET
			daily_pnl = daily_pnl + excluded.daily_pnl,
			daily_trades = daily_trades + 1,
			daily_wins = daily_wins + excluded.daily_wins,
			daily_losses = daily_losses + excluded.daily_losses
	`, date, pnl, wins, losses)
	return err
}

// DailyRiskMetrics returns the aggregate for date (YYYY-MM-DD) or ErrNotFound.
func (d *Database) DailyRiskMetrics(ctx context.Context, date string) (DailyRiskMetrics, error) {
	m := DailyRiskMetrics{Date: date}
	err := d.DB.QueryRowContext(ctx, `
		SELECT daily_pnl, daily_trades, daily_wins, daily_losses FROM risk_metrics WHERE date = ?
	`, date).Scan(&m.DailyPnL, &m.DailyTrades, &m.DailyWins, &m.DailyLosses)
	if errors.Is(err, sql.ErrNoRows) {
		return m, ErrNotFound
	}
	return m, err
}

// InsertKPI stores one tracked trade. Re-tracking the same position replaces it.
func (d *Database) InsertKPI(ctx context.Context, k KPIRow) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT OR REPLACE INTO kpi_trades (
			position_id, instrument, strategy_id, pnl, pnl_pct, hold_minutes, risk_reward,
			hold_ok, rr_ok, closed_at_ms
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		k.PositionID, k.Instrument, k.StrategyID, k.PnL, k.PnLPct, k.HoldMinutes, k.RiskReward,
		boolToInt(k.HoldOK), boolToInt(k.RROK), ms(k.ClosedAt),
	)
	return err
}

// ListKPI returns tracked trades closed at or after since.
func (d *Database) ListKPI(ctx context.Context, since time.Time) ([]KPIRow, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT position_id, instrument, strategy_id, pnl, pnl_pct, hold_minutes, risk_reward,
		       hold_ok, rr_ok, closed_at_ms
		FROM kpi_trades WHERE closed_at_ms >= ? ORDER BY closed_at_ms`, ms(since))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []KPIRow
	for rows.Next() {
		var (
			k            KPIRow
			holdOK, rrOK int
			closed       int64
		)
		if err := rows.Scan(&k.PositionID, &k.Instrument, &k.StrategyID, &k.PnL, &k.PnLPct,
			&k.HoldMinutes, &k.RiskReward, &holdOK, &rrOK, &closed); err != nil {
			return nil, err
		}
		k.HoldOK, k.RROK = holdOK == 1, rrOK == 1
		k.ClosedAt = fromMs(closed)
		res = append(res, k)
	}
	return res, rows.Err()
}
