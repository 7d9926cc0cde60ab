// Package tradelog records every order the bot places: opens, partial exits
// and closes.
package tradelog

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Yoogi-7/BitgetBot/internal/persistence"
	"github.com/Yoogi-7/BitgetBot/internal/trade"
	"github.com/Yoogi-7/BitgetBot/pkg/db"
)

type Action string

const (
	ActionOpen    Action = "open"
	ActionPartial Action = "partial"
	ActionClose   Action = "close"
)

type Record struct {
	ID           string           `json:"id"`
	PositionID   string           `json:"position_id"`
	Instrument   string           `json:"instrument"`
	Side         trade.Side       `json:"side"`
	Action       Action           `json:"action"`
	StrategyID   trade.StrategyID `json:"strategy_id"`
	Price        float64          `json:"price"`
	Size         float64          `json:"size"`
	SizeUsd      float64          `json:"size_usd"`
	PnL          float64          `json:"pnl"`
	Score        float64          `json:"score"`
	Reason       string           `json:"reason"`
	BalanceAfter float64          `json:"balance_after"`
	At           time.Time        `json:"at"`
}

// Log is an append-only trade record sink.
type Log interface {
	Append(ctx context.Context, r Record) error
}

// FromClosed builds the record of a (partial) exit.
func FromClosed(c trade.Closed, action Action, balanceAfter float64) Record {
	return Record{
		PositionID:   c.PositionID,
		Instrument:   c.Instrument,
		Side:         c.Side,
		Action:       action,
		StrategyID:   c.StrategyID,
		Price:        c.ExitPrice,
		Size:         c.Size,
		SizeUsd:      c.SizeUsd,
		PnL:          c.PnL,
		Reason:       c.Reason,
		BalanceAfter: balanceAfter,
		At:           c.ClosedAt,
	}
}

func (r Record) entry() db.TradeLogEntry {
	return db.TradeLogEntry{
		ID:         r.ID,
		PositionID: r.PositionID,
		Instrument: r.Instrument,
		Side:       string(r.Side),
		Action:     string(r.Action),
		StrategyID: string(r.StrategyID),
		Price:      r.Price,
		Size:       r.Size,
		SizeUsd:    r.SizeUsd,
		PnL:        r.PnL,
		Score:      r.Score,
		Reason:     r.Reason,
		At:         r.At,
	}
}

// SQLite batches records into the trade_log table.
type SQLite struct {
	bw *persistence.BatchWriter[db.TradeLogEntry]
}

func NewSQLite(database *db.Database, batchSize int, interval time.Duration, log *zap.Logger) *SQLite {
	return &SQLite{bw: persistence.NewBatchWriter(database.AppendTradeLogBatch, batchSize, interval, log)}
}

func (s *SQLite) Append(ctx context.Context, r Record) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	return s.bw.Write(ctx, r.entry())
}

func (s *SQLite) Flush(ctx context.Context) error { return s.bw.Flush(ctx) }

func (s *SQLite) Metrics() persistence.Metrics { return s.bw.Metrics() }

func (s *SQLite) Close(ctx context.Context) error { return s.bw.Close(ctx) }

var csvHeader = []string{
	"timestamp", "position_id", "instrument", "action", "side", "strategy",
	"price", "size", "size_usd", "pnl", "score", "reason", "balance_after",
}

// CSV appends records to a spreadsheet-friendly file.
type CSV struct {
	mu   sync.Mutex
	f    *os.File
	w    *csv.Writer
	path string
}

// OpenCSV opens or creates path, writing the header to new files.
func OpenCSV(path string) (*CSV, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create trade log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open trade log: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat trade log: %w", err)
	}
	c := &CSV{f: f, w: csv.NewWriter(f), path: path}
	if info.Size() == 0 {
		if err := c.write(csvHeader); err != nil {
			f.Close()
			return nil, err
		}
	}
	return c, nil
}

func (c *CSV) write(row []string) error {
	if err := c.w.Write(row); err != nil {
		return fmt.Errorf("write trade log row: %w", err)
	}
	c.w.Flush()
	return c.w.Error()
}

func (c *CSV) Append(_ context.Context, r Record) error {
	f := func(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
	row := []string{
		r.At.UTC().Format(time.RFC3339), r.PositionID, r.Instrument, string(r.Action), string(r.Side), string(r.StrategyID),
		f(r.Price), f(r.Size), f(r.SizeUsd), f(r.PnL), f(r.Score), r.Reason, f(r.BalanceAfter),
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.write(row)
}

func (c *CSV) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.w.Flush()
	return errors.Join(c.w.Error(), c.f.Close())
}

// Multi appends to every log and joins their errors.
type Multi []Log

func (m Multi) Append(ctx context.Context, r Record) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	var errs []error
	for _, l := range m {
		if err := l.Append(ctx, r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
