// Package notify delivers operator notifications: trade opens and closes,
// risk alerts, errors and lifecycle messages.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Yoogi-7/BitgetBot/internal/trade"
)

type Kind string

const (
	KindStartup      Kind = "startup"
	KindShutdown     Kind = "shutdown"
	KindTradeOpened  Kind = "trade_opened"
	KindTradeClosed  Kind = "trade_closed"
	KindDailySummary Kind = "daily_summary"
	KindRiskAlert    Kind = "risk_alert"
	KindError        Kind = "error"
)

// Event is one notification. Lines are rendered in order under the title.
type Event struct {
	Kind  Kind      `json:"kind"`
	Title string    `json:"title"`
	Lines []string  `json:"lines,omitempty"`
	At    time.Time `json:"at"`
}

// Text renders e as plain text.
func (e Event) Text() string {
	var b strings.Builder
	b.WriteString(e.Title)
	for _, l := range e.Lines {
		b.WriteByte('\n')
		b.WriteString(l)
	}
	return b.String()
}

// Sink delivers events.
type Sink interface {
	Notify(ctx context.Context, e Event) error
}

func Startup(mode string, instruments []string, at time.Time) Event {
	return Event{Kind: KindStartup, Title: "Trading bot started", At: at, Lines: []string{
		"Mode: " + strings.ToUpper(mode),
		"Symbols: " + strings.Join(instruments, ", "),
	}}
}

func Shutdown(at time.Time) Event {
	return Event{Kind: KindShutdown, Title: "Trading bot stopped", At: at}
}

func TradeOpened(instrument string, side trade.Side, price, sizeUsd float64, leverage int, reason string, at time.Time) Event {
	return Event{Kind: KindTradeOpened, Title: "New position opened", At: at, Lines: []string{
		fmt.Sprintf("Symbol: %s", instrument),
		fmt.Sprintf("Side: %s", strings.ToUpper(string(side))),
		fmt.Sprintf("Price: $%.2f", price),
		fmt.Sprintf("Size: $%.2f (%dx)", sizeUsd, leverage),
		fmt.Sprintf("Reason: %s", reason),
	}}
}

func TradeClosed(c trade.Closed) Event {
	mark := "loss"
	if c.Profitable() {
		mark = "profit"
	}
	return Event{Kind: KindTradeClosed, Title: "Position closed", At: c.ClosedAt, Lines: []string{
		fmt.Sprintf("Symbol: %s", c.Instrument),
		fmt.Sprintf("Side: %s", strings.ToUpper(string(c.Side))),
		fmt.Sprintf("Entry: $%.2f", c.EntryPrice),
		fmt.Sprintf("Exit: $%.2f", c.ExitPrice),
		fmt.Sprintf("PnL: $%.2f (%s)", c.PnL, mark),
		fmt.Sprintf("Reason: %s", c.Reason),
	}}
}

func DailySummary(day string, trades int, pnl, winRate float64, at time.Time) Event {
	return Event{Kind: KindDailySummary, Title: "Daily summary", At: at, Lines: []string{
		"Date: " + day,
		fmt.Sprintf("Total trades: %d", trades),
		fmt.Sprintf("Daily PnL: $%.2f", pnl),
		fmt.Sprintf("Win rate: %.1f%%", winRate*100),
	}}
}

func RiskAlert(message string, at time.Time) Event {
	return Event{Kind: KindRiskAlert, Title: "Risk alert", Lines: []string{message}, At: at}
}

func Error(err error, at time.Time) Event {
	return Event{Kind: KindError, Title: "Bot error", Lines: []string{err.Error()}, At: at}
}

// Log writes events to a zap logger.
type Log struct {
	log *zap.Logger
}

func NewLog(log *zap.Logger) *Log {
	if log == nil {
		log = zap.NewNop()
	}
	return &Log{log: log}
}

func (l *Log) Notify(_ context.Context, e Event) error {
	fields := []zap.Field{zap.String("kind", string(e.Kind)), zap.Strings("lines", e.Lines)}
	switch e.Kind {
	case KindError:
		l.log.Error(e.Title, fields...)
	case KindRiskAlert:
		l.log.Warn(e.Title, fields...)
	default:
		l.log.Info(e.Title, fields...)
	}
	return nil
}

// Multi delivers to every sink and joins their errors.
type Multi []Sink

func (m Multi) Notify(ctx context.Context, e Event) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Notify(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
