// Package trade holds the identifiers and value types shared by the signal,
// risk, lifecycle and KPI packages.
package trade

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of a position.
type Side string

const (
	Long  Side = "long"
	Short Side = "short"
)

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == Long {
		return Short
	}
	return Long
}

// Sign is +1 for long and -1 for short.
func (s Side) Sign() float64 {
	if s == Short {
		return -1
	}
	return 1
}

func (s Side) Valid() bool { return s == Long || s == Short }

// StrategyID identifies the strategy that produced a signal. It is assigned
// when the signal is created and carried through to the closed trade.
type StrategyID string

const (
	StrategyScalping   StrategyID = "scalping"
	StrategyIntraday   StrategyID = "intraday"
	StrategySwing      StrategyID = "swing"
	StrategySignalFlow StrategyID = "signal_flow"
)

// Closed describes a fully exited position.
type Closed struct {
	PositionID string     `json:"position_id"`
	Instrument string     `json:"instrument"`
	Side       Side       `json:"side"`
	StrategyID StrategyID `json:"strategy_id"`
	EntryPrice float64    `json:"entry_price"`
	ExitPrice  float64    `json:"exit_price"`
	Size       float64    `json:"size"`
	SizeUsd    float64    `json:"size_usd"`
	PnL        float64    `json:"pnl"`
	RiskAmount float64    `json:"risk_amount"`
	OpenedAt   time.Time  `json:"opened_at"`
	ClosedAt   time.Time  `json:"closed_at"`
	Reason     string     `json:"reason"`
}

// PnLPercent is realized PnL as a fraction of notional (0.01 == 1%).
func (c Closed) PnLPercent() float64 {
	if c.SizeUsd <= 0 {
		return 0
	}
	return c.PnL / c.SizeUsd
}

func (c Closed) Profitable() bool { return c.PnL > 0 }

// HoldTime is the wall time the position was open.
func (c Closed) HoldTime() time.Duration {
	return c.ClosedAt.Sub(c.OpenedAt)
}

// PnL computes (exit-entry)*size for longs and the mirror for shorts.
// Decimal arithmetic keeps small price moves on large quantities exact.
func PnL(side Side, entry, exit, size float64) float64 {
	diff := decimal.NewFromFloat(exit).Sub(decimal.NewFromFloat(entry))
	if side == Short {
		diff = diff.Neg()
	}
	return diff.Mul(decimal.NewFromFloat(size)).InexactFloat64()
}
