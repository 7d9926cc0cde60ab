// Package position models an open position and the rules that walk it from
// entry to exit.
package position

import (
	"errors"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/Yoogi-7/BitgetBot/internal/strategy"
	"github.com/Yoogi-7/BitgetBot/internal/trade"
)

var ErrNotOpenSignal = errors.New("signal does not open a position")

// Position is one open position. Only the lifecycle and the position book
// mutate it.
type Position struct {
	ID         string           `json:"id"`
	Instrument string           `json:"instrument"`
	Side       trade.Side       `json:"side"`
	StrategyID trade.StrategyID `json:"strategy_id"`

	EntryPrice float64 `json:"entry_price"`
	Size       float64 `json:"size"`     // base units
	SizeUsd    float64 `json:"size_usd"` // notional at entry
	Leverage   int     `json:"leverage"`

	StopLoss     float64  `json:"stop_loss"`
	TakeProfit1  float64  `json:"take_profit1"`
	TakeProfit2  float64  `json:"take_profit2"`
	TrailingStop *float64 `json:"trailing_stop,omitempty"`

	TP1Hit         bool `json:"tp1_hit"`
	TrailingActive bool `json:"trailing_active"`

	OpenedAt time.Time  `json:"opened_at"`
	ExitTime *time.Time `json:"exit_time,omitempty"`

	ATRAtEntry    float64 `json:"atr_at_entry"`
	EmergencyExit bool    `json:"emergency_exit_enabled"`
	RiskAmount    float64 `json:"risk_amount"`
	Score         float64 `json:"score"`
}

// New opens a position from a filled Open signal. An empty id gets a fresh
// uuid.
func New(id string, sig strategy.Signal, fillPrice, size float64, leverage int, now time.Time) (*Position, error) {
	if sig.Action != strategy.Open || sig.Levels == nil {
		return nil, ErrNotOpenSignal
	}
	if fillPrice <= 0 || size <= 0 {
		return nil, errors.New("fill price and size must be positive")
	}
	if id == "" {
		id = uuid.NewString()
	}
	lv := sig.Levels
	p := &Position{
		ID:            id,
		Instrument:    sig.Instrument,
		Side:          sig.Side,
		StrategyID:    sig.StrategyID,
		EntryPrice:    fillPrice,
		Size:          size,
		SizeUsd:       size * fillPrice,
		Leverage:      max(leverage, 1),
		StopLoss:      lv.StopLoss,
		TakeProfit1:   lv.TakeProfit1,
		TakeProfit2:   lv.TakeProfit2,
		OpenedAt:      now,
		ATRAtEntry:    sig.ATR,
		EmergencyExit: true,
		RiskAmount:    size * math.Abs(fillPrice-lv.StopLoss),
		Score:         sig.Strength.Total,
	}
	if lv.ExitTime != nil {
		t := *lv.ExitTime
		p.ExitTime = &t
	}
	return p, nil
}

// Unrealized is the open PnL at price.
func (p *Position) Unrealized(price float64) float64 {
	return trade.PnL(p.Side, p.EntryPrice, price, p.Size)
}

// Reduce shrinks the position by ratio after a partial fill and returns the
// closed portion as a trade.
func (p *Position) Reduce(ratio, price float64, now time.Time, reason string) trade.Closed {
	ratio = math.Max(0, math.Min(1, ratio))
	part := *p
	part.Size = p.Size * ratio
	part.SizeUsd = p.SizeUsd * ratio
	part.RiskAmount = p.RiskAmount * ratio

	p.Size -= part.Size
	p.SizeUsd -= part.SizeUsd
	p.RiskAmount -= part.RiskAmount
	return part.Close(price, now, reason)
}

// Close describes the position as a closed trade at price.
func (p *Position) Close(price float64, now time.Time, reason string) trade.Closed {
	return trade.Closed{
		PositionID: p.ID,
		Instrument: p.Instrument,
		Side:       p.Side,
		StrategyID: p.StrategyID,
		EntryPrice: p.EntryPrice,
		ExitPrice:  price,
		Size:       p.Size,
		SizeUsd:    p.SizeUsd,
		PnL:        trade.PnL(p.Side, p.EntryPrice, price, p.Size),
		RiskAmount: p.RiskAmount,
		OpenedAt:   p.OpenedAt,
		ClosedAt:   now,
		Reason:     reason,
	}
}
