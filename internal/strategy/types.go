package strategy

import (
	"errors"
	"fmt"
	"time"

	"github.com/Yoogi-7/BitgetBot/internal/indicators"
	"github.com/Yoogi-7/BitgetBot/internal/strength"
	"github.com/Yoogi-7/BitgetBot/internal/trade"
)

// Action tags a Signal.
type Action int8

const (
	None Action = iota
	Open
	Close
)

func (a Action) String() string {
	switch a {
	case Open:
		return "open"
	case Close:
		return "close"
	default:
		return "none"
	}
}

// Levels are the prices attached to an entry. They exist only on Open signals.
type Levels struct {
	Entry       float64    `json:"entry"`
	StopLoss    float64    `json:"stop_loss"`
	TakeProfit1 float64    `json:"take_profit1"`
	TakeProfit2 float64    `json:"take_profit2"`
	ExitTime    *time.Time `json:"exit_time,omitempty"`
}

// Signal is a directional proposal. Construct it with NoSignal, Entry or
// Exit so that Levels is set only when the action carries prices.
type Signal struct {
	Action     Action             `json:"action"`
	Instrument string             `json:"instrument"`
	Side       trade.Side         `json:"side,omitempty"`
	Confidence float64            `json:"confidence"`
	Strength   strength.Breakdown `json:"strength"`
	Reasons    []string           `json:"reasons,omitempty"`
	StrategyID trade.StrategyID   `json:"strategy_id,omitempty"`
	ATR        float64            `json:"atr,omitempty"`
	Levels     *Levels            `json:"levels,omitempty"`
}

// NoSignal is the empty proposal.
func NoSignal(instrument string) Signal {
	return Signal{Action: None, Instrument: instrument}
}

// Entry builds an Open signal.
func Entry(instrument string, side trade.Side, id trade.StrategyID, confidence, atr float64, reasons []string, lv Levels) Signal {
	return Signal{
		Action:     Open,
		Instrument: instrument,
		Side:       side,
		Confidence: confidence,
		Reasons:    reasons,
		StrategyID: id,
		ATR:        atr,
		Levels:     &lv,
	}
}

// Exit builds a Close signal for an open position. Exits fill at market so
// they carry no price levels.
func Exit(instrument string, side trade.Side, id trade.StrategyID, reason string) Signal {
	return Signal{Action: Close, Instrument: instrument, Side: side, StrategyID: id, Reasons: []string{reason}}
}

var (
	ErrLevelsOnNone   = errors.New("signal without action carries price levels")
	ErrMissingLevels  = errors.New("open signal without price levels")
	ErrInvertedLevels = errors.New("stop and targets on the wrong side of entry")
)

// Validate checks the tagged-union invariant and level ordering.
func (s Signal) Validate() error {
	switch s.Action {
	case None:
		if s.Levels != nil {
			return ErrLevelsOnNone
		}
		return nil
	case Close:
		return nil
	}
	if s.Levels == nil {
		return ErrMissingLevels
	}
	if !s.Side.Valid() {
		return fmt.Errorf("invalid side %q", s.Side)
	}
	lv := s.Levels
	sign := s.Side.Sign()
	if (lv.Entry-lv.StopLoss)*sign <= 0 || (lv.TakeProfit1-lv.Entry)*sign <= 0 || (lv.TakeProfit2-lv.TakeProfit1)*sign < 0 {
		return ErrInvertedLevels
	}
	return nil
}

// Composer turns an indicator snapshot into a proposal. open is the number of
// positions already held on the instrument.
type Composer interface {
	ID() string
	Compose(instrument string, snap indicators.Snapshot, open int) Signal
}
