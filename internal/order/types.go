// Package order defines order requests and fills, and the paper executor
// that fills them against the last market price.
package order

import (
	"context"
	"errors"
	"time"

	"github.com/Yoogi-7/BitgetBot/internal/trade"
)

var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrNoPrice             = errors.New("no market price")
	ErrUnknownPosition     = errors.New("unknown position")
	ErrInvalidRequest      = errors.New("invalid order request")
)

// Intent says what the order does to a position.
type Intent string

const (
	IntentOpen   Intent = "open"
	IntentReduce Intent = "reduce"
	IntentClose  Intent = "close"
)

// Request is a market order on behalf of one position. Side is the position
// side; exits trade the opposite way.
type Request struct {
	ID         string     `json:"id"`
	PositionID string     `json:"position_id"`
	Instrument string     `json:"instrument"`
	Side       trade.Side `json:"side"`
	Intent     Intent     `json:"intent"`
	Size       float64    `json:"size"` // base units
	Leverage   int        `json:"leverage"`
	Reason     string     `json:"reason,omitempty"`
}

func (r Request) Validate() error {
	switch {
	case r.PositionID == "" || r.Instrument == "":
		return errors.Join(ErrInvalidRequest, errors.New("position and instrument are required"))
	case !r.Side.Valid():
		return errors.Join(ErrInvalidRequest, errors.New("invalid side"))
	case r.Intent != IntentOpen && r.Intent != IntentReduce && r.Intent != IntentClose:
		return errors.Join(ErrInvalidRequest, errors.New("invalid intent"))
	case r.Intent != IntentClose && r.Size <= 0:
		return errors.Join(ErrInvalidRequest, errors.New("size must be positive"))
	}
	return nil
}

// Fill is the execution report of a Request.
type Fill struct {
	OrderID    string    `json:"order_id"`
	PositionID string    `json:"position_id"`
	Instrument string    `json:"instrument"`
	Price      float64   `json:"price"`
	Size       float64   `json:"size"`
	Fee        float64   `json:"fee"`
	PnL        float64   `json:"pnl"` // realized on exits, after fees
	At         time.Time `json:"at"`
}

// Balance is the account view the orchestrator sizes from.
type Balance struct {
	Total     float64 `json:"total"`
	Available float64 `json:"available"`
	Locked    float64 `json:"locked"`
}

// Executor places orders.
type Executor interface {
	PlaceOrder(ctx context.Context, r Request) (Fill, error)
	GetBalance(ctx context.Context) (Balance, error)
}
