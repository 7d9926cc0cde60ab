package order

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Yoogi-7/BitgetBot/internal/balance"
	"github.com/Yoogi-7/BitgetBot/internal/clock"
	"github.com/Yoogi-7/BitgetBot/internal/trade"
)

// PriceSource supplies the last traded price of an instrument; cache.Prices
// is the usual one.
type PriceSource interface {
	LastPrice(instrument string) (float64, bool)
}

type PaperConfig struct {
	// FeeRate is charged per side on notional.
	FeeRate float64 `yaml:"fee_rate" validate:"gte=0,lt=0.01"`
	// SlippageBps moves every fill against the order.
	SlippageBps float64 `yaml:"slippage_bps" validate:"gte=0,lte=100"`
}

func DefaultPaperConfig() PaperConfig {
	return PaperConfig{FeeRate: 0.0004, SlippageBps: 1}
}

type paperPosition struct {
	side   trade.Side
	entry  decimal.Decimal
	size   decimal.Decimal
	margin decimal.Decimal
}

// PaperExecutor simulates a futures account. Opening locks notional/leverage
// as margin; exits release margin pro rata and book PnL minus fees.
type PaperExecutor struct {
	cfg    PaperConfig
	prices PriceSource
	bal    *balance.Manager
	clk    clock.Clock
	log    *zap.Logger

	mu        sync.Mutex
	positions map[string]*paperPosition
}

func NewPaperExecutor(cfg PaperConfig, prices PriceSource, bal *balance.Manager, clk clock.Clock, log *zap.Logger) *PaperExecutor {
	if clk == nil {
		clk = clock.System{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &PaperExecutor{cfg: cfg, prices: prices, bal: bal, clk: clk, log: log, positions: make(map[string]*paperPosition)}
}

func (e *PaperExecutor) GetBalance(context.Context) (Balance, error) {
	b := e.bal.Snapshot()
	return Balance{
		Total:     b.Total.InexactFloat64(),
		Available: b.Available.InexactFloat64(),
		Locked:    b.Locked.InexactFloat64(),
	}, nil
}

// fillPrice applies slippage against the trader: buys fill higher.
func (e *PaperExecutor) fillPrice(last float64, buy bool) decimal.Decimal {
	p := decimal.NewFromFloat(last)
	slip := decimal.NewFromFloat(e.cfg.SlippageBps).Div(decimal.NewFromInt(10000))
	if buy {
		return p.Mul(decimal.NewFromInt(1).Add(slip))
	}
	return p.Mul(decimal.NewFromInt(1).Sub(slip))
}

func (e *PaperExecutor) PlaceOrder(ctx context.Context, r Request) (Fill, error) {
	if err := ctx.Err(); err != nil {
		return Fill{}, err
	}
	if err := r.Validate(); err != nil {
		return Fill{}, err
	}
	last, ok := e.prices.LastPrice(r.Instrument)
	if !ok || last <= 0 {
		return Fill{}, fmt.Errorf("%s: %w", r.Instrument, ErrNoPrice)
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if r.Intent == IntentOpen {
		return e.open(r, last)
	}
	return e.exit(r, last)
}

func (e *PaperExecutor) open(r Request, last float64) (Fill, error) {
	if _, exists := e.positions[r.PositionID]; exists {
		return Fill{}, fmt.Errorf("position %s already open: %w", r.PositionID, ErrInvalidRequest)
	}
	price := e.fillPrice(last, r.Side == trade.Long)
	size := decimal.NewFromFloat(r.Size)
	notional := price.Mul(size)
	margin := notional.Div(decimal.NewFromInt(int64(max(r.Leverage, 1))))
	fee := notional.Mul(decimal.NewFromFloat(e.cfg.FeeRate))

	if err := e.bal.Lock(margin.Add(fee)); err != nil {
		if errors.Is(err, balance.ErrInsufficientFunds) {
			return Fill{}, fmt.Errorf("open %s: %w", r.Instrument, ErrInsufficientBalance)
		}
		return Fill{}, err
	}
	// The fee part of the lock is spent immediately.
	e.bal.Settle(fee, fee.Neg())

	e.positions[r.PositionID] = &paperPosition{side: r.Side, entry: price, size: size, margin: margin}
	f := Fill{
		OrderID:    r.ID,
		PositionID: r.PositionID,
		Instrument: r.Instrument,
		Price:      price.InexactFloat64(),
		Size:       r.Size,
		Fee:        fee.InexactFloat64(),
		PnL:        fee.Neg().InexactFloat64(),
		At:         e.clk.Now(),
	}
	e.log.Info("paper order filled",
		zap.String("symbol", r.Instrument),
		zap.String("intent", string(r.Intent)),
		zap.String("side", string(r.Side)),
		zap.Float64("price", f.Price),
		zap.Float64("size", f.Size))
	return f, nil
}

func (e *PaperExecutor) exit(r Request, last float64) (Fill, error) {
	pos, ok := e.positions[r.PositionID]
	if !ok {
		return Fill{}, fmt.Errorf("position %s: %w", r.PositionID, ErrUnknownPosition)
	}
	size := decimal.NewFromFloat(r.Size)
	if r.Intent == IntentClose || size.GreaterThanOrEqual(pos.size) {
		size = pos.size
	}
	price := e.fillPrice(last, r.Side == trade.Short)

	diff := price.Sub(pos.entry)
	if pos.side == trade.Short {
		diff = diff.Neg()
	}
	gross := diff.Mul(size)
	fee := price.Mul(size).Mul(decimal.NewFromFloat(e.cfg.FeeRate))
	share := size.Div(pos.size)
	margin := pos.margin.Mul(share)

	net := gross.Sub(fee)
	e.bal.Settle(margin, net)

	pos.size = pos.size.Sub(size)
	pos.margin = pos.margin.Sub(margin)
	if !pos.size.IsPositive() {
		delete(e.positions, r.PositionID)
	}

	f := Fill{
		OrderID:    r.ID,
		PositionID: r.PositionID,
		Instrument: r.Instrument,
		Price:      price.InexactFloat64(),
		Size:       size.InexactFloat64(),
		Fee:        fee.InexactFloat64(),
		PnL:        net.InexactFloat64(),
		At:         e.clk.Now(),
	}
	e.log.Info("paper order filled",
		zap.String("symbol", r.Instrument),
		zap.String("intent", string(r.Intent)),
		zap.String("side", string(r.Side)),
		zap.Float64("price", f.Price),
		zap.Float64("size", f.Size),
		zap.Float64("pnl", f.PnL))
	return f, nil
}

// Adopt registers a position restored from storage so it can be exited. Its
// margin is locked again.
func (e *PaperExecutor) Adopt(positionID string, side trade.Side, entry, size float64, leverage int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.positions[positionID]; ok {
		return nil
	}
	p := decimal.NewFromFloat(entry)
	s := decimal.NewFromFloat(size)
	margin := p.Mul(s).Div(decimal.NewFromInt(int64(max(leverage, 1))))
	if err := e.bal.Lock(margin); err != nil {
		return fmt.Errorf("adopt %s: %w", positionID, ErrInsufficientBalance)
	}
	e.positions[positionID] = &paperPosition{side: side, entry: p, size: s, margin: margin}
	return nil
}
