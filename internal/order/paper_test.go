package order

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Yoogi-7/BitgetBot/internal/balance"
	"github.com/Yoogi-7/BitgetBot/internal/clock"
	"github.com/Yoogi-7/BitgetBot/internal/trade"
	"github.com/Yoogi-7/BitgetBot/pkg/cache"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newPaper(initial string, cfg PaperConfig) (*PaperExecutor, *cache.Prices) {
	prices := cache.NewPrices(nil)
	bal := balance.NewManager(decimal.RequireFromString(initial), nil)
	return NewPaperExecutor(cfg, prices, bal, clock.NewManual(t0), nil), prices
}

func TestPaperOpenAndClose(t *testing.T) {
	ex, prices := newPaper("1000", PaperConfig{FeeRate: 0.0004})
	ctx := context.Background()
	prices.Set("BTCUSDT", 100)

	f, err := ex.PlaceOrder(ctx, Request{PositionID: "p1", Instrument: "BTCUSDT", Side: trade.Long, Intent: IntentOpen, Size: 1, Leverage: 5})
	require.NoError(t, err)
	assert.Equal(t, 100.0, f.Price)
	assert.InDelta(t, 0.04, f.Fee, 1e-12)
	assert.NotEmpty(t, f.OrderID)
	assert.Equal(t, t0, f.At)

	b, err := ex.GetBalance(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 20, b.Locked, 1e-12)
	assert.InDelta(t, 979.96, b.Available, 1e-9)
	assert.InDelta(t, 999.96, b.Total, 1e-9)

	prices.Set("BTCUSDT", 110)
	f, err = ex.PlaceOrder(ctx, Request{PositionID: "p1", Instrument: "BTCUSDT", Side: trade.Long, Intent: IntentClose})
	require.NoError(t, err)
	assert.Equal(t, 1.0, f.Size)
	assert.InDelta(t, 10-0.044, f.PnL, 1e-9)

	b, _ = ex.GetBalance(ctx)
	assert.Zero(t, b.Locked)
	assert.InDelta(t, 1009.916, b.Total, 1e-9)
	assert.InDelta(t, b.Total, b.Available, 1e-12)

	_, err = ex.PlaceOrder(ctx, Request{PositionID: "p1", Instrument: "BTCUSDT", Side: trade.Long, Intent: IntentClose})
	assert.ErrorIs(t, err, ErrUnknownPosition)
}

func TestPaperPartialShort(t *testing.T) {
	ex, prices := newPaper("1000", PaperConfig{})
	ctx := context.Background()
	prices.Set("ETHUSDT", 2000)

	_, err := ex.PlaceOrder(ctx, Request{PositionID: "s1", Instrument: "ETHUSDT", Side: trade.Short, Intent: IntentOpen, Size: 0.5, Leverage: 10})
	require.NoError(t, err)

	prices.Set("ETHUSDT", 1990)
	f, err := ex.PlaceOrder(ctx, Request{PositionID: "s1", Instrument: "ETHUSDT", Side: trade.Short, Intent: IntentReduce, Size: 0.25})
	require.NoError(t, err)
	assert.InDelta(t, 2.5, f.PnL, 1e-9)

	b, _ := ex.GetBalance(ctx)
	assert.InDelta(t, 50, b.Locked, 1e-9, "half the margin released")

	prices.Set("ETHUSDT", 2004)
	f, err = ex.PlaceOrder(ctx, Request{PositionID: "s1", Instrument: "ETHUSDT", Side: trade.Short, Intent: IntentReduce, Size: 1})
	require.NoError(t, err)
	assert.Equal(t, 0.25, f.Size, "oversized reduce closes the rest")
	assert.InDelta(t, -1, f.PnL, 1e-9)

	b, _ = ex.GetBalance(ctx)
	assert.InDelta(t, 1001.5, b.Total, 1e-9)
	assert.Zero(t, b.Locked)
}

func TestPaperSlippageIsAdverse(t *testing.T) {
	ex, prices := newPaper("1000", PaperConfig{SlippageBps: 10})
	prices.Set("BTCUSDT", 100)
	ctx := context.Background()

	f, err := ex.PlaceOrder(ctx, Request{PositionID: "l", Instrument: "BTCUSDT", Side: trade.Long, Intent: IntentOpen, Size: 1, Leverage: 1})
	require.NoError(t, err)
	assert.InDelta(t, 100.1, f.Price, 1e-9)

	f, err = ex.PlaceOrder(ctx, Request{PositionID: "s", Instrument: "BTCUSDT", Side: trade.Short, Intent: IntentOpen, Size: 1, Leverage: 1})
	require.NoError(t, err)
	assert.InDelta(t, 99.9, f.Price, 1e-9)
}

func TestPaperRejections(t *testing.T) {
	ex, prices := newPaper("10", PaperConfig{})
	ctx := context.Background()

	tests := []struct {
		name string
		req  Request
		want error
	}{
		{"no price", Request{PositionID: "a", Instrument: "XRPUSDT", Side: trade.Long, Intent: IntentOpen, Size: 1}, ErrNoPrice},
		{"insufficient balance", Request{PositionID: "a", Instrument: "BTCUSDT", Side: trade.Long, Intent: IntentOpen, Size: 1, Leverage: 1}, ErrInsufficientBalance},
		{"missing position id", Request{Instrument: "BTCUSDT", Side: trade.Long, Intent: IntentOpen, Size: 1}, ErrInvalidRequest},
		{"zero size", Request{PositionID: "a", Instrument: "BTCUSDT", Side: trade.Long, Intent: IntentOpen}, ErrInvalidRequest},
		{"bad side", Request{PositionID: "a", Instrument: "BTCUSDT", Side: "up", Intent: IntentOpen, Size: 1}, ErrInvalidRequest},
	}
	prices.Set("BTCUSDT", 100)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ex.PlaceOrder(ctx, tt.req)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	b, _ := ex.GetBalance(ctx)
	assert.Equal(t, 10.0, b.Available, "rejections leave the balance alone")

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err := ex.PlaceOrder(cancelled, Request{PositionID: "a", Instrument: "BTCUSDT", Side: trade.Long, Intent: IntentOpen, Size: 0.01})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAdopt(t *testing.T) {
	ex, prices := newPaper("100", PaperConfig{})
	require.NoError(t, ex.Adopt("r1", trade.Long, 100, 1, 2))
	b, _ := ex.GetBalance(context.Background())
	assert.InDelta(t, 50, b.Locked, 1e-12)

	prices.Set("BTCUSDT", 101)
	f, err := ex.PlaceOrder(context.Background(), Request{PositionID: "r1", Instrument: "BTCUSDT", Side: trade.Long, Intent: IntentClose})
	require.NoError(t, err)
	assert.InDelta(t, 1, f.PnL, 1e-9)
	assert.ErrorIs(t, ex.Adopt("r2", trade.Long, 100, 10, 1), ErrInsufficientBalance)
}
