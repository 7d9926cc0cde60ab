package market

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrderBookMetrics(t *testing.T) {
	book := OrderBook{
		Bids: []Level{{Price: 99, Qty: 3}, {Price: 98, Qty: 1}},
		Asks: []Level{{Price: 101, Qty: 1}, {Price: 102, Qty: 1}},
	}

	imb, ok := book.Imbalance(5)
	require.True(t, ok)
	assert.InDelta(t, (4.0-2.0)/6.0, imb, 1e-12)

	share, ok := book.BidShare(1)
	require.True(t, ok)
	assert.InDelta(t, 0.75, share, 1e-12)

	spread, ok := book.Spread()
	require.True(t, ok)
	assert.InDelta(t, 2.0/100.0, spread, 1e-12)

	_, ok = OrderBook{}.Imbalance(5)
	assert.False(t, ok)
}

func TestDataValidate(t *testing.T) {
	var nilData *Data
	assert.ErrorIs(t, nilData.Validate(1), ErrNoData)

	d := &Data{Instrument: "BTCUSDT", Candles: []Candle{{Close: 10}}}
	assert.ErrorIs(t, d.Validate(2), ErrNoData)
	assert.NoError(t, d.Validate(1))
	assert.Equal(t, 10.0, d.LastPrice())
}

func TestMockProviderAppendsBars(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	p := NewMockProvider(7)
	p.Now = func() time.Time { return now }

	first, err := p.Fetch(context.Background(), "ETHUSDT")
	require.NoError(t, err)
	require.Len(t, first.Candles, p.Bars)
	require.NoError(t, first.Validate(50))

	second, err := p.Fetch(context.Background(), "ETHUSDT")
	require.NoError(t, err)
	assert.Equal(t, first.Candles[1:], second.Candles[:len(second.Candles)-1])
}

type failingProvider struct{}

func (failingProvider) Fetch(context.Context, string) (*Data, error) {
	return nil, errors.New("boom")
}

func TestFetchWithTimeoutWrapsErrors(t *testing.T) {
	_, err := FetchWithTimeout(context.Background(), failingProvider{}, "SOLUSDT", time.Second)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SOLUSDT")
}
