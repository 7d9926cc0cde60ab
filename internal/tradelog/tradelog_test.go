package tradelog

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Yoogi-7/BitgetBot/internal/trade"
	"github.com/Yoogi-7/BitgetBot/pkg/db"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func closeRecord() Record {
	return FromClosed(trade.Closed{
		PositionID: "p1",
		Instrument: "BTCUSDT",
		Side:       trade.Long,
		StrategyID: trade.StrategyScalping,
		EntryPrice: 100,
		ExitPrice:  101,
		Size:       2,
		SizeUsd:    200,
		PnL:        2,
		Reason:     "take_profit_2",
		ClosedAt:   t0,
	}, ActionClose, 1002)
}

func TestSQLiteBatches(t *testing.T) {
	database, err := db.Open(context.Background(), db.Memory)
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	ctx := context.Background()
	l := NewSQLite(database, 10, time.Hour, nil)
	require.NoError(t, l.Append(ctx, closeRecord()))

	rows, err := database.RecentTradeLog(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, rows, "buffered until flush")

	require.NoError(t, l.Close(ctx))
	rows, err = database.RecentTradeLog(ctx, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.NotEmpty(t, rows[0].ID)
	assert.Equal(t, "close", rows[0].Action)
	assert.Equal(t, 101.0, rows[0].Price)
	assert.Equal(t, t0, rows[0].At)
	assert.Equal(t, uint64(1), l.Metrics().TotalWrites)
}

func TestCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "trading_history.csv")
	ctx := context.Background()

	c, err := OpenCSV(path)
	require.NoError(t, err)
	require.NoError(t, c.Append(ctx, closeRecord()))
	require.NoError(t, c.Close())

	c, err = OpenCSV(path)
	require.NoError(t, err)
	require.NoError(t, c.Append(ctx, closeRecord()))
	require.NoError(t, c.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3, "header written once")
	assert.Equal(t, csvHeader, rows[0])
	assert.Equal(t, "2025-03-01T12:00:00Z", rows[1][0])
	assert.Equal(t, "1002", rows[1][12])
}

type memLog struct{ got []Record }

func (m *memLog) Append(_ context.Context, r Record) error {
	m.got = append(m.got, r)
	return nil
}

func TestMultiSharesID(t *testing.T) {
	a, b := &memLog{}, &memLog{}
	require.NoError(t, Multi{a, b}.Append(context.Background(), closeRecord()))
	require.Len(t, a.got, 1)
	require.Len(t, b.got, 1)
	assert.NotEmpty(t, a.got[0].ID)
	assert.Equal(t, a.got[0].ID, b.got[0].ID)
}
