package state

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Yoogi-7/BitgetBot/internal/position"
	"github.com/Yoogi-7/BitgetBot/internal/trade"
	"github.com/Yoogi-7/BitgetBot/pkg/db"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func pos(id, instrument string, opened time.Time) position.Position {
	return position.Position{
		ID:            id,
		Instrument:    instrument,
		Side:          trade.Long,
		StrategyID:    trade.StrategyIntraday,
		EntryPrice:    100,
		Size:          1,
		SizeUsd:       100,
		Leverage:      5,
		StopLoss:      99,
		TakeProfit1:   100.5,
		TakeProfit2:   101,
		OpenedAt:      opened,
		EmergencyExit: true,
	}
}

func openDB(t *testing.T) *db.Database {
	t.Helper()
	database, err := db.Open(context.Background(), db.Memory)
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	return database
}

func TestBookLifecycle(t *testing.T) {
	ctx := context.Background()
	b := NewBook(nil, nil)

	require.NoError(t, b.Open(ctx, pos("b", "ETHUSDT", t0.Add(time.Minute))))
	require.NoError(t, b.Open(ctx, pos("a", "BTCUSDT", t0)))
	assert.Error(t, b.Open(ctx, pos("a", "BTCUSDT", t0)), "duplicate id")

	all := b.All()
	require.Len(t, all, 2)
	assert.Equal(t, "a", all[0].ID)
	assert.Equal(t, 1, b.CountFor("BTCUSDT"))
	assert.Zero(t, b.CountFor("SOLUSDT"))

	p, ok := b.Get("a")
	require.True(t, ok)
	ts := 100.2
	p.TrailingStop = &ts
	p.TP1Hit = true
	stored, _ := b.Get("a")
	assert.Nil(t, stored.TrailingStop, "callers hold copies")

	require.NoError(t, b.Update(ctx, p))
	stored, _ = b.Get("a")
	require.NotNil(t, stored.TrailingStop)
	*p.TrailingStop = 1
	stored, _ = b.Get("a")
	assert.Equal(t, 100.2, *stored.TrailingStop)

	require.NoError(t, b.Remove(ctx, "a"))
	assert.Error(t, b.Update(ctx, p))
	assert.Equal(t, 1, b.Count())
}

func TestBookPersistsAcrossRestart(t *testing.T) {
	ctx := context.Background()
	database := openDB(t)

	b := NewBook(database, nil)
	p := pos("a", "BTCUSDT", t0)
	exit := t0.Add(5 * time.Minute)
	p.ExitTime = &exit
	require.NoError(t, b.Open(ctx, p))
	require.NoError(t, b.Open(ctx, pos("b", "ETHUSDT", t0)))
	require.NoError(t, b.Remove(ctx, "b"))

	restored := NewBook(database, nil)
	require.NoError(t, restored.Load(ctx))
	require.Equal(t, 1, restored.Count())
	got, ok := restored.Get("a")
	require.True(t, ok)
	assert.Equal(t, trade.Long, got.Side)
	assert.Equal(t, 5, got.Leverage)
	require.NotNil(t, got.ExitTime)
	assert.True(t, exit.Equal(*got.ExitTime))
	assert.True(t, got.EmergencyExit)
}
