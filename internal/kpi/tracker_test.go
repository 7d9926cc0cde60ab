package kpi

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Yoogi-7/BitgetBot/internal/trade"
	"github.com/Yoogi-7/BitgetBot/pkg/db"
)

var t0 = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

func closedTrade(id string, pnl, risk float64, hold time.Duration, day int) trade.Closed {
	opened := t0.AddDate(0, 0, day)
	return trade.Closed{
		PositionID: id,
		Instrument: "BTCUSDT",
		Side:       trade.Long,
		StrategyID: trade.StrategyScalping,
		SizeUsd:    1000,
		PnL:        pnl,
		RiskAmount: risk,
		OpenedAt:   opened,
		ClosedAt:   opened.Add(hold),
	}
}

func TestCheckDailyDrawdown(t *testing.T) {
	tr := NewTracker(DefaultConfig(), nil, nil)

	tests := []struct {
		name              string
		current, starting float64
		want              bool
	}{
		{"five percent down breaks", 950, 1000, false},
		{"one percent down passes", 990, 1000, true},
		{"exact limit breaks", 980, 1000, false},
		{"up day passes", 1050, 1000, true},
		{"no starting balance", 0, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tr.CheckDailyDrawdown(tt.current, tt.starting))
		})
	}
}

func TestTrackTrade(t *testing.T) {
	tr := NewTracker(DefaultConfig(), nil, nil)
	ctx := context.Background()

	r := tr.TrackTrade(ctx, closedTrade("a", 15, 10, 3*time.Minute, 0))
	assert.InDelta(t, 1.5, r.RiskReward, 1e-12)
	assert.InDelta(t, 1.5, r.PnLPercent, 1e-12)
	assert.Equal(t, 3.0, r.HoldMinutes)
	assert.True(t, r.HoldOK)
	assert.True(t, r.RiskRewardOK)

	r = tr.TrackTrade(ctx, closedTrade("b", -5, 10, 90*time.Second, 0))
	assert.Zero(t, r.RiskReward, "losing trades have no reward")
	assert.False(t, r.HoldOK)
	assert.False(t, r.RiskRewardOK)

	r = tr.TrackTrade(ctx, closedTrade("c", 5, 0, 4*time.Minute, 0))
	assert.Zero(t, r.RiskReward, "no recorded risk")
}

func TestSummaryAndCompliance(t *testing.T) {
	ctx := context.Background()

	t.Run("empty", func(t *testing.T) {
		tr := NewTracker(DefaultConfig(), nil, nil)
		assert.Equal(t, Summary{}, tr.Summary())
		assert.Zero(t, tr.ComplianceRate())
	})

	t.Run("all targets met", func(t *testing.T) {
		tr := NewTracker(DefaultConfig(), nil, nil)
		tr.TrackTrade(ctx, closedTrade("a", 15, 10, 3*time.Minute, 0))
		tr.TrackTrade(ctx, closedTrade("b", 20, 10, 4*time.Minute, 1))
		s := tr.Summary()
		assert.Equal(t, 2, s.TotalTrades)
		assert.InDelta(t, 3.5, s.AvgHoldMinutes, 1e-12)
		assert.InDelta(t, 1.75, s.AvgRiskReward, 1e-12)
		assert.InDelta(t, 1.5, s.WorstDayPnLPct, 1e-12)
		assert.InDelta(t, 100, s.ComplianceRate, 1e-9)
	})

	t.Run("bad day costs the day weight", func(t *testing.T) {
		tr := NewTracker(DefaultConfig(), nil, nil)
		tr.TrackTrade(ctx, closedTrade("a", 15, 10, 3*time.Minute, 0))
		tr.TrackTrade(ctx, closedTrade("b", -15, 10, 3*time.Minute, 1))
		tr.TrackTrade(ctx, closedTrade("c", -15, 10, 3*time.Minute, 1))
		s := tr.Summary()
		assert.InDelta(t, -3, s.WorstDayPnLPct, 1e-12)
		assert.InDelta(t, 100, s.HoldRate, 1e-9)
		assert.InDelta(t, 100.0/3, s.RiskRewardRate, 1e-9)
		// 0.3*100 + 0.4*33.3 + 0
		assert.InDelta(t, 30+0.4*100.0/3, s.ComplianceRate, 1e-9)
	})
}

func TestExportJSON(t *testing.T) {
	tr := NewTracker(DefaultConfig(), nil, nil)
	ctx := context.Background()
	tr.TrackTrade(ctx, closedTrade("late", 15, 10, 3*time.Minute, 1))
	tr.TrackTrade(ctx, closedTrade("early", 15, 10, 3*time.Minute, 0))

	var buf bytes.Buffer
	require.NoError(t, tr.ExportJSON(&buf, t0))

	var rep Report
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rep))
	assert.Equal(t, 2, rep.Summary.TotalTrades)
	require.Len(t, rep.Trades, 2)
	assert.Equal(t, "early", rep.Trades[0].PositionID)
	assert.Len(t, rep.DailyPnLPct, 2)
}

func TestWriteReport(t *testing.T) {
	tr := NewTracker(DefaultConfig(), nil, nil)
	tr.TrackTrade(context.Background(), closedTrade("a", 15, 10, 3*time.Minute, 0))

	path := filepath.Join(t.TempDir(), "reports", "kpi_report.json")
	require.NoError(t, tr.WriteReport(path, t0))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"kpi_compliance_rate"`)
}

func TestTrackTradePersists(t *testing.T) {
	database, err := db.Open(context.Background(), db.Memory)
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	ctx := context.Background()
	tr := NewTracker(DefaultConfig(), database, nil)
	tr.TrackTrade(ctx, closedTrade("a", 15, 10, 3*time.Minute, 0))

	rows, err := database.ListKPI(ctx, t0.Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "a", rows[0].PositionID)
	assert.True(t, rows[0].RROK)
}
