package risk

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Yoogi-7/BitgetBot/internal/clock"
	"github.com/Yoogi-7/BitgetBot/internal/trade"
	"github.com/Yoogi-7/BitgetBot/pkg/db"
)

var t0 = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

// closed builds a trade with the given PnL on a notional of sizeUsd.
func closed(id trade.StrategyID, pnl, sizeUsd float64) trade.Closed {
	return trade.Closed{
		PositionID: "p",
		Instrument: "BTCUSDT",
		Side:       trade.Long,
		StrategyID: id,
		SizeUsd:    sizeUsd,
		PnL:        pnl,
		OpenedAt:   t0,
		ClosedAt:   t0.Add(3 * time.Minute),
	}
}

func newTestManager() (*Manager, *clock.Manual) {
	clk := clock.NewManual(t0)
	return NewInMemory(DefaultLimits(), clk), clk
}

func TestSizePosition(t *testing.T) {
	m, _ := newTestManager()

	tests := []struct {
		name                      string
		balance, entry, atr, conf float64
		want                      float64
	}{
		// risk 10, stop 75, size = 10/75 * entry
		{"reference example", 1000, 100, 50, 0.95, 10.0 / 75 * 100},
		{"capped at max position pct", 1000, 50000, 50, 0.95, 100},
		{"below minimum trade", 1000, 50, 50, 0.95, 0},
		// risk 10*0.6=6, stop 50*2=100
		{"low confidence uses wide stop", 10000, 1000, 50, 0.75, 60 / 100.0 * 1000},
		{"zero atr rejected", 1000, 100, 0, 0.95, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, m.SizePosition(tt.balance, tt.entry, tt.atr, tt.conf), 1e-9)
		})
	}
}

func TestSizeWithLeverage(t *testing.T) {
	m, _ := newTestManager()
	assert.InDelta(t, 10.0/75*100*3, m.SizeWithLeverage(1000, 100, 50, 0.95, 3), 1e-9)
	assert.InDelta(t, 100, m.SizeWithLeverage(1000, 100, 50, 0.95, 20), 1e-9)
}

func TestConfidenceMultiplier(t *testing.T) {
	assert.Equal(t, 1.0, ConfidenceMultiplier(0.9))
	assert.Equal(t, 0.8, ConfidenceMultiplier(0.85))
	assert.Equal(t, 0.6, ConfidenceMultiplier(0.7))
	assert.Equal(t, 0.4, ConfidenceMultiplier(0.69))
}

func TestSizeNeverExceedsCap(t *testing.T) {
	m, _ := newTestManager()
	for _, lev := range []int{1, 5, 20} {
		for _, conf := range []float64{0.5, 0.75, 0.85, 0.99} {
			size := m.SizeWithLeverage(2500, 65000, 120, conf, lev)
			assert.LessOrEqual(t, size, 0.10*2500)
		}
	}
}

func TestPenaltyAppliedAndReset(t *testing.T) {
	m, _ := newTestManager()
	ctx := context.Background()

	m.RecordTrade(ctx, closed(trade.StrategyScalping, -0.6, 100)) // -0.6%
	assert.Equal(t, 3.0, m.State().PenaltyMultiplier)
	assert.InDelta(t, 100.0/3, m.SizePosition(1000, 50000, 50, 0.95), 1e-9)

	m.RecordTrade(ctx, closed(trade.StrategyScalping, 1, 100))
	m.RecordTrade(ctx, closed(trade.StrategyScalping, 1, 100))
	assert.False(t, m.ResetPenalties(), "two wins are not enough")
	assert.GreaterOrEqual(t, m.State().PenaltyMultiplier, 1.0)

	m.RecordTrade(ctx, closed(trade.StrategyScalping, 1, 100))
	assert.True(t, m.ResetPenalties())
	assert.Equal(t, 1.0, m.State().PenaltyMultiplier)
	assert.False(t, m.ResetPenalties(), "already reset")
}

func TestBigLossExcludesStrategyForWindow(t *testing.T) {
	m, clk := newTestManager()

	m.RecordTrade(context.Background(), closed(trade.StrategyIntraday, -2, 100)) // -2%
	assert.Equal(t, 1.0, m.State().PenaltyMultiplier, "big loss excludes instead of penalizing")

	assert.False(t, m.IsStrategyAllowed(trade.StrategyIntraday))
	assert.True(t, m.IsStrategyAllowed(trade.StrategyScalping))

	clk.Advance(time.Hour - time.Nanosecond)
	assert.False(t, m.IsStrategyAllowed(trade.StrategyIntraday))

	clk.Advance(time.Nanosecond)
	assert.True(t, m.IsStrategyAllowed(trade.StrategyIntraday))
	assert.NotContains(t, m.State().ExcludedStrategies, trade.StrategyIntraday)
}

func TestConsecutiveLossesPause(t *testing.T) {
	m, clk := newTestManager()
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		m.RecordTrade(ctx, closed(trade.StrategyScalping, -0.1, 100))
	}
	require.True(t, m.CanOpen().Allowed)

	m.RecordTrade(ctx, closed(trade.StrategyScalping, -0.1, 100))
	gate := m.CanOpen()
	assert.False(t, gate.Allowed)
	assert.True(t, gate.Hard)
	assert.True(t, m.State().Paused(clk.Now()))

	clk.Advance(29 * time.Minute)
	assert.False(t, m.CanOpen().Allowed)

	clk.Advance(time.Minute)
	assert.True(t, m.CanOpen().Allowed)
	st := m.State()
	assert.Nil(t, st.PauseUntil)
	assert.Zero(t, st.ConsecutiveLosses)
}

func TestLossAfterPauseExpiryStartsFreshStreak(t *testing.T) {
	m, clk := newTestManager()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		m.RecordTrade(ctx, closed(trade.StrategyScalping, -0.1, 100))
	}
	require.True(t, m.State().Paused(clk.Now()))

	// the first settlement after expiry arrives before any CanOpen call
	clk.Advance(31 * time.Minute)
	m.RecordTrade(ctx, closed(trade.StrategyScalping, -0.1, 100))

	st := m.State()
	assert.False(t, st.Paused(clk.Now()))
	assert.Nil(t, st.PauseUntil)
	assert.Equal(t, 1, st.ConsecutiveLosses)
	assert.True(t, m.CanOpen().Allowed)
}

func TestWinResetsLossStreak(t *testing.T) {
	m, _ := newTestManager()
	ctx := context.Background()
	m.RecordTrade(ctx, closed(trade.StrategyScalping, -0.1, 100))
	m.RecordTrade(ctx, closed(trade.StrategyScalping, -0.1, 100))
	m.RecordTrade(ctx, closed(trade.StrategyScalping, 0.5, 100))
	assert.Zero(t, m.State().ConsecutiveLosses)
}

func TestDailyLossGateAndReduction(t *testing.T) {
	m, _ := newTestManager()
	ctx := context.Background()
	require.True(t, m.RollDay(1000))

	m.RecordTrade(ctx, closed(trade.StrategySwing, -45, 100000)) // 4.5% of the day
	assert.True(t, m.CanOpen().Allowed)
	// 100/75*100 = 133.33, reduced to 30%
	assert.InDelta(t, 40, m.SizePosition(10000, 100, 50, 0.95), 1e-9)

	m.RecordTrade(ctx, closed(trade.StrategySwing, 5, 100000))
	m.RecordTrade(ctx, closed(trade.StrategySwing, -10, 100000))
	gate := m.CanOpen()
	assert.False(t, gate.Allowed)
	assert.False(t, gate.Hard)
	assert.Contains(t, gate.Reason, "daily loss")
}

func TestRollDay(t *testing.T) {
	m, clk := newTestManager()
	ctx := context.Background()

	assert.True(t, m.RollDay(1000))
	assert.False(t, m.RollDay(1200))
	m.RecordTrade(ctx, closed(trade.StrategyScalping, -20, 100000))
	assert.InDelta(t, 0.02, m.DailyLossFraction(), 1e-12)

	clk.Advance(15 * time.Hour) // past midnight UTC
	assert.True(t, m.RollDay(980))
	st := m.State()
	assert.Zero(t, st.DailyPnL)
	assert.Equal(t, 980.0, st.DailyStartingBalance)
	assert.Equal(t, "2025-03-02", st.Day)
}

func TestDynamicLeverage(t *testing.T) {
	m, _ := newTestManager()
	tests := []struct {
		atrPct, strength float64
		want             int
	}{
		{0.4, 0.95, 20}, // 26 clamped
		{0.8, 0.7, 15},
		{1.2, 0.5, 7},
		{1.8, 0.7, 7},
		{3.0, 0.7, 5},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, m.DynamicLeverage(tt.atrPct, tt.strength), "atr%%=%v strength=%v", tt.atrPct, tt.strength)
	}
}

func TestAdaptiveLeverageAdjustment(t *testing.T) {
	ctx := context.Background()

	t.Run("needs five trades", func(t *testing.T) {
		m, _ := newTestManager()
		for i := 0; i < 4; i++ {
			m.RecordTrade(ctx, closed(trade.StrategyScalping, -1, 100000))
		}
		assert.Equal(t, 1.0, m.AdaptiveLeverageAdjustment())
	})

	t.Run("losing run reduces", func(t *testing.T) {
		m, _ := newTestManager()
		for i := 0; i < 5; i++ {
			m.RecordTrade(ctx, closed(trade.StrategyScalping, -1, 100000))
		}
		assert.InDelta(t, 0.8, m.AdaptiveLeverageAdjustment(), 1e-12)
		for i := 0; i < 10; i++ {
			m.AdaptiveLeverageAdjustment()
		}
		assert.Equal(t, 0.5, m.State().LeverageMultiplier)
		assert.Equal(t, 10, m.DynamicLeverage(0.4, 0.7))
	})

	t.Run("winning run increases to cap", func(t *testing.T) {
		m, _ := newTestManager()
		for i := 0; i < 5; i++ {
			m.RecordTrade(ctx, closed(trade.StrategyScalping, 1, 100))
		}
		assert.InDelta(t, 1.1, m.AdaptiveLeverageAdjustment(), 1e-12)
		for i := 0; i < 10; i++ {
			m.AdaptiveLeverageAdjustment()
		}
		assert.Equal(t, 1.5, m.State().LeverageMultiplier)
	})
}

func TestReport(t *testing.T) {
	m, _ := newTestManager()
	ctx := context.Background()
	m.RollDay(1000)
	m.RecordTrade(ctx, closed(trade.StrategyScalping, 10, 1000))
	m.RecordTrade(ctx, closed(trade.StrategySwing, -5, 100000))

	r := m.Report()
	assert.Equal(t, 2, r.TotalTrades)
	assert.InDelta(t, 0.5, r.WinRate, 1e-12)
	assert.InDelta(t, 5, r.RealizedPnL, 1e-12)
	assert.InDelta(t, 0.5, r.DailyPnLPercent, 1e-12)
	assert.Equal(t, Accuracy{Wins: 1}, r.Accuracy[trade.StrategyScalping])
	assert.Equal(t, Accuracy{Losses: 1}, r.Accuracy[trade.StrategySwing])
	assert.True(t, r.Gate.Allowed)
	assert.False(t, r.SystemPaused)
}

func TestStatePersistsAcrossRestart(t *testing.T) {
	database, err := db.Open(context.Background(), db.Memory)
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	ctx := context.Background()
	clk := clock.NewManual(t0)

	m := NewManager(DefaultLimits(), clk, database, nil)
	require.NoError(t, m.Restore(ctx), "empty store restores cleanly")
	m.RecordTrade(ctx, closed(trade.StrategyScalping, -0.6, 100))
	m.RecordTrade(ctx, closed(trade.StrategyIntraday, -2, 100))

	restored := NewManager(DefaultLimits(), clk, database, nil)
	require.NoError(t, restored.Restore(ctx))
	st := restored.State()
	assert.Equal(t, 3.0, st.PenaltyMultiplier)
	assert.Equal(t, 2, st.ConsecutiveLosses)
	assert.False(t, restored.IsStrategyAllowed(trade.StrategyIntraday))

	daily, err := database.DailyRiskMetrics(ctx, "2025-03-01")
	require.NoError(t, err)
	assert.Equal(t, 2, daily.DailyTrades)
	assert.InDelta(t, -2.6, daily.DailyPnL, 1e-9)
}
