package strategy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Yoogi-7/BitgetBot/internal/clock"
	"github.com/Yoogi-7/BitgetBot/internal/indicators"
	"github.com/Yoogi-7/BitgetBot/internal/trade"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func oversold() indicators.Snapshot {
	return indicators.Snapshot{
		Price:      100,
		ATR:        indicators.Some(0.5),
		ATRShort:   indicators.Some(0.4),
		ATRPercent: indicators.Some(0.5),
		RSI5:       indicators.Some(20.0),
		MACDCross:  indicators.Some(indicators.Bullish),
		EMACross:   indicators.Some(indicators.Bullish),
		RecentLow:  indicators.Some(99.0),
		RecentHigh: indicators.Some(102.0),
	}
}

func TestEnhancedComposerOpensLong(t *testing.T) {
	clk := clock.NewManual(t0)
	c := NewEnhancedComposer(DefaultConfig(), clk)

	sig := c.Compose("BTCUSDT", oversold(), 0)
	require.Equal(t, Open, sig.Action)
	require.NoError(t, sig.Validate())

	assert.Equal(t, trade.Long, sig.Side)
	assert.Equal(t, trade.StrategyScalping, sig.StrategyID)
	assert.InDelta(t, 0.8, sig.Confidence, 1e-9)
	assert.Equal(t, []string{"RSI5 extremely oversold", "MACD bullish crossover", "EMA bullish crossover"}, sig.Reasons)

	lv := sig.Levels
	assert.Equal(t, 100.0, lv.Entry)
	assert.InDelta(t, 99-0.4*0.5, lv.StopLoss, 1e-9)
	assert.InDelta(t, 100.3, lv.TakeProfit1, 1e-9)
	assert.InDelta(t, 100.6, lv.TakeProfit2, 1e-9)
	require.NotNil(t, lv.ExitTime)
	assert.Equal(t, t0.Add(300*time.Second), *lv.ExitTime)
}

func TestEnhancedComposerOpensShort(t *testing.T) {
	s := indicators.Snapshot{
		Price:          100,
		ATR:            indicators.Some(2.5),
		ATRPercent:     indicators.Some(2.5),
		RSI14:          indicators.Some(80.0),
		MACDDivergence: indicators.Some(indicators.Bearish),
		Engulfing:      indicators.Some(indicators.Bearish),
		PinBar:         indicators.Some(indicators.Bearish),
		RecentHigh:     indicators.Some(101.0),
	}
	sig := NewEnhancedComposer(DefaultConfig(), clock.NewManual(t0)).Compose("ETHUSDT", s, 0)

	require.Equal(t, Open, sig.Action)
	require.NoError(t, sig.Validate())
	assert.Equal(t, trade.Short, sig.Side)
	assert.Equal(t, trade.StrategySwing, sig.StrategyID)
	assert.InDelta(t, 0.85, sig.Confidence, 1e-9)
	assert.InDelta(t, 101+2.5*0.5, sig.Levels.StopLoss, 1e-9)
	assert.InDelta(t, 99, sig.Levels.TakeProfit1, 1e-9)
	assert.InDelta(t, 98, sig.Levels.TakeProfit2, 1e-9)
	assert.Nil(t, sig.Levels.ExitTime)
}

func TestEnhancedComposerNoSignal(t *testing.T) {
	c := NewEnhancedComposer(DefaultConfig(), clock.NewManual(t0))

	tests := []struct {
		name string
		snap indicators.Snapshot
		open int
	}{
		{"below threshold", indicators.Snapshot{Price: 100, RSI14: indicators.Some(25.0)}, 0},
		{"empty snapshot", indicators.Snapshot{Price: 100}, 0},
		{"instrument at cap", oversold(), 1},
		{"no price", indicators.Snapshot{}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sig := c.Compose("BTCUSDT", tt.snap, tt.open)
			assert.Equal(t, None, sig.Action)
			assert.Nil(t, sig.Levels)
			assert.NoError(t, sig.Validate())
		})
	}
}

func TestStopFallsBackWhenExtremeUnusable(t *testing.T) {
	s := oversold()
	s.RecentLow = indicators.Some(101.0) // above entry
	sig := NewEnhancedComposer(DefaultConfig(), clock.NewManual(t0)).Compose("BTCUSDT", s, 0)
	require.Equal(t, Open, sig.Action)
	assert.InDelta(t, 100-0.4*1.5, sig.Levels.StopLoss, 1e-9)
}

func TestStrategyFor(t *testing.T) {
	c := NewEnhancedComposer(DefaultConfig(), nil)
	assert.Equal(t, trade.StrategyScalping, c.StrategyFor(0.8))
	assert.Equal(t, trade.StrategyScalping, c.StrategyFor(1.0))
	assert.Equal(t, trade.StrategyIntraday, c.StrategyFor(1.5))
	assert.Equal(t, trade.StrategySwing, c.StrategyFor(2.1))
}

func TestFlowComposer(t *testing.T) {
	clk := clock.NewManual(t0)
	f := NewFlowComposer(DefaultFlowConfig(), 1, clk)

	tests := []struct {
		name   string
		rsi    float64
		share  float64
		action Action
		side   trade.Side
	}{
		{"long", 20, 0.7, Open, trade.Long},
		{"short", 80, 0.3, Open, trade.Short},
		{"rsi without flow", 20, 0.5, None, ""},
		{"flow without rsi", 50, 0.9, None, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := indicators.Snapshot{Price: 200, RSI5: indicators.Some(tt.rsi), BidShare: indicators.Some(tt.share)}
			sig := f.Compose("SOLUSDT", s, 0)
			require.Equal(t, tt.action, sig.Action)
			require.NoError(t, sig.Validate())
			if tt.action == None {
				return
			}
			assert.Equal(t, tt.side, sig.Side)
			assert.Equal(t, trade.StrategySignalFlow, sig.StrategyID)
			assert.Equal(t, 0.8, sig.Confidence)
			assert.InDelta(t, 200*(1-tt.side.Sign()*0.003), sig.Levels.StopLoss, 1e-9)
			assert.Equal(t, t0.Add(5*time.Minute), *sig.Levels.ExitTime)
		})
	}
}

func TestNewSelectsMode(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, ModeEnhanced, New(cfg, nil).ID())
	cfg.Mode = ModeSignalFlow
	assert.Equal(t, ModeSignalFlow, New(cfg, nil).ID())
}

func TestValidateRejectsInvertedLevels(t *testing.T) {
	sig := Entry("BTCUSDT", trade.Long, trade.StrategyScalping, 0.9, 1, nil, Levels{Entry: 100, StopLoss: 101, TakeProfit1: 102, TakeProfit2: 103})
	assert.ErrorIs(t, sig.Validate(), ErrInvertedLevels)

	sig = NoSignal("BTCUSDT")
	sig.Levels = &Levels{}
	assert.ErrorIs(t, sig.Validate(), ErrLevelsOnNone)
}
