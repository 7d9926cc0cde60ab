package strategy

import (
	"math"
	"time"

	"github.com/Yoogi-7/BitgetBot/internal/clock"
	"github.com/Yoogi-7/BitgetBot/internal/indicators"
	"github.com/Yoogi-7/BitgetBot/internal/trade"
)

const (
	ModeEnhanced   = "enhanced"
	ModeSignalFlow = "signal_flow"
)

// Targets are take-profit distances as fractions of entry.
type Targets struct {
	TP1 float64 `yaml:"tp1" validate:"gt=0"`
	TP2 float64 `yaml:"tp2" validate:"gtefield=TP1"`
}

// Config drives the composers.
type Config struct {
	Mode             string        `yaml:"mode" validate:"oneof=enhanced signal_flow"`
	EntryThreshold   float64       `yaml:"entry_threshold" validate:"gt=0"`
	MaxPerInstrument int           `yaml:"max_per_instrument" validate:"gte=1"`
	StopBufferATR    float64       `yaml:"stop_buffer_atr" validate:"gte=0"`
	FallbackStopATR  float64       `yaml:"fallback_stop_atr" validate:"gt=0"`
	ScalpMaxHold     time.Duration `yaml:"scalp_max_hold" validate:"gt=0"`
	SwingATRPercent  float64       `yaml:"swing_atr_percent" validate:"gtfield=IntradayATRPercent"`
	// IntradayATRPercent is the ATR% above which a setup is traded intraday.
	IntradayATRPercent float64 `yaml:"intraday_atr_percent" validate:"gt=0"`

	Scalping Targets `yaml:"scalping"`
	Intraday Targets `yaml:"intraday"`
	Swing    Targets `yaml:"swing"`

	Flow FlowConfig `yaml:"flow"`
}

func DefaultConfig() Config {
	return Config{
		Mode:               ModeEnhanced,
		EntryThreshold:     0.7,
		MaxPerInstrument:   1,
		StopBufferATR:      0.5,
		FallbackStopATR:    1.5,
		ScalpMaxHold:       300 * time.Second,
		SwingATRPercent:    2,
		IntradayATRPercent: 1,
		Scalping:           Targets{TP1: 0.003, TP2: 0.006},
		Intraday:           Targets{TP1: 0.005, TP2: 0.01},
		Swing:              Targets{TP1: 0.01, TP2: 0.02},
		Flow:               DefaultFlowConfig(),
	}
}

// New returns the composer selected by cfg.Mode.
func New(cfg Config, clk clock.Clock) Composer {
	if cfg.Mode == ModeSignalFlow {
		return NewFlowComposer(cfg.Flow, cfg.MaxPerInstrument, clk)
	}
	return NewEnhancedComposer(cfg, clk)
}

// EnhancedComposer adds up weighted long and short confirmations and opens
// when one side crosses the entry threshold.
type EnhancedComposer struct {
	cfg   Config
	clock clock.Clock
}

func NewEnhancedComposer(cfg Config, clk clock.Clock) *EnhancedComposer {
	if clk == nil {
		clk = clock.System{}
	}
	return &EnhancedComposer{cfg: cfg, clock: clk}
}

func (c *EnhancedComposer) ID() string { return ModeEnhanced }

type tally struct {
	score   float64
	reasons []string
}

func (t *tally) add(ok bool, w float64, reason string) bool {
	if ok {
		t.score += w
		t.reasons = append(t.reasons, reason)
	}
	return ok
}

func is(o indicators.Opt[indicators.Bias], want indicators.Bias) bool {
	return o.Valid && o.Value == want
}

func (c *EnhancedComposer) Compose(instrument string, s indicators.Snapshot, open int) Signal {
	if open >= c.cfg.MaxPerInstrument || s.Price <= 0 {
		return NoSignal(instrument)
	}
	long, short := c.scoreLong(s), c.scoreShort(s)

	switch {
	case long.score >= c.cfg.EntryThreshold:
		return c.entry(instrument, trade.Long, s, long)
	case short.score >= c.cfg.EntryThreshold:
		return c.entry(instrument, trade.Short, s, short)
	}
	return NoSignal(instrument)
}

func (c *EnhancedComposer) scoreLong(s indicators.Snapshot) tally {
	var t tally
	if !t.add(s.RSI5.Valid && s.RSI5.Value < 25, 0.3, "RSI5 extremely oversold") {
		t.add(s.RSI14.Valid && s.RSI14.Value < 30, 0.2, "RSI14 oversold")
	}
	if !t.add(s.VolumeSpikeMax.Or(false), 0.35, "volume spike 500%") {
		t.add(s.VolumeSpike.Or(false), 0.2, "volume spike")
	}
	t.add(is(s.MACDCross, indicators.Bullish), 0.25, "MACD bullish crossover")
	t.add(is(s.MACDDivergence, indicators.Bullish), 0.3, "MACD bullish divergence")
	t.add(is(s.EMACross, indicators.Bullish), 0.25, "EMA bullish crossover")
	if !t.add(s.Squeeze.Or(false) && is(s.SqueezeBreak, indicators.Bullish), 0.3, "BB squeeze breakout up") {
		t.add(s.Band.Valid && s.Band.Value == indicators.BandBelow, 0.2, "price below lower band")
	}
	t.add(s.Imbalance.Valid && s.Imbalance.Value > 0.3, 0.2, "bid-side order book imbalance")
	t.add(is(s.Engulfing, indicators.Bullish), 0.2, "bullish engulfing")
	t.add(is(s.PinBar, indicators.Bullish), 0.15, "bullish pin bar")
	t.add(is(s.Breakout, indicators.Bullish), 0.25, "breakout above resistance")
	t.add(is(s.Trap, indicators.Bullish), 0.2, "low trap")
	t.add(is(s.TrendAligned, indicators.Bullish), 0.15, "timeframes aligned bullish")
	t.add(s.VWAP.Valid && s.Price < s.VWAP.Value*0.995, 0.15, "below VWAP")
	return t
}

func (c *EnhancedComposer) scoreShort(s indicators.Snapshot) tally {
	var t tally
	if !t.add(s.RSI5.Valid && s.RSI5.Value > 75, 0.3, "RSI5 extremely overbought") {
		t.add(s.RSI14.Valid && s.RSI14.Value > 70, 0.2, "RSI14 overbought")
	}
	if !t.add(s.VolumeSpikeMax.Or(false), 0.35, "volume spike 500%") {
		t.add(s.VolumeSpike.Or(false), 0.2, "volume spike")
	}
	t.add(is(s.MACDCross, indicators.Bearish), 0.25, "MACD bearish crossover")
	t.add(is(s.MACDDivergence, indicators.Bearish), 0.3, "MACD bearish divergence")
	t.add(is(s.EMACross, indicators.Bearish), 0.25, "EMA bearish crossover")
	if !t.add(s.Squeeze.Or(false) && is(s.SqueezeBreak, indicators.Bearish), 0.3, "BB squeeze breakout down") {
		t.add(s.Band.Valid && s.Band.Value == indicators.BandAbove, 0.2, "price above upper band")
	}
	t.add(s.Imbalance.Valid && s.Imbalance.Value < -0.3, 0.2, "ask-side order book imbalance")
	t.add(is(s.Engulfing, indicators.Bearish), 0.2, "bearish engulfing")
	t.add(is(s.PinBar, indicators.Bearish), 0.15, "bearish pin bar")
	t.add(is(s.Breakout, indicators.Bearish), 0.25, "breakdown below support")
	t.add(is(s.Trap, indicators.Bearish), 0.2, "high trap")
	t.add(is(s.TrendAligned, indicators.Bearish), 0.15, "timeframes aligned bearish")
	t.add(s.VWAP.Valid && s.Price > s.VWAP.Value*1.005, 0.15, "above VWAP")
	return t
}

// StrategyFor picks the holding style from ATR as a percent of price.
func (c *EnhancedComposer) StrategyFor(atrPercent float64) trade.StrategyID {
	switch {
	case atrPercent > c.cfg.SwingATRPercent:
		return trade.StrategySwing
	case atrPercent > c.cfg.IntradayATRPercent:
		return trade.StrategyIntraday
	default:
		return trade.StrategyScalping
	}
}

func (c *EnhancedComposer) targets(id trade.StrategyID) Targets {
	switch id {
	case trade.StrategySwing:
		return c.cfg.Swing
	case trade.StrategyIntraday:
		return c.cfg.Intraday
	default:
		return c.cfg.Scalping
	}
}

func (c *EnhancedComposer) entry(instrument string, side trade.Side, s indicators.Snapshot, t tally) Signal {
	price := s.Price
	atr := s.ATRShort.Or(s.ATROr(0.02))
	if atr <= 0 {
		atr = s.ATROr(0.02)
	}
	atrPct := s.ATRPercent.Or(atr / price * 100)

	id := c.StrategyFor(atrPct)
	tg := c.targets(id)
	sign := side.Sign()

	lv := Levels{
		Entry:       price,
		StopLoss:    c.stop(side, s, atr),
		TakeProfit1: price * (1 + sign*tg.TP1),
		TakeProfit2: price * (1 + sign*tg.TP2),
	}
	if id == trade.StrategyScalping {
		at := c.clock.Now().Add(c.cfg.ScalpMaxHold)
		lv.ExitTime = &at
	}
	return Entry(instrument, side, id, math.Min(t.score, 1), atr, t.reasons, lv)
}

// stop sits beyond the recent swing extreme by a fraction of ATR. Without a
// usable extreme it falls back to a plain ATR multiple from entry.
func (c *EnhancedComposer) stop(side trade.Side, s indicators.Snapshot, atr float64) float64 {
	price := s.Price
	fallback := price - side.Sign()*atr*c.cfg.FallbackStopATR
	if side == trade.Long {
		if s.RecentLow.Valid {
			if sl := s.RecentLow.Value - atr*c.cfg.StopBufferATR; sl < price && sl > 0 {
				return sl
			}
		}
		return fallback
	}
	if s.RecentHigh.Valid {
		if sl := s.RecentHigh.Value + atr*c.cfg.StopBufferATR; sl > price {
			return sl
		}
	}
	return fallback
}
