package strategy

import (
	"time"

	"github.com/Yoogi-7/BitgetBot/internal/clock"
	"github.com/Yoogi-7/BitgetBot/internal/indicators"
	"github.com/Yoogi-7/BitgetBot/internal/trade"
)

// FlowConfig configures the short-horizon order-flow strategy.
type FlowConfig struct {
	RSIOversold   float64       `yaml:"rsi_oversold" validate:"gt=0,lt=50"`
	RSIOverbought float64       `yaml:"rsi_overbought" validate:"gt=50,lt=100"`
	BidShareLong  float64       `yaml:"bid_share_long" validate:"gt=0.5,lte=1"`
	BidShareShort float64       `yaml:"bid_share_short" validate:"gte=0,lt=0.5"`
	Confidence    float64       `yaml:"confidence" validate:"gt=0,lte=1"`
	StopLoss      float64       `yaml:"stop_loss" validate:"gt=0"`
	TP1           float64       `yaml:"tp1" validate:"gt=0"`
	TP2           float64       `yaml:"tp2" validate:"gtefield=TP1"`
	MaxHold       time.Duration `yaml:"max_hold" validate:"gt=0"`
}

func DefaultFlowConfig() FlowConfig {
	return FlowConfig{
		RSIOversold:   25,
		RSIOverbought: 75,
		BidShareLong:  0.65,
		BidShareShort: 0.35,
		Confidence:    0.8,
		StopLoss:      0.003,
		TP1:           0.005,
		TP2:           0.008,
		MaxHold:       300 * time.Second,
	}
}

// FlowComposer enters when fast RSI is stretched and the top of the book
// leans the other way.
type FlowComposer struct {
	cfg    FlowConfig
	maxPer int
	clock  clock.Clock
}

func NewFlowComposer(cfg FlowConfig, maxPerInstrument int, clk clock.Clock) *FlowComposer {
	if clk == nil {
		clk = clock.System{}
	}
	if maxPerInstrument < 1 {
		maxPerInstrument = 1
	}
	return &FlowComposer{cfg: cfg, maxPer: maxPerInstrument, clock: clk}
}

func (f *FlowComposer) ID() string { return ModeSignalFlow }

func (f *FlowComposer) Compose(instrument string, s indicators.Snapshot, open int) Signal {
	if open >= f.maxPer || s.Price <= 0 || !s.RSI5.Valid || !s.BidShare.Valid {
		return NoSignal(instrument)
	}
	rsi, share := s.RSI5.Value, s.BidShare.Value

	switch {
	case rsi < f.cfg.RSIOversold && share > f.cfg.BidShareLong:
		return f.entry(instrument, trade.Long, s, "RSI5 oversold with bid pressure")
	case rsi > f.cfg.RSIOverbought && share < f.cfg.BidShareShort:
		return f.entry(instrument, trade.Short, s, "RSI5 overbought with ask pressure")
	}
	return NoSignal(instrument)
}

func (f *FlowComposer) entry(instrument string, side trade.Side, s indicators.Snapshot, reason string) Signal {
	p, sign := s.Price, side.Sign()
	exit := f.clock.Now().Add(f.cfg.MaxHold)
	lv := Levels{
		Entry:       p,
		StopLoss:    p * (1 - sign*f.cfg.StopLoss),
		TakeProfit1: p * (1 + sign*f.cfg.TP1),
		TakeProfit2: p * (1 + sign*f.cfg.TP2),
		ExitTime:    &exit,
	}
	return Entry(instrument, side, trade.StrategySignalFlow, f.cfg.Confidence, s.ATROr(0.02), []string{reason}, lv)
}
