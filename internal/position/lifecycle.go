package position

import (
	"fmt"
	"math"
	"time"

	"github.com/Yoogi-7/BitgetBot/internal/indicators"
	"github.com/Yoogi-7/BitgetBot/internal/trade"
)

// Config holds the exit rules.
type Config struct {
	VolatilitySpike  float64       `yaml:"volatility_spike" validate:"gt=1"`
	RapidMove        float64       `yaml:"rapid_move" validate:"gt=0"`
	RapidMoveWindow  time.Duration `yaml:"rapid_move_window" validate:"gt=0"`
	ExtremeImbalance float64       `yaml:"extreme_imbalance" validate:"gt=0,lte=1"`
	ExtremeFunding   float64       `yaml:"extreme_funding" validate:"gt=0"`
	TrailDistance    float64       `yaml:"trail_distance" validate:"gt=0,lt=1"`
	ScalpMaxHold     time.Duration `yaml:"scalp_max_hold" validate:"gt=0"`
	TP1ExitRatio     float64       `yaml:"tp1_exit_ratio" validate:"gt=0,lte=1"`

	RSIExitOverbought float64 `yaml:"rsi_exit_overbought" validate:"gt=50,lt=100"`
	RSIExitOversold   float64 `yaml:"rsi_exit_oversold" validate:"gt=0,lt=50"`

	// VolatilityShift is the relative ATR change that rescales TP2.
	VolatilityShift float64                      `yaml:"volatility_shift" validate:"gt=0"`
	TP2Distances    map[trade.StrategyID]float64 `yaml:"tp2_distances"`
}

func DefaultConfig() Config {
	return Config{
		VolatilitySpike:   3.0,
		RapidMove:         0.02,
		RapidMoveWindow:   60 * time.Second,
		ExtremeImbalance:  0.8,
		ExtremeFunding:    0.1,
		TrailDistance:     0.003,
		ScalpMaxHold:      300 * time.Second,
		TP1ExitRatio:      0.5,
		RSIExitOverbought: 70,
		RSIExitOversold:   30,
		VolatilityShift:   0.5,
		TP2Distances: map[trade.StrategyID]float64{
			trade.StrategyScalping:   0.006,
			trade.StrategyIntraday:   0.01,
			trade.StrategySwing:      0.02,
			trade.StrategySignalFlow: 0.008,
		},
	}
}

// Kind is what the lifecycle wants done with a position.
type Kind int8

const (
	Hold Kind = iota
	PartialClose
	Close
)

func (k Kind) String() string {
	switch k {
	case PartialClose:
		return "partial_close"
	case Close:
		return "close"
	default:
		return "hold"
	}
}

// Reason is the rule that fired.
type Reason string

const (
	ReasonEmergency    Reason = "emergency"
	ReasonStopLoss     Reason = "stop_loss"
	ReasonTakeProfit1  Reason = "take_profit_1"
	ReasonTrailingStop Reason = "trailing_stop"
	ReasonTakeProfit2  Reason = "take_profit_2"
	ReasonTechnical    Reason = "technical"
	ReasonTimeExit     Reason = "time_exit"
	ReasonTrendReverse Reason = "trend_reversal"
)

// Decision is the outcome of one evaluation.
type Decision struct {
	Kind      Kind    `json:"kind"`
	Reason    Reason  `json:"reason,omitempty"`
	Detail    string  `json:"detail,omitempty"`
	Price     float64 `json:"price"`
	ExitRatio float64 `json:"exit_ratio,omitempty"` // share of size to close on PartialClose
}

func hold(price float64) Decision { return Decision{Kind: Hold, Price: price} }

func closeAt(price float64, r Reason, detail string) Decision {
	return Decision{Kind: Close, Reason: r, Detail: detail, Price: price, ExitRatio: 1}
}

// Lifecycle applies exit rules. It keeps no state of its own; the latched
// flags and the trailing stop live on the Position.
type Lifecycle struct {
	cfg Config
}

func NewLifecycle(cfg Config) *Lifecycle {
	return &Lifecycle{cfg: cfg}
}

func (l *Lifecycle) Config() Config { return l.cfg }

// Evaluate checks the exit rules in priority order and returns the first that
// fires. Reaching TP1 latches TP1Hit and arms the trailing stop on p.
func (l *Lifecycle) Evaluate(p *Position, s indicators.Snapshot, now time.Time) Decision {
	price := s.Price
	if price <= 0 {
		return hold(price)
	}
	sign := p.Side.Sign()

	if p.EmergencyExit {
		if d, ok := l.emergency(p, s, now); ok {
			return d
		}
	}

	if (price-p.StopLoss)*sign <= 0 {
		return closeAt(price, ReasonStopLoss, fmt.Sprintf("stop loss %.6g hit", p.StopLoss))
	}

	if !p.TP1Hit && (price-p.TakeProfit1)*sign >= 0 {
		p.TP1Hit = true
		p.TrailingActive = true
		l.ratchet(p, price)
		return Decision{
			Kind:      PartialClose,
			Reason:    ReasonTakeProfit1,
			Detail:    "first take profit reached",
			Price:     price,
			ExitRatio: l.cfg.TP1ExitRatio,
		}
	}

	if p.TrailingActive {
		l.ratchet(p, price)
		if (price-*p.TrailingStop)*sign <= 0 {
			return closeAt(price, ReasonTrailingStop, fmt.Sprintf("trailing stop %.6g hit", *p.TrailingStop))
		}
	}

	if (price-p.TakeProfit2)*sign >= 0 {
		return closeAt(price, ReasonTakeProfit2, "final take profit reached")
	}

	if detail := l.technical(p.Side, s); detail != "" {
		return closeAt(price, ReasonTechnical, detail)
	}

	if p.ExitTime != nil {
		if !now.Before(*p.ExitTime) {
			return closeAt(price, ReasonTimeExit, "exit time reached")
		}
	} else if p.StrategyID == trade.StrategyScalping && now.Sub(p.OpenedAt) >= l.cfg.ScalpMaxHold {
		return closeAt(price, ReasonTimeExit, "scalping max hold reached")
	}
	return hold(price)
}

func (l *Lifecycle) emergency(p *Position, s indicators.Snapshot, now time.Time) (Decision, bool) {
	price := s.Price
	if atr := s.ATR.Or(0); p.ATRAtEntry > 0 && atr/p.ATRAtEntry > l.cfg.VolatilitySpike {
		return closeAt(price, ReasonEmergency, "volatility spike"), true
	}
	if p.EntryPrice > 0 && math.Abs(price-p.EntryPrice)/p.EntryPrice > l.cfg.RapidMove &&
		now.Sub(p.OpenedAt) < l.cfg.RapidMoveWindow {
		return closeAt(price, ReasonEmergency, "rapid price movement"), true
	}
	if math.Abs(s.Imbalance.Or(0)) > l.cfg.ExtremeImbalance {
		return closeAt(price, ReasonEmergency, "extreme order book imbalance"), true
	}
	if math.Abs(s.FundingRate.Or(0)) > l.cfg.ExtremeFunding {
		return closeAt(price, ReasonEmergency, "extreme funding rate"), true
	}
	return Decision{}, false
}

// ratchet moves the trailing stop toward price, never away from it.
func (l *Lifecycle) ratchet(p *Position, price float64) {
	candidate := price * (1 - p.Side.Sign()*l.cfg.TrailDistance)
	switch {
	case p.TrailingStop == nil:
		p.TrailingStop = &candidate
	case p.Side == trade.Long && candidate > *p.TrailingStop:
		*p.TrailingStop = candidate
	case p.Side == trade.Short && candidate < *p.TrailingStop:
		*p.TrailingStop = candidate
	}
}

func (l *Lifecycle) technical(side trade.Side, s indicators.Snapshot) string {
	rsi := s.RSI5.Or(50)
	against := indicators.Bearish
	if side == trade.Short {
		against = indicators.Bullish
	}
	switch {
	case side == trade.Long && rsi > l.cfg.RSIExitOverbought:
		return "RSI5 overbought"
	case side == trade.Short && rsi < l.cfg.RSIExitOversold:
		return "RSI5 oversold"
	case s.EMACross.Or(indicators.Neutral) == against:
		return fmt.Sprintf("EMA %s crossover", against)
	case s.Engulfing.Or(indicators.Neutral) == against:
		return fmt.Sprintf("%s engulfing", against)
	case s.MACDCross.Or(indicators.Neutral) == against:
		return fmt.Sprintf("MACD %s crossover", against)
	}
	return ""
}

// Modification is a proposed change to an open position.
type Modification struct {
	Close         bool     `json:"close"`
	NewStopLoss   *float64 `json:"new_stop_loss,omitempty"`
	NewTakeProfit *float64 `json:"new_take_profit,omitempty"`
	Reasons       []string `json:"reasons,omitempty"`
}

// Empty reports whether nothing changes.
func (m Modification) Empty() bool {
	return !m.Close && m.NewStopLoss == nil && m.NewTakeProfit == nil
}

// Modify proposes adjustments from changed market conditions. It does not
// touch p; Apply does.
func (l *Lifecycle) Modify(p *Position, s indicators.Snapshot) Modification {
	var m Modification
	if bias := s.Trend.Or(indicators.TrendNeutral).Bias(); bias != indicators.Neutral {
		if (p.Side == trade.Long && bias == indicators.Bearish) || (p.Side == trade.Short && bias == indicators.Bullish) {
			m.Close = true
			m.Reasons = append(m.Reasons, fmt.Sprintf("trend reversal to %s", bias))
			return m
		}
	}

	sign := p.Side.Sign()
	if p.TP1Hit && (p.StopLoss-p.EntryPrice)*sign < 0 {
		be := p.EntryPrice
		m.NewStopLoss = &be
		m.Reasons = append(m.Reasons, "stop loss to breakeven after TP1")
	}

	atr := s.ATR.Or(0)
	if base, ok := l.cfg.TP2Distances[p.StrategyID]; ok && p.ATRAtEntry > 0 && atr > 0 &&
		math.Abs(atr-p.ATRAtEntry)/p.ATRAtEntry > l.cfg.VolatilityShift {
		dist := base * 0.75
		if atr > p.ATRAtEntry {
			dist = base * 1.5
		}
		tp := p.EntryPrice * (1 + sign*dist)
		if math.Abs(tp-p.TakeProfit2) > 1e-12*p.EntryPrice {
			m.NewTakeProfit = &tp
			m.Reasons = append(m.Reasons, "take profit adjusted for volatility change")
		}
	}
	return m
}

// Apply writes the price changes of m onto p. Close is left to the caller.
func (l *Lifecycle) Apply(p *Position, m Modification) {
	if m.NewStopLoss != nil {
		p.StopLoss = *m.NewStopLoss
	}
	if m.NewTakeProfit != nil {
		p.TakeProfit2 = *m.NewTakeProfit
	}
}
