// Package monitor raises risk alerts and collects runtime metrics.
package monitor

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/Yoogi-7/BitgetBot/internal/clock"
	"github.com/Yoogi-7/BitgetBot/internal/events"
	"github.com/Yoogi-7/BitgetBot/internal/risk"
)

type Config struct {
	DailyLossWarning  float64 `yaml:"daily_loss_warning" validate:"gt=0,lte=1"`  // share of the daily limit
	DailyLossCritical float64 `yaml:"daily_loss_critical" validate:"gt=0,lte=1"` // share of the daily limit
	ConsecutiveLosses int     `yaml:"consecutive_losses" validate:"gte=1"`
	HighLeverage      int     `yaml:"high_leverage" validate:"gte=1"`
}

func DefaultConfig() Config {
	return Config{
		DailyLossWarning:  0.5,
		DailyLossCritical: 0.8,
		ConsecutiveLosses: 2,
		HighLeverage:      30,
	}
}

// RiskSource is the part of the risk manager the monitor reads.
type RiskSource interface {
	Limits() risk.AccountLimits
	State() risk.State
	DailyLossFraction() float64
}

// Exposure is one open position as seen by the leverage rule.
type Exposure struct {
	Instrument string
	Leverage   int
	SizeUsd    float64
}

// RiskMonitor checks risk readings against alert thresholds.
type RiskMonitor struct {
	cfg  Config
	risk RiskSource
	sink AlertSink
	clk  clock.Clock
	log  *zap.Logger

	mu   sync.Mutex
	sent map[AlertKind]string // kind -> UTC day it fired
}

func NewRiskMonitor(cfg Config, src RiskSource, sink AlertSink, clk clock.Clock, log *zap.Logger) *RiskMonitor {
	if clk == nil {
		clk = clock.System{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &RiskMonitor{cfg: cfg, risk: src, sink: sink, clk: clk, log: log, sent: make(map[AlertKind]string)}
}

// Check evaluates every rule and sends the alerts that have not fired today.
func (m *RiskMonitor) Check(ctx context.Context, exposures []Exposure) []Alert {
	now := m.clk.Now()
	limits := m.risk.Limits()
	st := m.risk.State()
	loss := m.risk.DailyLossFraction()

	var fired []Alert
	try := func(a Alert) {
		if !m.markSent(a.Kind, now.UTC().Format("2006-01-02")) {
			return
		}
		a.At = now
		fired = append(fired, a)
	}

	if loss >= limits.MaxDailyLoss*m.cfg.DailyLossWarning {
		try(Alert{
			Kind:    AlertDailyLossWarning,
			Title:   "Daily loss warning",
			Message: fmt.Sprintf("daily loss reached %.2f%% (warning at %.2f%%)", loss*100, limits.MaxDailyLoss*m.cfg.DailyLossWarning*100),
		})
	}
	if loss >= limits.MaxDailyLoss*m.cfg.DailyLossCritical {
		try(Alert{
			Kind:     AlertDailyLossCritical,
			Title:    "Daily loss critical",
			Message:  fmt.Sprintf("daily loss reached %.2f%% (limit at %.2f%%)", loss*100, limits.MaxDailyLoss*100),
			Critical: true,
		})
	}
	if st.ConsecutiveLosses >= m.cfg.ConsecutiveLosses {
		try(Alert{
			Kind:    AlertConsecutiveLosses,
			Title:   "Consecutive losses",
			Message: fmt.Sprintf("%d consecutive losses (system pauses at %d)", st.ConsecutiveLosses, limits.MaxConsecutiveLosses),
		})
	}
	var high []string
	for _, e := range exposures {
		if e.Leverage >= m.cfg.HighLeverage {
			high = append(high, fmt.Sprintf("%s: %dx ($%.2f)", e.Instrument, e.Leverage, e.SizeUsd))
		}
	}
	if len(high) > 0 {
		try(Alert{
			Kind:    AlertHighLeverage,
			Title:   "High leverage",
			Message: "high leverage positions: " + strings.Join(high, "; "),
		})
	}

	for _, a := range fired {
		m.log.Warn(a.Title, zap.String("kind", string(a.Kind)), zap.String("message", a.Message))
		if m.sink == nil {
			continue
		}
		if err := m.sink.Send(ctx, a); err != nil {
			m.log.Error("send alert", zap.String("kind", string(a.Kind)), zap.Error(err))
		}
	}
	return fired
}

func (m *RiskMonitor) markSent(kind AlertKind, day string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sent[kind] == day {
		return false
	}
	m.sent[kind] = day
	return true
}

// AlertsToday counts the kinds that have fired on the current UTC day.
func (m *RiskMonitor) AlertsToday() int {
	day := m.clk.Now().UTC().Format("2006-01-02")
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, d := range m.sent {
		if d == day {
			n++
		}
	}
	return n
}

// Watch runs Check after every closed position published on bus until ctx is
// done. exposures may be nil.
func (m *RiskMonitor) Watch(ctx context.Context, bus *events.Bus, exposures func() []Exposure) {
	stream, unsub := bus.Subscribe(16, events.EventPositionClosed)
	go func() {
		defer unsub()
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-stream:
				if !ok {
					return
				}
				var ex []Exposure
				if exposures != nil {
					ex = exposures()
				}
				for _, a := range m.Check(ctx, ex) {
					bus.Publish(events.EventRiskAlert, a)
				}
			}
		}
	}()
}
