package engine

import (
	"context"
	"time"

	"github.com/Yoogi-7/BitgetBot/internal/filter"
	"github.com/Yoogi-7/BitgetBot/internal/kpi"
	"github.com/Yoogi-7/BitgetBot/internal/monitor"
	"github.com/Yoogi-7/BitgetBot/internal/order"
	"github.com/Yoogi-7/BitgetBot/internal/risk"
)

// Service is the read side of the engine used by the HTTP API.
type Service interface {
	Status() SystemStatus
	Positions() []PositionView
	Balance(ctx context.Context) (order.Balance, error)
	RiskReport() risk.Report
	KPISummary() kpi.Summary
	FilterSummary() filter.Summary
	Metrics() monitor.Snapshot
	LastCycle() CycleReport
}

// SystemStatus describes the running bot.
type SystemStatus struct {
	Mode        string    `json:"mode"`
	Strategy    string    `json:"strategy"`
	Instruments []string  `json:"instruments"`
	StartedAt   time.Time `json:"started_at"`
	Uptime      string    `json:"uptime,omitempty"`
	Positions   int       `json:"positions"`
	Paused      bool      `json:"paused"`
	PauseReason string    `json:"pause_reason,omitempty"`
}

// PositionView is an open position with its mark-to-market PnL.
type PositionView struct {
	ID           string   `json:"id"`
	Instrument   string   `json:"instrument"`
	Side         string   `json:"side"`
	Strategy     string   `json:"strategy"`
	EntryPrice   float64  `json:"entry_price"`
	MarkPrice    float64  `json:"mark_price,omitempty"`
	Size         float64  `json:"size"`
	SizeUsd      float64  `json:"size_usd"`
	Leverage     int      `json:"leverage"`
	StopLoss     float64  `json:"stop_loss"`
	TakeProfit1  float64  `json:"take_profit1"`
	TakeProfit2  float64  `json:"take_profit2"`
	TrailingStop *float64 `json:"trailing_stop,omitempty"`
	TP1Hit       bool     `json:"tp1_hit"`
	Unrealized   float64  `json:"unrealized_pnl"`
	OpenedAt     string   `json:"opened_at"`
}

var _ Service = (*Orchestrator)(nil)

func (o *Orchestrator) Status() SystemStatus {
	s := o.d.Meta
	if s.Instruments == nil {
		s.Instruments = o.cfg.Instruments
	}
	if s.Strategy == "" {
		s.Strategy = o.d.Composer.ID()
	}
	if !s.StartedAt.IsZero() {
		s.Uptime = o.d.Clock.Now().Sub(s.StartedAt).Truncate(time.Second).String()
	}
	s.Positions = o.d.Book.Count()
	if g := o.d.Risk.CanOpen(); !g.Allowed {
		s.Paused = true
		s.PauseReason = g.Reason
	}
	return s
}

func (o *Orchestrator) Positions() []PositionView {
	ps := o.d.Book.All()
	out := make([]PositionView, 0, len(ps))
	for _, p := range ps {
		v := PositionView{
			ID:           p.ID,
			Instrument:   p.Instrument,
			Side:         string(p.Side),
			Strategy:     string(p.StrategyID),
			EntryPrice:   p.EntryPrice,
			Size:         p.Size,
			SizeUsd:      p.SizeUsd,
			Leverage:     p.Leverage,
			StopLoss:     p.StopLoss,
			TakeProfit1:  p.TakeProfit1,
			TakeProfit2:  p.TakeProfit2,
			TrailingStop: p.TrailingStop,
			TP1Hit:       p.TP1Hit,
			OpenedAt:     p.OpenedAt.UTC().Format(time.RFC3339),
		}
		if last, ok := o.d.Prices.LastPrice(p.Instrument); ok {
			v.MarkPrice = last
			v.Unrealized = p.Unrealized(last)
		}
		out = append(out, v)
	}
	return out
}

// Exposures lists the open positions for the leverage alert.
func (o *Orchestrator) Exposures() []monitor.Exposure {
	ps := o.d.Book.All()
	out := make([]monitor.Exposure, len(ps))
	for i, p := range ps {
		out[i] = monitor.Exposure{Instrument: p.Instrument, Leverage: p.Leverage, SizeUsd: p.SizeUsd}
	}
	return out
}

func (o *Orchestrator) Balance(ctx context.Context) (order.Balance, error) {
	return o.d.Executor.GetBalance(ctx)
}

func (o *Orchestrator) RiskReport() risk.Report { return o.d.Risk.Report() }

func (o *Orchestrator) KPISummary() kpi.Summary {
	if o.d.KPI == nil {
		return kpi.Summary{}
	}
	return o.d.KPI.Summary()
}

func (o *Orchestrator) FilterSummary() filter.Summary {
	if s, ok := o.d.Filter.(interface{ Summary() filter.Summary }); ok {
		return s.Summary()
	}
	return filter.Summary{}
}

func (o *Orchestrator) Metrics() monitor.Snapshot { return o.d.Metrics.Snapshot() }

func (o *Orchestrator) LastCycle() CycleReport {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.last
}
