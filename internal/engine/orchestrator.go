// Package engine runs the trading cycle: manage open positions, scan the
// configured instruments, rank the signals and open the best ones within the
// account's risk limits.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Yoogi-7/BitgetBot/internal/clock"
	"github.com/Yoogi-7/BitgetBot/internal/events"
	"github.com/Yoogi-7/BitgetBot/internal/filter"
	"github.com/Yoogi-7/BitgetBot/internal/indicators"
	"github.com/Yoogi-7/BitgetBot/internal/kpi"
	"github.com/Yoogi-7/BitgetBot/internal/market"
	"github.com/Yoogi-7/BitgetBot/internal/monitor"
	"github.com/Yoogi-7/BitgetBot/internal/notify"
	"github.com/Yoogi-7/BitgetBot/internal/order"
	"github.com/Yoogi-7/BitgetBot/internal/position"
	"github.com/Yoogi-7/BitgetBot/internal/risk"
	"github.com/Yoogi-7/BitgetBot/internal/sentiment"
	"github.com/Yoogi-7/BitgetBot/internal/state"
	"github.com/Yoogi-7/BitgetBot/internal/strategy"
	"github.com/Yoogi-7/BitgetBot/internal/strength"
	"github.com/Yoogi-7/BitgetBot/internal/tradelog"
	"github.com/Yoogi-7/BitgetBot/pkg/cache"
)

// IndicatorEngine turns candles into a snapshot. *indicators.Engine
// satisfies it.
type IndicatorEngine interface {
	Compute(candles []market.Candle) (indicators.Snapshot, error)
	MinBars() int
}

// Deps holds the collaborators of an Orchestrator. Sentiment, Filter, KPI,
// TradeLog, Notifier, Bus, Prices, Metrics and Clock are optional.
type Deps struct {
	Market     market.Provider
	Indicators IndicatorEngine
	Sentiment  sentiment.Provider
	Composer   strategy.Composer
	Strength   *strength.Calculator
	Risk       *risk.Manager
	Lifecycle  *position.Lifecycle
	Executor   order.Executor
	Book       *state.Book

	Filter   filter.Filter
	KPI      *kpi.Tracker
	TradeLog tradelog.Log
	Notifier notify.Sink
	Bus      *events.Bus
	Prices   *cache.Prices
	Metrics  *monitor.Metrics
	Clock    clock.Clock
	Log      *zap.Logger

	Meta SystemStatus
}

var errMissingDep = errors.New("engine: missing dependency")

func (d Deps) validate() error {
	missing := map[string]bool{
		"market":     d.Market == nil,
		"indicators": d.Indicators == nil,
		"composer":   d.Composer == nil,
		"strength":   d.Strength == nil,
		"risk":       d.Risk == nil,
		"lifecycle":  d.Lifecycle == nil,
		"executor":   d.Executor == nil,
		"book":       d.Book == nil,
	}
	for name, m := range missing {
		if m {
			return fmt.Errorf("%w: %s", errMissingDep, name)
		}
	}
	return nil
}

// Orchestrator owns the per-cycle workflow. RunCycle must not be called
// concurrently; the read methods may be called from any goroutine.
type Orchestrator struct {
	cfg Config
	d   Deps
	log *zap.Logger

	mu   sync.RWMutex
	last CycleReport
	day  dayStats
}

type dayStats struct {
	trades int
	wins   int
	pnl    float64
}

func New(cfg Config, d Deps) (*Orchestrator, error) {
	if err := d.validate(); err != nil {
		return nil, err
	}
	if d.Clock == nil {
		d.Clock = clock.System{}
	}
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	if d.Metrics == nil {
		d.Metrics = monitor.NewMetrics()
	}
	if d.Prices == nil {
		d.Prices = cache.NewPrices(d.Clock.Now)
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	return &Orchestrator{cfg: cfg, d: d, log: d.Log}, nil
}

// CycleReport summarises one cycle.
type CycleReport struct {
	StartedAt  time.Time     `json:"started_at"`
	Duration   time.Duration `json:"duration"`
	Balance    float64       `json:"balance"`
	Managed    int           `json:"managed"`
	Closed     int           `json:"closed"`
	Reduced    int           `json:"reduced"`
	Scanned    int           `json:"scanned"`
	Filtered   int           `json:"filtered"`
	Eligible   int           `json:"eligible"`
	Candidates int           `json:"candidates"`
	Opened     int           `json:"opened"`
	Halted     bool          `json:"halted"`
	GateReason string        `json:"gate_reason,omitempty"`
	Errors     int           `json:"errors"`
}

// analysis is one instrument's market data and indicators for this cycle.
type analysis struct {
	data *market.Data
	snap indicators.Snapshot
	err  error
}

type candidate struct {
	sig  strategy.Signal
	snap indicators.Snapshot
}

// RunCycle runs one full cycle. Cancelling ctx stops new entries; position
// management still finishes.
func (o *Orchestrator) RunCycle(ctx context.Context) CycleReport {
	wall := time.Now()
	rep := CycleReport{StartedAt: o.d.Clock.Now()}
	mctx := context.WithoutCancel(ctx)

	if r, ok := o.d.Filter.(interface{ Reset() }); ok {
		r.Reset()
	}

	bal, err := o.d.Executor.GetBalance(mctx)
	if err != nil {
		o.fail(mctx, &rep, "balance unavailable, cycle skipped", err)
		return o.finish(rep, wall)
	}
	rep.Balance = bal.Total

	prevDay := o.d.Risk.State().Day
	if o.d.Risk.RollDay(bal.Total) && prevDay != "" {
		o.dailySummary(mctx, prevDay)
	}
	if o.d.KPI != nil && !o.d.KPI.CheckDailyDrawdown(bal.Total, o.d.Risk.State().DailyStartingBalance) {
		rep.Halted = true
	}

	an := o.analyze(mctx, o.positionInstruments())
	o.manage(mctx, an, &rep)

	switch {
	case rep.Halted:
		o.log.Warn("daily drawdown limit reached, no new entries", zap.Float64("balance", bal.Total))
	case ctx.Err() != nil:
		o.log.Info("shutdown in progress, entry phase skipped")
	default:
		o.entries(ctx, an, &rep)
	}

	if o.cfg.StalePrice > 0 {
		o.d.Prices.Cleanup(o.cfg.StalePrice)
	}
	return o.finish(rep, wall)
}

func (o *Orchestrator) finish(rep CycleReport, wall time.Time) CycleReport {
	rep.Duration = time.Since(wall)
	o.d.Metrics.CycleDone(rep.Duration, o.d.Clock.Now())
	o.d.Metrics.AddFiltered(rep.Filtered)

	o.mu.Lock()
	o.last = rep
	o.mu.Unlock()

	o.publish(events.EventCycle, rep)
	o.log.Info("cycle complete",
		zap.Duration("duration", rep.Duration),
		zap.Int("managed", rep.Managed),
		zap.Int("closed", rep.Closed),
		zap.Int("candidates", rep.Candidates),
		zap.Int("opened", rep.Opened),
		zap.Int("filtered", rep.Filtered),
		zap.Bool("halted", rep.Halted))
	return rep
}

func (o *Orchestrator) positionInstruments() []string {
	seen := make(map[string]bool)
	var out []string
	for _, p := range o.d.Book.All() {
		if !seen[p.Instrument] {
			seen[p.Instrument] = true
			out = append(out, p.Instrument)
		}
	}
	return out
}

// analyze fetches and computes instruments concurrently. Failures are kept
// per instrument and never cancel the others.
func (o *Orchestrator) analyze(ctx context.Context, instruments []string) map[string]*analysis {
	out := make(map[string]*analysis, len(instruments))
	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(o.cfg.Workers)
	for _, inst := range instruments {
		g.Go(func() error {
			a := o.analyzeOne(ctx, inst)
			mu.Lock()
			out[inst] = a
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func (o *Orchestrator) analyzeOne(ctx context.Context, instrument string) *analysis {
	t := monitor.NewTimer(o.d.Metrics.FetchLatency)
	d, err := market.FetchWithTimeout(ctx, o.d.Market, instrument, o.cfg.FetchTimeout)
	t.Stop()
	if err != nil {
		return &analysis{err: err}
	}
	if err := d.Validate(o.d.Indicators.MinBars()); err != nil {
		return &analysis{err: err}
	}
	snap, err := o.d.Indicators.Compute(d.Candles)
	if err != nil {
		return &analysis{err: fmt.Errorf("indicators %s: %w", instrument, err)}
	}
	o.d.Prices.Set(instrument, d.LastPrice())
	return &analysis{data: d, snap: snap.WithMarket(d)}
}

func (o *Orchestrator) mood(ctx context.Context) sentiment.Reading {
	neutral := sentiment.Reading{Direction: sentiment.Neutral, At: o.d.Clock.Now()}
	if o.d.Sentiment == nil {
		return neutral
	}
	ctx, cancel := context.WithTimeout(ctx, o.cfg.FetchTimeout)
	defer cancel()
	r, err := o.d.Sentiment.Current(ctx)
	if err != nil {
		o.log.Warn("sentiment unavailable, assuming neutral", zap.Error(err))
		return neutral
	}
	return r
}

// entries scans the configured instruments and opens the strongest signals.
func (o *Orchestrator) entries(ctx context.Context, cached map[string]*analysis, rep *CycleReport) {
	if g := o.d.Risk.CanOpen(); !g.Allowed {
		rep.GateReason = g.Reason
		o.log.Info("new entries blocked", zap.String("reason", g.Reason), zap.Bool("hard", g.Hard))
		return
	}
	if o.d.Book.Count() >= o.cfg.MaxTotalPositions {
		o.log.Debug("position limit reached", zap.Int("open", o.d.Book.Count()))
		return
	}

	cands, eligible := o.scan(ctx, cached, o.mood(ctx), rep)
	rep.Eligible = eligible
	rep.Candidates = len(cands)
	o.d.Metrics.AddSignals(len(cands))
	if len(cands) == 0 {
		return
	}

	bal, err := o.d.Executor.GetBalance(ctx)
	if err != nil {
		o.fail(ctx, rep, "balance unavailable, entries skipped", err)
		return
	}
	for _, c := range cands {
		if err := ctx.Err(); err != nil {
			o.log.Info("entry phase cancelled", zap.Error(err))
			return
		}
		if o.d.Book.Count() >= o.cfg.MaxTotalPositions {
			return
		}
		if !o.d.Risk.IsStrategyAllowed(c.sig.StrategyID) {
			o.log.Info("strategy excluded, signal skipped",
				zap.String("symbol", c.sig.Instrument),
				zap.String("strategy", string(c.sig.StrategyID)))
			continue
		}
		if o.d.Book.CountFor(c.sig.Instrument) >= o.cfg.MaxPerInstrument {
			continue
		}
		if g := o.d.Risk.CanOpen(); !g.Allowed {
			rep.GateReason = g.Reason
			o.log.Info("new entries blocked", zap.String("reason", g.Reason))
			return
		}
		budget := Budget(o.cfg.Allocation, bal.Available, c.sig.Strength.Total, eligible)
		if o.open(ctx, c, budget, rep) {
			rep.Opened++
		}
	}
}

// scan runs filter, composer and scorer per instrument concurrently and
// returns the candidates above the strength floor, strongest first, plus the
// number of instruments that had data and passed the eligibility filter.
func (o *Orchestrator) scan(ctx context.Context, cached map[string]*analysis, mood sentiment.Reading, rep *CycleReport) ([]candidate, int) {
	var (
		mu       sync.Mutex
		cands    []candidate
		eligible int
		g        errgroup.Group
	)
	minScore := o.d.Strength.Config().MinSignal
	g.SetLimit(o.cfg.Workers)
	for _, inst := range o.cfg.Instruments {
		g.Go(func() error {
			a := cached[inst]
			if a == nil {
				a = o.analyzeOne(ctx, inst)
			}
			mu.Lock()
			rep.Scanned++
			mu.Unlock()
			if a.err != nil {
				o.log.Warn("instrument skipped", zap.String("symbol", inst), zap.Error(a.err))
				return nil
			}
			if o.d.Filter != nil {
				if r := o.d.Filter.Eligible(inst, a.data); !r.Eligible {
					mu.Lock()
					rep.Filtered++
					mu.Unlock()
					return nil
				}
			}
			mu.Lock()
			eligible++
			mu.Unlock()
			sig := o.d.Composer.Compose(inst, a.snap, o.d.Book.CountFor(inst))
			if sig.Action != strategy.Open {
				return nil
			}
			if err := sig.Validate(); err != nil {
				o.log.Warn("invalid signal dropped", zap.String("symbol", inst), zap.Error(err))
				return nil
			}
			sig.Strength = o.d.Strength.Calculate(a.snap, mood, sig.Side)
			o.publish(events.EventSignal, sig)
			if sig.Strength.Total < minScore {
				o.log.Debug("signal below strength floor",
					zap.String("symbol", inst),
					zap.Float64("score", sig.Strength.Total),
					zap.Float64("min", minScore))
				return nil
			}
			mu.Lock()
			cands = append(cands, candidate{sig: sig, snap: a.snap})
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(cands, func(i, j int) bool {
		a, b := cands[i].sig, cands[j].sig
		if a.Strength.Total != b.Strength.Total {
			return a.Strength.Total > b.Strength.Total
		}
		return a.Instrument < b.Instrument
	})
	return cands, eligible
}

func (o *Orchestrator) place(ctx context.Context, r order.Request) (order.Fill, error) {
	if o.cfg.OrderTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.OrderTimeout)
		defer cancel()
	}
	t := monitor.NewTimer(o.d.Metrics.OrderLatency)
	defer t.Stop()
	return o.d.Executor.PlaceOrder(ctx, r)
}

func (o *Orchestrator) fail(ctx context.Context, rep *CycleReport, msg string, err error, fields ...zap.Field) {
	rep.Errors++
	o.d.Metrics.IncErrors()
	o.log.Error(msg, append(fields, zap.Error(err))...)
	o.publish(events.EventError, map[string]string{"message": msg, "error": err.Error()})
	o.notify(ctx, notify.Error(fmt.Errorf("%s: %w", msg, err), o.d.Clock.Now()))
}

func (o *Orchestrator) publish(e events.Event, payload any) {
	if o.d.Bus != nil {
		o.d.Bus.Publish(e, payload)
	}
}

func (o *Orchestrator) notify(ctx context.Context, e notify.Event) {
	if o.d.Notifier == nil {
		return
	}
	if err := o.d.Notifier.Notify(ctx, e); err != nil {
		o.log.Warn("notification failed", zap.String("kind", string(e.Kind)), zap.Error(err))
	}
}

func (o *Orchestrator) appendLog(ctx context.Context, r tradelog.Record) {
	if o.d.TradeLog == nil {
		return
	}
	if err := o.d.TradeLog.Append(ctx, r); err != nil {
		o.log.Error("trade log append failed", zap.String("position", r.PositionID), zap.Error(err))
	}
}

func (o *Orchestrator) dailySummary(ctx context.Context, day string) {
	o.mu.Lock()
	s := o.day
	o.day = dayStats{}
	o.mu.Unlock()

	winRate := 0.0
	if s.trades > 0 {
		winRate = float64(s.wins) / float64(s.trades) * 100
	}
	o.notify(ctx, notify.DailySummary(day, s.trades, s.pnl, winRate, o.d.Clock.Now()))
}
