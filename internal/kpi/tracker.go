// Package kpi tracks hold-time and risk/reward targets of closed trades and
// enforces the daily drawdown breaker.
package kpi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Yoogi-7/BitgetBot/internal/trade"
	"github.com/Yoogi-7/BitgetBot/pkg/db"
)

type Config struct {
	MaxDailyDrawdown float64       `yaml:"max_daily_drawdown" validate:"gt=0,lte=1"`
	MinHold          time.Duration `yaml:"min_hold" validate:"gte=0"`
	MaxHold          time.Duration `yaml:"max_hold" validate:"gtfield=MinHold"`
	MinRiskReward    float64       `yaml:"min_risk_reward" validate:"gte=0"`
	// WorstDayFloorPct is the daily PnL (in percent) a day must stay above
	// to count as compliant.
	WorstDayFloorPct float64 `yaml:"worst_day_floor_pct" validate:"lte=0"`
}

func DefaultConfig() Config {
	return Config{
		MaxDailyDrawdown: 0.02,
		MinHold:          2 * time.Minute,
		MaxHold:          5 * time.Minute,
		MinRiskReward:    1.2,
		WorstDayFloorPct: -2,
	}
}

// Record is the KPI view of one closed trade.
type Record struct {
	PositionID   string           `json:"position_id"`
	Instrument   string           `json:"instrument"`
	StrategyID   trade.StrategyID `json:"strategy_id"`
	PnL          float64          `json:"pnl"`
	PnLPercent   float64          `json:"pnl_percent"`
	HoldMinutes  float64          `json:"hold_minutes"`
	RiskReward   float64          `json:"risk_reward"`
	HoldOK       bool             `json:"achieved_target_hold_time"`
	RiskRewardOK bool             `json:"achieved_risk_reward"`
	ClosedAt     time.Time        `json:"closed_at"`
}

// Summary aggregates every tracked trade. Rates are percentages.
type Summary struct {
	TotalTrades    int     `json:"total_trades"`
	AvgHoldMinutes float64 `json:"avg_hold_time"`
	AvgRiskReward  float64 `json:"avg_risk_reward"`
	HoldRate       float64 `json:"target_hold_time_rate"`
	RiskRewardRate float64 `json:"target_risk_reward_rate"`
	WorstDayPnLPct float64 `json:"max_drawdown_day"`
	ComplianceRate float64 `json:"kpi_compliance_rate"`
}

// Store persists records. *db.Database satisfies it.
type Store interface {
	InsertKPI(ctx context.Context, k db.KPIRow) error
}

type Tracker struct {
	mu      sync.Mutex
	cfg     Config
	records []Record
	daily   map[string]float64 // UTC date -> summed PnL percent

	store Store
	log   *zap.Logger
}

// NewTracker creates a tracker. store may be nil.
func NewTracker(cfg Config, store Store, log *zap.Logger) *Tracker {
	if log == nil {
		log = zap.NewNop()
	}
	return &Tracker{cfg: cfg, daily: make(map[string]float64), store: store, log: log}
}

// TrackTrade records a closed trade and logs missed targets.
func (t *Tracker) TrackTrade(ctx context.Context, c trade.Closed) Record {
	hold := c.HoldTime()
	r := Record{
		PositionID:  c.PositionID,
		Instrument:  c.Instrument,
		StrategyID:  c.StrategyID,
		PnL:         c.PnL,
		PnLPercent:  c.PnLPercent() * 100,
		HoldMinutes: hold.Minutes(),
		ClosedAt:    c.ClosedAt,
	}
	if c.PnL > 0 && c.RiskAmount > 0 {
		r.RiskReward = math.Abs(c.PnL) / c.RiskAmount
	}
	r.HoldOK = hold >= t.cfg.MinHold && hold <= t.cfg.MaxHold
	r.RiskRewardOK = r.RiskReward >= t.cfg.MinRiskReward

	t.mu.Lock()
	t.records = append(t.records, r)
	t.daily[c.ClosedAt.UTC().Format("2006-01-02")] += r.PnLPercent
	t.mu.Unlock()

	if !r.HoldOK {
		t.log.Warn("kpi: hold time outside target",
			zap.String("position", r.PositionID),
			zap.Float64("minutes", r.HoldMinutes),
			zap.Duration("min", t.cfg.MinHold),
			zap.Duration("max", t.cfg.MaxHold))
	}
	if !r.RiskRewardOK {
		t.log.Warn("kpi: risk/reward below target",
			zap.String("position", r.PositionID),
			zap.Float64("rr", r.RiskReward),
			zap.Float64("min", t.cfg.MinRiskReward))
	}

	if t.store != nil {
		row := db.KPIRow{
			PositionID:  r.PositionID,
			Instrument:  r.Instrument,
			StrategyID:  string(r.StrategyID),
			PnL:         r.PnL,
			PnLPct:      r.PnLPercent,
			HoldMinutes: r.HoldMinutes,
			RiskReward:  r.RiskReward,
			HoldOK:      r.HoldOK,
			RROK:        r.RiskRewardOK,
			ClosedAt:    r.ClosedAt,
		}
		if err := t.store.InsertKPI(ctx, row); err != nil {
			t.log.Error("persist kpi record", zap.String("position", r.PositionID), zap.Error(err))
		}
	}
	return r
}

// CheckDailyDrawdown is false once the day's drawdown reaches the limit.
func (t *Tracker) CheckDailyDrawdown(current, starting float64) bool {
	if starting <= 0 {
		return true
	}
	dd := (starting - current) / starting
	if dd >= t.cfg.MaxDailyDrawdown {
		t.log.Warn("daily drawdown limit reached", zap.Float64("drawdown_pct", dd*100))
		return false
	}
	return true
}

// ComplianceRate is the weighted KPI score in percent.
func (t *Tracker) ComplianceRate() float64 {
	return t.Summary().ComplianceRate
}

func (t *Tracker) Summary() Summary {
	t.mu.Lock()
	defer t.mu.Unlock()

	var s Summary
	n := len(t.records)
	if n == 0 {
		return s
	}
	var hold, rr float64
	var holdOK, rrOK int
	for _, r := range t.records {
		hold += r.HoldMinutes
		rr += r.RiskReward
		if r.HoldOK {
			holdOK++
		}
		if r.RiskRewardOK {
			rrOK++
		}
	}
	s.TotalTrades = n
	s.AvgHoldMinutes = hold / float64(n)
	s.AvgRiskReward = rr / float64(n)
	s.HoldRate = float64(holdOK) / float64(n) * 100
	s.RiskRewardRate = float64(rrOK) / float64(n) * 100

	s.WorstDayPnLPct = math.Inf(1)
	for _, v := range t.daily {
		s.WorstDayPnLPct = math.Min(s.WorstDayPnLPct, v)
	}
	dayScore := 0.0
	if s.WorstDayPnLPct > t.cfg.WorstDayFloorPct {
		dayScore = 100
	}
	s.ComplianceRate = 0.3*s.HoldRate + 0.4*s.RiskRewardRate + 0.3*dayScore
	return s
}

// Report is the exported document.
type Report struct {
	GeneratedAt time.Time          `json:"generated_at"`
	Summary     Summary            `json:"summary"`
	DailyPnLPct map[string]float64 `json:"daily_pnl_percent"`
	Trades      []Record           `json:"trades"`
}

// ExportJSON writes the summary and all records to w.
func (t *Tracker) ExportJSON(w io.Writer, now time.Time) error {
	rep := Report{GeneratedAt: now, Summary: t.Summary()}

	t.mu.Lock()
	rep.Trades = append([]Record(nil), t.records...)
	rep.DailyPnLPct = make(map[string]float64, len(t.daily))
	for k, v := range t.daily {
		rep.DailyPnLPct[k] = v
	}
	t.mu.Unlock()

	sort.Slice(rep.Trades, func(i, j int) bool { return rep.Trades[i].ClosedAt.Before(rep.Trades[j].ClosedAt) })

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(rep); err != nil {
		return fmt.Errorf("encode kpi report: %w", err)
	}
	return nil
}

// WriteReport exports to path, creating the directory if needed.
func (t *Tracker) WriteReport(path string, now time.Time) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create report directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create kpi report: %w", err)
	}
	if err := t.ExportJSON(f, now); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
