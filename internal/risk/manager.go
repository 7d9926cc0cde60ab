package risk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Yoogi-7/BitgetBot/internal/clock"
	"github.com/Yoogi-7/BitgetBot/internal/trade"
	"github.com/Yoogi-7/BitgetBot/pkg/db"
)

// Store persists risk state across restarts. *db.Database satisfies it.
type Store interface {
	SaveRiskState(ctx context.Context, state []byte) error
	LoadRiskState(ctx context.Context) ([]byte, error)
	AddDailyRiskMetrics(ctx context.Context, date string, pnl float64) error
}

const dayLayout = "2006-01-02"

// Manager owns the account risk state. Every method takes the same mutex so
// sizing, gating and trade recording are linearizable.
type Manager struct {
	mu     sync.Mutex
	limits AccountLimits
	state  State

	history  []trade.Closed // newest last, bounded
	accuracy map[trade.StrategyID]Accuracy
	realized float64
	trades   int
	wins     int

	clock clock.Clock
	store Store
	log   *zap.Logger
}

// NewManager creates a risk manager. store may be nil.
func NewManager(limits AccountLimits, clk clock.Clock, store Store, log *zap.Logger) *Manager {
	if clk == nil {
		clk = clock.System{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{
		limits: limits,
		state: State{
			PenaltyMultiplier:  1,
			LeverageMultiplier: 1,
			ExcludedStrategies: make(map[trade.StrategyID]time.Time),
		},
		accuracy: make(map[trade.StrategyID]Accuracy),
		clock:    clk,
		store:    store,
		log:      log,
	}
}

// NewInMemory creates a risk manager without persistence.
func NewInMemory(limits AccountLimits, clk clock.Clock) *Manager {
	return NewManager(limits, clk, nil, nil)
}

// Limits returns the configured limits.
func (m *Manager) Limits() AccountLimits { return m.limits }

// Restore loads the last persisted state. A missing snapshot is not an error.
func (m *Manager) Restore(ctx context.Context) error {
	if m.store == nil {
		return nil
	}
	raw, err := m.store.LoadRiskState(ctx)
	if errors.Is(err, db.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load risk state: %w", err)
	}
	var st State
	if err := json.Unmarshal(raw, &st); err != nil {
		return fmt.Errorf("decode risk state: %w", err)
	}
	if st.ExcludedStrategies == nil {
		st.ExcludedStrategies = make(map[trade.StrategyID]time.Time)
	}
	st.PenaltyMultiplier = math.Max(1, st.PenaltyMultiplier)
	st.LeverageMultiplier = restoredMultiplier(st.LeverageMultiplier, m.limits.MinLeverageMult, m.limits.MaxLeverageMult)

	m.mu.Lock()
	m.state = st
	m.mu.Unlock()

	m.log.Info("risk state restored",
		zap.Float64("penalty", st.PenaltyMultiplier),
		zap.Int("consecutive_losses", st.ConsecutiveLosses),
		zap.Int("excluded", len(st.ExcludedStrategies)))
	return nil
}

// ConfidenceMultiplier maps a 0-1 confidence onto the share of the per-trade
// risk budget that may be used.
func ConfidenceMultiplier(confidence float64) float64 {
	switch {
	case confidence >= 0.90:
		return 1.0
	case confidence >= 0.80:
		return 0.8
	case confidence >= 0.70:
		return 0.6
	default:
		return 0.4
	}
}

// StopMultiplier is the ATR multiple for the stop distance.
func (m *Manager) StopMultiplier(confidence float64) float64 {
	if confidence >= 0.80 {
		return m.limits.StopTight
	}
	return m.limits.StopWide
}

// SizePosition returns the notional to open at leverage 1, or 0 to reject.
func (m *Manager) SizePosition(balance, entryPrice, atr, confidence float64) float64 {
	return m.SizeWithLeverage(balance, entryPrice, atr, confidence, 1)
}

// SizeWithLeverage returns the notional to open, or 0 to reject.
func (m *Manager) SizeWithLeverage(balance, entryPrice, atr, confidence float64, leverage int) float64 {
	if balance <= 0 || entryPrice <= 0 || atr <= 0 || leverage < 1 {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	riskAmount := balance * m.limits.RiskPerTrade * ConfidenceMultiplier(confidence)
	stopDistance := atr * m.StopMultiplier(confidence)

	size := riskAmount / stopDistance * entryPrice * float64(leverage)
	size = math.Min(size, m.limits.MaxPositionPct*balance)
	size /= m.state.PenaltyMultiplier

	if m.approachingDailyLimit() {
		size *= m.limits.DailyLimitReduction
		m.log.Warn("approaching daily loss limit, reducing size",
			zap.Float64("daily_loss", m.dailyLossFraction()),
			zap.Float64("size_usd", size))
	}
	if size < m.limits.MinTradeUsd {
		return 0
	}
	return size
}

// DynamicLeverage picks leverage from volatility (ATR % of price) and a 0-1
// signal strength.
func (m *Manager) DynamicLeverage(atrPercent, strength float64) int {
	var base float64
	switch {
	case atrPercent <= 0.5:
		base = 20
	case atrPercent <= 1.0:
		base = 15
	case atrPercent <= 1.5:
		base = 10
	case atrPercent <= 2.0:
		base = 7
	default:
		base = 5
	}
	factor := 1.0
	if strength > 0.9 {
		factor = 1.3
	} else if strength < 0.6 {
		factor = 0.7
	}

	m.mu.Lock()
	mult := m.state.LeverageMultiplier
	m.mu.Unlock()

	lev := int(base * factor * mult)
	if lev < m.limits.MinLeverage {
		lev = m.limits.MinLeverage
	}
	if lev > m.limits.MaxLeverage {
		lev = m.limits.MaxLeverage
	}
	return lev
}

// RecordTrade folds a closed trade into the risk state.
func (m *Manager) RecordTrade(ctx context.Context, t trade.Closed) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	m.clearExpiredPause(now)
	pct := t.PnLPercent()
	switch {
	case pct <= -m.limits.BigLoss:
		until := now.Add(m.limits.ExclusionPeriod)
		m.state.ExcludedStrategies[t.StrategyID] = until
		m.log.Warn("strategy excluded after big loss",
			zap.String("strategy", string(t.StrategyID)),
			zap.Float64("pnl_pct", pct*100),
			zap.Time("until", until))
	case pct <= -m.limits.SmallLoss:
		m.state.PenaltyMultiplier = m.limits.PenaltyFactor
		m.log.Warn("size penalty applied",
			zap.Float64("pnl_pct", pct*100),
			zap.Float64("penalty", m.limits.PenaltyFactor))
	}

	m.state.DailyPnL += t.PnL
	if t.PnL < 0 {
		m.state.ConsecutiveLosses++
		if m.state.ConsecutiveLosses >= m.limits.MaxConsecutiveLosses && !m.state.Paused(now) {
			until := now.Add(m.limits.PauseDuration)
			m.state.PauseUntil = &until
			m.log.Warn("trading paused after consecutive losses",
				zap.Int("losses", m.state.ConsecutiveLosses),
				zap.Time("until", until))
		}
	} else {
		m.state.ConsecutiveLosses = 0
	}

	m.history = append(m.history, t)
	if keep := max(m.limits.PerformanceLookback, m.limits.ResetWinStreak); len(m.history) > keep {
		m.history = m.history[len(m.history)-keep:]
	}
	acc := m.accuracy[t.StrategyID]
	if t.Profitable() {
		acc.Wins++
		m.wins++
	} else {
		acc.Losses++
	}
	m.accuracy[t.StrategyID] = acc
	m.realized += t.PnL
	m.trades++

	m.persist(ctx, now, t.PnL)
}

// persist must be called with mu held.
func (m *Manager) persist(ctx context.Context, now time.Time, pnl float64) {
	if m.store == nil {
		return
	}
	if err := m.store.AddDailyRiskMetrics(ctx, now.UTC().Format(dayLayout), pnl); err != nil {
		m.log.Error("persist daily risk metrics", zap.Error(err))
	}
	m.saveState(ctx)
}

func (m *Manager) saveState(ctx context.Context) {
	if m.store == nil {
		return
	}
	raw, err := json.Marshal(m.state)
	if err != nil {
		m.log.Error("encode risk state", zap.Error(err))
		return
	}
	if err := m.store.SaveRiskState(ctx, raw); err != nil {
		m.log.Error("persist risk state", zap.Error(err))
	}
}

// ResetPenalties clears the size penalty once the last ResetWinStreak trades
// were all profitable. It reports whether a reset happened.
func (m *Manager) ResetPenalties() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := m.limits.ResetWinStreak
	if m.state.PenaltyMultiplier == 1 || len(m.history) < n {
		return false
	}
	for _, t := range m.history[len(m.history)-n:] {
		if !t.Profitable() {
			return false
		}
	}
	m.state.PenaltyMultiplier = 1.0
	m.log.Info("size penalty reset", zap.Int("win_streak", n))
	return true
}

// IsStrategyAllowed is false while the strategy sits in its exclusion window.
func (m *Manager) IsStrategyAllowed(id trade.StrategyID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	end, ok := m.state.ExcludedStrategies[id]
	if !ok {
		return true
	}
	if m.clock.Now().Before(end) {
		return false
	}
	delete(m.state.ExcludedStrategies, id)
	return true
}

// minAdaptiveTrades is the sample below which leverage is not adapted.
const minAdaptiveTrades = 5

// AdaptiveLeverageAdjustment scales the leverage multiplier by recent net
// PnL and returns the new value.
func (m *Manager) AdaptiveLeverageAdjustment() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	recent := m.history
	if k := m.limits.PerformanceLookback; len(recent) > k {
		recent = recent[len(recent)-k:]
	}
	if len(recent) < minAdaptiveTrades {
		return m.state.LeverageMultiplier
	}
	var net float64
	for _, t := range recent {
		net += t.PnL
	}
	prev := m.state.LeverageMultiplier
	if net < 0 {
		m.state.LeverageMultiplier = math.Max(m.limits.MinLeverageMult, prev*m.limits.LeverageReduction)
	} else {
		m.state.LeverageMultiplier = math.Min(m.limits.MaxLeverageMult, prev*m.limits.LeverageIncrease)
	}
	if m.state.LeverageMultiplier != prev {
		m.log.Info("leverage multiplier adjusted",
			zap.Float64("from", prev),
			zap.Float64("to", m.state.LeverageMultiplier),
			zap.Float64("recent_pnl", net))
	}
	return m.state.LeverageMultiplier
}

// CanOpen reports whether new entries are allowed. An expired pause is
// cleared here together with the loss streak that caused it.
func (m *Manager) CanOpen() Gate {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gate(m.clock.Now())
}

func (m *Manager) gate(now time.Time) Gate {
	if m.state.Paused(now) {
		return Gate{Reason: fmt.Sprintf("system paused until %s", m.state.PauseUntil.UTC().Format(time.RFC3339)), Hard: true}
	}
	m.clearExpiredPause(now)
	if loss := m.dailyLossFraction(); loss >= m.limits.MaxDailyLoss {
		return Gate{Reason: fmt.Sprintf("daily loss limit reached: %.2f%%", loss*100)}
	}
	return Gate{Allowed: true}
}

// clearExpiredPause drops a pause that has run out together with the loss
// streak that caused it. mu must be held.
func (m *Manager) clearExpiredPause(now time.Time) {
	if m.state.PauseUntil == nil || now.Before(*m.state.PauseUntil) {
		return
	}
	m.state.PauseUntil = nil
	m.state.ConsecutiveLosses = 0
	m.log.Info("system pause expired, trading resumed")
}

// RollDay starts a new daily window when the UTC date changed since the last
// call. It reports whether a roll-over happened.
func (m *Manager) RollDay(balance float64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	day := m.clock.Now().UTC().Format(dayLayout)
	if m.state.Day == day && m.state.DailyStartingBalance > 0 {
		return false
	}
	prev := m.state.DailyPnL
	m.state.Day = day
	m.state.DailyPnL = 0
	m.state.DailyStartingBalance = balance
	m.log.Info("daily risk window started",
		zap.String("day", day),
		zap.Float64("starting_balance", balance),
		zap.Float64("previous_pnl", prev))
	return true
}

// DailyLossFraction is today's realized loss over the starting balance, 0 when
// the day is flat or positive.
func (m *Manager) DailyLossFraction() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dailyLossFraction()
}

func (m *Manager) dailyLossFraction() float64 {
	if m.state.DailyStartingBalance <= 0 || m.state.DailyPnL >= 0 {
		return 0
	}
	return -m.state.DailyPnL / m.state.DailyStartingBalance
}

func (m *Manager) approachingDailyLimit() bool {
	return m.dailyLossFraction() >= m.limits.MaxDailyLoss*m.limits.DailyLimitWarnBand
}

// State returns a copy of the current state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.clone()
}

// Report summarizes state and performance. It applies the same lazy pause
// expiry as CanOpen.
func (m *Manager) Report() Report {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	r := Report{
		Gate:        m.gate(now),
		RealizedPnL: m.realized,
		TotalTrades: m.trades,
		Accuracy:    make(map[trade.StrategyID]Accuracy, len(m.accuracy)),
	}
	r.State = m.state.clone()
	r.SystemPaused = m.state.Paused(now)
	if m.state.DailyStartingBalance > 0 {
		r.DailyPnLPercent = m.state.DailyPnL / m.state.DailyStartingBalance * 100
	}
	if m.trades > 0 {
		r.WinRate = float64(m.wins) / float64(m.trades)
	}
	for k, v := range m.accuracy {
		r.Accuracy[k] = v
	}
	return r
}

func restoredMultiplier(v, lo, hi float64) float64 {
	if v <= 0 {
		return 1
	}
	return math.Max(lo, math.Min(hi, v))
}
