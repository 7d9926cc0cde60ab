package risk

import (
	"time"

	"github.com/Yoogi-7/BitgetBot/internal/trade"
)

// AccountLimits are the immutable risk parameters of one account.
type AccountLimits struct {
	// Sizing
	RiskPerTrade   float64 `yaml:"risk_per_trade" validate:"gt=0,lte=0.1"`
	MaxPositionPct float64 `yaml:"max_position_pct" validate:"gt=0,lte=1"`
	MinTradeUsd    float64 `yaml:"min_trade_usd" validate:"gte=0"`
	StopTight      float64 `yaml:"stop_tight_atr" validate:"gt=0"`
	StopWide       float64 `yaml:"stop_wide_atr" validate:"gtefield=StopTight"`

	// Leverage
	MinLeverage int `yaml:"min_leverage" validate:"gte=1"`
	MaxLeverage int `yaml:"max_leverage" validate:"gtefield=MinLeverage"`

	// Penalties
	SmallLoss       float64       `yaml:"small_loss" validate:"gt=0"`
	BigLoss         float64       `yaml:"big_loss" validate:"gtefield=SmallLoss"`
	PenaltyFactor   float64       `yaml:"penalty_factor" validate:"gte=1"`
	ExclusionPeriod time.Duration `yaml:"exclusion_period" validate:"gt=0"`
	ResetWinStreak  int           `yaml:"reset_win_streak" validate:"gte=1"`

	// Pause
	MaxConsecutiveLosses int           `yaml:"max_consecutive_losses" validate:"gte=1"`
	PauseDuration        time.Duration `yaml:"pause_duration" validate:"gt=0"`

	// Daily loss
	MaxDailyLoss        float64 `yaml:"max_daily_loss" validate:"gt=0,lte=1"`
	DailyLimitWarnBand  float64 `yaml:"daily_limit_warn_band" validate:"gt=0,lte=1"`
	DailyLimitReduction float64 `yaml:"daily_limit_reduction" validate:"gt=0,lte=1"`

	// Adaptive leverage
	PerformanceLookback int     `yaml:"performance_lookback" validate:"gte=5"`
	MinLeverageMult     float64 `yaml:"min_leverage_multiplier" validate:"gt=0"`
	MaxLeverageMult     float64 `yaml:"max_leverage_multiplier" validate:"gtefield=MinLeverageMult"`
	LeverageReduction   float64 `yaml:"leverage_reduction" validate:"gt=0,lte=1"`
	LeverageIncrease    float64 `yaml:"leverage_increase" validate:"gte=1"`
}

// DefaultLimits returns the stock limits.
func DefaultLimits() AccountLimits {
	return AccountLimits{
		RiskPerTrade:         0.01,
		MaxPositionPct:       0.10,
		MinTradeUsd:          10,
		StopTight:            1.5,
		StopWide:             2.0,
		MinLeverage:          1,
		MaxLeverage:          20,
		SmallLoss:            0.005,
		BigLoss:              0.01,
		PenaltyFactor:        3,
		ExclusionPeriod:      time.Hour,
		ResetWinStreak:       3,
		MaxConsecutiveLosses: 3,
		PauseDuration:        30 * time.Minute,
		MaxDailyLoss:         0.05,
		DailyLimitWarnBand:   0.8,
		DailyLimitReduction:  0.3,
		PerformanceLookback:  10,
		MinLeverageMult:      0.5,
		MaxLeverageMult:      1.5,
		LeverageReduction:    0.8,
		LeverageIncrease:     1.1,
	}
}

// State is the account-wide risk state.
type State struct {
	Day                  string                         `json:"day"` // UTC date the daily fields belong to
	DailyPnL             float64                        `json:"daily_pnl"`
	DailyStartingBalance float64                        `json:"daily_starting_balance"`
	ConsecutiveLosses    int                            `json:"consecutive_losses"`
	PenaltyMultiplier    float64                        `json:"penalty_multiplier"`
	ExcludedStrategies   map[trade.StrategyID]time.Time `json:"excluded_strategies"`
	LeverageMultiplier   float64                        `json:"leverage_multiplier"`
	PauseUntil           *time.Time                     `json:"pause_until,omitempty"`
}

// Paused reports whether a pause is in force at now.
func (s State) Paused(now time.Time) bool {
	return s.PauseUntil != nil && now.Before(*s.PauseUntil)
}

func (s State) clone() State {
	out := s
	out.ExcludedStrategies = make(map[trade.StrategyID]time.Time, len(s.ExcludedStrategies))
	for k, v := range s.ExcludedStrategies {
		out.ExcludedStrategies[k] = v
	}
	if s.PauseUntil != nil {
		t := *s.PauseUntil
		out.PauseUntil = &t
	}
	return out
}

// Gate is the answer to "may a new position be opened now".
type Gate struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
	// Hard is set when the block is a consecutive-loss pause.
	Hard bool `json:"hard,omitempty"`
}

// Accuracy is the win/loss tally of one strategy.
type Accuracy struct {
	Wins   int `json:"wins"`
	Losses int `json:"losses"`
}

func (a Accuracy) Rate() float64 {
	if n := a.Wins + a.Losses; n > 0 {
		return float64(a.Wins) / float64(n)
	}
	return 0
}

// Report is a point-in-time summary for logs and the status API.
type Report struct {
	State           State                         `json:"state"`
	SystemPaused    bool                          `json:"system_paused"`
	DailyPnLPercent float64                       `json:"daily_pnl_percent"`
	RealizedPnL     float64                       `json:"realized_pnl"`
	TotalTrades     int                           `json:"total_trades"`
	WinRate         float64                       `json:"win_rate"`
	Accuracy        map[trade.StrategyID]Accuracy `json:"signal_accuracy"`
	Gate            Gate                          `json:"gate"`
}
