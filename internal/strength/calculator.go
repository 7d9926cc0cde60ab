// Package strength scores a directional proposal on a 0-100 scale across six
// weighted indicator categories.
package strength

import (
	"math"

	"github.com/Yoogi-7/BitgetBot/internal/indicators"
	"github.com/Yoogi-7/BitgetBot/internal/sentiment"
	"github.com/Yoogi-7/BitgetBot/internal/trade"
)

// Weights are the category weights. They must sum to 1.
type Weights struct {
	Trend      float64 `yaml:"trend" json:"trend" validate:"gte=0,lte=1"`
	Momentum   float64 `yaml:"momentum" json:"momentum" validate:"gte=0,lte=1"`
	Volatility float64 `yaml:"volatility" json:"volatility" validate:"gte=0,lte=1"`
	Volume     float64 `yaml:"volume" json:"volume" validate:"gte=0,lte=1"`
	Pattern    float64 `yaml:"pattern" json:"pattern" validate:"gte=0,lte=1"`
	Sentiment  float64 `yaml:"sentiment" json:"sentiment" validate:"gte=0,lte=1"`
}

func (w Weights) Sum() float64 {
	return w.Trend + w.Momentum + w.Volatility + w.Volume + w.Pattern + w.Sentiment
}

// Config drives scoring and level thresholds.
type Config struct {
	Weights           Weights `yaml:"weights"`
	MinSignal         float64 `yaml:"min_signal" validate:"gte=0,lte=100"`
	Strong            float64 `yaml:"strong" validate:"gtefield=MinSignal,lte=100"`
	Weak              float64 `yaml:"weak" validate:"gte=0,ltefield=MinSignal"`
	AlignmentRequired bool    `yaml:"alignment_required"`
	Penalty           float64 `yaml:"sentiment_penalty" validate:"gte=0,lte=100"`
}

func DefaultConfig() Config {
	return Config{
		Weights: Weights{
			Trend:      0.25,
			Momentum:   0.25,
			Volatility: 0.15,
			Volume:     0.15,
			Pattern:    0.10,
			Sentiment:  0.10,
		},
		MinSignal:         50,
		Strong:            70,
		Weak:              40,
		AlignmentRequired: true,
		Penalty:           15,
	}
}

// Level buckets the total score.
type Level string

const (
	VeryWeak Level = "very_weak"
	Weak     Level = "weak"
	Medium   Level = "medium"
	Strong   Level = "strong"
)

// Breakdown is the scored result. Category scores are 0-100.
type Breakdown struct {
	Trend      float64 `json:"trend"`
	Momentum   float64 `json:"momentum"`
	Volatility float64 `json:"volatility"`
	Volume     float64 `json:"volume"`
	Pattern    float64 `json:"pattern"`
	Sentiment  float64 `json:"sentiment"`

	Weights          Weights         `json:"weights"`
	SentimentPenalty float64         `json:"sentiment_penalty"`
	Total            float64         `json:"total"`
	Level            Level           `json:"level"`
	SentimentAligned bool            `json:"sentiment_aligned"`
	Direction        indicators.Bias `json:"direction"`
}

// Calculator is stateless and safe for concurrent use.
type Calculator struct {
	cfg Config
}

func NewCalculator(cfg Config) *Calculator {
	return &Calculator{cfg: cfg}
}

func (c *Calculator) Config() Config { return c.cfg }

// Calculate scores the proposal for side. Directional sub-scores are read
// from the side's point of view, so a bearish setup scores for a short what
// its bullish mirror scores for a long. Calculate never fails: a missing
// sub-indicator scores a neutral 50.
func (c *Calculator) Calculate(s indicators.Snapshot, mood sentiment.Reading, side trade.Side) Breakdown {
	o := orient(side)
	b := Breakdown{
		Trend:      trendScore(s, o),
		Momentum:   momentumScore(s, o),
		Volatility: volatilityScore(s, o),
		Volume:     volumeScore(s, o),
		Pattern:    patternScore(s, o),
		Sentiment:  o(sentimentScore(mood.Direction)),
		Weights:    c.cfg.Weights,
		Direction:  Direction(s),
	}
	w := c.cfg.Weights
	total := b.Trend*w.Trend + b.Momentum*w.Momentum + b.Volatility*w.Volatility +
		b.Volume*w.Volume + b.Pattern*w.Pattern + b.Sentiment*w.Sentiment

	if c.cfg.AlignmentRequired && disagrees(b.Direction, mood.Direction) {
		b.SentimentPenalty = c.cfg.Penalty
	}
	b.Total = clamp(total-b.SentimentPenalty, 0, 100)
	b.SentimentAligned = b.SentimentPenalty == 0
	b.Level = c.level(b.Total)
	return b
}

func (c *Calculator) level(score float64) Level {
	switch {
	case score >= c.cfg.Strong:
		return Strong
	case score >= c.cfg.MinSignal:
		return Medium
	case score >= c.cfg.Weak:
		return Weak
	default:
		return VeryWeak
	}
}

// Direction is the majority vote of EMA crossover, MACD divergence,
// engulfing pattern and trend.
func Direction(s indicators.Snapshot) indicators.Bias {
	votes := []indicators.Bias{
		s.EMACross.Or(indicators.Neutral),
		s.MACDDivergence.Or(indicators.Neutral),
		s.Engulfing.Or(indicators.Neutral),
		s.Trend.Or(indicators.TrendNeutral).Bias(),
	}
	bull, bear := 0, 0
	for _, v := range votes {
		switch v {
		case indicators.Bullish:
			bull++
		case indicators.Bearish:
			bear++
		}
	}
	switch {
	case bull > bear:
		return indicators.Bullish
	case bear > bull:
		return indicators.Bearish
	default:
		return indicators.Neutral
	}
}

func disagrees(dir indicators.Bias, mood sentiment.Direction) bool {
	return (dir == indicators.Bullish && mood == sentiment.Bearish) ||
		(dir == indicators.Bearish && mood == sentiment.Bullish)
}

type sub struct {
	score, weight float64
}

func weighted(parts ...sub) float64 {
	var sum, w float64
	for _, p := range parts {
		sum += p.score * p.weight
		w += p.weight
	}
	if w == 0 {
		return neutral
	}
	return sum / w
}

const neutral = 50.0

// orient returns the mapping from a bullish score to a score for side.
func orient(side trade.Side) func(float64) float64 {
	if side == trade.Short {
		return func(v float64) float64 { return 100 - v }
	}
	return func(v float64) float64 { return v }
}

func biasScore(o indicators.Opt[indicators.Bias], bull, bear float64) float64 {
	switch o.Or(indicators.Neutral) {
	case indicators.Bullish:
		return bull
	case indicators.Bearish:
		return bear
	default:
		return neutral
	}
}

func trendScore(s indicators.Snapshot, o func(float64) float64) float64 {
	ts := neutral
	switch s.Trend.Or(indicators.TrendNeutral) {
	case indicators.TrendStrongBullish:
		ts = 100
	case indicators.TrendBullish:
		ts = 75
	case indicators.TrendBearish:
		ts = 25
	case indicators.TrendStrongBearish:
		ts = 0
	}
	vs := neutral
	if r := s.VWAPRatio(); r.Valid {
		vs = clamp(50+r.Value*1000, 0, 100)
	}
	return o(weighted(
		sub{biasScore(s.EMACross, 80, 20), 0.4},
		sub{ts, 0.3},
		sub{vs, 0.3},
	))
}

// RSIScore maps RSI onto a bullish score: oversold is 100, overbought 0.
func RSIScore(rsi indicators.Opt[float64]) float64 {
	if !rsi.Valid {
		return neutral
	}
	switch v := rsi.Value; {
	case v < 30:
		return 100
	case v > 70:
		return 0
	default:
		return 50 + (50-v)*1.25
	}
}

func momentumScore(s indicators.Snapshot, o func(float64) float64) float64 {
	return o(weighted(
		sub{RSIScore(s.RSI14), 0.3},
		sub{biasScore(s.MACDDivergence, 90, 10), 0.3},
	))
}

// volatilityScore orients the band position only; a squeeze favours either side.
func volatilityScore(s indicators.Snapshot, o func(float64) float64) float64 {
	bb := neutral
	if s.Band.Valid {
		switch s.Band.Value {
		case indicators.BandBelow:
			bb = 80
		case indicators.BandAbove:
			bb = 20
		}
	}
	sq := neutral
	if s.Squeeze.Or(false) {
		sq = 80
	}
	return weighted(sub{o(bb), 0.4}, sub{sq, 0.3})
}

// volumeScore orients the book imbalance only; spike and volume trend are
// side-neutral.
func volumeScore(s indicators.Snapshot, o func(float64) float64) float64 {
	spike := neutral
	if s.VolumeSpike.Or(false) {
		spike = 80
	}
	trend := neutral
	switch s.VolumeTrend.Or(indicators.VolumeFlat) {
	case indicators.VolumeIncreasing:
		trend = 70
	case indicators.VolumeDecreasing:
		trend = 30
	}
	imb := neutral
	if s.Imbalance.Valid {
		imb = clamp((s.Imbalance.Value+1)*50, 0, 100)
	}
	return weighted(sub{spike, 0.4}, sub{trend, 0.3}, sub{o(imb), 0.3})
}

func patternScore(s indicators.Snapshot, o func(float64) float64) float64 {
	return o(weighted(
		sub{biasScore(s.Engulfing, 80, 20), 0.5},
		sub{biasScore(s.PinBar, 80, 20), 0.5},
		sub{biasScore(s.Breakout, 80, 20), 0.5},
	))
}

func sentimentScore(d sentiment.Direction) float64 {
	switch d {
	case sentiment.Bullish:
		return 70
	case sentiment.Bearish:
		return 30
	default:
		return neutral
	}
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
