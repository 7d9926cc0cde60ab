package indicators

import (
	"errors"
	"fmt"
	"math"

	"github.com/markcheno/go-talib"

	"github.com/Yoogi-7/BitgetBot/internal/market"
)

// ErrInsufficientData is returned when there are too few bars to warm up the
// slowest indicator.
var ErrInsufficientData = errors.New("insufficient candles for indicators")

// Config holds indicator periods and detection thresholds.
type Config struct {
	EMAFast  int `yaml:"ema_fast"`
	EMASlow  int `yaml:"ema_slow"`
	EMATrend int `yaml:"ema_trend"`

	RSIPeriod     int `yaml:"rsi_period"`
	RSIFastPeriod int `yaml:"rsi_fast_period"`

	MACDFast   int `yaml:"macd_fast"`
	MACDSlow   int `yaml:"macd_slow"`
	MACDSignal int `yaml:"macd_signal"`

	BBPeriod     int     `yaml:"bb_period"`
	BBStdDev     float64 `yaml:"bb_stddev"`
	SqueezeWidth float64 `yaml:"squeeze_width"` // (upper-lower)/middle

	ATRPeriod      int `yaml:"atr_period"`
	ATRShortPeriod int `yaml:"atr_short_period"`

	VolumePeriod      int     `yaml:"volume_period"`
	SpikeRatio        float64 `yaml:"spike_ratio"`
	ExtremeSpikeRatio float64 `yaml:"extreme_spike_ratio"`

	LocalExtremes      int `yaml:"local_extremes"`
	BreakoutLookback   int `yaml:"breakout_lookback"`
	DivergenceLookback int `yaml:"divergence_lookback"`
	HigherTimeframe    int `yaml:"higher_timeframe"` // bars per higher-timeframe bar
}

func DefaultConfig() Config {
	return Config{
		EMAFast:            9,
		EMASlow:            21,
		EMATrend:           50,
		RSIPeriod:          14,
		RSIFastPeriod:      5,
		MACDFast:           12,
		MACDSlow:           26,
		MACDSignal:         9,
		BBPeriod:           20,
		BBStdDev:           2,
		SqueezeWidth:       0.02,
		ATRPeriod:          14,
		ATRShortPeriod:     5,
		VolumePeriod:       20,
		SpikeRatio:         2,
		ExtremeSpikeRatio:  5,
		LocalExtremes:      10,
		BreakoutLookback:   20,
		DivergenceLookback: 20,
		HigherTimeframe:    3,
	}
}

// Engine computes a Snapshot from OHLCV bars. It is stateless and safe for
// concurrent use.
type Engine struct {
	cfg Config
}

func NewEngine(cfg Config) *Engine {
	return &Engine{cfg: cfg}
}

// MinBars is the number of candles Compute needs.
func (e *Engine) MinBars() int {
	c := e.cfg
	n := c.EMATrend
	for _, v := range []int{c.MACDSlow + c.MACDSignal, c.BBPeriod, c.VolumePeriod, c.BreakoutLookback, c.DivergenceLookback, c.ATRPeriod + 1} {
		if v > n {
			n = v
		}
	}
	return n + 2
}

func (e *Engine) Compute(candles []market.Candle) (Snapshot, error) {
	if len(candles) < e.MinBars() {
		return Snapshot{}, fmt.Errorf("%d bars, need %d: %w", len(candles), e.MinBars(), ErrInsufficientData)
	}
	c := e.cfg
	n := len(candles)
	opens, highs, lows, closes, vols := columns(candles)
	price := closes[n-1]
	s := Snapshot{Price: price}

	// trend
	fast := talib.Ema(closes, c.EMAFast)
	slow := talib.Ema(closes, c.EMASlow)
	trendEMA := talib.Ema(closes, c.EMATrend)
	s.EMACross = Some(cross(fast, slow))
	trend := trendState(fast[n-1], slow[n-1], trendEMA[n-1])
	s.Trend = Some(trend)
	s.TrendAligned = Some(e.alignment(candles, trend))
	s.VWAP = vwap(candles)

	// momentum
	s.RSI14 = lastValid(talib.Rsi(closes, c.RSIPeriod))
	s.RSI5 = lastValid(talib.Rsi(closes, c.RSIFastPeriod))
	macd, signal, _ := talib.Macd(closes, c.MACDFast, c.MACDSlow, c.MACDSignal)
	s.MACDCross = Some(cross(macd, signal))
	s.MACDDivergence = Some(divergence(closes, macd, c.DivergenceLookback))

	// volatility
	upper, middle, lower := talib.BBands(closes, c.BBPeriod, c.BBStdDev, c.BBStdDev, talib.SMA)
	if middle[n-1] > 0 {
		width := (upper[n-1] - lower[n-1]) / middle[n-1]
		squeeze := width < c.SqueezeWidth
		s.Squeeze = Some(squeeze)
		switch {
		case squeeze && price > middle[n-1]:
			s.SqueezeBreak = Some(Bullish)
		case squeeze:
			s.SqueezeBreak = Some(Bearish)
		default:
			s.SqueezeBreak = Some(Neutral)
		}
	}
	switch {
	case price > upper[n-1]:
		s.Band = Some(BandAbove)
	case price < lower[n-1]:
		s.Band = Some(BandBelow)
	default:
		s.Band = Some(BandInside)
	}
	s.ATR = lastValid(talib.Atr(highs, lows, closes, c.ATRPeriod))
	s.ATRShort = lastValid(talib.Atr(highs, lows, closes, c.ATRShortPeriod))
	if s.ATR.Valid && price > 0 {
		s.ATRPercent = Some(s.ATR.Value / price * 100)
	}

	// volume
	volSMA := talib.Sma(vols, c.VolumePeriod)
	if avg := volSMA[n-1]; avg > 0 {
		ratio := vols[n-1] / avg
		s.VolumeRatio = Some(ratio)
		s.VolumeSpike = Some(ratio > c.SpikeRatio)
		s.VolumeSpikeMax = Some(ratio > c.ExtremeSpikeRatio)
	}
	vShort := talib.Ema(vols, 5)
	vLong := talib.Ema(vols, c.VolumePeriod)
	switch {
	case vShort[n-1] > vLong[n-1]:
		s.VolumeTrend = Some(VolumeIncreasing)
	case vShort[n-1] < vLong[n-1]:
		s.VolumeTrend = Some(VolumeDecreasing)
	default:
		s.VolumeTrend = Some(VolumeFlat)
	}

	// patterns
	s.Engulfing = Some(engulfing(opens[n-2], closes[n-2], opens[n-1], closes[n-1]))
	s.PinBar = Some(pinBar(candles[n-1]))
	s.Breakout = Some(breakout(highs, lows, price, c.BreakoutLookback))
	s.Trap = Some(trap(highs, lows, closes))

	lo, hi := math.Inf(1), math.Inf(-1)
	for _, k := range candles[n-c.LocalExtremes:] {
		lo = math.Min(lo, k.Low)
		hi = math.Max(hi, k.High)
	}
	s.RecentLow = Some(lo)
	s.RecentHigh = Some(hi)

	return s, nil
}

func columns(cs []market.Candle) (o, h, l, c, v []float64) {
	o = make([]float64, len(cs))
	h = make([]float64, len(cs))
	l = make([]float64, len(cs))
	c = make([]float64, len(cs))
	v = make([]float64, len(cs))
	for i, k := range cs {
		o[i], h[i], l[i], c[i], v[i] = k.Open, k.High, k.Low, k.Close, k.Volume
	}
	return
}

func lastValid(series []float64) Opt[float64] {
	if len(series) == 0 {
		return Opt[float64]{}
	}
	v := series[len(series)-1]
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return Opt[float64]{}
	}
	return Some(v)
}

// cross reports a crossing of a over b on the last bar.
func cross(a, b []float64) Bias {
	n := len(a)
	if n < 2 || len(b) < n {
		return Neutral
	}
	cur := a[n-1] - b[n-1]
	prev := a[n-2] - b[n-2]
	switch {
	case cur > 0 && prev <= 0:
		return Bullish
	case cur < 0 && prev >= 0:
		return Bearish
	default:
		return Neutral
	}
}

func trendState(fast, slow, long float64) Trend {
	switch {
	case fast > slow && slow > long:
		return TrendStrongBullish
	case fast < slow && slow < long:
		return TrendStrongBearish
	case fast > slow:
		return TrendBullish
	case fast < slow:
		return TrendBearish
	default:
		return TrendNeutral
	}
}

// alignment compares the base trend with the trend of a resampled series.
func (e *Engine) alignment(candles []market.Candle, base Trend) Bias {
	k := e.cfg.HigherTimeframe
	if k < 2 {
		return Neutral
	}
	higher := resample(candles, k)
	if len(higher) < e.cfg.EMASlow+2 {
		return Neutral
	}
	_, _, _, closes, _ := columns(higher)
	n := len(closes)
	fast := talib.Ema(closes, e.cfg.EMAFast)
	slow := talib.Ema(closes, e.cfg.EMASlow)
	ht := trendState(fast[n-1], slow[n-1], slow[n-1])
	if ht.Bias() == base.Bias() {
		return base.Bias()
	}
	return Neutral
}

// resample merges every k bars (aligned to the end of the series) into one.
func resample(cs []market.Candle, k int) []market.Candle {
	start := len(cs) % k
	out := make([]market.Candle, 0, len(cs)/k)
	for i := start; i+k <= len(cs); i += k {
		group := cs[i : i+k]
		bar := market.Candle{OpenTime: group[0].OpenTime, Open: group[0].Open, High: group[0].High, Low: group[0].Low, Close: group[k-1].Close}
		for _, g := range group {
			bar.High = math.Max(bar.High, g.High)
			bar.Low = math.Min(bar.Low, g.Low)
			bar.Volume += g.Volume
		}
		out = append(out, bar)
	}
	return out
}

func vwap(cs []market.Candle) Opt[float64] {
	var pv, vol float64
	for _, c := range cs {
		typical := (c.High + c.Low + c.Close) / 3
		pv += typical * c.Volume
		vol += c.Volume
	}
	if vol == 0 {
		return Opt[float64]{}
	}
	return Some(pv / vol)
}

// divergence looks for price/MACD disagreement between the last two local
// extremes inside the lookback window. Bearish is checked first.
func divergence(closes, macd []float64, lookback int) Bias {
	n := len(closes)
	if n < lookback+1 {
		return Neutral
	}
	type point struct{ price, macd float64 }
	var highs, lows []point
	for i := n - lookback; i < n-1; i++ {
		if closes[i] > closes[i-1] && closes[i] > closes[i+1] {
			highs = append(highs, point{closes[i], macd[i]})
		}
		if closes[i] < closes[i-1] && closes[i] < closes[i+1] {
			lows = append(lows, point{closes[i], macd[i]})
		}
	}
	if h := len(highs); h >= 2 && highs[h-1].price > highs[h-2].price && highs[h-1].macd < highs[h-2].macd {
		return Bearish
	}
	if l := len(lows); l >= 2 && lows[l-1].price < lows[l-2].price && lows[l-1].macd > lows[l-2].macd {
		return Bullish
	}
	return Neutral
}

func engulfing(prevOpen, prevClose, open, cls float64) Bias {
	switch {
	case prevClose < prevOpen && cls > open && open < prevClose && cls > prevOpen:
		return Bullish
	case prevClose > prevOpen && cls < open && open > prevClose && cls < prevOpen:
		return Bearish
	default:
		return Neutral
	}
}

func pinBar(c market.Candle) Bias {
	rng := c.High - c.Low
	if rng <= 0 {
		return Neutral
	}
	body := math.Abs(c.Close - c.Open)
	upper := c.High - math.Max(c.Close, c.Open)
	lower := math.Min(c.Close, c.Open) - c.Low
	if body/rng >= 0.3 {
		return Neutral
	}
	switch {
	case lower/rng > 0.6:
		return Bullish
	case upper/rng > 0.6:
		return Bearish
	default:
		return Neutral
	}
}

func breakout(highs, lows []float64, price float64, lookback int) Bias {
	n := len(highs)
	hi, lo := math.Inf(-1), math.Inf(1)
	for i := n - lookback; i < n-1; i++ {
		hi = math.Max(hi, highs[i])
		lo = math.Min(lo, lows[i])
	}
	switch {
	case price > hi:
		return Bullish
	case price < lo:
		return Bearish
	default:
		return Neutral
	}
}

// trap detects a false break of the 8-bar range on the previous bar that the
// last close reclaimed.
func trap(highs, lows, closes []float64) Bias {
	n := len(closes)
	if n < 10 {
		return Neutral
	}
	lo, hi := math.Inf(1), math.Inf(-1)
	for i := n - 10; i < n-2; i++ {
		lo = math.Min(lo, lows[i])
		hi = math.Max(hi, highs[i])
	}
	switch {
	case lows[n-2] < lo && closes[n-1] > lo:
		return Bullish
	case highs[n-2] > hi && closes[n-1] < hi:
		return Bearish
	default:
		return Neutral
	}
}
