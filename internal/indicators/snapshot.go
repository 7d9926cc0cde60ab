package indicators

import "github.com/Yoogi-7/BitgetBot/internal/market"

// Opt is an indicator reading that may be missing. Consumers read it through
// Or so that a missing value always resolves to an explicit neutral default.
type Opt[T any] struct {
	Value T
	Valid bool
}

// Some wraps a present reading.
func Some[T any](v T) Opt[T] { return Opt[T]{Value: v, Valid: true} }

// Or returns the reading, or def when it is missing.
func (o Opt[T]) Or(def T) T {
	if o.Valid {
		return o.Value
	}
	return def
}

// Bias is a directional reading from a crossover, divergence or pattern.
type Bias int8

const (
	Neutral Bias = iota
	Bullish
	Bearish
)

func (b Bias) String() string {
	switch b {
	case Bullish:
		return "bullish"
	case Bearish:
		return "bearish"
	default:
		return "none"
	}
}

// Trend is the EMA-stack trend state.
type Trend int8

const (
	TrendNeutral Trend = iota
	TrendStrongBullish
	TrendBullish
	TrendBearish
	TrendStrongBearish
)

func (t Trend) String() string {
	switch t {
	case TrendStrongBullish:
		return "strong_bullish"
	case TrendBullish:
		return "bullish"
	case TrendBearish:
		return "bearish"
	case TrendStrongBearish:
		return "strong_bearish"
	default:
		return "neutral"
	}
}

// Bias collapses the trend to a direction.
func (t Trend) Bias() Bias {
	switch t {
	case TrendStrongBullish, TrendBullish:
		return Bullish
	case TrendStrongBearish, TrendBearish:
		return Bearish
	default:
		return Neutral
	}
}

// BandPosition is where price sits relative to the Bollinger bands.
type BandPosition int8

const (
	BandInside BandPosition = iota
	BandBelow
	BandAbove
)

// VolumeTrend compares short and long volume averages.
type VolumeTrend int8

const (
	VolumeFlat VolumeTrend = iota
	VolumeIncreasing
	VolumeDecreasing
)

// Snapshot is a read-only set of indicator readings for one instrument at one
// instant. Price is always present; everything else is optional.
type Snapshot struct {
	Price float64

	ATR        Opt[float64]
	ATRShort   Opt[float64]
	ATRPercent Opt[float64] // ATR / price * 100

	RSI14 Opt[float64]
	RSI5  Opt[float64]

	EMACross       Opt[Bias]
	MACDCross      Opt[Bias]
	MACDDivergence Opt[Bias]
	Trend          Opt[Trend]
	TrendAligned   Opt[Bias] // agreement between base and higher timeframe
	VWAP           Opt[float64]

	Band         Opt[BandPosition]
	Squeeze      Opt[bool]
	SqueezeBreak Opt[Bias]

	VolumeRatio    Opt[float64]
	VolumeSpike    Opt[bool]
	VolumeSpikeMax Opt[bool] // the 500% spike
	VolumeTrend    Opt[VolumeTrend]

	Imbalance   Opt[float64] // [-1, 1]
	BidShare    Opt[float64] // [0, 1]
	FundingRate Opt[float64]

	Engulfing Opt[Bias]
	PinBar    Opt[Bias]
	Breakout  Opt[Bias]
	Trap      Opt[Bias] // bullish = low trap, bearish = high trap

	RecentLow  Opt[float64]
	RecentHigh Opt[float64]
}

// VWAPRatio is (price-vwap)/vwap.
func (s Snapshot) VWAPRatio() Opt[float64] {
	if !s.VWAP.Valid || s.VWAP.Value <= 0 || s.Price <= 0 {
		return Opt[float64]{}
	}
	return Some((s.Price - s.VWAP.Value) / s.VWAP.Value)
}

// ATROr returns ATR, or pct of price when ATR is missing.
func (s Snapshot) ATROr(pct float64) float64 {
	if s.ATR.Valid && s.ATR.Value > 0 {
		return s.ATR.Value
	}
	return s.Price * pct
}

// bookDepth is the number of levels used for imbalance readings.
const bookDepth = 5

// WithMarket returns a copy enriched with order-book and funding readings.
func (s Snapshot) WithMarket(d *market.Data) Snapshot {
	if d == nil {
		return s
	}
	if v, ok := d.Book.Imbalance(bookDepth); ok {
		s.Imbalance = Some(v)
	}
	if v, ok := d.Book.BidShare(bookDepth); ok {
		s.BidShare = Some(v)
	}
	if d.FundingRate != nil {
		s.FundingRate = Some(*d.FundingRate)
	}
	if p := d.LastPrice(); p > 0 {
		s.Price = p
	}
	return s
}
