package filter

import (
	"math"

	"github.com/markcheno/go-talib"

	"github.com/Yoogi-7/BitgetBot/internal/market"
)

// DynamicConfig rejects quiet, thin or wide markets. Zero disables a check.
type DynamicConfig struct {
	MinVolatility   float64 `yaml:"min_volatility" validate:"gte=0"`    // ATR / price
	MinVolumeUsd    float64 `yaml:"min_volume_usd" validate:"gte=0"`    // 24h quote volume
	MinVolumeRatio  float64 `yaml:"min_volume_ratio" validate:"gte=0"`  // last bar vs average
	MaxSpread       float64 `yaml:"max_spread" validate:"gte=0"`        // (ask-bid)/mid
	MinLiquidityUsd float64 `yaml:"min_liquidity_usd" validate:"gte=0"` // top 5 levels, both sides
	ATRPeriod       int     `yaml:"atr_period" validate:"gt=0"`
	VolumePeriod    int     `yaml:"volume_period" validate:"gt=0"`
}

func DefaultDynamicConfig() DynamicConfig {
	return DynamicConfig{
		MinVolatility:   0.001,
		MinVolumeUsd:    10000,
		MinVolumeRatio:  0.1,
		MaxSpread:       0.01,
		MinLiquidityUsd: 1000,
		ATRPeriod:       14,
		VolumePeriod:    20,
	}
}

// Dynamic is the volatility/volume/liquidity/spread filter. Checks whose
// input is missing pass.
type Dynamic struct {
	cfg DynamicConfig
}

func NewDynamic(cfg DynamicConfig) *Dynamic {
	return &Dynamic{cfg: cfg}
}

func (f *Dynamic) Eligible(_ string, d *market.Data) Result {
	r := pass()
	if d == nil {
		return r
	}
	if !f.volatile(d) {
		r.reject(SeverityLow, "low volatility")
	}
	if !f.liquidVolume(d) {
		r.reject(SeverityLow, "low volume")
	}
	if f.cfg.MinLiquidityUsd > 0 && len(d.Book.Bids) > 0 && len(d.Book.Asks) > 0 &&
		d.Book.Liquidity(5) < f.cfg.MinLiquidityUsd {
		r.reject(SeverityLow, "poor liquidity")
	}
	if spread, ok := f.spread(d); ok && f.cfg.MaxSpread > 0 && spread > f.cfg.MaxSpread {
		r.reject(SeverityLow, "wide spread")
	}
	return r
}

func (f *Dynamic) volatile(d *market.Data) bool {
	price := d.LastPrice()
	n := len(d.Candles)
	if f.cfg.MinVolatility <= 0 || price <= 0 || n <= f.cfg.ATRPeriod {
		return true
	}
	highs, lows, closes := make([]float64, n), make([]float64, n), make([]float64, n)
	for i, c := range d.Candles {
		highs[i], lows[i], closes[i] = c.High, c.Low, c.Close
	}
	atr := talib.Atr(highs, lows, closes, f.cfg.ATRPeriod)[n-1]
	if math.IsNaN(atr) || atr <= 0 {
		return true
	}
	return atr/price >= f.cfg.MinVolatility
}

func (f *Dynamic) liquidVolume(d *market.Data) bool {
	if f.cfg.MinVolumeUsd > 0 && d.Ticker.QuoteVolume > 0 && d.Ticker.QuoteVolume < f.cfg.MinVolumeUsd {
		return false
	}
	if ratio, ok := volumeRatio(d.Candles, f.cfg.VolumePeriod); ok && f.cfg.MinVolumeRatio > 0 {
		return ratio >= f.cfg.MinVolumeRatio
	}
	return true
}

func (f *Dynamic) spread(d *market.Data) (float64, bool) {
	if s, ok := d.Book.Spread(); ok {
		return s, true
	}
	if d.Ticker.Bid > 0 && d.Ticker.Ask > 0 {
		return (d.Ticker.Ask - d.Ticker.Bid) / d.Ticker.Bid, true
	}
	return 0, false
}

// volumeRatio is the last bar's volume over the mean of the period bars
// before it.
func volumeRatio(cs []market.Candle, period int) (float64, bool) {
	n := len(cs)
	if period <= 0 || n < period+1 {
		return 0, false
	}
	sum := 0.0
	for _, c := range cs[n-1-period : n-1] {
		sum += c.Volume
	}
	if sum <= 0 {
		return 0, false
	}
	return cs[n-1].Volume / (sum / float64(period)), true
}
