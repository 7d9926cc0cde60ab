package filter

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/Yoogi-7/BitgetBot/internal/market"
)

type SecurityConfig struct {
	// VolumeSpike is the multiple of average volume treated as abnormal.
	VolumeSpike float64 `yaml:"volume_spike" validate:"gt=1"`
	// PriceSpike bounds both the single-bar move and the pump/dump legs.
	PriceSpike       float64 `yaml:"price_spike" validate:"gt=0"`
	ExtremeImbalance float64 `yaml:"extreme_imbalance" validate:"gt=0,lte=1"`
	VolumePeriod     int     `yaml:"volume_period" validate:"gt=0"`
	PumpLookback     int     `yaml:"pump_lookback" validate:"gt=1"`
}

func DefaultSecurityConfig() SecurityConfig {
	return SecurityConfig{
		VolumeSpike:      10,
		PriceSpike:       0.05,
		ExtremeImbalance: 0.8,
		VolumePeriod:     20,
		PumpLookback:     10,
	}
}

// Anomaly is one detected manipulation pattern.
type Anomaly struct {
	Instrument string    `json:"instrument"`
	Kind       string    `json:"kind"`
	Detail     string    `json:"detail"`
	At         time.Time `json:"at"`
}

const maxAnomalies = 1000

// Security blocks instruments showing manipulation-like behaviour.
type Security struct {
	cfg SecurityConfig
	now func() time.Time

	mu  sync.Mutex
	log []Anomaly
}

// NewSecurity creates the filter. now may be nil.
func NewSecurity(cfg SecurityConfig, now func() time.Time) *Security {
	if now == nil {
		now = time.Now
	}
	return &Security{cfg: cfg, now: now}
}

func (f *Security) Eligible(instrument string, d *market.Data) Result {
	r := pass()
	if d == nil {
		return r
	}
	if ratio, ok := volumeRatio(d.Candles, f.cfg.VolumePeriod); ok && ratio > f.cfg.VolumeSpike {
		r.reject(SeverityCritical, fmt.Sprintf("volume spike %.1fx average", ratio))
		f.record(instrument, "volume_spike", r.Reasons[len(r.Reasons)-1])
	}
	if detail := f.priceManipulation(d.Candles); detail != "" {
		r.reject(SeverityCritical, detail)
		f.record(instrument, "price_manipulation", detail)
	}
	if imb, ok := d.Book.Imbalance(10); ok && math.Abs(imb) > f.cfg.ExtremeImbalance {
		detail := fmt.Sprintf("extreme order book imbalance %.2f", imb)
		r.reject(SeverityCritical, detail)
		f.record(instrument, "orderbook_manipulation", detail)
	}
	return r
}

func (f *Security) priceManipulation(cs []market.Candle) string {
	n := len(cs)
	if n >= 2 {
		prev, last := cs[n-2].Close, cs[n-1].Close
		if prev > 0 && math.Abs(last-prev)/prev > f.cfg.PriceSpike {
			return fmt.Sprintf("price spike %.1f%% in one bar", (last-prev)/prev*100)
		}
	}
	if n < f.cfg.PumpLookback {
		return ""
	}
	hi, lo := math.Inf(-1), math.Inf(1)
	for _, c := range cs[n-f.cfg.PumpLookback:] {
		hi = math.Max(hi, c.Close)
		lo = math.Min(lo, c.Close)
	}
	last := cs[n-1].Close
	if lo <= 0 || hi == last {
		return ""
	}
	if (hi-lo)/lo > f.cfg.PriceSpike && (hi-last)/hi > f.cfg.PriceSpike {
		return "pump and dump pattern"
	}
	return ""
}

func (f *Security) record(instrument, kind, detail string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.log = append(f.log, Anomaly{Instrument: instrument, Kind: kind, Detail: detail, At: f.now()})
	if len(f.log) > maxAnomalies {
		f.log = f.log[len(f.log)-maxAnomalies:]
	}
}

// Anomalies returns detections newer than since, oldest first.
func (f *Security) Anomalies(since time.Time) []Anomaly {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Anomaly
	for _, a := range f.log {
		if a.At.After(since) {
			out = append(out, a)
		}
	}
	return out
}
