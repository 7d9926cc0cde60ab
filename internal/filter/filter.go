// Package filter decides which instruments are worth scanning in a cycle.
package filter

import (
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/Yoogi-7/BitgetBot/internal/market"
)

// Severity grades a rejection.
type Severity string

const (
	SeverityNone     Severity = "normal"
	SeverityLow      Severity = "low"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

var severityRank = map[Severity]int{SeverityNone: 0, SeverityLow: 1, SeverityHigh: 2, SeverityCritical: 3}

func worse(a, b Severity) Severity {
	if severityRank[b] > severityRank[a] {
		return b
	}
	return a
}

// Result is the verdict for one instrument.
type Result struct {
	Eligible bool     `json:"eligible"`
	Severity Severity `json:"severity"`
	Reasons  []string `json:"reasons,omitempty"`
}

func pass() Result { return Result{Eligible: true, Severity: SeverityNone} }

func (r *Result) reject(sev Severity, reason string) {
	r.Eligible = false
	r.Severity = worse(r.Severity, sev)
	r.Reasons = append(r.Reasons, reason)
}

// Filter judges one instrument's market data.
type Filter interface {
	Eligible(instrument string, d *market.Data) Result
}

// Summary describes the last cycle's rejections.
type Summary struct {
	Checked       int                 `json:"checked"`
	FilteredCount int                 `json:"filtered_count"`
	Filtered      []string            `json:"filtered_symbols"`
	Reasons       map[string][]string `json:"filter_reasons"`
}

// Chain runs filters in order and merges their verdicts. It keeps a summary
// of the current cycle; call Reset at the start of each cycle.
type Chain struct {
	filters []Filter
	log     *zap.Logger

	mu      sync.Mutex
	checked int
	reasons map[string][]string
}

func NewChain(log *zap.Logger, filters ...Filter) *Chain {
	if log == nil {
		log = zap.NewNop()
	}
	return &Chain{filters: filters, log: log, reasons: make(map[string][]string)}
}

// Reset clears the cycle summary.
func (c *Chain) Reset() {
	c.mu.Lock()
	c.checked = 0
	c.reasons = make(map[string][]string)
	c.mu.Unlock()
}

func (c *Chain) Eligible(instrument string, d *market.Data) Result {
	out := pass()
	if d == nil {
		out.reject(SeverityHigh, "invalid market data")
	} else {
		for _, f := range c.filters {
			r := f.Eligible(instrument, d)
			if !r.Eligible {
				out.Eligible = false
				out.Severity = worse(out.Severity, r.Severity)
				out.Reasons = append(out.Reasons, r.Reasons...)
			}
		}
	}

	c.mu.Lock()
	c.checked++
	if !out.Eligible {
		c.reasons[instrument] = out.Reasons
	}
	c.mu.Unlock()

	if !out.Eligible {
		c.log.Info("instrument filtered",
			zap.String("symbol", instrument),
			zap.String("severity", string(out.Severity)),
			zap.Strings("reasons", out.Reasons))
	}
	return out
}

func (c *Chain) Summary() Summary {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Summary{
		Checked:       c.checked,
		FilteredCount: len(c.reasons),
		Reasons:       make(map[string][]string, len(c.reasons)),
	}
	for sym, rs := range c.reasons {
		s.Filtered = append(s.Filtered, sym)
		s.Reasons[sym] = append([]string(nil), rs...)
	}
	sort.Strings(s.Filtered)
	return s
}
