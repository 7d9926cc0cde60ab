package monitor

import (
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Metrics tracks cycle performance of the bot.
type Metrics struct {
	CycleLatency *LatencyHistogram
	FetchLatency *LatencyHistogram
	OrderLatency *LatencyHistogram

	cycles   atomic.Uint64
	signals  atomic.Uint64
	orders   atomic.Uint64
	filtered atomic.Uint64
	errors   atomic.Uint64

	mu        sync.RWMutex
	lastCycle time.Time
	started   time.Time
}

func NewMetrics() *Metrics {
	return &Metrics{
		CycleLatency: NewLatencyHistogram(500),
		FetchLatency: NewLatencyHistogram(1000),
		OrderLatency: NewLatencyHistogram(500),
		started:      time.Now(),
	}
}

// LatencyHistogram keeps a sliding window of samples in milliseconds. Stats
// are recomputed lazily after new samples arrive.
type LatencyHistogram struct {
	mu      sync.Mutex
	samples []float64
	maxSize int
	dirty   bool
	cached  LatencyStats
}

func NewLatencyHistogram(size int) *LatencyHistogram {
	if size <= 0 {
		size = 1000
	}
	return &LatencyHistogram{samples: make([]float64, 0, size), maxSize: size, dirty: true}
}

func (h *LatencyHistogram) Record(ms float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.samples) >= h.maxSize {
		h.samples = h.samples[1:]
	}
	h.samples = append(h.samples, ms)
	h.dirty = true
}

func (h *LatencyHistogram) RecordDuration(d time.Duration) {
	h.Record(float64(d.Nanoseconds()) / 1e6)
}

// Stats returns min, max, avg and percentiles over the window.
func (h *LatencyHistogram) Stats() LatencyStats {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.dirty {
		return h.cached
	}
	n := len(h.samples)
	if n == 0 {
		return LatencyStats{}
	}
	sorted := append([]float64(nil), h.samples...)
	sort.Float64s(sorted)
	sum := 0.0
	for _, v := range sorted {
		sum += v
	}
	h.cached = LatencyStats{
		Min:   sorted[0],
		Max:   sorted[n-1],
		Avg:   sum / float64(n),
		P50:   sorted[n/2],
		P95:   sorted[int(float64(n)*0.95)],
		P99:   sorted[int(float64(n)*0.99)],
		Count: n,
	}
	h.dirty = false
	return h.cached
}

type LatencyStats struct {
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Avg   float64 `json:"avg"`
	P50   float64 `json:"p50"`
	P95   float64 `json:"p95"`
	P99   float64 `json:"p99"`
	Count int     `json:"count"`
}

// CycleDone records one finished cycle and its duration.
func (m *Metrics) CycleDone(d time.Duration, at time.Time) {
	m.cycles.Add(1)
	m.CycleLatency.RecordDuration(d)
	m.mu.Lock()
	m.lastCycle = at
	m.mu.Unlock()
}

func (m *Metrics) AddSignals(n int)  { m.signals.Add(uint64(n)) }
func (m *Metrics) AddFiltered(n int) { m.filtered.Add(uint64(n)) }
func (m *Metrics) IncOrders()        { m.orders.Add(1) }
func (m *Metrics) IncErrors()        { m.errors.Add(1) }

type Snapshot struct {
	CycleLatency   LatencyStats `json:"cycle_latency"`
	FetchLatency   LatencyStats `json:"fetch_latency"`
	OrderLatency   LatencyStats `json:"order_latency"`
	Cycles         uint64       `json:"cycles"`
	Signals        uint64       `json:"signals"`
	Orders         uint64       `json:"orders"`
	Filtered       uint64       `json:"filtered"`
	Errors         uint64       `json:"errors"`
	LastCycle      time.Time    `json:"last_cycle"`
	Uptime         string       `json:"uptime"`
	GoroutineCount int          `json:"goroutine_count"`
	HeapAlloc      uint64       `json:"heap_alloc_bytes"`
}

func (m *Metrics) Snapshot() Snapshot {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	m.mu.RLock()
	last := m.lastCycle
	m.mu.RUnlock()

	return Snapshot{
		CycleLatency:   m.CycleLatency.Stats(),
		FetchLatency:   m.FetchLatency.Stats(),
		OrderLatency:   m.OrderLatency.Stats(),
		Cycles:         m.cycles.Load(),
		Signals:        m.signals.Load(),
		Orders:         m.orders.Load(),
		Filtered:       m.filtered.Load(),
		Errors:         m.errors.Load(),
		LastCycle:      last,
		Uptime:         time.Since(m.started).Round(time.Second).String(),
		GoroutineCount: runtime.NumGoroutine(),
		HeapAlloc:      mem.HeapAlloc,
	}
}

// Timer measures one operation into a histogram.
type Timer struct {
	start time.Time
	h     *LatencyHistogram
}

func NewTimer(h *LatencyHistogram) *Timer {
	return &Timer{start: time.Now(), h: h}
}

func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	if t.h != nil {
		t.h.RecordDuration(elapsed)
	}
	return elapsed
}
