package market

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"
)

// MockProvider generates synthetic random-walk markets for local development
// and dry runs. Every Fetch appends one bar per instrument.
type MockProvider struct {
	StartPrice float64
	Step       float64 // relative step per bar, e.g. 0.002
	Bars       int
	Interval   time.Duration
	Now        func() time.Time

	mu     sync.Mutex
	rnd    *rand.Rand
	series map[string][]Candle
}

// NewMockProvider returns a provider with reproducible output for seed.
func NewMockProvider(seed int64) *MockProvider {
	return &MockProvider{
		StartPrice: 100,
		Step:       0.002,
		Bars:       120,
		Interval:   time.Minute,
		rnd:        rand.New(rand.NewSource(seed)),
		series:     make(map[string][]Candle),
	}
}

func (m *MockProvider) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now()
}

func (m *MockProvider) Fetch(ctx context.Context, instrument string) (*Data, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	candles, ok := m.series[instrument]
	if !ok {
		candles = m.seed()
	}
	candles = append(candles, m.next(candles[len(candles)-1]))
	if len(candles) > m.Bars {
		candles = candles[len(candles)-m.Bars:]
	}
	m.series[instrument] = candles

	last := candles[len(candles)-1].Close
	half := last * 0.0001
	book := OrderBook{}
	for i := 0; i < 5; i++ {
		off := float64(i) * half
		book.Bids = append(book.Bids, Level{Price: last - half - off, Qty: 1 + m.rnd.Float64()*4})
		book.Asks = append(book.Asks, Level{Price: last + half + off, Qty: 1 + m.rnd.Float64()*4})
	}
	funding := (m.rnd.Float64()*2 - 1) * 0.0001

	out := make([]Candle, len(candles))
	copy(out, candles)
	return &Data{
		Instrument: instrument,
		Candles:    out,
		Ticker: Ticker{
			Last:        last,
			Bid:         book.Bids[0].Price,
			Ask:         book.Asks[0].Price,
			QuoteVolume: quoteVolume(out),
		},
		Book:        book,
		FundingRate: &funding,
		FetchedAt:   m.now(),
	}, nil
}

func (m *MockProvider) seed() []Candle {
	price := m.StartPrice
	if price <= 0 {
		price = 100
	}
	start := m.now().Add(-time.Duration(m.Bars) * m.Interval)
	out := make([]Candle, 0, m.Bars)
	prev := Candle{OpenTime: start.Add(-m.Interval), Close: price}
	for i := 0; i < m.Bars-1; i++ {
		prev = m.next(prev)
		out = append(out, prev)
	}
	return out
}

func (m *MockProvider) next(prev Candle) Candle {
	step := m.Step
	if step <= 0 {
		step = 0.002
	}
	open := prev.Close
	move := (m.rnd.Float64()*2 - 1) * step * open
	cls := math.Max(open+move, open*0.5)
	wick := m.rnd.Float64() * step * open
	return Candle{
		OpenTime: prev.OpenTime.Add(m.Interval),
		Open:     open,
		High:     math.Max(open, cls) + wick,
		Low:      math.Min(open, cls) - wick,
		Close:    cls,
		Volume:   50 + m.rnd.Float64()*100,
	}
}

func quoteVolume(cs []Candle) float64 {
	total := 0.0
	for _, c := range cs {
		total += c.Close * c.Volume
	}
	return total
}
