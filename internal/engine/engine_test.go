package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/Yoogi-7/BitgetBot/internal/balance"
	"github.com/Yoogi-7/BitgetBot/internal/clock"
	"github.com/Yoogi-7/BitgetBot/internal/indicators"
	"github.com/Yoogi-7/BitgetBot/internal/market"
	"github.com/Yoogi-7/BitgetBot/internal/order"
	"github.com/Yoogi-7/BitgetBot/internal/position"
	"github.com/Yoogi-7/BitgetBot/internal/risk"
	"github.com/Yoogi-7/BitgetBot/internal/state"
	"github.com/Yoogi-7/BitgetBot/internal/strategy"
	"github.com/Yoogi-7/BitgetBot/internal/strength"
	"github.com/Yoogi-7/BitgetBot/internal/trade"
	"github.com/Yoogi-7/BitgetBot/pkg/cache"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

// fakeMarket serves one candle per instrument at a settable price.
type fakeMarket struct {
	mu     sync.Mutex
	prices map[string]float64
}

func newFakeMarket(prices map[string]float64) *fakeMarket {
	return &fakeMarket{prices: prices}
}

func (m *fakeMarket) set(instrument string, price float64) {
	m.mu.Lock()
	m.prices[instrument] = price
	m.mu.Unlock()
}

func (m *fakeMarket) Fetch(_ context.Context, instrument string) (*market.Data, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.prices[instrument]
	if !ok {
		return nil, errors.New("unknown instrument")
	}
	return &market.Data{
		Instrument: instrument,
		Candles:    []market.Candle{{OpenTime: t0, Open: p, High: p, Low: p, Close: p, Volume: 10}},
		Ticker:     market.Ticker{Last: p},
	}, nil
}

// flatIndicators reports the last close with a fixed ATR.
type flatIndicators struct{}

func (flatIndicators) MinBars() int { return 1 }

func (flatIndicators) Compute(cs []market.Candle) (indicators.Snapshot, error) {
	return indicators.Snapshot{
		Price:      cs[len(cs)-1].Close,
		ATR:        indicators.Some(0.5),
		ATRPercent: indicators.Some(0.5),
	}, nil
}

// longComposer proposes a fixed long while enabled, for every instrument or
// only for the one named by only.
type longComposer struct {
	mu      sync.Mutex
	enabled bool
	only    string
}

func (c *longComposer) ID() string { return "test" }

func (c *longComposer) disable() {
	c.mu.Lock()
	c.enabled = false
	c.mu.Unlock()
}

func (c *longComposer) Compose(instrument string, s indicators.Snapshot, open int) strategy.Signal {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.enabled || open > 0 || (c.only != "" && c.only != instrument) {
		return strategy.NoSignal(instrument)
	}
	return strategy.Entry(instrument, trade.Long, trade.StrategyIntraday, 0.85, 0.5,
		[]string{"test entry"},
		strategy.Levels{Entry: s.Price, StopLoss: s.Price - 1.2, TakeProfit1: s.Price + 1, TakeProfit2: s.Price + 2})
}

type mockExecutor struct {
	mock.Mock
}

func (m *mockExecutor) PlaceOrder(ctx context.Context, r order.Request) (order.Fill, error) {
	args := m.Called(ctx, r)
	return args.Get(0).(order.Fill), args.Error(1)
}

func (m *mockExecutor) GetBalance(ctx context.Context) (order.Balance, error) {
	args := m.Called(ctx)
	return args.Get(0).(order.Balance), args.Error(1)
}

type harness struct {
	orch   *Orchestrator
	clk    *clock.Manual
	market *fakeMarket
	comp   *longComposer
	risk   *risk.Manager
	book   *state.Book
	paper  *order.PaperExecutor
}

// newHarness wires an orchestrator over the paper executor with zero fees and
// a strength floor of zero so every proposal is a candidate.
func newHarness(t *testing.T, cfg Config, prices map[string]float64, exec order.Executor) *harness {
	t.Helper()
	h := &harness{
		clk:    clock.NewManual(t0),
		market: newFakeMarket(prices),
		comp:   &longComposer{enabled: true},
		book:   state.NewBook(nil, nil),
	}
	h.risk = risk.NewInMemory(risk.DefaultLimits(), h.clk)
	board := cache.NewPrices(h.clk.Now)
	if exec == nil {
		h.paper = order.NewPaperExecutor(order.PaperConfig{}, board, balance.NewManager(decimal.NewFromInt(1000), nil), h.clk, nil)
		exec = h.paper
	}
	sc := strength.DefaultConfig()
	sc.MinSignal, sc.Weak = 0, 0

	o, err := New(cfg, Deps{
		Market:     h.market,
		Indicators: flatIndicators{},
		Composer:   h.comp,
		Strength:   strength.NewCalculator(sc),
		Risk:       h.risk,
		Lifecycle:  position.NewLifecycle(position.DefaultConfig()),
		Executor:   exec,
		Book:       h.book,
		Prices:     board,
		Clock:      h.clk,
	})
	require.NoError(t, err)
	h.orch = o
	return h
}

func testConfig(instruments ...string) Config {
	cfg := DefaultConfig()
	cfg.Instruments = instruments
	cfg.MaxTotalPositions = len(instruments)
	return cfg
}

func TestBudget(t *testing.T) {
	tests := []struct {
		name     string
		mode     Allocation
		balance  float64
		score    float64
		eligible int
		want     float64
	}{
		{"equal split", AllocationEqual, 900, 80, 3, 300},
		{"single candidate", AllocationEqual, 900, 10, 1, 900},
		{"weighted by score", AllocationStrengthWeighted, 1000, 60, 2, 300},
		{"weighted score clamped", AllocationStrengthWeighted, 1000, 140, 2, 500},
		{"no candidates", AllocationEqual, 1000, 80, 0, 0},
		{"empty balance", AllocationEqual, 0, 80, 2, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Budget(tt.mode, tt.balance, tt.score, tt.eligible), 1e-9)
		})
	}
}

func TestSchedulerRunsImmediatelyAndOnTick(t *testing.T) {
	clk := clock.NewManual(t0)
	runs := make(chan struct{}, 10)
	s := NewScheduler(clk, time.Minute, func(context.Context) { runs <- struct{}{} }, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	select {
	case <-runs:
	case <-time.After(time.Second):
		t.Fatal("first cycle did not run")
	}

	clk.Advance(time.Minute)
	select {
	case <-runs:
	case <-time.After(time.Second):
		t.Fatal("tick did not run a cycle")
	}

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(DefaultConfig(), Deps{})
	assert.ErrorIs(t, err, errMissingDep)
}

func TestEqualAllocationAcrossCandidates(t *testing.T) {
	h := newHarness(t, testConfig("BTCUSDT", "ETHUSDT", "SOLUSDT"),
		map[string]float64{"BTCUSDT": 100, "ETHUSDT": 100, "SOLUSDT": 100}, nil)

	rep := h.orch.RunCycle(context.Background())
	assert.Equal(t, 3, rep.Scanned)
	assert.Equal(t, 3, rep.Candidates)
	assert.Equal(t, 3, rep.Opened)
	assert.Zero(t, rep.Errors)

	ps := h.book.All()
	require.Len(t, ps, 3)
	for _, p := range ps {
		// a third of the balance, capped at 10% of it
		assert.InDelta(t, 1000.0/3*0.1, p.SizeUsd, 1e-6, p.Instrument)
		assert.InDelta(t, 1000.0/3*0.1/100, p.Size, 1e-9, p.Instrument)
		assert.Equal(t, trade.Long, p.Side)
	}
	assert.Len(t, h.orch.Positions(), 3)
	assert.Len(t, h.orch.Exposures(), 3)
}

func TestEqualAllocationSplitsAcrossEligibleInstruments(t *testing.T) {
	h := newHarness(t, testConfig("BTCUSDT", "ETHUSDT", "SOLUSDT"),
		map[string]float64{"BTCUSDT": 100, "ETHUSDT": 100, "SOLUSDT": 100}, nil)
	h.comp.only = "ETHUSDT"

	rep := h.orch.RunCycle(context.Background())
	assert.Equal(t, 3, rep.Eligible)
	assert.Equal(t, 1, rep.Candidates)
	require.Equal(t, 1, rep.Opened)

	p := h.book.All()[0]
	assert.Equal(t, "ETHUSDT", p.Instrument)
	// sized against a third of the balance, not all of it
	assert.InDelta(t, 1000.0/3*0.1, p.SizeUsd, 1e-6)
}

func TestPositionLimitsHold(t *testing.T) {
	cfg := testConfig("BTCUSDT", "ETHUSDT", "SOLUSDT")
	cfg.MaxTotalPositions = 2
	h := newHarness(t, cfg, map[string]float64{"BTCUSDT": 100, "ETHUSDT": 100, "SOLUSDT": 100}, nil)

	rep := h.orch.RunCycle(context.Background())
	assert.Equal(t, 2, rep.Opened)
	assert.Equal(t, 2, h.book.Count())
	// instruments tie on score so the order is alphabetical
	assert.Equal(t, 1, h.book.CountFor("BTCUSDT"))
	assert.Equal(t, 1, h.book.CountFor("ETHUSDT"))

	h.clk.Advance(time.Minute)
	rep = h.orch.RunCycle(context.Background())
	assert.Zero(t, rep.Opened)
	assert.Equal(t, 2, h.book.Count())
}

func TestStopLossClosesAndRecordsLoss(t *testing.T) {
	h := newHarness(t, testConfig("BTCUSDT"), map[string]float64{"BTCUSDT": 100}, nil)
	ctx := context.Background()

	rep := h.orch.RunCycle(ctx)
	require.Equal(t, 1, rep.Opened)
	p := h.book.All()[0]
	assert.InDelta(t, 98.8, p.StopLoss, 1e-9)

	h.comp.disable()
	h.market.set("BTCUSDT", 98.5)
	h.clk.Advance(2 * time.Minute)

	rep = h.orch.RunCycle(ctx)
	assert.Equal(t, 1, rep.Managed)
	assert.Equal(t, 1, rep.Closed)
	assert.Zero(t, h.book.Count())
	assert.Equal(t, 1, h.risk.State().ConsecutiveLosses)

	b, err := h.paper.GetBalance(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 1000-1.5*p.Size, b.Total, 1e-6)
	assert.InDelta(t, b.Total, b.Available, 1e-6)
	assert.Zero(t, b.Locked)
}

func TestTakeProfitReducesThenKeepsManaging(t *testing.T) {
	h := newHarness(t, testConfig("BTCUSDT"), map[string]float64{"BTCUSDT": 100}, nil)
	ctx := context.Background()

	require.Equal(t, 1, h.orch.RunCycle(ctx).Opened)
	before := h.book.All()[0]

	h.comp.disable()
	h.market.set("BTCUSDT", 101)
	h.clk.Advance(2 * time.Minute)

	rep := h.orch.RunCycle(ctx)
	assert.Equal(t, 1, rep.Reduced)
	require.Equal(t, 1, h.book.Count())
	after := h.book.All()[0]
	assert.True(t, after.TP1Hit)
	assert.InDelta(t, before.Size/2, after.Size, 1e-9)
	require.NotNil(t, after.TrailingStop)

	b, err := h.paper.GetBalance(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 1000+before.Size/2, b.Total, 1e-6)
	assert.Zero(t, h.risk.State().ConsecutiveLosses)
}

func TestBalanceFailureSkipsCycle(t *testing.T) {
	exec := new(mockExecutor)
	exec.On("GetBalance", mock.Anything).Return(order.Balance{}, errors.New("exchange down"))
	h := newHarness(t, testConfig("BTCUSDT"), map[string]float64{"BTCUSDT": 100}, exec)

	rep := h.orch.RunCycle(context.Background())
	assert.Equal(t, 1, rep.Errors)
	assert.Zero(t, rep.Scanned)
	exec.AssertNotCalled(t, "PlaceOrder", mock.Anything, mock.Anything)
	assert.Equal(t, rep, h.orch.LastCycle())
}

func TestCancelDuringEntriesStopsAfterCurrentOrder(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	exec := new(mockExecutor)
	exec.On("GetBalance", mock.Anything).Return(order.Balance{Total: 1000, Available: 1000}, nil)
	exec.On("PlaceOrder", mock.Anything, mock.MatchedBy(func(r order.Request) bool { return r.Intent == order.IntentOpen })).
		Run(func(mock.Arguments) { cancel() }).
		Return(order.Fill{Price: 100, Size: 0.3, At: t0}, nil).
		Once()

	h := newHarness(t, testConfig("BTCUSDT", "ETHUSDT", "SOLUSDT"),
		map[string]float64{"BTCUSDT": 100, "ETHUSDT": 100, "SOLUSDT": 100}, exec)

	rep := h.orch.RunCycle(ctx)
	assert.Equal(t, 1, rep.Opened)
	assert.Equal(t, 1, h.book.Count())
	exec.AssertNumberOfCalls(t, "PlaceOrder", 1)
}

func TestFailedOpenLeavesBookEmpty(t *testing.T) {
	exec := new(mockExecutor)
	exec.On("GetBalance", mock.Anything).Return(order.Balance{Total: 1000, Available: 1000}, nil)
	exec.On("PlaceOrder", mock.Anything, mock.Anything).Return(order.Fill{}, order.ErrInsufficientBalance)

	h := newHarness(t, testConfig("BTCUSDT"), map[string]float64{"BTCUSDT": 100}, exec)
	rep := h.orch.RunCycle(context.Background())

	assert.Zero(t, rep.Opened)
	assert.Equal(t, 1, rep.Errors)
	assert.Zero(t, h.book.Count())
	assert.Equal(t, uint64(1), h.orch.Metrics().Errors)
}

func TestUnknownInstrumentIsSkipped(t *testing.T) {
	cfg := testConfig("BTCUSDT", "DOGEUSDT")
	h := newHarness(t, cfg, map[string]float64{"BTCUSDT": 100}, nil)

	rep := h.orch.RunCycle(context.Background())
	assert.Equal(t, 2, rep.Scanned)
	assert.Equal(t, 1, rep.Opened)
	assert.Equal(t, 1, h.book.CountFor("BTCUSDT"))
}

func TestStatusReportsPause(t *testing.T) {
	h := newHarness(t, testConfig("BTCUSDT"), map[string]float64{"BTCUSDT": 100}, nil)
	s := h.orch.Status()
	assert.Equal(t, []string{"BTCUSDT"}, s.Instruments)
	assert.Equal(t, "test", s.Strategy)
	assert.False(t, s.Paused)
}
