package monitor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Yoogi-7/BitgetBot/internal/clock"
	"github.com/Yoogi-7/BitgetBot/internal/events"
	"github.com/Yoogi-7/BitgetBot/internal/notify"
	"github.com/Yoogi-7/BitgetBot/internal/risk"
)

var t0 = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

type fakeRisk struct {
	mu     sync.Mutex
	loss   float64
	losses int
}

func (f *fakeRisk) Limits() risk.AccountLimits { return risk.DefaultLimits() }

func (f *fakeRisk) State() risk.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return risk.State{ConsecutiveLosses: f.losses}
}

func (f *fakeRisk) DailyLossFraction() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loss
}

type sinkRecorder struct {
	mu     sync.Mutex
	alerts []Alert
}

func (s *sinkRecorder) Send(_ context.Context, a Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = append(s.alerts, a)
	return nil
}

func (s *sinkRecorder) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.alerts)
}

func kinds(as []Alert) []AlertKind {
	var out []AlertKind
	for _, a := range as {
		out = append(out, a.Kind)
	}
	return out
}

func TestRiskMonitorFiresOncePerDay(t *testing.T) {
	src := &fakeRisk{}
	sink := &sinkRecorder{}
	clk := clock.NewManual(t0)
	m := NewRiskMonitor(DefaultConfig(), src, sink, clk, nil)
	ctx := context.Background()

	assert.Empty(t, m.Check(ctx, nil))

	src.loss = 0.03 // 60% of the 5% limit
	assert.Equal(t, []AlertKind{AlertDailyLossWarning}, kinds(m.Check(ctx, nil)))
	assert.Empty(t, m.Check(ctx, nil), "already sent today")

	src.loss = 0.045
	src.losses = 2
	fired := m.Check(ctx, []Exposure{{Instrument: "BTCUSDT", Leverage: 35, SizeUsd: 100}, {Instrument: "ETHUSDT", Leverage: 5}})
	assert.Equal(t, []AlertKind{AlertDailyLossCritical, AlertConsecutiveLosses, AlertHighLeverage}, kinds(fired))
	assert.True(t, fired[0].Critical)
	assert.Contains(t, fired[2].Message, "BTCUSDT: 35x")
	assert.NotContains(t, fired[2].Message, "ETHUSDT")
	assert.Equal(t, 4, sink.len())
	assert.Equal(t, 4, m.AlertsToday())

	clk.Advance(24 * time.Hour)
	assert.Zero(t, m.AlertsToday())
	assert.Len(t, m.Check(ctx, nil), 3, "new day re-arms the alerts")
}

func TestRiskMonitorWatch(t *testing.T) {
	src := &fakeRisk{losses: 3}
	sink := &sinkRecorder{}
	bus := events.NewBus()
	alerts, unsub := bus.Subscribe(4, events.EventRiskAlert)
	defer unsub()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m := NewRiskMonitor(DefaultConfig(), src, sink, clock.NewManual(t0), nil)
	m.Watch(ctx, bus, nil)

	bus.Publish(events.EventPositionClosed, "p1")
	select {
	case msg := <-alerts:
		a, ok := msg.Payload.(Alert)
		require.True(t, ok)
		assert.Equal(t, AlertConsecutiveLosses, a.Kind)
	case <-time.After(2 * time.Second):
		t.Fatal("no alert published")
	}
	assert.Equal(t, 1, sink.len())
}

type notifyRecorder struct{ got []notify.Event }

func (n *notifyRecorder) Notify(_ context.Context, e notify.Event) error {
	n.got = append(n.got, e)
	return nil
}

func TestNotifySink(t *testing.T) {
	rec := &notifyRecorder{}
	s := NotifySink{Sink: rec}
	require.NoError(t, s.Send(context.Background(), Alert{Title: "Daily loss critical", Message: "4.5%", Critical: true, At: t0}))
	require.Len(t, rec.got, 1)
	assert.Equal(t, notify.KindRiskAlert, rec.got[0].Kind)
	assert.Equal(t, []string{"DAILY LOSS CRITICAL: 4.5%"}, rec.got[0].Lines)
}

func TestLatencyHistogram(t *testing.T) {
	h := NewLatencyHistogram(4)
	for _, v := range []float64{10, 20, 30, 40, 50} {
		h.Record(v)
	}
	s := h.Stats()
	assert.Equal(t, 4, s.Count)
	assert.Equal(t, 20.0, s.Min)
	assert.Equal(t, 50.0, s.Max)
	assert.Equal(t, 35.0, s.Avg)
	assert.Equal(t, s, h.Stats())

	m := NewMetrics()
	m.CycleDone(150*time.Millisecond, t0)
	m.AddSignals(3)
	m.IncOrders()
	snap := m.Snapshot()
	assert.Equal(t, uint64(1), snap.Cycles)
	assert.Equal(t, uint64(3), snap.Signals)
	assert.Equal(t, uint64(1), snap.Orders)
	assert.Equal(t, t0, snap.LastCycle)
	assert.InDelta(t, 150, snap.CycleLatency.Max, 1e-9)
}
