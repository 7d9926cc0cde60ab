package engine

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/Yoogi-7/BitgetBot/internal/clock"
)

// Scheduler runs a cycle immediately and then on every tick until the
// context is cancelled. Cycles never overlap: a slow cycle swallows the
// ticks that fire meanwhile.
type Scheduler struct {
	clk      clock.Clock
	interval time.Duration
	cycle    func(context.Context)
	log      *zap.Logger
}

func NewScheduler(clk clock.Clock, interval time.Duration, cycle func(context.Context), log *zap.Logger) *Scheduler {
	if clk == nil {
		clk = clock.System{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Scheduler{clk: clk, interval: interval, cycle: cycle, log: log}
}

// Run blocks until ctx is done and returns ctx.Err().
func (s *Scheduler) Run(ctx context.Context) error {
	t := s.clk.NewTicker(s.interval)
	defer t.Stop()

	s.log.Info("scheduler started", zap.Duration("interval", s.interval))
	s.cycle(ctx)
	for {
		select {
		case <-ctx.Done():
			s.log.Info("scheduler stopped")
			return ctx.Err()
		case <-t.C():
			if ctx.Err() != nil {
				continue
			}
			s.cycle(ctx)
		}
	}
}
