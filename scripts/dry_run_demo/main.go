package main

// dry_run_demo replays a number of trading cycles against the synthetic
// market on a simulated clock, then prints the risk report, KPI summary and
// final balance. Nothing is persisted.
//
// Usage:
//
//	go run ./scripts/dry_run_demo -cycles 500 -symbols BTCUSDT,ETHUSDT

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Yoogi-7/BitgetBot/internal/balance"
	"github.com/Yoogi-7/BitgetBot/internal/clock"
	"github.com/Yoogi-7/BitgetBot/internal/engine"
	"github.com/Yoogi-7/BitgetBot/internal/filter"
	"github.com/Yoogi-7/BitgetBot/internal/indicators"
	"github.com/Yoogi-7/BitgetBot/internal/kpi"
	"github.com/Yoogi-7/BitgetBot/internal/market"
	"github.com/Yoogi-7/BitgetBot/internal/order"
	"github.com/Yoogi-7/BitgetBot/internal/position"
	"github.com/Yoogi-7/BitgetBot/internal/risk"
	"github.com/Yoogi-7/BitgetBot/internal/state"
	"github.com/Yoogi-7/BitgetBot/internal/strategy"
	"github.com/Yoogi-7/BitgetBot/internal/strength"
	"github.com/Yoogi-7/BitgetBot/pkg/cache"
	"github.com/Yoogi-7/BitgetBot/pkg/config"
)

func main() {
	cycles := flag.Int("cycles", 300, "cycles to simulate")
	seed := flag.Int64("seed", 7, "random seed of the synthetic market")
	symbols := flag.String("symbols", "BTCUSDT,ETHUSDT,SOLUSDT", "comma separated instruments")
	verbose := flag.Bool("v", false, "log every cycle")
	flag.Parse()

	log := zap.NewNop()
	if *verbose {
		log, _ = zap.NewDevelopment()
	}

	cfg := config.Default()
	cfg.Engine.Instruments = strings.Split(*symbols, ",")
	cfg.Engine.MaxTotalPositions = len(cfg.Engine.Instruments)

	clk := clock.NewManual(time.Date(2025, 1, 6, 0, 0, 0, 0, time.UTC))
	provider := market.NewMockProvider(*seed)
	provider.Now = clk.Now

	prices := cache.NewPrices(clk.Now)
	bal := balance.NewManager(decimal.NewFromFloat(cfg.InitialBalance), log)
	exec := order.NewPaperExecutor(cfg.Paper, prices, bal, clk, log)
	riskMgr := risk.NewManager(cfg.Risk, clk, nil, log)
	tracker := kpi.NewTracker(cfg.KPI, nil, log)
	chain := filter.NewChain(log, filter.NewDynamic(cfg.Dynamic), filter.NewSecurity(cfg.Security, clk.Now))

	orch, err := engine.New(cfg.Engine, engine.Deps{
		Market:     provider,
		Indicators: indicators.NewEngine(cfg.Indicators),
		Composer:   strategy.New(cfg.Strategy, clk),
		Strength:   strength.NewCalculator(cfg.Strength),
		Risk:       riskMgr,
		Lifecycle:  position.NewLifecycle(cfg.Lifecycle),
		Executor:   exec,
		Book:       state.NewBook(nil, log),
		Filter:     chain,
		KPI:        tracker,
		Prices:     prices,
		Clock:      clk,
		Log:        log,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	ctx := context.Background()
	opened, closed := 0, 0
	for i := 0; i < *cycles; i++ {
		rep := orch.RunCycle(ctx)
		opened += rep.Opened
		closed += rep.Closed
		clk.Advance(cfg.Engine.Interval)
	}

	b, _ := exec.GetBalance(ctx)
	out := map[string]any{
		"cycles":         *cycles,
		"simulated":      (time.Duration(*cycles) * cfg.Engine.Interval).String(),
		"opened":         opened,
		"closed":         closed,
		"open_positions": len(orch.Positions()),
		"balance":        b,
		"risk":           orch.RiskReport(),
		"kpi":            orch.KPISummary(),
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(out)
}
