package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Yoogi-7/BitgetBot/internal/api"
	"github.com/Yoogi-7/BitgetBot/internal/balance"
	"github.com/Yoogi-7/BitgetBot/internal/clock"
	"github.com/Yoogi-7/BitgetBot/internal/engine"
	"github.com/Yoogi-7/BitgetBot/internal/events"
	"github.com/Yoogi-7/BitgetBot/internal/filter"
	"github.com/Yoogi-7/BitgetBot/internal/indicators"
	"github.com/Yoogi-7/BitgetBot/internal/kpi"
	"github.com/Yoogi-7/BitgetBot/internal/market"
	"github.com/Yoogi-7/BitgetBot/internal/monitor"
	"github.com/Yoogi-7/BitgetBot/internal/notify"
	"github.com/Yoogi-7/BitgetBot/internal/order"
	"github.com/Yoogi-7/BitgetBot/internal/position"
	"github.com/Yoogi-7/BitgetBot/internal/risk"
	"github.com/Yoogi-7/BitgetBot/internal/sentiment"
	"github.com/Yoogi-7/BitgetBot/internal/state"
	"github.com/Yoogi-7/BitgetBot/internal/strategy"
	"github.com/Yoogi-7/BitgetBot/internal/strength"
	"github.com/Yoogi-7/BitgetBot/internal/tradelog"
	"github.com/Yoogi-7/BitgetBot/pkg/cache"
	"github.com/Yoogi-7/BitgetBot/pkg/config"
	"github.com/Yoogi-7/BitgetBot/pkg/db"
	"github.com/Yoogi-7/BitgetBot/pkg/logger"
	"github.com/Yoogi-7/BitgetBot/pkg/market/binance"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	log := logger.Init(cfg.LogDir, cfg.Debug)
	defer logger.Sync()

	if err := run(cfg, log); err != nil {
		log.Error("bot stopped with error", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
}

func run(cfg config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("starting trading bot",
		zap.String("mode", cfg.Mode()),
		zap.Strings("symbols", cfg.Engine.Instruments),
		zap.Duration("interval", cfg.Engine.Interval),
		zap.String("market", cfg.MarketSource),
		zap.String("strategy", cfg.Strategy.Mode))

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("data dir: %w", err)
	}
	clk := clock.System{}

	// Storage
	database, err := db.Open(ctx, filepath.Join(cfg.DataDir, "bot.db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer database.Close()

	// Notifications
	sinks := notify.Multi{notify.NewLog(logger.Named("notify"))}
	if cfg.Telegram.Enabled() {
		tg, err := notify.NewTelegram(cfg.Telegram.Token, cfg.Telegram.ChatID, logger.Named("telegram"))
		if err != nil {
			log.Warn("telegram disabled", zap.Error(err))
		} else {
			sinks = append(sinks, tg)
		}
	}

	// Trade log: SQLite rows plus a CSV mirror
	sqliteLog := tradelog.NewSQLite(database, 50, 5*time.Second, logger.Named("tradelog"))
	csvLog, err := tradelog.OpenCSV(filepath.Join(cfg.DataDir, "trades.csv"))
	if err != nil {
		return fmt.Errorf("trade csv: %w", err)
	}
	defer csvLog.Close()
	tlog := tradelog.Multi{sqliteLog, csvLog}

	// Market data
	provider, err := newProvider(cfg)
	if err != nil {
		return err
	}

	// Account state
	prices := cache.NewPrices(clk.Now)
	bal := balance.NewManager(decimal.NewFromFloat(cfg.InitialBalance), logger.Named("balance"))
	executor := order.NewPaperExecutor(cfg.Paper, prices, bal, clk, logger.Named("paper"))
	if _, err := executor.GetBalance(ctx); err != nil {
		return fmt.Errorf("executor balance: %w", err)
	}

	book := state.NewBook(database, logger.Named("state"))
	if err := book.Load(ctx); err != nil {
		return err
	}
	for _, p := range book.All() {
		if err := executor.Adopt(p.ID, p.Side, p.EntryPrice, p.Size, p.Leverage); err != nil {
			log.Warn("restored position not adopted", zap.String("position", p.ID), zap.Error(err))
		}
	}

	riskMgr := risk.NewManager(cfg.Risk, clk, database, logger.Named("risk"))
	if err := riskMgr.Restore(ctx); err != nil {
		log.Warn("risk state not restored, starting fresh", zap.Error(err))
	}
	tracker := kpi.NewTracker(cfg.KPI, database, logger.Named("kpi"))

	// Engine
	bus := events.NewBus()
	metrics := monitor.NewMetrics()
	orch, err := engine.New(cfg.Engine, engine.Deps{
		Market:     provider,
		Indicators: indicators.NewEngine(cfg.Indicators),
		Sentiment:  sentiment.NewStatic(sentiment.Reading{Direction: sentiment.Neutral}),
		Composer:   strategy.New(cfg.Strategy, clk),
		Strength:   strength.NewCalculator(cfg.Strength),
		Risk:       riskMgr,
		Lifecycle:  position.NewLifecycle(cfg.Lifecycle),
		Executor:   executor,
		Book:       book,
		Filter: filter.NewChain(logger.Named("filter"),
			filter.NewDynamic(cfg.Dynamic),
			filter.NewSecurity(cfg.Security, clk.Now)),
		KPI:      tracker,
		TradeLog: tlog,
		Notifier: sinks,
		Bus:      bus,
		Prices:   prices,
		Metrics:  metrics,
		Clock:    clk,
		Log:      logger.Named("engine"),
		Meta: engine.SystemStatus{
			Mode:        cfg.Mode(),
			Instruments: cfg.Engine.Instruments,
			StartedAt:   clk.Now(),
		},
	})
	if err != nil {
		return err
	}

	riskMon := monitor.NewRiskMonitor(cfg.Monitor, riskMgr, monitor.NotifySink{Sink: sinks}, clk, logger.Named("monitor"))
	riskMon.Watch(ctx, bus, orch.Exposures)

	notifyNow(ctx, sinks, notify.Startup(cfg.Mode(), cfg.Engine.Instruments, clk.Now()), log)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		sched := engine.NewScheduler(clk, cfg.Engine.Interval, func(c context.Context) { orch.RunCycle(c) }, logger.Named("scheduler"))
		return sched.Run(gctx)
	})
	if cfg.API.Addr != "" {
		srv := api.NewServer(cfg.API, orch, bus, logger.Named("api"))
		g.Go(func() error { return srv.Run(gctx) })
	}
	runErr := g.Wait()
	if errors.Is(runErr, context.Canceled) {
		runErr = nil
	}

	// Shutdown
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := sqliteLog.Close(shutdownCtx); err != nil {
		log.Error("trade log flush failed", zap.Error(err))
	}
	reportPath := filepath.Join(cfg.DataDir, "kpi_report.json")
	if err := tracker.WriteReport(reportPath, clk.Now()); err != nil {
		log.Error("kpi report not written", zap.Error(err))
	} else {
		log.Info("kpi report written", zap.String("path", reportPath))
	}
	r := riskMgr.Report()
	log.Info("final risk report",
		zap.Int("trades", r.TotalTrades),
		zap.Float64("win_rate", r.WinRate),
		zap.Float64("realized_pnl", r.RealizedPnL),
		zap.Int("open_positions", book.Count()))
	notifyNow(shutdownCtx, sinks, notify.Shutdown(clk.Now()), log)
	return runErr
}

func newProvider(cfg config.Config) (market.Provider, error) {
	switch cfg.MarketSource {
	case config.SourceBinance:
		return binance.New(cfg.Binance, logger.Named("binance")), nil
	case config.SourceMock:
		m := market.NewMockProvider(cfg.MockSeed)
		m.Bars = max(m.Bars, cfg.Binance.Candles)
		return m, nil
	}
	return nil, fmt.Errorf("unknown market source %q", cfg.MarketSource)
}

func notifyNow(ctx context.Context, sink notify.Sink, e notify.Event, log *zap.Logger) {
	if err := sink.Notify(ctx, e); err != nil {
		log.Warn("notification failed", zap.String("kind", string(e.Kind)), zap.Error(err))
	}
}
