// Package binance serves market data from Binance USDT-M futures public
// endpoints. No credentials are needed and no orders are sent.
package binance

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/Yoogi-7/BitgetBot/internal/market"
)

type Config struct {
	Testnet bool   `yaml:"testnet"`
	BaseURL string `yaml:"base_url"`

	Interval    string `yaml:"interval" validate:"required"`
	Candles     int    `yaml:"candles" validate:"gte=30,lte=1500"`
	DepthLimit  int    `yaml:"depth_limit" validate:"oneof=5 10 20 50 100 500 1000"`
	TradesLimit int    `yaml:"trades_limit" validate:"gte=0,lte=1000"`

	// RequestsPerSecond spreads REST calls under the exchange weight limit.
	RequestsPerSecond float64       `yaml:"requests_per_second" validate:"gt=0"`
	Burst             int           `yaml:"burst" validate:"gte=1"`
	HTTPTimeout       time.Duration `yaml:"http_timeout" validate:"gt=0"`
}

func DefaultConfig() Config {
	return Config{
		Interval:          "1m",
		Candles:           200,
		DepthLimit:        20,
		TradesLimit:       100,
		RequestsPerSecond: 10,
		Burst:             5,
		HTTPTimeout:       10 * time.Second,
	}
}

// api is the subset of the exchange the provider reads.
type api interface {
	Klines(ctx context.Context, symbol, interval string, limit int) ([]market.Candle, error)
	Stats24h(ctx context.Context, symbol string) (last, quoteVolume float64, err error)
	BookTicker(ctx context.Context, symbol string) (bid, ask float64, err error)
	Depth(ctx context.Context, symbol string, limit int) (market.OrderBook, error)
	RecentTrades(ctx context.Context, symbol string, limit int) ([]market.Trade, error)
	FundingRate(ctx context.Context, symbol string) (float64, error)
	OpenInterest(ctx context.Context, symbol string) (float64, error)
}

// Provider implements market.Provider. Candles and the 24h ticker are
// required; book, trades, funding and open interest are best effort.
type Provider struct {
	cfg     Config
	api     api
	limiter *rate.Limiter
	now     func() time.Time
	log     *zap.Logger
}

func New(cfg Config, log *zap.Logger) *Provider {
	return newProvider(cfg, newFuturesAPI(cfg), log)
}

func newProvider(cfg Config, a api, log *zap.Logger) *Provider {
	if log == nil {
		log = zap.NewNop()
	}
	return &Provider{
		cfg:     cfg,
		api:     a,
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), max(cfg.Burst, 1)),
		now:     time.Now,
		log:     log,
	}
}

// Symbol maps "BTC/USDT" or "btc-usdt" to the exchange form "BTCUSDT".
func Symbol(instrument string) string {
	r := strings.NewReplacer("/", "", "-", "", "_", "", ":USDT", "")
	return strings.ToUpper(r.Replace(strings.TrimSpace(instrument)))
}

func (p *Provider) Fetch(ctx context.Context, instrument string) (*market.Data, error) {
	sym := Symbol(instrument)
	if sym == "" {
		return nil, fmt.Errorf("empty instrument: %w", market.ErrNoData)
	}

	var (
		candles     []market.Candle
		last, qv    float64
		bid, ask    float64
		book        market.OrderBook
		trades      []market.Trade
		funding, oi *float64
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return p.call(gctx, "klines", func(ctx context.Context) (err error) {
			candles, err = p.api.Klines(ctx, sym, p.cfg.Interval, p.cfg.Candles)
			return err
		})
	})
	g.Go(func() error {
		return p.call(gctx, "ticker_24h", func(ctx context.Context) (err error) {
			last, qv, err = p.api.Stats24h(ctx, sym)
			return err
		})
	})
	g.Go(func() error {
		p.optional(gctx, sym, "book_ticker", func(ctx context.Context) (err error) {
			bid, ask, err = p.api.BookTicker(ctx, sym)
			return err
		})
		return nil
	})
	g.Go(func() error {
		p.optional(gctx, sym, "depth", func(ctx context.Context) (err error) {
			book, err = p.api.Depth(ctx, sym, p.cfg.DepthLimit)
			return err
		})
		return nil
	})
	if p.cfg.TradesLimit > 0 {
		g.Go(func() error {
			p.optional(gctx, sym, "trades", func(ctx context.Context) (err error) {
				trades, err = p.api.RecentTrades(ctx, sym, p.cfg.TradesLimit)
				return err
			})
			return nil
		})
	}
	g.Go(func() error {
		p.optional(gctx, sym, "funding", func(ctx context.Context) error {
			v, err := p.api.FundingRate(ctx, sym)
			if err == nil {
				funding = &v
			}
			return err
		})
		return nil
	})
	g.Go(func() error {
		p.optional(gctx, sym, "open_interest", func(ctx context.Context) error {
			v, err := p.api.OpenInterest(ctx, sym)
			if err == nil {
				oi = &v
			}
			return err
		})
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("binance %s: %w", sym, err)
	}
	if len(candles) == 0 {
		return nil, fmt.Errorf("binance %s: no klines: %w", sym, market.ErrNoData)
	}

	return &market.Data{
		Instrument:   instrument,
		Candles:      candles,
		Ticker:       market.Ticker{Last: last, Bid: bid, Ask: ask, QuoteVolume: qv},
		Book:         book,
		RecentTrades: trades,
		FundingRate:  funding,
		OpenInterest: oi,
		FetchedAt:    p.now(),
	}, nil
}

// call waits for a rate-limit token and runs fn.
func (p *Provider) call(ctx context.Context, endpoint string, fn func(context.Context) error) error {
	if err := p.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%s: rate limit wait: %w", endpoint, err)
	}
	if err := fn(ctx); err != nil {
		return fmt.Errorf("%s: %w", endpoint, err)
	}
	return nil
}

func (p *Provider) optional(ctx context.Context, sym, endpoint string, fn func(context.Context) error) {
	if err := p.call(ctx, endpoint, fn); err != nil && !errors.Is(err, context.Canceled) {
		p.log.Debug("optional market data missing",
			zap.String("symbol", sym),
			zap.String("endpoint", endpoint),
			zap.Error(err))
	}
}
