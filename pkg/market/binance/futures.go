package binance

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2/futures"

	"github.com/Yoogi-7/BitgetBot/internal/market"
)

// futuresAPI adapts the go-binance futures client.
type futuresAPI struct {
	client *futures.Client
}

func newFuturesAPI(cfg Config) *futuresAPI {
	futures.UseTestnet = cfg.Testnet
	client := futures.NewClient("", "")
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		client.BaseURL = base
	}
	client.HTTPClient = &http.Client{Timeout: cfg.HTTPTimeout}
	return &futuresAPI{client: client}
}

func (f *futuresAPI) Klines(ctx context.Context, symbol, interval string, limit int) ([]market.Candle, error) {
	kls, err := f.client.NewKlinesService().Symbol(symbol).Interval(interval).Limit(limit).Do(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]market.Candle, 0, len(kls))
	for _, k := range kls {
		if k == nil {
			continue
		}
		out = append(out, market.Candle{
			OpenTime: time.UnixMilli(k.OpenTime).UTC(),
			Open:     parseFloat(k.Open),
			High:     parseFloat(k.High),
			Low:      parseFloat(k.Low),
			Close:    parseFloat(k.Close),
			Volume:   parseFloat(k.Volume),
		})
	}
	return out, nil
}

func (f *futuresAPI) Stats24h(ctx context.Context, symbol string) (float64, float64, error) {
	res, err := f.client.NewListPriceChangeStatsService().Symbol(symbol).Do(ctx)
	if err != nil {
		return 0, 0, err
	}
	for _, s := range res {
		if s != nil && strings.EqualFold(s.Symbol, symbol) {
			return parseFloat(s.LastPrice), parseFloat(s.QuoteVolume), nil
		}
	}
	return 0, 0, fmt.Errorf("no 24h stats for %s: %w", symbol, market.ErrNoData)
}

func (f *futuresAPI) BookTicker(ctx context.Context, symbol string) (float64, float64, error) {
	res, err := f.client.NewListBookTickersService().Symbol(symbol).Do(ctx)
	if err != nil {
		return 0, 0, err
	}
	for _, t := range res {
		if t != nil && strings.EqualFold(t.Symbol, symbol) {
			return parseFloat(t.BidPrice), parseFloat(t.AskPrice), nil
		}
	}
	return 0, 0, fmt.Errorf("no book ticker for %s: %w", symbol, market.ErrNoData)
}

func (f *futuresAPI) Depth(ctx context.Context, symbol string, limit int) (market.OrderBook, error) {
	res, err := f.client.NewDepthService().Symbol(symbol).Limit(limit).Do(ctx)
	if err != nil {
		return market.OrderBook{}, err
	}
	book := market.OrderBook{
		Bids: make([]market.Level, 0, len(res.Bids)),
		Asks: make([]market.Level, 0, len(res.Asks)),
	}
	for _, b := range res.Bids {
		book.Bids = append(book.Bids, market.Level{Price: parseFloat(b.Price), Qty: parseFloat(b.Quantity)})
	}
	for _, a := range res.Asks {
		book.Asks = append(book.Asks, market.Level{Price: parseFloat(a.Price), Qty: parseFloat(a.Quantity)})
	}
	return book, nil
}

func (f *futuresAPI) RecentTrades(ctx context.Context, symbol string, limit int) ([]market.Trade, error) {
	res, err := f.client.NewRecentTradesService().Symbol(symbol).Limit(limit).Do(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]market.Trade, 0, len(res))
	for _, t := range res {
		if t == nil {
			continue
		}
		out = append(out, market.Trade{
			Price: parseFloat(t.Price),
			Qty:   parseFloat(t.Quantity),
			Time:  time.UnixMilli(t.Time).UTC(),
			// the taker bought when the maker was the seller
			Buy: !t.IsBuyerMaker,
		})
	}
	return out, nil
}

func (f *futuresAPI) FundingRate(ctx context.Context, symbol string) (float64, error) {
	res, err := f.client.NewPremiumIndexService().Symbol(symbol).Do(ctx)
	if err != nil {
		return 0, err
	}
	for _, e := range res {
		if e != nil && strings.EqualFold(e.Symbol, symbol) {
			return parseFloat(e.LastFundingRate), nil
		}
	}
	if len(res) > 0 && res[0] != nil {
		return parseFloat(res[0].LastFundingRate), nil
	}
	return 0, fmt.Errorf("no premium index for %s: %w", symbol, market.ErrNoData)
}

func (f *futuresAPI) OpenInterest(ctx context.Context, symbol string) (float64, error) {
	res, err := f.client.NewGetOpenInterestService().Symbol(symbol).Do(ctx)
	if err != nil {
		return 0, err
	}
	return parseFloat(res.OpenInterest), nil
}

func parseFloat(v string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return 0
	}
	return f
}
