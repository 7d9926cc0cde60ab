package market

import (
	"errors"
	"fmt"
	"time"
)

// ErrNoData reports a fetch that returned nothing usable for an instrument.
var ErrNoData = errors.New("market data unavailable")

// Candle is one OHLCV bar.
type Candle struct {
	OpenTime time.Time
	Open     float64
	High     float64
	Low      float64
	Close    float64
	Volume   float64
}

// Level is one price level of an order book side.
type Level struct {
	Price float64
	Qty   float64
}

// OrderBook holds the top levels of both sides, best first.
type OrderBook struct {
	Bids []Level
	Asks []Level
}

func depthSum(levels []Level, depth int) float64 {
	if depth <= 0 || depth > len(levels) {
		depth = len(levels)
	}
	total := 0.0
	for _, l := range levels[:depth] {
		total += l.Qty
	}
	return total
}

// Imbalance is (bid-ask)/(bid+ask) over the top depth levels, in [-1, 1].
// ok is false when the book is empty.
func (b OrderBook) Imbalance(depth int) (float64, bool) {
	bid := depthSum(b.Bids, depth)
	ask := depthSum(b.Asks, depth)
	if bid+ask == 0 {
		return 0, false
	}
	return (bid - ask) / (bid + ask), true
}

// BidShare is bid volume over total volume on the top depth levels, in [0, 1].
func (b OrderBook) BidShare(depth int) (float64, bool) {
	bid := depthSum(b.Bids, depth)
	ask := depthSum(b.Asks, depth)
	if bid+ask == 0 {
		return 0, false
	}
	return bid / (bid + ask), true
}

// Spread is (bestAsk-bestBid)/mid.
func (b OrderBook) Spread() (float64, bool) {
	if len(b.Bids) == 0 || len(b.Asks) == 0 {
		return 0, false
	}
	bid, ask := b.Bids[0].Price, b.Asks[0].Price
	mid := (bid + ask) / 2
	if mid <= 0 {
		return 0, false
	}
	return (ask - bid) / mid, true
}

// Liquidity is the quote notional resting on the top depth levels of both sides.
func (b OrderBook) Liquidity(depth int) float64 {
	total := 0.0
	for _, side := range [][]Level{b.Bids, b.Asks} {
		n := depth
		if n <= 0 || n > len(side) {
			n = len(side)
		}
		for _, l := range side[:n] {
			total += l.Price * l.Qty
		}
	}
	return total
}

// Ticker is the latest 24h summary.
type Ticker struct {
	Last        float64
	Bid         float64
	Ask         float64
	QuoteVolume float64
}

// Trade is a public print.
type Trade struct {
	Price float64
	Qty   float64
	Time  time.Time
	Buy   bool
}

// Data is everything fetched for one instrument in one cycle.
type Data struct {
	Instrument   string
	Candles      []Candle
	Ticker       Ticker
	Book         OrderBook
	RecentTrades []Trade
	FundingRate  *float64
	OpenInterest *float64
	FetchedAt    time.Time
}

// LastPrice prefers the ticker and falls back to the last close.
func (d *Data) LastPrice() float64 {
	if d == nil {
		return 0
	}
	if d.Ticker.Last > 0 {
		return d.Ticker.Last
	}
	if n := len(d.Candles); n > 0 {
		return d.Candles[n-1].Close
	}
	return 0
}

// Validate rejects partial data so the instrument can be skipped for the cycle.
func (d *Data) Validate(minCandles int) error {
	if d == nil {
		return ErrNoData
	}
	if len(d.Candles) < minCandles {
		return fmt.Errorf("%s: %d candles, need %d: %w", d.Instrument, len(d.Candles), minCandles, ErrNoData)
	}
	if d.LastPrice() <= 0 {
		return fmt.Errorf("%s: no price: %w", d.Instrument, ErrNoData)
	}
	return nil
}
