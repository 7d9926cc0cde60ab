// Package cache holds the last traded price per instrument.
package cache

import (
	"hash/fnv"
	"sync"
	"time"
)

const numShards = 16

// Prices is a sharded last-price board. The orchestrator writes it once per
// fetched instrument; executors and the status API read it.
type Prices struct {
	now    func() time.Time
	shards [numShards]*shard
}

type shard struct {
	mu    sync.RWMutex
	items map[string]entry
}

type entry struct {
	price     float64
	updatedAt time.Time
}

// NewPrices creates an empty board. now may be nil.
func NewPrices(now func() time.Time) *Prices {
	if now == nil {
		now = time.Now
	}
	p := &Prices{now: now}
	for i := range p.shards {
		p.shards[i] = &shard{items: make(map[string]entry)}
	}
	return p
}

func (p *Prices) shard(key string) *shard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return p.shards[h.Sum32()%numShards]
}

// Set stores a price. Non-positive prices are ignored.
func (p *Prices) Set(instrument string, price float64) {
	if price <= 0 {
		return
	}
	s := p.shard(instrument)
	s.mu.Lock()
	s.items[instrument] = entry{price: price, updatedAt: p.now()}
	s.mu.Unlock()
}

func (p *Prices) LastPrice(instrument string) (float64, bool) {
	s := p.shard(instrument)
	s.mu.RLock()
	e, ok := s.items[instrument]
	s.mu.RUnlock()
	return e.price, ok
}

// Age is how long ago the instrument's price was written.
func (p *Prices) Age(instrument string) (time.Duration, bool) {
	s := p.shard(instrument)
	s.mu.RLock()
	e, ok := s.items[instrument]
	s.mu.RUnlock()
	if !ok {
		return 0, false
	}
	return p.now().Sub(e.updatedAt), true
}

func (p *Prices) Len() int {
	total := 0
	for _, s := range p.shards {
		s.mu.RLock()
		total += len(s.items)
		s.mu.RUnlock()
	}
	return total
}

// Cleanup drops prices older than maxAge and returns how many went.
func (p *Prices) Cleanup(maxAge time.Duration) int {
	cutoff := p.now().Add(-maxAge)
	removed := 0
	for _, s := range p.shards {
		s.mu.Lock()
		for sym, e := range s.items {
			if e.updatedAt.Before(cutoff) {
				delete(s.items, sym)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed
}

// All returns a copy of every price.
func (p *Prices) All() map[string]float64 {
	out := make(map[string]float64)
	for _, s := range p.shards {
		s.mu.RLock()
		for sym, e := range s.items {
			out[sym] = e.price
		}
		s.mu.RUnlock()
	}
	return out
}
