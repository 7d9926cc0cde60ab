// Package state is the book of open positions, mirrored to the database so
// a restart resumes supervision.
package state

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/Yoogi-7/BitgetBot/internal/position"
	"github.com/Yoogi-7/BitgetBot/internal/trade"
	"github.com/Yoogi-7/BitgetBot/pkg/db"
)

// Store persists positions. *db.Database satisfies it.
type Store interface {
	UpsertPosition(ctx context.Context, p db.PositionRow) error
	DeletePosition(ctx context.Context, id string) error
	ListPositions(ctx context.Context) ([]db.PositionRow, error)
}

// Book keeps open positions by id. Callers receive copies; changes are made
// on a copy and written back with Update.
type Book struct {
	mu        sync.RWMutex
	positions map[string]position.Position
	store     Store
	log       *zap.Logger
}

// NewBook creates a book. store may be nil for an in-memory book.
func NewBook(store Store, log *zap.Logger) *Book {
	if log == nil {
		log = zap.NewNop()
	}
	return &Book{positions: make(map[string]position.Position), store: store, log: log}
}

// Load seeds the book from the store on startup.
func (b *Book) Load(ctx context.Context) error {
	if b.store == nil {
		return nil
	}
	rows, err := b.store.ListPositions(ctx)
	if err != nil {
		return fmt.Errorf("load positions: %w", err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, r := range rows {
		b.positions[r.ID] = fromRow(r)
	}
	b.log.Info("positions restored", zap.Int("count", len(rows)))
	return nil
}

// Open adds a new position.
func (b *Book) Open(ctx context.Context, p position.Position) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.positions[p.ID]; ok {
		return fmt.Errorf("position %s already open", p.ID)
	}
	return b.put(ctx, p)
}

// Update writes back a modified position.
func (b *Book) Update(ctx context.Context, p position.Position) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.positions[p.ID]; !ok {
		return fmt.Errorf("position %s not open", p.ID)
	}
	return b.put(ctx, p)
}

func (b *Book) put(ctx context.Context, p position.Position) error {
	if b.store != nil {
		if err := b.store.UpsertPosition(ctx, toRow(p)); err != nil {
			return fmt.Errorf("persist position %s: %w", p.ID, err)
		}
	}
	b.positions[p.ID] = clone(p)
	return nil
}

// Remove drops a closed position. The in-memory entry goes even when the
// store fails, so a closed position is never managed twice.
func (b *Book) Remove(ctx context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.positions, id)
	if b.store != nil {
		if err := b.store.DeletePosition(ctx, id); err != nil {
			return fmt.Errorf("delete position %s: %w", id, err)
		}
	}
	return nil
}

func (b *Book) Get(id string) (position.Position, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	p, ok := b.positions[id]
	return clone(p), ok
}

// All returns every open position, oldest first.
func (b *Book) All() []position.Position {
	b.mu.RLock()
	out := make([]position.Position, 0, len(b.positions))
	for _, p := range b.positions {
		out = append(out, clone(p))
	}
	b.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].OpenedAt.Equal(out[j].OpenedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].OpenedAt.Before(out[j].OpenedAt)
	})
	return out
}

func (b *Book) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.positions)
}

// CountFor is the number of open positions on instrument.
func (b *Book) CountFor(instrument string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n := 0
	for _, p := range b.positions {
		if p.Instrument == instrument {
			n++
		}
	}
	return n
}

func clone(p position.Position) position.Position {
	if p.TrailingStop != nil {
		v := *p.TrailingStop
		p.TrailingStop = &v
	}
	if p.ExitTime != nil {
		v := *p.ExitTime
		p.ExitTime = &v
	}
	return p
}

func toRow(p position.Position) db.PositionRow {
	return db.PositionRow{
		ID:             p.ID,
		Instrument:     p.Instrument,
		Side:           string(p.Side),
		StrategyID:     string(p.StrategyID),
		EntryPrice:     p.EntryPrice,
		Size:           p.Size,
		SizeUsd:        p.SizeUsd,
		StopLoss:       p.StopLoss,
		TakeProfit1:    p.TakeProfit1,
		TakeProfit2:    p.TakeProfit2,
		TrailingStop:   p.TrailingStop,
		TP1Hit:         p.TP1Hit,
		TrailingActive: p.TrailingActive,
		OpenedAt:       p.OpenedAt,
		ExitTime:       p.ExitTime,
		ATRAtEntry:     p.ATRAtEntry,
		EmergencyExit:  p.EmergencyExit,
		RiskAmount:     p.RiskAmount,
		Score:          p.Score,
		Leverage:       p.Leverage,
	}
}

func fromRow(r db.PositionRow) position.Position {
	return position.Position{
		ID:             r.ID,
		Instrument:     r.Instrument,
		Side:           trade.Side(r.Side),
		StrategyID:     trade.StrategyID(r.StrategyID),
		EntryPrice:     r.EntryPrice,
		Size:           r.Size,
		SizeUsd:        r.SizeUsd,
		Leverage:       r.Leverage,
		StopLoss:       r.StopLoss,
		TakeProfit1:    r.TakeProfit1,
		TakeProfit2:    r.TakeProfit2,
		TrailingStop:   r.TrailingStop,
		TP1Hit:         r.TP1Hit,
		TrailingActive: r.TrailingActive,
		OpenedAt:       r.OpenedAt,
		ExitTime:       r.ExitTime,
		ATRAtEntry:     r.ATRAtEntry,
		EmergencyExit:  r.EmergencyExit,
		RiskAmount:     r.RiskAmount,
		Score:          r.Score,
	}
}
