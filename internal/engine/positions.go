package engine

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Yoogi-7/BitgetBot/internal/events"
	"github.com/Yoogi-7/BitgetBot/internal/notify"
	"github.com/Yoogi-7/BitgetBot/internal/order"
	"github.com/Yoogi-7/BitgetBot/internal/position"
	"github.com/Yoogi-7/BitgetBot/internal/trade"
	"github.com/Yoogi-7/BitgetBot/internal/tradelog"
)

// manage walks every open position through the lifecycle.
func (o *Orchestrator) manage(ctx context.Context, an map[string]*analysis, rep *CycleReport) {
	now := o.d.Clock.Now()
	settled := false
	for _, p := range o.d.Book.All() {
		a := an[p.Instrument]
		if a == nil || a.err != nil {
			fields := []zap.Field{zap.String("symbol", p.Instrument), zap.String("position", p.ID)}
			if a != nil {
				fields = append(fields, zap.Error(a.err))
			}
			o.log.Warn("no market data for open position", fields...)
			continue
		}
		rep.Managed++

		d := o.d.Lifecycle.Evaluate(&p, a.snap, now)
		switch d.Kind {
		case position.Close:
			if o.closePosition(ctx, &p, reasonText(string(d.Reason), d.Detail), rep) {
				rep.Closed++
				settled = true
			}
			continue
		case position.PartialClose:
			if o.reduce(ctx, &p, d, rep) {
				rep.Reduced++
				settled = true
			}
			continue
		}

		m := o.d.Lifecycle.Modify(&p, a.snap)
		if m.Close {
			if o.closePosition(ctx, &p, reasonText(string(position.ReasonTrendReverse), strings.Join(m.Reasons, "; ")), rep) {
				rep.Closed++
				settled = true
			}
			continue
		}
		if !m.Empty() {
			o.d.Lifecycle.Apply(&p, m)
			o.log.Info("position modified",
				zap.String("symbol", p.Instrument),
				zap.String("position", p.ID),
				zap.Float64("stop_loss", p.StopLoss),
				zap.Float64("take_profit2", p.TakeProfit2),
				zap.Strings("reasons", m.Reasons))
			o.publish(events.EventPositionUpdated, p)
		}
		o.update(ctx, p)
	}

	if settled {
		if o.d.Risk.ResetPenalties() {
			o.log.Info("size penalty reset after win streak")
		}
		o.d.Risk.AdaptiveLeverageAdjustment()
	}
}

func reasonText(reason, detail string) string {
	if detail == "" {
		return reason
	}
	return reason + ": " + detail
}

func (o *Orchestrator) update(ctx context.Context, p position.Position) {
	if err := o.d.Book.Update(ctx, p); err != nil {
		o.log.Error("position update not saved", zap.String("position", p.ID), zap.Error(err))
	}
}

// closePosition exits p fully. On failure the position stays open with the
// state the lifecycle gave it.
func (o *Orchestrator) closePosition(ctx context.Context, p *position.Position, reason string, rep *CycleReport) bool {
	fill, err := o.place(ctx, order.Request{
		PositionID: p.ID,
		Instrument: p.Instrument,
		Side:       p.Side,
		Intent:     order.IntentClose,
		Reason:     reason,
	})
	if err != nil {
		o.fail(ctx, rep, "close order failed", err, zap.String("symbol", p.Instrument), zap.String("position", p.ID))
		o.update(ctx, *p)
		return false
	}

	closed := p.Close(fill.Price, fill.At, reason)
	closed.PnL = fill.PnL
	if err := o.d.Book.Remove(ctx, p.ID); err != nil {
		o.log.Error("closed position not removed from store", zap.String("position", p.ID), zap.Error(err))
	}
	o.settle(ctx, closed, tradelog.ActionClose)
	o.publish(events.EventPositionClosed, closed)
	o.notify(ctx, notify.TradeClosed(closed))
	o.log.Info("position closed",
		zap.String("symbol", closed.Instrument),
		zap.String("side", string(closed.Side)),
		zap.Float64("exit", closed.ExitPrice),
		zap.Float64("pnl", closed.PnL),
		zap.String("reason", reason))
	return true
}

// reduce takes the partial profit of a TP1 decision. A failed order leaves
// the book untouched so the rule fires again next cycle.
func (o *Orchestrator) reduce(ctx context.Context, p *position.Position, d position.Decision, rep *CycleReport) bool {
	reason := reasonText(string(d.Reason), d.Detail)
	if d.ExitRatio <= 0 || d.ExitRatio >= 1 {
		return o.closePosition(ctx, p, reason, rep)
	}
	fill, err := o.place(ctx, order.Request{
		PositionID: p.ID,
		Instrument: p.Instrument,
		Side:       p.Side,
		Intent:     order.IntentReduce,
		Size:       p.Size * d.ExitRatio,
		Reason:     reason,
	})
	if err != nil {
		o.fail(ctx, rep, "reduce order failed", err, zap.String("symbol", p.Instrument), zap.String("position", p.ID))
		return false
	}

	part := p.Reduce(d.ExitRatio, fill.Price, fill.At, reason)
	part.PnL = fill.PnL
	o.update(ctx, *p)
	o.settle(ctx, part, tradelog.ActionPartial)
	o.publish(events.EventPositionReduced, part)
	o.log.Info("position reduced",
		zap.String("symbol", p.Instrument),
		zap.String("position", p.ID),
		zap.Float64("closed_size", part.Size),
		zap.Float64("remaining", p.Size),
		zap.Float64("pnl", part.PnL))
	return true
}

// settle books a realized exit everywhere it is tracked.
func (o *Orchestrator) settle(ctx context.Context, c trade.Closed, action tradelog.Action) {
	o.d.Risk.RecordTrade(ctx, c)
	if o.d.KPI != nil {
		o.d.KPI.TrackTrade(ctx, c)
	}
	balanceAfter := 0.0
	if b, err := o.d.Executor.GetBalance(ctx); err == nil {
		balanceAfter = b.Total
	}
	o.appendLog(ctx, tradelog.FromClosed(c, action, balanceAfter))
	o.d.Metrics.IncOrders()

	o.mu.Lock()
	o.day.trades++
	o.day.pnl += c.PnL
	if c.Profitable() {
		o.day.wins++
	}
	o.mu.Unlock()
}

func (o *Orchestrator) open(ctx context.Context, c candidate, budget float64, rep *CycleReport) bool {
	sig := c.sig
	price := c.snap.Price
	if price <= 0 {
		return false
	}
	leverage := o.d.Risk.DynamicLeverage(c.snap.ATRPercent.Or(sig.ATR/price*100), sig.Strength.Total/100)
	sizeUsd := o.d.Risk.SizeWithLeverage(budget, price, sig.ATR, sig.Confidence, leverage)
	if sizeUsd <= 0 {
		o.log.Info("position size below minimum, signal skipped",
			zap.String("symbol", sig.Instrument),
			zap.Float64("budget", budget))
		return false
	}

	id := uuid.NewString()
	reason := strings.Join(sig.Reasons, "; ")
	fill, err := o.place(ctx, order.Request{
		PositionID: id,
		Instrument: sig.Instrument,
		Side:       sig.Side,
		Intent:     order.IntentOpen,
		Size:       sizeUsd / price,
		Leverage:   leverage,
		Reason:     reason,
	})
	if err != nil {
		o.fail(ctx, rep, "open order failed", err, zap.String("symbol", sig.Instrument), zap.Float64("size_usd", sizeUsd))
		return false
	}

	pos, err := position.New(id, sig, fill.Price, fill.Size, leverage, fill.At)
	if err != nil {
		o.fail(ctx, rep, "position not created after fill", err, zap.String("symbol", sig.Instrument))
		return false
	}
	if err := o.d.Book.Open(ctx, *pos); err != nil {
		o.log.Error("position not saved", zap.String("position", id), zap.Error(err))
	}

	balanceAfter := 0.0
	if b, err := o.d.Executor.GetBalance(ctx); err == nil {
		balanceAfter = b.Total
	}
	o.appendLog(ctx, tradelog.Record{
		PositionID:   pos.ID,
		Instrument:   pos.Instrument,
		Side:         pos.Side,
		Action:       tradelog.ActionOpen,
		StrategyID:   pos.StrategyID,
		Price:        pos.EntryPrice,
		Size:         pos.Size,
		SizeUsd:      pos.SizeUsd,
		PnL:          fill.PnL,
		Score:        pos.Score,
		Reason:       reason,
		BalanceAfter: balanceAfter,
		At:           pos.OpenedAt,
	})
	o.d.Metrics.IncOrders()
	o.publish(events.EventPositionOpened, *pos)
	o.notify(ctx, notify.TradeOpened(pos.Instrument, pos.Side, pos.EntryPrice, pos.SizeUsd, pos.Leverage, reason, pos.OpenedAt))
	o.log.Info("position opened",
		zap.String("symbol", pos.Instrument),
		zap.String("side", string(pos.Side)),
		zap.String("strategy", string(pos.StrategyID)),
		zap.Float64("entry", pos.EntryPrice),
		zap.Float64("size_usd", pos.SizeUsd),
		zap.Int("leverage", pos.Leverage),
		zap.Float64("score", pos.Score),
		zap.Float64("stop_loss", pos.StopLoss))
	return true
}
