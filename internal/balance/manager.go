// Package balance tracks the paper account: cash, margin locked by open
// positions, and realized PnL. Amounts are decimals so repeated fills do not
// drift.
package balance

import (
	"errors"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var ErrInsufficientFunds = errors.New("insufficient available balance")

// Balance is a point-in-time view of the account.
type Balance struct {
	Total     decimal.Decimal `json:"total"`
	Available decimal.Decimal `json:"available"`
	Locked    decimal.Decimal `json:"locked"`
	Realized  decimal.Decimal `json:"realized_pnl"`
}

type Manager struct {
	mu        sync.RWMutex
	total     decimal.Decimal
	available decimal.Decimal
	locked    decimal.Decimal
	realized  decimal.Decimal
	log       *zap.Logger
}

func NewManager(initial decimal.Decimal, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	log.Info("initial balance set", zap.String("amount", initial.StringFixed(2)))
	return &Manager{total: initial, available: initial, log: log}
}

// Lock reserves amount of available balance as margin.
func (m *Manager) Lock(amount decimal.Decimal) error {
	if amount.IsNegative() {
		return fmt.Errorf("lock negative amount %s", amount)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if amount.GreaterThan(m.available) {
		return fmt.Errorf("need %s, have %s: %w", amount.StringFixed(2), m.available.StringFixed(2), ErrInsufficientFunds)
	}
	m.available = m.available.Sub(amount)
	m.locked = m.locked.Add(amount)
	m.log.Debug("balance locked", zap.String("amount", amount.StringFixed(4)), zap.String("available", m.available.StringFixed(4)))
	return nil
}

// Settle releases margin and books pnl (negative for losses and fees).
func (m *Manager) Settle(margin, pnl decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if margin.GreaterThan(m.locked) {
		margin = m.locked
	}
	m.locked = m.locked.Sub(margin)
	m.available = m.available.Add(margin).Add(pnl)
	m.total = m.total.Add(pnl)
	m.realized = m.realized.Add(pnl)
	m.log.Debug("balance settled",
		zap.String("margin", margin.StringFixed(4)),
		zap.String("pnl", pnl.StringFixed(4)),
		zap.String("total", m.total.StringFixed(4)))
}

// Charge books a cost (fees) without touching margin.
func (m *Manager) Charge(amount decimal.Decimal) {
	m.Settle(decimal.Zero, amount.Neg())
}

func (m *Manager) Snapshot() Balance {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Balance{Total: m.total, Available: m.available, Locked: m.locked, Realized: m.realized}
}
