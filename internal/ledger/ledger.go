// Package ledger is the authoritative in-process record of open orders and
// user balances. Exactly one trade runner and one close runner mutate it
// (plus the synchronous close path), so a single mutex serializes all writes
// into one logical timeline; readers get point-in-time copies.
package ledger

import (
	"errors"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/voltex/trade-engine/internal/model"
)

var (
	// ErrOrderNotFound is returned when closing an order id that is not open.
	ErrOrderNotFound = errors.New("ledger: order not found")

	// ErrInsufficientBalance is returned when a user's balance cannot cover
	// the margin of a new position.
	ErrInsufficientBalance = errors.New("ledger: insufficient balance")
)

// Ledger holds every open order and every user balance. Orders live here
// only while open: closing deletes the order and credits margin + pnl back
// to the owner in one step.
type Ledger struct {
	mu       sync.Mutex
	orders   map[string]model.Order
	balances map[string]decimal.Decimal
}

// New creates an empty ledger.
func New() *Ledger {
	return &Ledger{
		orders:   make(map[string]model.Order),
		balances: make(map[string]decimal.Decimal),
	}
}

// Open records a new order and debits its margin from the owner's balance.
// Fails with ErrInsufficientBalance if the balance cannot cover the margin;
// the ledger is unchanged on failure.
func (l *Ledger) Open(order model.Order) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.balances[order.UserID].LessThan(order.Margin) {
		return ErrInsufficientBalance
	}
	l.balances[order.UserID] = l.balances[order.UserID].Sub(order.Margin)
	l.orders[order.OrderID] = order
	return nil
}

// Close removes an open order and credits margin + pnl back to its owner,
// where pnl is computed by the caller-supplied function from the order.
// Fails with ErrOrderNotFound if the id is not open.
func (l *Ledger) Close(orderID string, pnlOf func(model.Order) decimal.Decimal) (model.Order, decimal.Decimal, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	order, ok := l.orders[orderID]
	if !ok {
		return model.Order{}, decimal.Zero, ErrOrderNotFound
	}
	pnl := pnlOf(order)
	delete(l.orders, orderID)
	l.balances[order.UserID] = l.balances[order.UserID].Add(order.Margin).Add(pnl)
	return order, pnl, nil
}

// Reinstate undoes a close whose durable write failed: the order is put
// back and the credited margin + pnl is debited again, restoring the
// pre-close state exactly.
func (l *Ledger) Reinstate(order model.Order, pnl decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.orders[order.OrderID] = order
	l.balances[order.UserID] = l.balances[order.UserID].Sub(order.Margin).Sub(pnl)
}

// Order returns a copy of one open order.
func (l *Ledger) Order(orderID string) (model.Order, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	o, ok := l.orders[orderID]
	return o, ok
}

// Balance returns a user's current balance. Unknown users have zero.
func (l *Ledger) Balance(userID string) decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[userID]
}

// SetBalance overwrites a user's balance. Used when seeding from the durable
// store at cold start.
func (l *Ledger) SetBalance(userID string, balance decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[userID] = balance
}

// Adjust applies a signed delta to a user's balance.
func (l *Ledger) Adjust(userID string, delta decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[userID] = l.balances[userID].Add(delta)
}

// OrdersByUser returns copies of a user's open orders.
func (l *Ledger) OrdersByUser(userID string) []model.Order {
	l.mu.Lock()
	defer l.mu.Unlock()
	var orders []model.Order
	for _, o := range l.orders {
		if o.UserID == userID {
			orders = append(orders, o)
		}
	}
	return orders
}

// OpenCount returns the number of open orders.
func (l *Ledger) OpenCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.orders)
}

// Snapshot deep-copies the full ledger state.
func (l *Ledger) Snapshot() (map[string]model.Order, map[string]decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()

	orders := make(map[string]model.Order, len(l.orders))
	for id, o := range l.orders {
		orders[id] = o
	}
	balances := make(map[string]decimal.Decimal, len(l.balances))
	for id, b := range l.balances {
		balances[id] = b
	}
	return orders, balances
}

// Restore wholesale-replaces ledger state from a snapshot.
func (l *Ledger) Restore(orders map[string]model.Order, balances map[string]decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.orders = make(map[string]model.Order, len(orders))
	for id, o := range orders {
		l.orders[id] = o
	}
	l.balances = make(map[string]decimal.Decimal, len(balances))
	for id, b := range balances {
		l.balances[id] = b
	}
}
