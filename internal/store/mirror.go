package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/voltex/trade-engine/internal/model"
)

// RedisMirror implements Mirror on Redis. Written on every ledger mutation;
// the API layer reads these keys directly for balance and open-order views
// without crossing into the engine process. Mirror state is eventually
// consistent with the ledger.
type RedisMirror struct {
	rdb *redis.Client
}

// NewRedisMirror creates a Redis-backed mirror.
func NewRedisMirror(rdb *redis.Client) *RedisMirror {
	return &RedisMirror{rdb: rdb}
}

func (m *RedisMirror) SetBalance(ctx context.Context, userID string, balance decimal.Decimal) error {
	return m.rdb.Set(ctx, balanceKey(userID), balance.String(), 0).Err()
}

func (m *RedisMirror) PutOrder(ctx context.Context, order model.Order) error {
	data, err := json.Marshal(order)
	if err != nil {
		return err
	}
	return m.rdb.HSet(ctx, ordersKey(order.UserID), order.OrderID, data).Err()
}

func (m *RedisMirror) RemoveOrder(ctx context.Context, userID, orderID string) error {
	return m.rdb.HDel(ctx, ordersKey(userID), orderID).Err()
}

// ReplaceOrders rewrites the whole orders hash in one transaction so readers
// never observe a half-cleared set.
func (m *RedisMirror) ReplaceOrders(ctx context.Context, userID string, orders []model.Order) error {
	pipe := m.rdb.TxPipeline()
	pipe.Del(ctx, ordersKey(userID))
	for _, order := range orders {
		data, err := json.Marshal(order)
		if err != nil {
			return err
		}
		pipe.HSet(ctx, ordersKey(userID), order.OrderID, data)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func balanceKey(userID string) string { return fmt.Sprintf("user:%s:balance", userID) }
func ordersKey(userID string) string  { return fmt.Sprintf("user:%s:orders", userID) }

// MemoryMirror implements Mirror with in-memory maps for tests.
type MemoryMirror struct {
	mu       sync.RWMutex
	balances map[string]decimal.Decimal
	orders   map[string]map[string]model.Order
}

// NewMemoryMirror creates an in-memory mirror.
func NewMemoryMirror() *MemoryMirror {
	return &MemoryMirror{
		balances: make(map[string]decimal.Decimal),
		orders:   make(map[string]map[string]model.Order),
	}
}

func (m *MemoryMirror) SetBalance(_ context.Context, userID string, balance decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[userID] = balance
	return nil
}

func (m *MemoryMirror) PutOrder(_ context.Context, order model.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.orders[order.UserID] == nil {
		m.orders[order.UserID] = make(map[string]model.Order)
	}
	m.orders[order.UserID][order.OrderID] = order
	return nil
}

func (m *MemoryMirror) RemoveOrder(_ context.Context, userID, orderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.orders[userID], orderID)
	return nil
}

func (m *MemoryMirror) ReplaceOrders(_ context.Context, userID string, orders []model.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	set := make(map[string]model.Order, len(orders))
	for _, o := range orders {
		set[o.OrderID] = o
	}
	m.orders[userID] = set
	return nil
}

// Balance returns the mirrored balance for a user (test helper).
func (m *MemoryMirror) Balance(userID string) (decimal.Decimal, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.balances[userID]
	return b, ok
}

// Orders returns the mirrored open orders for a user (test helper).
func (m *MemoryMirror) Orders(userID string) map[string]model.Order {
	m.mu.RLock()
	defer m.mu.RUnlock()
	orders := make(map[string]model.Order, len(m.orders[userID]))
	for id, o := range m.orders[userID] {
		orders[id] = o
	}
	return orders
}
