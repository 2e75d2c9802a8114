package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/voltex/trade-engine/internal/model"
)

// MemoryGateway implements Gateway with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryGateway struct {
	mu        sync.RWMutex
	snapshots []model.Snapshot
	closed    []model.ClosedTrade
	assets    map[string]model.Asset
	balances  map[string]decimal.Decimal
	nextID    int64
}

// NewMemoryGateway creates a new in-memory gateway.
func NewMemoryGateway() *MemoryGateway {
	return &MemoryGateway{
		assets:   make(map[string]model.Asset),
		balances: make(map[string]decimal.Decimal),
		nextID:   1,
	}
}

func (g *MemoryGateway) CreateSnapshot(_ context.Context, snap *model.Snapshot) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	// Deep-copy so later ledger mutation cannot leak into the stored record.
	copied := model.Snapshot{
		OpenOrders: make(map[string]model.Order, len(snap.OpenOrders)),
		Balances:   make(map[string]decimal.Decimal, len(snap.Balances)),
		Offsets:    snap.Offsets,
		CreatedAt:  snap.CreatedAt,
	}
	for id, o := range snap.OpenOrders {
		copied.OpenOrders[id] = o
	}
	for id, b := range snap.Balances {
		copied.Balances[id] = b
	}
	g.snapshots = append(g.snapshots, copied)
	return nil
}

func (g *MemoryGateway) GetLatestSnapshot(_ context.Context) (*model.Snapshot, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if len(g.snapshots) == 0 {
		return nil, ErrNoSnapshot
	}
	latest := g.snapshots[0]
	for _, s := range g.snapshots[1:] {
		if s.CreatedAt.After(latest.CreatedAt) {
			latest = s
		}
	}
	return &latest, nil
}

func (g *MemoryGateway) AppendClosedTrade(_ context.Context, t *model.ClosedTrade) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.assets[t.AssetSymbol]; !ok {
		return fmt.Errorf("%w: %s", ErrAssetUnknown, t.AssetSymbol)
	}
	g.closed = append(g.closed, *t)
	return nil
}

func (g *MemoryGateway) EnsureAssets(_ context.Context, assets []model.Asset) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, a := range assets {
		if _, ok := g.assets[a.Symbol]; ok {
			continue
		}
		a.ID = g.nextID
		g.nextID++
		g.assets[a.Symbol] = a
	}
	return nil
}

func (g *MemoryGateway) GetUserBalance(_ context.Context, userID string) (decimal.Decimal, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	b, ok := g.balances[userID]
	if !ok {
		return decimal.Zero, fmt.Errorf("user %s not found", userID)
	}
	return b, nil
}

func (g *MemoryGateway) UpdateUserBalance(_ context.Context, userID string, balance decimal.Decimal) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.balances[userID] = balance
	return nil
}

func (g *MemoryGateway) ListUserBalances(_ context.Context) (map[string]decimal.Decimal, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	balances := make(map[string]decimal.Decimal, len(g.balances))
	for id, b := range g.balances {
		balances[id] = b
	}
	return balances, nil
}

// ClosedTrades returns the closed trades recorded so far (test helper).
func (g *MemoryGateway) ClosedTrades() []model.ClosedTrade {
	g.mu.RLock()
	defer g.mu.RUnlock()

	trades := make([]model.ClosedTrade, len(g.closed))
	copy(trades, g.closed)
	return trades
}

// SnapshotCount returns how many snapshots have been persisted (test helper).
func (g *MemoryGateway) SnapshotCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.snapshots)
}
