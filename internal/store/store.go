// Package store defines the persistence gateway for the trade engine.
// PostgreSQL is the source of truth for snapshots, closed trades, the asset
// catalog, and user balances; Redis carries a fast mirror that the API layer
// reads directly. An in-memory implementation backs the tests.
package store

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/voltex/trade-engine/internal/model"
)

var (
	// ErrNoSnapshot is returned by GetLatestSnapshot when none has ever
	// been persisted.
	ErrNoSnapshot = errors.New("store: no snapshot")

	// ErrAssetUnknown is returned when a closed trade references a symbol
	// missing from the asset catalog.
	ErrAssetUnknown = errors.New("store: asset unknown")
)

// Gateway is the durable-store contract the engine requires but does not own.
type Gateway interface {
	// CreateSnapshot appends one immutable engine snapshot.
	CreateSnapshot(ctx context.Context, snap *model.Snapshot) error

	// GetLatestSnapshot returns the newest persisted snapshot, or
	// ErrNoSnapshot if none exists.
	GetLatestSnapshot(ctx context.Context) (*model.Snapshot, error)

	// AppendClosedTrade persists one closed trade, resolving the asset
	// symbol to its catalog id. Fails with ErrAssetUnknown for symbols not
	// in the catalog.
	AppendClosedTrade(ctx context.Context, trade *model.ClosedTrade) error

	// EnsureAssets idempotently upserts the static asset catalog.
	EnsureAssets(ctx context.Context, assets []model.Asset) error

	// GetUserBalance reads one user's balance.
	GetUserBalance(ctx context.Context, userID string) (decimal.Decimal, error)

	// UpdateUserBalance overwrites one user's balance.
	UpdateUserBalance(ctx context.Context, userID string, balance decimal.Decimal) error

	// ListUserBalances returns every known user's balance. Used to seed the
	// ledger on a cold start with no snapshot.
	ListUserBalances(ctx context.Context) (map[string]decimal.Decimal, error)
}

// Mirror is the fast external key-value projection written on every ledger
// mutation. The API layer reads it without crossing into the engine process.
type Mirror interface {
	// SetBalance writes the per-user balance scalar.
	SetBalance(ctx context.Context, userID string, balance decimal.Decimal) error

	// PutOrder writes one open order into the user's orders hash.
	PutOrder(ctx context.Context, order model.Order) error

	// RemoveOrder deletes one order from the user's orders hash.
	RemoveOrder(ctx context.Context, userID, orderID string) error

	// ReplaceOrders overwrites the user's orders hash with exactly the given
	// set, discarding any stale entries. Used to resynchronize the mirror
	// after a restore.
	ReplaceOrders(ctx context.Context, userID string, orders []model.Order) error
}
