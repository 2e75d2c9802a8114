// Package model defines the core domain types shared across the trade engine.
// All monetary values use shopspring/decimal — never float64 for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Order sides.
const (
	SideBuy  = "buy"
	SideSell = "sell"
)

// PriceSample is the latest observed price for one asset. Samples are
// overwritten in place; the engine keeps no price history.
type PriceSample struct {
	Asset     string          `json:"asset"`
	Price     decimal.Decimal `json:"price"`
	Timestamp time.Time       `json:"timestamp"`
}

// Order is an open leveraged position. Created atomically when a trade
// request executes, deleted atomically when the position closes.
//
// Invariants: Margin > 0, Leverage >= 1,
// PositionValue = Margin * Leverage, Quantity = PositionValue / ExecutionPrice.
type Order struct {
	OrderID        string          `json:"order_id" db:"order_id"`
	UserID         string          `json:"user_id" db:"user_id"`
	Asset          string          `json:"asset" db:"asset"`
	Side           string          `json:"side" db:"side"` // "buy" or "sell"
	Quantity       decimal.Decimal `json:"quantity" db:"quantity"`
	ExecutionPrice decimal.Decimal `json:"execution_price" db:"execution_price"`
	PositionValue  decimal.Decimal `json:"position_value" db:"position_value"`
	Margin         decimal.Decimal `json:"margin" db:"margin"`
	Leverage       decimal.Decimal `json:"leverage" db:"leverage"`
	Timestamp      time.Time       `json:"timestamp" db:"timestamp"`
}

// ClosedTrade is an immutable record of a closed position. Persisted exactly
// once per successful close, never modified or deleted.
type ClosedTrade struct {
	UserID      string          `json:"user_id" db:"user_id"`
	AssetSymbol string          `json:"asset_symbol" db:"asset_symbol"`
	OpenPrice   decimal.Decimal `json:"open_price" db:"open_price"`
	ClosePrice  decimal.Decimal `json:"close_price" db:"close_price"`
	Leverage    decimal.Decimal `json:"leverage" db:"leverage"`
	Margin      decimal.Decimal `json:"margin" db:"margin"`
	Quantity    decimal.Decimal `json:"quantity" db:"quantity"`
	PnL         decimal.Decimal `json:"pnl" db:"pnl"`
	ClosedAt    time.Time       `json:"closed_at" db:"closed_at"`
}

// Asset is one entry of the static asset catalog.
type Asset struct {
	ID       int64  `json:"id" db:"id"`
	Symbol   string `json:"symbol" db:"symbol"`
	Name     string `json:"name" db:"name"`
	Decimals int    `json:"decimals" db:"decimals"`
}

// Offsets records the last stream entry id the engine believes it has
// applied per stream. Persisted with each snapshot for audit; resumption is
// governed by the consumer group's server-side cursor, not these values.
type Offsets struct {
	Prices string `json:"prices"`
	Trades string `json:"trades"`
}

// Snapshot is a full copy of engine state at one instant. Snapshots are
// append-only; the newest one is authoritative and wholesale-replaces the
// ledger on restore.
type Snapshot struct {
	OpenOrders map[string]Order           `json:"open_orders"`
	Balances   map[string]decimal.Decimal `json:"balances"`
	Offsets    Offsets                    `json:"offset_ids"`
	CreatedAt  time.Time                  `json:"created_at"`
}
