package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/voltex/trade-engine/internal/model"
)

// PostgresGateway implements Gateway using PostgreSQL as the source of truth.
// Monetary values are stored as NUMERIC for exact decimal precision; the
// snapshot maps are stored as JSONB.
type PostgresGateway struct {
	pool *pgxpool.Pool
}

// NewPostgresGateway creates a PostgreSQL-backed gateway.
func NewPostgresGateway(pool *pgxpool.Pool) *PostgresGateway {
	return &PostgresGateway{pool: pool}
}

func (g *PostgresGateway) CreateSnapshot(ctx context.Context, snap *model.Snapshot) error {
	orders, err := json.Marshal(snap.OpenOrders)
	if err != nil {
		return fmt.Errorf("marshal open orders: %w", err)
	}
	balances, err := json.Marshal(snap.Balances)
	if err != nil {
		return fmt.Errorf("marshal balances: %w", err)
	}
	_, err = g.pool.Exec(ctx,
		`INSERT INTO engine_snapshots (open_orders, balances, price_offset, trade_offset, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		orders, balances, snap.Offsets.Prices, snap.Offsets.Trades, snap.CreatedAt,
	)
	return err
}

func (g *PostgresGateway) GetLatestSnapshot(ctx context.Context) (*model.Snapshot, error) {
	var orders, balances []byte
	var snap model.Snapshot

	err := g.pool.QueryRow(ctx,
		`SELECT open_orders, balances, price_offset, trade_offset, created_at
		 FROM engine_snapshots ORDER BY created_at DESC LIMIT 1`).
		Scan(&orders, &balances, &snap.Offsets.Prices, &snap.Offsets.Trades, &snap.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, ErrNoSnapshot
	}
	if err != nil {
		return nil, fmt.Errorf("get latest snapshot: %w", err)
	}

	if err := json.Unmarshal(orders, &snap.OpenOrders); err != nil {
		return nil, fmt.Errorf("unmarshal open orders: %w", err)
	}
	if err := json.Unmarshal(balances, &snap.Balances); err != nil {
		return nil, fmt.Errorf("unmarshal balances: %w", err)
	}
	return &snap, nil
}

func (g *PostgresGateway) AppendClosedTrade(ctx context.Context, t *model.ClosedTrade) error {
	var assetID int64
	err := g.pool.QueryRow(ctx,
		`SELECT id FROM assets WHERE symbol = $1`, t.AssetSymbol).Scan(&assetID)
	if err == pgx.ErrNoRows {
		return fmt.Errorf("%w: %s", ErrAssetUnknown, t.AssetSymbol)
	}
	if err != nil {
		return fmt.Errorf("resolve asset %s: %w", t.AssetSymbol, err)
	}

	_, err = g.pool.Exec(ctx,
		`INSERT INTO closed_trades (user_id, asset_id, open_price, close_price, leverage, margin, quantity, pnl, closed_at)
		 VALUES ($1, $2, $3::NUMERIC, $4::NUMERIC, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC, $8::NUMERIC, $9)`,
		t.UserID, assetID,
		t.OpenPrice.String(), t.ClosePrice.String(),
		t.Leverage.String(), t.Margin.String(),
		t.Quantity.String(), t.PnL.String(),
		t.ClosedAt,
	)
	return err
}

func (g *PostgresGateway) EnsureAssets(ctx context.Context, assets []model.Asset) error {
	for _, a := range assets {
		_, err := g.pool.Exec(ctx,
			`INSERT INTO assets (symbol, name, decimals)
			 VALUES ($1, $2, $3)
			 ON CONFLICT (symbol) DO NOTHING`,
			a.Symbol, a.Name, a.Decimals,
		)
		if err != nil {
			return fmt.Errorf("ensure asset %s: %w", a.Symbol, err)
		}
	}
	return nil
}

func (g *PostgresGateway) GetUserBalance(ctx context.Context, userID string) (decimal.Decimal, error) {
	var s string
	err := g.pool.QueryRow(ctx,
		`SELECT balance::TEXT FROM users WHERE id = $1`, userID).Scan(&s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("get balance for %s: %w", userID, err)
	}
	balance, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse balance for %s: %w", userID, err)
	}
	return balance, nil
}

func (g *PostgresGateway) UpdateUserBalance(ctx context.Context, userID string, balance decimal.Decimal) error {
	_, err := g.pool.Exec(ctx,
		`UPDATE users SET balance = $2::NUMERIC WHERE id = $1`,
		userID, balance.String(),
	)
	return err
}

func (g *PostgresGateway) ListUserBalances(ctx context.Context) (map[string]decimal.Decimal, error) {
	rows, err := g.pool.Query(ctx, `SELECT id, balance::TEXT FROM users`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	balances := make(map[string]decimal.Decimal)
	for rows.Next() {
		var id, s string
		if err := rows.Scan(&id, &s); err != nil {
			return nil, err
		}
		b, err := decimal.NewFromString(s)
		if err != nil {
			return nil, fmt.Errorf("parse balance for %s: %w", id, err)
		}
		balances[id] = b
	}
	return balances, rows.Err()
}
