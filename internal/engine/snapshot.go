package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/voltex/trade-engine/internal/metrics"
	"github.com/voltex/trade-engine/internal/model"
	"github.com/voltex/trade-engine/internal/store"
)

// snapshotLoop persists a full snapshot on a fixed interval. A failed write
// is logged and non-fatal; the next tick retries.
func (e *Engine) snapshotLoop(ctx context.Context) {
	ticker := time.NewTicker(e.snapshotInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := e.persistSnapshot(ctx); err != nil {
				slog.Error("snapshot failed", "err", err)
			}
		}
	}
}

// persistSnapshot captures the full ledger plus applied offsets and appends
// one immutable snapshot record.
func (e *Engine) persistSnapshot(ctx context.Context) error {
	start := time.Now()
	orders, balances := e.ledger.Snapshot()
	snap := &model.Snapshot{
		OpenOrders: orders,
		Balances:   balances,
		Offsets:    e.currentOffsets(),
		CreatedAt:  time.Now().UTC(),
	}

	if err := e.gateway.CreateSnapshot(ctx, snap); err != nil {
		metrics.SnapshotsTotal.WithLabelValues("error").Inc()
		return err
	}

	metrics.SnapshotsTotal.WithLabelValues("ok").Inc()
	metrics.SnapshotDuration.Observe(time.Since(start).Seconds())
	slog.Debug("snapshot persisted",
		"open_orders", len(orders),
		"balances", len(balances),
		"price_offset", snap.Offsets.Prices,
		"trade_offset", snap.Offsets.Trades,
	)
	return nil
}

// restore loads the newest snapshot and wholesale-replaces the ledger from
// it. With no snapshot, balances are seeded from the durable store and the
// order set starts empty. Any failure is logged and the engine proceeds with
// empty state rather than crashing (degraded start); the consumer-group
// cursor governs stream resumption either way, the restored offsets are
// bookkeeping only.
func (e *Engine) restore(ctx context.Context) {
	snap, err := e.gateway.GetLatestSnapshot(ctx)
	if err == nil {
		e.ledger.Restore(snap.OpenOrders, snap.Balances)
		e.offsetMu.Lock()
		e.offsets = snap.Offsets
		e.offsetMu.Unlock()
		metrics.OpenOrders.Set(float64(len(snap.OpenOrders)))
		e.mirrorLedger(ctx)
		slog.Info("state restored from snapshot",
			"created_at", snap.CreatedAt,
			"open_orders", len(snap.OpenOrders),
			"balances", len(snap.Balances),
		)
		return
	}

	if errors.Is(err, store.ErrNoSnapshot) {
		balances, err := e.gateway.ListUserBalances(ctx)
		if err != nil {
			slog.Error("balance seed failed, starting empty", "err", err)
			return
		}
		for userID, balance := range balances {
			e.ledger.SetBalance(userID, balance)
		}
		e.mirrorLedger(ctx)
		slog.Info("no snapshot found, balances seeded from store", "users", len(balances))
		return
	}

	slog.Error("snapshot restore failed, starting empty", "err", err)
}

// mirrorLedger rewrites the fast mirror from the restored ledger so the API
// layer never serves orders or balances left over from before the restart.
// Failures are logged; the mirror converges on the next mutation.
func (e *Engine) mirrorLedger(ctx context.Context) {
	orders, balances := e.ledger.Snapshot()

	byUser := make(map[string][]model.Order)
	for _, o := range orders {
		byUser[o.UserID] = append(byUser[o.UserID], o)
	}
	users := make(map[string]bool, len(balances))
	for userID := range balances {
		users[userID] = true
	}
	for userID := range byUser {
		users[userID] = true
	}

	for userID := range users {
		if err := e.mirror.SetBalance(ctx, userID, balances[userID]); err != nil {
			slog.Error("mirror balance rewrite failed", "user", userID, "err", err)
		}
		if err := e.mirror.ReplaceOrders(ctx, userID, byUser[userID]); err != nil {
			slog.Error("mirror orders rewrite failed", "user", userID, "err", err)
		}
	}
}
