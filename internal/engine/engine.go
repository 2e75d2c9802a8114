// Package engine wires the stream runners, price table, position ledger, and
// snapshot manager into one explicitly owned state value. The engine is
// constructed once in main and passed everywhere; all ledger mutation flows
// through it.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/voltex/trade-engine/internal/executor"
	"github.com/voltex/trade-engine/internal/ledger"
	"github.com/voltex/trade-engine/internal/metrics"
	"github.com/voltex/trade-engine/internal/model"
	"github.com/voltex/trade-engine/internal/pricing"
	"github.com/voltex/trade-engine/internal/store"
	"github.com/voltex/trade-engine/internal/stream"
)

// ErrNoPriceData is returned when a trade or close references an asset with
// no known price sample.
var ErrNoPriceData = errors.New("engine: no price data for asset")

// Config carries the engine's collaborators and tuning knobs.
type Config struct {
	Gateway store.Gateway
	Mirror  store.Mirror

	// One consumer per stream; each owns its consumer-group cursor.
	Prices *stream.Consumer
	Trades *stream.Consumer
	Closes *stream.Consumer

	// SnapshotInterval defaults to 30s.
	SnapshotInterval time.Duration

	// RetryDelay is the fixed pause after a transient failure. Defaults to 1s.
	RetryDelay time.Duration
}

// Engine owns all mutable engine state: the price table, the position
// ledger, and the applied-offset bookkeeping.
type Engine struct {
	prices  *pricing.Table
	ledger  *ledger.Ledger
	gateway store.Gateway
	mirror  store.Mirror

	priceConsumer *stream.Consumer
	tradeConsumer *stream.Consumer
	closeConsumer *stream.Consumer

	snapshotInterval time.Duration
	retryDelay       time.Duration

	offsetMu sync.Mutex
	offsets  model.Offsets
}

// New creates an engine. The ledger starts empty; Run restores state from
// the latest snapshot before consuming.
func New(cfg Config) *Engine {
	if cfg.SnapshotInterval <= 0 {
		cfg.SnapshotInterval = 30 * time.Second
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	return &Engine{
		prices:           pricing.NewTable(),
		ledger:           ledger.New(),
		gateway:          cfg.Gateway,
		mirror:           cfg.Mirror,
		priceConsumer:    cfg.Prices,
		tradeConsumer:    cfg.Trades,
		closeConsumer:    cfg.Closes,
		snapshotInterval: cfg.SnapshotInterval,
		retryDelay:       cfg.RetryDelay,
	}
}

// Run restores state, then drives the three stream runners and the snapshot
// timer until ctx is cancelled. On exit it waits for in-flight work and
// flushes a final snapshot.
func (e *Engine) Run(ctx context.Context) {
	e.restore(ctx)

	var wg sync.WaitGroup
	wg.Add(4)
	go func() {
		defer wg.Done()
		e.runConsumer(ctx, e.priceConsumer, e.applyPrice)
	}()
	go func() {
		defer wg.Done()
		e.runConsumer(ctx, e.tradeConsumer, e.applyTrade)
	}()
	go func() {
		defer wg.Done()
		e.runConsumer(ctx, e.closeConsumer, e.applyClose)
	}()
	go func() {
		defer wg.Done()
		e.snapshotLoop(ctx)
	}()
	wg.Wait()

	// Final flush happens after the runners stop, so it captures a quiescent
	// ledger. Uses a fresh context because ctx is already cancelled.
	flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.persistSnapshot(flushCtx); err != nil {
		slog.Error("final snapshot failed", "err", err)
	} else {
		slog.Info("final snapshot persisted")
	}
}

// consumer is the stream-cursor surface the runner loop needs. Satisfied by
// *stream.Consumer; tests substitute a fake.
type consumer interface {
	Stream() string
	EnsureGroup(ctx context.Context) error
	Fetch(ctx context.Context) ([]redis.XMessage, error)
	FetchPending(ctx context.Context, start string) ([]redis.XMessage, error)
	Ack(ctx context.Context, id string) error
}

// runConsumer is the shared runner loop: ensure the group exists, drain this
// consumer's pending backlog, then poll for new entries, processing them one
// at a time in delivery order and acknowledging on success. Domain failures
// skip the entry without acknowledging; transient failures pause for the
// fixed retry delay and re-drain before polling again.
func (e *Engine) runConsumer(ctx context.Context, c consumer, apply func(context.Context, redis.XMessage) error) {
	log := slog.With("stream", c.Stream())

	for ctx.Err() == nil {
		if err := c.EnsureGroup(ctx); err != nil {
			log.Error("consumer group create failed", "err", err)
			e.pause(ctx)
			continue
		}
		break
	}

	// Entries delivered but not acknowledged before the last shutdown sit in
	// the pending list; re-apply them before reading new ones. An entry that
	// was applied but not acked gets applied again (at-least-once).
	e.drainPending(ctx, c, apply, log)
	log.Info("consumer started")

	for ctx.Err() == nil {
		msgs, err := c.Fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			log.Error("stream fetch failed", "err", err)
			e.pause(ctx)
			continue
		}
		if n := e.handleBatch(ctx, c, msgs, apply, log); n < len(msgs) {
			// Transient failure mid-batch; the unacked remainder is pending
			// now, so recover it the same way as a restart backlog.
			e.pause(ctx)
			e.drainPending(ctx, c, apply, log)
		}
	}
	log.Info("consumer stopped")
}

// drainPending walks this consumer's unacknowledged entries in id order and
// re-applies them. Domain-rejected entries are skipped past (they stay
// pending for a later pass); a transient failure retries from the same
// position after the fixed pause.
func (e *Engine) drainPending(ctx context.Context, c consumer, apply func(context.Context, redis.XMessage) error, log *slog.Logger) {
	start := "0"
	for ctx.Err() == nil {
		msgs, err := c.FetchPending(ctx, start)
		if err != nil {
			log.Error("pending fetch failed", "err", err)
			e.pause(ctx)
			continue
		}
		if len(msgs) == 0 {
			return
		}
		log.Info("reprocessing pending entries", "count", len(msgs), "from", msgs[0].ID)
		if n := e.handleBatch(ctx, c, msgs, apply, log); n < len(msgs) {
			e.pause(ctx)
			continue
		}
		start = msgs[len(msgs)-1].ID
	}
}

// handleBatch applies entries in delivery order, acknowledging each success
// immediately. Returns how many entries were consumed (acknowledged or
// domain-skipped); a short count means a transient failure stopped the
// batch and the remainder should be retried.
func (e *Engine) handleBatch(ctx context.Context, c consumer, msgs []redis.XMessage, apply func(context.Context, redis.XMessage) error, log *slog.Logger) int {
	for i, msg := range msgs {
		if err := apply(ctx, msg); err != nil {
			class := failureClass(err)
			metrics.EntriesFailed.WithLabelValues(c.Stream(), class).Inc()
			if class == classDomain {
				// Skip without acknowledging; redelivery may retry it.
				log.Warn("entry rejected", "id", msg.ID, "err", err)
				continue
			}
			log.Error("entry processing failed", "id", msg.ID, "err", err)
			return i
		}
		if err := c.Ack(ctx, msg.ID); err != nil {
			// State was already applied; the entry stays pending and a
			// redelivery re-applies it (at-least-once).
			log.Error("ack failed", "id", msg.ID, "err", err)
			return i
		}
		metrics.EntriesProcessed.WithLabelValues(c.Stream()).Inc()
	}
	return len(msgs)
}

// applyPrice handles one price-updates-stream entry.
func (e *Engine) applyPrice(_ context.Context, msg redis.XMessage) error {
	update, err := stream.DecodePriceUpdate(msg)
	if err != nil {
		return err
	}
	e.prices.Apply(model.PriceSample{
		Asset:     update.Asset,
		Price:     update.Price,
		Timestamp: update.Timestamp,
	})
	e.setPriceOffset(msg.ID)
	return nil
}

// applyTrade handles one trade-requests-stream entry: execute against the
// current price, open the position, debit margin, then persist and mirror
// the mutation. Acknowledgment happens in the runner loop strictly after
// this returns nil.
func (e *Engine) applyTrade(ctx context.Context, msg redis.XMessage) error {
	req, err := stream.DecodeTradeRequest(msg)
	if err != nil {
		return err
	}

	sample, ok := e.prices.Get(req.Asset)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoPriceData, req.Asset)
	}

	order, err := executor.Execute(executor.Request{
		Asset:    req.Asset,
		UserID:   req.UserID,
		Side:     req.Side,
		Leverage: req.Leverage,
		Margin:   req.Margin,
		Slippage: req.Slippage,
	}, sample.Price)
	if err != nil {
		return err
	}

	if err := e.ledger.Open(order); err != nil {
		return err
	}
	e.setTradeOffset(msg.ID)

	balance := e.ledger.Balance(order.UserID)
	if err := e.gateway.UpdateUserBalance(ctx, order.UserID, balance); err != nil {
		return fmt.Errorf("persist balance: %w", err)
	}
	if err := e.mirror.SetBalance(ctx, order.UserID, balance); err != nil {
		return fmt.Errorf("mirror balance: %w", err)
	}
	if err := e.mirror.PutOrder(ctx, order); err != nil {
		return fmt.Errorf("mirror order: %w", err)
	}

	metrics.TradesOpened.WithLabelValues(order.Side).Inc()
	metrics.OpenOrders.Set(float64(e.ledger.OpenCount()))

	slog.Info("position opened",
		"order_id", order.OrderID,
		"user", order.UserID,
		"asset", order.Asset,
		"side", order.Side,
		"execution_price", order.ExecutionPrice.String(),
		"quantity", order.Quantity.String(),
		"margin", order.Margin.String(),
		"leverage", order.Leverage.String(),
	)
	return nil
}

// applyClose handles one trade-close-stream entry.
func (e *Engine) applyClose(ctx context.Context, msg redis.XMessage) error {
	req, err := stream.DecodeCloseRequest(msg)
	if err != nil {
		return err
	}
	_, err = e.CloseOrder(ctx, req.OrderID)
	return err
}

// CloseOrder closes an open position at the current price: the order is
// removed from the ledger, margin + pnl is credited back, and the closed
// trade is durably appended. Shared by the close runner and the synchronous
// HTTP path. Fails with ledger.ErrOrderNotFound for unknown ids and
// ErrNoPriceData when the order's asset has no sample.
func (e *Engine) CloseOrder(ctx context.Context, orderID string) (model.ClosedTrade, error) {
	order, ok := e.ledger.Order(orderID)
	if !ok {
		return model.ClosedTrade{}, ledger.ErrOrderNotFound
	}
	sample, ok := e.prices.Get(order.Asset)
	if !ok {
		return model.ClosedTrade{}, fmt.Errorf("%w: %s", ErrNoPriceData, order.Asset)
	}

	order, pnl, err := e.ledger.Close(orderID, func(o model.Order) decimal.Decimal {
		return executor.ClosePnL(o, sample.Price)
	})
	if err != nil {
		return model.ClosedTrade{}, err
	}

	closed := model.ClosedTrade{
		UserID:      order.UserID,
		AssetSymbol: order.Asset,
		OpenPrice:   order.ExecutionPrice,
		ClosePrice:  sample.Price,
		Leverage:    order.Leverage,
		Margin:      order.Margin,
		Quantity:    order.Quantity,
		PnL:         pnl,
		ClosedAt:    time.Now().UTC(),
	}

	// The durable append is the commit point of a close. If it fails, the
	// close did not happen: the order is reinstated and the credit taken
	// back, so the destroy + ClosedTrade pair stays atomic and a ClosedTrade
	// is persisted exactly once per successful close.
	if err := e.gateway.AppendClosedTrade(ctx, &closed); err != nil {
		e.ledger.Reinstate(order, pnl)
		return model.ClosedTrade{}, fmt.Errorf("append closed trade: %w", err)
	}

	// Past the commit point the balance row and the fast mirror are
	// projections: failures are logged, not returned, and the next mutation
	// or snapshot-restore reconciliation repairs them.
	balance := e.ledger.Balance(order.UserID)
	if err := e.gateway.UpdateUserBalance(ctx, order.UserID, balance); err != nil {
		slog.Error("balance persist failed after close", "user", order.UserID, "err", err)
	}
	if err := e.mirror.SetBalance(ctx, order.UserID, balance); err != nil {
		slog.Error("mirror balance write failed after close", "user", order.UserID, "err", err)
	}
	if err := e.mirror.RemoveOrder(ctx, order.UserID, orderID); err != nil {
		slog.Error("mirror order removal failed after close", "user", order.UserID, "err", err)
	}

	metrics.TradesClosed.Inc()
	metrics.OpenOrders.Set(float64(e.ledger.OpenCount()))

	slog.Info("position closed",
		"order_id", orderID,
		"user", order.UserID,
		"asset", order.Asset,
		"close_price", sample.Price.String(),
		"pnl", pnl.String(),
	)
	return closed, nil
}

// CurrentPrice returns the latest sample for an asset, if any. Part of the
// in-process read surface.
func (e *Engine) CurrentPrice(asset string) (model.PriceSample, bool) {
	return e.prices.Get(asset)
}

// OpenOrdersByUser returns copies of a user's open positions.
func (e *Engine) OpenOrdersByUser(userID string) []model.Order {
	return e.ledger.OrdersByUser(userID)
}

// Balance returns a user's in-process balance.
func (e *Engine) Balance(userID string) decimal.Decimal {
	return e.ledger.Balance(userID)
}

// pause sleeps for the fixed retry delay or until ctx is cancelled.
func (e *Engine) pause(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(e.retryDelay):
	}
}

func (e *Engine) setPriceOffset(id string) {
	e.offsetMu.Lock()
	defer e.offsetMu.Unlock()
	e.offsets.Prices = id
}

func (e *Engine) setTradeOffset(id string) {
	e.offsetMu.Lock()
	defer e.offsetMu.Unlock()
	e.offsets.Trades = id
}

func (e *Engine) currentOffsets() model.Offsets {
	e.offsetMu.Lock()
	defer e.offsetMu.Unlock()
	return e.offsets
}
