package engine

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/voltex/trade-engine/internal/executor"
	"github.com/voltex/trade-engine/internal/ledger"
	"github.com/voltex/trade-engine/internal/model"
	"github.com/voltex/trade-engine/internal/store"
	"github.com/voltex/trade-engine/internal/stream"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// newTestEngine builds an engine over in-memory gateway and mirror with the
// asset catalog seeded. The stream consumers stay nil; tests drive the
// apply handlers directly.
func newTestEngine(t *testing.T) (*Engine, *store.MemoryGateway, *store.MemoryMirror) {
	t.Helper()
	gw := store.NewMemoryGateway()
	if err := gw.EnsureAssets(context.Background(), []model.Asset{
		{Symbol: "SOL", Name: "Solana", Decimals: 4},
		{Symbol: "BTC", Name: "Bitcoin", Decimals: 6},
	}); err != nil {
		t.Fatalf("seed assets: %v", err)
	}
	mirror := store.NewMemoryMirror()
	eng := New(Config{Gateway: gw, Mirror: mirror, RetryDelay: time.Millisecond})
	return eng, gw, mirror
}

func priceMsg(id, asset, price string) redis.XMessage {
	return redis.XMessage{ID: id, Values: map[string]interface{}{
		"asset": asset,
		"price": price,
	}}
}

func tradeMsg(id, asset, side, leverage, margin, slippage, userID string) redis.XMessage {
	return redis.XMessage{ID: id, Values: map[string]interface{}{
		"asset":    asset,
		"type":     side,
		"leverage": leverage,
		"margin":   margin,
		"slippage": slippage,
		"userId":   userID,
	}}
}

// --- Price runner ---

func TestApplyPrice_UpdatesTableAndOffset(t *testing.T) {
	eng, _, _ := newTestEngine(t)

	if err := eng.applyPrice(context.Background(), priceMsg("100-0", "SOL", "100")); err != nil {
		t.Fatalf("apply price: %v", err)
	}

	sample, ok := eng.CurrentPrice("SOL")
	if !ok {
		t.Fatal("expected SOL sample after apply")
	}
	if !sample.Price.Equal(d(100)) {
		t.Errorf("expected price 100, got %s", sample.Price)
	}
	if got := eng.currentOffsets().Prices; got != "100-0" {
		t.Errorf("expected price offset 100-0, got %q", got)
	}
}

func TestApplyPrice_MalformedEntry(t *testing.T) {
	eng, _, _ := newTestEngine(t)

	err := eng.applyPrice(context.Background(), redis.XMessage{
		ID:     "100-0",
		Values: map[string]interface{}{"asset": "SOL"},
	})
	if !errors.Is(err, stream.ErrBadEntry) {
		t.Fatalf("expected ErrBadEntry, got %v", err)
	}
	if got := eng.currentOffsets().Prices; got != "" {
		t.Errorf("rejected entry must not advance the offset, got %q", got)
	}
}

// --- Trade runner ---

func TestApplyTrade_OpensPosition(t *testing.T) {
	eng, gw, mirror := newTestEngine(t)
	eng.ledger.SetBalance("u1", d(10000))

	if err := eng.applyPrice(context.Background(), priceMsg("100-0", "SOL", "100")); err != nil {
		t.Fatalf("apply price: %v", err)
	}
	if err := eng.applyTrade(context.Background(), tradeMsg("101-0", "SOL", "buy", "5", "1000", "1", "u1")); err != nil {
		t.Fatalf("apply trade: %v", err)
	}

	orders := eng.OpenOrdersByUser("u1")
	if len(orders) != 1 {
		t.Fatalf("expected 1 open order, got %d", len(orders))
	}
	order := orders[0]
	if !order.ExecutionPrice.Equal(d(101)) {
		t.Errorf("expected execution price 101, got %s", order.ExecutionPrice)
	}
	if !eng.Balance("u1").Equal(d(9000)) {
		t.Errorf("expected balance 9000 after open, got %s", eng.Balance("u1"))
	}

	// Durable store and mirror carry the mutation.
	stored, err := gw.GetUserBalance(context.Background(), "u1")
	if err != nil {
		t.Fatalf("gateway balance: %v", err)
	}
	if !stored.Equal(d(9000)) {
		t.Errorf("gateway balance not persisted: %s", stored)
	}
	mirrored, ok := mirror.Balance("u1")
	if !ok || !mirrored.Equal(d(9000)) {
		t.Errorf("mirror balance not written: %s ok=%v", mirrored, ok)
	}
	if got := mirror.Orders("u1"); len(got) != 1 {
		t.Errorf("expected 1 mirrored order, got %d", len(got))
	}
	if got := eng.currentOffsets().Trades; got != "101-0" {
		t.Errorf("expected trade offset 101-0, got %q", got)
	}
}

func TestApplyTrade_NoPriceData(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	eng.ledger.SetBalance("u1", d(10000))

	err := eng.applyTrade(context.Background(), tradeMsg("101-0", "SOL", "buy", "5", "1000", "1", "u1"))
	if !errors.Is(err, ErrNoPriceData) {
		t.Fatalf("expected ErrNoPriceData, got %v", err)
	}
	if got := len(eng.OpenOrdersByUser("u1")); got != 0 {
		t.Errorf("no order must open without a price, got %d", got)
	}
}

func TestApplyTrade_InsufficientBalance(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	eng.ledger.SetBalance("u1", d(100))

	if err := eng.applyPrice(context.Background(), priceMsg("100-0", "SOL", "100")); err != nil {
		t.Fatalf("apply price: %v", err)
	}
	err := eng.applyTrade(context.Background(), tradeMsg("101-0", "SOL", "buy", "5", "1000", "1", "u1"))
	if !errors.Is(err, ledger.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if !eng.Balance("u1").Equal(d(100)) {
		t.Errorf("balance must be untouched, got %s", eng.Balance("u1"))
	}
}

func TestApplyTrade_InvalidRequest(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	eng.ledger.SetBalance("u1", d(10000))
	if err := eng.applyPrice(context.Background(), priceMsg("100-0", "SOL", "100")); err != nil {
		t.Fatalf("apply price: %v", err)
	}

	err := eng.applyTrade(context.Background(), tradeMsg("101-0", "SOL", "buy", "0.5", "1000", "1", "u1"))
	if !errors.Is(err, executor.ErrInvalidLeverage) {
		t.Fatalf("expected ErrInvalidLeverage, got %v", err)
	}
}

// --- Close path ---

func TestCloseOrder_NotFound(t *testing.T) {
	eng, _, _ := newTestEngine(t)

	_, err := eng.CloseOrder(context.Background(), "missing")
	if !errors.Is(err, ledger.ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestCloseOrder_NoPriceData(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	eng.ledger.SetBalance("u1", d(10000))

	// An order restored from a snapshot may reference an asset the price
	// runner has not sampled yet this run.
	if err := eng.ledger.Open(model.Order{
		OrderID:        "o1",
		UserID:         "u1",
		Asset:          "BTC",
		Side:           model.SideBuy,
		Quantity:       d(1),
		ExecutionPrice: d(60000),
		PositionValue:  d(60000),
		Margin:         d(1000),
		Leverage:       d(60),
		Timestamp:      time.Now().UTC(),
	}); err != nil {
		t.Fatalf("open: %v", err)
	}

	_, err := eng.CloseOrder(context.Background(), "o1")
	if !errors.Is(err, ErrNoPriceData) {
		t.Fatalf("expected ErrNoPriceData, got %v", err)
	}
	if _, ok := eng.ledger.Order("o1"); !ok {
		t.Error("order must stay open when close fails for lack of price")
	}
}

// Full scenario: SOL at 100, buy leverage 5 margin 1000 slippage 1%,
// price moves to 110, close realizes ~445.54 and the balance ends at
// balance-after-open + margin + pnl.
func TestCloseOrder_Success(t *testing.T) {
	eng, gw, mirror := newTestEngine(t)
	eng.ledger.SetBalance("u1", d(10000))
	ctx := context.Background()

	if err := eng.applyPrice(ctx, priceMsg("100-0", "SOL", "100")); err != nil {
		t.Fatalf("apply price: %v", err)
	}
	if err := eng.applyTrade(ctx, tradeMsg("101-0", "SOL", "buy", "5", "1000", "1", "u1")); err != nil {
		t.Fatalf("apply trade: %v", err)
	}
	afterOpen := eng.Balance("u1")
	orderID := eng.OpenOrdersByUser("u1")[0].OrderID

	if err := eng.applyPrice(ctx, priceMsg("102-0", "SOL", "110")); err != nil {
		t.Fatalf("apply price: %v", err)
	}
	closed, err := eng.CloseOrder(ctx, orderID)
	if err != nil {
		t.Fatalf("close: %v", err)
	}

	if !closed.PnL.Round(2).Equal(d(445.54)) {
		t.Errorf("expected pnl ~445.54, got %s", closed.PnL)
	}
	if !closed.OpenPrice.Equal(d(101)) || !closed.ClosePrice.Equal(d(110)) {
		t.Errorf("closed trade prices wrong: %+v", closed)
	}

	want := afterOpen.Add(d(1000)).Add(closed.PnL)
	if got := eng.Balance("u1"); !got.Equal(want) {
		t.Errorf("expected balance %s after close, got %s", want, got)
	}

	// Order is gone everywhere; the closed trade is durable.
	if got := len(eng.OpenOrdersByUser("u1")); got != 0 {
		t.Errorf("expected no open orders, got %d", got)
	}
	if got := len(mirror.Orders("u1")); got != 0 {
		t.Errorf("expected mirrored orders cleared, got %d", got)
	}
	trades := gw.ClosedTrades()
	if len(trades) != 1 {
		t.Fatalf("expected 1 closed trade, got %d", len(trades))
	}
	if trades[0].AssetSymbol != "SOL" || !trades[0].PnL.Equal(closed.PnL) {
		t.Errorf("persisted closed trade wrong: %+v", trades[0])
	}
	stored, err := gw.GetUserBalance(ctx, "u1")
	if err != nil {
		t.Fatalf("gateway balance: %v", err)
	}
	if !stored.Equal(want) {
		t.Errorf("gateway balance not persisted: %s", stored)
	}
}

func TestCloseOrder_AssetUnknown(t *testing.T) {
	eng, gw, mirror := newTestEngine(t)
	eng.ledger.SetBalance("u1", d(10000))
	ctx := context.Background()

	// DOGE is missing from the seeded catalog.
	if err := eng.applyPrice(ctx, priceMsg("100-0", "DOGE", "0.1")); err != nil {
		t.Fatalf("apply price: %v", err)
	}
	if err := eng.applyTrade(ctx, tradeMsg("101-0", "DOGE", "buy", "2", "100", "0", "u1")); err != nil {
		t.Fatalf("apply trade: %v", err)
	}
	orderID := eng.OpenOrdersByUser("u1")[0].OrderID

	_, err := eng.CloseOrder(ctx, orderID)
	if !errors.Is(err, store.ErrAssetUnknown) {
		t.Fatalf("expected ErrAssetUnknown, got %v", err)
	}

	// A close that cannot be durably recorded did not happen: the order
	// stays open, the margin stays debited, and nothing leaks anywhere.
	if _, ok := eng.ledger.Order(orderID); !ok {
		t.Error("order must stay open when the closed trade cannot be appended")
	}
	if !eng.Balance("u1").Equal(d(9900)) {
		t.Errorf("expected balance 9900 (margin still held), got %s", eng.Balance("u1"))
	}
	if got := len(mirror.Orders("u1")); got != 1 {
		t.Errorf("mirror must keep the open order, got %d", got)
	}
	if got := len(gw.ClosedTrades()); got != 0 {
		t.Errorf("no closed trade may persist, got %d", got)
	}
}

// closeFailGateway injects failures into the close persistence path.
type closeFailGateway struct {
	*store.MemoryGateway
	appendErr  error
	balanceErr error
}

func (g *closeFailGateway) AppendClosedTrade(ctx context.Context, trade *model.ClosedTrade) error {
	if g.appendErr != nil {
		return g.appendErr
	}
	return g.MemoryGateway.AppendClosedTrade(ctx, trade)
}

func (g *closeFailGateway) UpdateUserBalance(ctx context.Context, userID string, balance decimal.Decimal) error {
	if g.balanceErr != nil {
		return g.balanceErr
	}
	return g.MemoryGateway.UpdateUserBalance(ctx, userID, balance)
}

func TestCloseOrder_AppendFailureReinstates(t *testing.T) {
	gw := &closeFailGateway{MemoryGateway: store.NewMemoryGateway()}
	ctx := context.Background()
	if err := gw.EnsureAssets(ctx, []model.Asset{{Symbol: "SOL", Name: "Solana", Decimals: 4}}); err != nil {
		t.Fatalf("seed assets: %v", err)
	}
	mirror := store.NewMemoryMirror()
	eng := New(Config{Gateway: gw, Mirror: mirror, RetryDelay: time.Millisecond})
	eng.ledger.SetBalance("u1", d(10000))

	if err := eng.applyPrice(ctx, priceMsg("100-0", "SOL", "100")); err != nil {
		t.Fatalf("apply price: %v", err)
	}
	if err := eng.applyTrade(ctx, tradeMsg("101-0", "SOL", "buy", "5", "1000", "1", "u1")); err != nil {
		t.Fatalf("apply trade: %v", err)
	}
	orderID := eng.OpenOrdersByUser("u1")[0].OrderID

	gw.appendErr = errors.New("connection reset")
	if _, err := eng.CloseOrder(ctx, orderID); err == nil {
		t.Fatal("expected close to fail while the store is down")
	}
	if _, ok := eng.ledger.Order(orderID); !ok {
		t.Fatal("order must be reinstated after a failed durable append")
	}
	if !eng.Balance("u1").Equal(d(9000)) {
		t.Errorf("expected balance 9000 after rollback, got %s", eng.Balance("u1"))
	}

	// Once the store recovers the same close succeeds cleanly.
	gw.appendErr = nil
	closed, err := eng.CloseOrder(ctx, orderID)
	if err != nil {
		t.Fatalf("close after recovery: %v", err)
	}
	if got := len(gw.ClosedTrades()); got != 1 {
		t.Fatalf("expected exactly 1 closed trade, got %d", got)
	}
	want := d(9000).Add(d(1000)).Add(closed.PnL)
	if !eng.Balance("u1").Equal(want) {
		t.Errorf("expected balance %s after recovered close, got %s", want, eng.Balance("u1"))
	}
}

func TestCloseOrder_BalancePersistFailureIsNotFatal(t *testing.T) {
	gw := &closeFailGateway{MemoryGateway: store.NewMemoryGateway()}
	ctx := context.Background()
	if err := gw.EnsureAssets(ctx, []model.Asset{{Symbol: "SOL", Name: "Solana", Decimals: 4}}); err != nil {
		t.Fatalf("seed assets: %v", err)
	}
	mirror := store.NewMemoryMirror()
	eng := New(Config{Gateway: gw, Mirror: mirror, RetryDelay: time.Millisecond})
	eng.ledger.SetBalance("u1", d(10000))

	if err := eng.applyPrice(ctx, priceMsg("100-0", "SOL", "100")); err != nil {
		t.Fatalf("apply price: %v", err)
	}
	if err := eng.applyTrade(ctx, tradeMsg("101-0", "SOL", "buy", "5", "1000", "1", "u1")); err != nil {
		t.Fatalf("apply trade: %v", err)
	}
	orderID := eng.OpenOrdersByUser("u1")[0].OrderID

	// The closed trade is the commit point; a balance-row failure past it
	// must not undo the close.
	gw.balanceErr = errors.New("connection reset")
	if _, err := eng.CloseOrder(ctx, orderID); err != nil {
		t.Fatalf("close must succeed past the commit point: %v", err)
	}
	if _, ok := eng.ledger.Order(orderID); ok {
		t.Error("order must stay closed despite the balance persist failure")
	}
	if got := len(gw.ClosedTrades()); got != 1 {
		t.Errorf("expected 1 closed trade, got %d", got)
	}
}

// --- Runner loop ---

// fakeConsumer serves a fixed pending backlog the way a consumer-group
// cursor does after a restart: entries stay visible until acknowledged.
type fakeConsumer struct {
	stream   string
	pending  []redis.XMessage
	acked    map[string]bool
	failAcks int
}

func newFakeConsumer(stream string, pending ...redis.XMessage) *fakeConsumer {
	return &fakeConsumer{stream: stream, pending: pending, acked: make(map[string]bool)}
}

func (f *fakeConsumer) Stream() string                    { return f.stream }
func (f *fakeConsumer) EnsureGroup(context.Context) error { return nil }

func (f *fakeConsumer) Fetch(context.Context) ([]redis.XMessage, error) {
	return nil, nil
}

func (f *fakeConsumer) FetchPending(_ context.Context, start string) ([]redis.XMessage, error) {
	var msgs []redis.XMessage
	for _, m := range f.pending {
		if !f.acked[m.ID] && (start == "0" || m.ID > start) {
			msgs = append(msgs, m)
		}
	}
	return msgs, nil
}

func (f *fakeConsumer) Ack(_ context.Context, id string) error {
	if f.failAcks > 0 {
		f.failAcks--
		return errors.New("connection reset")
	}
	f.acked[id] = true
	return nil
}

func TestDrainPending_ReappliesBacklog(t *testing.T) {
	eng, _, _ := newTestEngine(t)

	// A malformed entry sits between two valid ones; the drain must apply
	// and acknowledge the valid ones and walk past the bad one without
	// acknowledging it.
	fc := newFakeConsumer(stream.PriceStream,
		priceMsg("100-0", "SOL", "100"),
		redis.XMessage{ID: "101-0", Values: map[string]interface{}{"asset": "SOL"}},
		priceMsg("102-0", "SOL", "105"),
	)

	eng.drainPending(context.Background(), fc, eng.applyPrice, slog.Default())

	if !fc.acked["100-0"] || !fc.acked["102-0"] {
		t.Errorf("valid entries must be acknowledged, acked=%v", fc.acked)
	}
	if fc.acked["101-0"] {
		t.Error("malformed entry must stay pending")
	}
	sample, ok := eng.CurrentPrice("SOL")
	if !ok || !sample.Price.Equal(d(105)) {
		t.Errorf("expected SOL at 105 after drain, got %v ok=%v", sample, ok)
	}
	if got := eng.currentOffsets().Prices; got != "102-0" {
		t.Errorf("expected price offset 102-0, got %q", got)
	}
}

func TestDrainPending_RetriesAfterAckFailure(t *testing.T) {
	eng, _, _ := newTestEngine(t)

	fc := newFakeConsumer(stream.PriceStream,
		priceMsg("100-0", "SOL", "100"),
		priceMsg("101-0", "SOL", "102"),
	)
	fc.failAcks = 1

	// First ack fails transiently; the drain retries from the same position
	// and re-applies the entry (at-least-once), then finishes the backlog.
	eng.drainPending(context.Background(), fc, eng.applyPrice, slog.Default())

	if !fc.acked["100-0"] || !fc.acked["101-0"] {
		t.Errorf("backlog must drain fully after the transient ack failure, acked=%v", fc.acked)
	}
	sample, ok := eng.CurrentPrice("SOL")
	if !ok || !sample.Price.Equal(d(102)) {
		t.Errorf("expected SOL at 102 after drain, got %v ok=%v", sample, ok)
	}
}

func TestDrainPending_EmptyBacklogReturns(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	fc := newFakeConsumer(stream.PriceStream)

	done := make(chan struct{})
	go func() {
		eng.drainPending(context.Background(), fc, eng.applyPrice, slog.Default())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("drain must return immediately on an empty backlog")
	}
}

// --- Snapshot manager ---

func TestSnapshot_RestoreRoundTrip(t *testing.T) {
	eng, gw, _ := newTestEngine(t)
	eng.ledger.SetBalance("u1", d(10000))
	eng.ledger.SetBalance("u2", d(500))
	ctx := context.Background()

	if err := eng.applyPrice(ctx, priceMsg("100-0", "SOL", "100")); err != nil {
		t.Fatalf("apply price: %v", err)
	}
	if err := eng.applyTrade(ctx, tradeMsg("101-0", "SOL", "buy", "5", "1000", "1", "u1")); err != nil {
		t.Fatalf("apply trade: %v", err)
	}

	if err := eng.persistSnapshot(ctx); err != nil {
		t.Fatalf("persist snapshot: %v", err)
	}

	// A fresh engine over the same gateway restores identical state.
	restored := New(Config{Gateway: gw, Mirror: store.NewMemoryMirror()})
	restored.restore(ctx)

	wantOrders, wantBalances := eng.ledger.Snapshot()
	gotOrders, gotBalances := restored.ledger.Snapshot()

	if len(gotOrders) != len(wantOrders) {
		t.Fatalf("expected %d restored orders, got %d", len(wantOrders), len(gotOrders))
	}
	for id, want := range wantOrders {
		got, ok := gotOrders[id]
		if !ok {
			t.Fatalf("order %s missing after restore", id)
		}
		if got.UserID != want.UserID || !got.Quantity.Equal(want.Quantity) ||
			!got.ExecutionPrice.Equal(want.ExecutionPrice) || !got.Margin.Equal(want.Margin) {
			t.Errorf("order %s diverged: %+v vs %+v", id, got, want)
		}
	}
	for user, want := range wantBalances {
		if !gotBalances[user].Equal(want) {
			t.Errorf("balance for %s diverged: %s vs %s", user, gotBalances[user], want)
		}
	}
	if got := restored.currentOffsets(); got.Prices != "100-0" || got.Trades != "101-0" {
		t.Errorf("restored offsets wrong: %+v", got)
	}
}

func TestRestore_NoSnapshotSeedsBalances(t *testing.T) {
	gw := store.NewMemoryGateway()
	ctx := context.Background()
	if err := gw.UpdateUserBalance(ctx, "u1", d(10000)); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := gw.UpdateUserBalance(ctx, "u2", d(250)); err != nil {
		t.Fatalf("seed: %v", err)
	}

	mirror := store.NewMemoryMirror()
	eng := New(Config{Gateway: gw, Mirror: mirror})
	eng.restore(ctx)

	if !eng.Balance("u1").Equal(d(10000)) || !eng.Balance("u2").Equal(d(250)) {
		t.Errorf("balances not seeded from store: u1=%s u2=%s",
			eng.Balance("u1"), eng.Balance("u2"))
	}
	if got := eng.ledger.OpenCount(); got != 0 {
		t.Errorf("cold start must have no open orders, got %d", got)
	}
	if b, ok := mirror.Balance("u1"); !ok || !b.Equal(d(10000)) {
		t.Errorf("seeded balance must reach the mirror: %s ok=%v", b, ok)
	}
}

func TestRestore_RewritesMirror(t *testing.T) {
	eng, gw, _ := newTestEngine(t)
	eng.ledger.SetBalance("u1", d(10000))
	ctx := context.Background()

	if err := eng.applyPrice(ctx, priceMsg("100-0", "SOL", "100")); err != nil {
		t.Fatalf("apply price: %v", err)
	}
	if err := eng.applyTrade(ctx, tradeMsg("101-0", "SOL", "buy", "5", "1000", "1", "u1")); err != nil {
		t.Fatalf("apply trade: %v", err)
	}
	orderID := eng.OpenOrdersByUser("u1")[0].OrderID
	if err := eng.persistSnapshot(ctx); err != nil {
		t.Fatalf("persist snapshot: %v", err)
	}

	// The mirror still carries writes from a run after that snapshot: an
	// order that no longer exists in the restored ledger and a drifted
	// balance. The restore must rewrite both.
	mirror := store.NewMemoryMirror()
	if err := mirror.PutOrder(ctx, model.Order{OrderID: "stale-1", UserID: "u1", Asset: "SOL"}); err != nil {
		t.Fatalf("stale order: %v", err)
	}
	if err := mirror.SetBalance(ctx, "u1", d(1)); err != nil {
		t.Fatalf("stale balance: %v", err)
	}

	restored := New(Config{Gateway: gw, Mirror: mirror})
	restored.restore(ctx)

	orders := mirror.Orders("u1")
	if len(orders) != 1 {
		t.Fatalf("expected exactly the restored order in the mirror, got %d", len(orders))
	}
	if _, ok := orders[orderID]; !ok {
		t.Errorf("restored order %s missing from mirror, got %v", orderID, orders)
	}
	if _, ok := orders["stale-1"]; ok {
		t.Error("stale order must be cleared from the mirror")
	}
	if b, ok := mirror.Balance("u1"); !ok || !b.Equal(restored.Balance("u1")) {
		t.Errorf("mirror balance must match the restored ledger: %s vs %s", b, restored.Balance("u1"))
	}
}

// failingGateway simulates a broken durable store at restore time.
type failingGateway struct {
	*store.MemoryGateway
}

func (f *failingGateway) GetLatestSnapshot(context.Context) (*model.Snapshot, error) {
	return nil, errors.New("connection refused")
}

func TestRestore_FailureIsDegradedStart(t *testing.T) {
	eng := New(Config{
		Gateway: &failingGateway{store.NewMemoryGateway()},
		Mirror:  store.NewMemoryMirror(),
	})
	eng.restore(context.Background())

	// The engine proceeds with empty state rather than crashing.
	if got := eng.ledger.OpenCount(); got != 0 {
		t.Errorf("expected empty ledger after failed restore, got %d orders", got)
	}
}

// --- Error taxonomy ---

func TestFailureClass(t *testing.T) {
	domain := []error{
		ErrNoPriceData,
		ledger.ErrOrderNotFound,
		ledger.ErrInsufficientBalance,
		store.ErrAssetUnknown,
		stream.ErrBadEntry,
		executor.ErrInvalidSide,
	}
	for _, err := range domain {
		if got := failureClass(err); got != classDomain {
			t.Errorf("expected %v to classify as domain, got %s", err, got)
		}
	}

	if got := failureClass(errors.New("i/o timeout")); got != classTransient {
		t.Errorf("expected unknown error to classify as transient, got %s", got)
	}
	// Wrapped sentinels classify the same as bare ones.
	wrapped := errors.Join(errors.New("context"), ErrNoPriceData)
	if got := failureClass(wrapped); got != classDomain {
		t.Errorf("expected wrapped sentinel to classify as domain, got %s", got)
	}
}
