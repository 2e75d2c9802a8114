// The feeder bridges exchange market data onto the price stream. It
// subscribes to bookTicker channels over websocket, coalesces the latest
// price per asset, and publishes changed prices as price-updates-stream
// entries on a fixed cadence. It only produces entries; the engine is the
// sole consumer.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"

	"github.com/voltex/trade-engine/internal/stream"
)

const publishInterval = 100 * time.Millisecond

// symbols maps exchange tickers to engine asset symbols.
var symbols = map[string]string{
	"SOL_USDC_PERP": "SOL",
	"BTC_USDC_PERP": "BTC",
	"ETH_USDC_PERP": "ETH",
}

type subscribeRequest struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
}

type tickerMessage struct {
	Data struct {
		Symbol string `json:"s"`
		Ask    string `json:"a"`
	} `json:"data"`
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	redisURL := os.Getenv("REDIS_URL")
	if redisURL == "" {
		redisURL = "redis://localhost:6379"
	}
	wsURL := os.Getenv("EXCHANGE_WS_URL")
	if wsURL == "" {
		wsURL = "wss://ws.backpack.exchange/"
	}

	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		slog.Error("invalid REDIS_URL", "err", err)
		os.Exit(1)
	}
	rdb := redis.NewClient(opt)
	defer rdb.Close()
	producer := stream.NewProducer(rdb)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	for ctx.Err() == nil {
		if err := run(ctx, producer, wsURL); err != nil && ctx.Err() == nil {
			slog.Error("feed disconnected, reconnecting", "err", err)
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
		}
	}
	slog.Info("feeder stopped")
}

// run holds one websocket session: subscribe, read ticks into the latest-map,
// and flush changed prices onto the stream every publishInterval.
func run(ctx context.Context, producer *stream.Producer, wsURL string) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return err
	}
	defer conn.Close()
	slog.Info("connected to exchange feed", "url", wsURL)

	params := make([]string, 0, len(symbols))
	for ticker := range symbols {
		params = append(params, "bookTicker."+ticker)
	}
	if err := conn.WriteJSON(subscribeRequest{Method: "SUBSCRIBE", Params: params}); err != nil {
		return err
	}

	type tick struct {
		asset string
		price string
	}
	ticks := make(chan tick, 256)
	readErr := make(chan error, 1)

	go func() {
		for {
			conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			var msg tickerMessage
			if err := conn.ReadJSON(&msg); err != nil {
				readErr <- err
				return
			}
			asset, ok := symbols[msg.Data.Symbol]
			if !ok || msg.Data.Ask == "" {
				continue
			}
			select {
			case ticks <- tick{asset: asset, price: msg.Data.Ask}:
			default:
				// Drop under burst; only the latest price matters.
			}
		}
	}()

	latest := make(map[string]string)
	changed := make(map[string]bool)
	ticker := time.NewTicker(publishInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-readErr:
			return err
		case t := <-ticks:
			if latest[t.asset] != t.price {
				latest[t.asset] = t.price
				changed[t.asset] = true
			}
		case <-ticker.C:
			now := time.Now().UTC()
			for asset := range changed {
				id, err := producer.PublishPrice(ctx, asset, latest[asset], now)
				if err != nil {
					slog.Error("price publish failed", "asset", asset, "err", err)
					continue
				}
				slog.Debug("price published", "asset", asset, "price", latest[asset], "id", id)
				delete(changed, asset)
			}
		}
	}
}
